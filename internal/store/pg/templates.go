package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/aldihidayat35/billey-waapi-v2/internal/store"
)

// TemplateStore implements store.TemplateStore backed by Postgres.
type TemplateStore struct {
	db *sql.DB
}

func NewTemplateStore(db *sql.DB) *TemplateStore {
	return &TemplateStore{db: db}
}

const templateCols = `id, code, COALESCE(title, ''), content, COALESCE(description, ''),
	COALESCE(media_data, ''), COALESCE(media_mimetype, ''), COALESCE(media_filename, ''),
	is_active, created_at, updated_at`

func (s *TemplateStore) Create(ctx context.Context, t *store.Template) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO chat_templates (code, title, content, description,
			media_data, media_mimetype, media_filename, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`,
		normalizeCode(t.Code), nullStr(t.Title), t.Content, nullStr(t.Description),
		nullStr(t.MediaData), nullStr(t.MediaMimetype), nullStr(t.MediaFilename),
		t.Active).Scan(&id)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, store.ErrDuplicateCode
		}
		return 0, fmt.Errorf("create template: %w", err)
	}
	return id, nil
}

func (s *TemplateStore) ByID(ctx context.Context, id int64) (*store.Template, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+templateCols+` FROM chat_templates WHERE id = $1`, id)
	return scanTemplate(row)
}

func (s *TemplateStore) ByCode(ctx context.Context, code string) (*store.Template, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+templateCols+` FROM chat_templates
		 WHERE upper(code) = $1 AND is_active`, normalizeCode(code))
	return scanTemplate(row)
}

func (s *TemplateStore) List(ctx context.Context, activeOnly bool) ([]store.Template, error) {
	query := `SELECT ` + templateCols + ` FROM chat_templates`
	if activeOnly {
		query += ` WHERE is_active`
	}
	query += ` ORDER BY code ASC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	defer rows.Close()

	var out []store.Template
	for rows.Next() {
		var t store.Template
		if err := rows.Scan(&t.ID, &t.Code, &t.Title, &t.Content, &t.Description,
			&t.MediaData, &t.MediaMimetype, &t.MediaFilename,
			&t.Active, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan template: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *TemplateStore) Update(ctx context.Context, t *store.Template) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE chat_templates SET code = $1, title = $2, content = $3, description = $4,
			media_data = $5, media_mimetype = $6, media_filename = $7,
			is_active = $8, updated_at = $9
		WHERE id = $10`,
		normalizeCode(t.Code), nullStr(t.Title), t.Content, nullStr(t.Description),
		nullStr(t.MediaData), nullStr(t.MediaMimetype), nullStr(t.MediaFilename),
		t.Active, time.Now().UTC(), t.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrDuplicateCode
		}
		return fmt.Errorf("update template: %w", err)
	}
	return nil
}

func (s *TemplateStore) SetActive(ctx context.Context, id int64, active bool) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE chat_templates SET is_active = $1, updated_at = $2 WHERE id = $3`,
		active, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("set template active: %w", err)
	}
	return nil
}

func (s *TemplateStore) Delete(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM chat_templates WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete template: %w", err)
	}
	return nil
}

func scanTemplate(row *sql.Row) (*store.Template, error) {
	var t store.Template
	err := row.Scan(&t.ID, &t.Code, &t.Title, &t.Content, &t.Description,
		&t.MediaData, &t.MediaMimetype, &t.MediaFilename,
		&t.Active, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, store.ErrTemplateNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan template: %w", err)
	}
	return &t, nil
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// 23505 is Postgres unique_violation.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
