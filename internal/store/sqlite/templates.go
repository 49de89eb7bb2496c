package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/aldihidayat35/billey-waapi-v2/internal/store"
)

// TemplateStore implements store.TemplateStore on SQLite.
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
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO chat_templates (code, title, content, description,
			media_data, media_mimetype, media_filename, is_active)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		normalizeCode(t.Code), nullStr(t.Title), t.Content, nullStr(t.Description),
		nullStr(t.MediaData), nullStr(t.MediaMimetype), nullStr(t.MediaFilename),
		boolInt(t.Active))
	if err != nil {
		if isUniqueViolation(err) {
			return 0, store.ErrDuplicateCode
		}
		return 0, fmt.Errorf("create template: %w", err)
	}
	return res.LastInsertId()
}

func (s *TemplateStore) ByID(ctx context.Context, id int64) (*store.Template, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+templateCols+` FROM chat_templates WHERE id = ?`, id)
	return scanTemplate(row)
}

func (s *TemplateStore) ByCode(ctx context.Context, code string) (*store.Template, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+templateCols+` FROM chat_templates
		 WHERE code = ? COLLATE NOCASE AND is_active = 1`, normalizeCode(code))
	return scanTemplate(row)
}

func (s *TemplateStore) List(ctx context.Context, activeOnly bool) ([]store.Template, error) {
	query := `SELECT ` + templateCols + ` FROM chat_templates`
	if activeOnly {
		query += ` WHERE is_active = 1`
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
		var active int
		if err := rows.Scan(&t.ID, &t.Code, &t.Title, &t.Content, &t.Description,
			&t.MediaData, &t.MediaMimetype, &t.MediaFilename,
			&active, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan template: %w", err)
		}
		t.Active = active == 1
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *TemplateStore) Update(ctx context.Context, t *store.Template) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE chat_templates SET code = ?, title = ?, content = ?, description = ?,
			media_data = ?, media_mimetype = ?, media_filename = ?,
			is_active = ?, updated_at = ?
		WHERE id = ?`,
		normalizeCode(t.Code), nullStr(t.Title), t.Content, nullStr(t.Description),
		nullStr(t.MediaData), nullStr(t.MediaMimetype), nullStr(t.MediaFilename),
		boolInt(t.Active), time.Now().UTC(), t.ID)
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
		`UPDATE chat_templates SET is_active = ?, updated_at = ? WHERE id = ?`,
		boolInt(active), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("set template active: %w", err)
	}
	return nil
}

func (s *TemplateStore) Delete(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM chat_templates WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete template: %w", err)
	}
	return nil
}

func scanTemplate(row *sql.Row) (*store.Template, error) {
	var t store.Template
	var active int
	err := row.Scan(&t.ID, &t.Code, &t.Title, &t.Content, &t.Description,
		&t.MediaData, &t.MediaMimetype, &t.MediaFilename,
		&active, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, store.ErrTemplateNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan template: %w", err)
	}
	t.Active = active == 1
	return &t, nil
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
