package pg

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/aldihidayat35/billey-waapi-v2/internal/store"
)

// OpenDB opens a Postgres connection pool via the pgx stdlib driver.
// Schema is managed separately through migrations.
func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// NewStores creates all stores backed by Postgres (managed mode).
func NewStores(cfg store.StoreConfig) (*store.Stores, error) {
	db, err := OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, err
	}
	return &store.Stores{
		Messages:    NewMessageStore(db),
		SessionLogs: NewSessionLogStore(db),
		Templates:   NewTemplateStore(db),
		Rules:       NewRuleStore(db),
		Cooldowns:   NewCooldownStore(db),
	}, nil
}
