package store

// Stores is the top-level container for all storage backends.
// Standalone mode backs it with SQLite, managed mode with Postgres;
// both modes fill every field.
type Stores struct {
	Messages    MessageStore
	SessionLogs SessionLogStore
	Templates   TemplateStore
	Rules       RuleStore
	Cooldowns   CooldownStore
}

// StoreConfig selects and configures the storage backend.
type StoreConfig struct {
	SQLitePath  string // standalone mode
	PostgresDSN string // managed mode
}
