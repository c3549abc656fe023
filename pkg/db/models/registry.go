package models

// All lists every persisted model, in dependency order. Used for SQLite
// AutoMigrate and test fixtures; Postgres goes through goose.
func All() []any {
	return []any{
		&Listing{},
		&ChainRecord{},
		&ChainEvent{},
		&OutboxEvent{},
		&OutboxDLQ{},
	}
}
