package database

// schema is the DDL applied on every connect. Statements are idempotent
// so reconnecting against an existing file is safe.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS entities (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		entity_type TEXT NOT NULL,
		embedding TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		properties TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS observations (
		id TEXT PRIMARY KEY,
		entity_id TEXT NOT NULL,
		observation TEXT NOT NULL,
		embedding TEXT,
		created_at TEXT NOT NULL,
		properties TEXT,
		FOREIGN KEY (entity_id) REFERENCES entities(id) ON DELETE CASCADE
	)`,
	`CREATE TABLE IF NOT EXISTS relations (
		id TEXT PRIMARY KEY,
		from_entity_id TEXT NOT NULL,
		to_entity_id TEXT NOT NULL,
		relation_type TEXT NOT NULL,
		confidence REAL NOT NULL DEFAULT 1.0,
		created_at TEXT NOT NULL,
		properties TEXT,
		FOREIGN KEY (from_entity_id) REFERENCES entities(id) ON DELETE CASCADE,
		FOREIGN KEY (to_entity_id) REFERENCES entities(id) ON DELETE CASCADE
	)`,
	`CREATE INDEX IF NOT EXISTS idx_entities_name ON entities(name)`,
	`CREATE INDEX IF NOT EXISTS idx_entities_type ON entities(entity_type)`,
	`CREATE INDEX IF NOT EXISTS idx_observations_entity ON observations(entity_id)`,
	`CREATE INDEX IF NOT EXISTS idx_relations_from ON relations(from_entity_id)`,
	`CREATE INDEX IF NOT EXISTS idx_relations_to ON relations(to_entity_id)`,
	`CREATE INDEX IF NOT EXISTS idx_relations_type ON relations(relation_type)`,
}
