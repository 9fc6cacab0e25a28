package sqlite

// Schema defines the SQLite database schema
const Schema = `
-- Objective definitions, one row per active objective
CREATE TABLE IF NOT EXISTS objectives (
	name TEXT PRIMARY KEY,
	namespace TEXT NOT NULL DEFAULT '',
	target REAL NOT NULL,
	window_ms INTEGER NOT NULL,
	epoch INTEGER NOT NULL,
	active_since TIMESTAMP NOT NULL,
	objective_json TEXT NOT NULL,
	updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_objectives_namespace ON objectives(namespace);

-- Lifecycle events, kept after removal
CREATE TABLE IF NOT EXISTS objective_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL,
	action TEXT NOT NULL,
	epoch INTEGER NOT NULL,
	target REAL NOT NULL,
	window_ms INTEGER NOT NULL,
	timestamp TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_objective_events_name ON objective_events(name);
CREATE INDEX IF NOT EXISTS idx_objective_events_timestamp ON objective_events(timestamp DESC);
`
