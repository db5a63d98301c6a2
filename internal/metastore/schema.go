package metastore

const schemaVersion = 1

const schemaSQL = `
CREATE TABLE IF NOT EXISTS metadata (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
) WITHOUT ROWID;

CREATE TABLE IF NOT EXISTS entries (
	id        TEXT PRIMARY KEY,
	name      TEXT NOT NULL,
	path      TEXT NOT NULL UNIQUE,
	size      INTEGER NOT NULL,
	modified  INTEGER NOT NULL,
	is_folder INTEGER NOT NULL
) WITHOUT ROWID;

CREATE INDEX IF NOT EXISTS idx_entries_path ON entries(path);
CREATE INDEX IF NOT EXISTS idx_entries_modified ON entries(modified);
`

const initMetadataSQL = `
INSERT OR IGNORE INTO metadata (key, value) VALUES ('schema_version', '1');
INSERT OR IGNORE INTO metadata (key, value) VALUES ('last_commit_time', '0');
`
