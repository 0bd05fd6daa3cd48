package catalog

// schemaVersionV1 is the current archive-index schema.
const schemaVersionV1 = 1

const currentSchemaVersion = schemaVersionV1

var schemaV1 = `
CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL);

CREATE TABLE IF NOT EXISTS archives (
	digest     TEXT PRIMARY KEY,
	uuid       TEXT NOT NULL,
	path       TEXT NOT NULL,
	type       TEXT NOT NULL,
	format     TEXT NOT NULL,
	size       INTEGER NOT NULL,
	written_at TEXT NOT NULL,
	added_at   TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_archives_uuid ON archives(uuid);
`
