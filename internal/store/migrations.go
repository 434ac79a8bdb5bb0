package store

// migration holds a single schema migration with its target version and SQL.
type migration struct {
	version int
	sql     string
}

// migrations is the ordered list of schema migrations.
// Each migration's version must be sequential starting from 1.
var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS processed_mails (
	mail_id      TEXT PRIMARY KEY,
	category     TEXT NOT NULL,
	processed_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS cycles (
	id              TEXT PRIMARY KEY,
	started_at      DATETIME NOT NULL,
	mails_ok        INTEGER NOT NULL DEFAULT 0,
	mails_failed    INTEGER NOT NULL DEFAULT 0,
	meetings_ok     INTEGER NOT NULL DEFAULT 0,
	meetings_failed INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS folder_owners (
	address TEXT PRIMARY KEY,
	folder  TEXT NOT NULL,
	bound   INTEGER NOT NULL DEFAULT 1 CHECK(bound IN (0, 1))
);

CREATE INDEX IF NOT EXISTS idx_processed_mails_at ON processed_mails(processed_at);
CREATE INDEX IF NOT EXISTS idx_cycles_started_at ON cycles(started_at);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
}
