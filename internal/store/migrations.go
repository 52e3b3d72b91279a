package store

// migration represents a single schema migration.
type migration struct {
	Version int
	Name    string
	SQL     string
}

// migrations is the ordered list of all schema migrations.
var migrations = []migration{
	{
		Version: 1,
		Name:    "create sessions and turns",
		SQL: `
			CREATE TABLE sessions (
				id          TEXT PRIMARY KEY,
				created_at  TEXT NOT NULL,
				updated_at  TEXT NOT NULL
			);

			CREATE TABLE turns (
				seq           INTEGER PRIMARY KEY AUTOINCREMENT,
				id            TEXT NOT NULL UNIQUE,
				session_id    TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
				role          TEXT NOT NULL,
				content       TEXT NOT NULL,
				tool_calls    TEXT,
				tool_result   TEXT,
				model         TEXT NOT NULL DEFAULT '',
				input_tokens  INTEGER NOT NULL DEFAULT 0,
				output_tokens INTEGER NOT NULL DEFAULT 0,
				timestamp     TEXT NOT NULL
			);

			CREATE INDEX idx_turns_session ON turns (session_id, seq);
		`,
	},
	{
		Version: 2,
		Name:    "create passages with FTS5",
		SQL: `
			CREATE TABLE passages (
				id          INTEGER PRIMARY KEY AUTOINCREMENT,
				source      TEXT NOT NULL,
				content     TEXT NOT NULL,
				created_at  TEXT NOT NULL
			);

			CREATE INDEX idx_passages_source ON passages (source);

			CREATE VIRTUAL TABLE passages_fts USING fts5(
				content,
				source,
				content='passages',
				content_rowid='id'
			);

			CREATE TRIGGER passages_ai AFTER INSERT ON passages BEGIN
				INSERT INTO passages_fts(rowid, content, source)
				VALUES (new.id, new.content, new.source);
			END;

			CREATE TRIGGER passages_ad AFTER DELETE ON passages BEGIN
				INSERT INTO passages_fts(passages_fts, rowid, content, source)
				VALUES ('delete', old.id, old.content, old.source);
			END;
		`,
	},
}
