package sqlite

// Schema defines the complete SQLite schema for the engram store.
//
// memory_items holds every durable row (facts, skills, summaries). The FTS5
// virtual table memory_fts is kept in sync via triggers; it indexes the
// searchable text of each item. Embeddings live in their own table keyed by
// item id so vector search can load them without touching item rows.
const Schema = `
CREATE TABLE IF NOT EXISTS memory_items (
	id          TEXT PRIMARY KEY,
	user_id     TEXT NOT NULL,
	lane        TEXT NOT NULL,
	kind        TEXT NOT NULL,
	entity      TEXT NOT NULL DEFAULT 'user',
	mkey        TEXT NOT NULL DEFAULT '',
	value       TEXT NOT NULL DEFAULT '',
	content     TEXT NOT NULL DEFAULT '',
	tags        TEXT NOT NULL DEFAULT '',
	bucket      TEXT NOT NULL DEFAULT 'general',
	importance  REAL NOT NULL DEFAULT 0.5,
	confidence  REAL NOT NULL DEFAULT 0.7,
	status      TEXT NOT NULL DEFAULT 'active',
	created_at  TIMESTAMP NOT NULL,
	expires_at  TIMESTAMP,
	replaced_by TEXT NOT NULL DEFAULT '',
	supersedes  TEXT NOT NULL DEFAULT '',
	last_used   TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_items_user_lane_status
	ON memory_items(user_id, lane, status);
CREATE INDEX IF NOT EXISTS idx_items_user_entity_key
	ON memory_items(user_id, entity, mkey, status);
CREATE INDEX IF NOT EXISTS idx_items_user_created
	ON memory_items(user_id, created_at DESC);

CREATE VIRTUAL TABLE IF NOT EXISTS memory_fts USING fts5(
	content,
	tags,
	mkey,
	item_id UNINDEXED
);

CREATE TRIGGER IF NOT EXISTS memory_items_ai AFTER INSERT ON memory_items BEGIN
	INSERT INTO memory_fts(rowid, content, tags, mkey, item_id)
	VALUES (new.rowid, new.value || ' ' || new.content, new.tags, new.mkey, new.id);
END;

CREATE TRIGGER IF NOT EXISTS memory_items_ad AFTER DELETE ON memory_items BEGIN
	DELETE FROM memory_fts WHERE rowid = old.rowid;
END;

CREATE TRIGGER IF NOT EXISTS memory_items_au AFTER UPDATE ON memory_items BEGIN
	DELETE FROM memory_fts WHERE rowid = old.rowid;
	INSERT INTO memory_fts(rowid, content, tags, mkey, item_id)
	VALUES (new.rowid, new.value || ' ' || new.content, new.tags, new.mkey, new.id);
END;

CREATE TABLE IF NOT EXISTS embeddings (
	item_id    TEXT PRIMARY KEY,
	embedding  BLOB NOT NULL,
	dimension  INTEGER NOT NULL,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS reminders (
	id            TEXT PRIMARY KEY,
	user_id       TEXT NOT NULL,
	title         TEXT NOT NULL,
	due_ts        TIMESTAMP NOT NULL,
	status        TEXT NOT NULL DEFAULT 'active',
	created_at    TIMESTAMP NOT NULL,
	scope         TEXT NOT NULL DEFAULT 'task',
	details       TEXT NOT NULL DEFAULT '',
	priority      INTEGER NOT NULL DEFAULT 3,
	recurrence    TEXT NOT NULL DEFAULT '',
	snooze_until  TIMESTAMP,
	next_retry_ts TIMESTAMP,
	last_fired_ts TIMESTAMP,
	fail_count    INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_reminders_user_status_due
	ON reminders(user_id, status, due_ts);

CREATE TABLE IF NOT EXISTS graph_edges (
	user_id TEXT NOT NULL,
	token   TEXT NOT NULL,
	item_id TEXT NOT NULL,
	PRIMARY KEY (user_id, token, item_id)
);

CREATE INDEX IF NOT EXISTS idx_edges_user_item
	ON graph_edges(user_id, item_id);

CREATE TABLE IF NOT EXISTS events (
	id         TEXT PRIMARY KEY,
	user_id    TEXT NOT NULL,
	type       TEXT NOT NULL,
	item_id    TEXT NOT NULL DEFAULT '',
	detail     TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_events_user_created
	ON events(user_id, created_at DESC);
`
