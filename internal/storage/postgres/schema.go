// Package postgres provides the PostgreSQL implementation of the storage
// interfaces, with tsvector full-text search and pgvector similarity when
// the extension is available.
package postgres

// Schema contains the SQL statements to create the database schema.
// All statements are idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS memory_items (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    lane TEXT NOT NULL,
    kind TEXT NOT NULL,
    entity TEXT NOT NULL,
    mkey TEXT NOT NULL,
    value TEXT NOT NULL,
    content TEXT NOT NULL DEFAULT '',
    tags JSONB,
    bucket TEXT NOT NULL DEFAULT 'general',
    importance DOUBLE PRECISION NOT NULL DEFAULT 0.5,
    confidence DOUBLE PRECISION NOT NULL DEFAULT 0.6,
    status TEXT NOT NULL DEFAULT 'active',
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    expires_at TIMESTAMPTZ,
    replaced_by TEXT NOT NULL DEFAULT '',
    supersedes TEXT NOT NULL DEFAULT '',
    last_used TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_items_user_lane_status ON memory_items(user_id, lane, status);
CREATE INDEX IF NOT EXISTS idx_items_user_entity_key ON memory_items(user_id, entity, mkey, status);
CREATE INDEX IF NOT EXISTS idx_items_user_created ON memory_items(user_id, created_at DESC);

CREATE TABLE IF NOT EXISTS embeddings (
    item_id TEXT PRIMARY KEY REFERENCES memory_items(id) ON DELETE CASCADE,
    embedding BYTEA NOT NULL,
    dimension INTEGER NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS reminders (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    title TEXT NOT NULL,
    due_ts TIMESTAMPTZ NOT NULL,
    status TEXT NOT NULL DEFAULT 'active',
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    scope TEXT NOT NULL DEFAULT 'task',
    details TEXT NOT NULL DEFAULT '',
    priority INTEGER NOT NULL DEFAULT 3,
    recurrence TEXT NOT NULL DEFAULT '',
    snooze_until TIMESTAMPTZ,
    next_retry_ts TIMESTAMPTZ,
    last_fired_ts TIMESTAMPTZ,
    fail_count INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_reminders_user_status_due ON reminders(user_id, status, due_ts);

CREATE TABLE IF NOT EXISTS graph_edges (
    user_id TEXT NOT NULL,
    token TEXT NOT NULL,
    item_id TEXT NOT NULL,
    PRIMARY KEY (user_id, token, item_id)
);

CREATE INDEX IF NOT EXISTS idx_graph_edges_user_item ON graph_edges(user_id, item_id);

CREATE TABLE IF NOT EXISTS events (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    type TEXT NOT NULL,
    item_id TEXT NOT NULL DEFAULT '',
    detail TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_events_user_created ON events(user_id, created_at DESC);
`

// MigrationFTS adds tsvector full-text search over item text. The tsv
// column is populated by trigger from value, content and mkey.
const MigrationFTS = `
DO $$
BEGIN
    IF NOT EXISTS (
        SELECT 1 FROM information_schema.columns
        WHERE table_name = 'memory_items' AND column_name = 'content_tsv'
    ) THEN
        ALTER TABLE memory_items ADD COLUMN content_tsv tsvector;
    END IF;
END
$$;

UPDATE memory_items
SET content_tsv = to_tsvector('english', value || ' ' || content || ' ' || mkey)
WHERE content_tsv IS NULL;

CREATE INDEX IF NOT EXISTS idx_items_content_tsv ON memory_items USING GIN(content_tsv);

CREATE OR REPLACE FUNCTION memory_items_tsv_update()
RETURNS TRIGGER AS $$
BEGIN
    NEW.content_tsv := to_tsvector('english',
        COALESCE(NEW.value, '') || ' ' || COALESCE(NEW.content, '') || ' ' || COALESCE(NEW.mkey, ''));
    RETURN NEW;
END;
$$ LANGUAGE plpgsql;

DROP TRIGGER IF EXISTS memory_items_tsv_trigger ON memory_items;
CREATE TRIGGER memory_items_tsv_trigger
    BEFORE INSERT OR UPDATE OF value, content, mkey
    ON memory_items
    FOR EACH ROW
    EXECUTE FUNCTION memory_items_tsv_update();
`

// MigrationPgvector adds a vector column for index-accelerated similarity
// search. Applied only when the extension is available.
const MigrationPgvector = `
DO $$
BEGIN
    IF NOT EXISTS (
        SELECT 1 FROM information_schema.columns
        WHERE table_name = 'embeddings' AND column_name = 'embedding_vec'
    ) THEN
        ALTER TABLE embeddings ADD COLUMN embedding_vec vector;
    END IF;
END
$$;

-- ivfflat requires at least one row to exist; guard with a DO block.
DO $$
BEGIN
  IF NOT EXISTS (
    SELECT 1 FROM pg_indexes WHERE indexname = 'idx_embeddings_vec_cosine'
  ) THEN
    IF EXISTS (SELECT 1 FROM embeddings LIMIT 1) THEN
      EXECUTE 'CREATE INDEX idx_embeddings_vec_cosine ON embeddings USING ivfflat (embedding_vec vector_cosine_ops) WITH (lists = 100)';
    END IF;
  END IF;
END$$;
`
