package hot

// schema is the hot store's DDL (spec.md §4.5), grounded on the retrieval
// pack's sqlite schema style: explicit CHECK constraints, one index per
// named access path, and CREATE TABLE/INDEX IF NOT EXISTS so opening an
// existing database file is idempotent.
const schema = `
PRAGMA journal_mode = WAL;
PRAGMA synchronous = NORMAL;
PRAGMA foreign_keys = ON;

CREATE TABLE IF NOT EXISTS schema_version (
    version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS projects (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    path TEXT NOT NULL UNIQUE,
    name TEXT NOT NULL DEFAULT '',
    created_at INTEGER NOT NULL,
    last_active INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS memories (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    project_id INTEGER NOT NULL REFERENCES projects(id),
    verbatim TEXT NOT NULL,
    gist TEXT NOT NULL DEFAULT '',
    tags TEXT NOT NULL DEFAULT '[]',
    event_type TEXT NOT NULL,
    file_path TEXT NOT NULL DEFAULT '',
    line_number INTEGER,
    language TEXT NOT NULL DEFAULT '',
    salience TEXT NOT NULL CHECK(salience IN ('CRITICAL','HIGH','MEDIUM','LOW','NOISE')),
    status TEXT NOT NULL DEFAULT 'ACTIVE'
        CHECK(status IN ('ACTIVE','PENDING_DECAY','ARCHIVED','UNLEARNED','SILENCED')),
    outcome INTEGER NOT NULL DEFAULT 0 CHECK(outcome IN (-1,0,1)),
    fingerprint TEXT NOT NULL,
    repeat_count INTEGER NOT NULL DEFAULT 1 CHECK(repeat_count >= 1),
    access_count INTEGER NOT NULL DEFAULT 0,
    last_accessed INTEGER NOT NULL,
    pinned INTEGER NOT NULL DEFAULT 0,
    created_at INTEGER NOT NULL,
    expires_at INTEGER,
    -- a non-ACTIVE row must carry the reason it left ACTIVE (spec invariant)
    decay_reason TEXT NOT NULL DEFAULT '',
    CHECK (status = 'ACTIVE' OR decay_reason != '')
);

CREATE INDEX IF NOT EXISTS idx_memories_salience ON memories(project_id, salience, created_at);
CREATE INDEX IF NOT EXISTS idx_memories_fingerprint ON memories(project_id, fingerprint);
CREATE INDEX IF NOT EXISTS idx_memories_file_path ON memories(file_path);
CREATE INDEX IF NOT EXISTS idx_memories_status ON memories(status);

CREATE VIRTUAL TABLE IF NOT EXISTS memories_fts USING fts5(
    gist, verbatim, tags, content='memories', content_rowid='id'
);

CREATE TRIGGER IF NOT EXISTS memories_ai AFTER INSERT ON memories BEGIN
    INSERT INTO memories_fts(rowid, gist, verbatim, tags) VALUES (new.id, new.gist, new.verbatim, new.tags);
END;

CREATE TRIGGER IF NOT EXISTS memories_ad AFTER DELETE ON memories BEGIN
    INSERT INTO memories_fts(memories_fts, rowid, gist, verbatim, tags) VALUES ('delete', old.id, old.gist, old.verbatim, old.tags);
END;

CREATE TRIGGER IF NOT EXISTS memories_au AFTER UPDATE ON memories BEGIN
    INSERT INTO memories_fts(memories_fts, rowid, gist, verbatim, tags) VALUES ('delete', old.id, old.gist, old.verbatim, old.tags);
    INSERT INTO memories_fts(rowid, gist, verbatim, tags) VALUES (new.id, new.gist, new.verbatim, new.tags);
END;

CREATE TABLE IF NOT EXISTS pins (
    memory_id INTEGER,
    file_path TEXT,
    pinned_at INTEGER NOT NULL,
    reason TEXT NOT NULL DEFAULT '',
    pinned_by TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_pins_memory_id ON pins(memory_id);
CREATE INDEX IF NOT EXISTS idx_pins_file_path ON pins(file_path);
`

const currentSchemaVersion = 1
