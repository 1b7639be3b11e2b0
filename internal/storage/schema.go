package storage

// sqliteSchema stores timestamps as unix nanoseconds so ordering is numeric.
const sqliteSchema = `
CREATE TABLE IF NOT EXISTS conversations (
    id         TEXT PRIMARY KEY NOT NULL,
    name       TEXT NOT NULL,
    created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
    id              TEXT PRIMARY KEY NOT NULL,
    role            TEXT NOT NULL,
    content         TEXT NOT NULL,
    conversation_id TEXT NOT NULL REFERENCES conversations (id),
    created_at      INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages (conversation_id, created_at);
`

const postgresSchema = `
CREATE TABLE IF NOT EXISTS conversations (
    id         TEXT PRIMARY KEY,
    name       TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS messages (
    seq             BIGSERIAL,
    id              TEXT PRIMARY KEY,
    role            TEXT NOT NULL,
    content         TEXT NOT NULL,
    conversation_id TEXT NOT NULL REFERENCES conversations (id),
    created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages (conversation_id, created_at, seq);
`
