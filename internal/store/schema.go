package store

const schema = `
CREATE TABLE IF NOT EXISTS operations (
    id TEXT PRIMARY KEY,
    kind TEXT NOT NULL,
    started_at TIMESTAMP NOT NULL,
    finished_at TIMESTAMP,
    state TEXT NOT NULL,
    mutated BOOLEAN NOT NULL DEFAULT 0,
    reason TEXT,
    error TEXT,
    from_version TEXT,
    to_version TEXT,
    backup_path TEXT
);

CREATE TABLE IF NOT EXISTS backups (
    name TEXT PRIMARY KEY,
    kind TEXT NOT NULL,
    label TEXT,
    comment TEXT,
    source TEXT,
    created_at TIMESTAMP NOT NULL,
    size_bytes INTEGER,
    deleted_at TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_operations_started ON operations(started_at);
CREATE INDEX IF NOT EXISTS idx_backups_created ON backups(created_at);
`
