package store

// Schema is the full current schema, kept in lockstep with the migration
// files. Tests apply it directly to in-memory databases instead of running
// the migration machinery.
const Schema = `
CREATE TABLE documents (
    id               TEXT PRIMARY KEY,
    name             TEXT NOT NULL,
    payload          BLOB NOT NULL,
    content_hash     TEXT NOT NULL,
    local_timestamp  TIMESTAMP NOT NULL,
    cloud_timestamp  TIMESTAMP,
    last_synced_at   TIMESTAMP,
    origin_device_id TEXT NOT NULL DEFAULT '',
    syncing          INTEGER NOT NULL DEFAULT 0,
    conflict_state   TEXT NOT NULL DEFAULT 'none',
    size_bytes       INTEGER NOT NULL DEFAULT 0,
    last_error       TEXT NOT NULL DEFAULT ''
);

CREATE TABLE sync_queue (
    id          TEXT PRIMARY KEY,
    document_id TEXT NOT NULL,
    operation   TEXT NOT NULL,
    priority    INTEGER NOT NULL,
    retry_count INTEGER NOT NULL DEFAULT 0,
    max_retries INTEGER NOT NULL,
    added_at    TIMESTAMP NOT NULL,
    last_error  TEXT NOT NULL DEFAULT ''
);

CREATE INDEX idx_sync_queue_order ON sync_queue (priority DESC, added_at ASC);

CREATE TABLE conflicts (
    document_id     TEXT PRIMARY KEY,
    local_document  BLOB NOT NULL,
    remote_document BLOB NOT NULL,
    detected_at     TIMESTAMP NOT NULL
);

CREATE TABLE settings (
    key   TEXT PRIMARY KEY,
    value TEXT NOT NULL
);
`
