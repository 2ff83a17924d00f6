package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"dsync-go/internal/dsync"
	"dsync-go/internal/model"
	"dsync-go/internal/store/migrations"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteStore implements the LocalStore interface using SQLite. Every
// mutation is a single-record atomic upsert or delete, which is all the
// engine's invariants require.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// NewSQLiteStore creates a new SQLite-backed store.
// path can be a file path or ":memory:" for an in-memory store.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}
	return &SQLiteStore{db: db, path: path}, nil
}

// NewSQLiteStoreFromDB wraps an existing database connection. The caller is
// responsible for ensuring the connection is properly configured.
func NewSQLiteStoreFromDB(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// OpenConnection opens and configures a SQLite connection with appropriate
// PRAGMAs. Exported for tools and tests that need a raw configured handle.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Foreign keys default to OFF in SQLite for backward compatibility.
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	return db, nil
}

// Document operations

const documentColumns = `id, name, payload, content_hash, local_timestamp,
	cloud_timestamp, last_synced_at, origin_device_id, syncing,
	conflict_state, size_bytes, last_error`

func (s *SQLiteStore) SaveDocument(doc *model.Document) error {
	_, err := s.db.Exec(`
		INSERT INTO documents (`+documentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			payload = excluded.payload,
			content_hash = excluded.content_hash,
			local_timestamp = excluded.local_timestamp,
			cloud_timestamp = excluded.cloud_timestamp,
			last_synced_at = excluded.last_synced_at,
			origin_device_id = excluded.origin_device_id,
			syncing = excluded.syncing,
			conflict_state = excluded.conflict_state,
			size_bytes = excluded.size_bytes,
			last_error = excluded.last_error`,
		doc.ID, doc.Name, []byte(doc.Payload), doc.ContentHash, doc.LocalTimestamp,
		nullableTime(doc.CloudTimestamp), nullableTime(doc.LastSyncedAt),
		doc.OriginDeviceID, doc.Syncing, string(doc.ConflictState),
		doc.SizeBytes, doc.LastError,
	)
	if err != nil {
		return fmt.Errorf("saving document: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetDocument(id string) (*model.Document, error) {
	row := s.db.QueryRow(`SELECT `+documentColumns+` FROM documents WHERE id = ?`, id)
	doc, err := scanDocument(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("getting document: %w", err)
	}
	return doc, nil
}

func (s *SQLiteStore) ListDocuments() ([]*model.Document, error) {
	rows, err := s.db.Query(`SELECT ` + documentColumns + ` FROM documents`)
	if err != nil {
		return nil, fmt.Errorf("listing documents: %w", err)
	}
	defer rows.Close()

	var docs []*model.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning document: %w", err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing documents: %w", err)
	}
	return docs, nil
}

func (s *SQLiteStore) ListMetadata() ([]*model.DocumentMeta, error) {
	rows, err := s.db.Query(`
		SELECT id, name, content_hash, local_timestamp, cloud_timestamp,
			last_synced_at, origin_device_id, syncing, conflict_state,
			size_bytes, last_error
		FROM documents`)
	if err != nil {
		return nil, fmt.Errorf("listing metadata: %w", err)
	}
	defer rows.Close()

	var metas []*model.DocumentMeta
	for rows.Next() {
		var (
			meta          model.DocumentMeta
			cloudTS       sql.NullTime
			lastSyncedAt  sql.NullTime
			conflictState string
		)
		err := rows.Scan(&meta.ID, &meta.Name, &meta.ContentHash, &meta.LocalTimestamp,
			&cloudTS, &lastSyncedAt, &meta.OriginDeviceID, &meta.Syncing,
			&conflictState, &meta.SizeBytes, &meta.LastError)
		if err != nil {
			return nil, fmt.Errorf("scanning metadata: %w", err)
		}
		meta.CloudTimestamp = cloudTS.Time
		meta.LastSyncedAt = lastSyncedAt.Time
		meta.ConflictState = model.ConflictState(conflictState)
		metas = append(metas, &meta)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing metadata: %w", err)
	}
	return metas, nil
}

func (s *SQLiteStore) DeleteDocument(id string) error {
	if _, err := s.db.Exec(`DELETE FROM documents WHERE id = ?`, id); err != nil {
		return fmt.Errorf("deleting document: %w", err)
	}
	return nil
}

// UpdateDocumentFields applies a partial merge. An absent id is a silent
// no-op by design (intentional idempotence, not an error).
func (s *SQLiteStore) UpdateDocumentFields(id string, update dsync.DocumentUpdate) error {
	var (
		sets []string
		args []any
	)
	add := func(col string, v any) {
		sets = append(sets, col+" = ?")
		args = append(args, v)
	}

	if update.Name != nil {
		add("name", *update.Name)
	}
	if update.Payload != nil {
		add("payload", []byte(*update.Payload))
	}
	if update.ContentHash != nil {
		add("content_hash", *update.ContentHash)
	}
	if update.SizeBytes != nil {
		add("size_bytes", *update.SizeBytes)
	}
	if update.LocalTimestamp != nil {
		add("local_timestamp", *update.LocalTimestamp)
	}
	if update.CloudTimestamp != nil {
		add("cloud_timestamp", nullableTime(*update.CloudTimestamp))
	}
	if update.LastSyncedAt != nil {
		add("last_synced_at", nullableTime(*update.LastSyncedAt))
	}
	if update.Syncing != nil {
		add("syncing", *update.Syncing)
	}
	if update.ConflictState != nil {
		add("conflict_state", string(*update.ConflictState))
	}
	if update.LastError != nil {
		add("last_error", *update.LastError)
	}

	if len(sets) == 0 {
		return nil
	}

	args = append(args, id)
	_, err := s.db.Exec(`UPDATE documents SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return fmt.Errorf("updating document fields: %w", err)
	}
	return nil
}

// Queue operations

const queueColumns = `id, document_id, operation, priority, retry_count, max_retries, added_at, last_error`

func (s *SQLiteStore) Enqueue(item *model.SyncQueueItem) error {
	_, err := s.db.Exec(`
		INSERT INTO sync_queue (`+queueColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			retry_count = excluded.retry_count,
			last_error = excluded.last_error`,
		item.ID, item.DocumentID, string(item.Operation), item.Priority,
		item.RetryCount, item.MaxRetries, item.AddedAt, item.LastError,
	)
	if err != nil {
		return fmt.Errorf("enqueueing item: %w", err)
	}
	return nil
}

func (s *SQLiteStore) DequeueNext() (*model.SyncQueueItem, error) {
	row := s.db.QueryRow(`
		SELECT ` + queueColumns + ` FROM sync_queue
		ORDER BY priority DESC, added_at ASC
		LIMIT 1`)
	item, err := scanQueueItem(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Queue empty
		}
		return nil, fmt.Errorf("dequeuing next item: %w", err)
	}
	return item, nil
}

func (s *SQLiteStore) RemoveQueueItem(itemID string) error {
	if _, err := s.db.Exec(`DELETE FROM sync_queue WHERE id = ?`, itemID); err != nil {
		return fmt.Errorf("removing queue item: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListQueue() ([]*model.SyncQueueItem, error) {
	rows, err := s.db.Query(`
		SELECT ` + queueColumns + ` FROM sync_queue
		ORDER BY priority DESC, added_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("listing queue: %w", err)
	}
	defer rows.Close()

	var items []*model.SyncQueueItem
	for rows.Next() {
		item, err := scanQueueItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning queue item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing queue: %w", err)
	}
	return items, nil
}

func (s *SQLiteStore) ClearQueue() error {
	if _, err := s.db.Exec(`DELETE FROM sync_queue`); err != nil {
		return fmt.Errorf("clearing queue: %w", err)
	}
	return nil
}

// Conflict operations

func (s *SQLiteStore) SaveConflict(record *model.ConflictRecord) error {
	localDoc, err := json.Marshal(record.Local)
	if err != nil {
		return fmt.Errorf("encoding local snapshot: %w", err)
	}
	remoteDoc, err := json.Marshal(record.Remote)
	if err != nil {
		return fmt.Errorf("encoding remote snapshot: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO conflicts (document_id, local_document, remote_document, detected_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (document_id) DO UPDATE SET
			local_document = excluded.local_document,
			remote_document = excluded.remote_document,
			detected_at = excluded.detected_at`,
		record.DocumentID, localDoc, remoteDoc, record.DetectedAt,
	)
	if err != nil {
		return fmt.Errorf("saving conflict: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetConflict(documentID string) (*model.ConflictRecord, error) {
	row := s.db.QueryRow(`
		SELECT document_id, local_document, remote_document, detected_at
		FROM conflicts WHERE document_id = ?`, documentID)
	record, err := scanConflict(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("getting conflict: %w", err)
	}
	return record, nil
}

func (s *SQLiteStore) ListConflicts() ([]*model.ConflictRecord, error) {
	rows, err := s.db.Query(`
		SELECT document_id, local_document, remote_document, detected_at
		FROM conflicts ORDER BY detected_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("listing conflicts: %w", err)
	}
	defer rows.Close()

	var records []*model.ConflictRecord
	for rows.Next() {
		record, err := scanConflict(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning conflict: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing conflicts: %w", err)
	}
	return records, nil
}

func (s *SQLiteStore) ResolveConflict(documentID string) error {
	if _, err := s.db.Exec(`DELETE FROM conflicts WHERE document_id = ?`, documentID); err != nil {
		return fmt.Errorf("resolving conflict: %w", err)
	}
	return nil
}

// Settings

func (s *SQLiteStore) GetSetting(key, def string) (string, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return def, nil
		}
		return def, fmt.Errorf("getting setting: %w", err)
	}
	return value, nil
}

func (s *SQLiteStore) SetSetting(key, value string) error {
	_, err := s.db.Exec(`
		INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("setting %s: %w", key, err)
	}
	return nil
}

// Path returns the database file path (or ":memory:").
func (s *SQLiteStore) Path() string { return s.path }

// CheckMigrations verifies the schema is up to date.
func (s *SQLiteStore) CheckMigrations() error {
	return migrations.CheckStatus(s.db)
}

// MigrateUp brings the schema to the latest version.
func (s *SQLiteStore) MigrateUp() error {
	return migrations.MigrateUp(s.db)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanDocument(row scanner) (*model.Document, error) {
	var (
		doc           model.Document
		payload       []byte
		cloudTS       sql.NullTime
		lastSyncedAt  sql.NullTime
		conflictState string
	)
	err := row.Scan(&doc.ID, &doc.Name, &payload, &doc.ContentHash, &doc.LocalTimestamp,
		&cloudTS, &lastSyncedAt, &doc.OriginDeviceID, &doc.Syncing,
		&conflictState, &doc.SizeBytes, &doc.LastError)
	if err != nil {
		return nil, err
	}
	doc.Payload = json.RawMessage(payload)
	doc.CloudTimestamp = cloudTS.Time
	doc.LastSyncedAt = lastSyncedAt.Time
	doc.ConflictState = model.ConflictState(conflictState)
	return &doc, nil
}

func scanQueueItem(row scanner) (*model.SyncQueueItem, error) {
	var (
		item model.SyncQueueItem
		op   string
	)
	err := row.Scan(&item.ID, &item.DocumentID, &op, &item.Priority,
		&item.RetryCount, &item.MaxRetries, &item.AddedAt, &item.LastError)
	if err != nil {
		return nil, err
	}
	item.Operation = model.SyncOperation(op)
	return &item, nil
}

func scanConflict(row scanner) (*model.ConflictRecord, error) {
	var (
		record    model.ConflictRecord
		localDoc  []byte
		remoteDoc []byte
	)
	err := row.Scan(&record.DocumentID, &localDoc, &remoteDoc, &record.DetectedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(localDoc, &record.Local); err != nil {
		return nil, fmt.Errorf("decoding local snapshot: %w", err)
	}
	if err := json.Unmarshal(remoteDoc, &record.Remote); err != nil {
		return nil, fmt.Errorf("decoding remote snapshot: %w", err)
	}
	return &record, nil
}

// nullableTime maps the zero time to NULL so "never happened" round-trips.
func nullableTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

// Compile-time check that SQLiteStore implements the LocalStore interface.
var _ dsync.LocalStore = (*SQLiteStore)(nil)
