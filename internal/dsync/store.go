package dsync

import (
	"encoding/json"
	"time"

	"dsync-go/internal/model"
)

// DocumentUpdate is a partial document mutation. Nil fields are left
// untouched. Payload updates must carry the matching ContentHash and
// SizeBytes so the content-hash invariant holds at rest.
type DocumentUpdate struct {
	Name           *string
	Payload        *json.RawMessage
	ContentHash    *string
	SizeBytes      *int64
	LocalTimestamp *time.Time
	CloudTimestamp *time.Time
	LastSyncedAt   *time.Time
	Syncing        *bool
	ConflictState  *model.ConflictState
	LastError      *string
}

// LocalStore provides durable CRUD over documents, the sync queue, conflict
// records, and settings. It is the single shared mutable resource: every
// invariant is scoped to one record, so per-record atomic upserts suffice and
// no multi-record transactions are required. Storage unavailability is fatal
// to the caller; the store performs no retries itself.
type LocalStore interface {
	// Document operations

	// SaveDocument upserts a document by ID as one atomic record.
	SaveDocument(doc *model.Document) error

	// GetDocument returns the document or (nil, nil) when absent.
	GetDocument(id string) (*model.Document, error)

	// ListDocuments returns all documents. Order is unspecified.
	ListDocuments() ([]*model.Document, error)

	// ListMetadata returns all documents with payloads stripped.
	// All other fields are preserved exactly.
	ListMetadata() ([]*model.DocumentMeta, error)

	// DeleteDocument removes a document. Deleting an absent ID is a no-op.
	DeleteDocument(id string) error

	// UpdateDocumentFields applies a partial merge. If the ID is absent the
	// call is a silent no-op: intentional idempotence, not an error.
	UpdateDocumentFields(id string, update DocumentUpdate) error

	// Queue operations

	// Enqueue upserts a queue item by its entry ID.
	Enqueue(item *model.SyncQueueItem) error

	// DequeueNext returns the highest-priority item without removing it,
	// or (nil, nil) when the queue is empty. Ties break on earlier AddedAt.
	DequeueNext() (*model.SyncQueueItem, error)

	// RemoveQueueItem removes a queue entry by its entry ID.
	RemoveQueueItem(itemID string) error

	// ListQueue returns all queue items in processing order:
	// priority descending, then AddedAt ascending.
	ListQueue() ([]*model.SyncQueueItem, error)

	// ClearQueue removes all queue items.
	ClearQueue() error

	// Conflict operations

	// SaveConflict stores a conflict record keyed by the local document's
	// ID. A document has at most one open conflict; saving again overwrites.
	SaveConflict(record *model.ConflictRecord) error

	// GetConflict returns the open conflict for a document, or (nil, nil).
	GetConflict(documentID string) (*model.ConflictRecord, error)

	// ListConflicts returns all open conflict records.
	ListConflicts() ([]*model.ConflictRecord, error)

	// ResolveConflict deletes the conflict record for a document.
	ResolveConflict(documentID string) error

	// Settings

	// GetSetting returns the stored value for key, or def when unset.
	GetSetting(key, def string) (string, error)

	// SetSetting stores a settings key/value pair.
	SetSetting(key, value string) error

	// Close closes the store.
	Close() error
}
