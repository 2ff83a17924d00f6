package model

import (
	"encoding/json"
	"time"
)

// ConflictState tracks whether a document has an unresolved divergence.
type ConflictState string

const (
	ConflictNone     ConflictState = "none"
	ConflictOpen     ConflictState = "conflict"
	ConflictResolved ConflictState = "resolved"
)

// Document is the syncable unit. The payload is an opaque serializable blob;
// sync and conflict logic never look inside it.
type Document struct {
	ID             string          // Stable unique identifier, immutable once assigned
	Name           string          // Human label, not used for identity
	Payload        json.RawMessage // Opaque content blob
	ContentHash    string          // SHA-256 hex of Payload; never stale at rest
	LocalTimestamp time.Time       // Wall-clock time of last local mutation
	CloudTimestamp time.Time       // Last known-applied remote mutation (zero = never synced)
	LastSyncedAt   time.Time       // Last successful sync for this ID (zero = never)
	OriginDeviceID string          // Device that produced the current payload
	Syncing        bool            // Transient: an upload/download is in flight
	ConflictState  ConflictState
	SizeBytes      int64  // Byte length of serialized payload
	LastError      string // Last sync error retained for display (exhausted retries)
}

// Meta returns the document with its payload stripped, for cheap enumeration.
func (d *Document) Meta() *DocumentMeta {
	return &DocumentMeta{
		ID:             d.ID,
		Name:           d.Name,
		ContentHash:    d.ContentHash,
		LocalTimestamp: d.LocalTimestamp,
		CloudTimestamp: d.CloudTimestamp,
		LastSyncedAt:   d.LastSyncedAt,
		OriginDeviceID: d.OriginDeviceID,
		Syncing:        d.Syncing,
		ConflictState:  d.ConflictState,
		SizeBytes:      d.SizeBytes,
		LastError:      d.LastError,
	}
}

// DocumentMeta is a Document without its payload.
type DocumentMeta struct {
	ID             string
	Name           string
	ContentHash    string
	LocalTimestamp time.Time
	CloudTimestamp time.Time
	LastSyncedAt   time.Time
	OriginDeviceID string
	Syncing        bool
	ConflictState  ConflictState
	SizeBytes      int64
	LastError      string
}

// ConflictRecord pairs the local and remote snapshots of a diverged document.
// Keyed by the local document's ID: a document has at most one open conflict.
type ConflictRecord struct {
	DocumentID string
	Local      Document
	Remote     Document
	DetectedAt time.Time
}

// SyncOperation is the kind of work a queue item represents.
type SyncOperation string

const (
	OpUpload   SyncOperation = "upload"
	OpDownload SyncOperation = "download"
	OpDelete   SyncOperation = "delete"
)

// Queue priorities. Deletes outrank uploads and downloads.
const (
	PriorityDelete  = 10
	PriorityDefault = 5
)

// PriorityFor returns the queue priority for an operation.
func PriorityFor(op SyncOperation) int {
	if op == OpDelete {
		return PriorityDelete
	}
	return PriorityDefault
}

// SyncQueueItem is a deferred sync operation awaiting ProcessQueue.
type SyncQueueItem struct {
	ID         string // Queue entry ID
	DocumentID string
	Operation  SyncOperation
	Priority   int
	RetryCount int
	MaxRetries int
	AddedAt    time.Time
	LastError  string
}

// ResolutionStrategy selects how a detected conflict is resolved.
type ResolutionStrategy string

const (
	ResolveManual ResolutionStrategy = "manual"
	ResolveLatest ResolutionStrategy = "latest"
	ResolveLocal  ResolutionStrategy = "local"
	ResolveCloud  ResolutionStrategy = "cloud"
)

// SyncSettings is process-wide sync configuration. Loaded once at engine
// start from the local store and mutable via explicit update calls.
type SyncSettings struct {
	AutoSync           bool
	SyncInterval       time.Duration
	ConflictResolution ResolutionStrategy
	MaxRetries         int
	RetryDelay         time.Duration
}

// DefaultSyncSettings returns the settings used when none are persisted.
func DefaultSyncSettings() SyncSettings {
	return SyncSettings{
		AutoSync:           true,
		SyncInterval:       30 * time.Second,
		ConflictResolution: ResolveManual,
		MaxRetries:         3,
		RetryDelay:         5 * time.Second,
	}
}
