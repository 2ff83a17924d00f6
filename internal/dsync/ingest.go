package dsync

import (
	"context"
	"encoding/json"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"dsync-go/internal/model"
)

// ingestCacheSize bounds the per-document dedup cache.
const ingestCacheSize = 512

// Ingestor is the boundary to the external document source. It receives
// change notifications, computes the content hash itself (the notification's
// claim is never trusted), deduplicates identical consecutive versions, and
// hands changed documents to the engine — synced immediately when possible,
// queued otherwise.
type Ingestor struct {
	engine *SyncEngine
	store  LocalStore
	clock  Clock
	idgen  IDGenerator
	logger Logger

	seen *lru.Cache[string, string] // document ID -> last ingested hash
}

// NewIngestor creates an ingestor feeding the given engine.
func NewIngestor(engine *SyncEngine, store LocalStore, clock Clock, idgen IDGenerator, logger Logger) (*Ingestor, error) {
	seen, err := lru.New[string, string](ingestCacheSize)
	if err != nil {
		return nil, fmt.Errorf("creating dedup cache: %w", err)
	}
	return &Ingestor{
		engine: engine,
		store:  store,
		clock:  clock,
		idgen:  idgen,
		logger: logger,
		seen:   seen,
	}, nil
}

// DocumentChanged ingests new content for a watched external document.
// documentID may be empty for first-seen documents, in which case one is
// assigned. Returns the ID under which the document was stored.
//
// A payload that is not structurally serializable is a ValidationError and
// never enters the store. Consecutive notifications carrying identical
// content are deduplicated and trigger no sync.
func (in *Ingestor) DocumentChanged(ctx context.Context, documentID, name string, payload json.RawMessage, source string) (string, error) {
	if len(payload) == 0 {
		return "", &ValidationError{Reason: "empty payload"}
	}
	if !json.Valid(payload) {
		return "", &ValidationError{Reason: "payload is not serializable"}
	}

	if documentID == "" {
		documentID = in.idgen.New()
	}

	hash := HashPayload(payload)
	if prev, ok := in.seen.Get(documentID); ok && HashEqual(prev, hash) {
		in.logger.Debug("change deduplicated", "doc", documentID, "source", source)
		return documentID, nil
	}

	existing, err := in.store.GetDocument(documentID)
	if err != nil {
		return documentID, &StorageFault{Op: "loading document", Err: err}
	}

	now := in.clock.Now()
	var doc *model.Document
	if existing != nil {
		if HashEqual(existing.ContentHash, hash) {
			// Already stored at this content; remember and skip.
			in.seen.Add(documentID, hash)
			return documentID, nil
		}
		doc = existing
		doc.Name = name
		doc.Payload = payload
		doc.ContentHash = hash
		doc.SizeBytes = int64(len(payload))
		doc.LocalTimestamp = now
		doc.OriginDeviceID = in.engine.DeviceID()
	} else {
		doc = &model.Document{
			ID:             documentID,
			Name:           name,
			Payload:        payload,
			ContentHash:    hash,
			SizeBytes:      int64(len(payload)),
			LocalTimestamp: now,
			OriginDeviceID: in.engine.DeviceID(),
			ConflictState:  model.ConflictNone,
		}
	}

	if err := in.store.SaveDocument(doc); err != nil {
		return documentID, &StorageFault{Op: "saving document", Err: err}
	}
	in.seen.Add(documentID, hash)
	in.logger.Debug("change ingested", "doc", documentID, "source", source, "bytes", doc.SizeBytes)

	// Sync now when the engine can reach the cloud; otherwise defer.
	if in.engine.Running() && in.engine.Authenticated() {
		if err := in.engine.SyncDocument(ctx, doc); err != nil {
			// Transient failures were already queued by the engine; conflicts
			// are a terminal state, not an ingestion failure.
			in.logger.Warn("immediate sync failed", "doc", documentID, "error", err)
		}
		return documentID, nil
	}
	return documentID, in.engine.QueueSync(documentID, model.OpUpload)
}
