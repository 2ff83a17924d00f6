package dsync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"dsync-go/internal/model"
)

// Status is the engine-wide sync state, for external observability.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusSyncing Status = "syncing"
	StatusSynced  Status = "synced"
	StatusError   Status = "error"
)

// SyncStatus is the host-facing status snapshot.
type SyncStatus struct {
	Status      Status
	LastSyncAt  time.Time
	QueueLength int
	Error       string
}

// UpdateFunc receives a remote-applied change so any open view of the
// document can refresh.
type UpdateFunc func(documentID string, payload json.RawMessage)

// SyncEngine orchestrates per-document sync, full reconciliation sweeps,
// queue draining with bounded retries, and remote push application. It owns
// only transient state; all persisted state lives in the LocalStore.
//
// Correctness under concurrent edits relies on content-hash comparison
// before any write, the best-effort per-document Syncing flag, and the
// single in-flight guard on SyncAll. There is no per-document lock: when a
// local upload races a remote push for the same ID, whichever completes its
// compare-and-decide step first wins, and the detector forces a conflict
// whenever both sides plausibly changed.
type SyncEngine struct {
	store    LocalStore
	cloud    CloudStore
	logger   Logger
	clock    Clock
	idgen    IDGenerator
	deviceID string

	mu          sync.Mutex
	settings    model.SyncSettings
	status      Status
	lastSyncAt  time.Time
	lastErr     string
	consumers   []UpdateFunc
	started     bool
	unsubscribe func()
	scheduler   *Scheduler

	sweeping atomic.Bool
}

// NewSyncEngine creates an engine with the provided dependencies. The engine
// is inert until Start (or OnAuthStateChanged(true)) is called.
func NewSyncEngine(store LocalStore, cloud CloudStore, logger Logger, clock Clock, idgen IDGenerator, deviceID string) *SyncEngine {
	return &SyncEngine{
		store:    store,
		cloud:    cloud,
		logger:   logger,
		clock:    clock,
		idgen:    idgen,
		deviceID: deviceID,
		settings: model.DefaultSyncSettings(),
		status:   StatusIdle,
	}
}

// DeviceID returns the identifier of the device this engine runs on.
func (e *SyncEngine) DeviceID() string { return e.deviceID }

// Running reports whether the engine has been started.
func (e *SyncEngine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.started
}

// Authenticated reports whether the cloud session is valid.
func (e *SyncEngine) Authenticated() bool { return e.cloud.IsAuthenticated() }

// Settings returns the current sync settings.
func (e *SyncEngine) Settings() model.SyncSettings {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.settings
}

// UpdateSettings persists new settings and applies them immediately. If the
// engine is running, periodic scheduling is restarted to pick up interval
// and auto-sync changes.
func (e *SyncEngine) UpdateSettings(s model.SyncSettings) error {
	if err := SaveSettings(e.store, s); err != nil {
		return err
	}

	e.mu.Lock()
	e.settings = s
	running := e.started
	old := e.scheduler
	e.scheduler = nil
	e.mu.Unlock()

	if old != nil {
		old.Stop()
	}
	if running && s.AutoSync {
		e.startScheduler(s.SyncInterval)
	}
	return nil
}

// OnDocumentUpdated registers a consumer notified whenever a remote-applied
// change should be reflected in an open view of that document.
func (e *SyncEngine) OnDocumentUpdated(fn UpdateFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.consumers = append(e.consumers, fn)
}

func (e *SyncEngine) notifyUpdated(documentID string, payload json.RawMessage) {
	e.mu.Lock()
	consumers := make([]UpdateFunc, len(e.consumers))
	copy(consumers, e.consumers)
	e.mu.Unlock()

	for _, fn := range consumers {
		fn(documentID, payload)
	}
}

// GetSyncStatus returns the engine status, last sweep time, queue length,
// and last sweep error.
func (e *SyncEngine) GetSyncStatus() (SyncStatus, error) {
	queue, err := e.store.ListQueue()
	if err != nil {
		return SyncStatus{}, &StorageFault{Op: "listing queue", Err: err}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return SyncStatus{
		Status:      e.status,
		LastSyncAt:  e.lastSyncAt,
		QueueLength: len(queue),
		Error:       e.lastErr,
	}, nil
}

// ListDocumentMetadata returns local document metadata for display.
func (e *SyncEngine) ListDocumentMetadata() ([]*model.DocumentMeta, error) {
	metas, err := e.store.ListMetadata()
	if err != nil {
		return nil, &StorageFault{Op: "listing metadata", Err: err}
	}
	return metas, nil
}

// ListConflicts returns all open conflict records.
func (e *SyncEngine) ListConflicts() ([]*model.ConflictRecord, error) {
	records, err := e.store.ListConflicts()
	if err != nil {
		return nil, &StorageFault{Op: "listing conflicts", Err: err}
	}
	return records, nil
}

// RequestSync is the manual "sync now" trigger.
func (e *SyncEngine) RequestSync(ctx context.Context) error {
	return e.SyncAll(ctx)
}

// Start loads settings, validates the cloud session, subscribes to remote
// pushes, enqueues never-synced local documents, drains the queue, and
// starts periodic sweeps when auto-sync is enabled.
func (e *SyncEngine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return nil
	}
	e.mu.Unlock()

	settings, err := LoadSettings(e.store)
	if err != nil {
		return fmt.Errorf("loading sync settings: %w", err)
	}

	if !e.cloud.IsAuthenticated() {
		if err := e.cloud.Authenticate(ctx); err != nil {
			return fmt.Errorf("authenticating: %w", err)
		}
	}

	unsubscribe, err := e.cloud.SubscribeToChanges(e.HandleRemotePush)
	if err != nil {
		return fmt.Errorf("subscribing to remote changes: %w", err)
	}

	e.mu.Lock()
	e.settings = settings
	e.unsubscribe = unsubscribe
	e.started = true
	e.mu.Unlock()

	if err := e.enqueueUnsynced(); err != nil {
		e.logger.Warn("enqueueing unsynced documents", "error", err)
	}
	if err := e.ProcessQueue(ctx); err != nil {
		e.logger.Warn("initial queue drain incomplete", "error", err)
	}

	if settings.AutoSync {
		e.startScheduler(settings.SyncInterval)
	}

	e.logger.Info("sync engine started", "device", e.deviceID, "auto_sync", settings.AutoSync)
	return nil
}

// Stop tears down scheduling and the push subscription. Remote calls stop
// being issued until Start is called again.
func (e *SyncEngine) Stop() {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return
	}
	unsubscribe := e.unsubscribe
	scheduler := e.scheduler
	e.started = false
	e.unsubscribe = nil
	e.scheduler = nil
	e.status = StatusIdle
	e.mu.Unlock()

	if scheduler != nil {
		scheduler.Stop()
	}
	if unsubscribe != nil {
		unsubscribe()
	}
	e.logger.Info("sync engine stopped", "device", e.deviceID)
}

// OnAuthStateChanged reacts to the host's authentication state. True
// (re)initializes the engine and starts scheduling; false tears it down.
func (e *SyncEngine) OnAuthStateChanged(ctx context.Context, authenticated bool) error {
	if authenticated {
		return e.Start(ctx)
	}
	e.Stop()
	return nil
}

func (e *SyncEngine) startScheduler(interval time.Duration) {
	scheduler := NewScheduler(interval, func() {
		if err := e.SyncAll(context.Background()); err != nil {
			e.logger.Warn("scheduled sync failed", "error", err)
		}
	})
	scheduler.Start()

	e.mu.Lock()
	e.scheduler = scheduler
	e.mu.Unlock()
}

// enqueueUnsynced queues an upload for every document that has never
// completed a sync and is not blocked on an open conflict.
func (e *SyncEngine) enqueueUnsynced() error {
	metas, err := e.store.ListMetadata()
	if err != nil {
		return &StorageFault{Op: "listing metadata", Err: err}
	}
	queued, err := e.store.ListQueue()
	if err != nil {
		return &StorageFault{Op: "listing queue", Err: err}
	}

	pending := make(map[string]bool, len(queued))
	for _, item := range queued {
		if item.Operation == model.OpUpload {
			pending[item.DocumentID] = true
		}
	}

	for _, meta := range metas {
		if !meta.LastSyncedAt.IsZero() || meta.ConflictState == model.ConflictOpen || pending[meta.ID] {
			continue
		}
		if err := e.QueueSync(meta.ID, model.OpUpload); err != nil {
			return err
		}
	}
	return nil
}

// SyncDocument reconciles one document against its remote counterpart.
//
// Remote absent: first-time publish (upload). Remote present: run the
// detector. Manual-mode conflicts persist a ConflictRecord, mark the
// document, and stop — neither side is written. Auto strategies resolve and
// apply the winner. Safe divergence applies the authoritative side. Equal
// hashes are a no-op.
func (e *SyncEngine) SyncDocument(ctx context.Context, doc *model.Document) error {
	e.setSyncing(doc.ID, true)
	defer e.setSyncing(doc.ID, false)

	remote, err := e.cloud.Download(ctx, doc.ID)
	if err != nil {
		return e.deferToQueue(doc.ID, err)
	}

	if remote == nil {
		if err := e.uploadDocument(ctx, doc); err != nil {
			return e.deferToQueue(doc.ID, err)
		}
		return nil
	}

	det := Detect(doc, remote, e.clock.Now())
	switch det.Decision {
	case DecisionNoChange:
		return e.stampSynced(doc, remote)

	case DecisionConflict:
		strategy := e.Settings().ConflictResolution
		if strategy == model.ResolveManual {
			if err := e.persistConflict(det.Record); err != nil {
				return err
			}
			return ErrConflictPending
		}
		winner, err := Resolve(det.Record, strategy)
		if err != nil {
			return err
		}
		return e.applyResolution(ctx, det.Record, winner, strategy)

	case DecisionLocalWins:
		if err := e.uploadDocument(ctx, doc); err != nil {
			return e.deferToQueue(doc.ID, err)
		}
		return nil

	case DecisionRemoteWins:
		return e.applyRemote(remote)
	}
	return nil
}

// stampSynced records sync completion for a document whose content already
// matches the remote copy. A repeated call with no intervening change writes
// nothing.
func (e *SyncEngine) stampSynced(doc, remote *model.Document) error {
	if !doc.LastSyncedAt.Before(doc.LocalTimestamp) && !doc.CloudTimestamp.IsZero() {
		return nil
	}
	now := e.clock.Now()
	cloudTS := remote.CloudTimestamp
	if cloudTS.IsZero() {
		cloudTS = doc.LocalTimestamp
	}
	state := model.ConflictNone
	clear := ""
	update := DocumentUpdate{
		CloudTimestamp: &cloudTS,
		LastSyncedAt:   &now,
		ConflictState:  &state,
		LastError:      &clear,
	}
	if err := e.store.UpdateDocumentFields(doc.ID, update); err != nil {
		return &StorageFault{Op: "recording sync completion", Err: err}
	}
	return nil
}

// SyncAll runs a full reconciliation sweep. Concurrent calls are rejected
// (logged and returned immediately) rather than interleaved: partial
// interleavings could corrupt conflict bookkeeping. A single document's
// failure never aborts the sweep for other documents.
func (e *SyncEngine) SyncAll(ctx context.Context) error {
	if !e.sweeping.CompareAndSwap(false, true) {
		e.logger.Warn("sync already in progress, rejecting concurrent sweep")
		return nil
	}
	defer e.sweeping.Store(false)

	e.setStatus(StatusSyncing, "")

	locals, err := e.store.ListDocuments()
	if err != nil {
		fault := &StorageFault{Op: "listing documents", Err: err}
		e.setStatus(StatusError, fault.Error())
		return fault
	}
	remotes, err := e.cloud.List(ctx)
	if err != nil {
		e.setStatus(StatusError, err.Error())
		return err
	}

	remoteByID := make(map[string]*model.DocumentMeta, len(remotes))
	for _, meta := range remotes {
		remoteByID[meta.ID] = meta
	}
	localIDs := make(map[string]bool, len(locals))

	var firstErr error
	record := func(id string, err error) {
		if err == nil || errors.Is(err, ErrConflictPending) {
			return
		}
		e.logger.Error("document sync failed", "doc", id, "error", err)
		if firstErr == nil {
			firstErr = err
		}
	}

	for _, doc := range locals {
		localIDs[doc.ID] = true
		meta, ok := remoteByID[doc.ID]
		switch {
		case !ok:
			// Present only locally: publish.
			if err := e.uploadDocument(ctx, doc); err != nil {
				record(doc.ID, e.deferToQueue(doc.ID, err))
			}
		case !HashEqual(doc.ContentHash, meta.ContentHash):
			record(doc.ID, e.SyncDocument(ctx, doc))
		default:
			record(doc.ID, e.stampSynced(doc, &model.Document{
				ID:             meta.ID,
				ContentHash:    meta.ContentHash,
				CloudTimestamp: meta.CloudTimestamp,
			}))
		}
	}

	for _, meta := range remotes {
		if localIDs[meta.ID] {
			continue
		}
		// Present only remotely: download and apply.
		remote, err := e.cloud.Download(ctx, meta.ID)
		if err != nil {
			record(meta.ID, err)
			continue
		}
		if remote == nil {
			continue // deleted between list and fetch
		}
		record(meta.ID, e.applyRemote(remote))
	}

	now := e.clock.Now()
	e.mu.Lock()
	e.lastSyncAt = now
	if firstErr != nil {
		e.status = StatusError
		e.lastErr = firstErr.Error()
	} else {
		e.status = StatusSynced
		e.lastErr = ""
	}
	e.mu.Unlock()

	e.logger.Info("sync sweep complete", "local", len(locals), "remote", len(remotes), "ok", firstErr == nil)
	return firstErr
}

// QueueSync appends a deferred sync operation for the document.
func (e *SyncEngine) QueueSync(documentID string, op model.SyncOperation) error {
	e.mu.Lock()
	maxRetries := e.settings.MaxRetries
	e.mu.Unlock()

	item := &model.SyncQueueItem{
		ID:         e.idgen.New(),
		DocumentID: documentID,
		Operation:  op,
		Priority:   model.PriorityFor(op),
		MaxRetries: maxRetries,
		AddedAt:    e.clock.Now(),
	}
	if err := e.store.Enqueue(item); err != nil {
		return &StorageFault{Op: "enqueueing sync item", Err: err}
	}
	e.logger.Debug("sync queued", "doc", documentID, "op", op)
	return nil
}

// ProcessQueue drains queued operations in priority order, ties broken by
// insertion order. Each item is attempted at most once per invocation: a
// transient failure leaves it queued (with its retry counter bumped) for the
// next call; cadence is the caller's concern. Items whose retry budget is
// exhausted are dropped with the final error retained on the document.
func (e *SyncEngine) ProcessQueue(ctx context.Context) error {
	if !e.cloud.IsAuthenticated() {
		return PermanentRemote("queue drain", errors.New("not authenticated"))
	}

	items, err := e.store.ListQueue()
	if err != nil {
		return &StorageFault{Op: "listing queue", Err: err}
	}

	var firstErr error
	for _, item := range items {
		if err := e.processQueueItem(ctx, item); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (e *SyncEngine) processQueueItem(ctx context.Context, item *model.SyncQueueItem) error {
	var opErr error

	switch item.Operation {
	case model.OpDelete:
		// Deletes need no local document; the target is already gone locally.
		opErr = e.cloud.Delete(ctx, item.DocumentID)

	case model.OpUpload:
		doc, err := e.store.GetDocument(item.DocumentID)
		if err != nil {
			return &StorageFault{Op: "loading queued document", Err: err}
		}
		if doc == nil {
			// Deleted elsewhere: drop silently.
			return e.dropQueueItem(item)
		}
		if doc.ConflictState == model.ConflictOpen {
			// Never auto-overwrite either side of an open conflict.
			e.logger.Warn("dropping queued upload for conflicted document", "doc", doc.ID)
			return e.dropQueueItem(item)
		}
		opErr = e.uploadDocument(ctx, doc)

	case model.OpDownload:
		remote, err := e.cloud.Download(ctx, item.DocumentID)
		if err != nil {
			opErr = err
		} else if remote == nil {
			// Gone remotely: drop silently.
			return e.dropQueueItem(item)
		} else {
			opErr = e.applyRemote(remote)
		}

	default:
		e.logger.Error("unknown queue operation", "op", item.Operation)
		return e.dropQueueItem(item)
	}

	if opErr == nil {
		return e.dropQueueItem(item)
	}

	if !IsTransient(opErr) {
		// Permanent failures surface immediately and are never retried.
		e.recordDocumentError(item.DocumentID, opErr)
		if err := e.dropQueueItem(item); err != nil {
			return err
		}
		e.logger.Error("queue item failed permanently", "doc", item.DocumentID, "op", item.Operation, "error", opErr)
		return opErr
	}

	item.RetryCount++
	item.LastError = opErr.Error()
	if item.RetryCount >= item.MaxRetries {
		e.recordDocumentError(item.DocumentID, opErr)
		if err := e.dropQueueItem(item); err != nil {
			return err
		}
		e.logger.Error("dropping queue item after exhausting retries",
			"doc", item.DocumentID, "op", item.Operation, "retries", item.RetryCount, "error", opErr)
		return opErr
	}

	if err := e.store.Enqueue(item); err != nil {
		return &StorageFault{Op: "updating queue item", Err: err}
	}
	e.logger.Warn("queue item failed, will retry",
		"doc", item.DocumentID, "op", item.Operation, "retry", item.RetryCount, "error", opErr)
	return opErr
}

func (e *SyncEngine) dropQueueItem(item *model.SyncQueueItem) error {
	if err := e.store.RemoveQueueItem(item.ID); err != nil {
		return &StorageFault{Op: "removing queue item", Err: err}
	}
	return nil
}

// recordDocumentError retains the last sync error on the document metadata
// for display. Best-effort: the document may already be gone.
func (e *SyncEngine) recordDocumentError(documentID string, opErr error) {
	msg := opErr.Error()
	if err := e.store.UpdateDocumentFields(documentID, DocumentUpdate{LastError: &msg}); err != nil {
		e.logger.Warn("recording document error", "doc", documentID, "error", err)
	}
}

// HandleRemotePush applies a push-delivered remote change. A detected
// conflict persists the record and does not apply the push; otherwise the
// remote document is applied locally and consumers are notified. Pushes for
// unknown documents (new from another device) apply directly.
func (e *SyncEngine) HandleRemotePush(doc *model.Document) {
	local, err := e.store.GetDocument(doc.ID)
	if err != nil {
		e.logger.Error("loading local counterpart for push", "doc", doc.ID, "error", err)
		return
	}

	if local == nil {
		if err := e.applyRemote(doc); err != nil {
			e.logger.Error("applying pushed document", "doc", doc.ID, "error", err)
		}
		return
	}

	det := Detect(local, doc, e.clock.Now())
	switch det.Decision {
	case DecisionConflict:
		if err := e.persistConflict(det.Record); err != nil {
			e.logger.Error("persisting push conflict", "doc", doc.ID, "error", err)
		}
	case DecisionRemoteWins:
		if err := e.applyRemote(doc); err != nil {
			e.logger.Error("applying pushed document", "doc", doc.ID, "error", err)
		}
	case DecisionNoChange, DecisionLocalWins:
		// Nothing to apply.
	}
}

// DeleteDocument removes the document locally and queues the remote delete.
// The queue is drained immediately when the engine is running.
func (e *SyncEngine) DeleteDocument(ctx context.Context, documentID string) error {
	if err := e.store.DeleteDocument(documentID); err != nil {
		return &StorageFault{Op: "deleting document", Err: err}
	}
	if err := e.store.ResolveConflict(documentID); err != nil {
		return &StorageFault{Op: "clearing conflict", Err: err}
	}
	if err := e.QueueSync(documentID, model.OpDelete); err != nil {
		return err
	}
	if e.Running() && e.cloud.IsAuthenticated() {
		return e.ProcessQueue(ctx)
	}
	return nil
}

// ResolveConflict applies a resolution to an open conflict. The strategy
// must be latest, local, or cloud; a host resolving manually passes the
// explicit side it chose.
func (e *SyncEngine) ResolveConflict(ctx context.Context, documentID string, strategy model.ResolutionStrategy) error {
	record, err := e.store.GetConflict(documentID)
	if err != nil {
		return &StorageFault{Op: "loading conflict", Err: err}
	}
	if record == nil {
		return fmt.Errorf("no open conflict for document %s", documentID)
	}
	winner, err := Resolve(record, strategy)
	if err != nil {
		return err
	}
	return e.applyResolution(ctx, record, winner, strategy)
}

// applyResolution writes the winning copy back and re-syncs it: a local win
// uploads, a remote win applies locally. The conflict record is destroyed.
func (e *SyncEngine) applyResolution(ctx context.Context, record *model.ConflictRecord, winner *model.Document, strategy model.ResolutionStrategy) error {
	if HashEqual(winner.ContentHash, record.Local.ContentHash) {
		local := record.Local
		if err := e.uploadDocument(ctx, &local); err != nil {
			return e.deferToQueue(local.ID, err)
		}
	} else {
		remote := record.Remote
		if err := e.applyRemote(&remote); err != nil {
			return err
		}
	}

	if err := e.store.ResolveConflict(record.DocumentID); err != nil {
		return &StorageFault{Op: "resolving conflict", Err: err}
	}
	e.logger.Info("conflict resolved", "doc", record.DocumentID, "strategy", strategy)
	return nil
}

// uploadDocument publishes the local copy and stamps sync bookkeeping. The
// remote copy's modification time becomes the local mutation time, so a
// subsequent detect sees equal hashes and matching timestamps.
func (e *SyncEngine) uploadDocument(ctx context.Context, doc *model.Document) error {
	e.setSyncing(doc.ID, true)
	defer e.setSyncing(doc.ID, false)

	if err := e.cloud.Upload(ctx, doc); err != nil {
		return err
	}

	now := e.clock.Now()
	cloudTS := doc.LocalTimestamp
	state := model.ConflictNone
	clear := ""
	update := DocumentUpdate{
		CloudTimestamp: &cloudTS,
		LastSyncedAt:   &now,
		ConflictState:  &state,
		LastError:      &clear,
	}
	if err := e.store.UpdateDocumentFields(doc.ID, update); err != nil {
		return &StorageFault{Op: "recording upload", Err: err}
	}
	e.logger.Info("document uploaded", "doc", doc.ID, "hash", doc.ContentHash)
	return nil
}

// applyRemote writes a remote copy into the local store and notifies
// consumers. The payload hash is validated before anything is persisted so
// the content-hash invariant cannot be violated by a misbehaving backend.
func (e *SyncEngine) applyRemote(remote *model.Document) error {
	if !HashEqual(HashPayload(remote.Payload), remote.ContentHash) {
		return &ValidationError{Reason: fmt.Sprintf("content hash mismatch for document %s", remote.ID)}
	}

	now := e.clock.Now()
	doc := &model.Document{
		ID:             remote.ID,
		Name:           remote.Name,
		Payload:        remote.Payload,
		ContentHash:    remote.ContentHash,
		LocalTimestamp: remote.CloudTimestamp,
		CloudTimestamp: remote.CloudTimestamp,
		LastSyncedAt:   now,
		OriginDeviceID: remote.OriginDeviceID,
		ConflictState:  model.ConflictNone,
		SizeBytes:      int64(len(remote.Payload)),
	}
	if err := e.store.SaveDocument(doc); err != nil {
		return &StorageFault{Op: "applying remote document", Err: err}
	}

	e.notifyUpdated(doc.ID, doc.Payload)
	e.logger.Info("remote document applied", "doc", doc.ID, "origin", doc.OriginDeviceID)
	return nil
}

// persistConflict stores the record and marks the document conflicted.
// No payload is written in either direction.
func (e *SyncEngine) persistConflict(record *model.ConflictRecord) error {
	if err := e.store.SaveConflict(record); err != nil {
		return &StorageFault{Op: "saving conflict", Err: err}
	}
	state := model.ConflictOpen
	if err := e.store.UpdateDocumentFields(record.DocumentID, DocumentUpdate{ConflictState: &state}); err != nil {
		return &StorageFault{Op: "marking conflict", Err: err}
	}
	e.logger.Warn("conflict detected", "doc", record.DocumentID)
	return nil
}

// deferToQueue queues an upload retry for a transient remote failure. The
// original error is returned either way; permanent failures are not queued.
func (e *SyncEngine) deferToQueue(documentID string, opErr error) error {
	if IsTransient(opErr) {
		if err := e.QueueSync(documentID, model.OpUpload); err != nil {
			e.logger.Error("deferring sync to queue", "doc", documentID, "error", err)
			return opErr
		}
		e.logger.Warn("sync deferred to queue", "doc", documentID, "error", opErr)
	}
	return opErr
}

// setSyncing flips the transient in-flight marker. Best-effort: a failure
// here must not abort the sync itself.
func (e *SyncEngine) setSyncing(documentID string, v bool) {
	if err := e.store.UpdateDocumentFields(documentID, DocumentUpdate{Syncing: &v}); err != nil {
		e.logger.Warn("updating syncing flag", "doc", documentID, "error", err)
	}
}

func (e *SyncEngine) setStatus(s Status, errMsg string) {
	e.mu.Lock()
	e.status = s
	e.lastErr = errMsg
	e.mu.Unlock()
}
