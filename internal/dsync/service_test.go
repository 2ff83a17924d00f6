package dsync_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"dsync-go/internal/cloud"
	"dsync-go/internal/dsync"
	"dsync-go/internal/model"
	"dsync-go/internal/testutil"
)

const (
	localDevice  = "device-local"
	remoteDevice = "device-remote"
)

type engineFixture struct {
	engine *dsync.SyncEngine
	store  dsync.LocalStore
	cloud  *cloud.MemoryCloud
	clock  *testutil.StubClock
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()

	store := testutil.NewTestStore(t)
	mc := cloud.NewMemoryCloud("test", localDevice, nil)
	clock := testutil.FixedClock()
	engine := dsync.NewSyncEngine(store, mc, dsync.NewNopLogger(), clock, testutil.NewStubIDGenerator(), localDevice)

	t.Cleanup(engine.Stop)
	return &engineFixture{engine: engine, store: store, cloud: mc, clock: clock}
}

// doc builds a document whose hash matches its payload.
func doc(id, content string) *model.Document {
	payload := json.RawMessage(`{"v":"` + content + `"}`)
	return &model.Document{
		ID:             id,
		Name:           id,
		Payload:        payload,
		ContentHash:    dsync.HashPayload(payload),
		OriginDeviceID: localDevice,
		ConflictState:  model.ConflictNone,
		SizeBytes:      int64(len(payload)),
	}
}

// seedRemote places a document in the cloud as if another device uploaded it.
func seedRemote(t *testing.T, f *engineFixture, d *model.Document, cloudTS time.Time) {
	t.Helper()
	remote := *d
	remote.OriginDeviceID = remoteDevice
	remote.CloudTimestamp = cloudTS
	if err := f.cloud.SimulatePush(&remote); err != nil {
		t.Fatalf("seeding remote: %v", err)
	}
}

func mustGet(t *testing.T, store dsync.LocalStore, id string) *model.Document {
	t.Helper()
	got, err := store.GetDocument(id)
	if err != nil {
		t.Fatalf("GetDocument(%s) error = %v", id, err)
	}
	if got == nil {
		t.Fatalf("GetDocument(%s) = nil, want document", id)
	}
	return got
}

func TestSyncDocument_FirstUpload(t *testing.T) {
	t.Parallel()
	f := newEngineFixture(t)
	ctx := context.Background()

	d := doc("d1", "hello")
	d.LocalTimestamp = f.clock.Now()
	if err := f.store.SaveDocument(d); err != nil {
		t.Fatalf("SaveDocument() error = %v", err)
	}

	f.clock.Advance(time.Minute)
	if err := f.engine.SyncDocument(ctx, d); err != nil {
		t.Fatalf("SyncDocument() error = %v", err)
	}

	if f.cloud.Len() != 1 {
		t.Errorf("cloud has %d documents, want 1", f.cloud.Len())
	}
	got := mustGet(t, f.store, "d1")
	if !got.CloudTimestamp.Equal(d.LocalTimestamp) {
		t.Errorf("CloudTimestamp = %v, want local mutation time %v", got.CloudTimestamp, d.LocalTimestamp)
	}
	if got.LastSyncedAt.IsZero() {
		t.Error("LastSyncedAt not stamped")
	}
	if got.Syncing {
		t.Error("Syncing flag left set after sync")
	}
}

func TestSyncDocument_RepeatIsNoop(t *testing.T) {
	t.Parallel()
	f := newEngineFixture(t)
	ctx := context.Background()

	d := doc("d1", "hello")
	d.LocalTimestamp = f.clock.Now()
	f.store.SaveDocument(d)
	if err := f.engine.SyncDocument(ctx, d); err != nil {
		t.Fatalf("first SyncDocument() error = %v", err)
	}
	first := mustGet(t, f.store, "d1")

	f.clock.Advance(time.Hour)
	if err := f.engine.SyncDocument(ctx, mustGet(t, f.store, "d1")); err != nil {
		t.Fatalf("second SyncDocument() error = %v", err)
	}
	second := mustGet(t, f.store, "d1")

	if !second.LastSyncedAt.Equal(first.LastSyncedAt) {
		t.Errorf("repeat sync rewrote LastSyncedAt: %v -> %v", first.LastSyncedAt, second.LastSyncedAt)
	}
}

func TestSyncDocument_RemoteWinsWhenLocalClean(t *testing.T) {
	t.Parallel()
	f := newEngineFixture(t)
	ctx := context.Background()
	base := f.clock.Now()

	local := doc("d1", "old")
	local.LocalTimestamp = base
	local.CloudTimestamp = base
	local.LastSyncedAt = base
	f.store.SaveDocument(local)

	remote := doc("d1", "new")
	seedRemote(t, f, remote, base.Add(30*time.Minute))

	f.clock.Advance(time.Hour)
	if err := f.engine.SyncDocument(ctx, local); err != nil {
		t.Fatalf("SyncDocument() error = %v", err)
	}

	got := mustGet(t, f.store, "d1")
	if !dsync.HashEqual(got.ContentHash, remote.ContentHash) {
		t.Error("remote content was not applied")
	}
	if !got.LocalTimestamp.Equal(base.Add(30 * time.Minute)) {
		t.Errorf("LocalTimestamp = %v, want the remote mutation time", got.LocalTimestamp)
	}
	if got.ConflictState != model.ConflictNone {
		t.Errorf("ConflictState = %s, want none", got.ConflictState)
	}
}

func TestSyncDocument_ManualConflictFreezesBothSides(t *testing.T) {
	t.Parallel()
	f := newEngineFixture(t)
	ctx := context.Background()
	base := f.clock.Now()

	local := doc("d1", "mine")
	local.LocalTimestamp = base.Add(20 * time.Minute)
	local.CloudTimestamp = base.Add(5 * time.Minute)
	local.LastSyncedAt = base.Add(5 * time.Minute)
	f.store.SaveDocument(local)

	remote := doc("d1", "theirs")
	seedRemote(t, f, remote, base.Add(10*time.Minute))

	f.clock.Advance(time.Hour)
	err := f.engine.SyncDocument(ctx, local)
	if !errors.Is(err, dsync.ErrConflictPending) {
		t.Fatalf("SyncDocument() error = %v, want ErrConflictPending", err)
	}

	// Neither side written.
	got := mustGet(t, f.store, "d1")
	if !dsync.HashEqual(got.ContentHash, local.ContentHash) {
		t.Error("local payload was overwritten during a manual conflict")
	}
	cloudCopy, err := f.cloud.Download(ctx, "d1")
	if err != nil {
		t.Fatalf("Download() error = %v", err)
	}
	if !dsync.HashEqual(cloudCopy.ContentHash, remote.ContentHash) {
		t.Error("remote payload was overwritten during a manual conflict")
	}

	// Conflict bookkeeping in place.
	if got.ConflictState != model.ConflictOpen {
		t.Errorf("ConflictState = %s, want conflict", got.ConflictState)
	}
	record, err := f.store.GetConflict("d1")
	if err != nil || record == nil {
		t.Fatalf("GetConflict() = (%v, %v), want record", record, err)
	}
	if !dsync.HashEqual(record.Local.ContentHash, local.ContentHash) ||
		!dsync.HashEqual(record.Remote.ContentHash, remote.ContentHash) {
		t.Error("conflict record does not snapshot both sides")
	}
}

func TestSyncDocument_AutoLatestResolves(t *testing.T) {
	t.Parallel()
	f := newEngineFixture(t)
	ctx := context.Background()
	base := f.clock.Now()

	settings := f.engine.Settings()
	settings.ConflictResolution = model.ResolveLatest
	if err := f.engine.UpdateSettings(settings); err != nil {
		t.Fatalf("UpdateSettings() error = %v", err)
	}

	local := doc("d1", "mine")
	local.LocalTimestamp = base.Add(20 * time.Minute)
	local.CloudTimestamp = base.Add(5 * time.Minute)
	local.LastSyncedAt = base.Add(5 * time.Minute)
	f.store.SaveDocument(local)

	remote := doc("d1", "theirs")
	seedRemote(t, f, remote, base.Add(10*time.Minute))

	f.clock.Advance(time.Hour)
	if err := f.engine.SyncDocument(ctx, local); err != nil {
		t.Fatalf("SyncDocument() error = %v", err)
	}

	// Local copy is newer: it wins and is uploaded.
	cloudCopy, _ := f.cloud.Download(ctx, "d1")
	if !dsync.HashEqual(cloudCopy.ContentHash, local.ContentHash) {
		t.Error("newer local copy was not uploaded")
	}
	record, _ := f.store.GetConflict("d1")
	if record != nil {
		t.Error("conflict record left behind after auto-resolution")
	}
	if got := mustGet(t, f.store, "d1"); got.ConflictState != model.ConflictNone {
		t.Errorf("ConflictState = %s, want none", got.ConflictState)
	}
}

func TestResolveConflict_KeepCloud(t *testing.T) {
	t.Parallel()
	f := newEngineFixture(t)
	ctx := context.Background()
	base := f.clock.Now()

	local := doc("d1", "mine")
	local.LocalTimestamp = base.Add(20 * time.Minute)
	local.CloudTimestamp = base.Add(5 * time.Minute)
	local.LastSyncedAt = base.Add(5 * time.Minute)
	f.store.SaveDocument(local)

	remote := doc("d1", "theirs")
	seedRemote(t, f, remote, base.Add(10*time.Minute))

	if err := f.engine.SyncDocument(ctx, local); !errors.Is(err, dsync.ErrConflictPending) {
		t.Fatalf("expected pending conflict, got %v", err)
	}

	if err := f.engine.ResolveConflict(ctx, "d1", model.ResolveCloud); err != nil {
		t.Fatalf("ResolveConflict() error = %v", err)
	}

	got := mustGet(t, f.store, "d1")
	if !dsync.HashEqual(got.ContentHash, remote.ContentHash) {
		t.Error("cloud copy was not applied locally")
	}
	if got.ConflictState != model.ConflictNone {
		t.Errorf("ConflictState = %s, want none", got.ConflictState)
	}
	if record, _ := f.store.GetConflict("d1"); record != nil {
		t.Error("conflict record not destroyed")
	}
}

func TestResolveConflict_NoOpenConflict(t *testing.T) {
	t.Parallel()
	f := newEngineFixture(t)

	if err := f.engine.ResolveConflict(context.Background(), "missing", model.ResolveLocal); err == nil {
		t.Error("ResolveConflict() on absent record succeeded, want error")
	}
}

func TestHandleRemotePush_NewDocumentApplies(t *testing.T) {
	t.Parallel()
	f := newEngineFixture(t)
	ctx := context.Background()

	var notified []string
	f.engine.OnDocumentUpdated(func(id string, _ json.RawMessage) {
		notified = append(notified, id)
	})

	if err := f.engine.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	remote := doc("d1", "pushed")
	seedRemote(t, f, remote, f.clock.Now())

	got := mustGet(t, f.store, "d1")
	if !dsync.HashEqual(got.ContentHash, remote.ContentHash) {
		t.Error("pushed document not applied")
	}
	if got.OriginDeviceID != remoteDevice {
		t.Errorf("OriginDeviceID = %s, want %s", got.OriginDeviceID, remoteDevice)
	}
	if len(notified) != 1 || notified[0] != "d1" {
		t.Errorf("consumers notified with %v, want [d1]", notified)
	}
}

func TestHandleRemotePush_ConflictDoesNotApply(t *testing.T) {
	t.Parallel()
	f := newEngineFixture(t)
	ctx := context.Background()
	base := f.clock.Now()

	if err := f.engine.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	// Local copy has unsynced edits.
	local := doc("d1", "mine")
	local.LocalTimestamp = base.Add(20 * time.Minute)
	local.CloudTimestamp = base.Add(5 * time.Minute)
	local.LastSyncedAt = base.Add(5 * time.Minute)
	f.store.SaveDocument(local)

	remote := doc("d1", "theirs")
	seedRemote(t, f, remote, base.Add(30*time.Minute))

	got := mustGet(t, f.store, "d1")
	if !dsync.HashEqual(got.ContentHash, local.ContentHash) {
		t.Error("push overwrote dirty local copy")
	}
	if got.ConflictState != model.ConflictOpen {
		t.Errorf("ConflictState = %s, want conflict", got.ConflictState)
	}
	if record, _ := f.store.GetConflict("d1"); record == nil {
		t.Error("push conflict not recorded")
	}
}

func TestSyncAll_Convergence(t *testing.T) {
	t.Parallel()
	f := newEngineFixture(t)
	ctx := context.Background()

	if err := f.cloud.Authenticate(ctx); err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}

	localOnly := doc("local-only", "a")
	localOnly.LocalTimestamp = f.clock.Now()
	f.store.SaveDocument(localOnly)

	remoteOnly := doc("remote-only", "b")
	seedRemote(t, f, remoteOnly, f.clock.Now())

	f.clock.Advance(time.Minute)
	if err := f.engine.SyncAll(ctx); err != nil {
		t.Fatalf("SyncAll() error = %v", err)
	}

	if f.cloud.Len() != 2 {
		t.Errorf("cloud has %d documents after sweep, want 2", f.cloud.Len())
	}
	mustGet(t, f.store, "remote-only")

	status, err := f.engine.GetSyncStatus()
	if err != nil {
		t.Fatalf("GetSyncStatus() error = %v", err)
	}
	if status.Status != dsync.StatusSynced {
		t.Errorf("status = %s, want synced", status.Status)
	}
	if status.LastSyncAt.IsZero() {
		t.Error("LastSyncAt not recorded")
	}
}

func TestSyncAll_ConflictIsNonFatal(t *testing.T) {
	t.Parallel()
	f := newEngineFixture(t)
	ctx := context.Background()
	base := f.clock.Now()

	f.cloud.Authenticate(ctx)

	local := doc("d1", "mine")
	local.LocalTimestamp = base.Add(20 * time.Minute)
	local.CloudTimestamp = base.Add(5 * time.Minute)
	local.LastSyncedAt = base.Add(5 * time.Minute)
	f.store.SaveDocument(local)
	seedRemote(t, f, doc("d1", "theirs"), base.Add(10*time.Minute))

	if err := f.engine.SyncAll(ctx); err != nil {
		t.Fatalf("SyncAll() error = %v, conflicts must not fail the sweep", err)
	}

	status, _ := f.engine.GetSyncStatus()
	if status.Status != dsync.StatusSynced {
		t.Errorf("status = %s, want synced", status.Status)
	}
	if record, _ := f.store.GetConflict("d1"); record == nil {
		t.Error("sweep did not record the conflict")
	}
}

func TestProcessQueue_RequiresAuthentication(t *testing.T) {
	t.Parallel()
	f := newEngineFixture(t)

	err := f.engine.ProcessQueue(context.Background())
	if err == nil {
		t.Fatal("ProcessQueue() without a session succeeded, want error")
	}
	if dsync.IsTransient(err) {
		t.Error("missing session classified as transient")
	}
}

func TestProcessQueue_BoundedRetries(t *testing.T) {
	t.Parallel()
	f := newEngineFixture(t)
	ctx := context.Background()
	f.cloud.Authenticate(ctx)

	d := doc("d1", "flaky")
	d.LocalTimestamp = f.clock.Now()
	f.store.SaveDocument(d)
	if err := f.engine.QueueSync("d1", model.OpUpload); err != nil {
		t.Fatalf("QueueSync() error = %v", err)
	}

	f.cloud.SetUploadError(dsync.TransientRemote("upload", errors.New("network down")))

	// Default budget is 3 attempts. The first two leave the item queued
	// with a bumped retry counter; the third drops it.
	for attempt := 1; attempt <= 2; attempt++ {
		if err := f.engine.ProcessQueue(ctx); err == nil {
			t.Fatalf("attempt %d succeeded, want transient failure", attempt)
		}
		items, _ := f.store.ListQueue()
		if len(items) != 1 {
			t.Fatalf("attempt %d: queue length = %d, want 1", attempt, len(items))
		}
		if items[0].RetryCount != attempt {
			t.Errorf("attempt %d: RetryCount = %d, want %d", attempt, items[0].RetryCount, attempt)
		}
	}

	if err := f.engine.ProcessQueue(ctx); err == nil {
		t.Fatal("final attempt succeeded, want failure")
	}
	items, _ := f.store.ListQueue()
	if len(items) != 0 {
		t.Fatalf("queue length after exhausting retries = %d, want 0", len(items))
	}
	if got := mustGet(t, f.store, "d1"); got.LastError == "" {
		t.Error("final error not retained on the document")
	}

	// The document itself survives and can sync once the fault clears.
	f.cloud.SetUploadError(nil)
	if err := f.engine.SyncDocument(ctx, mustGet(t, f.store, "d1")); err != nil {
		t.Fatalf("SyncDocument() after fault cleared error = %v", err)
	}
	if got := mustGet(t, f.store, "d1"); got.LastError != "" {
		t.Errorf("LastError = %q after successful sync, want cleared", got.LastError)
	}
}

func TestProcessQueue_PermanentErrorDropsImmediately(t *testing.T) {
	t.Parallel()
	f := newEngineFixture(t)
	ctx := context.Background()
	f.cloud.Authenticate(ctx)

	d := doc("d1", "rejected")
	d.LocalTimestamp = f.clock.Now()
	f.store.SaveDocument(d)
	f.engine.QueueSync("d1", model.OpUpload)

	f.cloud.SetUploadError(dsync.PermanentRemote("upload", errors.New("payload rejected")))

	if err := f.engine.ProcessQueue(ctx); err == nil {
		t.Fatal("ProcessQueue() succeeded, want permanent failure")
	}
	items, _ := f.store.ListQueue()
	if len(items) != 0 {
		t.Errorf("permanent failure left item queued, queue length = %d", len(items))
	}
}

func TestProcessQueue_DeleteNeedsNoLocalDocument(t *testing.T) {
	t.Parallel()
	f := newEngineFixture(t)
	ctx := context.Background()
	f.cloud.Authenticate(ctx)

	seedRemote(t, f, doc("gone", "x"), f.clock.Now())
	if err := f.engine.QueueSync("gone", model.OpDelete); err != nil {
		t.Fatalf("QueueSync() error = %v", err)
	}

	if err := f.engine.ProcessQueue(ctx); err != nil {
		t.Fatalf("ProcessQueue() error = %v", err)
	}
	if remote, _ := f.cloud.Download(ctx, "gone"); remote != nil {
		t.Error("queued delete did not remove the remote copy")
	}
}

func TestProcessQueue_DropsUploadForConflictedDocument(t *testing.T) {
	t.Parallel()
	f := newEngineFixture(t)
	ctx := context.Background()
	f.cloud.Authenticate(ctx)

	d := doc("d1", "frozen")
	d.LocalTimestamp = f.clock.Now()
	d.ConflictState = model.ConflictOpen
	f.store.SaveDocument(d)
	f.engine.QueueSync("d1", model.OpUpload)

	if err := f.engine.ProcessQueue(ctx); err != nil {
		t.Fatalf("ProcessQueue() error = %v", err)
	}
	if f.cloud.Len() != 0 {
		t.Error("conflicted document was uploaded from the queue")
	}
	items, _ := f.store.ListQueue()
	if len(items) != 0 {
		t.Error("dropped item still queued")
	}
}

func TestStart_EnqueuesAndDrainsUnsynced(t *testing.T) {
	t.Parallel()
	f := newEngineFixture(t)
	ctx := context.Background()
	base := f.clock.Now()

	never := doc("never-synced", "fresh")
	never.LocalTimestamp = base
	f.store.SaveDocument(never)

	already := doc("already-synced", "done")
	already.LocalTimestamp = base
	already.CloudTimestamp = base
	already.LastSyncedAt = base
	f.store.SaveDocument(already)

	if err := f.engine.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	if f.cloud.Len() != 1 {
		t.Errorf("cloud has %d documents after start, want only the never-synced one", f.cloud.Len())
	}
	if remote, _ := f.cloud.Download(ctx, "never-synced"); remote == nil {
		t.Error("never-synced document was not published on start")
	}
}

func TestDeleteDocument(t *testing.T) {
	t.Parallel()
	f := newEngineFixture(t)
	ctx := context.Background()

	if err := f.engine.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	d := doc("d1", "temp")
	d.LocalTimestamp = f.clock.Now()
	f.store.SaveDocument(d)
	if err := f.engine.SyncDocument(ctx, d); err != nil {
		t.Fatalf("SyncDocument() error = %v", err)
	}

	if err := f.engine.DeleteDocument(ctx, "d1"); err != nil {
		t.Fatalf("DeleteDocument() error = %v", err)
	}

	if got, _ := f.store.GetDocument("d1"); got != nil {
		t.Error("document still present locally")
	}
	if remote, _ := f.cloud.Download(ctx, "d1"); remote != nil {
		t.Error("document still present remotely")
	}
	items, _ := f.store.ListQueue()
	if len(items) != 0 {
		t.Errorf("queue length after delete = %d, want 0", len(items))
	}
}

func TestUpdateSettings_Persists(t *testing.T) {
	t.Parallel()
	f := newEngineFixture(t)

	s := f.engine.Settings()
	s.MaxRetries = 7
	s.ConflictResolution = model.ResolveLatest
	if err := f.engine.UpdateSettings(s); err != nil {
		t.Fatalf("UpdateSettings() error = %v", err)
	}

	loaded, err := dsync.LoadSettings(f.store)
	if err != nil {
		t.Fatalf("LoadSettings() error = %v", err)
	}
	if loaded.MaxRetries != 7 {
		t.Errorf("MaxRetries = %d, want 7", loaded.MaxRetries)
	}
	if loaded.ConflictResolution != model.ResolveLatest {
		t.Errorf("ConflictResolution = %s, want latest", loaded.ConflictResolution)
	}
}

func TestStop_HaltsPushApplication(t *testing.T) {
	t.Parallel()
	f := newEngineFixture(t)
	ctx := context.Background()

	if err := f.engine.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	f.engine.Stop()

	seedRemote(t, f, doc("d1", "late"), f.clock.Now())

	if got, _ := f.store.GetDocument("d1"); got != nil {
		t.Error("push applied after Stop")
	}
}
