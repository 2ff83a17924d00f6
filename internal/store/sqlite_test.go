package store

import (
	"encoding/json"
	"testing"
	"time"

	"dsync-go/internal/dsync"
	"dsync-go/internal/model"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	db, err := OpenConnection(":memory:")
	if err != nil {
		t.Fatalf("opening in-memory database: %v", err)
	}
	if _, err := db.Exec(Schema); err != nil {
		t.Fatalf("applying schema: %v", err)
	}
	s := NewSQLiteStoreFromDB(db)
	t.Cleanup(func() { s.Close() })
	return s
}

var testTime = time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)

func testDocument(id string) *model.Document {
	payload := json.RawMessage(`{"title":"` + id + `"}`)
	return &model.Document{
		ID:             id,
		Name:           id + ".json",
		Payload:        payload,
		ContentHash:    "hash-" + id,
		LocalTimestamp: testTime,
		OriginDeviceID: "device-a",
		ConflictState:  model.ConflictNone,
		SizeBytes:      int64(len(payload)),
	}
}

func TestDocumentRoundTrip(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	doc := testDocument("d1")
	doc.CloudTimestamp = testTime.Add(time.Minute)
	doc.LastSyncedAt = testTime.Add(2 * time.Minute)
	doc.LastError = "previous failure"

	if err := s.SaveDocument(doc); err != nil {
		t.Fatalf("SaveDocument() error = %v", err)
	}

	got, err := s.GetDocument("d1")
	if err != nil {
		t.Fatalf("GetDocument() error = %v", err)
	}
	if got == nil {
		t.Fatal("GetDocument() = nil")
	}
	if got.Name != doc.Name || got.ContentHash != doc.ContentHash ||
		got.OriginDeviceID != doc.OriginDeviceID || got.LastError != doc.LastError {
		t.Errorf("round trip mismatch: got %+v, want %+v", got, doc)
	}
	if string(got.Payload) != string(doc.Payload) {
		t.Errorf("payload = %s, want %s", got.Payload, doc.Payload)
	}
	if !got.LocalTimestamp.Equal(doc.LocalTimestamp) ||
		!got.CloudTimestamp.Equal(doc.CloudTimestamp) ||
		!got.LastSyncedAt.Equal(doc.LastSyncedAt) {
		t.Error("timestamps did not round trip")
	}
}

func TestGetDocument_AbsentIsNilNil(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	got, err := s.GetDocument("missing")
	if err != nil {
		t.Fatalf("GetDocument() error = %v", err)
	}
	if got != nil {
		t.Errorf("GetDocument(missing) = %+v, want nil", got)
	}
}

func TestSaveDocument_Upserts(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	doc := testDocument("d1")
	s.SaveDocument(doc)

	doc.Name = "renamed.json"
	doc.ContentHash = "hash-v2"
	if err := s.SaveDocument(doc); err != nil {
		t.Fatalf("second SaveDocument() error = %v", err)
	}

	got, _ := s.GetDocument("d1")
	if got.Name != "renamed.json" || got.ContentHash != "hash-v2" {
		t.Errorf("upsert not applied: %+v", got)
	}
	docs, _ := s.ListDocuments()
	if len(docs) != 1 {
		t.Errorf("ListDocuments() length = %d, want 1", len(docs))
	}
}

func TestZeroTimesRoundTripAsZero(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	// Never-synced document: both sync timestamps zero.
	s.SaveDocument(testDocument("d1"))

	got, _ := s.GetDocument("d1")
	if !got.CloudTimestamp.IsZero() {
		t.Errorf("CloudTimestamp = %v, want zero", got.CloudTimestamp)
	}
	if !got.LastSyncedAt.IsZero() {
		t.Errorf("LastSyncedAt = %v, want zero", got.LastSyncedAt)
	}
}

func TestUpdateDocumentFields(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	s.SaveDocument(testDocument("d1"))

	t.Run("partial update touches only named fields", func(t *testing.T) {
		synced := testTime.Add(time.Hour)
		state := model.ConflictOpen
		err := s.UpdateDocumentFields("d1", dsync.DocumentUpdate{
			LastSyncedAt:  &synced,
			ConflictState: &state,
		})
		if err != nil {
			t.Fatalf("UpdateDocumentFields() error = %v", err)
		}

		got, _ := s.GetDocument("d1")
		if !got.LastSyncedAt.Equal(synced) {
			t.Errorf("LastSyncedAt = %v, want %v", got.LastSyncedAt, synced)
		}
		if got.ConflictState != model.ConflictOpen {
			t.Errorf("ConflictState = %s, want conflict", got.ConflictState)
		}
		if got.ContentHash != "hash-d1" {
			t.Error("untouched field was modified")
		}
	})

	t.Run("empty update is a no-op", func(t *testing.T) {
		if err := s.UpdateDocumentFields("d1", dsync.DocumentUpdate{}); err != nil {
			t.Errorf("empty update error = %v", err)
		}
	})

	t.Run("absent id is a silent no-op", func(t *testing.T) {
		v := true
		if err := s.UpdateDocumentFields("missing", dsync.DocumentUpdate{Syncing: &v}); err != nil {
			t.Errorf("absent id error = %v", err)
		}
	})
}

func TestListMetadata_OmitsPayload(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	s.SaveDocument(testDocument("d1"))
	s.SaveDocument(testDocument("d2"))

	metas, err := s.ListMetadata()
	if err != nil {
		t.Fatalf("ListMetadata() error = %v", err)
	}
	if len(metas) != 2 {
		t.Fatalf("ListMetadata() length = %d, want 2", len(metas))
	}
	for _, meta := range metas {
		if meta.ContentHash == "" || meta.Name == "" {
			t.Errorf("metadata incomplete: %+v", meta)
		}
	}
}

func TestDeleteDocument(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	s.SaveDocument(testDocument("d1"))

	if err := s.DeleteDocument("d1"); err != nil {
		t.Fatalf("DeleteDocument() error = %v", err)
	}
	if got, _ := s.GetDocument("d1"); got != nil {
		t.Error("document still present after delete")
	}

	// Deleting again is fine.
	if err := s.DeleteDocument("d1"); err != nil {
		t.Errorf("repeated DeleteDocument() error = %v", err)
	}
}

func queueItem(id, docID string, op model.SyncOperation, addedAt time.Time) *model.SyncQueueItem {
	return &model.SyncQueueItem{
		ID:         id,
		DocumentID: docID,
		Operation:  op,
		Priority:   model.PriorityFor(op),
		MaxRetries: 3,
		AddedAt:    addedAt,
	}
}

func TestQueueOrdering(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	// Two uploads in insertion order, then a delete that outranks both.
	s.Enqueue(queueItem("q1", "a", model.OpUpload, testTime))
	s.Enqueue(queueItem("q2", "b", model.OpUpload, testTime.Add(time.Second)))
	s.Enqueue(queueItem("q3", "c", model.OpDelete, testTime.Add(2*time.Second)))

	items, err := s.ListQueue()
	if err != nil {
		t.Fatalf("ListQueue() error = %v", err)
	}
	var got []string
	for _, item := range items {
		got = append(got, item.ID)
	}
	want := []string{"q3", "q1", "q2"}
	for i := range want {
		if i >= len(got) || got[i] != want[i] {
			t.Fatalf("queue order = %v, want %v", got, want)
		}
	}

	next, err := s.DequeueNext()
	if err != nil {
		t.Fatalf("DequeueNext() error = %v", err)
	}
	if next.ID != "q3" {
		t.Errorf("DequeueNext() = %s, want q3 (delete outranks uploads)", next.ID)
	}
}

func TestDequeueNext_EmptyQueue(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	next, err := s.DequeueNext()
	if err != nil {
		t.Fatalf("DequeueNext() error = %v", err)
	}
	if next != nil {
		t.Errorf("DequeueNext() on empty queue = %+v, want nil", next)
	}
}

func TestEnqueue_UpdatesRetryState(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	item := queueItem("q1", "a", model.OpUpload, testTime)
	s.Enqueue(item)

	item.RetryCount = 2
	item.LastError = "connection reset"
	if err := s.Enqueue(item); err != nil {
		t.Fatalf("re-Enqueue() error = %v", err)
	}

	items, _ := s.ListQueue()
	if len(items) != 1 {
		t.Fatalf("queue length = %d, want 1", len(items))
	}
	if items[0].RetryCount != 2 || items[0].LastError != "connection reset" {
		t.Errorf("retry state = (%d, %q), want (2, connection reset)", items[0].RetryCount, items[0].LastError)
	}
}

func TestRemoveQueueItem(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	s.Enqueue(queueItem("q1", "a", model.OpUpload, testTime))

	if err := s.RemoveQueueItem("q1"); err != nil {
		t.Fatalf("RemoveQueueItem() error = %v", err)
	}
	items, _ := s.ListQueue()
	if len(items) != 0 {
		t.Errorf("queue length = %d, want 0", len(items))
	}
}

func TestClearQueue(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	s.Enqueue(queueItem("q1", "a", model.OpUpload, testTime))
	s.Enqueue(queueItem("q2", "b", model.OpUpload, testTime))

	if err := s.ClearQueue(); err != nil {
		t.Fatalf("ClearQueue() error = %v", err)
	}
	items, _ := s.ListQueue()
	if len(items) != 0 {
		t.Errorf("queue length after clear = %d, want 0", len(items))
	}
}

func TestConflictRoundTrip(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	local := testDocument("d1")
	remote := testDocument("d1")
	remote.ContentHash = "hash-remote"
	remote.OriginDeviceID = "device-b"

	record := &model.ConflictRecord{
		DocumentID: "d1",
		Local:      *local,
		Remote:     *remote,
		DetectedAt: testTime,
	}
	if err := s.SaveConflict(record); err != nil {
		t.Fatalf("SaveConflict() error = %v", err)
	}

	got, err := s.GetConflict("d1")
	if err != nil {
		t.Fatalf("GetConflict() error = %v", err)
	}
	if got == nil {
		t.Fatal("GetConflict() = nil")
	}
	if got.Local.ContentHash != "hash-d1" || got.Remote.ContentHash != "hash-remote" {
		t.Errorf("snapshots = (%s, %s), want (hash-d1, hash-remote)", got.Local.ContentHash, got.Remote.ContentHash)
	}
	if got.Remote.OriginDeviceID != "device-b" {
		t.Errorf("remote origin = %s, want device-b", got.Remote.OriginDeviceID)
	}
	if !got.DetectedAt.Equal(testTime) {
		t.Errorf("DetectedAt = %v, want %v", got.DetectedAt, testTime)
	}
}

func TestGetConflict_AbsentIsNilNil(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	got, err := s.GetConflict("missing")
	if err != nil || got != nil {
		t.Errorf("GetConflict(missing) = (%+v, %v), want (nil, nil)", got, err)
	}
}

func TestSaveConflict_ReplacesExisting(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	record := &model.ConflictRecord{
		DocumentID: "d1",
		Local:      *testDocument("d1"),
		Remote:     *testDocument("d1"),
		DetectedAt: testTime,
	}
	s.SaveConflict(record)

	record.DetectedAt = testTime.Add(time.Hour)
	if err := s.SaveConflict(record); err != nil {
		t.Fatalf("second SaveConflict() error = %v", err)
	}

	records, _ := s.ListConflicts()
	if len(records) != 1 {
		t.Fatalf("ListConflicts() length = %d, want 1", len(records))
	}
	if !records[0].DetectedAt.Equal(testTime.Add(time.Hour)) {
		t.Error("conflict record not replaced")
	}
}

func TestResolveConflict(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	s.SaveConflict(&model.ConflictRecord{
		DocumentID: "d1",
		Local:      *testDocument("d1"),
		Remote:     *testDocument("d1"),
		DetectedAt: testTime,
	})

	if err := s.ResolveConflict("d1"); err != nil {
		t.Fatalf("ResolveConflict() error = %v", err)
	}
	if got, _ := s.GetConflict("d1"); got != nil {
		t.Error("conflict still present after resolve")
	}

	// Resolving an absent record is a no-op.
	if err := s.ResolveConflict("d1"); err != nil {
		t.Errorf("repeated ResolveConflict() error = %v", err)
	}
}

func TestSettings(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	got, err := s.GetSetting("auto_sync", "true")
	if err != nil {
		t.Fatalf("GetSetting() error = %v", err)
	}
	if got != "true" {
		t.Errorf("absent setting = %q, want default", got)
	}

	if err := s.SetSetting("auto_sync", "false"); err != nil {
		t.Fatalf("SetSetting() error = %v", err)
	}
	got, _ = s.GetSetting("auto_sync", "true")
	if got != "false" {
		t.Errorf("setting = %q, want false", got)
	}

	// Upsert.
	s.SetSetting("auto_sync", "true")
	got, _ = s.GetSetting("auto_sync", "false")
	if got != "true" {
		t.Errorf("setting after upsert = %q, want true", got)
	}
}

func TestMigrateUp(t *testing.T) {
	t.Parallel()

	store, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })

	if err := store.MigrateUp(); err != nil {
		t.Fatalf("MigrateUp() error = %v", err)
	}
	if err := store.CheckMigrations(); err != nil {
		t.Errorf("CheckMigrations() after MigrateUp error = %v", err)
	}

	// The migrated schema accepts a full document.
	if err := store.SaveDocument(testDocument("d1")); err != nil {
		t.Errorf("SaveDocument() on migrated schema error = %v", err)
	}
}
