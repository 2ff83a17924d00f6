package dsync_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"dsync-go/internal/dsync"
	"dsync-go/internal/model"
	"dsync-go/internal/testutil"
)

type ingestFixture struct {
	*engineFixture
	ingestor *dsync.Ingestor
}

func newIngestFixture(t *testing.T) *ingestFixture {
	t.Helper()

	ef := newEngineFixture(t)
	ing, err := dsync.NewIngestor(ef.engine, ef.store, ef.clock, testutil.NewStubIDGenerator(), dsync.NewNopLogger())
	if err != nil {
		t.Fatalf("NewIngestor() error = %v", err)
	}
	return &ingestFixture{engineFixture: ef, ingestor: ing}
}

func TestIngest_RejectsInvalidPayloads(t *testing.T) {
	t.Parallel()
	f := newIngestFixture(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		payload json.RawMessage
	}{
		{"empty payload", nil},
		{"truncated json", json.RawMessage(`{"title":`)},
		{"bare garbage", json.RawMessage(`not json at all`)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.ingestor.DocumentChanged(ctx, "d1", "notes", tt.payload, "test")
			var verr *dsync.ValidationError
			if !errors.As(err, &verr) {
				t.Errorf("DocumentChanged() error = %v, want ValidationError", err)
			}
			if got, _ := f.store.GetDocument("d1"); got != nil {
				t.Error("rejected payload reached the store")
			}
		})
	}
}

func TestIngest_AssignsIDWhenAbsent(t *testing.T) {
	t.Parallel()
	f := newIngestFixture(t)

	id, err := f.ingestor.DocumentChanged(context.Background(), "", "notes", json.RawMessage(`{"a":1}`), "test")
	if err != nil {
		t.Fatalf("DocumentChanged() error = %v", err)
	}
	if id == "" {
		t.Fatal("no document ID assigned")
	}
	mustGet(t, f.store, id)
}

func TestIngest_QueuesWhenEngineStopped(t *testing.T) {
	t.Parallel()
	f := newIngestFixture(t)

	id, err := f.ingestor.DocumentChanged(context.Background(), "d1", "notes", json.RawMessage(`{"a":1}`), "test")
	if err != nil {
		t.Fatalf("DocumentChanged() error = %v", err)
	}

	items, err := f.store.ListQueue()
	if err != nil {
		t.Fatalf("ListQueue() error = %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("queue length = %d, want 1", len(items))
	}
	if items[0].DocumentID != id || items[0].Operation != model.OpUpload {
		t.Errorf("queued (%s, %s), want (%s, upload)", items[0].DocumentID, items[0].Operation, id)
	}
	if f.cloud.Len() != 0 {
		t.Error("stopped engine still reached the cloud")
	}
}

func TestIngest_SyncsImmediatelyWhenRunning(t *testing.T) {
	t.Parallel()
	f := newIngestFixture(t)
	ctx := context.Background()

	if err := f.engine.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	id, err := f.ingestor.DocumentChanged(ctx, "d1", "notes", json.RawMessage(`{"a":1}`), "test")
	if err != nil {
		t.Fatalf("DocumentChanged() error = %v", err)
	}

	if f.cloud.Len() != 1 {
		t.Fatalf("cloud has %d documents, want 1", f.cloud.Len())
	}
	got := mustGet(t, f.store, id)
	if got.LastSyncedAt.IsZero() {
		t.Error("ingested document not stamped as synced")
	}
}

func TestIngest_DeduplicatesIdenticalContent(t *testing.T) {
	t.Parallel()
	f := newIngestFixture(t)
	ctx := context.Background()
	payload := json.RawMessage(`{"a":1}`)

	if _, err := f.ingestor.DocumentChanged(ctx, "d1", "notes", payload, "test"); err != nil {
		t.Fatalf("first ingest error = %v", err)
	}
	first := mustGet(t, f.store, "d1")

	f.clock.Advance(time.Hour)
	if _, err := f.ingestor.DocumentChanged(ctx, "d1", "notes", payload, "test"); err != nil {
		t.Fatalf("second ingest error = %v", err)
	}
	second := mustGet(t, f.store, "d1")

	if !second.LocalTimestamp.Equal(first.LocalTimestamp) {
		t.Errorf("duplicate content advanced LocalTimestamp: %v -> %v", first.LocalTimestamp, second.LocalTimestamp)
	}
	items, _ := f.store.ListQueue()
	if len(items) != 1 {
		t.Errorf("queue length = %d, want 1 (no second upload)", len(items))
	}
}

func TestIngest_NewContentUpdatesExisting(t *testing.T) {
	t.Parallel()
	f := newIngestFixture(t)
	ctx := context.Background()

	if _, err := f.ingestor.DocumentChanged(ctx, "d1", "notes", json.RawMessage(`{"a":1}`), "test"); err != nil {
		t.Fatalf("first ingest error = %v", err)
	}
	first := mustGet(t, f.store, "d1")

	f.clock.Advance(time.Hour)
	updated := json.RawMessage(`{"a":2}`)
	if _, err := f.ingestor.DocumentChanged(ctx, "d1", "notes", updated, "test"); err != nil {
		t.Fatalf("second ingest error = %v", err)
	}
	second := mustGet(t, f.store, "d1")

	if !dsync.HashEqual(second.ContentHash, dsync.HashPayload(updated)) {
		t.Error("new content not stored")
	}
	if !second.LocalTimestamp.After(first.LocalTimestamp) {
		t.Errorf("LocalTimestamp did not advance: %v -> %v", first.LocalTimestamp, second.LocalTimestamp)
	}
}
