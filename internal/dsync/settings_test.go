package dsync_test

import (
	"testing"
	"time"

	"dsync-go/internal/dsync"
	"dsync-go/internal/model"
	"dsync-go/internal/testutil"
)

func TestLoadSettings_DefaultsWhenEmpty(t *testing.T) {
	t.Parallel()
	store := testutil.NewTestStore(t)

	got, err := dsync.LoadSettings(store)
	if err != nil {
		t.Fatalf("LoadSettings() error = %v", err)
	}
	want := model.DefaultSyncSettings()
	if got != want {
		t.Errorf("LoadSettings() = %+v, want defaults %+v", got, want)
	}
}

func TestSettings_RoundTrip(t *testing.T) {
	t.Parallel()
	store := testutil.NewTestStore(t)

	want := model.SyncSettings{
		AutoSync:           false,
		SyncInterval:       90 * time.Second,
		ConflictResolution: model.ResolveLatest,
		MaxRetries:         5,
		RetryDelay:         250 * time.Millisecond,
	}
	if err := dsync.SaveSettings(store, want); err != nil {
		t.Fatalf("SaveSettings() error = %v", err)
	}

	got, err := dsync.LoadSettings(store)
	if err != nil {
		t.Fatalf("LoadSettings() error = %v", err)
	}
	if got != want {
		t.Errorf("LoadSettings() = %+v, want %+v", got, want)
	}
}

func TestSaveSettings_Overwrites(t *testing.T) {
	t.Parallel()
	store := testutil.NewTestStore(t)

	first := model.DefaultSyncSettings()
	first.MaxRetries = 2
	if err := dsync.SaveSettings(store, first); err != nil {
		t.Fatalf("SaveSettings() error = %v", err)
	}

	second := first
	second.MaxRetries = 9
	if err := dsync.SaveSettings(store, second); err != nil {
		t.Fatalf("SaveSettings() error = %v", err)
	}

	got, err := dsync.LoadSettings(store)
	if err != nil {
		t.Fatalf("LoadSettings() error = %v", err)
	}
	if got.MaxRetries != 9 {
		t.Errorf("MaxRetries = %d, want 9", got.MaxRetries)
	}
}
