package dsync

import (
	"fmt"
	"strconv"
	"time"

	"dsync-go/internal/model"
)

// Settings keys in the local store's settings table.
const (
	settingAutoSync           = "auto_sync"
	settingSyncIntervalMs     = "sync_interval_ms"
	settingConflictResolution = "conflict_resolution"
	settingMaxRetries         = "max_retries"
	settingRetryDelayMs       = "retry_delay_ms"
)

// LoadSettings reads sync settings from the store, falling back to defaults
// for any key that has never been persisted.
func LoadSettings(store LocalStore) (model.SyncSettings, error) {
	def := model.DefaultSyncSettings()
	s := def

	autoSync, err := getBoolSetting(store, settingAutoSync, def.AutoSync)
	if err != nil {
		return def, err
	}
	s.AutoSync = autoSync

	intervalMs, err := getIntSetting(store, settingSyncIntervalMs, int(def.SyncInterval/time.Millisecond))
	if err != nil {
		return def, err
	}
	s.SyncInterval = time.Duration(intervalMs) * time.Millisecond

	strategy, err := store.GetSetting(settingConflictResolution, string(def.ConflictResolution))
	if err != nil {
		return def, &StorageFault{Op: "loading settings", Err: err}
	}
	s.ConflictResolution = model.ResolutionStrategy(strategy)

	maxRetries, err := getIntSetting(store, settingMaxRetries, def.MaxRetries)
	if err != nil {
		return def, err
	}
	s.MaxRetries = maxRetries

	retryDelayMs, err := getIntSetting(store, settingRetryDelayMs, int(def.RetryDelay/time.Millisecond))
	if err != nil {
		return def, err
	}
	s.RetryDelay = time.Duration(retryDelayMs) * time.Millisecond

	return s, nil
}

// SaveSettings persists sync settings to the store.
func SaveSettings(store LocalStore, s model.SyncSettings) error {
	pairs := []struct{ key, value string }{
		{settingAutoSync, strconv.FormatBool(s.AutoSync)},
		{settingSyncIntervalMs, strconv.Itoa(int(s.SyncInterval / time.Millisecond))},
		{settingConflictResolution, string(s.ConflictResolution)},
		{settingMaxRetries, strconv.Itoa(s.MaxRetries)},
		{settingRetryDelayMs, strconv.Itoa(int(s.RetryDelay / time.Millisecond))},
	}
	for _, p := range pairs {
		if err := store.SetSetting(p.key, p.value); err != nil {
			return &StorageFault{Op: "saving settings", Err: err}
		}
	}
	return nil
}

func getBoolSetting(store LocalStore, key string, def bool) (bool, error) {
	raw, err := store.GetSetting(key, strconv.FormatBool(def))
	if err != nil {
		return def, &StorageFault{Op: "loading settings", Err: err}
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return def, fmt.Errorf("setting %s: %w", key, err)
	}
	return v, nil
}

func getIntSetting(store LocalStore, key string, def int) (int, error) {
	raw, err := store.GetSetting(key, strconv.Itoa(def))
	if err != nil {
		return def, &StorageFault{Op: "loading settings", Err: err}
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def, fmt.Errorf("setting %s: %w", key, err)
	}
	return v, nil
}
