package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the main configuration for dsync.
type Config struct {
	DeviceID   string           `toml:"device_id"`
	BaseDir    string           `toml:"base_dir"`
	LogDir     string           `toml:"log_dir"`
	Cloud      CloudConfig      `toml:"cloud"`
	Store      StoreConfig      `toml:"store"`
	Sync       SyncConfig       `toml:"sync"`
	Encryption EncryptionConfig `toml:"encryption"`
	Watch      WatchConfig      `toml:"watch"`
}

// CloudConfig represents configuration for the cloud backend.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type CloudConfig struct {
	Type string `toml:"type"` // "memory", "s3", or "relay"

	// S3-specific fields (only used when Type == "s3")
	S3Bucket    string `toml:"s3_bucket,omitempty"`
	S3Prefix    string `toml:"s3_prefix,omitempty"`
	S3Region    string `toml:"s3_region,omitempty"`
	S3Endpoint  string `toml:"s3_endpoint,omitempty"`   // for S3-compatible stores
	S3AccessKey string `toml:"s3_access_key,omitempty"` // static credentials; empty falls back to the default chain
	S3SecretKey string `toml:"s3_secret_key,omitempty"`

	// Relay-specific fields (only used when Type == "relay")
	RelayURL     string `toml:"relay_url,omitempty"`
	RelayKeyPath string `toml:"relay_key_path,omitempty"` // file holding the device key
}

// StoreConfig represents configuration for the local metadata store.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type StoreConfig struct {
	Type    string `toml:"type"`               // "sqlite" or "memory"
	DataDir string `toml:"data_dir,omitempty"` // only used for type=sqlite
}

// SyncConfig holds the initial sync behavior. These values seed the store's
// settings table on first run; afterwards the persisted settings win.
type SyncConfig struct {
	AutoSync           bool   `toml:"auto_sync"`
	SyncIntervalMS     int64  `toml:"sync_interval_ms"`
	ConflictResolution string `toml:"conflict_resolution"` // "manual", "latest", "local", or "cloud"
	MaxRetries         int    `toml:"max_retries"`
	RetryDelayMS       int64  `toml:"retry_delay_ms"`
}

// EncryptionConfig holds paths to the age key pair used to encrypt payloads
// before they leave the device.
type EncryptionConfig struct {
	Type           string `toml:"type"` // "age", "none" (default), or "test"
	PublicKeyPath  string `toml:"public_key_path,omitempty"`
	PrivateKeyPath string `toml:"private_key_path,omitempty"`
}

// WatchConfig holds settings for the document directory watcher.
type WatchConfig struct {
	Dir    string   `toml:"dir,omitempty"`
	Ignore []string `toml:"ignore"`
}

// NewConfig creates a new Config with the provided values and sensible defaults.
func NewConfig(deviceID, baseDir string) *Config {
	return &Config{
		DeviceID: deviceID,
		BaseDir:  baseDir,
		LogDir:   filepath.Join(baseDir, "log"),
		Store: StoreConfig{
			Type:    "sqlite",
			DataDir: filepath.Join(baseDir, "data"),
		},
		Cloud: CloudConfig{Type: "memory"},
		Sync: SyncConfig{
			AutoSync:           true,
			SyncIntervalMS:     (30 * time.Second).Milliseconds(),
			ConflictResolution: "manual",
			MaxRetries:         3,
			RetryDelayMS:       (5 * time.Second).Milliseconds(),
		},
		Encryption: EncryptionConfig{Type: "none"},
		Watch: WatchConfig{
			Dir: filepath.Join(baseDir, "documents"),
		},
	}
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads a Config from the specified file path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

// writeToFile writes a Config to the specified file path.
// This is an internal helper and should not be exported.
func writeToFile(path string, cfg *Config) error {
	// Ensure the directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init initializes a new config file at the specified path with the provided Config.
func Init(path string, cfg *Config) error {
	// Check if config already exists
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
