package cloud

import (
	"context"
	"fmt"
	"os"
	"strings"

	"dsync-go/internal/config"
	"dsync-go/internal/dsync"
)

// NewCloudFromConfig creates a CloudStore implementation based on the cloud config type.
func NewCloudFromConfig(ctx context.Context, cfg config.CloudConfig, deviceID string, cipher dsync.PayloadCipher, logger dsync.Logger) (dsync.CloudStore, error) {
	switch cfg.Type {
	case "memory":
		return NewMemoryCloud("memory", deviceID, cipher), nil
	case "s3":
		if cfg.S3Bucket == "" || cfg.S3Region == "" {
			return nil, fmt.Errorf("s3 cloud requires s3_bucket and s3_region")
		}
		return NewS3Cloud(ctx, cfg, cipher, logger)
	case "relay":
		if cfg.RelayURL == "" {
			return nil, fmt.Errorf("relay cloud requires relay_url")
		}
		key, err := readDeviceKey(cfg.RelayKeyPath)
		if err != nil {
			return nil, err
		}
		return NewHTTPCloud(strings.TrimSuffix(cfg.RelayURL, "/"), deviceID, key, cipher, logger), nil
	default:
		return nil, fmt.Errorf("unknown cloud type: %s", cfg.Type)
	}
}

// readDeviceKey loads the relay device key from its file, trimming trailing
// whitespace.
func readDeviceKey(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("relay cloud requires relay_key_path")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading device key: %w", err)
	}
	key := strings.TrimSpace(string(data))
	if key == "" {
		return "", fmt.Errorf("device key file %s is empty", path)
	}
	return key, nil
}
