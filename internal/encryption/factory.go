package encryption

import (
	"fmt"

	"dsync-go/internal/config"
	"dsync-go/internal/dsync"
)

// NewCipherFromConfig creates a PayloadCipher based on the configuration type.
// Type "none" (the default) returns nil: payloads travel as-is.
func NewCipherFromConfig(cfg config.EncryptionConfig) (dsync.PayloadCipher, error) {
	switch cfg.Type {
	case "none", "":
		return nil, nil
	case "age":
		if cfg.PublicKeyPath == "" || cfg.PrivateKeyPath == "" {
			return nil, fmt.Errorf("age encryption requires public_key_path and private_key_path")
		}
		return NewAgeCipher(cfg), nil
	case "test":
		return NewTestCipher(), nil
	default:
		return nil, fmt.Errorf("unknown encryption type: %q", cfg.Type)
	}
}
