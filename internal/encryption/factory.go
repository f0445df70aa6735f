package encryption

import (
	"fmt"

	"glassy-go/internal/config"
	"glassy-go/internal/glassy"
)

// NewSealerFromConfig creates a Sealer based on the configuration type.
// Type "none" returns a nil Sealer: chunks are stored as received.
func NewSealerFromConfig(cfg config.EncryptionConfig) (glassy.Sealer, error) {
	switch cfg.Type {
	case "none", "":
		return nil, nil
	case "age":
		if cfg.IdentityPath == "" {
			return nil, fmt.Errorf("age sealing requires identity_path")
		}
		return NewAgeSealer(cfg.IdentityPath), nil
	case "test":
		return NewTestSealer(), nil
	default:
		return nil, fmt.Errorf("unknown encryption type: %q", cfg.Type)
	}
}
