package cache

import (
	"fmt"

	"glassy-go/internal/config"
	"glassy-go/internal/encryption"
	"glassy-go/internal/glassy"
)

// NewCacheFromConfig creates the content cache with the configured sealer.
func NewCacheFromConfig(cfg config.CacheConfig) (glassy.Cache, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("cache requires dir to be set")
	}
	sealer, err := encryption.NewSealerFromConfig(cfg.Encryption)
	if err != nil {
		return nil, fmt.Errorf("configuring cache sealing: %w", err)
	}
	return NewFileSystemCache(cfg.Dir, sealer)
}
