package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config represents the main configuration for glassy.
type Config struct {
	ClientID    string           `toml:"client_id"`
	BaseDir     string           `toml:"base_dir"`
	LogDir      string           `toml:"log_dir"`
	SnapshotDir string           `toml:"snapshot_dir"`
	Database    DatabaseConfig   `toml:"database"`
	Cache       CacheConfig      `toml:"cache"`
	Transfer    TransferConfig   `toml:"transfer"`
	Filesystem  FilesystemConfig `toml:"filesystem"`
}

// DatabaseConfig represents configuration for the local state database.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type DatabaseConfig struct {
	Type    string `toml:"type"`               // "sqlite" or "memory"
	DataDir string `toml:"data_dir,omitempty"` // only used for type=sqlite
}

// CacheConfig locates the content cache.
type CacheConfig struct {
	Dir        string           `toml:"dir"`
	Encryption EncryptionConfig `toml:"encryption"`
}

// EncryptionConfig selects how cached chunks are sealed at rest.
type EncryptionConfig struct {
	Type         string `toml:"type"`                    // "none" (default), "age" or "test"
	IdentityPath string `toml:"identity_path,omitempty"` // only used for type=age
}

// TransferConfig bounds the download pools.
type TransferConfig struct {
	ManifestConcurrency int `toml:"manifest_concurrency"`
	ChunkConcurrency    int `toml:"chunk_concurrency"`
}

// FilesystemConfig holds filesystem-related settings.
type FilesystemConfig struct {
	Ignore []string `toml:"ignore"`
}

// NewConfig creates a new Config rooted at baseDir with default locations.
func NewConfig(clientID, baseDir string) *Config {
	return &Config{
		ClientID:    clientID,
		BaseDir:     baseDir,
		LogDir:      filepath.Join(baseDir, "log"),
		SnapshotDir: filepath.Join(baseDir, "snapshots"),
		Database: DatabaseConfig{
			Type:    "sqlite",
			DataDir: filepath.Join(baseDir, "db"),
		},
		Cache: CacheConfig{
			Dir: filepath.Join(baseDir, "cache"),
			Encryption: EncryptionConfig{
				Type:         "none",
				IdentityPath: filepath.Join(baseDir, "keys", "cache.key"),
			},
		},
		Transfer: TransferConfig{
			ManifestConcurrency: 2,
			ChunkConcurrency:    4,
		},
		Filesystem: FilesystemConfig{
			Ignore: []string{".DS_Store", "Thumbs.db"},
		},
	}
}

// Validate reports the first setting that cannot be used.
func (c *Config) Validate() error {
	if c.ClientID == "" {
		return fmt.Errorf("client_id is required")
	}
	switch c.Database.Type {
	case "sqlite":
		if c.Database.DataDir == "" {
			return fmt.Errorf("database.data_dir is required for sqlite")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown database type: %q", c.Database.Type)
	}
	if c.Cache.Dir == "" {
		return fmt.Errorf("cache.dir is required")
	}
	switch c.Cache.Encryption.Type {
	case "", "none", "test":
	case "age":
		if c.Cache.Encryption.IdentityPath == "" {
			return fmt.Errorf("cache.encryption.identity_path is required for age")
		}
	default:
		return fmt.Errorf("unknown cache encryption type: %q", c.Cache.Encryption.Type)
	}
	if c.Transfer.ManifestConcurrency < 0 || c.Transfer.ChunkConcurrency < 0 {
		return fmt.Errorf("transfer concurrency must not be negative")
	}
	return nil
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

// ReadFromFile reads and validates a Config from the specified file path.
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
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

func writeToFile(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
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

// Init writes a new config file. An existing file is never overwritten.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
