package glassy

import (
	"net/url"
	"path/filepath"
	"strconv"
)

const (
	// DefaultManifestConcurrency bounds simultaneous manifest requests.
	DefaultManifestConcurrency = 2

	// DefaultChunkConcurrency bounds simultaneous chunk-body fetches.
	DefaultChunkConcurrency = 4
)

// Options tunes a Service. Zero values fall back to defaults.
type Options struct {
	ManifestConcurrency int
	ChunkConcurrency    int
	SnapshotDir         string // Holds one base.json per project
}

// Service is the orchestration layer that coordinates the fingerprinter,
// the ledger, the content cache and the remote service to perform sync passes.
type Service struct {
	database      Database
	cache         Cache
	remote        Remote
	fingerprinter Fingerprinter
	logger        Logger
	clock         Clock
	sessions      SessionIDs
	opts          Options
}

// NewService creates a new Service with the provided dependencies.
func NewService(database Database, cache Cache, remote Remote, fingerprinter Fingerprinter, logger Logger, clock Clock, sessions SessionIDs, opts Options) *Service {
	if opts.ManifestConcurrency <= 0 {
		opts.ManifestConcurrency = DefaultManifestConcurrency
	}
	if opts.ChunkConcurrency <= 0 {
		opts.ChunkConcurrency = DefaultChunkConcurrency
	}
	return &Service{
		database:      database,
		cache:         cache,
		remote:        remote,
		fingerprinter: fingerprinter,
		logger:        logger,
		clock:         clock,
		sessions:      sessions,
		opts:          opts,
	}
}

// snapshotPath returns where the directory snapshot of a project lives.
// Server URLs are escaped so projects with equal ids on different servers
// never share a snapshot.
func (s *Service) snapshotPath(server string, pid int64) string {
	return filepath.Join(s.opts.SnapshotDir, url.QueryEscape(server), strconv.FormatInt(pid, 10), "base.json")
}
