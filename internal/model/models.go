package model

import "time"

// Server is a remote endpoint the client synchronizes with.
// Exactly one server is active at a time; the registry enforces this.
type Server struct {
	URL          string // Primary identity
	Name         string
	LocalDir     string // Root under which every project of this server lives
	CacheSetting bool   // Keep downloaded chunks in the cache after assembly
	Active       bool
	DebugURL     string // Used instead of URL when DebugActive is set
	DebugActive  bool
}

// EndpointURL returns the URL network calls should go to.
func (s *Server) EndpointURL() string {
	if s.DebugActive && s.DebugURL != "" {
		return s.DebugURL
	}
	return s.URL
}

// Project is a remote project joined on a server. PID and ServerURL form the identity.
type Project struct {
	PID          int64
	ServerURL    string
	Title        string // Local title; drives the on-disk directory name
	TeamName     string
	BaseCommitID int64 // Last commit fully synced to
	RemoteTitle  string
}

// FileRecord is one row of the file state ledger.
type FileRecord struct {
	ServerURL    string
	PID          int64
	Path         string // Slash-separated, relative to the project directory
	BaseHash     string // Hash as of the last confirmed sync
	CurrHash     string // Hash seen by the most recent scan
	Size         int64
	ChangeType   ChangeType
	InFS         bool
	BaseCommitID int64

	// Target state of an in-flight transfer. Promoted into Base/Curr only
	// after the bytes are durably in place.
	TrackedHash     string
	TrackedCommitID int64
	TrackedSize     int64
}

// LocalFile is one entry of a directory snapshot (base.json).
type LocalFile struct {
	Path string `json:"path"`
	Size int64  `json:"size"`
	Hash string `json:"hash"`
}

// ChunkRef names one chunk of a file's content in the cache mapping.
type ChunkRef struct {
	FileHash  string `json:"file_hash"`
	BlockHash string `json:"block_hash"`
}

// SyncOperation is one recorded CLI operation that mutated local state.
type SyncOperation struct {
	ID         int64
	StartedAt  time.Time
	FinishedAt *time.Time
	Operation  string
	Parameters string
	Status     string
}
