package glassy

import "glassy-go/internal/model"

// Registry stores the known servers and the projects joined on them.
type Registry interface {
	// Server operations

	// AddServer inserts a server and makes it the only active one.
	AddServer(server *model.Server) error

	// FindServer returns the server with the given URL, or nil if unknown.
	FindServer(url string) (*model.Server, error)

	// ListServers returns all servers ordered by name.
	ListServers() ([]*model.Server, error)

	// ActiveServer returns the active server, or nil if none is active.
	ActiveServer() (*model.Server, error)

	// SetActiveServer activates url and deactivates every other server.
	SetActiveServer(url string) error

	// SetCacheSetting toggles whether downloaded chunks are retained for a server.
	SetCacheSetting(url string, enabled bool) error

	// SetDebugOverride sets the debug URL used in place of url while active.
	SetDebugOverride(url string, debugURL string, active bool) error

	// Project operations

	// UpsertProject inserts a project. If it already exists only its remote
	// title is updated; the local title never changes implicitly.
	UpsertProject(project *model.Project) error

	// FindProject returns the project, or nil if unknown.
	FindProject(serverURL string, pid int64) (*model.Project, error)

	// ListProjects returns the projects of a server ordered by pid.
	ListProjects(serverURL string) ([]*model.Project, error)

	// SetProjectCommit records the last commit the client fully synced to.
	SetProjectCommit(serverURL string, pid int64, commitID int64) error

	// AcceptProjectTitle copies remote_title into title.
	AcceptProjectTitle(serverURL string, pid int64) error

	// DeleteProject removes a project row.
	DeleteProject(serverURL string, pid int64) error
}

// Ledger is the persistent per-file synchronization state, keyed by server,
// project and path. All mutations are idempotent.
type Ledger interface {
	// GetFile returns the record for a path, or an error wrapping ErrNotFound.
	GetFile(serverURL string, pid int64, path string) (*model.FileRecord, error)

	// ListFiles returns all records of a project ordered by path.
	ListFiles(serverURL string, pid int64) ([]*model.FileRecord, error)

	// UpsertScannedFile records the result of a scan for one path.
	// in_fs is derived from change: false for Delete, true otherwise.
	UpsertScannedFile(serverURL string, pid int64, path string, currHash string, size int64, change model.ChangeType) error

	// StageTransferTarget records the state a transfer converges the record
	// toward, creating a not-in-fs record if none exists.
	StageTransferTarget(serverURL string, pid int64, path string, trackedHash string, trackedCommitID int64, trackedSize int64) error

	// CommitTransfer promotes the tracked values into base/curr, sets in_fs
	// and clears the change classification in a single statement.
	CommitTransfer(serverURL string, pid int64, path string) error

	// DeleteFile removes a record. Deleting a missing record is not an error.
	DeleteFile(serverURL string, pid int64, path string) error

	// ClearFiles removes all records of a project.
	ClearFiles(serverURL string, pid int64) error

	// ClearAllFiles removes every record.
	ClearAllFiles() error
}

// Database provides the persistent local state: registry, ledger and
// operation history behind one connection pool.
type Database interface {
	Registry
	Ledger

	// CreateSyncOperation records the start of a mutating operation.
	CreateSyncOperation(operation string, parameters string) (*model.SyncOperation, error)

	// FinishSyncOperation marks an operation finished with the given status.
	FinishSyncOperation(id int64, status string) error

	// ListSyncOperations returns the most recent operations, newest first.
	ListSyncOperations(limit int) ([]*model.SyncOperation, error)

	// CheckMigrations verifies the schema is at the latest version.
	CheckMigrations() error

	// Close closes the database connection pool.
	Close() error
}
