package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/afero"

	"glassy-go/internal/cache"
	"glassy-go/internal/config"
	"glassy-go/internal/database"
	"glassy-go/internal/fingerprint"
	"glassy-go/internal/glassy"
	"glassy-go/internal/model"
	"glassy-go/internal/remote"
)

// GlassyApp is the application layer between the CLI and glassy.Service.
// It constructs all dependencies from config, records mutating operations
// in the history, and manages the DB lifecycle on Close.
type GlassyApp struct {
	cfg     *config.Config
	db      glassy.Database
	service *glassy.Service
	op      *SyncOperation
	logFile *os.File
}

// NewGlassyApp creates a fully wired GlassyApp from the given config.
// operation identifies the CLI command being run (e.g. "Scan", "Pull").
// Verbose sends debug records to stderr as well as the log file.
// The caller must call Close when done.
func NewGlassyApp(cfg *config.Config, operation string, verbose bool) (*GlassyApp, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	db, err := database.NewDatabaseFromConfig(cfg.Database, cfg.ClientID)
	if err != nil {
		return nil, fmt.Errorf("creating database: %w", err)
	}

	if err := db.CheckMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database schema out of date (run `glassy config init`): %w", err)
	}

	c, err := cache.NewCacheFromConfig(cfg.Cache)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating cache: %w", err)
	}

	stderrLevel := slog.LevelWarn
	if verbose {
		stderrLevel = slog.LevelDebug
	}
	opID := time.Now().UTC().Format("20060102T150405Z")
	logger, logFile, err := newLogger(cfg.LogDir, opID, stderrLevel)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	log := &slogAdapter{l: logger}

	fp := fingerprint.NewFingerprinter(afero.NewOsFs(), fingerprint.DefaultWorkers, cfg.Filesystem.Ignore)
	svc := glassy.NewService(db, c, remote.NewHTTPRemote(nil, log), fp, log, glassy.SystemClock{}, glassy.RandomSessionIDs{}, glassy.Options{
		ManifestConcurrency: cfg.Transfer.ManifestConcurrency,
		ChunkConcurrency:    cfg.Transfer.ChunkConcurrency,
		SnapshotDir:         cfg.SnapshotDir,
	})

	return &GlassyApp{
		cfg:     cfg,
		db:      db,
		service: svc,
		op:      NewSyncOperation(operation, ""),
		logFile: logFile,
	}, nil
}

// InitState prepares the local state a new config points at.
func InitState(cfg *config.Config) error {
	if err := database.MigrateFromConfig(cfg.Database, cfg.ClientID); err != nil {
		return fmt.Errorf("initializing database: %w", err)
	}
	for _, dir := range []string{cfg.LogDir, cfg.SnapshotDir, cfg.Cache.Dir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
	}
	return nil
}

// persistOperation saves the sync operation to the database, giving it an auto-increment ID.
// This should only be called for mutating commands.
func (a *GlassyApp) persistOperation(parameters string) error {
	if a.op.Persisted() {
		return nil
	}
	a.op.Parameters = parameters
	dbOp, err := a.db.CreateSyncOperation(a.op.Operation, parameters)
	if err != nil {
		return fmt.Errorf("persisting sync operation: %w", err)
	}
	a.op.ID = dbOp.ID
	return nil
}

// Operation returns the operation this app is tracking.
func (a *GlassyApp) Operation() *SyncOperation {
	return a.op
}

// Server and project registry

// AddServer registers a server. localDir may be relative to the working directory.
func (a *GlassyApp) AddServer(url, name, localDir string) error {
	abs, err := filepath.Abs(localDir)
	if err != nil {
		return fmt.Errorf("resolving path: %w", err)
	}
	return a.service.AddServer(url, name, abs)
}

func (a *GlassyApp) UseServer(url string) error {
	return a.service.UseServer(url)
}

func (a *GlassyApp) Servers() ([]*model.Server, error) {
	return a.service.Servers()
}

func (a *GlassyApp) CurrentServerURL() (string, error) {
	return a.service.CurrentServerURL()
}

func (a *GlassyApp) SetCacheSetting(enabled bool) error {
	return a.service.SetCacheSetting(enabled)
}

func (a *GlassyApp) SetDebugOverride(debugURL string, active bool) error {
	return a.service.SetDebugOverride(debugURL, active)
}

func (a *GlassyApp) AddProject(pid int64, title, teamName string, commitID int64) error {
	return a.service.AddProject(pid, title, teamName, commitID)
}

func (a *GlassyApp) Projects() ([]*model.Project, error) {
	return a.service.Projects()
}

func (a *GlassyApp) ProjectDir(pid int64) (string, error) {
	return a.service.ProjectDir(pid)
}

func (a *GlassyApp) AcceptProjectRename(pid int64) error {
	return a.service.AcceptProjectRename(pid)
}

// ForgetProject drops a project and its local sync state.
func (a *GlassyApp) ForgetProject(pid int64) error {
	if err := a.persistOperation(fmt.Sprintf("pid=%d", pid)); err != nil {
		return err
	}
	err := a.service.ForgetProject(pid)
	a.op.Record(err, false)
	return err
}

// Sync

// Scan fingerprints a project and refreshes its ledger.
func (a *GlassyApp) Scan(pid int64, ignore []string) (*glassy.ScanReport, error) {
	if err := a.persistOperation(fmt.Sprintf("pid=%d", pid)); err != nil {
		return nil, err
	}
	report, err := a.service.Scan(pid, ignore)
	a.op.Record(err, false)
	return report, err
}

// Status returns every ledger record of a project.
func (a *GlassyApp) Status(pid int64) ([]*model.FileRecord, error) {
	return a.service.Status(pid)
}

// Pull downloads a batch of remote states. A batch with failures or
// conflicts is recorded as partial.
func (a *GlassyApp) Pull(ctx context.Context, pid int64, token string, requests []glassy.DownloadRequest, progress glassy.ProgressFunc) (*glassy.DownloadResult, error) {
	if err := a.persistOperation(fmt.Sprintf("pid=%d requests=%d", pid, len(requests))); err != nil {
		return nil, err
	}
	result, err := a.service.Download(ctx, pid, token, requests, progress)
	a.op.Record(err, result != nil && (len(result.Failed) > 0 || len(result.Conflicts) > 0))
	return result, err
}

// PendingUploads lists what Push would send.
func (a *GlassyApp) PendingUploads(pid int64) ([]glassy.UploadItem, error) {
	return a.service.PendingUploads(pid)
}

// Push uploads every pending change of a project under commitID.
func (a *GlassyApp) Push(ctx context.Context, pid int64, token string, commitID int64, progress glassy.ProgressFunc) (int, error) {
	if err := a.persistOperation(fmt.Sprintf("pid=%d commit=%d", pid, commitID)); err != nil {
		return 0, err
	}
	items, err := a.service.PendingUploads(pid)
	if err != nil {
		a.op.Record(err, false)
		return 0, err
	}
	n, err := a.service.Upload(ctx, pid, token, commitID, items, progress)
	a.op.Record(err, false)
	return n, err
}

// GetHistory returns the most recent sync operations.
func (a *GlassyApp) GetHistory(limit int) ([]*model.SyncOperation, error) {
	return a.service.GetHistory(limit)
}

// ReadDownloadRequests decodes a JSON array of download requests.
func ReadDownloadRequests(r io.Reader) ([]glassy.DownloadRequest, error) {
	var requests []glassy.DownloadRequest
	if err := json.NewDecoder(r).Decode(&requests); err != nil {
		return nil, fmt.Errorf("decoding download requests: %w", err)
	}
	return requests, nil
}

// Close finalizes the operation and closes all resources.
func (a *GlassyApp) Close() error {
	var firstErr error

	if a.op.Persisted() {
		if err := a.db.FinishSyncOperation(a.op.ID, a.op.Status); err != nil {
			firstErr = fmt.Errorf("finishing sync operation: %w", err)
		}
	}

	if err := a.db.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("closing database: %w", err)
	}

	if a.logFile != nil {
		a.logFile.Close()
	}

	return firstErr
}
