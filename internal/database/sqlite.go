package database

import (
	"database/sql"
	"errors"
	"fmt"

	"glassy-go/internal/database/migrations"
	"glassy-go/internal/glassy"
	"glassy-go/internal/model"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteDatabase implements glassy.Database on a single SQLite file.
type SQLiteDatabase struct {
	db    *sql.DB
	clock glassy.Clock
	path  string
}

// NewSQLiteDatabase opens the database at path, or ":memory:" for an
// in-memory one. A nil clock uses the real time.
func NewSQLiteDatabase(path string, clock glassy.Clock) (*SQLiteDatabase, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}
	if clock == nil {
		clock = glassy.SystemClock{}
	}
	return &SQLiteDatabase{db: db, clock: clock, path: path}, nil
}

// OpenConnection opens a configured SQLite connection pool.
// File databases use WAL and a busy timeout so concurrent writers wait
// instead of failing. An in-memory database exists per connection, so the
// pool is pinned to one connection.
func OpenConnection(path string) (*sql.DB, error) {
	if path == ":memory:" {
		db, err := sql.Open("sqlite3", path)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		db.SetMaxOpenConns(1)
		if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
		}
		return db, nil
	}

	dsn := "file:" + path + "?_foreign_keys=on&_busy_timeout=5000&_journal_mode=WAL"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return db, nil
}

// Server operations

const serverColumns = `url, name, local_dir, cache_setting, active, debug_url, debug_active`

func scanServer(row interface{ Scan(...any) error }) (*model.Server, error) {
	var s model.Server
	if err := row.Scan(&s.URL, &s.Name, &s.LocalDir, &s.CacheSetting, &s.Active, &s.DebugURL, &s.DebugActive); err != nil {
		return nil, err
	}
	return &s, nil
}

func (s *SQLiteDatabase) AddServer(server *model.Server) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	if server.Active {
		if _, err := tx.Exec(`UPDATE servers SET active = 0 WHERE active = 1`); err != nil {
			return fmt.Errorf("deactivating servers: %w", err)
		}
	}
	_, err = tx.Exec(`INSERT INTO servers (`+serverColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		server.URL, server.Name, server.LocalDir, server.CacheSetting, server.Active, server.DebugURL, server.DebugActive)
	if err != nil {
		return fmt.Errorf("inserting server: %w", err)
	}
	return tx.Commit()
}

func (s *SQLiteDatabase) FindServer(url string) (*model.Server, error) {
	server, err := scanServer(s.db.QueryRow(`SELECT `+serverColumns+` FROM servers WHERE url = ?`, url))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("finding server: %w", err)
	}
	return server, nil
}

func (s *SQLiteDatabase) ListServers() ([]*model.Server, error) {
	rows, err := s.db.Query(`SELECT ` + serverColumns + ` FROM servers ORDER BY name, url`)
	if err != nil {
		return nil, fmt.Errorf("listing servers: %w", err)
	}
	defer rows.Close()

	var servers []*model.Server
	for rows.Next() {
		server, err := scanServer(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning server: %w", err)
		}
		servers = append(servers, server)
	}
	return servers, rows.Err()
}

func (s *SQLiteDatabase) ActiveServer() (*model.Server, error) {
	server, err := scanServer(s.db.QueryRow(`SELECT ` + serverColumns + ` FROM servers WHERE active = 1`))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("finding active server: %w", err)
	}
	return server, nil
}

func (s *SQLiteDatabase) SetActiveServer(url string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`UPDATE servers SET active = 0 WHERE active = 1`); err != nil {
		return fmt.Errorf("deactivating servers: %w", err)
	}
	res, err := tx.Exec(`UPDATE servers SET active = 1 WHERE url = ?`, url)
	if err != nil {
		return fmt.Errorf("activating server: %w", err)
	}
	if err := expectRow(res, "server "+url); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteDatabase) SetCacheSetting(url string, enabled bool) error {
	res, err := s.db.Exec(`UPDATE servers SET cache_setting = ? WHERE url = ?`, enabled, url)
	if err != nil {
		return fmt.Errorf("updating cache setting: %w", err)
	}
	return expectRow(res, "server "+url)
}

func (s *SQLiteDatabase) SetDebugOverride(url string, debugURL string, active bool) error {
	res, err := s.db.Exec(`UPDATE servers SET debug_url = ?, debug_active = ? WHERE url = ?`, debugURL, active, url)
	if err != nil {
		return fmt.Errorf("updating debug override: %w", err)
	}
	return expectRow(res, "server "+url)
}

// Project operations

const projectColumns = `pid, server_url, title, team_name, base_commitid, remote_title`

func scanProject(row interface{ Scan(...any) error }) (*model.Project, error) {
	var p model.Project
	if err := row.Scan(&p.PID, &p.ServerURL, &p.Title, &p.TeamName, &p.BaseCommitID, &p.RemoteTitle); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *SQLiteDatabase) UpsertProject(project *model.Project) error {
	remoteTitle := project.RemoteTitle
	if remoteTitle == "" {
		remoteTitle = project.Title
	}
	_, err := s.db.Exec(`
		INSERT INTO projects (`+projectColumns+`) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (server_url, pid) DO UPDATE SET remote_title = excluded.remote_title`,
		project.PID, project.ServerURL, project.Title, project.TeamName, project.BaseCommitID, remoteTitle)
	if err != nil {
		return fmt.Errorf("upserting project: %w", err)
	}
	return nil
}

func (s *SQLiteDatabase) FindProject(serverURL string, pid int64) (*model.Project, error) {
	project, err := scanProject(s.db.QueryRow(`SELECT `+projectColumns+` FROM projects WHERE server_url = ? AND pid = ?`, serverURL, pid))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("finding project: %w", err)
	}
	return project, nil
}

func (s *SQLiteDatabase) ListProjects(serverURL string) ([]*model.Project, error) {
	rows, err := s.db.Query(`SELECT `+projectColumns+` FROM projects WHERE server_url = ? ORDER BY pid`, serverURL)
	if err != nil {
		return nil, fmt.Errorf("listing projects: %w", err)
	}
	defer rows.Close()

	var projects []*model.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning project: %w", err)
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

func (s *SQLiteDatabase) SetProjectCommit(serverURL string, pid int64, commitID int64) error {
	res, err := s.db.Exec(`UPDATE projects SET base_commitid = ? WHERE server_url = ? AND pid = ?`, commitID, serverURL, pid)
	if err != nil {
		return fmt.Errorf("updating project commit: %w", err)
	}
	return expectRow(res, fmt.Sprintf("project %d", pid))
}

func (s *SQLiteDatabase) AcceptProjectTitle(serverURL string, pid int64) error {
	res, err := s.db.Exec(`UPDATE projects SET title = remote_title WHERE server_url = ? AND pid = ?`, serverURL, pid)
	if err != nil {
		return fmt.Errorf("accepting project title: %w", err)
	}
	return expectRow(res, fmt.Sprintf("project %d", pid))
}

func (s *SQLiteDatabase) DeleteProject(serverURL string, pid int64) error {
	if _, err := s.db.Exec(`DELETE FROM projects WHERE server_url = ? AND pid = ?`, serverURL, pid); err != nil {
		return fmt.Errorf("deleting project: %w", err)
	}
	return nil
}

// Ledger operations

const fileColumns = `server_url, pid, filepath, base_hash, curr_hash, size, change_type, in_fs, base_commitid, tracked_hash, tracked_commitid, tracked_size`

func scanFile(row interface{ Scan(...any) error }) (*model.FileRecord, error) {
	var f model.FileRecord
	var change int64
	err := row.Scan(&f.ServerURL, &f.PID, &f.Path, &f.BaseHash, &f.CurrHash, &f.Size, &change, &f.InFS,
		&f.BaseCommitID, &f.TrackedHash, &f.TrackedCommitID, &f.TrackedSize)
	if err != nil {
		return nil, err
	}
	if f.ChangeType, err = model.ParseChangeType(change); err != nil {
		return nil, err
	}
	return &f, nil
}

func (s *SQLiteDatabase) GetFile(serverURL string, pid int64, path string) (*model.FileRecord, error) {
	f, err := scanFile(s.db.QueryRow(`SELECT `+fileColumns+` FROM files WHERE server_url = ? AND pid = ? AND filepath = ?`, serverURL, pid, path))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("file %s: %w", path, glassy.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("reading file %s: %w", path, err)
	}
	return f, nil
}

func (s *SQLiteDatabase) ListFiles(serverURL string, pid int64) ([]*model.FileRecord, error) {
	rows, err := s.db.Query(`SELECT `+fileColumns+` FROM files WHERE server_url = ? AND pid = ? ORDER BY filepath`, serverURL, pid)
	if err != nil {
		return nil, fmt.Errorf("listing files: %w", err)
	}
	defer rows.Close()

	var files []*model.FileRecord
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning file: %w", err)
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

func (s *SQLiteDatabase) UpsertScannedFile(serverURL string, pid int64, path string, currHash string, size int64, change model.ChangeType) error {
	if !change.Valid() {
		return fmt.Errorf("invalid change type %d", int(change))
	}
	inFS := change != model.Delete
	_, err := s.db.Exec(`
		INSERT INTO files (server_url, pid, filepath, curr_hash, size, change_type, in_fs) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (server_url, pid, filepath) DO UPDATE SET
			curr_hash = excluded.curr_hash,
			size = excluded.size,
			change_type = excluded.change_type,
			in_fs = excluded.in_fs`,
		serverURL, pid, path, currHash, size, int(change), inFS)
	if err != nil {
		return fmt.Errorf("recording scanned file %s: %w", path, err)
	}
	return nil
}

func (s *SQLiteDatabase) StageTransferTarget(serverURL string, pid int64, path string, trackedHash string, trackedCommitID int64, trackedSize int64) error {
	_, err := s.db.Exec(`
		INSERT INTO files (server_url, pid, filepath, tracked_hash, tracked_commitid, tracked_size) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (server_url, pid, filepath) DO UPDATE SET
			tracked_hash = excluded.tracked_hash,
			tracked_commitid = excluded.tracked_commitid,
			tracked_size = excluded.tracked_size`,
		serverURL, pid, path, trackedHash, trackedCommitID, trackedSize)
	if err != nil {
		return fmt.Errorf("staging transfer target %s: %w", path, err)
	}
	return nil
}

func (s *SQLiteDatabase) CommitTransfer(serverURL string, pid int64, path string) error {
	res, err := s.db.Exec(`
		UPDATE files SET
			base_hash = tracked_hash,
			curr_hash = tracked_hash,
			size = tracked_size,
			base_commitid = tracked_commitid,
			change_type = 0,
			in_fs = 1
		WHERE server_url = ? AND pid = ? AND filepath = ?`, serverURL, pid, path)
	if err != nil {
		return fmt.Errorf("committing transfer %s: %w", path, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("committing transfer %s: %w", path, err)
	}
	if n == 0 {
		return fmt.Errorf("committing transfer %s: %w", path, glassy.ErrNotFound)
	}
	return nil
}

func (s *SQLiteDatabase) DeleteFile(serverURL string, pid int64, path string) error {
	if _, err := s.db.Exec(`DELETE FROM files WHERE server_url = ? AND pid = ? AND filepath = ?`, serverURL, pid, path); err != nil {
		return fmt.Errorf("deleting file %s: %w", path, err)
	}
	return nil
}

func (s *SQLiteDatabase) ClearFiles(serverURL string, pid int64) error {
	if _, err := s.db.Exec(`DELETE FROM files WHERE server_url = ? AND pid = ?`, serverURL, pid); err != nil {
		return fmt.Errorf("clearing files: %w", err)
	}
	return nil
}

func (s *SQLiteDatabase) ClearAllFiles() error {
	if _, err := s.db.Exec(`DELETE FROM files`); err != nil {
		return fmt.Errorf("clearing files: %w", err)
	}
	return nil
}

// Sync operation tracking

func (s *SQLiteDatabase) CreateSyncOperation(operation string, parameters string) (*model.SyncOperation, error) {
	op := &model.SyncOperation{
		StartedAt:  s.clock.Now().UTC(),
		Operation:  operation,
		Parameters: parameters,
		Status:     "running",
	}
	res, err := s.db.Exec(`INSERT INTO sync_operations (started_at, operation, parameters, status) VALUES (?, ?, ?, ?)`,
		op.StartedAt, op.Operation, op.Parameters, op.Status)
	if err != nil {
		return nil, fmt.Errorf("creating sync operation: %w", err)
	}
	if op.ID, err = res.LastInsertId(); err != nil {
		return nil, fmt.Errorf("creating sync operation: %w", err)
	}
	return op, nil
}

func (s *SQLiteDatabase) FinishSyncOperation(id int64, status string) error {
	res, err := s.db.Exec(`UPDATE sync_operations SET finished_at = ?, status = ? WHERE id = ?`, s.clock.Now().UTC(), status, id)
	if err != nil {
		return fmt.Errorf("finishing sync operation: %w", err)
	}
	return expectRow(res, fmt.Sprintf("sync operation %d", id))
}

func (s *SQLiteDatabase) ListSyncOperations(limit int) ([]*model.SyncOperation, error) {
	rows, err := s.db.Query(`
		SELECT id, started_at, finished_at, operation, parameters, status
		FROM sync_operations ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing sync operations: %w", err)
	}
	defer rows.Close()

	var ops []*model.SyncOperation
	for rows.Next() {
		var op model.SyncOperation
		var finished sql.NullTime
		if err := rows.Scan(&op.ID, &op.StartedAt, &finished, &op.Operation, &op.Parameters, &op.Status); err != nil {
			return nil, fmt.Errorf("scanning sync operation: %w", err)
		}
		if finished.Valid {
			t := finished.Time
			op.FinishedAt = &t
		}
		ops = append(ops, &op)
	}
	return ops, rows.Err()
}

// CheckMigrations verifies the database schema is up-to-date.
func (s *SQLiteDatabase) CheckMigrations() error {
	return migrations.CheckDBMigrationStatus(s.db)
}

// Migrate brings the schema to the latest version.
func (s *SQLiteDatabase) Migrate() error {
	return migrations.MigrateUp(s.db)
}

// Close closes the database connection.
func (s *SQLiteDatabase) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func expectRow(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking %s: %w", what, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, glassy.ErrNotFound)
	}
	return nil
}

// Compile-time check that SQLiteDatabase implements glassy.Database.
var _ glassy.Database = (*SQLiteDatabase)(nil)
