package database

import (
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"glassy-go/internal/glassy"
	"glassy-go/internal/model"
)

const ledgerServer = "https://pdm.example.com"

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

// newTestDB creates a new in-memory database with the schema migrated.
func newTestDB(t *testing.T) *SQLiteDatabase {
	t.Helper()

	db, err := NewSQLiteDatabase(":memory:", fixedClock{time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)})
	if err != nil {
		t.Fatalf("failed to create database: %v", err)
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		t.Fatalf("failed to migrate: %v", err)
	}

	t.Cleanup(func() {
		db.Close()
	})
	return db
}

func addServer(t *testing.T, db *SQLiteDatabase, url string) {
	t.Helper()
	if err := db.AddServer(&model.Server{URL: url, Name: url, LocalDir: "/srv", Active: true}); err != nil {
		t.Fatalf("AddServer() error = %v", err)
	}
}

func TestSQLiteDatabase_Servers(t *testing.T) {
	t.Run("find returns nil for unknown server", func(t *testing.T) {
		db := newTestDB(t)

		s, err := db.FindServer("https://nowhere")
		if err != nil {
			t.Fatalf("FindServer() error = %v", err)
		}
		if s != nil {
			t.Errorf("FindServer() = %v, want nil", s)
		}
	})

	t.Run("adding a server makes it the only active one", func(t *testing.T) {
		db := newTestDB(t)
		addServer(t, db, "https://a")
		addServer(t, db, "https://b")

		active, err := db.ActiveServer()
		if err != nil {
			t.Fatalf("ActiveServer() error = %v", err)
		}
		if active == nil || active.URL != "https://b" {
			t.Fatalf("ActiveServer() = %v, want https://b", active)
		}

		a, _ := db.FindServer("https://a")
		if a.Active {
			t.Error("first server should have been deactivated")
		}
	})

	t.Run("set active server switches", func(t *testing.T) {
		db := newTestDB(t)
		addServer(t, db, "https://a")
		addServer(t, db, "https://b")

		if err := db.SetActiveServer("https://a"); err != nil {
			t.Fatalf("SetActiveServer() error = %v", err)
		}
		active, _ := db.ActiveServer()
		if active.URL != "https://a" {
			t.Errorf("ActiveServer() = %s, want https://a", active.URL)
		}

		servers, err := db.ListServers()
		if err != nil {
			t.Fatalf("ListServers() error = %v", err)
		}
		count := 0
		for _, s := range servers {
			if s.Active {
				count++
			}
		}
		if count != 1 {
			t.Errorf("%d active servers, want 1", count)
		}
	})

	t.Run("set active server unknown url", func(t *testing.T) {
		db := newTestDB(t)
		addServer(t, db, "https://a")

		err := db.SetActiveServer("https://zzz")
		if !errors.Is(err, glassy.ErrNotFound) {
			t.Errorf("SetActiveServer() error = %v, want ErrNotFound", err)
		}
		active, _ := db.ActiveServer()
		if active == nil || active.URL != "https://a" {
			t.Error("failed switch must leave the previous server active")
		}
	})

	t.Run("cache setting and debug override", func(t *testing.T) {
		db := newTestDB(t)
		addServer(t, db, "https://a")

		if err := db.SetCacheSetting("https://a", true); err != nil {
			t.Fatalf("SetCacheSetting() error = %v", err)
		}
		if err := db.SetDebugOverride("https://a", "http://localhost:9000", true); err != nil {
			t.Fatalf("SetDebugOverride() error = %v", err)
		}

		s, _ := db.FindServer("https://a")
		if !s.CacheSetting {
			t.Error("CacheSetting should be true")
		}
		if got := s.EndpointURL(); got != "http://localhost:9000" {
			t.Errorf("EndpointURL() = %q, want debug url", got)
		}
	})
}

func TestSQLiteDatabase_Projects(t *testing.T) {
	t.Run("upsert keeps local title and records remote title", func(t *testing.T) {
		db := newTestDB(t)
		addServer(t, db, "https://a")

		p := &model.Project{PID: 7, ServerURL: "https://a", Title: "Gearbox", TeamName: "Drive"}
		if err := db.UpsertProject(p); err != nil {
			t.Fatalf("UpsertProject() error = %v", err)
		}

		renamed := *p
		renamed.Title = "Gearbox v2"
		renamed.RemoteTitle = "Gearbox v2"
		if err := db.UpsertProject(&renamed); err != nil {
			t.Fatalf("UpsertProject() second error = %v", err)
		}

		got, err := db.FindProject("https://a", 7)
		if err != nil {
			t.Fatalf("FindProject() error = %v", err)
		}
		if got.Title != "Gearbox" {
			t.Errorf("Title = %q, want unchanged %q", got.Title, "Gearbox")
		}
		if got.RemoteTitle != "Gearbox v2" {
			t.Errorf("RemoteTitle = %q, want %q", got.RemoteTitle, "Gearbox v2")
		}

		if err := db.AcceptProjectTitle("https://a", 7); err != nil {
			t.Fatalf("AcceptProjectTitle() error = %v", err)
		}
		got, _ = db.FindProject("https://a", 7)
		if got.Title != "Gearbox v2" {
			t.Errorf("Title after accept = %q, want %q", got.Title, "Gearbox v2")
		}
	})

	t.Run("projects are scoped by server", func(t *testing.T) {
		db := newTestDB(t)
		addServer(t, db, "https://a")
		addServer(t, db, "https://b")

		db.UpsertProject(&model.Project{PID: 1, ServerURL: "https://a", Title: "x", TeamName: "t"})
		db.UpsertProject(&model.Project{PID: 1, ServerURL: "https://b", Title: "y", TeamName: "t"})
		db.UpsertProject(&model.Project{PID: 2, ServerURL: "https://b", Title: "z", TeamName: "t"})

		list, err := db.ListProjects("https://b")
		if err != nil {
			t.Fatalf("ListProjects() error = %v", err)
		}
		if len(list) != 2 || list[0].PID != 1 || list[1].PID != 2 {
			t.Errorf("ListProjects() = %v, want pids 1,2", list)
		}

		p, _ := db.FindProject("https://a", 1)
		if p.Title != "x" {
			t.Errorf("Title = %q, want %q", p.Title, "x")
		}
	})

	t.Run("set commit and delete", func(t *testing.T) {
		db := newTestDB(t)
		addServer(t, db, "https://a")
		db.UpsertProject(&model.Project{PID: 3, ServerURL: "https://a", Title: "x", TeamName: "t"})

		if err := db.SetProjectCommit("https://a", 3, 42); err != nil {
			t.Fatalf("SetProjectCommit() error = %v", err)
		}
		p, _ := db.FindProject("https://a", 3)
		if p.BaseCommitID != 42 {
			t.Errorf("BaseCommitID = %d, want 42", p.BaseCommitID)
		}

		if err := db.DeleteProject("https://a", 3); err != nil {
			t.Fatalf("DeleteProject() error = %v", err)
		}
		p, err := db.FindProject("https://a", 3)
		if err != nil || p != nil {
			t.Errorf("FindProject() after delete = %v, %v; want nil, nil", p, err)
		}
	})
}

func TestSQLiteDatabase_Ledger(t *testing.T) {
	t.Run("get missing file returns ErrNotFound", func(t *testing.T) {
		db := newTestDB(t)

		_, err := db.GetFile(ledgerServer, 1, "nope.txt")
		if !errors.Is(err, glassy.ErrNotFound) {
			t.Errorf("GetFile() error = %v, want ErrNotFound", err)
		}
	})

	t.Run("scanned file derives in_fs from change", func(t *testing.T) {
		db := newTestDB(t)

		if err := db.UpsertScannedFile(ledgerServer, 1, "a.txt", "H1", 10, model.Create); err != nil {
			t.Fatalf("UpsertScannedFile() error = %v", err)
		}
		f, _ := db.GetFile(ledgerServer, 1, "a.txt")
		if !f.InFS || f.ChangeType != model.Create || f.CurrHash != "H1" || f.Size != 10 {
			t.Errorf("record = %+v", f)
		}

		if err := db.UpsertScannedFile(ledgerServer, 1, "a.txt", "H1", 10, model.Delete); err != nil {
			t.Fatalf("UpsertScannedFile() error = %v", err)
		}
		f, _ = db.GetFile(ledgerServer, 1, "a.txt")
		if f.InFS || f.ChangeType != model.Delete {
			t.Errorf("record after delete = %+v", f)
		}
	})

	t.Run("stage then commit promotes tracked values", func(t *testing.T) {
		db := newTestDB(t)

		if err := db.StageTransferTarget(ledgerServer, 1, "b.txt", "H2", 5, 99); err != nil {
			t.Fatalf("StageTransferTarget() error = %v", err)
		}
		f, _ := db.GetFile(ledgerServer, 1, "b.txt")
		if f.InFS || f.BaseHash != "" || f.TrackedHash != "H2" {
			t.Errorf("staged record = %+v", f)
		}

		if err := db.CommitTransfer(ledgerServer, 1, "b.txt"); err != nil {
			t.Fatalf("CommitTransfer() error = %v", err)
		}
		f, _ = db.GetFile(ledgerServer, 1, "b.txt")
		want := model.FileRecord{
			ServerURL: ledgerServer, PID: 1, Path: "b.txt", BaseHash: "H2", CurrHash: "H2", Size: 99,
			ChangeType: model.NoChange, InFS: true, BaseCommitID: 5,
			TrackedHash: "H2", TrackedCommitID: 5, TrackedSize: 99,
		}
		if *f != want {
			t.Errorf("committed record = %+v, want %+v", *f, want)
		}

		// Committing twice leaves the same row.
		if err := db.CommitTransfer(ledgerServer, 1, "b.txt"); err != nil {
			t.Fatalf("second CommitTransfer() error = %v", err)
		}
		again, _ := db.GetFile(ledgerServer, 1, "b.txt")
		if *again != want {
			t.Errorf("record after second commit = %+v", *again)
		}
	})

	t.Run("staging keeps scan results", func(t *testing.T) {
		db := newTestDB(t)
		db.UpsertScannedFile(ledgerServer, 1, "c.txt", "LOCAL", 3, model.Update)

		if err := db.StageTransferTarget(ledgerServer, 1, "c.txt", "REMOTE", 8, 4); err != nil {
			t.Fatalf("StageTransferTarget() error = %v", err)
		}
		f, _ := db.GetFile(ledgerServer, 1, "c.txt")
		if f.CurrHash != "LOCAL" || f.ChangeType != model.Update {
			t.Errorf("staging must not touch scan columns: %+v", f)
		}
	})

	t.Run("commit without record", func(t *testing.T) {
		db := newTestDB(t)

		err := db.CommitTransfer(ledgerServer, 1, "ghost.txt")
		if !errors.Is(err, glassy.ErrNotFound) {
			t.Errorf("CommitTransfer() error = %v, want ErrNotFound", err)
		}
	})

	t.Run("delete is idempotent and clear is scoped", func(t *testing.T) {
		db := newTestDB(t)
		db.UpsertScannedFile(ledgerServer, 1, "a", "h", 1, model.Create)
		db.UpsertScannedFile(ledgerServer, 1, "b", "h", 1, model.Create)
		db.UpsertScannedFile(ledgerServer, 2, "a", "h", 1, model.Create)

		if err := db.DeleteFile(ledgerServer, 1, "a"); err != nil {
			t.Fatalf("DeleteFile() error = %v", err)
		}
		if err := db.DeleteFile(ledgerServer, 1, "a"); err != nil {
			t.Fatalf("second DeleteFile() error = %v", err)
		}

		if err := db.ClearFiles(ledgerServer, 1); err != nil {
			t.Fatalf("ClearFiles() error = %v", err)
		}
		files, _ := db.ListFiles(ledgerServer, 1)
		if len(files) != 0 {
			t.Errorf("project 1 has %d files, want 0", len(files))
		}
		files, _ = db.ListFiles(ledgerServer, 2)
		if len(files) != 1 {
			t.Errorf("project 2 has %d files, want 1", len(files))
		}

		if err := db.ClearAllFiles(); err != nil {
			t.Fatalf("ClearAllFiles() error = %v", err)
		}
		files, _ = db.ListFiles(ledgerServer, 2)
		if len(files) != 0 {
			t.Errorf("project 2 has %d files after clear all, want 0", len(files))
		}
	})

	t.Run("records are scoped by server", func(t *testing.T) {
		db := newTestDB(t)
		const other = "https://other.example.com"
		db.UpsertScannedFile(ledgerServer, 1, "a.txt", "H1", 1, model.NoChange)
		db.UpsertScannedFile(other, 1, "a.txt", "H2", 2, model.Create)

		f, err := db.GetFile(ledgerServer, 1, "a.txt")
		if err != nil {
			t.Fatalf("GetFile() error = %v", err)
		}
		if f.CurrHash != "H1" || f.ChangeType != model.NoChange || f.ServerURL != ledgerServer {
			t.Errorf("record = %+v, want the first server's row", f)
		}

		if err := db.ClearFiles(other, 1); err != nil {
			t.Fatalf("ClearFiles() error = %v", err)
		}
		if files, _ := db.ListFiles(ledgerServer, 1); len(files) != 1 {
			t.Errorf("clearing another server left %d files, want 1", len(files))
		}
		if files, _ := db.ListFiles(other, 1); len(files) != 0 {
			t.Errorf("cleared server still has %d files", len(files))
		}
	})

	t.Run("list is ordered by path", func(t *testing.T) {
		db := newTestDB(t)
		for _, p := range []string{"z.txt", "a/b.txt", "m.txt"} {
			db.UpsertScannedFile(ledgerServer, 1, p, "h", 1, model.Create)
		}
		files, err := db.ListFiles(ledgerServer, 1)
		if err != nil {
			t.Fatalf("ListFiles() error = %v", err)
		}
		got := []string{files[0].Path, files[1].Path, files[2].Path}
		want := []string{"a/b.txt", "m.txt", "z.txt"}
		for i := range want {
			if got[i] != want[i] {
				t.Errorf("ListFiles() order = %v, want %v", got, want)
				break
			}
		}
	})
}

func TestSQLiteDatabase_ConcurrentWriters(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	db, err := NewSQLiteDatabase(path, nil)
	if err != nil {
		t.Fatalf("NewSQLiteDatabase() error = %v", err)
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	var wg sync.WaitGroup
	errs := make(chan error, 40)
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			path := filepath.Join("dir", string(rune('a'+i%26)), "f.txt")
			if err := db.StageTransferTarget(ledgerServer, 1, path, "h", int64(i), 1); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("concurrent write error = %v", err)
	}
	files, _ := db.ListFiles(ledgerServer, 1)
	if len(files) != 26 {
		t.Errorf("got %d records, want 26", len(files))
	}
}

func TestSQLiteDatabase_SyncOperations(t *testing.T) {
	t.Run("create and list operations", func(t *testing.T) {
		db := newTestDB(t)

		op1, err := db.CreateSyncOperation("scan", "7")
		if err != nil {
			t.Fatalf("CreateSyncOperation() error = %v", err)
		}
		if op1.ID == 0 {
			t.Error("operation ID should be non-zero")
		}
		op2, _ := db.CreateSyncOperation("pull", "7")

		ops, err := db.ListSyncOperations(10)
		if err != nil {
			t.Fatalf("ListSyncOperations() error = %v", err)
		}
		if len(ops) != 2 {
			t.Fatalf("got %d operations, want 2", len(ops))
		}
		if ops[0].ID != op2.ID {
			t.Errorf("expected newest first: got ID %d, want %d", ops[0].ID, op2.ID)
		}
		if ops[0].FinishedAt != nil {
			t.Error("unfinished operation should have nil FinishedAt")
		}
		if ops[0].Status != "running" {
			t.Errorf("Status = %q, want running", ops[0].Status)
		}
	})

	t.Run("finish operation sets status and time", func(t *testing.T) {
		db := newTestDB(t)

		op, _ := db.CreateSyncOperation("push", "7 --commit 3")
		if err := db.FinishSyncOperation(op.ID, "success"); err != nil {
			t.Fatalf("FinishSyncOperation() error = %v", err)
		}

		ops, _ := db.ListSyncOperations(1)
		if ops[0].Status != "success" {
			t.Errorf("Status = %q, want %q", ops[0].Status, "success")
		}
		if ops[0].FinishedAt == nil {
			t.Fatal("FinishedAt should be set")
		}
		if !ops[0].StartedAt.Equal(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)) {
			t.Errorf("StartedAt = %v", ops[0].StartedAt)
		}
	})

	t.Run("finish unknown operation", func(t *testing.T) {
		db := newTestDB(t)
		if err := db.FinishSyncOperation(99, "success"); !errors.Is(err, glassy.ErrNotFound) {
			t.Errorf("FinishSyncOperation() error = %v, want ErrNotFound", err)
		}
	})
}
