package glassy_test

import (
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/spf13/afero"

	"glassy-go/internal/cache"
	"glassy-go/internal/fingerprint"
	"glassy-go/internal/glassy"
	"glassy-go/internal/model"
	"glassy-go/internal/testutil"
)

const (
	testServer = "https://pdm.example.com"
	testPID    = int64(7)
)

type fixture struct {
	svc        *glassy.Service
	db         glassy.Database
	cache      *cache.FileSystemCache
	remote     *testutil.FakeRemote
	localDir   string
	projectDir string
	snapshots  string
}

// newFixture builds a service over a real cache and fingerprinter in a temp
// directory, with one active server and one joined project.
func newFixture(t *testing.T, opts glassy.Options) *fixture {
	t.Helper()

	base := t.TempDir()
	db := testutil.NewTestDatabase(t)
	c, err := cache.NewFileSystemCache(filepath.Join(base, "cache"), nil)
	if err != nil {
		t.Fatalf("NewFileSystemCache() error = %v", err)
	}
	remote := testutil.NewFakeRemote()
	fp := fingerprint.NewFingerprinter(afero.NewOsFs(), 2, nil)

	if opts.SnapshotDir == "" {
		opts.SnapshotDir = filepath.Join(base, "snapshots")
	}
	svc := glassy.NewService(db, c, remote, fp, glassy.Discard, testutil.FixedClock(), &testutil.SequentialSessions{}, opts)

	localDir := filepath.Join(base, "projects")
	if err := svc.AddServer(testServer, "example", localDir); err != nil {
		t.Fatalf("AddServer() error = %v", err)
	}
	if err := svc.AddProject(testPID, "Gearbox", "Drivetrain", 1); err != nil {
		t.Fatalf("AddProject() error = %v", err)
	}
	projectDir, err := svc.ProjectDir(testPID)
	if err != nil {
		t.Fatalf("ProjectDir() error = %v", err)
	}

	return &fixture{
		svc:        svc,
		db:         db,
		cache:      c,
		remote:     remote,
		localDir:   localDir,
		projectDir: projectDir,
		snapshots:  opts.SnapshotDir,
	}
}

// snapshotFile is where the fingerprinter keeps the project's base.json.
func (f *fixture) snapshotFile() string {
	return filepath.Join(f.snapshots, url.QueryEscape(testServer), strconv.FormatInt(testPID, 10), "base.json")
}

func (f *fixture) writeFile(t *testing.T, rel string, content string) {
	t.Helper()
	p := filepath.Join(f.projectDir, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func (f *fixture) readFile(t *testing.T, rel string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(f.projectDir, filepath.FromSlash(rel)))
	if err != nil {
		t.Fatalf("reading %s: %v", rel, err)
	}
	return string(data)
}

func (f *fixture) exists(rel string) bool {
	_, err := os.Stat(filepath.Join(f.projectDir, filepath.FromSlash(rel)))
	return err == nil
}

func (f *fixture) scan(t *testing.T) *glassy.ScanReport {
	t.Helper()
	report, err := f.svc.Scan(testPID, nil)
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	return report
}

func (f *fixture) record(t *testing.T, rel string) *model.FileRecord {
	t.Helper()
	r, err := f.db.GetFile(testServer, testPID, rel)
	if err != nil {
		t.Fatalf("GetFile(%s) error = %v", rel, err)
	}
	return r
}
