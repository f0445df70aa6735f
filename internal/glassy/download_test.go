package glassy_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"glassy-go/internal/glassy"
	"glassy-go/internal/model"
)

// recordProgress collects progress events.
func recordProgress(events *[]glassy.Progress) glassy.ProgressFunc {
	return func(p glassy.Progress) {
		*events = append(*events, p)
	}
}

func assertProgress(t *testing.T, events []glassy.Progress, action string, total int) {
	t.Helper()
	if len(events) != total {
		t.Fatalf("got %d progress events, want %d", len(events), total)
	}
	for i, e := range events {
		if e.Action != action || e.Done != i+1 || e.Total != total {
			t.Errorf("event %d = %+v, want {%s %d %d}", i, e, action, i+1, total)
		}
	}
}

func (f *fixture) download(t *testing.T, requests []glassy.DownloadRequest) *glassy.DownloadResult {
	t.Helper()
	result, err := f.svc.Download(context.Background(), testPID, "token", requests, nil)
	if err != nil {
		t.Fatalf("Download() error = %v", err)
	}
	return result
}

func TestService_Download(t *testing.T) {
	t.Run("assembles files and promotes records", func(t *testing.T) {
		f := newFixture(t, glassy.Options{})
		a := f.remote.AddFile("a.sldprt", 4, "part-", "one")
		b := f.remote.AddFile("sub/b.sldasm", 4, "assembly")

		var events []glassy.Progress
		result, err := f.svc.Download(context.Background(), testPID, "token", []glassy.DownloadRequest{a, b}, recordProgress(&events))
		if err != nil {
			t.Fatalf("Download() error = %v", err)
		}

		if len(result.Downloaded) != 2 || len(result.Failed) != 0 {
			t.Fatalf("result = %+v, want 2 downloaded", result)
		}
		if got := f.readFile(t, "a.sldprt"); got != "part-one" {
			t.Errorf("a.sldprt = %q, want %q", got, "part-one")
		}
		if got := f.readFile(t, "sub/b.sldasm"); got != "assembly" {
			t.Errorf("sub/b.sldasm = %q, want %q", got, "assembly")
		}

		r := f.record(t, "a.sldprt")
		if r.BaseHash != a.Hash || r.CurrHash != a.Hash || r.ChangeType != model.NoChange || !r.InFS || r.BaseCommitID != 4 || r.Size != a.Size {
			t.Errorf("record = %+v, want promoted to %s at commit 4", r, a.Hash)
		}

		assertProgress(t, events, glassy.ActionDownload, 2)
		if f.remote.ManifestCalls() != 2 || f.remote.ChunkCalls() != 3 {
			t.Errorf("calls = %d manifests, %d chunks, want 2 and 3", f.remote.ManifestCalls(), f.remote.ChunkCalls())
		}
	})

	t.Run("downloaded files scan as unchanged", func(t *testing.T) {
		f := newFixture(t, glassy.Options{})
		a := f.remote.AddFile("a.txt", 2, "alpha")
		f.download(t, []glassy.DownloadRequest{a})

		report := f.scan(t)
		if len(report.Pending) != 0 {
			t.Errorf("Pending = %v, want none", changesByPath(report.Pending))
		}
	})

	t.Run("requests sharing content share one manifest request", func(t *testing.T) {
		f := newFixture(t, glassy.Options{})
		a := f.remote.AddFile("a.txt", 2, "same", "bytes")
		b := f.remote.AddFile("copy/a.txt", 2, "same", "bytes")

		result := f.download(t, []glassy.DownloadRequest{a, b})

		if len(result.Downloaded) != 2 {
			t.Fatalf("Downloaded = %v, want both paths", result.Downloaded)
		}
		if f.remote.ManifestCalls() != 1 || f.remote.ChunkCalls() != 2 {
			t.Errorf("calls = %d manifests, %d chunks, want 1 and 2", f.remote.ManifestCalls(), f.remote.ChunkCalls())
		}
		if got := f.readFile(t, "copy/a.txt"); got != "samebytes" {
			t.Errorf("copy/a.txt = %q", got)
		}
	})

	t.Run("cached content needs no network", func(t *testing.T) {
		f := newFixture(t, glassy.Options{})
		if err := f.svc.SetCacheSetting(true); err != nil {
			t.Fatal(err)
		}
		a := f.remote.AddFile("a.txt", 2, "cached ", "content")
		f.download(t, []glassy.DownloadRequest{a})
		manifests, chunks := f.remote.ManifestCalls(), f.remote.ChunkCalls()

		again := a
		again.Path = "elsewhere/a.txt"
		var events []glassy.Progress
		result, err := f.svc.Download(context.Background(), testPID, "token", []glassy.DownloadRequest{again}, recordProgress(&events))
		if err != nil {
			t.Fatalf("Download() error = %v", err)
		}

		if result.FromCache != 1 || len(result.Downloaded) != 1 {
			t.Errorf("result = %+v, want 1 from cache and downloaded", result)
		}
		if f.remote.ManifestCalls() != manifests || f.remote.ChunkCalls() != chunks {
			t.Error("cached download made network calls")
		}
		if got := f.readFile(t, "elsewhere/a.txt"); got != "cached content" {
			t.Errorf("elsewhere/a.txt = %q", got)
		}
		assertProgress(t, events, glassy.ActionDownload, 1)
	})

	t.Run("content is evicted when the cache setting is off", func(t *testing.T) {
		f := newFixture(t, glassy.Options{})
		a := f.remote.AddFile("a.txt", 2, "transient")
		f.download(t, []glassy.DownloadRequest{a})

		if f.cache.Has(a.Hash) {
			t.Error("cache kept content with cache setting off")
		}
		if got := f.readFile(t, "a.txt"); got != "transient" {
			t.Errorf("a.txt = %q", got)
		}
	})

	t.Run("content is kept when the cache setting is on", func(t *testing.T) {
		f := newFixture(t, glassy.Options{})
		f.svc.SetCacheSetting(true)
		a := f.remote.AddFile("a.txt", 2, "kept")
		f.download(t, []glassy.DownloadRequest{a})

		complete, err := f.cache.Complete(a.Hash)
		if err != nil || !complete {
			t.Errorf("Complete() = %v, %v, want true", complete, err)
		}
	})

	t.Run("pools stay within their limits", func(t *testing.T) {
		f := newFixture(t, glassy.Options{ManifestConcurrency: 2, ChunkConcurrency: 3})
		f.remote.Delay = 30 * time.Millisecond

		var requests []glassy.DownloadRequest
		for i := 0; i < 6; i++ {
			requests = append(requests, f.remote.AddFile(
				fmt.Sprintf("f%d.bin", i), 2,
				fmt.Sprintf("%d-a", i), fmt.Sprintf("%d-b", i), fmt.Sprintf("%d-c", i),
			))
		}

		result := f.download(t, requests)
		if len(result.Downloaded) != 6 {
			t.Fatalf("Downloaded = %d, want 6 (failed %+v)", len(result.Downloaded), result.Failed)
		}

		if got := f.remote.MaxManifestsInFlight(); got != 2 {
			t.Errorf("max manifests in flight = %d, want 2", got)
		}
		if got := f.remote.MaxChunksInFlight(); got > 3 || got < 2 {
			t.Errorf("max chunks in flight = %d, want between 2 and 3", got)
		}
	})

	t.Run("one failure does not abort the batch", func(t *testing.T) {
		f := newFixture(t, glassy.Options{})
		good := f.remote.AddFile("good.txt", 2, "fine")
		bad := f.remote.AddFile("bad.txt", 2, "broken")
		f.remote.FailManifest["bad.txt"] = fmt.Errorf("manifest for bad.txt: %w", glassy.ErrServer)

		var events []glassy.Progress
		result, err := f.svc.Download(context.Background(), testPID, "token", []glassy.DownloadRequest{bad, good}, recordProgress(&events))
		if err != nil {
			t.Fatalf("Download() error = %v", err)
		}

		if len(result.Downloaded) != 1 || result.Downloaded[0] != "good.txt" {
			t.Errorf("Downloaded = %v, want good.txt", result.Downloaded)
		}
		if len(result.Failed) != 1 || result.Failed[0].Path != "bad.txt" || !errors.Is(result.Failed[0].Err, glassy.ErrServer) {
			t.Fatalf("Failed = %+v, want bad.txt with server error", result.Failed)
		}
		if f.exists("bad.txt") {
			t.Error("failed download left a file behind")
		}
		r := f.record(t, "bad.txt")
		if r.BaseHash != "" || r.TrackedHash != bad.Hash {
			t.Errorf("record = %+v, want staged but not promoted", r)
		}
		assertProgress(t, events, glassy.ActionDownload, 2)
	})

	t.Run("failed chunk is refetched on retry", func(t *testing.T) {
		f := newFixture(t, glassy.Options{})
		a := f.remote.AddFile("a.txt", 2, "first", "second")
		block := f.remote.BlockHash("second")
		f.remote.FailChunk[block] = fmt.Errorf("chunk: %w", glassy.ErrTransport)

		result := f.download(t, []glassy.DownloadRequest{a})
		if len(result.Failed) != 1 || !errors.Is(result.Failed[0].Err, glassy.ErrTransport) {
			t.Fatalf("Failed = %+v, want transport error", result.Failed)
		}
		if !f.cache.Has(a.Hash) {
			t.Error("mapping not persisted after manifest succeeded")
		}
		if complete, _ := f.cache.Complete(a.Hash); complete {
			t.Error("Complete() = true with a missing chunk")
		}

		delete(f.remote.FailChunk, block)
		result = f.download(t, []glassy.DownloadRequest{a})

		if result.FromCache != 0 || len(result.Downloaded) != 1 {
			t.Fatalf("retry result = %+v, want downloaded over the network", result)
		}
		if f.remote.ChunkCalls() != 3 {
			t.Errorf("ChunkCalls() = %d, want 3 (present chunk not refetched)", f.remote.ChunkCalls())
		}
		if got := f.readFile(t, "a.txt"); got != "firstsecond" {
			t.Errorf("a.txt = %q", got)
		}
	})

	t.Run("empty manifest fails without caching", func(t *testing.T) {
		f := newFixture(t, glassy.Options{})
		empty := f.remote.AddFile("empty.txt", 2)

		result := f.download(t, []glassy.DownloadRequest{empty})

		if len(result.Failed) != 1 || !errors.Is(result.Failed[0].Err, glassy.ErrEmptyMapping) {
			t.Fatalf("Failed = %+v, want empty mapping", result.Failed)
		}
		if f.cache.Has(empty.Hash) {
			t.Error("empty mapping was cached")
		}
	})

	t.Run("unsynced local edit is a conflict", func(t *testing.T) {
		f := newFixture(t, glassy.Options{})
		f.writeFile(t, "a.txt", "v1")
		f.confirm(t, "a.txt", "v1")
		f.writeFile(t, "a.txt", "local edit")
		f.scan(t)

		remote := f.remote.AddFile("a.txt", 3, "remote edit")
		result := f.download(t, []glassy.DownloadRequest{remote})

		if len(result.Conflicts) != 1 || result.Conflicts[0] != "a.txt" {
			t.Fatalf("Conflicts = %v, want a.txt", result.Conflicts)
		}
		if got := f.readFile(t, "a.txt"); got != "local edit" {
			t.Errorf("a.txt = %q, local edit overwritten", got)
		}
		if r := f.record(t, "a.txt"); r.ChangeType != model.Update {
			t.Errorf("ChangeType = %v, want update", r.ChangeType)
		}
	})

	t.Run("file placed before its ledger commit converges", func(t *testing.T) {
		f := newFixture(t, glassy.Options{})
		req := f.remote.AddFile("a.txt", 3, "landed")

		// The file reached disk and a scan saw it, but the commit never ran.
		f.writeFile(t, "a.txt", "landed")
		f.scan(t)

		result := f.download(t, []glassy.DownloadRequest{req})

		if len(result.Downloaded) != 1 || len(result.Conflicts) != 0 {
			t.Fatalf("result = %+v, want downloaded without conflict", result)
		}
		r := f.record(t, "a.txt")
		if r.ChangeType != model.NoChange || r.BaseHash != req.Hash || r.BaseCommitID != 3 {
			t.Errorf("record = %+v, want synced at commit 3", r)
		}
	})

	t.Run("remote deletion removes file and record", func(t *testing.T) {
		f := newFixture(t, glassy.Options{})
		f.writeFile(t, "old.txt", "old")
		f.confirm(t, "old.txt", "old")

		result := f.download(t, []glassy.DownloadRequest{
			{Path: "old.txt", CommitID: 5},
			{Path: "never-existed.txt", CommitID: 5},
		})

		if len(result.Deleted) != 2 || len(result.Failed) != 0 {
			t.Fatalf("result = %+v, want 2 deleted", result)
		}
		if f.exists("old.txt") {
			t.Error("old.txt still on disk")
		}
		if _, err := f.db.GetFile(testServer, testPID, "old.txt"); !errors.Is(err, glassy.ErrNotFound) {
			t.Errorf("GetFile() error = %v, want ErrNotFound", err)
		}
		if f.remote.ManifestCalls() != 0 {
			t.Error("deletions made manifest requests")
		}
	})

	t.Run("remote deletion of a locally edited file is a conflict", func(t *testing.T) {
		f := newFixture(t, glassy.Options{})
		f.writeFile(t, "new.txt", "mine")
		f.scan(t)

		result := f.download(t, []glassy.DownloadRequest{{Path: "new.txt", CommitID: 5}})

		if len(result.Conflicts) != 1 || len(result.Deleted) != 0 {
			t.Fatalf("result = %+v, want conflict", result)
		}
		if !f.exists("new.txt") {
			t.Error("locally created file was removed")
		}
	})

	t.Run("paths outside the project are rejected", func(t *testing.T) {
		f := newFixture(t, glassy.Options{})

		result := f.download(t, []glassy.DownloadRequest{
			{Path: "../escape.txt", Hash: "abc", CommitID: 1, Download: true},
			{Path: "../escape.txt", CommitID: 1},
		})

		if len(result.Failed) != 2 {
			t.Fatalf("Failed = %+v, want both rejected", result.Failed)
		}
		if _, err := os.Stat(filepath.Join(filepath.Dir(f.projectDir), "escape.txt")); !os.IsNotExist(err) {
			t.Error("file written outside the project directory")
		}
		records, _ := f.db.ListFiles(testServer, testPID)
		if len(records) != 0 {
			t.Errorf("ledger has %d records, want 0", len(records))
		}
	})

	t.Run("unknown project has no side effects", func(t *testing.T) {
		f := newFixture(t, glassy.Options{})
		a := f.remote.AddFile("a.txt", 2, "alpha")

		_, err := f.svc.Download(context.Background(), 999, "token", []glassy.DownloadRequest{a}, nil)
		if !errors.Is(err, glassy.ErrUnknownProject) {
			t.Fatalf("Download() error = %v, want ErrUnknownProject", err)
		}
		if f.remote.ManifestCalls() != 0 {
			t.Error("network call made for unknown project")
		}
		records, _ := f.db.ListFiles(testServer, 999)
		if len(records) != 0 {
			t.Error("ledger written for unknown project")
		}
	})
}
