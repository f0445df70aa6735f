package glassy

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/sourcegraph/conc/pool"

	"glassy-go/internal/model"
)

// DownloadRequest asks for one path to be brought to a remote state.
// Download false means the path was deleted remotely.
type DownloadRequest struct {
	Path     string `json:"rel_path"`
	Hash     string `json:"hash"`
	CommitID int64  `json:"commit_id"`
	Size     int64  `json:"size"`
	Download bool   `json:"download"`
}

// TransferFailure is a request that could not be completed.
type TransferFailure struct {
	Path string
	Err  error
}

// DownloadResult summarizes one download batch.
type DownloadResult struct {
	Downloaded []string
	Deleted    []string
	FromCache  int      // Requests served without any network call
	Conflicts  []string // Paths left alone because of unsynced local edits
	Failed     []TransferFailure
}

type manifestOutcome struct {
	req      DownloadRequest
	manifest *Manifest
	err      error
}

type chunkJob struct {
	fileHash string
	chunk    ChunkDownload
}

// Download materializes a batch of remote states into the project directory.
//
// Requests whose content is already complete in the cache never touch the
// network. The rest are fetched in two phases: manifests through one bounded
// pool, then chunk bodies through a second, independently bounded pool.
// A failure of one file never aborts the batch; it is reported in the result.
// Ledger records are promoted only after the file is in place.
func (s *Service) Download(ctx context.Context, pid int64, token string, requests []DownloadRequest, progress ProgressFunc) (*DownloadResult, error) {
	server, project, err := s.activeProject(pid)
	if err != nil {
		return nil, err
	}
	root := projectDir(server, project)

	session := s.sessions.NewSession()
	started := s.clock.Now()
	s.logger.Info("download started", "session", session, "project", pid, "requests", len(requests))

	for _, req := range requests {
		if !req.Download || !localPath(req.Path) {
			continue
		}
		if err := s.database.StageTransferTarget(server.URL, pid, req.Path, req.Hash, req.CommitID, req.Size); err != nil {
			return nil, fmt.Errorf("staging %s: %w", req.Path, err)
		}
	}

	result := &DownloadResult{}
	counter := newProgressCounter(ActionDownload, len(requests), progress)
	reported := make([]bool, len(requests))

	// Partition: already cached, or needs network. Requests sharing a hash
	// share one manifest request.
	var fetch []DownloadRequest
	queued := make(map[string]bool)
	for i, req := range requests {
		if !req.Download || req.Hash == "" || !localPath(req.Path) {
			continue
		}
		complete, err := s.cache.Complete(req.Hash)
		if err != nil {
			s.logger.Warn("reading cache mapping", "hash", req.Hash, "error", err)
		}
		if complete {
			result.FromCache++
			reported[i] = true
			counter.step()
			continue
		}
		if !queued[req.Hash] {
			queued[req.Hash] = true
			fetch = append(fetch, req)
		}
	}

	failures := s.fetchContent(ctx, server, pid, token, fetch)

	var assembled []string
	for i, req := range requests {
		if req.Download {
			if s.materialize(server.URL, pid, root, req, failures[req.Hash], result) {
				assembled = append(assembled, req.Hash)
			}
		} else {
			s.removeLocal(server.URL, pid, root, req, result)
		}
		if !reported[i] {
			counter.step()
		}
	}

	if !server.CacheSetting {
		for _, hash := range assembled {
			if err := s.cache.Remove(hash); err != nil {
				s.logger.Warn("evicting cached content", "hash", hash, "error", err)
			}
		}
	}

	s.logger.Info("download finished",
		"session", session,
		"downloaded", len(result.Downloaded),
		"deleted", len(result.Deleted),
		"cached", result.FromCache,
		"conflicts", len(result.Conflicts),
		"failed", len(result.Failed),
		"elapsed", s.clock.Now().Sub(started).String(),
	)
	return result, nil
}

// fetchContent runs the manifest phase and then the chunk phase. It returns
// the first error seen per file hash.
func (s *Service) fetchContent(ctx context.Context, server *model.Server, pid int64, token string, fetch []DownloadRequest) map[string]error {
	failures := make(map[string]error)
	if len(fetch) == 0 {
		return failures
	}
	endpoint := server.EndpointURL()

	manifests := pool.NewWithResults[manifestOutcome]().WithMaxGoroutines(s.opts.ManifestConcurrency)
	for _, req := range fetch {
		manifests.Go(func() manifestOutcome {
			m, err := s.remote.RequestManifest(ctx, endpoint, token, ManifestRequest{
				ProjectID: pid,
				Path:      req.Path,
				CommitID:  req.CommitID,
			})
			return manifestOutcome{req: req, manifest: m, err: err}
		})
	}

	var jobs []chunkJob
	planned := make(map[string]bool)
	for _, out := range manifests.Wait() {
		hash := out.req.Hash
		if out.err != nil {
			s.logger.Warn("manifest request failed", "path", out.req.Path, "error", out.err)
			failures[hash] = out.err
			continue
		}
		if len(out.manifest.Chunks) == 0 {
			failures[hash] = fmt.Errorf("manifest for %s: %w", out.req.Path, ErrEmptyMapping)
			continue
		}
		if out.manifest.FileHash != "" && out.manifest.FileHash != hash {
			s.logger.Warn("manifest hash differs from request", "path", out.req.Path, "requested", hash, "manifest", out.manifest.FileHash)
		}

		refs := make([]model.ChunkRef, len(out.manifest.Chunks))
		for i, c := range out.manifest.Chunks {
			refs[i] = model.ChunkRef{FileHash: hash, BlockHash: c.BlockHash}
		}
		if err := s.cache.PutMapping(hash, refs); err != nil {
			failures[hash] = fmt.Errorf("storing mapping: %w", err)
			continue
		}

		for _, c := range out.manifest.Chunks {
			key := hash + "/" + c.BlockHash
			if planned[key] || s.cache.HasChunk(hash, c.BlockHash) {
				continue
			}
			planned[key] = true
			jobs = append(jobs, chunkJob{fileHash: hash, chunk: c})
		}
	}

	var mu sync.Mutex
	chunks := pool.New().WithMaxGoroutines(s.opts.ChunkConcurrency)
	for _, job := range jobs {
		chunks.Go(func() {
			if err := s.fetchChunk(ctx, job); err != nil {
				s.logger.Warn("chunk download failed", "hash", job.fileHash, "block", job.chunk.BlockHash, "error", err)
				mu.Lock()
				if _, ok := failures[job.fileHash]; !ok {
					failures[job.fileHash] = err
				}
				mu.Unlock()
			}
		})
	}
	chunks.Wait()

	return failures
}

func (s *Service) fetchChunk(ctx context.Context, job chunkJob) error {
	body, err := s.remote.FetchChunk(ctx, job.chunk.URL)
	if err != nil {
		return err
	}
	defer body.Close()

	if err := s.cache.PutChunk(job.fileHash, job.chunk.BlockHash, body); err != nil {
		return fmt.Errorf("caching chunk %s: %w", job.chunk.BlockHash, err)
	}
	return nil
}

// materialize assembles one requested file and promotes its ledger record.
// It reports whether the file was written.
func (s *Service) materialize(serverURL string, pid int64, root string, req DownloadRequest, fetchErr error, result *DownloadResult) bool {
	fail := func(err error) bool {
		s.logger.Warn("download failed", "path", req.Path, "error", err)
		result.Failed = append(result.Failed, TransferFailure{Path: req.Path, Err: err})
		return false
	}

	if !localPath(req.Path) {
		return fail(fmt.Errorf("path escapes project directory: %s", req.Path))
	}
	if req.Hash == "" {
		return fail(fmt.Errorf("no content hash for %s", req.Path))
	}
	if fetchErr != nil {
		return fail(fetchErr)
	}

	conflict, err := s.hasLocalEdit(serverURL, pid, req.Path, req.Hash)
	if err != nil {
		return fail(err)
	}
	if conflict {
		s.logger.Warn("skipping download over unsynced local edit", "path", req.Path)
		result.Conflicts = append(result.Conflicts, req.Path)
		return false
	}

	dest := filepath.Join(root, filepath.FromSlash(req.Path))
	if err := s.cache.Assemble(req.Hash, dest); err != nil {
		return fail(fmt.Errorf("assembling %s: %w", req.Path, err))
	}
	if err := s.database.CommitTransfer(serverURL, pid, req.Path); err != nil {
		return fail(fmt.Errorf("committing %s: %w", req.Path, err))
	}

	result.Downloaded = append(result.Downloaded, req.Path)
	return true
}

// removeLocal applies a remote deletion.
func (s *Service) removeLocal(serverURL string, pid int64, root string, req DownloadRequest, result *DownloadResult) {
	if !localPath(req.Path) {
		result.Failed = append(result.Failed, TransferFailure{Path: req.Path, Err: fmt.Errorf("path escapes project directory: %s", req.Path)})
		return
	}

	record, err := s.database.GetFile(serverURL, pid, req.Path)
	if err != nil && !errors.Is(err, ErrNotFound) {
		result.Failed = append(result.Failed, TransferFailure{Path: req.Path, Err: err})
		return
	}
	if record != nil && (record.ChangeType == model.Create || record.ChangeType == model.Update) {
		s.logger.Warn("skipping remote deletion of locally edited file", "path", req.Path)
		result.Conflicts = append(result.Conflicts, req.Path)
		return
	}

	dest := filepath.Join(root, filepath.FromSlash(req.Path))
	if err := os.Remove(dest); err != nil && !errors.Is(err, os.ErrNotExist) {
		result.Failed = append(result.Failed, TransferFailure{Path: req.Path, Err: fmt.Errorf("removing %s: %w", req.Path, err)})
		return
	}
	if err := s.database.DeleteFile(serverURL, pid, req.Path); err != nil {
		result.Failed = append(result.Failed, TransferFailure{Path: req.Path, Err: fmt.Errorf("dropping record %s: %w", req.Path, err)})
		return
	}
	result.Deleted = append(result.Deleted, req.Path)
}

// hasLocalEdit reports whether the ledger holds a local change for path that
// a download of hash would overwrite. A pending change whose current hash
// already equals the target is a download that landed before its ledger
// commit, not an edit.
func (s *Service) hasLocalEdit(serverURL string, pid int64, path string, hash string) (bool, error) {
	record, err := s.database.GetFile(serverURL, pid, path)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("reading record %s: %w", path, err)
	}
	return record.ChangeType != model.NoChange && record.CurrHash != hash, nil
}

func localPath(p string) bool {
	return p != "" && filepath.IsLocal(filepath.FromSlash(p))
}
