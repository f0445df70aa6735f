package glassy

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"glassy-go/internal/model"
)

// UploadItem is one pending local change to send.
type UploadItem struct {
	Path   string
	Hash   string
	Size   int64
	Change model.ChangeType
}

// PendingUploads lists the pending local changes of a project as upload items.
func (s *Service) PendingUploads(pid int64) ([]UploadItem, error) {
	pending, err := s.PendingChanges(pid)
	if err != nil {
		return nil, err
	}
	items := make([]UploadItem, len(pending))
	for i, r := range pending {
		items[i] = UploadItem{Path: r.Path, Hash: r.CurrHash, Size: r.Size, Change: r.ChangeType}
	}
	return items, nil
}

// Upload sends items one at a time under commitID. The first failure
// aborts the batch; the returned count says how many were confirmed.
// Items whose ledger record no longer carries a change are skipped but
// still count toward progress. After a complete batch the project's base
// commit becomes commitID.
func (s *Service) Upload(ctx context.Context, pid int64, token string, commitID int64, items []UploadItem, progress ProgressFunc) (int, error) {
	server, project, err := s.activeProject(pid)
	if err != nil {
		return 0, err
	}
	root := projectDir(server, project)
	endpoint := server.EndpointURL()

	session := s.sessions.NewSession()
	s.logger.Info("upload started", "session", session, "project", pid, "commit", commitID, "items", len(items))

	counter := newProgressCounter(ActionUpload, len(items), progress)
	uploaded := 0

	for _, item := range items {
		current, skip, err := s.refreshItem(server.URL, pid, item)
		if err != nil {
			return uploaded, err
		}
		if skip {
			s.logger.Debug("skipping superseded change", "path", item.Path)
			counter.step()
			continue
		}

		form := UploadForm{
			ProjectID: pid,
			CommitID:  commitID,
			Path:      current.Path,
			Size:      current.Size,
			Hash:      current.Hash,
			Change:    current.Change.String(),
		}
		if current.Change != model.Delete {
			if !localPath(current.Path) {
				return uploaded, fmt.Errorf("path escapes project directory: %s", current.Path)
			}
			content, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(current.Path)))
			if err != nil {
				return uploaded, fmt.Errorf("reading %s: %w", current.Path, err)
			}
			form.Content = content
			form.Size = int64(len(content))
		}

		if err := s.remote.Upload(ctx, endpoint, token, form); err != nil {
			s.logger.Error("upload failed", "session", session, "path", current.Path, "uploaded", uploaded, "error", err)
			return uploaded, fmt.Errorf("uploading %s: %w", current.Path, err)
		}

		if err := s.confirmUpload(server.URL, pid, current, form.Size, commitID); err != nil {
			return uploaded, err
		}
		uploaded++
		counter.step()
	}

	if err := s.database.SetProjectCommit(server.URL, pid, commitID); err != nil {
		return uploaded, fmt.Errorf("recording commit: %w", err)
	}

	s.logger.Info("upload finished", "session", session, "uploaded", uploaded)
	return uploaded, nil
}

// refreshItem re-reads the ledger so a change superseded since the caller
// listed it is not sent stale.
func (s *Service) refreshItem(serverURL string, pid int64, item UploadItem) (UploadItem, bool, error) {
	record, err := s.database.GetFile(serverURL, pid, item.Path)
	if errors.Is(err, ErrNotFound) {
		return item, item.Change == model.Delete || item.Change == model.NoChange, nil
	}
	if err != nil {
		return item, false, fmt.Errorf("reading record %s: %w", item.Path, err)
	}
	if record.ChangeType == model.NoChange {
		return item, true, nil
	}
	return UploadItem{
		Path:   record.Path,
		Hash:   record.CurrHash,
		Size:   record.Size,
		Change: record.ChangeType,
	}, false, nil
}

// confirmUpload makes the ledger reflect a change the server accepted.
func (s *Service) confirmUpload(serverURL string, pid int64, item UploadItem, size int64, commitID int64) error {
	if item.Change == model.Delete {
		if err := s.database.DeleteFile(serverURL, pid, item.Path); err != nil {
			return fmt.Errorf("dropping record %s: %w", item.Path, err)
		}
		return nil
	}
	if err := s.database.StageTransferTarget(serverURL, pid, item.Path, item.Hash, commitID, size); err != nil {
		return fmt.Errorf("staging %s: %w", item.Path, err)
	}
	if err := s.database.CommitTransfer(serverURL, pid, item.Path); err != nil {
		return fmt.Errorf("committing %s: %w", item.Path, err)
	}
	return nil
}
