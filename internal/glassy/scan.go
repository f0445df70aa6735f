package glassy

import (
	"fmt"

	"glassy-go/internal/model"
)

// ScanReport is the outcome of one scan of a project directory.
type ScanReport struct {
	Fingerprint *Fingerprint
	Pending     []*model.FileRecord // Records with a change other than NoChange
}

// Scan fingerprints the project directory, replaces its snapshot and
// reclassifies every path in the ledger. Scanning an unchanged directory
// twice leaves the ledger as it was after the first scan.
func (s *Service) Scan(pid int64, ignore []string) (*ScanReport, error) {
	server, project, err := s.activeProject(pid)
	if err != nil {
		return nil, err
	}
	root := projectDir(server, project)

	s.logger.Debug("scanning project", "project", pid, "root", root)

	fp, err := s.fingerprinter.Fingerprint(root, s.snapshotPath(server.URL, pid), ignore)
	if err != nil {
		return nil, fmt.Errorf("fingerprinting %s: %w", root, err)
	}

	records, err := s.database.ListFiles(server.URL, pid)
	if err != nil {
		return nil, fmt.Errorf("listing ledger: %w", err)
	}
	existing := make(map[string]*model.FileRecord, len(records))
	for _, r := range records {
		existing[r.Path] = r
	}

	seen := make(map[string]bool, len(fp.Files))
	for _, f := range fp.Files {
		seen[f.Path] = true
		change, ok := model.Classify(existing[f.Path], true, f.Hash)
		if !ok {
			continue
		}
		if err := s.database.UpsertScannedFile(server.URL, pid, f.Path, f.Hash, f.Size, change); err != nil {
			return nil, fmt.Errorf("recording %s: %w", f.Path, err)
		}
	}

	for path, prev := range existing {
		if seen[path] {
			continue
		}
		change, ok := model.Classify(prev, false, "")
		if !ok {
			continue
		}
		// A file created and removed between two syncs leaves nothing behind.
		if prev.BaseHash == "" {
			if err := s.database.DeleteFile(server.URL, pid, path); err != nil {
				return nil, fmt.Errorf("dropping %s: %w", path, err)
			}
			continue
		}
		if err := s.database.UpsertScannedFile(server.URL, pid, path, prev.CurrHash, prev.Size, change); err != nil {
			return nil, fmt.Errorf("recording %s: %w", path, err)
		}
	}

	pending, err := s.pendingChanges(server.URL, pid)
	if err != nil {
		return nil, err
	}

	s.logger.Info("scan complete", "project", pid, "files", len(fp.Files), "pending", len(pending), "tree", fp.TreeHash)
	return &ScanReport{Fingerprint: fp, Pending: pending}, nil
}
