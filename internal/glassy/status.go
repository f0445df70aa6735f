package glassy

import (
	"fmt"

	"glassy-go/internal/model"
)

// Status returns every ledger record of a project, ordered by path.
func (s *Service) Status(pid int64) ([]*model.FileRecord, error) {
	server, _, err := s.activeProject(pid)
	if err != nil {
		return nil, err
	}
	records, err := s.database.ListFiles(server.URL, pid)
	if err != nil {
		return nil, fmt.Errorf("listing ledger: %w", err)
	}
	return records, nil
}

// PendingChanges returns the records of a project that carry a local change.
func (s *Service) PendingChanges(pid int64) ([]*model.FileRecord, error) {
	server, _, err := s.activeProject(pid)
	if err != nil {
		return nil, err
	}
	return s.pendingChanges(server.URL, pid)
}

func (s *Service) pendingChanges(serverURL string, pid int64) ([]*model.FileRecord, error) {
	records, err := s.database.ListFiles(serverURL, pid)
	if err != nil {
		return nil, fmt.Errorf("listing ledger: %w", err)
	}
	var pending []*model.FileRecord
	for _, r := range records {
		if r.ChangeType != model.NoChange {
			pending = append(pending, r)
		}
	}
	return pending, nil
}
