package glassy

import (
	"fmt"

	"glassy-go/internal/model"
)

// GetHistory returns the most recent sync operations, ordered newest first.
func (s *Service) GetHistory(limit int) ([]*model.SyncOperation, error) {
	ops, err := s.database.ListSyncOperations(limit)
	if err != nil {
		return nil, fmt.Errorf("listing sync operations: %w", err)
	}
	return ops, nil
}
