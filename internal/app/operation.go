package app

const (
	StatusSuccess = "success"
	StatusPartial = "partial"
	StatusError   = "error"
)

// SyncOperation tracks a CLI operation that may mutate local state.
// Operations are created in memory with ID=0. Only mutating commands
// persist them (giving them an auto-increment ID from the database).
type SyncOperation struct {
	ID         int64
	Operation  string
	Parameters string
	Status     string // StatusSuccess, StatusPartial or StatusError
}

// NewSyncOperation creates a new in-memory sync operation.
func NewSyncOperation(operation, parameters string) *SyncOperation {
	return &SyncOperation{
		Operation:  operation,
		Parameters: parameters,
		Status:     StatusSuccess,
	}
}

// Persisted returns true if this operation has been saved to the database.
func (op *SyncOperation) Persisted() bool {
	return op.ID != 0
}

// Record folds the outcome of one step into the operation status.
// An error always wins over a partial result.
func (op *SyncOperation) Record(err error, partial bool) {
	switch {
	case err != nil:
		op.Status = StatusError
	case partial && op.Status == StatusSuccess:
		op.Status = StatusPartial
	}
}
