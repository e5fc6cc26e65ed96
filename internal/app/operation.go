package app

// SyncOperation tracks a CLI operation that may touch the remote project.
// Operations are created in memory with ID=0. Only recorded commands persist
// them (giving them an auto-increment ID from the history database).
type SyncOperation struct {
	ID           int64
	Operation    string
	Parameters   string
	Status       string // "success" or "error"
	TopicCount   int
	ErrorCount   int
	SnapshotName string
}

// NewSyncOperation creates a new in-memory sync operation.
func NewSyncOperation(operation, parameters string) *SyncOperation {
	return &SyncOperation{
		Operation:  operation,
		Parameters: parameters,
		Status:     "success",
	}
}

// Persisted returns true if this operation has been saved to the history database.
func (op *SyncOperation) Persisted() bool {
	return op.ID != 0
}
