package staff

import "github.com/google/uuid"

// UpsertWorkerInput registers a worker at login or refreshes the roster entry.
type UpsertWorkerInput struct {
	WorkerID    uuid.UUID
	DisplayName string
	Available   bool
}
