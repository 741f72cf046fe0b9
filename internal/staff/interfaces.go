package staff

import (
	"context"
	"time"

	"github.com/barberdeskapp/barberdesk-backend/pkg/db/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Repository defines the durable worker-roster operations. Claim is the only
// conditional write: it flips an available worker to busy in one swap so two
// assignment attempts can never share a worker.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	UpsertWorker(ctx context.Context, worker *models.Worker) (*models.Worker, error)
	FindWorkerByID(ctx context.Context, id uuid.UUID) (*models.Worker, error)
	ListAvailableWorkers(ctx context.Context) ([]models.Worker, error)
	ListWorkers(ctx context.Context) ([]models.Worker, error)
	ListWorkersStaleSince(ctx context.Context, cutoff time.Time) ([]models.Worker, error)
	ClaimWorker(ctx context.Context, workerID, ticketID uuid.UUID) (bool, error)
	ReleaseWorker(ctx context.Context, workerID uuid.UUID, idleSince time.Time) (bool, error)
	UpdateHeartbeat(ctx context.Context, workerID uuid.UUID, at time.Time) (bool, error)
	SetWorkerAvailability(ctx context.Context, workerID uuid.UUID, available bool, idleSince time.Time) (bool, error)
}
