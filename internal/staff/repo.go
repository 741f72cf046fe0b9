package staff

import (
	"context"
	"time"

	"github.com/barberdeskapp/barberdesk-backend/internal/repo"
	"github.com/barberdeskapp/barberdesk-backend/pkg/db/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repository struct {
	base repo.Base
}

// NewRepository builds a staff repository bound to the provided DB. Every
// call is capped at queryTimeout; zero falls back to the package default.
func NewRepository(db *gorm.DB, queryTimeout time.Duration) Repository {
	return &repository{base: repo.NewBase(db, queryTimeout)}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{base: r.base.Rebind(tx)}
}

// UpsertWorker inserts or refreshes a roster row. current_ticket_id is
// deliberately absent from the conflict update: ClaimWorker and ReleaseWorker
// are the only writers of the attachment.
func (r *repository) UpsertWorker(ctx context.Context, worker *models.Worker) (*models.Worker, error) {
	ctx, cancel := r.base.Bound(ctx)
	defer cancel()
	err := r.base.DB(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"display_name", "available", "last_heartbeat", "idle_since", "updated_at",
			}),
		}).
		Create(worker).Error
	if err != nil {
		return nil, err
	}
	return worker, nil
}

func (r *repository) FindWorkerByID(ctx context.Context, id uuid.UUID) (*models.Worker, error) {
	ctx, cancel := r.base.Bound(ctx)
	defer cancel()
	var worker models.Worker
	err := r.base.DB(ctx).
		Where("id = ?", id).
		First(&worker).Error
	if err != nil {
		return nil, err
	}
	return &worker, nil
}

// ListAvailableWorkers orders by longest idle first, worker id as tie-break,
// so assignment is deterministic and starvation-free.
func (r *repository) ListAvailableWorkers(ctx context.Context) ([]models.Worker, error) {
	ctx, cancel := r.base.Bound(ctx)
	defer cancel()
	var workers []models.Worker
	err := r.base.DB(ctx).
		Where("available = ?", true).
		Order("idle_since ASC").
		Order("id ASC").
		Find(&workers).Error
	if err != nil {
		return nil, err
	}
	return workers, nil
}

func (r *repository) ListWorkers(ctx context.Context) ([]models.Worker, error) {
	ctx, cancel := r.base.Bound(ctx)
	defer cancel()
	var workers []models.Worker
	err := r.base.DB(ctx).
		Order("id ASC").
		Find(&workers).Error
	if err != nil {
		return nil, err
	}
	return workers, nil
}

// ListWorkersStaleSince returns workers whose heartbeat predates the cutoff
// and that are still holding capacity (available or attached to a ticket).
func (r *repository) ListWorkersStaleSince(ctx context.Context, cutoff time.Time) ([]models.Worker, error) {
	ctx, cancel := r.base.Bound(ctx)
	defer cancel()
	var workers []models.Worker
	err := r.base.DB(ctx).
		Where("last_heartbeat < ?", cutoff).
		Where("available = ? OR current_ticket_id IS NOT NULL", true).
		Order("last_heartbeat ASC").
		Find(&workers).Error
	if err != nil {
		return nil, err
	}
	return workers, nil
}

func (r *repository) ClaimWorker(ctx context.Context, workerID, ticketID uuid.UUID) (bool, error) {
	ctx, cancel := r.base.Bound(ctx)
	defer cancel()
	res := r.base.DB(ctx).
		Model(&models.Worker{}).
		Where("id = ? AND available = ?", workerID, true).
		Updates(map[string]any{
			"available":         false,
			"current_ticket_id": ticketID,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) ReleaseWorker(ctx context.Context, workerID uuid.UUID, idleSince time.Time) (bool, error) {
	ctx, cancel := r.base.Bound(ctx)
	defer cancel()
	res := r.base.DB(ctx).
		Model(&models.Worker{}).
		Where("id = ?", workerID).
		Updates(map[string]any{
			"available":         true,
			"current_ticket_id": nil,
			"idle_since":        idleSince,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) UpdateHeartbeat(ctx context.Context, workerID uuid.UUID, at time.Time) (bool, error) {
	ctx, cancel := r.base.Bound(ctx)
	defer cancel()
	res := r.base.DB(ctx).
		Model(&models.Worker{}).
		Where("id = ?", workerID).
		Update("last_heartbeat", at)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// SetWorkerAvailability handles manual toggles and offline marking; the
// current ticket is always detached because ClaimWorker is the only path that
// attaches one.
func (r *repository) SetWorkerAvailability(ctx context.Context, workerID uuid.UUID, available bool, idleSince time.Time) (bool, error) {
	ctx, cancel := r.base.Bound(ctx)
	defer cancel()
	updates := map[string]any{
		"available":         available,
		"current_ticket_id": nil,
	}
	if available {
		updates["idle_since"] = idleSince
	}
	res := r.base.DB(ctx).
		Model(&models.Worker{}).
		Where("id = ?", workerID).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
