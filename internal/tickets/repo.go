package tickets

import (
	"context"
	"time"

	"github.com/barberdeskapp/barberdesk-backend/internal/repo"
	"github.com/barberdeskapp/barberdesk-backend/pkg/db/models"
	"github.com/barberdeskapp/barberdesk-backend/pkg/enums"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type repository struct {
	base repo.Base
}

// NewRepository builds a tickets repository bound to the provided DB. Every
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

func (r *repository) CreateTicket(ctx context.Context, ticket *models.Ticket) (*models.Ticket, error) {
	ctx, cancel := r.base.Bound(ctx)
	defer cancel()
	if err := r.base.DB(ctx).Create(ticket).Error; err != nil {
		return nil, err
	}
	return ticket, nil
}

func (r *repository) FindTicketByID(ctx context.Context, id uuid.UUID) (*models.Ticket, error) {
	ctx, cancel := r.base.Bound(ctx)
	defer cancel()
	var ticket models.Ticket
	err := r.base.DB(ctx).
		Where("id = ?", id).
		First(&ticket).Error
	if err != nil {
		return nil, err
	}
	return &ticket, nil
}

func (r *repository) FindTicketByCreationKey(ctx context.Context, key string) (*models.Ticket, error) {
	ctx, cancel := r.base.Bound(ctx)
	defer cancel()
	var ticket models.Ticket
	err := r.base.DB(ctx).
		Where("creation_key = ?", key).
		First(&ticket).Error
	if err != nil {
		return nil, err
	}
	return &ticket, nil
}

// AssignTicket swaps PENDING-like expected status for ASSIGNED and attaches
// the worker in one conditional update. A false result means another process
// won the ticket first.
func (r *repository) AssignTicket(ctx context.Context, ticketID, workerID uuid.UUID, expected enums.TicketStatus) (bool, error) {
	ctx, cancel := r.base.Bound(ctx)
	defer cancel()
	res := r.base.DB(ctx).
		Model(&models.Ticket{}).
		Where("id = ? AND status = ?", ticketID, expected).
		Updates(map[string]any{
			"status":      enums.TicketStatusAssigned,
			"assignee_id": workerID,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) UpdateTicketStatus(ctx context.Context, ticketID uuid.UUID, expected, next enums.TicketStatus, clearAssignee bool) (bool, error) {
	ctx, cancel := r.base.Bound(ctx)
	defer cancel()
	updates := map[string]any{"status": next}
	if clearAssignee {
		updates["assignee_id"] = nil
	}
	res := r.base.DB(ctx).
		Model(&models.Ticket{}).
		Where("id = ? AND status = ?", ticketID, expected).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// QueryPendingTickets returns pending tickets oldest first, bounded at the
// store so large queues never materialize in memory.
func (r *repository) QueryPendingTickets(ctx context.Context, limit int) ([]models.Ticket, error) {
	ctx, cancel := r.base.Bound(ctx)
	defer cancel()
	query := r.base.DB(ctx).
		Where("status = ?", enums.TicketStatusPending).
		Order("created_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var pending []models.Ticket
	if err := query.Find(&pending).Error; err != nil {
		return nil, err
	}
	return pending, nil
}

// ListActiveTickets returns every non-terminal ticket, oldest first. Resync
// snapshots are built from this read.
func (r *repository) ListActiveTickets(ctx context.Context) ([]models.Ticket, error) {
	ctx, cancel := r.base.Bound(ctx)
	defer cancel()
	var active []models.Ticket
	err := r.base.DB(ctx).
		Where("status IN ?", []enums.TicketStatus{
			enums.TicketStatusPending,
			enums.TicketStatusAssigned,
			enums.TicketStatusInProgress,
		}).
		Order("created_at ASC").
		Find(&active).Error
	if err != nil {
		return nil, err
	}
	return active, nil
}
