package tickets

import (
	"context"

	"github.com/barberdeskapp/barberdesk-backend/pkg/db/models"
	"github.com/barberdeskapp/barberdesk-backend/pkg/enums"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Repository defines the durable ticket operations. Every status mutation is
// compare-and-swap on the expected previous status; the boolean result reports
// whether the swap won.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	CreateTicket(ctx context.Context, ticket *models.Ticket) (*models.Ticket, error)
	FindTicketByID(ctx context.Context, id uuid.UUID) (*models.Ticket, error)
	FindTicketByCreationKey(ctx context.Context, key string) (*models.Ticket, error)
	AssignTicket(ctx context.Context, ticketID, workerID uuid.UUID, expected enums.TicketStatus) (bool, error)
	UpdateTicketStatus(ctx context.Context, ticketID uuid.UUID, expected, next enums.TicketStatus, clearAssignee bool) (bool, error)
	QueryPendingTickets(ctx context.Context, limit int) ([]models.Ticket, error)
	ListActiveTickets(ctx context.Context) ([]models.Ticket, error)
}
