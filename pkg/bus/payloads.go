package bus

import (
	"time"

	"github.com/barberdeskapp/barberdesk-backend/pkg/db/models"
	"github.com/barberdeskapp/barberdesk-backend/pkg/enums"
	"github.com/google/uuid"
)

// TicketEvent carries the full ticket state on tickets.* topics so dashboards
// never need a follow-up read to render it.
type TicketEvent struct {
	TicketID    uuid.UUID          `json:"ticket_id"`
	CreationKey string             `json:"creation_key"`
	CustomerRef string             `json:"customer_ref"`
	ServiceType string             `json:"service_type"`
	Status      enums.TicketStatus `json:"status"`
	WorkerID    *uuid.UUID         `json:"worker_id,omitempty"`
	AmountCents int64              `json:"amount_cents"`
	Currency    string             `json:"currency"`
	CreatedAt   time.Time          `json:"created_at"`
}

// TicketEventFrom projects a stored ticket into its bus payload.
func TicketEventFrom(t models.Ticket) TicketEvent {
	return TicketEvent{
		TicketID:    t.ID,
		CreationKey: t.CreationKey,
		CustomerRef: t.CustomerRef,
		ServiceType: t.ServiceType,
		Status:      t.Status,
		WorkerID:    t.AssigneeID,
		AmountCents: t.AmountCents,
		Currency:    t.Currency,
		CreatedAt:   t.CreatedAt,
	}
}

// WorkerAvailabilityEvent is emitted whenever a worker's availability flips.
type WorkerAvailabilityEvent struct {
	WorkerID  uuid.UUID  `json:"worker_id"`
	Available bool       `json:"available"`
	TicketID  *uuid.UUID `json:"ticket_id,omitempty"`
	ChangedAt time.Time  `json:"changed_at"`
}

// ResyncEvent carries a fresh store read after a sequence gap or reconnect so
// subscribers can repair a stale view without reconnecting.
type ResyncEvent struct {
	Tickets []TicketEvent             `json:"tickets,omitempty"`
	Workers []WorkerAvailabilityEvent `json:"workers,omitempty"`
	TakenAt time.Time                 `json:"taken_at"`
}
