package tickets

import (
	"github.com/barberdeskapp/barberdesk-backend/pkg/enums"
	"github.com/google/uuid"
)

// CreateTicketInput carries a payment-capture or manual check-in event.
// CreationKey is the client-supplied idempotency key: replaying the same key
// returns the existing ticket instead of creating a second record.
type CreateTicketInput struct {
	CreationKey string
	CustomerRef string
	ServiceType string
	AmountCents int64
	Currency    string
}

// StatusChangeInput carries an explicit worker action on a ticket. When
// ActorWorkerID is set the ticket must currently be assigned to that worker.
type StatusChangeInput struct {
	TicketID      uuid.UUID
	NextStatus    enums.TicketStatus
	ActorWorkerID *uuid.UUID
}
