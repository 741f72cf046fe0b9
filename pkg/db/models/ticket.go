package models

import (
	"time"

	"github.com/barberdeskapp/barberdesk-backend/pkg/enums"
	"github.com/google/uuid"
)

// Ticket is the durable record for one unit of service work. Status is only
// ever mutated through compare-and-swap updates keyed on the expected previous
// status; rows are soft-retained, never deleted.
type Ticket struct {
	ID          uuid.UUID          `gorm:"column:id;type:uuid;primaryKey"`
	CreationKey string             `gorm:"column:creation_key;uniqueIndex;not null"`
	CustomerRef string             `gorm:"column:customer_ref;not null"`
	ServiceType string             `gorm:"column:service_type;not null"`
	Status      enums.TicketStatus `gorm:"column:status;not null;index"`
	AssigneeID  *uuid.UUID         `gorm:"column:assignee_id;type:uuid;index"`
	AmountCents int64              `gorm:"column:amount_cents;not null"`
	Currency    string             `gorm:"column:currency;not null;default:USD"`
	CreatedAt   time.Time          `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time          `gorm:"column:updated_at;autoUpdateTime"`
	ArchivedAt  *time.Time         `gorm:"column:archived_at"`
}
