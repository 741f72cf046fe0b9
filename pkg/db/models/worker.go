package models

import (
	"time"

	"github.com/google/uuid"
)

// Worker is the durable roster record for a staff member. Available is false
// iff CurrentTicketID is set; the redis projection of Available is rebuilt
// from this table on cache miss or restart.
type Worker struct {
	ID              uuid.UUID  `gorm:"column:id;type:uuid;primaryKey"`
	DisplayName     string     `gorm:"column:display_name;not null"`
	Available       bool       `gorm:"column:available;not null;default:false;index"`
	CurrentTicketID *uuid.UUID `gorm:"column:current_ticket_id;type:uuid"`
	LastHeartbeat   time.Time  `gorm:"column:last_heartbeat;not null"`
	IdleSince       time.Time  `gorm:"column:idle_since;not null"`
	CreatedAt       time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}
