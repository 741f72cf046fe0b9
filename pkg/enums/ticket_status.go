package enums

import "fmt"

// TicketStatus tracks the lifecycle of a service ticket.
type TicketStatus string

const (
	TicketStatusPending    TicketStatus = "pending"
	TicketStatusAssigned   TicketStatus = "assigned"
	TicketStatusInProgress TicketStatus = "in_progress"
	TicketStatusCompleted  TicketStatus = "completed"
	TicketStatusCancelled  TicketStatus = "cancelled"
)

var validTicketStatuses = []TicketStatus{
	TicketStatusPending,
	TicketStatusAssigned,
	TicketStatusInProgress,
	TicketStatusCompleted,
	TicketStatusCancelled,
}

// String implements fmt.Stringer.
func (s TicketStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is a known TicketStatus.
func (s TicketStatus) IsValid() bool {
	for _, candidate := range validTicketStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transitions are allowed.
func (s TicketStatus) IsTerminal() bool {
	return s == TicketStatusCompleted || s == TicketStatusCancelled
}

// RequiresAssignee reports whether the status implies a worker is attached.
func (s TicketStatus) RequiresAssignee() bool {
	switch s {
	case TicketStatusAssigned, TicketStatusInProgress, TicketStatusCompleted:
		return true
	default:
		return false
	}
}

// CanTransitionTo validates the ticket state machine. Cancellation is allowed
// from any non-terminal state.
func (s TicketStatus) CanTransitionTo(next TicketStatus) bool {
	if next == TicketStatusCancelled {
		return !s.IsTerminal()
	}
	switch s {
	case TicketStatusPending:
		return next == TicketStatusAssigned
	case TicketStatusAssigned:
		return next == TicketStatusInProgress || next == TicketStatusPending
	case TicketStatusInProgress:
		return next == TicketStatusCompleted
	default:
		return false
	}
}

// ParseTicketStatus converts raw input into a TicketStatus.
func ParseTicketStatus(value string) (TicketStatus, error) {
	for _, candidate := range validTicketStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid ticket status %q", value)
}
