package enums

// EventType names the payload kinds carried on bus envelopes.
type EventType string

const (
	EventTicketCreated      EventType = "ticket.created"
	EventTicketAssigned     EventType = "ticket.assigned"
	EventTicketStatus       EventType = "ticket.status_changed"
	EventWorkerAvailability EventType = "worker.availability_changed"
	EventResync             EventType = "resync"
)

// String implements fmt.Stringer.
func (e EventType) String() string {
	return string(e)
}
