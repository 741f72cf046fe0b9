package realtime

import (
	"context"
	"fmt"
	"time"

	"github.com/barberdeskapp/barberdesk-backend/pkg/bus"
	"github.com/barberdeskapp/barberdesk-backend/pkg/db/models"
)

// TicketSnapshotStore reads every non-terminal ticket for resync.
type TicketSnapshotStore interface {
	ListActiveTickets(ctx context.Context) ([]models.Ticket, error)
}

// RosterSnapshotStore reads the worker roster for resync.
type RosterSnapshotStore interface {
	RosterSnapshot(ctx context.Context) ([]models.Worker, error)
}

// StoreSnapshot builds resync payloads straight from the durable store.
type StoreSnapshot struct {
	tickets TicketSnapshotStore
	workers RosterSnapshotStore
}

// NewStoreSnapshot builds a snapshot source over the ticket and worker stores.
func NewStoreSnapshot(tickets TicketSnapshotStore, workers RosterSnapshotStore) (*StoreSnapshot, error) {
	if tickets == nil {
		return nil, fmt.Errorf("ticket snapshot store required")
	}
	if workers == nil {
		return nil, fmt.Errorf("roster snapshot store required")
	}
	return &StoreSnapshot{tickets: tickets, workers: workers}, nil
}

// Snapshot reads the state relevant to the topic: the worker roster for
// workers.availability, the active ticket set for tickets.* topics.
func (s *StoreSnapshot) Snapshot(ctx context.Context, topic string) (bus.ResyncEvent, error) {
	event := bus.ResyncEvent{TakenAt: time.Now().UTC()}

	if topic == bus.TopicWorkersAvailability {
		workers, err := s.workers.RosterSnapshot(ctx)
		if err != nil {
			return bus.ResyncEvent{}, err
		}
		for _, worker := range workers {
			event.Workers = append(event.Workers, bus.WorkerAvailabilityEvent{
				WorkerID:  worker.ID,
				Available: worker.Available,
				TicketID:  worker.CurrentTicketID,
				ChangedAt: worker.UpdatedAt,
			})
		}
		return event, nil
	}

	tickets, err := s.tickets.ListActiveTickets(ctx)
	if err != nil {
		return bus.ResyncEvent{}, err
	}
	for _, ticket := range tickets {
		event.Tickets = append(event.Tickets, bus.TicketEventFrom(ticket))
	}
	return event, nil
}
