package bus

// Bus topics. Channel names double as subscription grants on live connections.
const (
	TopicTicketsCreated      = "tickets.created"
	TopicTicketsAssigned     = "tickets.assigned"
	TopicTicketsCompleted    = "tickets.completed"
	TopicWorkersAvailability = "workers.availability"
)

// AllTopics lists every topic the bridge subscribes to.
func AllTopics() []string {
	return []string{
		TopicTicketsCreated,
		TopicTicketsAssigned,
		TopicTicketsCompleted,
		TopicWorkersAvailability,
	}
}

// IsKnownTopic reports whether the registry should accept a subscription for it.
func IsKnownTopic(topic string) bool {
	for _, t := range AllTopics() {
		if t == topic {
			return true
		}
	}
	return false
}
