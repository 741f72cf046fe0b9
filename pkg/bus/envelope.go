package bus

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/barberdeskapp/barberdesk-backend/pkg/enums"
)

// Envelope is the unit flowing on bus topics. Sequence numbers are assigned by
// a per-topic counter and are non-decreasing within a topic, so consumers can
// detect gaps; delivery is at-least-once, never exactly-once.
type Envelope struct {
	Topic       string          `json:"topic"`
	Type        enums.EventType `json:"type"`
	EventID     string          `json:"eventId"`
	Sequence    int64           `json:"sequence"`
	PublishedAt time.Time       `json:"publishedAt"`
	Payload     json.RawMessage `json:"payload"`
}

// Decode parses a raw bus message into an Envelope.
func Decode(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("decoding envelope: %w", err)
	}
	if env.Topic == "" {
		return Envelope{}, fmt.Errorf("envelope missing topic")
	}
	return env, nil
}

// Encode serializes the envelope for the wire.
func (e Envelope) Encode() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encoding envelope: %w", err)
	}
	return data, nil
}

// DecodePayload parses the envelope payload into the provided value.
func (e Envelope) DecodePayload(out any) error {
	if err := json.Unmarshal(e.Payload, out); err != nil {
		return fmt.Errorf("decoding %s payload: %w", e.Type, err)
	}
	return nil
}
