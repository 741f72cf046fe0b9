package auth

import (
	"github.com/barberdeskapp/barberdesk-backend/pkg/enums"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// AccessTokenPayload captures the data available when minting a JWT.
type AccessTokenPayload struct {
	SubjectID   uuid.UUID
	Role        enums.ConnectionRole
	TopicScopes []string
	CanWrite    bool
	JTI         string
}

// AccessTokenClaims represents the typed JWT presented by callers. TopicScopes
// bounds what a live connection may subscribe to; CanWrite gates ticket and
// worker mutations.
type AccessTokenClaims struct {
	SubjectID   uuid.UUID            `json:"subject_id"`
	Role        enums.ConnectionRole `json:"role"`
	TopicScopes []string             `json:"topic_scopes,omitempty"`
	CanWrite    bool                 `json:"can_write"`
	jwt.RegisteredClaims
}

// HasTopicScope reports whether the claims grant the exact topic. A single
// "*" scope grants every topic.
func (c *AccessTokenClaims) HasTopicScope(topic string) bool {
	if c == nil {
		return false
	}
	for _, scope := range c.TopicScopes {
		if scope == "*" || scope == topic {
			return true
		}
	}
	return false
}
