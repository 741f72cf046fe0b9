package gate

import (
	"strings"
	"time"

	"github.com/barberdeskapp/barberdesk-backend/pkg/auth"
	"github.com/barberdeskapp/barberdesk-backend/pkg/bus"
	"github.com/barberdeskapp/barberdesk-backend/pkg/config"
	"github.com/barberdeskapp/barberdesk-backend/pkg/enums"
	pkgerrors "github.com/barberdeskapp/barberdesk-backend/pkg/errors"
	"github.com/google/uuid"
)

// Principal is the authenticated caller behind a write request. Controllers
// use SubjectID to attribute mutations (e.g. the acting worker on a status
// change).
type Principal struct {
	SubjectID uuid.UUID
	Role      enums.ConnectionRole
	TokenID   string
}

// ConnectionGrant is the result of authorizing a live-connection upgrade.
// Topics holds the exact topic names the connection may subscribe to; the
// registry enforces the same set again on every subscribe frame.
type ConnectionGrant struct {
	ConnID    uuid.UUID
	SubjectID uuid.UUID
	Role      enums.ConnectionRole
	Topics    []string
	IssuedAt  time.Time
}

// Gate validates credentials before any write or connection upgrade is
// admitted. It holds no mutable state and performs no side effects, so a
// rejected call leaves the system untouched.
type Gate struct {
	jwt config.JWTConfig
	now func() time.Time
}

// Params configures a Gate.
type Params struct {
	JWT config.JWTConfig
	Now func() time.Time
}

func New(params Params) (*Gate, error) {
	if params.JWT.Secret == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "jwt secret is required")
	}
	if params.JWT.Issuer == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "jwt issuer is required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &Gate{jwt: params.JWT, now: now}, nil
}

// AuthorizeWrite admits a mutation request. The credential must parse, carry
// the write capability, and the role must be admin or worker. Public tokens
// are read-only regardless of their scopes.
func (g *Gate) AuthorizeWrite(credential string) (*Principal, error) {
	claims, err := g.parse(credential)
	if err != nil {
		return nil, err
	}
	if claims.Role == enums.ConnectionRolePublic {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "public credentials cannot write")
	}
	if !claims.CanWrite {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "credential lacks write capability")
	}
	return &Principal{
		SubjectID: claims.SubjectID,
		Role:      claims.Role,
		TokenID:   claims.ID,
	}, nil
}

// AuthorizeUpgrade admits a live-connection upgrade for the requested topics.
// Every requested topic must be a known topic and covered by the credential's
// scopes; an empty request is granted the full scoped set. The returned grant
// carries a fresh connection id for the registry.
func (g *Gate) AuthorizeUpgrade(credential string, requestedTopics []string) (*ConnectionGrant, error) {
	claims, err := g.parse(credential)
	if err != nil {
		return nil, err
	}

	topics := requestedTopics
	if len(topics) == 0 {
		topics = g.scopedTopics(claims)
	}
	if len(topics) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "credential grants no topics")
	}

	granted := make([]string, 0, len(topics))
	seen := make(map[string]struct{}, len(topics))
	for _, topic := range topics {
		topic = strings.TrimSpace(topic)
		if topic == "" {
			continue
		}
		if !bus.IsKnownTopic(topic) {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "unknown topic").WithDetails(map[string]string{"topic": topic})
		}
		if !claims.HasTopicScope(topic) {
			return nil, pkgerrors.New(pkgerrors.CodeForbidden, "credential lacks topic scope").WithDetails(map[string]string{"topic": topic})
		}
		if _, dup := seen[topic]; dup {
			continue
		}
		seen[topic] = struct{}{}
		granted = append(granted, topic)
	}
	if len(granted) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "no topics requested")
	}

	return &ConnectionGrant{
		ConnID:    uuid.New(),
		SubjectID: claims.SubjectID,
		Role:      claims.Role,
		Topics:    granted,
		IssuedAt:  g.now(),
	}, nil
}

func (g *Gate) parse(credential string) (*auth.AccessTokenClaims, error) {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credential")
	}
	claims, err := auth.ParseAccessToken(g.jwt, credential)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid credential")
	}
	if !claims.Role.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "credential carries unknown role")
	}
	return claims, nil
}

// scopedTopics expands the claims' scopes into concrete topic names. A "*"
// scope expands to every known topic.
func (g *Gate) scopedTopics(claims *auth.AccessTokenClaims) []string {
	topics := make([]string, 0, len(claims.TopicScopes))
	for _, scope := range claims.TopicScopes {
		if scope == "*" {
			return bus.AllTopics()
		}
		if bus.IsKnownTopic(scope) {
			topics = append(topics, scope)
		}
	}
	return topics
}
