package middleware

import (
	"net/http"
	"strings"

	"github.com/barberdeskapp/barberdesk-backend/api/responses"
	"github.com/barberdeskapp/barberdesk-backend/internal/gate"
	"github.com/barberdeskapp/barberdesk-backend/pkg/logger"
)

// BearerToken extracts the credential from the Authorization header. Live
// connection upgrades may also carry it as a query parameter since browsers
// cannot set headers on websocket handshakes.
func BearerToken(r *http.Request) string {
	raw := strings.TrimSpace(r.Header.Get("Authorization"))
	if raw != "" {
		if strings.HasPrefix(strings.ToLower(raw), "bearer ") {
			return strings.TrimSpace(raw[7:])
		}
		return raw
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}

// RequireWriter admits only callers whose credential passes the write gate.
// The resulting principal is placed on the request context for controllers
// to attribute mutations.
func RequireWriter(g *gate.Gate, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, err := g.AuthorizeWrite(BearerToken(r))
			if err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}

			ctx := WithPrincipal(r.Context(), principal)
			if logg != nil {
				ctx = logg.WithFields(ctx, map[string]any{
					"subject_id": principal.SubjectID.String(),
					"role":       principal.Role.String(),
				})
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
