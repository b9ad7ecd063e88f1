package middleware

import (
	"net/http"
	"strings"

	"github.com/newcloud/newcloud/pkg/auth"
	"github.com/newcloud/newcloud/pkg/contextkeys"
	"github.com/newcloud/newcloud/pkg/httputil"
)

// AuthGate verifies bearer tokens and attaches the caller's identity to the
// request context. It performs no authorization beyond token validity.
type AuthGate struct {
	tokens      *auth.TokenService
	revocations *auth.RevocationList
}

// NewAuthGate creates an authentication gate. revocations may be nil, in
// which case only signature and expiry are checked.
func NewAuthGate(tokens *auth.TokenService, revocations *auth.RevocationList) *AuthGate {
	return &AuthGate{tokens: tokens, revocations: revocations}
}

// Handler rejects requests without a valid bearer token and stores the
// verified identity in the context for downstream handlers.
func (g *AuthGate) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			httputil.WriteUnauthorized(w, "Authorization header is required")
			return
		}

		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			httputil.WriteUnauthorized(w, "Authorization header must use Bearer scheme")
			return
		}

		claims, err := g.tokens.Verify(token)
		if err != nil {
			httputil.WriteUnauthorized(w, "Invalid token")
			return
		}

		if g.revocations != nil && claims.IssuedAt != nil {
			revoked, err := g.revocations.IsRevoked(r.Context(), claims.UserID, claims.IssuedAt.Time)
			if err != nil {
				httputil.WriteInternalError(w)
				return
			}
			if revoked {
				httputil.WriteUnauthorized(w, "Invalid token")
				return
			}
		}

		ctx := contextkeys.WithIdentity(r.Context(), claims.Identity())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetIdentity returns the identity the gate attached to the request. It
// panics if called on a route the gate does not protect; that is a wiring
// bug, not a runtime condition.
func GetIdentity(r *http.Request) *auth.Identity {
	identity, ok := r.Context().Value(contextkeys.IdentityKey).(*auth.Identity)
	if !ok {
		panic("middleware: identity missing from context; route not behind AuthGate")
	}
	return identity
}
