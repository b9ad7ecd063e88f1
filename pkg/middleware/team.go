package middleware

import (
	"context"
	"net/http"

	"github.com/newcloud/newcloud/pkg/apperrors"
	"github.com/newcloud/newcloud/pkg/httputil"
	"github.com/newcloud/newcloud/pkg/observability"
)

// MembershipLookup resolves a user's role within a team. A NotFound error
// means the team does not exist; a Forbidden error means the team exists
// but the user is not a member.
type MembershipLookup interface {
	MembershipRole(ctx context.Context, teamID, userID int64) (string, error)
}

// TeamPolicy enforces team-membership access on team routes. The team ID is
// taken from the {teamId} path variable.
type TeamPolicy struct {
	lookup MembershipLookup
}

// NewTeamPolicy creates a team membership policy.
func NewTeamPolicy(lookup MembershipLookup) *TeamPolicy {
	return &TeamPolicy{lookup: lookup}
}

// RequireMember allows any member of the team, manager or not.
func (p *TeamPolicy) RequireMember(next http.Handler) http.Handler {
	return p.require(next, false)
}

// RequireManager allows only team managers.
func (p *TeamPolicy) RequireManager(next http.Handler) http.Handler {
	return p.require(next, true)
}

func (p *TeamPolicy) require(next http.Handler, managerOnly bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		teamID, ok := httputil.ParsePathInt64OrError(w, r, "teamId")
		if !ok {
			return
		}

		identity := GetIdentity(r)
		role, err := p.lookup.MembershipRole(r.Context(), teamID, identity.UserID)
		if err != nil {
			switch apperrors.KindOf(err) {
			case apperrors.NotFound:
				httputil.WriteNotFoundError(w, "Team not found")
			case apperrors.Forbidden:
				httputil.WriteForbidden(w, "You are not a member of this team")
			default:
				observability.FromContext(r.Context()).WithError(err).Error("Membership lookup failed")
				httputil.WriteForbidden(w, "Access denied")
			}
			return
		}
		if managerOnly && role != "manager" {
			httputil.WriteForbidden(w, "Manager role required")
			return
		}
		next.ServeHTTP(w, r)
	})
}
