package middleware

import (
	"context"
	"net/http"

	"github.com/newcloud/newcloud/pkg/httputil"
	"github.com/newcloud/newcloud/pkg/observability"
)

// RoleLookup resolves a user's current role. Roles are read from storage on
// every check so revoked privileges take effect immediately, not at the next
// token refresh.
type RoleLookup interface {
	RoleName(ctx context.Context, userID int64) (string, error)
}

// RolePolicy enforces role-based access on admin routes.
type RolePolicy struct {
	lookup     RoleLookup
	admins     map[string]bool
	siteAdmins map[string]bool
}

// NewRolePolicy creates a role policy. adminRoles satisfy RequireAdmin;
// siteAdminRoles satisfy RequireSiteAdmin.
func NewRolePolicy(lookup RoleLookup, adminRoles, siteAdminRoles []string) *RolePolicy {
	p := &RolePolicy{
		lookup:     lookup,
		admins:     make(map[string]bool, len(adminRoles)),
		siteAdmins: make(map[string]bool, len(siteAdminRoles)),
	}
	for _, r := range adminRoles {
		p.admins[r] = true
	}
	for _, r := range siteAdminRoles {
		p.siteAdmins[r] = true
	}
	return p
}

// RequireAdmin allows only callers whose role is an admin role.
func (p *RolePolicy) RequireAdmin(next http.Handler) http.Handler {
	return p.require(next, p.admins)
}

// RequireSiteAdmin allows only callers whose role is a site-admin role.
func (p *RolePolicy) RequireSiteAdmin(next http.Handler) http.Handler {
	return p.require(next, p.siteAdmins)
}

func (p *RolePolicy) require(next http.Handler, allowed map[string]bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity := GetIdentity(r)
		role, err := p.lookup.RoleName(r.Context(), identity.UserID)
		if err != nil {
			observability.FromContext(r.Context()).WithError(err).Error("Role lookup failed")
			httputil.WriteForbidden(w, "Access denied")
			return
		}
		if !allowed[role] {
			httputil.WriteForbidden(w, "Access denied")
			return
		}
		next.ServeHTTP(w, r)
	})
}
