package middleware

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"

	"github.com/newcloud/newcloud/pkg/apperrors"
	"github.com/newcloud/newcloud/pkg/auth"
	"github.com/newcloud/newcloud/pkg/contextkeys"
)

type fakeMembershipLookup struct {
	teams map[int64]bool
	// keyed by "teamID:userID"
	roles map[string]string
}

func (f *fakeMembershipLookup) MembershipRole(ctx context.Context, teamID, userID int64) (string, error) {
	if !f.teams[teamID] {
		return "", apperrors.New(apperrors.NotFound, "Team not found")
	}
	role, ok := f.roles[fmt.Sprintf("%d:%d", teamID, userID)]
	if !ok {
		return "", apperrors.New(apperrors.Forbidden, "You are not a member of this team")
	}
	return role, nil
}

func teamRouter(handler http.Handler) *mux.Router {
	router := mux.NewRouter()
	router.Handle("/auth/teams/{teamId}", handler).Methods("GET")
	return router
}

func teamRequest(teamID string, userID int64) *http.Request {
	req := httptest.NewRequest("GET", "/auth/teams/"+teamID, nil)
	ctx := contextkeys.WithIdentity(req.Context(), &auth.Identity{UserID: userID, Username: "test"})
	return req.WithContext(ctx)
}

func TestTeamPolicy(t *testing.T) {
	lookup := &fakeMembershipLookup{
		teams: map[int64]bool{10: true},
		roles: map[string]string{
			"10:1": "manager",
			"10:2": "member",
		},
	}
	policy := NewTeamPolicy(lookup)

	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	tests := []struct {
		name    string
		handler http.Handler
		teamID  string
		userID  int64
		status  int
	}{
		{"member passes membership check", policy.RequireMember(ok), "10", 2, http.StatusOK},
		{"manager passes membership check", policy.RequireMember(ok), "10", 1, http.StatusOK},
		{"non-member is forbidden", policy.RequireMember(ok), "10", 3, http.StatusForbidden},
		{"manager passes manager check", policy.RequireManager(ok), "10", 1, http.StatusOK},
		{"member fails manager check", policy.RequireManager(ok), "10", 2, http.StatusForbidden},
		{"non-member fails manager check", policy.RequireManager(ok), "10", 3, http.StatusForbidden},
		{"missing team is not found", policy.RequireMember(ok), "99", 1, http.StatusNotFound},
		{"missing team fails manager check with not found", policy.RequireManager(ok), "99", 1, http.StatusNotFound},
		{"invalid team id is a validation error", policy.RequireMember(ok), "abc", 1, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			teamRouter(tt.handler).ServeHTTP(rec, teamRequest(tt.teamID, tt.userID))
			assert.Equal(t, tt.status, rec.Code)
		})
	}
}
