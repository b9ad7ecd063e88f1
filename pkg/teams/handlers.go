package teams

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/newcloud/newcloud/pkg/apperrors"
	"github.com/newcloud/newcloud/pkg/httputil"
	"github.com/newcloud/newcloud/pkg/middleware"
	"github.com/newcloud/newcloud/pkg/observability"
)

// Handlers serves the team lifecycle endpoints.
type Handlers struct {
	store Store
	dev   bool
}

// NewHandlers creates team handlers.
func NewHandlers(store Store, development bool) *Handlers {
	return &Handlers{store: store, dev: development}
}

// RegisterRoutes registers the team endpoints. Creation and listing require
// only authentication; everything under a team ID requires membership, and
// mutations require the manager role.
func (h *Handlers) RegisterRoutes(router *mux.Router, gate *middleware.AuthGate, teams *middleware.TeamPolicy) {
	router.Handle("/auth/teams", gate.Handler(http.HandlerFunc(h.CreateTeam))).Methods("POST")
	router.Handle("/auth/teams", gate.Handler(http.HandlerFunc(h.ListTeams))).Methods("GET")

	router.Handle("/auth/teams/{teamId}", gate.Handler(teams.RequireMember(http.HandlerFunc(h.GetTeam)))).Methods("GET")
	router.Handle("/auth/teams/{teamId}", gate.Handler(teams.RequireManager(http.HandlerFunc(h.UpdateTeam)))).Methods("PUT")
	router.Handle("/auth/teams/{teamId}", gate.Handler(teams.RequireManager(http.HandlerFunc(h.DeleteTeam)))).Methods("DELETE")

	router.Handle("/auth/teams/{teamId}/members", gate.Handler(teams.RequireMember(http.HandlerFunc(h.ListMembers)))).Methods("GET")
	router.Handle("/auth/teams/{teamId}/members", gate.Handler(teams.RequireManager(http.HandlerFunc(h.AddMember)))).Methods("POST")
	router.Handle("/auth/teams/{teamId}/members/{userId}", gate.Handler(teams.RequireManager(http.HandlerFunc(h.RemoveMember)))).Methods("DELETE")
	router.Handle("/auth/teams/{teamId}/members/{userId}/role", gate.Handler(teams.RequireManager(http.HandlerFunc(h.SetMemberRole)))).Methods("PUT")
}

func (h *Handlers) writeError(ctx context.Context, w http.ResponseWriter, err error) {
	if apperrors.KindOf(err) == apperrors.Internal {
		observability.FromContext(ctx).WithError(err).Error("Team operation failed")
	}
	httputil.WriteAppError(w, err, h.dev)
}

type createTeamRequest struct {
	Name        string  `json:"name"`
	Description *string `json:"description"`
}

// CreateTeam creates a team with the caller as its first manager.
func (h *Handlers) CreateTeam(w http.ResponseWriter, r *http.Request) {
	var req createTeamRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.Name, "name") {
		return
	}
	if req.Description != nil && len(*req.Description) > MaxDescriptionLength {
		httputil.WriteValidationError(w, fmt.Sprintf("description must be at most %d characters", MaxDescriptionLength))
		return
	}

	identity := middleware.GetIdentity(r)
	team, err := h.store.CreateTeam(r.Context(), req.Name, req.Description, identity.UserID)
	if err != nil {
		h.writeError(r.Context(), w, err)
		return
	}
	httputil.WriteCreated(w, team)
}

// ListTeams returns the caller's teams with their membership role on each.
func (h *Handlers) ListTeams(w http.ResponseWriter, r *http.Request) {
	identity := middleware.GetIdentity(r)
	teams, err := h.store.ListForUser(r.Context(), identity.UserID)
	if err != nil {
		h.writeError(r.Context(), w, err)
		return
	}
	if teams == nil {
		teams = []*Team{}
	}
	httputil.WriteSuccess(w, teams)
}

type teamDetails struct {
	Team
	Members []*Member `json:"members"`
}

// GetTeam returns a team with its roster and the caller's role. Members only.
func (h *Handlers) GetTeam(w http.ResponseWriter, r *http.Request) {
	teamID, ok := httputil.ParsePathInt64OrError(w, r, "teamId")
	if !ok {
		return
	}

	team, err := h.store.Get(r.Context(), teamID)
	if err != nil {
		h.writeError(r.Context(), w, err)
		return
	}

	identity := middleware.GetIdentity(r)
	role, err := h.store.MembershipRole(r.Context(), teamID, identity.UserID)
	if err != nil {
		h.writeError(r.Context(), w, err)
		return
	}
	team.Role = role

	members, err := h.store.GetMembers(r.Context(), teamID)
	if err != nil {
		h.writeError(r.Context(), w, err)
		return
	}
	if members == nil {
		members = []*Member{}
	}

	httputil.WriteSuccess(w, teamDetails{Team: *team, Members: members})
}

type updateTeamRequest struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
}

// UpdateTeam edits team name or description. Managers only.
func (h *Handlers) UpdateTeam(w http.ResponseWriter, r *http.Request) {
	teamID, ok := httputil.ParsePathInt64OrError(w, r, "teamId")
	if !ok {
		return
	}

	var req updateTeamRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.Name == nil || *req.Name == "" {
		httputil.WriteValidationError(w, "name is required")
		return
	}
	if req.Description != nil && len(*req.Description) > MaxDescriptionLength {
		httputil.WriteValidationError(w, fmt.Sprintf("description must be at most %d characters", MaxDescriptionLength))
		return
	}

	team, err := h.store.Update(r.Context(), teamID, TeamUpdate{
		Name:        req.Name,
		Description: req.Description,
	})
	if err != nil {
		h.writeError(r.Context(), w, err)
		return
	}
	httputil.WriteSuccess(w, team)
}

// DeleteTeam removes a team and its memberships. Managers only.
func (h *Handlers) DeleteTeam(w http.ResponseWriter, r *http.Request) {
	teamID, ok := httputil.ParsePathInt64OrError(w, r, "teamId")
	if !ok {
		return
	}
	if err := h.store.Delete(r.Context(), teamID); err != nil {
		h.writeError(r.Context(), w, err)
		return
	}
	httputil.WriteMessage(w, http.StatusOK, "Team deleted successfully")
}

// ListMembers returns the team roster. Members only.
func (h *Handlers) ListMembers(w http.ResponseWriter, r *http.Request) {
	teamID, ok := httputil.ParsePathInt64OrError(w, r, "teamId")
	if !ok {
		return
	}
	members, err := h.store.GetMembers(r.Context(), teamID)
	if err != nil {
		h.writeError(r.Context(), w, err)
		return
	}
	if members == nil {
		members = []*Member{}
	}
	httputil.WriteSuccess(w, members)
}

type addMemberRequest struct {
	UserID int64  `json:"userId"`
	Role   string `json:"role"`
}

type membership struct {
	TeamID int64  `json:"team_id"`
	UserID int64  `json:"user_id"`
	Role   string `json:"role"`
}

// AddMember adds a user to the team. Managers only.
func (h *Handlers) AddMember(w http.ResponseWriter, r *http.Request) {
	teamID, ok := httputil.ParsePathInt64OrError(w, r, "teamId")
	if !ok {
		return
	}

	var req addMemberRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.UserID == 0 {
		httputil.WriteValidationError(w, "userId is required")
		return
	}
	if req.Role == "" {
		req.Role = RoleMember
	}
	if !ValidMemberRole(req.Role) {
		httputil.WriteValidationError(w, fmt.Sprintf("invalid role: %s", req.Role))
		return
	}

	if err := h.store.AddMember(r.Context(), teamID, req.UserID, req.Role); err != nil {
		h.writeError(r.Context(), w, err)
		return
	}
	httputil.WriteCreated(w, membership{TeamID: teamID, UserID: req.UserID, Role: req.Role})
}

// RemoveMember removes a user from the team. Managers only; the last
// manager cannot be removed.
func (h *Handlers) RemoveMember(w http.ResponseWriter, r *http.Request) {
	teamID, ok := httputil.ParsePathInt64OrError(w, r, "teamId")
	if !ok {
		return
	}
	userID, ok := httputil.ParsePathInt64OrError(w, r, "userId")
	if !ok {
		return
	}

	if err := h.store.RemoveMember(r.Context(), teamID, userID); err != nil {
		h.writeError(r.Context(), w, err)
		return
	}
	httputil.WriteMessage(w, http.StatusOK, "Member removed successfully")
}

type setMemberRoleRequest struct {
	Role string `json:"role"`
}

// SetMemberRole promotes or demotes a member. Managers only; the last
// manager cannot be demoted.
func (h *Handlers) SetMemberRole(w http.ResponseWriter, r *http.Request) {
	teamID, ok := httputil.ParsePathInt64OrError(w, r, "teamId")
	if !ok {
		return
	}
	userID, ok := httputil.ParsePathInt64OrError(w, r, "userId")
	if !ok {
		return
	}

	var req setMemberRoleRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !ValidMemberRole(req.Role) {
		httputil.WriteValidationError(w, fmt.Sprintf("invalid role: %s", req.Role))
		return
	}

	if err := h.store.SetMemberRole(r.Context(), teamID, userID, req.Role); err != nil {
		h.writeError(r.Context(), w, err)
		return
	}
	httputil.WriteSuccess(w, membership{TeamID: teamID, UserID: userID, Role: req.Role})
}
