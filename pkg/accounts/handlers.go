package accounts

import (
	"context"
	"fmt"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/newcloud/newcloud/pkg/apperrors"
	"github.com/newcloud/newcloud/pkg/auth"
	"github.com/newcloud/newcloud/pkg/httputil"
	"github.com/newcloud/newcloud/pkg/middleware"
	"github.com/newcloud/newcloud/pkg/observability"
	"github.com/newcloud/newcloud/pkg/storage"
)

const maxAvatarBytes = 5 << 20

// Handlers serves the account lifecycle endpoints.
type Handlers struct {
	store       Store
	tokens      *auth.TokenService
	revocations *auth.RevocationList
	avatars     storage.AvatarStore
	metrics     *observability.Metrics
	bcryptCost  int
	dev         bool
}

// HandlersConfig collects the dependencies for account handlers. Revocations,
// Avatars, and Metrics may be nil.
type HandlersConfig struct {
	Store       Store
	Tokens      *auth.TokenService
	Revocations *auth.RevocationList
	Avatars     storage.AvatarStore
	Metrics     *observability.Metrics
	BcryptCost  int
	Development bool
}

// NewHandlers creates account handlers.
func NewHandlers(cfg HandlersConfig) *Handlers {
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = auth.DefaultBcryptCost
	}
	return &Handlers{
		store:       cfg.Store,
		tokens:      cfg.Tokens,
		revocations: cfg.Revocations,
		avatars:     cfg.Avatars,
		metrics:     cfg.Metrics,
		bcryptCost:  cfg.BcryptCost,
		dev:         cfg.Development,
	}
}

// RegisterRoutes registers the account endpoints. Each route is wired
// exactly once, with its authentication and authorization chain explicit.
func (h *Handlers) RegisterRoutes(router *mux.Router, gate *middleware.AuthGate, roles *middleware.RolePolicy) {
	router.HandleFunc("/auth/register", h.Register).Methods("POST")
	router.HandleFunc("/auth/login", h.Login).Methods("POST")

	router.Handle("/auth/profile", gate.Handler(http.HandlerFunc(h.GetProfile))).Methods("GET")
	router.Handle("/auth/profile", gate.Handler(http.HandlerFunc(h.UpdateProfile))).Methods("PUT")
	router.Handle("/auth/change-password", gate.Handler(http.HandlerFunc(h.ChangePassword))).Methods("PUT")
	router.Handle("/auth/upload-avatar", gate.Handler(http.HandlerFunc(h.UploadAvatar))).Methods("POST")

	router.Handle("/auth/users", gate.Handler(roles.RequireAdmin(http.HandlerFunc(h.ListUsers)))).Methods("GET")
	router.Handle("/auth/users/{userId}/role", gate.Handler(roles.RequireSiteAdmin(http.HandlerFunc(h.SetRole)))).Methods("PUT")
	router.Handle("/auth/users/{userId}/status", gate.Handler(roles.RequireAdmin(http.HandlerFunc(h.SetStatus)))).Methods("PUT")
	router.Handle("/auth/users/{userId}", gate.Handler(roles.RequireAdmin(http.HandlerFunc(h.DeleteUser)))).Methods("DELETE")
}

func (h *Handlers) recordAuth(operation, outcome string) {
	if h.metrics != nil {
		h.metrics.RecordAuthAttempt(operation, outcome)
	}
}

func (h *Handlers) writeError(ctx context.Context, w http.ResponseWriter, err error) {
	if apperrors.KindOf(err) == apperrors.Internal {
		observability.FromContext(ctx).WithError(err).Error("Account operation failed")
	}
	httputil.WriteAppError(w, err, h.dev)
}

type registerRequest struct {
	Username  string `json:"username"`
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Timezone  string `json:"timezone"`
}

// Register creates an account and returns a session token. Email is
// optional; when present it must be unique.
func (h *Handlers) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.Username, "username") ||
		!httputil.RequireNonEmpty(w, req.Password, "password") ||
		!httputil.RequireNonEmpty(w, req.FirstName, "firstName") ||
		!httputil.RequireNonEmpty(w, req.LastName, "lastName") {
		return
	}

	var email *string
	if req.Email != "" {
		email = &req.Email
	}

	hash, err := auth.HashPassword(req.Password, h.bcryptCost)
	if err != nil {
		h.writeError(r.Context(), w, fmt.Errorf("failed to hash password: %w", err))
		return
	}

	user, err := h.store.CreateUser(r.Context(), NewUser{
		Username:     req.Username,
		Email:        email,
		PasswordHash: hash,
		FirstName:    req.FirstName,
		LastName:     req.LastName,
		Timezone:     req.Timezone,
	})
	if err != nil {
		h.recordAuth("register", "failure")
		h.writeError(r.Context(), w, err)
		return
	}

	token, err := h.tokens.Issue(user.ID, user.Username)
	if err != nil {
		h.writeError(r.Context(), w, fmt.Errorf("failed to issue token: %w", err))
		return
	}

	h.recordAuth("register", "success")
	httputil.WriteCreated(w, map[string]string{"token": token})
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Login verifies credentials and returns a session token. Unknown username
// and wrong password are indistinguishable in the response.
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.Username, "username") ||
		!httputil.RequireNonEmpty(w, req.Password, "password") {
		return
	}

	user, err := h.store.GetByUsername(r.Context(), req.Username)
	if err != nil {
		h.recordAuth("login", "failure")
		if apperrors.KindOf(err) == apperrors.NotFound {
			httputil.WriteAppError(w, apperrors.New(apperrors.InvalidCredentials, "Invalid credentials"), h.dev)
			return
		}
		h.writeError(r.Context(), w, err)
		return
	}

	if !auth.CheckPassword(user.PasswordHash, req.Password) {
		h.recordAuth("login", "failure")
		httputil.WriteAppError(w, apperrors.New(apperrors.InvalidCredentials, "Invalid credentials"), h.dev)
		return
	}

	if !user.IsActive {
		h.recordAuth("login", "disabled")
		httputil.WriteAppError(w, apperrors.New(apperrors.AccountDisabled, "Account is disabled"), h.dev)
		return
	}

	token, err := h.tokens.Issue(user.ID, user.Username)
	if err != nil {
		h.writeError(r.Context(), w, fmt.Errorf("failed to issue token: %w", err))
		return
	}

	h.recordAuth("login", "success")
	httputil.WriteSuccess(w, map[string]string{"token": token})
}

// GetProfile returns the authenticated user's profile.
func (h *Handlers) GetProfile(w http.ResponseWriter, r *http.Request) {
	identity := middleware.GetIdentity(r)
	user, err := h.store.GetByID(r.Context(), identity.UserID)
	if err != nil {
		h.writeError(r.Context(), w, err)
		return
	}
	httputil.WriteSuccess(w, user)
}

type profileUpdateRequest struct {
	Username  *string `json:"username"`
	Email     *string `json:"email"`
	FirstName *string `json:"firstName"`
	LastName  *string `json:"lastName"`
	Timezone  *string `json:"timezone"`
}

// UpdateProfile applies partial profile edits for the authenticated user.
func (h *Handlers) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	identity := middleware.GetIdentity(r)

	var req profileUpdateRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.Username != nil && *req.Username == "" {
		httputil.WriteValidationError(w, "username cannot be empty")
		return
	}
	if req.Email != nil && *req.Email == "" {
		httputil.WriteValidationError(w, "email cannot be empty")
		return
	}

	user, err := h.store.UpdateProfile(r.Context(), identity.UserID, ProfileUpdate{
		Username:  req.Username,
		Email:     req.Email,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Timezone:  req.Timezone,
	})
	if err != nil {
		h.writeError(r.Context(), w, err)
		return
	}
	httputil.WriteSuccess(w, user)
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

// ChangePassword verifies the current password before storing a new hash.
func (h *Handlers) ChangePassword(w http.ResponseWriter, r *http.Request) {
	identity := middleware.GetIdentity(r)

	var req changePasswordRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.CurrentPassword, "currentPassword") ||
		!httputil.RequireNonEmpty(w, req.NewPassword, "newPassword") {
		return
	}

	user, err := h.store.GetByID(r.Context(), identity.UserID)
	if err != nil {
		h.writeError(r.Context(), w, err)
		return
	}

	if !auth.CheckPassword(user.PasswordHash, req.CurrentPassword) {
		httputil.WriteAppError(w, apperrors.New(apperrors.InvalidCredentials, "Current password is incorrect"), h.dev)
		return
	}

	hash, err := auth.HashPassword(req.NewPassword, h.bcryptCost)
	if err != nil {
		h.writeError(r.Context(), w, fmt.Errorf("failed to hash password: %w", err))
		return
	}
	if err := h.store.UpdatePassword(r.Context(), identity.UserID, hash); err != nil {
		h.writeError(r.Context(), w, err)
		return
	}

	httputil.WriteMessage(w, http.StatusOK, "Password updated successfully")
}

// UploadAvatar stores a profile picture from a multipart form and records
// its public URL.
func (h *Handlers) UploadAvatar(w http.ResponseWriter, r *http.Request) {
	identity := middleware.GetIdentity(r)

	if h.avatars == nil {
		h.writeError(r.Context(), w, apperrors.New(apperrors.Internal, "Avatar storage is not configured"))
		return
	}

	if err := r.ParseMultipartForm(maxAvatarBytes); err != nil {
		httputil.WriteValidationError(w, "invalid multipart form")
		return
	}
	file, header, err := r.FormFile("avatar")
	if err != nil {
		httputil.WriteValidationError(w, "avatar file is required")
		return
	}
	defer file.Close()

	ext := strings.ToLower(path.Ext(header.Filename))
	switch ext {
	case ".png", ".jpg", ".jpeg", ".gif", ".webp":
	default:
		httputil.WriteValidationError(w, "unsupported image type")
		return
	}

	contentType := header.Header.Get("Content-Type")
	key := fmt.Sprintf("avatars/%d-%s%s", identity.UserID, uuid.NewString(), ext)

	url, err := h.avatars.Save(r.Context(), key, file, contentType)
	if err != nil {
		h.writeError(r.Context(), w, fmt.Errorf("failed to store avatar: %w", err))
		return
	}
	if err := h.store.UpdateAvatar(r.Context(), identity.UserID, url); err != nil {
		h.writeError(r.Context(), w, err)
		return
	}

	httputil.WriteSuccess(w, map[string]string{"profilePictureUrl": url})
}

// ListUsers returns all accounts. Admin only.
func (h *Handlers) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.store.ListUsers(r.Context())
	if err != nil {
		h.writeError(r.Context(), w, err)
		return
	}
	if users == nil {
		users = []*User{}
	}
	httputil.WriteSuccess(w, users)
}

type setRoleRequest struct {
	Role string `json:"role"`
}

// SetRole changes a user's role. Site admin only.
func (h *Handlers) SetRole(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathInt64OrError(w, r, "userId")
	if !ok {
		return
	}

	var req setRoleRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !ValidRole(req.Role) {
		httputil.WriteValidationError(w, fmt.Sprintf("invalid role: %s", req.Role))
		return
	}

	if err := h.store.SetRole(r.Context(), userID, req.Role); err != nil {
		h.writeError(r.Context(), w, err)
		return
	}
	httputil.WriteMessage(w, http.StatusOK, "Role updated successfully")
}

type setStatusRequest struct {
	IsActive *bool `json:"is_active"`
}

// SetStatus enables or disables an account. Disabling revokes outstanding
// tokens when a revocation list is configured.
func (h *Handlers) SetStatus(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathInt64OrError(w, r, "userId")
	if !ok {
		return
	}

	var req setStatusRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.IsActive == nil {
		httputil.WriteValidationError(w, "is_active is required")
		return
	}

	if err := h.store.SetActive(r.Context(), userID, *req.IsActive); err != nil {
		h.writeError(r.Context(), w, err)
		return
	}

	if !*req.IsActive {
		h.revokeTokens(r.Context(), userID)
	}

	user, err := h.store.GetByID(r.Context(), userID)
	if err != nil {
		h.writeError(r.Context(), w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{
		"message": "Status updated successfully",
		"user":    user,
	})
}

// DeleteUser removes an account and revokes its outstanding tokens.
func (h *Handlers) DeleteUser(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathInt64OrError(w, r, "userId")
	if !ok {
		return
	}

	identity := middleware.GetIdentity(r)
	if identity.UserID == userID {
		httputil.WriteAppError(w, apperrors.New(apperrors.Conflict, "Cannot delete your own account"), h.dev)
		return
	}

	if err := h.store.DeleteUser(r.Context(), userID); err != nil {
		h.writeError(r.Context(), w, err)
		return
	}

	h.revokeTokens(r.Context(), userID)
	httputil.WriteMessage(w, http.StatusOK, "User deleted successfully")
}

func (h *Handlers) revokeTokens(ctx context.Context, userID int64) {
	if h.revocations == nil {
		return
	}
	revokeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.revocations.RevokeUser(revokeCtx, userID); err != nil {
		observability.FromContext(ctx).WithError(err).Warn("Failed to revoke tokens")
	}
}
