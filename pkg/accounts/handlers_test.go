package accounts

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/newcloud/newcloud/pkg/apperrors"
	"github.com/newcloud/newcloud/pkg/auth"
	"github.com/newcloud/newcloud/pkg/middleware"
)

// fakeStore is an in-memory Store for handler tests.
type fakeStore struct {
	users  map[int64]*User
	nextID int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{users: make(map[int64]*User), nextID: 1}
}

func (f *fakeStore) addUser(u *User) *User {
	u.ID = f.nextID
	f.nextID++
	if u.Timezone == "" {
		u.Timezone = DefaultTimezone
	}
	if u.Role == "" {
		u.Role = RoleUser
	}
	u.CreatedAt = time.Now()
	f.users[u.ID] = u
	return u
}

func (f *fakeStore) CreateUser(ctx context.Context, nu NewUser) (*User, error) {
	for _, u := range f.users {
		sameEmail := u.Email != nil && nu.Email != nil && *u.Email == *nu.Email
		if u.Username == nu.Username || sameEmail {
			return nil, apperrors.New(apperrors.Conflict, "Username or email already exists")
		}
	}
	return f.addUser(&User{
		Username:     nu.Username,
		Email:        nu.Email,
		PasswordHash: nu.PasswordHash,
		FirstName:    nu.FirstName,
		LastName:     nu.LastName,
		Timezone:     nu.Timezone,
		IsActive:     true,
	}), nil
}

func (f *fakeStore) GetByUsername(ctx context.Context, username string) (*User, error) {
	for _, u := range f.users {
		if u.Username == username {
			return u, nil
		}
	}
	return nil, apperrors.New(apperrors.NotFound, "User not found")
}

func (f *fakeStore) GetByID(ctx context.Context, id int64) (*User, error) {
	u, ok := f.users[id]
	if !ok {
		return nil, apperrors.New(apperrors.NotFound, "User not found")
	}
	return u, nil
}

func (f *fakeStore) UpdateProfile(ctx context.Context, id int64, update ProfileUpdate) (*User, error) {
	u, ok := f.users[id]
	if !ok {
		return nil, apperrors.New(apperrors.NotFound, "User not found")
	}
	if update.Username != nil {
		for _, other := range f.users {
			if other.ID != id && other.Username == *update.Username {
				return nil, apperrors.New(apperrors.Conflict, "Username or email already exists")
			}
		}
		u.Username = *update.Username
	}
	if update.Email != nil {
		u.Email = update.Email
	}
	if update.FirstName != nil {
		u.FirstName = *update.FirstName
	}
	if update.LastName != nil {
		u.LastName = *update.LastName
	}
	if update.Timezone != nil {
		u.Timezone = *update.Timezone
	}
	return u, nil
}

func (f *fakeStore) UpdatePassword(ctx context.Context, id int64, passwordHash string) error {
	u, ok := f.users[id]
	if !ok {
		return apperrors.New(apperrors.NotFound, "User not found")
	}
	u.PasswordHash = passwordHash
	return nil
}

func (f *fakeStore) UpdateAvatar(ctx context.Context, id int64, url string) error {
	u, ok := f.users[id]
	if !ok {
		return apperrors.New(apperrors.NotFound, "User not found")
	}
	u.ProfilePictureURL = &url
	return nil
}

func (f *fakeStore) ListUsers(ctx context.Context) ([]*User, error) {
	var users []*User
	for _, u := range f.users {
		users = append(users, u)
	}
	return users, nil
}

func (f *fakeStore) SetRole(ctx context.Context, id int64, role string) error {
	u, ok := f.users[id]
	if !ok {
		return apperrors.New(apperrors.NotFound, "User not found")
	}
	u.Role = role
	return nil
}

func (f *fakeStore) SetActive(ctx context.Context, id int64, active bool) error {
	u, ok := f.users[id]
	if !ok {
		return apperrors.New(apperrors.NotFound, "User not found")
	}
	u.IsActive = active
	return nil
}

func (f *fakeStore) DeleteUser(ctx context.Context, id int64) error {
	if _, ok := f.users[id]; !ok {
		return apperrors.New(apperrors.NotFound, "User not found")
	}
	delete(f.users, id)
	return nil
}

func (f *fakeStore) RoleName(ctx context.Context, userID int64) (string, error) {
	u, ok := f.users[userID]
	if !ok {
		return "", apperrors.New(apperrors.NotFound, "User not found")
	}
	return u.Role, nil
}

type testEnv struct {
	store  *fakeStore
	tokens *auth.TokenService
	router *mux.Router
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	tokens, err := auth.NewTokenService("test-secret", time.Hour)
	require.NoError(t, err)

	store := newFakeStore()
	handlers := NewHandlers(HandlersConfig{
		Store:      store,
		Tokens:     tokens,
		BcryptCost: 4,
	})

	gate := middleware.NewAuthGate(tokens, nil)
	roles := middleware.NewRolePolicy(store,
		[]string{RoleSiteAdmin, RoleApplicationAdmin},
		[]string{RoleSiteAdmin},
	)

	router := mux.NewRouter()
	handlers.RegisterRoutes(router, gate, roles)
	return &testEnv{store: store, tokens: tokens, router: router}
}

func (e *testEnv) seedUser(t *testing.T, username, password, role string, active bool) *User {
	t.Helper()
	hash, err := auth.HashPassword(password, 4)
	require.NoError(t, err)
	return e.store.addUser(&User{
		Username:     username,
		Email:        strPtr(username + "@example.com"),
		PasswordHash: hash,
		Role:         role,
		IsActive:     active,
	})
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}, token string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) tokenFor(t *testing.T, u *User) string {
	t.Helper()
	token, err := e.tokens.Issue(u.ID, u.Username)
	require.NoError(t, err)
	return token
}

func TestRegister(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, "POST", "/auth/register", map[string]string{
		"username":  "alice",
		"email":     "alice@example.com",
		"password":  "s3cret",
		"firstName": "Alice",
		"lastName":  "Smith",
	}, "")

	require.Equal(t, http.StatusCreated, rec.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp["token"])

	claims, err := env.tokens.Verify(resp["token"])
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Username)

	// Password is stored hashed.
	user, err := env.store.GetByUsername(context.Background(), "alice")
	require.NoError(t, err)
	assert.NotEqual(t, "s3cret", user.PasswordHash)
	assert.True(t, auth.CheckPassword(user.PasswordHash, "s3cret"))
}

func TestRegister_MissingFields(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, "POST", "/auth/register", map[string]string{"username": "alice"}, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRegister_EmailOptional(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, "POST", "/auth/register", map[string]string{
		"username":  "alice",
		"password":  "s3cret",
		"firstName": "Alice",
		"lastName":  "Smith",
	}, "")
	require.Equal(t, http.StatusCreated, rec.Code)

	user, err := env.store.GetByUsername(context.Background(), "alice")
	require.NoError(t, err)
	assert.Nil(t, user.Email)
}

func TestRegister_DuplicateUsername(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "alice", "pw", RoleUser, true)

	rec := env.do(t, "POST", "/auth/register", map[string]string{
		"username":  "alice",
		"email":     "other@example.com",
		"password":  "s3cret",
		"firstName": "Alice",
		"lastName":  "Jones",
	}, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "already exists")
}

func TestLogin(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "alice", "s3cret", RoleUser, true)

	rec := env.do(t, "POST", "/auth/login", map[string]string{
		"username": "alice",
		"password": "s3cret",
	}, "")

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp["token"])
}

func TestLogin_UniformFailureMessage(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "alice", "s3cret", RoleUser, true)

	// Unknown username and wrong password must be indistinguishable.
	unknownUser := env.do(t, "POST", "/auth/login", map[string]string{
		"username": "ghost",
		"password": "whatever",
	}, "")
	wrongPassword := env.do(t, "POST", "/auth/login", map[string]string{
		"username": "alice",
		"password": "wrong",
	}, "")

	assert.Equal(t, http.StatusBadRequest, unknownUser.Code)
	assert.Equal(t, http.StatusBadRequest, wrongPassword.Code)
	assert.JSONEq(t, unknownUser.Body.String(), wrongPassword.Body.String())
}

func TestLogin_DisabledAccount(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "alice", "s3cret", RoleUser, false)

	rec := env.do(t, "POST", "/auth/login", map[string]string{
		"username": "alice",
		"password": "s3cret",
	}, "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "disabled")
}

func TestGetProfile(t *testing.T) {
	env := newTestEnv(t)
	user := env.seedUser(t, "alice", "s3cret", RoleUser, true)

	rec := env.do(t, "GET", "/auth/profile", nil, env.tokenFor(t, user))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "alice", resp["username"])
	assert.Equal(t, DefaultTimezone, resp["timezone"])
	assert.NotContains(t, rec.Body.String(), "password")
}

func TestGetProfile_RequiresAuth(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, "GET", "/auth/profile", nil, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestUpdateProfile(t *testing.T) {
	env := newTestEnv(t)
	user := env.seedUser(t, "alice", "s3cret", RoleUser, true)

	rec := env.do(t, "PUT", "/auth/profile", map[string]string{
		"firstName": "Alice",
		"timezone":  "Europe/Berlin",
	}, env.tokenFor(t, user))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "Alice", resp["first_name"])
	assert.Equal(t, "Europe/Berlin", resp["timezone"])
	assert.Equal(t, "alice", resp["username"])
}

func TestChangePassword(t *testing.T) {
	env := newTestEnv(t)
	user := env.seedUser(t, "alice", "old-pw", RoleUser, true)
	token := env.tokenFor(t, user)

	wrong := env.do(t, "PUT", "/auth/change-password", map[string]string{
		"currentPassword": "bad-guess",
		"newPassword":     "new-pw",
	}, token)
	assert.Equal(t, http.StatusBadRequest, wrong.Code)

	rec := env.do(t, "PUT", "/auth/change-password", map[string]string{
		"currentPassword": "old-pw",
		"newPassword":     "new-pw",
	}, token)
	require.Equal(t, http.StatusOK, rec.Code)

	assert.True(t, auth.CheckPassword(user.PasswordHash, "new-pw"))
	assert.False(t, auth.CheckPassword(user.PasswordHash, "old-pw"))
}

func TestListUsers_AdminOnly(t *testing.T) {
	env := newTestEnv(t)
	user := env.seedUser(t, "alice", "pw", RoleUser, true)
	admin := env.seedUser(t, "root", "pw", RoleApplicationAdmin, true)

	denied := env.do(t, "GET", "/auth/users", nil, env.tokenFor(t, user))
	assert.Equal(t, http.StatusForbidden, denied.Code)

	allowed := env.do(t, "GET", "/auth/users", nil, env.tokenFor(t, admin))
	require.Equal(t, http.StatusOK, allowed.Code)

	var users []map[string]interface{}
	require.NoError(t, json.Unmarshal(allowed.Body.Bytes(), &users))
	assert.Len(t, users, 2)
}

func TestSetRole_SiteAdminOnly(t *testing.T) {
	env := newTestEnv(t)
	user := env.seedUser(t, "alice", "pw", RoleUser, true)
	appAdmin := env.seedUser(t, "app", "pw", RoleApplicationAdmin, true)
	siteAdmin := env.seedUser(t, "root", "pw", RoleSiteAdmin, true)

	denied := env.do(t, "PUT", "/auth/users/1/role",
		map[string]string{"role": RoleApplicationAdmin}, env.tokenFor(t, appAdmin))
	assert.Equal(t, http.StatusForbidden, denied.Code)

	invalid := env.do(t, "PUT", "/auth/users/1/role",
		map[string]string{"role": "superuser"}, env.tokenFor(t, siteAdmin))
	assert.Equal(t, http.StatusBadRequest, invalid.Code)

	rec := env.do(t, "PUT", "/auth/users/1/role",
		map[string]string{"role": RoleApplicationAdmin}, env.tokenFor(t, siteAdmin))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, RoleApplicationAdmin, user.Role)
}

func TestSetStatus(t *testing.T) {
	env := newTestEnv(t)
	user := env.seedUser(t, "alice", "pw", RoleUser, true)
	admin := env.seedUser(t, "root", "pw", RoleSiteAdmin, true)

	rec := env.do(t, "PUT", "/auth/users/1/status",
		map[string]bool{"is_active": false}, env.tokenFor(t, admin))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, user.IsActive)

	// The response carries the updated user alongside the message.
	var resp struct {
		Message string `json:"message"`
		User    *User  `json:"user"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.Message)
	require.NotNil(t, resp.User)
	assert.Equal(t, user.ID, resp.User.ID)
	assert.False(t, resp.User.IsActive)

	// Missing is_active field is a validation error, not a silent disable.
	rec = env.do(t, "PUT", "/auth/users/1/status",
		map[string]string{}, env.tokenFor(t, admin))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDeleteUser(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "alice", "pw", RoleUser, true)
	admin := env.seedUser(t, "root", "pw", RoleSiteAdmin, true)
	token := env.tokenFor(t, admin)

	self := env.do(t, "DELETE", "/auth/users/2", nil, token)
	assert.Equal(t, http.StatusBadRequest, self.Code)

	rec := env.do(t, "DELETE", "/auth/users/1", nil, token)
	require.Equal(t, http.StatusOK, rec.Code)
	_, err := env.store.GetByID(context.Background(), 1)
	assert.Equal(t, apperrors.NotFound, apperrors.KindOf(err))

	missing := env.do(t, "DELETE", "/auth/users/1", nil, token)
	assert.Equal(t, http.StatusNotFound, missing.Code)
}
