package accounts

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/newcloud/newcloud/pkg/apperrors"
)

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPostgresStore(db), mock
}

func strPtr(s string) *string { return &s }

func userRows(u *User) *sqlmock.Rows {
	var email, avatar, updated interface{}
	if u.Email != nil {
		email = *u.Email
	}
	if u.ProfilePictureURL != nil {
		avatar = *u.ProfilePictureURL
	}
	if u.UpdatedAt != nil {
		updated = *u.UpdatedAt
	}
	return sqlmock.NewRows([]string{
		"id", "username", "email", "password_hash", "first_name", "last_name",
		"timezone", "profile_picture_url", "name", "is_active", "created_at", "updated_at",
	}).AddRow(
		u.ID, u.Username, email, u.PasswordHash, u.FirstName, u.LastName,
		u.Timezone, avatar, u.Role, u.IsActive, u.CreatedAt, updated,
	)
}

func TestCreateUser_Defaults(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("INSERT INTO users").
		WithArgs("alice", "alice@example.com", "hash", "Alice", "Smith", DefaultTimezone, RoleUser).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(1, time.Now()))

	user, err := store.CreateUser(context.Background(), NewUser{
		Username:     "alice",
		Email:        strPtr("alice@example.com"),
		PasswordHash: "hash",
		FirstName:    "Alice",
		LastName:     "Smith",
	})
	require.NoError(t, err)

	assert.Equal(t, int64(1), user.ID)
	assert.Equal(t, DefaultTimezone, user.Timezone)
	assert.Equal(t, RoleUser, user.Role)
	assert.True(t, user.IsActive)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateUser_NoEmail(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("INSERT INTO users").
		WithArgs("bob", nil, "hash", "Bob", "Jones", DefaultTimezone, RoleUser).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(2, time.Now()))

	user, err := store.CreateUser(context.Background(), NewUser{
		Username:     "bob",
		PasswordHash: "hash",
		FirstName:    "Bob",
		LastName:     "Jones",
	})
	require.NoError(t, err)
	assert.Nil(t, user.Email)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateUser_DuplicateUsername(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("INSERT INTO users").
		WillReturnError(&pq.Error{Code: uniqueViolation})

	_, err := store.CreateUser(context.Background(), NewUser{
		Username:     "alice",
		Email:        strPtr("alice@example.com"),
		PasswordHash: "hash",
	})
	require.Error(t, err)
	assert.Equal(t, apperrors.Conflict, apperrors.KindOf(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetByUsername(t *testing.T) {
	store, mock := newMockStore(t)

	expected := &User{
		ID:       1,
		Username: "alice",
		Email:    strPtr("alice@example.com"),
		Timezone: DefaultTimezone,
		Role:     RoleUser,
		IsActive: true,
	}
	mock.ExpectQuery("SELECT (.+) FROM users u JOIN roles r").
		WithArgs("alice").
		WillReturnRows(userRows(expected))

	user, err := store.GetByUsername(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", user.Username)
	assert.Equal(t, RoleUser, user.Role)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetByUsername_NotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT (.+) FROM users u JOIN roles r").
		WithArgs("ghost").
		WillReturnError(sql.ErrNoRows)

	_, err := store.GetByUsername(context.Background(), "ghost")
	require.Error(t, err)
	assert.Equal(t, apperrors.NotFound, apperrors.KindOf(err))
}

func TestUpdateProfile_PartialUpdate(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("UPDATE users SET").
		WithArgs("new-alice", int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	expected := &User{ID: 1, Username: "new-alice", Email: strPtr("alice@example.com"), Timezone: DefaultTimezone, Role: RoleUser, IsActive: true}
	mock.ExpectQuery("SELECT (.+) FROM users u JOIN roles r").
		WithArgs(int64(1)).
		WillReturnRows(userRows(expected))

	username := "new-alice"
	user, err := store.UpdateProfile(context.Background(), 1, ProfileUpdate{Username: &username})
	require.NoError(t, err)
	assert.Equal(t, "new-alice", user.Username)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateProfile_UsernameConflict(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("UPDATE users SET").
		WillReturnError(&pq.Error{Code: uniqueViolation})

	username := "taken"
	_, err := store.UpdateProfile(context.Background(), 1, ProfileUpdate{Username: &username})
	require.Error(t, err)
	assert.Equal(t, apperrors.Conflict, apperrors.KindOf(err))
}

func TestSetRole_UnknownUser(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("UPDATE users SET role_id").
		WithArgs(RoleSiteAdmin, int64(99)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.SetRole(context.Background(), 99, RoleSiteAdmin)
	require.Error(t, err)
	assert.Equal(t, apperrors.NotFound, apperrors.KindOf(err))
}

func TestSetActive_Idempotent(t *testing.T) {
	store, mock := newMockStore(t)

	// Disabling an already-disabled account still matches the row and
	// succeeds.
	mock.ExpectExec("UPDATE users SET is_active").
		WithArgs(false, int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.SetActive(context.Background(), 1, false))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteUser_Store(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("DELETE FROM users").
		WithArgs(int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.DeleteUser(context.Background(), 1))

	mock.ExpectExec("DELETE FROM users").
		WithArgs(int64(99)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.DeleteUser(context.Background(), 99)
	assert.Equal(t, apperrors.NotFound, apperrors.KindOf(err))
}

func TestListUsers(t *testing.T) {
	store, mock := newMockStore(t)

	rows := userRows(&User{ID: 1, Username: "alice", Email: strPtr("a@example.com"), Timezone: DefaultTimezone, Role: RoleUser, IsActive: true}).
		AddRow(2, "bob", "b@example.com", "hash", "Bob", "Jones", DefaultTimezone, nil, RoleSiteAdmin, true, time.Now(), nil)
	mock.ExpectQuery("SELECT (.+) FROM users u JOIN roles r (.+) ORDER BY u.username").
		WillReturnRows(rows)

	users, err := store.ListUsers(context.Background())
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, "alice", users[0].Username)
	assert.Equal(t, RoleSiteAdmin, users[1].Role)
}

func TestRoleName(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT r.name FROM users u JOIN roles r").
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow(RoleApplicationAdmin))

	role, err := store.RoleName(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, RoleApplicationAdmin, role)

	mock.ExpectQuery("SELECT r.name FROM users u JOIN roles r").
		WithArgs(int64(99)).
		WillReturnError(sql.ErrNoRows)

	_, err = store.RoleName(context.Background(), 99)
	assert.Equal(t, apperrors.NotFound, apperrors.KindOf(err))
}
