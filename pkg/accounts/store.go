package accounts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/newcloud/newcloud/pkg/apperrors"
)

const uniqueViolation = "23505"

// Store defines account persistence operations.
type Store interface {
	CreateUser(ctx context.Context, nu NewUser) (*User, error)
	GetByUsername(ctx context.Context, username string) (*User, error)
	GetByID(ctx context.Context, id int64) (*User, error)
	UpdateProfile(ctx context.Context, id int64, update ProfileUpdate) (*User, error)
	UpdatePassword(ctx context.Context, id int64, passwordHash string) error
	UpdateAvatar(ctx context.Context, id int64, url string) error
	ListUsers(ctx context.Context) ([]*User, error)
	SetRole(ctx context.Context, id int64, role string) error
	SetActive(ctx context.Context, id int64, active bool) error
	DeleteUser(ctx context.Context, id int64) error
	RoleName(ctx context.Context, userID int64) (string, error)
}

// PostgresStore implements Store backed by PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates an account store using the given connection pool.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const userColumns = `
	u.id, u.username, u.email, u.password_hash, u.first_name, u.last_name,
	u.timezone, u.profile_picture_url, r.name, u.is_active, u.created_at, u.updated_at`

func scanUser(row interface{ Scan(...interface{}) error }) (*User, error) {
	var u User
	err := row.Scan(
		&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.FirstName, &u.LastName,
		&u.Timezone, &u.ProfilePictureURL, &u.Role, &u.IsActive, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// CreateUser inserts a new account with the default user role.
func (s *PostgresStore) CreateUser(ctx context.Context, nu NewUser) (*User, error) {
	if nu.Timezone == "" {
		nu.Timezone = DefaultTimezone
	}

	query := `
		INSERT INTO users (username, email, password_hash, first_name, last_name, timezone, role_id)
		VALUES ($1, $2, $3, $4, $5, $6, (SELECT id FROM roles WHERE name = $7))
		RETURNING id, created_at`

	var u User
	err := s.db.QueryRowContext(ctx, query,
		nu.Username, nu.Email, nu.PasswordHash, nu.FirstName, nu.LastName, nu.Timezone, RoleUser,
	).Scan(&u.ID, &u.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, apperrors.New(apperrors.Conflict, "Username or email already exists")
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	u.Username = nu.Username
	u.Email = nu.Email
	u.PasswordHash = nu.PasswordHash
	u.FirstName = nu.FirstName
	u.LastName = nu.LastName
	u.Timezone = nu.Timezone
	u.Role = RoleUser
	u.IsActive = true
	return &u, nil
}

// GetByUsername fetches a user including the password hash for login checks.
func (s *PostgresStore) GetByUsername(ctx context.Context, username string) (*User, error) {
	query := `
		SELECT` + userColumns + `
		FROM users u
		JOIN roles r ON r.id = u.role_id
		WHERE u.username = $1`

	u, err := scanUser(s.db.QueryRowContext(ctx, query, username))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.New(apperrors.NotFound, "User not found")
		}
		return nil, fmt.Errorf("failed to get user by username: %w", err)
	}
	return u, nil
}

// GetByID fetches a user by primary key.
func (s *PostgresStore) GetByID(ctx context.Context, id int64) (*User, error) {
	query := `
		SELECT` + userColumns + `
		FROM users u
		JOIN roles r ON r.id = u.role_id
		WHERE u.id = $1`

	u, err := scanUser(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.New(apperrors.NotFound, "User not found")
		}
		return nil, fmt.Errorf("failed to get user by id: %w", err)
	}
	return u, nil
}

// UpdateProfile applies the non-nil fields and returns the updated user.
func (s *PostgresStore) UpdateProfile(ctx context.Context, id int64, update ProfileUpdate) (*User, error) {
	sets := []string{"updated_at = NOW()"}
	args := []interface{}{}
	i := 1

	add := func(column string, value *string) {
		if value != nil {
			sets = append(sets, fmt.Sprintf("%s = $%d", column, i))
			args = append(args, *value)
			i++
		}
	}
	add("username", update.Username)
	add("email", update.Email)
	add("first_name", update.FirstName)
	add("last_name", update.LastName)
	add("timezone", update.Timezone)

	args = append(args, id)
	query := fmt.Sprintf("UPDATE users SET %s WHERE id = $%d", strings.Join(sets, ", "), i)

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, apperrors.New(apperrors.Conflict, "Username or email already exists")
		}
		return nil, fmt.Errorf("failed to update profile: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return nil, apperrors.New(apperrors.NotFound, "User not found")
	}

	return s.GetByID(ctx, id)
}

// UpdatePassword replaces the stored password hash.
func (s *PostgresStore) UpdatePassword(ctx context.Context, id int64, passwordHash string) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE users SET password_hash = $1, updated_at = NOW() WHERE id = $2",
		passwordHash, id,
	)
	if err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return apperrors.New(apperrors.NotFound, "User not found")
	}
	return nil
}

// UpdateAvatar stores the public URL of an uploaded profile picture.
func (s *PostgresStore) UpdateAvatar(ctx context.Context, id int64, url string) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE users SET profile_picture_url = $1, updated_at = NOW() WHERE id = $2",
		url, id,
	)
	if err != nil {
		return fmt.Errorf("failed to update avatar: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return apperrors.New(apperrors.NotFound, "User not found")
	}
	return nil
}

// ListUsers returns all accounts ordered by username.
func (s *PostgresStore) ListUsers(ctx context.Context) ([]*User, error) {
	query := `
		SELECT` + userColumns + `
		FROM users u
		JOIN roles r ON r.id = u.role_id
		ORDER BY u.username`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate users: %w", err)
	}
	return users, nil
}

// SetRole changes an account's role. The role name must already exist.
func (s *PostgresStore) SetRole(ctx context.Context, id int64, role string) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE users SET role_id = (SELECT id FROM roles WHERE name = $1), updated_at = NOW() WHERE id = $2",
		role, id,
	)
	if err != nil {
		return fmt.Errorf("failed to set role: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return apperrors.New(apperrors.NotFound, "User not found")
	}
	return nil
}

// SetActive enables or disables an account. Disabling is idempotent.
func (s *PostgresStore) SetActive(ctx context.Context, id int64, active bool) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE users SET is_active = $1, updated_at = NOW() WHERE id = $2",
		active, id,
	)
	if err != nil {
		return fmt.Errorf("failed to set active: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return apperrors.New(apperrors.NotFound, "User not found")
	}
	return nil
}

// DeleteUser removes an account. Team memberships cascade.
func (s *PostgresStore) DeleteUser(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM users WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return apperrors.New(apperrors.NotFound, "User not found")
	}
	return nil
}

// RoleName returns the role of the given user for authorization checks.
func (s *PostgresStore) RoleName(ctx context.Context, userID int64) (string, error) {
	var role string
	err := s.db.QueryRowContext(ctx,
		"SELECT r.name FROM users u JOIN roles r ON r.id = u.role_id WHERE u.id = $1",
		userID,
	).Scan(&role)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", apperrors.New(apperrors.NotFound, "User not found")
		}
		return "", fmt.Errorf("failed to get role: %w", err)
	}
	return role, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}
