package teams

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/newcloud/newcloud/pkg/apperrors"
)

const (
	uniqueViolation     = "23505"
	foreignKeyViolation = "23503"
)

// Store defines team persistence operations.
type Store interface {
	CreateTeam(ctx context.Context, name string, description *string, creatorID int64) (*Team, error)
	ListForUser(ctx context.Context, userID int64) ([]*Team, error)
	Get(ctx context.Context, teamID int64) (*Team, error)
	GetMembers(ctx context.Context, teamID int64) ([]*Member, error)
	Update(ctx context.Context, teamID int64, update TeamUpdate) (*Team, error)
	Delete(ctx context.Context, teamID int64) error
	AddMember(ctx context.Context, teamID, userID int64, role string) error
	RemoveMember(ctx context.Context, teamID, userID int64) error
	SetMemberRole(ctx context.Context, teamID, userID int64, role string) error
	MembershipRole(ctx context.Context, teamID, userID int64) (string, error)
}

// PostgresStore implements Store backed by PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a team store using the given connection pool.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// CreateTeam inserts the team and its creator's manager membership in one
// transaction; a team never exists without a manager.
func (s *PostgresStore) CreateTeam(ctx context.Context, name string, description *string, creatorID int64) (*Team, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	var t Team
	err = tx.QueryRowContext(ctx,
		"INSERT INTO teams (name, description) VALUES ($1, $2) RETURNING id, created_at",
		name, description,
	).Scan(&t.ID, &t.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create team: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		"INSERT INTO team_members (team_id, user_id, role) VALUES ($1, $2, $3)",
		t.ID, creatorID, RoleManager,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to add creator as manager: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit team creation: %w", err)
	}

	t.Name = name
	t.Description = description
	t.Role = RoleManager
	return &t, nil
}

// ListForUser returns the teams the user belongs to, with the user's
// membership role on each.
func (s *PostgresStore) ListForUser(ctx context.Context, userID int64) ([]*Team, error) {
	query := `
		SELECT t.id, t.name, t.description, tm.role, t.created_at, t.updated_at
		FROM teams t
		JOIN team_members tm ON tm.team_id = t.id
		WHERE tm.user_id = $1
		ORDER BY t.name`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list teams: %w", err)
	}
	defer rows.Close()

	var teams []*Team
	for rows.Next() {
		var t Team
		if err := rows.Scan(&t.ID, &t.Name, &t.Description, &t.Role, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan team: %w", err)
		}
		teams = append(teams, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate teams: %w", err)
	}
	return teams, nil
}

// Get fetches a team by primary key.
func (s *PostgresStore) Get(ctx context.Context, teamID int64) (*Team, error) {
	var t Team
	err := s.db.QueryRowContext(ctx,
		"SELECT id, name, description, created_at, updated_at FROM teams WHERE id = $1",
		teamID,
	).Scan(&t.ID, &t.Name, &t.Description, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.New(apperrors.NotFound, "Team not found")
		}
		return nil, fmt.Errorf("failed to get team: %w", err)
	}
	return &t, nil
}

// GetMembers returns the team roster, managers first.
func (s *PostgresStore) GetMembers(ctx context.Context, teamID int64) ([]*Member, error) {
	query := `
		SELECT tm.user_id, u.username, u.first_name, u.last_name, u.email, tm.role, tm.added_at
		FROM team_members tm
		JOIN users u ON u.id = tm.user_id
		WHERE tm.team_id = $1
		ORDER BY tm.role, u.username`

	rows, err := s.db.QueryContext(ctx, query, teamID)
	if err != nil {
		return nil, fmt.Errorf("failed to get members: %w", err)
	}
	defer rows.Close()

	var members []*Member
	for rows.Next() {
		var m Member
		if err := rows.Scan(&m.UserID, &m.Username, &m.FirstName, &m.LastName, &m.Email, &m.Role, &m.AddedAt); err != nil {
			return nil, fmt.Errorf("failed to scan member: %w", err)
		}
		members = append(members, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate members: %w", err)
	}
	return members, nil
}

// Update applies the non-nil fields and returns the updated team.
func (s *PostgresStore) Update(ctx context.Context, teamID int64, update TeamUpdate) (*Team, error) {
	sets := []string{"updated_at = NOW()"}
	args := []interface{}{}
	i := 1

	if update.Name != nil {
		sets = append(sets, fmt.Sprintf("name = $%d", i))
		args = append(args, *update.Name)
		i++
	}
	if update.Description != nil {
		sets = append(sets, fmt.Sprintf("description = $%d", i))
		args = append(args, *update.Description)
		i++
	}

	args = append(args, teamID)
	query := fmt.Sprintf("UPDATE teams SET %s WHERE id = $%d", strings.Join(sets, ", "), i)

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to update team: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return nil, apperrors.New(apperrors.NotFound, "Team not found")
	}

	return s.Get(ctx, teamID)
}

// Delete removes a team. Memberships cascade.
func (s *PostgresStore) Delete(ctx context.Context, teamID int64) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM teams WHERE id = $1", teamID)
	if err != nil {
		return fmt.Errorf("failed to delete team: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return apperrors.New(apperrors.NotFound, "Team not found")
	}
	return nil
}

// AddMember adds a user to a team with the given role.
func (s *PostgresStore) AddMember(ctx context.Context, teamID, userID int64, role string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO team_members (team_id, user_id, role) VALUES ($1, $2, $3)",
		teamID, userID, role,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) {
			switch pqErr.Code {
			case uniqueViolation:
				return apperrors.New(apperrors.Conflict, "User is already a member of this team")
			case foreignKeyViolation:
				return apperrors.New(apperrors.Validation, "User or team does not exist")
			}
		}
		return fmt.Errorf("failed to add member: %w", err)
	}
	return nil
}

// RemoveMember removes a user from a team. Removing the last manager is
// rejected so the team never ends up unmanageable.
func (s *PostgresStore) RemoveMember(ctx context.Context, teamID, userID int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	var role string
	err = tx.QueryRowContext(ctx,
		"SELECT role FROM team_members WHERE team_id = $1 AND user_id = $2",
		teamID, userID,
	).Scan(&role)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return apperrors.New(apperrors.NotFound, "User is not a member of this team")
		}
		return fmt.Errorf("failed to check membership: %w", err)
	}

	if role == RoleManager {
		var managers int
		err = tx.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM team_members WHERE team_id = $1 AND role = $2",
			teamID, RoleManager,
		).Scan(&managers)
		if err != nil {
			return fmt.Errorf("failed to count managers: %w", err)
		}
		if managers <= 1 {
			return apperrors.New(apperrors.Conflict, "Cannot remove the last manager of a team")
		}
	}

	if _, err := tx.ExecContext(ctx,
		"DELETE FROM team_members WHERE team_id = $1 AND user_id = $2",
		teamID, userID,
	); err != nil {
		return fmt.Errorf("failed to remove member: %w", err)
	}

	return tx.Commit()
}

// SetMemberRole promotes or demotes a member. Demoting the last manager is
// rejected.
func (s *PostgresStore) SetMemberRole(ctx context.Context, teamID, userID int64, role string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	var current string
	err = tx.QueryRowContext(ctx,
		"SELECT role FROM team_members WHERE team_id = $1 AND user_id = $2",
		teamID, userID,
	).Scan(&current)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return apperrors.New(apperrors.NotFound, "User is not a member of this team")
		}
		return fmt.Errorf("failed to check membership: %w", err)
	}

	if current == RoleManager && role != RoleManager {
		var managers int
		err = tx.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM team_members WHERE team_id = $1 AND role = $2",
			teamID, RoleManager,
		).Scan(&managers)
		if err != nil {
			return fmt.Errorf("failed to count managers: %w", err)
		}
		if managers <= 1 {
			return apperrors.New(apperrors.Conflict, "Cannot demote the last manager of a team")
		}
	}

	if _, err := tx.ExecContext(ctx,
		"UPDATE team_members SET role = $1 WHERE team_id = $2 AND user_id = $3",
		role, teamID, userID,
	); err != nil {
		return fmt.Errorf("failed to set member role: %w", err)
	}

	return tx.Commit()
}

// MembershipRole returns the user's role in the team. NotFound means the
// team does not exist; Forbidden means the team exists but the user is not
// a member.
func (s *PostgresStore) MembershipRole(ctx context.Context, teamID, userID int64) (string, error) {
	var role string
	err := s.db.QueryRowContext(ctx,
		"SELECT role FROM team_members WHERE team_id = $1 AND user_id = $2",
		teamID, userID,
	).Scan(&role)
	if err == nil {
		return role, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("failed to get membership role: %w", err)
	}

	var exists bool
	err = s.db.QueryRowContext(ctx,
		"SELECT EXISTS (SELECT 1 FROM teams WHERE id = $1)", teamID,
	).Scan(&exists)
	if err != nil {
		return "", fmt.Errorf("failed to check team: %w", err)
	}
	if !exists {
		return "", apperrors.New(apperrors.NotFound, "Team not found")
	}
	return "", apperrors.New(apperrors.Forbidden, "You are not a member of this team")
}
