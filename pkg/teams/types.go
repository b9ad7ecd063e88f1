package teams

import "time"

// Membership roles within a team.
const (
	RoleManager = "manager"
	RoleMember  = "member"
)

// ValidMemberRole reports whether name is an assignable membership role.
func ValidMemberRole(name string) bool {
	return name == RoleManager || name == RoleMember
}

// MaxDescriptionLength caps team descriptions.
const MaxDescriptionLength = 500

// Team is a team row. Role, when present, is the requesting user's
// membership role in the team.
type Team struct {
	ID          int64      `json:"id"`
	Name        string     `json:"name"`
	Description *string    `json:"description"`
	Role        string     `json:"role,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   *time.Time `json:"updated_at,omitempty"`
}

// Member is a team membership row joined with account fields. Email is
// nil for accounts registered without one.
type Member struct {
	UserID    int64     `json:"user_id"`
	Username  string    `json:"username"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	Email     *string   `json:"email"`
	Role      string    `json:"role"`
	AddedAt   time.Time `json:"added_at"`
}

// TeamUpdate carries editable team fields. Nil pointers mean "leave
// unchanged".
type TeamUpdate struct {
	Name        *string
	Description *string
}
