package accounts

import "time"

// Role names seeded by the migrations. The user role is the registration
// default; the two admin roles unlock the administrative endpoints.
const (
	RoleUser             = "user"
	RoleApplicationAdmin = "application_admin"
	RoleSiteAdmin        = "site_admin"
)

// ValidRole reports whether name is an assignable role.
func ValidRole(name string) bool {
	switch name {
	case RoleUser, RoleApplicationAdmin, RoleSiteAdmin:
		return true
	}
	return false
}

// IsAdminRole reports whether name carries administrative privileges.
func IsAdminRole(name string) bool {
	return name == RoleApplicationAdmin || name == RoleSiteAdmin
}

// User is an account row joined with its role name. Email is optional and
// unique when present. PasswordHash never appears in responses.
type User struct {
	ID                int64      `json:"id"`
	Username          string     `json:"username"`
	Email             *string    `json:"email"`
	PasswordHash      string     `json:"-"`
	FirstName         string     `json:"first_name"`
	LastName          string     `json:"last_name"`
	Timezone          string     `json:"timezone"`
	ProfilePictureURL *string    `json:"profile_picture_url"`
	Role              string     `json:"role"`
	IsActive          bool       `json:"is_active"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         *time.Time `json:"updated_at,omitempty"`
}

// NewUser carries the fields required to create an account. A nil Email
// stores NULL.
type NewUser struct {
	Username     string
	Email        *string
	PasswordHash string
	FirstName    string
	LastName     string
	Timezone     string
}

// ProfileUpdate carries the editable profile fields. Nil pointers mean
// "leave unchanged".
type ProfileUpdate struct {
	Username  *string
	Email     *string
	FirstName *string
	LastName  *string
	Timezone  *string
}

// DefaultTimezone is applied when registration omits a timezone.
const DefaultTimezone = "America/Boise"
