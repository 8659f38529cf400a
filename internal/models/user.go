package models

import "time"

// UserRole represents the available roles for the RBAC system.
type UserRole string

const (
	RoleAdmin   UserRole = "ADMIN"
	RoleStudent UserRole = "STUDENT"
	RoleGuest   UserRole = "GUEST"
)

// User represents an application login stored in the users table.
type User struct {
	ID                 string     `db:"id" json:"id"`
	Email              string     `db:"email" json:"email"`
	NationalID         string     `db:"national_id" json:"national_id"`
	PasswordHash       string     `db:"password_hash" json:"-"`
	FullName           string     `db:"full_name" json:"full_name"`
	Role               UserRole   `db:"role" json:"role"`
	MustChangePassword bool       `db:"must_change_password" json:"must_change_password"`
	Active             bool       `db:"active" json:"active"`
	LastLogin          *time.Time `db:"last_login" json:"last_login,omitempty"`
	CreatedAt          time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time  `db:"updated_at" json:"updated_at"`
}

// Actor identifies who is performing an operation. It is threaded explicitly
// into every service call; there is no ambient per-request user state.
type Actor struct {
	UserID string
	Role   UserRole
}

// IsAdmin reports whether the actor holds the elevated role.
func (a Actor) IsAdmin() bool {
	return a.Role == RoleAdmin
}

// IsStudent reports whether the actor holds the restricted self-service role.
func (a Actor) IsStudent() bool {
	return a.Role == RoleStudent
}

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}
