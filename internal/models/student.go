package models

import "time"

// PersonalInfo holds the identity attributes shared by request payloads and
// the student record itself. It is embedded by value, not inherited.
type PersonalInfo struct {
	FirstName  string `db:"first_name" json:"first_name"`
	LastName   string `db:"last_name" json:"last_name"`
	NationalID string `db:"national_id" json:"national_id"`
	Email      string `db:"email" json:"email"`
}

// FullName returns "First Last".
func (p PersonalInfo) FullName() string {
	return p.FirstName + " " + p.LastName
}

// Student represents a learner registered in the institution. FileCode is
// assigned once at creation and never mutated.
type Student struct {
	ID string `db:"id" json:"id"`
	PersonalInfo
	CareerID   string    `db:"career_id" json:"career_id"`
	FileCode   string    `db:"file_code" json:"file_code"`
	EnrolledOn time.Time `db:"enrolled_on" json:"enrolled_on"`
	Active     bool      `db:"active" json:"active"`
	Notes      string    `db:"notes" json:"notes,omitempty"`
	UserID     *string   `db:"user_id" json:"user_id,omitempty"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time `db:"updated_at" json:"updated_at"`
}

// StudentDetail contains student information with career context.
type StudentDetail struct {
	Student
	CareerName string `db:"career_name" json:"career_name"`
	CareerCode string `db:"career_code" json:"career_code"`
}

// StudentCredentials carries the one-time login material returned when a
// student is created with auto_create_login.
type StudentCredentials struct {
	Email             string `json:"email"`
	TemporaryPassword string `json:"temporary_password"`
}

// StudentFilter captures allowed search parameters for listing students.
type StudentFilter struct {
	CareerID  string
	Active    *bool
	Search    string
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}
