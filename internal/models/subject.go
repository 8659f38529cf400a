package models

import "time"

// Subject represents a course offering belonging to one career. Code and name
// are each unique within the owning career.
type Subject struct {
	ID            string    `db:"id" json:"id"`
	CareerID      string    `db:"career_id" json:"career_id"`
	Code          string    `db:"code" json:"code"`
	Name          string    `db:"name" json:"name"`
	YearOfProgram int       `db:"year_of_program" json:"year_of_program"`
	MaxCapacity   int       `db:"max_capacity" json:"max_capacity"`
	Active        bool      `db:"active" json:"active"`
	Description   string    `db:"description" json:"description,omitempty"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time `db:"updated_at" json:"updated_at"`
}

// SubjectDetail enriches Subject with career context.
type SubjectDetail struct {
	Subject
	CareerName string `db:"career_name" json:"career_name"`
	CareerCode string `db:"career_code" json:"career_code"`
}

// SubjectFilter captures supported filters for listing subjects.
type SubjectFilter struct {
	CareerID      string
	YearOfProgram int
	Active        *bool
	Search        string
	Page          int
	PageSize      int
	SortBy        string
	SortOrder     string
}

// SubjectAvailability reports live capacity for a subject. Counts are read
// per call, never cached.
type SubjectAvailability struct {
	SubjectID    string `json:"subject_id"`
	CurrentCount int    `json:"current_count"`
	MaxCapacity  int    `json:"max_capacity"`
	HasSpace     bool   `json:"has_space"`
}
