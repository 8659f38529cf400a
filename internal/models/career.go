package models

import "time"

// Career represents a multi-year program of study.
type Career struct {
	ID            string    `db:"id" json:"id"`
	Code          string    `db:"code" json:"code"`
	Name          string    `db:"name" json:"name"`
	DurationYears int       `db:"duration_years" json:"duration_years"`
	Active        bool      `db:"active" json:"active"`
	Description   string    `db:"description" json:"description,omitempty"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time `db:"updated_at" json:"updated_at"`
}

// CareerFilter captures supported filters for listing careers.
type CareerFilter struct {
	Search    string
	Active    *bool
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}

// CareerDependents holds the dependent counts that block a career deletion.
type CareerDependents struct {
	Subjects int `db:"subjects" json:"subjects"`
	Students int `db:"students" json:"students"`
}
