package models

import "time"

// EnrollmentStatus represents the academic status of an enrollment. The set
// is flat: any status may follow any other through administrative action.
type EnrollmentStatus string

// Possible enrollment statuses.
const (
	EnrollmentStatusEnrolled EnrollmentStatus = "ENROLLED"
	EnrollmentStatusRegular  EnrollmentStatus = "REGULAR"
	EnrollmentStatusPassed   EnrollmentStatus = "PASSED"
	EnrollmentStatusFailed   EnrollmentStatus = "FAILED"
)

// Valid reports whether s is one of the enumerated statuses.
func (s EnrollmentStatus) Valid() bool {
	switch s {
	case EnrollmentStatusEnrolled, EnrollmentStatusRegular, EnrollmentStatusPassed, EnrollmentStatusFailed:
		return true
	}
	return false
}

// Enrollment links one student to one subject. The (student, subject) pair
// is unique for the lifetime of both records.
type Enrollment struct {
	ID         string           `db:"id" json:"id"`
	StudentID  string           `db:"student_id" json:"student_id"`
	SubjectID  string           `db:"subject_id" json:"subject_id"`
	Status     EnrollmentStatus `db:"status" json:"status"`
	EnrolledAt time.Time        `db:"enrolled_at" json:"enrolled_at"`
	Notes      string           `db:"notes" json:"notes,omitempty"`
}

// EnrollmentDetail enriches Enrollment with student and subject info.
type EnrollmentDetail struct {
	Enrollment
	StudentName     string `db:"student_name" json:"student_name"`
	StudentFileCode string `db:"student_file_code" json:"student_file_code"`
	SubjectName     string `db:"subject_name" json:"subject_name"`
	SubjectCode     string `db:"subject_code" json:"subject_code"`
}

// EnrollmentFilter provides filters for listing enrollments.
type EnrollmentFilter struct {
	StudentID string
	SubjectID string
	Status    EnrollmentStatus
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}
