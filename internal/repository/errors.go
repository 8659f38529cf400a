package repository

import (
	"errors"

	"github.com/lib/pq"
)

// Sentinel errors surfaced by the transactional guards. Services translate
// them into the typed API errors.
var (
	ErrDuplicatePair    = errors.New("enrollment already exists for student and subject")
	ErrCapacityFull     = errors.New("subject capacity reached")
	ErrSequenceConflict = errors.New("file code sequence conflict")
	ErrHasDependents    = errors.New("record has dependent records")
	ErrCacheMiss        = errors.New("cache miss")
)

// isUniqueViolation reports whether err is a Postgres unique violation,
// optionally on a specific constraint.
func isUniqueViolation(err error, constraint string) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	if pqErr.Code != "23505" {
		return false
	}
	return constraint == "" || pqErr.Constraint == constraint
}
