package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/escuela-app/enrollment-api/internal/models"
)

// EnrollmentRepository handles persistence of enrollments.
type EnrollmentRepository struct {
	db *sqlx.DB
}

// NewEnrollmentRepository constructs the repository.
func NewEnrollmentRepository(db *sqlx.DB) *EnrollmentRepository {
	return &EnrollmentRepository{db: db}
}

// List returns enrollments filtered by the provided criteria.
func (r *EnrollmentRepository) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error) {
	base := `FROM enrollments e
JOIN students st ON st.id = e.student_id
JOIN subjects su ON su.id = e.subject_id`
	var conditions []string
	var args []interface{}

	if filter.StudentID != "" {
		conditions = append(conditions, fmt.Sprintf("e.student_id = $%d", len(args)+1))
		args = append(args, filter.StudentID)
	}
	if filter.SubjectID != "" {
		conditions = append(conditions, fmt.Sprintf("e.subject_id = $%d", len(args)+1))
		args = append(args, filter.SubjectID)
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("e.status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}

	clause := ""
	if len(conditions) > 0 {
		clause = " WHERE " + strings.Join(conditions, " AND ")
	}

	allowedSorts := map[string]string{
		"enrolled_at":  "e.enrolled_at",
		"student_name": "st.last_name",
		"subject_name": "su.name",
	}
	orderBy := allowedSorts[filter.SortBy]
	if orderBy == "" {
		orderBy = "e.enrolled_at"
	}
	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "DESC"
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf(`SELECT e.id, e.student_id, e.subject_id, e.status, e.enrolled_at, e.notes,
        st.first_name || ' ' || st.last_name AS student_name, st.file_code AS student_file_code,
        su.name AS subject_name, su.code AS subject_code
        %s ORDER BY %s %s LIMIT %d OFFSET %d`, base+clause, orderBy, order, size, offset)

	var enrollments []models.EnrollmentDetail
	if err := r.db.SelectContext(ctx, &enrollments, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list enrollments: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base+clause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count enrollments: %w", err)
	}
	return enrollments, total, nil
}

// FindByID returns an enrollment by its ID.
func (r *EnrollmentRepository) FindByID(ctx context.Context, id string) (*models.Enrollment, error) {
	const query = `SELECT id, student_id, subject_id, status, enrolled_at, notes FROM enrollments WHERE id = $1`
	var enrollment models.Enrollment
	if err := r.db.GetContext(ctx, &enrollment, query, id); err != nil {
		return nil, err
	}
	return &enrollment, nil
}

// FindDetailByID returns an enrollment with student and subject context.
func (r *EnrollmentRepository) FindDetailByID(ctx context.Context, id string) (*models.EnrollmentDetail, error) {
	const query = `SELECT e.id, e.student_id, e.subject_id, e.status, e.enrolled_at, e.notes,
        st.first_name || ' ' || st.last_name AS student_name, st.file_code AS student_file_code,
        su.name AS subject_name, su.code AS subject_code
        FROM enrollments e
        JOIN students st ON st.id = e.student_id
        JOIN subjects su ON su.id = e.subject_id
        WHERE e.id = $1`
	var detail models.EnrollmentDetail
	if err := r.db.GetContext(ctx, &detail, query, id); err != nil {
		return nil, err
	}
	return &detail, nil
}

// Exists checks whether any enrollment links the student and subject,
// regardless of status.
func (r *EnrollmentRepository) Exists(ctx context.Context, studentID, subjectID string) (bool, error) {
	const query = `SELECT 1 FROM enrollments WHERE student_id = $1 AND subject_id = $2 LIMIT 1`
	var exists int
	if err := r.db.GetContext(ctx, &exists, query, studentID, subjectID); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check enrollment: %w", err)
	}
	return true, nil
}

// ListBySubject returns the full roster of a subject ordered by student
// last name, without pagination.
func (r *EnrollmentRepository) ListBySubject(ctx context.Context, subjectID string) ([]models.EnrollmentDetail, error) {
	const query = `SELECT e.id, e.student_id, e.subject_id, e.status, e.enrolled_at, e.notes,
        st.first_name || ' ' || st.last_name AS student_name, st.file_code AS student_file_code,
        su.name AS subject_name, su.code AS subject_code
        FROM enrollments e
        JOIN students st ON st.id = e.student_id
        JOIN subjects su ON su.id = e.subject_id
        WHERE e.subject_id = $1
        ORDER BY st.last_name, st.first_name`
	var roster []models.EnrollmentDetail
	if err := r.db.SelectContext(ctx, &roster, query, subjectID); err != nil {
		return nil, fmt.Errorf("list subject roster: %w", err)
	}
	return roster, nil
}

// CountEnrolled returns the number of ENROLLED enrollments on a subject.
func (r *EnrollmentRepository) CountEnrolled(ctx context.Context, subjectID string) (int, error) {
	const query = `SELECT COUNT(*) FROM enrollments WHERE subject_id = $1 AND status = $2`
	var count int
	if err := r.db.GetContext(ctx, &count, query, subjectID, models.EnrollmentStatusEnrolled); err != nil {
		return 0, fmt.Errorf("count enrolled: %w", err)
	}
	return count, nil
}

// Create inserts the enrollment with the capacity check in the same
// transaction. The FOR UPDATE lock on the subject row serializes concurrent
// creations on the same subject and the ceiling is read under that lock, so
// neither the ENROLLED count nor max_capacity can be stale when the insert
// commits. A full subject returns ErrCapacityFull with the observed count and
// ceiling; capacity is a hard ceiling and must not be retried. The unique
// (student, subject) index doubles as the duplicate backstop.
func (r *EnrollmentRepository) Create(ctx context.Context, enrollment *models.Enrollment) (current, maxCapacity int, err error) {
	if enrollment.ID == "" {
		enrollment.ID = uuid.NewString()
	}
	if enrollment.EnrolledAt.IsZero() {
		enrollment.EnrolledAt = time.Now().UTC()
	}
	if enrollment.Status == "" {
		enrollment.Status = models.EnrollmentStatusEnrolled
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("begin enrollment create: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = tx.GetContext(ctx, &maxCapacity, `SELECT max_capacity FROM subjects WHERE id = $1 FOR UPDATE`, enrollment.SubjectID); err != nil {
		if err == sql.ErrNoRows {
			return 0, 0, sql.ErrNoRows
		}
		return 0, 0, fmt.Errorf("lock subject: %w", err)
	}

	var dup int
	err = tx.GetContext(ctx, &dup, `SELECT 1 FROM enrollments WHERE student_id = $1 AND subject_id = $2 LIMIT 1`, enrollment.StudentID, enrollment.SubjectID)
	if err == nil {
		err = ErrDuplicatePair
		return 0, maxCapacity, err
	}
	if err != sql.ErrNoRows {
		return 0, maxCapacity, fmt.Errorf("check duplicate enrollment: %w", err)
	}
	err = nil

	// Capacity bounds simultaneous ENROLLED records only.
	if enrollment.Status == models.EnrollmentStatusEnrolled {
		if err = tx.GetContext(ctx, &current, `SELECT COUNT(*) FROM enrollments WHERE subject_id = $1 AND status = $2`, enrollment.SubjectID, models.EnrollmentStatusEnrolled); err != nil {
			return 0, maxCapacity, fmt.Errorf("count enrolled: %w", err)
		}
		if current >= maxCapacity {
			err = ErrCapacityFull
			return current, maxCapacity, err
		}
	}

	const insertQuery = `INSERT INTO enrollments (id, student_id, subject_id, status, enrolled_at, notes)
        VALUES ($1, $2, $3, $4, $5, $6)`
	if _, err = tx.ExecContext(ctx, insertQuery, enrollment.ID, enrollment.StudentID, enrollment.SubjectID, enrollment.Status, enrollment.EnrolledAt, enrollment.Notes); err != nil {
		if isUniqueViolation(err, "enrollments_student_id_subject_id_key") {
			err = ErrDuplicatePair
			return 0, maxCapacity, err
		}
		return 0, maxCapacity, fmt.Errorf("insert enrollment: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return 0, maxCapacity, fmt.Errorf("commit enrollment create: %w", err)
	}
	return current, maxCapacity, nil
}

// UpdateStatus updates the academic status of an enrollment.
func (r *EnrollmentRepository) UpdateStatus(ctx context.Context, id string, status models.EnrollmentStatus) error {
	const query = `UPDATE enrollments SET status = $2 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, status); err != nil {
		return fmt.Errorf("update enrollment status: %w", err)
	}
	return nil
}

// Delete removes an enrollment record (withdraw).
func (r *EnrollmentRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM enrollments WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete enrollment: %w", err)
	}
	return nil
}
