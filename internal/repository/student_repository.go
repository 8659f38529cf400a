package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/escuela-app/enrollment-api/internal/models"
)

// StudentRepository manages persistence for student records.
type StudentRepository struct {
	db *sqlx.DB
}

// NewStudentRepository constructs a StudentRepository.
func NewStudentRepository(db *sqlx.DB) *StudentRepository {
	return &StudentRepository{db: db}
}

// List returns students matching the provided filters.
func (r *StudentRepository) List(ctx context.Context, filter models.StudentFilter) ([]models.StudentDetail, int, error) {
	base := "FROM students s JOIN careers c ON c.id = s.career_id WHERE 1=1"
	var conditions []string
	var args []interface{}

	if filter.CareerID != "" {
		conditions = append(conditions, fmt.Sprintf("s.career_id = $%d", len(args)+1))
		args = append(args, filter.CareerID)
	}
	if filter.Active != nil {
		conditions = append(conditions, fmt.Sprintf("s.active = $%d", len(args)+1))
		args = append(args, *filter.Active)
	}
	if filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf("(LOWER(s.last_name) LIKE $%d OR LOWER(s.first_name) LIKE $%d OR LOWER(s.file_code) LIKE $%d OR s.national_id LIKE $%d)", len(args)+1, len(args)+1, len(args)+1, len(args)+1))
		args = append(args, "%"+strings.ToLower(filter.Search)+"%")
	}

	if len(conditions) > 0 {
		base += " AND " + strings.Join(conditions, " AND ")
	}

	sortBy := filter.SortBy
	allowedSorts := map[string]string{
		"last_name":  "s.last_name",
		"file_code":  "s.file_code",
		"created_at": "s.created_at",
	}
	column, ok := allowedSorts[sortBy]
	if !ok {
		column = "s.last_name"
	}
	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "ASC"
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

	query := fmt.Sprintf(`SELECT s.id, s.first_name, s.last_name, s.national_id, s.email, s.career_id, s.file_code, s.enrolled_on, s.active, s.notes, s.user_id, s.created_at, s.updated_at,
        c.name AS career_name, c.code AS career_code
        %s ORDER BY %s %s LIMIT %d OFFSET %d`, base, column, order, size, offset)

	var students []models.StudentDetail
	if err := r.db.SelectContext(ctx, &students, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list students: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count students: %w", err)
	}
	return students, total, nil
}

// FindByID fetches a student detail by ID.
func (r *StudentRepository) FindByID(ctx context.Context, id string) (*models.StudentDetail, error) {
	const query = `SELECT s.id, s.first_name, s.last_name, s.national_id, s.email, s.career_id, s.file_code, s.enrolled_on, s.active, s.notes, s.user_id, s.created_at, s.updated_at,
        c.name AS career_name, c.code AS career_code
        FROM students s
        JOIN careers c ON c.id = s.career_id
        WHERE s.id = $1`
	var detail models.StudentDetail
	if err := r.db.GetContext(ctx, &detail, query, id); err != nil {
		return nil, err
	}
	return &detail, nil
}

// FindByUserID resolves the student linked to a login user.
func (r *StudentRepository) FindByUserID(ctx context.Context, userID string) (*models.Student, error) {
	const query = `SELECT id, first_name, last_name, national_id, email, career_id, file_code, enrolled_on, active, notes, user_id, created_at, updated_at
        FROM students WHERE user_id = $1`
	var student models.Student
	if err := r.db.GetContext(ctx, &student, query, userID); err != nil {
		return nil, err
	}
	return &student, nil
}

// ExistsByNationalID checks if a student with the given national id exists.
func (r *StudentRepository) ExistsByNationalID(ctx context.Context, nationalID, excludeID string) (bool, error) {
	query := "SELECT 1 FROM students WHERE national_id = $1"
	args := []interface{}{nationalID}
	if excludeID != "" {
		query += " AND id <> $2"
		args = append(args, excludeID)
	}
	var exists int
	if err := r.db.GetContext(ctx, &exists, query+" LIMIT 1", args...); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check national id: %w", err)
	}
	return true, nil
}

// ExistsByEmail checks if a student with the given email exists.
func (r *StudentRepository) ExistsByEmail(ctx context.Context, email, excludeID string) (bool, error) {
	query := "SELECT 1 FROM students WHERE LOWER(email) = LOWER($1)"
	args := []interface{}{email}
	if excludeID != "" {
		query += " AND id <> $2"
		args = append(args, excludeID)
	}
	var exists int
	if err := r.db.GetContext(ctx, &exists, query+" LIMIT 1", args...); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check student email: %w", err)
	}
	return true, nil
}

// Create inserts a new student, reserving its file code inside the same
// transaction. The FOR UPDATE lock on the career row serializes concurrent
// creations for the same career, so two callers cannot both read the same
// highest suffix. When login is non-nil the user row is inserted in the same
// transaction and linked to the student.
//
// A unique violation on students.file_code (a writer that bypassed this
// process, e.g. a second service instance racing on a different connection
// pool) surfaces as ErrSequenceConflict; callers retry the whole operation.
func (r *StudentRepository) Create(ctx context.Context, student *models.Student, login *models.User) (err error) {
	if student.ID == "" {
		student.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if student.EnrolledOn.IsZero() {
		student.EnrolledOn = now
	}
	if student.CreatedAt.IsZero() {
		student.CreatedAt = now
	}
	student.UpdatedAt = now

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin student create: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var careerCode string
	if err = tx.GetContext(ctx, &careerCode, `SELECT code FROM careers WHERE id = $1 FOR UPDATE`, student.CareerID); err != nil {
		if err == sql.ErrNoRows {
			return sql.ErrNoRows
		}
		return fmt.Errorf("lock career: %w", err)
	}

	prefix := fmt.Sprintf("%d%s", student.EnrolledOn.Year(), careerCodePrefix(careerCode))
	// Sequence follows the highest persisted suffix, not the row count, so
	// deleted students leave gaps instead of re-issuing a taken code. Length
	// sorts before value because suffixes widen past three digits.
	var lastCode string
	err = tx.GetContext(ctx, &lastCode,
		`SELECT file_code FROM students WHERE file_code LIKE $1 ORDER BY LENGTH(file_code) DESC, file_code DESC LIMIT 1`,
		prefix+"%")
	seq := 1
	switch {
	case err == nil:
		last, parseErr := strconv.Atoi(strings.TrimPrefix(lastCode, prefix))
		if parseErr != nil {
			err = fmt.Errorf("parse file code %q: %w", lastCode, parseErr)
			return err
		}
		seq = last + 1
	case err == sql.ErrNoRows:
		err = nil
	default:
		return fmt.Errorf("read last file code: %w", err)
	}
	student.FileCode = fmt.Sprintf("%s%03d", prefix, seq)

	if login != nil {
		if login.ID == "" {
			login.ID = uuid.NewString()
		}
		login.CreatedAt = now
		login.UpdatedAt = now
		const userQuery = `INSERT INTO users (id, email, national_id, password_hash, full_name, role, must_change_password, active, created_at, updated_at)
            VALUES (:id, :email, :national_id, :password_hash, :full_name, :role, :must_change_password, :active, :created_at, :updated_at)`
		if _, err = tx.NamedExecContext(ctx, userQuery, login); err != nil {
			return fmt.Errorf("create student login: %w", err)
		}
		student.UserID = &login.ID
	}

	const query = `INSERT INTO students (id, first_name, last_name, national_id, email, career_id, file_code, enrolled_on, active, notes, user_id, created_at, updated_at)
        VALUES (:id, :first_name, :last_name, :national_id, :email, :career_id, :file_code, :enrolled_on, :active, :notes, :user_id, :created_at, :updated_at)`
	if _, err = tx.NamedExecContext(ctx, query, student); err != nil {
		if isUniqueViolation(err, "students_file_code_key") {
			err = ErrSequenceConflict
			return err
		}
		return fmt.Errorf("create student: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit student create: %w", err)
	}
	return nil
}

// Update modifies an existing student. The file code is never written.
func (r *StudentRepository) Update(ctx context.Context, student *models.Student) error {
	student.UpdatedAt = time.Now().UTC()
	const query = `UPDATE students SET first_name = :first_name, last_name = :last_name, national_id = :national_id, email = :email, career_id = :career_id, active = :active, notes = :notes, updated_at = :updated_at WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, student); err != nil {
		return fmt.Errorf("update student: %w", err)
	}
	return nil
}

// Delete removes a student and cascades its enrollments in one transaction.
func (r *StudentRepository) Delete(ctx context.Context, id string) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin student delete: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM enrollments WHERE student_id = $1`, id); err != nil {
		return fmt.Errorf("delete student enrollments: %w", err)
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM students WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete student: %w", err)
	}
	if affected, raErr := res.RowsAffected(); raErr == nil && affected == 0 {
		err = sql.ErrNoRows
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit student delete: %w", err)
	}
	return nil
}

// careerCodePrefix keeps the leading three characters of the career code,
// uppercased, matching the historical file code scheme ("ING-SIS" -> "ING").
func careerCodePrefix(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	if len(code) > 3 {
		return code[:3]
	}
	return code
}
