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

// SubjectRepository handles persistence for subjects.
type SubjectRepository struct {
	db *sqlx.DB
}

// NewSubjectRepository creates a new repository instance.
func NewSubjectRepository(db *sqlx.DB) *SubjectRepository {
	return &SubjectRepository{db: db}
}

// List returns subjects matching filters with pagination metadata.
func (r *SubjectRepository) List(ctx context.Context, filter models.SubjectFilter) ([]models.SubjectDetail, int, error) {
	base := "FROM subjects s JOIN careers c ON c.id = s.career_id WHERE 1=1"
	var conditions []string
	var args []interface{}

	if filter.CareerID != "" {
		conditions = append(conditions, fmt.Sprintf("s.career_id = $%d", len(args)+1))
		args = append(args, filter.CareerID)
	}
	if filter.YearOfProgram > 0 {
		conditions = append(conditions, fmt.Sprintf("s.year_of_program = $%d", len(args)+1))
		args = append(args, filter.YearOfProgram)
	}
	if filter.Active != nil {
		conditions = append(conditions, fmt.Sprintf("s.active = $%d", len(args)+1))
		args = append(args, *filter.Active)
	}
	if filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf("(LOWER(s.code) LIKE $%d OR LOWER(s.name) LIKE $%d)", len(args)+1, len(args)+1))
		args = append(args, "%"+strings.ToLower(filter.Search)+"%")
	}

	if len(conditions) > 0 {
		base += " AND " + strings.Join(conditions, " AND ")
	}

	sortBy := filter.SortBy
	allowedSorts := map[string]string{
		"code":            "s.code",
		"name":            "s.name",
		"year_of_program": "s.year_of_program",
		"created_at":      "s.created_at",
	}
	column, ok := allowedSorts[sortBy]
	if !ok {
		column = "s.year_of_program"
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

	query := fmt.Sprintf(`SELECT s.id, s.career_id, s.code, s.name, s.year_of_program, s.max_capacity, s.active, s.description, s.created_at, s.updated_at,
        c.name AS career_name, c.code AS career_code
        %s ORDER BY %s %s LIMIT %d OFFSET %d`, base, column, order, size, offset)
	var subjects []models.SubjectDetail
	if err := r.db.SelectContext(ctx, &subjects, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list subjects: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count subjects: %w", err)
	}

	return subjects, total, nil
}

// FindByID returns a subject by id.
func (r *SubjectRepository) FindByID(ctx context.Context, id string) (*models.Subject, error) {
	const query = `SELECT id, career_id, code, name, year_of_program, max_capacity, active, description, created_at, updated_at FROM subjects WHERE id = $1`
	var subject models.Subject
	if err := r.db.GetContext(ctx, &subject, query, id); err != nil {
		return nil, err
	}
	return &subject, nil
}

// ExistsByCode checks uniqueness of a subject code within its career.
func (r *SubjectRepository) ExistsByCode(ctx context.Context, careerID, code, excludeID string) (bool, error) {
	query := "SELECT 1 FROM subjects WHERE career_id = $1 AND LOWER(code) = LOWER($2)"
	args := []interface{}{careerID, code}
	if excludeID != "" {
		query += " AND id <> $3"
		args = append(args, excludeID)
	}
	var exists int
	if err := r.db.GetContext(ctx, &exists, query+" LIMIT 1", args...); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check subject code: %w", err)
	}
	return true, nil
}

// ExistsByName checks uniqueness of a subject name within its career.
func (r *SubjectRepository) ExistsByName(ctx context.Context, careerID, name, excludeID string) (bool, error) {
	query := "SELECT 1 FROM subjects WHERE career_id = $1 AND LOWER(name) = LOWER($2)"
	args := []interface{}{careerID, name}
	if excludeID != "" {
		query += " AND id <> $3"
		args = append(args, excludeID)
	}
	var exists int
	if err := r.db.GetContext(ctx, &exists, query+" LIMIT 1", args...); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check subject name: %w", err)
	}
	return true, nil
}

// Create persists a new subject.
func (r *SubjectRepository) Create(ctx context.Context, subject *models.Subject) error {
	if subject.ID == "" {
		subject.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if subject.CreatedAt.IsZero() {
		subject.CreatedAt = now
	}
	subject.UpdatedAt = now

	const query = `INSERT INTO subjects (id, career_id, code, name, year_of_program, max_capacity, active, description, created_at, updated_at)
        VALUES (:id, :career_id, :code, :name, :year_of_program, :max_capacity, :active, :description, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, subject); err != nil {
		return fmt.Errorf("create subject: %w", err)
	}
	return nil
}

// Update modifies a subject.
func (r *SubjectRepository) Update(ctx context.Context, subject *models.Subject) error {
	subject.UpdatedAt = time.Now().UTC()
	const query = `UPDATE subjects SET code = :code, name = :name, year_of_program = :year_of_program, max_capacity = :max_capacity, active = :active, description = :description, updated_at = :updated_at WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, subject); err != nil {
		return fmt.Errorf("update subject: %w", err)
	}
	return nil
}

// Delete removes a subject unless enrollments reference it. Check and delete
// share one transaction; the FOR UPDATE lock on the subject row blocks
// concurrent enrollment inserts (their FK checks key-share the same row), so
// the count cannot go stale before the delete. When blocked, the enrollment
// count is returned together with ErrHasDependents.
func (r *SubjectRepository) Delete(ctx context.Context, id string) (enrollments int, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin subject delete: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var locked int
	if err = tx.GetContext(ctx, &locked, `SELECT 1 FROM subjects WHERE id = $1 FOR UPDATE`, id); err != nil {
		if err == sql.ErrNoRows {
			return 0, sql.ErrNoRows
		}
		return 0, fmt.Errorf("lock subject: %w", err)
	}

	var count int
	if err = tx.GetContext(ctx, &count, `SELECT COUNT(*) FROM enrollments WHERE subject_id = $1`, id); err != nil {
		return 0, fmt.Errorf("count subject enrollments: %w", err)
	}
	if count > 0 {
		err = ErrHasDependents
		return count, err
	}

	if _, err = tx.ExecContext(ctx, `DELETE FROM subjects WHERE id = $1`, id); err != nil {
		return 0, fmt.Errorf("delete subject: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit subject delete: %w", err)
	}
	return 0, nil
}
