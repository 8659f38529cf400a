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

// CareerRepository manages persistence for careers.
type CareerRepository struct {
	db *sqlx.DB
}

// NewCareerRepository constructs a CareerRepository.
func NewCareerRepository(db *sqlx.DB) *CareerRepository {
	return &CareerRepository{db: db}
}

// List returns careers matching the provided filters.
func (r *CareerRepository) List(ctx context.Context, filter models.CareerFilter) ([]models.Career, int, error) {
	base := "FROM careers WHERE 1=1"
	var conditions []string
	var args []interface{}

	if filter.Active != nil {
		conditions = append(conditions, fmt.Sprintf("active = $%d", len(args)+1))
		args = append(args, *filter.Active)
	}
	if filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf("(LOWER(code) LIKE $%d OR LOWER(name) LIKE $%d)", len(args)+1, len(args)+1))
		args = append(args, "%"+strings.ToLower(filter.Search)+"%")
	}

	if len(conditions) > 0 {
		base += " AND " + strings.Join(conditions, " AND ")
	}

	sortBy := filter.SortBy
	allowedSorts := map[string]bool{
		"code":       true,
		"name":       true,
		"created_at": true,
	}
	if !allowedSorts[sortBy] {
		sortBy = "name"
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

	query := fmt.Sprintf("SELECT id, code, name, duration_years, active, description, created_at, updated_at %s ORDER BY %s %s LIMIT %d OFFSET %d", base, sortBy, order, size, offset)
	var careers []models.Career
	if err := r.db.SelectContext(ctx, &careers, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list careers: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count careers: %w", err)
	}
	return careers, total, nil
}

// FindByID returns a career by id.
func (r *CareerRepository) FindByID(ctx context.Context, id string) (*models.Career, error) {
	const query = `SELECT id, code, name, duration_years, active, description, created_at, updated_at FROM careers WHERE id = $1`
	var career models.Career
	if err := r.db.GetContext(ctx, &career, query, id); err != nil {
		return nil, err
	}
	return &career, nil
}

// ExistsByCode checks uniqueness of the career code.
func (r *CareerRepository) ExistsByCode(ctx context.Context, code string, excludeID string) (bool, error) {
	query := "SELECT 1 FROM careers WHERE LOWER(code) = LOWER($1)"
	args := []interface{}{code}
	if excludeID != "" {
		query += " AND id <> $2"
		args = append(args, excludeID)
	}
	var exists int
	if err := r.db.GetContext(ctx, &exists, query+" LIMIT 1", args...); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check career code: %w", err)
	}
	return true, nil
}

// ExistsByName checks uniqueness of the career name.
func (r *CareerRepository) ExistsByName(ctx context.Context, name string, excludeID string) (bool, error) {
	query := "SELECT 1 FROM careers WHERE LOWER(name) = LOWER($1)"
	args := []interface{}{name}
	if excludeID != "" {
		query += " AND id <> $2"
		args = append(args, excludeID)
	}
	var exists int
	if err := r.db.GetContext(ctx, &exists, query+" LIMIT 1", args...); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check career name: %w", err)
	}
	return true, nil
}

// Create persists a new career.
func (r *CareerRepository) Create(ctx context.Context, career *models.Career) error {
	if career.ID == "" {
		career.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if career.CreatedAt.IsZero() {
		career.CreatedAt = now
	}
	career.UpdatedAt = now
	const query = `INSERT INTO careers (id, code, name, duration_years, active, description, created_at, updated_at)
        VALUES (:id, :code, :name, :duration_years, :active, :description, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, career); err != nil {
		return fmt.Errorf("create career: %w", err)
	}
	return nil
}

// Update modifies a career. The code and name uniqueness constraints remain
// enforced by the database as backstop.
func (r *CareerRepository) Update(ctx context.Context, career *models.Career) error {
	career.UpdatedAt = time.Now().UTC()
	const query = `UPDATE careers SET code = :code, name = :name, duration_years = :duration_years, active = :active, description = :description, updated_at = :updated_at WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, career); err != nil {
		return fmt.Errorf("update career: %w", err)
	}
	return nil
}

// Delete removes a career unless dependents exist. The dependent check and
// the delete run in one transaction: the FOR UPDATE lock on the career row
// blocks concurrent inserts of subjects or students referencing it (their FK
// checks take a key-share lock on the same row), so no dependent can appear
// between the count and the delete. When blocked, the counts are returned
// together with ErrHasDependents.
func (r *CareerRepository) Delete(ctx context.Context, id string) (deps *models.CareerDependents, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin career delete: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var locked int
	if err = tx.GetContext(ctx, &locked, `SELECT 1 FROM careers WHERE id = $1 FOR UPDATE`, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("lock career: %w", err)
	}

	var counts models.CareerDependents
	const countQuery = `SELECT
        (SELECT COUNT(*) FROM subjects WHERE career_id = $1) AS subjects,
        (SELECT COUNT(*) FROM students WHERE career_id = $1) AS students`
	if err = tx.GetContext(ctx, &counts, countQuery, id); err != nil {
		return nil, fmt.Errorf("count career dependents: %w", err)
	}
	if counts.Subjects > 0 || counts.Students > 0 {
		err = ErrHasDependents
		return &counts, err
	}

	if _, err = tx.ExecContext(ctx, `DELETE FROM careers WHERE id = $1`, id); err != nil {
		return nil, fmt.Errorf("delete career: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit career delete: %w", err)
	}
	return nil, nil
}
