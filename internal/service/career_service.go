package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/escuela-app/enrollment-api/internal/models"
	"github.com/escuela-app/enrollment-api/internal/repository"
	appErrors "github.com/escuela-app/enrollment-api/pkg/errors"
)

type careerRepository interface {
	List(ctx context.Context, filter models.CareerFilter) ([]models.Career, int, error)
	FindByID(ctx context.Context, id string) (*models.Career, error)
	ExistsByCode(ctx context.Context, code, excludeID string) (bool, error)
	ExistsByName(ctx context.Context, name, excludeID string) (bool, error)
	Create(ctx context.Context, career *models.Career) error
	Update(ctx context.Context, career *models.Career) error
	Delete(ctx context.Context, id string) (*models.CareerDependents, error)
}

type listingCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	DeleteByPattern(ctx context.Context, pattern string) error
}

// CreateCareerRequest describes career creation payload.
type CreateCareerRequest struct {
	Code          string `json:"code" validate:"required,max=20"`
	Name          string `json:"name" validate:"required,max=200"`
	DurationYears int    `json:"duration_years" validate:"required,min=1,max=10"`
	Description   string `json:"description,omitempty"`
}

// UpdateCareerRequest describes career update payload.
type UpdateCareerRequest struct {
	Code          string `json:"code" validate:"required,max=20"`
	Name          string `json:"name" validate:"required,max=200"`
	DurationYears int    `json:"duration_years" validate:"required,min=1,max=10"`
	Active        bool   `json:"active"`
	Description   string `json:"description,omitempty"`
}

type cachedCareerList struct {
	Items []models.Career `json:"items"`
	Total int             `json:"total"`
}

// CareerService orchestrates career management.
type CareerService struct {
	repo      careerRepository
	cache     listingCache
	cacheTTL  time.Duration
	validator *validator.Validate
	logger    *zap.Logger
}

// NewCareerService constructs CareerService. A nil cache disables listing
// caching.
func NewCareerService(repo careerRepository, cache listingCache, cacheTTL time.Duration, validate *validator.Validate, logger *zap.Logger) *CareerService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CareerService{repo: repo, cache: cache, cacheTTL: cacheTTL, validator: validate, logger: logger}
}

// List returns careers with pagination metadata. Results are served from the
// listing cache when possible.
func (s *CareerService) List(ctx context.Context, filter models.CareerFilter) ([]models.Career, *models.Pagination, error) {
	key := careerListKey(filter)
	if s.cache != nil {
		var cached cachedCareerList
		if err := s.cache.Get(ctx, key, &cached); err == nil {
			return cached.Items, paginationFor(filter.Page, filter.PageSize, cached.Total), nil
		}
	}

	careers, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, storageError(err, "failed to list careers")
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, key, cachedCareerList{Items: careers, Total: total}, s.cacheTTL); err != nil {
			s.logger.Warn("failed to cache career listing", zap.Error(err))
		}
	}
	return careers, paginationFor(filter.Page, filter.PageSize, total), nil
}

// Get returns a single career.
func (s *CareerService) Get(ctx context.Context, id string) (*models.Career, error) {
	career, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "career not found")
		}
		return nil, storageError(err, "failed to load career")
	}
	return career, nil
}

// Create registers a new career enforcing code and name uniqueness.
func (s *CareerService) Create(ctx context.Context, req CreateCareerRequest) (*models.Career, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid career payload")
	}

	if taken, err := s.repo.ExistsByCode(ctx, req.Code, ""); err != nil {
		return nil, storageError(err, "failed to validate career code")
	} else if taken {
		return nil, appErrors.Clone(appErrors.ErrConflict, "career code already in use")
	}
	if taken, err := s.repo.ExistsByName(ctx, req.Name, ""); err != nil {
		return nil, storageError(err, "failed to validate career name")
	} else if taken {
		return nil, appErrors.Clone(appErrors.ErrConflict, "career name already in use")
	}

	career := &models.Career{
		Code:          req.Code,
		Name:          req.Name,
		DurationYears: req.DurationYears,
		Active:        true,
		Description:   req.Description,
	}
	if err := s.repo.Create(ctx, career); err != nil {
		return nil, storageError(err, "failed to create career")
	}

	s.invalidateListing(ctx)
	s.logger.Info("career created", zap.String("career_id", career.ID), zap.String("code", career.Code))
	return career, nil
}

// Update modifies an existing career.
func (s *CareerService) Update(ctx context.Context, id string, req UpdateCareerRequest) (*models.Career, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid career payload")
	}

	career, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "career not found")
		}
		return nil, storageError(err, "failed to load career")
	}

	if taken, err := s.repo.ExistsByCode(ctx, req.Code, id); err != nil {
		return nil, storageError(err, "failed to validate career code")
	} else if taken {
		return nil, appErrors.Clone(appErrors.ErrConflict, "career code already in use")
	}
	if taken, err := s.repo.ExistsByName(ctx, req.Name, id); err != nil {
		return nil, storageError(err, "failed to validate career name")
	} else if taken {
		return nil, appErrors.Clone(appErrors.ErrConflict, "career name already in use")
	}

	career.Code = req.Code
	career.Name = req.Name
	career.DurationYears = req.DurationYears
	career.Active = req.Active
	career.Description = req.Description
	if err := s.repo.Update(ctx, career); err != nil {
		return nil, storageError(err, "failed to update career")
	}

	s.invalidateListing(ctx)
	return career, nil
}

// Delete removes a career unless it still owns subjects or students. The
// blocked response carries the exact dependent counts.
func (s *CareerService) Delete(ctx context.Context, id string) error {
	deps, err := s.repo.Delete(ctx, id)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrHasDependents):
			return appErrors.WithDetails(appErrors.Clone(appErrors.ErrBlockedByDependents,
				fmt.Sprintf("career has %d subject(s) and %d student(s)", deps.Subjects, deps.Students)),
				map[string]interface{}{"subjects": deps.Subjects, "students": deps.Students})
		case errors.Is(err, sql.ErrNoRows):
			return appErrors.Clone(appErrors.ErrNotFound, "career not found")
		default:
			return storageError(err, "failed to delete career")
		}
	}

	s.invalidateListing(ctx)
	s.logger.Info("career deleted", zap.String("career_id", id))
	return nil
}

func (s *CareerService) invalidateListing(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.DeleteByPattern(ctx, "careers:list:*"); err != nil {
		s.logger.Warn("failed to invalidate career listing cache", zap.Error(err))
	}
}

func careerListKey(filter models.CareerFilter) string {
	active := "any"
	if filter.Active != nil {
		active = fmt.Sprintf("%t", *filter.Active)
	}
	return fmt.Sprintf("careers:list:%s:%s:%d:%d:%s:%s", filter.Search, active, filter.Page, filter.PageSize, filter.SortBy, filter.SortOrder)
}

func paginationFor(page, size, total int) *models.Pagination {
	if page < 1 {
		page = 1
	}
	if size <= 0 {
		size = 20
	}
	return &models.Pagination{Page: page, PageSize: size, TotalCount: total}
}
