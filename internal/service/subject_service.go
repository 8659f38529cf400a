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
	"github.com/escuela-app/enrollment-api/pkg/export"
)

type subjectRepository interface {
	List(ctx context.Context, filter models.SubjectFilter) ([]models.SubjectDetail, int, error)
	FindByID(ctx context.Context, id string) (*models.Subject, error)
	ExistsByCode(ctx context.Context, careerID, code, excludeID string) (bool, error)
	ExistsByName(ctx context.Context, careerID, name, excludeID string) (bool, error)
	Create(ctx context.Context, subject *models.Subject) error
	Update(ctx context.Context, subject *models.Subject) error
	Delete(ctx context.Context, id string) (int, error)
}

type careerReader interface {
	FindByID(ctx context.Context, id string) (*models.Career, error)
}

type rosterLister interface {
	ListBySubject(ctx context.Context, subjectID string) ([]models.EnrollmentDetail, error)
}

// CreateSubjectRequest describes subject creation payload.
type CreateSubjectRequest struct {
	CareerID      string `json:"career_id" validate:"required"`
	Code          string `json:"code" validate:"required,max=20"`
	Name          string `json:"name" validate:"required,max=200"`
	YearOfProgram int    `json:"year_of_program" validate:"required,min=1"`
	MaxCapacity   int    `json:"max_capacity" validate:"required,min=1"`
	Description   string `json:"description,omitempty"`
}

// UpdateSubjectRequest describes subject update payload. The owning career
// never changes.
type UpdateSubjectRequest struct {
	Code          string `json:"code" validate:"required,max=20"`
	Name          string `json:"name" validate:"required,max=200"`
	YearOfProgram int    `json:"year_of_program" validate:"required,min=1"`
	MaxCapacity   int    `json:"max_capacity" validate:"required,min=1"`
	Active        bool   `json:"active"`
	Description   string `json:"description,omitempty"`
}

type cachedSubjectList struct {
	Items []models.SubjectDetail `json:"items"`
	Total int                    `json:"total"`
}

// SubjectService orchestrates subject management and roster exports.
type SubjectService struct {
	repo      subjectRepository
	careers   careerReader
	roster    rosterLister
	cache     listingCache
	cacheTTL  time.Duration
	csv       *export.CSVExporter
	pdf       *export.PDFExporter
	validator *validator.Validate
	logger    *zap.Logger
}

// NewSubjectService constructs SubjectService.
func NewSubjectService(repo subjectRepository, careers careerReader, roster rosterLister, cache listingCache, cacheTTL time.Duration, validate *validator.Validate, logger *zap.Logger) *SubjectService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SubjectService{
		repo:      repo,
		careers:   careers,
		roster:    roster,
		cache:     cache,
		cacheTTL:  cacheTTL,
		csv:       export.NewCSVExporter(),
		pdf:       export.NewPDFExporter(),
		validator: validate,
		logger:    logger,
	}
}

// List returns subjects with pagination metadata, served from the listing
// cache when possible.
func (s *SubjectService) List(ctx context.Context, filter models.SubjectFilter) ([]models.SubjectDetail, *models.Pagination, error) {
	key := subjectListKey(filter)
	if s.cache != nil {
		var cached cachedSubjectList
		if err := s.cache.Get(ctx, key, &cached); err == nil {
			return cached.Items, paginationFor(filter.Page, filter.PageSize, cached.Total), nil
		}
	}

	subjects, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, storageError(err, "failed to list subjects")
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, key, cachedSubjectList{Items: subjects, Total: total}, s.cacheTTL); err != nil {
			s.logger.Warn("failed to cache subject listing", zap.Error(err))
		}
	}
	return subjects, paginationFor(filter.Page, filter.PageSize, total), nil
}

// Get returns a single subject.
func (s *SubjectService) Get(ctx context.Context, id string) (*models.Subject, error) {
	subject, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "subject not found")
		}
		return nil, storageError(err, "failed to load subject")
	}
	return subject, nil
}

// Create registers a new subject under a career. Code and name must be
// unique within the career, and the year of program cannot exceed the
// career's duration.
func (s *SubjectService) Create(ctx context.Context, req CreateSubjectRequest) (*models.Subject, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid subject payload")
	}

	career, err := s.careers.FindByID(ctx, req.CareerID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "career not found")
		}
		return nil, storageError(err, "failed to load career")
	}
	if req.YearOfProgram > career.DurationYears {
		return nil, appErrors.Clone(appErrors.ErrValidation,
			fmt.Sprintf("year of program exceeds career duration (%d years)", career.DurationYears))
	}

	if taken, err := s.repo.ExistsByCode(ctx, req.CareerID, req.Code, ""); err != nil {
		return nil, storageError(err, "failed to validate subject code")
	} else if taken {
		return nil, appErrors.Clone(appErrors.ErrConflict, "subject code already in use within career")
	}
	if taken, err := s.repo.ExistsByName(ctx, req.CareerID, req.Name, ""); err != nil {
		return nil, storageError(err, "failed to validate subject name")
	} else if taken {
		return nil, appErrors.Clone(appErrors.ErrConflict, "subject name already in use within career")
	}

	subject := &models.Subject{
		CareerID:      req.CareerID,
		Code:          req.Code,
		Name:          req.Name,
		YearOfProgram: req.YearOfProgram,
		MaxCapacity:   req.MaxCapacity,
		Active:        true,
		Description:   req.Description,
	}
	if err := s.repo.Create(ctx, subject); err != nil {
		return nil, storageError(err, "failed to create subject")
	}

	s.invalidateListing(ctx)
	s.logger.Info("subject created", zap.String("subject_id", subject.ID), zap.String("career_id", subject.CareerID), zap.String("code", subject.Code))
	return subject, nil
}

// Update modifies an existing subject.
func (s *SubjectService) Update(ctx context.Context, id string, req UpdateSubjectRequest) (*models.Subject, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid subject payload")
	}

	subject, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "subject not found")
		}
		return nil, storageError(err, "failed to load subject")
	}

	career, err := s.careers.FindByID(ctx, subject.CareerID)
	if err != nil {
		return nil, storageError(err, "failed to load career")
	}
	if req.YearOfProgram > career.DurationYears {
		return nil, appErrors.Clone(appErrors.ErrValidation,
			fmt.Sprintf("year of program exceeds career duration (%d years)", career.DurationYears))
	}

	if taken, err := s.repo.ExistsByCode(ctx, subject.CareerID, req.Code, id); err != nil {
		return nil, storageError(err, "failed to validate subject code")
	} else if taken {
		return nil, appErrors.Clone(appErrors.ErrConflict, "subject code already in use within career")
	}
	if taken, err := s.repo.ExistsByName(ctx, subject.CareerID, req.Name, id); err != nil {
		return nil, storageError(err, "failed to validate subject name")
	} else if taken {
		return nil, appErrors.Clone(appErrors.ErrConflict, "subject name already in use within career")
	}

	subject.Code = req.Code
	subject.Name = req.Name
	subject.YearOfProgram = req.YearOfProgram
	subject.MaxCapacity = req.MaxCapacity
	subject.Active = req.Active
	subject.Description = req.Description
	if err := s.repo.Update(ctx, subject); err != nil {
		return nil, storageError(err, "failed to update subject")
	}

	s.invalidateListing(ctx)
	return subject, nil
}

// Delete removes a subject unless enrollments reference it. The blocked
// response carries the exact enrollment count.
func (s *SubjectService) Delete(ctx context.Context, id string) error {
	count, err := s.repo.Delete(ctx, id)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrHasDependents):
			return appErrors.WithDetails(appErrors.Clone(appErrors.ErrBlockedByDependents,
				fmt.Sprintf("subject has %d enrollment(s)", count)),
				map[string]interface{}{"enrollments": count})
		case errors.Is(err, sql.ErrNoRows):
			return appErrors.Clone(appErrors.ErrNotFound, "subject not found")
		default:
			return storageError(err, "failed to delete subject")
		}
	}

	s.invalidateListing(ctx)
	s.logger.Info("subject deleted", zap.String("subject_id", id))
	return nil
}

// ExportRoster renders the subject's enrollment roster as CSV or PDF and
// returns the document bytes, file name, and content type.
func (s *SubjectService) ExportRoster(ctx context.Context, id, format string) ([]byte, string, string, error) {
	subject, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, "", "", appErrors.Clone(appErrors.ErrNotFound, "subject not found")
		}
		return nil, "", "", storageError(err, "failed to load subject")
	}

	roster, err := s.roster.ListBySubject(ctx, id)
	if err != nil {
		return nil, "", "", storageError(err, "failed to load roster")
	}

	dataset := export.Dataset{
		Headers: []string{"File Code", "Student", "Status", "Enrolled At"},
	}
	for _, item := range roster {
		dataset.Rows = append(dataset.Rows, map[string]string{
			"File Code":   item.StudentFileCode,
			"Student":     item.StudentName,
			"Status":      string(item.Status),
			"Enrolled At": item.EnrolledAt.Format("2006-01-02"),
		})
	}

	switch format {
	case "pdf":
		payload, err := s.pdf.Render(dataset, fmt.Sprintf("Roster %s", subject.Code))
		if err != nil {
			return nil, "", "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render roster pdf")
		}
		return payload, fmt.Sprintf("roster_%s.pdf", subject.Code), "application/pdf", nil
	case "", "csv":
		payload, err := s.csv.Render(dataset)
		if err != nil {
			return nil, "", "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render roster csv")
		}
		return payload, fmt.Sprintf("roster_%s.csv", subject.Code), "text/csv", nil
	default:
		return nil, "", "", appErrors.Clone(appErrors.ErrValidation, "unsupported export format")
	}
}

func (s *SubjectService) invalidateListing(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.DeleteByPattern(ctx, "subjects:list:*"); err != nil {
		s.logger.Warn("failed to invalidate subject listing cache", zap.Error(err))
	}
}

func subjectListKey(filter models.SubjectFilter) string {
	active := "any"
	if filter.Active != nil {
		active = fmt.Sprintf("%t", *filter.Active)
	}
	return fmt.Sprintf("subjects:list:%s:%d:%s:%s:%d:%d:%s:%s", filter.CareerID, filter.YearOfProgram, filter.Search, active, filter.Page, filter.PageSize, filter.SortBy, filter.SortOrder)
}
