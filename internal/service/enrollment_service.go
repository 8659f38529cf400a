package service

import (
	"context"
	"database/sql"
	"errors"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/escuela-app/enrollment-api/internal/models"
	"github.com/escuela-app/enrollment-api/internal/repository"
	appErrors "github.com/escuela-app/enrollment-api/pkg/errors"
)

type enrollmentRepository interface {
	List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error)
	FindByID(ctx context.Context, id string) (*models.Enrollment, error)
	FindDetailByID(ctx context.Context, id string) (*models.EnrollmentDetail, error)
	Exists(ctx context.Context, studentID, subjectID string) (bool, error)
	CountEnrolled(ctx context.Context, subjectID string) (int, error)
	Create(ctx context.Context, enrollment *models.Enrollment) (int, int, error)
	UpdateStatus(ctx context.Context, id string, status models.EnrollmentStatus) error
	Delete(ctx context.Context, id string) error
}

type studentReader interface {
	FindByID(ctx context.Context, id string) (*models.StudentDetail, error)
	FindByUserID(ctx context.Context, userID string) (*models.Student, error)
}

type subjectReader interface {
	FindByID(ctx context.Context, id string) (*models.Subject, error)
}

// enrollmentRecorder receives domain counters. Nil-safe via noopRecorder.
type enrollmentRecorder interface {
	EnrollmentCreated()
	EnrollmentRejected(code string)
}

type noopRecorder struct{}

func (noopRecorder) EnrollmentCreated() {}

func (noopRecorder) EnrollmentRejected(code string) {}

// CreateEnrollmentRequest describes an enrollment creation request. Status is
// honoured for the elevated role only.
type CreateEnrollmentRequest struct {
	StudentID string                  `json:"student_id" validate:"required"`
	SubjectID string                  `json:"subject_id" validate:"required"`
	Status    models.EnrollmentStatus `json:"status,omitempty"`
	Notes     string                  `json:"notes,omitempty"`
}

// UpdateEnrollmentStatusRequest describes a status transition.
type UpdateEnrollmentStatusRequest struct {
	Status models.EnrollmentStatus `json:"status" validate:"required"`
}

// EnrollmentService decides whether an enrollment may be created and which
// transitions an existing one may undergo. Every capacity decision is read
// from storage within the call; nothing is cached between calls.
type EnrollmentService struct {
	repo      enrollmentRepository
	students  studentReader
	subjects  subjectReader
	validator *validator.Validate
	logger    *zap.Logger
	metrics   enrollmentRecorder
}

// NewEnrollmentService constructs EnrollmentService.
func NewEnrollmentService(repo enrollmentRepository, students studentReader, subjects subjectReader, validate *validator.Validate, logger *zap.Logger, metrics enrollmentRecorder) *EnrollmentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = noopRecorder{}
	}
	return &EnrollmentService{repo: repo, students: students, subjects: subjects, validator: validate, logger: logger, metrics: metrics}
}

// List returns enrollments with pagination metadata. The restricted role only
// ever sees its own enrollments.
func (s *EnrollmentService) List(ctx context.Context, actor models.Actor, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, *models.Pagination, error) {
	if actor.IsStudent() {
		self, err := s.students.FindByUserID(ctx, actor.UserID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, nil, appErrors.Clone(appErrors.ErrForbidden, "no student record linked to account")
			}
			return nil, nil, storageError(err, "failed to resolve student")
		}
		filter.StudentID = self.ID
	}
	enrollments, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, storageError(err, "failed to list enrollments")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	return enrollments, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// Create validates and registers a new enrollment. Checks short-circuit in
// order: student active, subject active, duplicate pair, role policy, then
// the atomic capacity check inside the insert transaction. Nothing is
// written before every check has passed.
func (s *EnrollmentService) Create(ctx context.Context, actor models.Actor, req CreateEnrollmentRequest) (*models.EnrollmentDetail, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid enrollment payload")
	}

	student, err := s.students.FindByID(ctx, req.StudentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, s.reject(appErrors.Clone(appErrors.ErrStudentInactive, "student not found"))
		}
		return nil, storageError(err, "failed to load student")
	}
	if !student.Active {
		return nil, s.reject(appErrors.Clone(appErrors.ErrStudentInactive, ""))
	}

	subject, err := s.subjects.FindByID(ctx, req.SubjectID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, s.reject(appErrors.Clone(appErrors.ErrSubjectInactive, "subject not found"))
		}
		return nil, storageError(err, "failed to load subject")
	}
	if !subject.Active {
		return nil, s.reject(appErrors.Clone(appErrors.ErrSubjectInactive, ""))
	}

	exists, err := s.repo.Exists(ctx, req.StudentID, req.SubjectID)
	if err != nil {
		return nil, storageError(err, "failed to validate enrollment")
	}
	if exists {
		return nil, s.reject(appErrors.Clone(appErrors.ErrDuplicateEnrollment, ""))
	}

	status := models.EnrollmentStatusEnrolled
	switch {
	case actor.IsAdmin():
		if req.Status != "" {
			if !req.Status.Valid() {
				return nil, appErrors.Clone(appErrors.ErrValidation, "unknown enrollment status")
			}
			status = req.Status
		}
	case actor.IsStudent():
		// Self-service: only the linked student, status forced to ENROLLED.
		self, selfErr := s.students.FindByUserID(ctx, actor.UserID)
		if selfErr != nil {
			if errors.Is(selfErr, sql.ErrNoRows) {
				return nil, s.reject(appErrors.Clone(appErrors.ErrForbidden, "no student record linked to account"))
			}
			return nil, storageError(selfErr, "failed to resolve student")
		}
		if self.ID != req.StudentID {
			return nil, s.reject(appErrors.Clone(appErrors.ErrForbidden, "students may only enroll themselves"))
		}
	default:
		return nil, s.reject(appErrors.Clone(appErrors.ErrForbidden, ""))
	}

	enrollment := &models.Enrollment{
		StudentID: req.StudentID,
		SubjectID: req.SubjectID,
		Status:    status,
		Notes:     req.Notes,
	}
	current, maxCapacity, err := s.repo.Create(ctx, enrollment)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrCapacityFull):
			// Details carry the ceiling read inside the insert transaction,
			// not the earlier subject load, so a concurrent capacity change
			// is reported accurately.
			return nil, s.reject(appErrors.WithDetails(appErrors.ErrCapacityExceeded, map[string]interface{}{
				"max_capacity":  maxCapacity,
				"current_count": current,
			}))
		case errors.Is(err, repository.ErrDuplicatePair):
			return nil, s.reject(appErrors.Clone(appErrors.ErrDuplicateEnrollment, ""))
		case errors.Is(err, sql.ErrNoRows):
			return nil, s.reject(appErrors.Clone(appErrors.ErrSubjectInactive, "subject not found"))
		default:
			return nil, storageError(err, "failed to create enrollment")
		}
	}

	s.metrics.EnrollmentCreated()
	s.logger.Info("enrollment created",
		zap.String("enrollment_id", enrollment.ID),
		zap.String("student_id", enrollment.StudentID),
		zap.String("subject_id", enrollment.SubjectID),
		zap.String("status", string(enrollment.Status)),
	)

	detail, err := s.repo.FindDetailByID(ctx, enrollment.ID)
	if err != nil {
		return nil, storageError(err, "failed to load enrollment detail")
	}
	return detail, nil
}

// UpdateStatus transitions an enrollment to a new status. Elevated role only;
// the status set is flat, any enumerated value may follow any other.
func (s *EnrollmentService) UpdateStatus(ctx context.Context, actor models.Actor, id string, req UpdateEnrollmentStatusRequest) (*models.EnrollmentDetail, error) {
	if !actor.IsAdmin() {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "status changes require the administrative role")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid status payload")
	}
	if !req.Status.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unknown enrollment status")
	}

	if _, err := s.repo.FindByID(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return nil, storageError(err, "failed to load enrollment")
	}

	if err := s.repo.UpdateStatus(ctx, id, req.Status); err != nil {
		return nil, storageError(err, "failed to update enrollment status")
	}

	detail, err := s.repo.FindDetailByID(ctx, id)
	if err != nil {
		return nil, storageError(err, "failed to load enrollment detail")
	}
	return detail, nil
}

// Withdraw removes an enrollment. The elevated role may withdraw any record;
// the restricted role only its own.
func (s *EnrollmentService) Withdraw(ctx context.Context, actor models.Actor, id string) error {
	enrollment, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return storageError(err, "failed to load enrollment")
	}

	switch {
	case actor.IsAdmin():
	case actor.IsStudent():
		self, selfErr := s.students.FindByUserID(ctx, actor.UserID)
		if selfErr != nil {
			if errors.Is(selfErr, sql.ErrNoRows) {
				return appErrors.Clone(appErrors.ErrForbidden, "no student record linked to account")
			}
			return storageError(selfErr, "failed to resolve student")
		}
		if self.ID != enrollment.StudentID {
			return appErrors.Clone(appErrors.ErrForbidden, "students may only withdraw their own enrollments")
		}
	default:
		return appErrors.Clone(appErrors.ErrForbidden, "")
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		return storageError(err, "failed to withdraw enrollment")
	}

	s.logger.Info("enrollment withdrawn",
		zap.String("enrollment_id", id),
		zap.String("actor_id", actor.UserID),
		zap.String("actor_role", string(actor.Role)),
	)
	return nil
}

// Availability reports the live capacity of a subject.
func (s *EnrollmentService) Availability(ctx context.Context, subjectID string) (*models.SubjectAvailability, error) {
	subject, err := s.subjects.FindByID(ctx, subjectID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "subject not found")
		}
		return nil, storageError(err, "failed to load subject")
	}

	current, err := s.repo.CountEnrolled(ctx, subjectID)
	if err != nil {
		return nil, storageError(err, "failed to count enrollments")
	}

	return &models.SubjectAvailability{
		SubjectID:    subject.ID,
		CurrentCount: current,
		MaxCapacity:  subject.MaxCapacity,
		HasSpace:     current < subject.MaxCapacity,
	}, nil
}

func (s *EnrollmentService) reject(err *appErrors.Error) *appErrors.Error {
	s.metrics.EnrollmentRejected(err.Code)
	return err
}
