package service

import (
	"context"
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"
	"math/big"
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/escuela-app/enrollment-api/internal/models"
	"github.com/escuela-app/enrollment-api/internal/repository"
	appErrors "github.com/escuela-app/enrollment-api/pkg/errors"
)

var nationalIDPattern = regexp.MustCompile(`^[0-9]{7,8}$`)

const tempPasswordAlphabet = "abcdefghijkmnpqrstuvwxyzABCDEFGHJKLMNPQRSTUVWXYZ23456789"

type studentRepository interface {
	List(ctx context.Context, filter models.StudentFilter) ([]models.StudentDetail, int, error)
	FindByID(ctx context.Context, id string) (*models.StudentDetail, error)
	ExistsByNationalID(ctx context.Context, nationalID, excludeID string) (bool, error)
	ExistsByEmail(ctx context.Context, email, excludeID string) (bool, error)
	Create(ctx context.Context, student *models.Student, login *models.User) error
	Update(ctx context.Context, student *models.Student) error
	Delete(ctx context.Context, id string) error
}

// CreateStudentRequest describes student creation payload.
type CreateStudentRequest struct {
	FirstName       string `json:"first_name" validate:"required,max=100"`
	LastName        string `json:"last_name" validate:"required,max=100"`
	NationalID      string `json:"national_id" validate:"required"`
	Email           string `json:"email" validate:"required,email"`
	CareerID        string `json:"career_id" validate:"required"`
	Notes           string `json:"notes,omitempty"`
	AutoCreateLogin bool   `json:"auto_create_login,omitempty"`
}

// UpdateStudentRequest describes student update payload. FileCode and
// CareerID are immutable after creation.
type UpdateStudentRequest struct {
	FirstName  string `json:"first_name" validate:"required,max=100"`
	LastName   string `json:"last_name" validate:"required,max=100"`
	NationalID string `json:"national_id" validate:"required"`
	Email      string `json:"email" validate:"required,email"`
	Active     bool   `json:"active"`
	Notes      string `json:"notes,omitempty"`
}

// StudentService orchestrates student lifecycle and file code assignment.
type StudentService struct {
	repo        studentRepository
	careers     careerReader
	codeRetries int
	validator   *validator.Validate
	logger      *zap.Logger
}

// NewStudentService constructs StudentService. codeRetries bounds how many
// times Create is retried after a file code sequence conflict.
func NewStudentService(repo studentRepository, careers careerReader, codeRetries int, validate *validator.Validate, logger *zap.Logger) *StudentService {
	if codeRetries < 1 {
		codeRetries = 3
	}
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StudentService{
		repo:        repo,
		careers:     careers,
		codeRetries: codeRetries,
		validator:   validate,
		logger:      logger,
	}
}

// List returns students with pagination metadata.
func (s *StudentService) List(ctx context.Context, filter models.StudentFilter) ([]models.StudentDetail, *models.Pagination, error) {
	students, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, storageError(err, "failed to list students")
	}
	return students, paginationFor(filter.Page, filter.PageSize, total), nil
}

// Get returns a single student with career context.
func (s *StudentService) Get(ctx context.Context, id string) (*models.StudentDetail, error) {
	student, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, storageError(err, "failed to load student")
	}
	return student, nil
}

// Create registers a student and assigns the sequential file code inside the
// insert transaction. A sequence conflict on commit is retried up to the
// configured bound before surfacing.
func (s *StudentService) Create(ctx context.Context, req CreateStudentRequest) (*models.StudentDetail, *models.StudentCredentials, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid student payload")
	}
	nationalID := strings.TrimSpace(req.NationalID)
	if !nationalIDPattern.MatchString(nationalID) {
		return nil, nil, appErrors.Clone(appErrors.ErrValidation, "national id must be 7 or 8 digits")
	}

	career, err := s.careers.FindByID(ctx, req.CareerID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, appErrors.Clone(appErrors.ErrNotFound, "career not found")
		}
		return nil, nil, storageError(err, "failed to load career")
	}
	if !career.Active {
		return nil, nil, appErrors.Clone(appErrors.ErrValidation, "career is not active")
	}

	email := normalizeEmail(req.Email)
	if taken, err := s.repo.ExistsByNationalID(ctx, nationalID, ""); err != nil {
		return nil, nil, storageError(err, "failed to validate national id")
	} else if taken {
		return nil, nil, appErrors.Clone(appErrors.ErrConflict, "national id already registered")
	}
	if taken, err := s.repo.ExistsByEmail(ctx, email, ""); err != nil {
		return nil, nil, storageError(err, "failed to validate email")
	} else if taken {
		return nil, nil, appErrors.Clone(appErrors.ErrConflict, "email already registered")
	}

	var credentials *models.StudentCredentials
	var login *models.User
	if req.AutoCreateLogin {
		tempPassword, err := generateTempPassword(12)
		if err != nil {
			return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to generate credentials")
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(tempPassword), bcrypt.DefaultCost)
		if err != nil {
			return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to hash credentials")
		}
		login = &models.User{
			ID:                 uuid.NewString(),
			Email:              email,
			NationalID:         nationalID,
			PasswordHash:       string(hash),
			FullName:           titleCase(req.FirstName) + " " + titleCase(req.LastName),
			Role:               models.RoleStudent,
			MustChangePassword: true,
			Active:             true,
		}
		credentials = &models.StudentCredentials{Email: email, TemporaryPassword: tempPassword}
	}

	var created *models.Student
	for attempt := 1; ; attempt++ {
		student := &models.Student{
			PersonalInfo: models.PersonalInfo{
				FirstName:  titleCase(req.FirstName),
				LastName:   titleCase(req.LastName),
				NationalID: nationalID,
				Email:      email,
			},
			CareerID:   req.CareerID,
			EnrolledOn: time.Now().UTC(),
			Active:     true,
			Notes:      req.Notes,
		}
		err = s.repo.Create(ctx, student, login)
		if err == nil {
			created = student
			break
		}
		if !errors.Is(err, repository.ErrSequenceConflict) {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, nil, appErrors.Clone(appErrors.ErrNotFound, "career not found")
			}
			return nil, nil, storageError(err, "failed to create student")
		}
		if attempt >= s.codeRetries {
			return nil, nil, appErrors.Clone(appErrors.ErrSequenceConflict, "")
		}
		s.logger.Warn("file code sequence conflict, retrying",
			zap.String("career_id", req.CareerID),
			zap.Int("attempt", attempt))
	}

	s.logger.Info("student created",
		zap.String("student_id", created.ID),
		zap.String("file_code", created.FileCode),
		zap.Bool("login_created", login != nil))

	detail, err := s.repo.FindByID(ctx, created.ID)
	if err != nil {
		return nil, nil, storageError(err, "failed to load created student")
	}
	return detail, credentials, nil
}

// Update modifies a student's mutable fields. The file code is never
// rewritten.
func (s *StudentService) Update(ctx context.Context, id string, req UpdateStudentRequest) (*models.StudentDetail, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid student payload")
	}
	nationalID := strings.TrimSpace(req.NationalID)
	if !nationalIDPattern.MatchString(nationalID) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "national id must be 7 or 8 digits")
	}

	detail, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, storageError(err, "failed to load student")
	}

	email := normalizeEmail(req.Email)
	if taken, err := s.repo.ExistsByNationalID(ctx, nationalID, id); err != nil {
		return nil, storageError(err, "failed to validate national id")
	} else if taken {
		return nil, appErrors.Clone(appErrors.ErrConflict, "national id already registered")
	}
	if taken, err := s.repo.ExistsByEmail(ctx, email, id); err != nil {
		return nil, storageError(err, "failed to validate email")
	} else if taken {
		return nil, appErrors.Clone(appErrors.ErrConflict, "email already registered")
	}

	student := detail.Student
	student.FirstName = titleCase(req.FirstName)
	student.LastName = titleCase(req.LastName)
	student.NationalID = nationalID
	student.Email = email
	student.Active = req.Active
	student.Notes = req.Notes
	if err := s.repo.Update(ctx, &student); err != nil {
		return nil, storageError(err, "failed to update student")
	}
	return s.Get(ctx, id)
}

// Delete removes a student together with their enrollment records.
func (s *StudentService) Delete(ctx context.Context, id string) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return storageError(err, "failed to delete student")
	}
	s.logger.Info("student deleted", zap.String("student_id", id))
	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// titleCase upper-cases the first letter of each space-separated word and
// lower-cases the rest, trimming surrounding whitespace.
func titleCase(value string) string {
	words := strings.Fields(value)
	for i, word := range words {
		runes := []rune(strings.ToLower(word))
		runes[0] = unicode.ToUpper(runes[0])
		words[i] = string(runes)
	}
	return strings.Join(words, " ")
}

func generateTempPassword(length int) (string, error) {
	out := make([]byte, length)
	max := big.NewInt(int64(len(tempPasswordAlphabet)))
	for i := range out {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("random index: %w", err)
		}
		out[i] = tempPasswordAlphabet[n.Int64()]
	}
	return string(out), nil
}
