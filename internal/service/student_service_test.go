package service

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/escuela-app/enrollment-api/internal/models"
	"github.com/escuela-app/enrollment-api/internal/repository"
	appErrors "github.com/escuela-app/enrollment-api/pkg/errors"
)

type mockStudentRepo struct {
	students       map[string]*models.StudentDetail
	nationalIDUsed bool
	emailUsed      bool
	createErrs     []error
	createCalls    int
	lastCreated    *models.Student
	lastLogin      *models.User
	updated        *models.Student
	deleteCalls    int
}

func (m *mockStudentRepo) List(ctx context.Context, filter models.StudentFilter) ([]models.StudentDetail, int, error) {
	return nil, 0, nil
}

func (m *mockStudentRepo) FindByID(ctx context.Context, id string) (*models.StudentDetail, error) {
	student, ok := m.students[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return student, nil
}

func (m *mockStudentRepo) ExistsByNationalID(ctx context.Context, nationalID, excludeID string) (bool, error) {
	return m.nationalIDUsed, nil
}

func (m *mockStudentRepo) ExistsByEmail(ctx context.Context, email, excludeID string) (bool, error) {
	return m.emailUsed, nil
}

func (m *mockStudentRepo) Create(ctx context.Context, student *models.Student, login *models.User) error {
	m.createCalls++
	if len(m.createErrs) > 0 {
		err := m.createErrs[0]
		m.createErrs = m.createErrs[1:]
		if err != nil {
			return err
		}
	}
	student.ID = "stu-1"
	student.FileCode = "2025ING001"
	m.lastCreated = student
	m.lastLogin = login
	if m.students == nil {
		m.students = make(map[string]*models.StudentDetail)
	}
	m.students[student.ID] = &models.StudentDetail{Student: *student, CareerName: "Engineering", CareerCode: "ING"}
	return nil
}

func (m *mockStudentRepo) Update(ctx context.Context, student *models.Student) error {
	m.updated = student
	return nil
}

func (m *mockStudentRepo) Delete(ctx context.Context, id string) error {
	m.deleteCalls++
	if _, ok := m.students[id]; !ok {
		return sql.ErrNoRows
	}
	return nil
}

type mockCareerReader struct {
	careers map[string]*models.Career
}

func (m *mockCareerReader) FindByID(ctx context.Context, id string) (*models.Career, error) {
	career, ok := m.careers[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return career, nil
}

func engineeringCareer() *mockCareerReader {
	return &mockCareerReader{careers: map[string]*models.Career{
		"car-1": {ID: "car-1", Code: "ING", Name: "Engineering", DurationYears: 5, Active: true},
	}}
}

func validStudentRequest() CreateStudentRequest {
	return CreateStudentRequest{
		FirstName:  "ana maria",
		LastName:   "GOMEZ",
		NationalID: "12345678",
		Email:      "  Ana.Gomez@Example.COM ",
		CareerID:   "car-1",
	}
}

func TestStudentCreateNormalizesIdentity(t *testing.T) {
	repo := &mockStudentRepo{}
	svc := NewStudentService(repo, engineeringCareer(), 3, nil, zap.NewNop())

	detail, credentials, err := svc.Create(context.Background(), validStudentRequest())
	require.NoError(t, err)
	require.Nil(t, credentials)

	assert.Equal(t, "Ana Maria", detail.FirstName)
	assert.Equal(t, "Gomez", detail.LastName)
	assert.Equal(t, "ana.gomez@example.com", detail.Email)
	assert.Equal(t, "2025ING001", detail.FileCode)
	assert.True(t, detail.Active)
}

func TestStudentCreateRejectsBadNationalID(t *testing.T) {
	repo := &mockStudentRepo{}
	svc := NewStudentService(repo, engineeringCareer(), 3, nil, zap.NewNop())

	for _, id := range []string{"123456", "123456789", "12a45678", ""} {
		req := validStudentRequest()
		req.NationalID = id
		_, _, err := svc.Create(context.Background(), req)
		require.Error(t, err, "national id %q", id)
		assert.True(t, appErrors.HasCode(err, appErrors.ErrValidation))
	}
	assert.Equal(t, 0, repo.createCalls)
}

func TestStudentCreateTrimsNationalID(t *testing.T) {
	repo := &mockStudentRepo{}
	svc := NewStudentService(repo, engineeringCareer(), 3, nil, zap.NewNop())

	req := validStudentRequest()
	req.NationalID = "  12345678  "
	detail, _, err := svc.Create(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, "12345678", detail.NationalID)
	require.NotNil(t, repo.lastCreated)
	assert.Equal(t, "12345678", repo.lastCreated.NationalID)
}

func TestStudentUpdateTrimsNationalID(t *testing.T) {
	repo := &mockStudentRepo{students: map[string]*models.StudentDetail{
		"stu-1": {Student: models.Student{
			ID:           "stu-1",
			PersonalInfo: models.PersonalInfo{FirstName: "Ana", LastName: "Gomez", NationalID: "12345678", Email: "ana@example.com"},
			CareerID:     "car-1",
			FileCode:     "2025ING001",
			Active:       true,
		}},
	}}
	svc := NewStudentService(repo, engineeringCareer(), 3, nil, zap.NewNop())

	_, err := svc.Update(context.Background(), "stu-1", UpdateStudentRequest{
		FirstName:  "Ana",
		LastName:   "Gomez",
		NationalID: " 87654321 ",
		Email:      "ana@example.com",
		Active:     true,
	})
	require.NoError(t, err)
	require.NotNil(t, repo.updated)
	assert.Equal(t, "87654321", repo.updated.NationalID)
}

func TestStudentCreateRejectsInactiveCareer(t *testing.T) {
	careers := &mockCareerReader{careers: map[string]*models.Career{
		"car-1": {ID: "car-1", Code: "ING", DurationYears: 5, Active: false},
	}}
	svc := NewStudentService(&mockStudentRepo{}, careers, 3, nil, zap.NewNop())

	_, _, err := svc.Create(context.Background(), validStudentRequest())
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrValidation))
}

func TestStudentCreateDuplicateNationalID(t *testing.T) {
	repo := &mockStudentRepo{nationalIDUsed: true}
	svc := NewStudentService(repo, engineeringCareer(), 3, nil, zap.NewNop())

	_, _, err := svc.Create(context.Background(), validStudentRequest())
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrConflict))
}

func TestStudentCreateRetriesSequenceConflict(t *testing.T) {
	repo := &mockStudentRepo{createErrs: []error{repository.ErrSequenceConflict, nil}}
	svc := NewStudentService(repo, engineeringCareer(), 3, nil, zap.NewNop())

	detail, _, err := svc.Create(context.Background(), validStudentRequest())
	require.NoError(t, err)
	assert.Equal(t, 2, repo.createCalls)
	assert.Equal(t, "2025ING001", detail.FileCode)
}

func TestStudentCreateSequenceConflictExhausted(t *testing.T) {
	repo := &mockStudentRepo{createErrs: []error{
		repository.ErrSequenceConflict,
		repository.ErrSequenceConflict,
		repository.ErrSequenceConflict,
	}}
	svc := NewStudentService(repo, engineeringCareer(), 3, nil, zap.NewNop())

	_, _, err := svc.Create(context.Background(), validStudentRequest())
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrSequenceConflict))
	assert.Equal(t, 3, repo.createCalls)
}

func TestStudentCreateWithLogin(t *testing.T) {
	repo := &mockStudentRepo{}
	svc := NewStudentService(repo, engineeringCareer(), 3, nil, zap.NewNop())

	req := validStudentRequest()
	req.AutoCreateLogin = true
	detail, credentials, err := svc.Create(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, credentials)

	assert.Equal(t, "ana.gomez@example.com", credentials.Email)
	assert.Len(t, credentials.TemporaryPassword, 12)
	require.NotNil(t, repo.lastLogin)
	assert.Equal(t, models.RoleStudent, repo.lastLogin.Role)
	assert.True(t, repo.lastLogin.MustChangePassword)
	assert.NotEqual(t, credentials.TemporaryPassword, repo.lastLogin.PasswordHash)
	assert.Equal(t, "Ana Maria Gomez", repo.lastLogin.FullName)
	assert.NotNil(t, detail)
}

func TestStudentUpdateKeepsFileCode(t *testing.T) {
	repo := &mockStudentRepo{students: map[string]*models.StudentDetail{
		"stu-1": {Student: models.Student{
			ID:           "stu-1",
			PersonalInfo: models.PersonalInfo{FirstName: "Ana", LastName: "Gomez", NationalID: "12345678", Email: "ana@example.com"},
			CareerID:     "car-1",
			FileCode:     "2025ING001",
			Active:       true,
		}},
	}}
	svc := NewStudentService(repo, engineeringCareer(), 3, nil, zap.NewNop())

	_, err := svc.Update(context.Background(), "stu-1", UpdateStudentRequest{
		FirstName:  "ana",
		LastName:   "lopez",
		NationalID: "12345678",
		Email:      "ana@example.com",
		Active:     true,
	})
	require.NoError(t, err)
	require.NotNil(t, repo.updated)
	assert.Equal(t, "2025ING001", repo.updated.FileCode)
	assert.Equal(t, "Lopez", repo.updated.LastName)
}

func TestStudentDeleteNotFound(t *testing.T) {
	svc := NewStudentService(&mockStudentRepo{}, engineeringCareer(), 3, nil, zap.NewNop())

	err := svc.Delete(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrNotFound))
}
