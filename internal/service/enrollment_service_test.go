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

type mockEnrollmentRepo struct {
	enrollments []models.EnrollmentDetail
	detail      *models.EnrollmentDetail
	enrollment  *models.Enrollment
	exists      bool
	count       int
	capacity    int
	createErr   error
	createCalls int
	deleteCalls int
	lastStatus  models.EnrollmentStatus
}

func (m *mockEnrollmentRepo) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error) {
	return m.enrollments, len(m.enrollments), nil
}

func (m *mockEnrollmentRepo) FindByID(ctx context.Context, id string) (*models.Enrollment, error) {
	if m.enrollment == nil {
		return nil, sql.ErrNoRows
	}
	return m.enrollment, nil
}

func (m *mockEnrollmentRepo) FindDetailByID(ctx context.Context, id string) (*models.EnrollmentDetail, error) {
	if m.detail == nil {
		return nil, sql.ErrNoRows
	}
	return m.detail, nil
}

func (m *mockEnrollmentRepo) Exists(ctx context.Context, studentID, subjectID string) (bool, error) {
	return m.exists, nil
}

func (m *mockEnrollmentRepo) CountEnrolled(ctx context.Context, subjectID string) (int, error) {
	return m.count, nil
}

func (m *mockEnrollmentRepo) Create(ctx context.Context, enrollment *models.Enrollment) (int, int, error) {
	m.createCalls++
	if m.createErr != nil {
		return m.count, m.capacity, m.createErr
	}
	enrollment.ID = "enr-1"
	m.detail = &models.EnrollmentDetail{Enrollment: *enrollment}
	return m.count, m.capacity, nil
}

func (m *mockEnrollmentRepo) UpdateStatus(ctx context.Context, id string, status models.EnrollmentStatus) error {
	m.lastStatus = status
	return nil
}

func (m *mockEnrollmentRepo) Delete(ctx context.Context, id string) error {
	m.deleteCalls++
	return nil
}

type mockStudentReader struct {
	byID     map[string]*models.StudentDetail
	byUserID map[string]*models.Student
}

func (m *mockStudentReader) FindByID(ctx context.Context, id string) (*models.StudentDetail, error) {
	student, ok := m.byID[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return student, nil
}

func (m *mockStudentReader) FindByUserID(ctx context.Context, userID string) (*models.Student, error) {
	student, ok := m.byUserID[userID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return student, nil
}

type mockSubjectReader struct {
	subjects map[string]*models.Subject
}

func (m *mockSubjectReader) FindByID(ctx context.Context, id string) (*models.Subject, error) {
	subject, ok := m.subjects[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return subject, nil
}

type recordingMetrics struct {
	created  int
	rejected map[string]int
}

func (r *recordingMetrics) EnrollmentCreated() { r.created++ }

func (r *recordingMetrics) EnrollmentRejected(code string) {
	if r.rejected == nil {
		r.rejected = make(map[string]int)
	}
	r.rejected[code]++
}

func activeStudent(id string) *models.StudentDetail {
	return &models.StudentDetail{Student: models.Student{
		ID:           id,
		PersonalInfo: models.PersonalInfo{FirstName: "Ana", LastName: "Gomez"},
		Active:       true,
	}}
}

func activeSubject(id string, capacity int) *models.Subject {
	return &models.Subject{ID: id, CareerID: "car-1", Code: "MAT1", Name: "Algebra", MaxCapacity: capacity, Active: true}
}

func newEnrollmentFixture(repo *mockEnrollmentRepo, students *mockStudentReader, subjects *mockSubjectReader, metrics *recordingMetrics) *EnrollmentService {
	// A nil *recordingMetrics must become a nil interface so the
	// constructor's nil check installs the noop recorder.
	var recorder enrollmentRecorder
	if metrics != nil {
		recorder = metrics
	}
	return NewEnrollmentService(repo, students, subjects, nil, zap.NewNop(), recorder)
}

func TestEnrollmentCreateAsAdmin(t *testing.T) {
	repo := &mockEnrollmentRepo{count: 1}
	students := &mockStudentReader{byID: map[string]*models.StudentDetail{"stu-1": activeStudent("stu-1")}}
	subjects := &mockSubjectReader{subjects: map[string]*models.Subject{"sub-1": activeSubject("sub-1", 30)}}
	metrics := &recordingMetrics{}
	svc := newEnrollmentFixture(repo, students, subjects, metrics)

	detail, err := svc.Create(context.Background(), models.Actor{UserID: "adm-1", Role: models.RoleAdmin}, CreateEnrollmentRequest{
		StudentID: "stu-1", SubjectID: "sub-1",
	})
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusEnrolled, detail.Status)
	assert.Equal(t, 1, metrics.created)
}

func TestEnrollmentCreateAdminMaySetStatus(t *testing.T) {
	repo := &mockEnrollmentRepo{}
	students := &mockStudentReader{byID: map[string]*models.StudentDetail{"stu-1": activeStudent("stu-1")}}
	subjects := &mockSubjectReader{subjects: map[string]*models.Subject{"sub-1": activeSubject("sub-1", 30)}}
	svc := newEnrollmentFixture(repo, students, subjects, nil)

	detail, err := svc.Create(context.Background(), models.Actor{UserID: "adm-1", Role: models.RoleAdmin}, CreateEnrollmentRequest{
		StudentID: "stu-1", SubjectID: "sub-1", Status: models.EnrollmentStatusPassed,
	})
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusPassed, detail.Status)
}

func TestEnrollmentCreateInactiveStudent(t *testing.T) {
	inactive := activeStudent("stu-1")
	inactive.Active = false
	repo := &mockEnrollmentRepo{}
	students := &mockStudentReader{byID: map[string]*models.StudentDetail{"stu-1": inactive}}
	subjects := &mockSubjectReader{subjects: map[string]*models.Subject{"sub-1": activeSubject("sub-1", 30)}}
	metrics := &recordingMetrics{}
	svc := newEnrollmentFixture(repo, students, subjects, metrics)

	_, err := svc.Create(context.Background(), models.Actor{Role: models.RoleAdmin}, CreateEnrollmentRequest{
		StudentID: "stu-1", SubjectID: "sub-1",
	})
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrStudentInactive))
	assert.Equal(t, 0, repo.createCalls)
	assert.Equal(t, 1, metrics.rejected[appErrors.ErrStudentInactive.Code])
}

func TestEnrollmentCreateInactiveSubjectCheckedAfterStudent(t *testing.T) {
	inactiveSubject := activeSubject("sub-1", 30)
	inactiveSubject.Active = false
	repo := &mockEnrollmentRepo{}
	students := &mockStudentReader{byID: map[string]*models.StudentDetail{"stu-1": activeStudent("stu-1")}}
	subjects := &mockSubjectReader{subjects: map[string]*models.Subject{"sub-1": inactiveSubject}}
	svc := newEnrollmentFixture(repo, students, subjects, nil)

	_, err := svc.Create(context.Background(), models.Actor{Role: models.RoleAdmin}, CreateEnrollmentRequest{
		StudentID: "stu-1", SubjectID: "sub-1",
	})
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrSubjectInactive))
}

func TestEnrollmentCreateDuplicate(t *testing.T) {
	repo := &mockEnrollmentRepo{exists: true}
	students := &mockStudentReader{byID: map[string]*models.StudentDetail{"stu-1": activeStudent("stu-1")}}
	subjects := &mockSubjectReader{subjects: map[string]*models.Subject{"sub-1": activeSubject("sub-1", 30)}}
	svc := newEnrollmentFixture(repo, students, subjects, nil)

	_, err := svc.Create(context.Background(), models.Actor{Role: models.RoleAdmin}, CreateEnrollmentRequest{
		StudentID: "stu-1", SubjectID: "sub-1",
	})
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrDuplicateEnrollment))
	assert.Equal(t, 0, repo.createCalls)
}

func TestEnrollmentCreateCapacityExceeded(t *testing.T) {
	repo := &mockEnrollmentRepo{createErr: repository.ErrCapacityFull, count: 3, capacity: 3}
	students := &mockStudentReader{byID: map[string]*models.StudentDetail{"stu-1": activeStudent("stu-1")}}
	subjects := &mockSubjectReader{subjects: map[string]*models.Subject{"sub-1": activeSubject("sub-1", 3)}}
	metrics := &recordingMetrics{}
	svc := newEnrollmentFixture(repo, students, subjects, metrics)

	_, err := svc.Create(context.Background(), models.Actor{Role: models.RoleAdmin}, CreateEnrollmentRequest{
		StudentID: "stu-1", SubjectID: "sub-1",
	})
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrCapacityExceeded))

	appErr := appErrors.FromError(err)
	require.NotNil(t, appErr)
	assert.Equal(t, 3, appErr.Details["max_capacity"])
	assert.Equal(t, 3, appErr.Details["current_count"])
	assert.Equal(t, 1, metrics.rejected[appErrors.ErrCapacityExceeded.Code])
}

func TestEnrollmentCreateCapacityDetailsReflectLockedCeiling(t *testing.T) {
	// Capacity was lowered to 2 after the subject load: the rejection must
	// report the ceiling observed inside the insert transaction, not the
	// stale 30 the service read first.
	repo := &mockEnrollmentRepo{createErr: repository.ErrCapacityFull, count: 2, capacity: 2}
	students := &mockStudentReader{byID: map[string]*models.StudentDetail{"stu-1": activeStudent("stu-1")}}
	subjects := &mockSubjectReader{subjects: map[string]*models.Subject{"sub-1": activeSubject("sub-1", 30)}}
	svc := newEnrollmentFixture(repo, students, subjects, nil)

	_, err := svc.Create(context.Background(), models.Actor{Role: models.RoleAdmin}, CreateEnrollmentRequest{
		StudentID: "stu-1", SubjectID: "sub-1",
	})
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrCapacityExceeded))

	appErr := appErrors.FromError(err)
	require.NotNil(t, appErr)
	assert.Equal(t, 2, appErr.Details["max_capacity"])
	assert.Equal(t, 2, appErr.Details["current_count"])
}

func TestEnrollmentCreateStudentSelfService(t *testing.T) {
	repo := &mockEnrollmentRepo{}
	students := &mockStudentReader{
		byID:     map[string]*models.StudentDetail{"stu-1": activeStudent("stu-1")},
		byUserID: map[string]*models.Student{"usr-1": {ID: "stu-1", Active: true}},
	}
	subjects := &mockSubjectReader{subjects: map[string]*models.Subject{"sub-1": activeSubject("sub-1", 30)}}
	svc := newEnrollmentFixture(repo, students, subjects, nil)

	// A student-set status is ignored, the record lands as ENROLLED.
	detail, err := svc.Create(context.Background(), models.Actor{UserID: "usr-1", Role: models.RoleStudent}, CreateEnrollmentRequest{
		StudentID: "stu-1", SubjectID: "sub-1", Status: models.EnrollmentStatusPassed,
	})
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusEnrolled, detail.Status)
}

func TestEnrollmentCreateStudentCannotEnrollOthers(t *testing.T) {
	repo := &mockEnrollmentRepo{}
	students := &mockStudentReader{
		byID:     map[string]*models.StudentDetail{"stu-2": activeStudent("stu-2")},
		byUserID: map[string]*models.Student{"usr-1": {ID: "stu-1", Active: true}},
	}
	subjects := &mockSubjectReader{subjects: map[string]*models.Subject{"sub-1": activeSubject("sub-1", 30)}}
	svc := newEnrollmentFixture(repo, students, subjects, nil)

	_, err := svc.Create(context.Background(), models.Actor{UserID: "usr-1", Role: models.RoleStudent}, CreateEnrollmentRequest{
		StudentID: "stu-2", SubjectID: "sub-1",
	})
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrForbidden))
	assert.Equal(t, 0, repo.createCalls)
}

func TestEnrollmentCreateGuestForbidden(t *testing.T) {
	repo := &mockEnrollmentRepo{}
	students := &mockStudentReader{byID: map[string]*models.StudentDetail{"stu-1": activeStudent("stu-1")}}
	subjects := &mockSubjectReader{subjects: map[string]*models.Subject{"sub-1": activeSubject("sub-1", 30)}}
	svc := newEnrollmentFixture(repo, students, subjects, nil)

	_, err := svc.Create(context.Background(), models.Actor{Role: models.RoleGuest}, CreateEnrollmentRequest{
		StudentID: "stu-1", SubjectID: "sub-1",
	})
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrForbidden))
}

func TestEnrollmentListScopesStudentToSelf(t *testing.T) {
	repo := &mockEnrollmentRepo{}
	students := &mockStudentReader{byUserID: map[string]*models.Student{"usr-1": {ID: "stu-1"}}}
	svc := newEnrollmentFixture(repo, students, &mockSubjectReader{}, nil)

	_, _, err := svc.List(context.Background(), models.Actor{UserID: "usr-1", Role: models.RoleStudent}, models.EnrollmentFilter{StudentID: "stu-2"})
	require.NoError(t, err)
}

func TestEnrollmentUpdateStatusRequiresAdmin(t *testing.T) {
	repo := &mockEnrollmentRepo{enrollment: &models.Enrollment{ID: "enr-1", StudentID: "stu-1"}}
	svc := newEnrollmentFixture(repo, &mockStudentReader{}, &mockSubjectReader{}, nil)

	_, err := svc.UpdateStatus(context.Background(), models.Actor{Role: models.RoleStudent}, "enr-1", UpdateEnrollmentStatusRequest{Status: models.EnrollmentStatusPassed})
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrForbidden))
}

func TestEnrollmentWithdrawOwnOnly(t *testing.T) {
	repo := &mockEnrollmentRepo{enrollment: &models.Enrollment{ID: "enr-1", StudentID: "stu-1"}}
	students := &mockStudentReader{byUserID: map[string]*models.Student{
		"usr-1": {ID: "stu-1"},
		"usr-2": {ID: "stu-2"},
	}}
	svc := newEnrollmentFixture(repo, students, &mockSubjectReader{}, nil)

	err := svc.Withdraw(context.Background(), models.Actor{UserID: "usr-2", Role: models.RoleStudent}, "enr-1")
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrForbidden))
	assert.Equal(t, 0, repo.deleteCalls)

	err = svc.Withdraw(context.Background(), models.Actor{UserID: "usr-1", Role: models.RoleStudent}, "enr-1")
	require.NoError(t, err)
	assert.Equal(t, 1, repo.deleteCalls)
}

func TestEnrollmentAvailability(t *testing.T) {
	repo := &mockEnrollmentRepo{count: 2}
	subjects := &mockSubjectReader{subjects: map[string]*models.Subject{"sub-1": activeSubject("sub-1", 3)}}
	svc := newEnrollmentFixture(repo, &mockStudentReader{}, subjects, nil)

	availability, err := svc.Availability(context.Background(), "sub-1")
	require.NoError(t, err)
	assert.Equal(t, 2, availability.CurrentCount)
	assert.Equal(t, 3, availability.MaxCapacity)
	assert.True(t, availability.HasSpace)
}
