package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/require"

	"github.com/escuela-app/enrollment-api/internal/models"
)

func newStudentFixture() *models.Student {
	return &models.Student{
		PersonalInfo: models.PersonalInfo{
			FirstName:  "Ana",
			LastName:   "Gomez",
			NationalID: "12345678",
			Email:      "ana.gomez@example.com",
		},
		CareerID:   "car-1",
		EnrolledOn: time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
		Active:     true,
	}
}

func TestStudentRepositoryCreateAssignsFileCode(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewStudentRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT code FROM careers WHERE id = $1 FOR UPDATE")).
		WithArgs("car-1").
		WillReturnRows(sqlmock.NewRows([]string{"code"}).AddRow("ING"))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT file_code FROM students WHERE file_code LIKE $1 ORDER BY LENGTH(file_code) DESC, file_code DESC LIMIT 1")).
		WithArgs("2025ING%").
		WillReturnRows(sqlmock.NewRows([]string{"file_code"}).AddRow("2025ING001"))
	mock.ExpectExec("INSERT INTO students").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	student := newStudentFixture()
	err := repo.Create(context.Background(), student, nil)
	require.NoError(t, err)
	require.Equal(t, "2025ING002", student.FileCode)
	require.NotEmpty(t, student.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStudentRepositoryCreateSkipsGapAfterDeletion(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewStudentRepository(db)

	// Codes 001 and 003 exist (002 was deleted). The next code must follow
	// the highest suffix, not the row count, or it would collide with 003.
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT code FROM careers WHERE id = $1 FOR UPDATE")).
		WithArgs("car-1").
		WillReturnRows(sqlmock.NewRows([]string{"code"}).AddRow("ING"))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT file_code FROM students WHERE file_code LIKE $1 ORDER BY LENGTH(file_code) DESC, file_code DESC LIMIT 1")).
		WithArgs("2025ING%").
		WillReturnRows(sqlmock.NewRows([]string{"file_code"}).AddRow("2025ING003"))
	mock.ExpectExec("INSERT INTO students").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	student := newStudentFixture()
	err := repo.Create(context.Background(), student, nil)
	require.NoError(t, err)
	require.Equal(t, "2025ING004", student.FileCode)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStudentRepositoryCreateWideSuffixKeepsCounting(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewStudentRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT code FROM careers WHERE id = $1 FOR UPDATE")).
		WithArgs("car-1").
		WillReturnRows(sqlmock.NewRows([]string{"code"}).AddRow("ING"))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT file_code FROM students WHERE file_code LIKE $1 ORDER BY LENGTH(file_code) DESC, file_code DESC LIMIT 1")).
		WithArgs("2025ING%").
		WillReturnRows(sqlmock.NewRows([]string{"file_code"}).AddRow("2025ING1000"))
	mock.ExpectExec("INSERT INTO students").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	student := newStudentFixture()
	err := repo.Create(context.Background(), student, nil)
	require.NoError(t, err)
	require.Equal(t, "2025ING1001", student.FileCode)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStudentRepositoryCreateLongCareerCodeTruncated(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewStudentRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT code FROM careers WHERE id = $1 FOR UPDATE")).
		WithArgs("car-1").
		WillReturnRows(sqlmock.NewRows([]string{"code"}).AddRow("medicina"))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT file_code FROM students WHERE file_code LIKE $1 ORDER BY LENGTH(file_code) DESC, file_code DESC LIMIT 1")).
		WithArgs("2025MED%").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectExec("INSERT INTO students").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	student := newStudentFixture()
	err := repo.Create(context.Background(), student, nil)
	require.NoError(t, err)
	require.Equal(t, "2025MED001", student.FileCode)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStudentRepositoryCreateSequenceConflict(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewStudentRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT code FROM careers WHERE id = $1 FOR UPDATE")).
		WithArgs("car-1").
		WillReturnRows(sqlmock.NewRows([]string{"code"}).AddRow("ING"))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT file_code FROM students WHERE file_code LIKE $1 ORDER BY LENGTH(file_code) DESC, file_code DESC LIMIT 1")).
		WithArgs("2025ING%").
		WillReturnRows(sqlmock.NewRows([]string{"file_code"}).AddRow("2025ING001"))
	mock.ExpectExec("INSERT INTO students").
		WillReturnError(&pq.Error{Code: "23505", Constraint: "students_file_code_key"})
	mock.ExpectRollback()

	err := repo.Create(context.Background(), newStudentFixture(), nil)
	require.ErrorIs(t, err, ErrSequenceConflict)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStudentRepositoryCreateWithLogin(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewStudentRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT code FROM careers WHERE id = $1 FOR UPDATE")).
		WithArgs("car-1").
		WillReturnRows(sqlmock.NewRows([]string{"code"}).AddRow("ING"))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT file_code FROM students WHERE file_code LIKE $1 ORDER BY LENGTH(file_code) DESC, file_code DESC LIMIT 1")).
		WithArgs("2025ING%").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectExec("INSERT INTO users").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO students").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	student := newStudentFixture()
	login := &models.User{
		Email:              student.Email,
		NationalID:         student.NationalID,
		PasswordHash:       "hash",
		FullName:           "Ana Gomez",
		Role:               models.RoleStudent,
		MustChangePassword: true,
		Active:             true,
	}
	err := repo.Create(context.Background(), student, login)
	require.NoError(t, err)
	require.NotNil(t, student.UserID)
	require.Equal(t, login.ID, *student.UserID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStudentRepositoryDeleteCascadesEnrollments(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewStudentRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM enrollments WHERE student_id = $1")).
		WithArgs("stu-1").
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM students WHERE id = $1")).
		WithArgs("stu-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := repo.Delete(context.Background(), "stu-1")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStudentRepositoryDeleteMissing(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewStudentRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM enrollments WHERE student_id = $1")).
		WithArgs("missing").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM students WHERE id = $1")).
		WithArgs("missing").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := repo.Delete(context.Background(), "missing")
	require.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}
