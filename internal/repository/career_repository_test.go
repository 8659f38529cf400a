package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
)

func TestCareerRepositoryDeleteBlockedByDependents(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewCareerRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT 1 FROM careers WHERE id = $1 FOR UPDATE")).
		WithArgs("car-1").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))
	mock.ExpectQuery("SELECT").
		WithArgs("car-1").
		WillReturnRows(sqlmock.NewRows([]string{"subjects", "students"}).AddRow(2, 5))
	mock.ExpectRollback()

	deps, err := repo.Delete(context.Background(), "car-1")
	require.ErrorIs(t, err, ErrHasDependents)
	require.NotNil(t, deps)
	require.Equal(t, 2, deps.Subjects)
	require.Equal(t, 5, deps.Students)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCareerRepositoryDeleteWithoutDependents(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewCareerRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT 1 FROM careers WHERE id = $1 FOR UPDATE")).
		WithArgs("car-1").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))
	mock.ExpectQuery("SELECT").
		WithArgs("car-1").
		WillReturnRows(sqlmock.NewRows([]string{"subjects", "students"}).AddRow(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM careers WHERE id = $1")).
		WithArgs("car-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	deps, err := repo.Delete(context.Background(), "car-1")
	require.NoError(t, err)
	require.Nil(t, deps)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCareerRepositoryDeleteMissing(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewCareerRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT 1 FROM careers WHERE id = $1 FOR UPDATE")).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}))
	mock.ExpectRollback()

	_, err := repo.Delete(context.Background(), "missing")
	require.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCareerRepositoryExistsByCodeExcludesID(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewCareerRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT 1 FROM careers WHERE LOWER(code) = LOWER($1) AND id <> $2")).
		WithArgs("ING", "car-1").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}))

	taken, err := repo.ExistsByCode(context.Background(), "ING", "car-1")
	require.NoError(t, err)
	require.False(t, taken)
	require.NoError(t, mock.ExpectationsWereMet())
}
