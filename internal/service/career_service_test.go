package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/escuela-app/enrollment-api/internal/models"
	"github.com/escuela-app/enrollment-api/internal/repository"
	appErrors "github.com/escuela-app/enrollment-api/pkg/errors"
)

type mockCareerRepo struct {
	careers    []models.Career
	byID       map[string]*models.Career
	codeUsed   bool
	nameUsed   bool
	dependents *models.CareerDependents
	listCalls  int
	created    *models.Career
	deleted    []string
}

func (m *mockCareerRepo) List(ctx context.Context, filter models.CareerFilter) ([]models.Career, int, error) {
	m.listCalls++
	return m.careers, len(m.careers), nil
}

func (m *mockCareerRepo) FindByID(ctx context.Context, id string) (*models.Career, error) {
	career, ok := m.byID[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return career, nil
}

func (m *mockCareerRepo) ExistsByCode(ctx context.Context, code, excludeID string) (bool, error) {
	return m.codeUsed, nil
}

func (m *mockCareerRepo) ExistsByName(ctx context.Context, name, excludeID string) (bool, error) {
	return m.nameUsed, nil
}

func (m *mockCareerRepo) Create(ctx context.Context, career *models.Career) error {
	career.ID = "car-1"
	m.created = career
	return nil
}

func (m *mockCareerRepo) Update(ctx context.Context, career *models.Career) error {
	return nil
}

func (m *mockCareerRepo) Delete(ctx context.Context, id string) (*models.CareerDependents, error) {
	if m.dependents != nil && (m.dependents.Subjects > 0 || m.dependents.Students > 0) {
		return m.dependents, repository.ErrHasDependents
	}
	if _, ok := m.byID[id]; !ok && m.byID != nil {
		return nil, sql.ErrNoRows
	}
	m.deleted = append(m.deleted, id)
	return m.dependents, nil
}

type memoryCache struct {
	store          map[string][]byte
	deletePatterns []string
}

func (c *memoryCache) Get(_ context.Context, key string, dest interface{}) error {
	payload, ok := c.store[key]
	if !ok {
		return repository.ErrCacheMiss
	}
	return json.Unmarshal(payload, dest)
}

func (c *memoryCache) Set(_ context.Context, key string, value interface{}, _ time.Duration) error {
	if c.store == nil {
		c.store = make(map[string][]byte)
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.store[key] = payload
	return nil
}

func (c *memoryCache) DeleteByPattern(_ context.Context, pattern string) error {
	c.deletePatterns = append(c.deletePatterns, pattern)
	c.store = nil
	return nil
}

func TestCareerListServedFromCache(t *testing.T) {
	repo := &mockCareerRepo{careers: []models.Career{{ID: "car-1", Code: "ING", Name: "Engineering"}}}
	cache := &memoryCache{}
	svc := NewCareerService(repo, cache, time.Minute, nil, zap.NewNop())

	first, _, err := svc.List(context.Background(), models.CareerFilter{})
	require.NoError(t, err)
	require.Len(t, first, 1)
	assert.Equal(t, 1, repo.listCalls)

	second, _, err := svc.List(context.Background(), models.CareerFilter{})
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.Equal(t, 1, repo.listCalls)
}

func TestCareerCreateConflictingCode(t *testing.T) {
	repo := &mockCareerRepo{codeUsed: true}
	svc := NewCareerService(repo, nil, 0, nil, zap.NewNop())

	_, err := svc.Create(context.Background(), CreateCareerRequest{Code: "ING", Name: "Engineering", DurationYears: 5})
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrConflict))
	assert.Nil(t, repo.created)
}

func TestCareerCreateInvalidatesListing(t *testing.T) {
	repo := &mockCareerRepo{}
	cache := &memoryCache{}
	svc := NewCareerService(repo, cache, time.Minute, nil, zap.NewNop())

	_, _, err := svc.List(context.Background(), models.CareerFilter{})
	require.NoError(t, err)

	career, err := svc.Create(context.Background(), CreateCareerRequest{Code: "ING", Name: "Engineering", DurationYears: 5})
	require.NoError(t, err)
	assert.True(t, career.Active)
	assert.Contains(t, cache.deletePatterns, "careers:list:*")

	_, _, err = svc.List(context.Background(), models.CareerFilter{})
	require.NoError(t, err)
	assert.Equal(t, 2, repo.listCalls)
}

func TestCareerDeleteBlockedByDependents(t *testing.T) {
	repo := &mockCareerRepo{dependents: &models.CareerDependents{Subjects: 2, Students: 5}}
	svc := NewCareerService(repo, nil, 0, nil, zap.NewNop())

	err := svc.Delete(context.Background(), "car-1")
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrBlockedByDependents))

	appErr := appErrors.FromError(err)
	require.NotNil(t, appErr)
	assert.Equal(t, 2, appErr.Details["subjects"])
	assert.Equal(t, 5, appErr.Details["students"])
	assert.Empty(t, repo.deleted)
}

func TestCareerDeleteNotFound(t *testing.T) {
	repo := &mockCareerRepo{byID: map[string]*models.Career{}}
	svc := NewCareerService(repo, nil, 0, nil, zap.NewNop())

	err := svc.Delete(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrNotFound))
}

func TestCareerUpdateNotFound(t *testing.T) {
	repo := &mockCareerRepo{}
	svc := NewCareerService(repo, nil, 0, nil, zap.NewNop())

	_, err := svc.Update(context.Background(), "missing", UpdateCareerRequest{Code: "ING", Name: "Engineering", DurationYears: 5})
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrNotFound))
}
