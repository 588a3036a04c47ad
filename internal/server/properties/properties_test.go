package properties

import (
	"context"
	"testing"
	"time"

	"github.com/orgware/owconnect/internal/common"
	"github.com/orgware/owconnect/internal/logging"
	"github.com/orgware/owconnect/internal/server/entity"
	"github.com/orgware/owconnect/internal/server/events"
	"github.com/orgware/owconnect/internal/server/models"
	"github.com/orgware/owconnect/internal/server/storage"
	"github.com/orgware/owconnect/internal/server/storage/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const system = "0000000000"

var defaults = Defaults{
	AccessTokenPeriod:  500 * time.Minute,
	RefreshTokenPeriod: 1000 * time.Minute,
	AccessTokenSecret:  "access-secret",
	RefreshTokenSecret: "refresh-secret",
}

func newSeededStore(t *testing.T) (*Store, *entity.Repository) {
	t.Helper()
	bus := events.NewBus(logging.Nop(), 8)
	bus.Start(context.Background())
	t.Cleanup(bus.Stop)

	repo := entity.NewRepository(memory.New(), bus, logging.Nop(), RepositoryConfig(system, defaults))
	require.NoError(t, repo.Seed(context.Background()))

	s, err := NewStore(repo, bus, 16, system)
	require.NoError(t, err)
	return s, repo
}

func TestStore_SeededValues(t *testing.T) {
	s, _ := newSeededStore(t)
	ctx := context.Background()

	v, err := s.SystemValue(ctx, KeyAccessTokenSecret)
	require.NoError(t, err)
	assert.Equal(t, "access-secret", v)

	v, err = s.Get(ctx, system, "", KeyRefreshTokenPeriod)
	require.NoError(t, err)
	assert.Equal(t, "1000", v)

	d, err := s.Minutes(ctx, KeyAccessTokenPeriod)
	require.NoError(t, err)
	assert.Equal(t, 500*time.Minute, d)
}

func TestStore_GetMissing(t *testing.T) {
	s, _ := newSeededStore(t)

	_, err := s.Get(context.Background(), system, "", "noSuchKey")
	assert.ErrorIs(t, err, common.ErrorNotFound)
	assert.Equal(t, "ENTITY_NOT_FOUND", common.CodeOf(err))
}

func TestStore_SetCreatesAndUpdates(t *testing.T) {
	s, repo := newSeededStore(t)
	ctx := context.Background()

	rec, err := s.Set(ctx, "0000000017", "", "theme", "dark")
	require.NoError(t, err)
	assert.Equal(t, 1, rec.Revision)

	v, err := s.Get(ctx, "0000000017", "", "theme")
	require.NoError(t, err)
	assert.Equal(t, "dark", v)

	rec, err = s.Set(ctx, "0000000017", "", "theme", "light")
	require.NoError(t, err)
	assert.Equal(t, 2, rec.Revision)

	v, err = s.Get(ctx, "0000000017", "", "theme")
	require.NoError(t, err)
	assert.Equal(t, "light", v, "Set must drop cached values")

	page, err := repo.List(ctx, models.Document{"key": "theme"}, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, page.Total)
}

func TestStore_TripleIsUnique(t *testing.T) {
	_, repo := newSeededStore(t)

	_, err := repo.Create(context.Background(), "", models.Document{
		"resource": system, "resourceId": "", "key": KeyAccessTokenSecret, "value": "other",
	})
	assert.ErrorIs(t, err, common.ErrAlreadyExists)

	_, err = repo.Create(context.Background(), "", models.Document{
		"resource": system, "resourceId": "0000000017", "key": KeyAccessTokenSecret, "value": "other",
	})
	assert.NoError(t, err)
}

func TestStore_InvalidPeriod(t *testing.T) {
	s, _ := newSeededStore(t)
	ctx := context.Background()

	_, err := s.Set(ctx, system, "", KeyAccessTokenPeriod, "soon")
	require.NoError(t, err)

	_, err = s.Minutes(ctx, KeyAccessTokenPeriod)
	assert.Error(t, err)
}

func TestStore_CachePurgedOnCollectionChange(t *testing.T) {
	s, repo := newSeededStore(t)
	ctx := context.Background()

	v, err := s.SystemValue(ctx, KeyAccessTokenSecret)
	require.NoError(t, err)
	assert.Equal(t, "access-secret", v)

	rec, err := repo.FindOne(ctx, models.Document{"key": KeyAccessTokenSecret})
	require.NoError(t, err)
	_, err = repo.Update(ctx, rec.ID, models.Document{"value": "rotated"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		v, err := s.SystemValue(ctx, KeyAccessTokenSecret)
		return err == nil && v == "rotated"
	}, 2*time.Second, 10*time.Millisecond)
}

// racingBackend runs onFind once, after the first lookup has read its row.
type racingBackend struct {
	*memory.Store
	onFind func()
}

func (b *racingBackend) FindOne(ctx context.Context, name string, f storage.Filter) (*models.Record, error) {
	rec, err := b.Store.FindOne(ctx, name, f)
	if hook := b.onFind; hook != nil {
		b.onFind = nil
		hook()
	}
	return rec, err
}

func TestStore_GetDoesNotCacheValueReadBeforePurge(t *testing.T) {
	ctx := context.Background()
	backend := &racingBackend{Store: memory.New()}
	repo := entity.NewRepository(backend, nil, logging.Nop(), RepositoryConfig(system, defaults))
	require.NoError(t, repo.Seed(ctx))

	s, err := NewStore(repo, nil, 16, system)
	require.NoError(t, err)

	rec, err := repo.FindOne(ctx, models.Document{"key": KeyAccessTokenSecret})
	require.NoError(t, err)

	backend.onFind = func() {
		_, err := repo.Update(ctx, rec.ID, models.Document{"value": "rotated"})
		require.NoError(t, err)
		s.cache.Purge()
	}

	v, err := s.SystemValue(ctx, KeyAccessTokenSecret)
	require.NoError(t, err)
	assert.Equal(t, "access-secret", v)

	v, err = s.SystemValue(ctx, KeyAccessTokenSecret)
	require.NoError(t, err)
	assert.Equal(t, "rotated", v)
}

func TestRepositoryConfig_SeedRejectsEmptyValues(t *testing.T) {
	cfg := RepositoryConfig(system, Defaults{AccessTokenPeriod: time.Minute})
	_, err := cfg.Seed(context.Background())
	assert.Error(t, err)
}
