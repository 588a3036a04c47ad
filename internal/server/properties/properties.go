// Package properties is the key/value configuration store. Token periods
// and signing secrets live here so they can change at runtime.
package properties

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/orgware/owconnect/internal/common"
	"github.com/orgware/owconnect/internal/server/cache"
	"github.com/orgware/owconnect/internal/server/entity"
	"github.com/orgware/owconnect/internal/server/models"
)

const Collection = "properties"

// Well-known keys of the system account.
const (
	KeyAccessTokenPeriod  = "defaultAccessTokenPeriod"
	KeyRefreshTokenPeriod = "defaultRefreshTokenPeriod"
	KeyAccessTokenSecret  = "accessTokenSecret"
	KeyRefreshTokenSecret = "refreshTokenSecret"
)

// Property is the input shape of a property row.
type Property struct {
	Resource   string `json:"resource" validate:"required"`
	ResourceID string `json:"resourceId"`
	Key        string `json:"key" validate:"required"`
	Value      string `json:"value"`
}

// NaturalKey makes (resource, resourceId, key) unique.
func NaturalKey(d models.Document) string {
	return cache.Key(d.String("resource"), d.String("resourceId"), d.String("key"))
}

// Defaults are the values seeded for the system account.
type Defaults struct {
	AccessTokenPeriod  time.Duration
	RefreshTokenPeriod time.Duration
	AccessTokenSecret  string
	RefreshTokenSecret string
}

// RepositoryConfig returns the entity configuration of the properties collection.
func RepositoryConfig(systemAccount string, d Defaults) entity.Config {
	return entity.Config{
		Collection:    Collection,
		Revisions:     true,
		SystemAccount: systemAccount,
		NaturalKey:    NaturalKey,
		Seed: func(ctx context.Context) ([]entity.SeedRecord, error) {
			values := []struct{ key, value string }{
				{KeyRefreshTokenPeriod, minutes(d.RefreshTokenPeriod)},
				{KeyAccessTokenPeriod, minutes(d.AccessTokenPeriod)},
				{KeyAccessTokenSecret, d.AccessTokenSecret},
				{KeyRefreshTokenSecret, d.RefreshTokenSecret},
			}
			rows := make([]entity.SeedRecord, 0, len(values))
			for _, v := range values {
				if v.value == "" {
					return nil, fmt.Errorf("seed property %s: empty value", v.key)
				}
				rows = append(rows, entity.SeedRecord{Data: models.Document{
					"resource":   systemAccount,
					"resourceId": "",
					"key":        v.key,
					"value":      v.value,
				}})
			}
			return rows, nil
		},
	}
}

func minutes(d time.Duration) string {
	if d <= 0 {
		return ""
	}
	return strconv.Itoa(int(d / time.Minute))
}

// Store reads and writes properties through the entity repository and
// keeps an LRU of resolved values, purged when the collection changes.
type Store struct {
	repo          *entity.Repository
	cache         *cache.Cache[string]
	systemAccount string
}

// NewStore creates the store. When bus is not nil the cache is purged on
// every cache.clean.properties event.
func NewStore(repo *entity.Repository, bus cache.Subscriber, cacheSize int, systemAccount string) (*Store, error) {
	c, err := cache.New[string](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("properties cache: %w", err)
	}
	if bus != nil {
		c.InvalidateOn(bus, Collection)
	}
	return &Store{repo: repo, cache: c, systemAccount: systemAccount}, nil
}

func query(resource, resourceID, key string) models.Document {
	return models.Document{"resource": resource, "resourceId": resourceID, "key": key}
}

// Get returns the value of (resource, resourceID, key) or a NotFound error.
func (s *Store) Get(ctx context.Context, resource, resourceID, key string) (string, error) {
	return s.cache.GetOrLoad(cache.Key(resource, resourceID, key), func() (string, error) {
		rec, err := s.repo.FindOne(ctx, query(resource, resourceID, key))
		if err != nil {
			return "", err
		}
		return rec.Data.String("value"), nil
	})
}

// Set creates the property or updates its value.
func (s *Store) Set(ctx context.Context, resource, resourceID, key, value string) (*models.Record, error) {
	defer s.cache.Purge()

	rec, err := s.repo.FindOne(ctx, query(resource, resourceID, key))
	if errors.Is(err, common.ErrorNotFound) {
		d := query(resource, resourceID, key)
		d["value"] = value
		return s.repo.Create(ctx, "", d)
	}
	if err != nil {
		return nil, err
	}
	return s.repo.Update(ctx, rec.ID, models.Document{"value": value})
}

// SystemValue returns a global property of the system account.
func (s *Store) SystemValue(ctx context.Context, key string) (string, error) {
	return s.Get(ctx, s.systemAccount, "", key)
}

// Minutes reads a global property holding a whole number of minutes.
func (s *Store) Minutes(ctx context.Context, key string) (time.Duration, error) {
	v, err := s.SystemValue(ctx, key)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("property %s: invalid period %q", key, v)
	}
	return time.Duration(n) * time.Minute, nil
}
