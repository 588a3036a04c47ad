package services

import (
	"context"
	"fmt"

	"github.com/orgware/owconnect/internal/server/cache"
	"github.com/orgware/owconnect/internal/server/entity"
	"github.com/orgware/owconnect/internal/server/models"
)

const UsersCollection = "users"

type User struct {
	Employee  string  `json:"employee" validate:"required,len=10,numeric"`
	Username  string  `json:"username" validate:"required"`
	Email     string  `json:"email" validate:"omitempty,email"`
	Phone     *string `json:"phone"`
	ValidFrom string  `json:"validFrom" validate:"required,isodate"`
	ValidTo   *string `json:"validTo" validate:"omitempty,isodate"`
}

// UsersDefinition describes the users collection. Usernames are unique.
func UsersDefinition() Definition {
	return Definition{
		Collection:   UsersCollection,
		Singular:     "user",
		Type:         "User",
		Tag:          "USER",
		Revisions:    true,
		Input:        func() any { return &User{} },
		NaturalKey:   field("username"),
		SearchFields: []string{"username", "email"},
		Seed: []entity.SeedRecord{
			{Data: models.Document{"employee": "0000000000", "username": "owadmin", "email": "owadmin@orgware.hu", "validFrom": seedDate}},
			{Data: models.Document{"employee": "0000000017", "username": "tmaria", "email": "pelda.maria@pelda.hu", "validFrom": seedDate}},
		},
	}
}

// Users resolves principals for the session layer. Lookups are cached
// until the users collection changes.
type Users struct {
	*EntityService
	cache *cache.Cache[*models.Principal]
}

func NewUsers(svc *EntityService, bus cache.Subscriber, cacheSize int) (*Users, error) {
	c, err := cache.New[*models.Principal](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("users cache: %w", err)
	}
	if bus != nil {
		c.InvalidateOn(bus, UsersCollection)
	}
	return &Users{EntityService: svc, cache: c}, nil
}

// Principal returns the active user bound to employee.
func (u *Users) Principal(ctx context.Context, employee string) (*models.Principal, error) {
	return u.cache.GetOrLoad(cache.Key("employee", employee), func() (*models.Principal, error) {
		rec, err := u.repo.FindOne(ctx, models.Document{"employee": employee})
		if err != nil {
			return nil, err
		}
		return toPrincipal(rec), nil
	})
}

func (u *Users) ByUsername(ctx context.Context, username string) (*models.Principal, error) {
	rec, err := u.repo.FindOne(ctx, models.Document{"username": username})
	if err != nil {
		return nil, err
	}
	return toPrincipal(rec), nil
}

func toPrincipal(rec *models.Record) *models.Principal {
	return &models.Principal{
		ID:        rec.ID,
		Employee:  rec.Data.String("employee"),
		Username:  rec.Data.String("username"),
		Email:     rec.Data.String("email"),
		Phone:     rec.Data.String("phone"),
		ValidFrom: rec.Data.String("validFrom"),
		ValidTo:   rec.Data.String("validTo"),
	}
}
