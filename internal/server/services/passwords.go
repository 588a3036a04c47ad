package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/orgware/owconnect/internal/common"
	"github.com/orgware/owconnect/internal/logging"
	"github.com/orgware/owconnect/internal/server/entity"
	"github.com/orgware/owconnect/internal/server/models"
	"golang.org/x/crypto/bcrypt"
)

const PasswordsCollection = "passwords"

// SeedPassword is an initial credential stored when the collection is empty.
type SeedPassword struct {
	Username string
	Password string
	IsTemp   bool
}

// PasswordsRepositoryConfig returns the entity configuration of the
// passwords collection. Seed passwords are hashed with cost.
func PasswordsRepositoryConfig(systemAccount string, seeds []SeedPassword, cost int) entity.Config {
	return entity.Config{
		Collection:    PasswordsCollection,
		Revisions:     true,
		SystemAccount: systemAccount,
		NaturalKey:    field("username"),
		Seed: func(ctx context.Context) ([]entity.SeedRecord, error) {
			rows := make([]entity.SeedRecord, 0, len(seeds))
			for _, s := range seeds {
				hash, err := hashPassword(s.Password, cost)
				if err != nil {
					return nil, fmt.Errorf("seed password %s: %w", s.Username, err)
				}
				rows = append(rows, entity.SeedRecord{Data: models.Document{
					"username":  s.Username,
					"password":  hash,
					"isTemp":    s.IsTemp,
					"validFrom": seedDate,
				}})
			}
			return rows, nil
		},
	}
}

func hashPassword(password string, cost int) (string, error) {
	if password == "" {
		return "", errors.New("empty password")
	}
	b := []byte(password)
	defer common.WipeByteArray(b)

	hash, err := bcrypt.GenerateFromPassword(b, cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// Passwords keeps bcrypt hashes per username. Hashes never leave this type.
type Passwords struct {
	repo   *entity.Repository
	cost   int
	logger logging.Logger
}

func NewPasswords(repo *entity.Repository, cost int, l logging.Logger) *Passwords {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	return &Passwords{repo: repo, cost: cost, logger: l.With("module", "passwords")}
}

func (p *Passwords) Repository() *entity.Repository { return p.repo }

// IsValid reports whether password matches the stored hash of username.
// Unknown users are simply not valid.
func (p *Passwords) IsValid(ctx context.Context, username, password string) (bool, error) {
	rec, err := p.repo.FindOne(ctx, models.Document{"username": username})
	if errors.Is(err, common.ErrorNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return p.matches(rec, password), nil
}

func (p *Passwords) matches(rec *models.Record, password string) bool {
	b := []byte(password)
	defer common.WipeByteArray(b)
	return bcrypt.CompareHashAndPassword([]byte(rec.Data.String("password")), b) == nil
}

// Change replaces the password of the authenticated principal.
func (p *Passwords) Change(ctx context.Context, oldPassword, newPassword string) error {
	principal, ok := models.PrincipalFrom(ctx)
	if !ok {
		return common.ErrNoAccessToken
	}

	rec, err := p.repo.FindOne(ctx, models.Document{"username": principal.Username})
	if err != nil {
		return err
	}
	if !p.matches(rec, oldPassword) {
		return common.ErrInvalidCredentials
	}

	hash, err := hashPassword(newPassword, p.cost)
	if err != nil {
		return &common.ValidationError{Fields: map[string]string{"newPassword": err.Error()}}
	}
	if _, err := p.repo.Update(ctx, rec.ID, models.Document{"password": hash, "isTemp": false}); err != nil {
		return err
	}
	p.logger.Info(ctx, "password changed", "username", principal.Username)
	return nil
}

// SetPassword stores password for username, creating the credential if needed.
func (p *Passwords) SetPassword(ctx context.Context, username, password string, temporary bool) error {
	hash, err := hashPassword(password, p.cost)
	if err != nil {
		return &common.ValidationError{Fields: map[string]string{"password": err.Error()}}
	}

	rec, err := p.repo.FindOne(ctx, models.Document{"username": username})
	switch {
	case errors.Is(err, common.ErrorNotFound):
		_, err = p.repo.Create(ctx, "", models.Document{
			"username": username, "password": hash, "isTemp": temporary,
		})
	case err == nil:
		_, err = p.repo.Update(ctx, rec.ID, models.Document{"password": hash, "isTemp": temporary})
	}
	return err
}

// CreateTemporary sets a random temporary password for an existing user and returns it.
func (p *Passwords) CreateTemporary(ctx context.Context, username string) (string, error) {
	if _, err := p.repo.FindOne(ctx, models.Document{"username": username}); err != nil {
		return "", err
	}
	temp, err := common.MakeRandHexString(4)
	if err != nil {
		return "", err
	}
	if err := p.SetPassword(ctx, username, temp, true); err != nil {
		return "", err
	}
	return temp, nil
}
