package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/orgware/owconnect/internal/logging"
	"github.com/orgware/owconnect/internal/server/entity"
	"github.com/orgware/owconnect/internal/server/events"
	"github.com/orgware/owconnect/internal/server/models"
	"github.com/orgware/owconnect/internal/server/storage/memory"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const systemAccount = "0000000000"

type published struct {
	topic   string
	payload any
}

type recordingBus struct {
	mu     sync.Mutex
	events []published
}

func (b *recordingBus) Publish(ctx context.Context, topic string, payload any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, published{topic: topic, payload: payload})
}

// publications returns the GraphQL publications in order.
func (b *recordingBus) publications() []events.Publication {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []events.Publication
	for _, e := range b.events {
		if p, ok := e.payload.(events.Publication); ok && e.topic == events.GraphQLPublish {
			out = append(out, p)
		}
	}
	return out
}

func fixedClock() time.Time { return time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC) }

func newService(t *testing.T, def Definition, bus *recordingBus) *EntityService {
	t.Helper()
	repo := entity.NewRepository(memory.New(), bus, logging.Nop(), def.RepositoryConfig(systemAccount), entity.WithClock(fixedClock))
	svc := NewEntityService(def, repo, bus, logging.Nop())
	require.NoError(t, svc.Seed(context.Background()))
	return svc
}

func definition(t *testing.T, collection string) Definition {
	t.Helper()
	for _, d := range Catalog() {
		if d.Collection == collection {
			return d
		}
	}
	t.Fatalf("no definition for %s", collection)
	return Definition{}
}

func asUser(ctx context.Context, employee, username string) context.Context {
	return models.WithPrincipal(ctx, &models.Principal{Employee: employee, Username: username})
}

func newPasswords(t *testing.T) *Passwords {
	t.Helper()
	seeds := []SeedPassword{
		{Username: "owadmin", Password: "redblod", IsTemp: true},
		{Username: "tmaria", Password: "alma"},
	}
	cfg := PasswordsRepositoryConfig(systemAccount, seeds, bcrypt.MinCost)
	repo := entity.NewRepository(memory.New(), nil, logging.Nop(), cfg, entity.WithClock(fixedClock))
	require.NoError(t, repo.Seed(context.Background()))
	return NewPasswords(repo, bcrypt.MinCost, logging.Nop())
}
