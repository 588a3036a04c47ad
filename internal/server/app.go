// Package server assembles the owconnect server: storage backend, event
// bus, entity services, sessions and the HTTP and gRPC transports.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/orgware/owconnect/internal/logging"
	"github.com/orgware/owconnect/internal/server/config"
	"github.com/orgware/owconnect/internal/server/entity"
	"github.com/orgware/owconnect/internal/server/events"
	"github.com/orgware/owconnect/internal/server/gateway"
	"github.com/orgware/owconnect/internal/server/properties"
	"github.com/orgware/owconnect/internal/server/services"
	"github.com/orgware/owconnect/internal/server/sessions"
	"github.com/orgware/owconnect/internal/server/storage"
	"github.com/orgware/owconnect/internal/server/storage/memory"
	"github.com/orgware/owconnect/internal/server/storage/postgres"

	gs "github.com/orgware/owconnect/internal/server/grpc"
)

type App struct {
	config *config.Config
	logger logging.Logger

	store      storage.Backend
	closeStore func() error
	bus        *events.Bus

	entities  map[string]*services.EntityService
	users     *services.Users
	passwords *services.Passwords
	props     *properties.Store
	sessions  *sessions.Manager
	auth      *services.Authenticator
	files     *services.Files

	gate *gateway.Gate
	hub  *gateway.Hub
	http http.Handler
}

// openStore is a seam for tests.
var openStore = func(ctx context.Context, c *config.Config) (storage.Backend, func() error, error) {
	switch c.StorageBackend {
	case config.BackendPostgres:
		s, err := postgres.Open(ctx, c.DatabaseDSN)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	default:
		return memory.New(), func() error { return nil }, nil
	}
}

// NewApp builds every component and seeds empty collections. A seed
// failure aborts startup.
func NewApp(ctx context.Context, c *config.Config, l logging.Logger) (*App, error) {
	store, closeStore, err := openStore(ctx, c)
	if err != nil {
		return nil, fmt.Errorf("storage init error: %w", err)
	}

	app := &App{
		config:     c,
		logger:     l,
		store:      store,
		closeStore: closeStore,
		bus:        events.NewBus(l, c.EventQueueSize),
		entities:   map[string]*services.EntityService{},
	}

	if err := app.build(ctx); err != nil {
		_ = closeStore()
		return nil, err
	}
	return app, nil
}

func (app *App) repository(cfg entity.Config) *entity.Repository {
	return entity.NewRepository(app.store, app.bus, app.logger, cfg)
}

func (app *App) build(ctx context.Context) error {
	c := app.config
	system := c.SystemAccountCode

	propsRepo := app.repository(properties.RepositoryConfig(system, properties.Defaults{
		AccessTokenPeriod:  c.AccessTokenPeriod,
		RefreshTokenPeriod: c.RefreshTokenPeriod,
		AccessTokenSecret:  c.AccessTokenSecret,
		RefreshTokenSecret: c.RefreshTokenSecret,
	}))

	for _, def := range services.Catalog() {
		repo := propsRepo
		if def.Collection != properties.Collection {
			repo = app.repository(def.RepositoryConfig(system))
		}
		app.entities[def.Collection] = services.NewEntityService(def, repo, app.bus, app.logger)
	}

	usersDef := services.UsersDefinition()
	usersSvc := services.NewEntityService(usersDef, app.repository(usersDef.RepositoryConfig(system)), app.bus, app.logger)
	app.entities[usersDef.Collection] = usersSvc

	var err error
	if app.users, err = services.NewUsers(usersSvc, app.bus, c.CacheSize); err != nil {
		return err
	}
	if app.props, err = properties.NewStore(propsRepo, app.bus, c.CacheSize, system); err != nil {
		return err
	}

	app.passwords = services.NewPasswords(app.repository(services.PasswordsRepositoryConfig(system, []services.SeedPassword{
		{Username: "owadmin", Password: c.AdminPassword, IsTemp: true},
		{Username: "tmaria", Password: "alma"},
	}, c.BcryptCost)), c.BcryptCost, app.logger)

	app.sessions = sessions.NewManager(app.repository(sessions.RepositoryConfig(system)), app.props, app.users, app.logger)
	app.auth = services.NewAuthenticator(app.users, app.passwords, app.sessions, app.logger)

	app.files = services.NewFiles(services.ObjectStoreConfig{
		Region:    c.S3Region,
		AccessKey: c.S3AccessKey,
		SecretKey: c.S3SecretKey,
		Endpoint:  c.S3BaseEndpoint,
		Bucket:    c.S3Bucket,
	}, app.entities["companies"])

	if err := app.seed(ctx); err != nil {
		return err
	}

	schema := gateway.NewSchema()
	for _, svc := range app.entities {
		gateway.RegisterEntity(schema, svc)
	}
	gateway.RegisterContracts(schema, app.entities["contracts"], app.entities["roles"])
	gateway.RegisterAuth(schema, app.auth)
	gateway.RegisterFiles(schema, app.files)

	app.gate = gateway.NewGate(app.sessions, app.logger)
	app.hub = gateway.NewHub(app.bus, app.gate, app.logger)
	app.http = gateway.NewRouter(gateway.NewHandler(schema, app.gate, app.logger), app.hub)
	return nil
}

func (app *App) seed(ctx context.Context) error {
	for _, svc := range app.entities {
		if err := svc.Seed(ctx); err != nil {
			return err
		}
	}
	if err := app.passwords.Repository().Seed(ctx); err != nil {
		return fmt.Errorf("seed passwords: %w", err)
	}
	return nil
}

// Handler returns the HTTP router.
func (app *App) Handler() http.Handler { return app.http }

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) startHTTPServer(ctx context.Context, cancelFunc context.CancelFunc) {
	srv := &http.Server{Addr: app.config.HTTPAddr, Handler: app.http}

	go func() {
		<-ctx.Done()
		app.logger.Info(ctx, "Stopping HTTP server...")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), app.config.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			app.logger.Error(ctx, "HTTP shutdown", "error", err)
		}
	}()

	app.logger.Info(ctx, "Starting HTTP server", "address", app.config.HTTPAddr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

func (app *App) startGRPCServer(ctx context.Context, cancelFunc context.CancelFunc) {
	s := gs.NewGRPCServer(app.config.GRPCAddr, app.logger, app.auth, app.sessions, app.gate)
	if err := s.Run(ctx); err != nil {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

// Run serves HTTP and gRPC until ctx is cancelled or a signal arrives.
func (app *App) Run(ctx context.Context) {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...", "backend", app.config.StorageBackend)

	app.initSignalHandler(cancelFunc)
	app.bus.Start(ctx)

	var wg sync.WaitGroup

	wg.Add(2)
	go func() {
		defer wg.Done()
		app.startHTTPServer(ctx, cancelFunc)
	}()
	go func() {
		defer wg.Done()
		app.startGRPCServer(ctx, cancelFunc)
	}()

	wg.Wait()

	app.hub.Close()
	app.bus.Stop()
	if err := app.closeStore(); err != nil {
		app.logger.Error(ctx, "close storage", "error", err)
	}
	app.logger.Info(ctx, "App stopped")
}
