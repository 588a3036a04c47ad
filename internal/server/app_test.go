package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/orgware/owconnect/internal/logging"
	"github.com/orgware/owconnect/internal/server/config"
	"github.com/orgware/owconnect/internal/server/properties"
	"github.com/orgware/owconnect/internal/server/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func testConfig() *config.Config {
	c := &config.Config{}
	c.LoadDefaults()
	c.StorageBackend = config.BackendMemory
	c.BcryptCost = bcrypt.MinCost
	c.HTTPAddr = "127.0.0.1:0"
	c.GRPCAddr = "127.0.0.1:0"
	return c
}

func graphql(t *testing.T, srv *httptest.Server, token, query string, vars map[string]any) map[string]any {
	t.Helper()
	b, err := json.Marshal(map[string]any{"query": query, "variables": vars})
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/graphql", bytes.NewReader(b))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestNewApp_SeedsAndServes(t *testing.T) {
	ctx := context.Background()
	app, err := NewApp(ctx, testConfig(), logging.Nop())
	require.NoError(t, err)

	app.bus.Start(ctx)
	t.Cleanup(app.bus.Stop)

	srv := httptest.NewServer(app.Handler())
	t.Cleanup(srv.Close)

	out := graphql(t, srv, "", `mutation { login(username: "owadmin", password: "redblod") { accessToken } }`, nil)
	data := out["data"].(map[string]any)
	token := data["login"].(map[string]any)["accessToken"].(string)
	require.NotEmpty(t, token)

	out = graphql(t, srv, token, `{ companies { total rows { code name } } employee(code: "0000000017") { lastName } }`, nil)
	data = out["data"].(map[string]any)
	assert.EqualValues(t, 2, data["companies"].(map[string]any)["total"])
	assert.Equal(t, "Példa", data["employee"].(map[string]any)["lastName"])

	out = graphql(t, srv, token, `{ users { total } }`, nil)
	assert.EqualValues(t, 2, out["data"].(map[string]any)["users"].(map[string]any)["total"])
}

func TestNewApp_SeedIsIdempotent(t *testing.T) {
	ctx := context.Background()
	app, err := NewApp(ctx, testConfig(), logging.Nop())
	require.NoError(t, err)

	require.NoError(t, app.seed(ctx))

	page, err := app.entities["companies"].Repository().List(ctx, nil, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, page.Total)
}

func TestNewApp_StorageError(t *testing.T) {
	orig := openStore
	t.Cleanup(func() { openStore = orig })
	openStore = func(context.Context, *config.Config) (storage.Backend, func() error, error) {
		return nil, nil, errors.New("connection refused")
	}

	_, err := NewApp(context.Background(), testConfig(), logging.Nop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "storage init error")
}

func TestNewApp_SeedFailureAborts(t *testing.T) {
	c := testConfig()
	c.AccessTokenSecret = ""

	_, err := NewApp(context.Background(), c, logging.Nop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), properties.KeyAccessTokenSecret)
}

func TestRun_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	app, err := NewApp(ctx, testConfig(), logging.Nop())
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		app.Run(ctx)
		close(done)
	}()
	cancel()
	<-done
}
