package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/orgware/owconnect/internal/logging"
	"github.com/orgware/owconnect/internal/server/entity"
	"github.com/orgware/owconnect/internal/server/events"
	"github.com/orgware/owconnect/internal/server/properties"
	"github.com/orgware/owconnect/internal/server/services"
	"github.com/orgware/owconnect/internal/server/sessions"
	"github.com/orgware/owconnect/internal/server/storage/memory"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const systemAccount = "0000000000"

type testEnv struct {
	srv *httptest.Server
	hub *Hub
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()
	l := logging.Nop()

	bus := events.NewBus(l, 64)
	bus.Start(ctx)
	t.Cleanup(bus.Stop)

	repo := func(cfg entity.Config) *entity.Repository {
		r := entity.NewRepository(memory.New(), bus, l, cfg)
		require.NoError(t, r.Seed(ctx))
		return r
	}

	schema := NewSchema()
	svcs := map[string]*services.EntityService{}
	for _, def := range services.Catalog() {
		if def.Collection == properties.Collection {
			continue
		}
		svc := services.NewEntityService(def, repo(def.RepositoryConfig(systemAccount)), bus, l)
		RegisterEntity(schema, svc)
		svcs[def.Collection] = svc
	}
	RegisterContracts(schema, svcs["contracts"], svcs["roles"])

	usersDef := services.UsersDefinition()
	usersSvc := services.NewEntityService(usersDef, repo(usersDef.RepositoryConfig(systemAccount)), bus, l)
	RegisterEntity(schema, usersSvc)
	users, err := services.NewUsers(usersSvc, bus, 16)
	require.NoError(t, err)

	passwords := services.NewPasswords(repo(services.PasswordsRepositoryConfig(systemAccount, []services.SeedPassword{
		{Username: "owadmin", Password: "redblod", IsTemp: true},
		{Username: "tmaria", Password: "alma"},
	}, bcrypt.MinCost)), bcrypt.MinCost, l)

	props, err := properties.NewStore(repo(properties.RepositoryConfig(systemAccount, properties.Defaults{
		AccessTokenPeriod:  500 * time.Minute,
		RefreshTokenPeriod: 1000 * time.Minute,
		AccessTokenSecret:  "access-secret",
		RefreshTokenSecret: "refresh-secret",
	})), bus, 16, systemAccount)
	require.NoError(t, err)

	manager := sessions.NewManager(repo(sessions.RepositoryConfig(systemAccount)), props, users, l)
	RegisterAuth(schema, services.NewAuthenticator(users, passwords, manager, l))

	gate := NewGate(manager, l)
	hub := NewHub(bus, gate, l)
	t.Cleanup(hub.Close)

	srv := httptest.NewServer(NewRouter(NewHandler(schema, gate, l), hub))
	t.Cleanup(srv.Close)

	return &testEnv{srv: srv, hub: hub}
}

type response struct {
	status  int
	body    map[string]any
	cookies []*http.Cookie
}

func (r *response) data(field string) map[string]any {
	d, _ := r.body["data"].(map[string]any)
	v, _ := d[field].(map[string]any)
	return v
}

// errorCode returns extensions.code of the first error.
func (r *response) errorCode() string {
	list, _ := r.body["errors"].([]any)
	if len(list) == 0 {
		return ""
	}
	e, _ := list[0].(map[string]any)
	ext, _ := e["extensions"].(map[string]any)
	code, _ := ext["code"].(string)
	return code
}

func (e *testEnv) do(t *testing.T, token, query string, vars map[string]any, cookies ...*http.Cookie) *response {
	t.Helper()
	b, err := json.Marshal(Request{Query: query, Variables: vars})
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, e.srv.URL+"/graphql", bytes.NewReader(b))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for _, c := range cookies {
		req.AddCookie(c)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	out := &response{status: resp.StatusCode, cookies: resp.Cookies()}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out.body))
	return out
}

func (e *testEnv) login(t *testing.T, username, password string) (string, *http.Cookie) {
	t.Helper()
	res := e.do(t, "", `mutation($u: String!, $p: String!) { login(username: $u, password: $p) { accessToken sessionPeriod } }`,
		map[string]any{"u": username, "p": password})
	require.Equal(t, http.StatusOK, res.status, res.body)

	token, _ := res.data("login")["accessToken"].(string)
	require.NotEmpty(t, token)
	require.Len(t, res.cookies, 1)
	return token, res.cookies[0]
}
