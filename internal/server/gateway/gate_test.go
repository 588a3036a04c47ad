package gateway

import (
	"context"
	"testing"

	"github.com/orgware/owconnect/internal/common"
	"github.com/orgware/owconnect/internal/logging"
	"github.com/orgware/owconnect/internal/server/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeResolver map[string]*models.Principal

func (f fakeResolver) Resolve(ctx context.Context, token string) (*models.Principal, error) {
	if p, ok := f[token]; ok {
		return p, nil
	}
	if token == "stale" {
		return nil, common.ErrRefreshRequired
	}
	return nil, common.ErrInvalidAccessToken
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		header string
		token  string
		ok     bool
	}{
		{"Bearer abc", "abc", true},
		{"bearer abc", "abc", true},
		{"Bearer   abc  ", "abc", true},
		{"Bearer ", "", false},
		{"Basic abc", "", false},
		{"abc", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		token, ok := BearerToken(tt.header)
		assert.Equal(t, tt.ok, ok, tt.header)
		assert.Equal(t, tt.token, token, tt.header)
	}
}

func TestGate_Exempt(t *testing.T) {
	g := NewGate(fakeResolver{}, logging.Nop())

	for _, name := range []string{"login", "refreshToken", "logout"} {
		assert.True(t, g.Exempt(name), name)
	}
	assert.False(t, g.Exempt("companies"))

	parse := func(q string) *Operation {
		op, err := (&Request{Query: q}).Parse()
		require.NoError(t, err)
		return op
	}
	assert.True(t, g.ExemptOperation(parse(`mutation { login(username: "a", password: "b") { accessToken } }`)))
	assert.False(t, g.ExemptOperation(parse(`mutation { login(username: "a", password: "b") { accessToken } deleteCompany(_id: "x") { code } }`)))
	assert.False(t, g.ExemptOperation(parse(`{ companies { total } }`)))

	custom := NewGate(fakeResolver{}, logging.Nop(), "ping")
	assert.True(t, custom.Exempt("ping"))
	assert.False(t, custom.Exempt("login"))
}

func TestGate_Authenticate(t *testing.T) {
	maria := &models.Principal{Employee: "0000000017", Username: "tmaria"}
	g := NewGate(fakeResolver{"good": maria}, logging.Nop())
	ctx := context.Background()

	_, err := g.Authenticate(ctx, "")
	assert.ErrorIs(t, err, common.ErrNoAccessToken)

	_, err = g.Authenticate(ctx, "Bearer nope")
	assert.ErrorIs(t, err, common.ErrInvalidAccessToken)

	_, err = g.Authenticate(ctx, "Bearer stale")
	assert.Equal(t, "REFRESH_TOKEN", common.CodeOf(err))

	authed, err := g.Authenticate(ctx, "Bearer good")
	require.NoError(t, err)
	p, ok := models.PrincipalFrom(authed)
	require.True(t, ok)
	assert.Same(t, maria, p)
}
