package gateway

import (
	"context"
	"strings"

	"github.com/orgware/owconnect/internal/common"
	"github.com/orgware/owconnect/internal/logging"
	"github.com/orgware/owconnect/internal/server/models"
)

// DefaultExempt are the operations reachable without an access token.
var DefaultExempt = []string{"login", "refreshToken", "logout"}

// TokenResolver turns an access token into a principal.
type TokenResolver interface {
	Resolve(ctx context.Context, token string) (*models.Principal, error)
}

// Gate authenticates requests before they reach a resolver. It is shared
// by the HTTP endpoint, the websocket upgrade and the gRPC interceptor.
type Gate struct {
	sessions TokenResolver
	exempt   map[string]struct{}
	logger   logging.Logger
}

// NewGate returns a gate exempting the given operations, DefaultExempt when none are given.
func NewGate(sessions TokenResolver, l logging.Logger, exempt ...string) *Gate {
	if len(exempt) == 0 {
		exempt = DefaultExempt
	}
	g := &Gate{sessions: sessions, exempt: make(map[string]struct{}, len(exempt)), logger: l.With("module", "gate")}
	for _, name := range exempt {
		g.exempt[name] = struct{}{}
	}
	return g
}

// Exempt reports whether name may run unauthenticated.
func (g *Gate) Exempt(name string) bool {
	_, ok := g.exempt[name]
	return ok
}

// ExemptOperation reports whether every top-level field of op is exempt.
// A document mixing login with a protected field is not.
func (g *Gate) ExemptOperation(op *Operation) bool {
	if len(op.Fields) == 0 {
		return false
	}
	for _, f := range op.Fields {
		if !g.Exempt(f.Name) {
			return false
		}
	}
	return true
}

// BearerToken extracts the token of an "Authorization: Bearer <token>" value.
func BearerToken(header string) (string, bool) {
	if len(header) < len(common.BearerPrefix) || !strings.EqualFold(header[:len(common.BearerPrefix)], common.BearerPrefix) {
		return "", false
	}
	token := strings.TrimSpace(header[len(common.BearerPrefix):])
	return token, token != ""
}

// Authenticate resolves the bearer token in header and attaches the
// principal to the returned context.
func (g *Gate) Authenticate(ctx context.Context, header string) (context.Context, error) {
	token, ok := BearerToken(header)
	if !ok {
		return ctx, common.ErrNoAccessToken
	}

	p, err := g.sessions.Resolve(ctx, token)
	if err != nil {
		g.logger.Debug(ctx, "request rejected", "code", common.CodeOf(err))
		return ctx, err
	}
	return models.WithPrincipal(ctx, p), nil
}
