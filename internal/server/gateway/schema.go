package gateway

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strconv"

	"github.com/orgware/owconnect/internal/server/models"
	"github.com/vektah/gqlparser/v2/ast"
)

// ResolverFunc resolves one top-level field.
type ResolverFunc func(ctx context.Context, args Args) (any, error)

// Schema maps top-level query and mutation fields to resolvers.
type Schema struct {
	query    map[string]ResolverFunc
	mutation map[string]ResolverFunc
}

func NewSchema() *Schema {
	return &Schema{query: map[string]ResolverFunc{}, mutation: map[string]ResolverFunc{}}
}

func (s *Schema) Query(name string, fn ResolverFunc) { s.query[name] = fn }

func (s *Schema) Mutation(name string, fn ResolverFunc) { s.mutation[name] = fn }

func (s *Schema) lookup(op ast.Operation, name string) (ResolverFunc, bool) {
	var fn ResolverFunc
	var ok bool
	if op == ast.Mutation {
		fn, ok = s.mutation[name]
	} else {
		fn, ok = s.query[name]
	}
	return fn, ok
}

// Fields lists the registered fields of op, sorted.
func (s *Schema) Fields(op ast.Operation) []string {
	m := s.query
	if op == ast.Mutation {
		m = s.mutation
	}
	out := make([]string, 0, len(m))
	for name := range m {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Args are the resolved arguments of a field.
type Args map[string]any

func (a Args) String(name string) string {
	switch v := a[name].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

func (a Args) Int(name string) int {
	switch v := a[name].(type) {
	case int64:
		return int(v)
	case int:
		return v
	case float64:
		return int(v)
	case string:
		n, _ := strconv.Atoi(v)
		return n
	}
	return 0
}

func (a Args) Strings(name string) []string {
	list, _ := a[name].([]any)
	out := make([]string, 0, len(list))
	for _, v := range list {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// Document returns the arguments as a document, without the named keys.
func (a Args) Document(without ...string) models.Document {
	d := make(models.Document, len(a))
	for k, v := range a {
		d[k] = v
	}
	for _, k := range without {
		delete(d, k)
	}
	return d
}

// exchange carries the HTTP request and the cookies resolvers want to set.
type exchange struct {
	req     *http.Request
	cookies []*http.Cookie
}

type exchangeKey struct{}

func withExchange(ctx context.Context, x *exchange) context.Context {
	return context.WithValue(ctx, exchangeKey{}, x)
}

func exchangeFrom(ctx context.Context) *exchange {
	x, _ := ctx.Value(exchangeKey{}).(*exchange)
	return x
}

// SetCookie queues c on the response of the current request.
func SetCookie(ctx context.Context, c *http.Cookie) {
	if x := exchangeFrom(ctx); x != nil && c != nil {
		x.cookies = append(x.cookies, c)
	}
}

// RequestCookie returns the value of the named request cookie, "" when absent.
func RequestCookie(ctx context.Context, name string) string {
	x := exchangeFrom(ctx)
	if x == nil || x.req == nil {
		return ""
	}
	c, err := x.req.Cookie(name)
	if err != nil {
		return ""
	}
	return c.Value
}

// RequestHeader returns a header of the current request.
func RequestHeader(ctx context.Context, name string) string {
	if x := exchangeFrom(ctx); x != nil && x.req != nil {
		return x.req.Header.Get(name)
	}
	return ""
}
