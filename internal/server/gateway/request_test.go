package gateway

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vektah/gqlparser/v2/ast"
)

func TestRequest_Parse(t *testing.T) {
	req := &Request{
		Query: `
			query Companies($size: Int = 5, $search: String) {
				list: companies(page: 1, pageSize: $size, search: $search, searchFields: ["name"]) {
					rows { code name }
					...Paging
				}
			}
			fragment Paging on CompanyList { total totalPages }`,
		Variables: map[string]any{"search": "orgware"},
	}

	op, err := req.Parse()
	require.NoError(t, err)

	assert.Equal(t, ast.Query, op.Type)
	assert.Equal(t, "Companies", op.Name)
	require.Len(t, op.Fields, 1)

	f := op.Fields[0]
	assert.Equal(t, "companies", f.Name)
	assert.Equal(t, "list", f.Alias)
	assert.Equal(t, int64(1), f.Args["page"])
	assert.Equal(t, int64(5), f.Args["pageSize"], "declared default applies")
	assert.Equal(t, "orgware", f.Args["search"])
	assert.Equal(t, []any{"name"}, f.Args["searchFields"])

	names := make([]string, 0, len(f.Selection))
	for _, s := range f.Selection {
		names = append(names, s.Name)
	}
	assert.Equal(t, []string{"rows", "total", "totalPages"}, names)
}

func TestRequest_ParseMutationRootField(t *testing.T) {
	op, err := (&Request{Query: `mutation { login(username: "tmaria", password: "alma") { accessToken } }`}).Parse()
	require.NoError(t, err)
	assert.Equal(t, ast.Mutation, op.Type)
	assert.Equal(t, "login", op.RootField())
}

func TestRequest_ParseErrors(t *testing.T) {
	tests := []struct {
		name string
		req  Request
	}{
		{"empty", Request{}},
		{"syntax", Request{Query: "{ companies("}},
		{"ambiguous", Request{Query: "query A { me } query B { me }"}},
		{"unknown operation", Request{Query: "query A { me }", OperationName: "B"}},
		{"subscription", Request{Query: "subscription { published }"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.req.Parse()
			require.Error(t, err)
			assert.True(t, IsBadRequest(err))
		})
	}
}

func TestRequest_ParseSelectsNamedOperation(t *testing.T) {
	op, err := (&Request{Query: "query A { me } mutation B { logout }", OperationName: "B"}).Parse()
	require.NoError(t, err)
	assert.Equal(t, ast.Mutation, op.Type)
	assert.Equal(t, "logout", op.RootField())
}

func TestProject(t *testing.T) {
	v := map[string]any{
		"rows":  []any{map[string]any{"code": "001", "name": "Orgware", "taxNumber": "1"}},
		"total": float64(1),
	}
	sel := []*Selection{
		{Name: "rows", Alias: "rows", Children: []*Selection{{Name: "code", Alias: "id"}}},
		{Name: "total", Alias: "total"},
		{Name: "__typename", Alias: "__typename"},
	}

	got := project(v, sel)
	assert.Equal(t, map[string]any{
		"rows":  []any{map[string]any{"id": "001"}},
		"total": float64(1),
	}, got)

	assert.Equal(t, "x", project("x", sel))
	assert.Equal(t, v, project(v, nil))
}
