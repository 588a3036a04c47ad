// Package gateway is the HTTP face of the server: a GraphQL-shaped endpoint
// dispatching top-level fields to resolvers, the authentication gate in
// front of it and a websocket stream of change publications.
package gateway

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/orgware/owconnect/internal/common"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/parser"
)

// Request is the JSON body of a GraphQL call.
type Request struct {
	Query         string         `json:"query"`
	OperationName string         `json:"operationName,omitempty"`
	Variables     map[string]any `json:"variables,omitempty"`
}

// Field is one selected top-level field with its arguments resolved
// against the request variables.
type Field struct {
	Name      string
	Alias     string
	Args      map[string]any
	Selection []*Selection
}

// Selection is a requested sub-field used to project results.
type Selection struct {
	Name     string
	Alias    string
	Children []*Selection
}

// Operation is the parsed, selected operation of a Request.
type Operation struct {
	Type   ast.Operation
	Name   string
	Fields []*Field
}

// RootField is the name of the first top-level field, "" for an empty selection.
func (o *Operation) RootField() string {
	if len(o.Fields) == 0 {
		return ""
	}
	return o.Fields[0].Name
}

var ErrBadRequest = &common.Error{Status: http.StatusBadRequest, Code: "BAD_REQUEST", Msg: "malformed GraphQL request"}

func badRequest(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrBadRequest, fmt.Sprintf(format, args...))
}

// Parse parses the query document and selects the operation to run.
func (r *Request) Parse() (*Operation, error) {
	if r.Query == "" {
		return nil, badRequest("empty query")
	}

	doc, perr := parser.ParseQuery(&ast.Source{Input: r.Query})
	if perr != nil {
		return nil, badRequest("%v", perr)
	}

	def, err := selectOperation(doc.Operations, r.OperationName)
	if err != nil {
		return nil, err
	}

	op := &Operation{Type: def.Operation, Name: def.Name}
	if op.Type == "" {
		op.Type = ast.Query
	}
	if op.Type == ast.Subscription {
		return nil, badRequest("subscriptions are served on the websocket endpoint")
	}

	vars := r.variables(def)
	for _, sel := range flatten(doc, def.SelectionSet) {
		f := &Field{Name: sel.Name, Alias: sel.Alias, Args: map[string]any{}}
		if f.Alias == "" {
			f.Alias = f.Name
		}
		for _, a := range sel.Arguments {
			v, err := a.Value.Value(vars)
			if err != nil {
				return nil, badRequest("argument %s.%s: %v", f.Name, a.Name, err)
			}
			f.Args[a.Name] = v
		}
		f.Selection = selections(doc, sel.SelectionSet)
		op.Fields = append(op.Fields, f)
	}
	return op, nil
}

// variables returns the request variables with declared defaults applied.
func (r *Request) variables(def *ast.OperationDefinition) map[string]any {
	vars := make(map[string]any, len(r.Variables))
	for k, v := range r.Variables {
		vars[k] = v
	}
	for _, d := range def.VariableDefinitions {
		if _, ok := vars[d.Variable]; ok || d.DefaultValue == nil {
			continue
		}
		if v, err := d.DefaultValue.Value(nil); err == nil {
			vars[d.Variable] = v
		}
	}
	return vars
}

func selectOperation(ops ast.OperationList, name string) (*ast.OperationDefinition, error) {
	if len(ops) == 0 {
		return nil, badRequest("no operation")
	}
	if name == "" {
		if len(ops) > 1 {
			return nil, badRequest("operationName is required when the document has several operations")
		}
		return ops[0], nil
	}
	for _, op := range ops {
		if op.Name == name {
			return op, nil
		}
	}
	return nil, badRequest("unknown operation %q", name)
}

// flatten expands fragment spreads and inline fragments into plain fields.
func flatten(doc *ast.QueryDocument, set ast.SelectionSet) []*ast.Field {
	var out []*ast.Field
	for _, s := range set {
		switch sel := s.(type) {
		case *ast.Field:
			out = append(out, sel)
		case *ast.InlineFragment:
			out = append(out, flatten(doc, sel.SelectionSet)...)
		case *ast.FragmentSpread:
			if frag := doc.Fragments.ForName(sel.Name); frag != nil {
				out = append(out, flatten(doc, frag.SelectionSet)...)
			}
		}
	}
	return out
}

func selections(doc *ast.QueryDocument, set ast.SelectionSet) []*Selection {
	fields := flatten(doc, set)
	if len(fields) == 0 {
		return nil
	}
	out := make([]*Selection, 0, len(fields))
	for _, f := range fields {
		alias := f.Alias
		if alias == "" {
			alias = f.Name
		}
		out = append(out, &Selection{Name: f.Name, Alias: alias, Children: selections(doc, f.SelectionSet)})
	}
	return out
}

// project keeps the selected fields of v, renamed to their aliases.
// Maps and slices of maps are projected recursively; a nil selection keeps v.
func project(v any, sel []*Selection) any {
	if len(sel) == 0 {
		return v
	}
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(sel))
		for _, s := range sel {
			if s.Name == "__typename" {
				continue
			}
			out[s.Alias] = project(val[s.Name], s.Children)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = project(item, sel)
		}
		return out
	default:
		return v
	}
}

// IsBadRequest reports whether err comes from parsing the request.
func IsBadRequest(err error) bool { return errors.Is(err, ErrBadRequest) }
