package gateway

import (
	"bufio"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/orgware/owconnect/internal/common"
	"github.com/orgware/owconnect/internal/logging"
)

const maxBodyBytes = 1 << 20

// Handler serves POST /graphql.
type Handler struct {
	schema *Schema
	gate   *Gate
	logger logging.Logger
}

func NewHandler(schema *Schema, gate *Gate, l logging.Logger) *Handler {
	return &Handler{schema: schema, gate: gate, logger: l.With("module", "gateway")}
}

type gqlError struct {
	Message    string         `json:"message"`
	Path       []string       `json:"path,omitempty"`
	Extensions map[string]any `json:"extensions"`
}

func (h *Handler) ServeGraphQL(w http.ResponseWriter, r *http.Request) {
	var req Request
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		h.writeError(w, r, "", badRequest("decode body: %v", err))
		return
	}

	op, err := req.Parse()
	if err != nil {
		h.writeError(w, r, "", err)
		return
	}

	x := &exchange{req: r}
	ctx := withExchange(r.Context(), x)

	if !h.gate.ExemptOperation(op) {
		ctx, err = h.gate.Authenticate(ctx, r.Header.Get(common.AuthorizationHeaderName))
		if err != nil {
			h.writeError(w, r, op.RootField(), err)
			return
		}
	}

	data := make(map[string]any, len(op.Fields))
	for _, f := range op.Fields {
		fn, ok := h.schema.lookup(op.Type, f.Name)
		if !ok {
			h.writeError(w, r, f.Alias, badRequest("unknown %s field %q", op.Type, f.Name))
			return
		}

		v, err := fn(ctx, Args(f.Args))
		if err != nil {
			h.writeError(w, r, f.Alias, err)
			return
		}

		plain, err := normalize(v)
		if err != nil {
			h.writeError(w, r, f.Alias, err)
			return
		}
		data[f.Alias] = project(plain, f.Selection)
	}

	for _, c := range x.cookies {
		http.SetCookie(w, c)
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": data})
}

// normalize turns a resolver result into plain JSON values.
func normalize(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// writeError renders err with the status it maps to. Validation errors are
// rendered as a field to message map.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, path string, err error) {
	status := common.StatusOf(err)

	var verr *common.ValidationError
	if errors.As(err, &verr) {
		writeJSON(w, status, map[string]any{"errors": verr.Fields})
		return
	}

	msg := err.Error()
	if status >= http.StatusInternalServerError {
		h.logger.Error(r.Context(), "request failed", "field", path, "error", err)
		if errors.Is(err, common.ErrCodeOverflow) {
			msg = common.ErrCodeOverflow.Msg
		} else {
			msg = "internal error"
		}
	}

	e := gqlError{
		Message:    msg,
		Extensions: map[string]any{"code": common.CodeOf(err), "status": status},
	}
	if path != "" {
		e.Path = []string{path}
	}
	writeJSON(w, status, map[string]any{"errors": []gqlError{e}})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := s.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer cannot be hijacked")
	}
	s.status = http.StatusSwitchingProtocols
	return hj.Hijack()
}

func (s *statusRecorder) Unwrap() http.ResponseWriter { return s.ResponseWriter }

// logRequests logs one line per request.
func (h *Handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		h.logger.Info(r.Context(), "http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start),
		)
	})
}

// NewRouter wires the GraphQL endpoint, the publication stream and the health check.
func NewRouter(h *Handler, hub *Hub) *mux.Router {
	r := mux.NewRouter()
	r.Use(h.logRequests)

	r.HandleFunc("/graphql", h.ServeGraphQL).Methods(http.MethodPost)
	if hub != nil {
		r.HandleFunc("/graphql/ws", hub.ServeWS).Methods(http.MethodGet)
	}
	r.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)
	return r
}
