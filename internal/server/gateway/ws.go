package gateway

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/orgware/owconnect/internal/common"
	"github.com/orgware/owconnect/internal/logging"
	"github.com/orgware/owconnect/internal/server/events"
)

const (
	writeTimeout = 10 * time.Second
	pingPeriod   = 30 * time.Second
	sendBuffer   = 32
)

// Subscriber is the part of the event bus the hub needs.
type Subscriber interface {
	Subscribe(topic string, h events.Handler) func()
}

type wsConn struct {
	wc   *websocket.Conn
	send chan events.Publication
}

// Hub streams graphql.publish events to authenticated websocket clients.
// Slow clients lose publications rather than block the bus.
type Hub struct {
	gate     *Gate
	upgrader websocket.Upgrader
	logger   logging.Logger

	mu    sync.Mutex
	conns map[*wsConn]struct{}

	unsubscribe func()
}

func NewHub(bus Subscriber, gate *Gate, l logging.Logger) *Hub {
	h := &Hub{
		gate:   gate,
		logger: l.With("module", "wshub"),
		conns:  map[*wsConn]struct{}{},
	}
	h.unsubscribe = bus.Subscribe(events.GraphQLPublish, h.broadcast)
	return h
}

func (h *Hub) broadcast(ctx context.Context, e events.Event) {
	p, ok := e.Payload.(events.Publication)
	if !ok {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.conns {
		select {
		case c.send <- p:
		default:
			h.logger.Warn(ctx, "publication dropped, client too slow", "tag", p.Tag)
		}
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// Close detaches the hub from the bus and disconnects every client.
func (h *Hub) Close() {
	h.unsubscribe()

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.conns {
		close(c.send)
		delete(h.conns, c)
	}
}

// ServeWS authenticates the upgrade request (Authorization header, or the
// token query parameter for browsers) and streams publications as JSON.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	header := r.Header.Get(common.AuthorizationHeaderName)
	if header == "" {
		if t := r.URL.Query().Get("token"); t != "" {
			header = common.BearerPrefix + t
		}
	}
	if _, err := h.gate.Authenticate(r.Context(), header); err != nil {
		writeJSON(w, common.StatusOf(err), map[string]any{"errors": []gqlError{{
			Message:    err.Error(),
			Extensions: map[string]any{"code": common.CodeOf(err), "status": common.StatusOf(err)},
		}}})
		return
	}

	wc, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn(r.Context(), "websocket upgrade failed", "error", err)
		return
	}

	c := &wsConn{wc: wc, send: make(chan events.Publication, sendBuffer)}
	h.mu.Lock()
	h.conns[c] = struct{}{}
	h.mu.Unlock()

	go h.write(c)
	h.read(c)

	h.mu.Lock()
	if _, ok := h.conns[c]; ok {
		delete(h.conns, c)
		close(c.send)
	}
	h.mu.Unlock()
}

// read drains client frames until the connection closes.
func (h *Hub) read(c *wsConn) {
	for {
		if _, _, err := c.wc.NextReader(); err != nil {
			return
		}
	}
}

func (h *Hub) write(c *wsConn) {
	t := time.NewTicker(pingPeriod)
	defer t.Stop()
	defer c.wc.Close()

	for {
		select {
		case p, ok := <-c.send:
			_ = c.wc.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				_ = c.wc.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.wc.WriteJSON(p); err != nil {
				return
			}
		case <-t.C:
			_ = c.wc.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.wc.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
