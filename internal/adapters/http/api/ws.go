package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	service "github.com/Yria/cocktime-scheduler-sub000/internal/app"
	"github.com/Yria/cocktime-scheduler-sub000/pkg/logger"
	"github.com/Yria/cocktime-scheduler-sub000/pkg/metrics"
)

const (
	defaultSendBuffer   = 64
	defaultPingInterval = 30 * time.Second
	defaultWriteTimeout = 10 * time.Second
	maxInboundBytes     = 1 << 10
)

// StateReader gives a new websocket client its first frame.
type StateReader interface {
	State(ctx context.Context) (*service.State, error)
}

// Hub fans station updates out to websocket clients. It implements
// service.Notifier. Each client first receives a snapshot of the current
// state, then every update in order. A client that cannot keep up is
// disconnected and is expected to reconnect for a fresh snapshot.
type Hub struct {
	mu      sync.Mutex
	clients map[*wsClient]struct{}
	closed  bool

	upgrader     websocket.Upgrader
	sendBuffer   int
	pingInterval time.Duration
	writeTimeout time.Duration
	logger       logger.Logger
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func (c *wsClient) stop() {
	c.once.Do(func() { close(c.send) })
}

// NewHub creates an empty hub.
func NewHub(opts ...HubOption) *Hub {
	h := &Hub{
		clients:      make(map[*wsClient]struct{}),
		sendBuffer:   defaultSendBuffer,
		pingInterval: defaultPingInterval,
		writeTimeout: defaultWriteTimeout,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.logger == nil {
		h.logger = logger.Get().Named("ws")
	}
	return h
}

// Notify implements service.Notifier.
func (h *Hub) Notify(ctx context.Context, u *service.Update) {
	msg, err := json.Marshal(u)
	if err != nil {
		h.logger.Error(ctx, "encode update", logger.Error(err))
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			h.dropLocked(c)
			h.logger.Warn(ctx, "websocket client too slow, disconnected")
		}
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		h.dropLocked(c)
	}
}

// Handler returns the GET /ws handler.
func (h *Hub) Handler(state StateReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "api.ws"
		if !allow(w, r, http.MethodGet) {
			return
		}
		ctx := r.Context()
		conn, err := h.upgrader.Upgrade(w, r, nil)
		if err != nil {
			// the upgrader has already answered
			h.logger.Debug(ctx, "websocket upgrade failed", logger.Error(WrapKind(op, ErrUpgradeFailed, err)))
			return
		}
		c := &wsClient{conn: conn, send: make(chan []byte, h.sendBuffer)}
		if err := h.register(ctx, c, state); err != nil {
			h.logger.Warn(ctx, "websocket client refused", logger.Error(Wrap(op, err)))
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "station unavailable"),
				time.Now().Add(h.writeTimeout))
			_ = conn.Close()
			return
		}
		go h.writePump(c)
		h.readPump(ctx, c)
	}
}

// register queues the snapshot frame and adds the client under the same
// lock Notify takes, so no update can slip in between.
func (h *Hub) register(ctx context.Context, c *wsClient, state StateReader) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrUnavailable
	}
	st, err := state.State(ctx)
	if err != nil {
		return err
	}
	msg, err := json.Marshal(&service.Update{Kind: service.UpdateSnapshot, View: st.View, Revision: st.Revision})
	if err != nil {
		return err
	}
	c.send <- msg
	h.clients[c] = struct{}{}
	metrics.UpdateWebsocketClients(len(h.clients))
	return nil
}

func (h *Hub) remove(c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dropLocked(c)
}

func (h *Hub) dropLocked(c *wsClient) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	c.stop()
	metrics.UpdateWebsocketClients(len(h.clients))
}

// readPump discards inbound frames and returns when the peer goes away.
func (h *Hub) readPump(ctx context.Context, c *wsClient) {
	defer h.remove(c)
	c.conn.SetReadLimit(maxInboundBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(2 * h.pingInterval))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(2 * h.pingInterval))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug(ctx, "websocket read ended", logger.Error(err))
			}
			return
		}
	}
}

func (h *Hub) writePump(c *wsClient) {
	ticker := time.NewTicker(h.pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
