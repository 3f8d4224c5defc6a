package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/bryanwahyu/medimage-analyzer/internal/middleware"
)

// WSConfig tunes the websocket transport.
type WSConfig struct {
	WriteTimeout    time.Duration
	PongTimeout     time.Duration
	MaxMessageBytes int64
}

func (c WSConfig) withDefaults() WSConfig {
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.PongTimeout <= 0 {
		c.PongTimeout = 60 * time.Second
	}
	if c.MaxMessageBytes <= 0 {
		c.MaxMessageBytes = 64 << 10
	}
	return c
}

type upgrader struct{ websocket.Upgrader }

// newUpgrader accepts requests without an Origin header (non-browser
// clients) and browser origins on the allow-list. "*" allows any.
func newUpgrader(origins []string) upgrader {
	return upgrader{websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || slices.Contains(origins, "*") || slices.Contains(origins, origin)
		},
	}}
}

// wsConn adapts a gorilla connection to realtime.Conn. gorilla allows one
// concurrent writer, so Send serializes on mu.
type wsConn struct {
	ws           *websocket.Conn
	writeTimeout time.Duration

	mu        sync.Mutex
	closeOnce sync.Once
	closed    chan struct{}
}

func newWSConn(ws *websocket.Conn, writeTimeout time.Duration) *wsConn {
	return &wsConn{ws: ws, writeTimeout: writeTimeout, closed: make(chan struct{})}
}

func (c *wsConn) Send(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.TextMessage, payload)
}

func (c *wsConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		// WriteControl is safe alongside Send
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		err = c.ws.Close()
	})
	return err
}

// keepAlive pings until the connection closes or a ping fails.
func (c *wsConn) keepAlive(period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-c.closed:
			return
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeTimeout)); err != nil {
				return
			}
		}
	}
}

// readLoop hands every text frame to fn until the peer goes away.
func (r *Router) readLoop(ws *websocket.Conn, fn func([]byte)) error {
	cfg := r.opts.WebSocket
	ws.SetReadLimit(cfg.MaxMessageBytes)
	_ = ws.SetReadDeadline(time.Now().Add(cfg.PongTimeout))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(cfg.PongTimeout))
	})
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return err
		}
		// any inbound frame proves liveness
		_ = ws.SetReadDeadline(time.Now().Add(cfg.PongTimeout))
		fn(data)
	}
}

func (r *Router) logReadEnd(clientID string, err error) {
	if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) &&
		!errors.Is(err, websocket.ErrCloseSent) {
		r.log.Warn("websocket read ended", "client_id", clientID, "error", err)
		return
	}
	r.log.Debug("websocket closed", "client_id", clientID)
}

// GET /ws/analysis/{client_id}?analysis_id=
func (r *Router) handleAnalysisSocket(w http.ResponseWriter, req *http.Request) {
	clientID := chi.URLParam(req, "client_id")
	if err := middleware.ValidateClientID(clientID); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": err.Error()})
		return
	}
	ws, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		// Upgrade already answered the request
		r.log.Debug("websocket upgrade failed", "client_id", clientID, "error", err)
		return
	}
	cfg := r.opts.WebSocket
	conn := newWSConn(ws, cfg.WriteTimeout)
	go conn.keepAlive(cfg.PongTimeout * 9 / 10)

	r.hub.Connect(clientID, conn, req.URL.Query().Get("analysis_id"))
	defer func() {
		r.hub.Disconnect(clientID, conn)
		_ = conn.Close()
	}()

	err = r.readLoop(ws, func(data []byte) { r.hub.Handle(clientID, conn, data) })
	r.logReadEnd(clientID, err)
}

// GET /ws/broadcast?token=
// The admin channel is not registered as a client; it only sends.
func (r *Router) handleBroadcastSocket(w http.ResponseWriter, req *http.Request) {
	token := req.URL.Query().Get("token")
	if token == "" {
		if h := req.Header.Get("Authorization"); len(h) > len("Bearer ") {
			token = h[len("Bearer "):]
		}
	}
	if !middleware.TokenValid(r.opts.Credentials.Token, token) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Could not validate credentials"})
		return
	}
	ws, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.log.Debug("admin websocket upgrade failed", "error", err)
		return
	}
	cfg := r.opts.WebSocket
	conn := newWSConn(ws, cfg.WriteTimeout)
	go conn.keepAlive(cfg.PongTimeout * 9 / 10)
	defer conn.Close()

	r.log.Info("admin broadcast channel opened", "ip", req.RemoteAddr)
	err = r.readLoop(ws, func(data []byte) {
		res := r.hub.HandleAdmin(data)
		payload, merr := json.Marshal(res)
		if merr != nil {
			return
		}
		if serr := conn.Send(payload); serr != nil {
			r.log.Debug("admin reply not delivered", "error", serr)
		}
	})
	r.logReadEnd("admin", err)
}
