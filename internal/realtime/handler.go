package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/bryanwahyu/medimage-analyzer/internal/metrics"
)

// Handler dispatches inbound control messages for live connections. A bad
// message produces an error reply; it never closes the connection.
type Handler struct {
	registry *Registry
	notifier *Notifier
	log      *slog.Logger
}

func NewHandler(notifier *Notifier, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{
		registry: notifier.Registry(),
		notifier: notifier,
		log:      log.With("component", "protocol"),
	}
}

// Connect registers conn under clientID, closing any connection it replaced,
// and optionally subscribes it to analysisID right away.
func (h *Handler) Connect(clientID string, conn Conn, analysisID string) {
	if prev := h.registry.Register(clientID, conn); prev != nil && prev != conn {
		h.log.Warn("client id reused, closing previous connection", "client_id", clientID)
		_ = prev.Close()
	}
	metrics.SetConnections(h.registry.Len())
	h.log.Info("client connected", "client_id", clientID, "total", h.registry.Len())

	if analysisID != "" {
		h.registry.Subscribe(clientID, analysisID)
		h.reply(clientID, SubscriptionReply{
			Type:       "subscription_confirmed",
			AnalysisID: analysisID,
			ClientID:   clientID,
			Message:    fmt.Sprintf("Subscribed to analysis %s", analysisID),
		})
	}
}

// Disconnect releases clientID if conn is still its registered connection.
func (h *Handler) Disconnect(clientID string, conn Conn) {
	if h.registry.Release(clientID, conn) {
		metrics.SetConnections(h.registry.Len())
		h.log.Info("client disconnected", "client_id", clientID, "total", h.registry.Len())
	}
}

// Handle decodes and dispatches one raw frame read from conn. Frames from a
// connection that is no longer registered under clientID are dropped.
func (h *Handler) Handle(clientID string, conn Conn, raw []byte) {
	if cur, ok := h.registry.Conn(clientID); !ok || cur != conn {
		h.log.Debug("frame from replaced connection ignored", "client_id", clientID)
		return
	}
	defer func() {
		if r := recover(); r != nil {
			h.log.Error("panic while handling message", "client_id", clientID, "panic", r)
			h.reply(clientID, ErrorReply{Type: "error", Message: fmt.Sprintf("Error processing message: %v", r)})
		}
	}()

	cmd, err := Decode(raw)
	if err != nil {
		h.reply(clientID, ErrorReply{Type: "error", Message: "Invalid JSON format"})
		return
	}

	switch c := cmd.(type) {
	case Subscribe:
		if c.AnalysisID == "" {
			h.reply(clientID, ErrorReply{Type: "error", Message: "analysis_id required for subscription"})
			return
		}
		h.registry.Subscribe(clientID, c.AnalysisID)
		h.log.Debug("subscribed", "client_id", clientID, "analysis_id", c.AnalysisID)
		h.reply(clientID, SubscriptionReply{
			Type:       "subscription_confirmed",
			AnalysisID: c.AnalysisID,
			Message:    fmt.Sprintf("Subscribed to analysis %s", c.AnalysisID),
		})
	case Unsubscribe:
		if c.AnalysisID == "" {
			h.reply(clientID, ErrorReply{Type: "error", Message: "analysis_id required for unsubscription"})
			return
		}
		h.registry.Unsubscribe(clientID, c.AnalysisID)
		h.reply(clientID, SubscriptionReply{
			Type:       "unsubscription_confirmed",
			AnalysisID: c.AnalysisID,
			Message:    fmt.Sprintf("Unsubscribed from analysis %s", c.AnalysisID),
		})
	case Ping:
		ts := c.Timestamp
		if len(ts) == 0 {
			ts = json.RawMessage("null")
		}
		h.reply(clientID, PongReply{Type: "pong", Timestamp: ts, ServerTime: h.notifier.Timestamp()})
	case StatusRequest:
		h.reply(clientID, StatusReply{Type: "status_response", Stats: h.registry.Stats(), ClientID: clientID})
	case Unknown:
		h.reply(clientID, ErrorReply{Type: "error", Message: fmt.Sprintf("Unknown message type: %s", c.Type)})
	default:
		h.reply(clientID, ErrorReply{Type: "error", Message: fmt.Sprintf("Unhandled command %T", c)})
	}
}

func (h *Handler) reply(clientID string, msg any) {
	if err := h.notifier.SendTo(clientID, msg); err != nil {
		h.log.Debug("reply not delivered", "client_id", clientID, "error", err)
	}
}

// AdminBroadcastRequest is the inbound shape on the admin channel.
type AdminBroadcastRequest struct {
	Type    string          `json:"type"`
	Content json.RawMessage `json:"content"`
}

// AdminBroadcastResult is returned to the admin after a fan-out.
type AdminBroadcastResult struct {
	Status     string                 `json:"status,omitempty"`
	Recipients int                    `json:"recipients,omitempty"`
	Message    *AdminBroadcastRequest `json:"message,omitempty"`
	Error      string                 `json:"error,omitempty"`
}

// HandleAdmin validates one admin frame and broadcasts it to every client.
func (h *Handler) HandleAdmin(raw []byte) AdminBroadcastResult {
	var req AdminBroadcastRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return AdminBroadcastResult{Error: "Invalid JSON format"}
	}
	if req.Type == "" || len(req.Content) == 0 {
		return AdminBroadcastResult{Error: "Invalid message format. Required: type, content"}
	}
	h.notifier.Broadcast(AdminBroadcast{
		Type:        TypeBroadcast,
		MessageType: req.Type,
		Content:     req.Content,
		Timestamp:   h.notifier.Timestamp(),
	})
	return AdminBroadcastResult{Status: "broadcast_sent", Recipients: h.registry.Len(), Message: &req}
}

// RunHeartbeat broadcasts a heartbeat every interval until ctx is done.
func (h *Handler) RunHeartbeat(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return nil
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if h.registry.Len() == 0 {
				continue
			}
			h.notifier.Broadcast(HeartbeatMessage{
				Type:         TypeHeartbeat,
				Timestamp:    h.notifier.Timestamp(),
				ServerStatus: "healthy",
			})
		}
	}
}
