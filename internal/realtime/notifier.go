package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bryanwahyu/medimage-analyzer/internal/metrics"
)

// Outbound event types.
const (
	TypeAnalysisUpdate  = "analysis_update"
	TypeNewAnalysis     = "new_analysis_started"
	TypeAnalysisDeleted = "analysis_deleted"
	TypeHeartbeat       = "heartbeat"
	TypeBroadcast       = "broadcast"
)

var (
	// ErrNotConnected is returned by SendTo for ids with no live connection.
	ErrNotConnected = errors.New("client not connected")
	// ErrDelivery wraps a write failure; the connection has been pruned.
	ErrDelivery = errors.New("delivery failed")
)

// Event is the envelope for broadcast and topic notifications.
type Event struct {
	Type       string `json:"type"`
	AnalysisID string `json:"analysis_id,omitempty"`
	Timestamp  string `json:"timestamp,omitempty"`
	Data       any    `json:"data,omitempty"`
}

// Notifier resolves recipients through the Registry and delivers messages.
// Any write failure is treated as a dead connection.
type Notifier struct {
	registry *Registry
	log      *slog.Logger
	now      func() time.Time
}

func NewNotifier(registry *Registry, log *slog.Logger) *Notifier {
	if log == nil {
		log = slog.Default()
	}
	return &Notifier{
		registry: registry,
		log:      log.With("component", "notifier"),
		now:      time.Now,
	}
}

// Registry exposes the underlying registry.
func (n *Notifier) Registry() *Registry { return n.registry }

// Timestamp formats the current server time for outbound messages.
func (n *Notifier) Timestamp() string {
	return n.now().UTC().Format(time.RFC3339Nano)
}

// SendTo serializes msg and writes it to one connection.
func (n *Notifier) SendTo(id string, msg any) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message for %s: %w", id, err)
	}
	return n.sendRaw(id, payload)
}

func (n *Notifier) sendRaw(id string, payload []byte) error {
	conn, ok := n.registry.Conn(id)
	if !ok {
		return ErrNotConnected
	}
	if err := conn.Send(payload); err != nil {
		n.drop(id, conn, err)
		return fmt.Errorf("%w: %s: %v", ErrDelivery, id, err)
	}
	metrics.ObserveDelivery(metrics.OutcomeSuccess)
	return nil
}

func (n *Notifier) drop(id string, conn Conn, cause error) {
	metrics.ObserveDelivery(metrics.OutcomeError)
	n.log.Warn("dropping dead connection", "client_id", id, "error", cause)
	if n.registry.Release(id, conn) {
		_ = conn.Close()
		metrics.SetConnections(n.registry.Len())
	}
}

// Broadcast sends msg to every registered connection and returns how many
// deliveries succeeded. Dead connections are pruned after the full pass.
func (n *Notifier) Broadcast(msg any) int {
	payload, err := json.Marshal(msg)
	if err != nil {
		n.log.Error("encode broadcast", "error", err)
		return 0
	}
	type failure struct {
		id   string
		conn Conn
		err  error
	}
	var failed []failure
	sent := 0
	for id, conn := range n.registry.Snapshot() {
		if err := conn.Send(payload); err != nil {
			failed = append(failed, failure{id, conn, err})
			continue
		}
		metrics.ObserveDelivery(metrics.OutcomeSuccess)
		sent++
	}
	for _, f := range failed {
		n.drop(f.id, f.conn, f.err)
	}
	return sent
}

// Announce broadcasts an event of the given type to every connection.
func (n *Notifier) Announce(eventType, analysisID string, data any) int {
	return n.Broadcast(Event{
		Type:       eventType,
		AnalysisID: analysisID,
		Timestamp:  n.Timestamp(),
		Data:       data,
	})
}

// Publish delivers data to the current subscribers of topic wrapped in an
// analysis_update event. No subscribers means no sends and no error.
// Subscribers without a live connection are removed from the topic.
func (n *Notifier) Publish(topic string, data any) int {
	subs := n.registry.Subscribers(topic)
	if len(subs) == 0 {
		return 0
	}
	payload, err := json.Marshal(Event{
		Type:       TypeAnalysisUpdate,
		AnalysisID: topic,
		Timestamp:  n.Timestamp(),
		Data:       data,
	})
	if err != nil {
		n.log.Error("encode topic update", "topic", topic, "error", err)
		return 0
	}
	sent := 0
	for _, id := range subs {
		err := n.sendRaw(id, payload)
		switch {
		case err == nil:
			sent++
		case errors.Is(err, ErrNotConnected):
			// no live connection behind the subscription; stop tracking it
			n.registry.Unsubscribe(id, topic)
		default:
			n.log.Debug("topic delivery failed", "topic", topic, "client_id", id, "error", err)
		}
	}
	return sent
}
