package realtime

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHandler() (*Registry, *Handler) {
	reg, n := newTestNotifier()
	return reg, NewHandler(n, nil)
}

func TestDecode(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want Command
	}{
		{"subscribe", `{"type":"subscribe","analysis_id":"a1"}`, Subscribe{AnalysisID: "a1"}},
		{"unsubscribe", `{"type":"unsubscribe","analysis_id":"a1"}`, Unsubscribe{AnalysisID: "a1"}},
		{"ping", `{"type":"ping","timestamp":123}`, Ping{Timestamp: json.RawMessage("123")}},
		{"status", `{"type":"status"}`, StatusRequest{}},
		{"unknown", `{"type":"dance"}`, Unknown{Type: "dance"}},
		{"missing type", `{}`, Unknown{}},
		{"null type", `{"type":null}`, Unknown{}},
		{"numeric type", `{"type":5}`, Unknown{Type: "5"}},
		{"array", `[]`, Unknown{}},
		{"numeric analysis id", `{"type":"subscribe","analysis_id":7}`, Subscribe{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode([]byte(tt.raw))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := Decode([]byte("{not json"))
	assert.Error(t, err)
}

func TestHandler_SubscribeFlow(t *testing.T) {
	reg, h := newTestHandler()
	c := &fakeConn{}
	h.Connect("c1", c, "")

	h.Handle("c1", c, []byte(`{"type":"subscribe","analysis_id":"an-1"}`))
	msg := c.last(t)
	assert.Equal(t, "subscription_confirmed", msg["type"])
	assert.Equal(t, "an-1", msg["analysis_id"])
	assert.Equal(t, []string{"c1"}, reg.Subscribers("an-1"))

	h.Handle("c1", c, []byte(`{"type":"unsubscribe","analysis_id":"an-1"}`))
	assert.Equal(t, "unsubscription_confirmed", c.last(t)["type"])
	assert.False(t, reg.HasTopic("an-1"))

	// unsubscribing again is tolerated
	h.Handle("c1", c, []byte(`{"type":"unsubscribe","analysis_id":"an-1"}`))
	assert.Equal(t, "unsubscription_confirmed", c.last(t)["type"])
}

func TestHandler_SubscribeRequiresAnalysisID(t *testing.T) {
	reg, h := newTestHandler()
	c := &fakeConn{}
	h.Connect("c1", c, "")

	h.Handle("c1", c, []byte(`{"type":"subscribe"}`))
	msg := c.last(t)
	assert.Equal(t, "error", msg["type"])
	assert.Contains(t, msg["message"], "analysis_id required")
	assert.Equal(t, 0, reg.Stats().ActiveSubscriptions)
}

func TestHandler_Ping(t *testing.T) {
	_, h := newTestHandler()
	c := &fakeConn{}
	h.Connect("c1", c, "")

	h.Handle("c1", c, []byte(`{"type":"ping","timestamp":"2025-01-01T00:00:00Z"}`))
	msg := c.last(t)
	assert.Equal(t, "pong", msg["type"])
	assert.Equal(t, "2025-01-01T00:00:00Z", msg["timestamp"])
	assert.Equal(t, "2025-01-01T12:00:00Z", msg["server_time"])

	h.Handle("c1", c, []byte(`{"type":"ping"}`))
	msg = c.last(t)
	assert.Nil(t, msg["timestamp"])
}

func TestHandler_Status(t *testing.T) {
	_, h := newTestHandler()
	c := &fakeConn{}
	h.Connect("c1", c, "an-9")

	h.Handle("c1", c, []byte(`{"type":"status"}`))
	msg := c.last(t)
	assert.Equal(t, "status_response", msg["type"])
	assert.Equal(t, "c1", msg["client_id"])
	stats := msg["connection_stats"].(map[string]any)
	assert.Equal(t, 1.0, stats["total_connections"])
	assert.Equal(t, 1.0, stats["active_subscriptions"])
}

func TestHandler_BadInputKeepsConnection(t *testing.T) {
	reg, h := newTestHandler()
	c := &fakeConn{}
	h.Connect("c1", c, "")

	h.Handle("c1", c, []byte(`this is not json`))
	assert.Equal(t, "Invalid JSON format", c.last(t)["message"])

	h.Handle("c1", c, []byte(`{"type":"teleport"}`))
	assert.Equal(t, "Unknown message type: teleport", c.last(t)["message"])

	h.Handle("c1", c, []byte(`{"type":5}`))
	assert.Equal(t, "Unknown message type: 5", c.last(t)["message"])

	_, ok := reg.Conn("c1")
	assert.True(t, ok)
	assert.False(t, c.isClosed())
}

func TestHandler_ConnectAutoSubscribes(t *testing.T) {
	reg, h := newTestHandler()
	c := &fakeConn{}
	h.Connect("c1", c, "an-1")

	msg := c.last(t)
	assert.Equal(t, "subscription_confirmed", msg["type"])
	assert.Equal(t, "c1", msg["client_id"])
	assert.Equal(t, []string{"c1"}, reg.Subscribers("an-1"))
}

func TestHandler_ConnectReplacesPrevious(t *testing.T) {
	reg, h := newTestHandler()
	old := &fakeConn{}
	cur := &fakeConn{}
	h.Connect("c1", old, "an-1")
	h.Connect("c1", cur, "")

	assert.True(t, old.isClosed())
	h.Disconnect("c1", old)
	got, ok := reg.Conn("c1")
	require.True(t, ok)
	assert.Same(t, cur, got)
	assert.Equal(t, []string{"c1"}, reg.Subscribers("an-1"))

	h.Disconnect("c1", cur)
	assert.Equal(t, 0, reg.Len())
	assert.False(t, reg.HasTopic("an-1"))
}

func TestHandler_IgnoresFramesFromReplacedConnection(t *testing.T) {
	reg, h := newTestHandler()
	old := &fakeConn{}
	cur := &fakeConn{}
	h.Connect("c1", old, "")
	h.Connect("c1", cur, "")

	h.Handle("c1", old, []byte(`{"type":"subscribe","analysis_id":"an-1"}`))
	assert.False(t, reg.HasTopic("an-1"))
	assert.Equal(t, 0, cur.count())

	h.Handle("c1", cur, []byte(`{"type":"subscribe","analysis_id":"an-1"}`))
	assert.Equal(t, []string{"c1"}, reg.Subscribers("an-1"))
	assert.Equal(t, "subscription_confirmed", cur.last(t)["type"])

	h.Disconnect("c1", cur)
	h.Handle("c1", cur, []byte(`{"type":"status"}`))
	assert.Equal(t, 1, cur.count())
}

func TestHandler_HandleAdmin(t *testing.T) {
	_, h := newTestHandler()
	c1, c2 := &fakeConn{}, &fakeConn{}
	h.Connect("c1", c1, "")
	h.Connect("c2", c2, "")

	res := h.HandleAdmin([]byte(`{"type":"maintenance","content":"down at 5"}`))
	assert.Equal(t, "broadcast_sent", res.Status)
	assert.Equal(t, 2, res.Recipients)
	msg := c2.last(t)
	assert.Equal(t, TypeBroadcast, msg["type"])
	assert.Equal(t, "maintenance", msg["message_type"])
	assert.Equal(t, "down at 5", msg["content"])

	assert.NotEmpty(t, h.HandleAdmin([]byte(`{"type":"x"}`)).Error)
	assert.Equal(t, "Invalid JSON format", h.HandleAdmin([]byte(`nope`)).Error)
}

func TestHandler_RunHeartbeat(t *testing.T) {
	_, h := newTestHandler()
	c := &fakeConn{}
	h.Connect("c1", c, "")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = h.RunHeartbeat(ctx, 5*time.Millisecond)
		close(done)
	}()

	require.Eventually(t, func() bool { return c.count() > 0 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done
	msg := c.last(t)
	assert.Equal(t, TypeHeartbeat, msg["type"])
	assert.Equal(t, "healthy", msg["server_status"])
}
