package realtime

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestNotifier() (*Registry, *Notifier) {
	reg := NewRegistry()
	n := NewNotifier(reg, nil)
	n.now = func() time.Time { return time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC) }
	return reg, n
}

func TestNotifier_SendTo(t *testing.T) {
	reg, n := newTestNotifier()
	c := &fakeConn{}
	reg.Register("c1", c)

	require.NoError(t, n.SendTo("c1", map[string]string{"type": "hello"}))
	assert.Equal(t, "hello", c.last(t)["type"])

	assert.ErrorIs(t, n.SendTo("ghost", map[string]string{}), ErrNotConnected)
}

func TestNotifier_SendToPrunesDeadConnection(t *testing.T) {
	reg, n := newTestNotifier()
	dead := &fakeConn{broken: true}
	reg.Register("dead", dead)
	reg.Subscribe("dead", "t1")
	reg.Subscribe("dead", "t2")

	err := n.SendTo("dead", map[string]string{"type": "x"})
	assert.True(t, errors.Is(err, ErrDelivery))
	_, ok := reg.Conn("dead")
	assert.False(t, ok)
	assert.False(t, reg.HasTopic("t1"))
	assert.False(t, reg.HasTopic("t2"))
	assert.True(t, dead.isClosed())
}

func TestNotifier_PublishWithoutSubscribers(t *testing.T) {
	reg, n := newTestNotifier()
	c := &fakeConn{}
	reg.Register("c1", c)

	assert.Equal(t, 0, n.Publish("nobody-watches", map[string]any{"status": "PENDING"}))
	assert.Equal(t, 0, c.count())
}

func TestNotifier_PublishWrapsEnvelope(t *testing.T) {
	reg, n := newTestNotifier()
	c1, c2, other := &fakeConn{}, &fakeConn{}, &fakeConn{}
	reg.Register("c1", c1)
	reg.Register("c2", c2)
	reg.Register("other", other)
	reg.Subscribe("c1", "an-1")
	reg.Subscribe("c2", "an-1")

	sent := n.Publish("an-1", map[string]any{"status": "ANALYZING", "progress": 20.0})
	assert.Equal(t, 2, sent)
	assert.Equal(t, 0, other.count())

	msg := c1.last(t)
	assert.Equal(t, TypeAnalysisUpdate, msg["type"])
	assert.Equal(t, "an-1", msg["analysis_id"])
	assert.Equal(t, "2025-01-01T12:00:00Z", msg["timestamp"])
	data := msg["data"].(map[string]any)
	assert.Equal(t, "ANALYZING", data["status"])
	assert.Equal(t, 20.0, data["progress"])
}

func TestNotifier_PublishPrunesDeadSubscriber(t *testing.T) {
	reg, n := newTestNotifier()
	ok1 := &fakeConn{}
	dead := &fakeConn{broken: true}
	reg.Register("ok", ok1)
	reg.Register("dead", dead)
	reg.Subscribe("ok", "an-1")
	reg.Subscribe("dead", "an-1")
	reg.Subscribe("dead", "an-2")

	assert.Equal(t, 1, n.Publish("an-1", map[string]any{}))
	assert.Equal(t, []string{"ok"}, reg.Subscribers("an-1"))
	assert.False(t, reg.HasTopic("an-2"))
	_, found := reg.Conn("dead")
	assert.False(t, found)
}

func TestNotifier_PublishDropsUnregisteredSubscriber(t *testing.T) {
	reg, n := newTestNotifier()
	live := &fakeConn{}
	reg.Register("live", live)
	reg.Subscribe("live", "an-1")
	reg.Subscribe("ghost", "an-1")
	reg.Subscribe("ghost", "an-2")
	assert.Equal(t, 2, reg.Stats().ActiveSubscriptions)

	assert.Equal(t, 1, n.Publish("an-1", map[string]any{}))
	assert.Equal(t, []string{"live"}, reg.Subscribers("an-1"))
	assert.Equal(t, 1, live.count())

	assert.Equal(t, 0, n.Publish("an-2", map[string]any{}))
	assert.False(t, reg.HasTopic("an-2"))
	assert.Equal(t, 1, reg.Stats().ActiveSubscriptions)
}

func TestNotifier_BroadcastPrunesAfterPass(t *testing.T) {
	reg, n := newTestNotifier()
	live := []*fakeConn{{}, {}, {}}
	for i, c := range live {
		reg.Register(string(rune('a'+i)), c)
	}
	reg.Register("dead1", &fakeConn{broken: true})
	reg.Register("dead2", &fakeConn{broken: true})

	sent := n.Broadcast(Event{Type: TypeNewAnalysis, Data: map[string]string{"id": "x"}})
	assert.Equal(t, 3, sent)
	assert.Equal(t, 3, reg.Len())
	for _, c := range live {
		assert.Equal(t, TypeNewAnalysis, c.last(t)["type"])
	}
}

func TestNotifier_BroadcastEmptyRegistry(t *testing.T) {
	_, n := newTestNotifier()
	assert.Equal(t, 0, n.Broadcast(Event{Type: TypeHeartbeat}))
}

func TestNotifier_Announce(t *testing.T) {
	reg, n := newTestNotifier()
	a, b := &fakeConn{}, &fakeConn{}
	reg.Register("a", a)
	reg.Register("b", b)

	sent := n.Announce(TypeAnalysisDeleted, "an-1", map[string]string{"id": "an-1"})
	assert.Equal(t, 2, sent)
	msg := b.last(t)
	assert.Equal(t, TypeAnalysisDeleted, msg["type"])
	assert.Equal(t, "an-1", msg["analysis_id"])
	assert.Equal(t, "2025-01-01T12:00:00Z", msg["timestamp"])
	assert.Equal(t, "an-1", msg["data"].(map[string]any)["id"])
}
