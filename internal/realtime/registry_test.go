package realtime

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRegistry_RegisterAndStats(t *testing.T) {
	r := NewRegistry()
	r.Register("b", &fakeConn{})
	r.Register("a", &fakeConn{})
	r.Subscribe("a", "an-1")

	st := r.Stats()
	assert.Equal(t, 2, st.TotalConnections)
	assert.Equal(t, 1, st.ActiveSubscriptions)
	assert.Equal(t, []string{"a", "b"}, st.Clients)
}

func TestRegistry_RegisterReturnsReplaced(t *testing.T) {
	r := NewRegistry()
	first := &fakeConn{}
	second := &fakeConn{}
	assert.Nil(t, r.Register("c", first))
	assert.Same(t, first, r.Register("c", second))

	got, ok := r.Conn("c")
	assert.True(t, ok)
	assert.Same(t, second, got)
}

func TestRegistry_SubscribeIsSetSemantics(t *testing.T) {
	r := NewRegistry()
	r.Subscribe("c1", "t")
	r.Subscribe("c1", "t")
	r.Subscribe("c2", "t")
	assert.ElementsMatch(t, []string{"c1", "c2"}, r.Subscribers("t"))
}

func TestRegistry_UnsubscribeLastPrunesTopic(t *testing.T) {
	r := NewRegistry()
	r.Register("c1", &fakeConn{})
	r.Subscribe("c1", "t")
	assert.True(t, r.HasTopic("t"))

	r.Unsubscribe("c1", "t")
	assert.False(t, r.HasTopic("t"))
	assert.Equal(t, 0, r.Stats().ActiveSubscriptions)

	// absent subscription is fine
	r.Unsubscribe("c1", "t")
	r.Unsubscribe("nobody", "nothing")
}

func TestRegistry_UnregisterPurgesSubscriptions(t *testing.T) {
	r := NewRegistry()
	r.Register("c1", &fakeConn{})
	r.Register("c2", &fakeConn{})
	r.Subscribe("c1", "t1")
	r.Subscribe("c1", "t2")
	r.Subscribe("c2", "t2")

	r.Unregister("c1")
	_, ok := r.Conn("c1")
	assert.False(t, ok)
	assert.False(t, r.HasTopic("t1"))
	assert.Equal(t, []string{"c2"}, r.Subscribers("t2"))

	r.Unregister("c1")
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_ReleaseOnlyEvictsCurrentHolder(t *testing.T) {
	r := NewRegistry()
	old := &fakeConn{}
	cur := &fakeConn{}
	r.Register("c", old)
	r.Register("c", cur)

	assert.False(t, r.Release("c", old))
	_, ok := r.Conn("c")
	assert.True(t, ok)

	assert.True(t, r.Release("c", cur))
	assert.Equal(t, 0, r.Len())
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("c%d", i)
			r.Register(id, &fakeConn{})
			r.Subscribe(id, "shared")
			_ = r.Snapshot()
			_ = r.Stats()
			if i%2 == 0 {
				r.Unregister(id)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 25, r.Len())
	assert.Len(t, r.Subscribers("shared"), 25)
}
