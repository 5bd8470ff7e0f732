package transport

import (
	"sync"
	"testing"
	"time"

	"github.com/sbp-dev/blackboard/internal/blackboard"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBinder struct {
	mu       sync.Mutex
	bound    map[string]blackboard.TriggerHandler
	unbinds  int
}

func newFakeBinder() *fakeBinder {
	return &fakeBinder{bound: make(map[string]blackboard.TriggerHandler)}
}

func (b *fakeBinder) OnTrigger(scentID string, handler blackboard.TriggerHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.bound[scentID] = handler
}

func (b *fakeBinder) OffTrigger(scentID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.bound, scentID)
	b.unbinds++
}

func TestHub_SubscribeBindsOnceAcrossSessions(t *testing.T) {
	binder := newFakeBinder()
	hub := NewHub(binder, 16)

	require.NoError(t, hub.Subscribe("s1", "q1"))
	require.NoError(t, hub.Subscribe("s2", "q1"))

	binder.mu.Lock()
	boundCount := len(binder.bound)
	binder.mu.Unlock()
	assert.Equal(t, 1, boundCount, "a single engine-level handler should serve all sessions bound to the scent")
}

func TestHub_UnsubscribeLastSessionUnbinds(t *testing.T) {
	binder := newFakeBinder()
	hub := NewHub(binder, 16)
	require.NoError(t, hub.Subscribe("s1", "q1"))
	require.NoError(t, hub.Unsubscribe("s1", "q1"))

	binder.mu.Lock()
	defer binder.mu.Unlock()
	assert.Equal(t, 1, binder.unbinds)
	assert.Empty(t, binder.bound)
}

func TestHub_DeliversToConnectedSubscriber(t *testing.T) {
	binder := newFakeBinder()
	hub := NewHub(binder, 16)
	require.NoError(t, hub.Subscribe("s1", "q1"))

	sub := hub.Connect("s1")
	defer hub.Disconnect(sub)

	binder.mu.Lock()
	handler := binder.bound["q1"]
	binder.mu.Unlock()
	require.NotNil(t, handler)

	handler(blackboard.TriggerPayload{ScentID: "q1"})

	select {
	case rec := <-sub.events:
		assert.Contains(t, string(rec.Data), "sbp/trigger")
	case <-time.After(time.Second):
		t.Fatal("expected an event to be delivered")
	}
}

func TestHub_ReconnectBeforeOldDisconnectDoesNotPanicOnClose(t *testing.T) {
	binder := newFakeBinder()
	hub := NewHub(binder, 16)

	oldSub := hub.Connect("s1")
	newSub := hub.Connect("s1") // supersedes oldSub; closes oldSub.done

	assert.NotPanics(t, func() {
		hub.Disconnect(oldSub) // superseded stream's own cleanup races the above close
	})
	assert.NotPanics(t, func() {
		hub.Disconnect(newSub)
	})
}

func TestHub_BindingSurvivesDisconnectForReplay(t *testing.T) {
	binder := newFakeBinder()
	hub := NewHub(binder, 16)
	require.NoError(t, hub.Subscribe("s1", "q1"))

	sub := hub.Connect("s1")
	hub.Disconnect(sub)

	binder.mu.Lock()
	_, stillBound := binder.bound["q1"]
	binder.mu.Unlock()
	assert.True(t, stillBound, "scent binding should survive a live-connection disconnect")
}
