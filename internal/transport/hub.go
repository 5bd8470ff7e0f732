package transport

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"github.com/sbp-dev/blackboard/internal/blackboard"
	"github.com/sbp-dev/blackboard/internal/rpc"
	"github.com/sbp-dev/blackboard/internal/sbplog"
)

// TriggerBinder is the subset of *blackboard.Engine the Hub needs to
// register/unregister its per-scent handler: the core exposes one
// handler slot per scent, and the transport multiplexes it to many
// SSE subscribers.
type TriggerBinder interface {
	OnTrigger(scentID string, handler blackboard.TriggerHandler)
	OffTrigger(scentID string)
}

// LiveSub is a connected SSE subscriber's delivery channel. closeOnce
// guards done: a superseding Connect and the superseded stream's own
// Disconnect can both race to close it, and closing twice panics.
type LiveSub struct {
	ClientID  string
	SessionID string
	events    chan EventRecord
	done      chan struct{}
	closeOnce sync.Once
}

func (s *LiveSub) close() {
	s.closeOnce.Do(func() { close(s.done) })
}

// Hub owns SSE subscriber routing: the live connection per session,
// the scent→session bindings created by sbp/subscribe, and the global
// replay ring. The live connection is dropped on disconnect, but the
// scent→session binding is intentionally retained so that a
// reconnecting client with the same session id resumes delivery
// without re-issuing sbp/subscribe — this is what makes Last-Event-ID
// replay across a reconnect actually work.
type Hub struct {
	mu            sync.RWMutex
	bySession     map[string]*LiveSub
	scentSessions map[string]map[string]struct{}

	ring    *Ring
	binder  TriggerBinder
	metrics SubscriberMetricsSink
}

// SubscriberMetricsSink receives the hub's connection-count signal.
// Declared narrowly so the transport stays decoupled from any
// particular metrics backend, matching blackboard.MetricsSink.
type SubscriberMetricsSink interface {
	SetSSESubscribers(n int)
}

// NewHub constructs a Hub with a replay ring of the given capacity.
func NewHub(binder TriggerBinder, ringCapacity int) *Hub {
	return &Hub{
		bySession:     make(map[string]*LiveSub),
		scentSessions: make(map[string]map[string]struct{}),
		ring:          NewRing(ringCapacity),
		binder:        binder,
	}
}

// SetMetrics binds a SubscriberMetricsSink. Optional; nil disables
// subscriber-count reporting.
func (h *Hub) SetMetrics(m SubscriberMetricsSink) {
	h.metrics = m
}

// Subscribe implements rpc.SessionOps: bind scentID to sessionID,
// registering an engine-level handler the first time any session
// binds to that scent.
func (h *Hub) Subscribe(sessionID, scentID string) error {
	h.mu.Lock()
	sessions, ok := h.scentSessions[scentID]
	if !ok {
		sessions = make(map[string]struct{})
		h.scentSessions[scentID] = sessions
	}
	firstBinding := len(sessions) == 0
	sessions[sessionID] = struct{}{}
	h.mu.Unlock()

	if firstBinding {
		h.binder.OnTrigger(scentID, h.makeHandler(scentID))
	}
	return nil
}

// Unsubscribe implements rpc.SessionOps.
func (h *Hub) Unsubscribe(sessionID, scentID string) error {
	h.mu.Lock()
	sessions, ok := h.scentSessions[scentID]
	if ok {
		delete(sessions, sessionID)
	}
	empty := ok && len(sessions) == 0
	if empty {
		delete(h.scentSessions, scentID)
	}
	h.mu.Unlock()

	if empty {
		h.binder.OffTrigger(scentID)
	}
	return nil
}

// makeHandler returns the in-process callback bound to the engine for
// scentID: append the trigger notification to the ring, then fan it
// out to every session currently bound to this scent that has a live
// connection.
func (h *Hub) makeHandler(scentID string) blackboard.TriggerHandler {
	return func(payload blackboard.TriggerPayload) {
		data, err := json.Marshal(rpc.NewNotification(rpc.MethodTrigger, payload))
		if err != nil {
			sbplog.Errorf("transport", "marshal trigger notification for scent=%s: %v", scentID, err)
			return
		}
		rec := h.ring.Append(data)

		h.mu.RLock()
		sessionIDs := make([]string, 0, len(h.scentSessions[scentID]))
		for sid := range h.scentSessions[scentID] {
			sessionIDs = append(sessionIDs, sid)
		}
		h.mu.RUnlock()

		for _, sid := range sessionIDs {
			h.deliver(sid, rec)
		}
	}
}

func (h *Hub) deliver(sessionID string, rec EventRecord) {
	h.mu.RLock()
	sub, ok := h.bySession[sessionID]
	h.mu.RUnlock()
	if !ok {
		return
	}
	select {
	case sub.events <- rec:
	case <-sub.done:
	default:
		sbplog.Warnf("transport", "dropping SSE event for session=%s: subscriber channel full", sessionID)
	}
}

// Connect registers a new live connection for sessionID, replacing any
// prior one (a session has at most one active stream).
func (h *Hub) Connect(sessionID string) *LiveSub {
	sub := &LiveSub{
		ClientID:  uuid.NewString(),
		SessionID: sessionID,
		events:    make(chan EventRecord, 64),
		done:      make(chan struct{}),
	}
	h.mu.Lock()
	if old, ok := h.bySession[sessionID]; ok {
		old.close()
	}
	h.bySession[sessionID] = sub
	count := len(h.bySession)
	h.mu.Unlock()

	if h.metrics != nil {
		h.metrics.SetSSESubscribers(count)
	}
	return sub
}

// Disconnect removes sub's live connection if it is still the active
// one for its session. The scent bindings survive, per the Hub's doc
// comment above.
func (h *Hub) Disconnect(sub *LiveSub) {
	h.mu.Lock()
	if cur, ok := h.bySession[sub.SessionID]; ok && cur == sub {
		delete(h.bySession, sub.SessionID)
	}
	count := len(h.bySession)
	h.mu.Unlock()
	sub.close()

	if h.metrics != nil {
		h.metrics.SetSSESubscribers(count)
	}
}

// Replay returns every event newer than lastEventID, for delivery
// before any live event on reconnect.
func (h *Hub) Replay(lastEventID int64) []EventRecord {
	return h.ring.Since(lastEventID)
}

// Broadcast sends data to every currently connected subscriber,
// regardless of scent bindings — used for the shutdown ": bye" frame.
func (h *Hub) Broadcast(rec EventRecord) {
	h.mu.RLock()
	subs := make([]*LiveSub, 0, len(h.bySession))
	for _, s := range h.bySession {
		subs = append(subs, s)
	}
	h.mu.RUnlock()
	for _, s := range subs {
		select {
		case s.events <- rec:
		case <-s.done:
		default:
		}
	}
}
