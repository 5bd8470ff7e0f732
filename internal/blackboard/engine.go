// Package blackboard implements the stigmergic blackboard core: the
// pheromone store, scent table, emission history, and the periodic
// evaluation loop that dispatches triggers. The transport layer talks
// to an *Engine exclusively through its exported operations; it never
// mutates store or scent state directly.
package blackboard

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sbp-dev/blackboard/internal/condition"
	"github.com/sbp-dev/blackboard/internal/decay"
	"github.com/sbp-dev/blackboard/internal/pheromone"
	"github.com/sbp-dev/blackboard/internal/sbplog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/sbp-dev/blackboard/internal/blackboard")

var (
	// ErrInvalidPayload is returned when operation input fails
	// validation (empty trail/type or malformed decay model on emit,
	// empty scent_id on register).
	ErrInvalidPayload = errors.New("blackboard: invalid payload")
	// ErrReservedTrail is returned when a caller targets a reserved
	// trail prefix (system.*, sbp.*, _*).
	ErrReservedTrail = errors.New("blackboard: trail uses a reserved prefix")
	// ErrInvalidCondition is returned when a scent's condition tree
	// fails validation.
	ErrInvalidCondition = errors.New("blackboard: invalid condition")
	// ErrPheromoneNotFound is returned when a caller references a
	// pheromone id the store has no record of (evaporated or never
	// emitted).
	ErrPheromoneNotFound = errors.New("blackboard: pheromone not found")
)

// Config holds the engine's tunables, sourced from internal/config.
type Config struct {
	EvaluationInterval    time.Duration
	EmissionHistoryWindow time.Duration
	MaxPheromones         int
	TTLFloorDefault       float64
}

// DefaultConfig returns the engine's recommended defaults.
func DefaultConfig() Config {
	return Config{
		EvaluationInterval:    100 * time.Millisecond,
		EmissionHistoryWindow: 5 * time.Minute,
		MaxPheromones:         10_000,
		TTLFloorDefault:       0.05,
	}
}

// Engine is the blackboard core. It is safe for concurrent use.
type Engine struct {
	cfg   Config
	store pheromone.Store

	mu     sync.RWMutex
	scents map[string]*Scent

	historyMu sync.Mutex
	history   []condition.EmissionRecord

	handlersMu sync.RWMutex
	handlers   map[string]TriggerHandler

	dispatcher Dispatcher
	metrics    MetricsSink

	startedAt time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Dispatcher delivers a trigger over HTTP when no in-process handler
// is bound for a scent. The transport layer supplies the concrete
// implementation (an HTTP client posting sbp/trigger notifications).
type Dispatcher interface {
	Dispatch(ctx context.Context, endpoint string, payload TriggerPayload) error
}

// MetricsSink receives the engine's observability signals. Declared
// narrowly here (rather than importing internal/metrics directly) so
// the core stays decoupled from any particular metrics backend.
type MetricsSink interface {
	SetActivePheromones(n int)
	SetScentCount(n int)
	IncTriggerFire(scentID string)
	ObserveTick(d time.Duration)
	IncEmit(action string)
}

// NewEngine constructs an Engine backed by store, using cfg's tunables
// and dispatcher for scents with no in-process handler.
func NewEngine(cfg Config, store pheromone.Store, dispatcher Dispatcher) *Engine {
	return &Engine{
		cfg:        cfg,
		store:      store,
		scents:     make(map[string]*Scent),
		handlers:   make(map[string]TriggerHandler),
		dispatcher: dispatcher,
		startedAt:  time.Now(),
	}
}

// SetMetrics binds a MetricsSink the engine reports to. Optional;
// nil (the default) disables all metrics reporting.
func (e *Engine) SetMetrics(m MetricsSink) {
	e.metrics = m
}

// nowMs is the engine's single source of wall-clock time.
func nowMs() int64 {
	return time.Now().UnixMilli()
}

// Start launches the periodic evaluation loop in a background
// goroutine. Calling Start twice without an intervening Stop starts a
// second loop and leaves only the latest one cancellable by Stop.
func (e *Engine) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.runEvaluationLoop(ctx)
	}()
}

// Stop cancels the evaluation loop and waits for it to exit.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()
}

// reservedTrail reports whether trail begins with a prefix the
// protocol reserves for system use.
func reservedTrail(trail string) bool {
	return strings.HasPrefix(trail, "system.") ||
		strings.HasPrefix(trail, "sbp.") ||
		strings.HasPrefix(trail, "_")
}

// gc deletes every evaporated pheromone. Invoked automatically when
// the store exceeds MaxPheromones and available on demand via RunGC.
func (e *Engine) gc(nowMs int64) int {
	removed := 0
	for _, p := range e.store.Values() {
		if p.IsEvaporated(nowMs) {
			e.store.Delete(p.ID)
			removed++
		}
	}
	if removed > 0 {
		sbplog.Debugf("blackboard", "gc removed %d evaporated pheromones", removed)
	}
	return removed
}

// RunGC runs garbage collection immediately.
func (e *Engine) RunGC() int {
	return e.gc(nowMs())
}

func (e *Engine) appendEmission(rec condition.EmissionRecord) {
	e.historyMu.Lock()
	defer e.historyMu.Unlock()
	e.history = append(e.history, rec)
	e.pruneHistoryLocked(rec.TimestampMs)
}

// pruneHistoryLocked drops records older than EmissionHistoryWindow
// relative to asOfMs. Pruning happens at append time.
func (e *Engine) pruneHistoryLocked(asOfMs int64) {
	cutoff := asOfMs - e.cfg.EmissionHistoryWindow.Milliseconds()
	i := 0
	for i < len(e.history) && e.history[i].TimestampMs < cutoff {
		i++
	}
	if i > 0 {
		e.history = append([]condition.EmissionRecord(nil), e.history[i:]...)
	}
}

func (e *Engine) historySnapshot() []condition.EmissionRecord {
	e.historyMu.Lock()
	defer e.historyMu.Unlock()
	out := make([]condition.EmissionRecord, len(e.history))
	copy(out, e.history)
	return out
}

// startSpan is a small helper so every operation gets a consistently
// named span without repeating the tracer lookup.
func (e *Engine) startSpan(ctx context.Context, op string) (context.Context, trace.Span) {
	return tracer.Start(ctx, fmt.Sprintf("blackboard.%s", op))
}

// clampModel fills in defaults a caller-supplied decay model omitted
// and validates it is internally consistent.
func clampModel(m decay.Model) (decay.Model, error) {
	switch m.Kind {
	case "":
		m.Kind = decay.Exponential
	case decay.Exponential, decay.Linear, decay.Step, decay.Immortal:
	default:
		return m, fmt.Errorf("%w: unknown decay kind %q", ErrInvalidPayload, m.Kind)
	}
	if m.Kind == decay.Exponential && m.HalfLifeMs <= 0 {
		return m, fmt.Errorf("%w: exponential decay requires a positive half_life_ms", ErrInvalidPayload)
	}
	if m.Kind == decay.Linear && m.RatePerMs <= 0 {
		return m, fmt.Errorf("%w: linear decay requires a positive rate_per_ms", ErrInvalidPayload)
	}
	return m, nil
}
