package blackboard

import (
	"context"
	"time"

	"github.com/sbp-dev/blackboard/internal/condition"
	"github.com/sbp-dev/blackboard/internal/pheromone"
	"github.com/sbp-dev/blackboard/internal/sbplog"
	"golang.org/x/sync/errgroup"
)

// runEvaluationLoop ticks at cfg.EvaluationInterval until ctx is
// cancelled.
func (e *Engine) runEvaluationLoop(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.EvaluationInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.tick(ctx)
		}
	}
}

// tick evaluates every registered scent against one shared snapshot
// and dispatches triggers for scents that fire. Different scents are
// dispatched in parallel; a single scent's own trigger is never
// concurrent with itself because one tick evaluates it once.
func (e *Engine) tick(ctx context.Context) {
	tickStart := time.Now()
	if e.metrics != nil {
		defer func() { e.metrics.ObserveTick(time.Since(tickStart)) }()
	}

	now := nowMs()
	evalCtx := e.evaluationContext(now)

	e.mu.RLock()
	scents := make([]*Scent, 0, len(e.scents))
	for _, s := range e.scents {
		scents = append(scents, s)
	}
	e.mu.RUnlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, s := range scents {
		s := s
		if s.inCooldown(now) {
			continue
		}

		result := condition.Evaluate(s.Condition, evalCtx)
		fire := s.shouldFire(result.Met)

		e.mu.Lock()
		s.LastConditionMet = result.Met
		if fire {
			s.LastTriggeredAt = &now
		}
		e.mu.Unlock()

		if !fire {
			continue
		}

		if e.metrics != nil {
			e.metrics.IncTriggerFire(s.ScentID)
		}

		payload := e.buildTriggerPayload(s, result, evalCtx, now)
		g.Go(func() error {
			e.dispatchTrigger(gctx, s, payload)
			return nil
		})
	}
	_ = g.Wait()
}

// buildTriggerPayload assembles the payload for a firing scent.
// context_pheromones prefers the scent's explicit context_trails;
// otherwise it falls back to the snapshots of the matching pheromone
// IDs the condition evaluation surfaced.
func (e *Engine) buildTriggerPayload(s *Scent, result condition.Result, evalCtx condition.Context, now int64) TriggerPayload {
	var contextPheromones []pheromone.Snapshot
	if len(s.ContextTrails) > 0 {
		trailSet := toSet(s.ContextTrails)
		for _, p := range evalCtx.Pheromones {
			if _, ok := trailSet[p.Trail]; ok {
				contextPheromones = append(contextPheromones, p)
			}
		}
	} else {
		idSet := toSet(result.MatchingPheromoneIds)
		for _, p := range evalCtx.Pheromones {
			if _, ok := idSet[p.ID]; ok {
				contextPheromones = append(contextPheromones, p)
			}
		}
	}

	return TriggerPayload{
		ScentID:     s.ScentID,
		TriggeredAt: now,
		ConditionSnapshot: map[string]ConditionSnapshotEntry{
			s.ScentID: {Value: result.Value, PheromoneIds: result.MatchingPheromoneIds},
		},
		ContextPheromones: contextPheromones,
		ActivationPayload: s.ActivationPayload,
	}
}

// dispatchTrigger invokes a bound in-process handler if one exists,
// otherwise delivers the trigger over HTTP via the engine's
// Dispatcher. Delivery failures are logged and swallowed — the
// scent's cooldown is the rate limiter, not a retry.
func (e *Engine) dispatchTrigger(ctx context.Context, s *Scent, payload TriggerPayload) {
	e.handlersMu.RLock()
	handler, ok := e.handlers[s.ScentID]
	e.handlersMu.RUnlock()

	if ok {
		handler(payload)
		return
	}

	if s.AgentEndpoint == "" || e.dispatcher == nil {
		return
	}

	maxExecution := time.Duration(s.MaxExecutionMs) * time.Millisecond
	if maxExecution <= 0 {
		maxExecution = 5 * time.Second
	}
	dctx, cancel := context.WithTimeout(ctx, maxExecution)
	defer cancel()

	if err := e.dispatcher.Dispatch(dctx, s.AgentEndpoint, payload); err != nil {
		sbplog.Warnf("blackboard", "trigger delivery failed for scent=%s endpoint=%s: %v", s.ScentID, s.AgentEndpoint, err)
	}
}
