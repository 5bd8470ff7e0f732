package blackboard

import (
	"context"
	"fmt"

	"github.com/sbp-dev/blackboard/internal/decay"
)

// DiagnosePheromoneResult is the output of DiagnosePheromone, a
// supplemented operation (sbp/diagnose_pheromone) surfacing the
// decay package's diagnostics-only timeToEvaporation inversion.
type DiagnosePheromoneResult struct {
	ID                 string  `json:"id"`
	CurrentIntensity   float64 `json:"current_intensity"`
	TTLFloor           float64 `json:"ttl_floor"`
	TimeToEvaporationMs int64  `json:"time_to_evaporation_ms,omitempty"`
	Immortal           bool    `json:"immortal"`
}

// DiagnosePheromone reports the current intensity and, for pheromones
// whose decay curve reaches the TTL floor, the estimated time remaining
// before it crosses that floor. Immortal is set, and no time is given,
// whenever decay.TimeToEvaporation reports "never" — an immortal model
// or any other curve that never drops below the floor.
func (e *Engine) DiagnosePheromone(ctx context.Context, id string) (DiagnosePheromoneResult, error) {
	_, span := e.startSpan(ctx, "diagnose_pheromone")
	defer span.End()

	p, ok := e.store.Get(id)
	if !ok {
		return DiagnosePheromoneResult{}, fmt.Errorf("%w: %q", ErrPheromoneNotFound, id)
	}

	now := nowMs()
	result := DiagnosePheromoneResult{
		ID:               id,
		CurrentIntensity: p.CurrentIntensity(now),
		TTLFloor:         p.TTLFloor,
	}

	ttl, ok := decay.TimeToEvaporation(p.AsDecayPheromone())
	if !ok {
		result.Immortal = true
		return result, nil
	}
	remaining := ttl - (now - p.LastReinforcedAt)
	if remaining < 0 {
		remaining = 0
	}
	result.TimeToEvaporationMs = remaining
	return result, nil
}
