package blackboard

import (
	"encoding/json"

	"github.com/sbp-dev/blackboard/internal/condition"
)

// TriggerMode selects when a scent fires relative to its condition's
// met/not-met transitions.
type TriggerMode string

const (
	TriggerLevel        TriggerMode = "level"
	TriggerEdgeRising   TriggerMode = "edge_rising"
	TriggerEdgeFalling  TriggerMode = "edge_falling"
)

// Scent is a dormant trigger watching the blackboard for a condition
// to become true.
type Scent struct {
	ScentID           string              `json:"scent_id"`
	AgentEndpoint     string              `json:"agent_endpoint,omitempty"`
	Condition         *condition.Condition `json:"condition"`
	CooldownMs        int64               `json:"cooldown_ms"`
	ActivationPayload json.RawMessage     `json:"activation_payload,omitempty"`
	TriggerMode       TriggerMode         `json:"trigger_mode"`
	Hysteresis        float64             `json:"hysteresis,omitempty"`
	MaxExecutionMs    int64               `json:"max_execution_ms,omitempty"`
	ContextTrails     []string            `json:"context_trails,omitempty"`

	// Runtime fields, not caller-supplied.
	LastTriggeredAt  *int64 `json:"last_triggered_at"`
	LastConditionMet bool   `json:"last_condition_met"`
}

// inCooldown reports whether the scent is still within its cooldown
// window as of now and should be skipped this tick.
func (s *Scent) inCooldown(nowMs int64) bool {
	if s.LastTriggeredAt == nil {
		return false
	}
	return nowMs-*s.LastTriggeredAt < s.CooldownMs
}

// shouldFire decides whether met (this tick's evaluation) triggers a
// dispatch, given the trigger mode and the scent's previous state.
func (s *Scent) shouldFire(met bool) bool {
	switch s.TriggerMode {
	case TriggerEdgeRising:
		return met && !s.LastConditionMet
	case TriggerEdgeFalling:
		return !met && s.LastConditionMet
	default: // level
		return met
	}
}

// resetOnUpdate preserves last_condition_met across a scent update for
// level mode but resets it to false for edge_* modes, so a stale "met"
// reading can't suppress a genuine edge on the first post-update tick.
func (s *Scent) resetOnUpdate() {
	if s.TriggerMode != TriggerLevel {
		s.LastConditionMet = false
	}
}
