package blackboard

import (
	"encoding/json"

	"github.com/sbp-dev/blackboard/internal/condition"
	"github.com/sbp-dev/blackboard/internal/decay"
	"github.com/sbp-dev/blackboard/internal/pheromone"
)

// EmitParams is the input to Emit.
type EmitParams struct {
	Trail            string              `json:"trail"`
	Type             string              `json:"type"`
	InitialIntensity float64             `json:"initial_intensity"`
	DecayModel       decay.Model         `json:"decay_model"`
	Payload          json.RawMessage     `json:"payload,omitempty"`
	Tags             []string            `json:"tags,omitempty"`
	SourceAgent      string              `json:"source_agent,omitempty"`
	TTLFloor         float64             `json:"ttl_floor,omitempty"`
	MergeStrategy    pheromone.MergeStrategy `json:"merge_strategy,omitempty"`
}

// EmitAction reports what emit actually did to the store.
type EmitAction string

const (
	ActionCreated    EmitAction = "created"
	ActionReinforced EmitAction = "reinforced"
	ActionReplaced   EmitAction = "replaced"
	ActionMerged     EmitAction = "merged"
)

// EmitResult is the output of Emit.
type EmitResult struct {
	ID                string     `json:"id"`
	Action            EmitAction `json:"action"`
	CurrentIntensity  float64    `json:"current_intensity"`
	PreviousIntensity *float64   `json:"previous_intensity,omitempty"`
}

// SniffParams is the input to Sniff.
type SniffParams struct {
	Trails            []string            `json:"trails,omitempty"`
	Types             []string            `json:"types,omitempty"`
	MinIntensity      float64             `json:"min_intensity,omitempty"`
	MaxAgeMs          int64               `json:"max_age_ms,omitempty"`
	Tags              pheromone.TagFilter `json:"tags,omitempty"`
	IncludeEvaporated bool                `json:"include_evaporated,omitempty"`
	Limit             int                 `json:"limit,omitempty"`
}

// TrailTypeAggregate summarizes a (trail, type) bucket of a sniff result.
type TrailTypeAggregate struct {
	Count         int     `json:"count"`
	SumIntensity  float64 `json:"sum_intensity"`
	MaxIntensity  float64 `json:"max_intensity"`
	AvgIntensity  float64 `json:"avg_intensity"`
}

// SniffResult is the output of Sniff.
type SniffResult struct {
	Pheromones []pheromone.Snapshot           `json:"pheromones"`
	Aggregates map[string]TrailTypeAggregate  `json:"aggregates"`
	Timestamp  int64                          `json:"timestamp"`
}

// RegisterScentParams is the input to RegisterScent; it mirrors Scent's
// caller-supplied fields.
type RegisterScentParams struct {
	ScentID           string               `json:"scent_id"`
	AgentEndpoint     string               `json:"agent_endpoint,omitempty"`
	Condition         *condition.Condition `json:"condition"`
	CooldownMs        int64                `json:"cooldown_ms"`
	ActivationPayload json.RawMessage      `json:"activation_payload,omitempty"`
	TriggerMode       TriggerMode          `json:"trigger_mode,omitempty"`
	Hysteresis        float64              `json:"hysteresis,omitempty"`
	MaxExecutionMs    int64                `json:"max_execution_ms,omitempty"`
	ContextTrails     []string             `json:"context_trails,omitempty"`
}

// RegisterStatus reports whether register created or replaced a scent.
type RegisterStatus string

const (
	StatusRegistered RegisterStatus = "registered"
	StatusUpdated    RegisterStatus = "updated"
)

// RegisterScentResult is the output of RegisterScent.
type RegisterScentResult struct {
	Status                RegisterStatus    `json:"status"`
	CurrentConditionState condition.Result  `json:"current_condition_state"`
}

// DeregisterStatus reports whether deregister found the scent.
type DeregisterStatus string

const (
	StatusRemoved  DeregisterStatus = "removed"
	StatusNotFound DeregisterStatus = "not_found"
)

// DeregisterScentResult is the output of DeregisterScent.
type DeregisterScentResult struct {
	Status DeregisterStatus `json:"status"`
}

// EvaporateParams is the input to Evaporate. Every non-zero/non-empty
// field narrows the set of pheromones removed; all supplied filters
// must match (conjunction).
type EvaporateParams struct {
	Trail          string              `json:"trail,omitempty"`
	Types          []string            `json:"types,omitempty"`
	OlderThanMs    int64               `json:"older_than_ms,omitempty"`
	BelowIntensity float64             `json:"below_intensity,omitempty"`
	Tags           pheromone.TagFilter `json:"tags,omitempty"`
}

// EvaporateResult is the output of Evaporate.
type EvaporateResult struct {
	RemovedCount   int      `json:"removed_count"`
	TrailsAffected []string `json:"trails_affected"`
}

// InspectParams selects which InspectResult sections to populate.
type InspectParams struct {
	Sections []string `json:"sections,omitempty"`
}

// TrailInfo summarizes one trail for InspectResult.
type TrailInfo struct {
	Trail          string  `json:"trail"`
	Count          int     `json:"count"`
	TotalIntensity float64 `json:"total_intensity"`
	AvgIntensity   float64 `json:"avg_intensity"`
}

// ScentInfo summarizes one scent for InspectResult.
type ScentInfo struct {
	ScentID          string `json:"scent_id"`
	AgentEndpoint    string `json:"agent_endpoint,omitempty"`
	LastConditionMet bool   `json:"last_condition_met"`
	InCooldown       bool   `json:"in_cooldown"`
	LastTriggeredAt  *int64 `json:"last_triggered_at"`
}

// StatsInfo is the "stats" section of InspectResult.
type StatsInfo struct {
	TotalPheromones  int   `json:"total_pheromones"`
	ActivePheromones int   `json:"active_pheromones"`
	ScentCount       int   `json:"scent_count"`
	UptimeMs         int64 `json:"uptime_ms"`
}

// InspectResult is the output of Inspect; sections not requested are left nil.
type InspectResult struct {
	Trails []TrailInfo `json:"trails,omitempty"`
	Scents []ScentInfo `json:"scents,omitempty"`
	Stats  *StatsInfo  `json:"stats,omitempty"`
}

// ConditionSnapshotEntry is one entry of a TriggerPayload's condition_snapshot map.
type ConditionSnapshotEntry struct {
	Value         float64  `json:"value"`
	PheromoneIds  []string `json:"pheromone_ids"`
}

// TriggerPayload is delivered to a scent's handler (in-process) or
// dispatched as the params of a sbp/trigger JSON-RPC notification.
type TriggerPayload struct {
	ScentID           string                            `json:"scent_id"`
	TriggeredAt       int64                             `json:"triggered_at"`
	ConditionSnapshot map[string]ConditionSnapshotEntry  `json:"condition_snapshot"`
	ContextPheromones []pheromone.Snapshot              `json:"context_pheromones"`
	ActivationPayload json.RawMessage                   `json:"activation_payload,omitempty"`
}

// TriggerHandler is an in-process callback bound to a scent via OnTrigger.
// A bound handler preempts HTTP dispatch for that scent.
type TriggerHandler func(payload TriggerPayload)
