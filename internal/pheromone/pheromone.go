// Package pheromone defines the Pheromone entity and its storage
// contract. Intensity is never stored — only initial_intensity and
// last_reinforced_at are; callers compute current intensity on read
// via internal/decay.
package pheromone

import (
	"encoding/json"

	"github.com/sbp-dev/blackboard/internal/decay"
)

// MergeStrategy selects how a duplicate emit is folded into an
// existing pheromone.
type MergeStrategy string

const (
	MergeNew       MergeStrategy = "new"
	MergeReinforce MergeStrategy = "reinforce"
	MergeReplace   MergeStrategy = "replace"
	MergeMax       MergeStrategy = "max"
	MergeAdd       MergeStrategy = "add"
)

// Pheromone is a decaying signal deposited on the blackboard.
type Pheromone struct {
	ID                 string          `json:"id"`
	Trail              string          `json:"trail"`
	Type               string          `json:"type"`
	EmittedAt          int64           `json:"emitted_at"`           // epoch ms, immutable
	LastReinforcedAt   int64           `json:"last_reinforced_at"`   // epoch ms
	InitialIntensity   float64         `json:"initial_intensity"`
	DecayModel         decay.Model     `json:"decay_model"`
	Payload            json.RawMessage `json:"payload,omitempty"`
	PayloadHash        string          `json:"-"` // derived, not serialized on the wire
	SourceAgent        string          `json:"source_agent,omitempty"`
	Tags               []string        `json:"tags,omitempty"`
	TTLFloor           float64         `json:"ttl_floor"`
}

// AsDecayPheromone adapts p to the narrow view internal/decay needs.
func (p *Pheromone) AsDecayPheromone() decay.Pheromone {
	return decay.Pheromone{
		InitialIntensity: p.InitialIntensity,
		LastReinforcedAt: p.LastReinforcedAt,
		DecayModel:       p.DecayModel,
		TTLFloor:         p.TTLFloor,
	}
}

// CurrentIntensity computes current_intensity(p, now) — the only place
// intensity is ever produced; nothing caches or persists the result
// beyond the scope of a single call or evaluation tick.
func (p *Pheromone) CurrentIntensity(nowMs int64) float64 {
	return decay.Intensity(p.AsDecayPheromone(), nowMs)
}

// IsEvaporated reports whether p has decayed below its TTL floor as of now.
func (p *Pheromone) IsEvaporated(nowMs int64) bool {
	return decay.IsEvaporated(p.AsDecayPheromone(), nowMs)
}

// HasTag reports whether p carries the given tag.
func (p *Pheromone) HasTag(tag string) bool {
	for _, t := range p.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Snapshot is the read-only view returned to callers (sniff results,
// trigger context pheromones, condition evaluation) — a plain value copy so
// callers can't mutate store state through it.
type Snapshot struct {
	ID               string          `json:"id"`
	Trail            string          `json:"trail"`
	Type             string          `json:"type"`
	EmittedAt        int64           `json:"emitted_at"`
	LastReinforcedAt int64           `json:"last_reinforced_at"`
	CurrentIntensity float64         `json:"current_intensity"`
	DecayModel       decay.Model     `json:"decay_model"`
	Payload          json.RawMessage `json:"payload,omitempty"`
	SourceAgent      string          `json:"source_agent,omitempty"`
	Tags             []string        `json:"tags,omitempty"`
	TTLFloor         float64         `json:"ttl_floor"`
}

// Snapshot materializes p's state as of now.
func (p *Pheromone) Snapshot(nowMs int64) Snapshot {
	return Snapshot{
		ID:               p.ID,
		Trail:            p.Trail,
		Type:             p.Type,
		EmittedAt:        p.EmittedAt,
		LastReinforcedAt: p.LastReinforcedAt,
		CurrentIntensity: p.CurrentIntensity(nowMs),
		DecayModel:       p.DecayModel,
		Payload:          p.Payload,
		SourceAgent:      p.SourceAgent,
		Tags:             p.Tags,
		TTLFloor:         p.TTLFloor,
	}
}

// TagFilter implements any/all/none set-membership tag matching.
type TagFilter struct {
	Any  []string `json:"any,omitempty"`
	All  []string `json:"all,omitempty"`
	None []string `json:"none,omitempty"`
}

// Matches reports whether tags T satisfies the filter.
func (f TagFilter) Matches(tags []string) bool {
	set := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		set[t] = struct{}{}
	}

	if len(f.Any) > 0 {
		ok := false
		for _, t := range f.Any {
			if _, found := set[t]; found {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}

	if len(f.All) > 0 {
		for _, t := range f.All {
			if _, found := set[t]; !found {
				return false
			}
		}
	}

	if len(f.None) > 0 {
		for _, t := range f.None {
			if _, found := set[t]; found {
				return false
			}
		}
	}

	return true
}
