// Package condition implements the scent condition tree: threshold,
// composite, rate, and pattern nodes, evaluated against a snapshot of
// the blackboard plus its emission history. Grounded on the donor's
// internal/formula/condition.go ConditionType/Operator structure,
// generalized from formula's string-parsed step-conditions to a JSON
// tree of typed nodes.
package condition

import (
	"fmt"

	"github.com/sbp-dev/blackboard/internal/pheromone"
)

// Kind discriminates a condition node.
type Kind string

const (
	KindThreshold Kind = "threshold"
	KindComposite Kind = "composite"
	KindRate      Kind = "rate"
	KindPattern   Kind = "pattern"
)

// Aggregate selects how threshold conditions reduce matching intensities.
type Aggregate string

const (
	AggSum   Aggregate = "sum"
	AggMax   Aggregate = "max"
	AggAvg   Aggregate = "avg"
	AggCount Aggregate = "count"
	AggAny   Aggregate = "any"
)

// Operator is a comparison operator against a condition's threshold value.
type Operator string

const (
	OpGTE Operator = ">="
	OpGT  Operator = ">"
	OpLTE Operator = "<="
	OpLT  Operator = "<"
	OpEQ  Operator = "=="
	OpNEQ Operator = "!="
)

// CompositeOp selects how a composite node combines its children.
type CompositeOp string

const (
	CompositeAnd CompositeOp = "and"
	CompositeOr  CompositeOp = "or"
	CompositeNot CompositeOp = "not"
)

// RateMetric selects what a rate condition measures.
type RateMetric string

const (
	RateEmissionsPerSecond RateMetric = "emissions_per_second"
	RateIntensityDelta     RateMetric = "intensity_delta"
)

const wildcard = "*"

// Condition is a single node in the condition tree. Exactly one of the
// kind-specific fields is populated, selected by Kind.
type Condition struct {
	Kind Kind `json:"kind"`

	// threshold
	Trail     string              `json:"trail,omitempty"`
	Type      string              `json:"signal_type,omitempty"`
	Tags      pheromone.TagFilter `json:"tags,omitempty"`
	Aggregate Aggregate           `json:"aggregate,omitempty"`
	Operator  Operator            `json:"operator,omitempty"`
	Value     float64             `json:"value,omitempty"`

	// composite
	Op       CompositeOp  `json:"op,omitempty"`
	Children []*Condition `json:"children,omitempty"`

	// rate
	WindowMs int64      `json:"window_ms,omitempty"`
	Metric   RateMetric `json:"metric,omitempty"`

	// pattern
	Sequence []PatternStep `json:"sequence,omitempty"`
	Ordered  *bool         `json:"ordered,omitempty"`
}

// PatternStep matches one position in a pattern condition's sequence.
type PatternStep struct {
	Trail string `json:"trail,omitempty"`
	Type  string `json:"signal_type,omitempty"`
}

// orderedOrDefault returns Ordered, defaulting to true per spec.
func (c *Condition) orderedOrDefault() bool {
	if c.Ordered == nil {
		return true
	}
	return *c.Ordered
}

// Result is the output of evaluating a condition tree.
type Result struct {
	Met                  bool     `json:"met"`
	Value                float64  `json:"value"`
	MatchingPheromoneIds []string `json:"matching_pheromone_ids"`
}

// EmissionRecord is one append-only entry in the emission history used
// by rate and pattern conditions.
type EmissionRecord struct {
	Trail            string  `json:"trail"`
	Type             string  `json:"type"`
	TimestampMs      int64   `json:"timestamp_ms"`
	IntensityAtEmit  float64 `json:"intensity_at_emit"`
}

// Context is everything a condition evaluation needs: the live
// pheromone snapshot, the current time, and the emission history.
type Context struct {
	Pheromones     []pheromone.Snapshot
	NowMs          int64
	EmissionHistory []EmissionRecord
}

// Validate reports whether c is a well-formed condition tree, per the
// -32006 "invalid condition" error registerScent must surface.
func Validate(c *Condition) error {
	if c == nil {
		return fmt.Errorf("condition: nil")
	}
	switch c.Kind {
	case KindThreshold:
		if c.Trail == "" {
			return fmt.Errorf("threshold condition: trail is required")
		}
		switch c.Aggregate {
		case AggSum, AggMax, AggAvg, AggCount, AggAny:
		default:
			return fmt.Errorf("threshold condition: invalid aggregate %q", c.Aggregate)
		}
		switch c.Operator {
		case OpGTE, OpGT, OpLTE, OpLT, OpEQ, OpNEQ:
		default:
			return fmt.Errorf("threshold condition: invalid operator %q", c.Operator)
		}
	case KindComposite:
		switch c.Op {
		case CompositeAnd, CompositeOr:
			if len(c.Children) == 0 {
				return fmt.Errorf("composite condition: %s requires at least one child", c.Op)
			}
		case CompositeNot:
			if len(c.Children) != 1 {
				return fmt.Errorf("composite condition: not requires exactly one child")
			}
		default:
			return fmt.Errorf("composite condition: invalid op %q", c.Op)
		}
		for _, child := range c.Children {
			if err := Validate(child); err != nil {
				return err
			}
		}
	case KindRate:
		if c.Trail == "" {
			return fmt.Errorf("rate condition: trail is required")
		}
		if c.WindowMs <= 0 {
			return fmt.Errorf("rate condition: window_ms must be positive")
		}
		switch c.Metric {
		case RateEmissionsPerSecond, RateIntensityDelta:
		default:
			return fmt.Errorf("rate condition: invalid metric %q", c.Metric)
		}
		switch c.Operator {
		case OpGTE, OpGT, OpLTE, OpLT, OpEQ, OpNEQ:
		default:
			return fmt.Errorf("rate condition: invalid operator %q", c.Operator)
		}
	case KindPattern:
		if len(c.Sequence) == 0 {
			return fmt.Errorf("pattern condition: sequence must be non-empty")
		}
		if c.WindowMs <= 0 {
			return fmt.Errorf("pattern condition: window_ms must be positive")
		}
	default:
		return fmt.Errorf("condition: invalid kind %q", c.Kind)
	}
	return nil
}

// Evaluate walks c against ctx and returns its result.
func Evaluate(c *Condition, ctx Context) Result {
	switch c.Kind {
	case KindThreshold:
		return evalThreshold(c, ctx)
	case KindComposite:
		return evalComposite(c, ctx)
	case KindRate:
		return evalRate(c, ctx)
	case KindPattern:
		return evalPattern(c, ctx)
	default:
		return Result{Met: false}
	}
}

func evalThreshold(c *Condition, ctx Context) Result {
	var matches []pheromone.Snapshot
	for _, p := range ctx.Pheromones {
		if p.Trail != c.Trail {
			continue
		}
		if c.Type != "" && c.Type != wildcard && p.Type != c.Type {
			continue
		}
		if !c.Tags.Matches(p.Tags) {
			continue
		}
		matches = append(matches, p)
	}

	value := aggregate(c.Aggregate, matches)
	ids := make([]string, 0, len(matches))
	for _, p := range matches {
		ids = append(ids, p.ID)
	}

	return Result{
		Met:                  compare(value, c.Operator, c.Value),
		Value:                value,
		MatchingPheromoneIds: ids,
	}
}

func aggregate(agg Aggregate, matches []pheromone.Snapshot) float64 {
	if len(matches) == 0 {
		switch agg {
		case AggCount:
			return 0
		default:
			return 0
		}
	}
	switch agg {
	case AggSum:
		var sum float64
		for _, p := range matches {
			sum += p.CurrentIntensity
		}
		return sum
	case AggMax:
		max := matches[0].CurrentIntensity
		for _, p := range matches[1:] {
			if p.CurrentIntensity > max {
				max = p.CurrentIntensity
			}
		}
		return max
	case AggAvg:
		var sum float64
		for _, p := range matches {
			sum += p.CurrentIntensity
		}
		return sum / float64(len(matches))
	case AggCount:
		return float64(len(matches))
	case AggAny:
		return 1
	default:
		return 0
	}
}

func compare(value float64, op Operator, target float64) bool {
	switch op {
	case OpGTE:
		return value >= target
	case OpGT:
		return value > target
	case OpLTE:
		return value <= target
	case OpLT:
		return value < target
	case OpEQ:
		return value == target
	case OpNEQ:
		return value != target
	default:
		return false
	}
}

func evalComposite(c *Condition, ctx Context) Result {
	if len(c.Children) == 0 {
		return Result{Met: false}
	}

	childResults := make([]Result, len(c.Children))
	for i, child := range c.Children {
		childResults[i] = Evaluate(child, ctx)
	}

	idSet := make(map[string]struct{})
	metCount := 0
	for _, r := range childResults {
		if r.Met {
			metCount++
		}
		for _, id := range r.MatchingPheromoneIds {
			idSet[id] = struct{}{}
		}
	}

	var met bool
	switch c.Op {
	case CompositeAnd:
		met = metCount == len(childResults)
	case CompositeOr:
		met = metCount > 0
	case CompositeNot:
		met = !childResults[0].Met
	}

	ids := make([]string, 0, len(idSet))
	for id := range idSet {
		ids = append(ids, id)
	}

	return Result{
		Met:                  met,
		Value:                float64(metCount),
		MatchingPheromoneIds: ids,
	}
}

func evalRate(c *Condition, ctx Context) Result {
	cutoff := ctx.NowMs - c.WindowMs
	var records []EmissionRecord
	for _, rec := range ctx.EmissionHistory {
		if rec.TimestampMs < cutoff {
			continue
		}
		if rec.Trail != c.Trail {
			continue
		}
		if c.Type != "" && c.Type != wildcard && rec.Type != c.Type {
			continue
		}
		records = append(records, rec)
	}

	var value float64
	switch c.Metric {
	case RateEmissionsPerSecond:
		value = float64(len(records)) / (float64(c.WindowMs) / 1000.0)
	case RateIntensityDelta:
		value = intensityDelta(records)
	}

	return Result{
		Met:   compare(value, c.Operator, c.Value),
		Value: value,
	}
}

// intensityDelta prefers the precise first-sample-to-last-sample delta
// when per-emission intensity samples are present in the history (the
// spec's recommended, more precise alternative); it falls back to a
// raw emission count when no samples were recorded, matching the
// reference approximation.
func intensityDelta(records []EmissionRecord) float64 {
	if len(records) == 0 {
		return 0
	}
	haveSamples := false
	for _, r := range records {
		if r.IntensityAtEmit != 0 {
			haveSamples = true
			break
		}
	}
	if !haveSamples {
		return float64(len(records))
	}
	return records[len(records)-1].IntensityAtEmit - records[0].IntensityAtEmit
}

func evalPattern(c *Condition, ctx Context) Result {
	cutoff := ctx.NowMs - c.WindowMs
	var records []EmissionRecord
	for _, rec := range ctx.EmissionHistory {
		if rec.TimestampMs >= cutoff {
			records = append(records, rec)
		}
	}

	matched := 0
	if c.orderedOrDefault() {
		cursor := 0
		for _, step := range c.Sequence {
			found := false
			for i := cursor; i < len(records); i++ {
				if stepMatches(step, records[i]) {
					cursor = i + 1
					found = true
					break
				}
			}
			if !found {
				break
			}
			matched++
		}
	} else {
		used := make([]bool, len(records))
		for _, step := range c.Sequence {
			found := false
			for i, rec := range records {
				if used[i] {
					continue
				}
				if stepMatches(step, rec) {
					used[i] = true
					found = true
					break
				}
			}
			if !found {
				continue
			}
			matched++
		}
	}

	return Result{
		Met:   matched == len(c.Sequence),
		Value: float64(matched) / float64(len(c.Sequence)),
	}
}

func stepMatches(step PatternStep, rec EmissionRecord) bool {
	if step.Trail != "" && step.Trail != rec.Trail {
		return false
	}
	if step.Type != "" && step.Type != wildcard && step.Type != rec.Type {
		return false
	}
	return true
}
