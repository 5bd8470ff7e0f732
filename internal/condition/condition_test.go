package condition

import (
	"testing"

	"github.com/sbp-dev/blackboard/internal/pheromone"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func snap(id, trail, typ string, intensity float64, tags ...string) pheromone.Snapshot {
	return pheromone.Snapshot{
		ID:               id,
		Trail:            trail,
		Type:             typ,
		CurrentIntensity: intensity,
		Tags:             tags,
	}
}

func TestThreshold_AggregatesAndOperators(t *testing.T) {
	ctx := Context{
		NowMs: 1000,
		Pheromones: []pheromone.Snapshot{
			snap("p1", "a/alert", "x", 0.8),
			snap("p2", "a/warn", "x", 0.3),
			snap("p3", "a/warn", "x", 0.4),
			snap("p4", "a/warn", "y", 0.9),
		},
	}

	sumCond := &Condition{Kind: KindThreshold, Trail: "a/warn", Aggregate: AggSum, Operator: OpGTE, Value: 0.6}
	r := Evaluate(sumCond, ctx)
	assert.True(t, r.Met)
	assert.InDelta(t, 1.6, r.Value, 1e-9)
	assert.ElementsMatch(t, []string{"p2", "p3", "p4"}, r.MatchingPheromoneIds)

	maxCond := &Condition{Kind: KindThreshold, Trail: "a/alert", Aggregate: AggMax, Operator: OpGTE, Value: 0.7}
	assert.True(t, Evaluate(maxCond, ctx).Met)

	countCond := &Condition{Kind: KindThreshold, Trail: "a/warn", Type: "x", Aggregate: AggCount, Operator: OpGTE, Value: 2}
	rc := Evaluate(countCond, ctx)
	assert.True(t, rc.Met)
	assert.Equal(t, 2.0, rc.Value)

	emptyCond := &Condition{Kind: KindThreshold, Trail: "nonexistent", Aggregate: AggSum, Operator: OpEQ, Value: 0}
	re := Evaluate(emptyCond, ctx)
	assert.True(t, re.Met)
	assert.Equal(t, 0.0, re.Value)
}

func TestThreshold_Wildcard(t *testing.T) {
	ctx := Context{Pheromones: []pheromone.Snapshot{
		snap("p1", "a/x", "alpha", 1.0),
		snap("p2", "a/x", "beta", 1.0),
	}}
	cond := &Condition{Kind: KindThreshold, Trail: "a/x", Type: "*", Aggregate: AggCount, Operator: OpEQ, Value: 2}
	assert.True(t, Evaluate(cond, ctx).Met)
}

func TestThreshold_TagFilter(t *testing.T) {
	ctx := Context{Pheromones: []pheromone.Snapshot{
		snap("p1", "a/x", "t", 1.0, "urgent"),
		snap("p2", "a/x", "t", 1.0, "low"),
	}}
	cond := &Condition{
		Kind: KindThreshold, Trail: "a/x", Aggregate: AggCount, Operator: OpEQ, Value: 1,
		Tags: pheromone.TagFilter{Any: []string{"urgent"}},
	}
	assert.True(t, Evaluate(cond, ctx).Met)
}

// Composite AND over max(a/alert) >= 0.7 and count(a/warn) >= 2.
func TestComposite_AndScenario(t *testing.T) {
	ctx := Context{Pheromones: []pheromone.Snapshot{
		snap("alert1", "a/alert", "x", 0.8),
		snap("warn1", "a/warn", "x", 1.0),
		snap("warn2", "a/warn", "x", 1.0),
		snap("warn3", "a/warn", "x", 1.0),
	}}
	cond := &Condition{
		Kind: KindComposite,
		Op:   CompositeAnd,
		Children: []*Condition{
			{Kind: KindThreshold, Trail: "a/alert", Aggregate: AggMax, Operator: OpGTE, Value: 0.7},
			{Kind: KindThreshold, Trail: "a/warn", Aggregate: AggCount, Operator: OpGTE, Value: 2},
		},
	}
	r := Evaluate(cond, ctx)
	assert.True(t, r.Met)
	assert.Equal(t, 2.0, r.Value)
	assert.Len(t, r.MatchingPheromoneIds, 4)
}

func TestComposite_Or(t *testing.T) {
	ctx := Context{Pheromones: []pheromone.Snapshot{snap("p1", "a/x", "t", 0.1)}}
	cond := &Condition{
		Kind: KindComposite,
		Op:   CompositeOr,
		Children: []*Condition{
			{Kind: KindThreshold, Trail: "a/x", Aggregate: AggMax, Operator: OpGTE, Value: 0.9},
			{Kind: KindThreshold, Trail: "a/x", Aggregate: AggAny, Operator: OpGTE, Value: 1},
		},
	}
	assert.True(t, Evaluate(cond, ctx).Met)
}

func TestComposite_Not(t *testing.T) {
	ctx := Context{}
	cond := &Condition{
		Kind: KindComposite,
		Op:   CompositeNot,
		Children: []*Condition{
			{Kind: KindThreshold, Trail: "a/x", Aggregate: AggCount, Operator: OpGT, Value: 0},
		},
	}
	assert.True(t, Evaluate(cond, ctx).Met)
}

func TestComposite_EmptyChildrenNotMet(t *testing.T) {
	cond := &Condition{Kind: KindComposite, Op: CompositeAnd}
	assert.False(t, Evaluate(cond, Context{}).Met)
}

func TestRate_EmissionsPerSecond(t *testing.T) {
	ctx := Context{
		NowMs: 10_000,
		EmissionHistory: []EmissionRecord{
			{Trail: "a/x", Type: "t", TimestampMs: 9000},
			{Trail: "a/x", Type: "t", TimestampMs: 9500},
			{Trail: "a/x", Type: "t", TimestampMs: 9900},
			{Trail: "a/y", Type: "t", TimestampMs: 9900},
		},
	}
	cond := &Condition{Kind: KindRate, Trail: "a/x", Type: "t", WindowMs: 1000, Metric: RateEmissionsPerSecond, Operator: OpGTE, Value: 3}
	assert.True(t, Evaluate(cond, ctx).Met)
}

func TestRate_IntensityDeltaFallsBackToCount(t *testing.T) {
	ctx := Context{
		NowMs: 2000,
		EmissionHistory: []EmissionRecord{
			{Trail: "a/x", Type: "t", TimestampMs: 1000},
			{Trail: "a/x", Type: "t", TimestampMs: 1500},
		},
	}
	cond := &Condition{Kind: KindRate, Trail: "a/x", WindowMs: 1000, Metric: RateIntensityDelta, Operator: OpEQ, Value: 2}
	assert.True(t, Evaluate(cond, ctx).Met)
}

func TestRate_IntensityDeltaWithSamples(t *testing.T) {
	ctx := Context{
		NowMs: 2000,
		EmissionHistory: []EmissionRecord{
			{Trail: "a/x", Type: "t", TimestampMs: 1000, IntensityAtEmit: 0.2},
			{Trail: "a/x", Type: "t", TimestampMs: 1500, IntensityAtEmit: 0.9},
		},
	}
	cond := &Condition{Kind: KindRate, Trail: "a/x", WindowMs: 1000, Metric: RateIntensityDelta, Operator: OpGTE, Value: 0.5}
	r := Evaluate(cond, ctx)
	assert.True(t, r.Met)
	assert.InDelta(t, 0.7, r.Value, 1e-9)
}

func TestPattern_Ordered(t *testing.T) {
	history := []EmissionRecord{
		{Trail: "pipeline", Type: "step-1", TimestampMs: 0},
		{Trail: "pipeline", Type: "step-2", TimestampMs: 100},
		{Trail: "pipeline", Type: "step-3", TimestampMs: 200},
	}
	seq := []PatternStep{{Trail: "pipeline", Type: "step-1"}, {Trail: "pipeline", Type: "step-2"}, {Trail: "pipeline", Type: "step-3"}}

	ordered := true
	cond := &Condition{Kind: KindPattern, Sequence: seq, WindowMs: 1000, Ordered: &ordered}
	ctx := Context{NowMs: 300, EmissionHistory: history}
	r := Evaluate(cond, ctx)
	assert.True(t, r.Met)
	assert.Equal(t, 1.0, r.Value)

	reversed := []EmissionRecord{
		{Trail: "pipeline", Type: "step-3", TimestampMs: 0},
		{Trail: "pipeline", Type: "step-2", TimestampMs: 100},
		{Trail: "pipeline", Type: "step-1", TimestampMs: 200},
	}
	ctxReversed := Context{NowMs: 300, EmissionHistory: reversed}
	assert.False(t, Evaluate(cond, ctxReversed).Met, "reversed emissions must not satisfy an ordered pattern")

	unordered := false
	condUnordered := &Condition{Kind: KindPattern, Sequence: seq, WindowMs: 1000, Ordered: &unordered}
	assert.True(t, Evaluate(condUnordered, ctxReversed).Met, "reversed emissions satisfy an unordered pattern")
}

func TestPattern_DefaultsOrdered(t *testing.T) {
	cond := &Condition{Kind: KindPattern, Sequence: []PatternStep{{Type: "a"}, {Type: "b"}}, WindowMs: 1000}
	assert.True(t, cond.orderedOrDefault())
}

func TestValidate_RejectsMalformedConditions(t *testing.T) {
	cases := []*Condition{
		{Kind: KindThreshold, Aggregate: AggSum, Operator: OpGTE}, // missing trail
		{Kind: KindThreshold, Trail: "a", Aggregate: "bogus", Operator: OpGTE},
		{Kind: KindComposite, Op: CompositeAnd},                            // no children
		{Kind: KindComposite, Op: CompositeNot, Children: []*Condition{{}, {}}}, // too many children
		{Kind: KindRate, Trail: "a", WindowMs: 0, Metric: RateEmissionsPerSecond, Operator: OpGTE},
		{Kind: KindPattern, WindowMs: 1000},
		{Kind: "bogus"},
	}
	for _, c := range cases {
		assert.Error(t, Validate(c))
	}
}

func TestValidate_AcceptsWellFormedConditions(t *testing.T) {
	ok := &Condition{
		Kind: KindComposite,
		Op:   CompositeAnd,
		Children: []*Condition{
			{Kind: KindThreshold, Trail: "a/x", Aggregate: AggMax, Operator: OpGTE, Value: 0.5},
			{Kind: KindRate, Trail: "a/y", WindowMs: 1000, Metric: RateEmissionsPerSecond, Operator: OpGT, Value: 1},
		},
	}
	require.NoError(t, Validate(ok))
}
