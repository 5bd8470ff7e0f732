package blackboard

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/sbp-dev/blackboard/internal/condition"
	"github.com/sbp-dev/blackboard/internal/decay"
	"github.com/sbp-dev/blackboard/internal/pheromone"
)

// Emit deposits or reinforces a pheromone.
func (e *Engine) Emit(ctx context.Context, p EmitParams) (EmitResult, error) {
	_, span := e.startSpan(ctx, "emit")
	defer span.End()

	if p.Trail == "" || p.Type == "" {
		return EmitResult{}, fmt.Errorf("%w: trail and type are required", ErrInvalidPayload)
	}
	if reservedTrail(p.Trail) {
		return EmitResult{}, fmt.Errorf("%w: %q", ErrReservedTrail, p.Trail)
	}

	model, err := clampModel(p.DecayModel)
	if err != nil {
		return EmitResult{}, err
	}

	clamped := decay.Clamp01(p.InitialIntensity)
	now := nowMs()

	ttlFloor := p.TTLFloor
	if ttlFloor <= 0 {
		ttlFloor = e.cfg.TTLFloorDefault
	}

	e.appendEmission(condition.EmissionRecord{
		Trail:           p.Trail,
		Type:            p.Type,
		TimestampMs:     now,
		IntensityAtEmit: clamped,
	})

	mergeStrategy := p.MergeStrategy
	if mergeStrategy == "" {
		mergeStrategy = pheromone.MergeReinforce
	}

	payloadHash := pheromone.HashPayload(p.Payload)

	if mergeStrategy != pheromone.MergeNew {
		if existing := e.findMergeCandidate(p.Trail, p.Type, payloadHash, now); existing != nil {
			return e.applyMerge(existing, mergeStrategy, clamped, model, p, now), nil
		}
	}

	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}

	np := &pheromone.Pheromone{
		ID:               id.String(),
		Trail:            p.Trail,
		Type:             p.Type,
		EmittedAt:        now,
		LastReinforcedAt: now,
		InitialIntensity: clamped,
		DecayModel:       model,
		Payload:          p.Payload,
		PayloadHash:      payloadHash,
		SourceAgent:      p.SourceAgent,
		Tags:             p.Tags,
		TTLFloor:         ttlFloor,
	}
	e.store.Set(np.ID, np)

	if e.store.Size() > e.cfg.MaxPheromones {
		e.gc(now)
	}

	if e.metrics != nil {
		e.metrics.IncEmit(string(ActionCreated))
		active := 0
		for _, entity := range e.store.Values() {
			if !entity.IsEvaporated(now) {
				active++
			}
		}
		e.metrics.SetActivePheromones(active)
	}

	return EmitResult{ID: np.ID, Action: ActionCreated, CurrentIntensity: clamped}, nil
}

// findMergeCandidate locates the first non-evaporated pheromone whose
// (trail, type, payload_hash) matches.
func (e *Engine) findMergeCandidate(trail, typ, payloadHash string, now int64) *pheromone.Pheromone {
	for _, p := range e.store.Values() {
		if p.Trail == trail && p.Type == typ && p.PayloadHash == payloadHash && !p.IsEvaporated(now) {
			return p
		}
	}
	return nil
}

func (e *Engine) applyMerge(existing *pheromone.Pheromone, strategy pheromone.MergeStrategy, clamped float64, model decay.Model, p EmitParams, now int64) EmitResult {
	previous := existing.CurrentIntensity(now)

	switch strategy {
	case pheromone.MergeReinforce:
		existing.InitialIntensity = clamped
		existing.LastReinforcedAt = now
	case pheromone.MergeReplace:
		existing.InitialIntensity = clamped
		existing.LastReinforcedAt = now
		existing.Payload = p.Payload
		existing.Tags = p.Tags
		if p.SourceAgent != "" {
			existing.SourceAgent = p.SourceAgent
		}
	case pheromone.MergeMax:
		existing.InitialIntensity = maxFloat(previous, clamped)
		existing.LastReinforcedAt = now
	case pheromone.MergeAdd:
		existing.InitialIntensity = decay.Clamp01(previous + clamped)
		existing.LastReinforcedAt = now
	}
	existing.DecayModel = model
	e.store.Set(existing.ID, existing)

	action := ActionMerged
	switch strategy {
	case pheromone.MergeReinforce:
		action = ActionReinforced
	case pheromone.MergeReplace:
		action = ActionReplaced
	}

	if e.metrics != nil {
		e.metrics.IncEmit(string(action))
	}

	return EmitResult{
		ID:                existing.ID,
		Action:            action,
		CurrentIntensity:  existing.CurrentIntensity(now),
		PreviousIntensity: &previous,
	}
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

// Sniff returns live pheromones matching the given filters, sorted by
// current intensity descending.
func (e *Engine) Sniff(ctx context.Context, p SniffParams) (SniffResult, error) {
	_, span := e.startSpan(ctx, "sniff")
	defer span.End()

	now := nowMs()
	trailSet := toSet(p.Trails)
	typeSet := toSet(p.Types)

	var matches []pheromone.Snapshot
	aggregates := make(map[string]TrailTypeAggregate)

	for _, entity := range e.store.Values() {
		if len(trailSet) > 0 {
			if _, ok := trailSet[entity.Trail]; !ok {
				continue
			}
		}
		if len(typeSet) > 0 {
			if _, ok := typeSet[entity.Type]; !ok {
				continue
			}
		}
		if !p.Tags.Matches(entity.Tags) {
			continue
		}
		evaporated := entity.IsEvaporated(now)
		if evaporated && !p.IncludeEvaporated {
			continue
		}
		current := entity.CurrentIntensity(now)
		if current < p.MinIntensity {
			continue
		}
		if p.MaxAgeMs > 0 && now-entity.EmittedAt > p.MaxAgeMs {
			continue
		}

		snap := entity.Snapshot(now)
		matches = append(matches, snap)

		key := entity.Trail + "\x00" + entity.Type
		agg := aggregates[key]
		agg.Count++
		agg.SumIntensity += current
		if current > agg.MaxIntensity || agg.Count == 1 {
			agg.MaxIntensity = current
		}
		aggregates[key] = agg
	}

	for key, agg := range aggregates {
		if agg.Count > 0 {
			agg.AvgIntensity = agg.SumIntensity / float64(agg.Count)
		}
		aggregates[key] = agg
	}

	sort.Slice(matches, func(i, j int) bool {
		return matches[i].CurrentIntensity > matches[j].CurrentIntensity
	})
	if p.Limit > 0 && len(matches) > p.Limit {
		matches = matches[:p.Limit]
	}

	return SniffResult{Pheromones: matches, Aggregates: aggregates, Timestamp: now}, nil
}

func toSet(values []string) map[string]struct{} {
	if len(values) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}

// RegisterScent upserts a scent and immediately evaluates its
// condition once.
func (e *Engine) RegisterScent(ctx context.Context, p RegisterScentParams) (RegisterScentResult, error) {
	_, span := e.startSpan(ctx, "register_scent")
	defer span.End()

	if p.ScentID == "" {
		return RegisterScentResult{}, fmt.Errorf("%w: scent_id is required", ErrInvalidPayload)
	}
	if err := condition.Validate(p.Condition); err != nil {
		return RegisterScentResult{}, fmt.Errorf("%w: %v", ErrInvalidCondition, err)
	}

	mode := p.TriggerMode
	if mode == "" {
		mode = TriggerLevel
	}

	e.mu.Lock()
	existing, found := e.scents[p.ScentID]
	scent := &Scent{
		ScentID:           p.ScentID,
		AgentEndpoint:     p.AgentEndpoint,
		Condition:         p.Condition,
		CooldownMs:        p.CooldownMs,
		ActivationPayload: p.ActivationPayload,
		TriggerMode:       mode,
		Hysteresis:        p.Hysteresis,
		MaxExecutionMs:    p.MaxExecutionMs,
		ContextTrails:     p.ContextTrails,
	}
	if found {
		scent.LastTriggeredAt = existing.LastTriggeredAt
		scent.LastConditionMet = existing.LastConditionMet
		scent.resetOnUpdate()
	}
	e.scents[p.ScentID] = scent
	scentCount := len(e.scents)
	e.mu.Unlock()

	if e.metrics != nil {
		e.metrics.SetScentCount(scentCount)
	}

	now := nowMs()
	result := condition.Evaluate(scent.Condition, e.evaluationContext(now))

	status := StatusRegistered
	if found {
		status = StatusUpdated
	}
	return RegisterScentResult{Status: status, CurrentConditionState: result}, nil
}

// DeregisterScent removes a scent and any bound in-process handler.
func (e *Engine) DeregisterScent(ctx context.Context, scentID string) (DeregisterScentResult, error) {
	_, span := e.startSpan(ctx, "deregister_scent")
	defer span.End()

	e.mu.Lock()
	_, found := e.scents[scentID]
	delete(e.scents, scentID)
	scentCount := len(e.scents)
	e.mu.Unlock()

	e.OffTrigger(scentID)

	if e.metrics != nil {
		e.metrics.SetScentCount(scentCount)
	}

	if !found {
		return DeregisterScentResult{Status: StatusNotFound}, nil
	}
	return DeregisterScentResult{Status: StatusRemoved}, nil
}

// Evaporate removes pheromones matching every supplied filter.
func (e *Engine) Evaporate(ctx context.Context, p EvaporateParams) (EvaporateResult, error) {
	_, span := e.startSpan(ctx, "evaporate")
	defer span.End()

	now := nowMs()
	typeSet := toSet(p.Types)
	trailsAffected := make(map[string]struct{})
	removed := 0

	for _, entity := range e.store.Values() {
		if p.Trail != "" && entity.Trail != p.Trail {
			continue
		}
		if len(typeSet) > 0 {
			if _, ok := typeSet[entity.Type]; !ok {
				continue
			}
		}
		if p.OlderThanMs > 0 && now-entity.EmittedAt <= p.OlderThanMs {
			continue
		}
		if p.BelowIntensity > 0 && entity.CurrentIntensity(now) >= p.BelowIntensity {
			continue
		}
		if !p.Tags.Matches(entity.Tags) {
			continue
		}
		e.store.Delete(entity.ID)
		trailsAffected[entity.Trail] = struct{}{}
		removed++
	}

	trails := make([]string, 0, len(trailsAffected))
	for t := range trailsAffected {
		trails = append(trails, t)
	}
	sort.Strings(trails)

	return EvaporateResult{RemovedCount: removed, TrailsAffected: trails}, nil
}

// Inspect reports diagnostic sections about the engine's state.
func (e *Engine) Inspect(ctx context.Context, p InspectParams) (InspectResult, error) {
	_, span := e.startSpan(ctx, "inspect")
	defer span.End()

	now := nowMs()
	wantAll := len(p.Sections) == 0
	want := toSet(p.Sections)
	wants := func(section string) bool {
		if wantAll {
			return true
		}
		_, ok := want[section]
		return ok
	}

	var result InspectResult

	if wants("trails") {
		byTrail := make(map[string]*TrailInfo)
		for _, entity := range e.store.Values() {
			if entity.IsEvaporated(now) {
				continue
			}
			info, ok := byTrail[entity.Trail]
			if !ok {
				info = &TrailInfo{Trail: entity.Trail}
				byTrail[entity.Trail] = info
			}
			info.Count++
			info.TotalIntensity += entity.CurrentIntensity(now)
		}
		for _, info := range byTrail {
			if info.Count > 0 {
				info.AvgIntensity = info.TotalIntensity / float64(info.Count)
			}
			result.Trails = append(result.Trails, *info)
		}
		sort.Slice(result.Trails, func(i, j int) bool { return result.Trails[i].Trail < result.Trails[j].Trail })
	}

	if wants("scents") {
		e.mu.RLock()
		for _, s := range e.scents {
			result.Scents = append(result.Scents, ScentInfo{
				ScentID:          s.ScentID,
				AgentEndpoint:    s.AgentEndpoint,
				LastConditionMet: s.LastConditionMet,
				InCooldown:       s.inCooldown(now),
				LastTriggeredAt:  s.LastTriggeredAt,
			})
		}
		e.mu.RUnlock()
		sort.Slice(result.Scents, func(i, j int) bool { return result.Scents[i].ScentID < result.Scents[j].ScentID })
	}

	if wants("stats") {
		active := 0
		total := e.store.Size()
		for _, entity := range e.store.Values() {
			if !entity.IsEvaporated(now) {
				active++
			}
		}
		e.mu.RLock()
		scentCount := len(e.scents)
		e.mu.RUnlock()
		result.Stats = &StatsInfo{
			TotalPheromones:  total,
			ActivePheromones: active,
			ScentCount:       scentCount,
			UptimeMs:         now - e.startedAt.UnixMilli(),
		}
	}

	return result, nil
}

// OnTrigger binds an in-process handler to scentID. A bound handler
// preempts HTTP dispatch for that scent.
func (e *Engine) OnTrigger(scentID string, handler TriggerHandler) {
	e.handlersMu.Lock()
	defer e.handlersMu.Unlock()
	e.handlers[scentID] = handler
}

// OffTrigger removes any in-process handler bound to scentID.
func (e *Engine) OffTrigger(scentID string) {
	e.handlersMu.Lock()
	defer e.handlersMu.Unlock()
	delete(e.handlers, scentID)
}

// evaluationContext builds the condition.Context shared by a single
// evaluation tick (or a single registerScent preview), snapshotting
// live, non-evaporated pheromones as of now.
func (e *Engine) evaluationContext(now int64) condition.Context {
	var live []pheromone.Snapshot
	for _, p := range e.store.Values() {
		if p.IsEvaporated(now) {
			continue
		}
		live = append(live, p.Snapshot(now))
	}
	return condition.Context{
		Pheromones:      live,
		NowMs:           now,
		EmissionHistory: e.historySnapshot(),
	}
}
