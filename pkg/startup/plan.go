package startup

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/core-tools/hsu-startup/pkg/errors"
)

// PlanEntry is the resolved policy and action of one unit in a pass
type PlanEntry struct {
	UnitID      string        `json:"unit_id"`
	DisplayName string        `json:"display_name"`
	Index       int           `json:"index"`
	Policy      Policy        `json:"policy"`
	FireAfter   time.Duration `json:"fire_after,omitempty"`
	Action      Action        `json:"action"`
	Error       string        `json:"error,omitempty"`
}

type SkippedUnit struct {
	UnitID string `json:"unit_id"`
	Reason string `json:"reason"`
}

// StartupPlan describes one scheduling pass. Entries are in display-name
// order, the order stagger offsets are derived from.
type StartupPlan struct {
	PassID             string        `json:"pass_id"`
	CreatedAt          time.Time     `json:"created_at"`
	Applied            bool          `json:"applied"`
	RestrictedPlatform bool          `json:"restricted_platform"`
	Entries            []PlanEntry   `json:"entries"`
	Skipped            []SkippedUnit `json:"skipped,omitempty"`
	LoadOrder          LoadOrder     `json:"load_order"`
}

// UnitPolicy is a partial update of a unit's configuration. Nil fields are
// left unchanged; an empty LoadAfter clears it.
type UnitPolicy struct {
	StartupClass *StartupClass `json:"startup_class,omitempty"`
	LoadAfter    *string       `json:"load_after,omitempty"`
	GroupIDs     *[]string     `json:"group_ids,omitempty"`
}

type passUnits struct {
	scan    []ManagedUnit
	sorted  []ManagedUnit
	skipped []SkippedUnit
}

func (p *passUnits) find(unitID string) (ManagedUnit, int, bool) {
	for i, unit := range p.sorted {
		if unit.ID == unitID {
			return unit, i, true
		}
	}
	return ManagedUnit{}, -1, false
}

func (p *passUnits) contains(unitID string) bool {
	_, _, ok := p.find(unitID)
	return ok
}

// collectUnits lists host units, drops malformed ids, duplicates and units
// the restricted platform cannot run, and sorts the rest by display name.
func (s *Scheduler) collectUnits(ctx context.Context) (*passUnits, error) {
	units, err := s.host.ListUnits(ctx)
	if err != nil {
		return nil, errors.NewHostError("failed to list units", err)
	}

	s.statusMutex.Lock()
	restricted := s.restricted
	s.statusMutex.Unlock()

	result := &passUnits{scan: make([]ManagedUnit, 0, len(units))}
	seen := make(map[string]bool, len(units))
	for _, unit := range units {
		if err := ValidateUnitID(unit.ID); err != nil {
			s.logger.Warnf("Unit id reported by host is invalid, skipping, unit: %q, error: %v", unit.ID, err)
			result.skipped = append(result.skipped, SkippedUnit{UnitID: unit.ID, Reason: "invalid_id"})
			continue
		}
		if seen[unit.ID] {
			s.logger.Warnf("Duplicate unit id reported by host, keeping first, unit: %s", unit.ID)
			result.skipped = append(result.skipped, SkippedUnit{UnitID: unit.ID, Reason: "duplicate"})
			continue
		}
		seen[unit.ID] = true
		if restricted && unit.PlatformRestricted {
			s.logger.Infof("Unit not supported on restricted platform, skipping, unit: %s", unit.ID)
			result.skipped = append(result.skipped, SkippedUnit{UnitID: unit.ID, Reason: "platform_restricted"})
			continue
		}
		result.scan = append(result.scan, unit)
	}
	result.sorted = sortByDisplayName(result.scan)
	return result, nil
}

// resolvePolicies computes every unit's effective policy and the resolver
// input, in host scan order. Units whose policy fails are left out.
func (s *Scheduler) resolvePolicies(ctx context.Context, units *passUnits) (map[string]Policy, map[string]error, []LoadOrderInput) {
	created := false
	for _, unit := range units.scan {
		if s.groups.AssignNewUnit(unit.ID) {
			created = true
		}
	}
	if created {
		if err := s.env.Persist(ctx); err != nil {
			s.logger.Warnf("Failed to persist new unit configs: %v", err)
		}
	}

	policies := make(map[string]Policy, len(units.scan))
	failures := make(map[string]error)
	inputs := make([]LoadOrderInput, 0, len(units.scan))
	for _, unit := range units.scan {
		policy, err := s.groups.EffectivePolicy(ctx, unit.ID)
		if err != nil {
			failures[unit.ID] = err
			continue
		}
		policies[unit.ID] = policy

		input := LoadOrderInput{ID: unit.ID, Class: policy.Class}
		if cfg, ok := s.env.Profile.UnitConfigFor(unit.ID); ok {
			input.LoadAfter = cfg.LoadAfter
			if cfg.LoadAfter != "" && !units.contains(cfg.LoadAfter) {
				err := errors.NewUnknownReferenceError("load-after unit not found: "+cfg.LoadAfter, nil).WithContext("unit_id", unit.ID)
				s.logger.Debugf("Load-after treated as absent, unit: %s, error: %v", unit.ID, err)
			}
		}
		inputs = append(inputs, input)
	}
	return policies, failures, inputs
}

// computeLoadOrder runs the resolver and optionally persists the result. A
// CycleDetected error is returned together with the complete order.
func (s *Scheduler) computeLoadOrder(ctx context.Context, inputs []LoadOrderInput, persist bool) (LoadOrder, error) {
	order, cycleErr := ComputeLoadOrder(inputs)
	s.observer.LoadOrderComputed(len(order.Order), order.Truncated)
	if cycleErr != nil {
		s.logger.Warnf("Load order has unresolved load-after chain, iterations: %d, unresolved: %v",
			order.Iterations, order.Unresolved)
	}

	if !persist {
		return order, cycleErr
	}

	s.env.Profile.LoadOrder = append([]string{}, order.Order...)
	if err := s.env.Persist(ctx); err != nil {
		return order, errors.NewIOError("failed to persist load order", err)
	}

	s.statusMutex.Lock()
	s.lastOrder = append([]string{}, order.Order...)
	s.statusMutex.Unlock()

	return order, cycleErr
}

// ComputeStartupPlan resolves every unit's policy and the action a pass would
// take now, without issuing host actions or arming timers.
func (s *Scheduler) ComputeStartupPlan(ctx context.Context) (*StartupPlan, error) {
	return s.runPass(ctx, false)
}

// ApplyStartupPlan runs a scheduling pass over all host units. Per-unit
// failures do not stop the pass; they are returned as an ErrorCollection
// together with the plan.
func (s *Scheduler) ApplyStartupPlan(ctx context.Context) (*StartupPlan, error) {
	return s.runPass(ctx, true)
}

func (s *Scheduler) runPass(ctx context.Context, apply bool) (*StartupPlan, error) {
	s.opMutex.Lock()
	defer s.opMutex.Unlock()

	if err := s.checkActive(); err != nil {
		return nil, err
	}
	if err := s.ensureLoaded(ctx); err != nil {
		return nil, err
	}

	units, err := s.collectUnits(ctx)
	if err != nil {
		return nil, err
	}

	s.statusMutex.Lock()
	restricted := s.restricted
	s.statusMutex.Unlock()

	plan := &StartupPlan{
		PassID:             uuid.NewString(),
		CreatedAt:          s.now(),
		Applied:            apply,
		RestrictedPlatform: restricted,
		Entries:            make([]PlanEntry, 0, len(units.sorted)),
		Skipped:            units.skipped,
	}
	s.logger.Infof("Starting pass, id: %s, apply: %t, units: %d, skipped: %d",
		plan.PassID, apply, len(units.sorted), len(units.skipped))

	policies, failures, inputs := s.resolvePolicies(ctx, units)

	collection := errors.NewErrorCollection()

	order, err := s.computeLoadOrder(ctx, inputs, apply)
	plan.LoadOrder = order
	if err != nil && !errors.IsCycleDetectedError(err) {
		s.logger.Errorf("Failed to persist load order, pass: %s, error: %v", plan.PassID, err)
		collection.Add(err)
	}

	stagger := s.env.Profile.Stagger()
	for index, unit := range units.sorted {
		entry := PlanEntry{
			UnitID:      unit.ID,
			DisplayName: unit.DisplayName,
			Index:       index,
		}

		if err, failed := failures[unit.ID]; failed {
			entry.Action = ActionFailed
			entry.Error = err.Error()
			collection.Add(err)
			s.logger.Errorf("Failed to resolve policy, unit: %s, error: %v", unit.ID, err)
			if apply {
				s.record(unit.ID, nil, ActionFailed, err)
			}
			plan.Entries = append(plan.Entries, entry)
			continue
		}

		policy := policies[unit.ID]
		entry.Policy = policy
		entry.FireAfter = policy.FireAfter(index, stagger)

		action, err := s.applyPolicy(ctx, unit, index, policy, apply)
		entry.Action = action
		if err != nil {
			entry.Error = err.Error()
			collection.Add(err)
		}
		if apply {
			s.record(unit.ID, &policy, action, err)
		}
		plan.Entries = append(plan.Entries, entry)
	}

	if apply {
		s.statusMutex.Lock()
		s.lastPassID = plan.PassID
		s.lastPassAt = plan.CreatedAt
		s.statusMutex.Unlock()
	}

	s.logger.Infof("Pass done, id: %s, apply: %t, failures: %d, pending timers: %d",
		plan.PassID, apply, len(collection.Errors), s.timers.count())
	return plan, collection.ToError()
}

// ApplyStartup applies the effective policy of a single unit
func (s *Scheduler) ApplyStartup(ctx context.Context, unitID string) error {
	s.opMutex.Lock()
	defer s.opMutex.Unlock()

	if err := s.checkActive(); err != nil {
		return err
	}
	if err := s.ensureLoaded(ctx); err != nil {
		return err
	}

	units, err := s.collectUnits(ctx)
	if err != nil {
		return err
	}
	unit, index, ok := units.find(unitID)
	if !ok {
		return errors.NewNotFoundError("unit not found", nil).WithContext("unit_id", unitID)
	}

	if s.groups.AssignNewUnit(unitID) {
		if err := s.env.Persist(ctx); err != nil {
			s.logger.Warnf("Failed to persist new unit config, unit: %s, error: %v", unitID, err)
		}
	}

	policy, err := s.groups.EffectivePolicy(ctx, unitID)
	if err != nil {
		s.record(unitID, nil, ActionFailed, err)
		return err
	}

	action, err := s.applyPolicy(ctx, unit, index, policy, true)
	s.record(unitID, &policy, action, err)
	return err
}

// RecomputeLoadOrder recomputes and persists the load order. On a cycle the
// persisted order is still complete and the CycleDetected error is returned.
func (s *Scheduler) RecomputeLoadOrder(ctx context.Context) (LoadOrder, error) {
	s.opMutex.Lock()
	defer s.opMutex.Unlock()

	if err := s.checkActive(); err != nil {
		return LoadOrder{}, err
	}
	if err := s.ensureLoaded(ctx); err != nil {
		return LoadOrder{}, err
	}
	return s.recomputeLoadOrderLocked(ctx)
}

func (s *Scheduler) recomputeLoadOrderLocked(ctx context.Context) (LoadOrder, error) {
	units, err := s.collectUnits(ctx)
	if err != nil {
		return LoadOrder{}, err
	}
	_, failures, inputs := s.resolvePolicies(ctx, units)
	for unitID, err := range failures {
		s.logger.Warnf("Unit left out of load order, unit: %s, error: %v", unitID, err)
	}
	return s.computeLoadOrder(ctx, inputs, true)
}

// SetUnitPolicy edits one unit's configuration, persists it and recomputes
// the load order. The profile is reloaded from the store first so edits made
// elsewhere are not overwritten.
func (s *Scheduler) SetUnitPolicy(ctx context.Context, unitID string, policy UnitPolicy) error {
	if err := ValidateUnitID(unitID); err != nil {
		return err
	}
	if policy.StartupClass != nil && !policy.StartupClass.IsValid() {
		return errors.NewValidationError("invalid startup class", nil).WithContext("unit_id", unitID)
	}
	if policy.LoadAfter != nil && *policy.LoadAfter == unitID {
		return errors.NewValidationError("unit cannot load after itself", nil).WithContext("unit_id", unitID)
	}

	s.opMutex.Lock()
	defer s.opMutex.Unlock()

	if err := s.checkActive(); err != nil {
		return err
	}
	if err := s.reload(ctx); err != nil {
		return err
	}

	units, listErr := s.collectUnits(ctx)
	if listErr != nil {
		s.logger.Warnf("Failed to list units, skipping reference checks, unit: %s, error: %v", unitID, listErr)
	}

	cfg, _ := s.env.Profile.EnsureUnitConfig(unitID)

	if policy.StartupClass != nil {
		cfg.StartupClass = ClassPtr(*policy.StartupClass)
	}

	if policy.LoadAfter != nil {
		cfg.LoadAfter = *policy.LoadAfter
		if cfg.LoadAfter != "" && units != nil && !units.contains(cfg.LoadAfter) {
			err := errors.NewUnknownReferenceError("load-after unit not found: "+cfg.LoadAfter, nil).WithContext("unit_id", unitID)
			s.logger.Warnf("Load-after is ignored until the unit appears, unit: %s, error: %v", unitID, err)
		}
	}

	if policy.GroupIDs != nil {
		groupIDs := make([]string, 0, len(*policy.GroupIDs))
		seen := make(map[string]bool)
		for _, id := range *policy.GroupIDs {
			if id == "" || seen[id] {
				continue
			}
			seen[id] = true
			if _, ok := s.groups.resolve(id); !ok {
				err := errors.NewUnknownReferenceError("group not found: "+id, nil).WithContext("unit_id", unitID)
				s.logger.Warnf("Group is ignored until it is defined, unit: %s, error: %v", unitID, err)
			}
			groupIDs = append(groupIDs, id)
		}
		cfg.GroupIDs = groupIDs
	}

	if err := s.env.Persist(ctx); err != nil {
		return errors.NewIOError("failed to persist unit policy", err).WithContext("unit_id", unitID)
	}
	s.logger.Infof("Unit policy updated, unit: %s", unitID)

	if listErr != nil {
		return nil
	}
	if _, err := s.recomputeLoadOrderLocked(ctx); err != nil && !errors.IsCycleDetectedError(err) {
		return err
	}
	return nil
}

// SetGroup creates or replaces a group and recomputes the load order
func (s *Scheduler) SetGroup(ctx context.Context, group Group) error {
	return s.editGroups(ctx, func(ctx context.Context) error {
		return s.groups.SetGroup(ctx, group)
	})
}

// RemoveGroup deletes a group, strips it from every unit and recomputes the
// load order
func (s *Scheduler) RemoveGroup(ctx context.Context, groupID string) error {
	return s.editGroups(ctx, func(ctx context.Context) error {
		return s.groups.RemoveGroup(ctx, groupID)
	})
}

func (s *Scheduler) editGroups(ctx context.Context, edit func(context.Context) error) error {
	s.opMutex.Lock()
	defer s.opMutex.Unlock()

	if err := s.checkActive(); err != nil {
		return err
	}
	if err := s.reload(ctx); err != nil {
		return err
	}
	if err := edit(ctx); err != nil {
		return err
	}
	if _, err := s.recomputeLoadOrderLocked(ctx); err != nil && !errors.IsCycleDetectedError(err) {
		s.logger.Warnf("Failed to recompute load order after group edit: %v", err)
	}
	return nil
}
