package startup

import (
	"context"
	"strings"

	"github.com/core-tools/hsu-startup/pkg/errors"
)

// BuiltinGroupPrefix marks the groups synthesized from legacy startup classes
const BuiltinGroupPrefix = "builtin:"

// BuiltinGroupID returns the synthesized group id for a legacy class
func BuiltinGroupID(class StartupClass) string {
	return BuiltinGroupPrefix + class.String()
}

// GroupRegistry resolves which group governs a unit and the policy it yields
type GroupRegistry struct {
	env        *Env
	classifier *Classifier
}

func NewGroupRegistry(env *Env, classifier *Classifier) *GroupRegistry {
	return &GroupRegistry{
		env:        env,
		classifier: classifier,
	}
}

// GroupsFor returns the unit's known groups in configured order. A unit with
// no (known) groups gets the singleton builtin group of its legacy class.
func (r *GroupRegistry) GroupsFor(ctx context.Context, unitID string) ([]string, error) {
	cfg, _ := r.env.Profile.EnsureUnitConfig(unitID)

	groupIDs := make([]string, 0, len(cfg.GroupIDs))
	for _, id := range cfg.GroupIDs {
		if _, ok := r.resolve(id); !ok {
			err := errors.NewUnknownReferenceError("group not found: "+id, nil).WithContext("unit_id", unitID)
			r.env.Logger.Warnf("Ignoring group, unit: %s, error: %v", unitID, err)
			continue
		}
		groupIDs = append(groupIDs, id)
	}
	if len(groupIDs) > 0 {
		return groupIDs, nil
	}

	class, err := r.classifier.StartupClass(ctx, unitID)
	if err != nil {
		return nil, err
	}
	return []string{BuiltinGroupID(class)}, nil
}

// EffectivePolicy picks, among the unit's groups enabled during startup, the
// one with the smallest delay. Ties go to the first group in the unit's list.
func (r *GroupRegistry) EffectivePolicy(ctx context.Context, unitID string) (Policy, error) {
	groupIDs, err := r.GroupsFor(ctx, unitID)
	if err != nil {
		return Policy{}, err
	}

	var winner *Group
	for _, id := range groupIDs {
		group, ok := r.resolve(id)
		if !ok || !group.EnableDuringStartup {
			continue
		}
		if winner == nil || group.StartupDelaySeconds < winner.StartupDelaySeconds {
			g := group
			winner = &g
		}
	}

	if winner == nil {
		groupID := ""
		if len(groupIDs) == 1 {
			groupID = groupIDs[0]
		}
		return DisablePolicy(groupID), nil
	}

	return r.policyOf(*winner), nil
}

func (r *GroupRegistry) policyOf(group Group) Policy {
	if class, ok := builtinClass(group.ID); ok {
		switch class {
		case ClassInstant:
			return InstantPolicy(group.ID)
		case ClassShortDelay, ClassLongDelay:
			return DeferredPolicy(class, group.StartupDelay(), group.ID)
		default:
			return DisablePolicy(group.ID)
		}
	}

	delay := group.StartupDelay()
	if delay <= 0 {
		return InstantPolicy(group.ID)
	}
	class := ClassLongDelay
	if delay <= r.env.Profile.ShortDelay() {
		class = ClassShortDelay
	}
	return DeferredPolicy(class, delay, group.ID)
}

// resolve returns a configured group, or the builtin group for a legacy class
func (r *GroupRegistry) resolve(groupID string) (Group, bool) {
	if class, ok := builtinClass(groupID); ok {
		return r.builtinGroup(class), true
	}
	group, ok := r.env.Profile.GroupFor(groupID)
	if !ok {
		return Group{}, false
	}
	g := *group
	g.ID = groupID
	return g, true
}

func (r *GroupRegistry) builtinGroup(class StartupClass) Group {
	group := Group{ID: BuiltinGroupID(class)}
	switch class {
	case ClassInstant:
		group.EnableDuringStartup = true
	case ClassShortDelay:
		group.EnableDuringStartup = true
		group.StartupDelaySeconds = r.env.Profile.ShortDelaySeconds
	case ClassLongDelay:
		group.EnableDuringStartup = true
		group.StartupDelaySeconds = r.env.Profile.LongDelaySeconds
	}
	return group
}

func builtinClass(groupID string) (StartupClass, bool) {
	if !strings.HasPrefix(groupID, BuiltinGroupPrefix) {
		return ClassDisabled, false
	}
	class, err := ParseStartupClass(strings.TrimPrefix(groupID, BuiltinGroupPrefix))
	if err != nil {
		return ClassDisabled, false
	}
	return class, true
}

// AssignNewUnit creates the unit's config if missing, joining it to every
// auto-add group. Returns true when a config was created.
func (r *GroupRegistry) AssignNewUnit(unitID string) bool {
	cfg, created := r.env.Profile.EnsureUnitConfig(unitID)
	if created && len(cfg.GroupIDs) > 0 {
		r.env.Logger.Infof("Assigned new unit to auto-add groups, unit: %s, groups: %v", unitID, cfg.GroupIDs)
	}
	return created
}

// SetGroup creates or replaces a group and persists the profile
func (r *GroupRegistry) SetGroup(ctx context.Context, group Group) error {
	if err := ValidateGroup(group); err != nil {
		return err
	}

	if r.env.Profile.Groups == nil {
		r.env.Profile.Groups = make(map[string]*Group)
	}
	g := group
	r.env.Profile.Groups[group.ID] = &g

	if err := r.env.Persist(ctx); err != nil {
		return errors.NewIOError("failed to persist group", err).WithContext("group_id", group.ID)
	}

	r.env.Logger.Infof("Group saved, id: %s, enable_during_startup: %t, delay: %v, auto_add: %t",
		group.ID, group.EnableDuringStartup, group.StartupDelay(), group.AutoAddNewUnits)
	return nil
}

// RemoveGroup deletes a group and strips it from every unit
func (r *GroupRegistry) RemoveGroup(ctx context.Context, groupID string) error {
	if _, ok := r.env.Profile.GroupFor(groupID); !ok {
		return errors.NewNotFoundError("group not found", nil).WithContext("group_id", groupID)
	}

	delete(r.env.Profile.Groups, groupID)
	for _, cfg := range r.env.Profile.Units {
		if cfg == nil || len(cfg.GroupIDs) == 0 {
			continue
		}
		kept := cfg.GroupIDs[:0]
		for _, id := range cfg.GroupIDs {
			if id != groupID {
				kept = append(kept, id)
			}
		}
		cfg.GroupIDs = kept
	}

	if err := r.env.Persist(ctx); err != nil {
		return errors.NewIOError("failed to persist group removal", err).WithContext("group_id", groupID)
	}

	r.env.Logger.Infof("Group removed, id: %s", groupID)
	return nil
}
