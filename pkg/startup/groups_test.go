package startup

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/core-tools/hsu-startup/pkg/errors"
)

func newTestRegistry(profile *Profile, host *fakeHost, store *fakeStore) *GroupRegistry {
	env := NewEnv(host, profile, func(ctx context.Context, p *Profile) error {
		return store.SaveProfile(ctx, false, p)
	}, &TestLogger{})
	return NewGroupRegistry(env, NewClassifier(env))
}

func TestGroupRegistry_EffectivePolicy(t *testing.T) {
	groups := map[string]*Group{
		"fast":  {EnableDuringStartup: true, StartupDelaySeconds: 2},
		"fast2": {EnableDuringStartup: true, StartupDelaySeconds: 2},
		"slow":  {EnableDuringStartup: true, StartupDelaySeconds: 30},
		"now":   {EnableDuringStartup: true, StartupDelaySeconds: 0},
		"off":   {EnableDuringStartup: false, StartupDelaySeconds: 1},
	}

	tests := []struct {
		name     string
		groupIDs []string
		class    *StartupClass
		want     Policy
	}{
		{
			name:     "smallest delay wins",
			groupIDs: []string{"slow", "fast"},
			want:     DeferredPolicy(ClassShortDelay, 2*time.Second, "fast"),
		},
		{
			name:     "tie goes to first listed",
			groupIDs: []string{"fast2", "fast"},
			want:     DeferredPolicy(ClassShortDelay, 2*time.Second, "fast2"),
		},
		{
			name:     "delay above short threshold is long",
			groupIDs: []string{"slow"},
			want:     DeferredPolicy(ClassLongDelay, 30*time.Second, "slow"),
		},
		{
			name:     "zero delay is instant",
			groupIDs: []string{"slow", "now"},
			want:     InstantPolicy("now"),
		},
		{
			name:     "groups not enabled during startup are skipped",
			groupIDs: []string{"off", "slow"},
			want:     DeferredPolicy(ClassLongDelay, 30*time.Second, "slow"),
		},
		{
			name:     "no eligible group disables",
			groupIDs: []string{"off"},
			want:     DisablePolicy("off"),
		},
		{
			name:     "unknown groups ignored",
			groupIDs: []string{"ghost", "fast"},
			want:     DeferredPolicy(ClassShortDelay, 2*time.Second, "fast"),
		},
		{
			name:  "legacy short delay class",
			class: ClassPtr(ClassShortDelay),
			want:  DeferredPolicy(ClassShortDelay, 5*time.Second, "builtin:short_delay"),
		},
		{
			name:  "legacy instant class",
			class: ClassPtr(ClassInstant),
			want:  InstantPolicy("builtin:instant"),
		},
		{
			name:  "legacy disabled class",
			class: ClassPtr(ClassDisabled),
			want:  DisablePolicy("builtin:disabled"),
		},
		{
			name:     "only unknown groups falls back to legacy class",
			groupIDs: []string{"ghost"},
			class:    ClassPtr(ClassLongDelay),
			want:     DeferredPolicy(ClassLongDelay, 15*time.Second, "builtin:long_delay"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			profile := NewProfile()
			for id, group := range groups {
				g := *group
				profile.Groups[id] = &g
			}
			profile.Units["u"] = &UnitConfig{StartupClass: tt.class, GroupIDs: tt.groupIDs}

			registry := newTestRegistry(profile, newFakeHost(newUnit("u")), newFakeStore(nil))
			policy, err := registry.EffectivePolicy(context.Background(), "u")

			require.NoError(t, err)
			assert.Equal(t, tt.want, policy)
		})
	}
}

func TestGroupRegistry_GroupsForSynthesizesBuiltin(t *testing.T) {
	host := newFakeHost(newUnit("u"))
	host.setEnabled("u", true)
	registry := newTestRegistry(NewProfile(), host, newFakeStore(nil))

	groupIDs, err := registry.GroupsFor(context.Background(), "u")

	require.NoError(t, err)
	assert.Equal(t, []string{"builtin:instant"}, groupIDs)
}

func TestGroupRegistry_AssignNewUnit(t *testing.T) {
	profile := NewProfile()
	profile.Groups["b"] = &Group{AutoAddNewUnits: true}
	profile.Groups["a"] = &Group{AutoAddNewUnits: true}
	profile.Groups["manual"] = &Group{}
	profile.Units["existing"] = &UnitConfig{}

	registry := newTestRegistry(profile, newFakeHost(), newFakeStore(nil))

	assert.True(t, registry.AssignNewUnit("fresh"))
	assert.Equal(t, []string{"a", "b"}, profile.Units["fresh"].GroupIDs)

	assert.False(t, registry.AssignNewUnit("existing"))
	assert.Empty(t, profile.Units["existing"].GroupIDs)
}

func TestGroupRegistry_SetAndRemoveGroup(t *testing.T) {
	ctx := context.Background()
	profile := NewProfile()
	profile.Units["u"] = &UnitConfig{GroupIDs: []string{"g", "other"}}
	store := newFakeStore(nil)
	registry := newTestRegistry(profile, newFakeHost(), store)

	require.NoError(t, registry.SetGroup(ctx, Group{ID: "g", EnableDuringStartup: true, StartupDelaySeconds: 3}))
	assert.Contains(t, store.stored().Groups, "g")

	require.NoError(t, registry.RemoveGroup(ctx, "g"))
	assert.NotContains(t, profile.Groups, "g")
	assert.Equal(t, []string{"other"}, profile.Units["u"].GroupIDs)
	assert.Equal(t, []string{"other"}, store.stored().Units["u"].GroupIDs)

	err := registry.RemoveGroup(ctx, "g")
	assert.True(t, errors.IsNotFoundError(err))
}

func TestGroupRegistry_SetGroupValidation(t *testing.T) {
	registry := newTestRegistry(NewProfile(), newFakeHost(), newFakeStore(nil))

	err := registry.SetGroup(context.Background(), Group{ID: "builtin:instant"})
	assert.True(t, errors.IsValidationError(err))

	err = registry.SetGroup(context.Background(), Group{ID: "g", StartupDelaySeconds: -1})
	assert.True(t, errors.IsValidationError(err))
}

func TestGroupRegistry_UnknownGroupLoggedAsUnknownReference(t *testing.T) {
	host := newFakeHost(newUnit("a"), newUnit("b"))
	host.setEnabled("b", true)
	profile := NewProfile()
	profile.Units["a"] = &UnitConfig{StartupClass: ClassPtr(ClassShortDelay), GroupIDs: []string{"ghost"}}
	logger := &recordingLogger{}
	env := NewEnv(host, profile, func(ctx context.Context, p *Profile) error { return nil }, logger)
	registry := NewGroupRegistry(env, NewClassifier(env))

	groupIDs, err := registry.GroupsFor(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, []string{BuiltinGroupID(ClassShortDelay)}, groupIDs)
	assert.True(t, logger.contains("unknown_reference: group not found: ghost"))

	_, err = registry.GroupsFor(context.Background(), "b")
	require.NoError(t, err)
	assert.True(t, logger.contains("config_missing: unit config not found"))
}
