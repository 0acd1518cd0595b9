package startup

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// ManagedUnit is a unit reported by the host runtime. It is immutable for the
// duration of one scheduling run.
type ManagedUnit struct {
	ID                 string `yaml:"id" json:"id"`
	DisplayName        string `yaml:"name" json:"display_name"`
	Description        string `yaml:"description,omitempty" json:"description,omitempty"`
	PlatformRestricted bool   `yaml:"platform_restricted,omitempty" json:"platform_restricted,omitempty"`
}

// StartupClass is the coarse activation policy of a unit
type StartupClass int

const (
	ClassDisabled StartupClass = iota
	ClassInstant
	ClassShortDelay
	ClassLongDelay
)

var startupClassNames = map[StartupClass]string{
	ClassDisabled:   "disabled",
	ClassInstant:    "instant",
	ClassShortDelay: "short_delay",
	ClassLongDelay:  "long_delay",
}

func (c StartupClass) String() string {
	if name, ok := startupClassNames[c]; ok {
		return name
	}
	return fmt.Sprintf("unknown(%d)", int(c))
}

// Rank orders Instant < ShortDelay < LongDelay. Disabled is not ranked.
func (c StartupClass) Rank() int {
	switch c {
	case ClassInstant:
		return 0
	case ClassShortDelay:
		return 1
	case ClassLongDelay:
		return 2
	default:
		return -1
	}
}

func (c StartupClass) IsValid() bool {
	_, ok := startupClassNames[c]
	return ok
}

func (c StartupClass) MarshalText() ([]byte, error) {
	if !c.IsValid() {
		return nil, fmt.Errorf("invalid startup class: %d", int(c))
	}
	return []byte(c.String()), nil
}

func (c *StartupClass) UnmarshalText(text []byte) error {
	parsed, err := ParseStartupClass(string(text))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// ParseStartupClass accepts the persisted names plus a few spellings seen in
// hand-edited settings ("short-delay", "ShortDelay").
func ParseStartupClass(name string) (StartupClass, error) {
	normalized := strings.ToLower(strings.TrimSpace(name))
	normalized = strings.ReplaceAll(normalized, "-", "_")
	switch normalized {
	case "disabled":
		return ClassDisabled, nil
	case "instant":
		return ClassInstant, nil
	case "short_delay", "shortdelay":
		return ClassShortDelay, nil
	case "long_delay", "longdelay":
		return ClassLongDelay, nil
	default:
		return ClassDisabled, fmt.Errorf("unknown startup class: %q", name)
	}
}

// ClassPtr returns a pointer to a copy of c, for optional config fields
func ClassPtr(c StartupClass) *StartupClass {
	return &c
}

// UnitConfig is the persisted per-unit configuration
type UnitConfig struct {
	StartupClass *StartupClass `yaml:"startup_class,omitempty" json:"startup_class,omitempty"`
	LoadAfter    string        `yaml:"load_after,omitempty" json:"load_after,omitempty"`
	GroupIDs     []string      `yaml:"group_ids,omitempty" json:"group_ids,omitempty"`
}

func (c *UnitConfig) Clone() *UnitConfig {
	if c == nil {
		return nil
	}
	clone := &UnitConfig{LoadAfter: c.LoadAfter}
	if c.StartupClass != nil {
		clone.StartupClass = ClassPtr(*c.StartupClass)
	}
	if c.GroupIDs != nil {
		clone.GroupIDs = append([]string(nil), c.GroupIDs...)
	}
	return clone
}

// Group is a named policy bundle. A unit may belong to several groups.
type Group struct {
	ID                  string  `yaml:"id,omitempty" json:"id,omitempty"`
	EnableDuringStartup bool    `yaml:"enable_during_startup" json:"enable_during_startup"`
	StartupDelaySeconds float64 `yaml:"startup_delay_seconds" json:"startup_delay_seconds"`
	AutoAddNewUnits     bool    `yaml:"auto_add_new_units" json:"auto_add_new_units"`
}

func (g Group) StartupDelay() time.Duration {
	return secondsToDuration(g.StartupDelaySeconds)
}

// GlobalConfig holds the profile-wide timing knobs
type GlobalConfig struct {
	ShortDelaySeconds   float64       `yaml:"short_delay_seconds" json:"short_delay_seconds"`
	LongDelaySeconds    float64       `yaml:"long_delay_seconds" json:"long_delay_seconds"`
	StaggerMillis       int64         `yaml:"stagger_millis" json:"stagger_millis"`
	DefaultStartupClass *StartupClass `yaml:"default_startup_class,omitempty" json:"default_startup_class,omitempty"`
}

const (
	DefaultShortDelaySeconds = 5
	DefaultLongDelaySeconds  = 15
	DefaultStaggerMillis     = 40
)

func DefaultGlobalConfig() GlobalConfig {
	return GlobalConfig{
		ShortDelaySeconds: DefaultShortDelaySeconds,
		LongDelaySeconds:  DefaultLongDelaySeconds,
		StaggerMillis:     DefaultStaggerMillis,
	}
}

func (g GlobalConfig) ShortDelay() time.Duration {
	return secondsToDuration(g.ShortDelaySeconds)
}

func (g GlobalConfig) LongDelay() time.Duration {
	return secondsToDuration(g.LongDelaySeconds)
}

func (g GlobalConfig) Stagger() time.Duration {
	return time.Duration(g.StaggerMillis) * time.Millisecond
}

// Profile is one complete scheduling configuration. Exactly one profile is
// active per run.
type Profile struct {
	GlobalConfig `yaml:",inline"`
	Units        map[string]*UnitConfig `yaml:"units" json:"units"`
	Groups       map[string]*Group      `yaml:"groups" json:"groups"`
	LoadOrder    []string               `yaml:"load_order" json:"load_order"`
}

// NewProfile returns an empty profile with default timing
func NewProfile() *Profile {
	return &Profile{
		GlobalConfig: DefaultGlobalConfig(),
		Units:        make(map[string]*UnitConfig),
		Groups:       make(map[string]*Group),
		LoadOrder:    []string{},
	}
}

// Normalize fills nil maps and aligns group ids with their map keys. It is
// applied to every profile read from storage.
func (p *Profile) Normalize() {
	if p.Units == nil {
		p.Units = make(map[string]*UnitConfig)
	}
	if p.Groups == nil {
		p.Groups = make(map[string]*Group)
	}
	if p.LoadOrder == nil {
		p.LoadOrder = []string{}
	}
	for id, unit := range p.Units {
		if unit == nil {
			p.Units[id] = &UnitConfig{}
		}
	}
	for id, group := range p.Groups {
		if group == nil {
			delete(p.Groups, id)
			continue
		}
		group.ID = id
	}
}

// UnitConfigFor returns the unit's configuration if one exists
func (p *Profile) UnitConfigFor(unitID string) (*UnitConfig, bool) {
	cfg, ok := p.Units[unitID]
	if !ok || cfg == nil {
		return nil, false
	}
	return cfg, true
}

// GroupFor returns a configured group by id
func (p *Profile) GroupFor(groupID string) (*Group, bool) {
	group, ok := p.Groups[groupID]
	if !ok || group == nil {
		return nil, false
	}
	return group, true
}

// AutoAddGroupIDs returns the ids of groups that new units join, sorted
func (p *Profile) AutoAddGroupIDs() []string {
	ids := make([]string, 0)
	for id, group := range p.Groups {
		if group != nil && group.AutoAddNewUnits {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// EnsureUnitConfig returns the unit's configuration, creating a default entry
// on first reference. New entries join every auto-add group.
func (p *Profile) EnsureUnitConfig(unitID string) (*UnitConfig, bool) {
	if cfg, ok := p.UnitConfigFor(unitID); ok {
		return cfg, false
	}
	if p.Units == nil {
		p.Units = make(map[string]*UnitConfig)
	}
	cfg := &UnitConfig{}
	if autoAdd := p.AutoAddGroupIDs(); len(autoAdd) > 0 {
		cfg.GroupIDs = autoAdd
	}
	p.Units[unitID] = cfg
	return cfg, true
}

// Clone returns a deep copy
func (p *Profile) Clone() *Profile {
	if p == nil {
		return nil
	}
	clone := &Profile{
		GlobalConfig: p.GlobalConfig,
		Units:        make(map[string]*UnitConfig, len(p.Units)),
		Groups:       make(map[string]*Group, len(p.Groups)),
		LoadOrder:    append([]string{}, p.LoadOrder...),
	}
	if p.DefaultStartupClass != nil {
		clone.DefaultStartupClass = ClassPtr(*p.DefaultStartupClass)
	}
	for id, unit := range p.Units {
		clone.Units[id] = unit.Clone()
	}
	for id, group := range p.Groups {
		if group == nil {
			continue
		}
		copied := *group
		clone.Groups[id] = &copied
	}
	return clone
}

func secondsToDuration(seconds float64) time.Duration {
	return time.Duration(seconds * float64(time.Second))
}
