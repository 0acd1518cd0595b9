package profilestore

import (
	"context"

	"github.com/core-tools/hsu-startup/pkg/startup"
)

// Settings is the persisted settings document. A device keeps one default
// profile and, when DualProfile is set, a restricted-platform profile.
type Settings struct {
	DualProfile bool     `yaml:"dual_profile" json:"dual_profile"`
	Profiles    Profiles `yaml:"profiles" json:"profiles"`
}

type Profiles struct {
	Default    *startup.Profile `yaml:"default" json:"default"`
	Restricted *startup.Profile `yaml:"restricted,omitempty" json:"restricted,omitempty"`
}

func (s *Settings) Clone() *Settings {
	if s == nil {
		return nil
	}
	return &Settings{
		DualProfile: s.DualProfile,
		Profiles: Profiles{
			Default:    s.Profiles.Default.Clone(),
			Restricted: s.Profiles.Restricted.Clone(),
		},
	}
}

func (s *Settings) normalize() {
	if s.Profiles.Default != nil {
		s.Profiles.Default.Normalize()
	}
	if s.Profiles.Restricted != nil {
		s.Profiles.Restricted.Normalize()
	}
}

// Backend reads and writes the whole settings document. Read returns nil
// without error when nothing has been stored yet.
type Backend interface {
	Read(ctx context.Context) (*Settings, error)
	Write(ctx context.Context, settings *Settings) error
	Close() error
}
