package profilestore

import (
	"context"
	"sync"

	"github.com/core-tools/hsu-startup/pkg/errors"
	"github.com/core-tools/hsu-startup/pkg/logging"
	"github.com/core-tools/hsu-startup/pkg/startup"
)

type StoreOptions struct {
	// DualProfile forces a separate restricted profile even when the stored
	// document does not ask for one
	DualProfile bool

	// Defaults seed the default profile when nothing is stored yet
	Defaults *startup.GlobalConfig
}

// Store implements startup.ProfileStore over a settings Backend
type Store struct {
	backend Backend
	options StoreOptions
	logger  logging.Logger
	mutex   sync.Mutex
}

var _ startup.ProfileStore = (*Store)(nil)

func NewStore(backend Backend, options StoreOptions, logger logging.Logger) *Store {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Store{
		backend: backend,
		options: options,
		logger:  logger,
	}
}

// LoadProfile returns the active profile. On a dual-profile device a missing
// restricted profile is cloned from the default on first need and stored.
func (s *Store) LoadProfile(ctx context.Context, restricted bool) (*startup.Profile, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	settings, err := s.read(ctx)
	if err != nil {
		return nil, err
	}

	if !restricted || !settings.DualProfile {
		return s.validated(settings.Profiles.Default, "default")
	}

	if settings.Profiles.Restricted == nil {
		settings.Profiles.Restricted = settings.Profiles.Default.Clone()
		if err := s.backend.Write(ctx, settings); err != nil {
			return nil, errors.NewIOError("failed to store cloned restricted profile", err)
		}
		s.logger.Infof("Restricted profile missing, cloned from default")
	}
	return s.validated(settings.Profiles.Restricted, "restricted")
}

// SaveProfile replaces the selected profile in the settings document
func (s *Store) SaveProfile(ctx context.Context, restricted bool, profile *startup.Profile) error {
	if err := startup.ValidateProfile(profile); err != nil {
		return err
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	settings, err := s.read(ctx)
	if err != nil {
		return err
	}

	if restricted && settings.DualProfile {
		settings.Profiles.Restricted = profile.Clone()
	} else {
		settings.Profiles.Default = profile.Clone()
	}

	if err := s.backend.Write(ctx, settings); err != nil {
		return errors.NewIOError("failed to write settings", err)
	}
	s.logger.Debugf("Profile saved, restricted: %t, units: %d", restricted && settings.DualProfile, len(profile.Units))
	return nil
}

// Settings returns a copy of the whole settings document
func (s *Store) Settings(ctx context.Context) (*Settings, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	settings, err := s.read(ctx)
	if err != nil {
		return nil, err
	}
	return settings.Clone(), nil
}

func (s *Store) Close() error {
	return s.backend.Close()
}

// read loads the document, filling in what a fresh device lacks
func (s *Store) read(ctx context.Context) (*Settings, error) {
	settings, err := s.backend.Read(ctx)
	if err != nil {
		return nil, err
	}
	if settings == nil {
		settings = &Settings{}
		s.logger.Infof("No stored settings, starting from defaults")
	}
	if s.options.DualProfile {
		settings.DualProfile = true
	}
	if settings.Profiles.Default == nil {
		settings.Profiles.Default = s.newProfile()
	}
	settings.normalize()
	return settings, nil
}

func (s *Store) newProfile() *startup.Profile {
	profile := startup.NewProfile()
	if s.options.Defaults != nil {
		profile.GlobalConfig = *s.options.Defaults
		if s.options.Defaults.DefaultStartupClass != nil {
			profile.DefaultStartupClass = startup.ClassPtr(*s.options.Defaults.DefaultStartupClass)
		}
	}
	return profile
}

func (s *Store) validated(profile *startup.Profile, name string) (*startup.Profile, error) {
	if err := startup.ValidateProfile(profile); err != nil {
		return nil, errors.NewValidationError("stored "+name+" profile is invalid", err)
	}
	return profile.Clone(), nil
}
