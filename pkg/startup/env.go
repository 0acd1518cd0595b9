package startup

import (
	"context"

	"github.com/core-tools/hsu-startup/pkg/logging"
)

// Env is the explicit context every scheduling operation works against: the
// loaded profile, the host handle and the way to persist profile edits.
type Env struct {
	Host    Host
	Profile *Profile
	Logger  logging.Logger

	persist func(ctx context.Context, profile *Profile) error
}

// NewEnv binds a profile to a host. persist may be nil, in which case edits
// stay in memory.
func NewEnv(host Host, profile *Profile, persist func(ctx context.Context, profile *Profile) error, logger logging.Logger) *Env {
	if profile == nil {
		profile = NewProfile()
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Env{
		Host:    host,
		Profile: profile,
		Logger:  logger,
		persist: persist,
	}
}

// Persist writes the current profile
func (e *Env) Persist(ctx context.Context) error {
	if e.persist == nil {
		return nil
	}
	return e.persist(ctx, e.Profile)
}
