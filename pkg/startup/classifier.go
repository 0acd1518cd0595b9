package startup

import (
	"context"

	"github.com/core-tools/hsu-startup/pkg/errors"
)

// Classifier resolves the legacy startup class of a unit
type Classifier struct {
	env *Env
}

func NewClassifier(env *Env) *Classifier {
	return &Classifier{env: env}
}

// StartupClass returns the configured class, else the profile default, else
// Instant when the host reports the unit enabled and Disabled otherwise. A
// class resolved by fallback is written into the unit's config and persisted
// so later runs no longer depend on host state.
func (c *Classifier) StartupClass(ctx context.Context, unitID string) (StartupClass, error) {
	cfg, created := c.env.Profile.EnsureUnitConfig(unitID)
	if created {
		missing := errors.NewConfigMissingError("unit config not found", nil).WithContext("unit_id", unitID)
		c.env.Logger.Debugf("Inserted default unit config, unit: %s, groups: %v, reason: %v", unitID, cfg.GroupIDs, missing)
	}

	if cfg.StartupClass != nil {
		return *cfg.StartupClass, nil
	}

	var class StartupClass
	source := "default"
	if c.env.Profile.DefaultStartupClass != nil {
		class = *c.env.Profile.DefaultStartupClass
	} else {
		enabled, err := c.env.Host.IsEnabled(ctx, unitID)
		if err != nil {
			return ClassDisabled, errors.NewHostError("failed to query enabled state", err).
				WithContext("unit_id", unitID)
		}
		source = "host"
		class = ClassDisabled
		if enabled {
			class = ClassInstant
		}
	}

	cfg.StartupClass = ClassPtr(class)
	if err := c.env.Persist(ctx); err != nil {
		c.env.Logger.Warnf("Failed to persist resolved startup class, unit: %s, class: %s, error: %v", unitID, class, err)
	}

	c.env.Logger.Infof("Resolved startup class, unit: %s, class: %s, source: %s", unitID, class, source)
	return class, nil
}
