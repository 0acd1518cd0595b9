package startup

import (
	"fmt"
	"strings"

	"github.com/core-tools/hsu-startup/pkg/errors"
)

const maxIDLength = 128

// ValidateUnitID validates unit ID format and constraints
func ValidateUnitID(id string) error {
	return validateID("unit", id)
}

// ValidateGroupID validates a user-defined group ID. Builtin ids are reserved.
func ValidateGroupID(id string) error {
	if strings.HasPrefix(id, BuiltinGroupPrefix) {
		return errors.NewValidationError("group ID prefix is reserved: "+BuiltinGroupPrefix, nil).
			WithContext("group_id", id)
	}
	return validateID("group", id)
}

func validateID(kind, id string) error {
	if id == "" {
		return errors.NewValidationError(kind+" ID cannot be empty", nil)
	}

	if len(id) > maxIDLength {
		return errors.NewValidationError(fmt.Sprintf("%s ID cannot exceed %d characters", kind, maxIDLength), nil)
	}

	for _, char := range id {
		if !isValidIDChar(char) {
			return errors.NewValidationError(kind+" ID contains invalid characters: only letters, numbers, dots, hyphens, and underscores are allowed", nil).
				WithContext(kind+"_id", id)
		}
	}

	return nil
}

// ValidateGroup validates a group definition
func ValidateGroup(group Group) error {
	if err := ValidateGroupID(group.ID); err != nil {
		return err
	}
	if group.StartupDelaySeconds < 0 {
		return errors.NewValidationError("startup delay cannot be negative", nil).
			WithContext("group_id", group.ID)
	}
	return nil
}

// ValidateGlobalConfig validates the profile-wide timing knobs
func ValidateGlobalConfig(cfg GlobalConfig) error {
	if cfg.ShortDelaySeconds < 0 {
		return errors.NewValidationError("short delay cannot be negative", nil)
	}
	if cfg.LongDelaySeconds < 0 {
		return errors.NewValidationError("long delay cannot be negative", nil)
	}
	if cfg.StaggerMillis < 0 {
		return errors.NewValidationError("stagger cannot be negative", nil)
	}
	if cfg.DefaultStartupClass != nil && !cfg.DefaultStartupClass.IsValid() {
		return errors.NewValidationError("invalid default startup class", nil)
	}
	return nil
}

// ValidateProfile checks a loaded profile. Dangling references (load_after,
// group ids) are not validation errors; they are ignored at scheduling time.
func ValidateProfile(profile *Profile) error {
	if profile == nil {
		return errors.NewValidationError("profile cannot be nil", nil)
	}

	collection := errors.NewErrorCollection()
	collection.Add(ValidateGlobalConfig(profile.GlobalConfig))

	for id, unit := range profile.Units {
		if err := ValidateUnitID(id); err != nil {
			collection.Add(err)
			continue
		}
		if unit != nil && unit.StartupClass != nil && !unit.StartupClass.IsValid() {
			collection.Add(errors.NewValidationError("invalid startup class", nil).WithContext("unit_id", id))
		}
	}

	for id, group := range profile.Groups {
		if group == nil {
			continue
		}
		g := *group
		g.ID = id
		collection.Add(ValidateGroup(g))
	}

	return collection.ToError()
}

func isValidIDChar(char rune) bool {
	return (char >= 'a' && char <= 'z') ||
		(char >= 'A' && char <= 'Z') ||
		(char >= '0' && char <= '9') ||
		char == '-' || char == '_' || char == '.'
}
