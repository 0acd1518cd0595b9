package host

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/core-tools/hsu-startup/pkg/errors"
	"github.com/core-tools/hsu-startup/pkg/logcollection"
	"github.com/core-tools/hsu-startup/pkg/monitoring"
	"github.com/core-tools/hsu-startup/pkg/process"
	"github.com/core-tools/hsu-startup/pkg/startup"
)

// Manifest declares the units a ProcessHost runs
type Manifest struct {
	RestrictedPlatform bool           `yaml:"restricted_platform,omitempty"`
	Units              []ManifestUnit `yaml:"units"`
}

type ManifestUnit struct {
	startup.ManagedUnit `yaml:",inline"`
	Execution           process.ExecutionConfig `yaml:"execution"`

	// Probe detects a running instance the host did not launch itself
	Probe *monitoring.ProbeConfig `yaml:"probe,omitempty"`

	// Output captures the unit's stdout and stderr
	Output *logcollection.OutputConfig `yaml:"output,omitempty"`
}

// LoadManifest reads and validates a YAML manifest
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.NewIOError("failed to read manifest file", err).WithContext("path", path)
	}

	var manifest Manifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return nil, errors.NewValidationError("failed to parse YAML manifest", err).WithContext("path", path)
	}

	for i := range manifest.Units {
		if manifest.Units[i].DisplayName == "" {
			manifest.Units[i].DisplayName = manifest.Units[i].ID
		}
	}

	if err := ValidateManifest(&manifest); err != nil {
		return nil, err
	}
	return &manifest, nil
}

// ValidateManifest checks unit ids and execution settings. Executables are
// checked for existence only when a unit is launched.
func ValidateManifest(manifest *Manifest) error {
	if manifest == nil {
		return errors.NewValidationError("manifest cannot be nil", nil)
	}

	seen := make(map[string]bool, len(manifest.Units))
	collection := errors.NewErrorCollection()
	for i, unit := range manifest.Units {
		if err := startup.ValidateUnitID(unit.ID); err != nil {
			collection.Add(errors.NewValidationError(fmt.Sprintf("invalid unit at index %d", i), err))
			continue
		}
		if seen[unit.ID] {
			collection.Add(errors.NewValidationError("duplicate unit id: "+unit.ID, nil).WithContext("unit_id", unit.ID))
			continue
		}
		seen[unit.ID] = true

		if unit.Execution.ExecutablePath == "" {
			collection.Add(errors.NewValidationError("executable path is required", nil).WithContext("unit_id", unit.ID))
		}
		if unit.Execution.WaitDelay < 0 {
			collection.Add(errors.NewValidationError("wait delay cannot be negative", nil).WithContext("unit_id", unit.ID))
		}
		if unit.Probe != nil {
			if err := monitoring.ValidateProbeConfig(*unit.Probe); err != nil {
				collection.Add(errors.NewValidationError("invalid probe", err).WithContext("unit_id", unit.ID))
			}
		}
	}
	return collection.ToError()
}

// hostState is the on-disk record of auto-start flags
type hostState struct {
	Autostart map[string]bool `yaml:"autostart"`
}

func readHostState(path string) (*hostState, error) {
	state := &hostState{Autostart: make(map[string]bool)}
	if path == "" {
		return state, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return state, nil
		}
		return nil, errors.NewIOError("failed to read host state file", err).WithContext("path", path)
	}
	if err := yaml.Unmarshal(data, state); err != nil {
		return nil, errors.NewValidationError("failed to parse host state file", err).WithContext("path", path)
	}
	if state.Autostart == nil {
		state.Autostart = make(map[string]bool)
	}
	return state, nil
}

func writeHostState(path string, state *hostState) error {
	if path == "" {
		return nil
	}

	data, err := yaml.Marshal(state)
	if err != nil {
		return errors.NewInternalError("failed to encode host state", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return errors.NewIOError("failed to write host state file", err).WithContext("path", tmp)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return errors.NewIOError("failed to replace host state file", err).WithContext("path", path)
	}
	return nil
}
