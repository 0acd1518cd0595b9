package coordinator

import (
	"strings"
	"time"

	"github.com/core-tools/hsu-startup/pkg/errors"
	"github.com/core-tools/hsu-startup/pkg/processfile"
	"github.com/core-tools/hsu-startup/pkg/profilestore"
)

// ValidatePort validates port number
func ValidatePort(port int) error {
	if port <= 0 || port > 65535 {
		return errors.NewValidationError("port must be between 1 and 65535", nil)
	}
	return nil
}

// ValidateTimeout validates timeout duration
func ValidateTimeout(timeout time.Duration, name string) error {
	if timeout < 0 {
		return errors.NewValidationError(name+" timeout cannot be negative", nil)
	}

	if timeout == 0 {
		return errors.NewValidationError(name+" timeout cannot be zero", nil)
	}

	return nil
}

func validateCoordinatorConfig(config *CoordinatorConfig) error {
	if err := ValidatePort(config.Port); err != nil {
		return err
	}

	if config.MetricsPort != 0 {
		if err := ValidatePort(config.MetricsPort); err != nil {
			return errors.NewValidationError("invalid metrics port", err)
		}
		if config.MetricsPort == config.Port {
			return errors.NewValidationError("metrics port must differ from the control port", nil)
		}
	}

	switch strings.ToLower(config.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return errors.NewValidationError("invalid log level: "+config.LogLevel, nil).
			WithContext("supported_levels", "debug, info, warn, error")
	}

	switch config.LogFormat {
	case "console", "json":
	default:
		return errors.NewValidationError("invalid log format: "+config.LogFormat, nil).
			WithContext("supported_formats", "console, json")
	}

	return ValidateTimeout(config.ForceShutdownTimeout, "force shutdown")
}

func validateStoreConfig(config *StoreConfig) error {
	switch config.Backend {
	case profilestore.BackendFile, profilestore.BackendSQLite:
		if config.Path == "" {
			return errors.NewValidationError("store path is required", nil).WithContext("backend", config.Backend)
		}
	case profilestore.BackendMemory:
	default:
		return errors.NewValidationError("unsupported store backend: "+config.Backend, nil).
			WithContext("supported_backends", "file, sqlite, memory")
	}
	return nil
}

func validateHostConfig(config *HostConfig) error {
	switch config.Type {
	case HostTypeProcess:
		if config.Manifest == "" {
			return errors.NewValidationError("manifest is required for a process host", nil)
		}
		if len(config.Units) > 0 {
			return errors.NewValidationError("units are declared in the manifest for a process host", nil)
		}
	case HostTypeMemory:
	default:
		return errors.NewValidationError("unsupported host type: "+string(config.Type), nil).
			WithContext("supported_types", "process, memory")
	}

	return ValidateTimeout(config.StopTimeout, "stop")
}

func validateFilesConfig(config *FilesConfig) error {
	switch config.ServiceContext {
	case "", processfile.SystemService, processfile.UserService, processfile.SessionService:
		return nil
	default:
		return errors.NewValidationError("unsupported service context: "+string(config.ServiceContext), nil).
			WithContext("supported_contexts", "system, user, session")
	}
}
