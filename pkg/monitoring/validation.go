package monitoring

import "github.com/core-tools/hsu-startup/pkg/errors"

// ValidateProbeConfig validates probe configuration
func ValidateProbeConfig(config ProbeConfig) error {
	if config.Timeout < 0 {
		return errors.NewValidationError("probe timeout cannot be negative", nil)
	}

	switch config.Type {
	case ProbeTypeHTTP:
		if config.HTTP.URL == "" {
			return errors.NewValidationError("HTTP URL is required for HTTP probe", nil)
		}

	case ProbeTypeGRPC:
		if config.GRPC.Address == "" {
			return errors.NewValidationError("gRPC address is required for gRPC probe", nil)
		}

	case ProbeTypeTCP:
		if config.TCP.Address == "" {
			return errors.NewValidationError("TCP address is required for TCP probe", nil)
		}
		if config.TCP.Port <= 0 || config.TCP.Port > 65535 {
			return errors.NewValidationError("TCP port must be between 1 and 65535", nil)
		}

	case ProbeTypeExec:
		if config.Exec.Command == "" {
			return errors.NewValidationError("command is required for exec probe", nil)
		}

	case ProbeTypeProcess:
		// The PID comes from the host

	default:
		return errors.NewValidationError("unsupported probe type: "+string(config.Type), nil)
	}

	return nil
}
