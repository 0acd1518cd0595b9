package coordinator

import (
	"context"
	"os"
	"os/signal"
	goruntime "runtime"
	"syscall"
	"time"

	coreLogging "github.com/core-tools/hsu-core/pkg/logging"

	"github.com/core-tools/hsu-startup/pkg/errors"
	"github.com/core-tools/hsu-startup/pkg/logging"
)

// Run loads the configuration, starts the coordinator and blocks until a
// signal arrives or runDuration seconds pass
func Run(runDuration int, configFile string, portOverride int, coreLogger coreLogging.Logger, logger logging.Logger) error {
	logger.Infof("Coordinator runner starting...")

	// Create context with run duration
	ctx := context.Background()
	if runDuration > 0 {
		duration := time.Duration(runDuration) * time.Second
		logger.Infof("Using RUN DURATION of %v", duration)
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, duration)
		defer cancel()
	}

	logger.Infof("Using CONFIGURATION FILE: %s", configFile)

	config, err := LoadConfigFromFile(configFile)
	if err != nil {
		return errors.NewIOError("failed to load configuration", err).WithContext("config_file", configFile)
	}
	if portOverride != 0 {
		config.Coordinator.Port = portOverride
	}

	if err := ValidateConfig(config); err != nil {
		return errors.NewValidationError("configuration validation failed", err).WithContext("config_file", configFile)
	}

	summary := GetConfigSummary(config)
	logger.Infof("Configuration loaded successfully from %s", configFile)
	logger.Infof("Coordinator port: %d, store: %s (%s), host: %s", summary.Port, summary.StoreBackend, summary.StorePath, summary.HostType)

	coordinator, err := NewCoordinator(config, coreLogger, logger)
	if err != nil {
		return errors.NewInternalError("failed to create coordinator", err)
	}

	logger.Infof("Enabling signal handling...")

	sig := make(chan os.Signal, 1)
	if goruntime.GOOS == "windows" {
		signal.Notify(sig) // Unix signals not implemented on Windows
	} else {
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	}
	defer signal.Stop(sig)

	if err := coordinator.Start(ctx); err != nil {
		coordinator.Stop(context.Background())
		return err
	}

	logger.Infof("Coordinator is ready")

	// Wait for graceful shutdown or timeout
	select {
	case receivedSignal := <-sig:
		logger.Infof("Coordinator runner received signal: %v", receivedSignal)
	case <-ctx.Done():
		logger.Infof("Coordinator runner timed out")
	}

	// Reset context to background to enable graceful shutdown
	coordinator.Stop(context.Background())

	logger.Infof("Coordinator runner stopped")

	return nil
}
