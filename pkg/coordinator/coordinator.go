package coordinator

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	corecontrol "github.com/core-tools/hsu-core/pkg/control"
	coredomain "github.com/core-tools/hsu-core/pkg/domain"
	corelogging "github.com/core-tools/hsu-core/pkg/logging"

	"github.com/core-tools/hsu-startup/pkg/control"
	"github.com/core-tools/hsu-startup/pkg/domain"
	"github.com/core-tools/hsu-startup/pkg/errors"
	"github.com/core-tools/hsu-startup/pkg/logging"
	"github.com/core-tools/hsu-startup/pkg/startup"
)

// CoordinatorState represents the current state of the coordinator
type CoordinatorState string

const (
	// CoordinatorStateNotStarted is the initial state before Start() is called
	CoordinatorStateNotStarted CoordinatorState = "not_started"

	// CoordinatorStateRunning means the control server is up and passes may run
	CoordinatorStateRunning CoordinatorState = "running"

	// CoordinatorStateStopping means the coordinator is shutting down
	CoordinatorStateStopping CoordinatorState = "stopping"

	// CoordinatorStateStopped means the coordinator has stopped
	CoordinatorStateStopped CoordinatorState = "stopped"
)

// Coordinator serves the startup scheduler over the hsu-core control server
type Coordinator struct {
	config        *Config
	server        corecontrol.Server
	metricsServer *http.Server
	runtime       *runtime
	handler       domain.Contract
	logger        logging.Logger
	state         CoordinatorState
	mutex         sync.Mutex
}

func NewCoordinator(config *Config, coreLogger corelogging.Logger, logger logging.Logger) (*Coordinator, error) {
	if config == nil {
		return nil, errors.NewValidationError("configuration cannot be nil", nil)
	}
	if err := setConfigDefaults(config); err != nil {
		return nil, errors.NewValidationError("failed to apply configuration defaults", err)
	}
	if err := ValidateConfig(config); err != nil {
		return nil, err
	}

	rt, err := newRuntime(config, logger)
	if err != nil {
		return nil, err
	}

	// Create gRPC server
	serverOptions := corecontrol.ServerOptions{
		Port: config.Coordinator.Port,
	}

	server, err := corecontrol.NewServer(serverOptions, coreLogger)
	if err != nil {
		rt.close(context.Background(), logger)
		return nil, errors.NewInternalError("failed to create server", err)
	}

	// Register core services
	coreHandler := coredomain.NewDefaultHandler(coreLogger)
	corecontrol.RegisterGRPCServerHandler(server.GRPC(), coreHandler, coreLogger)

	// Register startup services
	handler := domain.NewHandler(rt.scheduler, logger)
	control.RegisterGRPCServerHandler(server.GRPC(), handler, logger)

	coordinator := &Coordinator{
		config:  config,
		server:  server,
		runtime: rt,
		handler: handler,
		logger:  logger,
		state:   CoordinatorStateNotStarted,
	}

	if config.Coordinator.MetricsPort != 0 {
		mux := http.NewServeMux()
		mux.Handle("/metrics", rt.observer.Handler())
		coordinator.metricsServer = &http.Server{
			Addr:              fmt.Sprintf(":%d", config.Coordinator.MetricsPort),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
	}

	return coordinator, nil
}

// Handler is the local Contract served by the coordinator
func (c *Coordinator) Handler() domain.Contract {
	return c.handler
}

func (c *Coordinator) Scheduler() *startup.Scheduler {
	return c.runtime.scheduler
}

func (c *Coordinator) State() CoordinatorState {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.state
}

func (c *Coordinator) setState(state CoordinatorState) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.state = state
}

// Start brings up the servers, boots the host and, unless disabled, applies
// the startup plan.
func (c *Coordinator) Start(ctx context.Context) error {
	c.logger.Infof("Starting coordinator...")

	if err := c.runtime.scheduler.Load(ctx); err != nil {
		return errors.NewIOError("failed to load active profile", err)
	}

	// Start the server
	c.server.Start(ctx)

	if c.metricsServer != nil {
		go func() {
			c.logger.Infof("Serving metrics, address: %s", c.metricsServer.Addr)
			if err := c.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				c.logger.Errorf("Metrics server failed: %v", err)
			}
		}()
	}

	c.setState(CoordinatorStateRunning)

	if *c.config.Host.Boot {
		c.runtime.boot(ctx, c.logger)
	}

	if *c.config.Coordinator.ApplyOnStart {
		plan, err := c.runtime.scheduler.ApplyStartupPlan(ctx)
		if err != nil {
			c.logger.Errorf("Startup plan applied with errors: %v", err)
		}
		if plan != nil {
			c.logger.Infof("Startup plan applied, pass: %s, units: %d, skipped: %d, load order: %v",
				plan.PassID, len(plan.Entries), len(plan.Skipped), plan.LoadOrder.Order)
		}
	}

	c.logger.Infof("Coordinator started")
	return nil
}

func (c *Coordinator) Stop(ctx context.Context) {
	c.logger.Infof("Stopping coordinator...")

	c.setState(CoordinatorStateStopping)

	if ctx == nil {
		ctx = context.Background()
	}

	forcedShutdownTimeout := c.config.Coordinator.ForceShutdownTimeout
	if forcedShutdownTimeout <= 0 {
		forcedShutdownTimeout = DefaultForceShutdownTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, forcedShutdownTimeout)
	defer cancel()

	// Stop server
	c.server.Shutdown(ctx)

	if c.metricsServer != nil {
		if err := c.metricsServer.Shutdown(ctx); err != nil {
			c.logger.Warnf("Failed to stop metrics server: %v", err)
		}
	}

	c.runtime.close(ctx, c.logger)

	c.setState(CoordinatorStateStopped)

	c.logger.Infof("Coordinator stopped")
}
