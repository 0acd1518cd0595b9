package coordinator

import (
	"context"

	"github.com/core-tools/hsu-startup/pkg/errors"
	"github.com/core-tools/hsu-startup/pkg/host"
	"github.com/core-tools/hsu-startup/pkg/logcollection"
	"github.com/core-tools/hsu-startup/pkg/logging"
	"github.com/core-tools/hsu-startup/pkg/metrics"
	"github.com/core-tools/hsu-startup/pkg/processfile"
	"github.com/core-tools/hsu-startup/pkg/profilestore"
	"github.com/core-tools/hsu-startup/pkg/startup"
)

// runtime is everything the coordinator runs besides its servers
type runtime struct {
	files       *processfile.ProcessFileManager
	store       *profilestore.Store
	host        startup.Host
	processHost *host.ProcessHost
	collector   *logcollection.Collector
	memoryHost  *host.MemoryHost
	observer    *metrics.Observer
	scheduler   *startup.Scheduler
}

func newRuntime(config *Config, logger logging.Logger) (*runtime, error) {
	files := processfile.NewProcessFileManager(config.Files.processFileConfig(),
		logging.NewLogger("files , ", logging.FuncsOf(logger)))

	store, err := profilestore.Open(config.Store.Backend, config.Store.Path, profilestore.StoreOptions{
		DualProfile: config.Store.DualProfile,
		Defaults:    config.Defaults,
	}, logging.NewLogger("store , ", logging.FuncsOf(logger)))
	if err != nil {
		return nil, errors.NewIOError("failed to open profile store", err).WithContext("backend", config.Store.Backend)
	}

	r := &runtime{
		files:    files,
		store:    store,
		observer: metrics.NewObserver(),
	}

	hostLogger := logging.NewLogger("host , ", logging.FuncsOf(logger))
	switch config.Host.Type {
	case HostTypeProcess:
		manifest, err := host.LoadManifest(config.Host.Manifest)
		if err != nil {
			store.Close()
			return nil, err
		}
		r.collector = logcollection.NewCollector(files, logging.NewLogger("output , ", logging.FuncsOf(logger)))
		r.processHost, err = host.NewProcessHost(host.ProcessHostOptions{
			Manifest:    manifest,
			StateFile:   config.Host.StateFile,
			Files:       files,
			Collector:   r.collector,
			Restricted:  config.Host.RestrictedPlatform,
			StopTimeout: config.Host.StopTimeout,
		}, hostLogger)
		if err != nil {
			store.Close()
			return nil, err
		}
		r.host = r.processHost

	case HostTypeMemory:
		r.memoryHost = host.NewMemoryHost(hostLogger)
		for _, unit := range config.Host.Units {
			if unit.DisplayName == "" {
				unit.DisplayName = unit.ID
			}
			r.memoryHost.AddUnit(unit, false)
		}
		if config.Host.RestrictedPlatform != nil {
			r.memoryHost.SetRestricted(*config.Host.RestrictedPlatform)
		}
		r.host = r.memoryHost

	default:
		store.Close()
		return nil, errors.NewValidationError("unsupported host type: "+string(config.Host.Type), nil)
	}

	r.scheduler, err = startup.NewScheduler(startup.SchedulerOptions{
		Host:     r.host,
		Store:    store,
		Logger:   logging.NewLogger("scheduler , ", logging.FuncsOf(logger)),
		Observer: r.observer,
	})
	if err != nil {
		store.Close()
		return nil, errors.NewInternalError("failed to create scheduler", err)
	}

	return r, nil
}

// boot lets a process host auto-start the units a previous session left
// enabled
func (r *runtime) boot(ctx context.Context, logger logging.Logger) {
	if r.processHost == nil {
		return
	}
	if err := r.processHost.Boot(ctx); err != nil {
		logger.Errorf("Host boot finished with errors: %v", err)
	}
}

// close tears the scheduler down before stopping the units it manages
func (r *runtime) close(ctx context.Context, logger logging.Logger) {
	cancelled := r.scheduler.Teardown()
	logger.Infof("Scheduler torn down, cancelled timers: %d", cancelled)

	if r.processHost != nil {
		r.processHost.Shutdown(ctx)
	}
	if r.collector != nil {
		r.collector.Close()
	}
	if err := r.store.Close(); err != nil {
		logger.Warnf("Failed to close profile store: %v", err)
	}
}
