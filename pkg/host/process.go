package host

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/core-tools/hsu-startup/pkg/errors"
	"github.com/core-tools/hsu-startup/pkg/logcollection"
	"github.com/core-tools/hsu-startup/pkg/logging"
	"github.com/core-tools/hsu-startup/pkg/monitoring"
	"github.com/core-tools/hsu-startup/pkg/process"
	"github.com/core-tools/hsu-startup/pkg/processfile"
	"github.com/core-tools/hsu-startup/pkg/startup"
)

const defaultStopTimeout = 10 * time.Second

type ProcessHostOptions struct {
	Manifest *Manifest

	// StateFile holds the persisted auto-start flags. Empty keeps them in
	// memory only.
	StateFile string

	// Files, if set, receives a PID file per launched unit
	Files *processfile.ProcessFileManager

	// Collector, if set, receives the output of units that declare one
	Collector *logcollection.Collector

	// Restricted overrides the manifest's restricted_platform flag
	Restricted *bool

	StopTimeout time.Duration
}

type processUnit struct {
	config  ManifestUnit
	enabled bool
	handle  *process.Handle
	prober  *monitoring.Prober
}

// ProcessHost runs each unit as an OS process
type ProcessHost struct {
	mutex       sync.Mutex
	order       []string
	units       map[string]*processUnit
	state       *hostState
	stateFile   string
	files       *processfile.ProcessFileManager
	collector   *logcollection.Collector
	restricted  bool
	stopTimeout time.Duration
	logger      logging.Logger
}

func NewProcessHost(options ProcessHostOptions, logger logging.Logger) (*ProcessHost, error) {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if err := ValidateManifest(options.Manifest); err != nil {
		return nil, err
	}

	state, err := readHostState(options.StateFile)
	if err != nil {
		return nil, err
	}

	h := &ProcessHost{
		units:       make(map[string]*processUnit, len(options.Manifest.Units)),
		state:       state,
		stateFile:   options.StateFile,
		files:       options.Files,
		collector:   options.Collector,
		restricted:  options.Manifest.RestrictedPlatform,
		stopTimeout: options.StopTimeout,
		logger:      logger,
	}
	if options.Restricted != nil {
		h.restricted = *options.Restricted
	}
	if h.stopTimeout <= 0 {
		h.stopTimeout = defaultStopTimeout
	}
	for _, unit := range options.Manifest.Units {
		u := &processUnit{config: unit}
		if unit.Probe != nil {
			prober, err := monitoring.NewProber(unit.ID, *unit.Probe, logging.NewUnitLogger(logger, unit.ID))
			if err != nil {
				return nil, err
			}
			if h.files != nil {
				unitID := unit.ID
				prober.SetPIDSource(func() (int, error) { return h.files.ReadPIDFile(unitID) })
			}
			u.prober = prober
		}
		h.order = append(h.order, unit.ID)
		h.units[unit.ID] = u
	}

	logger.Infof("Process host created, units: %d, restricted: %t, state file: '%s'", len(h.order), h.restricted, h.stateFile)
	return h, nil
}

// Boot enables every unit whose auto-start flag was persisted by a previous
// session, as the host would on device start.
func (h *ProcessHost) Boot(ctx context.Context) error {
	h.mutex.Lock()
	var ids []string
	for _, id := range h.order {
		if h.state.Autostart[id] {
			ids = append(ids, id)
		}
	}
	h.mutex.Unlock()

	h.logger.Infof("Booting host, auto-start units: %v", ids)

	collection := errors.NewErrorCollection()
	for _, id := range ids {
		if err := h.Enable(ctx, id); err != nil {
			h.logger.Errorf("Failed to auto-start unit, id: %s, error: %v", id, err)
			collection.Add(err)
		}
	}
	return collection.ToError()
}

// Shutdown stops every running unit. Auto-start flags are left untouched.
func (h *ProcessHost) Shutdown(ctx context.Context) {
	h.mutex.Lock()
	ids := append([]string(nil), h.order...)
	h.mutex.Unlock()

	for _, id := range ids {
		if err := h.stop(id); err != nil {
			h.logger.Warnf("Failed to stop unit during shutdown, id: %s, error: %v", id, err)
		}
	}
	h.logger.Infof("Process host shut down")
}

func (h *ProcessHost) ListUnits(ctx context.Context) ([]startup.ManagedUnit, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.NewCancelledError("listing units cancelled", err)
	}

	h.mutex.Lock()
	defer h.mutex.Unlock()

	result := make([]startup.ManagedUnit, 0, len(h.order))
	for _, id := range h.order {
		result = append(result, h.units[id].config.ManagedUnit)
	}
	return result, nil
}

func (h *ProcessHost) IsEnabled(ctx context.Context, unitID string) (bool, error) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	u, err := h.lookup(unitID)
	if err != nil {
		return false, err
	}
	return u.enabled, nil
}

// IsRunning reports a live launched process, or else asks the unit's probe
func (h *ProcessHost) IsRunning(ctx context.Context, unitID string) (bool, error) {
	h.mutex.Lock()
	u, err := h.lookup(unitID)
	if err != nil {
		h.mutex.Unlock()
		return false, err
	}
	if u.handle != nil && u.handle.Alive() {
		h.mutex.Unlock()
		return true, nil
	}
	prober := u.prober
	h.mutex.Unlock()

	if prober == nil {
		return false, nil
	}
	return prober.Check(ctx)
}

// ProbeState returns the last probe outcome of a unit, if it has a probe
func (h *ProcessHost) ProbeState(unitID string) (monitoring.ProbeState, bool) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	u, ok := h.units[unitID]
	if !ok || u.prober == nil {
		return monitoring.ProbeState{}, false
	}
	return u.prober.State(), true
}

// Enable launches the unit unless its process is already alive
func (h *ProcessHost) Enable(ctx context.Context, unitID string) error {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	u, err := h.lookup(unitID)
	if err != nil {
		return err
	}
	if u.handle != nil && u.handle.Alive() {
		u.enabled = true
		h.logger.Debugf("Unit already running, id: %s, pid: %d", unitID, u.handle.PID())
		return nil
	}

	execution := u.config.Execution
	capture := h.collector != nil && u.config.Output != nil && u.config.Output.Enabled()
	execution.CaptureOutput = capture

	unitLogger := logging.NewUnitLogger(h.logger, unitID)
	handle, err := process.Execute(ctx, unitID, execution, unitLogger)
	if err != nil {
		// A unit that failed to launch stays disabled
		u.enabled = false
		return err
	}
	u.handle = handle
	u.enabled = true

	if capture {
		if err := h.collector.CollectFromProcess(unitID, *u.config.Output, handle.Stdout(), handle.Stderr()); err != nil {
			h.logger.Warnf("Failed to collect unit output, id: %s, error: %v", unitID, err)
		}
	}

	if h.files != nil {
		if err := h.files.WritePIDFile(unitID, handle.PID()); err != nil {
			h.logger.Warnf("Failed to write PID file, id: %s, error: %v", unitID, err)
		}
	}
	return nil
}

// Disable terminates the unit's process
func (h *ProcessHost) Disable(ctx context.Context, unitID string) error {
	h.mutex.Lock()
	u, err := h.lookup(unitID)
	if err != nil {
		h.mutex.Unlock()
		return err
	}
	u.enabled = false
	h.mutex.Unlock()

	return h.stop(unitID)
}

func (h *ProcessHost) EnableAndPersist(ctx context.Context, unitID string) error {
	if err := h.Enable(ctx, unitID); err != nil {
		return err
	}
	return h.persist(unitID, true)
}

func (h *ProcessHost) DisableAndPersist(ctx context.Context, unitID string) error {
	if err := h.Disable(ctx, unitID); err != nil {
		return err
	}
	return h.persist(unitID, false)
}

func (h *ProcessHost) IsRestrictedPlatform(ctx context.Context) (bool, error) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	return h.restricted, nil
}

// Autostart reports the persisted flag of a unit
func (h *ProcessHost) Autostart(unitID string) bool {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	return h.state.Autostart[unitID]
}

func (h *ProcessHost) stop(unitID string) error {
	h.mutex.Lock()
	u, err := h.lookup(unitID)
	if err != nil {
		h.mutex.Unlock()
		return err
	}
	handle := u.handle
	u.handle = nil
	h.mutex.Unlock()

	if handle == nil {
		return nil
	}
	if err := handle.Stop(h.stopTimeout, logging.NewUnitLogger(h.logger, unitID)); err != nil {
		return errors.NewHostError("failed to stop unit", err).WithContext("unit_id", unitID)
	}
	if h.files != nil {
		if err := h.files.RemovePIDFile(unitID); err != nil {
			h.logger.Warnf("Failed to remove PID file, id: %s, error: %v", unitID, err)
		}
	}
	return nil
}

func (h *ProcessHost) persist(unitID string, autostart bool) error {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	previous, existed := h.state.Autostart[unitID]
	if autostart {
		h.state.Autostart[unitID] = true
	} else {
		delete(h.state.Autostart, unitID)
	}

	if err := writeHostState(h.stateFile, h.state); err != nil {
		if existed {
			h.state.Autostart[unitID] = previous
		} else {
			delete(h.state.Autostart, unitID)
		}
		return errors.NewHostError("failed to persist auto-start flag", err).WithContext("unit_id", unitID)
	}
	h.logger.Debugf("Auto-start flag persisted, id: %s, autostart: %t", unitID, autostart)
	return nil
}

// Must be called with the mutex held
func (h *ProcessHost) lookup(unitID string) (*processUnit, error) {
	u, ok := h.units[unitID]
	if !ok {
		return nil, errors.NewNotFoundError(fmt.Sprintf("unit not found: %s", unitID), nil).WithContext("unit_id", unitID)
	}
	return u, nil
}
