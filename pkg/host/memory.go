package host

import (
	"context"
	"fmt"
	"sync"

	"github.com/core-tools/hsu-startup/pkg/errors"
	"github.com/core-tools/hsu-startup/pkg/logging"
	"github.com/core-tools/hsu-startup/pkg/startup"
)

// Call is one host invocation recorded by MemoryHost
type Call struct {
	Method string
	UnitID string
}

func (c Call) String() string {
	if c.UnitID == "" {
		return c.Method
	}
	return c.Method + "(" + c.UnitID + ")"
}

type memoryUnit struct {
	unit      startup.ManagedUnit
	enabled   bool
	running   bool
	persisted bool
}

// MemoryHost keeps units and their flags in memory. Enabling a unit marks it
// running; disabling stops it.
type MemoryHost struct {
	mutex      sync.Mutex
	order      []string
	units      map[string]*memoryUnit
	restricted bool
	failures   map[string]error
	calls      []Call
	logger     logging.Logger
}

func NewMemoryHost(logger logging.Logger) *MemoryHost {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &MemoryHost{
		units:    make(map[string]*memoryUnit),
		failures: make(map[string]error),
		logger:   logger,
	}
}

// AddUnit registers a unit. persisted marks it as auto-starting from a
// previous session, which also leaves it enabled and running.
func (h *MemoryHost) AddUnit(unit startup.ManagedUnit, persisted bool) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if _, exists := h.units[unit.ID]; !exists {
		h.order = append(h.order, unit.ID)
	}
	h.units[unit.ID] = &memoryUnit{
		unit:      unit,
		enabled:   persisted,
		running:   persisted,
		persisted: persisted,
	}
}

func (h *MemoryHost) SetRestricted(restricted bool) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.restricted = restricted
}

// SetRunning changes the running flag without recording a call, the way a
// unit started by someone else would look.
func (h *MemoryHost) SetRunning(unitID string, running bool) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	if u, ok := h.units[unitID]; ok {
		u.running = running
	}
}

// FailOn makes method fail for unitID. An empty unitID matches calls that
// take no unit (ListUnits, IsRestrictedPlatform).
func (h *MemoryHost) FailOn(method, unitID string, err error) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	if err == nil {
		delete(h.failures, method+":"+unitID)
		return
	}
	h.failures[method+":"+unitID] = err
}

// Calls returns every recorded call in order
func (h *MemoryHost) Calls() []Call {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	result := make([]Call, len(h.calls))
	copy(result, h.calls)
	return result
}

func (h *MemoryHost) ResetCalls() {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.calls = nil
}

// Persisted reports the auto-start flag of a unit
func (h *MemoryHost) Persisted(unitID string) bool {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	if u, ok := h.units[unitID]; ok {
		return u.persisted
	}
	return false
}

func (h *MemoryHost) ListUnits(ctx context.Context) ([]startup.ManagedUnit, error) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if err := h.begin(ctx, "ListUnits", ""); err != nil {
		return nil, err
	}
	result := make([]startup.ManagedUnit, 0, len(h.order))
	for _, id := range h.order {
		result = append(result, h.units[id].unit)
	}
	return result, nil
}

func (h *MemoryHost) IsEnabled(ctx context.Context, unitID string) (bool, error) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	u, err := h.lookup(ctx, "IsEnabled", unitID)
	if err != nil {
		return false, err
	}
	return u.enabled, nil
}

func (h *MemoryHost) IsRunning(ctx context.Context, unitID string) (bool, error) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	u, err := h.lookup(ctx, "IsRunning", unitID)
	if err != nil {
		return false, err
	}
	return u.running, nil
}

func (h *MemoryHost) Enable(ctx context.Context, unitID string) error {
	return h.mutate(ctx, "Enable", unitID, func(u *memoryUnit) {
		u.enabled = true
		u.running = true
	})
}

func (h *MemoryHost) Disable(ctx context.Context, unitID string) error {
	return h.mutate(ctx, "Disable", unitID, func(u *memoryUnit) {
		u.enabled = false
		u.running = false
	})
}

func (h *MemoryHost) EnableAndPersist(ctx context.Context, unitID string) error {
	return h.mutate(ctx, "EnableAndPersist", unitID, func(u *memoryUnit) {
		u.enabled = true
		u.running = true
		u.persisted = true
	})
}

func (h *MemoryHost) DisableAndPersist(ctx context.Context, unitID string) error {
	return h.mutate(ctx, "DisableAndPersist", unitID, func(u *memoryUnit) {
		u.enabled = false
		u.running = false
		u.persisted = false
	})
}

func (h *MemoryHost) IsRestrictedPlatform(ctx context.Context) (bool, error) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if err := h.begin(ctx, "IsRestrictedPlatform", ""); err != nil {
		return false, err
	}
	return h.restricted, nil
}

func (h *MemoryHost) mutate(ctx context.Context, method, unitID string, apply func(u *memoryUnit)) error {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	u, err := h.lookup(ctx, method, unitID)
	if err != nil {
		return err
	}
	apply(u)
	h.logger.Debugf("%s applied, unit: %s, enabled: %t, running: %t, persisted: %t", method, unitID, u.enabled, u.running, u.persisted)
	return nil
}

func (h *MemoryHost) lookup(ctx context.Context, method, unitID string) (*memoryUnit, error) {
	if err := h.begin(ctx, method, unitID); err != nil {
		return nil, err
	}
	u, ok := h.units[unitID]
	if !ok {
		return nil, errors.NewNotFoundError(fmt.Sprintf("unit not found: %s", unitID), nil).WithContext("unit_id", unitID)
	}
	return u, nil
}

// begin records the call and returns the injected failure, if any.
// Must be called with the mutex held.
func (h *MemoryHost) begin(ctx context.Context, method, unitID string) error {
	h.calls = append(h.calls, Call{Method: method, UnitID: unitID})
	if err := ctx.Err(); err != nil {
		return errors.NewCancelledError(method+" cancelled", err).WithContext("unit_id", unitID)
	}
	if err, ok := h.failures[method+":"+unitID]; ok {
		return err
	}
	return nil
}
