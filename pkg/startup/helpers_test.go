package startup

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

type hostCall struct {
	Method string
	UnitID string
}

// fakeHost records mutating calls. Enable marks a unit enabled but never
// running, so tests control running state explicitly.
type fakeHost struct {
	mutex      sync.Mutex
	units      []ManagedUnit
	enabled    map[string]bool
	running    map[string]bool
	restricted bool
	failures   map[string]error
	calls      []hostCall
}

func newFakeHost(units ...ManagedUnit) *fakeHost {
	return &fakeHost{
		units:    units,
		enabled:  make(map[string]bool),
		running:  make(map[string]bool),
		failures: make(map[string]error),
	}
}

func newUnit(id string) ManagedUnit {
	return ManagedUnit{ID: id, DisplayName: id}
}

func (h *fakeHost) failOn(method, unitID string) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.failures[method+":"+unitID] = fmt.Errorf("%s rejected for %s", method, unitID)
}

func (h *fakeHost) setEnabled(unitID string, enabled bool) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.enabled[unitID] = enabled
}

func (h *fakeHost) setRunning(unitID string, running bool) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.running[unitID] = running
}

func (h *fakeHost) recorded() []hostCall {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	return append([]hostCall(nil), h.calls...)
}

func (h *fakeHost) callsFor(unitID string) []string {
	var methods []string
	for _, call := range h.recorded() {
		if call.UnitID == unitID {
			methods = append(methods, call.Method)
		}
	}
	return methods
}

func (h *fakeHost) failure(method, unitID string) error {
	return h.failures[method+":"+unitID]
}

func (h *fakeHost) ListUnits(ctx context.Context) ([]ManagedUnit, error) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	if err := h.failures["ListUnits:"]; err != nil {
		return nil, err
	}
	return append([]ManagedUnit(nil), h.units...), nil
}

func (h *fakeHost) IsEnabled(ctx context.Context, unitID string) (bool, error) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	if err := h.failure("IsEnabled", unitID); err != nil {
		return false, err
	}
	return h.enabled[unitID], nil
}

func (h *fakeHost) IsRunning(ctx context.Context, unitID string) (bool, error) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	if err := h.failure("IsRunning", unitID); err != nil {
		return false, err
	}
	return h.running[unitID], nil
}

func (h *fakeHost) mutate(method, unitID string, enabled bool) error {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	if err := h.failure(method, unitID); err != nil {
		return err
	}
	h.calls = append(h.calls, hostCall{Method: method, UnitID: unitID})
	h.enabled[unitID] = enabled
	return nil
}

func (h *fakeHost) Enable(ctx context.Context, unitID string) error {
	return h.mutate("Enable", unitID, true)
}

func (h *fakeHost) Disable(ctx context.Context, unitID string) error {
	return h.mutate("Disable", unitID, false)
}

func (h *fakeHost) EnableAndPersist(ctx context.Context, unitID string) error {
	return h.mutate("EnableAndPersist", unitID, true)
}

func (h *fakeHost) DisableAndPersist(ctx context.Context, unitID string) error {
	return h.mutate("DisableAndPersist", unitID, false)
}

func (h *fakeHost) IsRestrictedPlatform(ctx context.Context) (bool, error) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	return h.restricted, nil
}

// fakeStore keeps profiles in memory and hands out copies
type fakeStore struct {
	mutex    sync.Mutex
	profiles map[bool]*Profile
	saves    int
	saveErr  error
	validate bool
}

func newFakeStore(profile *Profile) *fakeStore {
	store := &fakeStore{profiles: make(map[bool]*Profile)}
	if profile != nil {
		store.profiles[false] = profile.Clone()
	}
	return store
}

func (s *fakeStore) LoadProfile(ctx context.Context, restricted bool) (*Profile, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	profile, ok := s.profiles[restricted]
	if !ok {
		return NewProfile(), nil
	}
	return profile.Clone(), nil
}

func (s *fakeStore) SaveProfile(ctx context.Context, restricted bool, profile *Profile) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	if s.validate {
		if err := ValidateProfile(profile); err != nil {
			return err
		}
	}
	s.saves++
	s.profiles[restricted] = profile.Clone()
	return nil
}

func (s *fakeStore) stored() *Profile {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.profiles[false].Clone()
}

// manualClock collects armed timers and fires them on demand
type manualClock struct {
	mutex  sync.Mutex
	timers []*manualTimer
}

type manualTimer struct {
	clock   *manualClock
	delay   time.Duration
	fn      func()
	stopped bool
	fired   bool
}

func (c *manualClock) factory(d time.Duration, f func()) Timer {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	timer := &manualTimer{clock: c, delay: d, fn: f}
	c.timers = append(c.timers, timer)
	return timer
}

func (t *manualTimer) Stop() bool {
	t.clock.mutex.Lock()
	defer t.clock.mutex.Unlock()
	wasActive := !t.stopped && !t.fired
	t.stopped = true
	return wasActive
}

func (c *manualClock) delays() []time.Duration {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	result := make([]time.Duration, 0, len(c.timers))
	for _, timer := range c.timers {
		result = append(result, timer.delay)
	}
	return result
}

// fireAll runs every armed timer, including stopped ones, so tests can
// observe that callbacks racing with teardown do nothing.
func (c *manualClock) fireAll() {
	c.mutex.Lock()
	timers := append([]*manualTimer(nil), c.timers...)
	for _, timer := range timers {
		timer.fired = true
	}
	c.mutex.Unlock()

	for _, timer := range timers {
		timer.fn()
	}
}

type recordingObserver struct {
	mutex   sync.Mutex
	actions []Action
	armed   map[string]time.Duration
	fired   map[string]bool
	pending int
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{
		armed: make(map[string]time.Duration),
		fired: make(map[string]bool),
	}
}

func (o *recordingObserver) ActionIssued(unitID string, action Action, err error) {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	o.actions = append(o.actions, action)
}

func (o *recordingObserver) TimerArmed(unitID string, class StartupClass, delay time.Duration) {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	o.armed[unitID] = delay
}

func (o *recordingObserver) TimerFired(unitID string, enabled bool) {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	o.fired[unitID] = enabled
}

func (o *recordingObserver) TimersPending(count int) {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	o.pending = count
}

func (o *recordingObserver) LoadOrderComputed(units int, truncated bool) {}

type TestLogger struct{}

func (l *TestLogger) LogLevelf(level int, format string, args ...interface{}) {}
func (l *TestLogger) Debugf(format string, args ...interface{})               {}
func (l *TestLogger) Infof(format string, args ...interface{})                {}
func (l *TestLogger) Warnf(format string, args ...interface{})                {}
func (l *TestLogger) Errorf(format string, args ...interface{})               {}

// recordingLogger keeps formatted lines for assertions
type recordingLogger struct {
	mutex sync.Mutex
	lines []string
}

func (l *recordingLogger) record(format string, args ...interface{}) {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	l.lines = append(l.lines, fmt.Sprintf(format, args...))
}

func (l *recordingLogger) LogLevelf(level int, format string, args ...interface{}) {
	l.record(format, args...)
}
func (l *recordingLogger) Debugf(format string, args ...interface{}) { l.record(format, args...) }
func (l *recordingLogger) Infof(format string, args ...interface{})  { l.record(format, args...) }
func (l *recordingLogger) Warnf(format string, args ...interface{})  { l.record(format, args...) }
func (l *recordingLogger) Errorf(format string, args ...interface{}) { l.record(format, args...) }

func (l *recordingLogger) contains(substr string) bool {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	for _, line := range l.lines {
		if strings.Contains(line, substr) {
			return true
		}
	}
	return false
}

// profileWith returns a default profile with the given unit classes
func profileWith(classes map[string]StartupClass) *Profile {
	profile := NewProfile()
	for id, class := range classes {
		profile.Units[id] = &UnitConfig{StartupClass: ClassPtr(class)}
	}
	return profile
}

type testRig struct {
	host      *fakeHost
	store     *fakeStore
	clock     *manualClock
	observer  *recordingObserver
	scheduler *Scheduler
}

func newTestRig(profile *Profile, units ...ManagedUnit) (*testRig, error) {
	rig := &testRig{
		host:     newFakeHost(units...),
		store:    newFakeStore(profile),
		clock:    &manualClock{},
		observer: newRecordingObserver(),
	}
	scheduler, err := NewScheduler(SchedulerOptions{
		Host:         rig.host,
		Store:        rig.store,
		Logger:       &TestLogger{},
		Observer:     rig.observer,
		TimerFactory: rig.clock.factory,
	})
	if err != nil {
		return nil, err
	}
	rig.scheduler = scheduler
	return rig, nil
}
