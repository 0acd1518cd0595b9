package startup

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/core-tools/hsu-startup/pkg/errors"
	"github.com/core-tools/hsu-startup/pkg/logging"
)

type SchedulerOptions struct {
	Host     Host
	Store    ProfileStore
	Logger   logging.Logger
	Observer Observer

	// TimerFactory replaces time.AfterFunc, mainly for tests
	TimerFactory TimerFactory
	Now          func() time.Time
}

// SchedulerState represents the lifecycle of a scheduler
type SchedulerState string

const (
	// SchedulerStateNotLoaded means no profile has been loaded yet
	SchedulerStateNotLoaded SchedulerState = "not_loaded"

	// SchedulerStateReady means the profile is loaded and passes may run
	SchedulerStateReady SchedulerState = "ready"

	// SchedulerStateTornDown is terminal: timers are cancelled, operations fail
	SchedulerStateTornDown SchedulerState = "torn_down"
)

// UnitStatus is the last action the scheduler took for a unit
type UnitStatus struct {
	UnitID string    `json:"unit_id"`
	Policy Policy    `json:"policy"`
	Action Action    `json:"action"`
	Error  string    `json:"error,omitempty"`
	At     time.Time `json:"at"`
}

// Status is a diagnostic snapshot of the scheduler
type Status struct {
	State              SchedulerState  `json:"state"`
	RestrictedPlatform bool            `json:"restricted_platform"`
	LastPassID         string          `json:"last_pass_id,omitempty"`
	LastPassAt         time.Time       `json:"last_pass_at,omitempty"`
	PendingTimers      []TimerSnapshot `json:"pending_timers"`
	Units              []UnitStatus    `json:"units"`
	LoadOrder          []string        `json:"load_order"`
}

type Scheduler struct {
	host     Host
	store    ProfileStore
	logger   logging.Logger
	observer Observer
	timers   *timerRegistry
	now      func() time.Time

	// Base context of timer callbacks, cancelled by Teardown
	ctx    context.Context
	cancel context.CancelFunc

	// Serializes operations and guards env
	opMutex    sync.Mutex
	env        *Env
	classifier *Classifier
	groups     *GroupRegistry

	statusMutex sync.Mutex
	state       SchedulerState
	restricted  bool
	lastPassID  string
	lastPassAt  time.Time
	lastOrder   []string
	unitStatus  map[string]UnitStatus
}

func NewScheduler(options SchedulerOptions) (*Scheduler, error) {
	if options.Host == nil {
		return nil, errors.NewValidationError("host is required", nil)
	}
	if options.Logger == nil {
		options.Logger = logging.NewNopLogger()
	}
	if options.Observer == nil {
		options.Observer = nopObserver{}
	}
	if options.Now == nil {
		options.Now = time.Now
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		host:       options.Host,
		store:      options.Store,
		logger:     options.Logger,
		observer:   options.Observer,
		timers:     newTimerRegistry(options.TimerFactory),
		now:        options.Now,
		ctx:        ctx,
		cancel:     cancel,
		state:      SchedulerStateNotLoaded,
		lastOrder:  []string{},
		unitStatus: make(map[string]UnitStatus),
	}, nil
}

// Load reads the active profile from the store. Operations load lazily, so
// calling it is only needed to fail early.
func (s *Scheduler) Load(ctx context.Context) error {
	s.opMutex.Lock()
	defer s.opMutex.Unlock()

	if err := s.checkActive(); err != nil {
		return err
	}
	return s.reload(ctx)
}

func (s *Scheduler) ensureLoaded(ctx context.Context) error {
	if s.env != nil {
		return nil
	}
	return s.reload(ctx)
}

// reload replaces the in-memory profile with the stored one
func (s *Scheduler) reload(ctx context.Context) error {
	restricted, err := s.host.IsRestrictedPlatform(ctx)
	if err != nil {
		return errors.NewHostError("failed to query platform restriction", err)
	}

	profile := NewProfile()
	if s.store != nil {
		profile, err = s.store.LoadProfile(ctx, restricted)
		if err != nil {
			return err
		}
		if profile == nil {
			profile = NewProfile()
		}
	}
	profile.Normalize()

	persist := func(ctx context.Context, p *Profile) error {
		if s.store == nil {
			return nil
		}
		return s.store.SaveProfile(ctx, restricted, p)
	}

	s.env = NewEnv(s.host, profile, persist, s.logger)
	s.classifier = NewClassifier(s.env)
	s.groups = NewGroupRegistry(s.env, s.classifier)

	s.statusMutex.Lock()
	s.restricted = restricted
	if s.state == SchedulerStateNotLoaded {
		s.state = SchedulerStateReady
	}
	s.lastOrder = append([]string{}, profile.LoadOrder...)
	s.statusMutex.Unlock()

	s.logger.Debugf("Profile loaded, restricted_platform: %t, units: %d, groups: %d",
		restricted, len(profile.Units), len(profile.Groups))
	return nil
}

func (s *Scheduler) checkActive() error {
	if s.ctx.Err() != nil {
		return errors.NewCancelledError("scheduler is torn down", s.ctx.Err())
	}
	return nil
}

// Profile returns a copy of the loaded profile
func (s *Scheduler) Profile(ctx context.Context) (*Profile, error) {
	s.opMutex.Lock()
	defer s.opMutex.Unlock()

	if err := s.checkActive(); err != nil {
		return nil, err
	}
	if err := s.ensureLoaded(ctx); err != nil {
		return nil, err
	}
	return s.env.Profile.Clone(), nil
}

// Teardown cancels every pending timer. No timer callback acts after it
// returns and the scheduler accepts no further operations.
func (s *Scheduler) Teardown() int {
	s.cancel()
	cancelled := s.timers.cancelAll()

	s.statusMutex.Lock()
	alreadyDown := s.state == SchedulerStateTornDown
	s.state = SchedulerStateTornDown
	s.statusMutex.Unlock()

	s.observer.TimersPending(0)
	if !alreadyDown {
		s.logger.Infof("Scheduler torn down, cancelled timers: %d", cancelled)
	}
	return cancelled
}

func (s *Scheduler) Status() Status {
	s.statusMutex.Lock()
	defer s.statusMutex.Unlock()

	units := make([]UnitStatus, 0, len(s.unitStatus))
	for _, status := range s.unitStatus {
		units = append(units, status)
	}
	sort.Slice(units, func(i, j int) bool { return units[i].UnitID < units[j].UnitID })

	return Status{
		State:              s.state,
		RestrictedPlatform: s.restricted,
		LastPassID:         s.lastPassID,
		LastPassAt:         s.lastPassAt,
		PendingTimers:      s.timers.snapshots(),
		Units:              units,
		LoadOrder:          append([]string{}, s.lastOrder...),
	}
}

func (s *Scheduler) record(unitID string, policy *Policy, action Action, err error) {
	s.statusMutex.Lock()
	defer s.statusMutex.Unlock()

	status := s.unitStatus[unitID]
	status.UnitID = unitID
	if policy != nil {
		status.Policy = *policy
	}
	status.Action = action
	status.Error = ""
	if err != nil {
		status.Error = err.Error()
	}
	status.At = s.now()
	s.unitStatus[unitID] = status
}

// applyPolicy dispatches to the handler of the policy's variant. With apply
// unset it only reports the action it would take.
func (s *Scheduler) applyPolicy(ctx context.Context, unit ManagedUnit, index int, policy Policy, apply bool) (Action, error) {
	switch policy.Kind {
	case PolicyDisable:
		return s.applyDisable(ctx, unit, apply)
	case PolicyInstant:
		return s.applyInstant(ctx, unit, apply)
	case PolicyDeferred:
		return s.applyDeferred(ctx, unit, index, policy, apply)
	default:
		return ActionFailed, errors.NewInternalError("unknown policy kind: "+string(policy.Kind), nil).
			WithContext("unit_id", unit.ID)
	}
}

func (s *Scheduler) applyDisable(ctx context.Context, unit ManagedUnit, apply bool) (Action, error) {
	if !apply {
		return ActionDisableAndPersist, nil
	}
	if err := s.hostCall(ctx, unit.ID, ActionDisableAndPersist, s.host.DisableAndPersist); err != nil {
		return ActionFailed, err
	}
	return ActionDisableAndPersist, nil
}

func (s *Scheduler) applyInstant(ctx context.Context, unit ManagedUnit, apply bool) (Action, error) {
	enabled, err := s.host.IsEnabled(ctx, unit.ID)
	if err != nil {
		return ActionFailed, s.queryError("enabled", unit.ID, err)
	}
	if enabled {
		return ActionNone, nil
	}
	running, err := s.host.IsRunning(ctx, unit.ID)
	if err != nil {
		return ActionFailed, s.queryError("running", unit.ID, err)
	}
	if running {
		return ActionNone, nil
	}

	if !apply {
		return ActionEnableAndPersist, nil
	}
	if err := s.hostCall(ctx, unit.ID, ActionEnableAndPersist, s.host.EnableAndPersist); err != nil {
		return ActionFailed, err
	}
	return ActionEnableAndPersist, nil
}

func (s *Scheduler) applyDeferred(ctx context.Context, unit ManagedUnit, index int, policy Policy, apply bool) (Action, error) {
	logger := logging.NewUnitLogger(s.logger, unit.ID)

	active, err := s.host.IsEnabled(ctx, unit.ID)
	if err != nil {
		return ActionFailed, s.queryError("enabled", unit.ID, err)
	}
	running, err := s.host.IsRunning(ctx, unit.ID)
	if err != nil {
		return ActionFailed, s.queryError("running", unit.ID, err)
	}

	switch {
	case running:
		return ActionNone, nil

	case active:
		// Left auto-starting by a previous session: clear the persisted flag
		// for the next boot and keep the unit active for this one.
		if !apply {
			return ActionResetAndEnable, nil
		}
		if err := s.hostCall(ctx, unit.ID, ActionDisableAndPersist, s.host.DisableAndPersist); err != nil {
			return ActionFailed, err
		}
		if err := s.hostCall(ctx, unit.ID, ActionEnable, s.host.Enable); err != nil {
			return ActionFailed, err
		}
		return ActionResetAndEnable, nil

	default:
		if s.timers.isPending(unit.ID) {
			logger.Debugf("Timer already pending, not re-arming")
			return ActionNone, nil
		}
		if !apply {
			return ActionArmTimer, nil
		}

		snapshot := TimerSnapshot{
			UnitID:  unit.ID,
			Class:   policy.Class,
			Delay:   policy.FireAfter(index, s.env.Profile.Stagger()),
			Index:   index,
			GroupID: policy.GroupID,
			ArmedAt: s.now(),
		}
		if !s.timers.arm(snapshot, s.fire) {
			if err := s.checkActive(); err != nil {
				return ActionFailed, err
			}
			return ActionNone, nil
		}

		s.observer.TimerArmed(unit.ID, policy.Class, snapshot.Delay)
		s.observer.TimersPending(s.timers.count())
		logger.Infof("Timer armed, class: %s, delay: %v, index: %d", policy.Class, snapshot.Delay, index)
		return ActionArmTimer, nil
	}
}

// fire runs on the timer's goroutine. It re-checks host state before acting
// and only ever issues a transient enable.
func (s *Scheduler) fire(snapshot TimerSnapshot) {
	if !s.timers.claim(snapshot.UnitID) {
		return
	}
	defer s.timers.done()

	s.observer.TimersPending(s.timers.count())
	logger := logging.NewUnitLogger(s.logger, snapshot.UnitID)

	running, err := s.host.IsRunning(s.ctx, snapshot.UnitID)
	if err != nil {
		hostErr := s.queryError("running", snapshot.UnitID, err)
		logger.Errorf("Timer fired, failed to query running state: %v", hostErr)
		s.observer.ActionIssued(snapshot.UnitID, ActionFailed, hostErr)
		s.record(snapshot.UnitID, nil, ActionFailed, hostErr)
		return
	}
	if running {
		logger.Infof("Timer fired, unit already running, delay: %v", snapshot.Delay)
		s.observer.TimerFired(snapshot.UnitID, false)
		s.record(snapshot.UnitID, nil, ActionNone, nil)
		return
	}
	if s.ctx.Err() != nil {
		return
	}

	if err := s.hostCall(s.ctx, snapshot.UnitID, ActionEnable, s.host.Enable); err != nil {
		s.observer.TimerFired(snapshot.UnitID, false)
		s.record(snapshot.UnitID, nil, ActionFailed, err)
		return
	}

	logger.Infof("Timer fired, unit enabled, class: %s, delay: %v", snapshot.Class, snapshot.Delay)
	s.observer.TimerFired(snapshot.UnitID, true)
	s.record(snapshot.UnitID, nil, ActionEnable, nil)
}

// hostCall issues one mutating host call and reports it to the observer
func (s *Scheduler) hostCall(ctx context.Context, unitID string, action Action, call func(context.Context, string) error) error {
	if err := call(ctx, unitID); err != nil {
		hostErr := errors.NewHostError("host rejected "+string(action), err).
			WithContext("unit_id", unitID).
			WithContext("action", string(action))
		s.logger.Errorf("Host call failed, unit: %s, action: %s, error: %v", unitID, action, err)
		s.observer.ActionIssued(unitID, action, hostErr)
		return hostErr
	}
	s.logger.Debugf("Host call done, unit: %s, action: %s", unitID, action)
	s.observer.ActionIssued(unitID, action, nil)
	return nil
}

func (s *Scheduler) queryError(what, unitID string, err error) error {
	return errors.NewHostError("failed to query "+what+" state", err).WithContext("unit_id", unitID)
}

// displayKey orders units by display name, case-insensitively
func displayKey(unit ManagedUnit) string {
	if unit.DisplayName == "" {
		return strings.ToLower(unit.ID)
	}
	return strings.ToLower(unit.DisplayName)
}

func sortByDisplayName(units []ManagedUnit) []ManagedUnit {
	sorted := append([]ManagedUnit(nil), units...)
	sort.SliceStable(sorted, func(i, j int) bool {
		ki, kj := displayKey(sorted[i]), displayKey(sorted[j])
		if ki != kj {
			return ki < kj
		}
		return sorted[i].ID < sorted[j].ID
	})
	return sorted
}
