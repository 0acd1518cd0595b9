package startup

import (
	"sort"
	"sync"
	"time"
)

// Timer is the subset of *time.Timer the scheduler needs
type Timer interface {
	Stop() bool
}

// TimerFactory arms f to run once after d
type TimerFactory func(d time.Duration, f func()) Timer

func defaultTimerFactory(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// TimerSnapshot is the immutable state an armed timer carries to its callback
type TimerSnapshot struct {
	UnitID  string        `json:"unit_id"`
	Class   StartupClass  `json:"class"`
	Delay   time.Duration `json:"delay"`
	Index   int           `json:"index"`
	GroupID string        `json:"group_id,omitempty"`
	ArmedAt time.Time     `json:"armed_at"`
}

type pendingTimer struct {
	snapshot TimerSnapshot
	timer    Timer
}

// timerRegistry is the cancellable pending set. Once closed it arms nothing
// and lets no callback through.
type timerRegistry struct {
	factory  TimerFactory
	mutex    sync.Mutex
	pending  map[string]*pendingTimer
	closed   bool
	inFlight sync.WaitGroup
}

func newTimerRegistry(factory TimerFactory) *timerRegistry {
	if factory == nil {
		factory = defaultTimerFactory
	}
	return &timerRegistry{
		factory: factory,
		pending: make(map[string]*pendingTimer),
	}
}

// arm registers a timer for the snapshot's unit. It returns false when the
// registry is closed or the unit already has a pending timer.
func (r *timerRegistry) arm(snapshot TimerSnapshot, fire func(TimerSnapshot)) bool {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.closed {
		return false
	}
	if _, exists := r.pending[snapshot.UnitID]; exists {
		return false
	}

	entry := &pendingTimer{snapshot: snapshot}
	r.pending[snapshot.UnitID] = entry
	entry.timer = r.factory(snapshot.Delay, func() {
		fire(snapshot)
	})
	return true
}

// claim removes the unit's pending timer so its callback may act. Every
// successful claim must be paired with done.
func (r *timerRegistry) claim(unitID string) bool {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.closed {
		return false
	}
	if _, exists := r.pending[unitID]; !exists {
		return false
	}
	delete(r.pending, unitID)
	r.inFlight.Add(1)
	return true
}

func (r *timerRegistry) done() {
	r.inFlight.Done()
}

// cancelAll stops every pending timer, closes the registry and waits for
// callbacks that already claimed their slot. It returns the number of timers
// cancelled.
func (r *timerRegistry) cancelAll() int {
	r.mutex.Lock()
	r.closed = true
	cancelled := len(r.pending)
	for id, entry := range r.pending {
		if entry.timer != nil {
			entry.timer.Stop()
		}
		delete(r.pending, id)
	}
	r.mutex.Unlock()

	r.inFlight.Wait()
	return cancelled
}

func (r *timerRegistry) count() int {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return len(r.pending)
}

func (r *timerRegistry) isPending(unitID string) bool {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	_, exists := r.pending[unitID]
	return exists
}

// snapshots returns pending timers ordered by fire delay, then unit id
func (r *timerRegistry) snapshots() []TimerSnapshot {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	result := make([]TimerSnapshot, 0, len(r.pending))
	for _, entry := range r.pending {
		result = append(result, entry.snapshot)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Delay != result[j].Delay {
			return result[i].Delay < result[j].Delay
		}
		return result[i].UnitID < result[j].UnitID
	})
	return result
}
