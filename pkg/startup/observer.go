package startup

import "time"

// Observer receives scheduler events, e.g. for metrics
type Observer interface {
	ActionIssued(unitID string, action Action, err error)
	TimerArmed(unitID string, class StartupClass, delay time.Duration)
	TimerFired(unitID string, enabled bool)
	TimersPending(count int)
	LoadOrderComputed(units int, truncated bool)
}

type nopObserver struct{}

func (nopObserver) ActionIssued(string, Action, error) {}

func (nopObserver) TimerArmed(string, StartupClass, time.Duration) {}

func (nopObserver) TimerFired(string, bool) {}

func (nopObserver) TimersPending(int) {}

func (nopObserver) LoadOrderComputed(int, bool) {}
