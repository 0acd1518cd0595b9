package startup

import (
	"fmt"
	"time"
)

// PolicyKind tags the variant of a resolved Policy
type PolicyKind string

const (
	PolicyDisable  PolicyKind = "disable"
	PolicyInstant  PolicyKind = "instant"
	PolicyDeferred PolicyKind = "deferred"
)

// Policy is the effective startup policy of a unit for one pass. Only
// PolicyDeferred carries a delay.
type Policy struct {
	Kind    PolicyKind    `json:"kind"`
	Class   StartupClass  `json:"class"`
	Delay   time.Duration `json:"delay"`
	GroupID string        `json:"group_id,omitempty"`
}

func DisablePolicy(groupID string) Policy {
	return Policy{Kind: PolicyDisable, Class: ClassDisabled, GroupID: groupID}
}

func InstantPolicy(groupID string) Policy {
	return Policy{Kind: PolicyInstant, Class: ClassInstant, GroupID: groupID}
}

func DeferredPolicy(class StartupClass, delay time.Duration, groupID string) Policy {
	return Policy{Kind: PolicyDeferred, Class: class, Delay: delay, GroupID: groupID}
}

func (p Policy) String() string {
	switch p.Kind {
	case PolicyDeferred:
		return fmt.Sprintf("%s(%s, %v)", p.Kind, p.Class, p.Delay)
	default:
		return string(p.Kind)
	}
}

// FireAfter is the timer delay of a deferred policy for the unit at index
func (p Policy) FireAfter(index int, stagger time.Duration) time.Duration {
	if p.Kind != PolicyDeferred {
		return 0
	}
	return p.Delay + time.Duration(index)*stagger
}

// Action is a host-facing step issued (or planned) by the scheduler
type Action string

const (
	ActionNone              Action = "none"
	ActionEnableAndPersist  Action = "enable_and_persist"
	ActionDisableAndPersist Action = "disable_and_persist"
	ActionResetAndEnable    Action = "disable_and_persist+enable"
	ActionArmTimer          Action = "arm_timer"
	ActionEnable            Action = "enable"
	ActionFailed            Action = "failed"
)
