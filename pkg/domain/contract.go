package domain

import (
	"context"

	"github.com/core-tools/hsu-startup/pkg/startup"
)

// Contract is the startup coordinator's surface for collaborators, local or
// over the control connection.
type Contract interface {
	Status(ctx context.Context) (*startup.Status, error)
	ComputeStartupPlan(ctx context.Context) (*startup.StartupPlan, error)
	ApplyStartupPlan(ctx context.Context) (*startup.StartupPlan, error)
	ApplyStartup(ctx context.Context, unitID string) error
	RecomputeLoadOrder(ctx context.Context) (*startup.LoadOrder, error)
	SetUnitPolicy(ctx context.Context, unitID string, policy startup.UnitPolicy) error
	GetProfile(ctx context.Context) (*startup.Profile, error)
	SetGroup(ctx context.Context, group startup.Group) error
	RemoveGroup(ctx context.Context, groupID string) error
}

// SetUnitPolicyRequest is the wire form of Contract.SetUnitPolicy
type SetUnitPolicyRequest struct {
	UnitID string             `json:"unit_id"`
	Policy startup.UnitPolicy `json:"policy"`
}
