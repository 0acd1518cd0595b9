package domain

import (
	"context"

	"github.com/core-tools/hsu-startup/pkg/errors"
	"github.com/core-tools/hsu-startup/pkg/logging"
	"github.com/core-tools/hsu-startup/pkg/startup"
)

// NewHandler serves the Contract from a local scheduler
func NewHandler(scheduler *startup.Scheduler, logger logging.Logger) Contract {
	return &handler{
		scheduler: scheduler,
		logger:    logger,
	}
}

type handler struct {
	scheduler *startup.Scheduler
	logger    logging.Logger
}

func (h *handler) Status(ctx context.Context) (*startup.Status, error) {
	status := h.scheduler.Status()
	return &status, nil
}

func (h *handler) ComputeStartupPlan(ctx context.Context) (*startup.StartupPlan, error) {
	plan, err := h.scheduler.ComputeStartupPlan(ctx)
	if err != nil {
		h.logger.Warnf("Startup plan computed with errors, error: %v", err)
	}
	return plan, err
}

func (h *handler) ApplyStartupPlan(ctx context.Context) (*startup.StartupPlan, error) {
	plan, err := h.scheduler.ApplyStartupPlan(ctx)
	if err != nil {
		h.logger.Warnf("Startup plan applied with errors, error: %v", err)
	}
	return plan, err
}

func (h *handler) ApplyStartup(ctx context.Context, unitID string) error {
	return h.scheduler.ApplyStartup(ctx, unitID)
}

func (h *handler) RecomputeLoadOrder(ctx context.Context) (*startup.LoadOrder, error) {
	order, err := h.scheduler.RecomputeLoadOrder(ctx)
	return &order, err
}

func (h *handler) SetUnitPolicy(ctx context.Context, unitID string, policy startup.UnitPolicy) error {
	return h.scheduler.SetUnitPolicy(ctx, unitID, policy)
}

func (h *handler) GetProfile(ctx context.Context) (*startup.Profile, error) {
	return h.scheduler.Profile(ctx)
}

func (h *handler) SetGroup(ctx context.Context, group startup.Group) error {
	return h.scheduler.SetGroup(ctx, group)
}

func (h *handler) RemoveGroup(ctx context.Context, groupID string) error {
	return h.scheduler.RemoveGroup(ctx, groupID)
}

// PlanFailures rebuilds the per-unit errors recorded in a plan
func PlanFailures(plan *startup.StartupPlan) error {
	if plan == nil {
		return nil
	}
	collection := errors.NewErrorCollection()
	for _, entry := range plan.Entries {
		if entry.Error != "" {
			collection.Add(errors.NewHostError(entry.Error, nil).WithContext("unit_id", entry.UnitID))
		}
	}
	return collection.ToError()
}

// LoadOrderFailure returns the cycle error a truncated load order stands for
func LoadOrderFailure(order *startup.LoadOrder) error {
	if order == nil || !order.Truncated {
		return nil
	}
	return errors.NewCycleDetectedError("load order dependency cycle", order.Unresolved)
}
