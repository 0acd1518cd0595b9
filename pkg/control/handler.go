package control

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/core-tools/hsu-startup/pkg/domain"
	"github.com/core-tools/hsu-startup/pkg/logging"
	"github.com/core-tools/hsu-startup/pkg/startup"
)

func RegisterGRPCServerHandler(grpcServerRegistrar grpc.ServiceRegistrar, handler domain.Contract, logger logging.Logger) {
	grpcServerRegistrar.RegisterService(&startupServiceDesc, &grpcServerHandler{
		handler: handler,
		logger:  logger,
	})
}

type grpcServerHandler struct {
	handler domain.Contract
	logger  logging.Logger
}

func (h *grpcServerHandler) Status(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	status, err := h.handler.Status(ctx)
	if err != nil {
		h.logger.Errorf("Status server handler: %v", err)
		return nil, toStatus(err)
	}
	h.logger.Debugf("Status server handler done")
	return h.reply("Status", status)
}

// Per-unit failures of a pass travel inside the plan entries, so a plan
// with failures is still a successful reply.
func (h *grpcServerHandler) ComputeStartupPlan(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	plan, err := h.handler.ComputeStartupPlan(ctx)
	if plan == nil {
		h.logger.Errorf("ComputeStartupPlan server handler: %v", err)
		return nil, toStatus(err)
	}
	h.logger.Debugf("ComputeStartupPlan server handler done, pass: %s", plan.PassID)
	return h.reply("ComputeStartupPlan", plan)
}

func (h *grpcServerHandler) ApplyStartupPlan(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	plan, err := h.handler.ApplyStartupPlan(ctx)
	if plan == nil {
		h.logger.Errorf("ApplyStartupPlan server handler: %v", err)
		return nil, toStatus(err)
	}
	h.logger.Debugf("ApplyStartupPlan server handler done, pass: %s", plan.PassID)
	return h.reply("ApplyStartupPlan", plan)
}

func (h *grpcServerHandler) ApplyStartup(ctx context.Context, unitID *wrapperspb.StringValue) (*emptypb.Empty, error) {
	if err := h.handler.ApplyStartup(ctx, unitID.GetValue()); err != nil {
		h.logger.Errorf("ApplyStartup server handler, unit: %s, error: %v", unitID.GetValue(), err)
		return nil, toStatus(err)
	}
	h.logger.Debugf("ApplyStartup server handler done, unit: %s", unitID.GetValue())
	return &emptypb.Empty{}, nil
}

// A cycle is reported through the Truncated flag of the returned order
func (h *grpcServerHandler) RecomputeLoadOrder(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	order, err := h.handler.RecomputeLoadOrder(ctx)
	if order == nil || (err != nil && !order.Truncated) {
		h.logger.Errorf("RecomputeLoadOrder server handler: %v", err)
		return nil, toStatus(err)
	}
	h.logger.Debugf("RecomputeLoadOrder server handler done, units: %d", len(order.Order))
	return h.reply("RecomputeLoadOrder", order)
}

func (h *grpcServerHandler) SetUnitPolicy(ctx context.Context, payload *structpb.Struct) (*emptypb.Empty, error) {
	var request domain.SetUnitPolicyRequest
	if err := fromStruct(payload, &request); err != nil {
		return nil, toStatus(err)
	}
	if err := h.handler.SetUnitPolicy(ctx, request.UnitID, request.Policy); err != nil {
		h.logger.Errorf("SetUnitPolicy server handler, unit: %s, error: %v", request.UnitID, err)
		return nil, toStatus(err)
	}
	h.logger.Debugf("SetUnitPolicy server handler done, unit: %s", request.UnitID)
	return &emptypb.Empty{}, nil
}

func (h *grpcServerHandler) GetProfile(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	profile, err := h.handler.GetProfile(ctx)
	if err != nil {
		h.logger.Errorf("GetProfile server handler: %v", err)
		return nil, toStatus(err)
	}
	return h.reply("GetProfile", profile)
}

func (h *grpcServerHandler) SetGroup(ctx context.Context, payload *structpb.Struct) (*emptypb.Empty, error) {
	var group startup.Group
	if err := fromStruct(payload, &group); err != nil {
		return nil, toStatus(err)
	}
	if err := h.handler.SetGroup(ctx, group); err != nil {
		h.logger.Errorf("SetGroup server handler, group: %s, error: %v", group.ID, err)
		return nil, toStatus(err)
	}
	h.logger.Debugf("SetGroup server handler done, group: %s", group.ID)
	return &emptypb.Empty{}, nil
}

func (h *grpcServerHandler) RemoveGroup(ctx context.Context, groupID *wrapperspb.StringValue) (*emptypb.Empty, error) {
	if err := h.handler.RemoveGroup(ctx, groupID.GetValue()); err != nil {
		h.logger.Errorf("RemoveGroup server handler, group: %s, error: %v", groupID.GetValue(), err)
		return nil, toStatus(err)
	}
	h.logger.Debugf("RemoveGroup server handler done, group: %s", groupID.GetValue())
	return &emptypb.Empty{}, nil
}

func (h *grpcServerHandler) reply(method string, v interface{}) (*structpb.Struct, error) {
	result, err := toStruct(v)
	if err != nil {
		h.logger.Errorf("%s server handler, encoding reply: %v", method, err)
		return nil, toStatus(err)
	}
	return result, nil
}
