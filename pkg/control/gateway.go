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

func NewGRPCClientGateway(grpcClientConnection grpc.ClientConnInterface, logger logging.Logger) domain.Contract {
	return &grpcClientGateway{
		conn:   grpcClientConnection,
		logger: logger,
	}
}

type grpcClientGateway struct {
	conn   grpc.ClientConnInterface
	logger logging.Logger
}

func (gw *grpcClientGateway) Status(ctx context.Context) (*startup.Status, error) {
	var status startup.Status
	if err := gw.query(ctx, "Status", &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// ComputeStartupPlan returns the plan together with its per-unit failures
func (gw *grpcClientGateway) ComputeStartupPlan(ctx context.Context) (*startup.StartupPlan, error) {
	var plan startup.StartupPlan
	if err := gw.query(ctx, "ComputeStartupPlan", &plan); err != nil {
		return nil, err
	}
	return &plan, domain.PlanFailures(&plan)
}

func (gw *grpcClientGateway) ApplyStartupPlan(ctx context.Context) (*startup.StartupPlan, error) {
	var plan startup.StartupPlan
	if err := gw.query(ctx, "ApplyStartupPlan", &plan); err != nil {
		return nil, err
	}
	return &plan, domain.PlanFailures(&plan)
}

func (gw *grpcClientGateway) ApplyStartup(ctx context.Context, unitID string) error {
	return gw.command(ctx, "ApplyStartup", wrapperspb.String(unitID))
}

func (gw *grpcClientGateway) RecomputeLoadOrder(ctx context.Context) (*startup.LoadOrder, error) {
	var order startup.LoadOrder
	if err := gw.query(ctx, "RecomputeLoadOrder", &order); err != nil {
		return nil, err
	}
	return &order, domain.LoadOrderFailure(&order)
}

func (gw *grpcClientGateway) SetUnitPolicy(ctx context.Context, unitID string, policy startup.UnitPolicy) error {
	payload, err := toStruct(domain.SetUnitPolicyRequest{UnitID: unitID, Policy: policy})
	if err != nil {
		return err
	}
	return gw.command(ctx, "SetUnitPolicy", payload)
}

func (gw *grpcClientGateway) GetProfile(ctx context.Context) (*startup.Profile, error) {
	profile := startup.NewProfile()
	if err := gw.query(ctx, "GetProfile", profile); err != nil {
		return nil, err
	}
	profile.Normalize()
	return profile, nil
}

func (gw *grpcClientGateway) SetGroup(ctx context.Context, group startup.Group) error {
	payload, err := toStruct(group)
	if err != nil {
		return err
	}
	return gw.command(ctx, "SetGroup", payload)
}

func (gw *grpcClientGateway) RemoveGroup(ctx context.Context, groupID string) error {
	return gw.command(ctx, "RemoveGroup", wrapperspb.String(groupID))
}

// query calls a method taking Empty and decodes its Struct reply into v
func (gw *grpcClientGateway) query(ctx context.Context, method string, v interface{}) error {
	response := &structpb.Struct{}
	if err := gw.conn.Invoke(ctx, fullMethod(method), &emptypb.Empty{}, response); err != nil {
		gw.logger.Errorf("%s client gateway: %v", method, err)
		return fromStatus(err)
	}
	if err := fromStruct(response, v); err != nil {
		gw.logger.Errorf("%s client gateway, decoding reply: %v", method, err)
		return err
	}
	gw.logger.Debugf("%s client gateway done", method)
	return nil
}

// command calls a method returning Empty
func (gw *grpcClientGateway) command(ctx context.Context, method string, request interface{}) error {
	if err := gw.conn.Invoke(ctx, fullMethod(method), request, &emptypb.Empty{}); err != nil {
		gw.logger.Errorf("%s client gateway: %v", method, err)
		return fromStatus(err)
	}
	gw.logger.Debugf("%s client gateway done", method)
	return nil
}
