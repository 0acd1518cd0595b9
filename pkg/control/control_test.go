package control

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/core-tools/hsu-startup/pkg/domain"
	"github.com/core-tools/hsu-startup/pkg/errors"
	"github.com/core-tools/hsu-startup/pkg/host"
	"github.com/core-tools/hsu-startup/pkg/logging"
	"github.com/core-tools/hsu-startup/pkg/profilestore"
	"github.com/core-tools/hsu-startup/pkg/startup"
)

type noopTimer struct{}

func (noopTimer) Stop() bool { return true }

func mutatingCalls(calls []host.Call) []host.Call {
	var result []host.Call
	for _, call := range calls {
		switch call.Method {
		case "Enable", "Disable", "EnableAndPersist", "DisableAndPersist":
			result = append(result, call)
		}
	}
	return result
}

type controlRig struct {
	host      *host.MemoryHost
	backend   *profilestore.MemoryBackend
	scheduler *startup.Scheduler
	client    domain.Contract
}

func newControlRig(t *testing.T) *controlRig {
	t.Helper()
	logger := logging.NewNopLogger()

	memoryHost := host.NewMemoryHost(logger)
	memoryHost.AddUnit(startup.ManagedUnit{ID: "x", DisplayName: "X"}, false)
	memoryHost.AddUnit(startup.ManagedUnit{ID: "y", DisplayName: "Y"}, true)

	profile := startup.NewProfile()
	profile.Units["x"] = &startup.UnitConfig{StartupClass: startup.ClassPtr(startup.ClassShortDelay)}
	profile.Units["y"] = &startup.UnitConfig{StartupClass: startup.ClassPtr(startup.ClassInstant), LoadAfter: "x"}
	backend := profilestore.NewMemoryBackend(&profilestore.Settings{Profiles: profilestore.Profiles{Default: profile}})

	scheduler, err := startup.NewScheduler(startup.SchedulerOptions{
		Host:         memoryHost,
		Store:        profilestore.NewStore(backend, profilestore.StoreOptions{}, logger),
		Logger:       logger,
		TimerFactory: func(time.Duration, func()) startup.Timer { return noopTimer{} },
	})
	require.NoError(t, err)
	t.Cleanup(func() { scheduler.Teardown() })

	listener := bufconn.Listen(1 << 20)
	server := grpc.NewServer()
	RegisterGRPCServerHandler(server, domain.NewHandler(scheduler, logger), logger)
	go server.Serve(listener)
	t.Cleanup(server.Stop)

	conn, err := grpc.DialContext(context.Background(), "bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return listener.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	return &controlRig{
		host:      memoryHost,
		backend:   backend,
		scheduler: scheduler,
		client:    NewGRPCClientGateway(conn, logger),
	}
}

func TestControl_PlanAndStatus(t *testing.T) {
	rig := newControlRig(t)
	ctx := context.Background()

	plan, err := rig.client.ComputeStartupPlan(ctx)
	require.NoError(t, err)
	assert.False(t, plan.Applied)
	require.Len(t, plan.Entries, 2)
	assert.Equal(t, "x", plan.Entries[0].UnitID)
	assert.Equal(t, startup.PolicyDeferred, plan.Entries[0].Policy.Kind)
	assert.Equal(t, 5*time.Second, plan.Entries[0].FireAfter)
	assert.Empty(t, mutatingCalls(rig.host.Calls()))

	plan, err = rig.client.ApplyStartupPlan(ctx)
	require.NoError(t, err)
	assert.True(t, plan.Applied)
	assert.NotEmpty(t, plan.PassID)
	assert.Equal(t, []string{"x", "y"}, plan.LoadOrder.Order)

	status, err := rig.client.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, startup.SchedulerStateReady, status.State)
	assert.Equal(t, plan.PassID, status.LastPassID)
	require.Len(t, status.PendingTimers, 1)
	assert.Equal(t, "x", status.PendingTimers[0].UnitID)
	assert.Equal(t, startup.ClassShortDelay, status.PendingTimers[0].Class)
}

func TestControl_PlanFailuresSurvive(t *testing.T) {
	rig := newControlRig(t)
	rig.host.FailOn("DisableAndPersist", "y", assert.AnError)

	profile := startup.NewProfile()
	profile.Units["y"] = &startup.UnitConfig{StartupClass: startup.ClassPtr(startup.ClassDisabled)}
	require.NoError(t, rig.backend.Write(context.Background(), &profilestore.Settings{Profiles: profilestore.Profiles{Default: profile}}))

	plan, err := rig.client.ApplyStartupPlan(context.Background())
	require.NotNil(t, plan)
	assert.True(t, errors.IsHostError(err))
	assert.Len(t, plan.Entries, 2)
}

func TestControl_SetUnitPolicyAndProfile(t *testing.T) {
	rig := newControlRig(t)
	ctx := context.Background()

	loadAfter := "y"
	require.NoError(t, rig.client.SetUnitPolicy(ctx, "x", startup.UnitPolicy{
		StartupClass: startup.ClassPtr(startup.ClassLongDelay),
		LoadAfter:    &loadAfter,
	}))

	profile, err := rig.client.GetProfile(ctx)
	require.NoError(t, err)
	require.Contains(t, profile.Units, "x")
	assert.Equal(t, startup.ClassLongDelay, *profile.Units["x"].StartupClass)
	assert.Equal(t, "y", profile.Units["x"].LoadAfter)

	// x and y now wait on each other
	order, err := rig.client.RecomputeLoadOrder(ctx)
	assert.True(t, errors.IsCycleDetectedError(err))
	require.NotNil(t, order)
	assert.True(t, order.Truncated)
	assert.ElementsMatch(t, []string{"x", "y"}, order.Order)
}

func TestControl_Groups(t *testing.T) {
	rig := newControlRig(t)
	ctx := context.Background()

	require.NoError(t, rig.client.SetGroup(ctx, startup.Group{ID: "media", EnableDuringStartup: true, StartupDelaySeconds: 30}))

	profile, err := rig.client.GetProfile(ctx)
	require.NoError(t, err)
	require.Contains(t, profile.Groups, "media")
	assert.Equal(t, 30.0, profile.Groups["media"].StartupDelaySeconds)

	require.NoError(t, rig.client.RemoveGroup(ctx, "media"))
	err = rig.client.RemoveGroup(ctx, "media")
	assert.True(t, errors.IsNotFoundError(err))
}

func TestControl_ErrorsKeepTheirType(t *testing.T) {
	rig := newControlRig(t)
	ctx := context.Background()

	err := rig.client.SetUnitPolicy(ctx, "bad id", startup.UnitPolicy{})
	assert.True(t, errors.IsValidationError(err))

	err = rig.client.ApplyStartup(ctx, "missing")
	assert.True(t, errors.IsNotFoundError(err))

	require.NoError(t, rig.client.ApplyStartup(ctx, "y"))

	rig.scheduler.Teardown()
	_, err = rig.client.ApplyStartupPlan(ctx)
	assert.True(t, errors.IsCancelledError(err))
}

func TestToStatus(t *testing.T) {
	assert.Nil(t, toStatus(nil))

	st, ok := status.FromError(toStatus(errors.NewNotFoundError("gone", nil)))
	require.True(t, ok)
	assert.Equal(t, codes.NotFound, st.Code())

	st, ok = status.FromError(toStatus(assert.AnError))
	require.True(t, ok)
	assert.Equal(t, codes.Unknown, st.Code())

	restored := fromStatus(toStatus(errors.NewConflictError("busy", nil)))
	assert.True(t, errors.IsConflictError(restored))
	assert.Equal(t, "conflict: busy", restored.Error())

	assert.True(t, errors.IsValidationError(fromStatus(status.Error(codes.InvalidArgument, "bad"))))
	assert.True(t, errors.IsIOError(fromStatus(status.Error(codes.Unavailable, "down"))))
}
