package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	sprintfLogging "github.com/core-tools/hsu-core/pkg/logging/sprintf"

	coreControl "github.com/core-tools/hsu-core/pkg/control"
	coreDomain "github.com/core-tools/hsu-core/pkg/domain"
	coreLogging "github.com/core-tools/hsu-core/pkg/logging"

	startupControl "github.com/core-tools/hsu-startup/pkg/control"
	"github.com/core-tools/hsu-startup/pkg/domain"
	startupLogging "github.com/core-tools/hsu-startup/pkg/logging"
	"github.com/core-tools/hsu-startup/pkg/startup"

	flags "github.com/jessevdk/go-flags"
)

type flagOptions struct {
	ServerPath string `long:"server" description:"path to the server executable"`
	AttachPort int    `long:"port" description:"port to attach to the server"`

	Class     string   `long:"class" description:"startup class for set-policy (disabled, instant, short_delay, long_delay)"`
	LoadAfter *string  `long:"load-after" description:"unit to load after for set-policy, empty clears it"`
	Groups    []string `long:"group" description:"group id for set-policy, repeatable"`

	GroupDelay   float64 `long:"delay" description:"startup delay in seconds for set-group"`
	GroupEnabled bool    `long:"enable-during-startup" description:"enable the group's units during startup for set-group"`
	GroupAutoAdd bool    `long:"auto-add" description:"add new units to the group for set-group"`

	Args struct {
		Command string   `positional-arg-name:"command" description:"status | plan | apply | apply-unit <id> | load-order | profile | set-policy <id> | set-group <id> | remove-group <id>"`
		Rest    []string `positional-arg-name:"args"`
	} `positional-args:"yes"`
}

func logPrefix(module string) string {
	return fmt.Sprintf("module: %s-client , ", module)
}

func main() {
	var opts flagOptions
	var argv []string = os.Args[1:]
	var parser = flags.NewParser(&opts, flags.HelpFlag)
	var err error
	_, err = parser.ParseArgs(argv)
	if err != nil {
		fmt.Printf("Command line flags parsing failed: %v\n", err)
		os.Exit(1)
	}

	logger := sprintfLogging.NewStdSprintfLogger()

	logger.Infof("opts: %+v", opts)

	if opts.ServerPath == "" && opts.AttachPort == 0 {
		fmt.Println("Server path or attach port is required")
		os.Exit(1)
	}
	if opts.Args.Command == "" {
		opts.Args.Command = "status"
	}

	logger.Infof("Starting...")

	coreLogger := coreLogging.NewLogger(
		logPrefix("hsu-core"), coreLogging.LogFuncs{
			Debugf: logger.Debugf,
			Infof:  logger.Infof,
			Warnf:  logger.Warnf,
			Errorf: logger.Errorf,
		})
	startupLogger := startupLogging.NewLogger(
		logPrefix("hsu-startup"), startupLogging.LogFuncs{
			Debugf: logger.Debugf,
			Infof:  logger.Infof,
			Warnf:  logger.Warnf,
			Errorf: logger.Errorf,
		})

	coreConnectionOptions := coreControl.ConnectionOptions{
		ServerPath: opts.ServerPath,
		AttachPort: opts.AttachPort,
	}
	coreConnection, err := coreControl.NewConnection(coreConnectionOptions, coreLogger)
	if err != nil {
		logger.Errorf("Failed to create core connection: %v", err)
		os.Exit(1)
	}

	coreClientGateway := coreControl.NewGRPCClientGateway(coreConnection.GRPC(), coreLogger)
	startupClientGateway := startupControl.NewGRPCClientGateway(coreConnection.GRPC(), startupLogger)

	ctx := context.Background()

	retryPingOptions := coreDomain.RetryPingOptions{
		RetryAttempts: 10,
		RetryInterval: 1 * time.Second,
	}
	err = coreDomain.RetryPing(ctx, coreClientGateway, retryPingOptions, coreLogger)
	if err != nil {
		logger.Errorf("Failed to ping startup server: %v", err)
		os.Exit(1)
	}

	result, err := runCommand(ctx, startupClientGateway, &opts)
	if result != nil {
		output, _ := json.MarshalIndent(result, "", "  ")
		fmt.Println(string(output))
	}
	if err != nil {
		logger.Errorf("Command %s failed: %v", opts.Args.Command, err)
		os.Exit(1)
	}

	logger.Infof("Done")
}

func runCommand(ctx context.Context, client domain.Contract, opts *flagOptions) (interface{}, error) {
	unitArg := func() (string, error) {
		if len(opts.Args.Rest) == 0 {
			return "", fmt.Errorf("%s requires an id argument", opts.Args.Command)
		}
		return opts.Args.Rest[0], nil
	}

	switch strings.ToLower(opts.Args.Command) {
	case "status":
		return client.Status(ctx)

	case "plan":
		return client.ComputeStartupPlan(ctx)

	case "apply":
		return client.ApplyStartupPlan(ctx)

	case "apply-unit":
		id, err := unitArg()
		if err != nil {
			return nil, err
		}
		return nil, client.ApplyStartup(ctx, id)

	case "load-order":
		return client.RecomputeLoadOrder(ctx)

	case "profile":
		return client.GetProfile(ctx)

	case "set-policy":
		id, err := unitArg()
		if err != nil {
			return nil, err
		}
		policy := startup.UnitPolicy{LoadAfter: opts.LoadAfter}
		if opts.Class != "" {
			class, err := startup.ParseStartupClass(opts.Class)
			if err != nil {
				return nil, err
			}
			policy.StartupClass = &class
		}
		if len(opts.Groups) > 0 {
			groups := append([]string(nil), opts.Groups...)
			policy.GroupIDs = &groups
		}
		return nil, client.SetUnitPolicy(ctx, id, policy)

	case "set-group":
		id, err := unitArg()
		if err != nil {
			return nil, err
		}
		return nil, client.SetGroup(ctx, startup.Group{
			ID:                  id,
			EnableDuringStartup: opts.GroupEnabled,
			StartupDelaySeconds: opts.GroupDelay,
			AutoAddNewUnits:     opts.GroupAutoAdd,
		})

	case "remove-group":
		id, err := unitArg()
		if err != nil {
			return nil, err
		}
		return nil, client.RemoveGroup(ctx, id)

	default:
		return nil, fmt.Errorf("unknown command: %s", opts.Args.Command)
	}
}
