package main

import (
	"encoding/json"
	"fmt"
	"os"

	coreLogging "github.com/core-tools/hsu-core/pkg/logging"

	"github.com/core-tools/hsu-startup/pkg/coordinator"
	"github.com/core-tools/hsu-startup/pkg/logging"

	flags "github.com/jessevdk/go-flags"
)

type flagOptions struct {
	Config      string `long:"config" description:"path to the coordinator configuration file" required:"true"`
	Port        int    `long:"port" description:"port to listen on, overrides the configuration"`
	RunDuration int    `long:"run-duration" description:"Duration in seconds to run the coordinator (debug feature)"`
	Validate    bool   `long:"validate" description:"validate the configuration file and exit"`
	LogLevel    string `long:"log-level" description:"log level, overrides the configuration"`
	LogFormat   string `long:"log-format" description:"log format (console, json), overrides the configuration"`
}

func logPrefix(module string) string {
	return fmt.Sprintf("module: %s-server , ", module)
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

	if opts.Validate {
		if err := coordinator.ValidateConfigFile(opts.Config); err != nil {
			fmt.Printf("Configuration is invalid: %v\n", err)
			os.Exit(1)
		}
		config, _ := coordinator.LoadConfigFromFile(opts.Config)
		summary, _ := json.MarshalIndent(coordinator.GetConfigSummary(config), "", "  ")
		fmt.Printf("Configuration is valid:\n%s\n", summary)
		return
	}

	zapConfig := logging.DefaultZapConfig()
	if config, err := coordinator.LoadConfigFromFile(opts.Config); err == nil {
		zapConfig.Level = config.Coordinator.LogLevel
		zapConfig.Format = config.Coordinator.LogFormat
	}
	if opts.LogLevel != "" {
		zapConfig.Level = opts.LogLevel
	}
	if opts.LogFormat != "" {
		zapConfig.Format = opts.LogFormat
	}

	logger, err := logging.NewZapLogger(zapConfig)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Infof("opts: %+v", opts)

	logger.Infof("Starting...")

	coreLogger := coreLogging.NewLogger(
		logPrefix("hsu-core"), coreLogging.LogFuncs{
			Debugf: logger.Debugf,
			Infof:  logger.Infof,
			Warnf:  logger.Warnf,
			Errorf: logger.Errorf,
		})
	startupLogger := logging.NewLogger(
		logPrefix("hsu-startup"), logging.FuncsOf(logger))

	if err := coordinator.Run(opts.RunDuration, opts.Config, opts.Port, coreLogger, startupLogger); err != nil {
		logger.Errorf("Coordinator failed: %v", err)
		logger.Sync()
		os.Exit(1)
	}
}
