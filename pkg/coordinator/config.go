package coordinator

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/core-tools/hsu-startup/pkg/errors"
	"github.com/core-tools/hsu-startup/pkg/processfile"
	"github.com/core-tools/hsu-startup/pkg/profilestore"
	"github.com/core-tools/hsu-startup/pkg/startup"
)

const (
	DefaultPort                 = 50060
	DefaultForceShutdownTimeout = 30 * time.Second
	DefaultStopTimeout          = 10 * time.Second
)

// HostType selects the startup.Host binding
type HostType string

const (
	HostTypeProcess HostType = "process"
	HostTypeMemory  HostType = "memory"
)

// Config represents the top-level configuration file structure
type Config struct {
	Coordinator CoordinatorConfig     `yaml:"coordinator"`
	Files       FilesConfig           `yaml:"files,omitempty"`
	Store       StoreConfig           `yaml:"store"`
	Host        HostConfig            `yaml:"host"`
	Defaults    *startup.GlobalConfig `yaml:"defaults,omitempty"`
}

type CoordinatorConfig struct {
	Port                 int           `yaml:"port"`
	LogLevel             string        `yaml:"log_level,omitempty"`
	LogFormat            string        `yaml:"log_format,omitempty"`
	MetricsPort          int           `yaml:"metrics_port,omitempty"` // 0 disables the metrics endpoint
	ForceShutdownTimeout time.Duration `yaml:"force_shutdown_timeout,omitempty"`
	ApplyOnStart         *bool         `yaml:"apply_on_start,omitempty"` // Pointer to distinguish unset from false
}

// FilesConfig places settings, host state and PID files
type FilesConfig struct {
	BaseDirectory   string                     `yaml:"base_directory,omitempty"`
	ServiceContext  processfile.ServiceContext `yaml:"service_context,omitempty"`
	AppName         string                     `yaml:"app_name,omitempty"`
	UseSubdirectory bool                       `yaml:"use_subdirectory,omitempty"`
}

type StoreConfig struct {
	Backend     string `yaml:"backend,omitempty"`
	Path        string `yaml:"path,omitempty"`
	DualProfile bool   `yaml:"dual_profile,omitempty"`
}

type HostConfig struct {
	Type               HostType `yaml:"type,omitempty"`
	Manifest           string   `yaml:"manifest,omitempty"`
	StateFile          string   `yaml:"state_file,omitempty"`
	RestrictedPlatform *bool    `yaml:"restricted_platform,omitempty"`

	// Boot starts units whose auto-start flag was persisted, before the
	// first pass
	Boot        *bool         `yaml:"boot,omitempty"`
	StopTimeout time.Duration `yaml:"stop_timeout,omitempty"`

	// Units of a memory host
	Units []startup.ManagedUnit `yaml:"units,omitempty"`
}

func (c FilesConfig) processFileConfig() processfile.ProcessFileConfig {
	return processfile.ProcessFileConfig{
		BaseDirectory:   c.BaseDirectory,
		ServiceContext:  c.ServiceContext,
		AppName:         c.AppName,
		UseSubdirectory: c.UseSubdirectory,
	}
}

// LoadConfigFromFile loads coordinator configuration from a YAML file
func LoadConfigFromFile(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, errors.NewIOError("failed to read configuration file", err).WithContext("filename", filename)
	}

	// Seeded so that fields missing under defaults: keep their default values
	// while explicit zeros are kept
	defaults := startup.DefaultGlobalConfig()
	config := Config{Defaults: &defaults}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, errors.NewValidationError("failed to parse YAML configuration", err).WithContext("filename", filename)
	}

	// Set defaults
	if err := setConfigDefaults(&config); err != nil {
		return nil, errors.NewValidationError("failed to apply configuration defaults", err)
	}

	return &config, nil
}

// setConfigDefaults applies default values to configuration
func setConfigDefaults(config *Config) error {
	if config.Coordinator.Port == 0 {
		config.Coordinator.Port = DefaultPort
	}
	if config.Coordinator.LogLevel == "" {
		config.Coordinator.LogLevel = "info"
	}
	if config.Coordinator.LogFormat == "" {
		config.Coordinator.LogFormat = "console"
	}
	if config.Coordinator.ForceShutdownTimeout == 0 {
		config.Coordinator.ForceShutdownTimeout = DefaultForceShutdownTimeout
	}
	if config.Coordinator.ApplyOnStart == nil {
		applyOnStart := true
		config.Coordinator.ApplyOnStart = &applyOnStart
	}

	files := processfile.NewProcessFileManager(config.Files.processFileConfig(), nil)

	if config.Store.Backend == "" {
		config.Store.Backend = profilestore.BackendFile
	}
	if config.Store.Path == "" {
		switch config.Store.Backend {
		case profilestore.BackendSQLite:
			config.Store.Path = files.GenerateSettingsFilePath(processfile.DefaultSettingsDBName)
		case profilestore.BackendFile:
			config.Store.Path = files.GenerateSettingsFilePath("")
		}
	}

	if config.Host.Type == "" {
		config.Host.Type = HostTypeProcess
	}
	if config.Host.Type == HostTypeProcess && config.Host.StateFile == "" {
		config.Host.StateFile = files.GenerateHostStateFilePath()
	}
	if config.Host.Boot == nil {
		boot := true
		config.Host.Boot = &boot
	}
	if config.Host.StopTimeout == 0 {
		config.Host.StopTimeout = DefaultStopTimeout
	}

	if config.Defaults == nil {
		defaults := startup.DefaultGlobalConfig()
		config.Defaults = &defaults
	}

	return nil
}

// ValidateConfig validates the entire configuration structure
func ValidateConfig(config *Config) error {
	if config == nil {
		return errors.NewValidationError("configuration cannot be nil", nil)
	}

	if err := validateCoordinatorConfig(&config.Coordinator); err != nil {
		return errors.NewValidationError("invalid coordinator configuration", err)
	}

	if err := validateFilesConfig(&config.Files); err != nil {
		return errors.NewValidationError("invalid files configuration", err)
	}

	if err := validateStoreConfig(&config.Store); err != nil {
		return errors.NewValidationError("invalid store configuration", err)
	}

	if err := validateHostConfig(&config.Host); err != nil {
		return errors.NewValidationError("invalid host configuration", err)
	}

	if config.Defaults != nil {
		if err := startup.ValidateGlobalConfig(*config.Defaults); err != nil {
			return errors.NewValidationError("invalid profile defaults", err)
		}
	}

	return nil
}

// ValidateConfigFile validates a configuration file without running it
func ValidateConfigFile(configFile string) error {
	config, err := LoadConfigFromFile(configFile)
	if err != nil {
		return errors.NewIOError("failed to load configuration", err).WithContext("config_file", configFile)
	}

	if err := ValidateConfig(config); err != nil {
		return errors.NewValidationError("configuration validation failed", err).WithContext("config_file", configFile)
	}

	return nil
}

// GetConfigSummary returns a human-readable summary of the configuration
func GetConfigSummary(config *Config) ConfigSummary {
	if config == nil {
		return ConfigSummary{Error: "configuration is nil"}
	}

	summary := ConfigSummary{
		Port:         config.Coordinator.Port,
		MetricsPort:  config.Coordinator.MetricsPort,
		LogLevel:     config.Coordinator.LogLevel,
		StoreBackend: config.Store.Backend,
		StorePath:    config.Store.Path,
		DualProfile:  config.Store.DualProfile,
		HostType:     string(config.Host.Type),
		Manifest:     config.Host.Manifest,
		MemoryUnits:  len(config.Host.Units),
	}
	if config.Coordinator.ApplyOnStart != nil {
		summary.ApplyOnStart = *config.Coordinator.ApplyOnStart
	}
	if config.Defaults != nil {
		summary.ShortDelaySeconds = config.Defaults.ShortDelaySeconds
		summary.LongDelaySeconds = config.Defaults.LongDelaySeconds
		summary.StaggerMillis = config.Defaults.StaggerMillis
	}
	return summary
}

// ConfigSummary provides a high-level overview of configuration
type ConfigSummary struct {
	Port              int     `json:"port"`
	MetricsPort       int     `json:"metrics_port,omitempty"`
	LogLevel          string  `json:"log_level"`
	ApplyOnStart      bool    `json:"apply_on_start"`
	StoreBackend      string  `json:"store_backend"`
	StorePath         string  `json:"store_path,omitempty"`
	DualProfile       bool    `json:"dual_profile"`
	HostType          string  `json:"host_type"`
	Manifest          string  `json:"manifest,omitempty"`
	MemoryUnits       int     `json:"memory_units,omitempty"`
	ShortDelaySeconds float64 `json:"short_delay_seconds"`
	LongDelaySeconds  float64 `json:"long_delay_seconds"`
	StaggerMillis     int64   `json:"stagger_millis"`
	Error             string  `json:"error,omitempty"`
}
