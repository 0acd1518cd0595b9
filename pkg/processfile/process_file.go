package processfile

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/core-tools/hsu-startup/pkg/errors"
	"github.com/core-tools/hsu-startup/pkg/logging"
)

// Default application name for the startup coordinator
const DefaultAppName = "hsu-startup"

const (
	DefaultSettingsFileName  = "settings.yaml"
	DefaultSettingsDBName    = "settings.db"
	DefaultHostStateFileName = "host-state.yaml"
)

// ProcessFileConfig selects where settings, host state and PID files live
type ProcessFileConfig struct {
	// Base directory for all files. If empty, uses OS-appropriate defaults
	BaseDirectory string

	// Service context - affects directory selection
	ServiceContext ServiceContext

	// Application name for subdirectory creation
	AppName string

	// Create subdirectory for the app
	UseSubdirectory bool
}

// ServiceContext defines the context in which the coordinator runs
type ServiceContext string

const (
	// SystemService runs as a system service (daemon)
	SystemService ServiceContext = "system"

	// UserService runs as a user service
	UserService ServiceContext = "user"

	// SessionService runs as a session service (cleaned up on logout)
	SessionService ServiceContext = "session"
)

// ProcessFileManager generates file paths and manages PID files
type ProcessFileManager struct {
	config ProcessFileConfig
	logger logging.Logger
}

func NewProcessFileManager(config ProcessFileConfig, logger logging.Logger) *ProcessFileManager {
	if config.AppName == "" {
		config.AppName = DefaultAppName
	}
	if config.ServiceContext == "" {
		config.ServiceContext = UserService
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	return &ProcessFileManager{
		config: config,
		logger: logger,
	}
}

// ===== PERSISTENT STATE =====

// GenerateSettingsFilePath returns the path of the settings document
func (m *ProcessFileManager) GenerateSettingsFilePath(fileName string) string {
	if fileName == "" {
		fileName = DefaultSettingsFileName
	}
	return filepath.Join(m.dataDirectory(), fileName)
}

// GenerateHostStateFilePath returns the path of the host's persisted
// autostart flags
func (m *ProcessFileManager) GenerateHostStateFilePath() string {
	return filepath.Join(m.dataDirectory(), DefaultHostStateFileName)
}

func (m *ProcessFileManager) dataDirectory() string {
	baseDir := m.config.BaseDirectory
	if baseDir == "" {
		baseDir = m.getDataBaseDirectory()
	}
	if m.config.UseSubdirectory || m.config.BaseDirectory == "" {
		baseDir = filepath.Join(baseDir, m.config.AppName)
	}
	return baseDir
}

// ===== PID FILES =====

// GeneratePIDFilePath generates the PID file path for a unit
func (m *ProcessFileManager) GeneratePIDFilePath(unitID string) string {
	baseDir := m.config.BaseDirectory
	if baseDir == "" {
		baseDir = m.getRuntimeBaseDirectory()
	}
	if m.config.UseSubdirectory {
		baseDir = filepath.Join(baseDir, m.config.AppName)
	}
	return filepath.Join(baseDir, "units", unitID+".pid")
}

// WritePIDFile writes the process PID of a unit
func (m *ProcessFileManager) WritePIDFile(unitID string, pid int) error {
	pidFilePath := m.GeneratePIDFilePath(unitID)
	m.logger.Debugf("Writing PID file, unit: %s, pid: %d, path: %s", unitID, pid, pidFilePath)

	if err := ValidateDirectory(pidFilePath); err != nil {
		m.logger.Errorf("PID file directory validation failed, unit: %s, path: %s, error: %v", unitID, pidFilePath, err)
		return err
	}

	pidContent := fmt.Sprintf("%d\n", pid)
	if err := os.WriteFile(pidFilePath, []byte(pidContent), 0644); err != nil {
		m.logger.Errorf("Failed to write PID file, unit: %s, pid: %d, path: %s, error: %v", unitID, pid, pidFilePath, err)
		return errors.NewIOError("failed to write PID file", err).WithContext("pid_file", pidFilePath).WithContext("pid", pid)
	}

	m.logger.Debugf("PID file written, unit: %s, pid: %d, path: %s", unitID, pid, pidFilePath)
	return nil
}

// ReadPIDFile reads the PID recorded for a unit
func (m *ProcessFileManager) ReadPIDFile(unitID string) (int, error) {
	pidFilePath := m.GeneratePIDFilePath(unitID)

	content, err := os.ReadFile(pidFilePath)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, errors.NewNotFoundError("PID file not found", err).WithContext("pid_file", pidFilePath)
		}
		return 0, errors.NewIOError("failed to read PID file", err).WithContext("pid_file", pidFilePath)
	}

	pidStr := strings.TrimSpace(string(content))
	pid, err := strconv.Atoi(pidStr)
	if err != nil || pid <= 0 {
		m.logger.Errorf("Invalid PID file content, unit: %s, path: %s, content: %s", unitID, pidFilePath, pidStr)
		return 0, errors.NewValidationError("invalid PID in PID file", err).WithContext("pid_file", pidFilePath).WithContext("content", pidStr)
	}
	return pid, nil
}

// RemovePIDFile deletes a unit's PID file; a missing file is not an error
func (m *ProcessFileManager) RemovePIDFile(unitID string) error {
	pidFilePath := m.GeneratePIDFilePath(unitID)
	if err := os.Remove(pidFilePath); err != nil && !os.IsNotExist(err) {
		return errors.NewIOError("failed to remove PID file", err).WithContext("pid_file", pidFilePath)
	}
	return nil
}

// ===== LOGS =====

// GenerateLogFilePath returns a log file path under the app's log directory
func (m *ProcessFileManager) GenerateLogFilePath(fileName string) string {
	return filepath.Join(m.dataDirectory(), "logs", fileName)
}

// getDataBaseDirectory returns the OS directory for persistent app data
func (m *ProcessFileManager) getDataBaseDirectory() string {
	switch m.config.ServiceContext {
	case SystemService:
		switch runtime.GOOS {
		case "windows":
			if programData := os.Getenv("PROGRAMDATA"); programData != "" {
				return programData
			}
			return "C:\\ProgramData"
		case "darwin":
			return "/Library/Application Support"
		default:
			return "/var/lib"
		}

	case SessionService:
		return os.TempDir()

	default:
		if configDir, err := os.UserConfigDir(); err == nil {
			return configDir
		}
		return os.TempDir()
	}
}

// getRuntimeBaseDirectory returns the OS directory for PID files
func (m *ProcessFileManager) getRuntimeBaseDirectory() string {
	switch runtime.GOOS {
	case "windows":
		if m.config.ServiceContext == SystemService {
			if programData := os.Getenv("PROGRAMDATA"); programData != "" {
				return programData
			}
			return "C:\\ProgramData"
		}
		return os.TempDir()

	case "darwin":
		if m.config.ServiceContext == SystemService {
			return "/var/run"
		}
		return os.TempDir()

	default:
		switch m.config.ServiceContext {
		case SystemService:
			if _, err := os.Stat("/run"); err == nil {
				return "/run"
			}
			return "/var/run"
		default:
			if runtimeDir := os.Getenv("XDG_RUNTIME_DIR"); runtimeDir != "" {
				return runtimeDir
			}
			return "/tmp"
		}
	}
}

// ValidateDirectory makes sure the parent directory of path exists and is
// writable
func ValidateDirectory(path string) error {
	dir := filepath.Dir(path)

	info, err := os.Stat(dir)
	if err != nil {
		if !os.IsNotExist(err) {
			return errors.NewIOError("failed to access directory", err).WithContext("directory", dir)
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return errors.NewIOError("failed to create directory", err).WithContext("directory", dir)
		}
	} else if !info.IsDir() {
		return errors.NewValidationError("path is not a directory", nil).WithContext("path", dir)
	}

	testFile := filepath.Join(dir, ".write_test")
	file, err := os.Create(testFile)
	if err != nil {
		return errors.NewIOError("directory is not writable", err).WithContext("directory", dir)
	}
	file.Close()
	os.Remove(testFile)

	return nil
}

// GetRecommendedProcessFileConfig returns the file layout for a deployment
// scenario
func GetRecommendedProcessFileConfig(scenario string, appName string) ProcessFileConfig {
	if appName == "" {
		appName = DefaultAppName
	}

	switch strings.ToLower(scenario) {
	case "system", "daemon", "service":
		return ProcessFileConfig{
			ServiceContext:  SystemService,
			AppName:         appName,
			UseSubdirectory: true,
		}

	case "session", "desktop":
		return ProcessFileConfig{
			ServiceContext: SessionService,
			AppName:        appName,
		}

	case "development", "dev", "test":
		return ProcessFileConfig{
			BaseDirectory:  filepath.Join(os.TempDir(), appName+"-dev"),
			ServiceContext: UserService,
			AppName:        appName,
		}

	default:
		return ProcessFileConfig{
			ServiceContext:  UserService,
			AppName:         appName,
			UseSubdirectory: true,
		}
	}
}
