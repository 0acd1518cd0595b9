package processfile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/core-tools/hsu-startup/pkg/errors"
)

// ProcessFileMockLogger is a no-op Logger for tests
type ProcessFileMockLogger struct{}

func (m *ProcessFileMockLogger) LogLevelf(level int, format string, args ...interface{}) {}
func (m *ProcessFileMockLogger) Debugf(format string, args ...interface{})               {}
func (m *ProcessFileMockLogger) Infof(format string, args ...interface{})                {}
func (m *ProcessFileMockLogger) Warnf(format string, args ...interface{})                {}
func (m *ProcessFileMockLogger) Errorf(format string, args ...interface{})               {}

func TestNewProcessFileManager_WithDefaults(t *testing.T) {
	manager := NewProcessFileManager(ProcessFileConfig{}, &ProcessFileMockLogger{})

	assert.Equal(t, DefaultAppName, manager.config.AppName)
	assert.Equal(t, UserService, manager.config.ServiceContext)
}

func TestGenerateSettingsFilePath(t *testing.T) {
	base := t.TempDir()

	tests := []struct {
		name   string
		config ProcessFileConfig
		file   string
		want   string
	}{
		{
			name:   "explicit base",
			config: ProcessFileConfig{BaseDirectory: base},
			want:   filepath.Join(base, DefaultSettingsFileName),
		},
		{
			name:   "explicit base with subdirectory",
			config: ProcessFileConfig{BaseDirectory: base, AppName: "app", UseSubdirectory: true},
			file:   "custom.json",
			want:   filepath.Join(base, "app", "custom.json"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			manager := NewProcessFileManager(tt.config, &ProcessFileMockLogger{})
			assert.Equal(t, tt.want, manager.GenerateSettingsFilePath(tt.file))
		})
	}
}

func TestGenerateSettingsFilePath_OSDefault(t *testing.T) {
	for _, context := range []ServiceContext{SystemService, UserService, SessionService} {
		manager := NewProcessFileManager(ProcessFileConfig{ServiceContext: context, AppName: "test-app"}, &ProcessFileMockLogger{})
		path := manager.GenerateSettingsFilePath("")

		assert.Contains(t, path, "test-app", string(context))
		assert.True(t, filepath.IsAbs(path), string(context))
	}
}

func TestGenerateHostStateAndPIDPaths(t *testing.T) {
	base := t.TempDir()
	manager := NewProcessFileManager(ProcessFileConfig{BaseDirectory: base}, &ProcessFileMockLogger{})

	assert.Equal(t, filepath.Join(base, DefaultHostStateFileName), manager.GenerateHostStateFilePath())
	assert.Equal(t, filepath.Join(base, "units", "alpha.pid"), manager.GeneratePIDFilePath("alpha"))
	assert.Equal(t, filepath.Join(base, "logs", "startup.log"), manager.GenerateLogFilePath("startup.log"))
}

func TestPIDFileLifecycle(t *testing.T) {
	manager := NewProcessFileManager(ProcessFileConfig{BaseDirectory: t.TempDir()}, &ProcessFileMockLogger{})

	require.NoError(t, manager.WritePIDFile("alpha", 4242))

	pid, err := manager.ReadPIDFile("alpha")
	require.NoError(t, err)
	assert.Equal(t, 4242, pid)

	require.NoError(t, manager.RemovePIDFile("alpha"))
	require.NoError(t, manager.RemovePIDFile("alpha"))

	_, err = manager.ReadPIDFile("alpha")
	assert.True(t, errors.IsNotFoundError(err))
}

func TestReadPIDFile_InvalidContent(t *testing.T) {
	manager := NewProcessFileManager(ProcessFileConfig{BaseDirectory: t.TempDir()}, &ProcessFileMockLogger{})
	path := manager.GeneratePIDFilePath("alpha")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte("not-a-pid"), 0644))

	_, err := manager.ReadPIDFile("alpha")
	assert.True(t, errors.IsValidationError(err))
}

func TestValidateDirectory(t *testing.T) {
	dir := t.TempDir()

	assert.NoError(t, ValidateDirectory(filepath.Join(dir, "nested", "deeper", "file.pid")))
	_, err := os.Stat(filepath.Join(dir, "nested", "deeper"))
	assert.NoError(t, err)

	file := filepath.Join(dir, "plain")
	require.NoError(t, os.WriteFile(file, nil, 0644))
	assert.Error(t, ValidateDirectory(filepath.Join(file, "x.pid")))
}

func TestGetRecommendedProcessFileConfig(t *testing.T) {
	tests := []struct {
		scenario string
		context  ServiceContext
	}{
		{"system", SystemService},
		{"daemon", SystemService},
		{"desktop", SessionService},
		{"dev", UserService},
		{"anything", UserService},
	}
	for _, tt := range tests {
		config := GetRecommendedProcessFileConfig(tt.scenario, "")
		assert.Equal(t, tt.context, config.ServiceContext, tt.scenario)
		assert.Equal(t, DefaultAppName, config.AppName, tt.scenario)
	}

	dev := GetRecommendedProcessFileConfig("dev", "x")
	assert.Contains(t, dev.BaseDirectory, "x-dev")
}
