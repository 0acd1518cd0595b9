package process

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/core-tools/hsu-startup/pkg/errors"
)

func TestValidatePID(t *testing.T) {
	tests := []struct {
		input     string
		want      int
		shouldErr bool
	}{
		{"1234", 1234, false},
		{" 42\n", 42, false},
		{"", 0, true},
		{"abc", 0, true},
		{"0", 0, true},
		{"-5", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			pid, err := ValidatePID(tt.input)
			if tt.shouldErr {
				assert.True(t, errors.IsValidationError(err))
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.want, pid)
		})
	}
}

func TestValidateExecutionConfig(t *testing.T) {
	dir := t.TempDir()
	executable := filepath.Join(dir, "unit")
	assert.NoError(t, os.WriteFile(executable, []byte("#!/bin/sh\n"), 0755))

	tests := []struct {
		name      string
		config    ExecutionConfig
		shouldErr bool
	}{
		{
			name:   "valid",
			config: ExecutionConfig{ExecutablePath: executable, WorkingDirectory: dir, Environment: []string{"A=1"}},
		},
		{
			name:      "missing path",
			config:    ExecutionConfig{},
			shouldErr: true,
		},
		{
			name:      "executable not found",
			config:    ExecutionConfig{ExecutablePath: filepath.Join(dir, "nope")},
			shouldErr: true,
		},
		{
			name:      "relative working directory",
			config:    ExecutionConfig{ExecutablePath: executable, WorkingDirectory: "relative"},
			shouldErr: true,
		},
		{
			name:      "working directory is a file",
			config:    ExecutionConfig{ExecutablePath: executable, WorkingDirectory: executable},
			shouldErr: true,
		},
		{
			name:      "bad environment",
			config:    ExecutionConfig{ExecutablePath: executable, Environment: []string{"NOEQUALS"}},
			shouldErr: true,
		},
		{
			name:      "negative wait delay",
			config:    ExecutionConfig{ExecutablePath: executable, WaitDelay: -time.Second},
			shouldErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateExecutionConfig(tt.config)
			if tt.shouldErr {
				assert.True(t, errors.IsValidationError(err))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
