package host

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/core-tools/hsu-startup/pkg/errors"
	"github.com/core-tools/hsu-startup/pkg/monitoring"
	"github.com/core-tools/hsu-startup/pkg/process"
	"github.com/core-tools/hsu-startup/pkg/startup"
)

func TestLoadManifest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "units.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
restricted_platform: true
units:
  - id: sync-agent
    name: Sync Agent
    description: Keeps folders in sync
    execution:
      executable_path: /usr/bin/sync-agent
      args: ["--quiet"]
      wait_delay: 2s
  - id: indexer
    platform_restricted: true
    execution:
      executable_path: /usr/bin/indexer
    probe:
      type: tcp
      tcp:
        address: localhost
        port: 9200
      timeout: 500ms
`), 0644))

	manifest, err := LoadManifest(path)
	require.NoError(t, err)

	assert.True(t, manifest.RestrictedPlatform)
	require.Len(t, manifest.Units, 2)
	assert.Equal(t, "Sync Agent", manifest.Units[0].DisplayName)
	assert.Equal(t, []string{"--quiet"}, manifest.Units[0].Execution.Args)
	assert.Equal(t, 2*time.Second, manifest.Units[0].Execution.WaitDelay)
	assert.Equal(t, "indexer", manifest.Units[1].DisplayName)
	assert.True(t, manifest.Units[1].PlatformRestricted)

	assert.Nil(t, manifest.Units[0].Probe)
	require.NotNil(t, manifest.Units[1].Probe)
	assert.Equal(t, monitoring.ProbeTypeTCP, manifest.Units[1].Probe.Type)
	assert.Equal(t, 9200, manifest.Units[1].Probe.TCP.Port)
	assert.Equal(t, 500*time.Millisecond, manifest.Units[1].Probe.Timeout)
}

func TestLoadManifest_Errors(t *testing.T) {
	_, err := LoadManifest(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.True(t, errors.IsIOError(err))

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("units: [:"), 0644))
	_, err = LoadManifest(path)
	assert.True(t, errors.IsValidationError(err))
}

func TestValidateManifest(t *testing.T) {
	unit := func(id, path string) ManifestUnit {
		return ManifestUnit{
			ManagedUnit: startup.ManagedUnit{ID: id},
			Execution:   process.ExecutionConfig{ExecutablePath: path},
		}
	}

	tests := []struct {
		name      string
		manifest  *Manifest
		shouldErr bool
	}{
		{name: "nil", manifest: nil, shouldErr: true},
		{name: "empty", manifest: &Manifest{}},
		{name: "valid", manifest: &Manifest{Units: []ManifestUnit{unit("a", "/bin/a"), unit("b", "/bin/b")}}},
		{name: "bad id", manifest: &Manifest{Units: []ManifestUnit{unit("bad id", "/bin/a")}}, shouldErr: true},
		{name: "duplicate", manifest: &Manifest{Units: []ManifestUnit{unit("a", "/bin/a"), unit("a", "/bin/b")}}, shouldErr: true},
		{name: "no executable", manifest: &Manifest{Units: []ManifestUnit{unit("a", "")}}, shouldErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateManifest(tt.manifest)
			if tt.shouldErr {
				assert.True(t, errors.IsValidationError(err))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestHostState_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.yaml")

	state, err := readHostState(path)
	require.NoError(t, err)
	assert.Empty(t, state.Autostart)

	state.Autostart["a"] = true
	require.NoError(t, writeHostState(path, state))

	loaded, err := readHostState(path)
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"a": true}, loaded.Autostart)

	inMemory, err := readHostState("")
	require.NoError(t, err)
	assert.NoError(t, writeHostState("", inMemory))
}
