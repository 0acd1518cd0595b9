//go:build !windows

package host

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/core-tools/hsu-startup/pkg/errors"
	"github.com/core-tools/hsu-startup/pkg/logcollection"
	"github.com/core-tools/hsu-startup/pkg/process"
	"github.com/core-tools/hsu-startup/pkg/processfile"
	"github.com/core-tools/hsu-startup/pkg/profilestore"
	"github.com/core-tools/hsu-startup/pkg/startup"
)

func sleeperManifest(ids ...string) *Manifest {
	manifest := &Manifest{}
	for _, id := range ids {
		manifest.Units = append(manifest.Units, ManifestUnit{
			ManagedUnit: startup.ManagedUnit{ID: id, DisplayName: id},
			Execution: process.ExecutionConfig{
				ExecutablePath: "/bin/sh",
				Args:           []string{"-c", "sleep 30"},
			},
		})
	}
	return manifest
}

func TestProcessHost_EnableDisable(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	files := processfile.NewProcessFileManager(processfile.ProcessFileConfig{BaseDirectory: dir}, nil)

	h, err := NewProcessHost(ProcessHostOptions{
		Manifest:    sleeperManifest("a"),
		StateFile:   filepath.Join(dir, "state.yaml"),
		Files:       files,
		StopTimeout: 5 * time.Second,
	}, nil)
	require.NoError(t, err)
	defer h.Shutdown(ctx)

	require.NoError(t, h.EnableAndPersist(ctx, "a"))
	running, err := h.IsRunning(ctx, "a")
	require.NoError(t, err)
	assert.True(t, running)
	assert.True(t, h.Autostart("a"))

	pid, err := files.ReadPIDFile("a")
	require.NoError(t, err)
	assert.Greater(t, pid, 0)

	// Enabling a running unit does not launch a second process
	require.NoError(t, h.Enable(ctx, "a"))
	pidAgain, err := files.ReadPIDFile("a")
	require.NoError(t, err)
	assert.Equal(t, pid, pidAgain)

	require.NoError(t, h.DisableAndPersist(ctx, "a"))
	running, err = h.IsRunning(ctx, "a")
	require.NoError(t, err)
	assert.False(t, running)
	enabled, err := h.IsEnabled(ctx, "a")
	require.NoError(t, err)
	assert.False(t, enabled)
	assert.False(t, h.Autostart("a"))

	_, err = files.ReadPIDFile("a")
	assert.True(t, errors.IsNotFoundError(err))
}

func TestProcessHost_BootStartsPersistedUnits(t *testing.T) {
	ctx := context.Background()
	stateFile := filepath.Join(t.TempDir(), "state.yaml")
	require.NoError(t, writeHostState(stateFile, &hostState{Autostart: map[string]bool{"a": true}}))

	h, err := NewProcessHost(ProcessHostOptions{
		Manifest:  sleeperManifest("a", "b"),
		StateFile: stateFile,
	}, nil)
	require.NoError(t, err)
	defer h.Shutdown(ctx)

	require.NoError(t, h.Boot(ctx))

	running, err := h.IsRunning(ctx, "a")
	require.NoError(t, err)
	assert.True(t, running)
	enabled, err := h.IsEnabled(ctx, "a")
	require.NoError(t, err)
	assert.True(t, enabled)

	running, err = h.IsRunning(ctx, "b")
	require.NoError(t, err)
	assert.False(t, running)
}

func TestProcessHost_RestrictedOverrideAndUnknownUnit(t *testing.T) {
	restricted := true
	h, err := NewProcessHost(ProcessHostOptions{
		Manifest:   sleeperManifest("a"),
		Restricted: &restricted,
	}, nil)
	require.NoError(t, err)

	isRestricted, err := h.IsRestrictedPlatform(context.Background())
	require.NoError(t, err)
	assert.True(t, isRestricted)

	assert.True(t, errors.IsNotFoundError(h.Enable(context.Background(), "missing")))
}

func TestProcessHost_LaunchFailure(t *testing.T) {
	manifest := &Manifest{Units: []ManifestUnit{{
		ManagedUnit: startup.ManagedUnit{ID: "broken"},
		Execution:   process.ExecutionConfig{ExecutablePath: filepath.Join(t.TempDir(), "missing")},
	}}}
	h, err := NewProcessHost(ProcessHostOptions{Manifest: manifest}, nil)
	require.NoError(t, err)

	ctx := context.Background()
	assert.Error(t, h.EnableAndPersist(ctx, "broken"))
	assert.False(t, h.Autostart("broken"))

	enabled, err := h.IsEnabled(ctx, "broken")
	require.NoError(t, err)
	assert.False(t, enabled)
	running, err := h.IsRunning(ctx, "broken")
	require.NoError(t, err)
	assert.False(t, running)
}

func TestProcessHost_SchedulerRetriesFailedLaunch(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	executable := filepath.Join(dir, "sh")

	manifest := &Manifest{Units: []ManifestUnit{{
		ManagedUnit: startup.ManagedUnit{ID: "late", DisplayName: "Late"},
		Execution:   process.ExecutionConfig{ExecutablePath: executable, Args: []string{"-c", "sleep 30"}},
	}}}
	h, err := NewProcessHost(ProcessHostOptions{Manifest: manifest, StopTimeout: 5 * time.Second}, nil)
	require.NoError(t, err)
	defer h.Shutdown(ctx)

	profile := startup.NewProfile()
	profile.Units["late"] = &startup.UnitConfig{StartupClass: startup.ClassPtr(startup.ClassInstant)}
	scheduler, err := startup.NewScheduler(startup.SchedulerOptions{
		Host:  h,
		Store: profilestore.NewStore(profilestore.NewMemoryBackend(&profilestore.Settings{
			Profiles: profilestore.Profiles{Default: profile},
		}), profilestore.StoreOptions{}, nil),
	})
	require.NoError(t, err)
	defer scheduler.Teardown()

	plan, err := scheduler.ApplyStartupPlan(ctx)
	require.Error(t, err)
	assert.Equal(t, startup.ActionFailed, plan.Entries[0].Action)

	require.NoError(t, os.Symlink("/bin/sh", executable))

	plan, err = scheduler.ApplyStartupPlan(ctx)
	require.NoError(t, err)
	assert.Equal(t, startup.ActionEnableAndPersist, plan.Entries[0].Action)
	running, err := h.IsRunning(ctx, "late")
	require.NoError(t, err)
	assert.True(t, running)
	assert.True(t, h.Autostart("late"))
}

func TestProcessHost_CapturesUnitOutput(t *testing.T) {
	ctx := context.Background()
	files := processfile.NewProcessFileManager(processfile.ProcessFileConfig{BaseDirectory: t.TempDir()}, nil)
	collector := logcollection.NewCollector(files, nil)
	defer collector.Close()

	manifest := &Manifest{Units: []ManifestUnit{{
		ManagedUnit: startup.ManagedUnit{ID: "chatty"},
		Execution: process.ExecutionConfig{
			ExecutablePath: "/bin/sh",
			Args:           []string{"-c", "echo ready; echo warning >&2"},
		},
		Output: &logcollection.OutputConfig{File: true},
	}}}
	h, err := NewProcessHost(ProcessHostOptions{Manifest: manifest, Files: files, Collector: collector}, nil)
	require.NoError(t, err)
	defer h.Shutdown(ctx)

	require.NoError(t, h.Enable(ctx, "chatty"))

	var status logcollection.UnitLogStatus
	require.Eventually(t, func() bool {
		var ok bool
		status, ok = collector.Status("chatty")
		return ok && !status.Active
	}, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, int64(2), status.LinesProcessed)

	data, err := os.ReadFile(status.LogFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"ready"`)
	assert.Contains(t, string(data), `"msg":"warning"`)
}
