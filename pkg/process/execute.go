package process

import (
	"context"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/core-tools/hsu-startup/pkg/errors"
	"github.com/core-tools/hsu-startup/pkg/logging"
)

type ExecutionConfig struct {
	ExecutablePath   string        `yaml:"executable_path"`
	Args             []string      `yaml:"args,omitempty"`
	Environment      []string      `yaml:"environment,omitempty"`
	WorkingDirectory string        `yaml:"working_directory,omitempty"`
	WaitDelay        time.Duration `yaml:"wait_delay,omitempty"`

	// CaptureOutput connects stdout and stderr to pipes readable from the Handle
	CaptureOutput bool `yaml:"-"`
}

// Handle is a launched unit process
type Handle struct {
	id      string
	cmd     *exec.Cmd
	done    chan struct{}
	mutex   sync.Mutex
	exitErr error
	stdout  *os.File
	stderr  *os.File
}

func (h *Handle) PID() int {
	return h.cmd.Process.Pid
}

// Alive reports whether the process has not exited yet
func (h *Handle) Alive() bool {
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

// Done is closed when the process exits
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Stdout is the read end of the captured stdout pipe, nil unless captured
func (h *Handle) Stdout() io.ReadCloser {
	if h.stdout == nil {
		return nil
	}
	return h.stdout
}

func (h *Handle) Stderr() io.ReadCloser {
	if h.stderr == nil {
		return nil
	}
	return h.stderr
}

func (h *Handle) ExitErr() error {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	return h.exitErr
}

// Stop asks the process group to terminate and kills it after timeout
func (h *Handle) Stop(timeout time.Duration, logger logging.Logger) error {
	if !h.Alive() {
		return nil
	}

	pid := h.PID()
	logger.Infof("Terminating process, id: %s, pid: %d", h.id, pid)
	if err := SendTerminationSignal(pid, timeout); err != nil {
		logger.Warnf("Failed to send termination signal, id: %s, pid: %d, error: %v", h.id, pid, err)
	}

	select {
	case <-h.done:
		logger.Infof("Process terminated, id: %s, pid: %d", h.id, pid)
		return nil
	case <-time.After(timeout):
	}

	logger.Warnf("Process did not exit in time, killing, id: %s, pid: %d, timeout: %v", h.id, pid, timeout)
	if err := h.cmd.Process.Kill(); err != nil && h.Alive() {
		return errors.NewInternalError("failed to kill process", err).WithContext("id", h.id).WithContext("pid", pid)
	}
	<-h.done
	return nil
}

// Execute starts the unit's process. The process outlives ctx; use
// Handle.Stop to end it.
func Execute(ctx context.Context, id string, execution ExecutionConfig, logger logging.Logger) (*Handle, error) {
	if err := ValidateExecutionConfig(execution); err != nil {
		logger.Errorf("Execution configuration validation failed, id: %s, error: %v", id, err)
		return nil, errors.NewValidationError("invalid execution configuration", err).WithContext("id", id)
	}
	if err := ctx.Err(); err != nil {
		return nil, errors.NewCancelledError("execution cancelled", err).WithContext("id", id)
	}

	if err := ensureExecutable(execution.ExecutablePath); err != nil {
		return nil, err
	}

	workDir := execution.WorkingDirectory
	if workDir == "" {
		absPath, err := filepath.Abs(execution.ExecutablePath)
		if err != nil {
			return nil, errors.NewIOError("failed to get absolute path", err).WithContext("id", id).WithContext("executable_path", execution.ExecutablePath)
		}
		workDir = filepath.Dir(absPath)
	}

	logger.Debugf("Executing process, id: %s, executable path: '%s', args: %v, working directory: '%s'",
		id, execution.ExecutablePath, execution.Args, workDir)

	cmd := exec.Command(execution.ExecutablePath, execution.Args...)
	cmd.Dir = workDir
	cmd.Env = append(os.Environ(), execution.Environment...)
	cmd.WaitDelay = execution.WaitDelay
	setupProcessAttributes(cmd)

	handle := &Handle{
		id:   id,
		cmd:  cmd,
		done: make(chan struct{}),
	}

	if execution.CaptureOutput {
		stdoutWriter, stderrWriter, err := handle.openPipes()
		if err != nil {
			return nil, errors.NewIOError("failed to create output pipes", err).WithContext("id", id)
		}
		cmd.Stdout = stdoutWriter
		cmd.Stderr = stderrWriter
		// The child holds its own copies of the write ends
		defer stdoutWriter.Close()
		defer stderrWriter.Close()
	}

	if err := cmd.Start(); err != nil {
		handle.closePipes()
		return nil, errors.NewHostError("failed to start the process", err).WithContext("id", id).WithContext("executable_path", execution.ExecutablePath)
	}
	go func() {
		err := cmd.Wait()
		handle.mutex.Lock()
		handle.exitErr = err
		handle.mutex.Unlock()
		close(handle.done)
		logger.Infof("Process exited, id: %s, pid: %d, error: %v", id, cmd.Process.Pid, err)
	}()

	logger.Infof("Successfully executed process, id: %s, PID: %d", id, cmd.Process.Pid)
	return handle, nil
}

func (h *Handle) openPipes() (*os.File, *os.File, error) {
	stdoutReader, stdoutWriter, err := os.Pipe()
	if err != nil {
		return nil, nil, err
	}
	stderrReader, stderrWriter, err := os.Pipe()
	if err != nil {
		stdoutReader.Close()
		stdoutWriter.Close()
		return nil, nil, err
	}
	h.stdout = stdoutReader
	h.stderr = stderrReader
	return stdoutWriter, stderrWriter, nil
}

func (h *Handle) closePipes() {
	if h.stdout != nil {
		h.stdout.Close()
	}
	if h.stderr != nil {
		h.stderr.Close()
	}
}

// ensureExecutable sets the execute bit on Unix if it is missing
func ensureExecutable(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return errors.NewIOError("file does not exist", err).WithContext("path", path)
	}

	if runtime.GOOS == "windows" {
		return nil
	}

	mode := info.Mode()
	if mode&0111 != 0 {
		return nil
	}
	if err := os.Chmod(path, mode|0111); err != nil {
		return errors.NewIOError("failed to make file executable", err).WithContext("path", path)
	}
	return nil
}
