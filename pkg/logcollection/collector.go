package logcollection

import (
	"bufio"
	goerrors "errors"
	"io"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/core-tools/hsu-startup/pkg/errors"
	"github.com/core-tools/hsu-startup/pkg/logging"
	"github.com/core-tools/hsu-startup/pkg/processfile"
)

// StreamType identifies the source stream
type StreamType string

const (
	StdoutStream StreamType = "stdout"
	StderrStream StreamType = "stderr"
)

// OutputConfig selects where a unit's captured output goes
type OutputConfig struct {
	// File appends JSON lines to <data dir>/logs/<unit id>.log
	File bool `yaml:"file"`

	// Forward re-logs each line through the coordinator logger
	Forward bool `yaml:"forward"`
}

func (c OutputConfig) Enabled() bool {
	return c.File || c.Forward
}

// UnitLogStatus describes the output collected for one unit
type UnitLogStatus struct {
	UnitID         string    `json:"unit_id"`
	Active         bool      `json:"active"`
	LinesProcessed int64     `json:"lines_processed"`
	BytesProcessed int64     `json:"bytes_processed"`
	LastActivity   time.Time `json:"last_activity"`
	LogFile        string    `json:"log_file,omitempty"`
	Errors         []string  `json:"errors,omitempty"`
}

// Collector reads unit process output line by line
type Collector struct {
	files  *processfile.ProcessFileManager
	logger logging.Logger

	mutex  sync.Mutex
	units  map[string]*unitCollector
	wg     sync.WaitGroup
	closed bool
}

func NewCollector(files *processfile.ProcessFileManager, logger logging.Logger) *Collector {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Collector{
		files:  files,
		logger: logger,
		units:  make(map[string]*unitCollector),
	}
}

type unitCollector struct {
	unitID    string
	forward   logging.Logger
	fileLog   *zap.Logger
	file      *os.File
	streams   []io.ReadCloser
	mutex     sync.Mutex
	status    UnitLogStatus
	remaining int
}

// CollectFromProcess starts reading both streams of one unit run. Readers
// are closed once drained. A later run of the same unit replaces the status
// of the earlier one.
func (c *Collector) CollectFromProcess(unitID string, config OutputConfig, stdout, stderr io.ReadCloser) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.closed {
		closeAll(stdout, stderr)
		return errors.NewConflictError("log collector is closed", nil).WithContext("unit_id", unitID)
	}

	u := &unitCollector{
		unitID: unitID,
		status: UnitLogStatus{UnitID: unitID, Active: true},
	}
	if config.Forward {
		u.forward = logging.NewUnitLogger(c.logger, unitID)
	}
	if config.File {
		if c.files == nil {
			closeAll(stdout, stderr)
			return errors.NewValidationError("file output requires a process file manager", nil).WithContext("unit_id", unitID)
		}
		if err := u.openFile(c.files.GenerateLogFilePath(unitID + ".log")); err != nil {
			closeAll(stdout, stderr)
			return err
		}
	}

	c.units[unitID] = u

	var types []StreamType
	for _, s := range []struct {
		stream     io.ReadCloser
		streamType StreamType
	}{{stdout, StdoutStream}, {stderr, StderrStream}} {
		if s.stream != nil {
			u.streams = append(u.streams, s.stream)
			types = append(types, s.streamType)
		}
	}
	u.remaining = len(u.streams)
	if u.remaining == 0 {
		u.finish()
	}
	for i, stream := range u.streams {
		c.wg.Add(1)
		go func(stream io.ReadCloser, streamType StreamType) {
			defer c.wg.Done()
			u.streamReader(stream, streamType)
		}(stream, types[i])
	}

	c.logger.Debugf("Collecting unit output, id: %s, file: %t, forward: %t", unitID, config.File, config.Forward)
	return nil
}

// Status returns the collection status of a unit's latest run
func (c *Collector) Status(unitID string) (UnitLogStatus, bool) {
	c.mutex.Lock()
	u, ok := c.units[unitID]
	c.mutex.Unlock()
	if !ok {
		return UnitLogStatus{}, false
	}

	u.mutex.Lock()
	defer u.mutex.Unlock()
	status := u.status
	status.Errors = append([]string(nil), u.status.Errors...)
	return status, true
}

// Close stops accepting runs, closes open streams and waits for readers
func (c *Collector) Close() {
	c.mutex.Lock()
	c.closed = true
	units := make([]*unitCollector, 0, len(c.units))
	for _, u := range c.units {
		units = append(units, u)
	}
	c.mutex.Unlock()

	for _, u := range units {
		closeAll(u.streams...)
	}
	c.wg.Wait()
	c.logger.Infof("Log collector closed")
}

func (u *unitCollector) openFile(path string) error {
	if err := processfile.ValidateDirectory(path); err != nil {
		return err
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return errors.NewIOError("failed to open unit log file", err).WithContext("path", path)
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), zapcore.AddSync(file), zapcore.DebugLevel)

	u.file = file
	u.fileLog = zap.New(core).With(zap.String("unit_id", u.unitID))
	u.status.LogFile = path
	return nil
}

func (u *unitCollector) streamReader(stream io.ReadCloser, streamType StreamType) {
	defer stream.Close()

	scanner := bufio.NewScanner(stream)
	for scanner.Scan() {
		u.processLogLine(scanner.Text(), streamType)
	}
	if err := scanner.Err(); err != nil && !goerrors.Is(err, os.ErrClosed) && !goerrors.Is(err, io.ErrClosedPipe) {
		u.recordError("stream reading error: " + err.Error())
	}

	u.mutex.Lock()
	u.remaining--
	last := u.remaining == 0
	u.mutex.Unlock()
	if last {
		u.finish()
	}
}

func (u *unitCollector) processLogLine(line string, streamType StreamType) {
	u.mutex.Lock()
	u.status.LinesProcessed++
	u.status.BytesProcessed += int64(len(line))
	u.status.LastActivity = time.Now()
	u.mutex.Unlock()

	if u.fileLog != nil {
		if streamType == StderrStream {
			u.fileLog.Warn(line, zap.String("stream", string(streamType)))
		} else {
			u.fileLog.Info(line, zap.String("stream", string(streamType)))
		}
	}
	if u.forward != nil {
		u.forward.Infof("[%s] %s", streamType, line)
	}
}

func (u *unitCollector) recordError(message string) {
	u.mutex.Lock()
	defer u.mutex.Unlock()
	u.status.Errors = append(u.status.Errors, message)
	if len(u.status.Errors) > 10 {
		u.status.Errors = u.status.Errors[len(u.status.Errors)-10:]
	}
}

func (u *unitCollector) finish() {
	if u.fileLog != nil {
		u.fileLog.Sync()
		u.file.Close()
	}
	u.mutex.Lock()
	u.status.Active = false
	u.mutex.Unlock()
}

func closeAll(streams ...io.ReadCloser) {
	for _, stream := range streams {
		if stream != nil {
			stream.Close()
		}
	}
}
