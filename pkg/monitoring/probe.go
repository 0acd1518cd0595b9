package monitoring

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os/exec"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/core-tools/hsu-startup/pkg/errors"
	"github.com/core-tools/hsu-startup/pkg/logging"
	"github.com/core-tools/hsu-startup/pkg/process"
)

const DefaultProbeTimeout = 2 * time.Second

type ProbeType string

const (
	ProbeTypeHTTP    ProbeType = "http"
	ProbeTypeGRPC    ProbeType = "grpc"
	ProbeTypeTCP     ProbeType = "tcp"
	ProbeTypeExec    ProbeType = "exec"
	ProbeTypeProcess ProbeType = "process"
)

type HTTPProbeConfig struct {
	URL     string            `yaml:"url"`
	Method  string            `yaml:"method,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty"`
}

type GRPCProbeConfig struct {
	Address string `yaml:"address"`
	Service string `yaml:"service,omitempty"`
}

type TCPProbeConfig struct {
	Address string `yaml:"address"`
	Port    int    `yaml:"port"`
}

type ExecProbeConfig struct {
	Command string   `yaml:"command"`
	Args    []string `yaml:"args,omitempty"`
}

// ProbeConfig describes how to tell whether a unit is running when the host
// holds no live handle for it, e.g. after a coordinator restart.
type ProbeConfig struct {
	Type ProbeType `yaml:"type"`

	HTTP HTTPProbeConfig `yaml:"http,omitempty"`
	GRPC GRPCProbeConfig `yaml:"grpc,omitempty"`
	TCP  TCPProbeConfig  `yaml:"tcp,omitempty"`
	Exec ExecProbeConfig `yaml:"exec,omitempty"`

	Timeout time.Duration `yaml:"timeout,omitempty"`
}

type ProbeStatus string

const (
	ProbeStatusUnknown   ProbeStatus = "unknown"
	ProbeStatusHealthy   ProbeStatus = "healthy"
	ProbeStatusDegraded  ProbeStatus = "degraded"
	ProbeStatusUnhealthy ProbeStatus = "unhealthy"
)

type ProbeState struct {
	Status               ProbeStatus
	LastCheck            time.Time
	Message              string
	ConsecutiveFailures  int
	ConsecutiveSuccesses int
}

// PIDSource yields the PID a process probe should look for
type PIDSource func() (int, error)

// Prober runs on-demand checks for one unit and keeps the outcome history
type Prober struct {
	id        string
	config    ProbeConfig
	pidSource PIDSource
	mutex     sync.Mutex
	state     ProbeState
	logger    logging.Logger
}

func NewProber(id string, config ProbeConfig, logger logging.Logger) (*Prober, error) {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if err := ValidateProbeConfig(config); err != nil {
		return nil, errors.NewValidationError("invalid probe configuration", err).WithContext("id", id)
	}
	if config.Timeout == 0 {
		config.Timeout = DefaultProbeTimeout
	}
	return &Prober{
		id:     id,
		config: config,
		state:  ProbeState{Status: ProbeStatusUnknown},
		logger: logger,
	}, nil
}

// SetPIDSource wires the PID lookup used by process probes
func (p *Prober) SetPIDSource(source PIDSource) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.pidSource = source
}

func (p *Prober) Type() ProbeType {
	return p.config.Type
}

func (p *Prober) State() ProbeState {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.state
}

// Check performs one probe and reports whether the unit answered
func (p *Prober) Check(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, errors.NewCancelledError("probe cancelled", err).WithContext("id", p.id)
	}

	ctx, cancel := context.WithTimeout(ctx, p.config.Timeout)
	defer cancel()

	p.logger.Debugf("Performing probe, id: %s, type: %s", p.id, p.config.Type)

	var healthy bool
	var message string
	switch p.config.Type {
	case ProbeTypeHTTP:
		healthy, message = p.checkHTTP(ctx)
	case ProbeTypeGRPC:
		healthy, message = p.checkGRPC(ctx)
	case ProbeTypeTCP:
		healthy, message = p.checkTCP(ctx)
	case ProbeTypeExec:
		healthy, message = p.checkExec(ctx)
	case ProbeTypeProcess:
		healthy, message = p.checkProcess()
	}

	p.updateState(healthy, message)
	return healthy, nil
}

func (p *Prober) updateState(healthy bool, message string) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	previous := p.state.Status
	p.state.LastCheck = time.Now()
	p.state.Message = message

	if healthy {
		p.state.ConsecutiveSuccesses++
		p.state.ConsecutiveFailures = 0
		p.state.Status = ProbeStatusHealthy
		if previous != ProbeStatusHealthy {
			p.logger.Infof("Probe healthy, id: %s, previous: %s", p.id, previous)
		}
		return
	}

	p.state.ConsecutiveFailures++
	p.state.ConsecutiveSuccesses = 0
	if p.state.ConsecutiveFailures == 1 {
		p.state.Status = ProbeStatusDegraded
	} else {
		p.state.Status = ProbeStatusUnhealthy
	}
	p.logger.Debugf("Probe failed, id: %s, status: %s->%s, consecutive_failures: %d, message: %s",
		p.id, previous, p.state.Status, p.state.ConsecutiveFailures, message)
}

func (p *Prober) checkHTTP(ctx context.Context) (bool, string) {
	method := p.config.HTTP.Method
	if method == "" {
		method = http.MethodGet
	}

	req, err := http.NewRequestWithContext(ctx, method, p.config.HTTP.URL, nil)
	if err != nil {
		return false, fmt.Sprintf("failed to create HTTP request: %v", err)
	}
	for key, value := range p.config.HTTP.Headers {
		req.Header.Set(key, value)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return false, fmt.Sprintf("HTTP request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return true, fmt.Sprintf("HTTP probe passed: %s", resp.Status)
	}
	return false, fmt.Sprintf("HTTP probe failed: %s", resp.Status)
}

func (p *Prober) checkGRPC(ctx context.Context) (bool, string) {
	conn, err := grpc.DialContext(ctx, p.config.GRPC.Address,
		grpc.WithTransportCredentials(insecure.NewCredentials()), grpc.WithBlock())
	if err != nil {
		return false, fmt.Sprintf("gRPC connection failed: %v", err)
	}
	defer conn.Close()

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: p.config.GRPC.Service})
	if err != nil {
		return false, fmt.Sprintf("gRPC health check failed: %v", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return false, fmt.Sprintf("gRPC service not serving: %s", resp.GetStatus())
	}
	return true, "gRPC service serving"
}

func (p *Prober) checkTCP(ctx context.Context) (bool, string) {
	address := net.JoinHostPort(p.config.TCP.Address, fmt.Sprint(p.config.TCP.Port))

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return false, fmt.Sprintf("TCP connection failed: %v", err)
	}
	conn.Close()
	return true, fmt.Sprintf("TCP connection successful to %s", address)
}

func (p *Prober) checkExec(ctx context.Context) (bool, string) {
	cmd := exec.CommandContext(ctx, p.config.Exec.Command, p.config.Exec.Args...)
	output, err := cmd.CombinedOutput()

	if ctx.Err() == context.DeadlineExceeded {
		return false, fmt.Sprintf("exec probe timed out after %v", p.config.Timeout)
	}
	if err != nil {
		return false, fmt.Sprintf("exec probe failed: %v, output: %s", err, string(output))
	}
	return true, "exec probe passed"
}

func (p *Prober) checkProcess() (bool, string) {
	p.mutex.Lock()
	source := p.pidSource
	p.mutex.Unlock()

	if source == nil {
		return false, "no PID source configured"
	}
	pid, err := source()
	if err != nil {
		return false, fmt.Sprintf("PID lookup failed: %v", err)
	}

	running, err := process.IsProcessRunning(pid)
	if err != nil || !running {
		return false, fmt.Sprintf("process not running: PID %d", pid)
	}
	return true, fmt.Sprintf("process is running: PID %d", pid)
}
