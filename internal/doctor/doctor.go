// Package doctor checks the assistant environment before launch and probes
// the assistant's endpoint afterwards.
//
// The bridge's IsAgentRunning only tracks whether a launch was attempted;
// the doctor is what actually knows whether anything is listening.
package doctor

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"time"

	"github.com/quill-assist/quill/internal/channel"
	"github.com/quill-assist/quill/internal/events"
)

const (
	defaultHeartbeatInterval = 30 * time.Second
	defaultProbeTimeout      = 2 * time.Second
)

// Check is the outcome of one preflight inspection.
type Check struct {
	Name   string `json:"name"`
	OK     bool   `json:"ok"`
	Detail string `json:"detail"`
}

// PreflightInput describes what to inspect before launching the assistant.
type PreflightInput struct {
	Interpreter string
	Script      string
	Endpoint    channel.Endpoint
}

// Preflight inspects the assistant environment: interpreter on PATH, entry
// point present, endpoint not already claimed by another process.
func Preflight(input PreflightInput) []Check {
	return preflight(input, exec.LookPath, os.Stat, probeOnce)
}

func preflight(
	input PreflightInput,
	lookPath func(file string) (string, error),
	stat func(name string) (os.FileInfo, error),
	probe func(endpoint channel.Endpoint, timeout time.Duration) (time.Duration, error),
) []Check {
	checks := make([]Check, 0, 3)

	if path, err := lookPath(input.Interpreter); err != nil {
		checks = append(checks, Check{
			Name:   "interpreter",
			Detail: fmt.Sprintf("%q not found on PATH", input.Interpreter),
		})
	} else {
		checks = append(checks, Check{Name: "interpreter", OK: true, Detail: path})
	}

	if _, err := stat(input.Script); err != nil {
		checks = append(checks, Check{
			Name:   "agent_script",
			Detail: fmt.Sprintf("%q: %v", input.Script, err),
		})
	} else {
		checks = append(checks, Check{Name: "agent_script", OK: true, Detail: input.Script})
	}

	// A listener already on the port means either a leftover assistant or a
	// port conflict; both are worth surfacing before launch.
	if _, err := probe(input.Endpoint, defaultProbeTimeout); err != nil {
		checks = append(checks, Check{
			Name:   "endpoint",
			OK:     true,
			Detail: fmt.Sprintf("%s is free", input.Endpoint.Addr()),
		})
	} else {
		checks = append(checks, Check{
			Name:   "endpoint",
			Detail: fmt.Sprintf("%s is already in use", input.Endpoint.Addr()),
		})
	}

	return checks
}

// Healthy reports whether every check passed.
func Healthy(checks []Check) bool {
	for _, check := range checks {
		if !check.OK {
			return false
		}
	}
	return true
}

// EventBus publishes health events.
type EventBus interface {
	Publish(event events.Event)
}

// Config controls prober cadence and per-probe timeout.
type Config struct {
	HeartbeatInterval time.Duration
	ProbeTimeout      time.Duration
}

// Prober periodically dials the assistant endpoint and publishes the result.
type Prober struct {
	endpoint          channel.Endpoint
	bus               EventBus
	heartbeatInterval time.Duration
	probeTimeout      time.Duration
	now               func() time.Time
	newTicker         func(time.Duration) *time.Ticker
	probe             func(endpoint channel.Endpoint, timeout time.Duration) (time.Duration, error)
}

// NewProber builds a liveness prober with sane defaults.
func NewProber(endpoint channel.Endpoint, bus EventBus, cfg Config) (*Prober, error) {
	if bus == nil {
		return nil, errors.New("event bus is required")
	}
	if endpoint.Port <= 0 {
		return nil, fmt.Errorf("endpoint port %d out of range", endpoint.Port)
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = defaultHeartbeatInterval
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = defaultProbeTimeout
	}
	return &Prober{
		endpoint:          endpoint,
		bus:               bus,
		heartbeatInterval: cfg.HeartbeatInterval,
		probeTimeout:      cfg.ProbeTimeout,
		now:               time.Now,
		newTicker:         time.NewTicker,
		probe:             probeOnce,
	}, nil
}

// Start probes immediately, then on every heartbeat until context
// cancellation. The immediate probe means the panel has a reachability
// signal before the first interval elapses.
func (p *Prober) Start(ctx context.Context) {
	if p == nil || ctx.Err() != nil {
		return
	}
	p.RunOnce(ctx)

	ticker := p.newTicker(p.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.RunOnce(ctx)
		}
	}
}

// RunOnce executes one liveness probe and publishes a HealthCheck event.
func (p *Prober) RunOnce(ctx context.Context) events.HealthCheckPayload {
	if p == nil {
		return events.HealthCheckPayload{}
	}
	_ = ctx

	payload := events.HealthCheckPayload{}
	latency, err := p.probe(p.endpoint, p.probeTimeout)
	severity := events.SeverityInfo
	if err != nil {
		payload.Detail = err.Error()
		severity = events.SeverityWarn
	} else {
		payload.Reachable = true
		payload.Latency = latency
	}

	p.bus.Publish(events.Event{
		Type:      events.EventTypeHealthCheck,
		Timestamp: p.now().UTC(),
		Source:    "doctor",
		Payload:   payload,
		Severity:  severity,
	})
	return payload
}

// probeOnce dials the endpoint and immediately closes the connection. The
// assistant treats a connection without a request as a no-op.
func probeOnce(endpoint channel.Endpoint, timeout time.Duration) (time.Duration, error) {
	started := time.Now()
	conn, err := net.DialTimeout("tcp", endpoint.Addr(), timeout)
	if err != nil {
		return 0, err
	}
	_ = conn.Close()
	return time.Since(started), nil
}
