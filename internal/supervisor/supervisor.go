// Package supervisor launches and tracks the external assistant process.
//
// The assistant is spawned exactly once per supervisor lifetime, detached
// from the host's process group and hidden (no console window). "Started"
// means the OS accepted the launch request; network readiness is a separate
// concern owned by the doctor.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/quill-assist/quill/internal/channel"
)

// LaunchError reports that the assistant process could not be created.
type LaunchError struct {
	Script string
	Err    error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("launch assistant %q: %v", e.Script, e.Err)
}

func (e *LaunchError) Unwrap() error {
	return e.Err
}

// Handle is an opaque reference to the spawned assistant process. Only the
// supervisor holds one.
type Handle interface {
	PID() int
	Kill() error
}

// Launcher starts the assistant process. Tests substitute a fake.
type Launcher interface {
	Launch(name string, args []string) (Handle, error)
}

// StartResult delivers the launch outcome from the background worker.
type StartResult struct {
	PID int
	Err error
}

// Option configures Supervisor construction.
type Option func(*Supervisor)

// WithLauncher overrides process creation.
func WithLauncher(launcher Launcher) Option {
	return func(s *Supervisor) {
		if launcher != nil {
			s.launcher = launcher
		}
	}
}

// Supervisor owns the assistant process lifecycle: one launch, one handle.
type Supervisor struct {
	launcher    Launcher
	interpreter string
	script      string
	endpoint    channel.Endpoint

	mu        sync.Mutex
	handle    Handle
	attempted bool
	released  bool
	resultCh  chan StartResult
}

// New builds a Supervisor for the given assistant entry point.
//
// The endpoint port is passed to the assistant as --port so both ends of the
// channel share one injected configuration value.
func New(interpreter, script string, endpoint channel.Endpoint, options ...Option) (*Supervisor, error) {
	interpreter = strings.TrimSpace(interpreter)
	if interpreter == "" {
		return nil, errors.New("interpreter is required")
	}
	script = strings.TrimSpace(script)
	if script == "" {
		return nil, errors.New("assistant script path is required")
	}
	if endpoint.Port <= 0 {
		return nil, fmt.Errorf("endpoint port %d out of range", endpoint.Port)
	}

	s := &Supervisor{
		launcher:    detachedLauncher{},
		interpreter: interpreter,
		script:      script,
		endpoint:    endpoint,
	}
	for _, option := range options {
		if option == nil {
			continue
		}
		option(s)
	}
	return s, nil
}

// Start launches the assistant on a background worker and returns a channel
// that delivers the outcome exactly once.
//
// Start is idempotent: repeated calls share the single launch attempt and
// receive the same result channel. The caller is never blocked on
// process-creation latency.
func (s *Supervisor) Start(ctx context.Context) <-chan StartResult {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.attempted {
		return s.resultCh
	}
	s.attempted = true
	s.resultCh = make(chan StartResult, 1)

	go s.launch(ctx, s.resultCh)
	return s.resultCh
}

func (s *Supervisor) launch(ctx context.Context, results chan<- StartResult) {
	if err := ctx.Err(); err != nil {
		results <- StartResult{Err: &LaunchError{Script: s.script, Err: err}}
		return
	}

	if _, err := os.Stat(s.script); err != nil {
		results <- StartResult{Err: &LaunchError{Script: s.script, Err: err}}
		return
	}

	args := []string{s.script, "--port", strconv.Itoa(s.endpoint.Port)}
	handle, err := s.launcher.Launch(s.interpreter, args)
	if err != nil {
		results <- StartResult{Err: &LaunchError{Script: s.script, Err: err}}
		return
	}

	s.mu.Lock()
	s.handle = handle
	s.mu.Unlock()

	results <- StartResult{PID: handle.PID()}
}

// Script returns the assistant entry point path this supervisor launches.
func (s *Supervisor) Script() string {
	return s.script
}

// IsRunning reports whether a launch was attempted and the handle has not
// been released. It does not probe the process: a detached child may have
// exited without the supervisor noticing.
func (s *Supervisor) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handle != nil && !s.released
}

// Stop releases the supervisor's reference to the handle without touching
// the process. The assistant keeps running; only tracking stops.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.released = true
	s.handle = nil
}

// Terminate kills the assistant process via the retained handle, then
// releases it. Used on bridge teardown; best effort.
func (s *Supervisor) Terminate() error {
	s.mu.Lock()
	handle := s.handle
	s.released = true
	s.handle = nil
	s.mu.Unlock()

	if handle == nil {
		return nil
	}
	if err := handle.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("terminate assistant pid %d: %w", handle.PID(), err)
	}
	return nil
}

// PID returns the assistant process id, or zero when no handle is held.
func (s *Supervisor) PID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handle == nil {
		return 0
	}
	return s.handle.PID()
}
