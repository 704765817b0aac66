package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/quill-assist/quill/internal/channel"
	"github.com/quill-assist/quill/internal/events"
	"github.com/quill-assist/quill/internal/supervisor"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const eventSource = "bridge"

// DocumentContext identifies the document/frame the panel is attached to.
// The bridge only records it for status reporting; document access happens
// inside the assistant process through its own channel.
type DocumentContext struct {
	ID    string
	Title string
}

// Option configures Service construction.
type Option func(*Service)

// WithLogger configures the structured logger.
func WithLogger(logger *log.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithTracer configures the tracer used for lifecycle spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(s *Service) {
		if tracer != nil {
			s.tracer = tracer
		}
	}
}

// WithLaunchTimeout bounds how long the bridge stays in Starting before it
// gives up on the launch and settles to Failed.
func WithLaunchTimeout(timeout time.Duration) Option {
	return func(s *Service) {
		if timeout > 0 {
			s.launchTimeout = timeout
		}
	}
}

// Service orchestrates the supervisor and the command channel behind the
// bridge state machine and owns the stable contract the panel calls.
type Service struct {
	supervisor *supervisor.Supervisor
	channel    *channel.Channel
	bus        events.Bus
	logger     *log.Logger
	tracer     trace.Tracer

	launchTimeout time.Duration

	mu         sync.Mutex
	state      State
	doc        DocumentContext
	launchErr  error
	settled    chan struct{}
	initOnce   bool
	statusText string
}

const defaultLaunchTimeout = 2 * time.Minute

// New builds a bridge Service. The supervisor, channel, and bus must be
// non-nil.
func New(sup *supervisor.Supervisor, ch *channel.Channel, bus events.Bus, options ...Option) (*Service, error) {
	if sup == nil {
		return nil, errors.New("supervisor is required")
	}
	if ch == nil {
		return nil, errors.New("channel is required")
	}
	if bus == nil {
		return nil, errors.New("event bus is required")
	}

	s := &Service{
		supervisor:    sup,
		channel:       ch,
		bus:           bus,
		logger:        log.Default(),
		tracer:        otel.Tracer("quill/bridge"),
		launchTimeout: defaultLaunchTimeout,
		state:         StateUninitialized,
		settled:       make(chan struct{}),
		statusText:    "assistant not started",
	}
	for _, option := range options {
		if option == nil {
			continue
		}
		option(s)
	}
	return s, nil
}

// Initialize records the document context and starts the assistant process.
//
// It is idempotent: any call after the first is a no-op. The launch itself
// runs on a background worker; the state machine leaves Starting only when
// the worker reports the launch outcome, so the bridge never claims Ready
// for a process the OS rejected. Initialize returns without waiting.
func (s *Service) Initialize(ctx context.Context, doc DocumentContext) {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	if s.initOnce {
		s.mu.Unlock()
		return
	}
	s.initOnce = true
	s.doc = doc
	s.transitionLocked(ctx, StateStarting, "initialize")
	s.statusText = "starting assistant"
	s.mu.Unlock()

	s.publishStatus(events.SeverityInfo, "starting assistant")

	results := s.supervisor.Start(ctx)
	go s.observeLaunch(ctx, results)
}

// observeLaunch waits for the supervised launch outcome and settles the
// state machine.
func (s *Service) observeLaunch(ctx context.Context, results <-chan supervisor.StartResult) {
	timer := time.NewTimer(s.launchTimeout)
	defer timer.Stop()

	var result supervisor.StartResult
	select {
	case result = <-results:
	case <-timer.C:
		result.Err = fmt.Errorf("assistant launch timed out after %s", s.launchTimeout)
	}

	s.mu.Lock()
	if result.Err != nil {
		s.launchErr = result.Err
		s.transitionLocked(ctx, StateFailed, result.Err.Error())
		s.statusText = fmt.Sprintf("assistant failed to start: %v", result.Err)
	} else {
		s.transitionLocked(ctx, StateReady, "launch accepted")
		s.statusText = "assistant ready"
	}
	status := s.statusText
	close(s.settled)
	s.mu.Unlock()

	severity := events.SeverityInfo
	payload := events.AgentSpawnPayload{
		Script: s.supervisor.Script(),
		Port:   s.channel.Endpoint().Port,
		PID:    result.PID,
	}
	if result.Err != nil {
		severity = events.SeverityError
		payload.Error = result.Err.Error()
	}
	s.bus.Publish(events.Event{
		Type:     events.EventTypeAgentSpawn,
		Source:   eventSource,
		Severity: severity,
		Payload:  payload,
	})
	s.publishStatus(severity, status)
}

// WaitReady blocks until the bridge leaves Starting or ctx is done.
// It returns nil when the bridge is Ready, the launch error when it Failed,
// and an error when Initialize was never called.
func (s *Service) WaitReady(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	if !s.initOnce {
		s.mu.Unlock()
		return errors.New("bridge is not initialized")
	}
	settled := s.settled
	s.mu.Unlock()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-settled:
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateReady {
		return nil
	}
	return fmt.Errorf("assistant failed to start: %w", s.launchErr)
}

// SendCommand relays one command to the assistant process and returns its
// raw response.
//
// A failed exchange never downgrades the state machine: the caller may retry
// immediately. Each call is independent; there is no queueing or backoff.
func (s *Service) SendCommand(ctx context.Context, text string) (channel.Response, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	state := s.state
	s.mu.Unlock()

	if state != StateReady {
		return channel.Response{}, fmt.Errorf("%w (state %s)", ErrNotReady, state)
	}

	started := time.Now()
	s.bus.Publish(events.Event{
		Type:    events.EventTypeCommandSent,
		Source:  eventSource,
		Payload: text,
	})

	response, err := s.channel.Send(ctx, text)
	result := events.CommandResultPayload{
		Command:  text,
		Duration: time.Since(started),
	}
	if err != nil {
		cmdErr := newCommandError(err)
		result.Error = cmdErr.Message
		s.bus.Publish(events.Event{
			Type:     events.EventTypeCommandResult,
			Source:   eventSource,
			Severity: events.SeverityError,
			Payload:  result,
		})
		s.logger.With("error", err).Warn("command exchange failed")
		return channel.Response{}, cmdErr
	}

	result.Bytes = len(response.Bytes())
	s.bus.Publish(events.Event{
		Type:    events.EventTypeCommandResult,
		Source:  eventSource,
		Payload: result,
	})
	return response, nil
}

// IsAgentRunning reports whether the supervisor still tracks a launch.
// This reflects "launch attempted and not stopped", not process liveness;
// the doctor probes actual reachability.
func (s *Service) IsAgentRunning() bool {
	return s.supervisor.IsRunning()
}

// State returns the current lifecycle state.
func (s *Service) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Status returns the latest human-readable status line for the panel.
func (s *Service) Status() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statusText
}

// Document returns the recorded document context.
func (s *Service) Document() DocumentContext {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc
}

// Shutdown terminates the assistant process through the supervisor's
// retained handle. Best effort; the bridge itself stays in its terminal
// state.
func (s *Service) Shutdown() error {
	err := s.supervisor.Terminate()
	s.bus.Publish(events.Event{
		Type:   events.EventTypeAgentExit,
		Source: eventSource,
	})
	if err != nil {
		return err
	}
	return nil
}

// transitionLocked validates and applies one state transition. Callers hold
// s.mu.
func (s *Service) transitionLocked(ctx context.Context, to State, reason string) {
	from := s.state

	_, span := s.tracer.Start(ctx, "bridge.transition", trace.WithAttributes(
		attribute.String("from_state", string(from)),
		attribute.String("to_state", string(to)),
		attribute.String("reason", reason),
		attribute.String("document_id", s.doc.ID),
	))
	defer span.End()

	if !transitionAllowed(from, to) {
		err := &IllegalTransitionError{From: from, To: to}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.logger.With("from", from, "to", to).Error("illegal bridge transition")
		return
	}

	s.state = to
	s.logger.With("from", from, "to", to, "reason", reason).Info("bridge state transition")
	s.bus.Publish(events.NewStateTransition(eventSource, string(from), string(to), reason))
}

func (s *Service) publishStatus(severity, text string) {
	s.bus.Publish(events.NewStatusMessage(eventSource, severity, text))
}
