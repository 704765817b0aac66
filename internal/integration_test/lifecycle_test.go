package integration_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quill-assist/quill/internal/bridge"
	"github.com/quill-assist/quill/internal/channel"
	"github.com/quill-assist/quill/internal/doctor"
	"github.com/quill-assist/quill/internal/events"
	"github.com/quill-assist/quill/internal/stub"
	"github.com/quill-assist/quill/internal/supervisor"
)

type recordedHandle struct {
	mu     sync.Mutex
	killed bool
}

func (h *recordedHandle) PID() int { return 4242 }

func (h *recordedHandle) Kill() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.killed = true
	return nil
}

func (h *recordedHandle) wasKilled() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.killed
}

// attachLauncher pretends to spawn the assistant; the stub server is already
// listening, mirroring a launch that raced ahead of the bridge.
type attachLauncher struct {
	handle *recordedHandle
}

func (l *attachLauncher) Launch(string, []string) (supervisor.Handle, error) {
	return l.handle, nil
}

type eventRecorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *eventRecorder) record(event events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *eventRecorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	seen := make([]string, 0, len(r.events))
	for _, event := range r.events {
		seen = append(seen, event.Type)
	}
	return seen
}

func (r *eventRecorder) has(eventType string) bool {
	for _, seen := range r.types() {
		if seen == eventType {
			return true
		}
	}
	return false
}

func writeAgentScript(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "quill_agent.py")
	require.NoError(t, os.WriteFile(path, []byte("# placeholder agent\n"), 0o600))
	return path
}

func TestLifecycleInitializeSendShutdown(t *testing.T) {
	ctx := context.Background()

	server := stub.New()
	bound, err := server.Listen(channel.Endpoint{Host: "127.0.0.1", Port: 0})
	require.NoError(t, err)
	go func() { _ = server.Serve() }()
	t.Cleanup(func() { _ = server.Close() })

	handle := &recordedHandle{}
	sup, err := supervisor.New(
		"python3",
		writeAgentScript(t),
		bound,
		supervisor.WithLauncher(&attachLauncher{handle: handle}),
	)
	require.NoError(t, err)

	ch, err := channel.New(bound, channel.WithTimeouts(2*time.Second, 2*time.Second, 2*time.Second))
	require.NoError(t, err)

	recorder := &eventRecorder{}
	bus := events.New()
	bus.SubscribeAll(recorder.record)

	service, err := bridge.New(sup, ch, bus)
	require.NoError(t, err)

	doc := bridge.DocumentContext{ID: "doc-1", Title: "Quarterly Report"}
	service.Initialize(ctx, doc)
	service.Initialize(ctx, bridge.DocumentContext{ID: "doc-2"}) // ignored

	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, service.WaitReady(waitCtx))
	require.Equal(t, bridge.StateReady, service.State())
	require.True(t, service.IsAgentRunning())
	assert.Equal(t, "doc-1", service.Document().ID)

	response, err := service.SendCommand(ctx, "Summarize this document")
	require.NoError(t, err)
	assert.Equal(t, `AI: received "Summarize this document"`, response.Text())

	prober, err := doctor.NewProber(bound, bus, doctor.Config{})
	require.NoError(t, err)
	payload := prober.RunOnce(ctx)
	assert.True(t, payload.Reachable)

	require.NoError(t, service.Shutdown())
	assert.True(t, handle.wasKilled())

	require.Eventually(t, func() bool {
		return recorder.has(events.EventTypeStateTransition) &&
			recorder.has(events.EventTypeAgentSpawn) &&
			recorder.has(events.EventTypeCommandSent) &&
			recorder.has(events.EventTypeCommandResult) &&
			recorder.has(events.EventTypeHealthCheck) &&
			recorder.has(events.EventTypeAgentExit)
	}, 2*time.Second, 10*time.Millisecond, "expected full event trail, got %v", recorder.types())
}

func TestLifecycleLaunchFailureLeavesBridgeFailed(t *testing.T) {
	ctx := context.Background()

	endpoint, err := channel.NewEndpoint("127.0.0.1", 8765)
	require.NoError(t, err)

	sup, err := supervisor.New(
		"python3",
		filepath.Join(t.TempDir(), "missing_agent.py"),
		endpoint,
	)
	require.NoError(t, err)

	ch, err := channel.New(endpoint)
	require.NoError(t, err)

	service, err := bridge.New(sup, ch, events.New())
	require.NoError(t, err)

	service.Initialize(ctx, bridge.DocumentContext{})

	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.Error(t, service.WaitReady(waitCtx))
	require.Equal(t, bridge.StateFailed, service.State())

	_, err = service.SendCommand(ctx, "hello")
	require.ErrorIs(t, err, bridge.ErrNotReady)
}
