package supervisor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/quill-assist/quill/internal/channel"
)

type fakeHandle struct {
	pid    int
	mu     sync.Mutex
	killed bool
}

func (h *fakeHandle) PID() int {
	return h.pid
}

func (h *fakeHandle) Kill() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.killed = true
	return nil
}

func (h *fakeHandle) wasKilled() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.killed
}

type fakeLauncher struct {
	mu      sync.Mutex
	calls   int
	name    string
	args    []string
	handle  Handle
	launchE error
}

func (f *fakeLauncher) Launch(name string, args []string) (Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.name = name
	f.args = append([]string(nil), args...)
	if f.launchE != nil {
		return nil, f.launchE
	}
	return f.handle, nil
}

func (f *fakeLauncher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func writeScript(t *testing.T) string {
	t.Helper()
	script := filepath.Join(t.TempDir(), "quill_agent.py")
	if err := os.WriteFile(script, []byte("# stub"), 0o600); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return script
}

func testEndpoint() channel.Endpoint {
	return channel.Endpoint{Host: "127.0.0.1", Port: 8765}
}

func awaitResult(t *testing.T, results <-chan StartResult) StartResult {
	t.Helper()
	select {
	case result := <-results:
		return result
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for launch result")
		return StartResult{}
	}
}

func TestStartLaunchesDetachedWithPortArgument(t *testing.T) {
	script := writeScript(t)
	launcher := &fakeLauncher{handle: &fakeHandle{pid: 4242}}
	sup, err := New("python3", script, testEndpoint(), WithLauncher(launcher))
	if err != nil {
		t.Fatalf("new supervisor: %v", err)
	}

	result := awaitResult(t, sup.Start(context.Background()))
	if result.Err != nil {
		t.Fatalf("start: %v", result.Err)
	}
	if result.PID != 4242 {
		t.Fatalf("pid = %d, want 4242", result.PID)
	}
	if launcher.name != "python3" {
		t.Fatalf("interpreter = %q, want python3", launcher.name)
	}
	want := []string{script, "--port", "8765"}
	if len(launcher.args) != len(want) {
		t.Fatalf("args = %v, want %v", launcher.args, want)
	}
	for i := range want {
		if launcher.args[i] != want[i] {
			t.Fatalf("args[%d] = %q, want %q", i, launcher.args[i], want[i])
		}
	}
	if !sup.IsRunning() {
		t.Fatal("supervisor should report running after successful launch")
	}
}

func TestStartIsSingleAttempt(t *testing.T) {
	script := writeScript(t)
	launcher := &fakeLauncher{handle: &fakeHandle{pid: 7}}
	sup, err := New("python3", script, testEndpoint(), WithLauncher(launcher))
	if err != nil {
		t.Fatalf("new supervisor: %v", err)
	}

	first := sup.Start(context.Background())
	second := sup.Start(context.Background())
	if first != second {
		t.Fatal("repeated Start should return the same result channel")
	}
	awaitResult(t, first)
	if launcher.callCount() != 1 {
		t.Fatalf("launch attempts = %d, want exactly 1", launcher.callCount())
	}
}

func TestStartReportsLaunchError(t *testing.T) {
	script := writeScript(t)
	launcher := &fakeLauncher{launchE: errors.New("spawn rejected")}
	sup, err := New("python3", script, testEndpoint(), WithLauncher(launcher))
	if err != nil {
		t.Fatalf("new supervisor: %v", err)
	}

	result := awaitResult(t, sup.Start(context.Background()))
	var launchErr *LaunchError
	if !errors.As(result.Err, &launchErr) {
		t.Fatalf("err = %v, want *LaunchError", result.Err)
	}
	if launchErr.Script != script {
		t.Fatalf("script = %q, want %q", launchErr.Script, script)
	}
	if sup.IsRunning() {
		t.Fatal("supervisor should not report running after failed launch")
	}
}

func TestStartReportsMissingScript(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "nope.py")
	launcher := &fakeLauncher{handle: &fakeHandle{pid: 7}}
	sup, err := New("python3", missing, testEndpoint(), WithLauncher(launcher))
	if err != nil {
		t.Fatalf("new supervisor: %v", err)
	}

	result := awaitResult(t, sup.Start(context.Background()))
	var launchErr *LaunchError
	if !errors.As(result.Err, &launchErr) {
		t.Fatalf("err = %v, want *LaunchError", result.Err)
	}
	if launcher.callCount() != 0 {
		t.Fatal("launcher should not be invoked for an unresolvable script")
	}
}

func TestStopReleasesWithoutKilling(t *testing.T) {
	script := writeScript(t)
	handle := &fakeHandle{pid: 99}
	launcher := &fakeLauncher{handle: handle}
	sup, err := New("python3", script, testEndpoint(), WithLauncher(launcher))
	if err != nil {
		t.Fatalf("new supervisor: %v", err)
	}
	awaitResult(t, sup.Start(context.Background()))

	sup.Stop()
	if sup.IsRunning() {
		t.Fatal("supervisor should not report running after Stop")
	}
	if handle.wasKilled() {
		t.Fatal("Stop must not terminate the detached process")
	}
}

func TestTerminateKillsViaHandle(t *testing.T) {
	script := writeScript(t)
	handle := &fakeHandle{pid: 99}
	launcher := &fakeLauncher{handle: handle}
	sup, err := New("python3", script, testEndpoint(), WithLauncher(launcher))
	if err != nil {
		t.Fatalf("new supervisor: %v", err)
	}
	awaitResult(t, sup.Start(context.Background()))

	if err := sup.Terminate(); err != nil {
		t.Fatalf("terminate: %v", err)
	}
	if !handle.wasKilled() {
		t.Fatal("Terminate should kill through the retained handle")
	}
	if sup.IsRunning() {
		t.Fatal("supervisor should not report running after Terminate")
	}
}

func TestTerminateWithoutHandleIsNoop(t *testing.T) {
	script := writeScript(t)
	sup, err := New("python3", script, testEndpoint(), WithLauncher(&fakeLauncher{handle: &fakeHandle{}}))
	if err != nil {
		t.Fatalf("new supervisor: %v", err)
	}
	if err := sup.Terminate(); err != nil {
		t.Fatalf("terminate before start: %v", err)
	}
}

func TestNewValidation(t *testing.T) {
	if _, err := New("", "agent.py", testEndpoint()); err == nil {
		t.Fatal("expected error for empty interpreter")
	}
	if _, err := New("python3", "  ", testEndpoint()); err == nil {
		t.Fatal("expected error for empty script")
	}
	if _, err := New("python3", "agent.py", channel.Endpoint{Host: "127.0.0.1"}); err == nil {
		t.Fatal("expected error for zero port")
	}
}
