package logging

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newTestLogger(t *testing.T, options ...Option) (*RuntimeLogger, string) {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)

	logger, err := New(context.Background(), options...)
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	t.Cleanup(func() { _ = logger.Close() })
	return logger, filepath.Join(home, ".quill", "logs")
}

func logFiles(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read log dir: %v", err)
	}
	var files []string
	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), "quill-") && strings.HasSuffix(entry.Name(), ".log") {
			files = append(files, entry.Name())
		}
	}
	return files
}

func TestNewWritesToLogFile(t *testing.T) {
	logger, _ := newTestLogger(t)

	logger.Logger.Info("hello from the bridge")
	data, err := os.ReadFile(logger.Path())
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(data), "logger initialized") {
		t.Fatalf("log missing init record: %s", data)
	}
	if !strings.Contains(string(data), "hello from the bridge") {
		t.Fatalf("log missing record: %s", data)
	}
}

func TestRotationStartsNewFileWhenSizeExceeded(t *testing.T) {
	logger, dir := newTestLogger(t, WithRotation(256, 0))
	initialPath := logger.Path()

	for i := 0; i < 20; i++ {
		logger.Logger.Info("a record long enough to push the file over the size cap quickly")
	}

	if logger.Path() == initialPath {
		t.Fatalf("path never rotated away from %s", initialPath)
	}
	if files := logFiles(t, dir); len(files) < 2 {
		t.Fatalf("have %d log files, want rotation to create more: %v", len(files), files)
	}
}

func TestRotationPrunesOldestFiles(t *testing.T) {
	logger, dir := newTestLogger(t, WithRotation(256, 2))

	for i := 0; i < 40; i++ {
		logger.Logger.Info("a record long enough to push the file over the size cap quickly")
	}

	files := logFiles(t, dir)
	if len(files) > 2 {
		t.Fatalf("have %d log files, want at most 2: %v", len(files), files)
	}
	found := false
	for _, name := range files {
		if filepath.Join(dir, name) == logger.Path() {
			found = true
		}
	}
	if !found {
		t.Fatalf("active file %s missing from %v", logger.Path(), files)
	}
}

func TestSessionAndTraceFieldsChain(t *testing.T) {
	logger, _ := newTestLogger(t, WithSessionID("sess-1"))

	logger.WithTraceID("trace-9").Logger.Info("traced record")
	data, err := os.ReadFile(logger.Path())
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(data), "sess-1") || !strings.Contains(string(data), "trace-9") {
		t.Fatalf("log missing session/trace fields: %s", data)
	}
}
