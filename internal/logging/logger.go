package logging

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

// Option configures RuntimeLogger creation.
type Option func(*newOptions)

type newOptions struct {
	sessionID string
	traceID   string
	maxSize   int64
	maxFiles  int
}

// WithSessionID configures the session_id field used in emitted log records.
func WithSessionID(sessionID string) Option {
	return func(opts *newOptions) {
		opts.sessionID = strings.TrimSpace(sessionID)
	}
}

// WithTraceID configures the trace_id field used in emitted log records.
func WithTraceID(traceID string) Option {
	return func(opts *newOptions) {
		opts.traceID = strings.TrimSpace(traceID)
	}
}

// WithRotation caps the size of one log file and how many log files are
// kept in the directory. A zero value disables the respective cap.
func WithRotation(maxSizeBytes int64, maxFiles int) Option {
	return func(opts *newOptions) {
		if maxSizeBytes > 0 {
			opts.maxSize = maxSizeBytes
		}
		if maxFiles > 0 {
			opts.maxFiles = maxFiles
		}
	}
}

// RuntimeLogger writes structured JSON logs to disk.
//
// Log output never goes to stdout: the panel owns the terminal, and the
// word processor surfaces bridge status through its own widgets.
type RuntimeLogger struct {
	Logger     *log.Logger
	out        *rotatingFile
	baseLogger *log.Logger
	sessionID  string
	traceID    string
}

// New initializes logging under ~/.quill/logs without writing to stdout.
func New(ctx context.Context, options ...Option) (*RuntimeLogger, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolve home directory: %w", err)
	}

	logDir := filepath.Join(homeDir, ".quill", "logs")
	if err := os.MkdirAll(logDir, 0o750); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	resolved := resolveOptions(options)
	timestamp := time.Now().UTC().Format("20060102-150405")
	prefix := fmt.Sprintf("quill-%s", timestamp)
	if resolved.sessionID != "" {
		prefix = fmt.Sprintf("quill-%s-%s", timestamp, resolved.sessionID)
	}
	out, err := newRotatingFile(logDir, prefix, resolved.maxSize, resolved.maxFiles)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}

	logger := log.NewWithOptions(out, log.Options{
		Level:           log.InfoLevel,
		ReportTimestamp: true,
		TimeFormat:      time.RFC3339,
	})
	logger.SetFormatter(log.JSONFormatter)

	runtimeLogger := &RuntimeLogger{
		out:        out,
		baseLogger: logger,
		sessionID:  resolved.sessionID,
		traceID:    resolved.traceID,
	}
	runtimeLogger.rebuildLogger()
	runtimeLogger.Logger.With("log_file", out.CurrentPath()).Info("logger initialized")

	_ = ctx
	return runtimeLogger, nil
}

// WithSessionID updates the session_id field for subsequent log records.
func (r *RuntimeLogger) WithSessionID(sessionID string) *RuntimeLogger {
	if r == nil {
		return nil
	}
	r.sessionID = strings.TrimSpace(sessionID)
	r.rebuildLogger()
	return r
}

// WithTraceID updates the trace_id field for subsequent log records.
func (r *RuntimeLogger) WithTraceID(traceID string) *RuntimeLogger {
	if r == nil {
		return nil
	}
	r.traceID = strings.TrimSpace(traceID)
	r.rebuildLogger()
	return r
}

// Close flushes and closes the log file.
func (r *RuntimeLogger) Close() error {
	if r == nil || r.out == nil {
		return nil
	}
	return r.out.Close()
}

// Path returns the current log file path. Rotation moves it forward.
func (r *RuntimeLogger) Path() string {
	if r == nil || r.out == nil {
		return ""
	}
	return r.out.CurrentPath()
}

func (r *RuntimeLogger) rebuildLogger() {
	if r == nil || r.baseLogger == nil {
		return
	}
	r.Logger = r.baseLogger.With(
		"session_id", r.sessionID,
		"trace_id", r.traceID,
	)
}

func resolveOptions(options []Option) newOptions {
	resolved := newOptions{}
	for _, option := range options {
		if option == nil {
			continue
		}
		option(&resolved)
	}
	return resolved
}

// rotatingFile is an io.Writer that starts a new log file once the current
// one exceeds maxSize and prunes the oldest files beyond maxFiles. A single
// record larger than maxSize still lands whole in a fresh file.
type rotatingFile struct {
	dir      string
	prefix   string
	maxSize  int64
	maxFiles int

	mu      sync.Mutex
	seq     int
	file    *os.File
	path    string
	written int64
}

func newRotatingFile(dir, prefix string, maxSize int64, maxFiles int) (*rotatingFile, error) {
	r := &rotatingFile{dir: dir, prefix: prefix, maxSize: maxSize, maxFiles: maxFiles}
	if err := r.open(); err != nil {
		return nil, err
	}
	r.prune()
	return r, nil
}

func (r *rotatingFile) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.maxSize > 0 && r.written > 0 && r.written+int64(len(p)) > r.maxSize {
		if err := r.rotate(); err != nil {
			return 0, err
		}
	}
	n, err := r.file.Write(p)
	r.written += int64(n)
	return n, err
}

// Close closes the active file.
func (r *rotatingFile) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file = nil
	return err
}

// CurrentPath returns the path of the active file.
func (r *rotatingFile) CurrentPath() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.path
}

func (r *rotatingFile) open() error {
	name := r.prefix + ".log"
	if r.seq > 0 {
		name = fmt.Sprintf("%s.%d.log", r.prefix, r.seq)
	}
	path := filepath.Join(r.dir, name)
	// #nosec G304 -- path is constructed from trusted local paths.
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	r.file = file
	r.path = path
	r.written = 0
	if info, statErr := file.Stat(); statErr == nil {
		r.written = info.Size()
	}
	return nil
}

func (r *rotatingFile) rotate() error {
	_ = r.file.Close()
	r.seq++
	if err := r.open(); err != nil {
		return err
	}
	r.prune()
	return nil
}

// prune deletes the oldest quill log files beyond maxFiles. The active file
// is never removed.
func (r *rotatingFile) prune() {
	if r.maxFiles <= 0 {
		return
	}
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return
	}

	type logFile struct {
		path    string
		modTime time.Time
	}
	var logs []logFile
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, "quill-") || !strings.HasSuffix(name, ".log") {
			continue
		}
		info, infoErr := entry.Info()
		if infoErr != nil {
			continue
		}
		logs = append(logs, logFile{path: filepath.Join(r.dir, name), modTime: info.ModTime()})
	}
	sort.Slice(logs, func(i, j int) bool { return logs[i].modTime.Before(logs[j].modTime) })

	excess := len(logs) - r.maxFiles
	for _, candidate := range logs {
		if excess <= 0 {
			break
		}
		if candidate.path == r.path {
			continue
		}
		_ = os.Remove(candidate.path)
		excess--
	}
}
