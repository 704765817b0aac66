// Package locks grants one bridge at a time the right to launch an
// assistant on an endpoint. A second panel pointed at the same endpoint
// attaches to the running assistant instead of spawning another one.
package locks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"
)

const (
	// DefaultExpiryTimeout is the default lease duration when no config
	// override is provided.
	DefaultExpiryTimeout = 12 * time.Hour
)

var (
	// ErrConflict indicates another live bridge already holds the endpoint.
	ErrConflict = errors.New("endpoint lease conflict")
)

// Lease records which process owns an assistant endpoint.
type Lease struct {
	Endpoint   string    `json:"endpoint"`
	PID        int       `json:"pid"`
	AcquiredAt time.Time `json:"acquiredAt"`
	ExpiresAt  time.Time `json:"expiresAt"`
}

// ManagerConfig controls lease manager behavior.
type ManagerConfig struct {
	ExpiryTimeout time.Duration
}

// Store persists lease state.
type Store interface {
	Load(ctx context.Context) ([]Lease, error)
	Save(ctx context.Context, leases []Lease) error
}

// Manager manages endpoint lease acquisition, conflict checks, and release.
type Manager struct {
	store         Store
	now           func() time.Time
	alive         func(pid int) bool
	expiryTimeout time.Duration
}

// NewManager constructs a lease manager with the configured lease duration.
func NewManager(store Store, cfg ManagerConfig) (*Manager, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}
	if cfg.ExpiryTimeout <= 0 {
		cfg.ExpiryTimeout = DefaultExpiryTimeout
	}
	return &Manager{
		store:         store,
		now:           time.Now,
		alive:         processAlive,
		expiryTimeout: cfg.ExpiryTimeout,
	}, nil
}

// Acquire reserves an endpoint for the given process. Re-acquiring an
// endpoint this process already holds refreshes the lease.
func (m *Manager) Acquire(endpoint string, pid int) error {
	if m == nil {
		return errors.New("manager is nil")
	}
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return errors.New("endpoint must not be empty")
	}
	if pid <= 0 {
		return fmt.Errorf("pid %d out of range", pid)
	}

	ctx := context.Background()
	leases, err := m.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("load leases: %w", err)
	}

	now := m.now().UTC()
	leases = m.onlyActive(leases, now)

	for _, lease := range leases {
		if lease.Endpoint == endpoint && lease.PID != pid {
			return fmt.Errorf("%w: endpoint=%s held by pid %d", ErrConflict, endpoint, lease.PID)
		}
	}

	leases = withoutEndpoint(leases, endpoint)
	leases = append(leases, Lease{
		Endpoint:   endpoint,
		PID:        pid,
		AcquiredAt: now,
		ExpiresAt:  now.Add(m.expiryTimeout),
	})

	if err := m.store.Save(ctx, leases); err != nil {
		return fmt.Errorf("save leases: %w", err)
	}
	return nil
}

// Release drops the lease for an endpoint.
func (m *Manager) Release(endpoint string) error {
	if m == nil {
		return errors.New("manager is nil")
	}
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return errors.New("endpoint must not be empty")
	}

	ctx := context.Background()
	leases, err := m.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("load leases: %w", err)
	}
	leases = withoutEndpoint(m.onlyActive(leases, m.now().UTC()), endpoint)
	if err := m.store.Save(ctx, leases); err != nil {
		return fmt.Errorf("save leases: %w", err)
	}
	return nil
}

// Holder returns the active lease for an endpoint, if any.
func (m *Manager) Holder(endpoint string) (Lease, bool, error) {
	if m == nil {
		return Lease{}, false, errors.New("manager is nil")
	}
	leases, err := m.store.Load(context.Background())
	if err != nil {
		return Lease{}, false, fmt.Errorf("load leases: %w", err)
	}
	for _, lease := range m.onlyActive(leases, m.now().UTC()) {
		if lease.Endpoint == strings.TrimSpace(endpoint) {
			return lease, true, nil
		}
	}
	return Lease{}, false, nil
}

// onlyActive drops leases that expired or whose owning process is gone.
func (m *Manager) onlyActive(leases []Lease, now time.Time) []Lease {
	active := make([]Lease, 0, len(leases))
	for _, lease := range leases {
		if !lease.ExpiresAt.After(now) {
			continue
		}
		if !m.alive(lease.PID) {
			continue
		}
		active = append(active, lease)
	}
	return active
}

func withoutEndpoint(leases []Lease, endpoint string) []Lease {
	kept := make([]Lease, 0, len(leases))
	for _, lease := range leases {
		if lease.Endpoint == endpoint {
			continue
		}
		kept = append(kept, lease)
	}
	return kept
}

// processAlive probes pid with signal 0. EPERM still means the process
// exists, just owned by someone else.
func processAlive(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = process.Signal(syscall.Signal(0))
	return err == nil || errors.Is(err, syscall.EPERM)
}

// FileStore persists leases as JSON in the quill state directory.
type FileStore struct {
	path string
}

// NewFileStore builds a store at path. The parent directory is created on
// first save.
func NewFileStore(path string) (*FileStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("lease store path must not be empty")
	}
	return &FileStore{path: path}, nil
}

// DefaultStorePath is ~/.quill/leases.json.
func DefaultStorePath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, ".quill", "leases.json"), nil
}

// Load implements Store. A missing file means no leases.
func (s *FileStore) Load(_ context.Context) ([]Lease, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s: %w", s.path, err)
	}
	var leases []Lease
	if err := json.Unmarshal(data, &leases); err != nil {
		return nil, fmt.Errorf("decode %s: %w", s.path, err)
	}
	return leases, nil
}

// Save implements Store.
func (s *FileStore) Save(_ context.Context, leases []Lease) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o750); err != nil {
		return fmt.Errorf("create lease directory: %w", err)
	}
	data, err := json.MarshalIndent(leases, "", "  ")
	if err != nil {
		return fmt.Errorf("encode leases: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", s.path, err)
	}
	return nil
}
