package locks

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

type memoryStore struct {
	mu     sync.Mutex
	leases []Lease
}

func (s *memoryStore) Load(_ context.Context) ([]Lease, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Lease(nil), s.leases...), nil
}

func (s *memoryStore) Save(_ context.Context, leases []Lease) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.leases = append([]Lease(nil), leases...)
	return nil
}

func newTestManager(t *testing.T) (*Manager, *memoryStore) {
	t.Helper()
	store := &memoryStore{}
	manager, err := NewManager(store, ManagerConfig{ExpiryTimeout: time.Hour})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	manager.alive = func(int) bool { return true }
	return manager, store
}

func TestAcquireAndRelease(t *testing.T) {
	manager, _ := newTestManager(t)

	if err := manager.Acquire("127.0.0.1:8765", 100); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	lease, held, err := manager.Holder("127.0.0.1:8765")
	if err != nil || !held {
		t.Fatalf("holder = %v, %v", held, err)
	}
	if lease.PID != 100 {
		t.Fatalf("lease pid = %d", lease.PID)
	}

	if err := manager.Release("127.0.0.1:8765"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, held, _ := manager.Holder("127.0.0.1:8765"); held {
		t.Fatal("lease should be gone after release")
	}
}

func TestAcquireConflictsAcrossProcesses(t *testing.T) {
	manager, _ := newTestManager(t)

	if err := manager.Acquire("127.0.0.1:8765", 100); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	err := manager.Acquire("127.0.0.1:8765", 200)
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("second acquire = %v, want ErrConflict", err)
	}
	if err := manager.Acquire("127.0.0.1:9000", 200); err != nil {
		t.Fatalf("different endpoint should not conflict: %v", err)
	}
}

func TestReacquireRefreshesOwnLease(t *testing.T) {
	manager, store := newTestManager(t)

	if err := manager.Acquire("127.0.0.1:8765", 100); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if err := manager.Acquire("127.0.0.1:8765", 100); err != nil {
		t.Fatalf("re-acquire by owner: %v", err)
	}
	leases, _ := store.Load(context.Background())
	if len(leases) != 1 {
		t.Fatalf("have %d leases, want 1", len(leases))
	}
}

func TestExpiredLeaseDoesNotConflict(t *testing.T) {
	manager, _ := newTestManager(t)

	base := time.Now()
	manager.now = func() time.Time { return base }
	if err := manager.Acquire("127.0.0.1:8765", 100); err != nil {
		t.Fatalf("acquire: %v", err)
	}

	manager.now = func() time.Time { return base.Add(2 * time.Hour) }
	if err := manager.Acquire("127.0.0.1:8765", 200); err != nil {
		t.Fatalf("acquire after expiry: %v", err)
	}
}

func TestDeadOwnerLeaseDoesNotConflict(t *testing.T) {
	manager, _ := newTestManager(t)

	if err := manager.Acquire("127.0.0.1:8765", 100); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	manager.alive = func(pid int) bool { return pid != 100 }
	if err := manager.Acquire("127.0.0.1:8765", 200); err != nil {
		t.Fatalf("acquire after owner died: %v", err)
	}
}

func TestFileStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "leases.json")
	store, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	loaded, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("load missing file: %v", err)
	}
	if len(loaded) != 0 {
		t.Fatalf("missing file yielded %d leases", len(loaded))
	}

	want := []Lease{{Endpoint: "127.0.0.1:8765", PID: 42, AcquiredAt: time.Now().UTC()}}
	if err := store.Save(context.Background(), want); err != nil {
		t.Fatalf("save: %v", err)
	}
	loaded, err = store.Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(loaded) != 1 || loaded[0].Endpoint != want[0].Endpoint || loaded[0].PID != 42 {
		t.Fatalf("loaded = %+v", loaded)
	}
}

func TestFileStoreRejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "leases.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	store, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if _, err := store.Load(context.Background()); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestNewManagerValidation(t *testing.T) {
	if _, err := NewManager(nil, ManagerConfig{}); err == nil {
		t.Fatal("expected error for nil store")
	}
}
