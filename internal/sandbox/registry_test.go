package sandbox

import (
	"context"
	"sync"
	"testing"
	"time"
)

type fakeDriver struct {
	mu        sync.Mutex
	started   int
	stopped   int
	persisted bool
}

func (f *fakeDriver) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started++
	return nil
}
func (f *fakeDriver) Execute(ctx context.Context, cmd string, timeout time.Duration, stdin string) (*ExecOutput, error) {
	return &ExecOutput{Transcript: "ok"}, nil
}
func (f *fakeDriver) CopyTo(ctx context.Context, local, remote string) error   { return nil }
func (f *fakeDriver) CopyFrom(ctx context.Context, remote, local string) error { return nil }
func (f *fakeDriver) Stop(ctx context.Context, persist bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped++
	f.persisted = persist
	return nil
}
func (f *fakeDriver) Restart(ctx context.Context, persist bool) error { return nil }
func (f *fakeDriver) NotificationsDir() string                       { return "" }
func (f *fakeDriver) ReturnDir() string                              { return "" }

func newFakeFactory(drivers map[Key]*fakeDriver) Factory {
	return func(key Key) (Driver, error) {
		d := &fakeDriver{}
		drivers[key] = d
		return d, nil
	}
}

func TestRegistry_AcquireReusesEntryWhileReferenced(t *testing.T) {
	drivers := make(map[Key]*fakeDriver)
	r := NewRegistry(newFakeFactory(drivers), false)
	key := Key{User: "alice", Session: "s1"}
	ctx := context.Background()

	d1, err := r.Acquire(ctx, key)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	d2, err := r.Acquire(ctx, key)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if d1 != d2 {
		t.Fatal("expected same driver instance across Acquire calls for one key")
	}
	if r.Refcount(key) != 2 {
		t.Fatalf("Refcount = %d, want 2", r.Refcount(key))
	}

	r.Release(ctx, key)
	if r.Refcount(key) != 1 {
		t.Fatalf("Refcount after one Release = %d, want 1", r.Refcount(key))
	}
	fd := drivers[key]
	fd.mu.Lock()
	stopped := fd.stopped
	fd.mu.Unlock()
	if stopped != 0 {
		t.Fatal("driver should not be stopped while refcount > 0")
	}

	r.Release(ctx, key)
	if r.Active() != 0 {
		t.Fatalf("Active = %d, want 0 after last release", r.Active())
	}
	fd.mu.Lock()
	defer fd.mu.Unlock()
	if fd.stopped != 1 {
		t.Fatalf("stopped = %d, want 1", fd.stopped)
	}
	if fd.persisted {
		t.Fatal("expected non-persistent Stop (removal) for persist=false registry")
	}
}

func TestRegistry_PersistStopsRatherThanRemoves(t *testing.T) {
	drivers := make(map[Key]*fakeDriver)
	r := NewRegistry(newFakeFactory(drivers), true)
	key := Key{User: "bob", Session: "s2"}
	ctx := context.Background()

	if _, err := r.Acquire(ctx, key); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	r.Release(ctx, key)

	fd := drivers[key]
	fd.mu.Lock()
	defer fd.mu.Unlock()
	if !fd.persisted {
		t.Fatal("expected persistent Stop for persist=true registry")
	}
}

func TestRegistry_ShutdownAllStopsEverything(t *testing.T) {
	drivers := make(map[Key]*fakeDriver)
	r := NewRegistry(newFakeFactory(drivers), false)
	ctx := context.Background()

	keys := []Key{{User: "a", Session: "1"}, {User: "b", Session: "2"}}
	for _, k := range keys {
		if _, err := r.Acquire(ctx, k); err != nil {
			t.Fatalf("Acquire: %v", err)
		}
	}

	r.ShutdownAll(ctx)
	if r.Active() != 0 {
		t.Fatalf("Active after ShutdownAll = %d, want 0", r.Active())
	}
	for _, k := range keys {
		fd := drivers[k]
		fd.mu.Lock()
		stopped := fd.stopped
		fd.mu.Unlock()
		if stopped != 1 {
			t.Fatalf("driver for %+v stopped = %d, want 1", k, stopped)
		}
	}
}
