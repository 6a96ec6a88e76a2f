package sync

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync/atomic"
	"testing"
	"time"
)

// mockDestination records calls to Write.
type mockDestination struct {
	writes atomic.Int64
	last   atomic.Value // []byte
	err    error
}

func (d *mockDestination) Write(_ context.Context, data []byte) error {
	d.writes.Add(1)
	cp := make([]byte, len(data))
	copy(cp, data)
	d.last.Store(cp)
	return d.err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, nil))
}

func TestMirrorWritesEveryDestination(t *testing.T) {
	failing := &mockDestination{err: errors.New("bucket gone")}
	ok := &mockDestination{}
	m := NewMirror(testLogger(), failing, ok)

	err := m.Write(context.Background(), []byte("<Connections/>"))
	if !errors.Is(err, failing.err) {
		t.Fatalf("Write error = %v, want %v", err, failing.err)
	}
	if ok.writes.Load() != 1 {
		t.Fatal("a failing destination must not stop the others")
	}
	if got, _ := ok.last.Load().([]byte); string(got) != "<Connections/>" {
		t.Fatalf("mirrored %q", got)
	}
	if m.Len() != 2 {
		t.Fatalf("Len = %d, want 2", m.Len())
	}
}

func TestMirrorNoDestinations(t *testing.T) {
	if err := NewMirror(nil).Write(context.Background(), []byte("x")); err != nil {
		t.Fatalf("empty mirror: %v", err)
	}
}

func TestSchedulerStartStop(t *testing.T) {
	var snapshots atomic.Int64
	snapshot := func(context.Context) ([]byte, error) {
		snapshots.Add(1)
		return []byte(`<Connections Name="Connections"/>`), nil
	}
	dest := &mockDestination{}

	sched := NewScheduler(snapshot, NewMirror(testLogger(), dest), 50*time.Millisecond, testLogger())
	sched.Start()

	// Initial run plus at least one tick.
	time.Sleep(120 * time.Millisecond)
	sched.Stop()

	if writes := dest.writes.Load(); writes < 2 {
		t.Fatalf("expected at least 2 writes, got %d", writes)
	}
	if snapshots.Load() != dest.writes.Load() {
		t.Fatalf("snapshots %d != writes %d", snapshots.Load(), dest.writes.Load())
	}
}

func TestSchedulerStop_NoStart(t *testing.T) {
	sched := NewScheduler(nil, NewMirror(nil), time.Minute, testLogger())
	sched.Stop()
}

func TestSchedulerSnapshotFailureSkipsWrite(t *testing.T) {
	snapshot := func(context.Context) ([]byte, error) {
		return nil, errors.New("database unavailable")
	}
	dest := &mockDestination{}

	sched := NewScheduler(snapshot, NewMirror(testLogger(), dest), time.Second, testLogger())
	sched.Start()
	time.Sleep(50 * time.Millisecond)
	sched.Stop()

	if dest.writes.Load() != 0 {
		t.Fatalf("expected no writes, got %d", dest.writes.Load())
	}
}
