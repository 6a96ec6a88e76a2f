// Package sync mirrors saved connection documents to off-site
// destinations.
package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Destination is the interface for a mirror target (S3, git, etc.).
type Destination interface {
	// Write replaces the mirrored copy with data.
	Write(ctx context.Context, data []byte) error
}

// Mirror fans a document out to every destination. It satisfies the
// XML store's mirror hook.
type Mirror struct {
	destinations []Destination
	logger       *slog.Logger
}

// NewMirror creates a mirror over destinations.
func NewMirror(logger *slog.Logger, destinations ...Destination) *Mirror {
	if logger == nil {
		logger = slog.Default()
	}
	return &Mirror{destinations: destinations, logger: logger}
}

// Len returns the number of destinations.
func (m *Mirror) Len() int { return len(m.destinations) }

// Write sends data to every destination. All destinations are attempted;
// the failures are joined.
func (m *Mirror) Write(ctx context.Context, data []byte) error {
	var errs []error
	for i, dest := range m.destinations {
		if err := dest.Write(ctx, data); err != nil {
			name := fmt.Sprint(i)
			if s, ok := dest.(fmt.Stringer); ok {
				name = s.String()
			}
			m.logger.Error("mirror destination write failed", "destination", name, "err", err)
			errs = append(errs, err)
		}
	}
	if len(errs) == 0 {
		m.logger.Info("mirror completed", "destinations", len(m.destinations), "bytes", len(data))
	}
	return errors.Join(errs...)
}

// Snapshot produces the document to mirror.
type Snapshot func(ctx context.Context) ([]byte, error)

// Scheduler mirrors a snapshot at a fixed interval. It covers backends
// that have no document of their own, such as the SQL store.
type Scheduler struct {
	snapshot Snapshot
	mirror   *Mirror
	interval time.Duration
	logger   *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler creates a scheduler that mirrors snapshot to m at the
// specified interval.
func NewScheduler(snapshot Snapshot, m *Mirror, interval time.Duration, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		snapshot: snapshot,
		mirror:   m,
		interval: interval,
		logger:   logger,
	}
}

// Start begins periodic mirroring. It runs once immediately, then on
// each tick.
func (s *Scheduler) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(ctx)
	}()
}

// Stop cancels the scheduler and waits for the current run (if any) to finish.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *Scheduler) run(ctx context.Context) {
	s.syncOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.syncOnce(ctx)
		}
	}
}

func (s *Scheduler) syncOnce(ctx context.Context) {
	data, err := s.snapshot(ctx)
	if err != nil {
		s.logger.Error("mirror snapshot failed", "err", err)
		return
	}
	// Failures are already logged per destination.
	_ = s.mirror.Write(ctx, data)
}
