package multiuser

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultInterval is how often the Synchronizer polls its checker.
const DefaultInterval = 3 * time.Second

// Synchronizer polls a Checker and reloads when an update is available.
type Synchronizer struct {
	checker  Checker
	reload   func(ctx context.Context) error
	interval time.Duration
	logger   *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSynchronizer creates a synchronizer. A zero interval means
// DefaultInterval.
func NewSynchronizer(checker Checker, reload func(ctx context.Context) error, interval time.Duration, logger *slog.Logger) *Synchronizer {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Synchronizer{checker: checker, reload: reload, interval: interval, logger: logger}
}

// Start begins polling in the background.
func (s *Synchronizer) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.CheckOnce(ctx)
			}
		}
	}()
}

// Stop cancels polling and waits for an in-flight reload.
func (s *Synchronizer) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

// CheckOnce runs a single check and reloads if needed. It reports whether
// a reload succeeded.
func (s *Synchronizer) CheckOnce(ctx context.Context) bool {
	changed, err := s.checker.UpdateAvailable(ctx)
	if err != nil {
		s.logger.Warn("update check failed", "err", err)
		return false
	}
	if !changed {
		return false
	}
	s.logger.Info("remote connections changed, reloading")
	if err := s.reload(ctx); err != nil {
		s.logger.Error("reload after remote change failed", "err", err)
		return false
	}
	if err := s.checker.Mark(ctx); err != nil {
		s.logger.Warn("marking update failed", "err", err)
	}
	return true
}
