package schema

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alfredjeanlab/conntree/internal/store"
)

// Upgrader moves a store from one schema version to the next. Upgrade must
// run its statements and the version stamp in a single transaction.
type Upgrader interface {
	CanUpgrade(current Version) bool
	Upgrade(ctx context.Context) (Version, error)
}

// Migrator applies upgraders in order until none applies.
type Migrator struct {
	latest    Version
	upgraders []Upgrader
	logger    *slog.Logger
}

// NewMigrator creates a migrator. latest is the newest version this build
// understands; upgraders are tried in the order given.
func NewMigrator(latest Version, logger *slog.Logger, upgraders ...Upgrader) *Migrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Migrator{latest: latest, upgraders: upgraders, logger: logger}
}

// Latest returns the newest supported version.
func (m *Migrator) Latest() Version {
	return m.latest
}

// Run upgrades from current and returns the resulting version. A stored
// version newer than Latest fails with store.ErrVersionUnsupported before
// anything is touched. A failed step returns the version reached so far;
// earlier steps stay committed.
func (m *Migrator) Run(ctx context.Context, current Version) (Version, error) {
	if current.Compare(m.latest) > 0 {
		return current, fmt.Errorf("%w: stored %s, newest known %s", store.ErrVersionUnsupported, current, m.latest)
	}

	for {
		u := m.next(current)
		if u == nil {
			return current, nil
		}
		next, err := u.Upgrade(ctx)
		if err != nil {
			m.logger.Error("schema upgrade failed", "from", current.String(), "err", err)
			return current, fmt.Errorf("upgrade from %s: %w", current, err)
		}
		if next.Compare(current) <= 0 {
			return current, fmt.Errorf("upgrade from %s made no progress (got %s)", current, next)
		}
		m.logger.Info("schema upgraded", "from", current.String(), "to", next.String())
		current = next
	}
}

func (m *Migrator) next(current Version) Upgrader {
	for _, u := range m.upgraders {
		if u.CanUpgrade(current) {
			return u
		}
	}
	return nil
}
