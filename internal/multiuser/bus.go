package multiuser

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/alfredjeanlab/conntree/internal/events"
)

// BusChecker reports an update when another instance publishes a
// connections-saved event. Events from this instance are ignored.
type BusChecker struct {
	instance string
	pending  atomic.Bool
	cancel   func()
	logger   *slog.Logger
}

// NewBusChecker subscribes to the saved topic on sub.
func NewBusChecker(sub events.Subscriber, instance string, logger *slog.Logger) (*BusChecker, error) {
	if logger == nil {
		logger = slog.Default()
	}
	ch, cancel, err := sub.Subscribe(events.TopicConnectionsSaved)
	if err != nil {
		return nil, err
	}
	c := &BusChecker{instance: instance, cancel: cancel, logger: logger}
	go c.consume(ch)
	return c, nil
}

func (c *BusChecker) consume(ch <-chan events.Message) {
	for msg := range ch {
		decoded, err := events.Decode(msg)
		if err != nil {
			c.logger.Warn("ignoring malformed saved event", "err", err)
			continue
		}
		ev, ok := decoded.(events.ConnectionsSaved)
		if !ok {
			continue
		}
		if ev.Instance == c.instance {
			continue
		}
		c.logger.Debug("remote save observed", "instance", ev.Instance, "location", ev.Location)
		c.pending.Store(true)
	}
}

func (c *BusChecker) UpdateAvailable(context.Context) (bool, error) {
	return c.pending.Load(), nil
}

func (c *BusChecker) Mark(context.Context) error {
	c.pending.Store(false)
	return nil
}

// Close unsubscribes.
func (c *BusChecker) Close() error {
	c.cancel()
	return nil
}
