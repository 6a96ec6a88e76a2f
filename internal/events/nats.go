package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

const (
	// clientName identifies conntree clients in the server's connection list.
	clientName = "conntree"
	// savedFlushTimeout bounds the wait for a save announcement to reach
	// the server when the caller's context has no deadline.
	savedFlushTimeout = 2 * time.Second
	// subscriptionBuffer is the number of unread messages a subscription
	// holds before newer ones are dropped.
	subscriptionBuffer = 64
)

func dial(url string, base, extra []nats.Option) (*nats.Conn, error) {
	opts := append([]nats.Option{nats.Name(clientName)}, base...)
	nc, err := nats.Connect(url, append(opts, extra...)...)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", url, err)
	}
	return nc, nil
}

// NATSPublisher announces tree changes and saves on NATS subjects, one
// JSON document per event.
type NATSPublisher struct {
	conn *nats.Conn
}

// NewNATSPublisher connects to the server at url (CONNTREE_NATS_URL).
func NewNATSPublisher(url string, opts ...nats.Option) (*NATSPublisher, error) {
	nc, err := dial(url, nil, opts)
	if err != nil {
		return nil, err
	}
	return &NATSPublisher{conn: nc}, nil
}

// Publish sends event on topic. Save announcements are flushed before
// returning since other instances reload on them.
func (p *NATSPublisher) Publish(ctx context.Context, topic string, event any) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshaling %s event: %w", topic, err)
	}
	if err := p.conn.Publish(topic, data); err != nil {
		return fmt.Errorf("publishing to %s: %w", topic, err)
	}
	if topic != TopicConnectionsSaved {
		return nil
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, savedFlushTimeout)
		defer cancel()
	}
	return p.conn.FlushWithContext(ctx)
}

func (p *NATSPublisher) Close() error {
	p.conn.Close()
	return nil
}

// NATSSubscriber listens for events published by other conntree
// instances. The connection reconnects indefinitely.
type NATSSubscriber struct {
	conn *nats.Conn
}

// NewNATSSubscriber connects to the server at url. opts are applied after
// the defaults, so handlers such as nats.ReconnectHandler can be added.
func NewNATSSubscriber(url string, opts ...nats.Option) (*NATSSubscriber, error) {
	nc, err := dial(url, []nats.Option{
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	}, opts)
	if err != nil {
		return nil, err
	}
	return &NATSSubscriber{conn: nc}, nil
}

// relay hands NATS messages to a buffered channel without ever blocking
// the client's dispatch goroutine.
type relay struct {
	out     chan Message
	mu      sync.Mutex
	stopped bool
	once    sync.Once
}

func (r *relay) deliver(msg *nats.Msg) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return
	}
	select {
	case r.out <- Message{Topic: msg.Subject, Data: msg.Data}:
	default:
	}
}

// stop discards unread messages and closes out. Safe to call repeatedly.
func (r *relay) stop() {
	r.once.Do(func() {
		r.mu.Lock()
		r.stopped = true
		r.mu.Unlock()
		for {
			select {
			case <-r.out:
			default:
				close(r.out)
				return
			}
		}
	})
}

// Subscribe delivers messages whose subject matches pattern, which may use
// NATS wildcards such as TopicAll. Messages arriving while the channel is
// full are dropped.
func (s *NATSSubscriber) Subscribe(pattern string) (<-chan Message, func(), error) {
	r := &relay{out: make(chan Message, subscriptionBuffer)}
	sub, err := s.conn.Subscribe(pattern, r.deliver)
	if err != nil {
		return nil, nil, fmt.Errorf("subscribing to %s: %w", pattern, err)
	}
	// Wait for the server to register the interest; saves announced right
	// after Subscribe returns must be routed here.
	if err := s.conn.Flush(); err != nil {
		_ = sub.Unsubscribe()
		return nil, nil, fmt.Errorf("registering subscription to %s: %w", pattern, err)
	}
	cancel := func() {
		_ = sub.Unsubscribe()
		r.stop()
	}
	return r.out, cancel, nil
}

func (s *NATSSubscriber) Close() error {
	s.conn.Close()
	return nil
}
