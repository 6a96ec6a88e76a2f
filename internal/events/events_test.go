package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/alfredjeanlab/conntree/internal/model"
)

func TestNoopPublisher_Publish(t *testing.T) {
	pub := &NoopPublisher{}
	err := pub.Publish(context.Background(), TopicConnectionsSaved, ConnectionsSaved{})
	if err != nil {
		t.Fatalf("NoopPublisher.Publish returned unexpected error: %v", err)
	}
	if err := pub.Close(); err != nil {
		t.Fatalf("NoopPublisher.Close returned unexpected error: %v", err)
	}
}

func TestPublishersImplementPublisher(t *testing.T) {
	var _ Publisher = (*NoopPublisher)(nil)
	var _ Publisher = (*NATSPublisher)(nil)
}

func TestNATSPublisher_PublishSaved(t *testing.T) {
	url := startTestNATS(t)

	pub, err := NewNATSPublisher(url)
	if err != nil {
		t.Fatalf("creating publisher: %v", err)
	}
	defer pub.Close()

	nc, err := nats.Connect(url)
	if err != nil {
		t.Fatalf("connecting subscriber: %v", err)
	}
	defer nc.Close()

	ch := make(chan *nats.Msg, 1)
	sub, err := nc.ChanSubscribe(TopicConnectionsSaved, ch)
	if err != nil {
		t.Fatalf("subscribing: %v", err)
	}
	defer sub.Unsubscribe() //nolint:errcheck
	nc.Flush()

	saved := ConnectionsSaved{Instance: "host-a", Backend: "xml", Location: "/tmp/c.xml", Nodes: 3}
	if err := pub.Publish(context.Background(), TopicConnectionsSaved, saved); err != nil {
		t.Fatalf("Publish error: %v", err)
	}

	select {
	case msg := <-ch:
		var got ConnectionsSaved
		if err := json.Unmarshal(msg.Data, &got); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if got.Instance != "host-a" || got.Nodes != 3 {
			t.Errorf("got %+v, want instance host-a with 3 nodes", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for published message")
	}
}

func TestNATSPublisher_Close(t *testing.T) {
	url := startTestNATS(t)

	pub, err := NewNATSPublisher(url)
	if err != nil {
		t.Fatalf("creating publisher: %v", err)
	}
	if err := pub.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}

	err = pub.Publish(context.Background(), TopicConnectionsSaved, ConnectionsSaved{})
	if err == nil {
		t.Error("expected error publishing after close")
	}
}

func TestTopicFor(t *testing.T) {
	for _, tc := range []struct {
		kind model.ChangeKind
		want string
	}{
		{model.ChangeAdded, TopicNodeAdded},
		{model.ChangeRemoved, TopicNodeRemoved},
		{model.ChangeMoved, TopicNodeMoved},
		{model.ChangeReset, TopicTreeReset},
		{model.ChangePropertyChanged, TopicNodePropertyChanged},
	} {
		if got := TopicFor(tc.kind); got != tc.want {
			t.Errorf("TopicFor(%s) = %q, want %q", tc.kind, got, tc.want)
		}
	}
}

type recordingPublisher struct {
	mu     sync.Mutex
	topics []string
	events []NodeChanged
	err    error
}

func (r *recordingPublisher) Publish(_ context.Context, topic string, event any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.topics = append(r.topics, topic)
	if ev, ok := event.(NodeChanged); ok {
		r.events = append(r.events, ev)
	}
	return r.err
}

func (r *recordingPublisher) Close() error { return nil }

func TestForward(t *testing.T) {
	tree := model.NewTree()
	root := model.NewRoot("Connections", model.RootConnections)
	if err := tree.AddRoot(root); err != nil {
		t.Fatalf("AddRoot: %v", err)
	}
	folder := model.NewContainer("servers")
	if err := root.AddChild(folder); err != nil {
		t.Fatalf("AddChild: %v", err)
	}

	pub := &recordingPublisher{}
	stop := Forward(tree, pub, "host-a", nil)

	conn := model.NewConnection("web01")
	if err := folder.AddChild(conn); err != nil {
		t.Fatalf("AddChild: %v", err)
	}
	tree.Rename(conn, "web02")
	stop()
	tree.Rename(conn, "web03")

	if len(pub.topics) != 2 {
		t.Fatalf("got topics %v, want 2 events before stop", pub.topics)
	}
	if pub.topics[0] != TopicNodeAdded {
		t.Errorf("first topic = %q, want %q", pub.topics[0], TopicNodeAdded)
	}
	added := pub.events[0]
	if added.NodeID != conn.ID || added.ParentID != folder.ID || added.Instance != "host-a" {
		t.Errorf("added event = %+v", added)
	}
	if pub.events[1].Property != "Name" || pub.events[1].Name != "web02" {
		t.Errorf("rename event = %+v", pub.events[1])
	}
}

func TestForward_PublishErrorDoesNotPropagate(t *testing.T) {
	tree := model.NewTree()
	root := model.NewRoot("Connections", model.RootConnections)
	if err := tree.AddRoot(root); err != nil {
		t.Fatalf("AddRoot: %v", err)
	}
	pub := &recordingPublisher{err: errors.New("bus down")}
	defer Forward(tree, pub, "host-a", nil)()

	if err := root.AddChild(model.NewConnection("x")); err != nil {
		t.Fatalf("AddChild should not see publish errors: %v", err)
	}
	if len(pub.topics) != 1 {
		t.Fatalf("got %d publishes, want 1", len(pub.topics))
	}
}
