package events

import (
	"context"
	"log/slog"
	"time"

	"github.com/alfredjeanlab/conntree/internal/model"
)

// Event topic constants
const (
	// TopicConnectionsSaved is published after a backend save succeeds.
	TopicConnectionsSaved = "conntree.connections.saved"

	TopicNodeAdded           = "conntree.tree.added"
	TopicNodeRemoved         = "conntree.tree.removed"
	TopicNodeMoved           = "conntree.tree.moved"
	TopicTreeReset           = "conntree.tree.reset"
	TopicNodePropertyChanged = "conntree.tree.property_changed"

	// TopicAll matches every conntree event.
	TopicAll = "conntree.>"
)

// Event types

type ConnectionsSaved struct {
	Instance string    `json:"instance"`
	Backend  string    `json:"backend"`
	Location string    `json:"location"`
	Nodes    int       `json:"nodes"`
	SavedAt  time.Time `json:"saved_at"`
}

type NodeChanged struct {
	Instance    string `json:"instance"`
	NodeID      string `json:"node_id"`
	Name        string `json:"name"`
	Kind        string `json:"kind"`
	ParentID    string `json:"parent_id,omitempty"`
	OldParentID string `json:"old_parent_id,omitempty"`
	Property    string `json:"property,omitempty"`
}

// Publisher is the interface for emitting events.
type Publisher interface {
	Publish(ctx context.Context, topic string, event any) error
	Close() error
}

// TopicFor maps a tree change kind to its topic.
func TopicFor(kind model.ChangeKind) string {
	switch kind {
	case model.ChangeAdded:
		return TopicNodeAdded
	case model.ChangeRemoved:
		return TopicNodeRemoved
	case model.ChangeMoved:
		return TopicNodeMoved
	case model.ChangeReset:
		return TopicTreeReset
	}
	return TopicNodePropertyChanged
}

// NodeChangedFrom converts a tree change into its wire form.
func NodeChangedFrom(instance string, c model.Change) NodeChanged {
	ev := NodeChanged{Instance: instance, Property: c.Property}
	if c.Node != nil {
		ev.NodeID = c.Node.ID
		ev.Name = c.Node.Name
		ev.Kind = c.Node.Kind().String()
	}
	if c.Parent != nil {
		ev.ParentID = c.Parent.ID
	}
	if c.OldParent != nil {
		ev.OldParentID = c.OldParent.ID
	}
	return ev
}

// Forward publishes every change on tree to pub until the returned
// function is called. Publish errors are logged, never returned to the
// mutating caller.
func Forward(tree *model.Tree, pub Publisher, instance string, logger *slog.Logger) func() {
	if logger == nil {
		logger = slog.Default()
	}
	return tree.Subscribe(func(c model.Change) {
		topic := TopicFor(c.Kind)
		if err := pub.Publish(context.Background(), topic, NodeChangedFrom(instance, c)); err != nil {
			logger.Warn("publishing tree change failed", "topic", topic, "err", err)
		}
	})
}
