package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownTopic is returned by Decode for topics outside the conntree
// namespace.
var ErrUnknownTopic = errors.New("unknown event topic")

// treeTopicPrefix is shared by every NodeChanged topic.
const treeTopicPrefix = "conntree.tree."

// Message is one event as received from the bus.
type Message struct {
	Topic string
	Data  []byte
}

// Subscriber receives conntree events from the bus.
type Subscriber interface {
	// Subscribe delivers messages whose topic matches pattern. The cancel
	// func unsubscribes and closes the channel.
	Subscribe(pattern string) (<-chan Message, func(), error)
	Close() error
}

// Decode unmarshals m into the event its topic carries, either a
// ConnectionsSaved or a NodeChanged.
func Decode(m Message) (any, error) {
	switch {
	case m.Topic == TopicConnectionsSaved:
		var ev ConnectionsSaved
		if err := json.Unmarshal(m.Data, &ev); err != nil {
			return nil, fmt.Errorf("decode %s: %w", m.Topic, err)
		}
		return ev, nil
	case strings.HasPrefix(m.Topic, treeTopicPrefix):
		var ev NodeChanged
		if err := json.Unmarshal(m.Data, &ev); err != nil {
			return nil, fmt.Errorf("decode %s: %w", m.Topic, err)
		}
		return ev, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownTopic, m.Topic)
}
