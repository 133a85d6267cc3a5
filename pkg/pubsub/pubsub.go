// Package pubsub implements the named-channel message bus that carries
// typed Message envelopes between agents, the dispatcher and the event bus
// reactor. Delivery is at-least-once within a single orchestrator process:
// a slow or reconnecting subscriber may see the same message more than
// once, so every consumer must be idempotent.
package pubsub

import (
	"sync"
	"time"
)

// Type enumerates the message envelope types defined by the agent contract.
// The core only consumes TASK_COMPLETE, TASK_FAILED and LOG_ENTRY; the rest
// are reserved for the agent runtime / HTTP surface.
type Type string

const (
	TaskAssignment        Type = "TASK_ASSIGNMENT"
	TaskCancel            Type = "TASK_CANCEL"
	TaskUpdate            Type = "TASK_UPDATE"
	TaskComplete          Type = "TASK_COMPLETE"
	TaskFailed            Type = "TASK_FAILED"
	CheckpointRequest     Type = "CHECKPOINT_REQUEST"
	LogEntry              Type = "LOG_ENTRY"
	StatusUpdate          Type = "STATUS_UPDATE"
	CheckpointNotification Type = "CHECKPOINT_NOTIFICATION"
	AgentEvent            Type = "AGENT_EVENT"
)

// Channel is the single channel every agent publishes its messages to and
// every consumer (the event bus reactor, the /ws facade) subscribes to.
const Channel = "agents"

// Message is the wire envelope exchanged over every channel.
type Message struct {
	Type      Type           `json:"type"`
	TaskID    string         `json:"task_id,omitempty"`
	AgentID   string         `json:"agent_id,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// New builds a Message stamped with the current time.
func New(typ Type, taskID, agentID string, data map[string]any) Message {
	return Message{Type: typ, TaskID: taskID, AgentID: agentID, Timestamp: time.Now(), Data: data}
}

// Subscription is a handle returned by Subscribe; call Unsubscribe when the
// listener should stop receiving messages.
type Subscription struct {
	bus     *Bus
	channel string
	id      int
}

// Unsubscribe removes the listener from its channel.
func (s *Subscription) Unsubscribe() {
	s.bus.unsubscribe(s.channel, s.id)
}

type subscriber struct {
	id int
	ch chan Message
}

// Bus is an in-process publish/subscribe broker over named channels.
// Each subscriber gets its own buffered channel; a slow subscriber that
// fills its buffer causes Publish to drop the oldest pending message for
// that subscriber rather than block the publisher — this keeps the
// reactor's own publishes from stalling on a lagging HTTP/WS listener.
type Bus struct {
	mu     sync.Mutex
	nextID int
	subs   map[string][]*subscriber
}

// NewBus constructs an empty Bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[string][]*subscriber)}
}

// Subscribe registers a listener on a channel with the given buffer depth.
// Buffer should be large enough to absorb bursts (e.g. activity-log fanout).
func (b *Bus) Subscribe(channel string, buffer int) (<-chan Message, *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := &subscriber{id: b.nextID, ch: make(chan Message, buffer)}
	b.subs[channel] = append(b.subs[channel], sub)
	return sub.ch, &Subscription{bus: b, channel: channel, id: sub.id}
}

func (b *Bus) unsubscribe(channel string, id int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subs[channel]
	for i, s := range subs {
		if s.id == id {
			close(s.ch)
			b.subs[channel] = append(subs[:i], subs[i+1:]...)
			return
		}
	}
}

// Publish delivers msg to every current subscriber of channel. Delivery is
// non-blocking per subscriber: if a subscriber's buffer is full, the oldest
// queued message is dropped to make room rather than stalling the publisher.
func (b *Bus) Publish(channel string, msg Message) {
	b.mu.Lock()
	subs := make([]*subscriber, len(b.subs[channel]))
	copy(subs, b.subs[channel])
	b.mu.Unlock()

	for _, s := range subs {
		select {
		case s.ch <- msg:
		default:
			select {
			case <-s.ch:
			default:
			}
			select {
			case s.ch <- msg:
			default:
			}
		}
	}
}

// Close shuts down every subscriber channel across every topic and forgets
// the subscribers. After Close, Publish finds no subscribers, Subscribe
// registers a fresh one, and Unsubscribe of an earlier Subscription is a no-op.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for channel, subs := range b.subs {
		for _, s := range subs {
			close(s.ch)
		}
		delete(b.subs, channel)
	}
}
