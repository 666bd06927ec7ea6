// Package eventbus implements the process-local pub/sub fabric that the
// controller loop (internal/controller) and the audit subscriber
// (pkg/audit) wake on. Every published event carries a correlation ID
// used throughout the request path for structured tracing.
package eventbus

import (
	"context"
	"log/slog"
	"sync"
)

// Kind identifies the entity a ChangeEvent describes.
type Kind string

const (
	KindPack    Kind = "pack"
	KindNode    Kind = "node"
	KindPod     Kind = "pod"
	KindService Kind = "service"
	KindPolicy  Kind = "policy"
)

// Action identifies what happened to the entity.
type Action string

const (
	ActionCreated    Action = "created"
	ActionUpdated    Action = "updated"
	ActionDeleted    Action = "deleted"
	ActionTransition Action = "transition"
)

// ChangeEvent is published by the Store Gateway on every write and consumed
// by the controller loop and the audit subscriber.
type ChangeEvent struct {
	CorrelationID string
	Kind          Kind
	Action        Action
	ResourceID    string
	Namespace     string
	Detail        any
}

// Topic scopes a subscription to a single entity Kind. An empty Kind
// subscribes to every event published on the bus.
type Topic struct {
	Kind Kind
}

const subscriberBuffer = 64

type subscriber struct {
	topic Topic
	ch    chan ChangeEvent
}

// Bus is an in-process publish/subscribe fan-out. A single Bus is shared by
// every component in a process; cross-process fan-out (multiple control
// plane replicas) is layered on top via Redis pub/sub in NewRedisRelay.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[int]*subscriber
	nextID      int
	logger      *slog.Logger
}

// New creates an empty Bus.
func New(logger *slog.Logger) *Bus {
	return &Bus{
		subscribers: make(map[int]*subscriber),
		logger:      logger,
	}
}

// Subscribe registers interest in events matching topic and returns a
// channel of matching events plus an unsubscribe function. The channel is
// closed when the unsubscribe function is called; a caller that stops
// draining it loses events once its buffer is full, since Publish drops
// rather than blocks.
func (b *Bus) Subscribe(topic Topic) (<-chan ChangeEvent, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	sub := &subscriber{topic: topic, ch: make(chan ChangeEvent, subscriberBuffer)}
	b.subscribers[id] = sub

	unsubscribe := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if s, ok := b.subscribers[id]; ok {
			delete(b.subscribers, id)
			close(s.ch)
		}
	}
	return sub.ch, unsubscribe
}

// Publish fans ev out to every subscriber whose topic matches. Publish never
// blocks on a slow subscriber: a full subscriber buffer drops the event and
// logs a warning.
func (b *Bus) Publish(ctx context.Context, ev ChangeEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subscribers {
		if sub.topic.Kind != "" && sub.topic.Kind != ev.Kind {
			continue
		}
		select {
		case sub.ch <- ev:
		case <-ctx.Done():
			return
		default:
			b.logger.Warn("eventbus subscriber buffer full, dropping event",
				"kind", ev.Kind, "action", ev.Action, "resourceId", ev.ResourceID)
		}
	}
}
