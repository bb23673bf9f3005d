// Package event provides the daemon-wide conversation event bus using watermill.
package event

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/yabot-dev/yabot/pkg/types"
)

// Topic carries every conversation event published by the session registry.
const Topic = "yabot.conversation.events"

// Bus fans conversation events out to observers (SSE streams, tests).
//
// Publishing blocks until every subscriber has acknowledged the message.
// Subscribers acknowledge as soon as the event is queued locally, so a
// publisher holding a conversation lock only waits for a queue append and
// per-conversation order is preserved end to end.
type Bus struct {
	mu     sync.RWMutex
	pubsub *gochannel.GoChannel
	closed bool
}

// NewBus creates a new event bus backed by a watermill GoChannel.
func NewBus() *Bus {
	return &Bus{
		pubsub: gochannel.NewGoChannel(
			gochannel.Config{
				OutputChannelBuffer:            64,
				Persistent:                     false,
				BlockPublishUntilSubscriberAck: true,
			},
			watermill.NopLogger{},
		),
	}
}

// Publish sends an event to all current subscribers.
func (b *Bus) Publish(ev types.Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	msg := message.NewMessage(watermill.NewULID(), payload)
	msg.Metadata.Set("type", string(ev.Type))
	msg.Metadata.Set("conv_id", ev.ConvID)
	return b.pubsub.Publish(Topic, msg)
}

// Filter selects the events a subscription receives. A nil Filter accepts all.
type Filter func(ev types.Event) bool

// ForConversation returns a filter matching one conversation.
func ForConversation(convID string) Filter {
	return func(ev types.Event) bool { return ev.ConvID == convID }
}

// Subscription delivers events in publish order until closed.
type Subscription struct {
	C      <-chan types.Event
	cancel context.CancelFunc
	done   chan struct{}
}

// Close stops the subscription and waits for its goroutines to exit.
func (s *Subscription) Close() {
	s.cancel()
	<-s.done
}

// Subscribe registers an observer. Events are decoded, filtered, and queued
// without bound before delivery on C.
func (b *Bus) Subscribe(ctx context.Context, filter Filter) (*Subscription, error) {
	b.mu.RLock()
	closed := b.closed
	b.mu.RUnlock()
	if closed {
		return nil, fmt.Errorf("event bus closed")
	}

	ctx, cancel := context.WithCancel(ctx)
	messages, err := b.pubsub.Subscribe(ctx, Topic)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("subscribe: %w", err)
	}

	queue := NewQueue[types.Event]()
	out := make(chan types.Event)
	done := make(chan struct{})

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		defer queue.Close()
		for msg := range messages {
			var ev types.Event
			if err := json.Unmarshal(msg.Payload, &ev); err == nil && (filter == nil || filter(ev)) {
				queue.Push(ev)
			}
			msg.Ack()
		}
	}()
	go func() {
		defer wg.Done()
		defer close(out)
		for {
			ev, ok := queue.Pop(ctx)
			if !ok {
				return
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	go func() {
		wg.Wait()
		close(done)
	}()

	return &Subscription{C: out, cancel: cancel, done: done}, nil
}

// Close closes the bus and all its subscriptions.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()
	return b.pubsub.Close()
}
