package bus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/opensource-finance/harrier/internal/domain"
)

// ChannelBus is the in-process transport used by the Community tier.
// Delivery is fan-out: every subscriber on a subject gets its own copy
// of the message. Each subscriber drains a buffered inbox on a private
// goroutine, so a slow handler cannot stall the publisher or its
// peers. When an inbox is full the message is dropped for that
// subscriber and counted; delivery is best-effort, same as the NATS
// transport.
type ChannelBus struct {
	mu      sync.RWMutex
	subs    map[string][]*chanSub
	buffer  int
	closed  bool
	dropped atomic.Int64
}

type chanSub struct {
	owner   *ChannelBus
	subject string
	topic   string
	inbox   chan *domain.Message
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewChannelBus creates an in-process event bus. Each subscriber gets
// an inbox of the given size.
func NewChannelBus(bufferSize int) *ChannelBus {
	if bufferSize <= 0 {
		bufferSize = 1000
	}
	return &ChannelBus{
		subs:   make(map[string][]*chanSub),
		buffer: bufferSize,
	}
}

// Publish fans a message out to every subscriber on the tenant's
// subject.
func (b *ChannelBus) Publish(ctx context.Context, tenantID string, topic string, payload []byte) error {
	if tenantID == "" {
		return fmt.Errorf("tenantID is required")
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return fmt.Errorf("bus is closed")
	}
	targets := b.subs[subjectFor(tenantID, topic)]
	b.mu.RUnlock()

	msg := envelope(tenantID, topic, payload)
	for _, sub := range targets {
		select {
		case sub.inbox <- msg:
		default:
			b.dropped.Add(1)
			slog.Warn("event dropped, subscriber inbox full",
				"subject", sub.subject,
				"message_id", msg.ID,
			)
		}
	}

	return nil
}

// Subscribe registers a handler for a tenant's topic. The handler runs
// on a dedicated goroutine until the subscription is cancelled.
func (b *ChannelBus) Subscribe(ctx context.Context, tenantID string, topic string, handler domain.MessageHandler) (domain.Subscription, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenantID is required")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, fmt.Errorf("bus is closed")
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &chanSub{
		owner:   b,
		subject: subjectFor(tenantID, topic),
		topic:   topic,
		inbox:   make(chan *domain.Message, b.buffer),
		ctx:     subCtx,
		cancel:  cancel,
	}
	b.subs[sub.subject] = append(b.subs[sub.subject], sub)

	go sub.drain(handler)

	return sub, nil
}

// drain delivers inbox messages to the handler until the subscription
// ends. Handler errors are logged, not redelivered.
func (s *chanSub) drain(handler domain.MessageHandler) {
	for {
		select {
		case <-s.ctx.Done():
			return
		case msg := <-s.inbox:
			if msg == nil {
				continue
			}
			if err := handler(s.ctx, msg); err != nil {
				slog.Error("event handler failed",
					"subject", s.subject,
					"message_id", msg.ID,
					"error", err,
				)
			}
		}
	}
}

// Dropped reports how many messages were discarded because a
// subscriber's inbox was full.
func (b *ChannelBus) Dropped() int64 {
	return b.dropped.Load()
}

// Ping checks bus health.
func (b *ChannelBus) Ping(ctx context.Context) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return fmt.Errorf("bus is closed")
	}
	return nil
}

// Close cancels every subscription and rejects further operations.
func (b *ChannelBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	for _, subs := range b.subs {
		for _, sub := range subs {
			sub.cancel()
		}
	}
	b.subs = make(map[string][]*chanSub)

	return nil
}

// remove detaches a subscription so future publishes skip it.
func (b *ChannelBus) remove(target *chanSub) {
	b.mu.Lock()
	defer b.mu.Unlock()

	list := b.subs[target.subject]
	for i, sub := range list {
		if sub == target {
			b.subs[target.subject] = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	if len(b.subs[target.subject]) == 0 {
		delete(b.subs, target.subject)
	}
}

// Unsubscribe stops delivery and detaches from the bus.
func (s *chanSub) Unsubscribe() error {
	s.cancel()
	s.owner.remove(s)
	return nil
}

// Topic returns the subscribed topic.
func (s *chanSub) Topic() string {
	return s.topic
}
