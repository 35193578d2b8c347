// Package notify carries unilateral notifications from roots to connected
// consumers: a bounded fan-out publisher plus the per-client subscription
// registry with pause/resume and response replay.
package notify

import (
	"context"
	"sync"
	"sync/atomic"

	"vigil/internal/buffer"
)

const defaultSubscriberBufferSize = 128

// PublisherOptions configures a Publisher.
type PublisherOptions struct {
	Name                 string
	SubscriberBufferSize int
	MaxSubscribers       int
	HistorySize          int
}

// Publisher is a bounded, non-blocking fan-out bus. Subscribers that fall
// behind lose notifications rather than stall the producer; recent
// notifications are retained in a ring for replay and debugging.
type Publisher[T any] struct {
	mu          sync.Mutex
	subscribers map[uint64]publisherSub[T]
	nextSubID   uint64
	closed      bool
	closeOnce   sync.Once
	options     PublisherOptions
	history     *buffer.Ring[T]
	published   atomic.Uint64
	dropped     atomic.Uint64
}

type publisherSub[T any] struct {
	id     uint64
	ch     chan T
	filter func(T) bool
}

func NewPublisher[T any](ctx context.Context, options PublisherOptions) *Publisher[T] {
	if options.SubscriberBufferSize <= 0 {
		options.SubscriberBufferSize = defaultSubscriberBufferSize
	}
	p := &Publisher[T]{
		subscribers: make(map[uint64]publisherSub[T]),
		options:     options,
	}
	if options.HistorySize > 0 {
		p.history = buffer.NewRing[T](options.HistorySize)
	}
	if ctx != nil {
		if done := ctx.Done(); done != nil {
			go func() {
				<-done
				p.Close()
			}()
		}
	}
	return p
}

func (p *Publisher[T]) Subscribe() (<-chan T, func()) {
	return p.SubscribeFiltered(nil)
}

func (p *Publisher[T]) SubscribeFiltered(filter func(T) bool) (<-chan T, func()) {
	if p == nil {
		ch := make(chan T)
		close(ch)
		return ch, func() {}
	}

	ch := make(chan T, p.options.SubscriberBufferSize)

	p.mu.Lock()
	if p.closed || (p.options.MaxSubscribers > 0 && len(p.subscribers) >= p.options.MaxSubscribers) {
		p.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	p.nextSubID++
	id := p.nextSubID
	p.subscribers[id] = publisherSub[T]{id: id, ch: ch, filter: filter}
	p.mu.Unlock()

	return ch, func() {
		p.removeSubscriber(id)
	}
}

// Publish delivers to every subscriber without blocking; full subscriber
// buffers drop the notification for that subscriber only.
func (p *Publisher[T]) Publish(notification T) {
	if p == nil {
		return
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	if p.history != nil {
		p.history.Add(notification)
	}
	subscribers := make([]publisherSub[T], 0, len(p.subscribers))
	for _, sub := range p.subscribers {
		subscribers = append(subscribers, sub)
	}
	p.mu.Unlock()

	p.published.Add(1)
	for _, sub := range subscribers {
		if sub.filter != nil && !sub.filter(notification) {
			continue
		}
		if !p.safeSend(sub, notification) {
			p.dropped.Add(1)
		}
	}
}

// safeSend delivers without blocking. A subscriber can cancel between the
// snapshot and the send, closing its channel; the recover turns that race
// into a drop instead of a crash.
func (p *Publisher[T]) safeSend(sub publisherSub[T], notification T) (delivered bool) {
	defer func() {
		if recover() != nil {
			delivered = false
		}
	}()
	select {
	case sub.ch <- notification:
		return true
	default:
		return false
	}
}

// History returns the retained notifications, oldest first.
func (p *Publisher[T]) History() []T {
	if p == nil {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.history.List()
}

// Counts reports published and dropped totals.
func (p *Publisher[T]) Counts() (published, dropped uint64) {
	if p == nil {
		return 0, 0
	}
	return p.published.Load(), p.dropped.Load()
}

func (p *Publisher[T]) SubscriberCount() int {
	if p == nil {
		return 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.subscribers)
}

func (p *Publisher[T]) removeSubscriber(id uint64) {
	p.mu.Lock()
	sub, ok := p.subscribers[id]
	if ok {
		delete(p.subscribers, id)
	}
	p.mu.Unlock()
	if ok {
		close(sub.ch)
	}
}

func (p *Publisher[T]) Close() {
	if p == nil {
		return
	}
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		subscribers := p.subscribers
		p.subscribers = make(map[uint64]publisherSub[T])
		p.mu.Unlock()

		for _, sub := range subscribers {
			close(sub.ch)
		}
	})
}
