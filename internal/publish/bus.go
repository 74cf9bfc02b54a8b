package publish

import (
	"context"

	"github.com/sells-group/townmap/internal/syncer"
)

// Bus fans notifications out to in-process subscribers, such as
// server-sent event streams. Slow subscribers miss notifications
// instead of stalling the sync cycle.
type Bus struct {
	publish     chan syncer.Notification
	subscribe   chan chan syncer.Notification
	unsubscribe chan chan syncer.Notification
	count       chan chan int
}

// NewBus starts the fan-out goroutine. The goroutine lives for the rest of
// the process; subscribers are pruned by their own contexts.
func NewBus(buffer int) *Bus {
	b := &Bus{
		publish:     make(chan syncer.Notification, buffer),
		subscribe:   make(chan chan syncer.Notification),
		unsubscribe: make(chan chan syncer.Notification),
		count:       make(chan chan int),
	}
	go b.run()
	return b
}

func (b *Bus) Name() string { return "bus" }

// Publish never blocks; it drops n when the bus is saturated.
func (b *Bus) Publish(_ context.Context, n syncer.Notification) error {
	select {
	case b.publish <- n:
	default:
	}
	return nil
}

// Subscribe registers a listener. The returned channel closes when ctx ends.
func (b *Bus) Subscribe(ctx context.Context, buffer int) <-chan syncer.Notification {
	ch := make(chan syncer.Notification, buffer)
	b.subscribe <- ch

	go func() {
		<-ctx.Done()
		b.unsubscribe <- ch
		close(ch)
	}()
	return ch
}

// Subscribers returns the number of active subscriptions.
func (b *Bus) Subscribers() int {
	reply := make(chan int)
	b.count <- reply
	return <-reply
}

func (b *Bus) run() {
	listeners := make(map[chan syncer.Notification]struct{})

	for {
		select {
		case ch := <-b.subscribe:
			listeners[ch] = struct{}{}
		case ch := <-b.unsubscribe:
			delete(listeners, ch)
		case reply := <-b.count:
			reply <- len(listeners)
		case n := <-b.publish:
			for ch := range listeners {
				select {
				case ch <- n:
				default:
				}
			}
		}
	}
}
