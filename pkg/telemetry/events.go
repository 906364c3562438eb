package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ticketbridge/ticketbridge/pkg/engine"
)

// EventBus is a buffered publisher for engine events. It implements
// engine.EventPublisher and fans events out to channel subscribers.
type EventBus struct {
	config EventsConfig

	mu          sync.RWMutex
	buffer      chan engine.Event
	subscribers map[string]*subscription
	closed      bool

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

type subscription struct {
	filter engine.EventFilter
	ch     chan engine.Event
}

// NewEventBus creates a new event bus with the given configuration.
// When disabled, Publish is a no-op.
func NewEventBus(cfg EventsConfig) (*EventBus, error) {
	bus := &EventBus{
		config:      cfg,
		subscribers: make(map[string]*subscription),
	}

	if !cfg.Enabled {
		return bus, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	bus.ctx = ctx
	bus.cancel = cancel
	bus.buffer = make(chan engine.Event, cfg.BufferSize)

	bus.wg.Add(1)
	go bus.dispatch()

	return bus, nil
}

// Publish publishes an event. The event is buffered; a full buffer drops
// the event rather than blocking a run.
func (b *EventBus) Publish(ctx context.Context, event *engine.Event) error {
	if !b.config.Enabled {
		return nil
	}

	b.mu.RLock()
	closed := b.closed
	b.mu.RUnlock()
	if closed {
		return fmt.Errorf("event bus closed")
	}

	e := *event
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	select {
	case b.buffer <- e:
		return nil
	default:
		return fmt.Errorf("event buffer full, event dropped")
	}
}

// Subscribe returns a channel receiving events matching the filter. The
// channel is closed when the bus shuts down.
func (b *EventBus) Subscribe(ctx context.Context, filter engine.EventFilter) (<-chan engine.Event, error) {
	if !b.config.Enabled {
		return nil, fmt.Errorf("event bus disabled")
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, fmt.Errorf("event bus closed")
	}

	sub := &subscription{
		filter: filter,
		ch:     make(chan engine.Event, 64),
	}
	b.subscribers[uuid.New().String()] = sub
	return sub.ch, nil
}

// Close stops the bus, flushes buffered events, and closes subscriber
// channels.
func (b *EventBus) Close() error {
	if !b.config.Enabled {
		return nil
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	b.cancel()
	b.wg.Wait()

	b.mu.Lock()
	defer b.mu.Unlock()
	for id, sub := range b.subscribers {
		close(sub.ch)
		delete(b.subscribers, id)
	}
	return nil
}

// dispatch delivers buffered events to matching subscribers.
func (b *EventBus) dispatch() {
	defer b.wg.Done()

	for {
		select {
		case event := <-b.buffer:
			b.deliver(event)
		case <-b.ctx.Done():
			// drain what is left
			for {
				select {
				case event := <-b.buffer:
					b.deliver(event)
				default:
					return
				}
			}
		}
	}
}

// deliver fans an event out to matching subscribers. Slow subscribers
// lose events rather than stalling the bus.
func (b *EventBus) deliver(event engine.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subscribers {
		if !matches(sub.filter, event) {
			continue
		}
		select {
		case sub.ch <- event:
		default:
		}
	}
}

// matches reports whether the event passes the filter.
func matches(filter engine.EventFilter, event engine.Event) bool {
	if filter.RunID != "" && filter.RunID != event.RunID {
		return false
	}
	if filter.ResourceID != "" && filter.ResourceID != event.ResourceID {
		return false
	}
	if len(filter.Types) > 0 {
		ok := false
		for _, t := range filter.Types {
			if t == event.Type {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	return true
}
