// Package events is the in-process broadcast bus. Writers enqueue events
// without blocking; a single worker delivers them to topic subscribers.
package events

import (
	"context"
	"fmt"
	"sync"

	"github.com/orgware/owconnect/internal/logging"
)

// Topics.
const (
	cacheCleanPrefix = "cache.clean."
	GraphQLPublish   = "graphql.publish"
)

// CacheClean returns the invalidation topic of collection.
func CacheClean(collection string) string {
	return cacheCleanPrefix + collection
}

// Event is one broadcast message.
type Event struct {
	Topic   string
	Payload any
}

// Publication is the payload of GraphQLPublish events.
type Publication struct {
	Tag  string `json:"tag"`
	Code string `json:"code,omitempty"`
}

type Handler func(ctx context.Context, e Event)

// Bus delivers events asynchronously and at least once to the subscribers
// registered at delivery time. There is no ordering guarantee across topics.
type Bus struct {
	mu     sync.RWMutex
	subs   map[string]map[int]Handler
	nextID int

	queue    chan Event
	done     chan struct{}
	stopOnce sync.Once
	started  sync.Once
	wg       sync.WaitGroup

	logger logging.Logger
}

// NewBus creates a bus whose outbound queue holds size events.
func NewBus(l logging.Logger, size int) *Bus {
	if size <= 0 {
		size = 1
	}
	return &Bus{
		subs:   make(map[string]map[int]Handler),
		queue:  make(chan Event, size),
		done:   make(chan struct{}),
		logger: l.With("module", "events"),
	}
}

// Subscribe registers h for topic and returns a function that removes it.
func (b *Bus) Subscribe(topic string, h Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[int]Handler)
	}
	b.subs[topic][id] = h

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs[topic], id)
	}
}

// Publish enqueues an event. It never blocks the caller: when the queue is
// full the hand-off continues on a separate goroutine.
func (b *Bus) Publish(ctx context.Context, topic string, payload any) {
	e := Event{Topic: topic, Payload: payload}

	select {
	case <-b.done:
		b.logger.Warn(ctx, "bus stopped, event dropped", "topic", topic)
		return
	default:
	}

	select {
	case b.queue <- e:
	default:
		go func() {
			select {
			case b.queue <- e:
			case <-b.done:
				b.logger.Warn(context.Background(), "bus stopped, event dropped", "topic", topic)
			}
		}()
	}
}

// Start launches the delivery worker. It stops when ctx is done or Stop is called.
func (b *Bus) Start(ctx context.Context) {
	b.started.Do(func() {
		b.wg.Add(1)
		go b.run(context.WithoutCancel(ctx))

		go func() {
			select {
			case <-ctx.Done():
				b.Stop()
			case <-b.done:
			}
		}()
	})
}

// Stop delivers what is already queued and waits for the worker to exit.
func (b *Bus) Stop() {
	b.stopOnce.Do(func() { close(b.done) })
	b.wg.Wait()
}

func (b *Bus) run(ctx context.Context) {
	defer b.wg.Done()
	for {
		select {
		case e := <-b.queue:
			b.dispatch(ctx, e)
		case <-b.done:
			for {
				select {
				case e := <-b.queue:
					b.dispatch(ctx, e)
				default:
					return
				}
			}
		}
	}
}

func (b *Bus) dispatch(ctx context.Context, e Event) {
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.subs[e.Topic]))
	for _, h := range b.subs[e.Topic] {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		b.deliver(ctx, h, e)
	}
}

func (b *Bus) deliver(ctx context.Context, h Handler, e Event) {
	defer func() {
		if p := recover(); p != nil {
			b.logger.Error(ctx, "event handler panicked", "topic", e.Topic, "panic", fmt.Sprint(p))
		}
	}()
	h(ctx, e)
}
