// Package eventbus exposes the public bus surface: bus construction,
// publisher and listener handles, and the generic typed operations on them.
//
// Go methods cannot carry type parameters, so the typed operations are
// package-level functions taking the handle:
//
//	b := eventbus.New()
//	p := b.CreatePublisher()
//	l := b.CreateListener()
//	eventbus.Publish(p, 42)
//	ev := eventbus.Read[int](l)
package eventbus

import (
	"context"
	"sync"

	"github.com/sourcegraph/conc"

	"github.com/coachpo/typebus/core/events"
	"github.com/coachpo/typebus/internal/bus"
	"github.com/coachpo/typebus/internal/observability"
	"github.com/coachpo/typebus/lib/telemetry"
)

// Bus owns a channel registry and hands out publisher and listener handles.
// Each call to New returns an independent bus; buses share nothing.
type Bus struct {
	registry *bus.Registry
	log      observability.Logger
	metrics  *telemetry.BusMetrics

	counterMu    sync.Mutex
	listenerSeq  uint64
	publisherSeq uint64

	closeOnce sync.Once
}

// Option configures a bus at construction.
type Option func(*Bus)

// WithLogger overrides the bus logger.
func WithLogger(l observability.Logger) Option {
	return func(b *Bus) {
		if l != nil {
			b.log = l
		}
	}
}

// WithMetrics attaches publish and retention instruments to the bus.
func WithMetrics(m *telemetry.BusMetrics) Option {
	return func(b *Bus) { b.metrics = m }
}

// WithReclaimWorkers bounds the goroutines used for bulk reclamation.
func WithReclaimWorkers(n int) Option {
	return func(b *Bus) { b.registry = bus.NewRegistry(n) }
}

// New constructs an independent bus.
func New(opts ...Option) *Bus {
	b := &Bus{
		registry:     bus.NewRegistry(0),
		log:          observability.Log(),
		metrics:      nil,
		counterMu:    sync.Mutex{},
		listenerSeq:  0,
		publisherSeq: 0,
		closeOnce:    sync.Once{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

// CreateListener hands out a listener with a fresh id from the bus counter.
func (b *Bus) CreateListener() *Listener {
	b.counterMu.Lock()
	b.listenerSeq++
	id := events.ListenerID(b.listenerSeq)
	b.counterMu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	l := &Listener{
		id:        id,
		registry:  b.registry,
		log:       b.log,
		ctx:       ctx,
		cancel:    cancel,
		mu:        sync.Mutex{},
		cursors:   make(map[events.TypeKey]cursor),
		channels:  make(map[events.TypeKey]*bus.Channel),
		listens:   make(map[events.TypeKey]*listenState),
		wg:        conc.WaitGroup{},
		closeOnce: sync.Once{},
	}
	b.log.Debug("listener created", observability.ListenerField(id))
	return l
}

// CreatePublisher hands out a publisher with a fresh id from the bus counter.
func (b *Bus) CreatePublisher(opts ...PublisherOption) *Publisher {
	b.counterMu.Lock()
	b.publisherSeq++
	id := events.PublisherID(b.publisherSeq)
	b.counterMu.Unlock()

	p := &Publisher{
		id:       id,
		registry: b.registry,
		log:      b.log,
		metrics:  b.metrics,
		limiter:  nil,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	b.log.Debug("publisher created", observability.PublisherField(id))
	return p
}

// Load reports the aggregate retention snapshot across all channels.
func (b *Bus) Load() bus.Load {
	return b.registry.Load()
}

// ChannelCount reports the number of registered channels.
func (b *Bus) ChannelCount() int {
	return b.registry.ChannelCount()
}

// FreeEvents trims every channel down to its newest nKeep events.
func (b *Bus) FreeEvents(nKeep int) {
	b.registry.FreeEvents(nKeep)
}

// DynamicFree splits maxBytes evenly across channels and trims each to its
// share.
func (b *Bus) DynamicFree(maxBytes uint64) {
	b.registry.DynamicFree(maxBytes)
}

// Close closes every channel, waking all waiters. Handles created by the
// bus keep working against the empty registry; their reads return nil.
func (b *Bus) Close() {
	b.closeOnce.Do(func() {
		b.registry.Close()
		b.log.Info("bus closed")
	})
}
