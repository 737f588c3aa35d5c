package eventbus

import (
	"context"

	"golang.org/x/time/rate"

	"github.com/coachpo/typebus/core/events"
	"github.com/coachpo/typebus/internal/bus"
	"github.com/coachpo/typebus/internal/observability"
	"github.com/coachpo/typebus/lib/telemetry"
)

// Publisher emits typed events onto the bus. Publishers hold the registry
// reference and are safe for concurrent use; they are handed out by
// Bus.CreatePublisher and are not copied.
type Publisher struct {
	id       events.PublisherID
	registry *bus.Registry
	log      observability.Logger
	metrics  *telemetry.BusMetrics
	limiter  *rate.Limiter
}

// PublisherOption configures a publisher at creation.
type PublisherOption func(*Publisher)

// WithRateLimit caps the publish rate. Publish blocks until the limiter
// grants a slot.
func WithRateLimit(limit rate.Limit, burst int) PublisherOption {
	return func(p *Publisher) {
		p.limiter = rate.NewLimiter(limit, burst)
	}
}

// ID returns the bus-assigned publisher id.
func (p *Publisher) ID() events.PublisherID { return p.id }

// Publish wraps data in an immutable event stamped with the publisher id and
// routes it to the channel for T, creating the channel on first use. It
// reports whether the channel accepted the push.
func Publish[T any](p *Publisher, data T) bool {
	if p.limiter != nil {
		if err := p.limiter.Wait(context.Background()); err != nil {
			return false
		}
	}
	ev := events.New(data)
	ev.StampPublisher(p.id)
	ch := p.registry.Publish(ev)
	if ch == nil {
		p.metrics.RecordPublish(context.Background(), false)
		p.log.Debug("publish rejected",
			observability.PublisherField(p.id),
			observability.TypeField(ev.Key()))
		return false
	}
	p.metrics.RecordPublish(context.Background(), true)
	return true
}

// CloseChannel closes and removes the channel for T. Listeners blocked on it
// wake and observe the closure; retained events are lost.
func CloseChannel[T any](p *Publisher) bool {
	removed := p.registry.RemoveChannel(events.KeyOf[T]())
	if removed {
		p.log.Info("channel removed",
			observability.PublisherField(p.id),
			observability.TypeField(events.KeyOf[T]()))
	}
	return removed
}

// BlockChannel stops the channel for T from accepting pushes while reads
// stay available. The block is owned by this publisher.
func BlockChannel[T any](p *Publisher) bool {
	ch := p.registry.GetChannel(events.KeyOf[T](), events.SizeOf[T]())
	return ch.Block(p.id) == bus.StatusBlocked
}

// UnblockChannel reopens a channel this publisher blocked. It reports false
// when the channel is not blocked or the block belongs to another publisher.
func UnblockChannel[T any](p *Publisher) bool {
	ch := p.registry.Lookup(events.KeyOf[T]())
	if ch == nil || ch.Status() != bus.StatusBlocked {
		return false
	}
	return ch.Unblock(p.id) == bus.StatusOpen
}
