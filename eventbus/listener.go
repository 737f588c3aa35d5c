package eventbus

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/sourcegraph/conc"

	"github.com/coachpo/typebus/core/events"
	"github.com/coachpo/typebus/internal/bus"
	"github.com/coachpo/typebus/internal/observability"
)

// cursor marks the last logical position a listener consumed from a channel.
// primed distinguishes "never read" from "read position zero".
type cursor struct {
	pos    uint64
	primed bool
}

// Listener consumes events by payload type, tracking an independent cursor
// per type. Listeners hold a strong reference to the registry; the registry
// does not track listeners.
type Listener struct {
	id       events.ListenerID
	registry *bus.Registry
	log      observability.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	cursors  map[events.TypeKey]cursor
	channels map[events.TypeKey]*bus.Channel
	listens  map[events.TypeKey]*listenState

	wg        conc.WaitGroup
	closeOnce sync.Once
}

// ID returns the bus-assigned listener id.
func (l *Listener) ID() events.ListenerID { return l.id }

// Close cancels callback workers, waits for them to drain, and releases the
// listener's registration on every channel it touched.
func (l *Listener) Close() {
	l.closeOnce.Do(func() {
		l.cancel()
		l.wg.Wait()
		l.mu.Lock()
		channels := make([]*bus.Channel, 0, len(l.channels))
		for _, ch := range l.channels {
			channels = append(channels, ch)
		}
		l.channels = make(map[events.TypeKey]*bus.Channel)
		l.mu.Unlock()
		for _, ch := range channels {
			ch.DecreaseListenerCount()
		}
	})
}

// channelFor resolves the channel for T from the listener cache, falling
// back to the registry. A cached channel that has been closed and replaced
// in the registry is swapped for the live one.
func channelFor[T any](l *Listener) *bus.Channel {
	key := events.KeyOf[T]()
	l.mu.Lock()
	ch := l.channels[key]
	l.mu.Unlock()
	if ch != nil && ch.Status() != bus.StatusClosed {
		return ch
	}
	fresh := l.registry.GetChannel(key, events.SizeOf[T]())
	l.mu.Lock()
	defer l.mu.Unlock()
	cached := l.channels[key]
	if cached == fresh {
		return fresh
	}
	if cached != nil {
		// A recreated channel restarts logical positions at zero, so the old
		// cursor would skip its head. The cursor belongs to the dead stream.
		delete(l.cursors, key)
	}
	fresh.IncreaseListenerCount()
	l.channels[key] = fresh
	return fresh
}

func (l *Listener) cursorFor(key events.TypeKey) cursor {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cursors[key]
}

func (l *Listener) advance(key events.TypeKey, ev *events.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	cur := l.cursors[key]
	if !cur.primed || ev.Pos() > cur.pos {
		l.cursors[key] = cursor{pos: ev.Pos(), primed: true}
	}
}

// Read returns the next unread event of type T and advances the listener's
// cursor. It returns nil when no newer event exists or the channel is
// closed. Reclamation past the cursor resumes at the first retained event.
func Read[T any](l *Listener) *events.Event {
	key := events.KeyOf[T]()
	ch := channelFor[T](l)
	cur := l.cursorFor(key)
	ev := ch.PullNext(cur.pos, cur.primed)
	if ev == nil {
		return nil
	}
	l.advance(key, ev)
	return ev
}

// ReadLatest returns the newest retained event of type T without touching
// the cursor. It is a snapshot accessor: repeated calls without an
// intervening push return the same event, and it may skip or repeat events
// relative to Read.
func ReadLatest[T any](l *Listener) *events.Event {
	return channelFor[T](l).PullLatest()
}

// Wait blocks until an unread event of type T arrives, the channel closes,
// or ctx is cancelled; the latter two return nil. Closing the listener also
// unblocks the call.
func Wait[T any](ctx context.Context, l *Listener) *events.Event {
	key := events.KeyOf[T]()
	ch := channelFor[T](l)

	wctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-l.ctx.Done():
			cancel()
		case <-wctx.Done():
		}
	}()

	cur := l.cursorFor(key)
	ev := ch.WaitNext(wctx, cur.pos, cur.primed)
	if ev == nil {
		return nil
	}
	l.advance(key, ev)
	return ev
}

// HasUnread reports whether an event of type T newer than the listener's
// cursor is retained.
func HasUnread[T any](l *Listener) bool {
	key := events.KeyOf[T]()
	ch := channelFor[T](l)
	cur := l.cursorFor(key)
	return ch.PullNext(cur.pos, cur.primed) != nil
}

// listenState serialises callback delivery for one (listener, type) pair.
type listenState struct {
	mu        sync.RWMutex
	callbacks []func(*events.Event)
	sub       *Subscription
}

// Subscription reports the lifetime of callback delivery started by Listen.
type Subscription struct {
	done   chan struct{}
	status atomic.Int32
}

// Done is closed when the delivery worker terminates.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Status returns the channel's terminal state once Done is closed.
func (s *Subscription) Status() bus.Status { return bus.Status(s.status.Load()) }

// Listen registers callback for events of type T. One worker per
// (listener, type) delivers each event to every registered callback in
// registration order; events of the same type are observed in publication
// order. The worker terminates when the channel closes or the listener is
// closed. Calls for the same type share one Subscription.
func Listen[T any](l *Listener, callback func(*events.Event)) *Subscription {
	key := events.KeyOf[T]()
	ch := channelFor[T](l)

	l.mu.Lock()
	st := l.listens[key]
	started := st != nil
	if st == nil {
		st = &listenState{
			mu:        sync.RWMutex{},
			callbacks: nil,
			sub:       &Subscription{done: make(chan struct{}), status: atomic.Int32{}},
		}
		l.listens[key] = st
	}
	l.mu.Unlock()

	st.mu.Lock()
	st.callbacks = append(st.callbacks, callback)
	st.mu.Unlock()

	if !started {
		l.wg.Go(func() { l.runListen(key, ch, st) })
	}
	return st.sub
}

func (l *Listener) runListen(key events.TypeKey, ch *bus.Channel, st *listenState) {
	defer close(st.sub.done)
	for {
		cur := l.cursorFor(key)
		ev := ch.WaitNext(l.ctx, cur.pos, cur.primed)
		if ev == nil {
			st.sub.status.Store(int32(ch.Status()))
			l.log.Debug("listen worker stopped",
				observability.ListenerField(l.id),
				observability.TypeField(key),
				observability.F("status", ch.Status().String()))
			return
		}
		l.advance(key, ev)
		st.mu.RLock()
		callbacks := append(([]func(*events.Event))(nil), st.callbacks...)
		st.mu.RUnlock()
		for _, cb := range callbacks {
			cb(ev)
		}
	}
}
