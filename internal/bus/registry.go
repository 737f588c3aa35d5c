package bus

import (
	"runtime"
	"sync"

	"github.com/sourcegraph/conc/pool"

	"github.com/coachpo/typebus/core/events"
)

// Load aggregates bus-wide retention counters. The snapshot is computed on
// demand by scanning the channel index.
type Load struct {
	ChannelCount int    `json:"channel_count"`
	EventCount   int    `json:"event_count"`
	DataSize     uint64 `json:"data_size"`
}

// Registry maintains the canonical mapping from payload type to channel,
// creates channels on demand, and applies bulk reclamation.
type Registry struct {
	mu       sync.RWMutex
	channels map[events.TypeKey]*Channel

	reclaimWorkers int
}

// NewRegistry constructs an empty registry. Bulk reclamation fans out over
// at most workers goroutines; zero or negative selects GOMAXPROCS.
func NewRegistry(workers int) *Registry {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &Registry{
		mu:             sync.RWMutex{},
		channels:       make(map[events.TypeKey]*Channel),
		reclaimWorkers: workers,
	}
}

// GetChannel returns the channel for key, creating it when absent. It never
// returns nil, even for a blocked channel.
func (r *Registry) GetChannel(key events.TypeKey, payloadSize uint64) *Channel {
	r.mu.RLock()
	ch := r.channels[key]
	r.mu.RUnlock()
	if ch != nil {
		return ch
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	// Re-check: another goroutine may have created the channel between the
	// two lock acquisitions.
	if ch := r.channels[key]; ch != nil {
		return ch
	}
	ch = NewChannel(key, payloadSize)
	r.channels[key] = ch
	return ch
}

// Lookup returns the channel for key without creating one.
func (r *Registry) Lookup(key events.TypeKey) *Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.channels[key]
}

// Publish routes ev to the channel for its type key, creating the channel on
// first use. It returns the channel on acceptance and nil when the push was
// rejected.
func (r *Registry) Publish(ev *events.Event) *Channel {
	if ev == nil {
		return nil
	}
	ch := r.GetChannel(ev.Key(), ev.Size())
	if !ch.Push(ev) {
		return nil
	}
	return ch
}

// RemoveChannel closes the channel for key and drops it from the index.
// Events not yet consumed are lost; waiters wake and observe the closure.
func (r *Registry) RemoveChannel(key events.TypeKey) bool {
	r.mu.Lock()
	ch := r.channels[key]
	delete(r.channels, key)
	r.mu.Unlock()
	if ch == nil {
		return false
	}
	ch.Close()
	return true
}

// ChannelCount returns the number of registered channels.
func (r *Registry) ChannelCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.channels)
}

// Load scans every channel and reports the aggregate retention snapshot.
// Channel locks are taken one at a time, after the index lock is released.
func (r *Registry) Load() Load {
	channels := r.snapshot()
	ld := Load{ChannelCount: len(channels), EventCount: 0, DataSize: 0}
	for _, ch := range channels {
		ld.EventCount += ch.EventCount()
		ld.DataSize += ch.DataSize()
	}
	return ld
}

// FreeEvents applies the same retention bound to every channel.
func (r *Registry) FreeEvents(nKeep int) {
	r.fanout(func(ch *Channel) { ch.FreeEvents(nKeep) })
}

// DynamicFree splits maxBytes evenly across the existing channels and trims
// each one to its per-channel share, measured in whole payloads.
func (r *Registry) DynamicFree(maxBytes uint64) {
	channels := r.snapshot()
	if len(channels) == 0 {
		return
	}
	budget := maxBytes / uint64(len(channels))
	p := pool.New().WithMaxGoroutines(r.reclaimWorkers)
	for _, ch := range channels {
		ch := ch
		p.Go(func() {
			size := ch.PayloadSize()
			if size == 0 {
				return
			}
			ch.FreeEvents(int(budget / size))
		})
	}
	p.Wait()
}

// Close closes every channel and clears the index. Used on bus teardown.
func (r *Registry) Close() {
	r.mu.Lock()
	channels := make([]*Channel, 0, len(r.channels))
	for _, ch := range r.channels {
		channels = append(channels, ch)
	}
	r.channels = make(map[events.TypeKey]*Channel)
	r.mu.Unlock()
	for _, ch := range channels {
		ch.Close()
	}
}

func (r *Registry) snapshot() []*Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	channels := make([]*Channel, 0, len(r.channels))
	for _, ch := range r.channels {
		channels = append(channels, ch)
	}
	return channels
}

func (r *Registry) fanout(fn func(*Channel)) {
	channels := r.snapshot()
	if len(channels) == 0 {
		return
	}
	p := pool.New().WithMaxGoroutines(r.reclaimWorkers)
	for _, ch := range channels {
		ch := ch
		p.Go(func() { fn(ch) })
	}
	p.Wait()
}
