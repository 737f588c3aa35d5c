// Package events defines the canonical event record routed through the bus.
package events

import (
	"reflect"

	"github.com/google/uuid"
)

// EventID identifies an event within its channel. Ids are assigned by the
// admitting channel in strictly increasing push order.
type EventID uint64

// PublisherID identifies the publisher that emitted an event. Zero means
// unset.
type PublisherID uint64

// ListenerID identifies a listener handle created by a bus.
type ListenerID uint64

// TypeKey is the runtime identity of a payload type. It is the sole routing
// key: one channel exists per distinct key.
type TypeKey = reflect.Type

// KeyOf returns the routing key for the static type T.
func KeyOf[T any]() TypeKey {
	return reflect.TypeOf((*T)(nil)).Elem()
}

// SizeOf reports the in-memory size of one payload of type T in bytes. The
// value feeds load accounting only.
func SizeOf[T any]() uint64 {
	return uint64(KeyOf[T]().Size())
}

// Event is an immutable record shared by reference between a channel and its
// listeners. The id and queue position are stamped once by the admitting
// channel; the payload is never mutated after construction.
type Event struct {
	id        EventID
	key       TypeKey
	publisher PublisherID
	pos       uint64
	traceID   string
	payload   any
	size      uint64
	sealed    bool
}

// New constructs an event carrying data. The event has no id or queue
// position until a channel admits it.
func New[T any](data T) *Event {
	return &Event{
		id:        0,
		key:       KeyOf[T](),
		publisher: 0,
		pos:       0,
		traceID:   uuid.NewString(),
		payload:   data,
		size:      SizeOf[T](),
		sealed:    false,
	}
}

// ID returns the channel-assigned event id, zero before admission.
func (e *Event) ID() EventID { return e.id }

// Key returns the payload's routing key.
func (e *Event) Key() TypeKey { return e.key }

// Publisher returns the stamped publisher id, zero when unset.
func (e *Event) Publisher() PublisherID { return e.publisher }

// Pos returns the logical queue position assigned at push time. Positions
// are stable across reclamation.
func (e *Event) Pos() uint64 { return e.pos }

// TraceID returns the correlation id assigned at construction.
func (e *Event) TraceID() string { return e.traceID }

// Size returns the accounted payload size in bytes.
func (e *Event) Size() uint64 { return e.size }

// Sealed reports whether a channel has already admitted this event.
func (e *Event) Sealed() bool { return e.sealed }

// StampPublisher records the emitting publisher. A second stamp is rejected
// and the original id is kept.
func (e *Event) StampPublisher(id PublisherID) bool {
	if e.publisher != 0 {
		return false
	}
	e.publisher = id
	return true
}

// Seal stamps the channel-assigned id and logical position. Channels call
// this inside the push critical section; the event is immutable afterwards.
func (e *Event) Seal(id EventID, pos uint64) {
	e.id = id
	e.pos = pos
	e.sealed = true
}

// Data returns the payload when the event carries type T.
func Data[T any](e *Event) (T, bool) {
	var zero T
	if e == nil || e.key != KeyOf[T]() {
		return zero, false
	}
	v, ok := e.payload.(T)
	if !ok {
		return zero, false
	}
	return v, true
}
