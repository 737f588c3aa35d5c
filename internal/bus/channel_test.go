package bus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/coachpo/typebus/core/events"
)

func newIntChannel(t *testing.T) *Channel {
	t.Helper()
	return NewChannel(events.KeyOf[int](), events.SizeOf[int]())
}

func pushInts(t *testing.T, ch *Channel, values ...int) []*events.Event {
	t.Helper()
	out := make([]*events.Event, 0, len(values))
	for _, v := range values {
		ev := events.New(v)
		if !ch.Push(ev) {
			t.Fatalf("push of %d rejected", v)
		}
		out = append(out, ev)
	}
	return out
}

func TestPushAssignsMonotonicIDsAndPositions(t *testing.T) {
	ch := newIntChannel(t)
	evs := pushInts(t, ch, 10, 20, 30)

	for i, ev := range evs {
		if got := ev.ID(); got != events.EventID(i+1) {
			t.Fatalf("event %d id = %d, want %d", i, got, i+1)
		}
		if got := ev.Pos(); got != uint64(i) {
			t.Fatalf("event %d pos = %d, want %d", i, got, i)
		}
	}
	if got := ch.EventCount(); got != 3 {
		t.Fatalf("EventCount = %d, want 3", got)
	}
	if got := ch.DataSize(); got != 3*events.SizeOf[int]() {
		t.Fatalf("DataSize = %d", got)
	}
}

func TestPushRejectsWrongType(t *testing.T) {
	ch := newIntChannel(t)
	if ch.Push(events.New("nope")) {
		t.Fatal("string event must be rejected on an int channel")
	}
	if got := ch.EventCount(); got != 0 {
		t.Fatalf("rejected push must not change state, count = %d", got)
	}
}

func TestPushRejectsSealedEvent(t *testing.T) {
	ch := newIntChannel(t)
	ev := pushInts(t, ch, 1)[0]
	other := NewChannel(events.KeyOf[int](), events.SizeOf[int]())
	if other.Push(ev) {
		t.Fatal("an already admitted event must be rejected")
	}
}

func TestPullLatest(t *testing.T) {
	ch := newIntChannel(t)
	if ch.PullLatest() != nil {
		t.Fatal("empty channel must return nil")
	}
	pushInts(t, ch, 1, 2, 3)
	ev := ch.PullLatest()
	if v, _ := events.Data[int](ev); v != 3 {
		t.Fatalf("PullLatest = %v, want 3", v)
	}
	// Idempotent across same-state calls.
	again := ch.PullLatest()
	if again != ev {
		t.Fatal("repeated PullLatest without a push must return the same event")
	}
}

func TestPullNextWalksInOrder(t *testing.T) {
	ch := newIntChannel(t)
	pushInts(t, ch, 1, 2, 3)

	var got []int
	pos, primed := uint64(0), false
	for {
		ev := ch.PullNext(pos, primed)
		if ev == nil {
			break
		}
		v, _ := events.Data[int](ev)
		got = append(got, v)
		pos, primed = ev.Pos(), true
	}
	if len(got) != 3 || got[0] != 1 || got[1] != 2 || got[2] != 3 {
		t.Fatalf("walk = %v, want [1 2 3]", got)
	}
}

func TestPullNextAtTailReturnsNil(t *testing.T) {
	ch := newIntChannel(t)
	pushInts(t, ch, 1, 2)
	tail := ch.PullLatest().Pos()
	if ch.PullNext(tail, true) != nil {
		t.Fatal("no strict successor of the tail exists")
	}
}

func TestPullNextClampsToRetainedHead(t *testing.T) {
	ch := newIntChannel(t)
	pushInts(t, ch, 1, 2, 3, 4, 5)
	ch.FreeEvents(2) // retain positions 3,4

	if got := ch.Offset(); got != 3 {
		t.Fatalf("Offset = %d, want 3", got)
	}
	// A cursor that last read position 0 was reclaimed past; it must land on
	// the first retained event rather than nil.
	ev := ch.PullNext(0, true)
	if ev == nil {
		t.Fatal("clamped read returned nil")
	}
	if v, _ := events.Data[int](ev); v != 4 {
		t.Fatalf("clamped read = %v, want 4", v)
	}
	// An unprimed cursor also lands on the retained head.
	ev = ch.PullNext(0, false)
	if v, _ := events.Data[int](ev); v != 4 {
		t.Fatalf("unprimed read = %v, want 4", v)
	}
}

func TestFreeEventsKeepsNewestAndAdvancesOffset(t *testing.T) {
	ch := newIntChannel(t)
	pushInts(t, ch, 1, 2, 3, 4)

	ch.FreeEvents(2)
	if got := ch.EventCount(); got != 2 {
		t.Fatalf("EventCount = %d, want 2", got)
	}
	if got := ch.Offset(); got != 2 {
		t.Fatalf("Offset = %d, want 2", got)
	}
	if got := ch.DataSize(); got != 2*events.SizeOf[int]() {
		t.Fatalf("DataSize = %d", got)
	}

	// Repeating with the same bound and no interleaving pushes is a no-op.
	ch.FreeEvents(2)
	if got, off := ch.EventCount(), ch.Offset(); got != 2 || off != 2 {
		t.Fatalf("second FreeEvents changed state: count=%d offset=%d", got, off)
	}

	// A bound at or above the retained count is a no-op too.
	ch.FreeEvents(10)
	if got := ch.EventCount(); got != 2 {
		t.Fatalf("oversized bound changed state, count = %d", got)
	}
}

func TestFreeEventsZeroClearsEverything(t *testing.T) {
	ch := newIntChannel(t)
	pushInts(t, ch, 1, 2, 3)

	ch.FreeEvents(0)
	if got := ch.EventCount(); got != 0 {
		t.Fatalf("EventCount = %d, want 0", got)
	}
	if got := ch.Offset(); got != 3 {
		t.Fatalf("Offset = %d, want 3 (next unused logical position)", got)
	}
	if ch.PullNext(0, false) != nil {
		t.Fatal("cleared channel must serve no reads")
	}

	// The next push is received normally at the next logical position.
	ev := events.New(4)
	if !ch.Push(ev) {
		t.Fatal("push after full reclamation rejected")
	}
	if got := ev.Pos(); got != 3 {
		t.Fatalf("post-reclaim pos = %d, want 3", got)
	}
	next := ch.PullNext(0, false)
	if v, _ := events.Data[int](next); v != 4 {
		t.Fatalf("read after reclamation = %v, want 4", v)
	}
}

func TestCloseDiscardsStateAndRejectsAll(t *testing.T) {
	ch := newIntChannel(t)
	pushInts(t, ch, 1, 2)
	ch.IncreaseListenerCount()

	if got := ch.Close(); got != StatusClosed {
		t.Fatalf("Close = %v", got)
	}
	if ch.Push(events.New(3)) {
		t.Fatal("push on closed channel must fail")
	}
	if ch.PullLatest() != nil || ch.PullNext(0, false) != nil {
		t.Fatal("reads on closed channel must return nil")
	}
	if got := ch.ListenerCount(); got != 0 {
		t.Fatalf("ListenerCount = %d, want 0 after close", got)
	}
	if got := ch.EventCount(); got != 0 {
		t.Fatalf("EventCount = %d, want 0 after close", got)
	}
}

func TestBlockRejectsPushesButNotReads(t *testing.T) {
	ch := newIntChannel(t)
	pushInts(t, ch, 1)

	ch.Block(0)
	if ch.Push(events.New(2)) {
		t.Fatal("push on blocked channel must fail")
	}
	if ch.PullLatest() == nil {
		t.Fatal("reads must remain available while blocked")
	}
	if got := ch.Open(); got != StatusBlocked {
		t.Fatal("Open must not clear a block")
	}

	ch.Unblock(0)
	if got := ch.Status(); got != StatusOpen {
		t.Fatalf("Status = %v after Unblock", got)
	}
	if !ch.Push(events.New(2)) {
		t.Fatal("push after Unblock rejected")
	}
}

func TestUnblockRequiresBlockingPublisher(t *testing.T) {
	ch := newIntChannel(t)
	ch.Block(7)
	if got := ch.Unblock(9); got != StatusBlocked {
		t.Fatal("a different publisher must not lift the block")
	}
	if got := ch.Unblock(7); got != StatusOpen {
		t.Fatal("the blocking publisher must lift the block")
	}
}

func TestWaitNextWakesOnPush(t *testing.T) {
	ch := newIntChannel(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	got := make(chan *events.Event, 1)
	go func() {
		got <- ch.WaitNext(ctx, 0, false)
	}()

	time.Sleep(20 * time.Millisecond)
	pushInts(t, ch, 42)

	select {
	case ev := <-got:
		if v, _ := events.Data[int](ev); v != 42 {
			t.Fatalf("WaitNext = %v, want 42", v)
		}
	case <-time.After(time.Second):
		t.Fatal("WaitNext did not wake on push")
	}
}

func TestWaitNextReturnsNilOnClose(t *testing.T) {
	ch := newIntChannel(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	got := make(chan *events.Event, 1)
	go func() {
		got <- ch.WaitNext(ctx, 0, false)
	}()

	time.Sleep(20 * time.Millisecond)
	ch.Close()

	select {
	case ev := <-got:
		if ev != nil {
			t.Fatalf("WaitNext after close = %v, want nil", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("WaitNext did not wake on close")
	}
}

func TestWaitNextHonoursContext(t *testing.T) {
	ch := newIntChannel(t)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if ev := ch.WaitNext(ctx, 0, false); ev != nil {
		t.Fatalf("cancelled wait = %v, want nil", ev)
	}
}

func TestConcurrentPushesStayOrdered(t *testing.T) {
	ch := newIntChannel(t)
	const n = 200

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < n/4; j++ {
				ch.Push(events.New(j))
			}
		}()
	}
	wg.Wait()

	if got := ch.EventCount(); got != n {
		t.Fatalf("EventCount = %d, want %d", got, n)
	}
	// Ids along the cursor walk must be strictly increasing, positions
	// contiguous.
	pos, primed := uint64(0), false
	lastID := events.EventID(0)
	seen := 0
	for {
		ev := ch.PullNext(pos, primed)
		if ev == nil {
			break
		}
		if ev.ID() <= lastID {
			t.Fatalf("id %d not greater than %d", ev.ID(), lastID)
		}
		if primed && ev.Pos() != pos+1 {
			t.Fatalf("position gap: %d after %d", ev.Pos(), pos)
		}
		lastID, pos, primed = ev.ID(), ev.Pos(), true
		seen++
	}
	if seen != n {
		t.Fatalf("cursor walk saw %d events, want %d", seen, n)
	}
}

func TestListenerCountNeverNegative(t *testing.T) {
	ch := newIntChannel(t)
	ch.DecreaseListenerCount()
	if got := ch.ListenerCount(); got != 0 {
		t.Fatalf("ListenerCount = %d, want 0", got)
	}
	ch.IncreaseListenerCount()
	ch.IncreaseListenerCount()
	ch.DecreaseListenerCount()
	if got := ch.ListenerCount(); got != 1 {
		t.Fatalf("ListenerCount = %d, want 1", got)
	}
}
