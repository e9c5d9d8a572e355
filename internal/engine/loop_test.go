package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoop_RunsPostsInOrder(t *testing.T) {
	l := NewLoop()
	defer l.Close()

	var got []int
	for i := 0; i < 10; i++ {
		i := i
		l.Post(func() { got = append(got, i) })
	}

	var snapshot []int
	l.Call(func() { snapshot = append(snapshot, got...) })
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, snapshot)
}

func TestLoop_CallWaits(t *testing.T) {
	l := NewLoop()
	defer l.Close()

	done := false
	l.Call(func() {
		time.Sleep(10 * time.Millisecond)
		done = true
	})
	assert.True(t, done)
}

func TestLoop_PostAfterCloseIsNoOp(t *testing.T) {
	l := NewLoop()
	l.Close()

	l.Post(func() { t.Fatal("must not run") })
	l.Call(func() { t.Fatal("must not run") }) // returns promptly
}

func TestAsyncSink_DeliversAndNeverBlocks(t *testing.T) {
	rec := &recordingSink{}
	s := NewAsyncSink(rec, 4)
	defer s.Close()

	s.Emit(Event{Type: EventShown, AnnouncementID: "a"})
	require.Eventually(t, func() bool {
		return len(rec.byType(EventShown)) == 1
	}, time.Second, time.Millisecond)

	// Overflow is dropped, not blocked on.
	blocked := make(chan struct{})
	slow := &gateSink{gate: blocked}
	s2 := NewAsyncSink(slow, 1)
	for i := 0; i < 50; i++ {
		s2.Emit(Event{Type: EventShown})
	}
	close(blocked)
	s2.Close()
}

func TestAsyncSink_EmitAfterCloseDoesNotPanic(t *testing.T) {
	rec := &recordingSink{}
	s := NewAsyncSink(rec, 4)
	s.Emit(Event{Type: EventShown})
	s.Close()
	s.Close()

	// A settle timer can still fire after shutdown has begun; the late
	// event is buffered or dropped, never sent on a closed channel.
	for i := 0; i < 10; i++ {
		s.Emit(Event{Type: EventDismissed})
	}

	require.Eventually(t, func() bool {
		return len(rec.byType(EventShown)) == 1
	}, time.Second, time.Millisecond)
}

type gateSink struct{ gate chan struct{} }

func (g *gateSink) Emit(Event) { <-g.gate }
