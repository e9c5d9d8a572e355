package trigger

import (
	"net/url"
	"sort"
)

// PageView is the read-only page context sampled at init: URL query (for
// override tokens), incoming referrer, and the scroll geometry used to turn
// a percentage rule into an absolute pixel threshold.
type PageView struct {
	Query          url.Values
	Referrer       string
	ScrollHeight   int
	ViewportHeight int
}

// Poster hands a closure to the page view's run loop.
type Poster interface {
	Post(fn func())
}

// Signals fans browser events out to watcher subscriptions. Every
// subscription comes with an explicit cancel handle; one-shot watchers
// cancel themselves the moment they fire, so a listener can never fire
// twice or leak past dismissal.
type Signals struct {
	nextID int
	scroll map[int]func(offset int)
	exit   map[int]func()
}

func NewSignals() *Signals {
	return &Signals{scroll: map[int]func(offset int){}, exit: map[int]func(){}}
}

// OnScroll subscribes to scroll offset updates.
func (s *Signals) OnScroll(fn func(offset int)) (cancel func()) {
	id := s.nextID
	s.nextID++
	s.scroll[id] = fn
	return func() { delete(s.scroll, id) }
}

// OnExitIntentOnce subscribes to the next exit-intent event only; the
// subscription is removed before the handler runs.
func (s *Signals) OnExitIntentOnce(fn func()) (cancel func()) {
	id := s.nextID
	s.nextID++
	s.exit[id] = fn
	return func() { delete(s.exit, id) }
}

// Scroll dispatches a scroll offset to current subscribers.
func (s *Signals) Scroll(offset int) {
	for _, id := range sortedKeys(s.scroll) {
		if fn, ok := s.scroll[id]; ok { // a handler may cancel a peer mid-dispatch
			fn(offset)
		}
	}
}

// ExitIntent dispatches an exit-intent event; all exit subscriptions are
// one-shot and consumed here.
func (s *Signals) ExitIntent() {
	ids := sortedKeys(s.exit)
	for _, id := range ids {
		fn, ok := s.exit[id]
		if !ok {
			continue
		}
		delete(s.exit, id)
		fn()
	}
}

func sortedKeys[V any](m map[int]V) []int {
	out := make([]int, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Ints(out)
	return out
}
