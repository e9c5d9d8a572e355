package schedule

import (
	"slices"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"announcement-engine/internal/announce"
)

// SettleDelay separates two consecutive presentations. Purely cosmetic:
// it keeps the next announcement from flashing in the instant the previous
// one closes.
const SettleDelay = 300 * time.Millisecond

// Candidate is an announcement whose enabled rules are all satisfied.
// Stale re-checks dismissal at release time; it reflects the enqueue path,
// so an override candidate only goes stale on an in-view dismissal.
type Candidate struct {
	Announcement *announce.Announcement
	Stale        func() bool

	seq int
}

// Presenter renders the chosen announcement. The engine only ever holds one
// presentation open at a time; a Present error is treated as an implicit
// dismissal so the queue keeps draining.
type Presenter interface {
	Present(a *announce.Announcement) error
}

// Poster hands a closure to the page view's run loop.
type Poster interface {
	Post(fn func())
}

// Scheduler holds ready candidates in a priority-ordered waiting set and
// releases at most one at a time. All methods must run on the page view's
// loop; the settle timer posts back into it.
type Scheduler struct {
	presenter Presenter
	clock     clockwork.Clock
	post      Poster
	settle    time.Duration
	log       zerolog.Logger

	waiting []*Candidate
	nextSeq int
	current *Candidate
	busy    bool

	// OnShown is invoked after a successful presentation; OnDropped when a
	// candidate is released invalid or fails to render.
	OnShown   func(id string)
	OnDropped func(id string)
}

func NewScheduler(p Presenter, clock clockwork.Clock, post Poster, settle time.Duration, log zerolog.Logger) *Scheduler {
	if settle <= 0 {
		settle = SettleDelay
	}
	return &Scheduler{presenter: p, clock: clock, post: post, settle: settle, log: log}
}

// Enqueue inserts a candidate, idempotent by announcement id, and schedules
// a drain at the end of the current loop turn if nothing is shown.
func (s *Scheduler) Enqueue(c *Candidate) {
	id := c.Announcement.ID
	if s.current != nil && s.current.Announcement.ID == id {
		return
	}
	for _, w := range s.waiting {
		if w.Announcement.ID == id {
			return
		}
	}
	c.seq = s.nextSeq
	s.nextSeq++
	s.waiting = append(s.waiting, c)
	slices.SortStableFunc(s.waiting, func(a, b *Candidate) int {
		if a.Announcement.Priority != b.Announcement.Priority {
			return b.Announcement.Priority - a.Announcement.Priority
		}
		return a.seq - b.seq
	})
	if s.current == nil && !s.busy {
		// Deferred so peers becoming ready in the same loop turn compete on
		// priority, not on callback order. Extra posts coalesce: drain
		// returns immediately once something is shown.
		s.post.Post(s.drain)
	}
}

// drain pops the highest-priority candidate until one is still valid,
// presents it, and records it as shown. The busy flag keeps an Enqueue
// fired from a presentation callback from scheduling work mid-iteration.
func (s *Scheduler) drain() {
	if s.busy || s.current != nil {
		return
	}
	s.busy = true
	for len(s.waiting) > 0 {
		c := s.waiting[0]
		s.waiting = s.waiting[1:]
		if c.Stale != nil && c.Stale() {
			s.dropped(c)
			continue
		}
		if err := s.presenter.Present(c.Announcement); err != nil {
			// Implicit dismissal: a candidate that cannot render must not
			// wedge the queue.
			s.log.Warn().Err(err).Str("announcement", c.Announcement.ID).Msg("presenter failed")
			s.dropped(c)
			continue
		}
		s.current = c
		if s.OnShown != nil {
			s.OnShown(c.Announcement.ID)
		}
		break
	}
	s.busy = false
}

// Dismissed reports that the presented announcement was closed. Only the
// currently shown candidate is acted on; after the settle delay the next
// candidate is released.
func (s *Scheduler) Dismissed(id string) {
	if s.current == nil || s.current.Announcement.ID != id {
		return
	}
	s.current = nil
	s.clock.AfterFunc(s.settle, func() {
		s.post.Post(s.drain)
	})
}

// Remove drops a pending candidate that was dismissed before being shown.
func (s *Scheduler) Remove(id string) {
	s.waiting = slices.DeleteFunc(s.waiting, func(c *Candidate) bool {
		return c.Announcement.ID == id
	})
}

// CurrentID returns the shown announcement's id, or "".
func (s *Scheduler) CurrentID() string {
	if s.current == nil {
		return ""
	}
	return s.current.Announcement.ID
}

// Waiting returns the pending announcement ids in release order.
func (s *Scheduler) Waiting() []string {
	out := make([]string, len(s.waiting))
	for i, c := range s.waiting {
		out[i] = c.Announcement.ID
	}
	return out
}

func (s *Scheduler) dropped(c *Candidate) {
	if s.OnDropped != nil {
		s.OnDropped(c.Announcement.ID)
	}
}
