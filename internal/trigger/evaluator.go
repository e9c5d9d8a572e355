package trigger

import (
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"announcement-engine/internal/announce"
	"announcement-engine/internal/schedule"
	"announcement-engine/internal/suppress"
)

// tickPeriod is the aggregation re-check granularity; two rules satisfied
// within the same tick count as simultaneous.
const tickPeriod = time.Second

// Enqueuer receives the candidate once every enabled rule has fired.
type Enqueuer interface {
	Enqueue(c *schedule.Candidate)
}

// Result of an Arm call.
type ArmResult int

const (
	ArmedWatching   ArmResult = iota // watchers registered, tick running
	ArmedOverridden                  // override token matched, enqueued directly
	ArmSuppressed                    // already dismissed or outside validity window
)

// Evaluator arms the condition watchers for one announcement and hands a
// single candidate to the scheduler once all enabled rules have fired.
// All methods must run on the page view's loop.
type Evaluator struct {
	ann     *announce.Announcement
	page    PageView
	store   *suppress.Store
	signals *Signals
	clock   clockwork.Clock
	post    Poster
	sink    Enqueuer
	log     zerolog.Logger

	flags     map[string]bool
	armed     bool
	dismissed bool
	enqueued  bool

	tick    clockwork.Timer
	timer   clockwork.Timer
	cancels []func()
}

func NewEvaluator(ann *announce.Announcement, page PageView, store *suppress.Store,
	signals *Signals, clock clockwork.Clock, post Poster, sink Enqueuer, log zerolog.Logger) *Evaluator {
	return &Evaluator{
		ann:     ann,
		page:    page,
		store:   store,
		signals: signals,
		clock:   clock,
		post:    post,
		sink:    sink,
		log:     log.With().Str("announcement", ann.ID).Logger(),
		flags:   map[string]bool{},
	}
}

func (e *Evaluator) Announcement() *announce.Announcement { return e.ann }
func (e *Evaluator) Dismissed() bool                      { return e.dismissed }

// Arm inspects the rule set and registers one watcher per enabled rule,
// then starts the aggregation tick. Calling it twice is a no-op.
func (e *Evaluator) Arm() ArmResult {
	if e.armed {
		return ArmedWatching
	}
	e.armed = true

	if e.overrideMatched() {
		// The override skips every rule and the dismissal check.
		e.enqueued = true
		e.sink.Enqueue(e.candidate(true))
		return ArmedOverridden
	}
	if e.store.IsDismissed(e.ann.ID) {
		return ArmSuppressed
	}
	if !e.ann.WithinWindow(e.clock.Now()) {
		return ArmSuppressed
	}

	r := e.ann.Rules
	if r.Scroll != nil {
		e.armScroll(*r.Scroll)
	}
	if r.VisitCount != nil {
		count := e.store.IncrementVisit(e.ann.ID)
		e.flags["visit_count"] = count >= r.VisitCount.Min
	}
	if r.TimeOnPage != nil {
		e.armTimeOnPage(*r.TimeOnPage)
	}
	if r.Referrer != nil {
		e.flags["referrer"] = strings.Contains(e.page.Referrer, r.Referrer.Contains)
	}
	if r.ExitIntent != nil {
		e.armExitIntent()
	}

	e.tick = e.clock.AfterFunc(tickPeriod, func() { e.post.Post(e.onTick) })
	return ArmedWatching
}

func (e *Evaluator) overrideMatched() bool {
	if e.ann.OverrideToken == "" {
		return false
	}
	for _, vs := range e.page.Query {
		for _, v := range vs {
			if v == e.ann.OverrideToken {
				return true
			}
		}
	}
	return false
}

// armScroll fixes the pixel threshold from the scrollable distance at arm
// time and detaches itself after the first crossing.
func (e *Evaluator) armScroll(r announce.ScrollRule) {
	scrollable := e.page.ScrollHeight - e.page.ViewportHeight
	if scrollable < 0 {
		scrollable = 0
	}
	threshold := scrollable * r.Percent / 100
	var cancel func()
	cancel = e.signals.OnScroll(func(offset int) {
		if offset < threshold {
			return
		}
		cancel()
		e.flags["scroll"] = true
	})
	e.cancels = append(e.cancels, cancel)
}

func (e *Evaluator) armTimeOnPage(r announce.TimeOnPageRule) {
	d := time.Duration(r.Seconds) * time.Second
	e.timer = e.clock.AfterFunc(d, func() {
		e.post.Post(func() {
			if e.dismissed {
				return
			}
			e.flags["time_on_page"] = true
		})
	})
}

func (e *Evaluator) armExitIntent() {
	cancel := e.signals.OnExitIntentOnce(func() {
		e.flags["exit_intent"] = true
	})
	e.cancels = append(e.cancels, cancel)
}

// onTick re-aggregates the rule flags once per tick period. The moment all
// enabled flags are true the tick stops for good, so a later pass cannot
// enqueue a second time.
func (e *Evaluator) onTick() {
	if e.dismissed || e.enqueued {
		return
	}
	if !e.satisfied() {
		e.tick = e.clock.AfterFunc(tickPeriod, func() { e.post.Post(e.onTick) })
		return
	}
	// Late suppression check: a dismissal may have landed while watchers
	// were in flight.
	if e.store.IsDismissed(e.ann.ID) {
		return
	}
	e.enqueued = true
	e.sink.Enqueue(e.candidate(false))
}

// satisfied reports whether every enabled rule's flag is set. No enabled
// rules means immediately ready.
func (e *Evaluator) satisfied() bool {
	for _, name := range e.ann.Rules.Enabled() {
		if !e.flags[name] {
			return false
		}
	}
	return true
}

func (e *Evaluator) candidate(override bool) *schedule.Candidate {
	return &schedule.Candidate{
		Announcement: e.ann,
		Stale: func() bool {
			if e.dismissed {
				return true
			}
			if override {
				return false
			}
			return e.store.IsDismissed(e.ann.ID)
		},
	}
}

// Dismiss cancels the tick, the time-on-page timer, and any still-armed
// watcher, and short-circuits anything still in flight.
func (e *Evaluator) Dismiss() {
	if e.dismissed {
		return
	}
	e.dismissed = true
	if e.tick != nil {
		e.tick.Stop()
	}
	if e.timer != nil {
		e.timer.Stop()
	}
	for _, c := range e.cancels {
		c()
	}
	e.cancels = nil
}
