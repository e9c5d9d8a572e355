package engine

import (
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"announcement-engine/internal/announce"
	"announcement-engine/internal/schedule"
	"announcement-engine/internal/suppress"
	"announcement-engine/internal/trigger"
)

// State of one announcement across a page view.
type State string

const (
	StateUnarmed    State = "unarmed"
	StateArmed      State = "armed"
	StateReady      State = "ready"
	StateShown      State = "shown"
	StateDismissed  State = "dismissed"
	StateSuppressed State = "suppressed"
)

// Config wires one page view's engine.
type Config struct {
	ViewID        string
	Announcements []*announce.Announcement
	Page          trigger.PageView
	SessionKV     suppress.KV
	DurableKV     suppress.KV
	Clock         clockwork.Clock
	Sink          EventSink
	Presenter     schedule.Presenter // optional; default records for polling
	SettleDelay   time.Duration
	Log           zerolog.Logger
}

// Engine drives one page view: it cleans the suppression store, arms one
// trigger evaluator per announcement, and lets the scheduler release at most
// one announcement at a time. All state lives behind the run loop; the
// exported methods are safe to call from any goroutine.
type Engine struct {
	viewID string
	loop   *Loop
	clock  clockwork.Clock
	page   trigger.PageView
	store  *suppress.Store
	sched  *schedule.Scheduler
	sigs   *trigger.Signals
	sink   EventSink
	log    zerolog.Logger

	evals   map[string]*trigger.Evaluator
	states  map[string]State
	current *announce.Announcement
}

// recordPresenter is the default presentation adapter: it records the chosen
// announcement so the client can poll it.
type recordPresenter struct{ e *Engine }

func (p recordPresenter) Present(a *announce.Announcement) error {
	p.e.current = a
	return nil
}

func New(cfg Config) *Engine {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Sink == nil {
		cfg.Sink = NopSink()
	}
	log := cfg.Log.With().Str("view", cfg.ViewID).Logger()

	e := &Engine{
		viewID: cfg.ViewID,
		loop:   NewLoop(),
		clock:  cfg.Clock,
		page:   cfg.Page,
		sigs:   trigger.NewSignals(),
		sink:   cfg.Sink,
		log:    log,
		evals:  map[string]*trigger.Evaluator{},
		states: map[string]State{},
	}
	e.store = suppress.NewStore(cfg.SessionKV, cfg.DurableKV, cfg.Clock, log)

	presenter := cfg.Presenter
	if presenter == nil {
		presenter = recordPresenter{e}
	}
	e.sched = schedule.NewScheduler(presenter, cfg.Clock, e.loop, cfg.SettleDelay, log)
	e.sched.OnShown = func(id string) {
		e.states[id] = StateShown
		e.emit(EventShown, id)
	}
	e.sched.OnDropped = func(id string) {
		if e.states[id] != StateDismissed {
			e.states[id] = StateSuppressed
		}
	}

	e.loop.Call(func() { e.init(cfg.Announcements) })
	return e
}

// init runs on the loop: janitor first, then one evaluator per valid,
// non-duplicate announcement.
func (e *Engine) init(anns []*announce.Announcement) {
	var valid []*announce.Announcement
	seen := map[string]bool{}
	for _, a := range anns {
		if a == nil {
			continue
		}
		if err := a.Validate(); err != nil {
			e.log.Warn().Err(err).Msg("skipping announcement")
			if a.ID != "" && !seen[a.ID] {
				e.states[a.ID] = StateSuppressed
			}
			continue
		}
		if seen[a.ID] {
			continue // armed twice within one view: first wins
		}
		seen[a.ID] = true
		e.states[a.ID] = StateUnarmed
		valid = append(valid, a)
	}

	janitor := suppress.NewJanitor(e.store, valid, e.clock, e.log)
	janitor.Run()

	for _, a := range valid {
		ev := trigger.NewEvaluator(a, e.page, e.store, e.sigs, e.clock, e.loop, e, e.log)
		e.evals[a.ID] = ev
		switch ev.Arm() {
		case trigger.ArmedWatching:
			e.states[a.ID] = StateArmed
		case trigger.ArmSuppressed:
			e.states[a.ID] = StateSuppressed
		case trigger.ArmedOverridden:
			// Enqueue already marked it ready.
		}
	}
}

// Enqueue implements trigger.Enqueuer: the evaluator hands over a candidate
// whose rules are all satisfied.
func (e *Engine) Enqueue(c *schedule.Candidate) {
	e.states[c.Announcement.ID] = StateReady
	e.sched.Enqueue(c)
}

// Scroll reports the visitor's scroll offset in pixels.
func (e *Engine) Scroll(offset int) {
	e.loop.Post(func() { e.sigs.Scroll(offset) })
}

// ExitIntent reports a pointer-left-viewport-at-top event.
func (e *Engine) ExitIntent() {
	e.loop.Post(func() { e.sigs.ExitIntent() })
}

// Dismiss commits a dismissal: persists it per policy, cancels the
// evaluator's watchers, and lets the scheduler release the next candidate
// after the settle delay. Dismissal is terminal for the page view.
func (e *Engine) Dismiss(id string) {
	e.loop.Post(func() {
		ev, ok := e.evals[id]
		if !ok || e.states[id] == StateDismissed {
			return
		}
		e.store.Dismiss(ev.Announcement())
		ev.Dismiss()
		e.states[id] = StateDismissed
		e.emit(EventDismissed, id)
		if e.sched.CurrentID() == id {
			e.current = nil
			e.sched.Dismissed(id)
		} else {
			e.sched.Remove(id)
		}
	})
}

// Interaction reports a visitor interaction with the shown announcement.
func (e *Engine) Interaction(id string) {
	e.loop.Post(func() {
		if e.states[id] == StateShown {
			e.emit(EventInteraction, id)
		}
	})
}

// Current returns the announcement being presented, or nil.
func (e *Engine) Current() *announce.Announcement {
	var out *announce.Announcement
	e.loop.Call(func() { out = e.current })
	return out
}

// States returns a copy of the per-announcement state map.
func (e *Engine) States() map[string]State {
	out := map[string]State{}
	e.loop.Call(func() {
		for k, v := range e.states {
			out[k] = v
		}
	})
	return out
}

// Close detaches every watcher and stops the loop.
func (e *Engine) Close() {
	e.loop.Call(func() {
		for _, ev := range e.evals {
			ev.Dismiss()
		}
	})
	e.loop.Close()
}

func (e *Engine) emit(t EventType, id string) {
	e.sink.Emit(Event{Type: t, AnnouncementID: id, ViewID: e.viewID, At: e.clock.Now()})
}
