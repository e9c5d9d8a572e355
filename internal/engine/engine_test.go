package engine

import (
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"announcement-engine/internal/announce"
	"announcement-engine/internal/suppress"
	"announcement-engine/internal/trigger"
)

type recordingSink struct {
	mu     sync.Mutex
	events []Event
}

func (s *recordingSink) Emit(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *recordingSink) byType(t EventType) []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Event
	for _, ev := range s.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

type engineFixture struct {
	clock   clockwork.FakeClock
	session *suppress.MemoryKV
	durable *suppress.MemoryKV
	sink    *recordingSink
}

func newEngineFixture() *engineFixture {
	return &engineFixture{
		clock:   clockwork.NewFakeClock(),
		session: suppress.NewMemoryKV(0),
		durable: suppress.NewMemoryKV(0),
		sink:    &recordingSink{},
	}
}

func (f *engineFixture) start(t *testing.T, page trigger.PageView, anns ...*announce.Announcement) *Engine {
	t.Helper()
	e := New(Config{
		ViewID:        "view-1",
		Announcements: anns,
		Page:          page,
		SessionKV:     f.session,
		DurableKV:     f.durable,
		Clock:         f.clock,
		Sink:          f.sink,
		Log:           zerolog.Nop(),
	})
	t.Cleanup(e.Close)
	return e
}

func visitAnn(id string, priority int) *announce.Announcement {
	return &announce.Announcement{
		ID:        id,
		Priority:  priority,
		Dismissal: announce.DismissSession,
		Rules:     announce.RuleSet{VisitCount: &announce.VisitCountRule{Min: 1}},
	}
}

func waitState(t *testing.T, e *Engine, id string, want State) {
	t.Helper()
	require.Eventually(t, func() bool {
		return e.States()[id] == want
	}, 2*time.Second, 5*time.Millisecond, "announcement %s never reached %s", id, want)
}

func TestEngine_PriorityScenario(t *testing.T) {
	f := newEngineFixture()
	e := f.start(t, trigger.PageView{}, visitAnn("low", 1), visitAnn("high", 2))

	states := e.States()
	assert.Equal(t, StateArmed, states["low"])
	assert.Equal(t, StateArmed, states["high"])
	assert.Nil(t, e.Current())

	// First aggregation tick: both become ready, highest priority wins.
	f.clock.Advance(time.Second)
	waitState(t, e, "high", StateShown)
	waitState(t, e, "low", StateReady)
	require.Equal(t, "high", e.Current().ID)

	e.Dismiss("high")
	waitState(t, e, "high", StateDismissed)
	assert.Nil(t, e.Current(), "nothing shown during the settle window")

	f.clock.Advance(400 * time.Millisecond)
	waitState(t, e, "low", StateShown)
	require.Equal(t, "low", e.Current().ID)
}

func TestEngine_PriorityIndependentOfArmOrder(t *testing.T) {
	f := newEngineFixture()
	// Mirror arm order of the scenario above: the higher priority arms
	// first, so its tick callback tends to run first. The winner must not
	// depend on which callback ran first within the tick.
	e := f.start(t, trigger.PageView{}, visitAnn("high", 2), visitAnn("low", 1))

	f.clock.Advance(time.Second)
	waitState(t, e, "high", StateShown)
	waitState(t, e, "low", StateReady)
	require.Equal(t, "high", e.Current().ID)
}

func TestEngine_AtMostOneShown(t *testing.T) {
	f := newEngineFixture()
	e := f.start(t, trigger.PageView{}, visitAnn("a", 1), visitAnn("b", 2), visitAnn("c", 3))

	f.clock.Advance(time.Second)
	waitState(t, e, "c", StateShown)

	shown := 0
	for _, st := range e.States() {
		if st == StateShown {
			shown++
		}
	}
	assert.Equal(t, 1, shown)
}

func TestEngine_SessionDismissalSurvivesReinit(t *testing.T) {
	f := newEngineFixture()
	e := f.start(t, trigger.PageView{}, visitAnn("promo", 1))

	f.clock.Advance(time.Second)
	waitState(t, e, "promo", StateShown)
	e.Dismiss("promo")
	waitState(t, e, "promo", StateDismissed)
	e.Close()

	// Navigation within the same session: arm is a no-op.
	e2 := f.start(t, trigger.PageView{}, visitAnn("promo", 1))
	assert.Equal(t, StateSuppressed, e2.States()["promo"])

	f.clock.Advance(2 * time.Second)
	assert.Nil(t, e2.Current())
}

func TestEngine_OverrideBypassesDismissalAndRules(t *testing.T) {
	f := newEngineFixture()

	a := &announce.Announcement{
		ID:            "ov",
		Priority:      1,
		Dismissal:     announce.DismissSession,
		OverrideToken: "sneak",
		Rules:         announce.RuleSet{Scroll: &announce.ScrollRule{Percent: 100}},
	}
	// Already dismissed this session.
	pre := suppress.NewStore(f.session, f.durable, f.clock, zerolog.Nop())
	pre.Dismiss(a)

	page := trigger.PageView{Query: url.Values{"preview": {"sneak"}}}
	e := f.start(t, page, a)

	// No ticks, no scrolling: the override path shows it straight away.
	assert.Equal(t, StateShown, e.States()["ov"])
	require.NotNil(t, e.Current())
	assert.Equal(t, "ov", e.Current().ID)
}

func TestEngine_DismissalIsTerminalForTheView(t *testing.T) {
	f := newEngineFixture()
	a := &announce.Announcement{
		ID:        "exit",
		Priority:  1,
		Dismissal: announce.DismissNever,
		Rules:     announce.RuleSet{ExitIntent: &announce.ExitIntentRule{}},
	}
	e := f.start(t, trigger.PageView{}, a)

	e.ExitIntent()
	f.clock.Advance(time.Second)
	waitState(t, e, "exit", StateShown)

	e.Dismiss("exit")
	waitState(t, e, "exit", StateDismissed)

	// Policy never means no persisted record, but within the page view the
	// dismissal still sticks: later signals cannot re-arm it.
	e.ExitIntent()
	f.clock.Advance(3 * time.Second)
	assert.Nil(t, e.Current())
	assert.Equal(t, StateDismissed, e.States()["exit"])
}

func TestEngine_DuplicateAnnouncementFirstWins(t *testing.T) {
	f := newEngineFixture()
	first := visitAnn("dup", 1)
	second := visitAnn("dup", 9)
	e := f.start(t, trigger.PageView{}, first, second)

	f.clock.Advance(time.Second)
	waitState(t, e, "dup", StateShown)

	require.Eventually(t, func() bool {
		return len(f.sink.byType(EventShown)) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, "dup", f.sink.byType(EventShown)[0].AnnouncementID)
}

func TestEngine_MalformedAnnouncementSkipped(t *testing.T) {
	f := newEngineFixture()
	bad := &announce.Announcement{ID: "bad", Dismissal: "sometimes"}
	e := f.start(t, trigger.PageView{}, bad, visitAnn("good", 1))

	assert.Equal(t, StateSuppressed, e.States()["bad"])

	f.clock.Advance(time.Second)
	waitState(t, e, "good", StateShown)
}

func TestEngine_ScrollSignalDrivesPresentation(t *testing.T) {
	f := newEngineFixture()
	a := &announce.Announcement{
		ID:        "deep",
		Priority:  1,
		Dismissal: announce.DismissSession,
		Rules:     announce.RuleSet{Scroll: &announce.ScrollRule{Percent: 50}},
	}
	page := trigger.PageView{ScrollHeight: 3000, ViewportHeight: 1000}
	e := f.start(t, page, a)

	e.Scroll(300)
	f.clock.Advance(time.Second)
	assert.Nil(t, e.Current())

	e.Scroll(1500)
	require.Eventually(t, func() bool {
		f.clock.Advance(time.Second)
		return e.States()["deep"] == StateShown
	}, 2*time.Second, 10*time.Millisecond)
}

func TestEngine_EventsCarryViewID(t *testing.T) {
	f := newEngineFixture()
	e := f.start(t, trigger.PageView{}, visitAnn("promo", 1))

	f.clock.Advance(time.Second)
	waitState(t, e, "promo", StateShown)

	e.Interaction("promo")
	e.Dismiss("promo")
	waitState(t, e, "promo", StateDismissed)

	require.Eventually(t, func() bool {
		return len(f.sink.byType(EventDismissed)) == 1
	}, time.Second, 5*time.Millisecond)

	for _, ev := range append(f.sink.byType(EventShown), f.sink.byType(EventInteraction)...) {
		assert.Equal(t, "view-1", ev.ViewID)
		assert.Equal(t, "promo", ev.AnnouncementID)
	}
	assert.Len(t, f.sink.byType(EventInteraction), 1)
}
