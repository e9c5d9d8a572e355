package api

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"announcement-engine/internal/announce"
	"announcement-engine/internal/engine"
	"announcement-engine/internal/observability"
	"announcement-engine/internal/suppress"
	"announcement-engine/internal/trigger"
)

// DurableKV returns the durable suppression backend for a visitor. Postgres
// in production; the registry falls back to per-visitor in-memory stores
// when none is wired.
type DurableKV func(visitorID string) suppress.KV

// Registry tracks live page views and the per-visitor session stores behind
// them. A visitor's session KV is shared by all of their concurrent views
// and dropped once the visitor has been idle past the TTL, which is what
// ends their "browser session" on this side of the wire.
type Registry struct {
	clock   clockwork.Clock
	sink    engine.EventSink
	durable DurableKV
	settle  time.Duration
	ttl     time.Duration
	quota   struct{ session, durable int }
	log     zerolog.Logger

	mu          sync.Mutex
	views       map[string]*view
	sessions    map[string]*suppress.MemoryKV
	memDurables map[string]*suppress.MemoryKV
	visitorSeen map[string]time.Time
}

type view struct {
	id       string
	visitor  string
	eng      *engine.Engine
	lastSeen time.Time
}

type RegistryConfig struct {
	Clock          clockwork.Clock
	Sink           engine.EventSink
	Durable        DurableKV // nil = in-memory per visitor
	SettleDelay    time.Duration
	TTL            time.Duration
	SessionEntries int
	DurableEntries int
	Log            zerolog.Logger
}

func NewRegistry(cfg RegistryConfig) *Registry {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 30 * time.Minute
	}
	r := &Registry{
		clock:       cfg.Clock,
		sink:        cfg.Sink,
		durable:     cfg.Durable,
		settle:      cfg.SettleDelay,
		ttl:         cfg.TTL,
		log:         cfg.Log,
		views:       map[string]*view{},
		sessions:    map[string]*suppress.MemoryKV{},
		memDurables: map[string]*suppress.MemoryKV{},
		visitorSeen: map[string]time.Time{},
	}
	r.quota.session = cfg.SessionEntries
	r.quota.durable = cfg.DurableEntries
	return r
}

// Open creates a page view: fresh engine, janitor run, evaluators armed.
// An empty visitorID gets a generated one, returned so the caller can set
// its cookie.
func (r *Registry) Open(visitorID string, page trigger.PageView, anns []*announce.Announcement) (viewID, visitor string) {
	if visitorID == "" {
		visitorID = uuid.NewString()
	}
	viewID = uuid.NewString()

	r.mu.Lock()
	session, ok := r.sessions[visitorID]
	if !ok {
		session = suppress.NewMemoryKV(r.quota.session)
		r.sessions[visitorID] = session
	}
	var durable suppress.KV
	if r.durable != nil {
		durable = r.durable(visitorID)
	} else {
		mem, ok := r.memDurables[visitorID]
		if !ok {
			mem = suppress.NewMemoryKV(r.quota.durable)
			r.memDurables[visitorID] = mem
		}
		durable = mem
	}
	r.visitorSeen[visitorID] = r.clock.Now()
	r.mu.Unlock()

	eng := engine.New(engine.Config{
		ViewID:        viewID,
		Announcements: anns,
		Page:          page,
		SessionKV:     session,
		DurableKV:     durable,
		Clock:         r.clock,
		Sink:          r.sink,
		SettleDelay:   r.settle,
		Log:           r.log,
	})

	r.mu.Lock()
	r.views[viewID] = &view{id: viewID, visitor: visitorID, eng: eng, lastSeen: r.clock.Now()}
	observability.ViewsActive.Set(float64(len(r.views)))
	r.mu.Unlock()
	return viewID, visitorID
}

// Get returns the engine behind a view id, bumping its activity time.
func (r *Registry) Get(viewID string) (*engine.Engine, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.views[viewID]
	if !ok {
		return nil, false
	}
	v.lastSeen = r.clock.Now()
	r.visitorSeen[v.visitor] = v.lastSeen
	return v.eng, true
}

// Sweep closes views idle past the TTL and forgets idle visitors' session
// stores. Run periodically from the server.
func (r *Registry) Sweep() {
	now := r.clock.Now()
	var stale []*view

	r.mu.Lock()
	for id, v := range r.views {
		if now.Sub(v.lastSeen) > r.ttl {
			stale = append(stale, v)
			delete(r.views, id)
		}
	}
	for visitor, seen := range r.visitorSeen {
		if now.Sub(seen) > r.ttl {
			delete(r.visitorSeen, visitor)
			delete(r.sessions, visitor)
		}
	}
	observability.ViewsActive.Set(float64(len(r.views)))
	r.mu.Unlock()

	for _, v := range stale {
		v.eng.Close()
	}
	if len(stale) > 0 {
		r.log.Debug().Int("closed", len(stale)).Msg("swept idle views")
	}
}

// Len reports the number of live views.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.views)
}
