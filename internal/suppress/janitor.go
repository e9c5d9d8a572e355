package suppress

import (
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"announcement-engine/internal/announce"
)

// Janitor removes orphaned and expired suppression entries at page-view init
// and performs emergency eviction under quota pressure. Storage errors are
// logged and swallowed; cleanup never fails the caller.
type Janitor struct {
	store  *Store
	active map[string]*announce.Announcement // currently configured, by id
	clock  clockwork.Clock
	log    zerolog.Logger
}

func NewJanitor(store *Store, active []*announce.Announcement, clock clockwork.Clock, log zerolog.Logger) *Janitor {
	m := make(map[string]*announce.Announcement, len(active))
	for _, a := range active {
		m[a.ID] = a
	}
	j := &Janitor{store: store, active: m, clock: clock, log: log}
	store.Evictor = j.EmergencyEvict
	return j
}

// Run executes the light pass, then the full pass unless it already ran
// this session.
func (j *Janitor) Run() {
	j.LightPass()
	if _, ok, err := j.store.Session().Get(fullCleanupKey); err == nil && !ok {
		j.FullPass()
	}
}

// LightPass deletes durable keys whose announcement is no longer configured
// or has passed its validity end date.
func (j *Janitor) LightPass() {
	keys, err := j.store.Durable().Keys(nsPrefix)
	if err != nil {
		j.log.Warn().Err(err).Msg("janitor scan failed")
		return
	}
	now := j.clock.Now()
	for _, k := range keys {
		id := announcementID(k)
		if id == "" {
			continue
		}
		if j.inactive(id, now) {
			j.drop(k)
		}
	}
}

// FullPass additionally clears dismissal entries whose durable expiry has
// lapsed, then writes the session marker so it runs at most once per session.
func (j *Janitor) FullPass() {
	j.LightPass()
	keys, err := j.store.Durable().Keys(expiryPrefix)
	if err != nil {
		j.log.Warn().Err(err).Msg("janitor expiry scan failed")
		return
	}
	now := j.clock.Now()
	for _, k := range keys {
		raw, ok, err := j.store.Durable().Get(k)
		if err != nil || !ok {
			continue
		}
		until, err := time.Parse(time.RFC3339, raw)
		if err != nil || now.Before(until) {
			continue
		}
		id := announcementID(k)
		j.drop(dismissedKey(id))
		j.drop(k)
	}
	if err := j.store.Session().Set(fullCleanupKey, fullCleanupValue); err != nil {
		j.log.Warn().Err(err).Msg("janitor marker write failed")
	}
}

// EmergencyEvict deletes the first half of the entries belonging to inactive
// announcements, in lexical key order. Active announcements' entries are
// never evicted. Called from Store.write on a quota error.
func (j *Janitor) EmergencyEvict(kv KV) {
	keys, err := kv.Keys(nsPrefix)
	if err != nil {
		j.log.Warn().Err(err).Msg("eviction scan failed")
		return
	}
	now := j.clock.Now()
	var victims []string // Keys returns lexical order already
	for _, k := range keys {
		id := announcementID(k)
		if id == "" || !j.inactive(id, now) {
			continue
		}
		victims = append(victims, k)
	}
	n := (len(victims) + 1) / 2
	for _, k := range victims[:n] {
		if err := kv.Delete(k); err != nil {
			j.log.Warn().Err(err).Str("key", k).Msg("evict delete failed")
		}
	}
	j.log.Info().Int("evicted", n).Msg("emergency eviction")
}

func (j *Janitor) inactive(id string, now time.Time) bool {
	a, ok := j.active[id]
	return !ok || a.Expired(now)
}

func (j *Janitor) drop(key string) {
	if err := j.store.Durable().Delete(key); err != nil {
		j.log.Warn().Err(err).Str("key", key).Msg("janitor delete failed")
	}
}
