package suppress

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"announcement-engine/internal/announce"
)

// Key namespace shared by the store and the janitor.
const (
	nsPrefix         = "ann:"
	dismissedPrefix  = nsPrefix + "dismissed:"
	expiryPrefix     = nsPrefix + "dismissed_until:"
	visitsPrefix     = nsPrefix + "visits:"
	fullCleanupKey   = nsPrefix + "last-full-cleanup"
	fullCleanupValue = "1"
)

func dismissedKey(id string) string { return dismissedPrefix + id }
func expiryKey(id string) string    { return expiryPrefix + id }
func visitsKey(id string) string    { return visitsPrefix + id }

// announcementID extracts the id embedded in a namespace key, or "" for
// keys that do not belong to a single announcement (the cleanup marker).
func announcementID(key string) string {
	for _, p := range []string{dismissedPrefix, expiryPrefix, visitsPrefix} {
		if strings.HasPrefix(key, p) {
			return strings.TrimPrefix(key, p)
		}
	}
	return ""
}

// Store tracks per-announcement dismissal flags and visit counters across
// two backing stores: session (gone at browser-session end) and durable.
// Every write is scoped to one key and every failure is absorbed locally;
// storage trouble never propagates to the caller.
type Store struct {
	session KV
	durable KV
	clock   clockwork.Clock
	log     zerolog.Logger

	// Evictor runs emergency cleanup when a write hits the quota.
	// Wired to Janitor.EmergencyEvict; nil disables the retry path.
	Evictor func(kv KV)
}

func NewStore(session, durable KV, clock clockwork.Clock, log zerolog.Logger) *Store {
	return &Store{session: session, durable: durable, clock: clock, log: log}
}

func (s *Store) Session() KV { return s.session }
func (s *Store) Durable() KV { return s.durable }

// IsDismissed reports whether the announcement is suppressed, under either
// the session flag or an unexpired durable flag.
func (s *Store) IsDismissed(id string) bool {
	if _, ok, err := s.session.Get(dismissedKey(id)); err == nil && ok {
		return true
	}
	_, ok, err := s.durable.Get(dismissedKey(id))
	if err != nil || !ok {
		return false
	}
	raw, ok, err := s.durable.Get(expiryKey(id))
	if err != nil || !ok {
		return true // durable flag without expiry never lapses on its own
	}
	until, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return true
	}
	return s.clock.Now().Before(until)
}

// Dismiss records a dismissal according to the announcement's policy.
// Policy never writes nothing and always reports not-dismissed later.
func (s *Store) Dismiss(a *announce.Announcement) {
	switch a.Dismissal {
	case announce.DismissSession:
		s.write(s.session, dismissedKey(a.ID), "1")
	case announce.DismissDurable:
		until := s.clock.Now().AddDate(0, 0, a.ExpireDays)
		s.write(s.durable, dismissedKey(a.ID), "1")
		s.write(s.durable, expiryKey(a.ID), until.Format(time.RFC3339))
	case announce.DismissNever:
	}
}

// IncrementVisit bumps the durable visit counter and returns the new count.
// On persistent storage failure it degrades to the last readable count
// without writing; it never blocks and never errors.
func (s *Store) IncrementVisit(id string) int {
	key := visitsKey(id)
	last := 0
	if raw, ok, err := s.durable.Get(key); err == nil && ok {
		if n, err := strconv.Atoi(raw); err == nil {
			last = n
		}
	}
	next := last + 1
	if s.write(s.durable, key, strconv.Itoa(next)) {
		return next
	}
	return last
}

// write sets one key, running emergency eviction and retrying once on a
// quota error. Returns whether the value landed.
func (s *Store) write(kv KV, key, value string) bool {
	err := kv.Set(key, value)
	if err == nil {
		return true
	}
	if errors.Is(err, ErrQuotaExceeded) && s.Evictor != nil {
		s.Evictor(kv)
		if err = kv.Set(key, value); err == nil {
			return true
		}
	}
	s.log.Warn().Err(err).Str("key", key).Msg("suppression write dropped")
	return false
}
