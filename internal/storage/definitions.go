package storage

import (
	"announcement-engine/internal/announce"
	"announcement-engine/internal/cache"
)

// Definitions holds the current announcement configuration behind a
// lock-free snapshot: every page view reads one immutable slice, the
// listener swaps in a fresh one on DB change.
type Definitions struct {
	snap cache.Snapshot[[]*announce.Announcement]
}

func NewDefinitions() *Definitions { return &Definitions{} }

// Active returns the current definitions. Callers must treat the slice and
// its records as read-only.
func (d *Definitions) Active() []*announce.Announcement {
	v, _ := d.snap.Load()
	return v
}

// Replace swaps in a new definitions set.
func (d *Definitions) Replace(anns []*announce.Announcement) {
	d.snap.Store(anns)
}
