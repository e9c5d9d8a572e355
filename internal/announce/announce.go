package announce

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// DismissalPolicy controls how long a dismissal is remembered.
type DismissalPolicy string

const (
	DismissSession DismissalPolicy = "session"
	DismissDurable DismissalPolicy = "durable"
	DismissNever   DismissalPolicy = "never"
)

// Announcement is the per-page-view configuration record.
// Constructed once at init and never mutated by the engine.
type Announcement struct {
	ID            string          `json:"id" yaml:"id"`
	Label         string          `json:"label" yaml:"label"`
	Priority      int             `json:"priority" yaml:"priority"`
	Rules         RuleSet         `json:"rules" yaml:"rules"`
	Dismissal     DismissalPolicy `json:"dismissal" yaml:"dismissal"`
	ExpireDays    int             `json:"expire_days,omitempty" yaml:"expire_days"`
	ValidFrom     *time.Time      `json:"valid_from,omitempty" yaml:"valid_from"`
	ValidUntil    *time.Time      `json:"valid_until,omitempty" yaml:"valid_until"`
	OverrideToken string          `json:"override_token,omitempty" yaml:"override_token"`
	Payload       json.RawMessage `json:"payload,omitempty" yaml:"-"`
}

// RuleSet holds one optional rule per trigger dimension.
// A nil pointer means the rule is disabled.
type RuleSet struct {
	Scroll     *ScrollRule     `json:"scroll,omitempty" yaml:"scroll"`
	VisitCount *VisitCountRule `json:"visit_count,omitempty" yaml:"visit_count"`
	TimeOnPage *TimeOnPageRule `json:"time_on_page,omitempty" yaml:"time_on_page"`
	Referrer   *ReferrerRule   `json:"referrer,omitempty" yaml:"referrer"`
	ExitIntent *ExitIntentRule `json:"exit_intent,omitempty" yaml:"exit_intent"`
}

type ScrollRule struct {
	Percent int `json:"percent" yaml:"percent"`
}

type VisitCountRule struct {
	Min int `json:"min" yaml:"min"`
}

type TimeOnPageRule struct {
	Seconds int `json:"seconds" yaml:"seconds"`
}

type ReferrerRule struct {
	Contains string `json:"contains" yaml:"contains"`
}

type ExitIntentRule struct{}

// Enabled returns the names of the enabled rules, in a fixed order.
func (r RuleSet) Enabled() []string {
	var out []string
	if r.Scroll != nil {
		out = append(out, "scroll")
	}
	if r.VisitCount != nil {
		out = append(out, "visit_count")
	}
	if r.TimeOnPage != nil {
		out = append(out, "time_on_page")
	}
	if r.Referrer != nil {
		out = append(out, "referrer")
	}
	if r.ExitIntent != nil {
		out = append(out, "exit_intent")
	}
	return out
}

var ErrInvalid = errors.New("invalid announcement")

// Validate rejects records the engine must skip. A failing announcement is
// suppressed on its own; the rest of the batch is unaffected.
func (a *Announcement) Validate() error {
	if a.ID == "" {
		return fmt.Errorf("%w: empty id", ErrInvalid)
	}
	switch a.Dismissal {
	case DismissSession, DismissNever:
	case DismissDurable:
		if a.ExpireDays <= 0 {
			return fmt.Errorf("%w: %s: durable dismissal needs expire_days > 0", ErrInvalid, a.ID)
		}
	default:
		return fmt.Errorf("%w: %s: unknown dismissal policy %q", ErrInvalid, a.ID, a.Dismissal)
	}
	if r := a.Rules.Scroll; r != nil && (r.Percent < 0 || r.Percent > 100) {
		return fmt.Errorf("%w: %s: scroll percent out of range", ErrInvalid, a.ID)
	}
	if r := a.Rules.VisitCount; r != nil && r.Min < 1 {
		return fmt.Errorf("%w: %s: visit count min must be >= 1", ErrInvalid, a.ID)
	}
	if r := a.Rules.TimeOnPage; r != nil && r.Seconds < 0 {
		return fmt.Errorf("%w: %s: negative time on page", ErrInvalid, a.ID)
	}
	if r := a.Rules.Referrer; r != nil && r.Contains == "" {
		return fmt.Errorf("%w: %s: empty referrer substring", ErrInvalid, a.ID)
	}
	if a.ValidFrom != nil && a.ValidUntil != nil && a.ValidUntil.Before(*a.ValidFrom) {
		return fmt.Errorf("%w: %s: validity window ends before it starts", ErrInvalid, a.ID)
	}
	return nil
}

// WithinWindow reports whether now falls inside the validity window.
// An unset bound is open.
func (a *Announcement) WithinWindow(now time.Time) bool {
	if a.ValidFrom != nil && now.Before(*a.ValidFrom) {
		return false
	}
	if a.ValidUntil != nil && now.After(*a.ValidUntil) {
		return false
	}
	return true
}

// Expired reports whether the validity end date has passed.
func (a *Announcement) Expired(now time.Time) bool {
	return a.ValidUntil != nil && now.After(*a.ValidUntil)
}
