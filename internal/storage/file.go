package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"announcement-engine/internal/announce"
)

// fileAnnouncement is the YAML shape; payload is arbitrary YAML re-encoded
// to JSON so the engine can keep treating it as opaque.
type fileAnnouncement struct {
	ID            string           `yaml:"id"`
	Label         string           `yaml:"label"`
	Priority      int              `yaml:"priority"`
	Dismissal     string           `yaml:"dismissal"`
	ExpireDays    int              `yaml:"expire_days"`
	ValidFrom     *time.Time       `yaml:"valid_from"`
	ValidUntil    *time.Time       `yaml:"valid_until"`
	OverrideToken string           `yaml:"override_token"`
	Rules         announce.RuleSet `yaml:"rules"`
	Payload       map[string]any   `yaml:"payload"`
}

type fileDoc struct {
	Announcements []fileAnnouncement `yaml:"announcements"`
}

// LoadFile reads announcement definitions from a YAML file. Used for dev and
// tests when no postgres is configured.
func LoadFile(path string) ([]*announce.Announcement, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open definitions file: %w", err)
	}
	defer f.Close()

	var doc fileDoc
	if err := yaml.NewDecoder(f).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode definitions file %s: %w", path, err)
	}

	out := make([]*announce.Announcement, 0, len(doc.Announcements))
	for _, fa := range doc.Announcements {
		if fa.Dismissal == "" {
			fa.Dismissal = string(announce.DismissSession)
		}
		a := &announce.Announcement{
			ID:            fa.ID,
			Label:         fa.Label,
			Priority:      fa.Priority,
			Dismissal:     announce.DismissalPolicy(fa.Dismissal),
			ExpireDays:    fa.ExpireDays,
			ValidFrom:     fa.ValidFrom,
			ValidUntil:    fa.ValidUntil,
			OverrideToken: fa.OverrideToken,
			Rules:         fa.Rules,
		}
		if fa.Payload != nil {
			raw, err := json.Marshal(fa.Payload)
			if err != nil {
				return nil, fmt.Errorf("announcement %s: encode payload: %w", fa.ID, err)
			}
			a.Payload = raw
		}
		out = append(out, a)
	}
	return out, nil
}
