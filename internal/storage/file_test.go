package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"announcement-engine/internal/announce"
)

const sampleYAML = `
announcements:
  - id: winter-sale
    label: Winter sale
    priority: 10
    dismissal: durable
    expire_days: 14
    override_token: sneak
    rules:
      scroll:
        percent: 40
      time_on_page:
        seconds: 8
    payload:
      headline: "Everything -20%"
      cta: "Shop now"
  - id: newsletter
    label: Newsletter nudge
    priority: 1
    rules:
      exit_intent: {}
      visit_count:
        min: 3
`

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "announcements.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadFile(t *testing.T) {
	anns, err := LoadFile(writeTemp(t, sampleYAML))
	require.NoError(t, err)
	require.Len(t, anns, 2)

	sale := anns[0]
	assert.Equal(t, "winter-sale", sale.ID)
	assert.Equal(t, 10, sale.Priority)
	assert.Equal(t, announce.DismissDurable, sale.Dismissal)
	assert.Equal(t, 14, sale.ExpireDays)
	assert.Equal(t, "sneak", sale.OverrideToken)
	require.NotNil(t, sale.Rules.Scroll)
	assert.Equal(t, 40, sale.Rules.Scroll.Percent)
	require.NotNil(t, sale.Rules.TimeOnPage)
	assert.Equal(t, 8, sale.Rules.TimeOnPage.Seconds)
	assert.JSONEq(t, `{"headline":"Everything -20%","cta":"Shop now"}`, string(sale.Payload))
	require.NoError(t, sale.Validate())

	nl := anns[1]
	assert.Equal(t, announce.DismissSession, nl.Dismissal, "dismissal defaults to session")
	require.NotNil(t, nl.Rules.ExitIntent)
	require.NotNil(t, nl.Rules.VisitCount)
	assert.Equal(t, 3, nl.Rules.VisitCount.Min)
	assert.Nil(t, nl.Rules.Scroll)
	require.NoError(t, nl.Validate())
}

func TestLoadFile_Missing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadFile_Malformed(t *testing.T) {
	_, err := LoadFile(writeTemp(t, "announcements: {not a list}"))
	assert.Error(t, err)
}

func TestDefinitions_Snapshot(t *testing.T) {
	defs := NewDefinitions()
	assert.Nil(t, defs.Active())

	defs.Replace([]*announce.Announcement{{ID: "a"}})
	require.Len(t, defs.Active(), 1)
	assert.Equal(t, "a", defs.Active()[0].ID)
}
