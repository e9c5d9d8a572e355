package observability

import (
	"github.com/rs/zerolog"

	"announcement-engine/internal/engine"
)

// AnalyticsSink is the default analytics collector: structured log line plus
// a counter per event type. Engines wrap it in an AsyncSink, so a slow or
// failing collector can never stall scheduling.
type AnalyticsSink struct {
	log zerolog.Logger
}

func NewAnalyticsSink(log zerolog.Logger) *AnalyticsSink {
	return &AnalyticsSink{log: log}
}

func (s *AnalyticsSink) Emit(ev engine.Event) {
	EventsTotal.WithLabelValues(string(ev.Type)).Inc()
	s.log.Info().
		Str("event", string(ev.Type)).
		Str("announcement", ev.AnnouncementID).
		Str("view", ev.ViewID).
		Time("at", ev.At).
		Msg("announcement event")
}
