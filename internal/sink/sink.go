// Package sink holds the consumers of routed telemetry.
package sink

import (
	"skstream/internal/delta"
	"skstream/internal/ingest"
)

// Multi fans every call out to each sink in order.
type Multi []ingest.Sink

func (m Multi) Value(ev delta.Event) {
	for _, s := range m {
		s.Value(ev)
	}
}

func (m Multi) Freshness(path string, fresh bool) {
	for _, s := range m {
		s.Freshness(path, fresh)
	}
}

func (m Multi) Status(t ingest.Transition) {
	for _, s := range m {
		s.Status(t)
	}
}

// Indicate forwards to the members that render indications.
func (m Multi) Indicate(ind ingest.Indication) {
	for _, s := range m {
		if i, ok := s.(ingest.Indicator); ok {
			i.Indicate(ind)
		}
	}
}

// Nop discards everything.
type Nop struct{}

func (Nop) Value(delta.Event)          {}
func (Nop) Freshness(string, bool)     {}
func (Nop) Status(ingest.Transition)   {}
func (Nop) Indicate(ingest.Indication) {}
