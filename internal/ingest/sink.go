package ingest

import "skstream/internal/delta"

// Sink consumes routed events. Calls come from the ingestion goroutine only.
type Sink interface {
	// Value receives a deduplicated entry; filtered paths carry the smoothed value.
	Value(ev delta.Event)
	// Freshness receives monitor edges only.
	Freshness(path string, fresh bool)
	// Status receives connection state changes.
	Status(t Transition)
}

// Indication is one tick of the indicator task.
type Indication struct {
	Blink   bool
	State   ConnectionState
	Health  Health
	Signals []SignalFreshness
}

// Indicator renders freshness and health. It is driven by RunIndicator.
type Indicator interface {
	Indicate(ind Indication)
}
