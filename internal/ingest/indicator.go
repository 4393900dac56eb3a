package ingest

import (
	"context"
	"time"
)

// StatusSource exposes the current status. Supervisor implements it.
type StatusSource interface {
	Snapshot() Status
}

// RunIndicator calls ind every interval with an alternating blink phase until ctx is done.
// It only reads status; it never touches monitor state.
func RunIndicator(ctx context.Context, interval time.Duration, src StatusSource, ind Indicator) error {
	if src == nil || ind == nil {
		<-ctx.Done()
		return ctx.Err()
	}
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	blink := false
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			blink = !blink
			st := src.Snapshot()
			ind.Indicate(Indication{
				Blink:   blink,
				State:   st.State,
				Health:  st.Health,
				Signals: st.Signals,
			})
		}
	}
}
