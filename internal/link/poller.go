package link

import (
	"context"
	"time"

	"github.com/yanun0323/logs"

	"skstream/internal/obs"
)

// RunPoller samples the signal level every interval into metrics until ctx is done.
func RunPoller(ctx context.Context, interval time.Duration, src SignalReporter, metrics *obs.Metrics) error {
	if src == nil {
		<-ctx.Done()
		return ctx.Err()
	}
	if interval <= 0 {
		interval = 10 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	known := false
	for {
		dbm, ok := src.Signal()
		metrics.SetSignal(dbm, ok)
		switch {
		case ok:
			logs.Infof("link signal %.0f dBm", dbm)
		case known:
			logs.Errorf("link signal unavailable")
		}
		known = ok

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
