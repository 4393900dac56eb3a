package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/yanun0323/logs"

	"skstream/internal/obs"
)

// ReportStatistics logs counters and the frame gap window every interval until ctx is done.
func ReportStatistics(ctx context.Context, interval time.Duration, metrics *obs.Metrics) error {
	if metrics == nil {
		<-ctx.Done()
		return ctx.Err()
	}
	if interval <= 0 {
		interval = time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	prev := metrics.Snapshot()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			cur := metrics.Snapshot()
			logs.Info(FormatStatistics(prev, cur, metrics.TakeWindow()))
			prev = cur
		}
	}
}

// FormatStatistics renders one report line from two snapshots and a gap window.
func FormatStatistics(prev, cur obs.Snapshot, window obs.LatencySnapshot) string {
	var frames uint64
	for op, n := range cur.Frames {
		frames += n - prev.Frames[op]
	}
	line := fmt.Sprintf("stats: frames=%d bytes=%d values=%d skipped=%d decode_errors=%d timeouts=%d reconnects=%d",
		frames,
		cur.PayloadBytes-prev.PayloadBytes,
		cur.ValuesReceived-prev.ValuesReceived,
		cur.ValuesSkipped-prev.ValuesSkipped,
		cur.DecodeErrors-prev.DecodeErrors,
		cur.ReadTimeouts-prev.ReadTimeouts,
		cur.Connects-prev.Connects,
	)
	if window.Count > 0 {
		line += fmt.Sprintf(" gap_min=%s gap_avg=%s gap_max=%s", window.Min, window.Avg, window.Max)
	}
	if cur.SignalKnown {
		line += fmt.Sprintf(" signal=%.0fdBm", cur.Signal)
	}
	return line
}
