package sink

import (
	"math"
	"strings"

	"github.com/yanun0323/logs"

	"skstream/internal/delta"
	"skstream/internal/ingest"
)

// LogSink prints values, freshness edges and transitions to the log.
// Paths listed as angles are printed in whole degrees.
type LogSink struct {
	angles map[string]struct{}
	last   ingest.Indication
	seen   bool
}

// NewLogSink returns a console sink. anglePaths carry radians.
func NewLogSink(anglePaths []string) *LogSink {
	angles := make(map[string]struct{}, len(anglePaths))
	for _, p := range anglePaths {
		angles[p] = struct{}{}
	}
	return &LogSink{angles: angles}
}

func (s *LogSink) Value(ev delta.Event) {
	if _, ok := s.angles[ev.Path]; ok {
		if rad, ok := delta.Float(ev.Value); ok {
			logs.Infof("%s = %d deg", ev.Path, Degrees(rad))
			return
		}
	}
	logs.Infof("%s = %v", ev.Path, ev.Value)
}

func (s *LogSink) Freshness(path string, fresh bool) {
	if fresh {
		logs.Infof("%s is fresh", path)
		return
	}
	logs.Errorf("%s is stale", path)
}

func (s *LogSink) Status(t ingest.Transition) {
	logs.Infof("status %s -> %s: %s", t.From, t.To, t.Reason)
}

// Indicate logs the indicator only when it changes; the blink phase is ignored.
func (s *LogSink) Indicate(ind ingest.Indication) {
	if s.seen && sameIndication(s.last, ind) {
		return
	}
	s.seen = true
	s.last = ind
	s.last.Signals = append([]ingest.SignalFreshness(nil), ind.Signals...)

	var b strings.Builder
	for i, sig := range ind.Signals {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(sig.Path)
		if sig.Fresh {
			b.WriteString(":fresh")
		} else {
			b.WriteString(":stale")
		}
	}
	logs.Infof("indicator state=%s health=%s [%s]", ind.State, ind.Health, b.String())
}

func sameIndication(a, b ingest.Indication) bool {
	if a.State != b.State || a.Health != b.Health || len(a.Signals) != len(b.Signals) {
		return false
	}
	for i := range a.Signals {
		if a.Signals[i] != b.Signals[i] {
			return false
		}
	}
	return true
}

// Degrees converts radians to whole degrees, truncating toward zero.
func Degrees(rad float64) int {
	return int(rad * 180 / math.Pi)
}
