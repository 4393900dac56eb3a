package sink

import (
	"math"
	"testing"

	"skstream/internal/delta"
	"skstream/internal/ingest"
)

type countingSink struct {
	values, freshness, status, indications int
}

func (c *countingSink) Value(delta.Event)          { c.values++ }
func (c *countingSink) Freshness(string, bool)     { c.freshness++ }
func (c *countingSink) Status(ingest.Transition)   { c.status++ }
func (c *countingSink) Indicate(ingest.Indication) { c.indications++ }

type valueOnly struct{ values int }

func (v *valueOnly) Value(delta.Event)        { v.values++ }
func (v *valueOnly) Freshness(string, bool)   {}
func (v *valueOnly) Status(ingest.Transition) {}

func TestMultiFansOut(t *testing.T) {
	a, b := &countingSink{}, &valueOnly{}
	m := Multi{a, b, Nop{}}

	m.Value(delta.Event{Path: "navigation.headingMagnetic", Value: 1.0})
	m.Freshness("environment.heartbeat", true)
	m.Status(ingest.Transition{To: ingest.StateOpen})
	m.Indicate(ingest.Indication{Blink: true})

	if a.values != 1 || a.freshness != 1 || a.status != 1 || a.indications != 1 {
		t.Fatalf("counting sink: %+v", a)
	}
	if b.values != 1 {
		t.Fatalf("value-only sink: %+v", b)
	}
}

func TestDegrees(t *testing.T) {
	cases := []struct {
		rad  float64
		want int
	}{
		{0, 0},
		{math.Pi / 2, 90},
		{1.5708, 90},
		{math.Pi, 180},
		{1.0, 57},
		{-1.0, -57},
	}
	for _, c := range cases {
		if got := Degrees(c.rad); got != c.want {
			t.Fatalf("Degrees(%v): got %d want %d", c.rad, got, c.want)
		}
	}
}

func TestLogSinkIndicateTracksChanges(t *testing.T) {
	s := NewLogSink([]string{"navigation.headingMagnetic"})
	ind := ingest.Indication{
		State:   ingest.StateOpen,
		Health:  ingest.HealthHealthy,
		Signals: []ingest.SignalFreshness{{Path: "environment.heartbeat", Fresh: true}},
	}
	s.Indicate(ind)
	if !s.seen || !sameIndication(s.last, ind) {
		t.Fatalf("first indication not recorded")
	}

	ind.Signals[0].Fresh = false
	if sameIndication(s.last, ind) {
		t.Fatalf("recorded signals alias the caller's slice")
	}
	s.Indicate(ind)
	if s.last.Signals[0].Fresh {
		t.Fatalf("change not recorded")
	}

	s.Value(delta.Event{Path: "navigation.headingMagnetic", Value: 1.5708})
	s.Value(delta.Event{Path: "steering.autopilot.state", Value: "auto"})
}
