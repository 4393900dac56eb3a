package websocket

import (
	"math"
	"testing"
	"time"
)

func TestBackoffDelaySchedule(t *testing.T) {
	b := DefaultBackoff()
	want := []time.Duration{5 * time.Second, 10 * time.Second, 20 * time.Second, 30 * time.Second, 30 * time.Second}
	for i, w := range want {
		if got := b.Delay(i); got != w {
			t.Fatalf("delay(%d): got %s want %s", i, got, w)
		}
	}
}

func TestBackoffMonotonicAndCapped(t *testing.T) {
	schedules := []Backoff{
		DefaultBackoff(),
		{Initial: 100 * time.Millisecond, Max: 3 * time.Second, Multiplier: 1.5},
		{Initial: time.Second, Max: time.Second, Multiplier: 3},
		{Initial: 2 * time.Second, Max: time.Second, Multiplier: 2},
		{Initial: time.Second, Max: 10 * time.Second, Multiplier: 0.5},
	}
	for _, b := range schedules {
		prev := time.Duration(0)
		for n := 0; n < 200; n++ {
			d := b.Delay(n)
			if d < prev {
				t.Fatalf("%+v: delay(%d)=%s decreased from %s", b, n, d, prev)
			}
			if d > b.Max {
				t.Fatalf("%+v: delay(%d)=%s above max", b, n, d)
			}
			prev = d
		}
	}
}

func TestBackoffCounterResetsAfterSuccess(t *testing.T) {
	c := NewBackoffCounter(DefaultBackoff())
	if d := c.Next(); d != 5*time.Second {
		t.Fatalf("first retry: got %s", d)
	}
	if d := c.Next(); d != 10*time.Second {
		t.Fatalf("second retry: got %s", d)
	}
	if c.Attempt() != 2 {
		t.Fatalf("attempt: got %d want 2", c.Attempt())
	}
	if d := c.Peek(); d != 20*time.Second {
		t.Fatalf("peek: got %s", d)
	}

	c.Reset()
	if c.Attempt() != 0 {
		t.Fatalf("attempt after reset: got %d", c.Attempt())
	}
	if d := c.Next(); d != DefaultBackoff().Delay(0) {
		t.Fatalf("retry after reset: got %s", d)
	}
}

func TestBackoffDelayAtLargeAttempts(t *testing.T) {
	flat := Backoff{Initial: 2 * time.Second, Max: 30 * time.Second, Multiplier: 1}
	uncapped := Backoff{Initial: time.Second, Multiplier: 2}

	start := time.Now()
	for i := 0; i < 1000; i++ {
		if d := flat.Delay(math.MaxInt32); d != 2*time.Second {
			t.Fatalf("flat schedule: got %s", d)
		}
		if d := uncapped.Delay(math.MaxInt32); d != time.Duration(math.MaxInt64) {
			t.Fatalf("uncapped schedule: got %s", d)
		}
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("delay cost grows with the attempt count: %s", elapsed)
	}

	if d := flat.Delay(7); d != 2*time.Second {
		t.Fatalf("flat schedule at 7: got %s", d)
	}
	if d := uncapped.Delay(3); d != 8*time.Second {
		t.Fatalf("uncapped schedule at 3: got %s", d)
	}
}
