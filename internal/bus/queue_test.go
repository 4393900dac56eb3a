package bus

import (
	"context"
	"errors"
	"testing"
	"time"

	"skstream/pkg/exception"
)

func TestQueueRejectsWhenFull(t *testing.T) {
	q := NewQueue[int](2)
	if err := q.TryPublish(1); err != nil {
		t.Fatalf("publish 1: %v", err)
	}
	if err := q.TryPublish(2); err != nil {
		t.Fatalf("publish 2: %v", err)
	}
	if err := q.TryPublish(3); !errors.Is(err, exception.ErrQueueFull) {
		t.Fatalf("publish 3: got %v want queue full", err)
	}
	if q.Len() != 2 {
		t.Fatalf("len: got %d", q.Len())
	}
}

func TestQueueClose(t *testing.T) {
	q := NewQueue[string](4)
	_ = q.TryPublish("a")
	q.Close()
	q.Close()
	if err := q.TryPublish("b"); !errors.Is(err, exception.ErrQueueClosed) {
		t.Fatalf("publish after close: got %v", err)
	}

	var got []string
	q.Run(context.Background(), func(s string) { got = append(got, s) })
	if len(got) != 1 || got[0] != "a" {
		t.Fatalf("drained after close: %v", got)
	}
}

func TestQueueRunBatch(t *testing.T) {
	q := NewQueue[int](16)
	for i := 0; i < 5; i++ {
		_ = q.TryPublish(i)
	}
	q.Close()

	var sizes []int
	total := 0
	q.RunBatch(context.Background(), 3, func(batch []int) {
		sizes = append(sizes, len(batch))
		total += len(batch)
	})
	if total != 5 {
		t.Fatalf("total: got %d want 5", total)
	}
	if len(sizes) != 2 || sizes[0] != 3 || sizes[1] != 2 {
		t.Fatalf("batch sizes: %v", sizes)
	}
}

func TestQueueRunStopsOnContext(t *testing.T) {
	q := NewQueue[int](1)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		q.Run(ctx, func(int) {})
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("run did not stop")
	}
}
