package priority

import (
	"context"
	"testing"
	"time"
)

func TestHighLaneDrainsFirst(t *testing.T) {
	q := New[string](2, 2)
	q.TryPushLow("low-1")
	q.TryPushLow("low-2")
	q.TryPushHigh("high")

	want := []string{"high", "low-1", "low-2"}
	for _, w := range want {
		got, ok := q.Pop(context.Background())
		if !ok || got != w {
			t.Fatalf("expected %q, got %q", w, got)
		}
	}
	stats := q.Stats()
	if stats.HighPop != 1 || stats.LowPop != 2 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestPushRejectsWhenFull(t *testing.T) {
	q := New[int](1, 1)
	if !q.TryPushLow(1) || q.TryPushLow(2) {
		t.Fatalf("expected second low push to be rejected")
	}
	if q.Stats().Rejected != 1 || q.Len() != 1 {
		t.Fatalf("unexpected queue state %+v", q.Stats())
	}
}

func TestPopHonorsContext(t *testing.T) {
	q := New[int](1, 1)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, ok := q.Pop(ctx); ok {
		t.Fatalf("expected pop to give up on context")
	}
}

func TestTryPop(t *testing.T) {
	q := New[int](1, 1)
	if _, ok := q.TryPop(); ok {
		t.Fatalf("expected empty queue")
	}
	q.TryPushLow(2)
	q.TryPushHigh(1)
	if v, _ := q.TryPop(); v != 1 {
		t.Fatalf("expected high item first, got %d", v)
	}
	if v, _ := q.TryPop(); v != 2 {
		t.Fatalf("expected low item, got %d", v)
	}
}
