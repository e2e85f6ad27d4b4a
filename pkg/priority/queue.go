// Package priority is a two-lane queue where the high lane always drains first.
package priority

import (
	"context"
	"sync/atomic"
)

type Stats struct {
	HighPush int64
	LowPush  int64
	HighPop  int64
	LowPop   int64
	Rejected int64
}

type Queue[T any] struct {
	high     chan T
	low      chan T
	highPush atomic.Int64
	lowPush  atomic.Int64
	highPop  atomic.Int64
	lowPop   atomic.Int64
	rejected atomic.Int64
}

func New[T any](highCap, lowCap int) *Queue[T] {
	return &Queue[T]{
		high: make(chan T, highCap),
		low:  make(chan T, lowCap),
	}
}

func (q *Queue[T]) TryPushHigh(v T) bool {
	select {
	case q.high <- v:
		q.highPush.Add(1)
		return true
	default:
		q.rejected.Add(1)
		return false
	}
}

func (q *Queue[T]) TryPushLow(v T) bool {
	select {
	case q.low <- v:
		q.lowPush.Add(1)
		return true
	default:
		q.rejected.Add(1)
		return false
	}
}

// Pop blocks until an item is available or ctx is done.
func (q *Queue[T]) Pop(ctx context.Context) (T, bool) {
	select {
	case v := <-q.high:
		q.highPop.Add(1)
		return v, true
	default:
	}
	select {
	case v := <-q.high:
		q.highPop.Add(1)
		return v, true
	case v := <-q.low:
		q.lowPop.Add(1)
		return v, true
	case <-ctx.Done():
		var zero T
		return zero, false
	}
}

// TryPop returns the next item without blocking.
func (q *Queue[T]) TryPop() (T, bool) {
	select {
	case v := <-q.high:
		q.highPop.Add(1)
		return v, true
	default:
	}
	select {
	case v := <-q.low:
		q.lowPop.Add(1)
		return v, true
	default:
		var zero T
		return zero, false
	}
}

func (q *Queue[T]) Len() int { return len(q.high) + len(q.low) }

func (q *Queue[T]) Stats() Stats {
	return Stats{
		HighPush: q.highPush.Load(),
		LowPush:  q.lowPush.Load(),
		HighPop:  q.highPop.Load(),
		LowPop:   q.lowPop.Load(),
		Rejected: q.rejected.Load(),
	}
}
