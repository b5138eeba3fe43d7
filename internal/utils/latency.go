package utils

import (
	"sort"
	"sync"
	"time"
)

// Window is a bounded FIFO; pushing beyond capacity evicts the oldest entry.
type Window[T any] struct {
	mu      sync.RWMutex
	items   []T
	maxSize int
}

// NewWindow creates a window storing up to maxSize items.
func NewWindow[T any](maxSize int) *Window[T] {
	if maxSize <= 0 {
		maxSize = 512
	}
	return &Window[T]{maxSize: maxSize, items: make([]T, 0, maxSize)}
}

// Push appends v, evicting the oldest item when full.
func (w *Window[T]) Push(v T) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.items = append(w.items, v)
	if len(w.items) > w.maxSize {
		// Drop oldest sample to bound memory.
		copy(w.items[0:], w.items[1:])
		w.items = w.items[:w.maxSize]
	}
}

// Snapshot returns a copy of the items, oldest first.
func (w *Window[T]) Snapshot() []T {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return append([]T(nil), w.items...)
}

// Len returns the number of stored items.
func (w *Window[T]) Len() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.items)
}

// Cap returns the configured maximum size.
func (w *Window[T]) Cap() int {
	return w.maxSize
}

// LatencyTracker stores recent duration samples and computes percentiles.
type LatencyTracker struct {
	window *Window[time.Duration]
}

// NewLatencyTracker creates a tracker storing up to maxSize samples.
func NewLatencyTracker(maxSize int) *LatencyTracker {
	return &LatencyTracker{window: NewWindow[time.Duration](maxSize)}
}

// Observe records a new duration.
func (l *LatencyTracker) Observe(d time.Duration) {
	l.window.Push(d)
}

// Percentile returns the percentile (0-100) duration. Returns zero if no samples.
func (l *LatencyTracker) Percentile(p float64) time.Duration {
	sorted := l.window.Snapshot()
	if len(sorted) == 0 {
		return 0
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	if p <= 0 {
		return sorted[0]
	}
	if p >= 100 {
		return sorted[len(sorted)-1]
	}

	index := int((p / 100.0) * float64(len(sorted)-1))
	if index < 0 {
		index = 0
	}
	if index >= len(sorted) {
		index = len(sorted) - 1
	}
	return sorted[index]
}

// Count returns number of samples recorded.
func (l *LatencyTracker) Count() int {
	return l.window.Len()
}
