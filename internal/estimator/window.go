package estimator

import "sync"

const DefaultWindowSize = 8

// Window is a bounded FIFO of variance samples. Readers get copies.
type Window struct {
	mu      sync.RWMutex
	size    int
	samples []float64
}

func NewWindow(size int) *Window {
	if size <= 0 {
		size = DefaultWindowSize
	}
	return &Window{size: size, samples: make([]float64, 0, size)}
}

// Push appends v, evicting the oldest sample when full. It reports whether
// a sample was evicted.
func (w *Window) Push(v float64) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	evicted := len(w.samples) == w.size
	if evicted {
		copy(w.samples, w.samples[1:])
		w.samples = w.samples[:w.size-1]
	}
	w.samples = append(w.samples, v)
	return evicted
}

// Reset drops every sample.
func (w *Window) Reset() {
	w.mu.Lock()
	w.samples = w.samples[:0]
	w.mu.Unlock()
}

func (w *Window) Len() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.samples)
}

func (w *Window) Cap() int { return w.size }

// Snapshot returns the samples oldest first.
func (w *Window) Snapshot() []float64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return append([]float64(nil), w.samples...)
}

// Average is the mean sample; ok is false while the window is empty.
func (w *Window) Average() (avg float64, ok bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if len(w.samples) == 0 {
		return 0, false
	}
	var sum float64
	for _, v := range w.samples {
		sum += v
	}
	return sum / float64(len(w.samples)), true
}
