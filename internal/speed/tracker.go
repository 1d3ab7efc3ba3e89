// Package speed implements a rolling-window byte throughput estimator shared
// by the send and receive tasks for their Progress events.
package speed

import (
	"sync"
	"time"
)

const (
	// defaultWindow is how far back samples are kept.
	defaultWindow = 5 * time.Second

	// minSpan is the minimum elapsed time between the oldest and newest
	// retained sample before a speed estimate is trusted; below it a
	// single scheduler hiccup can make the estimate wildly noisy.
	minSpan = 100 * time.Millisecond
)

type sample struct {
	at       time.Time
	cumBytes int64
}

// Tracker maintains a bounded chronological sequence of (time, cumulative
// bytes) samples and derives a smoothed bytes-per-second estimate from them.
// A pure instantaneous derivative between the last two samples is too noisy
// for a progress UI; averaging over a window smooths it without introducing
// meaningful end-of-transfer lag. Safe for concurrent use.
type Tracker struct {
	mu      sync.Mutex
	window  time.Duration
	samples []sample
}

// New returns a Tracker using the default 5 second window.
func New() *Tracker {
	return NewWithWindow(defaultWindow)
}

// NewWithWindow returns a Tracker with a caller-chosen window.
func NewWithWindow(window time.Duration) *Tracker {
	return &Tracker{window: window}
}

// AddSample records a new cumulative byte count at the current time and
// evicts any samples that have fallen out of the window.
func (t *Tracker) AddSample(cumBytes int64) {
	t.addSampleAt(time.Now(), cumBytes)
}

func (t *Tracker) addSampleAt(now time.Time, cumBytes int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.samples = append(t.samples, sample{at: now, cumBytes: cumBytes})

	cutoff := now.Add(-t.window)
	i := 0
	for i < len(t.samples) && t.samples[i].at.Before(cutoff) {
		i++
	}
	if i > 0 {
		t.samples = t.samples[i:]
	}
}

// SpeedBPS returns the current smoothed bytes-per-second estimate. It is 0
// if fewer than two samples are retained, or if the span between the oldest
// and newest retained sample is under 100ms.
func (t *Tracker) SpeedBPS() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.samples) < 2 {
		return 0
	}
	oldest := t.samples[0]
	newest := t.samples[len(t.samples)-1]
	span := newest.at.Sub(oldest.at)
	if span < minSpan {
		return 0
	}
	deltaBytes := newest.cumBytes - oldest.cumBytes
	bps := float64(deltaBytes) / span.Seconds()
	if bps < 0 {
		return 0
	}
	return int64(bps + 0.5)
}
