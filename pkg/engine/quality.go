package engine

import (
	"sync"
	"time"
)

// Quality tracks connection health from heartbeat round trips.
type Quality struct {
	mu      sync.Mutex
	samples int
	lastMs  float64
	ewmaMs  float64
}

// ewmaWeight is the weight of the newest sample.
const ewmaWeight = 0.25

// Record adds one round-trip latency sample.
func (q *Quality) Record(rtt time.Duration) {
	ms := float64(rtt) / float64(time.Millisecond)
	q.mu.Lock()
	defer q.mu.Unlock()
	q.lastMs = ms
	if q.samples == 0 {
		q.ewmaMs = ms
	} else {
		q.ewmaMs = ewmaWeight*ms + (1-ewmaWeight)*q.ewmaMs
	}
	q.samples++
}

// LatencyMs returns the smoothed round-trip latency in milliseconds.
func (q *Quality) LatencyMs() float64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.ewmaMs
}

// HalfTripMs estimates the one-way latency in milliseconds.
func (q *Quality) HalfTripMs() float64 {
	return q.LatencyMs() / 2
}

// Samples returns the number of recorded round trips.
func (q *Quality) Samples() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.samples
}
