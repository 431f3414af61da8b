// Package metrics provides the fire-and-forget counters and timers used by the
// crash processor.
package metrics

import (
	"sync"
	"time"
)

// Sink receives metric events. Implementations must be safe for concurrent use.
type Sink interface {
	Incr(name string)
	Timing(name string, d time.Duration)
}

// Nop discards every event.
type Nop struct{}

// Incr implements Sink.
func (Nop) Incr(string) {}

// Timing implements Sink.
func (Nop) Timing(string, time.Duration) {}

// Recorder keeps counters in memory. It backs tests and the batch summary.
type Recorder struct {
	mu       sync.Mutex
	counters map[string]int
	timings  map[string][]time.Duration
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{
		counters: make(map[string]int),
		timings:  make(map[string][]time.Duration),
	}
}

// Incr implements Sink.
func (r *Recorder) Incr(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.counters[name]++
}

// Timing implements Sink.
func (r *Recorder) Timing(name string, d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.timings[name] = append(r.timings[name], d)
}

// Count returns how many times name was incremented.
func (r *Recorder) Count(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.counters[name]
}

// Counters returns a copy of every counter.
func (r *Recorder) Counters() map[string]int {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]int, len(r.counters))
	for k, v := range r.counters {
		out[k] = v
	}

	return out
}

// Timings returns the number of durations recorded under name.
func (r *Recorder) Timings(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.timings[name])
}

// Multi fans every event out to several sinks.
type Multi []Sink

// Incr implements Sink.
func (m Multi) Incr(name string) {
	for _, s := range m {
		s.Incr(name)
	}
}

// Timing implements Sink.
func (m Multi) Timing(name string, d time.Duration) {
	for _, s := range m {
		s.Timing(name, d)
	}
}
