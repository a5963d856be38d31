package metrics

import (
	"sync"
	"time"
)

// sinkCapacity bounds how many recent samples StatSink keeps per statistic;
// older samples are dropped once the ring is full.
const sinkCapacity = 64

// Sample is one retained data point.
type Sample struct {
	At    time.Time
	Value float64
}

// StatSink is an in-memory ring-buffer implementation of
// pkg/manager.StatSink. It satisfies that interface structurally (no import
// of pkg/manager is needed, avoiding a metrics->manager->metrics cycle) and
// exposes Samples for the dev harness and tests to inspect what plugins
// reported.
type StatSink struct {
	mu      sync.Mutex
	samples map[string][]Sample
}

// NewStatSink returns an empty sink.
func NewStatSink() *StatSink {
	return &StatSink{samples: make(map[string][]Sample)}
}

func sinkKey(recordID, name string) string {
	return recordID + "\x00" + name
}

// Observe appends one sample, dropping the oldest once sinkCapacity is
// reached, and increments the low-cardinality ingestion counter.
func (s *StatSink) Observe(recordID, name string, at time.Time, value float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := sinkKey(recordID, name)
	buf := append(s.samples[key], Sample{At: at, Value: value})
	if len(buf) > sinkCapacity {
		buf = buf[len(buf)-sinkCapacity:]
	}
	s.samples[key] = buf
	StatSamplesIngestedTotal.Inc()
}

// Clear discards every retained sample for (recordID, name), called when a
// statistic's declared sample period changes or when the statistic's record
// is deleted.
func (s *StatSink) Clear(recordID, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.samples, sinkKey(recordID, name))
}

// Samples returns a copy of the retained samples for (recordID, name).
func (s *StatSink) Samples(recordID, name string) []Sample {
	s.mu.Lock()
	defer s.mu.Unlock()
	buf := s.samples[sinkKey(recordID, name)]
	out := make([]Sample, len(buf))
	copy(out, buf)
	return out
}
