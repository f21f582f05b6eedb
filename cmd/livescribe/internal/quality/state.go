// Package quality tracks recognition quality over a rolling window and maps
// it onto segmenter parameters.
package quality

import "time"

// DefaultWindow is the number of recognition outcomes averaged.
const DefaultWindow = 8

// Observation is the outcome of one chunk's recognition.
type Observation struct {
	Confidence float64
	Latency    time.Duration
	Failed     bool
	TimedOut   bool
}

// Snapshot summarizes the window. AvgConfidence and AvgLatency cover
// successful observations only; failures show up in the rates.
type Snapshot struct {
	Count         int           `json:"count"`
	AvgConfidence float64       `json:"avg_confidence"`
	AvgLatency    time.Duration `json:"avg_latency"`
	FailureRate   float64       `json:"failure_rate"`
	TimeoutRate   float64       `json:"timeout_rate"`
}

// State is the rolling window. It is owned by the pipeline's sequencing
// goroutine and is not synchronized.
type State struct {
	obs  []Observation
	next int
	full bool
}

// NewState returns an empty window of the given size.
func NewState(window int) *State {
	if window < 1 {
		window = DefaultWindow
	}
	return &State{obs: make([]Observation, window)}
}

// Observe records one outcome, evicting the oldest when full.
func (s *State) Observe(o Observation) {
	s.obs[s.next] = o
	s.next = (s.next + 1) % len(s.obs)
	if s.next == 0 {
		s.full = true
	}
}



// Snapshot computes the window averages.
func (s *State) Snapshot() Snapshot {
	n := s.next
	if s.full {
		n = len(s.obs)
	}
	snap := Snapshot{Count: n}
	if n == 0 {
		return snap
	}
	var ok, failed, timedOut int
	var conf float64
	var lat time.Duration
	for _, o := range s.obs[:n] {
		switch {
		case o.Failed:
			failed++
			if o.TimedOut {
				timedOut++
			}
		default:
			ok++
			conf += o.Confidence
			lat += o.Latency
		}
	}
	if ok > 0 {
		snap.AvgConfidence = conf / float64(ok)
		snap.AvgLatency = lat / time.Duration(ok)
	}
	snap.FailureRate = float64(failed) / float64(n)
	snap.TimeoutRate = float64(timedOut) / float64(n)
	return snap
}
