package quality

import (
	"fmt"
	"time"

	"github.com/houzhh15/livescribe/cmd/livescribe/internal/segmenter"
)

// Range bounds one adaptive parameter and sets its step size.
type Range struct {
	Min  time.Duration `yaml:"min" json:"min"`
	Max  time.Duration `yaml:"max" json:"max"`
	Step time.Duration `yaml:"step" json:"step"`
}

func (r Range) up(v time.Duration) time.Duration   { return r.clamp(v + r.Step) }
func (r Range) down(v time.Duration) time.Duration { return r.clamp(v - r.Step) }

func (r Range) clamp(v time.Duration) time.Duration {
	if v < r.Min {
		return r.Min
	}
	if v > r.Max {
		return r.Max
	}
	return v
}

// Policy configures the control loop. Between LowConfidence and
// HighConfidence parameters are held, which gives the loop hysteresis.
type Policy struct {
	LowConfidence   float64       `yaml:"low_confidence"`
	HighConfidence  float64       `yaml:"high_confidence"`
	TargetLatency   time.Duration `yaml:"target_latency"`
	MaxFailureRate  float64       `yaml:"max_failure_rate"`
	MinObservations int           `yaml:"min_observations"`

	Silence  Range `yaml:"silence_threshold"`
	MaxChunk Range `yaml:"max_chunk_duration"`
	Overlap  Range `yaml:"overlap_duration"`
}

// DefaultPolicy keeps every reachable parameter set valid for a segmenter
// with a one second minimum chunk.
var DefaultPolicy = Policy{
	LowConfidence:   0.6,
	HighConfidence:  0.85,
	TargetLatency:   3 * time.Second,
	MaxFailureRate:  0.2,
	MinObservations: 4,
	Silence:         Range{Min: 300 * time.Millisecond, Max: 1200 * time.Millisecond, Step: 100 * time.Millisecond},
	MaxChunk:        Range{Min: 4 * time.Second, Max: 12 * time.Second, Step: time.Second},
	Overlap:         Range{Min: 250 * time.Millisecond, Max: 1500 * time.Millisecond, Step: 250 * time.Millisecond},
}

// Validate checks that bounds are ordered and every reachable combination is
// a valid segmenter configuration for minChunk.
func (p Policy) Validate(minChunk time.Duration) error {
	for name, r := range map[string]Range{"silence_threshold": p.Silence, "max_chunk_duration": p.MaxChunk, "overlap_duration": p.Overlap} {
		if r.Min < 0 || r.Min > r.Max || r.Step <= 0 {
			return fmt.Errorf("quality.%s: need 0 <= min <= max and step > 0, got %+v", name, r)
		}
	}
	if p.Silence.Min <= 0 {
		return fmt.Errorf("quality.silence_threshold.min must be positive")
	}
	if 2*p.Overlap.Max > p.MaxChunk.Min {
		return fmt.Errorf("quality: overlap max %s must be at most half of max_chunk min %s", p.Overlap.Max, p.MaxChunk.Min)
	}
	if minChunk > p.MaxChunk.Min {
		return fmt.Errorf("quality: min_chunk_duration %s exceeds max_chunk min %s", minChunk, p.MaxChunk.Min)
	}
	if p.LowConfidence > p.HighConfidence {
		return fmt.Errorf("quality: low_confidence %.2f above high_confidence %.2f", p.LowConfidence, p.HighConfidence)
	}
	return nil
}

// Verdict classifies a snapshot.
type Verdict string

const (
	VerdictHold     Verdict = "hold"
	VerdictDegraded Verdict = "degraded"
	VerdictGood     Verdict = "good"
)

// Classify decides which way the parameters should move.
func (p Policy) Classify(s Snapshot) Verdict {
	if s.Count < p.MinObservations {
		return VerdictHold
	}
	if s.FailureRate > p.MaxFailureRate {
		return VerdictDegraded
	}
	if s.FailureRate < 1 && s.AvgConfidence < p.LowConfidence {
		return VerdictDegraded
	}
	if s.FailureRate == 0 && s.AvgConfidence >= p.HighConfidence && s.AvgLatency <= p.TargetLatency {
		return VerdictGood
	}
	return VerdictHold
}

// Adapt returns the parameters for the next chunk. It is a pure function:
// degraded quality buys more context and faster feedback (longer overlap,
// shorter chunks, shorter silence cut), good quality moves the other way.
// Each call moves each parameter by at most one step and never past its
// bounds, so a steady input reaches a fixed point.
func Adapt(s Snapshot, current segmenter.Params, p Policy) segmenter.Params {
	next := current
	switch p.Classify(s) {
	case VerdictDegraded:
		next.OverlapDuration = p.Overlap.up(current.OverlapDuration)
		next.MaxChunkDuration = p.MaxChunk.down(current.MaxChunkDuration)
		next.SilenceThreshold = p.Silence.down(current.SilenceThreshold)
	case VerdictGood:
		next.OverlapDuration = p.Overlap.down(current.OverlapDuration)
		next.MaxChunkDuration = p.MaxChunk.up(current.MaxChunkDuration)
		next.SilenceThreshold = p.Silence.up(current.SilenceThreshold)
	default:
		next.OverlapDuration = p.Overlap.clamp(current.OverlapDuration)
		next.MaxChunkDuration = p.MaxChunk.clamp(current.MaxChunkDuration)
		next.SilenceThreshold = p.Silence.clamp(current.SilenceThreshold)
	}
	return next
}
