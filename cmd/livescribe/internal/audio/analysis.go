package audio

import "math"

const fullScale = 32768.0

// RMS returns the root-mean-square amplitude of samples normalized to [0,1].
func RMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s) / fullScale
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// DBFS converts a normalized RMS value to decibels relative to full scale.
// Silence maps to -120.
func DBFS(rms float64) float64 {
	if rms <= 1e-6 {
		return -120
	}
	return 20 * math.Log10(rms)
}

// ZeroCrossingRate returns the fraction of adjacent sample pairs on the first
// channel whose signs differ.
func ZeroCrossingRate(samples []int16, channels int) float64 {
	if channels < 1 {
		channels = 1
	}
	var crossings, pairs int
	prev := 0
	first := true
	for i := 0; i < len(samples); i += channels {
		s := int(samples[i])
		if !first {
			pairs++
			if (prev >= 0) != (s >= 0) {
				crossings++
			}
		}
		prev = s
		first = false
	}
	if pairs == 0 {
		return 0
	}
	return float64(crossings) / float64(pairs)
}

// VAD is an energy/zero-crossing voice activity heuristic. A window is speech
// when its energy clears EnergyThreshold and its zero-crossing rate is below
// MaxZCR; broadband hiss crosses zero far more often than voiced speech. Loud
// windows (four times the threshold) count as speech regardless of ZCR.
type VAD struct {
	EnergyThreshold float64
	MaxZCR          float64
}

// DefaultVAD matches the 0.01 full-scale silence floor used by the level meter.
var DefaultVAD = VAD{EnergyThreshold: 0.01, MaxZCR: 0.5}

// Features is the per-window analysis shared by the segmenter and the
// speaker tracker.
type Features struct {
	RMS    float64
	ZCR    float64
	Speech bool
}

// Analyze computes the features for one window.
func (v VAD) Analyze(samples []int16, channels int) Features {
	rms := RMS(samples)
	zcr := ZeroCrossingRate(samples, channels)
	speech := false
	if rms >= v.EnergyThreshold {
		speech = zcr <= v.MaxZCR || rms >= 4*v.EnergyThreshold
	}
	return Features{RMS: rms, ZCR: zcr, Speech: speech}
}

// Level is a coarse input-level classification for user feedback.
type Level string

const (
	LevelSilent Level = "silent"
	LevelGood   Level = "good"
	LevelLoud   Level = "loud"
)

const (
	levelSilenceRMS = 0.01
	levelLoudRMS    = 0.8
	levelHistory    = 20
)

// ClassifyLevel maps an RMS value onto silent/good/loud.
func ClassifyLevel(rms float64) Level {
	switch {
	case rms < levelSilenceRMS:
		return LevelSilent
	case rms > levelLoudRMS:
		return LevelLoud
	default:
		return LevelGood
	}
}

// LevelMeter smooths RMS over the last 20 observations.
type LevelMeter struct {
	history []float64
	next    int
	full    bool
}

// NewLevelMeter returns an empty meter.
func NewLevelMeter() *LevelMeter {
	return &LevelMeter{history: make([]float64, levelHistory)}
}

// Observe records rms and returns the smoothed level.
func (m *LevelMeter) Observe(rms float64) (Level, float64) {
	m.history[m.next] = rms
	m.next = (m.next + 1) % len(m.history)
	if m.next == 0 {
		m.full = true
	}
	n := m.next
	if m.full {
		n = len(m.history)
	}
	var sum float64
	for i := 0; i < n; i++ {
		sum += m.history[i]
	}
	avg := sum / float64(n)
	return ClassifyLevel(avg), avg
}
