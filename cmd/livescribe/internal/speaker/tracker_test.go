package speaker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func cue(startMs, endMs int, rms, zcr float64, text string) Cue {
	return Cue{
		Start: time.Duration(startMs) * time.Millisecond,
		End:   time.Duration(endMs) * time.Millisecond,
		RMS:   rms,
		ZCR:   zcr,
		Text:  text,
	}
}

func TestFirstSegmentIsSpeakerOne(t *testing.T) {
	tr := New(DefaultConfig())
	assert.Empty(t, tr.Current())

	label, turn := tr.Assign(cue(0, 2000, 0.1, 0.1, "hello everyone"))
	assert.Equal(t, "Speaker 1", label)
	assert.True(t, turn)
	assert.Equal(t, "Speaker 1", tr.Current())
}

func TestShortPauseContinuesSpeaker(t *testing.T) {
	tr := New(DefaultConfig())
	tr.Assign(cue(0, 2000, 0.1, 0.1, "let me share my screen"))

	label, turn := tr.Assign(cue(2500, 4000, 0.1, 0.1, "can everyone see it"))
	assert.Equal(t, "Speaker 1", label)
	assert.False(t, turn)
}

func TestLongPauseAlternatesSpeakers(t *testing.T) {
	tr := New(DefaultConfig())
	var labels []string
	for i, text := range []string{"question for you", "sure go ahead", "what is the timeline", "end of march"} {
		start := i * 4000
		label, _ := tr.Assign(cue(start, start+2000, 0.1, 0.1, text))
		labels = append(labels, label)
	}
	assert.Equal(t, []string{"Speaker 1", "Speaker 2", "Speaker 1", "Speaker 2"}, labels)
}

func TestPauseAtThresholdIsNotATurn(t *testing.T) {
	tr := New(DefaultConfig())
	tr.Assign(cue(0, 1000, 0.1, 0.1, "one"))
	_, turn := tr.Assign(cue(2500, 3000, 0.1, 0.1, "two"))
	assert.False(t, turn)
}

func TestEnergyJumpStartsTurn(t *testing.T) {
	tr := New(DefaultConfig())
	tr.Assign(cue(0, 2000, 0.02, 0.1, "I think we are done"))

	// 0.02 -> 0.2 is a 20dB jump with no pause
	label, turn := tr.Assign(cue(2100, 4000, 0.2, 0.1, "wait I have one more point"))
	assert.True(t, turn)
	assert.Equal(t, "Speaker 2", label)
}

func TestZCRJumpStartsTurn(t *testing.T) {
	tr := New(DefaultConfig())
	tr.Assign(cue(0, 2000, 0.1, 0.05, "deep voice speaking"))
	_, turn := tr.Assign(cue(2100, 4000, 0.1, 0.3, "bright tone answering"))
	assert.True(t, turn)
}

func TestContinuationSuppressesDiscontinuity(t *testing.T) {
	tests := []struct {
		name string
		text string
		turn bool
	}{
		{"connective", "and then we shipped it", false},
		{"spanish connective", "Pero no funcionó", false},
		{"repeated word", "budget was approved", false},
		{"unrelated", "who wants coffee", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := New(DefaultConfig())
			tr.Assign(cue(0, 2000, 0.02, 0.1, "we reviewed the budget"))
			_, turn := tr.Assign(cue(2100, 4000, 0.2, 0.1, tt.text))
			assert.Equal(t, tt.turn, turn)
		})
	}
}

func TestContinuationDoesNotSuppressSilenceTurn(t *testing.T) {
	tr := New(DefaultConfig())
	tr.Assign(cue(0, 2000, 0.1, 0.1, "that is all from me"))
	_, turn := tr.Assign(cue(5000, 6000, 0.1, 0.1, "and thanks for joining"))
	assert.True(t, turn)
}

func TestAdvanceBridgesUnrecognizedAudio(t *testing.T) {
	tr := New(DefaultConfig())
	tr.Advance(3000)
	assert.Empty(t, tr.Current())

	tr.Assign(cue(0, 4000, 0.1, 0.1, "first part of the talk"))
	// chunk 4000..8000 was heard but produced no text
	tr.Advance(8000)
	tr.Advance(6000)
	label, turn := tr.Assign(cue(7500, 12000, 0.1, 0.1, "third part of the talk"))
	assert.Equal(t, "Speaker 1", label)
	assert.False(t, turn)

	// without the advance the same spacing is a turn
	other := New(DefaultConfig())
	other.Assign(cue(0, 4000, 0.1, 0.1, "first part of the talk"))
	_, turn = other.Assign(cue(7500, 12000, 0.1, 0.1, "third part of the talk"))
	assert.True(t, turn)
}

func TestReturningSpeakerIsRecognized(t *testing.T) {
	tr := New(DefaultConfig())
	tr.Assign(cue(0, 2000, 0.02, 0.08, "quiet person talking"))
	tr.Assign(cue(2100, 4000, 0.3, 0.3, "loud voice answering"))

	label, turn := tr.Assign(cue(4100, 6000, 0.021, 0.08, "quiet person again"))
	assert.True(t, turn)
	assert.Equal(t, "Speaker 1", label)
}

func TestMaxSpeakersBoundsLabels(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxSpeakers = 2
	tr := New(cfg)

	seen := map[string]bool{}
	levels := []float64{0.001, 0.01, 0.1, 0.5, 0.002, 0.05}
	for i, rms := range levels {
		start := i * 5000
		label, _ := tr.Assign(cue(start, start+1000, rms, 0.1, "words"))
		seen[label] = true
	}
	assert.Len(t, seen, 2)

	single := New(Config{MaxSpeakers: 1})
	single.Assign(cue(0, 1000, 0.1, 0.1, "a"))
	label, turn := single.Assign(cue(9000, 10000, 0.1, 0.1, "b"))
	assert.Equal(t, "Speaker 1", label)
	assert.False(t, turn)
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())

	bad := DefaultConfig()
	bad.TurnSilence = 0
	assert.Error(t, bad.Validate())

	bad = DefaultConfig()
	bad.MaxSpeakers = 0
	assert.Error(t, bad.Validate())
}
