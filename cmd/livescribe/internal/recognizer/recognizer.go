// Package recognizer provides an abstraction layer for speech recognition
// services. It defines the Recognizer interface implemented by the HTTP
// whisper server, OpenAI and Deepgram backends, and the Client that adds
// per-call timeouts and bounded retries on top of any of them.
package recognizer

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/houzhh15/livescribe/cmd/livescribe/internal/audio"
)

// Request is one chunk of audio to recognize.
type Request struct {
	// ChunkID identifies the chunk in logs and in the multipart file name
	ChunkID uint64

	// Samples is interleaved s16 PCM in Format
	Samples []int16
	Format  audio.Format

	// Language is an optional ISO-639-1 hint (e.g., "en", "es")
	Language string

	// Prompt optionally conditions the recognizer on preceding text
	Prompt string
}

// WAV encodes the request audio as an in-memory WAV file.
func (r Request) WAV() []byte { return audio.EncodeWAV(r.Samples, r.Format) }

// Transcription is what a backend returns for one request.
type Transcription struct {
	// Text is the recognized text; empty when the chunk held no words
	Text string `json:"text"`

	// Confidence in [0,1]. Backends that do not report one use DefaultConfidence.
	Confidence float64 `json:"confidence"`

	// Language is the detected or requested language code
	Language string `json:"language,omitempty"`
}

// DefaultConfidence is reported when a backend gives no usable score.
const DefaultConfidence = 0.8

// Recognizer defines the standard interface for speech recognition backends.
// Implementations must respect ctx cancellation and return errors wrapping
// ErrPermanent for requests that cannot succeed on retry.
type Recognizer interface {
	// Recognize transcribes one chunk.
	Recognize(ctx context.Context, req Request) (*Transcription, error)

	// HealthCheck verifies that the service is operational. It should be
	// lightweight; callers bound it with a short timeout.
	HealthCheck(ctx context.Context) (bool, error)

	// Name returns the backend identifier used in logs and metrics.
	Name() string
}

// Result is the Client's verdict for one chunk. Failed results carry an Err
// wrapping ErrRecognitionTimeout or ErrRecognitionFailed and an empty Text.
type Result struct {
	ChunkID    uint64
	Text       string
	Confidence float64
	Language   string
	Backend    string
	Attempts   int
	Latency    time.Duration
	Failed     bool
	Err        error
}

// TimedOut reports whether the chunk failed on a timeout.
func (r Result) TimedOut() bool { return r.Failed && errors.Is(r.Err, ErrRecognitionTimeout) }

// segmentScore holds the per-segment fields whisper-style backends report.
type segmentScore struct {
	AvgLogprob   float64
	NoSpeechProb float64
	Weight       float64
}

// confidenceFromSegments averages exp(avg_logprob), discounted by the
// no-speech probability and weighted by segment length.
func confidenceFromSegments(segs []segmentScore) float64 {
	var sum, weight float64
	for _, s := range segs {
		if s.AvgLogprob == 0 && s.NoSpeechProb == 0 {
			continue
		}
		w := s.Weight
		if w <= 0 {
			w = 1
		}
		sum += w * math.Exp(s.AvgLogprob) * (1 - s.NoSpeechProb)
		weight += w
	}
	if weight == 0 {
		return DefaultConfidence
	}
	c := sum / weight
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}
