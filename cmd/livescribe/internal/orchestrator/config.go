package orchestrator

import (
	"fmt"
	"time"

	"github.com/houzhh15/livescribe/cmd/livescribe/internal/align"
	"github.com/houzhh15/livescribe/cmd/livescribe/internal/audio"
	"github.com/houzhh15/livescribe/cmd/livescribe/internal/capture"
	"github.com/houzhh15/livescribe/cmd/livescribe/internal/quality"
	"github.com/houzhh15/livescribe/cmd/livescribe/internal/recognizer"
	"github.com/houzhh15/livescribe/cmd/livescribe/internal/segmenter"
	"github.com/houzhh15/livescribe/cmd/livescribe/internal/speaker"
)

// Config holds everything the pipeline needs for one session.
type Config struct {
	// FrameDuration is the capture granularity used to size the ring buffer
	FrameDuration time.Duration
	// RingBuffer is how much audio the ring holds before dropping the oldest frames
	RingBuffer time.Duration

	Segmenter segmenter.Params
	VAD       audio.VAD

	// AdaptQuality enables the quality feedback loop into the segmenter
	AdaptQuality  bool
	Quality       quality.Policy
	QualityWindow int

	Recognition recognizer.ClientConfig
	// Concurrency bounds chunks outstanding between dispatch and emission
	Concurrency    int
	Language       string
	PromptFromTail bool

	Align        align.Config
	Replacements map[string]string
	Speaker      speaker.Config

	// ArchiveDir, when set, receives <session-id>.wav for every session
	ArchiveDir string
	// LevelInterval spaces level events in capture time
	LevelInterval time.Duration
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		FrameDuration: capture.DefaultFrameDuration,
		RingBuffer:    30 * time.Second,
		Segmenter:     segmenter.DefaultParams,
		VAD:           audio.DefaultVAD,
		AdaptQuality:  true,
		Quality:       quality.DefaultPolicy,
		QualityWindow: quality.DefaultWindow,
		Recognition:   recognizer.DefaultClientConfig,
		Concurrency:   3,
		Align:         align.DefaultConfig(),
		Speaker:       speaker.DefaultConfig(),
		LevelInterval: time.Second,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.FrameDuration <= 0 {
		return fmt.Errorf("frame duration must be positive, got %s", c.FrameDuration)
	}
	if c.RingBuffer < c.FrameDuration {
		return fmt.Errorf("ring_buffer_seconds must hold at least one frame, got %s", c.RingBuffer)
	}
	if err := c.Segmenter.Validate(); err != nil {
		return fmt.Errorf("segmenter: %w", err)
	}
	if c.AdaptQuality {
		if err := c.Quality.Validate(c.Segmenter.MinChunkDuration); err != nil {
			return fmt.Errorf("quality: %w", err)
		}
	}
	if c.Recognition.Timeout <= 0 {
		return fmt.Errorf("recognition_timeout must be positive, got %s", c.Recognition.Timeout)
	}
	if c.Recognition.Retries < 0 {
		return fmt.Errorf("recognition_retries must not be negative, got %d", c.Recognition.Retries)
	}
	if c.Concurrency < 1 {
		return fmt.Errorf("recognition_concurrency must be at least 1, got %d", c.Concurrency)
	}
	if err := c.Align.Validate(); err != nil {
		return err
	}
	return c.Speaker.Validate()
}

// ringCapacity converts RingBuffer into frames, rounding up.
func (c Config) ringCapacity() int {
	n := int((c.RingBuffer + c.FrameDuration - 1) / c.FrameDuration)
	if n < 1 {
		n = 1
	}
	return n
}
