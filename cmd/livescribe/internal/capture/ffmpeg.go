package capture

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/houzhh15/livescribe/cmd/livescribe/internal/audio"
	"github.com/houzhh15/livescribe/pkg/logger"
)

// FFmpegConfig selects the capture device. InputFormat and Device default to
// the platform's usual microphone input (avfoundation ":0", pulse "default",
// dshow "audio=default").
type FFmpegConfig struct {
	Binary        string
	InputFormat   string
	Device        string
	Format        audio.Format
	FrameDuration time.Duration
}

func (c FFmpegConfig) withDefaults() FFmpegConfig {
	if strings.TrimSpace(c.Binary) == "" {
		c.Binary = "ffmpeg"
	}
	if c.InputFormat == "" {
		switch runtime.GOOS {
		case "darwin":
			c.InputFormat = "avfoundation"
		case "windows":
			c.InputFormat = "dshow"
		default:
			c.InputFormat = "pulse"
		}
	}
	if c.Device == "" {
		switch c.InputFormat {
		case "avfoundation":
			c.Device = ":0"
		case "dshow":
			c.Device = "audio=default"
		default:
			c.Device = "default"
		}
	}
	if !c.Format.Valid() {
		c.Format = audio.DefaultFormat
	}
	if c.FrameDuration <= 0 {
		c.FrameDuration = DefaultFrameDuration
	}
	return c
}

// FFmpegSource captures from a system microphone by running ffmpeg and
// reading raw s16le PCM from its stdout.
type FFmpegSource struct {
	cfg    FFmpegConfig
	logger *slog.Logger
}

// NewFFmpegSource returns a source for cfg.
func NewFFmpegSource(cfg FFmpegConfig, l *slog.Logger) *FFmpegSource {
	return &FFmpegSource{cfg: cfg.withDefaults(), logger: logger.OrDefault(l)}
}

// Name identifies the device.
func (s *FFmpegSource) Name() string { return s.cfg.InputFormat + ":" + s.cfg.Device }

func (s *FFmpegSource) args() []string {
	return []string{
		"-hide_banner", "-loglevel", "error", "-nostdin",
		"-f", s.cfg.InputFormat, "-i", s.cfg.Device,
		"-ac", strconv.Itoa(s.cfg.Format.Channels),
		"-ar", strconv.Itoa(s.cfg.Format.SampleRate),
		"-f", "s16le", "-",
	}
}

// Open starts ffmpeg. Failure to start the process, or ffmpeg exiting before
// the first frame arrives, is reported as ErrDeviceUnavailable.
func (s *FFmpegSource) Open() (Stream, error) {
	cmd := exec.Command(s.cfg.Binary, s.args()...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: %s: stdout pipe: %w", ErrDeviceUnavailable, s.Name(), err)
	}
	stderr := &tailBuffer{max: 4096}
	cmd.Stderr = stderr
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: %s: start ffmpeg: %w", ErrDeviceUnavailable, s.Name(), err)
	}
	s.logger.Info("capture started", "device", s.Name(), "pid", cmd.Process.Pid,
		"sample_rate", s.cfg.Format.SampleRate, "channels", s.cfg.Format.Channels)

	return &ffmpegStream{
		name:   s.Name(),
		cmd:    cmd,
		stdout: stdout,
		stderr: stderr,
		buf:    make([]byte, s.cfg.Format.FrameBytes(s.cfg.FrameDuration)),
		framer: framer{format: s.cfg.Format},
		logger: s.logger,
	}, nil
}

type ffmpegStream struct {
	name   string
	cmd    *exec.Cmd
	stdout io.ReadCloser
	stderr *tailBuffer
	buf    []byte
	framer framer
	logger *slog.Logger

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

func (s *ffmpegStream) Format() audio.Format { return s.framer.format }

func (s *ffmpegStream) ReadFrame() (audio.Frame, error) {
	_, err := io.ReadFull(s.stdout, s.buf)
	if err != nil {
		if s.closed.Load() {
			return audio.Frame{}, io.EOF
		}
		detail := strings.TrimSpace(s.stderr.String())
		if detail == "" {
			detail = err.Error()
		}
		if s.framer.seq == 0 {
			return audio.Frame{}, fmt.Errorf("%w: %s: %s", ErrDeviceUnavailable, s.name, detail)
		}
		return audio.Frame{}, fmt.Errorf("%w: %s after %s: %s", ErrDeviceLost, s.name, s.framer.offset, detail)
	}
	return s.framer.next(audio.DecodePCM(s.buf)), nil
}

// Close kills ffmpeg and reaps it.
func (s *ffmpegStream) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		if s.cmd.Process != nil {
			_ = s.cmd.Process.Kill()
		}
		err := s.cmd.Wait()
		var exitErr *exec.ExitError
		if err != nil && !errors.As(err, &exitErr) {
			s.closeErr = err
		}
		s.logger.Info("capture stopped", "device", s.name, "captured", s.framer.offset.String())
	})
	return s.closeErr
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
	max int
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf.Write(p)
	if over := t.buf.Len() - t.max; over > 0 {
		t.buf.Next(over)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.buf.String()
}
