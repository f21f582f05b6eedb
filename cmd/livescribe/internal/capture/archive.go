package capture

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/houzhh15/livescribe/cmd/livescribe/internal/audio"
	"github.com/houzhh15/livescribe/pkg/logger"
)

// archiveStream copies every frame it delivers into a WAV file. A failing
// archive is logged once and abandoned; it never interrupts capture.
type archiveStream struct {
	Stream
	w      *audio.WAVWriter
	logger *slog.Logger

	mu     sync.Mutex
	failed bool
	closed bool
}

// WithArchive tees frames read from s into a WAV file at path.
func WithArchive(s Stream, path string, l *slog.Logger) (Stream, error) {
	w, err := audio.CreateWAV(path, s.Format())
	if err != nil {
		return nil, err
	}
	return &archiveStream{Stream: s, w: w, logger: logger.OrDefault(l)}, nil
}

func (a *archiveStream) ReadFrame() (audio.Frame, error) {
	fr, err := a.Stream.ReadFrame()
	a.mu.Lock()
	defer a.mu.Unlock()
	if err == nil && !a.failed && !a.closed {
		if werr := a.w.WriteFrame(fr); werr != nil {
			a.failed = true
			a.logger.Warn("archive write failed, recording continues without it", "path", a.w.Path(), "error", werr)
		}
	}
	return fr, err
}

func (a *archiveStream) Close() error {
	err := a.Stream.Close()
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return err
	}
	a.closed = true
	if cerr := a.w.Close(); cerr != nil {
		err = errors.Join(err, cerr)
	} else {
		a.logger.Info("session audio archived", "path", a.w.Path())
	}
	return err
}
