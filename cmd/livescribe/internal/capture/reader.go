package capture

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/houzhh15/livescribe/cmd/livescribe/internal/audio"
)

// ReaderSource replays PCM from a file or any reader. With Realtime set,
// frames are released no faster than their playback time, which makes a
// recording behave like a live microphone.
type ReaderSource struct {
	name          string
	open          func() (io.ReadCloser, error)
	wav           bool
	format        audio.Format
	frameDuration time.Duration
	realtime      bool
}

// NewWAVFileSource reads a 16-bit PCM WAV file.
func NewWAVFileSource(path string, frameDuration time.Duration, realtime bool) *ReaderSource {
	return &ReaderSource{
		name:          path,
		open:          func() (io.ReadCloser, error) { return os.Open(path) },
		wav:           true,
		frameDuration: frameDuration,
		realtime:      realtime,
	}
}

// NewPCMSource reads headerless s16le PCM in the given format.
func NewPCMSource(name string, open func() (io.ReadCloser, error), format audio.Format, frameDuration time.Duration, realtime bool) *ReaderSource {
	return &ReaderSource{
		name:          name,
		open:          open,
		format:        format,
		frameDuration: frameDuration,
		realtime:      realtime,
	}
}

// Name identifies the input.
func (s *ReaderSource) Name() string { return s.name }

// Open opens the underlying reader and parses the WAV header if present.
func (s *ReaderSource) Open() (Stream, error) {
	rc, err := s.open()
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrDeviceUnavailable, s.name, err)
	}
	format := s.format
	if s.wav {
		format, err = audio.ReadWAVHeader(rc)
		if err != nil {
			rc.Close()
			return nil, fmt.Errorf("%w: %s: %w", ErrDeviceUnavailable, s.name, err)
		}
	}
	if !format.Valid() {
		rc.Close()
		return nil, fmt.Errorf("%w: %s: invalid format %+v", ErrDeviceUnavailable, s.name, format)
	}
	d := s.frameDuration
	if d <= 0 {
		d = DefaultFrameDuration
	}
	return &readerStream{
		name:     s.name,
		rc:       rc,
		buf:      make([]byte, format.FrameBytes(d)),
		framer:   framer{format: format},
		realtime: s.realtime,
		started:  time.Now(),
		done:     make(chan struct{}),
	}, nil
}

type readerStream struct {
	name     string
	rc       io.ReadCloser
	buf      []byte
	framer   framer
	realtime bool
	started  time.Time
	eof      bool

	done      chan struct{}
	closeOnce sync.Once
}

func (s *readerStream) Format() audio.Format { return s.framer.format }

func (s *readerStream) ReadFrame() (audio.Frame, error) {
	select {
	case <-s.done:
		return audio.Frame{}, io.EOF
	default:
	}
	if s.eof {
		return audio.Frame{}, io.EOF
	}

	n, err := io.ReadFull(s.rc, s.buf)
	switch {
	case err == nil:
	case errors.Is(err, io.ErrUnexpectedEOF) && n >= 2:
		s.eof = true
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return audio.Frame{}, io.EOF
	default:
		select {
		case <-s.done:
			return audio.Frame{}, io.EOF
		default:
		}
		return audio.Frame{}, fmt.Errorf("%w: %s: %w", ErrDeviceLost, s.name, err)
	}

	fr := s.framer.next(audio.DecodePCM(s.buf[:n]))
	if s.realtime {
		wait := time.Until(s.started.Add(fr.End()))
		if wait > 0 {
			t := time.NewTimer(wait)
			select {
			case <-t.C:
			case <-s.done:
				t.Stop()
				return audio.Frame{}, io.EOF
			}
		}
	}
	return fr, nil
}

func (s *readerStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.rc.Close()
	})
	return err
}
