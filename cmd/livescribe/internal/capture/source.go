// Package capture turns an audio input into a stream of fixed-length frames.
package capture

import (
	"errors"
	"time"

	"github.com/houzhh15/livescribe/cmd/livescribe/internal/audio"
)

var (
	// ErrDeviceUnavailable means the input could not be opened at all.
	ErrDeviceUnavailable = errors.New("capture: device unavailable")
	// ErrDeviceLost means the input stopped delivering audio mid-session.
	ErrDeviceLost = errors.New("capture: device lost")
)

// DefaultFrameDuration is the capture granularity.
const DefaultFrameDuration = 20 * time.Millisecond

// Source opens a fresh capture stream. Each Open restarts sequence numbers
// and offsets at zero.
type Source interface {
	Open() (Stream, error)
	Name() string
}

// Stream delivers frames in capture order. ReadFrame returns io.EOF when a
// finite input is exhausted or the stream was closed, and an error wrapping
// ErrDeviceUnavailable or ErrDeviceLost when the input fails. Close must
// unblock a pending ReadFrame.
type Stream interface {
	ReadFrame() (audio.Frame, error)
	Format() audio.Format
	Close() error
}

// framer assigns sequence numbers and sample-derived offsets.
type framer struct {
	format audio.Format
	seq    uint64
	offset time.Duration
}

func (f *framer) next(samples []int16) audio.Frame {
	fr := audio.Frame{
		Seq:     f.seq,
		Start:   f.offset,
		Samples: samples,
		Format:  f.format,
	}
	f.seq++
	f.offset += fr.Duration()
	return fr
}
