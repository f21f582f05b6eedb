// Package audio holds the PCM primitives shared by capture, segmentation and
// recognition: frames, the capture ring buffer, energy analysis and WAV encoding.
package audio

import (
	"encoding/binary"
	"time"
)

const bytesPerSample = 2

// Format describes interleaved signed 16-bit little-endian PCM.
type Format struct {
	SampleRate int `json:"sample_rate"`
	Channels   int `json:"channels"`
}

// DefaultFormat is what the recognizers expect: 16kHz mono.
var DefaultFormat = Format{SampleRate: 16000, Channels: 1}

// Valid reports whether the format can carry audio.
func (f Format) Valid() bool { return f.SampleRate > 0 && f.Channels > 0 }

// SamplesFor returns the number of interleaved samples covering d.
func (f Format) SamplesFor(d time.Duration) int {
	return int(d * time.Duration(f.SampleRate) / time.Second * time.Duration(f.Channels))
}

// DurationOf returns the playback time of n interleaved samples.
func (f Format) DurationOf(n int) time.Duration {
	if !f.Valid() {
		return 0
	}
	return time.Duration(n/f.Channels) * time.Second / time.Duration(f.SampleRate)
}

// FrameBytes returns the byte length of a frame of duration d.
func (f Format) FrameBytes(d time.Duration) int {
	return f.SamplesFor(d) * bytesPerSample
}

// Frame is a short, fixed-length run of samples stamped with its offset from
// the start of the session. Offsets are derived from sample counts, never
// from the wall clock, so they are monotonic and gap-free per source.
type Frame struct {
	Seq     uint64
	Start   time.Duration
	Samples []int16
	Format  Format
}

// Duration returns the playback length of the frame.
func (f Frame) Duration() time.Duration { return f.Format.DurationOf(len(f.Samples)) }

// End returns the offset just past the last sample.
func (f Frame) End() time.Duration { return f.Start + f.Duration() }

// DecodePCM converts little-endian s16 bytes to samples. A trailing odd byte
// is ignored.
func DecodePCM(b []byte) []int16 {
	out := make([]int16, len(b)/bytesPerSample)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return out
}

// EncodePCM converts samples to little-endian s16 bytes.
func EncodePCM(samples []int16) []byte {
	out := make([]byte, len(samples)*bytesPerSample)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// Concat joins the samples of consecutive frames.
func Concat(frames []Frame) []int16 {
	n := 0
	for _, f := range frames {
		n += len(f.Samples)
	}
	out := make([]int16, 0, n)
	for _, f := range frames {
		out = append(out, f.Samples...)
	}
	return out
}
