package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
)

const (
	wavHeaderSize = 44
	bitsPerSample = 16
)

// ErrNotWAV is returned when a stream does not start with a PCM RIFF header.
var ErrNotWAV = errors.New("audio: not a 16-bit PCM WAV stream")

func writeWavHeader(w io.Writer, format Format, dataSize int) error {
	byteRate := format.SampleRate * format.Channels * bitsPerSample / 8
	blockAlign := format.Channels * bitsPerSample / 8
	chunkSize := 36 + dataSize

	var hdr bytes.Buffer
	// RIFF header
	hdr.WriteString("RIFF")
	binary.Write(&hdr, binary.LittleEndian, uint32(chunkSize))
	hdr.WriteString("WAVE")
	// fmt chunk
	hdr.WriteString("fmt ")
	binary.Write(&hdr, binary.LittleEndian, uint32(16))                // Subchunk1Size
	binary.Write(&hdr, binary.LittleEndian, uint16(1))                 // PCM
	binary.Write(&hdr, binary.LittleEndian, uint16(format.Channels))   // NumChannels
	binary.Write(&hdr, binary.LittleEndian, uint32(format.SampleRate)) // SampleRate
	binary.Write(&hdr, binary.LittleEndian, uint32(byteRate))          // ByteRate
	binary.Write(&hdr, binary.LittleEndian, uint16(blockAlign))        // BlockAlign
	binary.Write(&hdr, binary.LittleEndian, uint16(bitsPerSample))     // BitsPerSample
	// data chunk
	hdr.WriteString("data")
	binary.Write(&hdr, binary.LittleEndian, uint32(dataSize))

	_, err := w.Write(hdr.Bytes())
	return err
}

// EncodeWAV returns a complete in-memory WAV file for samples.
func EncodeWAV(samples []int16, format Format) []byte {
	pcm := EncodePCM(samples)
	var buf bytes.Buffer
	buf.Grow(wavHeaderSize + len(pcm))
	_ = writeWavHeader(&buf, format, len(pcm))
	buf.Write(pcm)
	return buf.Bytes()
}

// ReadWAVHeader consumes a RIFF header from r and returns the PCM format,
// leaving r positioned at the first sample. Chunks other than fmt and data
// are skipped.
func ReadWAVHeader(r io.Reader) (Format, error) {
	var riff [12]byte
	if _, err := io.ReadFull(r, riff[:]); err != nil {
		return Format{}, fmt.Errorf("%w: %v", ErrNotWAV, err)
	}
	if string(riff[0:4]) != "RIFF" || string(riff[8:12]) != "WAVE" {
		return Format{}, ErrNotWAV
	}

	var format Format
	for {
		var hdr [8]byte
		if _, err := io.ReadFull(r, hdr[:]); err != nil {
			return Format{}, fmt.Errorf("%w: %v", ErrNotWAV, err)
		}
		id := string(hdr[0:4])
		size := int64(binary.LittleEndian.Uint32(hdr[4:8]))
		switch id {
		case "fmt ":
			body := make([]byte, size)
			if _, err := io.ReadFull(r, body); err != nil {
				return Format{}, fmt.Errorf("%w: %v", ErrNotWAV, err)
			}
			if size < 16 || binary.LittleEndian.Uint16(body[0:2]) != 1 || binary.LittleEndian.Uint16(body[14:16]) != bitsPerSample {
				return Format{}, ErrNotWAV
			}
			format.Channels = int(binary.LittleEndian.Uint16(body[2:4]))
			format.SampleRate = int(binary.LittleEndian.Uint32(body[4:8]))
		case "data":
			if !format.Valid() {
				return Format{}, ErrNotWAV
			}
			return format, nil
		default:
			if _, err := io.CopyN(io.Discard, r, size+size%2); err != nil {
				return Format{}, fmt.Errorf("%w: %v", ErrNotWAV, err)
			}
		}
	}
}

// WAVWriter streams frames to a WAV file. The header is written with a
// placeholder size and patched on Close.
type WAVWriter struct {
	f       *os.File
	format  Format
	written int
}

// CreateWAV creates path and reserves the 44-byte header.
func CreateWAV(path string, format Format) (*WAVWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	if _, err := f.Write(make([]byte, wavHeaderSize)); err != nil {
		f.Close()
		return nil, err
	}
	return &WAVWriter{f: f, format: format}, nil
}

// WriteFrame appends the frame's samples.
func (w *WAVWriter) WriteFrame(fr Frame) error {
	n, err := w.f.Write(EncodePCM(fr.Samples))
	w.written += n
	return err
}

// Path returns the file name.
func (w *WAVWriter) Path() string { return w.f.Name() }

// Close patches the header with the final data size and closes the file.
func (w *WAVWriter) Close() error {
	if _, err := w.f.Seek(0, io.SeekStart); err != nil {
		w.f.Close()
		return err
	}
	if err := writeWavHeader(w.f, w.format, w.written); err != nil {
		w.f.Close()
		return err
	}
	return w.f.Close()
}
