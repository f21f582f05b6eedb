package transcript

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
)

// Finalizer receives the finished session when recording stops. It stands
// in for the storage and indexing collaborators.
type Finalizer interface {
	Finalize(ctx context.Context, snap Snapshot) error
}

// FinalizerFunc adapts a function to Finalizer.
type FinalizerFunc func(ctx context.Context, snap Snapshot) error

// Finalize calls f.
func (f FinalizerFunc) Finalize(ctx context.Context, snap Snapshot) error { return f(ctx, snap) }

// Format selects how a Writer renders segments.
type Format string

const (
	FormatText  Format = "text"
	FormatJSONL Format = "jsonl"
	FormatSRT   Format = "srt"
)

// ParseFormat validates a format name.
func ParseFormat(s string) (Format, error) {
	switch f := Format(s); f {
	case FormatText, FormatJSONL, FormatSRT:
		return f, nil
	default:
		return "", fmt.Errorf("unknown transcript format %q (want text, jsonl or srt)", s)
	}
}

// Writer renders segments to an io.Writer as they are emitted.
type Writer struct {
	mu     sync.Mutex
	w      io.Writer
	format Format
	enc    *json.Encoder
}

// NewWriter returns a Writer in the given format.
func NewWriter(w io.Writer, format Format) *Writer {
	return &Writer{w: w, format: format, enc: json.NewEncoder(w)}
}

// Write renders one segment.
func (sw *Writer) Write(seg Segment) error {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	switch sw.format {
	case FormatJSONL:
		return sw.enc.Encode(seg)
	case FormatSRT:
		return WriteSRT(sw.w, seg)
	default:
		return WriteText(sw.w, seg)
	}
}

// Drain writes every value received on sub until its channel closes, and
// returns the first write error.
func (sw *Writer) Drain(sub *Subscription[Segment]) error {
	var firstErr error
	for seg := range sub.C {
		if err := sw.Write(seg); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// JSONFinalizer writes the final snapshot as indented JSON.
type JSONFinalizer struct {
	W io.Writer
}

// Finalize encodes snap.
func (f JSONFinalizer) Finalize(ctx context.Context, snap Snapshot) error {
	enc := json.NewEncoder(f.W)
	enc.SetIndent("", "  ")
	return enc.Encode(snap)
}
