// Package transcript holds the session-scoped transcript: immutable
// segments, the append-only Session that numbers them, and the non-blocking
// fan-out that hands them to collaborators.
package transcript

import (
	"encoding/json"
	"time"
)

// Timestamp is a session-relative offset, encoded in JSON as milliseconds.
type Timestamp time.Duration

// MarshalJSON encodes Timestamp as milliseconds
func (t Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(t).Milliseconds())
}

// UnmarshalJSON decodes milliseconds into Timestamp
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	var ms int64
	if err := json.Unmarshal(data, &ms); err != nil {
		return err
	}
	*t = Timestamp(time.Duration(ms) * time.Millisecond)
	return nil
}

// Duration returns t as a time.Duration.
func (t Timestamp) Duration() time.Duration { return time.Duration(t) }

// Kind distinguishes recognized speech from failure markers.
type Kind string

const (
	KindSpeech Kind = "speech"
	KindGap    Kind = "gap"
)

// Segment is one emitted piece of transcript. Once appended to a Session it
// is never modified; collaborators receive copies.
type Segment struct {
	SessionID  string    `json:"session_id"`
	Sequence   uint64    `json:"sequence"`
	Kind       Kind      `json:"kind"`
	Speaker    string    `json:"speaker,omitempty"`
	Text       string    `json:"text"`
	Start      Timestamp `json:"start"`
	End        Timestamp `json:"end"`
	Confidence float64   `json:"confidence"`
	ChunkID    uint64    `json:"chunk_id"`

	// DedupMiss marks text appended in full because no overlap was found
	DedupMiss bool `json:"dedup_miss,omitempty"`

	// Failure is the reason recognition gave up on a gap marker
	Failure string `json:"failure,omitempty"`

	EmittedAt time.Time `json:"emitted_at"`
}

// IsGap reports whether s marks audio that could not be recognized.
func (s Segment) IsGap() bool { return s.Kind == KindGap }
