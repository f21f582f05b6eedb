package transcript

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrFinalized is returned when appending to a finalized session.
var ErrFinalized = errors.New("transcript: session is finalized")

// Session owns the ordered segments of one recording. Append is called from
// the pipeline's single sequencing goroutine; readers may call the other
// methods concurrently.
type Session struct {
	mu        sync.RWMutex
	id        string
	startedAt time.Time
	endedAt   time.Time
	segments  []Segment
	finalized bool
	now       func() time.Time
}

// NewSession starts an empty session with a fresh ID.
func NewSession() *Session {
	return &Session{id: uuid.NewString(), startedAt: time.Now(), now: time.Now}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// StartedAt returns when the session was created.
func (s *Session) StartedAt() time.Time { return s.startedAt }

// Append numbers seg with the next sequence number and stores it. The
// stored copy is returned.
func (s *Session) Append(seg Segment) (Segment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finalized {
		return Segment{}, ErrFinalized
	}
	seg.SessionID = s.id
	seg.Sequence = uint64(len(s.segments)) + 1
	if seg.Kind == "" {
		seg.Kind = KindSpeech
	}
	seg.EmittedAt = s.now()
	s.segments = append(s.segments, seg)
	return seg, nil
}

// Len returns the number of segments.
func (s *Session) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.segments)
}

// Segments returns a copy of all segments in order.
func (s *Session) Segments() []Segment {
	return s.Since(0)
}

// Since returns a copy of the segments with a sequence number above seq.
func (s *Session) Since(seq uint64) []Segment {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if seq >= uint64(len(s.segments)) {
		return []Segment{}
	}
	out := make([]Segment, len(s.segments)-int(seq))
	copy(out, s.segments[seq:])
	return out
}

// Text joins the speech segments with single spaces.
func (s *Session) Text() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	parts := make([]string, 0, len(s.segments))
	for _, seg := range s.segments {
		if seg.Kind == KindSpeech && seg.Text != "" {
			parts = append(parts, seg.Text)
		}
	}
	return strings.Join(parts, " ")
}

// Finalize makes the session read-only. Calling it again is a no-op.
func (s *Session) Finalize() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finalized {
		return
	}
	s.finalized = true
	s.endedAt = s.now()
}

// Finalized reports whether Finalize was called.
func (s *Session) Finalized() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.finalized
}

// Snapshot is a serializable copy of a session.
type Snapshot struct {
	ID        string     `json:"id"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	Finalized bool       `json:"finalized"`
	Segments  []Segment  `json:"segments"`
	Text      string     `json:"text"`
}

// Snapshot copies the session.
func (s *Session) Snapshot() Snapshot {
	snap := Snapshot{ID: s.id, StartedAt: s.startedAt, Segments: s.Segments(), Text: s.Text()}
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap.Finalized = s.finalized
	if s.finalized {
		ended := s.endedAt
		snap.EndedAt = &ended
	}
	return snap
}
