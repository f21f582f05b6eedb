package orchestrator

import (
	"time"

	"github.com/houzhh15/livescribe/cmd/livescribe/internal/audio"
	"github.com/houzhh15/livescribe/cmd/livescribe/internal/segmenter"
)

// EventType names an observability event.
type EventType string

const (
	// EventState is published on every lifecycle transition.
	EventState EventType = "state"
	// EventOverflow reports frames dropped by the ring buffer.
	EventOverflow EventType = "overflow"
	// EventDedupMiss reports text appended in full because no overlap was found.
	EventDedupMiss EventType = "dedup_miss"
	// EventDuplicate reports a delta dropped as a repeat of recent output.
	EventDuplicate EventType = "duplicate"
	// EventChunkFailed reports a chunk that became a gap marker.
	EventChunkFailed EventType = "chunk_failed"
	// EventParams reports segmenter parameters changed by the quality adapter.
	EventParams EventType = "params"
	// EventLevel reports the input level, at most once per level interval.
	EventLevel EventType = "level"
	// EventError reports the error that ended the session.
	EventError EventType = "error"
)

// Event is published to event subscribers. Only the fields relevant to Type
// are set.
type Event struct {
	Type      EventType `json:"type"`
	Time      time.Time `json:"time"`
	SessionID string    `json:"session_id,omitempty"`

	State State `json:"state,omitempty"`

	ChunkID uint64 `json:"chunk_id,omitempty"`

	OverflowCount uint64 `json:"overflow_count,omitempty"`
	Dropped       uint64 `json:"dropped,omitempty"`

	Level audio.Level `json:"level,omitempty"`
	RMS   float64     `json:"rms,omitempty"`

	Params *segmenter.Params `json:"params,omitempty"`

	Code    ErrorCode `json:"code,omitempty"`
	Message string    `json:"message,omitempty"`
}
