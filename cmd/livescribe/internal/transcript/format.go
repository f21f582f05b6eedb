package transcript

import (
	"fmt"
	"io"
	"time"
)

// WriteText writes a segment as "[HH:MM:SS.mmm --> HH:MM:SS.mmm] [Speaker] Text".
// Gap markers are written as "[... ] [gap] (reason)".
func WriteText(w io.Writer, s Segment) error {
	startStr := FormatTimestamp(s.Start)
	endStr := FormatTimestamp(s.End)
	if s.IsGap() {
		_, err := fmt.Fprintf(w, "[%s --> %s] [gap] (%s)\n", startStr, endStr, s.Failure)
		return err
	}
	speaker := ""
	if s.Speaker != "" {
		speaker = fmt.Sprintf(" [%s]", s.Speaker)
	}
	_, err := fmt.Fprintf(w, "[%s --> %s]%s %s\n", startStr, endStr, speaker, s.Text)
	return err
}

// WriteSRT writes a segment as one SubRip cue numbered by its sequence.
func WriteSRT(w io.Writer, s Segment) error {
	text := s.Text
	if s.IsGap() {
		text = "[inaudible]"
	} else if s.Speaker != "" {
		text = s.Speaker + ": " + text
	}
	_, err := fmt.Fprintf(w, "%d\n%s --> %s\n%s\n\n", s.Sequence,
		formatClock(s.Start.Duration(), ','), formatClock(s.End.Duration(), ','), text)
	return err
}

// FormatTimestamp formats as HH:MM:SS.mmm
func FormatTimestamp(t Timestamp) string {
	return formatClock(time.Duration(t), '.')
}

func formatClock(d time.Duration, sep byte) string {
	if d < 0 {
		d = 0
	}
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second
	d -= s * time.Second
	ms := d / time.Millisecond
	return fmt.Sprintf("%02d:%02d:%02d%c%03d", h, m, s, sep, ms)
}
