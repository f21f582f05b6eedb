package transcript

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionAppendNumbersGaplessly(t *testing.T) {
	s := NewSession()
	require.NotEmpty(t, s.ID())

	for i, text := range []string{"one", "", "three"} {
		seg := Segment{Text: text}
		if text == "" {
			seg.Kind = KindGap
			seg.Failure = "timeout"
		}
		got, err := s.Append(seg)
		require.NoError(t, err)
		assert.Equal(t, uint64(i+1), got.Sequence)
		assert.Equal(t, s.ID(), got.SessionID)
		assert.False(t, got.EmittedAt.IsZero())
	}

	segs := s.Segments()
	require.Len(t, segs, 3)
	assert.Equal(t, KindSpeech, segs[0].Kind)
	assert.True(t, segs[1].IsGap())
	assert.Equal(t, "one three", s.Text())

	since := s.Since(2)
	require.Len(t, since, 1)
	assert.Equal(t, uint64(3), since[0].Sequence)
	assert.Empty(t, s.Since(10))
}

func TestSessionSegmentsAreCopies(t *testing.T) {
	s := NewSession()
	_, _ = s.Append(Segment{Text: "original"})

	segs := s.Segments()
	segs[0].Text = "mutated"
	assert.Equal(t, "original", s.Segments()[0].Text)
}

func TestSessionFinalize(t *testing.T) {
	s := NewSession()
	_, _ = s.Append(Segment{Text: "kept"})
	s.Finalize()
	s.Finalize()

	_, err := s.Append(Segment{Text: "late"})
	assert.ErrorIs(t, err, ErrFinalized)
	assert.Equal(t, 1, s.Len())

	snap := s.Snapshot()
	assert.True(t, snap.Finalized)
	require.NotNil(t, snap.EndedAt)
	assert.Equal(t, "kept", snap.Text)
}

func TestTimestampJSON(t *testing.T) {
	b, err := json.Marshal(Segment{Start: Timestamp(1500 * time.Millisecond), End: Timestamp(2 * time.Second)})
	require.NoError(t, err)
	assert.Contains(t, string(b), `"start":1500`)
	assert.Contains(t, string(b), `"end":2000`)

	var back Segment
	require.NoError(t, json.Unmarshal(b, &back))
	assert.Equal(t, 1500*time.Millisecond, back.Start.Duration())
}

func TestDispatcherDeliversInOrder(t *testing.T) {
	d := NewDispatcher[int]()
	sub := d.Subscribe()

	for i := 0; i < 100; i++ {
		d.Publish(i)
	}
	d.Close()

	var got []int
	for v := range sub.C {
		got = append(got, v)
	}
	require.Len(t, got, 100)
	for i, v := range got {
		assert.Equal(t, i, v)
	}
}

func TestDispatcherSlowSubscriberDoesNotBlock(t *testing.T) {
	d := NewDispatcher[int]()
	slow := d.Subscribe()
	fast := d.Subscribe()
	defer slow.Close()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10000; i++ {
			d.Publish(i)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a subscriber that never reads")
	}

	d.Close()
	n := 0
	for range fast.C {
		n++
	}
	assert.Equal(t, 10000, n)
}

func TestSubscriptionCloseUnsubscribes(t *testing.T) {
	d := NewDispatcher[string]()
	sub := d.Subscribe()
	assert.Equal(t, 1, d.Subscribers())

	d.Publish("queued")
	sub.Close()
	sub.Close()
	assert.Equal(t, 0, d.Subscribers())

	for range sub.C {
	}
	d.Publish("after")
	d.Close()

	late := d.Subscribe()
	_, ok := <-late.C
	assert.False(t, ok)
}

func TestDispatcherConcurrentPublish(t *testing.T) {
	d := NewDispatcher[int]()
	sub := d.Subscribe()

	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				d.Publish(i)
			}
		}()
	}
	wg.Wait()
	d.Close()

	n := 0
	for range sub.C {
		n++
	}
	assert.Equal(t, 200, n)
}

func TestWriteText(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteText(&buf, Segment{
		Kind: KindSpeech, Speaker: "Speaker 1", Text: "hello there",
		Start: Timestamp(61*time.Second + 5*time.Millisecond), End: Timestamp(time.Hour + 2*time.Second),
	}))
	require.NoError(t, WriteText(&buf, Segment{Kind: KindGap, Failure: "recognition timed out"}))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "[00:01:01.005 --> 01:00:02.000] [Speaker 1] hello there", lines[0])
	assert.Equal(t, "[00:00:00.000 --> 00:00:00.000] [gap] (recognition timed out)", lines[1])
}

func TestWriterFormats(t *testing.T) {
	seg := Segment{Sequence: 7, Kind: KindSpeech, Speaker: "Speaker 2", Text: "ok", End: Timestamp(1500 * time.Millisecond)}

	var srt bytes.Buffer
	require.NoError(t, NewWriter(&srt, FormatSRT).Write(seg))
	assert.Equal(t, "7\n00:00:00,000 --> 00:00:01,500\nSpeaker 2: ok\n\n", srt.String())

	var jsonl bytes.Buffer
	require.NoError(t, NewWriter(&jsonl, FormatJSONL).Write(seg))
	var back Segment
	require.NoError(t, json.Unmarshal(jsonl.Bytes(), &back))
	assert.Equal(t, uint64(7), back.Sequence)

	_, err := ParseFormat("docx")
	assert.Error(t, err)
	f, err := ParseFormat("srt")
	require.NoError(t, err)
	assert.Equal(t, FormatSRT, f)
}

func TestWriterDrain(t *testing.T) {
	d := NewDispatcher[Segment]()
	sub := d.Subscribe()
	d.Publish(Segment{Kind: KindSpeech, Text: "a"})
	d.Publish(Segment{Kind: KindSpeech, Text: "b"})
	d.Close()

	var buf bytes.Buffer
	require.NoError(t, NewWriter(&buf, FormatText).Drain(sub))
	assert.Equal(t, 2, strings.Count(buf.String(), "\n"))
}

func TestJSONFinalizer(t *testing.T) {
	s := NewSession()
	_, _ = s.Append(Segment{Text: "done"})
	s.Finalize()

	var buf bytes.Buffer
	var f Finalizer = JSONFinalizer{W: &buf}
	require.NoError(t, f.Finalize(context.Background(), s.Snapshot()))

	var snap Snapshot
	require.NoError(t, json.Unmarshal(buf.Bytes(), &snap))
	assert.Equal(t, s.ID(), snap.ID)
	assert.Equal(t, "done", snap.Text)
}
