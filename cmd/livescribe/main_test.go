package main

import (
	"bufio"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/houzhh15/livescribe/cmd/livescribe/internal/audio"
	"github.com/houzhh15/livescribe/cmd/livescribe/internal/transcript"
)

// writeTone writes speech-like tone followed by silence as a 16kHz WAV.
func writeTone(t *testing.T, path string, speech, silence time.Duration) {
	t.Helper()
	w, err := audio.CreateWAV(path, audio.DefaultFormat)
	require.NoError(t, err)

	frame := 20 * time.Millisecond
	n := audio.DefaultFormat.SamplesFor(frame)
	var seq uint64
	var at time.Duration
	for at < speech+silence {
		samples := make([]int16, n)
		if at < speech {
			for i := range samples {
				ts := float64(int(seq)*n+i) / float64(audio.DefaultFormat.SampleRate)
				samples[i] = int16(8000 * math.Sin(2*math.Pi*200*ts))
			}
		}
		require.NoError(t, w.WriteFrame(audio.Frame{Seq: seq, Start: at, Samples: samples, Format: audio.DefaultFormat}))
		seq++
		at += frame
	}
	require.NoError(t, w.Close())
}

func whisperServer(t *testing.T, text string) (*httptest.Server, *atomic.Int32) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/whisper/transcribe" {
			w.WriteHeader(http.StatusOK)
			return
		}
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"text": text, "language": "en"})
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func TestRootCommands(t *testing.T) {
	root := newRootCmd()
	names := map[string]bool{}
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["record"])
	assert.True(t, names["transcribe"])
	assert.True(t, names["serve"])

	root.SetArgs([]string{"transcribe"})
	root.SetOut(&discard{})
	root.SetErr(&discard{})
	assert.Error(t, root.Execute())
}

func TestTranscribeFile(t *testing.T) {
	dir := t.TempDir()
	wav := filepath.Join(dir, "meeting.wav")
	out := filepath.Join(dir, "live.jsonl")
	final := filepath.Join(dir, "final.json")
	writeTone(t, wav, 2*time.Second, time.Second)

	srv, calls := whisperServer(t, "hello from the file")
	t.Setenv("LIVESCRIBE_CONFIG", "")
	t.Setenv("LIVESCRIBE_WHISPER_URL", srv.URL)
	t.Setenv("LIVESCRIBE_RECOGNITION_BACKEND", "whisper-http")
	t.Setenv("LIVESCRIBE_LOG_LEVEL", "error")

	root := newRootCmd()
	root.SetArgs([]string{"transcribe", wav, "--env-file", "", "--format", "jsonl", "--output", out, "--final", final})
	require.NoError(t, root.Execute())
	assert.GreaterOrEqual(t, calls.Load(), int32(1))

	f, err := os.Open(out)
	require.NoError(t, err)
	defer f.Close()
	var live []transcript.Segment
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var seg transcript.Segment
		require.NoError(t, json.Unmarshal(sc.Bytes(), &seg))
		live = append(live, seg)
	}
	require.NotEmpty(t, live)
	assert.Equal(t, "hello from the file", live[0].Text)
	assert.Equal(t, uint64(1), live[0].Sequence)

	raw, err := os.ReadFile(final)
	require.NoError(t, err)
	var snap transcript.Snapshot
	require.NoError(t, json.Unmarshal(raw, &snap))
	assert.True(t, snap.Finalized)
	assert.Equal(t, live, snap.Segments)
}

func TestTranscribeMissingFile(t *testing.T) {
	srv, _ := whisperServer(t, "unused")
	t.Setenv("LIVESCRIBE_CONFIG", "")
	t.Setenv("LIVESCRIBE_WHISPER_URL", srv.URL)
	t.Setenv("LIVESCRIBE_RECOGNITION_BACKEND", "whisper-http")

	root := newRootCmd()
	root.SetArgs([]string{"transcribe", filepath.Join(t.TempDir(), "nope.wav"), "--env-file", "", "--output", filepath.Join(t.TempDir(), "out.txt")})
	err := root.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DEVICE_UNAVAILABLE")
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }
