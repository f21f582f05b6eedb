package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/houzhh15/livescribe/cmd/livescribe/internal/audio"
	"github.com/houzhh15/livescribe/cmd/livescribe/internal/capture"
	"github.com/houzhh15/livescribe/cmd/livescribe/internal/orchestrator"
	"github.com/houzhh15/livescribe/cmd/livescribe/internal/recognizer"
	"github.com/houzhh15/livescribe/cmd/livescribe/internal/recognizer/health"
)

// micSource delivers a second of tone and then blocks like an idle microphone.
type micSource struct {
	openErr error
}

func (m *micSource) Name() string { return "mic" }

func (m *micSource) Open() (capture.Stream, error) {
	if m.openErr != nil {
		return nil, m.openErr
	}
	return &micStream{closed: make(chan struct{})}, nil
}

type micStream struct {
	n      int
	closed chan struct{}
	once   sync.Once
}

func (s *micStream) ReadFrame() (audio.Frame, error) {
	select {
	case <-s.closed:
		return audio.Frame{}, io.EOF
	default:
	}
	if s.n >= 50 {
		<-s.closed
		return audio.Frame{}, io.EOF
	}
	samples := make([]int16, audio.DefaultFormat.SamplesFor(20*time.Millisecond))
	for i := range samples {
		samples[i] = int16(8000 * math.Sin(2*math.Pi*200*float64(i)/16000))
	}
	fr := audio.Frame{Seq: uint64(s.n), Start: time.Duration(s.n) * 20 * time.Millisecond, Samples: samples, Format: audio.DefaultFormat}
	s.n++
	return fr, nil
}

func (s *micStream) Format() audio.Format { return audio.DefaultFormat }
func (s *micStream) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

type echoRecognizer struct{}

func (echoRecognizer) Recognize(_ context.Context, req recognizer.Request) (*recognizer.Transcription, error) {
	return &recognizer.Transcription{Text: fmt.Sprintf("hello from chunk %d", req.ChunkID), Confidence: 0.9}, nil
}
func (echoRecognizer) HealthCheck(context.Context) (bool, error) { return true, nil }
func (echoRecognizer) Name() string                               { return "echo" }

type staticStatus health.ServiceStatus

func (s staticStatus) GetStatus() health.ServiceStatus { return health.ServiceStatus(s) }

func newTestServer(t *testing.T, src capture.Source, opts Options) (*httptest.Server, *orchestrator.Pipeline) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	cfg := orchestrator.DefaultConfig()
	cfg.AdaptQuality = false
	p, err := orchestrator.New(cfg, orchestrator.Deps{Source: src, Recognizer: echoRecognizer{}})
	require.NoError(t, err)
	srv := httptest.NewServer(NewRouter(p, opts))
	t.Cleanup(srv.Close)
	return srv, p
}

func call(t *testing.T, method, url string) (int, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, url, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return resp.StatusCode, body
}

func TestSessionLifecycle(t *testing.T) {
	srv, _ := newTestServer(t, &micSource{}, Options{})
	base := srv.URL + "/api/v1/session"

	code, body := call(t, http.MethodGet, base)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "idle", body["state"])

	code, body = call(t, http.MethodPost, base+"/pause")
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "INVALID_STATE", body["code"])

	code, body = call(t, http.MethodPost, base+"/start")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "recording", body["state"])
	assert.NotEmpty(t, body["session_id"])
	assert.Equal(t, false, body["finalized"])
	// let the tone reach the segmenter before pausing
	time.Sleep(100 * time.Millisecond)

	code, _ = call(t, http.MethodPost, base+"/start")
	assert.Equal(t, http.StatusConflict, code)

	code, body = call(t, http.MethodPost, base+"/pause")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "paused", body["state"])

	code, body = call(t, http.MethodPost, base+"/resume")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "recording", body["state"])

	code, body = call(t, http.MethodPost, base+"/stop")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "stopped", body["state"])
	assert.EqualValues(t, 1, body["segments"])
	assert.Equal(t, true, body["finalized"])

	code, body = call(t, http.MethodGet, base+"/segments?since=0")
	require.Equal(t, http.StatusOK, code)
	segs := body["segments"].([]any)
	require.Len(t, segs, 1)
	seg := segs[0].(map[string]any)
	assert.Equal(t, "hello from chunk 0", seg["text"])
	assert.EqualValues(t, 1, seg["sequence"])

	code, body = call(t, http.MethodGet, base+"/segments?since=1")
	require.Equal(t, http.StatusOK, code)
	assert.Empty(t, body["segments"])

	code, _ = call(t, http.MethodGet, base+"/segments?since=-1")
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestTranscriptFormats(t *testing.T) {
	srv, p := newTestServer(t, &micSource{}, Options{})
	base := srv.URL + "/api/v1/session"

	code, _ := call(t, http.MethodGet, base+"/segments")
	assert.Equal(t, http.StatusNotFound, code)

	_, err := p.Start()
	require.NoError(t, err)
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, p.Stop(context.Background()))

	resp, err := http.Get(base + "/transcript")
	require.NoError(t, err)
	b, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(b), "[Speaker 1] hello from chunk 0")

	resp, err = http.Get(base + "/transcript?format=srt")
	require.NoError(t, err)
	b, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.True(t, strings.HasPrefix(string(b), "1\n"))
	assert.Contains(t, string(b), "-->")

	resp, err = http.Get(base + "/transcript?format=docx")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStartWithUnavailableDevice(t *testing.T) {
	src := &micSource{openErr: fmt.Errorf("%w: no microphone", capture.ErrDeviceUnavailable)}
	srv, _ := newTestServer(t, src, Options{})

	code, body := call(t, http.MethodPost, srv.URL+"/api/v1/session/start")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "DEVICE_UNAVAILABLE", body["code"])

	code, body = call(t, http.MethodGet, srv.URL+"/api/v1/session")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "errored", body["state"])
	assert.Equal(t, "DEVICE_UNAVAILABLE", body["error_code"])
}

func TestStreamPushesSegmentsAndEvents(t *testing.T) {
	srv, p := newTestServer(t, &micSource{}, Options{})

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/session/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	_, err = p.Start()
	require.NoError(t, err)
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, p.Stop(context.Background()))

	var texts []string
	var states []string
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		var msg StreamMessage
		if err := conn.ReadJSON(&msg); err != nil {
			break
		}
		switch msg.Type {
		case "segment":
			texts = append(texts, msg.Segment.Text)
		case "event":
			if msg.Event.Type == orchestrator.EventState {
				states = append(states, string(msg.Event.State))
			}
		}
	}
	assert.Equal(t, []string{"hello from chunk 0"}, texts)
	assert.Contains(t, states, "stopped")
}

func TestHealthMetricsAndRecognizerStatus(t *testing.T) {
	srv, _ := newTestServer(t, &micSource{}, Options{
		Health: staticStatus{Backend: "echo", IsHealthy: false, ConsecutiveFails: 3},
	})

	code, body := call(t, http.MethodGet, srv.URL+"/healthz")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])

	code, body = call(t, http.MethodGet, srv.URL+"/api/v1/recognizer/status")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, body["is_healthy"])
	assert.EqualValues(t, 3, body["consecutive_fails"])

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	b, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(b), "livescribe_sessions_active")
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
}
