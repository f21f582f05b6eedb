package recognizer

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/houzhh15/livescribe/cmd/livescribe/internal/audio"
)

func testRequest() Request {
	return Request{
		ChunkID:  3,
		Samples:  make([]int16, 3200),
		Format:   audio.DefaultFormat,
		Language: "en",
		Prompt:   "the quarterly results",
	}
}

func TestWhisperHTTPRecognize(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/whisper/transcribe", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "ggml-base", r.FormValue("model"))
		assert.Equal(t, "en", r.FormValue("language"))
		assert.Equal(t, "the quarterly results", r.FormValue("prompt"))
		assert.Equal(t, "json", r.FormValue("response_format"))

		f, hdr, err := r.FormFile("audio")
		require.NoError(t, err)
		assert.Equal(t, "chunk-000003.wav", hdr.Filename)
		format, err := audio.ReadWAVHeader(f)
		require.NoError(t, err)
		assert.Equal(t, audio.DefaultFormat, format)

		_ = json.NewEncoder(w).Encode(map[string]any{
			"text":     " results were strong ",
			"language": "en",
			"segments": []map[string]any{{"start": 0.0, "end": 1.0, "text": "results were strong", "avg_logprob": -0.05}},
		})
	}))
	defer srv.Close()

	tr, err := NewWhisperHTTP(WhisperHTTPConfig{URL: srv.URL + "/"}).Recognize(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, "results were strong", tr.Text)
	assert.InDelta(t, 0.951, tr.Confidence, 0.001)
	assert.Equal(t, "en", tr.Language)
}

func TestWhisperHTTPStatusErrors(t *testing.T) {
	status := http.StatusUnauthorized
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", status)
	}))
	defer srv.Close()

	w := NewWhisperHTTP(WhisperHTTPConfig{URL: srv.URL})
	_, err := w.Recognize(context.Background(), testRequest())
	assert.ErrorIs(t, err, ErrPermanent)

	status = http.StatusServiceUnavailable
	_, err = w.Recognize(context.Background(), testRequest())
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrPermanent)
}

func TestWhisperHTTPHealthCheck(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/whisper/model" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	ok, err := NewWhisperHTTP(WhisperHTTPConfig{URL: srv.URL}).HealthCheck(context.Background())
	assert.True(t, ok)
	assert.NoError(t, err)
}

func TestOpenAIRecognize(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/audio/transcriptions":
			assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
			require.NoError(t, r.ParseMultipartForm(1<<20))
			assert.Equal(t, "whisper-1", r.FormValue("model"))
			assert.Equal(t, "verbose_json", r.FormValue("response_format"))
			assert.Equal(t, "en", r.FormValue("language"))
			w.Header().Set("Content-Type", "application/json")
			_, _ = io.WriteString(w, `{"task":"transcribe","language":"english","duration":1.0,
				"text":"strong this year",
				"segments":[{"id":0,"start":0,"end":1,"text":"strong this year","avg_logprob":-0.2,"no_speech_prob":0.1}]}`)
		case "/v1/models":
			w.Header().Set("Content-Type", "application/json")
			_, _ = io.WriteString(w, `{"object":"list","data":[]}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	rec := NewOpenAIRecognizer(OpenAIConfig{APIKey: "sk-test", BaseURL: srv.URL + "/v1"})
	tr, err := rec.Recognize(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, "strong this year", tr.Text)
	// exp(-0.2) * 0.9
	assert.InDelta(t, 0.7369, tr.Confidence, 0.001)

	ok, err := rec.HealthCheck(context.Background())
	assert.True(t, ok)
	assert.NoError(t, err)
}

func TestOpenAIUnauthorizedIsPermanent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"error":{"message":"bad key","type":"invalid_request_error"}}`)
	}))
	defer srv.Close()

	_, err := NewOpenAIRecognizer(OpenAIConfig{APIKey: "bad", BaseURL: srv.URL + "/v1"}).Recognize(context.Background(), testRequest())
	assert.ErrorIs(t, err, ErrPermanent)
}

func deepgramServer(t *testing.T, results []string) *httptest.Server {
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Token dg-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		assert.Equal(t, "linear16", r.URL.Query().Get("encoding"))
		assert.Equal(t, "16000", r.URL.Query().Get("sample_rate"))
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()

		received := 0
		for {
			mt, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if mt == websocket.BinaryMessage {
				received += len(msg)
				continue
			}
			if strings.Contains(string(msg), "CloseStream") {
				break
			}
		}
		assert.Equal(t, 3200*2, received)

		for _, text := range results {
			resp := map[string]any{
				"type":     "Results",
				"is_final": true,
				"duration": 1.0,
				"channel": map[string]any{
					"alternatives": []map[string]any{{"transcript": text, "confidence": 0.9}},
				},
			}
			_ = conn.WriteJSON(resp)
		}
		_ = conn.WriteJSON(map[string]any{"type": "Metadata"})
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	}))
}

func TestDeepgramRecognize(t *testing.T) {
	srv := deepgramServer(t, []string{"results were", "strong this year"})
	defer srv.Close()

	rec := NewDeepgram(DeepgramConfig{APIKey: "dg-key", URL: "ws" + strings.TrimPrefix(srv.URL, "http")})
	tr, err := rec.Recognize(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, "results were strong this year", tr.Text)
	assert.InDelta(t, 0.9, tr.Confidence, 1e-9)
}

func TestDeepgramBadKeyIsPermanent(t *testing.T) {
	srv := deepgramServer(t, nil)
	defer srv.Close()

	rec := NewDeepgram(DeepgramConfig{APIKey: "wrong", URL: "ws" + strings.TrimPrefix(srv.URL, "http")})
	_, err := rec.Recognize(context.Background(), testRequest())
	assert.ErrorIs(t, err, ErrPermanent)
}

func TestFactory(t *testing.T) {
	tests := []struct {
		name    string
		cfg     BackendConfig
		want    string
		wantErr bool
	}{
		{"whisper", BackendConfig{Backend: BackendWhisperHTTP, WhisperHTTP: WhisperHTTPConfig{URL: "http://localhost:8082"}}, "whisper-http", false},
		{"whisper without url", BackendConfig{Backend: BackendWhisperHTTP}, "", true},
		{"openai", BackendConfig{Backend: BackendOpenAI, OpenAI: OpenAIConfig{APIKey: "k"}}, "openai", false},
		{"deepgram", BackendConfig{Backend: BackendDeepgram, Deepgram: DeepgramConfig{APIKey: "k"}}, "deepgram", false},
		{"unknown", BackendConfig{Backend: "vosk"}, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, err := New(tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, rec.Name())
		})
	}
}
