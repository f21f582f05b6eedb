package recognizer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

// WhisperHTTPConfig points at a go-whisper (or compatible) server.
type WhisperHTTPConfig struct {
	URL         string  `yaml:"url"`
	Model       string  `yaml:"model"`
	Temperature float64 `yaml:"temperature"`
}

// WhisperHTTP implements Recognizer for the go-whisper REST API
// (ghcr.io/mutablelogic/go-whisper) using multipart/form-data uploads.
type WhisperHTTP struct {
	cfg        WhisperHTTPConfig
	httpClient *http.Client
}

// NewWhisperHTTP creates a recognizer for the server at cfg.URL. Per-call
// deadlines come from the request context; the client timeout only guards
// against a hung connection outliving it.
func NewWhisperHTTP(cfg WhisperHTTPConfig) *WhisperHTTP {
	cfg.URL = strings.TrimRight(cfg.URL, "/")
	if cfg.Model == "" {
		cfg.Model = "ggml-base"
	}
	return &WhisperHTTP{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 5 * time.Minute},
	}
}

// whisperResponse accepts go-whisper's JSON and the verbose form emitted by
// OpenAI-compatible servers.
type whisperResponse struct {
	Text     string `json:"text"`
	Language string `json:"language"`
	Segments []struct {
		Start        float64 `json:"start"`
		End          float64 `json:"end"`
		Text         string  `json:"text"`
		AvgLogprob   float64 `json:"avg_logprob"`
		NoSpeechProb float64 `json:"no_speech_prob"`
	} `json:"segments"`
}

// Recognize sends the chunk to POST {url}/api/whisper/transcribe.
func (w *WhisperHTTP) Recognize(ctx context.Context, req Request) (*Transcription, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	// go-whisper uses the 'audio' field name
	part, err := writer.CreateFormFile("audio", fmt.Sprintf("chunk-%06d.wav", req.ChunkID))
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(req.WAV()); err != nil {
		return nil, fmt.Errorf("failed to write audio: %w", err)
	}

	fields := map[string]string{
		"model":           w.cfg.Model,
		"response_format": "json",
		// 0.0 keeps hallucinated repetitions down
		"temperature": fmt.Sprintf("%.1f", w.cfg.Temperature),
	}
	if req.Language != "" {
		fields["language"] = req.Language
	}
	if req.Prompt != "" {
		fields["prompt"] = req.Prompt
	}
	for k, v := range fields {
		if err := writer.WriteField(k, v); err != nil {
			return nil, fmt.Errorf("failed to write %s field: %w", k, err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	endpoint := w.cfg.URL + "/api/whisper/transcribe"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return nil, Permanent(fmt.Errorf("failed to create HTTP request: %w", err))
	}
	httpReq.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := w.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, statusError(w.Name(), resp.StatusCode, string(bodyBytes))
	}

	var result whisperResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to parse JSON response: %w", err)
	}

	text := strings.TrimSpace(result.Text)
	scores := make([]segmentScore, 0, len(result.Segments))
	var parts []string
	for _, s := range result.Segments {
		scores = append(scores, segmentScore{AvgLogprob: s.AvgLogprob, NoSpeechProb: s.NoSpeechProb, Weight: s.End - s.Start})
		parts = append(parts, strings.TrimSpace(s.Text))
	}
	if text == "" {
		text = strings.Join(parts, " ")
	}

	lang := result.Language
	if lang == "" {
		lang = req.Language
	}
	return &Transcription{Text: text, Confidence: confidenceFromSegments(scores), Language: lang}, nil
}

// HealthCheck calls GET {url}/api/whisper/model.
func (w *WhisperHTTP) HealthCheck(ctx context.Context) (bool, error) {
	endpoint := w.cfg.URL + "/api/whisper/model"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return false, fmt.Errorf("failed to create health check request: %w", err)
	}

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("health check request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		return true, nil
	}
	return false, fmt.Errorf("health check failed: status %d", resp.StatusCode)
}

// Name returns the backend identifier.
func (w *WhisperHTTP) Name() string { return "whisper-http" }
