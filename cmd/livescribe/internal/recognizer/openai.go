package recognizer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIConfig configures the hosted transcription API. BaseURL may point
// at any OpenAI-compatible server.
type OpenAIConfig struct {
	APIKey      string  `yaml:"api_key"`
	BaseURL     string  `yaml:"base_url"`
	Model       string  `yaml:"model"`
	Temperature float32 `yaml:"temperature"`
}

// OpenAIRecognizer transcribes chunks with the audio transcription endpoint,
// asking for verbose JSON so per-segment log probabilities are available.
type OpenAIRecognizer struct {
	client *openai.Client
	model  string
	temp   float32
}

// NewOpenAIRecognizer builds a client from cfg.
func NewOpenAIRecognizer(cfg OpenAIConfig) *OpenAIRecognizer {
	occ := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		occ.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	model := cfg.Model
	if model == "" {
		model = openai.Whisper1
	}
	return &OpenAIRecognizer{client: openai.NewClientWithConfig(occ), model: model, temp: cfg.Temperature}
}

// Recognize uploads the chunk as a WAV file.
func (o *OpenAIRecognizer) Recognize(ctx context.Context, req Request) (*Transcription, error) {
	resp, err := o.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:       o.model,
		FilePath:    fmt.Sprintf("chunk-%06d.wav", req.ChunkID),
		Reader:      bytes.NewReader(req.WAV()),
		Prompt:      req.Prompt,
		Temperature: o.temp,
		Language:    req.Language,
		Format:      openai.AudioResponseFormatVerboseJSON,
	})
	if err != nil {
		return nil, classifyOpenAIError(err)
	}

	scores := make([]segmentScore, 0, len(resp.Segments))
	for _, s := range resp.Segments {
		scores = append(scores, segmentScore{AvgLogprob: s.AvgLogprob, NoSpeechProb: s.NoSpeechProb, Weight: s.End - s.Start})
	}
	lang := resp.Language
	if lang == "" {
		lang = req.Language
	}
	return &Transcription{
		Text:       strings.TrimSpace(resp.Text),
		Confidence: confidenceFromSegments(scores),
		Language:   lang,
	}, nil
}

func classifyOpenAIError(err error) error {
	status := 0
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	}
	err = fmt.Errorf("openai: %w", err)
	if status >= 400 && status < 500 && status != http.StatusRequestTimeout && status != http.StatusTooManyRequests {
		return Permanent(err)
	}
	return err
}

// HealthCheck lists models, which needs a valid key and a reachable API.
func (o *OpenAIRecognizer) HealthCheck(ctx context.Context) (bool, error) {
	if _, err := o.client.ListModels(ctx); err != nil {
		return false, fmt.Errorf("openai health check failed: %w", err)
	}
	return true, nil
}

// Name returns the backend identifier.
func (o *OpenAIRecognizer) Name() string { return "openai" }
