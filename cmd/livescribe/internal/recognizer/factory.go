package recognizer

import "fmt"

// Backend names accepted by New.
const (
	BackendWhisperHTTP = "whisper-http"
	BackendOpenAI      = "openai"
	BackendDeepgram    = "deepgram"
)

// BackendConfig selects and configures one backend.
type BackendConfig struct {
	Backend     string            `yaml:"backend"`
	WhisperHTTP WhisperHTTPConfig `yaml:"whisper_http"`
	OpenAI      OpenAIConfig      `yaml:"openai"`
	Deepgram    DeepgramConfig    `yaml:"deepgram"`
}

// New builds the configured backend.
func New(cfg BackendConfig) (Recognizer, error) {
	switch cfg.Backend {
	case BackendWhisperHTTP:
		if cfg.WhisperHTTP.URL == "" {
			return nil, fmt.Errorf("recognition.whisper_http.url is required for backend %q", cfg.Backend)
		}
		return NewWhisperHTTP(cfg.WhisperHTTP), nil
	case BackendOpenAI:
		if cfg.OpenAI.APIKey == "" {
			return nil, fmt.Errorf("recognition.openai.api_key is required for backend %q", cfg.Backend)
		}
		return NewOpenAIRecognizer(cfg.OpenAI), nil
	case BackendDeepgram:
		if cfg.Deepgram.APIKey == "" {
			return nil, fmt.Errorf("recognition.deepgram.api_key is required for backend %q", cfg.Backend)
		}
		return NewDeepgram(cfg.Deepgram), nil
	default:
		return nil, fmt.Errorf("unknown recognition backend %q", cfg.Backend)
	}
}
