package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "LIVESCRIBE_"

// Loader builds a Config from defaults, an optional YAML file and
// environment overrides, in that order. Tests can override Lookup to inject
// deterministic maps.
type Loader struct {
	Lookup func(string) (string, bool)
}

// Load is Loader{}.Load with the process environment.
func Load(path string) (Config, error) {
	return Loader{}.Load(path)
}

// Load reads path when non-empty, applies environment overrides and
// validates the result.
func (l Loader) Load(path string) (Config, error) {
	if l.Lookup == nil {
		l.Lookup = os.LookupEnv
	}

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if err := l.applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (l Loader) applyEnv(cfg *Config) error {
	var errs []error
	str := func(key string, target *string) {
		overrideString(l.Lookup, EnvPrefix+key, target)
	}
	num := func(key string, target *int) {
		if err := overrideInt(l.Lookup, EnvPrefix+key, target); err != nil {
			errs = append(errs, err)
		}
	}
	dur := func(key string, target *time.Duration) {
		if err := overrideDuration(l.Lookup, EnvPrefix+key, target); err != nil {
			errs = append(errs, err)
		}
	}

	num("SAMPLE_RATE", &cfg.Audio.SampleRate)
	str("DEVICE", &cfg.Audio.Device)
	str("INPUT_FORMAT", &cfg.Audio.InputFormat)
	str("ARCHIVE_DIR", &cfg.Audio.ArchiveDir)
	if err := overrideFloat(l.Lookup, EnvPrefix+"RING_BUFFER_SECONDS", &cfg.RingBufferSeconds); err != nil {
		errs = append(errs, err)
	}

	dur("SILENCE_THRESHOLD", &cfg.Segmenter.SilenceThreshold)
	dur("MAX_CHUNK_DURATION", &cfg.Segmenter.MaxChunkDuration)
	dur("MIN_CHUNK_DURATION", &cfg.Segmenter.MinChunkDuration)
	dur("OVERLAP_DURATION", &cfg.Segmenter.OverlapDuration)
	dur("TURN_SILENCE_THRESHOLD", &cfg.Speaker.TurnSilence)

	str("RECOGNITION_BACKEND", &cfg.Recognition.Backend)
	dur("RECOGNITION_TIMEOUT", &cfg.Recognition.Timeout)
	num("RECOGNITION_RETRIES", &cfg.Recognition.Retries)
	num("RECOGNITION_CONCURRENCY", &cfg.Recognition.Concurrency)
	str("LANGUAGE", &cfg.Recognition.Language)
	str("WHISPER_URL", &cfg.Recognition.WhisperHTTP.URL)
	str("OPENAI_API_KEY", &cfg.Recognition.OpenAI.APIKey)
	str("OPENAI_BASE_URL", &cfg.Recognition.OpenAI.BaseURL)
	str("DEEPGRAM_API_KEY", &cfg.Recognition.Deepgram.APIKey)

	str("OUTPUT_FORMAT", &cfg.Output.Format)
	str("LOG_LEVEL", &cfg.Log.Level)
	str("ENV", &cfg.Log.Environment)
	str("LOG_FILE", &cfg.Log.File)
	str("SERVER_ADDR", &cfg.Server.Addr)
	str("SENTRY_DSN", &cfg.SentryDSN)

	return errors.Join(errs...)
}

func overrideString(lookup func(string) (string, bool), key string, target *string) {
	if lookup == nil || target == nil {
		return
	}
	if value, ok := lookup(key); ok && strings.TrimSpace(value) != "" {
		*target = strings.TrimSpace(value)
	}
}

func overrideInt(lookup func(string) (string, bool), key string, target *int) error {
	var raw string
	overrideString(lookup, key, &raw)
	if raw == "" {
		return nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fmt.Errorf("config: %s: %w", key, err)
	}
	*target = v
	return nil
}

func overrideFloat(lookup func(string) (string, bool), key string, target *float64) error {
	var raw string
	overrideString(lookup, key, &raw)
	if raw == "" {
		return nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fmt.Errorf("config: %s: %w", key, err)
	}
	*target = v
	return nil
}

// overrideDuration accepts Go duration strings ("700ms") or plain seconds ("0.7").
func overrideDuration(lookup func(string) (string, bool), key string, target *time.Duration) error {
	var raw string
	overrideString(lookup, key, &raw)
	if raw == "" {
		return nil
	}
	if d, err := time.ParseDuration(raw); err == nil {
		*target = d
		return nil
	}
	secs, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fmt.Errorf("config: %s: invalid duration %q", key, raw)
	}
	*target = time.Duration(secs * float64(time.Second))
	return nil
}
