// Package config 定义 livescribe 的统一配置：默认值、YAML 文件、环境变量覆盖与校验
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/houzhh15/livescribe/cmd/livescribe/internal/align"
	"github.com/houzhh15/livescribe/cmd/livescribe/internal/audio"
	"github.com/houzhh15/livescribe/cmd/livescribe/internal/capture"
	"github.com/houzhh15/livescribe/cmd/livescribe/internal/orchestrator"
	"github.com/houzhh15/livescribe/cmd/livescribe/internal/quality"
	"github.com/houzhh15/livescribe/cmd/livescribe/internal/recognizer"
	"github.com/houzhh15/livescribe/cmd/livescribe/internal/segmenter"
	"github.com/houzhh15/livescribe/cmd/livescribe/internal/speaker"
	"github.com/houzhh15/livescribe/cmd/livescribe/internal/transcript"
	"github.com/houzhh15/livescribe/pkg/logger"
)

// Config 统一配置结构
type Config struct {
	Audio             AudioConfig       `yaml:"audio"`
	RingBufferSeconds float64           `yaml:"ring_buffer_seconds"`
	Segmenter         SegmenterConfig   `yaml:"segmenter"`
	Quality           QualityConfig     `yaml:"quality"`
	Recognition       RecognitionConfig `yaml:"recognition"`
	Alignment         AlignmentConfig   `yaml:"alignment"`
	Speaker           speaker.Config    `yaml:"speaker"`
	Output            OutputConfig      `yaml:"output"`
	Log               LogConfig         `yaml:"log"`
	Server            ServerConfig      `yaml:"server"`
	SentryDSN         string            `yaml:"sentry_dsn"`
}

// AudioConfig 采集配置
type AudioConfig struct {
	SampleRate    int           `yaml:"sample_rate"`
	Channels      int           `yaml:"channels"`
	FrameDuration time.Duration `yaml:"frame_duration"`

	// ffmpeg 设备采集，空值使用平台默认麦克风
	FFmpegBinary string `yaml:"ffmpeg_binary"`
	InputFormat  string `yaml:"input_format"`
	Device       string `yaml:"device"`

	VADEnergyThreshold float64 `yaml:"vad_energy_threshold"`
	VADMaxZCR          float64 `yaml:"vad_max_zcr"`

	// ArchiveDir 非空时每个会话录音写入 <session-id>.wav
	ArchiveDir string `yaml:"archive_dir"`
}

// SegmenterConfig 分段配置
type SegmenterConfig struct {
	SilenceThreshold time.Duration `yaml:"silence_threshold"`
	MaxChunkDuration time.Duration `yaml:"max_chunk_duration"`
	MinChunkDuration time.Duration `yaml:"min_chunk_duration"`
	OverlapDuration  time.Duration `yaml:"overlap_duration"`
}

// QualityConfig 质量自适应配置
type QualityConfig struct {
	Adaptive       bool `yaml:"adaptive"`
	Window         int  `yaml:"window"`
	quality.Policy `yaml:",inline"`
}

// RecognitionConfig 识别配置
type RecognitionConfig struct {
	recognizer.BackendConfig `yaml:",inline"`

	Timeout        time.Duration `yaml:"timeout"`
	Retries        int           `yaml:"retries"`
	Concurrency    int           `yaml:"concurrency"`
	BackoffBase    time.Duration `yaml:"backoff_base"`
	BackoffMax     time.Duration `yaml:"backoff_max"`
	Language       string        `yaml:"language"`
	PromptFromTail bool          `yaml:"prompt_from_tail"`

	Degradation DegradationConfig `yaml:"degradation"`
}

// DegradationConfig 健康检查与降级配置
type DegradationConfig struct {
	Enabled       bool          `yaml:"enabled"`
	CheckInterval time.Duration `yaml:"check_interval"`
	FailThreshold int           `yaml:"fail_threshold"`
}

// AlignmentConfig 对齐去重配置
type AlignmentConfig struct {
	align.Config `yaml:",inline"`
	Replacements map[string]string `yaml:"replacements"`
}

// OutputConfig 转写输出配置
type OutputConfig struct {
	// Format 支持 text/jsonl/srt
	Format string `yaml:"format"`
	// FinalPath 非空时会话结束写入完整 JSON 快照
	FinalPath string `yaml:"final_path"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level       string `yaml:"level"`
	Environment string `yaml:"environment"`
	File        string `yaml:"file"`
	MaxSizeMB   int    `yaml:"max_size_mb"`
	MaxBackups  int    `yaml:"max_backups"`
	MaxAgeDays  int    `yaml:"max_age_days"`
}

// ServerConfig HTTP 控制接口配置
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// Default 返回文档约定的默认配置
func Default() Config {
	pipeline := orchestrator.DefaultConfig()
	return Config{
		Audio: AudioConfig{
			SampleRate:         audio.DefaultFormat.SampleRate,
			Channels:           audio.DefaultFormat.Channels,
			FrameDuration:      capture.DefaultFrameDuration,
			VADEnergyThreshold: audio.DefaultVAD.EnergyThreshold,
			VADMaxZCR:          audio.DefaultVAD.MaxZCR,
		},
		RingBufferSeconds: pipeline.RingBuffer.Seconds(),
		Segmenter: SegmenterConfig{
			SilenceThreshold: segmenter.DefaultParams.SilenceThreshold,
			MaxChunkDuration: segmenter.DefaultParams.MaxChunkDuration,
			MinChunkDuration: segmenter.DefaultParams.MinChunkDuration,
			OverlapDuration:  segmenter.DefaultParams.OverlapDuration,
		},
		Quality: QualityConfig{
			Adaptive: true,
			Window:   quality.DefaultWindow,
			Policy:   quality.DefaultPolicy,
		},
		Recognition: RecognitionConfig{
			BackendConfig: recognizer.BackendConfig{
				Backend:     recognizer.BackendWhisperHTTP,
				WhisperHTTP: recognizer.WhisperHTTPConfig{URL: "http://localhost:8082"},
			},
			Timeout:     recognizer.DefaultClientConfig.Timeout,
			Retries:     recognizer.DefaultClientConfig.Retries,
			Concurrency: pipeline.Concurrency,
			BackoffBase: recognizer.DefaultClientConfig.BackoffBase,
			BackoffMax:  recognizer.DefaultClientConfig.BackoffMax,
			Degradation: DegradationConfig{
				CheckInterval: 30 * time.Second,
				FailThreshold: 3,
			},
		},
		Alignment: AlignmentConfig{Config: align.DefaultConfig()},
		Speaker:   speaker.DefaultConfig(),
		Output:    OutputConfig{Format: "text"},
		Log: LogConfig{
			Level:       "info",
			Environment: "dev",
			MaxSizeMB:   50,
			MaxBackups:  5,
			MaxAgeDays:  14,
		},
		Server: ServerConfig{Addr: ":8090"},
	}
}

// Format 返回采集音频格式
func (c Config) Format() audio.Format {
	return audio.Format{SampleRate: c.Audio.SampleRate, Channels: c.Audio.Channels}
}

// SegmenterParams 返回分段参数
func (c Config) SegmenterParams() segmenter.Params {
	return segmenter.Params{
		SilenceThreshold: c.Segmenter.SilenceThreshold,
		MaxChunkDuration: c.Segmenter.MaxChunkDuration,
		MinChunkDuration: c.Segmenter.MinChunkDuration,
		OverlapDuration:  c.Segmenter.OverlapDuration,
	}
}

// PipelineConfig 转换为流水线配置
func (c Config) PipelineConfig() orchestrator.Config {
	return orchestrator.Config{
		FrameDuration: c.Audio.FrameDuration,
		RingBuffer:    time.Duration(c.RingBufferSeconds * float64(time.Second)),
		Segmenter:     c.SegmenterParams(),
		VAD:           audio.VAD{EnergyThreshold: c.Audio.VADEnergyThreshold, MaxZCR: c.Audio.VADMaxZCR},
		AdaptQuality:  c.Quality.Adaptive,
		Quality:       c.Quality.Policy,
		QualityWindow: c.Quality.Window,
		Recognition: recognizer.ClientConfig{
			Timeout:     c.Recognition.Timeout,
			Retries:     c.Recognition.Retries,
			BackoffBase: c.Recognition.BackoffBase,
			BackoffMax:  c.Recognition.BackoffMax,
		},
		Concurrency:    c.Recognition.Concurrency,
		Language:       c.Recognition.Language,
		PromptFromTail: c.Recognition.PromptFromTail,
		Align:          c.Alignment.Config,
		Replacements:   c.Alignment.Replacements,
		Speaker:        c.Speaker,
		ArchiveDir:     c.Audio.ArchiveDir,
		LevelInterval:  time.Second,
	}
}

// FFmpegConfig 返回设备采集配置
func (c Config) FFmpegConfig() capture.FFmpegConfig {
	return capture.FFmpegConfig{
		Binary:        c.Audio.FFmpegBinary,
		InputFormat:   c.Audio.InputFormat,
		Device:        c.Audio.Device,
		Format:        c.Format(),
		FrameDuration: c.Audio.FrameDuration,
	}
}

// LoggerConfig 返回日志初始化配置
func (c Config) LoggerConfig() logger.Config {
	return logger.Config{
		Level:       c.Log.Level,
		Environment: c.Log.Environment,
		WithSource:  !strings.EqualFold(c.Log.Environment, "prod"),
		File:        c.Log.File,
		MaxSizeMB:   c.Log.MaxSizeMB,
		MaxBackups:  c.Log.MaxBackups,
		MaxAgeDays:  c.Log.MaxAgeDays,
	}
}

// Validate 验证配置的有效性
func (c Config) Validate() error {
	var errs []string

	// 1. 音频格式
	if !c.Format().Valid() {
		errs = append(errs, fmt.Sprintf("invalid audio format: sample_rate=%d channels=%d", c.Audio.SampleRate, c.Audio.Channels))
	}
	if c.RingBufferSeconds <= 0 {
		errs = append(errs, fmt.Sprintf("ring_buffer_seconds must be positive, got %g", c.RingBufferSeconds))
	}

	// 2. 识别后端
	if _, err := recognizer.New(c.Recognition.BackendConfig); err != nil {
		errs = append(errs, err.Error())
	}
	if c.Recognition.Degradation.Enabled {
		if c.Recognition.Degradation.CheckInterval <= 0 {
			errs = append(errs, "recognition.degradation.check_interval must be positive")
		}
		if c.Recognition.Degradation.FailThreshold < 1 {
			errs = append(errs, "recognition.degradation.fail_threshold must be at least 1")
		}
	}

	// 3. 输出格式
	if _, err := transcript.ParseFormat(c.Output.Format); err != nil {
		errs = append(errs, err.Error())
	}

	// 4. 日志级别
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[strings.ToLower(c.Log.Level)] {
		errs = append(errs, fmt.Sprintf("invalid log.level: %s (must be: debug, info, warn, error)", c.Log.Level))
	}

	// 5. 流水线参数
	if err := c.PipelineConfig().Validate(); err != nil {
		errs = append(errs, err.Error())
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// Summary 打印配置（脱敏）
func (c Config) Summary() string {
	return fmt.Sprintf(`Configuration Loaded:
  Audio: %d Hz, %d ch, frame %s, ring %gs
  Segmenter: silence %s, chunk %s..%s, overlap %s
  Recognition:
    - Backend: %s
    - Timeout: %s, Retries: %d, Concurrency: %d
    - OpenAI Key: %s
    - Deepgram Key: %s
  Quality Adaptive: %t
  Log: %s (%s)
  Server: %s
  Sentry DSN: %s`,
		c.Audio.SampleRate, c.Audio.Channels, c.Audio.FrameDuration, c.RingBufferSeconds,
		c.Segmenter.SilenceThreshold, c.Segmenter.MinChunkDuration, c.Segmenter.MaxChunkDuration, c.Segmenter.OverlapDuration,
		c.Recognition.Backend,
		c.Recognition.Timeout, c.Recognition.Retries, c.Recognition.Concurrency,
		maskSecret(c.Recognition.OpenAI.APIKey),
		maskSecret(c.Recognition.Deepgram.APIKey),
		c.Quality.Adaptive,
		c.Log.Level, c.Log.Environment,
		c.Server.Addr,
		maskSecret(c.SentryDSN),
	)
}

// maskSecret 对敏感信息进行脱敏
func maskSecret(secret string) string {
	if secret == "" {
		return "<not set>"
	}
	if len(secret) <= 8 {
		return "***"
	}
	return secret[:4] + "***" + secret[len(secret)-4:]
}
