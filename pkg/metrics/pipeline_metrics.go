// Package metrics provides Prometheus metrics for monitoring the transcription pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// chunksTotal 音频块处理总数
	// Labels: stage (segmenter/recognizer), status (cut/success/failed/timeout)
	chunksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "livescribe_chunks_total",
			Help: "Total number of audio chunks by pipeline stage and status",
		},
		[]string{"stage", "status"},
	)

	// recognitionDuration 单个音频块识别耗时（含重试）
	// Labels: backend (whisper-http/openai/deepgram/unavailable)
	recognitionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "livescribe_recognition_duration_seconds",
			Help:    "Recognition latency per chunk in seconds, retries included",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 30},
		},
		[]string{"backend"},
	)

	// recognitionRetriesTotal 识别重试次数
	recognitionRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "livescribe_recognition_retries_total",
			Help: "Total number of recognition retries by backend",
		},
		[]string{"backend"},
	)

	// bufferOverflowTotal 环形缓冲区溢出丢弃的帧数
	bufferOverflowTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "livescribe_buffer_overflow_frames_total",
			Help: "Total number of audio frames dropped by the ring buffer",
		},
	)

	// dedupTotal 对齐去重结果
	// Labels: outcome (merged/miss/duplicate/none)
	dedupTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "livescribe_dedup_total",
			Help: "Total number of alignment outcomes",
		},
		[]string{"outcome"},
	)

	// segmentsEmittedTotal 已发出的转写片段
	// Labels: kind (speech/gap)
	segmentsEmittedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "livescribe_segments_emitted_total",
			Help: "Total number of transcript segments emitted by kind",
		},
		[]string{"kind"},
	)

	// degradationEventsTotal 识别后端降级/恢复事件
	degradationEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "livescribe_degradation_events_total",
			Help: "Total number of recognizer degradation events (e.g. openai -> unavailable)",
		},
		[]string{"from", "to"},
	)

	// sessionsActive 当前处于录制/暂停/停止中的会话数
	sessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "livescribe_sessions_active",
			Help: "Number of sessions currently recording, paused or stopping",
		},
	)

	// qualityParam 自适应参数当前值（秒）
	// Labels: param (silence_threshold/max_chunk_duration/overlap_duration)
	qualityParam = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "livescribe_quality_param_seconds",
			Help: "Current adaptive segmenter parameter values in seconds",
		},
		[]string{"param"},
	)
)

// RecordChunk 记录音频块在某阶段的状态
func RecordChunk(stage, status string) {
	chunksTotal.WithLabelValues(stage, status).Inc()
}

// RecordRecognitionDuration 记录识别耗时（秒）
func RecordRecognitionDuration(backend string, seconds float64) {
	recognitionDuration.WithLabelValues(backend).Observe(seconds)
}

// RecordRetry 记录一次识别重试
func RecordRetry(backend string) {
	recognitionRetriesTotal.WithLabelValues(backend).Inc()
}

// RecordOverflow 记录 n 个被丢弃的帧
func RecordOverflow(n int) {
	if n > 0 {
		bufferOverflowTotal.Add(float64(n))
	}
}

// RecordDedup 记录一次对齐结果
func RecordDedup(outcome string) {
	dedupTotal.WithLabelValues(outcome).Inc()
}

// RecordSegment 记录一个已发出的片段
func RecordSegment(kind string) {
	segmentsEmittedTotal.WithLabelValues(kind).Inc()
}

// RecordDegradationEvent records a switch between recognizers.
func RecordDegradationEvent(from, to string) {
	degradationEventsTotal.WithLabelValues(from, to).Inc()
}

// SessionStarted 增加活动会话数
func SessionStarted() { sessionsActive.Inc() }

// SessionEnded 减少活动会话数
func SessionEnded() { sessionsActive.Dec() }

// SetQualityParam 设置自适应参数当前值
func SetQualityParam(param string, seconds float64) {
	qualityParam.WithLabelValues(param).Set(seconds)
}
