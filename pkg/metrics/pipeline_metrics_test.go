package metrics

import (
	"testing"

	dto "github.com/prometheus/client_model/go"
)

func counterValue(t *testing.T, c interface{ Write(*dto.Metric) error }) float64 {
	t.Helper()
	metric := &dto.Metric{}
	if err := c.Write(metric); err != nil {
		t.Fatalf("Failed to write metric: %v", err)
	}
	return metric.Counter.GetValue()
}

func TestRecordChunk(t *testing.T) {
	chunksTotal.Reset()

	RecordChunk("recognizer", "success")
	RecordChunk("recognizer", "success")
	RecordChunk("recognizer", "timeout")

	if got := counterValue(t, chunksTotal.WithLabelValues("recognizer", "success")); got != 2 {
		t.Errorf("Expected success counter 2, got %f", got)
	}
	if got := counterValue(t, chunksTotal.WithLabelValues("recognizer", "timeout")); got != 1 {
		t.Errorf("Expected timeout counter 1, got %f", got)
	}
}

func TestRecordOverflow(t *testing.T) {
	before := counterValue(t, bufferOverflowTotal)

	RecordOverflow(3)
	RecordOverflow(0)

	if got := counterValue(t, bufferOverflowTotal) - before; got != 3 {
		t.Errorf("Expected overflow delta 3, got %f", got)
	}
}

func TestRecordDedup(t *testing.T) {
	dedupTotal.Reset()

	RecordDedup("merged")
	RecordDedup("miss")

	if got := counterValue(t, dedupTotal.WithLabelValues("miss")); got != 1 {
		t.Errorf("Expected miss counter 1, got %f", got)
	}
}

func TestRecordRecognitionDuration(t *testing.T) {
	recognitionDuration.Reset()

	RecordRecognitionDuration("openai", 0.8)
	RecordRecognitionDuration("openai", 2.5)

	metric := &dto.Metric{}
	if err := recognitionDuration.WithLabelValues("openai").(interface{ Write(*dto.Metric) error }).Write(metric); err != nil {
		t.Fatalf("Failed to write metric: %v", err)
	}
	if metric.Histogram.GetSampleCount() != 2 {
		t.Errorf("Expected 2 samples, got %d", metric.Histogram.GetSampleCount())
	}
}

func TestSessionGauge(t *testing.T) {
	sessionsActive.Set(0)

	SessionStarted()
	SessionStarted()
	SessionEnded()

	metric := &dto.Metric{}
	if err := sessionsActive.Write(metric); err != nil {
		t.Fatalf("Failed to write metric: %v", err)
	}
	if metric.Gauge.GetValue() != 1 {
		t.Errorf("Expected gauge value 1, got %f", metric.Gauge.GetValue())
	}
}

func TestRecordDegradationEvent(t *testing.T) {
	degradationEventsTotal.Reset()

	RecordDegradationEvent("openai", "unavailable")

	if got := counterValue(t, degradationEventsTotal.WithLabelValues("openai", "unavailable")); got != 1 {
		t.Errorf("Expected degradation counter 1, got %f", got)
	}
}
