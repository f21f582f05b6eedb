// Package degradation switches recognition between a primary backend and a
// fallback based on the primary's health.
package degradation

import (
	"context"
	"log/slog"
	"sync"

	"github.com/houzhh15/livescribe/cmd/livescribe/internal/recognizer"
	"github.com/houzhh15/livescribe/cmd/livescribe/internal/recognizer/health"
	"github.com/houzhh15/livescribe/pkg/logger"
	"github.com/houzhh15/livescribe/pkg/metrics"
)

// StatusSource reports the primary backend's health.
type StatusSource interface {
	GetStatus() health.ServiceStatus
}

// DegradationController is itself a recognizer.Recognizer: every call is
// routed to the primary while it is healthy and to the fallback otherwise.
// Switching happens lazily on the next call after the status changes.
//
// Thread-safety: all methods are safe for concurrent use.
type DegradationController struct {
	primary  recognizer.Recognizer
	fallback recognizer.Recognizer
	status   StatusSource

	mu         sync.RWMutex
	current    recognizer.Recognizer
	isDegraded bool
	logger     *slog.Logger
}

// NewDegradationController starts on the primary. A nil fallback becomes
// recognizer.NewUnavailable for the primary.
func NewDegradationController(primary, fallback recognizer.Recognizer, status StatusSource, l *slog.Logger) *DegradationController {
	if fallback == nil {
		fallback = recognizer.NewUnavailable(primary.Name())
	}
	return &DegradationController{
		primary:  primary,
		fallback: fallback,
		status:   status,
		current:  primary,
		logger:   logger.OrDefault(l).With("component", "degradation"),
	}
}

// GetRecognizer returns the active backend, switching first if the
// primary's health changed since the last call.
func (dc *DegradationController) GetRecognizer() recognizer.Recognizer {
	status := dc.status.GetStatus()

	dc.mu.Lock()
	defer dc.mu.Unlock()

	if !status.IsHealthy && !dc.isDegraded {
		dc.logger.Warn("degrading to fallback recognizer",
			"primary", dc.primary.Name(), "fallback", dc.fallback.Name(), "reason", status.ErrorMessage)
		metrics.RecordDegradationEvent(dc.primary.Name(), dc.fallback.Name())
		dc.current = dc.fallback
		dc.isDegraded = true
	}

	if status.IsHealthy && dc.isDegraded {
		dc.logger.Info("recovering to primary recognizer", "primary", dc.primary.Name())
		metrics.RecordDegradationEvent(dc.fallback.Name(), dc.primary.Name())
		dc.current = dc.primary
		dc.isDegraded = false
	}

	return dc.current
}

// IsDegraded reports whether the fallback is active.
func (dc *DegradationController) IsDegraded() bool {
	dc.mu.RLock()
	defer dc.mu.RUnlock()
	return dc.isDegraded
}

// Recognize forwards to the active backend.
func (dc *DegradationController) Recognize(ctx context.Context, req recognizer.Request) (*recognizer.Transcription, error) {
	return dc.GetRecognizer().Recognize(ctx, req)
}

// HealthCheck checks the primary so a recovery can be observed while
// degraded.
func (dc *DegradationController) HealthCheck(ctx context.Context) (bool, error) {
	return dc.primary.HealthCheck(ctx)
}

// Name returns the primary's name so metrics stay keyed by backend.
func (dc *DegradationController) Name() string { return dc.primary.Name() }
