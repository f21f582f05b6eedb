// Package health checks a recognition backend periodically and tracks
// consecutive failures so the pipeline can degrade before chunks pile up.
package health

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/houzhh15/livescribe/pkg/logger"
)

// Target is the part of a recognizer the checker needs.
type Target interface {
	HealthCheck(ctx context.Context) (bool, error)
	Name() string
}

// ServiceStatus is the current health of one backend. Safe to serialize.
type ServiceStatus struct {
	Backend          string    `json:"backend"`
	IsHealthy        bool      `json:"is_healthy"`
	LastCheckTime    time.Time `json:"last_check_time"`
	ConsecutiveFails int       `json:"consecutive_fails"`
	ErrorMessage     string    `json:"error_message,omitempty"`
}

// HealthChecker runs periodic checks against a backend. The backend is only
// marked unhealthy after failThreshold consecutive failures; one success
// restores it.
type HealthChecker struct {
	target        Target
	status        ServiceStatus
	mu            sync.RWMutex
	checkInterval time.Duration
	checkTimeout  time.Duration
	failThreshold int
	stopChan      chan struct{}
	stopOnce      sync.Once
	logger        *slog.Logger
}

// NewHealthChecker returns a checker that starts out healthy.
func NewHealthChecker(p Target, checkInterval time.Duration, failThreshold int, l *slog.Logger) *HealthChecker {
	if failThreshold < 1 {
		failThreshold = 1
	}
	timeout := 10 * time.Second
	if checkInterval > 0 && checkInterval < timeout {
		timeout = checkInterval
	}
	return &HealthChecker{
		target:        p,
		checkInterval: checkInterval,
		checkTimeout:  timeout,
		failThreshold: failThreshold,
		stopChan:      make(chan struct{}),
		logger:        logger.OrDefault(l).With("component", "health", "backend", p.Name()),
		status: ServiceStatus{
			Backend:       p.Name(),
			IsHealthy:     true,
			LastCheckTime: time.Now(),
		},
	}
}

// Start checks immediately and then every interval until Stop is called or
// ctx is done. It blocks; run it in a goroutine.
func (hc *HealthChecker) Start(ctx context.Context) {
	hc.Check(ctx)
	if hc.checkInterval <= 0 {
		return
	}

	ticker := time.NewTicker(hc.checkInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			hc.Check(ctx)
		case <-hc.stopChan:
			hc.logger.Debug("health checker stopped")
			return
		case <-ctx.Done():
			hc.logger.Debug("health checker context cancelled")
			return
		}
	}
}

// Check runs a single check and updates the status.
func (hc *HealthChecker) Check(ctx context.Context) ServiceStatus {
	checkCtx, cancel := context.WithTimeout(ctx, hc.checkTimeout)
	defer cancel()

	healthy, err := hc.target.HealthCheck(checkCtx)

	hc.mu.Lock()
	defer hc.mu.Unlock()

	hc.status.LastCheckTime = time.Now()
	if healthy {
		if !hc.status.IsHealthy {
			hc.logger.Info("backend recovered")
		}
		hc.status.IsHealthy = true
		hc.status.ConsecutiveFails = 0
		hc.status.ErrorMessage = ""
		return hc.status
	}

	hc.status.ConsecutiveFails++
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	hc.status.ErrorMessage = fmt.Sprintf("health check failed: %s", msg)

	if hc.status.ConsecutiveFails >= hc.failThreshold {
		if hc.status.IsHealthy {
			hc.logger.Error("backend marked unhealthy", "consecutive_fails", hc.status.ConsecutiveFails, "error", msg)
		}
		hc.status.IsHealthy = false
	} else {
		hc.logger.Warn("health check failed", "consecutive_fails", hc.status.ConsecutiveFails,
			"threshold", hc.failThreshold, "error", msg)
	}
	return hc.status
}

// GetStatus returns a copy of the current status.
func (hc *HealthChecker) GetStatus() ServiceStatus {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	return hc.status
}

// Stop ends the Start loop. Safe to call more than once.
func (hc *HealthChecker) Stop() {
	hc.stopOnce.Do(func() { close(hc.stopChan) })
}
