package health

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type mockTarget struct {
	mu      sync.Mutex
	healthy bool
	calls   int
}

func (m *mockTarget) HealthCheck(ctx context.Context) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if !m.healthy {
		return false, errors.New("connection refused")
	}
	return true, nil
}

func (m *mockTarget) Name() string { return "mock" }

func (m *mockTarget) set(healthy bool) {
	m.mu.Lock()
	m.healthy = healthy
	m.mu.Unlock()
}

func TestHealthChecker(t *testing.T) {
	t.Run("initial state is healthy", func(t *testing.T) {
		checker := NewHealthChecker(&mockTarget{healthy: true}, time.Second, 3, nil)
		status := checker.GetStatus()
		assert.True(t, status.IsHealthy)
		assert.Equal(t, 0, status.ConsecutiveFails)
		assert.Equal(t, "mock", status.Backend)
	})

	t.Run("unhealthy only after threshold", func(t *testing.T) {
		target := &mockTarget{healthy: false}
		checker := NewHealthChecker(target, time.Second, 3, nil)
		ctx := context.Background()

		assert.True(t, checker.Check(ctx).IsHealthy)
		assert.True(t, checker.Check(ctx).IsHealthy)
		status := checker.Check(ctx)
		assert.False(t, status.IsHealthy)
		assert.Equal(t, 3, status.ConsecutiveFails)
		assert.Contains(t, status.ErrorMessage, "connection refused")
	})

	t.Run("one success recovers", func(t *testing.T) {
		target := &mockTarget{healthy: false}
		checker := NewHealthChecker(target, time.Second, 1, nil)
		assert.False(t, checker.Check(context.Background()).IsHealthy)

		target.set(true)
		status := checker.Check(context.Background())
		assert.True(t, status.IsHealthy)
		assert.Equal(t, 0, status.ConsecutiveFails)
		assert.Empty(t, status.ErrorMessage)
	})

	t.Run("stop can be called multiple times", func(t *testing.T) {
		checker := NewHealthChecker(&mockTarget{healthy: true}, time.Second, 3, nil)
		checker.Stop()
		checker.Stop()
	})

	t.Run("start loop checks until stopped", func(t *testing.T) {
		target := &mockTarget{healthy: false}
		checker := NewHealthChecker(target, 5*time.Millisecond, 2, nil)

		done := make(chan struct{})
		go func() {
			checker.Start(context.Background())
			close(done)
		}()

		assert.Eventually(t, func() bool { return !checker.GetStatus().IsHealthy }, time.Second, 5*time.Millisecond)
		checker.Stop()
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("Start did not return after Stop")
		}
	})
}
