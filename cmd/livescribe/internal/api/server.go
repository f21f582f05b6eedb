// Package api exposes the session lifecycle over HTTP: control routes, a
// transcript query surface, a websocket stream of segments and events, and
// the Prometheus scrape endpoint.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/houzhh15/livescribe/cmd/livescribe/internal/orchestrator"
	"github.com/houzhh15/livescribe/cmd/livescribe/internal/recognizer/health"
	"github.com/houzhh15/livescribe/cmd/livescribe/internal/transcript"
	"github.com/houzhh15/livescribe/pkg/logger"
)

// Pipeline is the session surface the handlers drive.
type Pipeline interface {
	Start() (string, error)
	Pause() error
	Resume() error
	Stop(ctx context.Context) error
	State() orchestrator.State
	Err() error
	Session() *transcript.Session
	OverflowCount() uint64
	Subscribe() *transcript.Subscription[transcript.Segment]
	SubscribeEvents() *transcript.Subscription[orchestrator.Event]
}

// StatusSource reports recognizer health. Optional.
type StatusSource interface {
	GetStatus() health.ServiceStatus
}

// Options configure the router.
type Options struct {
	// StopTimeout bounds a stop request; the pipeline keeps draining after
	// it expires.
	StopTimeout time.Duration
	Health      StatusSource
	Logger      *slog.Logger
}

// Server holds the handlers' dependencies.
type Server struct {
	pipeline    Pipeline
	health      StatusSource
	stopTimeout time.Duration
	logger      *slog.Logger
}

// NewRouter builds the gin engine with every route registered.
func NewRouter(p Pipeline, opts Options) *gin.Engine {
	s := &Server{
		pipeline:    p,
		health:      opts.Health,
		stopTimeout: opts.StopTimeout,
		logger:      logger.OrDefault(opts.Logger).With("component", "api"),
	}
	if s.stopTimeout <= 0 {
		s.stopTimeout = time.Minute
	}

	r := gin.New()
	r.Use(gin.Recovery(), RequestLogger(s.logger))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/api/v1")
	{
		v1.POST("/session/start", s.handleStart)
		v1.POST("/session/pause", s.handlePause)
		v1.POST("/session/resume", s.handleResume)
		v1.POST("/session/stop", s.handleStop)
		v1.GET("/session", s.handleStatus)
		v1.GET("/session/segments", s.handleSegments)
		v1.GET("/session/transcript", s.handleTranscript)
		v1.GET("/session/stream", s.handleStream)
		v1.GET("/recognizer/status", s.handleRecognizerStatus)
	}
	return r
}
