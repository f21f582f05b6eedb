package recognizer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/houzhh15/livescribe/pkg/logger"
	"github.com/houzhh15/livescribe/pkg/metrics"
)

// ClientConfig bounds each recognition call.
type ClientConfig struct {
	Timeout     time.Duration
	Retries     int
	BackoffBase time.Duration
	BackoffMax  time.Duration
}

// DefaultClientConfig mirrors the configuration defaults.
var DefaultClientConfig = ClientConfig{
	Timeout:     15 * time.Second,
	Retries:     2,
	BackoffBase: 250 * time.Millisecond,
	BackoffMax:  4 * time.Second,
}

// Client wraps a Recognizer with a per-attempt timeout and bounded retries
// with exponential backoff. Recognize never returns an error: exhausted
// chunks come back as Failed results so the pipeline can mark a gap and
// move on.
type Client struct {
	rec    Recognizer
	cfg    ClientConfig
	logger *slog.Logger
}

// NewClient returns a client for rec.
func NewClient(rec Recognizer, cfg ClientConfig, l *slog.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultClientConfig.Timeout
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = DefaultClientConfig.BackoffBase
	}
	if cfg.BackoffMax < cfg.BackoffBase {
		cfg.BackoffMax = cfg.BackoffBase
	}
	return &Client{rec: rec, cfg: cfg, logger: logger.OrDefault(l)}
}

// Config returns the effective configuration.
func (c *Client) Config() ClientConfig { return c.cfg }

// Recognize runs up to 1+Retries attempts. Cancelling ctx abandons the chunk
// at once; it is then reported as timed out.
func (c *Client) Recognize(ctx context.Context, req Request) Result {
	start := time.Now()
	backend := c.rec.Name()
	res := Result{ChunkID: req.ChunkID, Backend: backend}

	var tr *Transcription
	timedOut := false
	attempt := func() error {
		res.Attempts++
		attemptCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()

		out, err := c.rec.Recognize(attemptCtx, req)
		timedOut = errors.Is(attemptCtx.Err(), context.DeadlineExceeded)
		if err == nil && ctx.Err() != nil {
			err = ctx.Err()
		}
		if err != nil {
			if errors.Is(err, ErrPermanent) {
				return backoff.Permanent(err)
			}
			return err
		}
		if out == nil {
			out = &Transcription{}
		}
		tr = out
		return nil
	}
	notify := func(err error, next time.Duration) {
		metrics.RecordRetry(backend)
		c.logger.Warn("recognition attempt failed, retrying",
			"chunk_id", req.ChunkID, "backend", backend, "attempt", res.Attempts,
			"timed_out", timedOut, "backoff", next, "error", err)
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(c.newBackOff(), uint64(c.cfg.Retries)), ctx)
	err := backoff.RetryNotify(attempt, policy, notify)
	res.Latency = time.Since(start)
	if err == nil {
		res.Text = strings.TrimSpace(tr.Text)
		res.Confidence = tr.Confidence
		res.Language = tr.Language
		metrics.RecordRecognitionDuration(backend, res.Latency.Seconds())
		metrics.RecordChunk("recognizer", "success")
		logger.LogChunkProcessing(c.logger, "recognizer", "success", req.ChunkID, res.Latency.Milliseconds(), "")
		return res
	}
	if ctx.Err() != nil {
		timedOut = true
	}

	kind, status, code := ErrRecognitionFailed, "failed", "RECOGNITION_FAILED"
	if timedOut {
		kind, status, code = ErrRecognitionTimeout, "timeout", "RECOGNITION_TIMEOUT"
	}
	res.Failed = true
	res.Err = fmt.Errorf("%w: chunk %d after %d attempt(s): %w", kind, req.ChunkID, res.Attempts, err)
	metrics.RecordChunk("recognizer", status)
	logger.LogChunkProcessing(c.logger, "recognizer", "failed", req.ChunkID, res.Latency.Milliseconds(), code)
	return res
}

// newBackOff 返回指数退避策略：BackoffBase 起步，每次翻倍，上限 BackoffMax，
// 附带 ±20% 抖动，不限总耗时（由重试次数和调用方 ctx 约束）
func (c *Client) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.BackoffBase
	b.MaxInterval = c.cfg.BackoffMax
	b.Multiplier = 2
	b.RandomizationFactor = 0.2
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}
