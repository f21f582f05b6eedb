package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/houzhh15/livescribe/cmd/livescribe/internal/capture"
	"github.com/houzhh15/livescribe/cmd/livescribe/internal/config"
	"github.com/houzhh15/livescribe/cmd/livescribe/internal/orchestrator"
	"github.com/houzhh15/livescribe/cmd/livescribe/internal/recognizer"
	"github.com/houzhh15/livescribe/cmd/livescribe/internal/recognizer/degradation"
	"github.com/houzhh15/livescribe/cmd/livescribe/internal/recognizer/health"
	"github.com/houzhh15/livescribe/cmd/livescribe/internal/transcript"
	"github.com/houzhh15/livescribe/pkg/logger"
)

// addGlobalFlags 注册全局标志
func addGlobalFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().StringP("config", "c", "", "YAML config file (env: LIVESCRIBE_CONFIG)")
	cmd.PersistentFlags().String("env-file", ".env", "dotenv file loaded before the environment is read")
	cmd.PersistentFlags().StringP("language", "l", "", "language hint passed to the recognizer, e.g. en")
	cmd.PersistentFlags().StringP("format", "f", "", "live output format: text, jsonl or srt")
	cmd.PersistentFlags().StringP("output", "o", "", "write the live transcript here instead of stdout")
	cmd.PersistentFlags().String("final", "", "write the finalized session as JSON to this file")
}

// app holds what every command wires together.
type app struct {
	cfg    config.Config
	logger *slog.Logger
	rec    recognizer.Recognizer
	health *health.HealthChecker

	out       io.Writer
	closeOut  func() error
	sentryOn  bool
	finalPath string
}

// setup loads configuration (flags > env > file > defaults), initializes
// logging and error reporting, and builds the recognizer chain.
func setup(cmd *cobra.Command) (*app, error) {
	envFile, _ := cmd.Flags().GetString("env-file")
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
		}
	}

	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		path = os.Getenv("LIVESCRIBE_CONFIG")
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if v, _ := cmd.Flags().GetString("language"); v != "" {
		cfg.Recognition.Language = v
	}
	if v, _ := cmd.Flags().GetString("format"); v != "" {
		cfg.Output.Format = v
	}
	if v, _ := cmd.Flags().GetString("final"); v != "" {
		cfg.Output.FinalPath = v
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	l, err := logger.Init(cfg.LoggerConfig())
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	a := &app{cfg: cfg, logger: l.With("component", "livescribe"), out: os.Stdout, closeOut: func() error { return nil }}
	a.logger.Debug("configuration loaded", "summary", cfg.Summary())

	if cfg.SentryDSN != "" {
		err := sentry.Init(sentry.ClientOptions{
			Dsn:         cfg.SentryDSN,
			Environment: cfg.Log.Environment,
			Release:     "livescribe@" + version,
		})
		if err != nil {
			a.logger.Warn("sentry init failed", "error", err)
		} else {
			a.sentryOn = true
		}
	}

	if out, _ := cmd.Flags().GetString("output"); out != "" {
		f, err := os.Create(out)
		if err != nil {
			return nil, fmt.Errorf("failed to create output file: %w", err)
		}
		a.out, a.closeOut = f, f.Close
	}
	a.finalPath = cfg.Output.FinalPath

	rec, err := recognizer.New(cfg.Recognition.BackendConfig)
	if err != nil {
		return nil, err
	}
	a.rec = rec
	if d := cfg.Recognition.Degradation; d.Enabled {
		a.health = health.NewHealthChecker(rec, d.CheckInterval, d.FailThreshold, l)
		a.rec = degradation.NewDegradationController(rec, nil, a.health, l)
	}
	a.logger.Info("recognizer ready", "backend", rec.Name(), "degradation", cfg.Recognition.Degradation.Enabled)
	return a, nil
}

// startHealth runs the health checker until ctx ends. No-op when disabled.
func (a *app) startHealth(ctx context.Context) {
	if a.health == nil {
		return
	}
	go a.health.Start(ctx)
}

// close flushes error reporting and the output file.
func (a *app) close() {
	if a.health != nil {
		a.health.Stop()
	}
	if a.sentryOn {
		sentry.Flush(2 * time.Second)
	}
	if err := a.closeOut(); err != nil {
		a.logger.Warn("failed to close output", "error", err)
	}
}

// reportError sends an Errored session to Sentry.
func (a *app) reportError(sessionID string, err error) {
	a.logger.Error("session errored", "session_id", sessionID, "code", orchestrator.CodeOf(err), "error", err)
	if !a.sentryOn {
		return
	}
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("session_id", sessionID)
		scope.SetTag("error_code", string(orchestrator.CodeOf(err)))
		sentry.CaptureException(err)
	})
}

// finalizer writes the finished session as JSON when --final is set.
func (a *app) finalizer() transcript.Finalizer {
	if a.finalPath == "" {
		return nil
	}
	return transcript.FinalizerFunc(func(ctx context.Context, snap transcript.Snapshot) error {
		f, err := os.Create(a.finalPath)
		if err != nil {
			return fmt.Errorf("failed to create final transcript: %w", err)
		}
		defer f.Close()
		if err := (transcript.JSONFinalizer{W: f}).Finalize(ctx, snap); err != nil {
			return err
		}
		a.logger.Info("final transcript written", "path", a.finalPath, "segments", len(snap.Segments))
		return nil
	})
}

func (a *app) newPipeline(src capture.Source) (*orchestrator.Pipeline, error) {
	return orchestrator.New(a.cfg.PipelineConfig(), orchestrator.Deps{
		Source:     src,
		Recognizer: a.rec,
		Finalizer:  a.finalizer(),
		OnError:    a.reportError,
		Logger:     a.logger,
	})
}

// runSession starts p, streams segments to the output, and stops on ctx
// cancellation (SIGINT). It returns once the session is finalized.
func (a *app) runSession(ctx context.Context, p *orchestrator.Pipeline) error {
	format, err := transcript.ParseFormat(a.cfg.Output.Format)
	if err != nil {
		return err
	}
	w := transcript.NewWriter(a.out, format)
	sub := p.Subscribe()
	drained := make(chan error, 1)
	go func() { drained <- w.Drain(sub) }()

	if _, err := p.Start(); err != nil {
		sub.Close()
		<-drained
		return err
	}

	select {
	case <-p.Done():
	case <-ctx.Done():
		a.logger.Info("interrupt received, draining session")
		stopCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Recognition.Timeout+10*time.Second)
		defer cancel()
		if err := p.Stop(stopCtx); err != nil && orchestrator.CodeOf(err) != orchestrator.INVALID_STATE {
			return err
		}
	}

	snap, err := p.Wait(context.Background())
	if werr := <-drained; werr != nil {
		a.logger.Warn("transcript output failed", "error", werr)
	}
	a.logger.Info("session finished",
		"session_id", snap.ID, "state", p.State(), "segments", len(snap.Segments), "overflow_count", p.OverflowCount())
	return err
}
