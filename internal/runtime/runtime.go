// Package runtime wires configuration, telemetry, the synthesis service,
// and the HTTP server into one process lifecycle.
package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/melokit/meloserve/internal/api"
	"github.com/melokit/meloserve/internal/audioconv"
	"github.com/melokit/meloserve/internal/config"
	"github.com/melokit/meloserve/internal/device"
	"github.com/melokit/meloserve/internal/engine"
	"github.com/melokit/meloserve/internal/synth"
)

type Runtime struct {
	cfg     config.Config
	log     *slog.Logger
	version string

	httpServer     *http.Server
	telemetryClose func(context.Context) error
	wg             sync.WaitGroup
}

func New(cfg config.Config, log *slog.Logger, version string) *Runtime {
	return &Runtime{
		cfg:     cfg,
		log:     log,
		version: version,
	}
}

func newEngine(cfg config.ModelConfig, dev string) (engine.Engine, error) {
	switch cfg.Mode {
	case "mock":
		return engine.NewMockEngine(cfg), nil
	case "exec":
		return engine.NewExecEngine(cfg, dev)
	default:
		return nil, fmt.Errorf("unknown model mode: %q", cfg.Mode)
	}
}

// Start runs until ctx is cancelled or the model load fails. The HTTP
// server comes up before the model is ready so health and readiness
// endpoints answer during the load; a load failure is fatal.
func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	telemetryClose, metricsHandler, err := setupTelemetry(r.cfg, r.log)
	if err != nil {
		return fmt.Errorf("setup telemetry: %w", err)
	}
	r.telemetryClose = telemetryClose

	dev := device.NewProbe().Resolve(r.cfg.Model.Device)
	r.log.Info("resolved device",
		slog.String("preference", r.cfg.Model.Device),
		slog.String("device", dev))

	eng, err := newEngine(r.cfg.Model, dev)
	if err != nil {
		return err
	}
	transcoder, err := audioconv.NewExecTranscoder(r.cfg.Transcode)
	if err != nil {
		return err
	}
	svc, err := synth.NewService(r.cfg.Synthesis, eng, transcoder, dev, r.log)
	if err != nil {
		return fmt.Errorf("create synthesis service: %w", err)
	}

	addr := fmt.Sprintf("%s:%d", r.cfg.Server.Host, r.cfg.Server.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           api.NewServer(r.cfg, svc, r.log, r.version, metricsHandler).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.log.Error("http server failed", slog.String("error", err.Error()))
			serveErr <- err
			cancel()
		}
	}()
	r.log.Info("http server listening", slog.String("addr", addr))

	loadDone := make(chan error, 1)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		loadCtx, loadCancel := context.WithTimeout(ctx,
			time.Duration(r.cfg.Model.LoadTimeoutMS)*time.Millisecond)
		defer loadCancel()
		loadDone <- svc.Load(loadCtx)
	}()

	var startupErr error
	running := true
	for running {
		select {
		case err := <-loadDone:
			if err != nil {
				startupErr = fmt.Errorf("startup failed: %w", err)
				running = false
				continue
			}
			loadDone = nil
		case <-ctx.Done():
			running = false
		}
	}

	r.log.Info("runtime stopping")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()

	if err := svc.Shutdown(shutdownCtx); err != nil {
		r.log.Error("synthesis shutdown error", slog.String("error", err.Error()))
	}
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.log.Error("http shutdown error", slog.String("error", err.Error()))
	}
	cancel()
	r.wg.Wait()

	if r.telemetryClose != nil {
		if err := r.telemetryClose(shutdownCtx); err != nil {
			r.log.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}

	select {
	case err := <-serveErr:
		if startupErr == nil {
			startupErr = fmt.Errorf("http server: %w", err)
		}
	default:
	}
	return startupErr
}
