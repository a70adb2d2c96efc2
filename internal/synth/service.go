// Package synth owns the synthesis pipeline: request validation, the
// readiness gate, the bounded worker pool, and response payload
// production. It is the only package that touches the engine after
// startup.
package synth

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/melokit/meloserve/internal/audioconv"
	"github.com/melokit/meloserve/internal/config"
	"github.com/melokit/meloserve/internal/engine"
	"github.com/melokit/meloserve/internal/voices"
)

// Request carries caller-supplied synthesis parameters. Defaults for
// omitted fields are the transport layer's concern; every value arriving
// here is validated exactly as given.
type Request struct {
	Text    string
	Speaker string
	Speed   float64
}

// Encoded is the JSON-embeddable synthesis result. Duration is the audio
// length in seconds, omitted when the WAV probe cannot determine it.
type Encoded struct {
	AudioContent string  `json:"audio_content"`
	Format       string  `json:"format"`
	Duration     float64 `json:"duration,omitempty"`
	Speaker      string  `json:"speaker"`
	Speed        float64 `json:"speed"`
}

type Service struct {
	cfg       config.SynthesisConfig
	eng       engine.Engine
	transcode audioconv.Transcoder
	device    string
	log       *slog.Logger

	mu       sync.RWMutex
	registry *voices.Registry
	readyAt  time.Time

	ready     atomic.Bool
	accepting atomic.Bool

	slots chan struct{}
	wg    sync.WaitGroup

	requests  metric.Int64Counter
	failures  metric.Int64Counter
	durations metric.Float64Histogram
}

func NewService(
	cfg config.SynthesisConfig,
	eng engine.Engine,
	transcode audioconv.Transcoder,
	device string,
	log *slog.Logger,
) (*Service, error) {
	meter := otel.Meter("github.com/melokit/meloserve/internal/synth")

	requests, err := meter.Int64Counter("synthesis.requests",
		metric.WithDescription("Synthesis jobs dispatched to the engine"))
	if err != nil {
		return nil, fmt.Errorf("create requests counter: %w", err)
	}
	failures, err := meter.Int64Counter("synthesis.failures",
		metric.WithDescription("Synthesis jobs that failed in the engine or codec"))
	if err != nil {
		return nil, fmt.Errorf("create failures counter: %w", err)
	}
	durations, err := meter.Float64Histogram("synthesis.duration",
		metric.WithDescription("Wall time of engine synthesis calls"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, fmt.Errorf("create duration histogram: %w", err)
	}

	s := &Service{
		cfg:       cfg,
		eng:       eng,
		transcode: transcode,
		device:    device,
		log:       log.With(slog.String("component", "synth")),
		slots:     make(chan struct{}, cfg.Workers),
		requests:  requests,
		failures:  failures,
		durations: durations,
	}
	s.accepting.Store(true)
	return s, nil
}

// Load performs the Unloaded -> Loading -> Ready transition. A load
// failure leaves the service permanently not ready; there is no retry.
func (s *Service) Load(ctx context.Context) error {
	s.log.Info("loading synthesis model", slog.String("device", s.device))

	catalog, err := s.eng.Load(ctx)
	if err != nil {
		s.log.Error("model load failed", slog.String("error", err.Error()))
		return fmt.Errorf("load model: %w", err)
	}

	reg := voices.NewRegistry(catalog)
	if !reg.Contains(s.cfg.DefaultSpeaker) {
		s.log.Warn("default speaker not in catalog",
			slog.String("default_speaker", s.cfg.DefaultSpeaker))
	}

	s.mu.Lock()
	s.registry = reg
	s.readyAt = time.Now().UTC()
	s.mu.Unlock()
	s.ready.Store(true)

	s.log.Info("model ready",
		slog.Int("speakers", reg.Len()),
		slog.String("device", s.device))
	return nil
}

func (s *Service) Ready() bool { return s.ready.Load() }

func (s *Service) ReadyAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.readyAt
}

// Registry returns the voice catalog, or nil before the model is ready.
func (s *Service) Registry() *voices.Registry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.registry
}

func (s *Service) Device() string { return s.device }

func (s *Service) MaxTextLength() int { return s.cfg.MaxTextLength }

// SynthesizeWAV validates, dispatches, and returns a WAV buffer along
// with the normalized request for echoing back to the caller.
func (s *Service) SynthesizeWAV(ctx context.Context, req Request) ([]byte, Request, error) {
	norm, err := s.prepare(req)
	if err != nil {
		return nil, norm, err
	}
	wavData, err := s.dispatch(ctx, norm)
	if err != nil {
		return nil, norm, err
	}
	return wavData, norm, nil
}

// SynthesizeMP3 runs the WAV pipeline, transcodes to MP3, and base64
// encodes the result for JSON embedding.
func (s *Service) SynthesizeMP3(ctx context.Context, req Request) (Encoded, error) {
	norm, err := s.prepare(req)
	if err != nil {
		return Encoded{}, err
	}
	wavData, err := s.dispatch(ctx, norm)
	if err != nil {
		return Encoded{}, err
	}

	mp3Data, err := s.transcode.ToMP3(ctx, wavData)
	if err != nil {
		s.failures.Add(ctx, 1, metric.WithAttributes(attribute.String("stage", "transcode")))
		s.log.Error("transcode failed",
			slog.String("speaker", norm.Speaker),
			slog.Float64("speed", norm.Speed),
			slog.String("text", preview(norm.Text)),
			slog.String("error", err.Error()))
		return Encoded{}, &SynthesisError{Op: "transcode", Err: err}
	}

	enc := Encoded{
		AudioContent: base64.StdEncoding.EncodeToString(mp3Data),
		Format:       "mp3",
		Speaker:      norm.Speaker,
		Speed:        norm.Speed,
	}
	if info, probeErr := audioconv.ProbeWAV(wavData); probeErr == nil {
		enc.Duration = info.Duration.Seconds()
	}
	return enc, nil
}

// prepare gates on readiness and validates. Rejected requests never
// reach the worker pool.
func (s *Service) prepare(req Request) (Request, error) {
	if !s.ready.Load() {
		return req, ErrNotReady
	}

	norm := req
	norm.Text = strings.TrimSpace(norm.Text)

	if norm.Text == "" {
		return norm, &ValidationError{Field: "text", Message: "text cannot be empty"}
	}
	if n := len([]rune(norm.Text)); n > s.cfg.MaxTextLength {
		return norm, &ValidationError{
			Field:   "text",
			Message: fmt.Sprintf("text length %d exceeds maximum %d", n, s.cfg.MaxTextLength),
		}
	}
	if norm.Speed < s.cfg.MinSpeed || norm.Speed > s.cfg.MaxSpeed {
		return norm, &ValidationError{
			Field: "speed",
			Message: fmt.Sprintf("speed must be between %g and %g",
				s.cfg.MinSpeed, s.cfg.MaxSpeed),
		}
	}
	if reg := s.Registry(); reg == nil || !reg.Contains(norm.Speaker) {
		return norm, &ValidationError{
			Field:   "speaker",
			Message: fmt.Sprintf("speaker %q not found", norm.Speaker),
		}
	}
	return norm, nil
}

// dispatch runs the blocking engine call under a pool slot. The caller
// blocks here; the pool bounds how many engine calls run at once.
func (s *Service) dispatch(ctx context.Context, norm Request) ([]byte, error) {
	if !s.accepting.Load() {
		return nil, ErrDraining
	}

	select {
	case s.slots <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-s.slots }()

	// Re-check after acquiring the slot so a drain that started while we
	// waited still rejects us, and only then join the wait group: Add
	// must not race with Shutdown's Wait on a zero counter.
	if !s.accepting.Load() {
		return nil, ErrDraining
	}
	s.wg.Add(1)
	defer s.wg.Done()

	reg := s.Registry()
	idx, _ := reg.Index(norm.Speaker)

	s.requests.Add(ctx, 1, metric.WithAttributes(attribute.String("speaker", norm.Speaker)))
	s.log.Info("synthesizing",
		slog.String("speaker", norm.Speaker),
		slog.Float64("speed", norm.Speed),
		slog.String("text", preview(norm.Text)))

	start := time.Now()
	wavData, err := s.eng.Synthesize(ctx, engine.Request{
		Text:         norm.Text,
		SpeakerID:    norm.Speaker,
		SpeakerIndex: idx,
		Speed:        norm.Speed,
	})
	elapsed := time.Since(start)
	s.durations.Record(ctx, elapsed.Seconds())

	if err != nil {
		s.failures.Add(ctx, 1, metric.WithAttributes(attribute.String("stage", "engine")))
		s.log.Error("synthesis failed",
			slog.String("speaker", norm.Speaker),
			slog.Float64("speed", norm.Speed),
			slog.String("text", preview(norm.Text)),
			slog.String("error", err.Error()))
		return nil, &SynthesisError{Op: "synthesize", Err: err}
	}

	if info, probeErr := audioconv.ProbeWAV(wavData); probeErr == nil {
		s.log.Debug("synthesis complete",
			slog.String("speaker", norm.Speaker),
			slog.Duration("audio", info.Duration),
			slog.Duration("took", elapsed))
	}
	return wavData, nil
}

// Shutdown stops accepting new work and waits for in-flight jobs to
// drain, bounded by ctx.
func (s *Service) Shutdown(ctx context.Context) error {
	s.accepting.Store(false)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("drain synthesis pool: %w", ctx.Err())
	}
	return s.eng.Close()
}

func preview(text string) string {
	runes := []rune(text)
	if len(runes) <= 30 {
		return text
	}
	return string(runes[:30]) + "..."
}
