package engine

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-audio/wav"

	"github.com/melokit/meloserve/internal/config"
)

func mockModelConfig(lang string) config.ModelConfig {
	cfg := config.Default().Model
	cfg.Mode = "mock"
	cfg.Language = lang
	cfg.SampleRate = 22050
	return cfg
}

func TestMockEngineLoadCatalog(t *testing.T) {
	eng := NewMockEngine(mockModelConfig("EN"))
	voices, err := eng.Load(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(voices) == 0 || voices[0] != "EN-US" {
		t.Fatalf("expected EN catalog starting with EN-US, got %v", voices)
	}

	eng = NewMockEngine(mockModelConfig("XX"))
	voices, err = eng.Load(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(voices) != 1 || voices[0] != "XX" {
		t.Fatalf("expected single-voice fallback catalog, got %v", voices)
	}
}

func TestMockEngineProducesDecodableWAV(t *testing.T) {
	eng := NewMockEngine(mockModelConfig("EN"))
	data, err := eng.Synthesize(context.Background(), Request{
		Text:         "Hello world",
		SpeakerID:    "EN-US",
		SpeakerIndex: 0,
		Speed:        1.0,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("expected non-empty audio")
	}

	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		t.Fatal("expected a valid wav file")
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		t.Fatalf("decode pcm: %v", err)
	}
	if len(buf.Data) == 0 {
		t.Fatal("expected pcm samples")
	}
	if buf.Format.SampleRate != 22050 {
		t.Fatalf("expected 22050 sample rate, got %d", buf.Format.SampleRate)
	}
}

func TestMockEngineSpeedShortensAudio(t *testing.T) {
	eng := NewMockEngine(mockModelConfig("EN"))
	text := strings.Repeat("hello world ", 10)

	slow, err := eng.Synthesize(context.Background(), Request{Text: text, Speed: 0.5})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	fast, err := eng.Synthesize(context.Background(), Request{Text: text, Speed: 2.0})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(fast) >= len(slow) {
		t.Fatalf("expected faster speech to be shorter: fast=%d slow=%d", len(fast), len(slow))
	}
}

func TestMockEngineHonorsCancelledContext(t *testing.T) {
	eng := NewMockEngine(mockModelConfig("EN"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := eng.Synthesize(ctx, Request{Text: "hi", Speed: 1.0}); err == nil {
		t.Fatal("expected context error")
	}
}

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake-engine.sh")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return path
}

func TestExecEngineLoadParsesVoices(t *testing.T) {
	script := writeScript(t, `cat >/dev/null; printf '{"voices":["EN-US","EN-AU","JP"]}'`)

	cfg := config.Default().Model
	cfg.Command = script
	eng, err := NewExecEngine(cfg, "cpu")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	voices, err := eng.Load(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(voices) != 3 || voices[2] != "JP" {
		t.Fatalf("expected three voices ending in JP, got %v", voices)
	}
}

func TestExecEngineSynthesizeDecodesBase64(t *testing.T) {
	// "UklGRg==" is base64 for the RIFF magic.
	script := writeScript(t, `cat >/dev/null; printf '{"wav_base64":"UklGRg=="}'`)

	cfg := config.Default().Model
	cfg.Command = script
	eng, err := NewExecEngine(cfg, "cpu")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	data, err := eng.Synthesize(context.Background(), Request{Text: "hi", Speed: 1.0})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(data) != "RIFF" {
		t.Fatalf("expected decoded RIFF bytes, got %q", data)
	}
}

func TestExecEngineSurfacesModelError(t *testing.T) {
	script := writeScript(t, `cat >/dev/null; printf '{"error":"speaker index out of range"}'`)

	cfg := config.Default().Model
	cfg.Command = script
	eng, err := NewExecEngine(cfg, "cpu")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err = eng.Synthesize(context.Background(), Request{Text: "hi", Speed: 1.0})
	if err == nil || !strings.Contains(err.Error(), "speaker index out of range") {
		t.Fatalf("expected model error surfaced, got %v", err)
	}
}

func TestExecEngineSurfacesStderrOnFailure(t *testing.T) {
	script := writeScript(t, `cat >/dev/null; echo "CUDA out of memory" >&2; exit 3`)

	cfg := config.Default().Model
	cfg.Command = script
	eng, err := NewExecEngine(cfg, "cuda")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err = eng.Synthesize(context.Background(), Request{Text: "hi", Speed: 1.0})
	if err == nil || !strings.Contains(err.Error(), "CUDA out of memory") {
		t.Fatalf("expected stderr detail in error, got %v", err)
	}
}

func TestNewExecEngineRejectsEmptyCommand(t *testing.T) {
	cfg := config.Default().Model
	cfg.Command = "   "
	if _, err := NewExecEngine(cfg, "cpu"); err == nil {
		t.Fatal("expected error for empty command")
	}
}
