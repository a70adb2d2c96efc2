package audioconv

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/melokit/meloserve/internal/config"
	"github.com/melokit/meloserve/internal/engine"
)

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake-ffmpeg.sh")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return path
}

func TestExecTranscoderPipesThrough(t *testing.T) {
	tc, err := NewExecTranscoder(config.TranscodeConfig{Command: writeScript(t, "cat")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	out, err := tc.ToMP3(context.Background(), []byte("RIFF-ish payload"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(out) != "RIFF-ish payload" {
		t.Fatalf("expected passthrough, got %q", out)
	}
}

func TestExecTranscoderSurfacesStderr(t *testing.T) {
	script := writeScript(t, `cat >/dev/null; echo "pipe:0: Invalid data" >&2; exit 1`)
	tc, err := NewExecTranscoder(config.TranscodeConfig{Command: script})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err = tc.ToMP3(context.Background(), []byte("junk"))
	if err == nil || !strings.Contains(err.Error(), "Invalid data") {
		t.Fatalf("expected stderr surfaced, got %v", err)
	}
}

func TestExecTranscoderRejectsEmptyOutput(t *testing.T) {
	tc, err := NewExecTranscoder(config.TranscodeConfig{Command: writeScript(t, "cat >/dev/null")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := tc.ToMP3(context.Background(), []byte("junk")); err == nil {
		t.Fatal("expected error for empty transcode output")
	}
}

func TestNewExecTranscoderSplicesBitrate(t *testing.T) {
	tc, err := NewExecTranscoder(config.TranscodeConfig{
		Command: "ffmpeg -i pipe:0 pipe:1",
		Bitrate: "192k",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	et := tc.(*execTranscoder)
	want := []string{"ffmpeg", "-i", "pipe:0", "-b:a", "192k", "pipe:1"}
	if len(et.cmd) != len(want) {
		t.Fatalf("expected %v, got %v", want, et.cmd)
	}
	for i := range want {
		if et.cmd[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, et.cmd)
		}
	}
}

func TestNewExecTranscoderRejectsEmptyCommand(t *testing.T) {
	if _, err := NewExecTranscoder(config.TranscodeConfig{Command: ""}); err == nil {
		t.Fatal("expected error for empty command")
	}
}

func TestProbeWAVOnMockAudio(t *testing.T) {
	cfg := config.Default().Model
	cfg.Language = "EN"
	cfg.SampleRate = 22050
	eng := engine.NewMockEngine(cfg)

	data, err := eng.Synthesize(context.Background(), engine.Request{Text: "probe me", Speed: 1.0})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	info, err := ProbeWAV(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if info.SampleRate != 22050 || info.Channels != 1 {
		t.Fatalf("unexpected wav shape: %+v", info)
	}
	if info.Duration <= 0 {
		t.Fatalf("expected positive duration, got %v", info.Duration)
	}
}

func TestProbeWAVRejectsGarbage(t *testing.T) {
	if _, err := ProbeWAV([]byte("definitely not audio")); err == nil {
		t.Fatal("expected error for non-wav input")
	}
}
