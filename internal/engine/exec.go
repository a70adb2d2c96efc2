package engine

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"

	shellwords "github.com/mattn/go-shellwords"

	"github.com/melokit/meloserve/internal/config"
)

// execEngine talks to a model CLI over stdin/stdout: one JSON request in,
// one JSON response out, one process per call. Spawning per call keeps
// concurrent synthesis safe without sharing a model handle.
type execEngine struct {
	cmd      []string
	language string
	device   string
	cacheDir string
	rate     int
}

type execRequest struct {
	Op           string  `json:"op"` // voices, synthesize
	Text         string  `json:"text,omitempty"`
	SpeakerIndex int     `json:"speaker_index,omitempty"`
	Speed        float64 `json:"speed,omitempty"`
	Language     string  `json:"language"`
	Device       string  `json:"device"`
	CacheDir     string  `json:"cache_dir,omitempty"`
	SampleRate   int     `json:"sample_rate,omitempty"`
}

type execResponse struct {
	Voices    []string `json:"voices,omitempty"`
	WAVBase64 string   `json:"wav_base64,omitempty"`
	Error     string   `json:"error,omitempty"`
}

// NewExecEngine builds an engine around the configured model command.
func NewExecEngine(cfg config.ModelConfig, device string) (Engine, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("parse model command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("model command empty")
	}
	return &execEngine{
		cmd:      args,
		language: cfg.Language,
		device:   device,
		cacheDir: cfg.CacheDir,
		rate:     cfg.SampleRate,
	}, nil
}

func (e *execEngine) Load(ctx context.Context) ([]string, error) {
	resp, err := e.roundTrip(ctx, execRequest{
		Op:       "voices",
		Language: e.language,
		Device:   e.device,
		CacheDir: e.cacheDir,
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Voices) == 0 {
		return nil, fmt.Errorf("model reported no voices for language %s", e.language)
	}
	return resp.Voices, nil
}

func (e *execEngine) Synthesize(ctx context.Context, req Request) ([]byte, error) {
	resp, err := e.roundTrip(ctx, execRequest{
		Op:           "synthesize",
		Text:         req.Text,
		SpeakerIndex: req.SpeakerIndex,
		Speed:        req.Speed,
		Language:     e.language,
		Device:       e.device,
		CacheDir:     e.cacheDir,
		SampleRate:   e.rate,
	})
	if err != nil {
		return nil, err
	}
	wav, err := base64.StdEncoding.DecodeString(resp.WAVBase64)
	if err != nil {
		return nil, fmt.Errorf("decode model output: %w", err)
	}
	if len(wav) == 0 {
		return nil, fmt.Errorf("model produced empty audio")
	}
	return wav, nil
}

func (e *execEngine) Close() error { return nil }

func (e *execEngine) roundTrip(ctx context.Context, req execRequest) (*execResponse, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal model request: %w", err)
	}

	base := e.cmd[0]
	args := append([]string{}, e.cmd[1:]...)
	cmd := exec.CommandContext(ctx, base, args...)
	cmd.Stdin = bytes.NewReader(payload)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		detail := strings.TrimSpace(stderr.String())
		if detail != "" {
			return nil, fmt.Errorf("model command failed: %w: %s", err, detail)
		}
		return nil, fmt.Errorf("model command failed: %w", err)
	}

	var resp execResponse
	if err := json.Unmarshal(bytes.TrimSpace(stdout.Bytes()), &resp); err != nil {
		return nil, fmt.Errorf("decode model response: %w", err)
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("model error: %s", resp.Error)
	}
	return &resp, nil
}
