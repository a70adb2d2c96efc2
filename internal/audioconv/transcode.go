// Package audioconv wraps the external audio transcoding utility and a
// small WAV probe. Codec internals are delegated entirely to the external
// tool (ffmpeg by default).
package audioconv

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	shellwords "github.com/mattn/go-shellwords"

	"github.com/melokit/meloserve/internal/config"
)

// Transcoder converts a WAV buffer to a compressed format.
type Transcoder interface {
	ToMP3(ctx context.Context, wavData []byte) ([]byte, error)
}

// execTranscoder pipes WAV through the configured command, stdin to
// stdout. One process per call.
type execTranscoder struct {
	cmd []string
}

// NewExecTranscoder parses the configured command line. When a bitrate is
// set it is spliced in as "-b:a <rate>" ahead of the output argument.
func NewExecTranscoder(cfg config.TranscodeConfig) (Transcoder, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("parse transcode command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("transcode command empty")
	}
	if rate := strings.TrimSpace(cfg.Bitrate); rate != "" && len(args) > 1 {
		out := args[len(args)-1]
		args = append(args[:len(args)-1:len(args)-1], "-b:a", rate, out)
	}
	return &execTranscoder{cmd: args}, nil
}

func (t *execTranscoder) ToMP3(ctx context.Context, wavData []byte) ([]byte, error) {
	base := t.cmd[0]
	args := append([]string{}, t.cmd[1:]...)
	cmd := exec.CommandContext(ctx, base, args...)
	cmd.Stdin = bytes.NewReader(wavData)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		detail := strings.TrimSpace(stderr.String())
		if detail != "" {
			return nil, fmt.Errorf("transcode failed: %w: %s", err, detail)
		}
		return nil, fmt.Errorf("transcode failed: %w", err)
	}
	if stdout.Len() == 0 {
		return nil, fmt.Errorf("transcode produced no output")
	}
	return stdout.Bytes(), nil
}
