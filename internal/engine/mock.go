package engine

import (
	"context"
	"fmt"
	"io"
	"math"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/melokit/meloserve/internal/config"
)

// Catalogs served by the mock, keyed by language. Shapes mirror what the
// real model exposes so grouping behavior is exercised.
var mockCatalogs = map[string][]string{
	"EN": {"EN-US", "EN-BR", "EN_INDIA", "EN-AU", "EN-Default"},
	"JP": {"JP"},
	"KR": {"KR"},
	"FR": {"FR"},
}

// mockEngine produces genuine, decodable WAV audio without a model: a sine
// tone whose pitch tracks the speaker index and whose length tracks text
// length and speed. Useful for development and for exercising the full
// pipeline in tests.
type mockEngine struct {
	language string
	rate     int
}

func NewMockEngine(cfg config.ModelConfig) Engine {
	rate := cfg.SampleRate
	if rate <= 0 {
		rate = 44100
	}
	return &mockEngine{language: cfg.Language, rate: rate}
}

func (m *mockEngine) Load(_ context.Context) ([]string, error) {
	if catalog, ok := mockCatalogs[m.language]; ok {
		return append([]string(nil), catalog...), nil
	}
	return []string{m.language}, nil
}

func (m *mockEngine) Synthesize(ctx context.Context, req Request) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// ~60ms of audio per character at speed 1.0, clamped so short inputs
	// still produce something audible and long ones stay cheap.
	chars := len([]rune(req.Text))
	seconds := float64(chars) * 0.06 / req.Speed
	if seconds < 0.2 {
		seconds = 0.2
	}
	if seconds > 10 {
		seconds = 10
	}

	freq := 220.0 * math.Pow(2, float64(req.SpeakerIndex%12)/12.0)
	n := int(seconds * float64(m.rate))
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: m.rate},
		SourceBitDepth: 16,
		Data:           make([]int, n),
	}
	for i := range buf.Data {
		sample := math.Sin(2 * math.Pi * freq * float64(i) / float64(m.rate))
		buf.Data[i] = int(sample * 0.3 * math.MaxInt16)
	}

	out := newWriteSeeker()
	enc := wav.NewEncoder(out, m.rate, 16, 1, 1)
	if err := enc.Write(buf); err != nil {
		return nil, fmt.Errorf("encode wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("finalize wav: %w", err)
	}
	return out.Bytes(), nil
}

func (m *mockEngine) Close() error { return nil }

// writeSeeker is an in-memory io.WriteSeeker for the wav encoder, which
// seeks back to patch RIFF chunk sizes on Close.
type writeSeeker struct {
	buf []byte
	pos int
}

func newWriteSeeker() *writeSeeker { return &writeSeeker{} }

func (w *writeSeeker) Write(p []byte) (int, error) {
	if need := w.pos + len(p); need > len(w.buf) {
		grown := make([]byte, need)
		copy(grown, w.buf)
		w.buf = grown
	}
	copy(w.buf[w.pos:], p)
	w.pos += len(p)
	return len(p), nil
}

func (w *writeSeeker) Seek(offset int64, whence int) (int64, error) {
	var next int
	switch whence {
	case io.SeekStart:
		next = int(offset)
	case io.SeekCurrent:
		next = w.pos + int(offset)
	case io.SeekEnd:
		next = len(w.buf) + int(offset)
	default:
		return 0, fmt.Errorf("invalid whence %d", whence)
	}
	if next < 0 {
		return 0, fmt.Errorf("negative seek position %d", next)
	}
	w.pos = next
	return int64(next), nil
}

func (w *writeSeeker) Bytes() []byte { return w.buf }
