// Package engine is the boundary to the external speech-synthesis model.
// The model itself is a black box: it is handed text, a speaker index, and
// a speed multiplier, and it returns a complete WAV buffer.
package engine

import "context"

// Request is a fully validated synthesis job. SpeakerIndex is the position
// of the speaker in the catalog returned by Load.
type Request struct {
	Text         string
	SpeakerID    string
	SpeakerIndex int
	Speed        float64
}

// Engine abstracts the synthesis model. Implementations must tolerate
// concurrent Synthesize calls; the exec engine does so by spawning one
// process per call.
type Engine interface {
	// Load prepares the model and returns the voice catalog in its
	// canonical order. Called once at startup.
	Load(ctx context.Context) ([]string, error)

	// Synthesize renders text to a WAV buffer.
	Synthesize(ctx context.Context, req Request) ([]byte, error)

	Close() error
}
