package audioconv

import (
	"bytes"
	"fmt"
	"time"

	"github.com/go-audio/wav"
)

// Info summarizes a WAV buffer without decoding its full payload.
type Info struct {
	SampleRate int
	Channels   int
	Duration   time.Duration
}

// ProbeWAV validates that a buffer is a well-formed WAV file and reports
// its shape. Used for post-synthesis logging and by tests asserting the
// pipeline emits real audio.
func ProbeWAV(data []byte) (Info, error) {
	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return Info{}, fmt.Errorf("not a valid wav file")
	}
	dur, err := dec.Duration()
	if err != nil {
		return Info{}, fmt.Errorf("read wav duration: %w", err)
	}
	return Info{
		SampleRate: int(dec.SampleRate),
		Channels:   int(dec.NumChans),
		Duration:   dur,
	}, nil
}
