package synth

import (
	"errors"
	"fmt"
)

// ErrNotReady is returned while the model is still loading. Callers may
// retry.
var ErrNotReady = errors.New("model not ready")

// ErrDraining is returned once shutdown has begun and no new synthesis
// work is accepted.
var ErrDraining = errors.New("service shutting down")

// ValidationError is a client-caused rejection. Field names the offending
// request field so the transport layer can report it.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// SynthesisError wraps a failure inside the model or codec step. The
// wrapped detail is for logs, never for clients.
type SynthesisError struct {
	Op  string
	Err error
}

func (e *SynthesisError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *SynthesisError) Unwrap() error { return e.Err }
