// Package synth declares the interfaces through which autosynth consumes the
// algorithm-synthesis machinery. The search itself and the lowering to the
// runtime's wire format live behind these interfaces and are supplied by the
// caller; this package owns neither.
package synth

import "context"

// Algorithm is the opaque artifact a synthesis search produces. It is owned
// by the coordinator until lowered and written to durable storage.
type Algorithm interface{}

// Synthesizer searches for a collective-communication algorithm for the
// given world size. Implementations may be arbitrarily expensive; autosynth
// calls this exactly once per node-local group.
type Synthesizer interface {
	Synthesize(ctx context.Context, worldSize int, collective string) (Algorithm, error)
}

// Lowerer converts a synthesized algorithm into the runtime-specific
// description format written to the artifact file.
type Lowerer interface {
	Lower(ctx context.Context, algo Algorithm) ([]byte, error)
}

// SynthesizerFunc adapts a function to the Synthesizer interface.
type SynthesizerFunc func(ctx context.Context, worldSize int, collective string) (Algorithm, error)

// Synthesize implements Synthesizer.
func (f SynthesizerFunc) Synthesize(ctx context.Context, worldSize int, collective string) (Algorithm, error) {
	return f(ctx, worldSize, collective)
}

// LowererFunc adapts a function to the Lowerer interface.
type LowererFunc func(ctx context.Context, algo Algorithm) ([]byte, error)

// Lower implements Lowerer.
func (f LowererFunc) Lower(ctx context.Context, algo Algorithm) ([]byte, error) {
	return f(ctx, algo)
}
