package speech

import (
	"context"
	"sync"
)

// Gate serializes access to a model backend that cannot handle concurrent
// invocations (a single loaded model instance). Shared process-wide; the
// orchestration layer calls into it from many connection goroutines.
type Gate struct {
	mu sync.Mutex
}

func NewGate() *Gate { return &Gate{} }

// SerialTranscriber wraps a Transcriber behind a shared Gate.
type SerialTranscriber struct {
	gate *Gate
	next Transcriber
}

func NewSerialTranscriber(gate *Gate, next Transcriber) *SerialTranscriber {
	return &SerialTranscriber{gate: gate, next: next}
}

func (s *SerialTranscriber) Transcribe(ctx context.Context, pcm []byte, language string) (string, error) {
	s.gate.mu.Lock()
	defer s.gate.mu.Unlock()
	return s.next.Transcribe(ctx, pcm, language)
}

// SerialGenerator wraps a Generator behind a shared Gate.
type SerialGenerator struct {
	gate *Gate
	next Generator
}

func NewSerialGenerator(gate *Gate, next Generator) *SerialGenerator {
	return &SerialGenerator{gate: gate, next: next}
}

func (s *SerialGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	s.gate.mu.Lock()
	defer s.gate.mu.Unlock()
	return s.next.Generate(ctx, prompt)
}

// SerialSynthesizer wraps a Synthesizer behind a shared Gate.
type SerialSynthesizer struct {
	gate *Gate
	next Synthesizer
}

func NewSerialSynthesizer(gate *Gate, next Synthesizer) *SerialSynthesizer {
	return &SerialSynthesizer{gate: gate, next: next}
}

func (s *SerialSynthesizer) Synthesize(ctx context.Context, text string) ([]byte, error) {
	s.gate.mu.Lock()
	defer s.gate.mu.Unlock()
	return s.next.Synthesize(ctx, text)
}
