package speech

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nawkwoo/voice-chat/internal/audio"
)

// MockProvider is a local fallback provider used when no model services are
// configured. It produces deterministic output so the full pipeline can run
// end-to-end without any external dependency.
type MockProvider struct {
	mu         sync.Mutex
	turns      int
	sampleRate int
}

func NewMockProvider(sampleRate int) *MockProvider {
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	return &MockProvider{sampleRate: sampleRate}
}

func (p *MockProvider) Transcribe(_ context.Context, pcm []byte, _ string) (string, error) {
	if len(pcm) == 0 {
		return "", nil
	}
	p.mu.Lock()
	p.turns++
	n := p.turns
	p.mu.Unlock()
	return fmt.Sprintf("simulated voice input %d", n), nil
}

func (p *MockProvider) Generate(_ context.Context, prompt string) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", nil
	}
	return "This is a simulated reply.", nil
}

func (p *MockProvider) Synthesize(_ context.Context, text string) ([]byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("tts: empty text")
	}
	// Length loosely proportional to the reply so clients see varying clips.
	d := time.Duration(len(text)) * 20 * time.Millisecond
	if d > 3*time.Second {
		d = 3 * time.Second
	}
	return audio.SilenceWAV(d, p.sampleRate), nil
}
