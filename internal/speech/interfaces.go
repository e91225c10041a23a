package speech

import "context"

// Transcriber converts fixed-rate mono PCM16 audio into text.
type Transcriber interface {
	Transcribe(ctx context.Context, pcm []byte, language string) (string, error)
}

// Generator produces an assistant reply for a fully rendered prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Synthesizer renders reply text as WAV audio bytes.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// Apology is the fixed reply used when generation fails or returns nothing.
// The pipeline always proceeds to synthesis so the user hears a response.
const Apology = "죄송합니다, 답변을 생성하지 못했습니다."
