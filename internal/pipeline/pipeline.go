package pipeline

import (
	"context"
	"encoding/base64"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/nawkwoo/voice-chat/internal/audio"
	"github.com/nawkwoo/voice-chat/internal/conn"
	"github.com/nawkwoo/voice-chat/internal/observability"
	"github.com/nawkwoo/voice-chat/internal/policy"
	"github.com/nawkwoo/voice-chat/internal/prompt"
	"github.com/nawkwoo/voice-chat/internal/protocol"
	"github.com/nawkwoo/voice-chat/internal/speech"
	"github.com/nawkwoo/voice-chat/internal/storage"
	"github.com/nawkwoo/voice-chat/internal/vector"
)

// Outcome is the single terminal classification of a turn.
type Outcome string

const (
	OutcomeDelivered       Outcome = "delivered"
	OutcomeDegraded        Outcome = "degraded"
	OutcomeDecodeError     Outcome = "decode_error"
	OutcomeEmptyTranscript Outcome = "empty_transcript"
)

// Sender pushes one outbound frame to the turn's connection.
type Sender func(msg any) error

// Turn is one complete utterance to process.
type Turn struct {
	UserID    string
	SessionID string
	Audio     []byte
	Send      Sender
}

// Result reports what the turn produced. Timings are wall-clock per stage.
type Result struct {
	Outcome    Outcome
	Transcript string
	Reply      string
	Timings    protocol.StageTimings
}

// Orchestrator drives one voice turn through decode, transcription, context
// assembly, generation, synthesis, and delivery. Model failures after
// transcription degrade the turn instead of aborting it; the client always
// receives exactly one audio_response once a transcript exists.
type Orchestrator struct {
	Store       storage.Store
	Index       vector.Index
	Assembler   *prompt.Assembler
	Transcriber speech.Transcriber
	Generator   speech.Generator
	Synthesizer speech.Synthesizer

	Metrics *observability.Metrics
	Window  *observability.StageWindow

	Language    string
	SampleRate  int
	CallTimeout time.Duration
}

func (o *Orchestrator) callTimeout() time.Duration {
	if o.CallTimeout > 0 {
		return o.CallTimeout
	}
	return 30 * time.Second
}

func (o *Orchestrator) sampleRate() int {
	if o.SampleRate > 0 {
		return o.SampleRate
	}
	return 16000
}

// Run processes one turn. The returned Result is for the caller's bookkeeping;
// all client-visible output goes through turn.Send. A conn.ErrNotConnected
// from the sender means the client left mid-turn and is not an error.
func (o *Orchestrator) Run(ctx context.Context, turn Turn) Result {
	start := time.Now()
	var res Result

	// Stage 1: decode. The only failure that aborts with no spoken reply.
	decodeStart := time.Now()
	pcm, err := audio.DecodeToPCM16Mono(turn.Audio, o.sampleRate())
	res.Timings.DecodeMS = time.Since(decodeStart).Milliseconds()
	o.observeStage("decode", time.Since(decodeStart))
	if err != nil {
		log.Printf("pipeline: audio decode failed for session %s: %v", turn.SessionID, err)
		o.collabError("decode")
		o.send(turn, protocol.Error{Type: protocol.TypeError, Message: "invalid audio payload"})
		return o.finish(res, OutcomeDecodeError, start)
	}

	// Stage 2: transcribe.
	sttStart := time.Now()
	transcript, err := o.transcribe(ctx, pcm)
	sttElapsed := time.Since(sttStart)
	res.Timings.STTMS = sttElapsed.Milliseconds()
	o.observeStage("stt", sttElapsed)
	if err != nil {
		log.Printf("pipeline: transcription failed for session %s: %v", turn.SessionID, err)
		o.collabError("stt")
	}
	transcript = strings.TrimSpace(transcript)
	if transcript == "" {
		o.send(turn, protocol.Info{Type: protocol.TypeInfo, Message: "could not recognize speech"})
		return o.finish(res, OutcomeEmptyTranscript, start)
	}
	res.Transcript = transcript
	redacted, _ := policy.RedactPII(transcript)
	log.Printf("pipeline: session %s transcript: %s", turn.SessionID, redacted)

	// The client sees the transcript before the reply is ready.
	o.send(turn, protocol.STTResult{Type: protocol.TypeSTTResult, Text: transcript})

	userMsgID := o.persist(ctx, turn, storage.RoleUser, transcript, res.Timings.STTMS)
	if userMsgID != "" {
		o.indexMessage(ctx, turn, userMsgID, transcript)
	}

	// Stage 3: context. Never fatal.
	contextText := ""
	if o.Assembler != nil {
		contextText, err = o.Assembler.Assemble(ctx, turn.UserID, turn.SessionID, transcript)
		if err != nil {
			log.Printf("pipeline: context assembly failed for session %s: %v", turn.SessionID, err)
			contextText = ""
		}
	}

	// Stage 4: generate. Failure or empty reply falls back to the apology.
	degraded := false
	llmStart := time.Now()
	reply, err := o.generate(ctx, prompt.BuildPrompt(contextText, transcript))
	llmElapsed := time.Since(llmStart)
	res.Timings.LLMMS = llmElapsed.Milliseconds()
	o.observeStage("llm", llmElapsed)
	reply = strings.TrimSpace(reply)
	if err != nil || reply == "" {
		if err != nil {
			log.Printf("pipeline: generation failed for session %s: %v", turn.SessionID, err)
			o.collabError("llm")
		}
		reply = speech.Apology
		degraded = true
	}
	res.Reply = reply

	o.persist(ctx, turn, storage.RoleAssistant, reply, res.Timings.LLMMS)

	// Stage 5: synthesize. Failure substitutes a silent clip.
	ttsStart := time.Now()
	wav, err := o.synthesize(ctx, reply)
	ttsElapsed := time.Since(ttsStart)
	res.Timings.TTSMS = ttsElapsed.Milliseconds()
	o.observeStage("tts", ttsElapsed)
	if err != nil || len(wav) == 0 {
		if err != nil {
			log.Printf("pipeline: synthesis failed for session %s: %v", turn.SessionID, err)
			o.collabError("tts")
		}
		wav = audio.SilenceWAV(time.Second, o.sampleRate())
		degraded = true
	}

	res.Timings.TotalMS = time.Since(start).Milliseconds()

	// Stage 6: deliver exactly one response frame.
	o.send(turn, protocol.AudioResponse{
		Type:        protocol.TypeAudioResponse,
		Text:        reply,
		AudioBase64: base64.StdEncoding.EncodeToString(wav),
		UserInput:   transcript,
		Timings:     res.Timings,
	})

	if degraded {
		return o.finish(res, OutcomeDegraded, start)
	}
	return o.finish(res, OutcomeDelivered, start)
}

func (o *Orchestrator) transcribe(ctx context.Context, pcm []byte) (string, error) {
	if o.Transcriber == nil {
		return "", errors.New("no transcriber configured")
	}
	cctx, cancel := context.WithTimeout(ctx, o.callTimeout())
	defer cancel()
	return o.Transcriber.Transcribe(cctx, pcm, o.Language)
}

func (o *Orchestrator) generate(ctx context.Context, p string) (string, error) {
	if o.Generator == nil {
		return "", errors.New("no generator configured")
	}
	cctx, cancel := context.WithTimeout(ctx, o.callTimeout())
	defer cancel()
	return o.Generator.Generate(cctx, p)
}

func (o *Orchestrator) synthesize(ctx context.Context, text string) ([]byte, error) {
	if o.Synthesizer == nil {
		return nil, errors.New("no synthesizer configured")
	}
	cctx, cancel := context.WithTimeout(ctx, o.callTimeout())
	defer cancel()
	return o.Synthesizer.Synthesize(cctx, text)
}

// persist writes one message, best-effort. Returns the stored message id or
// empty when persistence failed.
func (o *Orchestrator) persist(ctx context.Context, turn Turn, role storage.Role, content string, latencyMS int64) string {
	if o.Store == nil {
		return ""
	}
	stored, err := o.Store.AppendMessage(ctx, storage.Message{
		SessionID:        turn.SessionID,
		UserID:           turn.UserID,
		Role:             role,
		Content:          content,
		ProcessingTimeMS: &latencyMS,
	})
	if err != nil {
		log.Printf("pipeline: persisting %s message for session %s failed: %v", role, turn.SessionID, err)
		o.collabError("storage")
		return ""
	}
	return stored.MessageID
}

// indexMessage adds the user utterance to the similarity index, best-effort.
func (o *Orchestrator) indexMessage(ctx context.Context, turn Turn, messageID, content string) {
	if o.Index == nil {
		return
	}
	err := o.Index.Add(ctx, vector.Entry{
		MessageID: messageID,
		UserID:    turn.UserID,
		SessionID: turn.SessionID,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		log.Printf("pipeline: indexing message %s failed: %v", messageID, err)
		o.collabError("vector")
		return
	}
	if err := o.Store.SetVectorRef(ctx, messageID, messageID); err != nil {
		log.Printf("pipeline: recording vector ref for %s failed: %v", messageID, err)
	}
}

func (o *Orchestrator) send(turn Turn, msg any) {
	if turn.Send == nil {
		return
	}
	if err := turn.Send(msg); err != nil {
		if errors.Is(err, conn.ErrNotConnected) {
			log.Printf("pipeline: client for session %s gone, dropping frame", turn.SessionID)
			return
		}
		log.Printf("pipeline: sending frame for session %s failed: %v", turn.SessionID, err)
	}
}

func (o *Orchestrator) finish(res Result, outcome Outcome, start time.Time) Result {
	res.Outcome = outcome
	if res.Timings.TotalMS == 0 {
		res.Timings.TotalMS = time.Since(start).Milliseconds()
	}
	o.observeStage("total", time.Since(start))
	if o.Metrics != nil {
		o.Metrics.TurnOutcomes.WithLabelValues(string(outcome)).Inc()
	}
	if o.Window != nil {
		o.Window.ObserveOutcome(string(outcome))
	}
	return res
}

func (o *Orchestrator) observeStage(stage string, d time.Duration) {
	if o.Metrics != nil {
		o.Metrics.ObserveStage(stage, d)
	}
	if o.Window != nil {
		o.Window.Observe(stage, float64(d.Milliseconds()))
	}
}

func (o *Orchestrator) collabError(name string) {
	if o.Metrics != nil {
		o.Metrics.CollaboratorErrors.WithLabelValues(name).Inc()
	}
}
