package dispatch

import (
	"context"
	"encoding/base64"
	"sync"
	"testing"
	"time"

	"github.com/nawkwoo/voice-chat/internal/conn"
	"github.com/nawkwoo/voice-chat/internal/pipeline"
	"github.com/nawkwoo/voice-chat/internal/prompt"
	"github.com/nawkwoo/voice-chat/internal/protocol"
	"github.com/nawkwoo/voice-chat/internal/storage"
	"github.com/nawkwoo/voice-chat/internal/vector"
)

type waitSink struct {
	mu       sync.Mutex
	frames   []any
	response chan struct{}
	once     sync.Once
}

func newWaitSink() *waitSink {
	return &waitSink{response: make(chan struct{})}
}

func (s *waitSink) WriteMessage(msg any) error {
	s.mu.Lock()
	s.frames = append(s.frames, msg)
	s.mu.Unlock()
	if _, ok := msg.(protocol.AudioResponse); ok {
		s.once.Do(func() { close(s.response) })
	}
	return nil
}

func (s *waitSink) Close() error { return nil }

func (s *waitSink) snapshot() []any {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]any, len(s.frames))
	copy(out, s.frames)
	return out
}

func (s *waitSink) lastFrame(t *testing.T) any {
	t.Helper()
	frames := s.snapshot()
	if len(frames) == 0 {
		t.Fatalf("no frames written")
	}
	return frames[len(frames)-1]
}

type fixedSpeech struct{}

func (fixedSpeech) Transcribe(context.Context, []byte, string) (string, error) {
	return "고정 텍스트", nil
}
func (fixedSpeech) Generate(context.Context, string) (string, error) { return "고정 답변", nil }
func (fixedSpeech) Synthesize(context.Context, string) ([]byte, error) {
	return []byte("RIFFok"), nil
}

func newTestDispatcher(t *testing.T) (*Dispatcher, *conn.Conn, *waitSink, string) {
	t.Helper()
	ctx := context.Background()
	store := storage.NewInMemoryStore()
	if _, err := store.GetOrCreateUser(ctx, "u1"); err != nil {
		t.Fatalf("GetOrCreateUser() error = %v", err)
	}
	sess, err := store.CreateSession(ctx, "u1")
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}
	idx := vector.NewInMemoryIndex(vector.NewHashEmbedder(32))

	fs := fixedSpeech{}
	registry := conn.NewRegistry(nil)
	d := &Dispatcher{
		Store: store,
		Index: idx,
		Pipeline: &pipeline.Orchestrator{
			Store:       store,
			Index:       idx,
			Assembler:   prompt.NewAssembler(store, idx),
			Transcriber: fs,
			Generator:   fs,
			Synthesizer: fs,
		},
	}

	sink := newWaitSink()
	c, err := registry.Register("h1", "u1", sess.SessionID, sink)
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	return d, c, sink, sess.SessionID
}

func TestHandleFrameInvalidJSON(t *testing.T) {
	d, c, sink, _ := newTestDispatcher(t)

	d.HandleFrame(context.Background(), c, []byte("{not json"))

	frame, ok := sink.lastFrame(t).(protocol.Error)
	if !ok || frame.Message != "invalid message" {
		t.Fatalf("last frame = %#v, want invalid message error", sink.lastFrame(t))
	}
}

func TestHandleFrameUnknownType(t *testing.T) {
	d, c, sink, _ := newTestDispatcher(t)

	d.HandleFrame(context.Background(), c, []byte(`{"type":"teleport"}`))

	frame, ok := sink.lastFrame(t).(protocol.Error)
	if !ok || frame.Message != "unknown message type" {
		t.Fatalf("last frame = %#v, want unknown type error", sink.lastFrame(t))
	}
}

func TestHandleFrameBadBase64(t *testing.T) {
	d, c, sink, _ := newTestDispatcher(t)

	d.HandleFrame(context.Background(), c, []byte(`{"type":"audio","data":"%%%not-base64%%%"}`))

	frame, ok := sink.lastFrame(t).(protocol.Error)
	if !ok || frame.Message != "audio payload is not valid base64" {
		t.Fatalf("last frame = %#v, want base64 error", sink.lastFrame(t))
	}
}

func TestHandleFrameBusyRejection(t *testing.T) {
	d, c, sink, _ := newTestDispatcher(t)
	if !c.TryAcquireTurn() {
		t.Fatalf("TryAcquireTurn() = false on fresh conn")
	}

	payload := base64.StdEncoding.EncodeToString(make([]byte, 320))
	d.HandleFrame(context.Background(), c, []byte(`{"type":"audio","data":"`+payload+`"}`))

	frame, ok := sink.lastFrame(t).(protocol.Error)
	if !ok || frame.Message != "busy" {
		t.Fatalf("last frame = %#v, want busy rejection", sink.lastFrame(t))
	}
}

func TestHandleFrameAudioRunsTurn(t *testing.T) {
	d, c, sink, _ := newTestDispatcher(t)

	payload := base64.StdEncoding.EncodeToString(make([]byte, 320))
	d.HandleFrame(context.Background(), c, []byte(`{"type":"audio","data":"`+payload+`"}`))

	select {
	case <-sink.response:
	case <-time.After(5 * time.Second):
		t.Fatalf("no audio_response within deadline")
	}

	var sawSTT bool
	for _, f := range sink.snapshot() {
		if stt, ok := f.(protocol.STTResult); ok {
			sawSTT = true
			if stt.Text != "고정 텍스트" {
				t.Fatalf("stt_result = %q, want transcript", stt.Text)
			}
		}
	}
	if !sawSTT {
		t.Fatalf("no stt_result frame before audio_response")
	}

	// The turn slot must be free again once the pipeline finished.
	deadline := time.Now().Add(2 * time.Second)
	for !c.TryAcquireTurn() {
		if time.Now().After(deadline) {
			t.Fatalf("turn slot still busy after completed turn")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHandleFrameGetStats(t *testing.T) {
	d, c, sink, sessionID := newTestDispatcher(t)
	if _, err := d.Store.AppendMessage(context.Background(), storage.Message{
		SessionID: sessionID,
		UserID:    "u1",
		Role:      storage.RoleUser,
		Content:   "hi",
	}); err != nil {
		t.Fatalf("AppendMessage() error = %v", err)
	}

	d.HandleFrame(context.Background(), c, []byte(`{"type":"get_stats"}`))

	frame, ok := sink.lastFrame(t).(protocol.Stats)
	if !ok {
		t.Fatalf("last frame = %#v, want stats", sink.lastFrame(t))
	}
	if frame.Session["session_id"] != sessionID {
		t.Fatalf("stats.session = %v, want session %s", frame.Session, sessionID)
	}
	if frame.Session["message_count"] != float64(1) {
		t.Fatalf("message_count = %v, want 1", frame.Session["message_count"])
	}
	if frame.User["user_id"] != "u1" {
		t.Fatalf("stats.user = %v, want u1", frame.User)
	}
}
