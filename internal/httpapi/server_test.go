package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nawkwoo/voice-chat/internal/config"
	"github.com/nawkwoo/voice-chat/internal/conn"
	"github.com/nawkwoo/voice-chat/internal/dispatch"
	"github.com/nawkwoo/voice-chat/internal/observability"
	"github.com/nawkwoo/voice-chat/internal/pipeline"
	"github.com/nawkwoo/voice-chat/internal/prompt"
	"github.com/nawkwoo/voice-chat/internal/speech"
	"github.com/nawkwoo/voice-chat/internal/storage"
	"github.com/nawkwoo/voice-chat/internal/vector"
)

func newTestServer(t *testing.T) (*Server, storage.Store) {
	t.Helper()
	cfg := config.Config{AllowAnyOrigin: true, STTLanguage: "ko", AudioSampleRate: 16000}
	store := storage.NewInMemoryStore()
	idx := vector.NewInMemoryIndex(vector.NewHashEmbedder(32))
	mock := speech.NewMockProvider(16000)

	registry := conn.NewRegistry(func(userID, sessionID string) {
		_ = store.EndSession(context.Background(), sessionID)
	})
	metrics := observability.NewMetrics(fmt.Sprintf("test_httpapi_%d", time.Now().UnixNano()))
	window := observability.NewStageWindow(64)

	d := &dispatch.Dispatcher{
		Store:   store,
		Index:   idx,
		Metrics: metrics,
		Pipeline: &pipeline.Orchestrator{
			Store:       store,
			Index:       idx,
			Assembler:   prompt.NewAssembler(store, idx),
			Transcriber: mock,
			Generator:   mock,
			Synthesizer: mock,
			Metrics:     metrics,
			Window:      window,
		},
	}
	return New(cfg, store, idx, registry, d, mock, metrics, window), store
}

func TestHealthAndReady(t *testing.T) {
	srv, _ := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	for _, path := range []string{"/healthz", "/readyz"} {
		res, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatalf("GET %s error = %v", path, err)
		}
		res.Body.Close()
		if res.StatusCode != http.StatusOK {
			t.Fatalf("GET %s status = %d, want 200", path, res.StatusCode)
		}
	}
}

func TestSessionLifecycle(t *testing.T) {
	srv, _ := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	body, _ := json.Marshal(map[string]string{"user_id": "user-1"})
	res, err := http.Post(ts.URL+"/v1/sessions", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("create session request error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d, want %d", res.StatusCode, http.StatusCreated)
	}

	var created map[string]any
	if err := json.NewDecoder(res.Body).Decode(&created); err != nil {
		t.Fatalf("decode create response: %v", err)
	}
	sessionID, _ := created["session_id"].(string)
	if !strings.HasPrefix(sessionID, "session_") {
		t.Fatalf("session_id = %q, want session_ prefix", sessionID)
	}

	getRes, err := http.Get(ts.URL + "/v1/sessions/" + sessionID)
	if err != nil {
		t.Fatalf("get session error = %v", err)
	}
	getRes.Body.Close()
	if getRes.StatusCode != http.StatusOK {
		t.Fatalf("get status = %d, want 200", getRes.StatusCode)
	}

	listRes, err := http.Get(ts.URL + "/v1/sessions?user_id=user-1")
	if err != nil {
		t.Fatalf("list sessions error = %v", err)
	}
	defer listRes.Body.Close()
	var listed struct {
		Sessions []map[string]any `json:"sessions"`
	}
	if err := json.NewDecoder(listRes.Body).Decode(&listed); err != nil {
		t.Fatalf("decode list response: %v", err)
	}
	if len(listed.Sessions) != 1 {
		t.Fatalf("listed sessions = %d, want 1", len(listed.Sessions))
	}

	// Ending twice returns 200 both times.
	for i := 0; i < 2; i++ {
		endRes, err := http.Post(ts.URL+"/v1/sessions/"+sessionID+"/end", "application/json", nil)
		if err != nil {
			t.Fatalf("end session request error = %v", err)
		}
		endRes.Body.Close()
		if endRes.StatusCode != http.StatusOK {
			t.Fatalf("end attempt %d status = %d, want 200", i+1, endRes.StatusCode)
		}
	}

	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/v1/sessions/"+sessionID, nil)
	delRes, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("delete session error = %v", err)
	}
	delRes.Body.Close()
	if delRes.StatusCode != http.StatusOK {
		t.Fatalf("delete status = %d, want 200", delRes.StatusCode)
	}

	goneRes, _ := http.Get(ts.URL + "/v1/sessions/" + sessionID)
	goneRes.Body.Close()
	if goneRes.StatusCode != http.StatusNotFound {
		t.Fatalf("get deleted status = %d, want 404", goneRes.StatusCode)
	}
}

func TestCreateSessionRequiresUserID(t *testing.T) {
	srv, _ := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	res, err := http.Post(ts.URL+"/v1/sessions", "application/json", strings.NewReader("{}"))
	if err != nil {
		t.Fatalf("request error = %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", res.StatusCode)
	}
}

func TestTTSEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	body, _ := json.Marshal(map[string]string{"text": "안녕하세요"})
	res, err := http.Post(ts.URL+"/v1/tts", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("tts request error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("tts status = %d, want 200", res.StatusCode)
	}
	if ct := res.Header.Get("Content-Type"); ct != "audio/wav" {
		t.Fatalf("Content-Type = %q, want audio/wav", ct)
	}
	wav, _ := io.ReadAll(res.Body)
	if len(wav) <= 44 || string(wav[:4]) != "RIFF" {
		t.Fatalf("tts body = %d bytes, want WAV", len(wav))
	}
}

func TestWSRequiresUserID(t *testing.T) {
	srv, _ := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	res, err := http.Get(ts.URL + "/ws")
	if err != nil {
		t.Fatalf("GET /ws error = %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 without user_id", res.StatusCode)
	}
}

func TestWSConnectAndStats(t *testing.T) {
	srv, store := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?user_id=user-1"
	ws, res, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("ws dial error = %v", err)
	}
	if res != nil {
		res.Body.Close()
	}
	defer ws.Close()

	ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	var connected map[string]any
	if err := ws.ReadJSON(&connected); err != nil {
		t.Fatalf("read connected frame: %v", err)
	}
	if connected["type"] != "info" || connected["message"] != "connected" {
		t.Fatalf("first frame = %v, want connected info", connected)
	}
	sessionID, _ := connected["session_id"].(string)
	if sessionID == "" {
		t.Fatalf("connected frame has no session_id")
	}

	if err := ws.WriteJSON(map[string]string{"type": "get_stats"}); err != nil {
		t.Fatalf("write get_stats: %v", err)
	}
	var stats map[string]any
	if err := ws.ReadJSON(&stats); err != nil {
		t.Fatalf("read stats frame: %v", err)
	}
	if stats["type"] != "stats" {
		t.Fatalf("frame = %v, want stats", stats)
	}

	// Disconnect ends the bound session through the finalizer.
	ws.Close()
	deadline := time.Now().Add(3 * time.Second)
	for {
		sess, err := store.GetSession(context.Background(), sessionID)
		if err == nil && !sess.Active() {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("session %s still active after disconnect", sessionID)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestWSUnknownSessionAutoCreated(t *testing.T) {
	srv, store := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?user_id=user-1&session_id=session_deadbeef"
	ws, res, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("ws dial error = %v", err)
	}
	if res != nil {
		res.Body.Close()
	}
	defer ws.Close()

	ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	var connected map[string]any
	if err := ws.ReadJSON(&connected); err != nil {
		t.Fatalf("read connected frame: %v", err)
	}
	sessionID, _ := connected["session_id"].(string)
	if sessionID == "" || sessionID == "session_deadbeef" {
		t.Fatalf("session_id = %q, want freshly created id", sessionID)
	}
	if _, err := store.GetSession(context.Background(), sessionID); err != nil {
		t.Fatalf("GetSession(%s) error = %v, want created session", sessionID, err)
	}
}
