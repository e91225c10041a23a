package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nawkwoo/voice-chat/internal/config"
	"github.com/nawkwoo/voice-chat/internal/conn"
	"github.com/nawkwoo/voice-chat/internal/dispatch"
	"github.com/nawkwoo/voice-chat/internal/observability"
	"github.com/nawkwoo/voice-chat/internal/speech"
	"github.com/nawkwoo/voice-chat/internal/storage"
	"github.com/nawkwoo/voice-chat/internal/vector"
)

type Server struct {
	cfg         config.Config
	store       storage.Store
	index       vector.Index
	registry    *conn.Registry
	dispatcher  *dispatch.Dispatcher
	synthesizer speech.Synthesizer
	metrics     *observability.Metrics
	window      *observability.StageWindow
	upgrader    websocket.Upgrader
}

func New(cfg config.Config, store storage.Store, index vector.Index, registry *conn.Registry,
	dispatcher *dispatch.Dispatcher, synthesizer speech.Synthesizer,
	metrics *observability.Metrics, window *observability.StageWindow) *Server {
	return &Server{
		cfg:         cfg,
		store:       store,
		index:       index,
		registry:    registry,
		dispatcher:  dispatcher,
		synthesizer: synthesizer,
		metrics:     metrics,
		window:      window,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Only same-origin browser connections unless explicitly opened
				// up. Non-browser clients without an Origin header are allowed.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Get("/ws", s.handleWS)

	r.Post("/v1/sessions", s.handleCreateSession)
	r.Get("/v1/sessions", s.handleListSessions)
	r.Get("/v1/sessions/{id}", s.handleGetSession)
	r.Get("/v1/sessions/{id}/messages", s.handleSessionMessages)
	r.Get("/v1/sessions/{id}/stats", s.handleSessionStats)
	r.Post("/v1/sessions/{id}/end", s.handleEndSession)
	r.Delete("/v1/sessions/{id}", s.handleDeleteSession)

	r.Post("/v1/tts", s.handleTTS)
	r.Get("/v1/stats/latency", s.handleLatency)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"connections": s.registry.Count(),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		respondError(w, http.StatusServiceUnavailable, "storage_unavailable", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

func (s *Server) handleLatency(w http.ResponseWriter, _ *http.Request) {
	if s.window == nil {
		respondJSON(w, http.StatusOK, map[string]any{
			"generated_at": "",
			"window_size":  0,
			"stages":       []any{},
		})
		return
	}
	respondJSON(w, http.StatusOK, s.window.Snapshot())
}

// handleWS upgrades the client and runs its read loop until disconnect.
// An unknown or missing session id gets a fresh session bound to the user.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(r.URL.Query().Get("user_id"))
	if userID == "" {
		respondError(w, http.StatusBadRequest, "missing_user_id", "query parameter user_id is required")
		return
	}
	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))

	ctx := r.Context()
	if _, err := s.store.GetOrCreateUser(ctx, userID); err != nil {
		respondError(w, http.StatusInternalServerError, "storage_error", err.Error())
		return
	}

	if sessionID != "" {
		if _, err := s.store.GetSession(ctx, sessionID); err != nil {
			if !errors.Is(err, storage.ErrSessionNotFound) {
				respondError(w, http.StatusInternalServerError, "storage_error", err.Error())
				return
			}
			sessionID = ""
		}
	}
	if sessionID == "" {
		sess, err := s.store.CreateSession(ctx, userID)
		if err != nil {
			respondError(w, http.StatusInternalServerError, "storage_error", err.Error())
			return
		}
		sessionID = sess.SessionID
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	handle := uuid.NewString()
	sink := newWSSink(ws)
	c, err := s.registry.Register(handle, userID, sessionID, sink)
	if err != nil {
		ws.Close()
		return
	}
	s.metrics.ActiveConnections.Set(float64(s.registry.Count()))
	s.metrics.ConnectionEvents.WithLabelValues("connected").Inc()

	defer func() {
		s.registry.Unregister(handle)
		ws.Close()
		s.metrics.ActiveConnections.Set(float64(s.registry.Count()))
		s.metrics.ConnectionEvents.WithLabelValues("disconnected").Inc()
	}()

	ws.SetReadLimit(16 << 20)
	_ = ws.SetReadDeadline(time.Now().Add(5 * time.Minute))
	ws.SetPongHandler(func(string) error {
		_ = ws.SetReadDeadline(time.Now().Add(5 * time.Minute))
		return nil
	})

	// Turns keep running to completion even if the client disconnects
	// mid-turn; persistence must not be cut off with the socket.
	frameCtx := context.WithoutCancel(ctx)
	for {
		msgType, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		_ = ws.SetReadDeadline(time.Now().Add(5 * time.Minute))
		s.dispatcher.HandleFrame(frameCtx, c, data)
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
