package httpapi

import (
	"net/http"
	"strings"
)

type ttsRequest struct {
	Text string `json:"text"`
}

// handleTTS synthesizes arbitrary text to WAV, outside of any conversation.
func (s *Server) handleTTS(w http.ResponseWriter, r *http.Request) {
	var req ttsRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		respondError(w, http.StatusBadRequest, "missing_text", "text is required")
		return
	}
	if s.synthesizer == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "no synthesizer configured")
		return
	}

	wav, err := s.synthesizer.Synthesize(r.Context(), req.Text)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "synthesis_failed", err.Error())
		return
	}
	w.Header().Set("Content-Type", "audio/wav")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(wav)
}
