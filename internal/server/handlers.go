package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/janikdotzel/healthcare-agent/internal/agent"
	"github.com/janikdotzel/healthcare-agent/internal/ingest"
	"github.com/janikdotzel/healthcare-agent/pkg/projection"
)

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorBody{Error: err.Error()})
}

// handleAsk streams the agent's answer as server-sent events. Each event is
// one JSON-encoded token; the terminal token arrives only after the
// exchange has been durably stored. On failure an "error" event ends the
// stream without a terminal token.
func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	var req agent.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, errors.New("streaming unsupported"))
		return
	}

	ctx := r.Context()
	tokens, errs := s.agent.Ask(ctx, req)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for token := range tokens {
		payload, err := json.Marshal(token)
		if err != nil {
			continue
		}
		if _, err := w.Write([]byte("data: " + string(payload) + "\n\n")); err != nil {
			// Client went away; the agent sees the cancelled context.
			return
		}
		flusher.Flush()
	}

	if err := <-errs; err != nil {
		s.log.Warn().Err(err).Str("user", req.UserID).Str("session", req.SessionID).Msg("ask failed")
		payload, _ := json.Marshal(errorBody{Error: err.Error()})
		_, _ = w.Write([]byte("event: error\ndata: " + string(payload) + "\n\n"))
		flusher.Flush()
	}
}

func (s *Server) handleSessionsByUser(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")
	writeJSON(w, http.StatusOK, s.sessions.SessionsByUser(userID))
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")
	sessionID := chi.URLParam(r, "sessionId")

	session, err := s.sessions.Session(userID, sessionID)
	if err != nil {
		if errors.Is(err, projection.ErrSessionNotFound) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (s *Server) handleIngestMedicalRecord(w http.ResponseWriter, r *http.Request) {
	var record ingest.MedicalRecord
	if err := json.NewDecoder(r.Body).Decode(&record); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := record.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.indexer.IndexMedicalRecord(r.Context(), record); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "indexed"})
}

func (s *Server) handleIngestSensor(w http.ResponseWriter, r *http.Request) {
	var data ingest.SensorData
	if err := json.NewDecoder(r.Body).Decode(&data); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := data.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.sensors.Add(r.Context(), data); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "stored"})
}
