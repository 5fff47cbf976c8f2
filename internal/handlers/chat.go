package handlers

import (
	"bufio"
	"encoding/json"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"videorag/internal/apperr"
	"videorag/internal/database"
	"videorag/internal/rag"
)

// ChatHandler serves GET/DELETE /api/v1/chat/sessions[/{id}] and POST
// /api/v1/chat/ask_stream.
type ChatHandler struct {
	Chat         *database.ChatRepository
	Orchestrator *rag.Orchestrator
}

// ListSessions handles GET /api/v1/chat/sessions.
func (h *ChatHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	skip, limit := pagination(r)
	sessions, err := h.Chat.ListSessions(r.Context(), skip, limit)
	if err != nil {
		writeAppErr(w, err)
		return
	}
	RespondWithJSON(w, http.StatusOK, sessions)
}

// GetSession handles GET /api/v1/chat/sessions/{id}.
func (h *ChatHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeAppErr(w, apperr.Validation("invalid session id"))
		return
	}

	session, err := h.Chat.GetSession(r.Context(), id)
	if err != nil {
		writeAppErr(w, err)
		return
	}

	messages, err := h.Chat.AllMessages(r.Context(), id)
	if err != nil {
		writeAppErr(w, err)
		return
	}

	RespondWithJSON(w, http.StatusOK, map[string]interface{}{
		"session":  session,
		"messages": messages,
	})
}

// DeleteSession handles DELETE /api/v1/chat/sessions/{id}.
func (h *ChatHandler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeAppErr(w, apperr.Validation("invalid session id"))
		return
	}
	if err := h.Chat.DeleteSession(r.Context(), id); err != nil {
		writeAppErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type askStreamRequest struct {
	SessionID *uuid.UUID `json:"session_id"`
	ChannelID *int64     `json:"channel_id"`
	Question  string     `json:"question" validate:"required"`
	VideoIDs  []string   `json:"video_ids"`
}

// ndjsonEmitter adapts an http.ResponseWriter into rag.EventEmitter,
// writing one JSON object per line and flushing after each, per spec.md
// §4.9's ndjson stream protocol.
type ndjsonEmitter struct {
	w *bufio.Writer
}

func (e *ndjsonEmitter) Broadcast(eventType string, data interface{}) {
	line, err := json.Marshal(map[string]interface{}{"type": eventType, "data": data})
	if err != nil {
		log.Printf("[chat] failed to marshal ask_stream event %q: %v", eventType, err)
		return
	}
	e.w.Write(line)
	e.w.WriteByte('\n')
	e.w.Flush()
}

// AskStream handles POST /api/v1/chat/ask_stream: an ndjson streamed
// response of {type:"session_id"|"sources"|"content", data}. A client
// disconnect aborts the stream; AskStream only persists the completed turn
// once its generator returns normally, so a partial answer is never saved.
func (h *ChatHandler) AskStream(w http.ResponseWriter, r *http.Request) {
	var req askStreamRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeAppErr(w, apperr.Validation("invalid request: "+err.Error()))
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	flushWriter, ok := w.(http.Flusher)
	if ok {
		flushWriter.Flush()
	}

	emitter := &ndjsonEmitter{w: bufio.NewWriter(w)}
	err := h.Orchestrator.AskStream(r.Context(), emitter, rag.AskRequest{
		SessionID: req.SessionID,
		ChannelID: req.ChannelID,
		Question:  req.Question,
		VideoIDs:  req.VideoIDs,
	})
	if err != nil {
		log.Printf("[chat] ask_stream failed: %v", err)
	}
}
