package handlers

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"videorag/internal/apperr"
	"videorag/internal/database"
	"videorag/internal/models"
)

// PipelineHandler serves GET /api/v1/pipeline/stats,
// GET/POST/DELETE /api/v1/pipeline/tasks[/{id}], and the
// GET /api/v1/pipeline/events SSE stream.
type PipelineHandler struct {
	Tasks *database.TaskStore
}

type createTaskRequest struct {
	TaskType   models.TaskType `json:"task_type"`
	ChannelURL string          `json:"channel_url" validate:"required,url"`
	MaxVideos  int             `json:"max_videos" validate:"max=100"`
	Download   bool            `json:"download"`
}

// Stats handles GET /api/v1/pipeline/stats.
func (h *PipelineHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Tasks.Stats(r.Context())
	if err != nil {
		writeAppErr(w, err)
		return
	}
	RespondWithJSON(w, http.StatusOK, stats)
}

// CreateTask handles POST /api/v1/pipeline/tasks. Only task_type=pipeline is
// ever accepted from this public endpoint; embed_question tasks are only
// ever enqueued internally by the RAG Orchestrator.
func (h *PipelineHandler) CreateTask(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeAppErr(w, apperr.Validation("invalid request: "+err.Error()))
		return
	}
	if req.TaskType != "" && req.TaskType != models.TaskTypePipeline {
		writeAppErr(w, apperr.Validation(`task_type must be "pipeline"`))
		return
	}

	body, err := json.Marshal(models.PipelineRequest{
		ChannelURL: req.ChannelURL,
		MaxVideos:  req.MaxVideos,
		Download:   req.Download,
	})
	if err != nil {
		writeAppErr(w, apperr.Critical("failed to marshal pipeline task request", err))
		return
	}

	task, err := h.Tasks.Enqueue(r.Context(), models.TaskTypePipeline, body)
	if err != nil {
		writeAppErr(w, err)
		return
	}
	log.Printf("[pipeline] task %s enqueued for %s by %s", task.ID, req.ChannelURL, getClientIP(r))
	RespondWithJSON(w, http.StatusCreated, task)
}

// ListTasks handles GET /api/v1/pipeline/tasks.
func (h *PipelineHandler) ListTasks(w http.ResponseWriter, r *http.Request) {
	var status *models.TaskStatus
	if raw := r.URL.Query().Get("status"); raw != "" {
		s := models.TaskStatus(raw)
		status = &s
	}

	page := 1
	if raw := r.URL.Query().Get("page"); raw != "" {
		fmt.Sscanf(raw, "%d", &page)
	}
	pageSize := 20
	if raw := r.URL.Query().Get("page_size"); raw != "" {
		fmt.Sscanf(raw, "%d", &pageSize)
	}

	tasks, err := h.Tasks.List(r.Context(), status, page, pageSize)
	if err != nil {
		writeAppErr(w, err)
		return
	}
	RespondWithJSON(w, http.StatusOK, tasks)
}

// GetTask handles GET /api/v1/pipeline/tasks/{id}.
func (h *PipelineHandler) GetTask(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeAppErr(w, apperr.Validation("invalid task id"))
		return
	}
	task, err := h.Tasks.Get(r.Context(), id)
	if err != nil {
		writeAppErr(w, err)
		return
	}
	RespondWithJSON(w, http.StatusOK, task)
}

// ListTransitions handles GET /api/v1/pipeline/tasks/{id}/transitions: the
// audit trail of a task's status changes (spec.md §7).
func (h *PipelineHandler) ListTransitions(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeAppErr(w, apperr.Validation("invalid task id"))
		return
	}
	transitions, err := h.Tasks.ListTransitions(r.Context(), id)
	if err != nil {
		writeAppErr(w, err)
		return
	}
	RespondWithJSON(w, http.StatusOK, transitions)
}

// DeleteTask handles DELETE /api/v1/pipeline/tasks/{id}.
func (h *PipelineHandler) DeleteTask(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeAppErr(w, apperr.Validation("invalid task id"))
		return
	}
	if err := h.Tasks.Delete(r.Context(), id); err != nil {
		writeAppErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

const sseRecentWindow = 60 * time.Second
const ssePollInterval = 5 * time.Second

type taskUpdateEvent struct {
	Type string      `json:"type"`
	Task models.Task `json:"task"`
}

// Events handles GET /api/v1/pipeline/events: an SSE stream of task_update
// events for every task that has completed within the last 60s, deduped per
// subscriber by (task_id, status), with a heartbeat every poll cycle
// (spec.md §5). Each subscriber runs its own independent poll loop.
func (h *PipelineHandler) Events(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeAppErr(w, apperr.Critical("streaming unsupported", nil))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	fmt.Fprint(w, "event: connected\ndata: {}\n\n")
	flusher.Flush()

	ctx := r.Context()
	seen := map[uuid.UUID]models.TaskStatus{}

	// Seed the dedup map with what's already terminal at connect time, so a
	// subscriber that attaches mid-window doesn't replay old transitions.
	if tasks, err := h.Tasks.RecentlyTerminal(ctx, time.Now().Add(-sseRecentWindow)); err == nil {
		for _, t := range tasks {
			seen[t.ID] = t.Status
		}
	}

	ticker := time.NewTicker(ssePollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tasks, err := h.Tasks.RecentlyTerminal(ctx, time.Now().Add(-sseRecentWindow))
			if err != nil {
				fmt.Fprintf(w, "event: error\ndata: %q\n\n", err.Error())
				flusher.Flush()
				continue
			}
			for _, t := range tasks {
				if seen[t.ID] == t.Status {
					continue
				}
				seen[t.ID] = t.Status
				payload, err := json.Marshal(taskUpdateEvent{Type: "task_update", Task: t})
				if err != nil {
					continue
				}
				fmt.Fprintf(w, "event: task_update\ndata: %s\n\n", payload)
			}
			fmt.Fprint(w, "event: heartbeat\ndata: {}\n\n")
			flusher.Flush()
		}
	}
}
