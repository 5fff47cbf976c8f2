package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"videorag/internal/apperr"
	"videorag/internal/database"
	"videorag/internal/models"
)

// VideoHandler serves GET /api/v1/videos[/{video_id}].
type VideoHandler struct {
	Videos *database.VideoRepository
}

type videoResponse struct {
	models.Video
	SegmentCount int64 `json:"segment_count"`
	ChunkCount   int64 `json:"chunk_count"`
}

// List handles GET /api/v1/videos, optionally filtered by ?channel_id=.
func (h *VideoHandler) List(w http.ResponseWriter, r *http.Request) {
	var channelID *int64
	if raw := r.URL.Query().Get("channel_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeAppErr(w, apperr.Validation("invalid channel_id"))
			return
		}
		channelID = &id
	}

	skip, limit := pagination(r)
	videos, err := h.Videos.List(r.Context(), channelID, skip, limit)
	if err != nil {
		writeAppErr(w, err)
		return
	}
	RespondWithJSON(w, http.StatusOK, videos)
}

// Get handles GET /api/v1/videos/{video_id}.
func (h *VideoHandler) Get(w http.ResponseWriter, r *http.Request) {
	videoID := chi.URLParam(r, "video_id")
	if videoID == "" {
		writeAppErr(w, apperr.Validation("video_id is required"))
		return
	}

	v, err := h.Videos.Get(r.Context(), videoID)
	if err != nil {
		writeAppErr(w, err)
		return
	}

	segments, chunks, err := h.Videos.Counts(r.Context(), videoID)
	if err != nil {
		writeAppErr(w, err)
		return
	}

	RespondWithJSON(w, http.StatusOK, videoResponse{Video: *v, SegmentCount: segments, ChunkCount: chunks})
}
