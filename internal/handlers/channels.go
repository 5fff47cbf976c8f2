package handlers

import (
	"net/http"
	"strconv"

	"videorag/internal/apperr"
	"videorag/internal/database"
	"videorag/internal/models"
)

// ChannelHandler serves GET/POST/PATCH/DELETE /api/v1/channels[/{id}].
type ChannelHandler struct {
	Channels *database.ChannelRepository
	Videos   *database.VideoRepository
}

type createChannelRequest struct {
	Name string `json:"name"`
	URL  string `json:"url" validate:"required,url"`
}

type updateChannelRequest struct {
	Name string `json:"name" validate:"required"`
}

type channelResponse struct {
	models.Channel
	VideoCount       int64 `json:"video_count"`
	TranscribedCount int64 `json:"transcribed_count"`
}

func (h *ChannelHandler) withStats(r *http.Request, c *models.Channel) (channelResponse, error) {
	videoCount, transcribedCount, err := h.Channels.Stats(r.Context(), c.ID)
	if err != nil {
		return channelResponse{}, err
	}
	return channelResponse{Channel: *c, VideoCount: videoCount, TranscribedCount: transcribedCount}, nil
}

// List handles GET /api/v1/channels.
func (h *ChannelHandler) List(w http.ResponseWriter, r *http.Request) {
	skip, limit := pagination(r)
	channels, err := h.Channels.List(r.Context(), skip, limit)
	if err != nil {
		writeAppErr(w, err)
		return
	}

	out := make([]channelResponse, 0, len(channels))
	for _, c := range channels {
		cr, err := h.withStats(r, &c)
		if err != nil {
			writeAppErr(w, err)
			return
		}
		out = append(out, cr)
	}
	RespondWithJSON(w, http.StatusOK, out)
}

// Create handles POST /api/v1/channels.
func (h *ChannelHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createChannelRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeAppErr(w, apperr.Validation("invalid request: "+err.Error()))
		return
	}

	c, err := h.Channels.Create(r.Context(), req.Name, req.URL)
	if err != nil {
		writeAppErr(w, err)
		return
	}
	RespondWithJSON(w, http.StatusCreated, c)
}

// Get handles GET /api/v1/channels/{id}.
func (h *ChannelHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDFromURL(r, "id")
	if err != nil {
		writeAppErr(w, apperr.Validation("invalid channel id"))
		return
	}

	c, err := h.Channels.Get(r.Context(), id)
	if err != nil {
		writeAppErr(w, err)
		return
	}
	cr, err := h.withStats(r, c)
	if err != nil {
		writeAppErr(w, err)
		return
	}
	RespondWithJSON(w, http.StatusOK, cr)
}

// Update handles PATCH /api/v1/channels/{id}.
func (h *ChannelHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDFromURL(r, "id")
	if err != nil {
		writeAppErr(w, apperr.Validation("invalid channel id"))
		return
	}

	var req updateChannelRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeAppErr(w, apperr.Validation("invalid request: "+err.Error()))
		return
	}

	c, err := h.Channels.Update(r.Context(), id, req.Name)
	if err != nil {
		writeAppErr(w, err)
		return
	}
	RespondWithJSON(w, http.StatusOK, c)
}

// Delete handles DELETE /api/v1/channels/{id}.
func (h *ChannelHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDFromURL(r, "id")
	if err != nil {
		writeAppErr(w, apperr.Validation("invalid channel id"))
		return
	}
	if err := h.Channels.Delete(r.Context(), id); err != nil {
		writeAppErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// pagination reads ?skip= and ?limit= query params with safe defaults.
func pagination(r *http.Request) (skip, limit int) {
	skip, _ = strconv.Atoi(r.URL.Query().Get("skip"))
	limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	return skip, limit
}

// writeAppErr maps an *apperr.Error to its documented HTTP status (spec.md §7).
func writeAppErr(w http.ResponseWriter, err error) {
	RespondWithError(w, apperr.StatusCode(err), err.Error())
}
