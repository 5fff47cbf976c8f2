package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"videorag/internal/apperr"
	"videorag/internal/database"
	"videorag/internal/models"
)

// SettingsHandler serves GET/POST/PUT/DELETE
// /api/v1/settings/{component}[/{section}/{key}].
type SettingsHandler struct {
	Settings *database.SettingsRepository
}

type upsertSettingRequest struct {
	Value       string                  `json:"value" validate:"required"`
	ValueType   models.SettingValueType `json:"value_type"`
	Description *string                 `json:"description"`
	IsSecret    bool                    `json:"is_secret"`
}

// List handles GET /api/v1/settings/{component}, optionally filtered by
// ?section=.
func (h *SettingsHandler) List(w http.ResponseWriter, r *http.Request) {
	component := chi.URLParam(r, "component")
	var section *string
	if raw := r.URL.Query().Get("section"); raw != "" {
		section = &raw
	}

	settings, err := h.Settings.ListByComponent(r.Context(), component, section)
	if err != nil {
		writeAppErr(w, err)
		return
	}
	RespondWithJSON(w, http.StatusOK, settings)
}

// Get handles GET /api/v1/settings/{component}/{section}/{key}.
func (h *SettingsHandler) Get(w http.ResponseWriter, r *http.Request) {
	component, section, key := chi.URLParam(r, "component"), chi.URLParam(r, "section"), chi.URLParam(r, "key")

	setting, err := h.Settings.Get(r.Context(), component, section, key)
	if err != nil {
		writeAppErr(w, err)
		return
	}
	RespondWithJSON(w, http.StatusOK, setting)
}

// Upsert handles POST and PUT /api/v1/settings/{component}/{section}/{key}.
func (h *SettingsHandler) Upsert(w http.ResponseWriter, r *http.Request) {
	component, section, key := chi.URLParam(r, "component"), chi.URLParam(r, "section"), chi.URLParam(r, "key")

	var req upsertSettingRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeAppErr(w, apperr.Validation("invalid request: "+err.Error()))
		return
	}
	if req.ValueType == "" {
		req.ValueType = models.SettingTypeString
	}

	setting := models.Setting{
		Component:   component,
		Section:     section,
		Key:         key,
		Value:       req.Value,
		ValueType:   req.ValueType,
		Description: req.Description,
		IsSecret:    req.IsSecret,
	}
	if err := h.Settings.Upsert(r.Context(), setting); err != nil {
		writeAppErr(w, err)
		return
	}
	RespondWithJSON(w, http.StatusOK, setting)
}

// Delete handles DELETE /api/v1/settings/{component}/{section}/{key}.
func (h *SettingsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	component, section, key := chi.URLParam(r, "component"), chi.URLParam(r, "section"), chi.URLParam(r, "key")
	if err := h.Settings.Delete(r.Context(), component, section, key); err != nil {
		writeAppErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
