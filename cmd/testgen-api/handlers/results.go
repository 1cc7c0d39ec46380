package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/spherical/prd-testgen/internal/domain"
	"github.com/spherical/prd-testgen/internal/observability"
	"github.com/spherical/prd-testgen/internal/storage"
)

// ResultsHandler saves and serves finished results.
type ResultsHandler struct {
	logger   *observability.Logger
	store    domain.ResultStore
	maxBytes int64
}

// NewResultsHandler creates a new results handler.
func NewResultsHandler(logger *observability.Logger, store domain.ResultStore, maxBytes int64) *ResultsHandler {
	return &ResultsHandler{
		logger:   logger.WithOperation("results_handler"),
		store:    store,
		maxBytes: maxBytes,
	}
}

// SaveResponseDTO is returned by POST /results.
type SaveResponseDTO struct {
	Key string `json:"key"`
}

// Save handles POST /results.
func (h *ResultsHandler) Save(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "result too large", err.Error())
		return
	}
	if !json.Valid(body) {
		writeError(w, http.StatusBadRequest, "body must be a JSON document", "")
		return
	}

	key, err := h.store.Save(r.Context(), body)
	if err != nil {
		h.logger.WithContext(r.Context()).Error().Err(err).Msg("Save failed")
		writeError(w, http.StatusInternalServerError, "save failed", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, SaveResponseDTO{Key: key})
}

// Get handles GET /results/{key}.
func (h *ResultsHandler) Get(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	result, err := h.store.Load(r.Context(), key)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "result not found", "")
		return
	}
	if err != nil {
		h.logger.WithContext(r.Context()).Error().Err(err).Str("key", key).Msg("Load failed")
		writeError(w, http.StatusInternalServerError, "load failed", err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result.Payload)
}
