package handlers

import (
	"database/sql"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/feraraujofilho/prod-staging-sync-app-sub000/internal/mapping"
)

type MappingHandler struct {
	store  *mapping.Store
	logger zerolog.Logger
}

func NewMappingHandler(store *mapping.Store, logger zerolog.Logger) *MappingHandler {
	return &MappingHandler{
		store:  store,
		logger: logger.With().Str("handler", "mapping").Logger(),
	}
}

func (h *MappingHandler) List(w http.ResponseWriter, r *http.Request) {
	connectionID := mux.Vars(r)["id"]
	q := r.URL.Query()

	resourceType := q.Get("resource_type")
	limit := parsePositiveInt(q.Get("limit"), 50)
	offset := parseNonNegativeInt(q.Get("offset"), 0)
	orderBy := q.Get("order_by")
	if orderBy == "" {
		orderBy = "last_synced_at"
	}

	mappings, err := h.store.GetMappings(r.Context(), connectionID, resourceType, limit, offset, orderBy)
	if err != nil {
		h.logger.Error().Err(err).Str("connection_id", connectionID).Msg("failed to list mappings")
		http.Error(w, "Failed to list mappings: "+err.Error(), http.StatusInternalServerError)
		return
	}

	total, err := h.store.GetMappingsCount(r.Context(), connectionID, resourceType)
	if err != nil {
		http.Error(w, "Failed to count mappings: "+err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"mappings": mappings,
		"total":    total,
	})
}

func (h *MappingHandler) Stats(w http.ResponseWriter, r *http.Request) {
	connectionID := mux.Vars(r)["id"]

	stats, err := h.store.GetMappingStats(r.Context(), connectionID)
	if err != nil {
		h.logger.Error().Err(err).Str("connection_id", connectionID).Msg("failed to load mapping stats")
		http.Error(w, "Failed to load mapping stats: "+err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"stats": stats,
	})
}

// DeleteByConnection clears every recorded mapping for one connection so the
// next sync rebuilds them from scratch.
func (h *MappingHandler) DeleteByConnection(w http.ResponseWriter, r *http.Request) {
	connectionID := mux.Vars(r)["id"]

	deleted, err := h.store.DeleteMappings(r.Context(), connectionID)
	if err != nil {
		h.logger.Error().Err(err).Str("connection_id", connectionID).Msg("failed to delete mappings")
		http.Error(w, "Failed to delete mappings: "+err.Error(), http.StatusInternalServerError)
		return
	}

	h.logger.Info().Str("connection_id", connectionID).Int64("deleted", deleted).Msg("mappings cleared")
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"deleted": deleted,
	})
}

func (h *MappingHandler) ListUnmapped(w http.ResponseWriter, r *http.Request) {
	connectionID := mux.Vars(r)["id"]
	q := r.URL.Query()

	includeResolved := q.Get("include_resolved") == "true"
	limit := parsePositiveInt(q.Get("limit"), 50)
	offset := parseNonNegativeInt(q.Get("offset"), 0)

	refs, err := h.store.GetUnmappedReferences(r.Context(), connectionID, includeResolved, limit, offset)
	if err != nil {
		h.logger.Error().Err(err).Str("connection_id", connectionID).Msg("failed to list unmapped references")
		http.Error(w, "Failed to list unmapped references: "+err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"unmapped_references": refs,
	})
}

func (h *MappingHandler) ResolveUnmapped(w http.ResponseWriter, r *http.Request) {
	refID := mux.Vars(r)["refID"]

	if err := h.store.MarkUnmappedReferenceResolved(r.Context(), refID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			http.Error(w, "Unmapped reference not found", http.StatusNotFound)
			return
		}
		h.logger.Error().Err(err).Str("reference_id", refID).Msg("failed to resolve unmapped reference")
		http.Error(w, "Failed to resolve unmapped reference: "+err.Error(), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func parsePositiveInt(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
		return parsed
	}
	return fallback
}

func parseNonNegativeInt(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	if parsed, err := strconv.Atoi(raw); err == nil && parsed >= 0 {
		return parsed
	}
	return fallback
}
