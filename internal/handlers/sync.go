package handlers

import (
	"database/sql"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/feraraujofilho/prod-staging-sync-app-sub000/internal/orchestrator"
	"github.com/feraraujofilho/prod-staging-sync-app-sub000/internal/repository"
	"github.com/feraraujofilho/prod-staging-sync-app-sub000/internal/sync"
)

type SyncHandler struct {
	orchestrator   *orchestrator.Orchestrator
	connections    repository.ConnectionRepository
	requestTimeout time.Duration
	logger         zerolog.Logger
}

func NewSyncHandler(orc *orchestrator.Orchestrator, connections repository.ConnectionRepository, requestTimeout time.Duration, logger zerolog.Logger) *SyncHandler {
	return &SyncHandler{
		orchestrator:   orc,
		connections:    connections,
		requestTimeout: requestTimeout,
		logger:         logger.With().Str("handler", "sync").Logger(),
	}
}

// Trigger starts one resource sync. Products detach immediately; the other
// types run inline but the response is bounded by the request timeout, after
// which the caller polls the returned log id.
func (h *SyncHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	connectionID := vars["id"]
	syncType := vars["syncType"]

	if !sync.ValidType(syncType) {
		http.Error(w, "Unknown sync type: "+syncType, http.StatusBadRequest)
		return
	}

	conn, err := h.connections.Get(connectionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			http.Error(w, "Connection not found", http.StatusNotFound)
			return
		}
		http.Error(w, "Failed to get connection: "+err.Error(), http.StatusInternalServerError)
		return
	}
	if conn == nil {
		http.Error(w, "Connection not found", http.StatusNotFound)
		return
	}
	if !conn.Active {
		http.Error(w, "Connection is inactive", http.StatusConflict)
		return
	}

	var result *orchestrator.RunResult
	if sync.LongRunning(syncType) {
		result, err = h.orchestrator.Run(r.Context(), connectionID, syncType)
	} else {
		result, err = h.orchestrator.RunWithTimeout(r.Context(), connectionID, syncType, h.requestTimeout)
	}
	if err != nil {
		h.logger.Error().Err(err).Str("connection_id", connectionID).Str("sync_type", syncType).Msg("failed to start sync")
		http.Error(w, "Failed to start sync: "+err.Error(), http.StatusInternalServerError)
		return
	}

	h.logger.Info().Str("connection_id", connectionID).Str("sync_type", syncType).Str("log_id", result.LogID).Str("status", result.Status).Msg("sync triggered")
	writeJSON(w, http.StatusAccepted, result)
}

func (h *SyncHandler) ListLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	limit := 20
	if raw := q.Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	offset := 0
	if raw := q.Get("offset"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed >= 0 {
			offset = parsed
		}
	}

	logs, err := h.orchestrator.ListLogs(r.Context(), q.Get("connection_id"), limit, offset)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to list sync logs")
		http.Error(w, "Failed to list sync logs: "+err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"logs": logs,
	})
}

func (h *SyncHandler) GetLog(w http.ResponseWriter, r *http.Request) {
	logID := mux.Vars(r)["logID"]

	log, err := h.orchestrator.Status(r.Context(), logID)
	if err != nil {
		http.Error(w, "Failed to get sync log: "+err.Error(), http.StatusInternalServerError)
		return
	}
	if log == nil {
		http.Error(w, "Sync log not found", http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, log)
}
