package handlers

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/feraraujofilho/prod-staging-sync-app-sub000/internal/models"
	"github.com/feraraujofilho/prod-staging-sync-app-sub000/internal/repository"
	"github.com/feraraujofilho/prod-staging-sync-app-sub000/internal/scheduler"
	"github.com/feraraujofilho/prod-staging-sync-app-sub000/internal/sync"
)

var validate = validator.New()

type scheduleRequest struct {
	Enabled   *bool    `json:"enabled"`
	Frequency string   `json:"frequency" validate:"required,oneof=daily every_6h every_12h weekly"`
	Hour      int      `json:"hour" validate:"min=0,max=23"`
	Minute    int      `json:"minute" validate:"min=0,max=59"`
	DayOfWeek int      `json:"day_of_week" validate:"min=0,max=6"`
	SyncTypes []string `json:"sync_types"`
}

type ScheduleHandler struct {
	schedules   repository.ScheduleRepository
	connections repository.ConnectionRepository
	scheduler   *scheduler.Scheduler
	logger      zerolog.Logger
}

func NewScheduleHandler(schedules repository.ScheduleRepository, connections repository.ConnectionRepository, sched *scheduler.Scheduler, logger zerolog.Logger) *ScheduleHandler {
	return &ScheduleHandler{
		schedules:   schedules,
		connections: connections,
		scheduler:   sched,
		logger:      logger.With().Str("handler", "schedule").Logger(),
	}
}

func (h *ScheduleHandler) Get(w http.ResponseWriter, r *http.Request) {
	connectionID := mux.Vars(r)["id"]

	schedule, err := h.schedules.GetByConnection(r.Context(), connectionID)
	if err != nil {
		http.Error(w, "Failed to get schedule: "+err.Error(), http.StatusInternalServerError)
		return
	}
	if schedule == nil {
		http.Error(w, "No schedule for connection", http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, schedule)
}

// Upsert creates or replaces the single schedule for a connection and
// re-arms its timer.
func (h *ScheduleHandler) Upsert(w http.ResponseWriter, r *http.Request) {
	connectionID := mux.Vars(r)["id"]

	var req scheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request payload", http.StatusBadRequest)
		return
	}
	if err := validate.Struct(req); err != nil {
		http.Error(w, "Invalid schedule: "+err.Error(), http.StatusBadRequest)
		return
	}
	for _, syncType := range req.SyncTypes {
		if !sync.ValidType(syncType) {
			http.Error(w, "Unknown sync type: "+syncType, http.StatusBadRequest)
			return
		}
	}

	conn, err := h.connections.Get(connectionID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		http.Error(w, "Failed to get connection: "+err.Error(), http.StatusInternalServerError)
		return
	}
	if conn == nil || errors.Is(err, sql.ErrNoRows) {
		http.Error(w, "Connection not found", http.StatusNotFound)
		return
	}

	schedule := &models.SyncSchedule{
		ConnectionID: connectionID,
		Enabled:      true,
		Frequency:    req.Frequency,
		Hour:         req.Hour,
		Minute:       req.Minute,
		DayOfWeek:    req.DayOfWeek,
		SyncTypes:    req.SyncTypes,
	}
	if req.Enabled != nil {
		schedule.Enabled = *req.Enabled
	}

	if _, err := h.schedules.Upsert(r.Context(), schedule); err != nil {
		h.logger.Error().Err(err).Str("connection_id", connectionID).Msg("failed to upsert schedule")
		http.Error(w, "Failed to save schedule: "+err.Error(), http.StatusInternalServerError)
		return
	}

	if err := h.scheduler.Reload(r.Context(), connectionID); err != nil {
		h.logger.Error().Err(err).Str("connection_id", connectionID).Msg("failed to arm schedule timer")
		http.Error(w, "Schedule saved but timer could not be armed: "+err.Error(), http.StatusInternalServerError)
		return
	}

	// Reload recomputes next_run_at, so return the row as armed.
	saved, err := h.schedules.GetByConnection(r.Context(), connectionID)
	if err != nil || saved == nil {
		http.Error(w, "Failed to reload schedule", http.StatusInternalServerError)
		return
	}

	h.logger.Info().Str("connection_id", connectionID).Str("frequency", saved.Frequency).Bool("enabled", saved.Enabled).Msg("schedule saved")
	writeJSON(w, http.StatusOK, saved)
}

func (h *ScheduleHandler) Delete(w http.ResponseWriter, r *http.Request) {
	connectionID := mux.Vars(r)["id"]

	if err := h.schedules.Delete(r.Context(), connectionID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			http.Error(w, "No schedule for connection", http.StatusNotFound)
			return
		}
		h.logger.Error().Err(err).Str("connection_id", connectionID).Msg("failed to delete schedule")
		http.Error(w, "Failed to delete schedule: "+err.Error(), http.StatusInternalServerError)
		return
	}
	h.scheduler.Remove(connectionID)

	w.WriteHeader(http.StatusNoContent)
}

// RunNow fires the full scheduled batch immediately without moving the
// regular slot.
func (h *ScheduleHandler) RunNow(w http.ResponseWriter, r *http.Request) {
	connectionID := mux.Vars(r)["id"]

	if err := h.scheduler.RunNow(r.Context(), connectionID); err != nil {
		if errors.Is(err, scheduler.ErrNoSchedule) {
			http.Error(w, "No schedule for connection", http.StatusNotFound)
			return
		}
		h.logger.Error().Err(err).Str("connection_id", connectionID).Msg("failed to start scheduled run")
		http.Error(w, "Failed to start scheduled run: "+err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"status": "started",
	})
}
