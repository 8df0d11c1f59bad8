package routes

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/feraraujofilho/prod-staging-sync-app-sub000/internal/handlers"
	"github.com/feraraujofilho/prod-staging-sync-app-sub000/internal/middleware"
)

// NewRouter sets up the API routes. Health and metrics stay public;
// everything under /api requires a valid embedded-app session token.
func NewRouter(
	apiKey, apiSecret string,
	connections *handlers.ConnectionHandler,
	syncs *handlers.SyncHandler,
	mappings *handlers.MappingHandler,
	schedules *handlers.ScheduleHandler,
	notifications *handlers.NotificationHandler,
) *mux.Router {
	router := mux.NewRouter()

	router.HandleFunc("/health", handlers.HealthCheck).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	api := router.PathPrefix("/api").Subrouter()
	api.Use(middleware.SessionTokenMiddleware(apiKey, apiSecret))

	api.HandleFunc("/connections", connections.List).Methods(http.MethodGet)
	api.HandleFunc("/connections", connections.Create).Methods(http.MethodPost)
	api.HandleFunc("/connections/{id}", connections.Get).Methods(http.MethodGet)
	api.HandleFunc("/connections/{id}", connections.Update).Methods(http.MethodPut)
	api.HandleFunc("/connections/{id}", connections.Delete).Methods(http.MethodDelete)
	api.HandleFunc("/connections/{id}/verify", connections.Verify).Methods(http.MethodPost)

	api.HandleFunc("/connections/{id}/sync/{syncType}", syncs.Trigger).Methods(http.MethodPost)
	api.HandleFunc("/sync/logs", syncs.ListLogs).Methods(http.MethodGet)
	api.HandleFunc("/sync/logs/{logID}", syncs.GetLog).Methods(http.MethodGet)

	api.HandleFunc("/connections/{id}/mappings/stats", mappings.Stats).Methods(http.MethodGet)
	api.HandleFunc("/connections/{id}/mappings", mappings.List).Methods(http.MethodGet)
	api.HandleFunc("/connections/{id}/mappings", mappings.DeleteByConnection).Methods(http.MethodDelete)
	api.HandleFunc("/connections/{id}/unmapped-references", mappings.ListUnmapped).Methods(http.MethodGet)
	api.HandleFunc("/unmapped-references/{refID}/resolve", mappings.ResolveUnmapped).Methods(http.MethodPost)

	api.HandleFunc("/connections/{id}/schedule", schedules.Get).Methods(http.MethodGet)
	api.HandleFunc("/connections/{id}/schedule", schedules.Upsert).Methods(http.MethodPut)
	api.HandleFunc("/connections/{id}/schedule", schedules.Delete).Methods(http.MethodDelete)
	api.HandleFunc("/connections/{id}/schedule/run-now", schedules.RunNow).Methods(http.MethodPost)

	api.HandleFunc("/notifications", notifications.List).Methods(http.MethodGet)
	api.HandleFunc("/notifications/{notificationID}/read", notifications.MarkRead).Methods(http.MethodPost)

	return router
}
