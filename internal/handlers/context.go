package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/feraraujofilho/prod-staging-sync-app-sub000/internal/middleware"
)

func shopFromRequest(r *http.Request) (string, bool) {
	return middleware.ShopFromContext(r.Context())
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}
