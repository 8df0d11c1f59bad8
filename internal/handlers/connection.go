package handlers

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/feraraujofilho/prod-staging-sync-app-sub000/internal/models"
	"github.com/feraraujofilho/prod-staging-sync-app-sub000/internal/repository"
	"github.com/feraraujofilho/prod-staging-sync-app-sub000/internal/scheduler"
	"github.com/feraraujofilho/prod-staging-sync-app-sub000/internal/shopify"
	"github.com/feraraujofilho/prod-staging-sync-app-sub000/internal/utils"
)

const verifyTimeout = 15 * time.Second

type connectionRequest struct {
	Shop             string `json:"shop"`
	ProductionDomain string `json:"production_domain"`
	ProductionToken  string `json:"production_token"`
	StagingToken     string `json:"staging_token"`
	Environment      string `json:"environment"`
	Active           *bool  `json:"active"`
}

type ConnectionHandler struct {
	repo       repository.ConnectionRepository
	cipher     *utils.TokenCipher
	scheduler  *scheduler.Scheduler
	apiVersion string
	logger     zerolog.Logger

	// newClient is swapped in tests to point clients at a fake endpoint.
	newClient func(cfg shopify.ClientConfig) *shopify.Client
}

func NewConnectionHandler(repo repository.ConnectionRepository, cipher *utils.TokenCipher, sched *scheduler.Scheduler, apiVersion string, logger zerolog.Logger) *ConnectionHandler {
	return &ConnectionHandler{
		repo:       repo,
		cipher:     cipher,
		scheduler:  sched,
		apiVersion: apiVersion,
		logger:     logger.With().Str("handler", "connection").Logger(),
		newClient:  shopify.NewClient,
	}
}

func (h *ConnectionHandler) List(w http.ResponseWriter, r *http.Request) {
	connections, err := h.repo.List()
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to list connections")
		http.Error(w, "Failed to list connections: "+err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"connections": connections,
	})
}

func (h *ConnectionHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	conn, err := h.repo.Get(id)
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

	writeJSON(w, http.StatusOK, conn)
}

func (h *ConnectionHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req connectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request payload", http.StatusBadRequest)
		return
	}

	if req.Shop == "" {
		// The embedded app runs in the staging store, so the session shop
		// is the natural default.
		if shop, ok := shopFromRequest(r); ok {
			req.Shop = shop
		}
	}
	req.Shop = normalizeShopDomain(req.Shop)
	req.ProductionDomain = normalizeShopDomain(req.ProductionDomain)

	if req.Shop == "" || req.ProductionDomain == "" {
		http.Error(w, "Shop and production domain are required", http.StatusBadRequest)
		return
	}
	if req.ProductionToken == "" || req.StagingToken == "" {
		http.Error(w, "Production and staging access tokens are required", http.StatusBadRequest)
		return
	}
	if req.Environment == "" {
		req.Environment = models.EnvironmentStaging
	}
	if req.Environment != models.EnvironmentStaging && req.Environment != models.EnvironmentDevelopment {
		http.Error(w, "Environment must be staging or development", http.StatusBadRequest)
		return
	}

	productionToken, err := h.cipher.Encrypt(req.ProductionToken)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to encrypt production token")
		http.Error(w, "Failed to encrypt credentials", http.StatusInternalServerError)
		return
	}
	stagingToken, err := h.cipher.Encrypt(req.StagingToken)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to encrypt staging token")
		http.Error(w, "Failed to encrypt credentials", http.StatusInternalServerError)
		return
	}

	conn := &models.Connection{
		Shop:             req.Shop,
		ProductionDomain: req.ProductionDomain,
		Environment:      req.Environment,
		Active:           true,
	}
	if req.Active != nil {
		conn.Active = *req.Active
	}

	created, err := h.repo.Create(conn, productionToken, stagingToken)
	if err != nil {
		if errors.Is(err, repository.ErrDuplicateConnection) {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		h.logger.Error().Err(err).Str("shop", req.Shop).Msg("failed to create connection")
		http.Error(w, "Failed to create connection: "+err.Error(), http.StatusInternalServerError)
		return
	}

	h.logger.Info().Str("connection_id", created.ID).Str("shop", created.Shop).Msg("connection created")
	writeJSON(w, http.StatusCreated, created)
}

func (h *ConnectionHandler) Update(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req connectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request payload", http.StatusBadRequest)
		return
	}

	conn, err := h.repo.Get(id)
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

	if req.Shop != "" {
		conn.Shop = normalizeShopDomain(req.Shop)
	}
	if req.ProductionDomain != "" {
		conn.ProductionDomain = normalizeShopDomain(req.ProductionDomain)
	}
	if req.Environment != "" {
		if req.Environment != models.EnvironmentStaging && req.Environment != models.EnvironmentDevelopment {
			http.Error(w, "Environment must be staging or development", http.StatusBadRequest)
			return
		}
		conn.Environment = req.Environment
	}
	if req.Active != nil {
		conn.Active = *req.Active
	}

	// Tokens are replaced only when supplied; a nil ciphertext keeps the
	// stored one.
	if req.ProductionToken != "" || req.StagingToken != "" {
		var productionToken, stagingToken []byte
		if req.ProductionToken != "" {
			if productionToken, err = h.cipher.Encrypt(req.ProductionToken); err != nil {
				h.logger.Error().Err(err).Msg("failed to encrypt production token")
				http.Error(w, "Failed to encrypt credentials", http.StatusInternalServerError)
				return
			}
		}
		if req.StagingToken != "" {
			if stagingToken, err = h.cipher.Encrypt(req.StagingToken); err != nil {
				h.logger.Error().Err(err).Msg("failed to encrypt staging token")
				http.Error(w, "Failed to encrypt credentials", http.StatusInternalServerError)
				return
			}
		}
		if err := h.repo.UpdateTokens(id, productionToken, stagingToken); err != nil {
			h.logger.Error().Err(err).Str("connection_id", id).Msg("failed to update tokens")
			http.Error(w, "Failed to update credentials: "+err.Error(), http.StatusInternalServerError)
			return
		}
	}

	updated, err := h.repo.Update(conn)
	if err != nil {
		h.logger.Error().Err(err).Str("connection_id", id).Msg("failed to update connection")
		http.Error(w, "Failed to update connection: "+err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, updated)
}

func (h *ConnectionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	// Disarm the schedule timer first so a firing cannot race the delete.
	// Mappings, logs, schedule and notifications go with the row via
	// ON DELETE CASCADE.
	h.scheduler.Remove(id)

	if err := h.repo.Delete(id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			http.Error(w, "Connection not found", http.StatusNotFound)
			return
		}
		h.logger.Error().Err(err).Str("connection_id", id).Msg("failed to delete connection")
		http.Error(w, "Failed to delete connection: "+err.Error(), http.StatusInternalServerError)
		return
	}

	h.logger.Info().Str("connection_id", id).Msg("connection deleted")
	w.WriteHeader(http.StatusNoContent)
}

type storeCheck struct {
	Shop  string `json:"shop"`
	OK    bool   `json:"ok"`
	Name  string `json:"name,omitempty"`
	Error string `json:"error,omitempty"`
}

// Verify probes both stores with a minimal shop query so stale or revoked
// tokens surface before a sync is attempted.
func (h *ConnectionHandler) Verify(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	conn, err := h.repo.Get(id)
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

	productionCipher, stagingCipher, err := h.repo.Tokens(id)
	if err != nil {
		http.Error(w, "Failed to load credentials: "+err.Error(), http.StatusInternalServerError)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), verifyTimeout)
	defer cancel()

	production := h.probeStore(ctx, conn.ProductionDomain, productionCipher)
	staging := h.probeStore(ctx, conn.Shop, stagingCipher)

	status := http.StatusOK
	if !production.OK || !staging.OK {
		status = http.StatusBadGateway
	}
	writeJSON(w, status, map[string]interface{}{
		"production": production,
		"staging":    staging,
	})
}

func (h *ConnectionHandler) probeStore(ctx context.Context, shop string, tokenCipher []byte) storeCheck {
	check := storeCheck{Shop: shop}

	token, err := h.cipher.Decrypt(tokenCipher)
	if err != nil {
		check.Error = "stored access token cannot be decrypted, please re-enter credentials"
		return check
	}

	client := h.newClient(shopify.ClientConfig{
		Shop:        shop,
		AccessToken: string(token),
		APIVersion:  h.apiVersion,
		Logger:      h.logger,
	})

	var out struct {
		Shop struct {
			Name string `json:"name"`
		} `json:"shop"`
	}
	if err := client.Query(ctx, "query { shop { name } }", nil, &out); err != nil {
		check.Error = err.Error()
		return check
	}

	check.OK = true
	check.Name = out.Shop.Name
	return check
}

func normalizeShopDomain(shop string) string {
	shop = strings.TrimSpace(shop)
	shop = strings.TrimPrefix(shop, "https://")
	shop = strings.TrimPrefix(shop, "http://")
	return strings.TrimSuffix(shop, "/")
}
