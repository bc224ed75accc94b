package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"chatwise/internal/adapters/graph"
	"chatwise/internal/store"

	"github.com/rs/zerolog/log"
)

// AccountHandler manages the tenant's Instagram account link: connecting
// credentials, tearing them down, checking status and subscribing the page
// to webhook deliveries.
type AccountHandler struct {
	store *store.Store
	graph graph.API
}

// NewAccountHandler creates an AccountHandler.
func NewAccountHandler(st *store.Store, api graph.API) (*AccountHandler, error) {
	if st == nil {
		return nil, fmt.Errorf("store cannot be nil for AccountHandler")
	}
	if api == nil {
		return nil, fmt.Errorf("graph API cannot be nil for AccountHandler")
	}
	return &AccountHandler{store: st, graph: api}, nil
}

type connectRequest struct {
	AuthID             string `json:"auth_id"`
	InstagramAccountID string `json:"instagram_account_id"`
	InstagramPageID    string `json:"instagram_page_id"`
	AccessToken        string `json:"access_token"`
	TokenExpiresIn     int64  `json:"token_expires_in"`
}

// Connect stores credentials for an account, creating the tenant on first
// contact. token_expires_in is seconds from now; zero means no known expiry.
func (h *AccountHandler) Connect(w http.ResponseWriter, r *http.Request) {
	var req connectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.AuthID == "" || req.InstagramAccountID == "" || req.AccessToken == "" {
		respondError(w, http.StatusBadRequest, "auth_id, instagram_account_id and access_token are required")
		return
	}

	var expiresAt *time.Time
	if req.TokenExpiresIn > 0 {
		t := time.Now().Add(time.Duration(req.TokenExpiresIn) * time.Second)
		expiresAt = &t
	}

	tenant, err := h.store.ConnectTenant(req.AuthID, req.InstagramAccountID, req.InstagramPageID, req.AccessToken, expiresAt)
	if err != nil {
		log.Error().Err(err).Str("authID", req.AuthID).Msg("Failed to connect account")
		respondError(w, http.StatusInternalServerError, "failed to connect account")
		return
	}

	log.Info().Uint("tenantID", tenant.ID).Str("accountID", tenant.InstagramAccountID).Msg("Account connected")
	respondJSON(w, http.StatusOK, tenant)
}

// Disconnect clears the tenant's credentials. The tenant row and its rules
// and events survive.
func (h *AccountHandler) Disconnect(w http.ResponseWriter, r *http.Request) {
	id, ok := tenantID(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid tenant id")
		return
	}

	if err := h.store.DisconnectTenant(id); err != nil {
		respondError(w, http.StatusNotFound, "tenant not found")
		return
	}

	log.Info().Uint("tenantID", id).Msg("Account disconnected")
	respondJSON(w, http.StatusOK, map[string]string{"status": "disconnected"})
}

// Status reports the tenant's connection state and settings.
func (h *AccountHandler) Status(w http.ResponseWriter, r *http.Request) {
	id, ok := tenantID(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid tenant id")
		return
	}

	tenant, err := h.store.TenantByID(id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load tenant")
		return
	}
	if tenant == nil {
		respondError(w, http.StatusNotFound, "tenant not found")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"connected":            tenant.Connected(),
		"instagram_account_id": tenant.InstagramAccountID,
		"instagram_page_id":    tenant.InstagramPageID,
		"connected_at":         tenant.ConnectedAt,
		"token_expires_at":     tenant.TokenExpiresAt,
		"auto_reply_enabled":   tenant.AutoReplyEnabled,
		"require_approval":     tenant.RequireApproval,
	})
}

// Subscribe registers the tenant's page for webhook field deliveries.
func (h *AccountHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	id, ok := tenantID(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid tenant id")
		return
	}

	tenant, err := h.store.TenantByID(id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load tenant")
		return
	}
	if tenant == nil || !tenant.Connected() {
		respondError(w, http.StatusConflict, "tenant is not connected")
		return
	}
	if tenant.InstagramPageID == "" {
		respondError(w, http.StatusConflict, "tenant has no page id")
		return
	}

	if err := h.graph.SubscribePage(r.Context(), tenant.InstagramPageID, tenant.AccessToken); err != nil {
		log.Error().Err(err).Uint("tenantID", id).Msg("Page subscription failed")
		respondError(w, http.StatusBadGateway, "page subscription failed")
		return
	}

	// The account-level subscription turns on comment deliveries. It is
	// unavailable for some app configurations, so a failure downgrades the
	// response instead of failing it; DM delivery is already in place.
	accountSubscription := "ok"
	if err := h.graph.SubscribeAccount(r.Context(), tenant.InstagramAccountID, tenant.AccessToken); err != nil {
		log.Warn().Err(err).Uint("tenantID", id).Str("accountID", tenant.InstagramAccountID).
			Msg("Account subscription for comment events failed, continuing")
		accountSubscription = "skipped"
	}

	log.Info().Uint("tenantID", id).Str("pageID", tenant.InstagramPageID).Msg("Page subscribed to webhook deliveries")
	respondJSON(w, http.StatusOK, map[string]string{
		"status":               "subscribed",
		"account_subscription": accountSubscription,
	})
}
