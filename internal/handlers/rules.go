package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"chatwise/internal/models"
	"chatwise/internal/store"

	"github.com/gorilla/mux"
)

// RuleHandler exposes CRUD over a tenant's auto-reply rules.
type RuleHandler struct {
	store *store.Store
}

// NewRuleHandler creates a RuleHandler.
func NewRuleHandler(st *store.Store) (*RuleHandler, error) {
	if st == nil {
		return nil, fmt.Errorf("store cannot be nil for RuleHandler")
	}
	return &RuleHandler{store: st}, nil
}

type ruleRequest struct {
	Channel   string `json:"channel"`
	Pattern   string `json:"pattern"`
	ReplyText string `json:"reply_text"`
	Enabled   *bool  `json:"enabled"`
}

func parseChannel(raw string) (models.Channel, error) {
	switch models.Channel(strings.ToLower(raw)) {
	case models.ChannelDM:
		return models.ChannelDM, nil
	case models.ChannelComment:
		return models.ChannelComment, nil
	default:
		return "", fmt.Errorf("channel must be %q or %q", models.ChannelDM, models.ChannelComment)
	}
}

// List returns the tenant's rules, optionally filtered by ?channel=.
func (h *RuleHandler) List(w http.ResponseWriter, r *http.Request) {
	id, ok := tenantID(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid tenant id")
		return
	}

	var channel models.Channel
	if raw := r.URL.Query().Get("channel"); raw != "" {
		parsed, err := parseChannel(raw)
		if err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		channel = parsed
	}

	rules, err := h.store.ListRules(id, channel)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list rules")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"rules": rules})
}

// Create adds a rule for the tenant.
func (h *RuleHandler) Create(w http.ResponseWriter, r *http.Request) {
	id, ok := tenantID(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid tenant id")
		return
	}

	var req ruleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid json")
		return
	}
	channel, err := parseChannel(req.Channel)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Pattern) == "" {
		respondError(w, http.StatusBadRequest, "pattern cannot be empty")
		return
	}
	if strings.TrimSpace(req.ReplyText) == "" {
		respondError(w, http.StatusBadRequest, "reply_text cannot be empty")
		return
	}

	rule := &models.ReplyRule{
		TenantID:  id,
		Channel:   channel,
		Pattern:   req.Pattern,
		ReplyText: req.ReplyText,
		Enabled:   true,
	}
	if req.Enabled != nil {
		rule.Enabled = *req.Enabled
	}
	if err := h.store.CreateRule(rule); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to create rule")
		return
	}
	respondJSON(w, http.StatusCreated, rule)
}

// Update applies a partial update to one of the tenant's rules.
func (h *RuleHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := tenantID(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid tenant id")
		return
	}
	ruleID, err := strconv.ParseUint(mux.Vars(r)["ruleID"], 10, 32)
	if err != nil || ruleID == 0 {
		respondError(w, http.StatusBadRequest, "invalid rule id")
		return
	}

	var req ruleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid json")
		return
	}

	updates := map[string]interface{}{}
	if req.Pattern != "" {
		updates["pattern"] = req.Pattern
	}
	if req.ReplyText != "" {
		updates["reply_text"] = req.ReplyText
	}
	if req.Enabled != nil {
		updates["enabled"] = *req.Enabled
	}
	if len(updates) == 0 {
		respondError(w, http.StatusBadRequest, "nothing to update")
		return
	}

	if err := h.store.UpdateRule(id, uint(ruleID), updates); err != nil {
		respondError(w, http.StatusNotFound, "rule not found")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

// Delete removes one of the tenant's rules.
func (h *RuleHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := tenantID(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid tenant id")
		return
	}
	ruleID, err := strconv.ParseUint(mux.Vars(r)["ruleID"], 10, 32)
	if err != nil || ruleID == 0 {
		respondError(w, http.StatusBadRequest, "invalid rule id")
		return
	}

	if err := h.store.DeleteRule(id, uint(ruleID)); err != nil {
		respondError(w, http.StatusNotFound, "rule not found")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}
