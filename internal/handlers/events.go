package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"time"

	"chatwise/internal/models"
	"chatwise/internal/services"
	"chatwise/internal/store"

	"github.com/rs/zerolog/log"
)

const defaultListLimit = 50

// EventHandler serves the read side of the pipeline (event listings,
// conversation groupings, dashboard stats) plus the two on-demand write
// paths: comment reconciliation and synthetic comment injection.
type EventHandler struct {
	store      *store.Store
	ingestor   *services.Ingestor
	reconciler *services.Reconciler
}

// NewEventHandler creates an EventHandler.
func NewEventHandler(st *store.Store, ingestor *services.Ingestor, reconciler *services.Reconciler) (*EventHandler, error) {
	if st == nil {
		return nil, fmt.Errorf("store cannot be nil for EventHandler")
	}
	if ingestor == nil {
		return nil, fmt.Errorf("ingestor cannot be nil for EventHandler")
	}
	if reconciler == nil {
		return nil, fmt.Errorf("reconciler cannot be nil for EventHandler")
	}
	return &EventHandler{store: st, ingestor: ingestor, reconciler: reconciler}, nil
}

func listLimit(r *http.Request) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultListLimit
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 || limit > 500 {
		return defaultListLimit
	}
	return limit
}

func (h *EventHandler) list(w http.ResponseWriter, r *http.Request, channel models.Channel, key string) {
	id, ok := tenantID(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid tenant id")
		return
	}

	events, err := h.store.RecentEvents(id, channel, listLimit(r))
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list events")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{key: events})
}

// ListMessages returns the tenant's most recent DMs, newest first.
func (h *EventHandler) ListMessages(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, models.ChannelDM, "messages")
}

// ListComments returns the tenant's most recent comments, newest first.
func (h *EventHandler) ListComments(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, models.ChannelComment, "comments")
}

// Conversation is the per-sender rollup of a tenant's DM traffic.
type Conversation struct {
	SenderID        string    `json:"sender_id"`
	SenderName      string    `json:"sender_name"`
	LastMessage     string    `json:"last_message"`
	LastMessageTime time.Time `json:"last_message_time"`
	MessageCount    int       `json:"message_count"`
	PendingCount    int       `json:"pending_count"`
}

// Conversations groups the tenant's recent DMs by sender, newest
// conversation first.
func (h *EventHandler) Conversations(w http.ResponseWriter, r *http.Request) {
	id, ok := tenantID(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid tenant id")
		return
	}

	events, err := h.store.RecentEvents(id, models.ChannelDM, 500)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load messages")
		return
	}

	// Events arrive newest first, so the first event seen for a sender is
	// that conversation's latest message.
	bySender := map[string]*Conversation{}
	var order []string
	for _, event := range events {
		conv, seen := bySender[event.SenderID]
		if !seen {
			conv = &Conversation{
				SenderID:        event.SenderID,
				SenderName:      event.SenderName,
				LastMessage:     event.Text,
				LastMessageTime: event.ReceivedAt,
			}
			bySender[event.SenderID] = conv
			order = append(order, event.SenderID)
		}
		conv.MessageCount++
		if event.Status == models.StatusPending {
			conv.PendingCount++
		}
		if conv.SenderName == "" || conv.SenderName == models.SenderNameUnresolved {
			conv.SenderName = event.SenderName
		}
	}

	conversations := make([]Conversation, 0, len(order))
	for _, senderID := range order {
		conversations = append(conversations, *bySender[senderID])
	}
	sort.SliceStable(conversations, func(i, j int) bool {
		return conversations[i].LastMessageTime.After(conversations[j].LastMessageTime)
	})

	respondJSON(w, http.StatusOK, map[string]interface{}{"conversations": conversations})
}

// Stats returns the tenant's dashboard counters.
func (h *EventHandler) Stats(w http.ResponseWriter, r *http.Request) {
	id, ok := tenantID(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid tenant id")
		return
	}

	stats, err := h.store.TenantStats(id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to compute stats")
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

// SyncComments runs comment reconciliation for the tenant and reports what
// it found.
func (h *EventHandler) SyncComments(w http.ResponseWriter, r *http.Request) {
	id, ok := tenantID(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid tenant id")
		return
	}

	result, err := h.reconciler.Run(r.Context(), id)
	if err != nil {
		log.Error().Err(err).Uint("tenantID", id).Msg("Comment reconciliation failed")
		switch {
		case errors.Is(err, services.ErrTenantNotFound):
			respondError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, services.ErrTenantNotConnected):
			respondError(w, http.StatusConflict, err.Error())
		default:
			respondError(w, http.StatusBadGateway, err.Error())
		}
		return
	}
	respondJSON(w, http.StatusOK, result)
}

type testCommentRequest struct {
	CommentID string `json:"comment_id"`
	MediaID   string `json:"media_id"`
	Text      string `json:"text"`
	FromID    string `json:"from_id"`
	FromName  string `json:"from_name"`
}

// InjectComment fabricates a comment callback and pushes it through the
// regular ingestion path, so dedup, rule matching and dispatch all behave
// exactly as they would for a real delivery.
func (h *EventHandler) InjectComment(w http.ResponseWriter, r *http.Request) {
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
	if tenant == nil || tenant.InstagramAccountID == "" {
		respondError(w, http.StatusConflict, "tenant has no linked account")
		return
	}

	var req testCommentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.Text == "" {
		respondError(w, http.StatusBadRequest, "text cannot be empty")
		return
	}
	if req.CommentID == "" {
		req.CommentID = fmt.Sprintf("test-comment-%d", time.Now().UnixNano())
	}
	if req.FromID == "" {
		req.FromID = "test-user"
	}

	payload := &services.WebhookPayload{
		Object: "instagram",
		Entry: []services.WebhookEntry{{
			ID:   tenant.InstagramAccountID,
			Time: time.Now().UnixMilli(),
			Changes: []services.ChangeEvent{{
				Field: "comments",
				Value: &services.ChangeValue{
					ID:   req.CommentID,
					Text: req.Text,
					From: &services.CommentAuthor{ID: req.FromID, Username: req.FromName},
					Media: &services.ChangeMedia{
						ID:    req.MediaID,
						Owner: &services.EventParty{ID: tenant.InstagramAccountID},
					},
				},
			}},
		}},
	}

	result := h.ingestor.ProcessCallback(payload)
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"comment_id": req.CommentID,
		"result":     result,
	})
}
