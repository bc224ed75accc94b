package handlers

import (
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"

	"chatwise/internal/services"

	"github.com/rs/zerolog/log"
)

// WebhookHandler terminates the provider's webhook endpoint: the GET
// verification handshake and the POST event deliveries.
type WebhookHandler struct {
	ingestor    *services.Ingestor
	verifyToken string
}

// NewWebhookHandler creates a WebhookHandler.
func NewWebhookHandler(ingestor *services.Ingestor, verifyToken string) (*WebhookHandler, error) {
	if ingestor == nil {
		return nil, fmt.Errorf("ingestor cannot be nil for WebhookHandler")
	}
	if verifyToken == "" {
		return nil, fmt.Errorf("verify token cannot be empty for WebhookHandler")
	}
	return &WebhookHandler{ingestor: ingestor, verifyToken: verifyToken}, nil
}

// Handle dispatches on method: GET is the verification handshake, POST is
// an event delivery.
func (h *WebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.verify(w, r)
	case http.MethodPost:
		h.receive(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// verify echoes hub.challenge when the shared verify token matches.
func (h *WebhookHandler) verify(w http.ResponseWriter, r *http.Request) {
	mode := r.URL.Query().Get("hub.mode")
	token := r.URL.Query().Get("hub.verify_token")
	challenge := r.URL.Query().Get("hub.challenge")

	if mode == "subscribe" && subtle.ConstantTimeCompare([]byte(token), []byte(h.verifyToken)) == 1 && challenge != "" {
		log.Info().Msg("Webhook verification handshake accepted")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(challenge))
		return
	}

	log.Warn().Str("mode", mode).Msg("Webhook verification handshake rejected")
	respondError(w, http.StatusForbidden, "verification failed")
}

// receive ingests one callback. Success is reported as soon as the events
// are durably persisted; dispatch happens off this path, so the response
// never waits on the provider API and processing errors never surface here.
func (h *WebhookHandler) receive(w http.ResponseWriter, r *http.Request) {
	var payload services.WebhookPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		log.Warn().Err(err).Msg("Webhook body is not valid JSON")
		respondError(w, http.StatusBadRequest, "invalid json")
		return
	}

	h.ingestor.ProcessCallback(&payload)

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("EVENT_RECEIVED"))
}
