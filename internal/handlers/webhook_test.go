package handlers

import (
	"net/http"
	"testing"

	"chatwise/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebhookVerificationEchoesChallenge(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := doRequest(router, http.MethodGet,
		"/webhooks/instagram?hub.mode=subscribe&hub.verify_token="+testVerifyToken+"&hub.challenge=12345", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "12345", rec.Body.String())
}

func TestWebhookVerificationRejectsBadToken(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := doRequest(router, http.MethodGet,
		"/webhooks/instagram?hub.mode=subscribe&hub.verify_token=wrong&hub.challenge=12345", "")

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.NotContains(t, rec.Body.String(), "12345")
}

func TestWebhookVerificationRejectsWrongMode(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := doRequest(router, http.MethodGet,
		"/webhooks/instagram?hub.mode=unsubscribe&hub.verify_token="+testVerifyToken+"&hub.challenge=12345", "")

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestWebhookReceiveAcknowledgesAndPersists(t *testing.T) {
	router, st := newTestRouter(t)
	tenant, err := st.ConnectTenant("auth-1", "ig-account-1", "page-1", "token-1", nil)
	require.NoError(t, err)

	body := `{
		"object": "instagram",
		"entry": [{
			"id": "ig-account-1",
			"time": 1700000000000,
			"messaging": [{
				"sender": {"id": "customer-1"},
				"recipient": {"id": "ig-account-1"},
				"timestamp": 1700000000000,
				"message": {"mid": "mid-1", "text": "hello"}
			}]
		}]
	}`
	rec := doRequest(router, http.MethodPost, "/webhooks/instagram", body)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "EVENT_RECEIVED", rec.Body.String())

	events, err := st.RecentEvents(tenant.ID, models.ChannelDM, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "mid-1", events[0].ExternalID)
}

func TestWebhookReceiveRejectsMalformedJSON(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := doRequest(router, http.MethodPost, "/webhooks/instagram", "{not json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWebhookReceiveIsIdempotentAcrossRedeliveries(t *testing.T) {
	router, st := newTestRouter(t)
	tenant, err := st.ConnectTenant("auth-1", "ig-account-1", "page-1", "token-1", nil)
	require.NoError(t, err)

	body := `{
		"object": "instagram",
		"entry": [{
			"id": "ig-account-1",
			"changes": [{
				"field": "comments",
				"value": {"id": "c-1", "text": "nice", "from": {"id": "fan-1", "username": "fan"}}
			}]
		}]
	}`
	first := doRequest(router, http.MethodPost, "/webhooks/instagram", body)
	second := doRequest(router, http.MethodPost, "/webhooks/instagram", body)

	assert.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, http.StatusOK, second.Code)

	events, err := st.RecentEvents(tenant.ID, models.ChannelComment, 10)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}
