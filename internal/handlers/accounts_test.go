package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"testing"

	"chatwise/internal/db"
	"chatwise/internal/models"
	"chatwise/internal/store"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// subscribeGraph records subscription calls and fails them on demand.
type subscribeGraph struct {
	noopGraph
	mu           sync.Mutex
	pageCalls    []string
	accountCalls []string
	pageErr      error
	accountErr   error
}

func (g *subscribeGraph) SubscribePage(_ context.Context, pageID, _ string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.pageErr != nil {
		return g.pageErr
	}
	g.pageCalls = append(g.pageCalls, pageID)
	return nil
}

func (g *subscribeGraph) SubscribeAccount(_ context.Context, accountID, _ string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.accountErr != nil {
		return g.accountErr
	}
	g.accountCalls = append(g.accountCalls, accountID)
	return nil
}

func newSubscribeRouter(t *testing.T, fake *subscribeGraph) (*mux.Router, *store.Store) {
	t.Helper()

	conn, err := db.Open(fmt.Sprintf("file:subscribetest%d?mode=memory&cache=shared", testDBCounter.Add(1)))
	require.NoError(t, err)
	require.NoError(t, db.Migrate(conn, &models.Tenant{}, &models.InboundEvent{}, &models.ReplyRule{}))
	st, err := store.New(conn)
	require.NoError(t, err)

	accountHandler, err := NewAccountHandler(st, fake)
	require.NoError(t, err)

	router := mux.NewRouter()
	router.HandleFunc("/tenants/{tenantID}/subscribe", accountHandler.Subscribe).Methods(http.MethodPost)
	return router, st
}

func TestSubscribeIssuesPageAndAccountSubscriptions(t *testing.T) {
	fake := &subscribeGraph{}
	router, st := newSubscribeRouter(t, fake)
	tenant, err := st.ConnectTenant("auth-1", "ig-account-1", "page-1", "token-1", nil)
	require.NoError(t, err)

	rec := doRequest(router, http.MethodPost, fmt.Sprintf("/tenants/%d/subscribe", tenant.ID), "")
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, []string{"page-1"}, fake.pageCalls)
	assert.Equal(t, []string{"ig-account-1"}, fake.accountCalls)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "subscribed", body["status"])
	assert.Equal(t, "ok", body["account_subscription"])
}

func TestSubscribeToleratesAccountSubscriptionFailure(t *testing.T) {
	fake := &subscribeGraph{accountErr: fmt.Errorf("subscribed_apps not available")}
	router, st := newSubscribeRouter(t, fake)
	tenant, err := st.ConnectTenant("auth-1", "ig-account-1", "page-1", "token-1", nil)
	require.NoError(t, err)

	rec := doRequest(router, http.MethodPost, fmt.Sprintf("/tenants/%d/subscribe", tenant.ID), "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"page-1"}, fake.pageCalls)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "subscribed", body["status"])
	assert.Equal(t, "skipped", body["account_subscription"])
}

func TestSubscribeFailsOnPageSubscriptionError(t *testing.T) {
	fake := &subscribeGraph{pageErr: fmt.Errorf("provider error 190")}
	router, st := newSubscribeRouter(t, fake)
	tenant, err := st.ConnectTenant("auth-1", "ig-account-1", "page-1", "token-1", nil)
	require.NoError(t, err)

	rec := doRequest(router, http.MethodPost, fmt.Sprintf("/tenants/%d/subscribe", tenant.ID), "")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Empty(t, fake.accountCalls)
}

func TestSubscribeRequiresConnectedTenant(t *testing.T) {
	fake := &subscribeGraph{}
	router, st := newSubscribeRouter(t, fake)
	tenant, err := st.ConnectTenant("auth-1", "ig-account-1", "page-1", "token-1", nil)
	require.NoError(t, err)
	require.NoError(t, st.DisconnectTenant(tenant.ID))

	rec := doRequest(router, http.MethodPost, fmt.Sprintf("/tenants/%d/subscribe", tenant.ID), "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Empty(t, fake.pageCalls)
}
