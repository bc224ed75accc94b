package handlers

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"chatwise/internal/adapters/graph"
	"chatwise/internal/db"
	"chatwise/internal/models"
	"chatwise/internal/queue"
	"chatwise/internal/services"
	"chatwise/internal/store"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/require"
)

const testVerifyToken = "test_verify_token"

// noopGraph satisfies the provider interface without doing anything.
type noopGraph struct{}

func (noopGraph) SendDirectReply(context.Context, string, string, string, string) error { return nil }
func (noopGraph) SendCommentReply(context.Context, string, string, string) error        { return nil }
func (noopGraph) LookupDisplayName(context.Context, string, string) (string, error) {
	return "someone", nil
}
func (noopGraph) ListRecentMedia(context.Context, string, int, string) ([]graph.Media, error) {
	return nil, nil
}
func (noopGraph) ListComments(context.Context, string, string) ([]graph.Comment, error) {
	return nil, nil
}
func (noopGraph) SubscribePage(context.Context, string, string) error    { return nil }
func (noopGraph) SubscribeAccount(context.Context, string, string) error { return nil }

var testDBCounter atomic.Int64

func newTestRouter(t *testing.T) (*mux.Router, *store.Store) {
	t.Helper()

	// A uniquely named shared in-memory database: every connection in
	// gorm's pool must see the same data.
	conn, err := db.Open(fmt.Sprintf("file:handlerstest%d?mode=memory&cache=shared", testDBCounter.Add(1)))
	require.NoError(t, err)
	require.NoError(t, db.Migrate(conn, &models.Tenant{}, &models.InboundEvent{}, &models.ReplyRule{}))
	st, err := store.New(conn)
	require.NoError(t, err)

	rules, err := services.NewRuleEngine(st)
	require.NoError(t, err)
	dispatcher, err := services.NewDispatcher(st, rules, noopGraph{}, queue.NewPublisher("", "test"))
	require.NoError(t, err)
	ingestor, err := services.NewIngestor(st, dispatcher)
	require.NoError(t, err)
	reconciler, err := services.NewReconciler(st, noopGraph{}, dispatcher, 5)
	require.NoError(t, err)

	webhookHandler, err := NewWebhookHandler(ingestor, testVerifyToken)
	require.NoError(t, err)
	ruleHandler, err := NewRuleHandler(st)
	require.NoError(t, err)
	accountHandler, err := NewAccountHandler(st, noopGraph{})
	require.NoError(t, err)
	eventHandler, err := NewEventHandler(st, ingestor, reconciler)
	require.NoError(t, err)

	router := mux.NewRouter()
	router.HandleFunc("/webhooks/instagram", webhookHandler.Handle)
	router.HandleFunc("/accounts/connect", accountHandler.Connect).Methods(http.MethodPost)
	tenants := router.PathPrefix("/tenants/{tenantID}").Subrouter()
	tenants.HandleFunc("/disconnect", accountHandler.Disconnect).Methods(http.MethodPost)
	tenants.HandleFunc("/status", accountHandler.Status).Methods(http.MethodGet)
	tenants.HandleFunc("/rules", ruleHandler.List).Methods(http.MethodGet)
	tenants.HandleFunc("/rules", ruleHandler.Create).Methods(http.MethodPost)
	tenants.HandleFunc("/rules/{ruleID}", ruleHandler.Update).Methods(http.MethodPatch)
	tenants.HandleFunc("/rules/{ruleID}", ruleHandler.Delete).Methods(http.MethodDelete)
	tenants.HandleFunc("/messages", eventHandler.ListMessages).Methods(http.MethodGet)
	tenants.HandleFunc("/stats", eventHandler.Stats).Methods(http.MethodGet)
	tenants.HandleFunc("/sync-comments", eventHandler.SyncComments).Methods(http.MethodPost)

	return router, st
}

func doRequest(router *mux.Router, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}
