package services

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"chatwise/internal/adapters/graph"
	"chatwise/internal/db"
	"chatwise/internal/models"
	"chatwise/internal/queue"
	"chatwise/internal/store"

	"github.com/stretchr/testify/require"
)

// fakeGraph is an in-memory provider double. Zero value succeeds on every
// call; the err fields force failures per operation.
type fakeGraph struct {
	mu sync.Mutex

	dmReplies      []string
	commentReplies []string

	sendDMErr      error
	sendCommentErr error

	displayNames map[string]string
	lookupErr    error

	media    []graph.Media
	comments map[string][]graph.Comment
	mediaErr error
}

func (f *fakeGraph) SendDirectReply(_ context.Context, accountID, recipientID, text, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendDMErr != nil {
		return f.sendDMErr
	}
	f.dmReplies = append(f.dmReplies, fmt.Sprintf("%s->%s:%s", accountID, recipientID, text))
	return nil
}

func (f *fakeGraph) SendCommentReply(_ context.Context, commentID, text, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendCommentErr != nil {
		return f.sendCommentErr
	}
	f.commentReplies = append(f.commentReplies, fmt.Sprintf("%s:%s", commentID, text))
	return nil
}

func (f *fakeGraph) LookupDisplayName(_ context.Context, userID, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.lookupErr != nil {
		return "", f.lookupErr
	}
	if name, ok := f.displayNames[userID]; ok {
		return name, nil
	}
	return "", fmt.Errorf("user %s not found", userID)
}

func (f *fakeGraph) ListRecentMedia(_ context.Context, _ string, limit int, _ string) ([]graph.Media, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.mediaErr != nil {
		return nil, f.mediaErr
	}
	if limit > 0 && limit < len(f.media) {
		return f.media[:limit], nil
	}
	return f.media, nil
}

func (f *fakeGraph) ListComments(_ context.Context, mediaID, _ string) ([]graph.Comment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.comments[mediaID], nil
}

func (f *fakeGraph) SubscribePage(_ context.Context, _, _ string) error {
	return nil
}

func (f *fakeGraph) SubscribeAccount(_ context.Context, _, _ string) error {
	return nil
}

func (f *fakeGraph) dmSendCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.dmReplies)
}

func (f *fakeGraph) commentSendCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.commentReplies)
}

// testEnv wires a full pipeline against an in-memory database and a fake
// provider.
type testEnv struct {
	store      *store.Store
	graph      *fakeGraph
	dispatcher *Dispatcher
	ingestor   *Ingestor
	reconciler *Reconciler
}

var testDBCounter atomic.Int64

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	// A uniquely named shared in-memory database: every connection in
	// gorm's pool must see the same data.
	conn, err := db.Open(fmt.Sprintf("file:servicestest%d?mode=memory&cache=shared", testDBCounter.Add(1)))
	require.NoError(t, err)
	require.NoError(t, db.Migrate(conn, &models.Tenant{}, &models.InboundEvent{}, &models.ReplyRule{}))
	st, err := store.New(conn)
	require.NoError(t, err)

	fg := &fakeGraph{displayNames: map[string]string{}, comments: map[string][]graph.Comment{}}

	rules, err := NewRuleEngine(st)
	require.NoError(t, err)
	dispatcher, err := NewDispatcher(st, rules, fg, queue.NewPublisher("", "test"))
	require.NoError(t, err)
	ingestor, err := NewIngestor(st, dispatcher)
	require.NoError(t, err)
	reconciler, err := NewReconciler(st, fg, dispatcher, 5)
	require.NoError(t, err)

	return &testEnv{store: st, graph: fg, dispatcher: dispatcher, ingestor: ingestor, reconciler: reconciler}
}

func (e *testEnv) connectTenant(t *testing.T) *models.Tenant {
	t.Helper()
	tenant, err := e.store.ConnectTenant("auth-1", "ig-account-1", "page-1", "token-1", nil)
	require.NoError(t, err)
	return tenant
}

func (e *testEnv) addRule(t *testing.T, tenantID uint, channel models.Channel, pattern, reply string) *models.ReplyRule {
	t.Helper()
	rule := &models.ReplyRule{
		TenantID:  tenantID,
		Channel:   channel,
		Pattern:   pattern,
		ReplyText: reply,
		Enabled:   true,
	}
	require.NoError(t, e.store.CreateRule(rule))
	return rule
}

func (e *testEnv) createEvent(t *testing.T, tenantID uint, channel models.Channel, externalID, text string) *models.InboundEvent {
	t.Helper()
	event := &models.InboundEvent{
		TenantID:   tenantID,
		Channel:    channel,
		ExternalID: externalID,
		SenderID:   "commenter-1",
		SenderName: models.SenderNameUnresolved,
		Text:       text,
	}
	created, err := e.store.CreateEventIfAbsent(event)
	require.NoError(t, err)
	require.True(t, created)
	return event
}
