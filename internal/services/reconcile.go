package services

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"chatwise/internal/adapters/graph"
	"chatwise/internal/models"
	"chatwise/internal/store"

	"github.com/rs/zerolog/log"
)

// Sentinel errors callers use to distinguish a bad target from a bad state.
var (
	ErrTenantNotFound     = errors.New("tenant not found")
	ErrTenantNotConnected = errors.New("tenant has no instagram credentials")
)

// maxCommentRunes is the provider's caption length ceiling. A "comment"
// longer than this is the parent caption leaking through the comments edge,
// not a real comment.
const maxCommentRunes = 2200

// Reconciler is the pull-based fallback for missed webhook deliveries. It
// lists recent media and their comments from the provider, skips everything
// the Event Store already knows, and feeds new items through the same
// dispatch path the webhook uses. Safe to re-run with overlapping windows.
type Reconciler struct {
	store      *store.Store
	graph      graph.API
	dispatcher *Dispatcher
	window     int
}

// ReconcileResult summarizes one reconciliation run.
type ReconcileResult struct {
	MediaScanned  int `json:"media_scanned"`
	CommentsSeen  int `json:"comments_seen"`
	Created       int `json:"created"`
	AlreadyKnown  int `json:"already_known"`
	Excluded      int `json:"excluded"`
	MediaFailures int `json:"media_failures"`
}

// NewReconciler creates a Reconciler scanning the given number of most
// recent media items per run.
func NewReconciler(st *store.Store, api graph.API, dispatcher *Dispatcher, window int) (*Reconciler, error) {
	if st == nil {
		return nil, fmt.Errorf("store cannot be nil for Reconciler")
	}
	if api == nil {
		return nil, fmt.Errorf("graph client cannot be nil for Reconciler")
	}
	if dispatcher == nil {
		return nil, fmt.Errorf("dispatcher cannot be nil for Reconciler")
	}
	if window <= 0 {
		window = 5
	}
	return &Reconciler{store: st, graph: api, dispatcher: dispatcher, window: window}, nil
}

// Run reconciles one tenant. Failures on one media item never stop the
// remaining items.
func (r *Reconciler) Run(ctx context.Context, tenantID uint) (*ReconcileResult, error) {
	tenant, err := r.store.TenantByID(tenantID)
	if err != nil {
		return nil, err
	}
	if tenant == nil {
		return nil, fmt.Errorf("tenant %d: %w", tenantID, ErrTenantNotFound)
	}
	if !tenant.Connected() {
		return nil, fmt.Errorf("tenant %d: %w", tenantID, ErrTenantNotConnected)
	}

	media, err := r.graph.ListRecentMedia(ctx, tenant.InstagramAccountID, r.window, tenant.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to list recent media: %w", err)
	}

	result := &ReconcileResult{}
	for _, item := range media {
		result.MediaScanned++
		if err := r.reconcileMedia(ctx, tenant, item, result); err != nil {
			log.Warn().Err(err).Uint("tenantID", tenant.ID).Str("mediaID", item.ID).Msg("Reconcile: media item failed, continuing")
			result.MediaFailures++
		}
	}

	log.Info().
		Uint("tenantID", tenant.ID).
		Int("mediaScanned", result.MediaScanned).
		Int("commentsSeen", result.CommentsSeen).
		Int("created", result.Created).
		Int("alreadyKnown", result.AlreadyKnown).
		Int("excluded", result.Excluded).
		Msg("Reconciliation run complete")
	return result, nil
}

func (r *Reconciler) reconcileMedia(ctx context.Context, tenant *models.Tenant, item graph.Media, result *ReconcileResult) error {
	comments, err := r.graph.ListComments(ctx, item.ID, tenant.AccessToken)
	if err != nil {
		return err
	}

	for _, comment := range comments {
		result.CommentsSeen++

		if !r.isRealComment(tenant, item, comment) {
			result.Excluded++
			continue
		}

		known, err := r.store.HasEvent(tenant.ID, models.ChannelComment, comment.ID)
		if err != nil {
			log.Error().Err(err).Str("commentID", comment.ID).Msg("Reconcile: existence check failed")
			continue
		}
		if known {
			result.AlreadyKnown++
			continue
		}

		senderName := comment.AuthorName()
		if senderName == "" {
			senderName = models.SenderNameUnresolved
		}
		event := &models.InboundEvent{
			TenantID:   tenant.ID,
			Channel:    models.ChannelComment,
			ExternalID: comment.ID,
			SenderID:   comment.AuthorID(),
			SenderName: senderName,
			ParentID:   item.ID,
			Text:       comment.Text,
			ReceivedAt: time.Now(),
		}

		// A concurrent run or a late webhook may have raced us past the
		// existence check; the unique index settles it.
		created, err := r.store.CreateEventIfAbsent(event)
		if err != nil {
			log.Error().Err(err).Str("commentID", comment.ID).Msg("Reconcile: failed to persist event")
			continue
		}
		if !created {
			result.AlreadyKnown++
			continue
		}

		result.Created++
		log.Info().
			Uint("tenantID", tenant.ID).
			Uint("eventID", event.ID).
			Str("commentID", comment.ID).
			Str("mediaID", item.ID).
			Msg("Reconcile: recovered missed comment")

		r.dispatcher.Process(ctx, event.ID)
	}
	return nil
}

// isRealComment filters out items the comments edge returns that are not
// actual audience comments: the parent caption echoed back, implausibly
// long texts, and the tenant's own replies.
func (r *Reconciler) isRealComment(tenant *models.Tenant, item graph.Media, comment graph.Comment) bool {
	if comment.ID == "" || comment.Text == "" {
		return false
	}
	if comment.Text == item.Caption {
		return false
	}
	if utf8.RuneCountInString(comment.Text) > maxCommentRunes {
		return false
	}
	if comment.AuthorID() != "" && comment.AuthorID() == tenant.InstagramAccountID {
		return false
	}
	return true
}
