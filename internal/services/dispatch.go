package services

import (
	"context"
	"fmt"
	"time"

	"chatwise/internal/adapters/graph"
	"chatwise/internal/models"
	"chatwise/internal/queue"
	"chatwise/internal/store"

	"github.com/rs/zerolog/log"
)

// processTimeout bounds one full pipeline pass for an event, including the
// provider send and the best-effort name lookup.
const processTimeout = 30 * time.Second

// Dispatcher runs a persisted pending event through rule matching and the
// provider send, then records the terminal outcome. It performs no retries:
// a failed event stays failed until a caller re-invokes processing.
type Dispatcher struct {
	store     *store.Store
	rules     *RuleEngine
	graph     graph.API
	publisher *queue.Publisher
}

// NewDispatcher creates a Dispatcher. The publisher may be a disabled one
// but must not be nil.
func NewDispatcher(st *store.Store, rules *RuleEngine, api graph.API, publisher *queue.Publisher) (*Dispatcher, error) {
	if st == nil {
		return nil, fmt.Errorf("store cannot be nil for Dispatcher")
	}
	if rules == nil {
		return nil, fmt.Errorf("rule engine cannot be nil for Dispatcher")
	}
	if api == nil {
		return nil, fmt.Errorf("graph client cannot be nil for Dispatcher")
	}
	if publisher == nil {
		return nil, fmt.Errorf("publisher cannot be nil for Dispatcher")
	}
	return &Dispatcher{store: st, rules: rules, graph: api, publisher: publisher}, nil
}

// ProcessAsync hands the event off the caller's critical path. The webhook
// handler uses it so ingestion latency is decoupled from provider latency.
func (d *Dispatcher) ProcessAsync(eventID uint) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), processTimeout)
		defer cancel()
		d.Process(ctx, eventID)
	}()
}

// Process evaluates and dispatches one event. All outcomes are recorded on
// the event; nothing propagates to the caller. Re-invoking on an event that
// already reached a terminal status is a no-op.
func (d *Dispatcher) Process(ctx context.Context, eventID uint) {
	event, err := d.store.EventByID(eventID)
	if err != nil {
		log.Error().Err(err).Uint("eventID", eventID).Msg("Dispatch: failed to load event")
		return
	}
	if event == nil {
		log.Warn().Uint("eventID", eventID).Msg("Dispatch: event not found")
		return
	}
	if event.Status != models.StatusPending {
		log.Debug().Uint("eventID", eventID).Str("status", string(event.Status)).Msg("Dispatch: event already settled")
		return
	}

	tenant, err := d.store.TenantByID(event.TenantID)
	if err != nil {
		log.Error().Err(err).Uint("eventID", eventID).Msg("Dispatch: failed to load tenant")
		return
	}
	if tenant == nil || !tenant.Connected() {
		if applied, err := d.store.MarkSkipped(event.ID, "instagram credentials missing"); err != nil {
			log.Error().Err(err).Uint("eventID", event.ID).Msg("Dispatch: failed to mark event skipped")
		} else if applied {
			d.publishOutcome(event, models.StatusSkipped, "", "instagram credentials missing")
		}
		return
	}
	if !tenant.AutoReplyEnabled {
		// Auto-reply is off for this tenant; the event stays pending for
		// the manual surfaces to pick up.
		log.Debug().
			Uint("tenantID", tenant.ID).
			Uint("eventID", event.ID).
			Msg("Dispatch: auto-reply disabled for tenant, leaving event pending")
		return
	}

	rule, err := d.rules.Match(tenant.ID, event.Channel, event.Text)
	if err != nil {
		log.Error().Err(err).Uint("eventID", event.ID).Msg("Dispatch: rule matching failed")
		return
	}
	if rule == nil {
		log.Debug().
			Uint("tenantID", tenant.ID).
			Uint("eventID", event.ID).
			Str("channel", string(event.Channel)).
			Msg("Dispatch: no rule matched, leaving event pending")
		return
	}

	sendErr := d.send(ctx, tenant, event, rule.ReplyText)
	if sendErr != nil {
		if applied, err := d.store.MarkFailed(event.ID, rule.ReplyText, sendErr.Error()); err != nil {
			log.Error().Err(err).Uint("eventID", event.ID).Msg("Dispatch: failed to mark event failed")
		} else if applied {
			log.Warn().
				Err(sendErr).
				Uint("tenantID", tenant.ID).
				Uint("eventID", event.ID).
				Uint("ruleID", rule.ID).
				Msg("Dispatch: reply send failed")
			d.publishOutcome(event, models.StatusFailed, rule.ReplyText, sendErr.Error())
		}
	} else {
		if applied, err := d.store.MarkSent(event.ID, rule.ReplyText); err != nil {
			log.Error().Err(err).Uint("eventID", event.ID).Msg("Dispatch: failed to mark event sent")
		} else if applied {
			log.Info().
				Uint("tenantID", tenant.ID).
				Uint("eventID", event.ID).
				Uint("ruleID", rule.ID).
				Str("channel", string(event.Channel)).
				Msg("Dispatch: reply sent")
			d.publishOutcome(event, models.StatusSent, rule.ReplyText, "")
		}
	}

	// Enrichment only; never affects the send outcome.
	d.backfillSenderName(ctx, tenant, event)
}

func (d *Dispatcher) send(ctx context.Context, tenant *models.Tenant, event *models.InboundEvent, text string) error {
	switch event.Channel {
	case models.ChannelDM:
		return d.graph.SendDirectReply(ctx, tenant.InstagramAccountID, event.SenderID, text, tenant.AccessToken)
	case models.ChannelComment:
		return d.graph.SendCommentReply(ctx, event.ExternalID, text, tenant.AccessToken)
	default:
		return fmt.Errorf("unknown channel %q", event.Channel)
	}
}

func (d *Dispatcher) backfillSenderName(ctx context.Context, tenant *models.Tenant, event *models.InboundEvent) {
	if event.Channel != models.ChannelDM {
		return
	}
	if event.SenderName != "" && event.SenderName != models.SenderNameUnresolved {
		return
	}
	if event.SenderID == "" {
		return
	}

	name, err := d.graph.LookupDisplayName(ctx, event.SenderID, tenant.AccessToken)
	if err != nil {
		log.Debug().Err(err).Uint("eventID", event.ID).Str("senderID", event.SenderID).Msg("Sender name lookup failed")
		return
	}
	if err := d.store.BackfillSenderName(event.ID, name); err != nil {
		log.Error().Err(err).Uint("eventID", event.ID).Msg("Failed to store backfilled sender name")
	}
}

func (d *Dispatcher) publishOutcome(event *models.InboundEvent, status models.EventStatus, replyText, replyErr string) {
	d.publisher.PublishOutcome(queue.Outcome{
		EventID:    event.ID,
		TenantID:   event.TenantID,
		Channel:    event.Channel,
		ExternalID: event.ExternalID,
		Status:     status,
		ReplyText:  replyText,
		ReplyError: replyErr,
	})
}
