package services

import (
	"fmt"
	"time"

	"chatwise/internal/models"
	"chatwise/internal/store"

	"github.com/rs/zerolog/log"
)

// WebhookPayload is the provider callback body. Only the fields the
// pipeline consumes are typed; everything else is ignored.
type WebhookPayload struct {
	Object string         `json:"object"`
	Entry  []WebhookEntry `json:"entry"`
}

// WebhookEntry is one account's batch inside a callback. An entry may carry
// messaging events, content-change events, both, or neither.
type WebhookEntry struct {
	ID        string           `json:"id"`
	Time      int64            `json:"time"`
	Messaging []MessagingEvent `json:"messaging"`
	Changes   []ChangeEvent    `json:"changes"`
}

// MessagingEvent is one DM-side event. Delivery receipts and read events
// arrive in the same shape without a message body.
type MessagingEvent struct {
	Sender    *EventParty     `json:"sender"`
	Recipient *EventParty     `json:"recipient"`
	Timestamp int64           `json:"timestamp"`
	Message   *MessageContent `json:"message"`
}

// MessageContent is the text body of a DM event. Receipts and read events
// omit it.
type MessageContent struct {
	MID  string `json:"mid"`
	Text string `json:"text"`
}

// EventParty identifies one side of a messaging event.
type EventParty struct {
	ID string `json:"id"`
}

// ChangeEvent is one content-change notification.
type ChangeEvent struct {
	Field string       `json:"field"`
	Value *ChangeValue `json:"value"`
}

// ChangeValue is the comment payload of a change. The provider labels the
// field "comments" or "live_comments" depending on the content type; both
// carry this shape and are treated identically.
type ChangeValue struct {
	ID    string         `json:"id"`
	Text  string         `json:"text"`
	From  *CommentAuthor `json:"from"`
	Media *ChangeMedia   `json:"media"`
}

// CommentAuthor identifies the commenter.
type CommentAuthor struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// ChangeMedia identifies the post a comment belongs to. Owner, when
// present, is the authoritative account attribution for the event.
type ChangeMedia struct {
	ID    string      `json:"id"`
	Owner *EventParty `json:"owner"`
}

func isCommentField(field string) bool {
	return field == "comments" || field == "live_comments"
}

// IngestResult summarizes one callback's processing.
type IngestResult struct {
	Created    int `json:"created"`
	Duplicates int `json:"duplicates"`
	Skipped    int `json:"skipped"`
}

// Ingestor turns provider callbacks into pending inbound events and hands
// each new event to the dispatcher off the ingestion path.
type Ingestor struct {
	store      *store.Store
	dispatcher *Dispatcher
}

// NewIngestor creates an Ingestor.
func NewIngestor(st *store.Store, dispatcher *Dispatcher) (*Ingestor, error) {
	if st == nil {
		return nil, fmt.Errorf("store cannot be nil for Ingestor")
	}
	if dispatcher == nil {
		return nil, fmt.Errorf("dispatcher cannot be nil for Ingestor")
	}
	return &Ingestor{store: st, dispatcher: dispatcher}, nil
}

// ProcessCallback walks every entry of a callback. A malformed or
// unattributable entry is skipped and logged; it never stops its siblings.
// Redelivery of an already-seen event is a silent no-op.
func (i *Ingestor) ProcessCallback(payload *WebhookPayload) IngestResult {
	var result IngestResult
	if payload == nil || payload.Object != "instagram" {
		log.Debug().Msg("Ingest: callback is not an instagram payload, ignoring")
		return result
	}

	for idx := range payload.Entry {
		entry := &payload.Entry[idx]
		i.ingestMessaging(entry, &result)
		i.ingestChanges(entry, &result)
	}

	log.Info().
		Int("created", result.Created).
		Int("duplicates", result.Duplicates).
		Int("skipped", result.Skipped).
		Msg("Webhook callback ingested")
	return result
}

func (i *Ingestor) ingestMessaging(entry *WebhookEntry, result *IngestResult) {
	for _, ev := range entry.Messaging {
		// Receipts and echoes have no sender/recipient pair or no text.
		if ev.Sender == nil || ev.Recipient == nil || ev.Message == nil || ev.Message.Text == "" {
			result.Skipped++
			continue
		}
		if ev.Message.MID == "" {
			log.Debug().Str("entry", entry.ID).Msg("Ingest: messaging event without message id, skipping")
			result.Skipped++
			continue
		}

		tenant, err := i.store.TenantByAccountID(ev.Recipient.ID)
		if err != nil {
			log.Error().Err(err).Str("recipientID", ev.Recipient.ID).Msg("Ingest: tenant resolution failed")
			result.Skipped++
			continue
		}
		if tenant == nil {
			// Expected steady state: events for accounts not using us.
			result.Skipped++
			continue
		}

		event := &models.InboundEvent{
			TenantID:   tenant.ID,
			Channel:    models.ChannelDM,
			ExternalID: ev.Message.MID,
			SenderID:   ev.Sender.ID,
			SenderName: models.SenderNameUnresolved,
			ParentID:   ev.Recipient.ID,
			Text:       ev.Message.Text,
			ReceivedAt: receivedAt(ev.Timestamp),
		}
		i.persistAndDispatch(event, result)
	}
}

func (i *Ingestor) ingestChanges(entry *WebhookEntry, result *IngestResult) {
	for _, change := range entry.Changes {
		if !isCommentField(change.Field) || change.Value == nil {
			result.Skipped++
			continue
		}
		v := change.Value
		if v.ID == "" || v.Text == "" {
			log.Debug().Str("entry", entry.ID).Str("field", change.Field).Msg("Ingest: comment change missing id or text, skipping")
			result.Skipped++
			continue
		}

		// The content owner id is authoritative; the entry id is the
		// fallback attribution.
		ownerID := entry.ID
		if v.Media != nil && v.Media.Owner != nil && v.Media.Owner.ID != "" {
			ownerID = v.Media.Owner.ID
		}

		tenant, err := i.store.TenantByAccountID(ownerID)
		if err != nil {
			log.Error().Err(err).Str("ownerID", ownerID).Msg("Ingest: tenant resolution failed")
			result.Skipped++
			continue
		}
		if tenant == nil {
			result.Skipped++
			continue
		}

		event := &models.InboundEvent{
			TenantID:   tenant.ID,
			Channel:    models.ChannelComment,
			ExternalID: v.ID,
			Text:       v.Text,
			ReceivedAt: receivedAt(entry.Time),
		}
		if v.From != nil {
			event.SenderID = v.From.ID
			event.SenderName = v.From.Username
		}
		if event.SenderName == "" {
			event.SenderName = models.SenderNameUnresolved
		}
		if v.Media != nil {
			event.ParentID = v.Media.ID
		}
		i.persistAndDispatch(event, result)
	}
}

func (i *Ingestor) persistAndDispatch(event *models.InboundEvent, result *IngestResult) {
	created, err := i.store.CreateEventIfAbsent(event)
	if err != nil {
		log.Error().
			Err(err).
			Uint("tenantID", event.TenantID).
			Str("channel", string(event.Channel)).
			Str("externalID", event.ExternalID).
			Msg("Ingest: failed to persist event")
		result.Skipped++
		return
	}
	if !created {
		log.Debug().
			Uint("tenantID", event.TenantID).
			Str("externalID", event.ExternalID).
			Msg("Ingest: event already known, redelivery ignored")
		result.Duplicates++
		return
	}

	result.Created++
	log.Info().
		Uint("tenantID", event.TenantID).
		Uint("eventID", event.ID).
		Str("channel", string(event.Channel)).
		Str("externalID", event.ExternalID).
		Msg("Inbound event persisted")

	// Off the ingestion path: the webhook response must not wait on the
	// provider send.
	i.dispatcher.ProcessAsync(event.ID)
}

// millisEpochFloor separates the provider's two timestamp units: entry-level
// times are unix seconds, messaging timestamps are unix milliseconds. Any
// millisecond value is above this; any second value stays below it until the
// year 33658.
const millisEpochFloor = int64(1e12)

func receivedAt(ts int64) time.Time {
	if ts <= 0 {
		return time.Now()
	}
	if ts < millisEpochFloor {
		return time.Unix(ts, 0)
	}
	return time.UnixMilli(ts)
}
