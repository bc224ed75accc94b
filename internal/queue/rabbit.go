package queue

import (
	"encoding/json"
	"time"

	"chatwise/internal/models"

	"github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"
)

// Publisher pushes terminal event outcomes to RabbitMQ for downstream
// consumers. Publishing is best-effort and entirely optional: with no URL
// configured the publisher is disabled and every call is a no-op.
type Publisher struct {
	conn    *amqp091.Connection
	channel *amqp091.Channel
	queue   string
	enabled bool
}

// Outcome is the message shape published on every terminal transition.
type Outcome struct {
	EventID    uint               `json:"event_id"`
	TenantID   uint               `json:"tenant_id"`
	Channel    models.Channel     `json:"channel"`
	ExternalID string             `json:"external_id"`
	Status     models.EventStatus `json:"status"`
	ReplyText  string             `json:"reply_text,omitempty"`
	ReplyError string             `json:"reply_error,omitempty"`
	Timestamp  time.Time          `json:"timestamp"`
}

// NewPublisher connects to RabbitMQ. An empty URL returns a disabled
// publisher rather than an error; a failed connection likewise disables
// publishing so the pipeline keeps running.
func NewPublisher(url, queueName string) *Publisher {
	p := &Publisher{queue: queueName}
	if url == "" {
		log.Info().Msg("RABBITMQ_URL is not set. Outcome publishing disabled.")
		return p
	}

	conn, err := amqp091.Dial(url)
	if err != nil {
		log.Error().Err(err).Msg("Could not connect to RabbitMQ, outcome publishing disabled")
		return p
	}
	channel, err := conn.Channel()
	if err != nil {
		log.Error().Err(err).Msg("Could not open RabbitMQ channel, outcome publishing disabled")
		_ = conn.Close()
		return p
	}

	p.conn = conn
	p.channel = channel
	p.enabled = true
	log.Info().Str("queue", queueName).Msg("RabbitMQ connection established")
	return p
}

// PublishOutcome publishes one terminal transition. Failures are logged and
// swallowed; the event's recorded status is the source of truth.
func (p *Publisher) PublishOutcome(outcome Outcome) {
	if !p.enabled {
		return
	}
	if outcome.Timestamp.IsZero() {
		outcome.Timestamp = time.Now()
	}

	body, err := json.Marshal(outcome)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal outcome for RabbitMQ")
		return
	}

	// Declare is idempotent.
	if _, err := p.channel.QueueDeclare(p.queue, true, false, false, false, nil); err != nil {
		log.Error().Err(err).Str("queue", p.queue).Msg("Could not declare RabbitMQ queue")
		return
	}

	err = p.channel.Publish("", p.queue, false, false, amqp091.Publishing{
		ContentType: "application/json",
		Body:        body,
	})
	if err != nil {
		log.Error().Err(err).Str("queue", p.queue).Msg("Could not publish outcome to RabbitMQ")
		return
	}
	log.Debug().
		Uint("eventID", outcome.EventID).
		Str("status", string(outcome.Status)).
		Str("queue", p.queue).
		Msg("Published outcome to RabbitMQ")
}

// Close tears down the connection.
func (p *Publisher) Close() {
	if !p.enabled {
		return
	}
	_ = p.channel.Close()
	_ = p.conn.Close()
}
