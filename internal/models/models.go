package models

import (
	"time"
)

// Channel discriminates the two inbound event categories. Each channel
// carries an independent rule set.
type Channel string

const (
	ChannelDM      Channel = "dm"
	ChannelComment Channel = "comment"
)

// EventStatus is the reply lifecycle of an inbound event.
//
// Events are created pending and moved to exactly one terminal status by the
// dispatcher. An event matching no rule stays pending. skipped records an
// explicit non-send decision (tenant missing credentials) and is distinct
// from failed (send attempted, rejected).
type EventStatus string

const (
	StatusPending EventStatus = "pending"
	StatusSent    EventStatus = "sent"
	StatusFailed  EventStatus = "failed"
	StatusSkipped EventStatus = "skipped"
)

// Tenant is one connected Instagram business account and its settings.
// Created on first successful account link. Disconnecting clears the
// credential fields but keeps the row as the tenant's settings anchor.
type Tenant struct {
	ID     uint   `gorm:"primaryKey" json:"id"`
	AuthID string `gorm:"uniqueIndex;not null" json:"auth_id"`
	Name   string `json:"name"`
	Email  string `json:"email"`

	InstagramAccountID string     `gorm:"index" json:"instagram_account_id"`
	InstagramPageID    string     `json:"instagram_page_id"`
	AccessToken        string     `json:"-"`
	ConnectedAt        *time.Time `json:"connected_at"`
	TokenExpiresAt     *time.Time `json:"token_expires_at"`

	AutoReplyEnabled bool `gorm:"default:true" json:"auto_reply_enabled"`
	RequireApproval  bool `json:"require_approval"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Connected reports whether the tenant currently has usable credentials.
func (t *Tenant) Connected() bool {
	return t.InstagramAccountID != "" && t.AccessToken != ""
}

// InboundEvent is a persisted DM or comment. DMs and comments share one
// shape; Channel discriminates them.
//
// The composite unique index enforces at most one event per
// (tenant, channel, external id); both the webhook path and the reconciler
// rely on an insert-or-ignore against it rather than a check-then-insert.
type InboundEvent struct {
	ID         uint        `gorm:"primaryKey" json:"id"`
	TenantID   uint        `gorm:"not null;uniqueIndex:idx_event_identity" json:"tenant_id"`
	Channel    Channel     `gorm:"not null;uniqueIndex:idx_event_identity" json:"channel"`
	ExternalID string      `gorm:"not null;uniqueIndex:idx_event_identity" json:"external_id"`
	SenderID   string      `gorm:"index" json:"sender_id"`
	SenderName string      `json:"sender_name"`
	ParentID   string      `json:"parent_id"`
	Text       string      `gorm:"type:text" json:"text"`
	Status     EventStatus `gorm:"index;not null;default:'pending'" json:"status"`
	ReplyText  string      `gorm:"type:text" json:"reply_text"`
	ReplyError string      `gorm:"type:text" json:"reply_error"`
	RepliedAt  *time.Time  `json:"replied_at"`
	ReceivedAt time.Time   `json:"received_at"`
	CreatedAt  time.Time   `json:"created_at"`
	UpdatedAt  time.Time   `json:"updated_at"`
}

// SenderNameUnresolved marks a sender whose display name has not been
// backfilled yet.
const SenderNameUnresolved = "unknown"

// ReplyRule is a tenant's auto-reply configuration for one channel: a
// case-insensitive substring pattern and the reply to send when it matches.
// Rules are evaluated in creation order; the first match wins.
type ReplyRule struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	TenantID  uint      `gorm:"not null;index" json:"tenant_id"`
	Channel   Channel   `gorm:"not null;index" json:"channel"`
	Pattern   string    `gorm:"not null" json:"pattern"`
	ReplyText string    `gorm:"type:text;not null" json:"reply_text"`
	Enabled   bool      `gorm:"default:true" json:"enabled"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
