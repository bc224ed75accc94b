package store

import (
	"errors"
	"fmt"
	"time"

	"chatwise/internal/models"

	"github.com/patrickmn/go-cache"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	tenantCacheTTL     = 5 * time.Minute
	tenantCacheCleanup = 10 * time.Minute
)

// Store wraps all Event Store access: tenants, inbound events and reply
// rules. Tenant resolution by account id is cached because the webhook path
// performs it on every delivery.
type Store struct {
	db      *gorm.DB
	tenants *cache.Cache
}

// New creates a Store on top of an initialized gorm connection.
func New(db *gorm.DB) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("database instance cannot be nil for Store")
	}
	return &Store{
		db:      db,
		tenants: cache.New(tenantCacheTTL, tenantCacheCleanup),
	}, nil
}

// DB exposes the underlying connection for migration wiring.
func (s *Store) DB() *gorm.DB { return s.db }

// ---- tenants ----

// TenantByAccountID resolves the owning tenant for a linked Instagram
// account id. It is a point lookup, cached for the webhook hot path.
// Returns (nil, nil) when no tenant owns the account.
func (s *Store) TenantByAccountID(accountID string) (*models.Tenant, error) {
	if accountID == "" {
		return nil, nil
	}
	if v, found := s.tenants.Get(accountID); found {
		t := v.(models.Tenant)
		return &t, nil
	}

	var tenant models.Tenant
	err := s.db.Where("instagram_account_id = ?", accountID).First(&tenant).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("tenant lookup by account id failed: %w", err)
	}

	s.tenants.Set(accountID, tenant, cache.DefaultExpiration)
	return &tenant, nil
}

// TenantByID fetches a tenant by primary key.
func (s *Store) TenantByID(id uint) (*models.Tenant, error) {
	var tenant models.Tenant
	err := s.db.First(&tenant, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("tenant lookup failed: %w", err)
	}
	return &tenant, nil
}

// TenantByAuthID fetches a tenant by its owner identity key.
func (s *Store) TenantByAuthID(authID string) (*models.Tenant, error) {
	var tenant models.Tenant
	err := s.db.Where("auth_id = ?", authID).First(&tenant).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("tenant lookup by auth id failed: %w", err)
	}
	return &tenant, nil
}

// ConnectTenant links an Instagram account to the tenant identified by
// authID, creating the tenant on first link.
func (s *Store) ConnectTenant(authID, accountID, pageID, accessToken string, expiresAt *time.Time) (*models.Tenant, error) {
	now := time.Now()

	tenant, err := s.TenantByAuthID(authID)
	if err != nil {
		return nil, err
	}
	if tenant == nil {
		tenant = &models.Tenant{
			AuthID:           authID,
			AutoReplyEnabled: true,
			RequireApproval:  true,
		}
	}

	// Invalidate a stale cache entry if the tenant is re-linking a
	// different account.
	if tenant.InstagramAccountID != "" {
		s.tenants.Delete(tenant.InstagramAccountID)
	}

	tenant.InstagramAccountID = accountID
	tenant.InstagramPageID = pageID
	tenant.AccessToken = accessToken
	tenant.ConnectedAt = &now
	tenant.TokenExpiresAt = expiresAt

	if err := s.db.Save(tenant).Error; err != nil {
		return nil, fmt.Errorf("failed to save tenant connection: %w", err)
	}
	s.tenants.Delete(accountID)
	return tenant, nil
}

// DisconnectTenant clears the tenant's credential fields. The row persists
// as the settings anchor; rules and events are untouched.
func (s *Store) DisconnectTenant(tenantID uint) error {
	tenant, err := s.TenantByID(tenantID)
	if err != nil {
		return err
	}
	if tenant == nil {
		return fmt.Errorf("tenant %d not found", tenantID)
	}
	if tenant.InstagramAccountID != "" {
		s.tenants.Delete(tenant.InstagramAccountID)
	}

	err = s.db.Model(&models.Tenant{}).Where("id = ?", tenantID).Updates(map[string]interface{}{
		"instagram_account_id": "",
		"instagram_page_id":    "",
		"access_token":         "",
		"connected_at":         nil,
		"token_expires_at":     nil,
	}).Error
	if err != nil {
		return fmt.Errorf("failed to disconnect tenant: %w", err)
	}
	return nil
}

// ---- inbound events ----

// CreateEventIfAbsent persists an inbound event unless one with the same
// (tenant, channel, external id) already exists. The insert-or-ignore runs
// against the unique index in one statement, so concurrent discovery of the
// same event (webhook redelivery, overlapping reconciler runs) cannot
// produce duplicates. Returns whether a row was created.
func (s *Store) CreateEventIfAbsent(event *models.InboundEvent) (bool, error) {
	if event.Status == "" {
		event.Status = models.StatusPending
	}
	if event.ReceivedAt.IsZero() {
		event.ReceivedAt = time.Now()
	}

	res := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "tenant_id"}, {Name: "channel"}, {Name: "external_id"}},
		DoNothing: true,
	}).Create(event)
	if res.Error != nil {
		return false, fmt.Errorf("failed to persist inbound event: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// EventByID fetches one event.
func (s *Store) EventByID(id uint) (*models.InboundEvent, error) {
	var event models.InboundEvent
	err := s.db.First(&event, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("event lookup failed: %w", err)
	}
	return &event, nil
}

// HasEvent reports whether an event with the given identity exists. The
// reconciler uses it to skip API-listed items cheaply; CreateEventIfAbsent
// remains the authoritative guard.
func (s *Store) HasEvent(tenantID uint, channel models.Channel, externalID string) (bool, error) {
	var count int64
	err := s.db.Model(&models.InboundEvent{}).
		Where("tenant_id = ? AND channel = ? AND external_id = ?", tenantID, channel, externalID).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("event existence check failed: %w", err)
	}
	return count > 0, nil
}

// markTerminal moves a pending event to a terminal status. The WHERE on the
// current status makes the transition a compare-and-swap: of two racing
// dispatch attempts only one applies, the other observes applied=false.
func (s *Store) markTerminal(eventID uint, status models.EventStatus, updates map[string]interface{}) (bool, error) {
	updates["status"] = status
	res := s.db.Model(&models.InboundEvent{}).
		Where("id = ? AND status = ?", eventID, models.StatusPending).
		Updates(updates)
	if res.Error != nil {
		return false, fmt.Errorf("failed to update event status: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// MarkSent records a successful reply.
func (s *Store) MarkSent(eventID uint, replyText string) (bool, error) {
	now := time.Now()
	return s.markTerminal(eventID, models.StatusSent, map[string]interface{}{
		"reply_text": replyText,
		"replied_at": &now,
	})
}

// MarkFailed records a rejected or timed-out send attempt.
func (s *Store) MarkFailed(eventID uint, replyText, sendErr string) (bool, error) {
	now := time.Now()
	return s.markTerminal(eventID, models.StatusFailed, map[string]interface{}{
		"reply_text":  replyText,
		"reply_error": sendErr,
		"replied_at":  &now,
	})
}

// MarkSkipped records an explicit non-send decision.
func (s *Store) MarkSkipped(eventID uint, reason string) (bool, error) {
	return s.markTerminal(eventID, models.StatusSkipped, map[string]interface{}{
		"reply_error": reason,
	})
}

// BackfillSenderName sets the resolved display name on an event. Enrichment
// only; it never touches the status.
func (s *Store) BackfillSenderName(eventID uint, name string) error {
	if name == "" {
		return nil
	}
	err := s.db.Model(&models.InboundEvent{}).
		Where("id = ?", eventID).
		Update("sender_name", name).Error
	if err != nil {
		return fmt.Errorf("failed to backfill sender name: %w", err)
	}
	return nil
}

// RecentEvents lists a tenant's newest events for one channel.
func (s *Store) RecentEvents(tenantID uint, channel models.Channel, limit int) ([]models.InboundEvent, error) {
	if limit <= 0 {
		limit = 20
	}
	var events []models.InboundEvent
	err := s.db.Where("tenant_id = ? AND channel = ?", tenantID, channel).
		Order("id desc").
		Limit(limit).
		Find(&events).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list recent events: %w", err)
	}
	return events, nil
}

// ---- reply rules ----

// EnabledRules returns the tenant's enabled rules for a channel in creation
// order. The ordering is part of the matching contract: first match wins.
func (s *Store) EnabledRules(tenantID uint, channel models.Channel) ([]models.ReplyRule, error) {
	var rules []models.ReplyRule
	err := s.db.Where("tenant_id = ? AND channel = ? AND enabled = ?", tenantID, channel, true).
		Order("id asc").
		Find(&rules).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load rules: %w", err)
	}
	return rules, nil
}

// ListRules returns all of a tenant's rules, optionally filtered by channel.
func (s *Store) ListRules(tenantID uint, channel models.Channel) ([]models.ReplyRule, error) {
	q := s.db.Where("tenant_id = ?", tenantID)
	if channel != "" {
		q = q.Where("channel = ?", channel)
	}
	var rules []models.ReplyRule
	if err := q.Order("id asc").Find(&rules).Error; err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	return rules, nil
}

// CreateRule persists a new rule.
func (s *Store) CreateRule(rule *models.ReplyRule) error {
	if err := s.db.Create(rule).Error; err != nil {
		return fmt.Errorf("failed to create rule: %w", err)
	}
	return nil
}

// UpdateRule applies a partial update to a tenant's rule.
func (s *Store) UpdateRule(tenantID, ruleID uint, updates map[string]interface{}) error {
	res := s.db.Model(&models.ReplyRule{}).
		Where("id = ? AND tenant_id = ?", ruleID, tenantID).
		Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("failed to update rule: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("rule %d not found for tenant %d", ruleID, tenantID)
	}
	return nil
}

// DeleteRule removes a tenant's rule.
func (s *Store) DeleteRule(tenantID, ruleID uint) error {
	res := s.db.Where("id = ? AND tenant_id = ?", ruleID, tenantID).Delete(&models.ReplyRule{})
	if res.Error != nil {
		return fmt.Errorf("failed to delete rule: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("rule %d not found for tenant %d", ruleID, tenantID)
	}
	return nil
}
