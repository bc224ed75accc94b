package store

import (
	"fmt"
	"math"

	"chatwise/internal/models"
)

// DashboardStats aggregates a tenant's pipeline outcomes.
type DashboardStats struct {
	TotalComments       int64 `json:"total_comments"`
	TotalMessages       int64 `json:"total_messages"`
	CommentResponseRate int   `json:"comment_response_rate"`
	MessageResponseRate int   `json:"message_response_rate"`
	AvgResponseTimeSecs int   `json:"avg_response_time_secs"`
	SuccessRate         int   `json:"success_rate"`
}

// TenantStats computes per-tenant dashboard aggregates over all events.
func (s *Store) TenantStats(tenantID uint) (*DashboardStats, error) {
	var events []models.InboundEvent
	if err := s.db.Where("tenant_id = ?", tenantID).Find(&events).Error; err != nil {
		return nil, fmt.Errorf("failed to load events for stats: %w", err)
	}

	stats := &DashboardStats{}
	var sentComments, sentMessages, attempted, succeeded int64
	var responseSecs float64
	var responded int

	for _, ev := range events {
		switch ev.Channel {
		case models.ChannelComment:
			stats.TotalComments++
			if ev.Status == models.StatusSent {
				sentComments++
			}
		case models.ChannelDM:
			stats.TotalMessages++
			if ev.Status == models.StatusSent {
				sentMessages++
			}
		}

		if ev.Status == models.StatusSent || ev.Status == models.StatusFailed {
			attempted++
		}
		if ev.Status == models.StatusSent {
			succeeded++
			if ev.RepliedAt != nil && !ev.ReceivedAt.IsZero() {
				responseSecs += ev.RepliedAt.Sub(ev.ReceivedAt).Seconds()
				responded++
			}
		}
	}

	stats.CommentResponseRate = rate(sentComments, stats.TotalComments)
	stats.MessageResponseRate = rate(sentMessages, stats.TotalMessages)
	stats.SuccessRate = rate(succeeded, attempted)
	if responded > 0 {
		stats.AvgResponseTimeSecs = int(math.Round(responseSecs / float64(responded)))
	}
	return stats, nil
}

func rate(part, total int64) int {
	if total == 0 {
		return 0
	}
	return int(math.Round(float64(part) / float64(total) * 100))
}
