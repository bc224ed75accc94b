package services

import (
	"fmt"
	"strings"

	"chatwise/internal/models"
	"chatwise/internal/store"
)

// RuleEngine selects at most one reply rule for an inbound event.
type RuleEngine struct {
	store *store.Store
}

// NewRuleEngine creates a RuleEngine.
func NewRuleEngine(st *store.Store) (*RuleEngine, error) {
	if st == nil {
		return nil, fmt.Errorf("store cannot be nil for RuleEngine")
	}
	return &RuleEngine{store: st}, nil
}

// Match returns the first enabled rule, in creation order, whose pattern is
// a case-insensitive substring of text. No match returns (nil, nil); that is
// an expected outcome, not an error.
func (e *RuleEngine) Match(tenantID uint, channel models.Channel, text string) (*models.ReplyRule, error) {
	rules, err := e.store.EnabledRules(tenantID, channel)
	if err != nil {
		return nil, err
	}

	lowered := strings.ToLower(text)
	for i := range rules {
		pattern := strings.ToLower(strings.TrimSpace(rules[i].Pattern))
		if pattern == "" {
			continue
		}
		if strings.Contains(lowered, pattern) {
			return &rules[i], nil
		}
	}
	return nil, nil
}
