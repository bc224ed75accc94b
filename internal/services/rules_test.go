package services

import (
	"testing"

	"chatwise/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatchFirstRuleInCreationOrderWins(t *testing.T) {
	env := newTestEnv(t)
	tenant := env.connectTenant(t)

	env.addRule(t, tenant.ID, models.ChannelDM, "price", "A")
	env.addRule(t, tenant.ID, models.ChannelDM, "hi", "B")

	// Both patterns occur in the text; the older rule wins.
	rule, err := env.dispatcher.rules.Match(tenant.ID, models.ChannelDM, "hi, what is the price?")
	require.NoError(t, err)
	require.NotNil(t, rule)
	assert.Equal(t, "A", rule.ReplyText)
}

func TestMatchIsCaseInsensitiveSubstring(t *testing.T) {
	env := newTestEnv(t)
	tenant := env.connectTenant(t)

	env.addRule(t, tenant.ID, models.ChannelComment, "HELP", "support reply")

	rule, err := env.dispatcher.rules.Match(tenant.ID, models.ChannelComment, "i need help now")
	require.NoError(t, err)
	require.NotNil(t, rule)
	assert.Equal(t, "support reply", rule.ReplyText)
}

func TestMatchIgnoresDisabledAndOtherChannelRules(t *testing.T) {
	env := newTestEnv(t)
	tenant := env.connectTenant(t)

	disabled := env.addRule(t, tenant.ID, models.ChannelDM, "hello", "disabled reply")
	require.NoError(t, env.store.UpdateRule(tenant.ID, disabled.ID, map[string]interface{}{"enabled": false}))
	env.addRule(t, tenant.ID, models.ChannelComment, "hello", "comment reply")

	rule, err := env.dispatcher.rules.Match(tenant.ID, models.ChannelDM, "hello there")
	require.NoError(t, err)
	assert.Nil(t, rule)
}

func TestMatchNoRuleReturnsNil(t *testing.T) {
	env := newTestEnv(t)
	tenant := env.connectTenant(t)

	env.addRule(t, tenant.ID, models.ChannelDM, "shipping", "ships in 2 days")

	rule, err := env.dispatcher.rules.Match(tenant.ID, models.ChannelDM, "do you have this in red?")
	require.NoError(t, err)
	assert.Nil(t, rule)
}

func TestMatchSkipsEmptyPattern(t *testing.T) {
	env := newTestEnv(t)
	tenant := env.connectTenant(t)

	env.addRule(t, tenant.ID, models.ChannelDM, "   ", "never")
	env.addRule(t, tenant.ID, models.ChannelDM, "order", "order reply")

	rule, err := env.dispatcher.rules.Match(tenant.ID, models.ChannelDM, "where is my order")
	require.NoError(t, err)
	require.NotNil(t, rule)
	assert.Equal(t, "order reply", rule.ReplyText)
}
