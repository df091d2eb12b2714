package idempotency

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGenerator_GenerateKey(t *testing.T) {
	g := NewGenerator()

	params := map[string]interface{}{
		"subscription_id": "subs_01H",
		"period_start":    "2025-06-15T10:30:00Z",
	}

	key := g.GenerateKey(ScopeChargeRenewal, params)
	assert.NotEmpty(t, key)
	assert.Contains(t, key, string(ScopeChargeRenewal))

	t.Run("same_params_same_key", func(t *testing.T) {
		assert.Equal(t, key, g.GenerateKey(ScopeChargeRenewal, params))
	})

	t.Run("param_order_does_not_matter", func(t *testing.T) {
		reordered := map[string]interface{}{
			"period_start":    "2025-06-15T10:30:00Z",
			"subscription_id": "subs_01H",
		}
		assert.Equal(t, key, g.GenerateKey(ScopeChargeRenewal, reordered))
	})

	t.Run("different_params_different_key", func(t *testing.T) {
		other := g.GenerateKey(ScopeChargeRenewal, map[string]interface{}{
			"subscription_id": "subs_01H",
			"period_start":    "2025-07-15T10:30:00Z",
		})
		assert.NotEqual(t, key, other)
	})

	t.Run("different_scope_different_key", func(t *testing.T) {
		other := g.GenerateKey(ScopeRefundCancel, params)
		assert.NotEqual(t, key, other)
	})
}

func TestGenerator_ValidateKey(t *testing.T) {
	g := NewGenerator()
	params := map[string]interface{}{"downgrade_id": "down_01H"}

	key := g.GenerateKey(ScopeCreditDowngrade, params)
	assert.True(t, g.ValidateKey(ScopeCreditDowngrade, params, key))
	assert.False(t, g.ValidateKey(ScopeCreditDowngrade, params, "tampered"))
	assert.False(t, g.ValidateKey(ScopeChargeUpgrade, params, key))
}
