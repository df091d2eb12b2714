package idempotency

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// Scope represents the scope of idempotency
type Scope string

const (
	// ScopeChargeRenewal keys the charge of one renewal by subscription and
	// period start, so replaying a renewal cannot bill twice
	ScopeChargeRenewal Scope = "charge_renewal"

	// ScopeChargeUpgrade keys the prorated charge by upgrade record
	ScopeChargeUpgrade Scope = "charge_upgrade"

	// ScopeChargeConversion keys the first paid charge of a converted trial
	ScopeChargeConversion Scope = "charge_conversion"

	// ScopeRefundCancel keys the cancellation refund by subscription
	ScopeRefundCancel Scope = "refund_cancel"

	// ScopeCreditDowngrade keys the credit by downgrade record, making the
	// downgrade sweep's credit exactly once per downgrade
	ScopeCreditDowngrade Scope = "credit_downgrade"
)

// Generator generates idempotency keys
type Generator struct{}

// NewGenerator creates a new idempotency key generator
func NewGenerator() *Generator {
	return &Generator{}
}

// GenerateKey generates an idempotency key from a scope and parameters
func (g *Generator) GenerateKey(scope Scope, params map[string]interface{}) string {
	// Sort params for consistent hashing
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(string(scope))
	for _, k := range keys {
		b.WriteString(fmt.Sprintf(":%s=%v", k, params[k]))
	}

	hash := sha256.Sum256([]byte(b.String()))
	return fmt.Sprintf("%s-%s", scope, hex.EncodeToString(hash[:8]))
}

// ValidateKey validates if an idempotency key matches expected parameters
func (g *Generator) ValidateKey(scope Scope, params map[string]interface{}, key string) bool {
	generated := g.GenerateKey(scope, params)
	return generated == key
}
