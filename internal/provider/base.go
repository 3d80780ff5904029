package provider

import (
	"sort"

	"github.com/seaquant/marketd/internal/ratelimit"
)

// Base provides common functionality for provider implementations.
// Embed this in concrete providers to get naming, capability checks
// and rate budget accounting for free.
type Base struct {
	name    string
	caps    CapabilitySet
	limiter *ratelimit.Limiter
}

// NewBase creates a base provider with a fixed capability set.
func NewBase(name string, limiter *ratelimit.Limiter, caps ...DataType) Base {
	return Base{
		name:    name,
		caps:    NewCapabilitySet(caps...),
		limiter: limiter,
	}
}

func (b *Base) Name() string { return b.name }

func (b *Base) Capabilities() []DataType { return b.caps.List() }

func (b *Base) Supports(dt DataType) bool { return b.caps.Has(dt) }

// AcquireKey returns the next key with remaining budget, or
// *RateLimitedError when every key is exhausted.
func (b *Base) AcquireKey() (string, error) {
	key, ok := b.limiter.NextAvailableKey(b.name)
	if !ok {
		return "", &RateLimitedError{Provider: b.name}
	}
	return key, nil
}

// Spend records one request against key. Called on every attempt,
// successful or not; a failed upstream call still bills against the
// provider's quota.
func (b *Base) Spend(key string) {
	b.limiter.Consume(b.name, key)
}

// CacheKey builds a deterministic cache key from a data type and query
// parameters.
func CacheKey(dt DataType, params Params) string {
	key := string(dt)
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		key += ":" + k + "=" + params[k]
	}
	return key
}
