// Package ratelimit tracks per-provider, per-key request budgets over
// rolling minute and fixed daily windows, and picks the next usable
// key when a provider holds several.
//
// The limiter is an explicit object owned by whoever builds the
// provider set; there is no process-wide instance. The clock is
// injected so window behavior is testable without sleeping.
package ratelimit

import (
	"sync"
	"time"
)

// Clock supplies the current time. Production code uses SystemClock;
// tests inject a fake.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock returns a Clock backed by time.Now.
func SystemClock() Clock { return systemClock{} }

// WindowKind distinguishes the two budget window types.
type WindowKind string

const (
	// PerMinute is a rolling window anchored at the first consume in
	// the window, not at calendar-minute boundaries. Anchoring at first
	// use spreads resets across clients instead of herding them onto
	// minute edges.
	PerMinute WindowKind = "minute"
	// PerDay resets at a fixed configured hour in a fixed timezone,
	// matching how upstream providers meter daily quotas.
	PerDay WindowKind = "day"
)

// KeyConfig declares one credential slot and its limits. A zero limit
// means the dimension is unmetered.
type KeyConfig struct {
	Key       string
	PerMinute int
	PerDay    int
}

// KeyUsage is a read-only snapshot of one key's budgets.
type KeyUsage struct {
	Key        string `json:"key"`
	MinuteUsed int    `json:"minute_used"`
	MinuteCap  int    `json:"minute_cap"`
	DayUsed    int    `json:"day_used"`
	DayCap     int    `json:"day_cap"`
	Usable     bool   `json:"usable"`
}

type budget struct {
	kind        WindowKind
	limit       int
	used        int
	windowStart time.Time
}

type keyState struct {
	key     string
	mu      sync.Mutex
	budgets []*budget
}

// Limiter answers "can this key issue a request right now" and records
// usage. Budget mutation is serialized per key, so concurrent facade
// calls cannot double-spend.
type Limiter struct {
	clock     Clock
	resetHour int
	loc       *time.Location

	mu        sync.RWMutex
	providers map[string][]*keyState
}

// New creates a limiter. resetHour is the local hour (0-23) at which
// daily windows roll over in loc.
func New(clock Clock, resetHour int, loc *time.Location) *Limiter {
	if clock == nil {
		clock = SystemClock()
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Limiter{
		clock:     clock,
		resetHour: resetHour,
		loc:       loc,
		providers: make(map[string][]*keyState),
	}
}

// RegisterProvider declares a provider's keys in rotation order.
// Registration replaces any previous configuration for the provider.
func (l *Limiter) RegisterProvider(name string, keys ...KeyConfig) {
	states := make([]*keyState, 0, len(keys))
	for _, kc := range keys {
		ks := &keyState{key: kc.Key}
		if kc.PerMinute > 0 {
			ks.budgets = append(ks.budgets, &budget{kind: PerMinute, limit: kc.PerMinute})
		}
		if kc.PerDay > 0 {
			ks.budgets = append(ks.budgets, &budget{kind: PerDay, limit: kc.PerDay})
		}
		states = append(states, ks)
	}
	l.mu.Lock()
	l.providers[name] = states
	l.mu.Unlock()
}

// CanConsume reports whether key of provider has budget for one more
// request right now. Expired windows are reset before the check.
func (l *Limiter) CanConsume(provider, key string) bool {
	ks := l.keyState(provider, key)
	if ks == nil {
		return false
	}
	ks.mu.Lock()
	defer ks.mu.Unlock()
	return l.usableLocked(ks)
}

// Consume records one request against key of provider. When the key
// has no budget the call is a silent no-op: callers are expected to
// check CanConsume (or use NextAvailableKey) first; there is no
// implicit queuing.
func (l *Limiter) Consume(provider, key string) {
	ks := l.keyState(provider, key)
	if ks == nil {
		return
	}
	ks.mu.Lock()
	defer ks.mu.Unlock()
	if !l.usableLocked(ks) {
		return
	}
	now := l.clock.Now()
	for _, b := range ks.budgets {
		if b.used == 0 {
			b.windowStart = l.windowAnchor(b.kind, now)
		}
		b.used++
	}
}

// NextAvailableKey returns the first key, in configured rotation
// order, that can consume right now.
func (l *Limiter) NextAvailableKey(provider string) (string, bool) {
	l.mu.RLock()
	states := l.providers[provider]
	l.mu.RUnlock()
	for _, ks := range states {
		ks.mu.Lock()
		ok := l.usableLocked(ks)
		ks.mu.Unlock()
		if ok {
			return ks.key, true
		}
	}
	return "", false
}

// Snapshot reports current usage for every registered key. Intended
// for the status surfaces, not for admission decisions.
func (l *Limiter) Snapshot() map[string][]KeyUsage {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make(map[string][]KeyUsage, len(l.providers))
	for name, states := range l.providers {
		usages := make([]KeyUsage, 0, len(states))
		for _, ks := range states {
			ks.mu.Lock()
			u := KeyUsage{Key: redact(ks.key), Usable: l.usableLocked(ks)}
			for _, b := range ks.budgets {
				switch b.kind {
				case PerMinute:
					u.MinuteUsed, u.MinuteCap = b.used, b.limit
				case PerDay:
					u.DayUsed, u.DayCap = b.used, b.limit
				}
			}
			ks.mu.Unlock()
			usages = append(usages, u)
		}
		out[name] = usages
	}
	return out
}

func (l *Limiter) keyState(provider, key string) *keyState {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, ks := range l.providers[provider] {
		if ks.key == key {
			return ks
		}
	}
	return nil
}

// usableLocked resets expired windows, then reports headroom across
// all budgets. Caller holds ks.mu.
func (l *Limiter) usableLocked(ks *keyState) bool {
	now := l.clock.Now()
	for _, b := range ks.budgets {
		if b.used > 0 && l.expired(b, now) {
			b.used = 0
			b.windowStart = time.Time{}
		}
		if b.used >= b.limit {
			return false
		}
	}
	return true
}

func (l *Limiter) expired(b *budget, now time.Time) bool {
	switch b.kind {
	case PerMinute:
		return now.Sub(b.windowStart) >= time.Minute
	case PerDay:
		return !now.Before(b.windowStart.Add(24 * time.Hour))
	}
	return false
}

// windowAnchor returns the start time for a fresh window beginning at
// now: the instant itself for minute windows, the most recent daily
// reset boundary for day windows.
func (l *Limiter) windowAnchor(kind WindowKind, now time.Time) time.Time {
	if kind == PerMinute {
		return now
	}
	local := now.In(l.loc)
	boundary := time.Date(local.Year(), local.Month(), local.Day(), l.resetHour, 0, 0, 0, l.loc)
	if local.Before(boundary) {
		boundary = boundary.AddDate(0, 0, -1)
	}
	return boundary
}

// redact keeps only a key prefix for status output.
func redact(key string) string {
	if len(key) <= 8 {
		return key
	}
	return key[:8] + "..."
}
