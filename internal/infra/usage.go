package infra

import (
	"sync"
	"time"
)

// TierUsage is the request/token accounting for one model tier (primary,
// secondary, tertiary) since the tracker was created or last reset.
type TierUsage struct {
	Tier          string
	RequestCount  int64
	TokensUsed    int64
	LastRequestAt time.Time
}

// UsageSummary is a snapshot across all tiers that have made at least one
// request, suitable for serializing straight to a diagnostics endpoint.
type UsageSummary struct {
	UpdatedAt time.Time
	Tiers     []TierUsage
}

// Provider returns usage for a specific tier name ("primary", "secondary",
// "tertiary"). The name mirrors the failover spec's tierSpec.name.
func (s *UsageSummary) Provider(tier string) (*TierUsage, bool) {
	for i := range s.Tiers {
		if s.Tiers[i].Tier == tier {
			return &s.Tiers[i], true
		}
	}
	return nil, false
}

// UsageTracker accumulates per-tier token usage recorded by the
// orchestrator's fallback cascade. One tracker is owned by each
// Orchestrator instance.
type UsageTracker struct {
	mu    sync.RWMutex
	tiers map[string]*tierTracker
}

type tierTracker struct {
	requestCount  int64
	tokensUsed    int64
	lastRequestAt time.Time
}

// NewUsageTracker creates an empty tracker.
func NewUsageTracker() *UsageTracker {
	return &UsageTracker{tiers: make(map[string]*tierTracker)}
}

// RecordRequest records one successful model call against tier, adding
// tokens (input + output) to its running total.
func (t *UsageTracker) RecordRequest(tier string, tokens int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	p, ok := t.tiers[tier]
	if !ok {
		p = &tierTracker{}
		t.tiers[tier] = p
	}
	p.requestCount++
	p.tokensUsed += tokens
	p.lastRequestAt = time.Now()
}

// Summary returns the current usage snapshot across all tiers that have
// recorded at least one request.
func (t *UsageTracker) Summary() *UsageSummary {
	t.mu.RLock()
	defer t.mu.RUnlock()

	summary := &UsageSummary{
		UpdatedAt: time.Now(),
		Tiers:     make([]TierUsage, 0, len(t.tiers)),
	}
	for tier, p := range t.tiers {
		summary.Tiers = append(summary.Tiers, TierUsage{
			Tier:          tier,
			RequestCount:  p.requestCount,
			TokensUsed:    p.tokensUsed,
			LastRequestAt: p.lastRequestAt,
		})
	}
	return summary
}

// Reset clears all recorded usage.
func (t *UsageTracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tiers = make(map[string]*tierTracker)
}
