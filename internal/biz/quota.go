package biz

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"RankRouter/internal/conf"
	"RankRouter/pkg/metadata"

	"github.com/go-kratos/kratos/v2/log"
)

// Unlimited is the monthly limit sentinel for providers without a cap.
const Unlimited int64 = -1

// usageHistoryWindow bounds the usage history used for burn-rate calculation.
const usageHistoryWindow = 24 * time.Hour

// usagePoint is one (timestamp, amount) entry in the usage history.
type usagePoint struct {
	at     time.Time
	amount int64
}

// recentCall is one (success, responseTimeMs) pair in the recent-call ring.
type recentCall struct {
	success    bool
	responseMs float64
}

// providerState holds the quota and performance records for one provider.
// All state here is process-local; a multi-instance deployment does not pool
// usage totals across processes.
type providerState struct {
	cfg        *conf.Quota_Provider
	meta       *metadata.ProviderMetadata
	queryTypes map[string]struct{}

	// quota record
	used      int64
	lastReset time.Time

	// performance record
	totalCalls      int64
	successfulCalls int64
	avgResponseMs   float64

	// bounded ring buffer of the most recent calls, oldest evicted first
	recent     []recentCall
	recentNext int
	recentLen  int

	// time-windowed usage history for burn-rate calculation
	usageHistory []usagePoint
}

// QuotaUsecase tracks per-provider usage and performance, predicts quota
// exhaustion from burn rate, and ranks functionally-equivalent providers.
type QuotaUsecase struct {
	breaker *CircuitBreakerUsecase
	scorer  Scorer
	audit   AuditLogger
	logger  *log.Helper

	strategy     string
	recentWindow int

	mu        sync.Mutex
	providers map[string]*providerState
	// names is kept sorted so iteration order (and therefore tie-breaking)
	// is deterministic: lexicographic by provider name.
	names []string

	// now is replaceable in tests
	now func() time.Time
}

// NewQuotaUsecase creates a quota use case from the configured provider table.
func NewQuotaUsecase(c *conf.Quota, breaker *CircuitBreakerUsecase, scorer Scorer, audit AuditLogger, logger log.Logger) *QuotaUsecase {
	uc := &QuotaUsecase{
		breaker:      breaker,
		scorer:       scorer,
		audit:        audit,
		logger:       log.NewHelper(logger),
		strategy:     StrategyBestQuality,
		recentWindow: 50,
		providers:    make(map[string]*providerState),
		now:          time.Now,
	}
	if c == nil {
		return uc
	}
	if c.Strategy != "" {
		uc.strategy = c.Strategy
	}
	if c.RecentWindowSize > 0 {
		uc.recentWindow = int(c.RecentWindowSize)
	}

	startedAt := uc.now()
	for name, p := range c.Providers {
		meta, err := metadata.Parse(p.Metadata)
		if err != nil {
			// Validation happens at bootstrap; a parse failure here means the
			// table was built by hand (tests), so fall back to empty metadata.
			uc.logger.Warnf("invalid metadata for provider %s: %v", name, err)
			meta = &metadata.ProviderMetadata{}
		}
		st := &providerState{
			cfg:        p,
			meta:       meta,
			queryTypes: make(map[string]struct{}, len(p.SupportedQueryTypes)),
			lastReset:  startedAt,
			recent:     make([]recentCall, uc.recentWindow),
		}
		for _, qt := range p.SupportedQueryTypes {
			st.queryTypes[qt] = struct{}{}
		}
		uc.providers[name] = st
		uc.names = append(uc.names, name)
	}
	sort.Strings(uc.names)

	return uc
}

// Strategy returns the configured routing strategy.
func (uc *QuotaUsecase) Strategy() string {
	return uc.strategy
}

// Providers returns all configured provider names, sorted.
func (uc *QuotaUsecase) Providers() []string {
	out := make([]string, len(uc.names))
	copy(out, uc.names)
	return out
}

// RecordUsage adds amount to a provider's usage counter, resetting it first
// if the current date crossed the monthly reset boundary. The usage history
// keeps entries for the burn-rate window only.
func (uc *QuotaUsecase) RecordUsage(ctx context.Context, api string, amount int64) error {
	if amount <= 0 {
		amount = 1
	}

	uc.mu.Lock()
	st, ok := uc.providers[api]
	if !ok {
		uc.mu.Unlock()
		return fmt.Errorf("unknown provider: %s", api)
	}

	now := uc.now()
	uc.maybeResetLocked(ctx, api, st, now)

	st.used += amount
	st.usageHistory = append(st.usageHistory, usagePoint{at: now, amount: amount})
	uc.pruneHistoryLocked(st, now)
	used := st.used
	uc.mu.Unlock()

	uc.logger.Debugw("msg", "usage recorded",
		"provider", api,
		"amount", amount,
		"used", used)
	return nil
}

// RecordPerformance updates a provider's running performance statistics and
// pushes the outcome into the bounded recent-call ring buffer.
func (uc *QuotaUsecase) RecordPerformance(ctx context.Context, api string, success bool, responseTimeMs float64) error {
	uc.mu.Lock()
	defer uc.mu.Unlock()

	st, ok := uc.providers[api]
	if !ok {
		return fmt.Errorf("unknown provider: %s", api)
	}

	st.totalCalls++
	if success {
		st.successfulCalls++
	}
	// Running mean over all calls
	st.avgResponseMs += (responseTimeMs - st.avgResponseMs) / float64(st.totalCalls)

	st.recent[st.recentNext] = recentCall{success: success, responseMs: responseTimeMs}
	st.recentNext = (st.recentNext + 1) % len(st.recent)
	if st.recentLen < len(st.recent) {
		st.recentLen++
	}

	return nil
}

// RemainingQuota returns a provider's remaining allowance for the current
// billing period, or Unlimited.
func (uc *QuotaUsecase) RemainingQuota(ctx context.Context, api string) (int64, error) {
	uc.mu.Lock()
	defer uc.mu.Unlock()

	st, ok := uc.providers[api]
	if !ok {
		return 0, fmt.Errorf("unknown provider: %s", api)
	}
	uc.maybeResetLocked(ctx, api, st, uc.now())
	return remainingLocked(st), nil
}

// remainingLocked computes remaining quota; Unlimited when no cap is set.
func remainingLocked(st *providerState) int64 {
	if st.cfg.MonthlyLimit == Unlimited {
		return Unlimited
	}
	remaining := st.cfg.MonthlyLimit - st.used
	if remaining < 0 {
		remaining = 0
	}
	return remaining
}

// PredictExhaustion estimates when a provider's quota runs out based on its
// burn rate over the usage history window. It returns nil when the quota is
// unlimited, already exhausted, or no meaningful burn rate exists.
func (uc *QuotaUsecase) PredictExhaustion(ctx context.Context, api string) (*time.Time, error) {
	uc.mu.Lock()
	defer uc.mu.Unlock()

	st, ok := uc.providers[api]
	if !ok {
		return nil, fmt.Errorf("unknown provider: %s", api)
	}

	now := uc.now()
	uc.pruneHistoryLocked(st, now)
	return uc.predictExhaustionLocked(st, now), nil
}

func (uc *QuotaUsecase) predictExhaustionLocked(st *providerState, now time.Time) *time.Time {
	if st.cfg.MonthlyLimit == Unlimited {
		return nil
	}
	remaining := remainingLocked(st)
	if remaining <= 0 {
		return nil
	}
	if len(st.usageHistory) == 0 {
		return nil
	}

	var total int64
	for _, p := range st.usageHistory {
		total += p.amount
	}

	span := now.Sub(st.usageHistory[0].at).Hours()
	if span < 1.0/60 {
		// All usage landed within the last minute; too little signal for a
		// stable hourly rate.
		span = 1.0 / 60
	}
	burnRate := float64(total) / span
	if burnRate <= 0 {
		return nil
	}

	hoursLeft := float64(remaining) / burnRate
	t := now.Add(time.Duration(hoursLeft * float64(time.Hour)))
	return &t
}

// AvailableAPIs returns the providers eligible for a query type: enabled,
// credential configured, quota remaining (or unlimited), breaker not OPEN,
// and supporting the query type (an empty queryType matches everything).
// The result is sorted lexicographically.
func (uc *QuotaUsecase) AvailableAPIs(ctx context.Context, queryType string) []string {
	now := uc.now()

	uc.mu.Lock()
	candidates := make([]string, 0, len(uc.names))
	for _, name := range uc.names {
		st := uc.providers[name]
		if !st.cfg.Enabled || st.cfg.ApiKey == "" {
			continue
		}
		uc.maybeResetLocked(ctx, name, st, now)
		if r := remainingLocked(st); r != Unlimited && r <= 0 {
			continue
		}
		if queryType != "" {
			if _, ok := st.queryTypes[queryType]; !ok {
				continue
			}
		}
		candidates = append(candidates, name)
	}
	uc.mu.Unlock()

	// Breaker filter runs outside the lock: it may touch the shared store.
	available := candidates[:0]
	for _, name := range candidates {
		if uc.breaker.IsOpen(ctx, name) {
			continue
		}
		available = append(available, name)
	}
	return available
}

// Score computes the routing score for a provider under the configured
// strategy. OPEN providers never reach scoring (filtered by AvailableAPIs).
func (uc *QuotaUsecase) Score(ctx context.Context, api string) (float64, error) {
	f, err := uc.features(ctx, api)
	if err != nil {
		return 0, err
	}
	return uc.scorer.Score(f, uc.strategy), nil
}

// features assembles the scoring feature vector for a provider.
func (uc *QuotaUsecase) features(ctx context.Context, api string) (Features, error) {
	halfOpen := uc.breaker.IsHalfOpen(ctx, api)

	uc.mu.Lock()
	defer uc.mu.Unlock()

	st, ok := uc.providers[api]
	if !ok {
		return Features{}, fmt.Errorf("unknown provider: %s", api)
	}

	now := uc.now()
	uc.pruneHistoryLocked(st, now)

	f := Features{
		QualityScore:   st.cfg.QualityScore,
		CostPerUnit:    st.cfg.CostPerUnit,
		RemainingQuota: remainingLocked(st),
		AvgResponseMs:  st.avgResponseMs,
		SuccessRate:    1,
		HalfOpen:       halfOpen,
		HoursToExhaustion: -1,
	}
	if st.totalCalls > 0 {
		f.SuccessRate = float64(st.successfulCalls) / float64(st.totalCalls)
	}

	f.RecentSuccessRate, f.RecentAvgResponseMs = recentStatsLocked(st, f.SuccessRate, f.AvgResponseMs)

	if f.RemainingQuota != Unlimited && f.RemainingQuota <= 0 {
		f.Exhausted = true
	}
	if t := uc.predictExhaustionLocked(st, now); t != nil {
		f.HoursToExhaustion = t.Sub(now).Hours()
	}

	return f, nil
}

// recentStatsLocked derives success rate and mean latency over the ring
// buffer, falling back to the long-run values when the ring is empty.
func recentStatsLocked(st *providerState, fallbackRate, fallbackMs float64) (float64, float64) {
	if st.recentLen == 0 {
		return fallbackRate, fallbackMs
	}
	var successes int
	var totalMs float64
	for i := 0; i < st.recentLen; i++ {
		c := st.recent[i]
		if c.success {
			successes++
		}
		totalMs += c.responseMs
	}
	return float64(successes) / float64(st.recentLen), totalMs / float64(st.recentLen)
}

// SelectBest scores all available providers for a query type and returns the
// highest-scoring one. Ties break lexicographically by provider name: the
// candidate list is sorted and only a strictly greater score displaces the
// current best.
func (uc *QuotaUsecase) SelectBest(ctx context.Context, queryType string) (string, error) {
	available := uc.AvailableAPIs(ctx, queryType)
	if len(available) == 0 {
		return "", &NoAvailableProviderError{QueryType: queryType}
	}

	best := ""
	bestScore := 0.0
	for _, name := range available {
		score, err := uc.Score(ctx, name)
		if err != nil {
			uc.logger.Warnf("scoring failed for %s: %v (skipped)", name, err)
			continue
		}
		uc.logger.Debugw("msg", "provider scored",
			"provider", name,
			"query_type", queryType,
			"strategy", uc.strategy,
			"score", score)
		if best == "" || score > bestScore {
			best = name
			bestScore = score
		}
	}
	if best == "" {
		return "", &NoAvailableProviderError{QueryType: queryType}
	}

	return best, nil
}

// SelectAny returns the first available provider regardless of score.
// A last-resort fallback when scored selection yields nothing usable.
func (uc *QuotaUsecase) SelectAny(ctx context.Context, queryType string) (string, error) {
	available := uc.AvailableAPIs(ctx, queryType)
	if len(available) == 0 {
		return "", &NoAvailableProviderError{QueryType: queryType}
	}
	return available[0], nil
}

// Summary is a point-in-time view of a provider's quota and performance,
// exposed through the admin surface.
type Summary struct {
	Provider          string     `json:"provider"`
	Enabled           bool       `json:"enabled"`
	Region            string     `json:"region,omitempty"`
	Tags              []string   `json:"tags,omitempty"`
	MonthlyLimit      int64      `json:"monthly_limit"`
	Used              int64      `json:"used"`
	Remaining         int64      `json:"remaining"`
	SuccessRate       float64    `json:"success_rate"`
	AvgResponseMs     float64    `json:"avg_response_ms"`
	TotalCalls        int64      `json:"total_calls"`
	PredictedExhaustion *time.Time `json:"predicted_exhaustion,omitempty"`
}

// Summarize returns the summary for one provider.
func (uc *QuotaUsecase) Summarize(ctx context.Context, api string) (*Summary, error) {
	uc.mu.Lock()
	defer uc.mu.Unlock()

	st, ok := uc.providers[api]
	if !ok {
		return nil, fmt.Errorf("unknown provider: %s", api)
	}

	now := uc.now()
	uc.maybeResetLocked(ctx, api, st, now)
	uc.pruneHistoryLocked(st, now)

	s := &Summary{
		Provider:     api,
		Enabled:      st.cfg.Enabled,
		Region:       st.meta.Region,
		Tags:         st.meta.Tags,
		MonthlyLimit: st.cfg.MonthlyLimit,
		Used:         st.used,
		Remaining:    remainingLocked(st),
		SuccessRate:  1,
		AvgResponseMs: st.avgResponseMs,
		TotalCalls:   st.totalCalls,
		PredictedExhaustion: uc.predictExhaustionLocked(st, now),
	}
	if st.totalCalls > 0 {
		s.SuccessRate = float64(st.successfulCalls) / float64(st.totalCalls)
	}
	return s, nil
}

// Maintain runs periodic housekeeping: monthly reset sweeps, history pruning,
// and an exhaustion forecast warning for providers nearing their cap.
// Called from the cron scheduler.
func (uc *QuotaUsecase) Maintain(ctx context.Context, warningWindow time.Duration) {
	now := uc.now()

	uc.mu.Lock()
	type forecast struct {
		name string
		at   time.Time
	}
	var nearing []forecast
	for _, name := range uc.names {
		st := uc.providers[name]
		uc.maybeResetLocked(ctx, name, st, now)
		uc.pruneHistoryLocked(st, now)
		if t := uc.predictExhaustionLocked(st, now); t != nil && t.Sub(now) <= warningWindow {
			nearing = append(nearing, forecast{name: name, at: *t})
		}
	}
	uc.mu.Unlock()

	for _, f := range nearing {
		uc.logger.Warnw("msg", "provider approaching quota exhaustion",
			"provider", f.name,
			"predicted_exhaustion", f.at.Format(time.RFC3339))
	}
}

// maybeResetLocked zeroes the usage counter when now crossed the provider's
// monthly reset boundary. Reset days beyond a month's length clamp to the
// last day of that month (day 31 in April resets on April 30).
func (uc *QuotaUsecase) maybeResetLocked(ctx context.Context, name string, st *providerState, now time.Time) {
	boundary := nextResetAfter(st.lastReset, int(st.cfg.ResetDayOfMonth))
	if now.Before(boundary) {
		return
	}

	usedAtReset := st.used
	st.used = 0
	st.lastReset = now

	uc.audit.LogQuotaReset(ctx, name, usedAtReset, now)
	uc.logger.Infow("msg", "monthly quota reset",
		"provider", name,
		"used_at_reset", usedAtReset)
}

// pruneHistoryLocked drops usage history entries older than the window.
func (uc *QuotaUsecase) pruneHistoryLocked(st *providerState, now time.Time) {
	cutoff := now.Add(-usageHistoryWindow)
	i := 0
	for i < len(st.usageHistory) && st.usageHistory[i].at.Before(cutoff) {
		i++
	}
	if i > 0 {
		st.usageHistory = append(st.usageHistory[:0], st.usageHistory[i:]...)
	}
}

// nextResetAfter returns the first reset boundary strictly after t for the
// given day-of-month, clamping the day to each month's length.
func nextResetAfter(t time.Time, day int) time.Time {
	if day < 1 {
		day = 1
	}

	candidate := clampedMonthDay(t.Year(), t.Month(), day, t.Location())
	if candidate.After(t) {
		return candidate
	}

	year, month := t.Year(), t.Month()
	if month == time.December {
		year, month = year+1, time.January
	} else {
		month++
	}
	return clampedMonthDay(year, month, day, t.Location())
}

// clampedMonthDay builds midnight on the given day, clamped to the month's
// last day (reset day 31 in a 30-day month maps to day 30).
func clampedMonthDay(year int, month time.Month, day int, loc *time.Location) time.Time {
	lastDay := time.Date(year, month+1, 0, 0, 0, 0, 0, loc).Day()
	if day > lastDay {
		day = lastDay
	}
	return time.Date(year, month, day, 0, 0, 0, 0, loc)
}
