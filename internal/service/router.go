package service

import (
	"context"
	"sort"
	"time"

	"RankRouter/internal/biz"
	"RankRouter/internal/model"

	"github.com/go-kratos/kratos/v2/log"
)

// ProviderOperation is the caller-supplied upstream call, invoked with the
// provider the router selected.
type ProviderOperation func(ctx context.Context, provider string) (interface{}, error)

// RouterService composes provider selection, rate limiting, and resilient
// execution into the routing pipeline, and backs the admin HTTP surface.
type RouterService struct {
	quota      *biz.QuotaUsecase
	breaker    *biz.CircuitBreakerUsecase
	resilience *biz.ResilienceUsecase
	limiter    *biz.RateLimiterUseCase
	logger     *log.Helper
}

// NewRouterService creates a new RouterService instance.
func NewRouterService(
	quota *biz.QuotaUsecase,
	breaker *biz.CircuitBreakerUsecase,
	resilience *biz.ResilienceUsecase,
	limiter *biz.RateLimiterUseCase,
	logger log.Logger,
) *RouterService {
	return &RouterService{
		quota:      quota,
		breaker:    breaker,
		resilience: resilience,
		limiter:    limiter,
		logger:     log.NewHelper(logger),
	}
}

// Do routes one upstream call: selects the best provider for the query type,
// paces the call through the rate limiter, executes it under the resilience
// policy, and records usage and performance against the chosen provider.
// It returns the operation result and the provider that served it.
func (s *RouterService) Do(ctx context.Context, queryType string, op ProviderOperation) (interface{}, string, error) {
	provider, err := s.quota.SelectBest(ctx, queryType)
	if err != nil {
		s.logger.Warnw("msg", "no provider available",
			"query_type", queryType,
			"error", err.Error())
		return nil, "", err
	}

	if err := s.limiter.WaitIfNeeded(ctx, provider, "rest", queryType); err != nil {
		return nil, provider, err
	}

	start := time.Now()
	result, err := s.resilience.Execute(ctx, provider, func(ctx context.Context) (interface{}, error) {
		return op(ctx, provider)
	})
	elapsedMs := float64(time.Since(start).Milliseconds())

	if perfErr := s.quota.RecordPerformance(ctx, provider, err == nil, elapsedMs); perfErr != nil {
		s.logger.Warnw("msg", "failed to record performance",
			"provider", provider,
			"error", perfErr.Error())
	}
	if err != nil {
		s.logger.Errorw("msg", "routed call failed",
			"provider", provider,
			"query_type", queryType,
			"error", err.Error())
		return nil, provider, err
	}

	if usageErr := s.quota.RecordUsage(ctx, provider, 1); usageErr != nil {
		s.logger.Warnw("msg", "failed to record usage",
			"provider", provider,
			"error", usageErr.Error())
	}
	return result, provider, nil
}

// SelectReply is the routing decision for a query type.
type SelectReply struct {
	Provider  string  `json:"provider"`
	Strategy  string  `json:"strategy"`
	Score     float64 `json:"score"`
	QueryType string  `json:"query_type"`
}

// SelectProvider returns the provider the router would choose for a query
// type, without executing anything.
func (s *RouterService) SelectProvider(ctx context.Context, queryType string) (*SelectReply, error) {
	s.logger.Debugw("msg", "SelectProvider called", "query_type", queryType)

	provider, err := s.quota.SelectBest(ctx, queryType)
	if err != nil {
		return nil, err
	}
	score, err := s.quota.Score(ctx, provider)
	if err != nil {
		return nil, err
	}

	return &SelectReply{
		Provider:  provider,
		Strategy:  s.quota.Strategy(),
		Score:     score,
		QueryType: queryType,
	}, nil
}

// RankingEntry is one provider's position in a ranking.
type RankingEntry struct {
	Provider string  `json:"provider"`
	Score    float64 `json:"score"`
}

// RankingsReply lists available providers for a query type, best first.
type RankingsReply struct {
	QueryType string         `json:"query_type"`
	Strategy  string         `json:"strategy"`
	Rankings  []RankingEntry `json:"rankings"`
}

// Rankings scores every available provider for a query type and returns them
// ordered best first. Equal scores keep lexicographic order.
func (s *RouterService) Rankings(ctx context.Context, queryType string) (*RankingsReply, error) {
	s.logger.Debugw("msg", "Rankings called", "query_type", queryType)

	reply := &RankingsReply{
		QueryType: queryType,
		Strategy:  s.quota.Strategy(),
		Rankings:  []RankingEntry{},
	}
	for _, name := range s.quota.AvailableAPIs(ctx, queryType) {
		score, err := s.quota.Score(ctx, name)
		if err != nil {
			s.logger.Warnw("msg", "scoring failed", "provider", name, "error", err.Error())
			continue
		}
		reply.Rankings = append(reply.Rankings, RankingEntry{Provider: name, Score: score})
	}
	sort.SliceStable(reply.Rankings, func(i, j int) bool {
		return reply.Rankings[i].Score > reply.Rankings[j].Score
	})
	return reply, nil
}

// BreakerStatusReply is the admin view of one breaker record.
type BreakerStatusReply struct {
	Key             string `json:"key"`
	State           string `json:"state"`
	FailureCount    int32  `json:"failure_count"`
	SuccessCount    int32  `json:"success_count"`
	LastFailureTime string `json:"last_failure_time,omitempty"`
	NextAttemptTime string `json:"next_attempt_time,omitempty"`
	Version         int64  `json:"version"`
}

// BreakerStatus returns the authoritative breaker record for a key.
func (s *RouterService) BreakerStatus(ctx context.Context, key string) (*BreakerStatusReply, error) {
	s.logger.Debugw("msg", "BreakerStatus called", "key", key)

	rec, err := s.breaker.Status(ctx, key)
	if err != nil {
		s.logger.Errorw("msg", "failed to load breaker status", "key", key, "error", err.Error())
		return nil, err
	}
	return breakerReply(key, rec), nil
}

// ResetBreaker forces a breaker back to CLOSED (admin operation).
func (s *RouterService) ResetBreaker(ctx context.Context, key string) (*BreakerStatusReply, error) {
	s.logger.Infow("msg", "ResetBreaker called", "key", key)

	if err := s.breaker.Reset(ctx, key); err != nil {
		s.logger.Errorw("msg", "failed to reset breaker", "key", key, "error", err.Error())
		return nil, err
	}
	rec, err := s.breaker.Status(ctx, key)
	if err != nil {
		return nil, err
	}
	return breakerReply(key, rec), nil
}

func breakerReply(key string, rec *model.BreakerRecord) *BreakerStatusReply {
	reply := &BreakerStatusReply{
		Key:          key,
		State:        string(rec.State),
		FailureCount: rec.FailureCount,
		SuccessCount: rec.SuccessCount,
		Version:      rec.Version,
	}
	if rec.LastFailureTime > 0 {
		reply.LastFailureTime = time.Unix(rec.LastFailureTime, 0).UTC().Format(time.RFC3339)
	}
	if rec.NextAttemptTime > 0 {
		reply.NextAttemptTime = time.Unix(rec.NextAttemptTime, 0).UTC().Format(time.RFC3339)
	}
	return reply
}

// QuotaSummaryReply is the admin view of one provider's quota and stats.
type QuotaSummaryReply struct {
	Provider            string  `json:"provider"`
	Enabled             bool    `json:"enabled"`
	Region              string  `json:"region,omitempty"`
	Tags                []string `json:"tags,omitempty"`
	MonthlyLimit        int64   `json:"monthly_limit"`
	Used                int64   `json:"used"`
	Remaining           int64   `json:"remaining"`
	SuccessRate         float64 `json:"success_rate"`
	AvgResponseMs       float64 `json:"avg_response_ms"`
	TotalCalls          int64   `json:"total_calls"`
	PredictedExhaustion string  `json:"predicted_exhaustion,omitempty"`
}

// QuotaSummary returns the quota summary for one provider.
func (s *RouterService) QuotaSummary(ctx context.Context, provider string) (*QuotaSummaryReply, error) {
	s.logger.Debugw("msg", "QuotaSummary called", "provider", provider)

	sum, err := s.quota.Summarize(ctx, provider)
	if err != nil {
		return nil, err
	}
	return summaryReply(sum), nil
}

// QuotaSummaries returns summaries for every configured provider, sorted by
// name.
func (s *RouterService) QuotaSummaries(ctx context.Context) ([]*QuotaSummaryReply, error) {
	names := s.quota.Providers()
	out := make([]*QuotaSummaryReply, 0, len(names))
	for _, name := range names {
		sum, err := s.quota.Summarize(ctx, name)
		if err != nil {
			return nil, err
		}
		out = append(out, summaryReply(sum))
	}
	return out, nil
}

func summaryReply(sum *biz.Summary) *QuotaSummaryReply {
	reply := &QuotaSummaryReply{
		Provider:      sum.Provider,
		Enabled:       sum.Enabled,
		Region:        sum.Region,
		Tags:          sum.Tags,
		MonthlyLimit:  sum.MonthlyLimit,
		Used:          sum.Used,
		Remaining:     sum.Remaining,
		SuccessRate:   sum.SuccessRate,
		AvgResponseMs: sum.AvgResponseMs,
		TotalCalls:    sum.TotalCalls,
	}
	if sum.PredictedExhaustion != nil {
		reply.PredictedExhaustion = sum.PredictedExhaustion.UTC().Format(time.RFC3339)
	}
	return reply
}
