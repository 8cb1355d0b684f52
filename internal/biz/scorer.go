package biz

import (
	"math"

	"RankRouter/internal/conf"

	"github.com/go-kratos/kratos/v2/log"
)

// Routing strategies.
const (
	// StrategyBestQuality weights provider quality and success rate highest.
	StrategyBestQuality = "best_quality"
	// StrategyQuotaOptimized weights remaining quota and cost highest.
	StrategyQuotaOptimized = "quota_optimized"
)

// Features is the scoring input for one provider. It is deliberately flat so
// a learned model can consume it as-is.
type Features struct {
	QualityScore        float64
	SuccessRate         float64
	RecentSuccessRate   float64
	AvgResponseMs       float64
	RecentAvgResponseMs float64
	// RemainingQuota is Unlimited (-1) for uncapped providers.
	RemainingQuota int64
	CostPerUnit    float64
	// HoursToExhaustion is negative when no exhaustion is predicted.
	HoursToExhaustion float64
	Exhausted         bool
	HalfOpen          bool
}

// Scorer ranks a provider for routing. Higher is better.
// Implementations must be deterministic for a given feature vector so
// selection stays reproducible.
type Scorer interface {
	Score(f Features, strategy string) float64
}

// strategyWeights are the rule-based weights per strategy.
type strategyWeights struct {
	quality float64
	success float64
	latency float64
	quota   float64
	cost    float64
}

var ruleWeights = map[string]strategyWeights{
	StrategyBestQuality:    {quality: 10, success: 8, latency: 2, quota: 1, cost: 2},
	StrategyQuotaOptimized: {quality: 3, success: 4, latency: 1, quota: 8, cost: 6},
}

// prohibitivePenalty makes a provider effectively unselectable without
// removing it from the candidate set.
const prohibitivePenalty = 1000

// RuleScorer is the deterministic default scorer.
type RuleScorer struct {
	// responseTimeThresholdMs is the latency above which a penalty applies.
	responseTimeThresholdMs float64
	// warningWindowHours is the predicted-exhaustion horizon inside which
	// the score degrades; inside 24h the penalty becomes prohibitive.
	warningWindowHours float64
}

// NewRuleScorer creates the rule-based scorer from quota configuration.
func NewRuleScorer(c *conf.Quota) *RuleScorer {
	s := &RuleScorer{
		responseTimeThresholdMs: 2000,
		warningWindowHours:      7 * 24,
	}
	if c != nil {
		if c.ResponseTimeThresholdMs > 0 {
			s.responseTimeThresholdMs = c.ResponseTimeThresholdMs
		}
		if c.ExhaustionWarningDays > 0 {
			s.warningWindowHours = float64(c.ExhaustionWarningDays) * 24
		}
	}
	return s
}

// Score implements Scorer.
func (s *RuleScorer) Score(f Features, strategy string) float64 {
	w, ok := ruleWeights[strategy]
	if !ok {
		w = ruleWeights[StrategyBestQuality]
	}

	score := w.quality*f.QualityScore +
		w.success*f.SuccessRate +
		w.quota*quotaMagnitude(f.RemainingQuota) -
		w.cost*f.CostPerUnit

	// Latency penalty grows with time spent above the threshold. When the
	// recent window diverges >= 10% from the long-run mean, the recent value
	// drives the penalty so degrading providers are punished sooner.
	latency := f.AvgResponseMs
	if f.AvgResponseMs > 0 &&
		math.Abs(f.RecentAvgResponseMs-f.AvgResponseMs)/f.AvgResponseMs >= 0.10 {
		latency = f.RecentAvgResponseMs
	}
	if latency > s.responseTimeThresholdMs {
		score -= w.latency * (latency - s.responseTimeThresholdMs) / s.responseTimeThresholdMs
	}

	// Same divergence rule for success rate, as an additive adjustment.
	if math.Abs(f.RecentSuccessRate-f.SuccessRate) >= 0.10 {
		score += 5 * (f.RecentSuccessRate - f.SuccessRate)
	}

	score -= s.exhaustionPenalty(f)

	if f.HalfOpen {
		score -= 5
	}

	return score
}

// exhaustionPenalty scales sharply as predicted exhaustion approaches the
// warning window and becomes prohibitive inside one day or once exhausted.
func (s *RuleScorer) exhaustionPenalty(f Features) float64 {
	if f.Exhausted {
		return prohibitivePenalty
	}
	h := f.HoursToExhaustion
	if h < 0 {
		return 0
	}
	if h <= 24 {
		return prohibitivePenalty
	}
	if h <= s.warningWindowHours {
		return 50 * (s.warningWindowHours - h) / s.warningWindowHours
	}
	return 0
}

// quotaMagnitude compresses remaining quota into a comparable scale.
// Unlimited quota maps to a fixed high magnitude.
func quotaMagnitude(remaining int64) float64 {
	if remaining == Unlimited {
		return 6
	}
	if remaining < 0 {
		remaining = 0
	}
	return math.Log10(float64(remaining) + 1)
}

// ModelScorer is an optional learned scoring model. It satisfies the same
// contract as the rule scorer and is selected by configuration, never by
// branching inside the scoring math.
type ModelScorer interface {
	Scorer
}

// BlendedScorer mixes the rule-based score with a learned model's score.
type BlendedScorer struct {
	rule        Scorer
	model       ModelScorer
	modelWeight float64
}

// NewBlendedScorer blends a model into the rule score with the given weight
// in [0, 1].
func NewBlendedScorer(rule Scorer, model ModelScorer, modelWeight float64) *BlendedScorer {
	if modelWeight < 0 {
		modelWeight = 0
	}
	if modelWeight > 1 {
		modelWeight = 1
	}
	return &BlendedScorer{rule: rule, model: model, modelWeight: modelWeight}
}

// Score implements Scorer.
func (b *BlendedScorer) Score(f Features, strategy string) float64 {
	rs := b.rule.Score(f, strategy)
	ms := b.model.Score(f, strategy)
	return rs*(1-b.modelWeight) + ms*b.modelWeight
}

// NewScorer selects the scorer from configuration. Without a registered model
// the rule scorer is used even when ml_enabled is set (with a warning), so a
// missing model artifact never takes routing down.
func NewScorer(c *conf.Quota, model ModelScorer, logger log.Logger) Scorer {
	rule := NewRuleScorer(c)
	if c == nil || !c.MlEnabled {
		return rule
	}
	if model == nil {
		log.NewHelper(logger).Warn("ml_enabled is set but no model scorer is registered, using rule scorer")
		return rule
	}
	return NewBlendedScorer(rule, model, 0.5)
}

// NewModelScorer is the default model provider: none registered.
// Deployments with a trained model supply their own wire provider.
func NewModelScorer() ModelScorer {
	return nil
}
