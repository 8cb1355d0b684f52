package biz

import (
	"math"
	"os"
	"testing"

	"RankRouter/internal/conf"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/stretchr/testify/assert"
)

func healthyFeatures() Features {
	return Features{
		QualityScore:        5,
		SuccessRate:         0.95,
		RecentSuccessRate:   0.95,
		AvgResponseMs:       800,
		RecentAvgResponseMs: 800,
		RemainingQuota:      5000,
		CostPerUnit:         0.5,
		HoursToExhaustion:   -1,
	}
}

func TestRuleScorer_Deterministic(t *testing.T) {
	s := NewRuleScorer(nil)
	f := healthyFeatures()

	first := s.Score(f, StrategyBestQuality)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, s.Score(f, StrategyBestQuality))
	}
}

func TestRuleScorer_BestQualityFavorsQuality(t *testing.T) {
	s := NewRuleScorer(nil)

	strong := healthyFeatures()
	strong.QualityScore = 9

	weak := healthyFeatures()
	weak.QualityScore = 3
	weak.RemainingQuota = 1000000 // quota cannot make up for quality here

	assert.Greater(t,
		s.Score(strong, StrategyBestQuality),
		s.Score(weak, StrategyBestQuality))
}

func TestRuleScorer_QuotaOptimizedFavorsRemainingQuota(t *testing.T) {
	s := NewRuleScorer(nil)

	rich := healthyFeatures()
	rich.QualityScore = 3
	rich.RemainingQuota = 100000

	poor := healthyFeatures()
	poor.QualityScore = 6
	poor.RemainingQuota = 10

	assert.Greater(t,
		s.Score(rich, StrategyQuotaOptimized),
		s.Score(poor, StrategyQuotaOptimized))
}

func TestRuleScorer_UnknownStrategyFallsBackToBestQuality(t *testing.T) {
	s := NewRuleScorer(nil)
	f := healthyFeatures()

	assert.Equal(t, s.Score(f, StrategyBestQuality), s.Score(f, "made_up"))
}

func TestRuleScorer_LatencyPenaltyAboveThreshold(t *testing.T) {
	s := NewRuleScorer(&conf.Quota{ResponseTimeThresholdMs: 1000})

	fast := healthyFeatures()
	fast.AvgResponseMs = 500
	fast.RecentAvgResponseMs = 500

	slow := healthyFeatures()
	slow.AvgResponseMs = 3000
	slow.RecentAvgResponseMs = 3000

	assert.Greater(t,
		s.Score(fast, StrategyBestQuality),
		s.Score(slow, StrategyBestQuality))
}

func TestRuleScorer_RecentLatencyDrivesPenaltyOnDivergence(t *testing.T) {
	s := NewRuleScorer(&conf.Quota{ResponseTimeThresholdMs: 1000})

	// Long-run mean is fine but the recent window degraded >= 10%
	degrading := healthyFeatures()
	degrading.AvgResponseMs = 900
	degrading.RecentAvgResponseMs = 4000

	steady := healthyFeatures()
	steady.AvgResponseMs = 900
	steady.RecentAvgResponseMs = 950 // < 10% divergence, ignored

	assert.Greater(t,
		s.Score(steady, StrategyBestQuality),
		s.Score(degrading, StrategyBestQuality))
}

func TestRuleScorer_RecentSuccessRateAdjustment(t *testing.T) {
	s := NewRuleScorer(nil)

	improving := healthyFeatures()
	improving.SuccessRate = 0.60
	improving.RecentSuccessRate = 0.95

	flat := healthyFeatures()
	flat.SuccessRate = 0.60
	flat.RecentSuccessRate = 0.60

	assert.Greater(t,
		s.Score(improving, StrategyBestQuality),
		s.Score(flat, StrategyBestQuality))
}

func TestRuleScorer_ExhaustedIsProhibitive(t *testing.T) {
	s := NewRuleScorer(nil)

	f := healthyFeatures()
	f.Exhausted = true
	f.RemainingQuota = 0

	assert.Less(t, s.Score(f, StrategyBestQuality), -500.0)
}

func TestRuleScorer_ExhaustionPenaltyTiers(t *testing.T) {
	s := NewRuleScorer(&conf.Quota{ExhaustionWarningDays: 7})

	none := healthyFeatures() // HoursToExhaustion: -1

	within12h := healthyFeatures()
	within12h.HoursToExhaustion = 12

	within3d := healthyFeatures()
	within3d.HoursToExhaustion = 72

	beyondWindow := healthyFeatures()
	beyondWindow.HoursToExhaustion = 30 * 24

	assert.Less(t, s.Score(within12h, StrategyBestQuality), s.Score(within3d, StrategyBestQuality))
	assert.Less(t, s.Score(within3d, StrategyBestQuality), s.Score(none, StrategyBestQuality))
	assert.Equal(t, s.Score(none, StrategyBestQuality), s.Score(beyondWindow, StrategyBestQuality))
}

func TestRuleScorer_HalfOpenPenalty(t *testing.T) {
	s := NewRuleScorer(nil)

	probing := healthyFeatures()
	probing.HalfOpen = true

	healthy := healthyFeatures()

	assert.InDelta(t, 5,
		s.Score(healthy, StrategyBestQuality)-s.Score(probing, StrategyBestQuality),
		1e-9)
}

func TestQuotaMagnitude(t *testing.T) {
	assert.Equal(t, 6.0, quotaMagnitude(Unlimited))
	assert.Equal(t, 0.0, quotaMagnitude(0))
	assert.InDelta(t, 2.0, quotaMagnitude(99), 0.01)
	assert.InDelta(t, 4.0, quotaMagnitude(9999), 0.01)
	// Negative (other than the unlimited sentinel) clamps to zero
	assert.Equal(t, 0.0, quotaMagnitude(-7))
}

type fixedScorer struct{ v float64 }

func (f fixedScorer) Score(Features, string) float64 { return f.v }

func TestBlendedScorer_MixesByWeight(t *testing.T) {
	b := NewBlendedScorer(fixedScorer{v: 10}, fixedScorer{v: 20}, 0.5)
	assert.InDelta(t, 15, b.Score(Features{}, StrategyBestQuality), 1e-9)

	heavy := NewBlendedScorer(fixedScorer{v: 10}, fixedScorer{v: 20}, 0.9)
	assert.InDelta(t, 19, heavy.Score(Features{}, StrategyBestQuality), 1e-9)
}

func TestBlendedScorer_WeightClamped(t *testing.T) {
	b := NewBlendedScorer(fixedScorer{v: 10}, fixedScorer{v: 20}, 4)
	assert.InDelta(t, 20, b.Score(Features{}, StrategyBestQuality), 1e-9)
}

func TestNewScorer_RuleByDefault(t *testing.T) {
	logger := log.NewStdLogger(os.Stdout)

	s := NewScorer(&conf.Quota{Strategy: StrategyBestQuality}, nil, logger)
	_, ok := s.(*RuleScorer)
	assert.True(t, ok)
}

func TestNewScorer_MlEnabledWithoutModelFallsBack(t *testing.T) {
	logger := log.NewStdLogger(os.Stdout)

	s := NewScorer(&conf.Quota{MlEnabled: true}, nil, logger)
	_, ok := s.(*RuleScorer)
	assert.True(t, ok)
}

func TestNewScorer_MlEnabledWithModelBlends(t *testing.T) {
	logger := log.NewStdLogger(os.Stdout)

	s := NewScorer(&conf.Quota{MlEnabled: true}, fixedScorer{v: 1}, logger)
	_, ok := s.(*BlendedScorer)
	assert.True(t, ok)
}

func TestRuleScorer_ZeroLatencySkipsDivergenceRule(t *testing.T) {
	s := NewRuleScorer(nil)

	f := healthyFeatures()
	f.AvgResponseMs = 0
	f.RecentAvgResponseMs = 0

	assert.False(t, math.IsNaN(s.Score(f, StrategyBestQuality)))
}
