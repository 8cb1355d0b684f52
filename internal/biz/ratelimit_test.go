package biz

import (
	"context"
	"os"
	"testing"
	"time"

	"RankRouter/internal/conf"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRateLimiter(enabled bool, rps float64) *RateLimiterUseCase {
	return NewRateLimiterUseCase(&conf.RateLimit{
		Enabled:           enabled,
		RequestsPerSecond: rps,
	}, log.NewStdLogger(os.Stdout))
}

func TestRateLimiter_EnforcesMinimumInterval(t *testing.T) {
	uc := newTestRateLimiter(true, 10) // 100ms minimum gap
	ctx := context.Background()

	var stamps []time.Time
	for i := 0; i < 4; i++ {
		require.NoError(t, uc.WaitIfNeeded(ctx, "serp", "rest", "/search"))
		stamps = append(stamps, time.Now())
	}

	for i := 1; i < len(stamps); i++ {
		gap := stamps[i].Sub(stamps[i-1])
		// Allow a small scheduling tolerance below the nominal 100ms
		assert.GreaterOrEqual(t, gap, 90*time.Millisecond,
			"gap %d was %v", i, gap)
	}
}

func TestRateLimiter_KeysAreIndependent(t *testing.T) {
	uc := newTestRateLimiter(true, 2) // 500ms per key
	ctx := context.Background()

	start := time.Now()
	require.NoError(t, uc.WaitIfNeeded(ctx, "serp", "rest", "/search"))
	require.NoError(t, uc.WaitIfNeeded(ctx, "serp", "rest", "/rankings"))
	require.NoError(t, uc.WaitIfNeeded(ctx, "keyword", "rest", "/search"))

	// First call on each distinct key proceeds without pacing
	assert.Less(t, time.Since(start), 200*time.Millisecond)
}

func TestRateLimiter_DisabledIsNoOp(t *testing.T) {
	uc := newTestRateLimiter(false, 1)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 20; i++ {
		require.NoError(t, uc.WaitIfNeeded(ctx, "serp", "rest", "/search"))
	}
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestRateLimiter_ContextCancellationAborts(t *testing.T) {
	uc := newTestRateLimiter(true, 0.1) // 10s gap: second call must wait
	ctx, cancel := context.WithCancel(context.Background())

	require.NoError(t, uc.WaitIfNeeded(ctx, "serp", "rest", "/search"))

	done := make(chan error, 1)
	go func() {
		done <- uc.WaitIfNeeded(ctx, "serp", "rest", "/search")
	}()
	cancel()

	select {
	case err := <-done:
		require.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("waiter did not abort on context cancellation")
	}
}

func TestRateLimitKey(t *testing.T) {
	assert.Equal(t, "serp:rest:/search", rateLimitKey("serp", "rest", "/search"))
}
