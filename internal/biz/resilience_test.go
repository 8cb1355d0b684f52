package biz

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"RankRouter/internal/conf"
	"RankRouter/internal/model"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/durationpb"
)

func testRateLimitConf() *conf.RateLimit {
	return &conf.RateLimit{
		Enabled:            true,
		RequestsPerSecond:  100,
		MaxRetries:         3,
		RetryBackoffFactor: 2,
		InitialDelay:       durationpb.New(100 * time.Millisecond),
		MaxDelay:           durationpb.New(time.Second),
	}
}

// newTestOrchestrator wires a resilience orchestrator over an in-memory
// breaker, with sleeping stubbed out.
func newTestOrchestrator(t *testing.T, breakerEnabled bool) (*ResilienceUsecase, *CircuitBreakerUsecase, *[]time.Duration) {
	t.Helper()
	logger := log.NewStdLogger(os.Stdout)
	breaker := NewCircuitBreakerUsecase(testBreakerConf(breakerEnabled), newMemBreakerRepo(), &fakeAudit{}, logger)

	uc := NewResilienceUsecase(testRateLimitConf(), testBreakerConf(breakerEnabled), breaker, logger)

	var slept []time.Duration
	uc.sleep = func(d time.Duration) { slept = append(slept, d) }
	return uc, breaker, &slept
}

func TestResilience_SuccessFirstAttempt(t *testing.T) {
	uc, breaker, slept := newTestOrchestrator(t, true)
	ctx := context.Background()

	calls := 0
	result, err := uc.Execute(ctx, testKey, func(ctx context.Context) (interface{}, error) {
		calls++
		return "serp-page-1", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "serp-page-1", result)
	assert.Equal(t, 1, calls)
	assert.Empty(t, *slept)

	status, err := breaker.Status(ctx, testKey)
	require.NoError(t, err)
	assert.Equal(t, model.StateClosed, status.State)
}

func TestResilience_TransientFailureRetriesThenSucceeds(t *testing.T) {
	uc, _, slept := newTestOrchestrator(t, true)
	ctx := context.Background()

	calls := 0
	result, err := uc.Execute(ctx, testKey, func(ctx context.Context) (interface{}, error) {
		calls++
		if calls <= 2 {
			return nil, &HTTPStatusError{StatusCode: 503}
		}
		return "recovered", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "recovered", result)
	assert.Equal(t, 3, calls)
	// Backed off between attempts 0->1 and 1->2
	assert.Len(t, *slept, 2)
}

func TestResilience_RetriesExhausted(t *testing.T) {
	uc, breaker, _ := newTestOrchestrator(t, true)
	ctx := context.Background()

	calls := 0
	upstream := &HTTPStatusError{StatusCode: 502}
	_, err := uc.Execute(ctx, testKey, func(ctx context.Context) (interface{}, error) {
		calls++
		return nil, upstream
	})

	require.Error(t, err)
	// maxRetries=3 means 4 attempts total
	assert.Equal(t, 4, calls)

	var exhausted *RetryExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, testKey, exhausted.Key)
	assert.Equal(t, 4, exhausted.Attempts)
	assert.ErrorIs(t, err, upstream)

	// Every failed attempt counted against the breaker
	status, err := breaker.Status(ctx, testKey)
	require.NoError(t, err)
	assert.Equal(t, model.StateOpen, status.State)
}

func TestResilience_NonRetryableFailsImmediately(t *testing.T) {
	uc, breaker, slept := newTestOrchestrator(t, true)
	ctx := context.Background()

	calls := 0
	_, err := uc.Execute(ctx, testKey, func(ctx context.Context) (interface{}, error) {
		calls++
		return nil, &HTTPStatusError{StatusCode: 404}
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Empty(t, *slept)

	var httpErr *HTTPStatusError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, 404, httpErr.StatusCode)

	// Still recorded as a breaker failure
	status, err := breaker.Status(ctx, testKey)
	require.NoError(t, err)
	assert.Equal(t, int32(1), status.FailureCount)
}

func TestResilience_TooManyRequestsIsRetryable(t *testing.T) {
	uc, _, _ := newTestOrchestrator(t, true)
	ctx := context.Background()

	calls := 0
	result, err := uc.Execute(ctx, testKey, func(ctx context.Context) (interface{}, error) {
		calls++
		if calls == 1 {
			return nil, &HTTPStatusError{StatusCode: 429}
		}
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, 2, calls)
}

func TestResilience_OpenBreakerRejectsWithoutAttempt(t *testing.T) {
	uc, breaker, _ := newTestOrchestrator(t, true)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		breaker.RecordFailure(ctx, testKey)
	}

	calls := 0
	_, err := uc.Execute(ctx, testKey, func(ctx context.Context) (interface{}, error) {
		calls++
		return nil, nil
	})

	require.Error(t, err)
	var open *CircuitOpenError
	require.ErrorAs(t, err, &open)
	assert.Equal(t, testKey, open.Key)
	assert.False(t, open.NextAttempt.IsZero())
	// No network attempt was made
	assert.Equal(t, 0, calls)
}

func TestResilience_DisabledBreakerSkipsGating(t *testing.T) {
	uc, breaker, _ := newTestOrchestrator(t, false)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		breaker.RecordFailure(ctx, testKey)
	}

	result, err := uc.Execute(ctx, testKey, func(ctx context.Context) (interface{}, error) {
		return "through", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "through", result)
}

func TestResilience_AttemptTimeoutIsTransient(t *testing.T) {
	uc, _, slept := newTestOrchestrator(t, true)
	uc.attemptTimeout = 20 * time.Millisecond
	ctx := context.Background()

	calls := 0
	result, err := uc.Execute(ctx, testKey, func(ctx context.Context) (interface{}, error) {
		calls++
		if calls == 1 {
			// Simulate a hung upstream: block until the attempt deadline
			<-ctx.Done()
			return nil, ctx.Err()
		}
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, 2, calls)
	assert.Len(t, *slept, 1)
}

func TestResilience_UnknownErrorIsNotRetried(t *testing.T) {
	uc, _, _ := newTestOrchestrator(t, true)
	ctx := context.Background()

	calls := 0
	boom := errors.New("unexpected response shape")
	_, err := uc.Execute(ctx, testKey, func(ctx context.Context) (interface{}, error) {
		calls++
		return nil, boom
	})

	require.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"5xx", &HTTPStatusError{StatusCode: 500}, true},
		{"503", &HTTPStatusError{StatusCode: 503}, true},
		{"429", &HTTPStatusError{StatusCode: 429}, true},
		{"404", &HTTPStatusError{StatusCode: 404}, false},
		{"401", &HTTPStatusError{StatusCode: 401}, false},
		{"deadline", context.DeadlineExceeded, true},
		{"wrapped non-retryable", &NonRetryableError{Err: errors.New("bad payload")}, false},
		{"plain error", errors.New("boom"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}
