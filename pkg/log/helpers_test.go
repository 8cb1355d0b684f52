package log

import (
	"context"
	"strings"
	"testing"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingLogger captures keyvals passed through the Kratos log interface.
type recordingLogger struct {
	entries [][]interface{}
}

func (r *recordingLogger) Log(level log.Level, keyvals ...interface{}) error {
	entry := append([]interface{}{level}, keyvals...)
	r.entries = append(r.entries, entry)
	return nil
}

func (r *recordingLogger) lastKV(key string) (interface{}, bool) {
	if len(r.entries) == 0 {
		return nil, false
	}
	last := r.entries[len(r.entries)-1]
	for i := 1; i < len(last)-1; i += 2 {
		if last[i] == key {
			return last[i+1], true
		}
	}
	return nil, false
}

func TestLogHelper_TypeFieldPerCategory(t *testing.T) {
	tests := []struct {
		name     string
		logFn    func(h *LogHelper)
		wantType string
	}{
		{"api", func(h *LogHelper) { h.API("upstream call") }, "api"},
		{"rate_limit", func(h *LogHelper) { h.RateLimit("pacing") }, "rate_limit"},
		{"breaker", func(h *LogHelper) { h.Breaker("state change") }, "breaker"},
		{"quota", func(h *LogHelper) { h.Quota("usage recorded") }, "quota"},
		{"routing", func(h *LogHelper) { h.Routing("provider selected") }, "routing"},
		{"retry", func(h *LogHelper) { h.Retry("attempt failed") }, "retry"},
		{"success", func(h *LogHelper) { h.Success("done") }, "success"},
		{"database", func(h *LogHelper) { h.Database("insert") }, "database"},
		{"redis", func(h *LogHelper) { h.Redis("get") }, "redis"},
		{"scheduler", func(h *LogHelper) { h.Scheduler("tick") }, "scheduler"},
		{"startup", func(h *LogHelper) { h.Startup("listening") }, "startup"},
		{"performance", func(h *LogHelper) { h.Performance("slow path") }, "performance"},
		{"audit", func(h *LogHelper) { h.Audit("recorded") }, "audit"},
		{"security", func(h *LogHelper) { h.Security("rejected") }, "security"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recordingLogger{}
			h := NewLogHelper(rec)

			tt.logFn(h)

			got, ok := rec.lastKV("type")
			require.True(t, ok, "type field missing")
			assert.Equal(t, tt.wantType, got)
		})
	}
}

func TestLogHelper_RequestIncludesMethodAndStatus(t *testing.T) {
	rec := &recordingLogger{}
	h := NewLogHelper(rec)

	h.Request("GET", "/admin/quotas", 200, 42)

	method, ok := rec.lastKV("method")
	require.True(t, ok)
	assert.Equal(t, "GET", method)

	status, ok := rec.lastKV("status")
	require.True(t, ok)
	assert.Equal(t, 200, status)

	msg, ok := rec.lastKV("msg")
	require.True(t, ok)
	assert.Contains(t, msg.(string), "GET /admin/quotas - 200 (42ms)")
}

func TestLogHelper_RoutingDecisionExtractsRequestID(t *testing.T) {
	rec := &recordingLogger{}
	h := NewLogHelper(rec)

	ctx := WithRequestContext(context.Background(), "abc123defg", "serpapi", "serp")
	h.RoutingDecision(ctx, "serpapi", "serp", "best_quality", 59.2)

	reqID, ok := rec.lastKV("request_id")
	require.True(t, ok)
	assert.Equal(t, "abc123defg", reqID)

	msg, _ := rec.lastKV("msg")
	assert.Contains(t, msg.(string), "[abc123defg] Routed to serpapi")
}

func TestLogHelper_RequestWithContextFlagsSlowRequests(t *testing.T) {
	rec := &recordingLogger{}
	h := NewLogHelper(rec)

	ctx := WithRequestContext(context.Background(), "slowreq001", "", "")
	h.RequestWithContext(ctx, "POST", "/route", 200, 5000)

	// Two entries: the request log plus the slow-request warning
	require.Len(t, rec.entries, 2)
	typ, ok := rec.lastKV("type")
	require.True(t, ok)
	assert.Equal(t, "slow_request", typ)
}

func TestLogHelper_RequestWithContextFastRequestNoWarning(t *testing.T) {
	rec := &recordingLogger{}
	h := NewLogHelper(rec)

	h.RequestWithContext(context.Background(), "GET", "/health", 200, 10)

	require.Len(t, rec.entries, 1)
}

func TestLogHelper_UnknownContextDefaults(t *testing.T) {
	rec := &recordingLogger{}
	h := NewLogHelper(rec)

	h.APIWithContext(context.Background(), "no tracing info")

	reqID, ok := rec.lastKV("request_id")
	require.True(t, ok)
	assert.Equal(t, "unknown", reqID)
}

func TestGenerateRequestID(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := GenerateRequestID()
		assert.Len(t, id, 10)
		assert.Equal(t, strings.ToLower(id), id)
		assert.False(t, seen[id], "duplicate request ID %s", id)
		seen[id] = true
	}
}
