package log

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func testEncoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		MessageKey:     "msg",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.SecondsDurationEncoder,
	}
}

func encode(t *testing.T, entry zapcore.Entry, fields []zapcore.Field) string {
	t.Helper()
	enc := NewEmojiConsoleEncoder(testEncoderConfig())
	buf, err := enc.EncodeEntry(entry, fields)
	require.NoError(t, err)
	return buf.String()
}

func TestEmojiEncoder_TypeFieldMapping(t *testing.T) {
	tests := []struct {
		logType string
		emoji   string
	}{
		{"breaker", "🔌"},
		{"quota", "📊"},
		{"routing", "🧭"},
		{"retry", "🔁"},
		{"rate_limit", "🚦"},
		{"redis", "📦"},
		{"audit", "📋"},
		{"startup", "🚀"},
	}

	for _, tt := range tests {
		t.Run(tt.logType, func(t *testing.T) {
			out := encode(t,
				zapcore.Entry{Level: zapcore.InfoLevel, Time: time.Now(), Message: "hello"},
				[]zapcore.Field{{Key: "type", Type: zapcore.StringType, String: tt.logType}},
			)
			assert.Contains(t, out, tt.emoji+" hello")
		})
	}
}

func TestEmojiEncoder_StatusCodeWinsOverType(t *testing.T) {
	out := encode(t,
		zapcore.Entry{Level: zapcore.InfoLevel, Time: time.Now(), Message: "request done"},
		[]zapcore.Field{
			{Key: "type", Type: zapcore.StringType, String: "request"},
			{Key: "status", Type: zapcore.Int64Type, Integer: 503},
		},
	)
	assert.Contains(t, out, "🔴 request done")
}

func TestEmojiEncoder_StatusCodeBands(t *testing.T) {
	tests := []struct {
		status int64
		emoji  string
	}{
		{200, "🟢"},
		{302, "🟡"},
		{404, "🟠"},
		{500, "🔴"},
	}

	for _, tt := range tests {
		out := encode(t,
			zapcore.Entry{Level: zapcore.InfoLevel, Time: time.Now(), Message: "req"},
			[]zapcore.Field{{Key: "status", Type: zapcore.Int64Type, Integer: tt.status}},
		)
		assert.Contains(t, out, tt.emoji+" req")
	}
}

func TestEmojiEncoder_LevelFallback(t *testing.T) {
	tests := []struct {
		level zapcore.Level
		emoji string
	}{
		{zapcore.DebugLevel, "🐛"},
		{zapcore.InfoLevel, "ℹ️"},
		{zapcore.WarnLevel, "⚠️"},
		{zapcore.ErrorLevel, "❌"},
	}

	for _, tt := range tests {
		out := encode(t,
			zapcore.Entry{Level: tt.level, Time: time.Now(), Message: "plain"},
			nil,
		)
		assert.Contains(t, out, tt.emoji+" plain")
	}
}

func TestEmojiEncoder_UnknownTypeUsesLevelEmoji(t *testing.T) {
	out := encode(t,
		zapcore.Entry{Level: zapcore.InfoLevel, Time: time.Now(), Message: "m"},
		[]zapcore.Field{{Key: "type", Type: zapcore.StringType, String: "no_such_type"}},
	)
	assert.Contains(t, out, "ℹ️ m")
}

func TestEmojiEncoder_Clone(t *testing.T) {
	enc := NewEmojiConsoleEncoder(testEncoderConfig())
	clone := enc.Clone()
	require.NotNil(t, clone)
	_, ok := clone.(*EmojiConsoleEncoder)
	assert.True(t, ok)
}

func TestAddEmojiToMap(t *testing.T) {
	AddEmojiToMap("custom_type", "🎉")
	defer delete(emojiMap, "custom_type")

	m := GetEmojiMap()
	assert.Equal(t, "🎉", m["custom_type"])

	// Returned map is a copy
	m["custom_type"] = "changed"
	assert.Equal(t, "🎉", GetEmojiMap()["custom_type"])
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "5ms", formatDuration(5))
	assert.Equal(t, "999ms", formatDuration(999))
	assert.Equal(t, "1.0s", formatDuration(1000))
	assert.Equal(t, "2.5s", formatDuration(2500))
}
