// Package middleware provides HTTP middleware for authentication, logging, and request processing.
package middleware

import (
	"context"
	"fmt"
	"strings"
	"time"

	pkglog "RankRouter/pkg/log"

	"github.com/go-kratos/kratos/v2/middleware"
	"github.com/go-kratos/kratos/v2/transport"
	"github.com/go-kratos/kratos/v2/transport/http"
)

// contextKey is a custom type for context keys to avoid collisions
type contextKey string

const (
	// adminKeyContextKey is the context key for storing the admin API key
	adminKeyContextKey contextKey = "admin_key"
	// adminKeyMaskedContextKey is the context key for storing the masked admin key
	adminKeyMaskedContextKey contextKey = "admin_key_masked"
)

// Auth 返回一个 HTTP 认证中间件
// 提取管理接口的 API Key，记录脱敏后的认证日志
//
// 日志输出示例:
//
//	🔒 Admin request authenticated (rr-admin***) in 1ms | {"type":"security","admin_key_masked":"..."}
func Auth(logger *pkglog.LogHelper) middleware.Middleware {
	return func(handler middleware.Handler) middleware.Handler {
		return func(ctx context.Context, req interface{}) (interface{}, error) {
			startTime := time.Now()

			var apiKey string

			// 提取 Authorization header
			if tr, ok := transport.FromServerContext(ctx); ok {
				if ht, ok := tr.(http.Transporter); ok {
					httpReq := ht.Request()

					authHeader := httpReq.Header.Get("Authorization")
					if authHeader != "" {
						// 支持 "Bearer {token}" 格式
						apiKey = strings.TrimPrefix(authHeader, "Bearer ")
						apiKey = strings.TrimSpace(apiKey)
					}

					// 如果 Authorization header 为空，尝试从 X-API-Key header 获取
					if apiKey == "" {
						apiKey = httpReq.Header.Get("X-API-Key")
					}
				}
			}

			// 如果存在 API Key，记录认证日志
			if apiKey != "" {
				authDuration := time.Since(startTime).Milliseconds()

				// 脱敏 API Key（仅显示前 8 位）
				maskedKey := maskAPIKey(apiKey)

				logger.Security(
					"Admin request authenticated ("+maskedKey+") in "+formatDuration(authDuration),
					"admin_key_masked", maskedKey,
					"duration_ms", authDuration,
				)

				// 将 API Key 信息注入上下文（供后续处理使用）
				ctx = context.WithValue(ctx, adminKeyContextKey, apiKey)
				ctx = context.WithValue(ctx, adminKeyMaskedContextKey, maskedKey)
			}

			// 执行后续处理
			return handler(ctx, req)
		}
	}
}

// maskAPIKey 脱敏 API Key，仅显示前 8 位
// 示例: "rr-1234567890abcdef" -> "rr-12345***"
func maskAPIKey(key string) string {
	if len(key) <= 8 {
		// 如果 key 太短，全部脱敏
		return strings.Repeat("*", len(key))
	}

	// 显示前 8 位，其余用 *** 代替
	return key[:8] + "***"
}

// formatDuration 格式化持续时间为易读格式
// 示例: 5ms, 150ms, 2.5s
func formatDuration(ms int64) string {
	if ms < 1000 {
		return fmt.Sprintf("%dms", ms)
	}
	seconds := float64(ms) / 1000.0
	return fmt.Sprintf("%.1fs", seconds)
}
