// Package conf provides configuration management using Viper.
package conf

import (
	"google.golang.org/protobuf/types/known/durationpb"
)

// Bootstrap is the top-level configuration for the RankRouter service.
type Bootstrap struct {
	Server    *Server
	Data      *Data
	Breaker   *Breaker
	RateLimit *RateLimit
	Quota     *Quota
	Security  *Security
	Log       *Log
}

// Security holds secret handling configuration.
type Security struct {
	// EncryptionKey decrypts provider api_key values carrying the "enc:"
	// prefix. Must be exactly 32 bytes when set.
	EncryptionKey string
}

// Server holds transport server configuration.
type Server struct {
	Http *Server_HTTP
}

// Server_HTTP holds HTTP server configuration.
type Server_HTTP struct {
	Network string
	Addr    string
	Timeout *durationpb.Duration
}

// Data holds data layer configuration (Redis shared store, MySQL audit trail).
type Data struct {
	Database *Data_Database
	Redis    *Data_Redis
}

// Data_Database holds database connection configuration.
type Data_Database struct {
	Driver string
	Source string
}

// Data_Redis holds Redis connection configuration.
type Data_Redis struct {
	Network      string
	Addr         string
	ReadTimeout  *durationpb.Duration
	WriteTimeout *durationpb.Duration
}

// Breaker holds circuit breaker configuration.
// When Enabled is false the breaker behaves as an always-closed pass-through.
type Breaker struct {
	Enabled          bool
	FailureThreshold int32
	RecoveryTimeout  *durationpb.Duration
	SuccessThreshold int32
	// TimeoutDuration bounds each attempt inside the resilience orchestrator.
	TimeoutDuration *durationpb.Duration
	// CacheSyncInterval is the bounded staleness window of the process-local
	// copy of breaker state relative to the shared store.
	CacheSyncInterval *durationpb.Duration
}

// RateLimit holds outbound request pacing and retry configuration.
type RateLimit struct {
	Enabled           bool
	RequestsPerSecond float64
	MaxRetries        int32
	RetryBackoffFactor float64
	InitialDelay       *durationpb.Duration
	MaxDelay           *durationpb.Duration
}

// Quota holds provider quota tracking and routing configuration.
type Quota struct {
	// Strategy selects the scoring strategy: "best_quality" or "quota_optimized".
	Strategy  string
	MlEnabled bool
	// RecentWindowSize is the capacity of the per-provider recent-call ring buffer.
	RecentWindowSize int32
	// ResponseTimeThresholdMs is the latency above which scoring applies a penalty.
	ResponseTimeThresholdMs float64
	// ExhaustionWarningDays is the window before predicted quota exhaustion in
	// which scoring penalizes a provider.
	ExhaustionWarningDays int32
	Providers             map[string]*Quota_Provider
}

// Quota_Provider is the per-provider quota table entry.
type Quota_Provider struct {
	Enabled bool
	ApiKey  string
	// MonthlyLimit is the billing-period call allowance; -1 means unlimited.
	MonthlyLimit    int64
	ResetDayOfMonth int32
	CostPerUnit     float64
	QualityScore    float64
	SupportedQueryTypes []string
	// Metadata is an optional JSON document with operational attributes
	// (region, tags, proxy, custom base URL). See pkg/metadata.
	Metadata string
}

// Log holds logging configuration.
type Log struct {
	Level      string
	Format     string
	Env        string
	OutputFile string
}
