// Package conf provides configuration management using Viper.
// It supports loading configuration from YAML files and environment variables,
// with CLI flag overrides.
package conf

import (
	"fmt"
	"strings"
	"time"

	"RankRouter/pkg/crypto"
	"RankRouter/pkg/metadata"

	"github.com/spf13/viper"
	"google.golang.org/protobuf/types/known/durationpb"
)

// NewBootstrap creates and initializes a Bootstrap configuration.
// It loads configuration from the specified config file path, applies defaults,
// and allows overrides from environment variables prefixed with RANKROUTER_.
//
// Configuration priority: CLI flags > Environment variables > Config file > Defaults
//
// Parameters:
//   - configPath: Path to the configuration file or directory
//
// Returns:
//   - *Bootstrap: Loaded configuration
//   - error: Configuration loading or validation error
func NewBootstrap(configPath string) (*Bootstrap, error) {
	v := viper.New()

	// Set default values
	setDefaults(v)

	// Enable environment variable support with RANKROUTER_ prefix
	v.SetEnvPrefix("RANKROUTER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Allow direct environment variable names (without RANKROUTER_ prefix) for compatibility
	_ = v.BindEnv("data.database.source", "MYSQL_DSN", "RANKROUTER_DATA_DATABASE_SOURCE")
	_ = v.BindEnv("data.redis.addr", "REDIS_ADDR", "RANKROUTER_DATA_REDIS_ADDR")
	_ = v.BindEnv("security.encryption_key", "ENCRYPTION_KEY", "RANKROUTER_SECURITY_ENCRYPTION_KEY")

	// Load configuration file
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			// If config file is specified but not found, return error
			return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
		}
	}

	// Parse configuration into Bootstrap structure
	bc := &Bootstrap{
		Server: &Server{
			Http: &Server_HTTP{
				Network: v.GetString("server.http.network"),
				Addr:    v.GetString("server.http.addr"),
				Timeout: durationpb.New(v.GetDuration("server.http.timeout")),
			},
		},
		Data: &Data{
			Database: &Data_Database{
				Driver: v.GetString("data.database.driver"),
				Source: v.GetString("data.database.source"),
			},
			Redis: &Data_Redis{
				Network:      v.GetString("data.redis.network"),
				Addr:         v.GetString("data.redis.addr"),
				ReadTimeout:  durationpb.New(v.GetDuration("data.redis.read_timeout")),
				WriteTimeout: durationpb.New(v.GetDuration("data.redis.write_timeout")),
			},
		},
		Breaker: &Breaker{
			Enabled:           v.GetBool("circuit_breaker.enabled"),
			FailureThreshold:  v.GetInt32("circuit_breaker.failure_threshold"),
			RecoveryTimeout:   durationpb.New(v.GetDuration("circuit_breaker.recovery_timeout")),
			SuccessThreshold:  v.GetInt32("circuit_breaker.success_threshold"),
			TimeoutDuration:   durationpb.New(v.GetDuration("circuit_breaker.timeout_duration")),
			CacheSyncInterval: durationpb.New(v.GetDuration("circuit_breaker.cache_sync_interval")),
		},
		RateLimit: &RateLimit{
			Enabled:            v.GetBool("rate_limiter.enabled"),
			RequestsPerSecond:  v.GetFloat64("rate_limiter.requests_per_second"),
			MaxRetries:         v.GetInt32("rate_limiter.max_retries"),
			RetryBackoffFactor: v.GetFloat64("rate_limiter.retry_backoff_factor"),
			InitialDelay:       durationpb.New(v.GetDuration("rate_limiter.initial_delay")),
			MaxDelay:           durationpb.New(v.GetDuration("rate_limiter.max_delay")),
		},
		Quota: &Quota{
			Strategy:                v.GetString("quota.strategy"),
			MlEnabled:               v.GetBool("quota.ml_enabled"),
			RecentWindowSize:        v.GetInt32("quota.recent_window_size"),
			ResponseTimeThresholdMs: v.GetFloat64("quota.response_time_threshold_ms"),
			ExhaustionWarningDays:   v.GetInt32("quota.exhaustion_warning_days"),
			Providers:               parseProviders(v),
		},
		Security: &Security{
			EncryptionKey: v.GetString("security.encryption_key"),
		},
		Log: &Log{
			Level:      v.GetString("log.level"),
			Format:     v.GetString("log.format"),
			Env:        v.GetString("log.env"),
			OutputFile: v.GetString("log.output_file"),
		},
	}

	// Decrypt provider credentials before validation so a bad key or
	// ciphertext fails startup, not the first request.
	if err := decryptProviderKeys(bc); err != nil {
		return nil, err
	}

	// Validate required fields
	if err := Validate(bc); err != nil {
		return nil, err
	}

	return bc, nil
}

// encPrefix marks a provider api_key value as AES-256-GCM encrypted.
const encPrefix = "enc:"

// decryptProviderKeys replaces "enc:"-prefixed provider api_key values with
// their decrypted plaintext. Plain api_key values pass through unchanged.
func decryptProviderKeys(bc *Bootstrap) error {
	if bc.Quota == nil {
		return nil
	}

	var aesCrypto *crypto.AESCrypto
	for name, p := range bc.Quota.Providers {
		if !strings.HasPrefix(p.ApiKey, encPrefix) {
			continue
		}
		if aesCrypto == nil {
			if bc.Security == nil || bc.Security.EncryptionKey == "" {
				return fmt.Errorf("quota.providers.%s.api_key is encrypted but security.encryption_key is not set", name)
			}
			var err error
			aesCrypto, err = crypto.NewAESCrypto([]byte(bc.Security.EncryptionKey))
			if err != nil {
				return fmt.Errorf("invalid security.encryption_key: %w", err)
			}
		}
		plaintext, err := aesCrypto.Decrypt(strings.TrimPrefix(p.ApiKey, encPrefix))
		if err != nil {
			return fmt.Errorf("failed to decrypt quota.providers.%s.api_key: %w", name, err)
		}
		p.ApiKey = plaintext
	}

	return nil
}

// parseProviders reads the per-provider quota table.
// Each entry lives under quota.providers.<name> in the config file.
func parseProviders(v *viper.Viper) map[string]*Quota_Provider {
	providers := make(map[string]*Quota_Provider)

	raw := v.GetStringMap("quota.providers")
	for name := range raw {
		prefix := "quota.providers." + name

		// Per-entry defaults: enabled, unlimited, reset on the 1st
		entry := &Quota_Provider{
			Enabled:         true,
			MonthlyLimit:    -1,
			ResetDayOfMonth: 1,
			QualityScore:    1,
		}
		if v.IsSet(prefix + ".enabled") {
			entry.Enabled = v.GetBool(prefix + ".enabled")
		}
		if v.IsSet(prefix + ".api_key") {
			entry.ApiKey = v.GetString(prefix + ".api_key")
		}
		if v.IsSet(prefix + ".monthly_limit") {
			entry.MonthlyLimit = v.GetInt64(prefix + ".monthly_limit")
		}
		if v.IsSet(prefix + ".reset_day_of_month") {
			entry.ResetDayOfMonth = v.GetInt32(prefix + ".reset_day_of_month")
		}
		if v.IsSet(prefix + ".cost_per_unit") {
			entry.CostPerUnit = v.GetFloat64(prefix + ".cost_per_unit")
		}
		if v.IsSet(prefix + ".quality_score") {
			entry.QualityScore = v.GetFloat64(prefix + ".quality_score")
		}
		if v.IsSet(prefix + ".supported_query_types") {
			entry.SupportedQueryTypes = v.GetStringSlice(prefix + ".supported_query_types")
		}
		if v.IsSet(prefix + ".metadata") {
			entry.Metadata = v.GetString(prefix + ".metadata")
		}

		providers[name] = entry
	}

	return providers
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.http.network", "tcp")
	v.SetDefault("server.http.addr", ":8080")
	v.SetDefault("server.http.timeout", 5*time.Minute)

	// Data defaults
	v.SetDefault("data.database.driver", "mysql")
	// Note: data.database.source (MYSQL_DSN) is optional; the audit trail
	// degrades to log-only when it is absent.

	v.SetDefault("data.redis.network", "tcp")
	v.SetDefault("data.redis.addr", "127.0.0.1:6379")
	v.SetDefault("data.redis.read_timeout", 200*time.Millisecond)
	v.SetDefault("data.redis.write_timeout", 200*time.Millisecond)

	// Circuit breaker defaults
	v.SetDefault("circuit_breaker.enabled", true)
	v.SetDefault("circuit_breaker.failure_threshold", 5)
	v.SetDefault("circuit_breaker.recovery_timeout", 60*time.Second)
	v.SetDefault("circuit_breaker.success_threshold", 3)
	v.SetDefault("circuit_breaker.timeout_duration", 30*time.Second)
	v.SetDefault("circuit_breaker.cache_sync_interval", 5*time.Second)

	// Rate limiter / retry defaults
	v.SetDefault("rate_limiter.enabled", true)
	v.SetDefault("rate_limiter.requests_per_second", 2.0)
	v.SetDefault("rate_limiter.max_retries", 3)
	v.SetDefault("rate_limiter.retry_backoff_factor", 2.0)
	v.SetDefault("rate_limiter.initial_delay", 500*time.Millisecond)
	v.SetDefault("rate_limiter.max_delay", 30*time.Second)

	// Quota routing defaults
	v.SetDefault("quota.strategy", "best_quality")
	v.SetDefault("quota.ml_enabled", false)
	v.SetDefault("quota.recent_window_size", 50)
	v.SetDefault("quota.response_time_threshold_ms", 2000)
	v.SetDefault("quota.exhaustion_warning_days", 7)

	// Log defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// Validate checks that all required configuration fields are present and valid.
// It returns an error listing all invalid fields.
func Validate(bc *Bootstrap) error {
	var invalid []string

	if bc.Breaker != nil && bc.Breaker.Enabled {
		if bc.Breaker.FailureThreshold <= 0 {
			invalid = append(invalid, "circuit_breaker.failure_threshold (must be > 0)")
		}
		if bc.Breaker.SuccessThreshold <= 0 {
			invalid = append(invalid, "circuit_breaker.success_threshold (must be > 0)")
		}
		if bc.Breaker.RecoveryTimeout.AsDuration() <= 0 {
			invalid = append(invalid, "circuit_breaker.recovery_timeout (must be > 0)")
		}
	}

	if bc.RateLimit != nil && bc.RateLimit.Enabled && bc.RateLimit.RequestsPerSecond <= 0 {
		invalid = append(invalid, "rate_limiter.requests_per_second (must be > 0)")
	}
	if bc.RateLimit != nil && bc.RateLimit.MaxRetries < 0 {
		invalid = append(invalid, "rate_limiter.max_retries (must be >= 0)")
	}

	if bc.Quota != nil {
		switch bc.Quota.Strategy {
		case "best_quality", "quota_optimized":
		default:
			invalid = append(invalid, fmt.Sprintf("quota.strategy (unknown strategy %q)", bc.Quota.Strategy))
		}
		for name, p := range bc.Quota.Providers {
			if p.ResetDayOfMonth < 1 || p.ResetDayOfMonth > 31 {
				invalid = append(invalid, fmt.Sprintf("quota.providers.%s.reset_day_of_month (must be 1-31)", name))
			}
			if p.MonthlyLimit < -1 {
				invalid = append(invalid, fmt.Sprintf("quota.providers.%s.monthly_limit (must be -1 or >= 0)", name))
			}
			if p.Metadata != "" {
				meta, err := metadata.Parse(p.Metadata)
				if err == nil {
					err = meta.Validate()
				}
				if err != nil {
					invalid = append(invalid, fmt.Sprintf("quota.providers.%s.metadata (%v)", name, err))
				}
			}
		}
	}

	if bc.Security != nil && bc.Security.EncryptionKey != "" && len(bc.Security.EncryptionKey) != 32 {
		invalid = append(invalid, "security.encryption_key (must be exactly 32 bytes)")
	}

	if len(invalid) > 0 {
		return fmt.Errorf("invalid configuration fields: %s", strings.Join(invalid, ", "))
	}

	return nil
}
