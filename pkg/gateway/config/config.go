package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Addr string

	// If true, client identity may be derived from proxy headers like X-Forwarded-For.
	// This should only be enabled when the gateway is deployed behind a trusted proxy/LB.
	TrustProxyHeaders bool

	MaxBodyBytes int64

	// CORS
	CORSAllowedOrigins map[string]struct{} // empty => disabled

	// Storage
	DatabaseURL string

	// Speech provider
	ProviderAPIKey string
	CredentialTTL  time.Duration

	// Admission quotas. A credit is CreditUnitSeconds of session time.
	DailyCreditLimit    int
	LifetimeCreditLimit int
	CreditUnitSeconds   int
	AdmissionGrace      time.Duration
	// FailOpenOnError admits sessions when the usage store is unreachable.
	// Defaults to false: the limiter fails closed.
	FailOpenOnError bool

	// Janitor
	InactivityTimeout time.Duration
	HeartbeatTimeout  time.Duration
	JanitorInterval   time.Duration

	// Conversation logger
	FlushInterval time.Duration
	MaxBatchSize  int

	// In-memory per-identity request limits (cheap pre-filter ahead of the
	// durable admission check).
	LimitRPS          float64
	LimitBurst        int
	MaxConcurrentLive int

	// Live relay websocket
	LiveMaxMessageBytes int64
	LiveReadTimeout     time.Duration

	// Cost accounting
	PricingPath  string
	StripeAPIKey string

	// Operational defaults
	ReadHeaderTimeout   time.Duration
	ReadTimeout         time.Duration
	ShutdownGracePeriod time.Duration
}

func LoadFromEnv() (Config, error) {
	cfg := Config{
		Addr:                envOr("VOICEGATE_ADDR", ":8080"),
		TrustProxyHeaders:   envBoolOr("VOICEGATE_TRUST_PROXY_HEADERS", false),
		MaxBodyBytes:        envInt64Or("VOICEGATE_MAX_BODY_BYTES", 1<<20), // 1 MiB
		CORSAllowedOrigins:  make(map[string]struct{}),
		DatabaseURL:         strings.TrimSpace(os.Getenv("VOICEGATE_DATABASE_URL")),
		ProviderAPIKey:      strings.TrimSpace(os.Getenv("VOICEGATE_PROVIDER_API_KEY")),
		CredentialTTL:       envDurationOr("VOICEGATE_CREDENTIAL_TTL", 90*time.Second),
		DailyCreditLimit:    envIntOr("VOICEGATE_DAILY_CREDIT_LIMIT", 5),
		LifetimeCreditLimit: envIntOr("VOICEGATE_LIFETIME_CREDIT_LIMIT", 15),
		CreditUnitSeconds:   envIntOr("VOICEGATE_CREDIT_UNIT_SECONDS", 60),
		AdmissionGrace:      envDurationOr("VOICEGATE_ADMISSION_GRACE", 30*time.Second),
		FailOpenOnError:     envBoolOr("VOICEGATE_FAIL_OPEN_ON_ERROR", false),
		InactivityTimeout:   envDurationOr("VOICEGATE_INACTIVITY_TIMEOUT", 30*time.Minute),
		HeartbeatTimeout:    envDurationOr("VOICEGATE_HEARTBEAT_TIMEOUT", 15*time.Minute),
		JanitorInterval:     envDurationOr("VOICEGATE_JANITOR_INTERVAL", time.Minute),
		FlushInterval:       envDurationOr("VOICEGATE_FLUSH_INTERVAL", 2*time.Second),
		MaxBatchSize:        envIntOr("VOICEGATE_MAX_BATCH_SIZE", 50),
		LimitRPS:            envFloat64Or("VOICEGATE_RATE_LIMIT_RPS", 2.0),
		LimitBurst:          envIntOr("VOICEGATE_RATE_LIMIT_BURST", 4),
		MaxConcurrentLive:   envIntOr("VOICEGATE_MAX_CONCURRENT_LIVE", 1),
		LiveMaxMessageBytes: envInt64Or("VOICEGATE_LIVE_MAX_MESSAGE_BYTES", 64*1024),
		LiveReadTimeout:     envDurationOr("VOICEGATE_LIVE_READ_TIMEOUT", 60*time.Second),
		PricingPath:         strings.TrimSpace(os.Getenv("VOICEGATE_PRICING_PATH")),
		StripeAPIKey:        strings.TrimSpace(os.Getenv("VOICEGATE_STRIPE_API_KEY")),
		ReadHeaderTimeout:   envDurationOr("VOICEGATE_READ_HEADER_TIMEOUT", 10*time.Second),
		ReadTimeout:         envDurationOr("VOICEGATE_READ_TIMEOUT", 30*time.Second),
		ShutdownGracePeriod: envDurationOr("VOICEGATE_SHUTDOWN_GRACE_PERIOD", 30*time.Second),
	}

	for _, origin := range splitCSV(os.Getenv("VOICEGATE_CORS_ORIGINS")) {
		cfg.CORSAllowedOrigins[origin] = struct{}{}
	}

	if cfg.MaxBodyBytes <= 0 {
		return Config{}, fmt.Errorf("VOICEGATE_MAX_BODY_BYTES must be > 0")
	}
	if cfg.CredentialTTL <= 0 {
		return Config{}, fmt.Errorf("VOICEGATE_CREDENTIAL_TTL must be > 0")
	}
	if cfg.DailyCreditLimit <= 0 {
		return Config{}, fmt.Errorf("VOICEGATE_DAILY_CREDIT_LIMIT must be > 0")
	}
	if cfg.LifetimeCreditLimit <= 0 {
		return Config{}, fmt.Errorf("VOICEGATE_LIFETIME_CREDIT_LIMIT must be > 0")
	}
	if cfg.LifetimeCreditLimit < cfg.DailyCreditLimit {
		return Config{}, fmt.Errorf("VOICEGATE_LIFETIME_CREDIT_LIMIT must be >= VOICEGATE_DAILY_CREDIT_LIMIT")
	}
	if cfg.CreditUnitSeconds <= 0 {
		return Config{}, fmt.Errorf("VOICEGATE_CREDIT_UNIT_SECONDS must be > 0")
	}
	if cfg.AdmissionGrace <= 0 {
		return Config{}, fmt.Errorf("VOICEGATE_ADMISSION_GRACE must be > 0")
	}
	if cfg.InactivityTimeout <= 0 {
		return Config{}, fmt.Errorf("VOICEGATE_INACTIVITY_TIMEOUT must be > 0")
	}
	if cfg.HeartbeatTimeout <= 0 {
		return Config{}, fmt.Errorf("VOICEGATE_HEARTBEAT_TIMEOUT must be > 0")
	}
	if cfg.JanitorInterval <= 0 {
		return Config{}, fmt.Errorf("VOICEGATE_JANITOR_INTERVAL must be > 0")
	}
	if cfg.FlushInterval <= 0 {
		return Config{}, fmt.Errorf("VOICEGATE_FLUSH_INTERVAL must be > 0")
	}
	if cfg.MaxBatchSize <= 0 {
		return Config{}, fmt.Errorf("VOICEGATE_MAX_BATCH_SIZE must be > 0")
	}
	if cfg.LimitRPS < 0 {
		return Config{}, fmt.Errorf("VOICEGATE_RATE_LIMIT_RPS must be >= 0")
	}
	if cfg.LimitBurst < 0 {
		return Config{}, fmt.Errorf("VOICEGATE_RATE_LIMIT_BURST must be >= 0")
	}
	if cfg.MaxConcurrentLive < 0 {
		return Config{}, fmt.Errorf("VOICEGATE_MAX_CONCURRENT_LIVE must be >= 0")
	}
	if cfg.LiveMaxMessageBytes <= 0 {
		return Config{}, fmt.Errorf("VOICEGATE_LIVE_MAX_MESSAGE_BYTES must be > 0")
	}
	if cfg.LiveReadTimeout <= 0 {
		return Config{}, fmt.Errorf("VOICEGATE_LIVE_READ_TIMEOUT must be > 0")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		return Config{}, fmt.Errorf("VOICEGATE_READ_HEADER_TIMEOUT must be > 0")
	}
	if cfg.ReadTimeout <= 0 {
		return Config{}, fmt.Errorf("VOICEGATE_READ_TIMEOUT must be > 0")
	}
	if cfg.ShutdownGracePeriod <= 0 {
		return Config{}, fmt.Errorf("VOICEGATE_SHUTDOWN_GRACE_PERIOD must be > 0")
	}

	return cfg, nil
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envInt64Or(key string, def int64) int64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func envIntOr(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func envFloat64Or(key string, def float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return def
	}
	return n
}

func envBoolOr(key string, def bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	switch strings.ToLower(raw) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	case "0", "false", "f", "no", "n", "off":
		return false
	default:
		return def
	}
}

func envDurationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}

func splitCSV(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
