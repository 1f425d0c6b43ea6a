package core

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// RetryPolicy is the exponential-backoff matrix for transient call
// failures: base 0.5s, factor 2.0, jitter ±20%, capped at MaxAttempts.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelayS  float64
	Factor      float64
	JitterFrac  float64
}

// DefaultRetryPolicy returns the standard backoff parameters.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 5,
		BaseDelayS:  0.5,
		Factor:      2.0,
		JitterFrac:  0.2,
	}
}

// DevFlags are read once from the environment at executor construction
// and cached for the lifetime of that executor: re-reading them per call
// would make a single run's behavior depend on concurrent mutation of
// the environment.
type DevFlags struct {
	PipelineValidate    bool
	TelemetryRawPreview bool
}

// LoadDevFlags reads POLLUX_PIPELINE_VALIDATE and
// POLLUX_TELEMETRY_RAW_PREVIEW. Any value other than "1"/"true" (case
// insensitive) is treated as unset.
func LoadDevFlags() DevFlags {
	return DevFlags{
		PipelineValidate:    envBool("POLLUX_PIPELINE_VALIDATE"),
		TelemetryRawPreview: envBool("POLLUX_TELEMETRY_RAW_PREVIEW"),
	}
}

func envBool(key string) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	return v == "1" || v == "true"
}

// FrozenConfig is the resolved, immutable configuration an Executor is
// built from. Resolution follows a fixed three-layer precedence:
// explicit overrides, then environment variables, then defaults.
// Once built, a FrozenConfig is never mutated.
type FrozenConfig struct {
	APIKey             string
	Provider           string
	DefaultModel       string
	UseRealAPI         bool
	UseMock            bool
	Tier               string
	RequestConcurrency int
	RequestTimeoutS    float64
	RateLimit          *RateConstraint
	RetryPolicy        RetryPolicy
	EnableCaching      bool
	EnableUploads      bool
	CacheTTLSeconds    int
	RedisURL           string

	apiKeySource string // "explicit" | "env" | "" — used only by AuditText
}

// ConfigOption customizes configuration resolution, taking precedence
// over both the environment and built-in defaults.
type ConfigOption func(*configBuild)

type configBuild struct {
	apiKey             *string
	provider           *string
	defaultModel       *string
	useRealAPI         *bool
	useMock            *bool
	tier               *string
	requestConcurrency *int
	requestTimeoutS    *float64
	rateLimit          *RateConstraint
	retryPolicy        *RetryPolicy
	enableCaching      *bool
	enableUploads      *bool
	cacheTTLSeconds    *int
	redisURL           *string
}

func WithAPIKey(key string) ConfigOption {
	return func(b *configBuild) { b.apiKey = &key }
}

func WithConfigProvider(provider string) ConfigOption {
	return func(b *configBuild) { b.provider = &provider }
}

func WithDefaultModel(model string) ConfigOption {
	return func(b *configBuild) { b.defaultModel = &model }
}

func WithUseRealAPI(use bool) ConfigOption {
	return func(b *configBuild) { b.useRealAPI = &use }
}

// WithUseMock forces the deterministic mock API path even when a real
// key is configured. It is the inverse convenience of WithUseRealAPI.
func WithUseMock(mock bool) ConfigOption {
	return func(b *configBuild) { b.useMock = &mock }
}

func WithTier(tier string) ConfigOption {
	return func(b *configBuild) { b.tier = &tier }
}

func WithRequestTimeoutS(seconds float64) ConfigOption {
	return func(b *configBuild) { b.requestTimeoutS = &seconds }
}

func WithCacheTTLSeconds(seconds int) ConfigOption {
	return func(b *configBuild) { b.cacheTTLSeconds = &seconds }
}

func WithRequestConcurrency(n int) ConfigOption {
	return func(b *configBuild) { b.requestConcurrency = &n }
}

func WithRateLimit(rc RateConstraint) ConfigOption {
	return func(b *configBuild) { b.rateLimit = &rc }
}

func WithRetryPolicy(rp RetryPolicy) ConfigOption {
	return func(b *configBuild) { b.retryPolicy = &rp }
}

func WithCaching(enabled bool) ConfigOption {
	return func(b *configBuild) { b.enableCaching = &enabled }
}

func WithUploads(enabled bool) ConfigOption {
	return func(b *configBuild) { b.enableUploads = &enabled }
}

func WithRedisURL(url string) ConfigOption {
	return func(b *configBuild) { b.redisURL = &url }
}

// ResolveConfig resolves a FrozenConfig from explicit ConfigOptions,
// falling back to environment variables, then hardcoded defaults.
// When UseRealAPI resolves true and no API key was supplied by any
// layer, resolution fails with a ConfigurationError carrying the
// "missing_api_key" hint.
func ResolveConfig(opts ...ConfigOption) (*FrozenConfig, error) {
	b := &configBuild{}
	for _, opt := range opts {
		opt(b)
	}

	cfg := &FrozenConfig{
		Provider:           "google",
		DefaultModel:       "gemini-1.5-flash",
		UseRealAPI:         false,
		RequestConcurrency: 0,
		RequestTimeoutS:    60.0,
		RetryPolicy:        DefaultRetryPolicy(),
		EnableCaching:      true,
		EnableUploads:      true,
		CacheTTLSeconds:    3600,
	}

	if b.provider != nil {
		cfg.Provider = *b.provider
	} else if v := os.Getenv("POLLUX_PROVIDER"); v != "" {
		cfg.Provider = v
	}
	cfg.Provider = NormalizeProvider(cfg.Provider)

	if b.defaultModel != nil {
		cfg.DefaultModel = *b.defaultModel
	} else if v := os.Getenv("POLLUX_DEFAULT_MODEL"); v != "" {
		cfg.DefaultModel = v
	}

	if b.useRealAPI != nil {
		cfg.UseRealAPI = *b.useRealAPI
	} else if v := os.Getenv("POLLUX_USE_REAL_API"); v != "" {
		cfg.UseRealAPI = strings.ToLower(v) == "1" || strings.ToLower(v) == "true"
	}

	if b.useMock != nil {
		cfg.UseMock = *b.useMock
	} else if v := os.Getenv("POLLUX_USE_MOCK"); v != "" {
		cfg.UseMock = strings.ToLower(v) == "1" || strings.ToLower(v) == "true"
	}
	if cfg.UseMock {
		cfg.UseRealAPI = false
	}

	if b.tier != nil {
		cfg.Tier = *b.tier
	} else if v := os.Getenv("POLLUX_TIER"); v != "" {
		cfg.Tier = v
	}

	if b.apiKey != nil {
		cfg.APIKey = *b.apiKey
		cfg.apiKeySource = "explicit"
	} else if v := providerEnvAPIKey(cfg.Provider); v != "" {
		cfg.APIKey = v
		cfg.apiKeySource = "env"
	}

	if b.requestConcurrency != nil {
		cfg.RequestConcurrency = *b.requestConcurrency
	} else if v := os.Getenv("POLLUX_REQUEST_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RequestConcurrency = n
		}
	}

	if b.requestTimeoutS != nil {
		cfg.RequestTimeoutS = *b.requestTimeoutS
	} else if v := os.Getenv("POLLUX_REQUEST_TIMEOUT_S"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			cfg.RequestTimeoutS = f
		}
	}

	if b.rateLimit != nil {
		cfg.RateLimit = b.rateLimit
	}

	if b.cacheTTLSeconds != nil {
		cfg.CacheTTLSeconds = *b.cacheTTLSeconds
	}

	if b.retryPolicy != nil {
		cfg.RetryPolicy = *b.retryPolicy
	}

	if b.enableCaching != nil {
		cfg.EnableCaching = *b.enableCaching
	}

	if b.enableUploads != nil {
		cfg.EnableUploads = *b.enableUploads
	}

	if b.redisURL != nil {
		cfg.RedisURL = *b.redisURL
	} else if v := os.Getenv("POLLUX_REDIS_URL"); v != "" {
		cfg.RedisURL = v
	}

	if cfg.UseRealAPI && cfg.APIKey == "" {
		return nil, NewConfigurationError(
			"api_key is required when use_real_api=True",
			WithHint(HINTS["missing_api_key"]),
		)
	}

	return cfg, nil
}

// providerEnvAPIKey reads the conventional <PROVIDER>_API_KEY
// environment variable for the resolved provider name.
func providerEnvAPIKey(provider string) string {
	switch strings.ToLower(provider) {
	case "google":
		return os.Getenv("GEMINI_API_KEY")
	case "openai":
		return os.Getenv("OPENAI_API_KEY")
	case "anthropic":
		return os.Getenv("ANTHROPIC_API_KEY")
	default:
		return os.Getenv(strings.ToUpper(provider) + "_API_KEY")
	}
}

// AuditText returns a redacted, human-readable dump of the resolved
// configuration suitable for logging. The API key is never printed in
// full.
func (c *FrozenConfig) AuditText() string {
	var b strings.Builder
	fmt.Fprintf(&b, "provider=%s model=%s use_real_api=%v use_mock=%v\n", c.Provider, c.DefaultModel, c.UseRealAPI, c.UseMock)
	fmt.Fprintf(&b, "api_key=%s (source=%s)\n", redactSecret(c.APIKey), orNone(c.apiKeySource))
	if c.Tier != "" {
		fmt.Fprintf(&b, "tier=%s\n", c.Tier)
	}
	fmt.Fprintf(&b, "request_concurrency=%d request_timeout_s=%g caching=%v uploads=%v\n", c.RequestConcurrency, c.RequestTimeoutS, c.EnableCaching, c.EnableUploads)
	if c.RateLimit != nil {
		fmt.Fprintf(&b, "rate_limit=%+v\n", *c.RateLimit)
	}
	fmt.Fprintf(&b, "retry_policy=%+v\n", c.RetryPolicy)
	if c.RedisURL != "" {
		fmt.Fprintf(&b, "redis_url=%s\n", redactSecret(c.RedisURL))
	}
	return b.String()
}

func redactSecret(s string) string {
	if s == "" {
		return "(unset)"
	}
	if len(s) <= 8 {
		return "****"
	}
	return s[:4] + "..." + s[len(s)-4:]
}

func orNone(s string) string {
	if s == "" {
		return "none"
	}
	return s
}
