package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearProviderEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"GEMINI_API_KEY", "OPENAI_API_KEY", "ANTHROPIC_API_KEY",
		"POLLUX_PROVIDER", "POLLUX_DEFAULT_MODEL", "POLLUX_USE_REAL_API",
		"POLLUX_USE_MOCK", "POLLUX_TIER", "POLLUX_REQUEST_CONCURRENCY",
		"POLLUX_REQUEST_TIMEOUT_S", "POLLUX_REDIS_URL",
	} {
		t.Setenv(key, "")
	}
}

func TestResolveConfigDefaults(t *testing.T) {
	clearProviderEnv(t)

	cfg, err := ResolveConfig()
	require.NoError(t, err)
	assert.Equal(t, "google", cfg.Provider)
	assert.Equal(t, "gemini-1.5-flash", cfg.DefaultModel)
	assert.False(t, cfg.UseRealAPI)
	assert.True(t, cfg.EnableCaching)
	assert.Equal(t, 60.0, cfg.RequestTimeoutS)
	assert.Equal(t, DefaultRetryPolicy(), cfg.RetryPolicy)
}

func TestResolveConfigMissingAPIKey(t *testing.T) {
	clearProviderEnv(t)

	_, err := ResolveConfig(WithUseRealAPI(true))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "api_key is required when use_real_api=True")

	var pe *PolluxError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "configuration", pe.Kind)
	assert.Equal(t, HINTS["missing_api_key"], pe.Hint)
}

func TestResolveConfigExplicitBeatsEnv(t *testing.T) {
	clearProviderEnv(t)
	t.Setenv("GEMINI_API_KEY", "env-key-000000000000")

	cfg, err := ResolveConfig(WithUseRealAPI(true), WithAPIKey("explicit-key-111111111"))
	require.NoError(t, err)
	assert.Equal(t, "explicit-key-111111111", cfg.APIKey)
}

func TestResolveConfigEnvAPIKeyPerProvider(t *testing.T) {
	clearProviderEnv(t)
	t.Setenv("OPENAI_API_KEY", "sk-openai-000000000000")

	cfg, err := ResolveConfig(WithConfigProvider("openai"), WithUseRealAPI(true))
	require.NoError(t, err)
	assert.Equal(t, "sk-openai-000000000000", cfg.APIKey)
}

func TestResolveConfigGeminiAliasNormalized(t *testing.T) {
	clearProviderEnv(t)

	cfg, err := ResolveConfig(WithConfigProvider("gemini"))
	require.NoError(t, err)
	assert.Equal(t, "google", cfg.Provider)
}

func TestResolveConfigUseMockForcesMockPath(t *testing.T) {
	clearProviderEnv(t)

	cfg, err := ResolveConfig(WithUseRealAPI(true), WithAPIKey("k-000000000000"), WithUseMock(true))
	require.NoError(t, err)
	assert.True(t, cfg.UseMock)
	assert.False(t, cfg.UseRealAPI)
}

func TestResolveConfigPurity(t *testing.T) {
	clearProviderEnv(t)
	t.Setenv("GEMINI_API_KEY", "stable-key-0000000000")

	opts := []ConfigOption{WithDefaultModel("gemini-2.0-flash"), WithTier("free")}
	a, err := ResolveConfig(opts...)
	require.NoError(t, err)
	b, err := ResolveConfig(opts...)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestAuditTextRedactsAPIKey(t *testing.T) {
	clearProviderEnv(t)

	cfg, err := ResolveConfig(WithAPIKey("super-secret-api-key-value"))
	require.NoError(t, err)

	audit := cfg.AuditText()
	assert.NotContains(t, audit, "super-secret-api-key-value")
	assert.Contains(t, audit, "provider=google")
}

func TestLoadDevFlags(t *testing.T) {
	t.Setenv("POLLUX_PIPELINE_VALIDATE", "1")
	t.Setenv("POLLUX_TELEMETRY_RAW_PREVIEW", "")
	flags := LoadDevFlags()
	assert.True(t, flags.PipelineValidate)
	assert.False(t, flags.TelemetryRawPreview)

	t.Setenv("POLLUX_PIPELINE_VALIDATE", "0")
	t.Setenv("POLLUX_TELEMETRY_RAW_PREVIEW", "true")
	flags = LoadDevFlags()
	assert.False(t, flags.PipelineValidate)
	assert.True(t, flags.TelemetryRawPreview)
}
