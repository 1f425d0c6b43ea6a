package pollux

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seanbrar/pollux-sub002/core"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"GEMINI_API_KEY", "OPENAI_API_KEY", "ANTHROPIC_API_KEY",
		"POLLUX_PROVIDER", "POLLUX_DEFAULT_MODEL", "POLLUX_USE_REAL_API",
		"POLLUX_REDIS_URL", "POLLUX_TIER",
	} {
		t.Setenv(key, "")
	}
}

func TestRunSimpleMockEcho(t *testing.T) {
	clearEnv(t)

	envelope, err := RunSimple(context.Background(), "Echo me", core.SourceFromText("hello world"))
	require.NoError(t, err)

	assert.Equal(t, "ok", envelope.Status)
	require.Len(t, envelope.Answers, 1)
	assert.Contains(t, envelope.Answers[0], "echo:")
}

func TestRunBatchAnswersPerPrompt(t *testing.T) {
	clearEnv(t)

	prompts := []string{"A", "B"}
	envelope, err := RunBatch(context.Background(), prompts, []core.Source{core.SourceFromText("ctx")})
	require.NoError(t, err)

	assert.Equal(t, "ok", envelope.Status)
	assert.Equal(t, []string{"echo: A", "echo: B"}, envelope.Answers)
}

func TestRunSimpleWithOptions(t *testing.T) {
	clearEnv(t)

	envelope, err := RunSimple(context.Background(), "q", core.SourceFromText("src"),
		WithTemperature(0.1),
		WithCacheOverrideName("cachedContents/manual-override"),
	)
	require.NoError(t, err)
	assert.Equal(t, "ok", envelope.Status)
}

func TestNewExecutorPropagatesConfigError(t *testing.T) {
	clearEnv(t)

	_, err := NewExecutor(core.WithUseRealAPI(true))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "api_key is required when use_real_api=True")
}

func TestNewExecutorWithLogger(t *testing.T) {
	clearEnv(t)
	t.Setenv("POLLUX_LOG_LEVEL", "DEBUG")
	t.Setenv("POLLUX_LOG_FORMAT", "text")

	logger := core.NewProductionLogger().WithComponent("batch-runner")
	var buf bytes.Buffer
	logger.(*core.ProductionLogger).SetOutput(&buf)

	executor, err := NewExecutorWithLogger(logger)
	require.NoError(t, err)

	envelope, err := Execute(context.Background(), executor, []string{"ping"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", envelope.Status)
	assert.Contains(t, buf.String(), "[batch-runner]")
}

func TestExecutorReuse(t *testing.T) {
	clearEnv(t)

	executor, err := NewExecutor(core.WithDefaultModel("gemini-2.0-flash"))
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		envelope, err := Execute(context.Background(), executor, []string{"ping"}, nil)
		require.NoError(t, err)
		assert.Equal(t, "ok", envelope.Status)
	}
}
