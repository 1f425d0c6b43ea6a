package providers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seanbrar/pollux-sub002/core"
)

func TestRegisteredProviders(t *testing.T) {
	names := ListProviders()
	assert.Contains(t, names, "google")
	assert.Contains(t, names, "openai")
	assert.Contains(t, names, "anthropic")
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	err := Register(&geminiFactory{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already registered")
}

func TestRegisterRejectsNil(t *testing.T) {
	assert.Error(t, Register(nil))
}

func TestBuildAdapterUnknownProvider(t *testing.T) {
	cfg := &core.FrozenConfig{Provider: "nonexistent"}
	_, err := BuildAdapter(cfg)
	require.Error(t, err)

	var pe *core.PolluxError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "configuration", pe.Kind)
}

func TestBuildAdapterInfersProviderFromModel(t *testing.T) {
	cfg := &core.FrozenConfig{DefaultModel: "claude-3-haiku"}
	adapter, err := BuildAdapter(cfg)
	require.NoError(t, err)
	assert.Equal(t, "anthropic", adapter.Name())
}

func TestCapabilityDetection(t *testing.T) {
	cfg := &core.FrozenConfig{DefaultModel: "gemini-2.0-flash"}

	gemini, err := BuildAdapter(&core.FrozenConfig{Provider: "google", DefaultModel: "gemini-2.0-flash"})
	require.NoError(t, err)
	_, hasUploads := gemini.(UploadsCapability)
	_, hasCaching := gemini.(CachingCapability)
	assert.True(t, hasUploads, "gemini supports uploads")
	assert.True(t, hasCaching, "gemini supports caching")

	cfg.Provider = "openai"
	oai, err := BuildAdapter(cfg)
	require.NoError(t, err)
	_, hasUploads = oai.(UploadsCapability)
	_, hasCaching = oai.(CachingCapability)
	assert.False(t, hasUploads, "openai adapter has no uploads capability")
	assert.False(t, hasCaching, "openai adapter has no caching capability")
}

func TestStubGenerateWithoutRealAPI(t *testing.T) {
	for _, provider := range []string{"google", "openai", "anthropic"} {
		adapter, err := BuildAdapter(&core.FrozenConfig{Provider: provider, DefaultModel: "m"})
		require.NoError(t, err)

		result, err := adapter.Generate(context.Background(), core.APICall{
			ModelName: "m",
			APIParts:  []core.APIPart{core.TextPart("ping")},
		})
		require.NoError(t, err, provider)
		assert.Contains(t, result.Text, "ping", provider)
		assert.NotEmpty(t, result.Usage, provider)
	}
}
