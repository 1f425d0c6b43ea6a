package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seanbrar/pollux-sub002/core"
	"github.com/seanbrar/pollux-sub002/registry"
)

func plannedWithCalls(cfg *core.FrozenConfig, opts *core.ExecutionOptions, nCalls int, suggestCache bool) core.PlannedCommand {
	calls := make([]core.APICall, nCalls)
	for i := range calls {
		calls[i] = core.APICall{
			ModelName: cfg.DefaultModel,
			APIParts:  []core.APIPart{core.TextPart("shared"), core.TextPart("prompt")},
		}
	}
	return core.PlannedCommand{
		Resolved: core.ResolvedCommand{
			Initial: core.InitialCommand{Prompts: make([]string, nCalls), Config: cfg, Options: opts},
		},
		ExecutionPlan: core.ExecutionPlan{Calls: calls, SuggestCache: suggestCache},
	}
}

func TestCacheOverrideAppliedVerbatim(t *testing.T) {
	opts := &core.ExecutionOptions{CacheOverrideName: "cachedContents/manual-override"}
	// The adapter implements no caching capability; the override must
	// still apply.
	stage := NewCacheStage(registry.NewCacheRegistry(), &scriptedAdapter{}, nil)

	out, err := stage.Handle(context.Background(), plannedWithCalls(testConfig(), opts, 3, false))
	require.NoError(t, err)
	for _, call := range out.ExecutionPlan.Calls {
		assert.Equal(t, "cachedContents/manual-override", call.CacheNameToUse)
	}
}

func TestCacheSuggestionCreatesAndReuses(t *testing.T) {
	adapter := &cachingAdapter{}
	caches := registry.NewCacheRegistry()
	stage := NewCacheStage(caches, adapter, nil)

	out, err := stage.Handle(context.Background(), plannedWithCalls(testConfig(), nil, 2, true))
	require.NoError(t, err)
	for _, call := range out.ExecutionPlan.Calls {
		assert.Equal(t, "cachedContents/generated", call.CacheNameToUse)
	}
	assert.EqualValues(t, 1, adapter.createCount)

	// A second identical plan reuses the registry entry.
	_, err = stage.Handle(context.Background(), plannedWithCalls(testConfig(), nil, 2, true))
	require.NoError(t, err)
	assert.EqualValues(t, 1, adapter.createCount)
}

func TestCacheSuggestionSkippedWithoutCapability(t *testing.T) {
	stage := NewCacheStage(registry.NewCacheRegistry(), &scriptedAdapter{}, nil)
	out, err := stage.Handle(context.Background(), plannedWithCalls(testConfig(), nil, 1, true))
	require.NoError(t, err)
	assert.Empty(t, out.ExecutionPlan.Calls[0].CacheNameToUse)
}

func TestCacheFailureIsNonFatal(t *testing.T) {
	adapter := &cachingAdapter{createErr: core.NewCacheError("quota exhausted")}
	stage := NewCacheStage(registry.NewCacheRegistry(), adapter, nil)

	out, err := stage.Handle(context.Background(), plannedWithCalls(testConfig(), nil, 2, true))
	require.NoError(t, err, "cache failures never fail the pipeline")
	for _, call := range out.ExecutionPlan.Calls {
		assert.Empty(t, call.CacheNameToUse)
	}
	degraded, ok := out.Resolved.Diagnostics["cache_degraded"].(map[string]interface{})
	require.True(t, ok, "degradation must leave a diagnostic")
	assert.Contains(t, degraded["error"], "quota exhausted")
}

func TestCacheNoSuggestionNoInteraction(t *testing.T) {
	adapter := &cachingAdapter{}
	stage := NewCacheStage(registry.NewCacheRegistry(), adapter, nil)
	out, err := stage.Handle(context.Background(), plannedWithCalls(testConfig(), nil, 1, false))
	require.NoError(t, err)
	assert.Empty(t, out.ExecutionPlan.Calls[0].CacheNameToUse)
	assert.EqualValues(t, 0, adapter.createCount)
}
