package pipeline

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seanbrar/pollux-sub002/core"
	"github.com/seanbrar/pollux-sub002/estimation"
)

func planCommand(t *testing.T, cfg *core.FrozenConfig, sources []core.Source, prompts []string, opts *core.ExecutionOptions) core.PlannedCommand {
	t.Helper()
	h := NewSourceHandler(nil)
	resolved, err := h.Handle(context.Background(), core.InitialCommand{
		Sources: sources, Prompts: prompts, Config: cfg, Options: opts,
	})
	require.NoError(t, err)

	planner := NewExecutionPlanner(estimation.ForProvider(cfg.Provider), nil)
	planned, err := planner.Handle(context.Background(), resolved)
	require.NoError(t, err)
	return planned
}

func TestPlannerOneCallPerPrompt(t *testing.T) {
	planned := planCommand(t, testConfig(),
		[]core.Source{core.SourceFromText("shared context")},
		[]string{"A", "B", "C"}, nil)

	require.Len(t, planned.ExecutionPlan.Calls, 3)
	for i, call := range planned.ExecutionPlan.Calls {
		assert.Equal(t, "gemini-2.0-flash", call.ModelName)
		last := call.APIParts[len(call.APIParts)-1]
		assert.Equal(t, core.APIPartText, last.Kind)
		assert.Equal(t, []string{"A", "B", "C"}[i], last.Text)
	}
	assert.Empty(t, planned.ExecutionPlan.SharedParts, "unvectorized plan has no shared parts")
}

func TestPlannerVectorizesLargeSharedContext(t *testing.T) {
	cfg := testConfig()
	// Shared bytes must reach the model's inline threshold (20 MiB for
	// gemini models) for vectorization to trigger.
	big := core.SourceFromText(strings.Repeat("x", int(21<<20)))

	planned := planCommand(t, cfg, []core.Source{big}, []string{"A", "B"}, nil)

	require.Len(t, planned.ExecutionPlan.Calls, 1, "vectorized plan has a single primary call")
	call := planned.ExecutionPlan.Calls[0]
	prompts, ok := call.APIConfig["prompts"].([]interface{})
	require.True(t, ok)
	assert.Equal(t, []interface{}{"A", "B"}, prompts)
	assert.NotEmpty(t, planned.ExecutionPlan.SharedParts)
}

func TestPlannerSinglePromptNeverVectorizes(t *testing.T) {
	big := core.SourceFromText(strings.Repeat("x", int(21<<20)))
	planned := planCommand(t, testConfig(), []core.Source{big}, []string{"only"}, nil)
	require.Len(t, planned.ExecutionPlan.Calls, 1)
	_, hasPrompts := planned.ExecutionPlan.Calls[0].APIConfig["prompts"]
	assert.False(t, hasPrompts)
}

func TestPlannerAttachesTokenEstimate(t *testing.T) {
	planned := planCommand(t, testConfig(),
		[]core.Source{core.SourceFromText("hello world")},
		[]string{"Echo me"}, nil)

	est := planned.TokenEstimate
	require.NotNil(t, est)
	assert.LessOrEqual(t, est.MinTokens, est.ExpectedTokens)
	assert.LessOrEqual(t, est.ExpectedTokens, est.MaxTokens)
	assert.GreaterOrEqual(t, est.MinTokens, 10)
}

func TestPlannerRateConstraintFromFreeTier(t *testing.T) {
	cfg := testConfig()
	cfg.Tier = "free"
	planned := planCommand(t, cfg, nil, []string{"p"}, nil)
	require.NotNil(t, planned.ExecutionPlan.RateConstraint)
	assert.Equal(t, 60, planned.ExecutionPlan.RateConstraint.RequestsPerMinute)

	cfg2 := testConfig()
	cfg2.Tier = "tier1"
	planned = planCommand(t, cfg2, nil, []string{"p"}, nil)
	assert.Nil(t, planned.ExecutionPlan.RateConstraint)
}

func TestPlannerSuggestsCacheForLargeContext(t *testing.T) {
	cfg := testConfig()
	// Large enough that max_tokens clears the model's explicit cache
	// minimum (4096 tokens for gemini-2.0-flash).
	big := core.SourceFromText(strings.Repeat("x", 100_000))
	planned := planCommand(t, cfg, []core.Source{big}, []string{"p"}, nil)
	assert.True(t, planned.ExecutionPlan.SuggestCache)

	small := planCommand(t, cfg, []core.Source{core.SourceFromText("tiny")}, []string{"p"}, nil)
	assert.False(t, small.ExecutionPlan.SuggestCache)

	cfg.EnableCaching = false
	disabled := planCommand(t, cfg, []core.Source{big}, []string{"p"}, nil)
	assert.False(t, disabled.ExecutionPlan.SuggestCache)
}

func TestPlannerEmitsUploadTasksAboveThreshold(t *testing.T) {
	cfg := testConfig()
	oversized := core.Source{
		Kind:       core.SourceFile,
		Identifier: "/videos/huge.mp4",
		MIME:       "video/mp4",
		SizeBytes:  50 << 20,
		Loader: func(context.Context) ([]byte, error) {
			t.Fatal("planner must not load oversized sources")
			return nil, nil
		},
	}

	planner := NewExecutionPlanner(estimation.ForProvider(cfg.Provider), nil)
	planned, err := planner.Handle(context.Background(), core.ResolvedCommand{
		Initial: core.InitialCommand{Prompts: []string{"describe"}, Config: cfg},
		ResolvedSources: []core.Source{oversized},
	})
	require.NoError(t, err)

	require.Len(t, planned.ExecutionPlan.UploadTasks, 1)
	task := planned.ExecutionPlan.UploadTasks[0]
	assert.Equal(t, core.Fingerprint("/videos/huge.mp4", 50<<20), task.Fingerprint)

	var placeholders int
	for _, call := range planned.ExecutionPlan.Calls {
		for _, p := range call.APIParts {
			if p.Kind == core.APIPartPlaceholder {
				placeholders++
				assert.Equal(t, task.Fingerprint, p.PlaceholderID)
			}
		}
	}
	assert.Positive(t, placeholders)
}

func TestPlannerInlinesSmallFiles(t *testing.T) {
	small := core.Source{
		Kind:       core.SourceFile,
		Identifier: "/docs/small.txt",
		MIME:       "text/plain",
		SizeBytes:  12,
		Loader: func(context.Context) ([]byte, error) {
			return []byte("file content"), nil
		},
	}
	planner := NewExecutionPlanner(estimation.ForProvider("google"), nil)
	planned, err := planner.Handle(context.Background(), core.ResolvedCommand{
		Initial: core.InitialCommand{Prompts: []string{"p"}, Config: testConfig()},
		ResolvedSources: []core.Source{small},
	})
	require.NoError(t, err)
	assert.Empty(t, planned.ExecutionPlan.UploadTasks)

	first := planned.ExecutionPlan.Calls[0].APIParts[0]
	assert.Equal(t, core.APIPartInline, first.Kind)
	assert.Equal(t, []byte("file content"), first.Data)
}

func TestPlannerOptionsFlowIntoAPIConfig(t *testing.T) {
	temp := 0.2
	opts := &core.ExecutionOptions{
		Temperature: &temp,
		Tools:       []map[string]interface{}{{"name": "search"}},
		History:     []map[string]interface{}{{"role": "user", "content": "hi"}},
	}
	planned := planCommand(t, testConfig(), nil, []string{"p"}, opts)

	cfg := planned.ExecutionPlan.Calls[0].APIConfig
	assert.Equal(t, 0.2, cfg["temperature"])
	assert.NotNil(t, cfg["tools"])
	assert.NotNil(t, cfg["history"])
}
