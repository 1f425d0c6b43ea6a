// Package pollux is a batch-oriented execution core for LLM provider
// clients. Given prompts and content sources it plans, deduplicates,
// rate-limits, caches, and dispatches provider API calls, then
// normalizes the responses into a stable ResultEnvelope.
//
// The simplest entry points are RunSimple and RunBatch; callers that
// issue many batches construct one Executor and reuse it so the file
// and cache registries amortize across runs.
package pollux

import (
	"context"

	"github.com/seanbrar/pollux-sub002/core"
	"github.com/seanbrar/pollux-sub002/pipeline"
)

// ExecOption mutates the per-run ExecutionOptions.
type ExecOption func(*core.ExecutionOptions)

// WithTemperature sets the sampling temperature for this run.
func WithTemperature(t float64) ExecOption {
	return func(o *core.ExecutionOptions) { o.Temperature = &t }
}

// WithTopP sets nucleus sampling for this run.
func WithTopP(p float64) ExecOption {
	return func(o *core.ExecutionOptions) { o.TopP = &p }
}

// WithTools attaches tool declarations.
func WithTools(tools []map[string]interface{}) ExecOption {
	return func(o *core.ExecutionOptions) { o.Tools = tools }
}

// WithToolChoice sets the tool-choice policy: "auto", "required",
// "none", or a specific-tool map.
func WithToolChoice(choice interface{}) ExecOption {
	return func(o *core.ExecutionOptions) { o.ToolChoice = choice }
}

// WithHistory prepends prior conversation messages.
func WithHistory(history []map[string]interface{}) ExecOption {
	return func(o *core.ExecutionOptions) { o.History = history }
}

// WithResponseSchema requests structured output conforming to a JSON
// schema.
func WithResponseSchema(schema map[string]interface{}) ExecOption {
	return func(o *core.ExecutionOptions) { o.ResponseSchema = schema }
}

// WithExecConcurrency overrides request concurrency for this run.
func WithExecConcurrency(n int) ExecOption {
	return func(o *core.ExecutionOptions) { o.RequestConcurrency = n }
}

// WithCacheOverrideName pins every call to an existing provider cache
// handle, bypassing the cache registry entirely.
func WithCacheOverrideName(name string) ExecOption {
	return func(o *core.ExecutionOptions) { o.CacheOverrideName = name }
}

// WithPreferJSONArray asks the result builder to keep a structured
// payload as one JSON array answer instead of one answer per element.
func WithPreferJSONArray(prefer bool) ExecOption {
	return func(o *core.ExecutionOptions) { o.ResultPreferJSONArray = prefer }
}

// NewExecutor resolves configuration and builds a reusable Executor
// logging through the default ProductionLogger.
func NewExecutor(opts ...core.ConfigOption) (*pipeline.Executor, error) {
	return NewExecutorWithLogger(core.NewProductionLogger().WithComponent("pollux"), opts...)
}

// NewExecutorWithLogger is NewExecutor with an injected Logger; pass a
// core.NoOpLogger to silence the executor entirely.
func NewExecutorWithLogger(logger core.Logger, opts ...core.ConfigOption) (*pipeline.Executor, error) {
	cfg, err := core.ResolveConfig(opts...)
	if err != nil {
		return nil, err
	}
	return pipeline.NewExecutor(cfg, pipeline.WithLogger(logger))
}

// RunSimple executes a single prompt against a single source with a
// throwaway executor.
func RunSimple(ctx context.Context, prompt string, source core.Source, opts ...ExecOption) (*core.ResultEnvelope, error) {
	return RunBatch(ctx, []string{prompt}, []core.Source{source}, opts...)
}

// RunBatch executes a batch of prompts sharing the given sources with
// a throwaway executor.
func RunBatch(ctx context.Context, prompts []string, sources []core.Source, opts ...ExecOption) (*core.ResultEnvelope, error) {
	executor, err := NewExecutor()
	if err != nil {
		return nil, err
	}
	return Execute(ctx, executor, prompts, sources, opts...)
}

// Execute runs one batch through an existing executor.
func Execute(ctx context.Context, executor *pipeline.Executor, prompts []string, sources []core.Source, opts ...ExecOption) (*core.ResultEnvelope, error) {
	options := &core.ExecutionOptions{}
	for _, opt := range opts {
		opt(options)
	}
	cmd := core.InitialCommand{
		Sources: sources,
		Prompts: prompts,
		Config:  executor.Config(),
		Options: options,
	}
	return executor.Execute(ctx, cmd), nil
}
