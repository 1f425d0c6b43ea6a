package pipeline

import (
	"context"
	"fmt"

	"github.com/seanbrar/pollux-sub002/core"
	"github.com/seanbrar/pollux-sub002/estimation"
)

// ExecutionPlanner turns a ResolvedCommand into an ExecutionPlan:
// builds the APICalls (vectorizing when the batch shares a large
// context), attaches the aggregated token estimate, decides cache
// eligibility, sets the rate constraint, and emits upload tasks for
// oversized file sources.
type ExecutionPlanner struct {
	estimator estimation.Estimator
	logger    core.Logger
}

func NewExecutionPlanner(estimator estimation.Estimator, logger core.Logger) *ExecutionPlanner {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &ExecutionPlanner{estimator: estimator, logger: logger}
}

func (p *ExecutionPlanner) Handle(ctx context.Context, cmd core.ResolvedCommand) (core.PlannedCommand, error) {
	cfg := cmd.Initial.Config
	modelName := cfg.DefaultModel
	policy, known := core.ResolveModelPolicy(modelName)
	if !known {
		policy = core.DefaultModelPolicy(modelName)
	}

	sharedParts, uploadTasks, sharedBytes, err := p.buildSharedParts(ctx, cmd.ResolvedSources, policy)
	if err != nil {
		return core.PlannedCommand{}, err
	}

	apiConfig := buildAPIConfig(cmd.Initial.Options)

	prompts := cmd.Initial.Prompts
	var calls []core.APICall
	vectorize := len(prompts) > 1 && sharedBytes >= policy.InlineThresholdBytes
	if vectorize {
		cfgCopy := copyConfig(apiConfig)
		promptsAny := make([]interface{}, len(prompts))
		for i, prompt := range prompts {
			promptsAny[i] = prompt
		}
		cfgCopy["prompts"] = promptsAny
		calls = []core.APICall{{
			ModelName: modelName,
			APIParts:  sharedParts,
			APIConfig: cfgCopy,
		}}
	} else {
		calls = make([]core.APICall, 0, len(prompts))
		for _, prompt := range prompts {
			parts := make([]core.APIPart, 0, len(sharedParts)+1)
			parts = append(parts, sharedParts...)
			parts = append(parts, core.TextPart(prompt))
			calls = append(calls, core.APICall{
				ModelName: modelName,
				APIParts:  parts,
				APIConfig: copyConfig(apiConfig),
			})
		}
	}

	estimate := p.estimateCommand(cmd.ResolvedSources, prompts)

	plan := core.ExecutionPlan{
		Calls:       calls,
		UploadTasks: uploadTasks,
	}
	if vectorize {
		plan.SharedParts = sharedParts
	}

	if rc := cfg.RateLimit; rc.Constrained() {
		plan.RateConstraint = rc
	} else if rc := core.TierRateConstraint(cfg.Tier); rc != nil {
		plan.RateConstraint = rc
	}

	if cfg.EnableCaching && estimate.MaxTokens > policy.ExplicitMinimumTokens {
		plan.SuggestCache = true
	}

	return core.PlannedCommand{
		Resolved:      cmd,
		ExecutionPlan: plan,
		TokenEstimate: &estimate,
	}, nil
}

// buildSharedParts converts resolved sources into the parts every call
// shares. File sources above the model's inline threshold become
// placeholders plus an UploadTask; smaller files are loaded and
// embedded inline.
func (p *ExecutionPlanner) buildSharedParts(ctx context.Context, sources []core.Source, policy core.ModelPolicy) ([]core.APIPart, []core.UploadTask, int64, error) {
	var parts []core.APIPart
	var tasks []core.UploadTask
	var totalBytes int64

	for _, src := range sources {
		totalBytes += src.SizeBytes
		switch src.Kind {
		case core.SourceText:
			parts = append(parts, core.TextPart(src.Identifier))

		case core.SourceURI:
			parts = append(parts, core.FileRefPart(src.Identifier, src.MIME))

		case core.SourceFile:
			if src.SizeBytes > policy.InlineThresholdBytes {
				fingerprint := core.Fingerprint(src.Identifier, src.SizeBytes)
				placeholder := core.FilePlaceholder(fingerprint, src.MIME)
				parts = append(parts, placeholder)
				tasks = append(tasks, core.UploadTask{
					Fingerprint:     fingerprint,
					Source:          src,
					PlaceholderPart: placeholder,
				})
				continue
			}
			data, err := src.Load(ctx)
			if err != nil {
				return nil, nil, 0, core.NewFileError(
					fmt.Sprintf("failed to load file source %q: %v", src.Identifier, err),
					core.WithPhase("ExecutionPlanner"),
					core.WithWrapped(err),
				)
			}
			parts = append(parts, core.InlineDataPart(data, src.MIME))
		}
	}
	return parts, tasks, totalBytes, nil
}

func (p *ExecutionPlanner) estimateCommand(sources []core.Source, prompts []string) core.TokenEstimate {
	estimates := make([]core.TokenEstimate, 0, len(sources)+len(prompts))
	for _, src := range sources {
		estimates = append(estimates, p.estimator.Estimate(src))
	}
	for _, prompt := range prompts {
		estimates = append(estimates, p.estimator.Estimate(core.SourceFromText(prompt)))
	}
	return p.estimator.Aggregate(estimates)
}

// buildAPIConfig maps the recognized ExecutionOptions fields into the
// provider-agnostic api_config the adapters read.
func buildAPIConfig(opts *core.ExecutionOptions) map[string]interface{} {
	cfg := map[string]interface{}{}
	if opts == nil {
		return cfg
	}
	if opts.Temperature != nil {
		cfg["temperature"] = *opts.Temperature
	}
	if opts.TopP != nil {
		cfg["top_p"] = *opts.TopP
	}
	if len(opts.Tools) > 0 {
		cfg["tools"] = opts.Tools
	}
	if opts.ToolChoice != nil {
		cfg["tool_choice"] = opts.ToolChoice
	}
	if len(opts.History) > 0 {
		cfg["history"] = opts.History
	}
	if opts.ResponseSchema != nil {
		cfg["response_schema"] = opts.ResponseSchema
	}
	return cfg
}

func copyConfig(cfg map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(cfg))
	for k, v := range cfg {
		out[k] = v
	}
	return out
}
