package pipeline

import (
	"context"

	"github.com/seanbrar/pollux-sub002/core"
	"github.com/seanbrar/pollux-sub002/ratelimit"
)

// RateLimitHandler resolves the effective request concurrency and
// configures the executor's shared admission gate when the plan is
// rate-constrained.
type RateLimitHandler struct {
	gate   *ratelimit.AdmissionGate
	logger core.Logger
}

func NewRateLimitHandler(gate *ratelimit.AdmissionGate, logger core.Logger) *RateLimitHandler {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &RateLimitHandler{gate: gate, logger: logger}
}

func (h *RateLimitHandler) Handle(ctx context.Context, cmd core.PlannedCommand) (core.PlannedCommand, error) {
	cfg := cmd.Resolved.Initial.Config
	opts := cmd.Resolved.Initial.Options

	optsConcurrency := 0
	if opts != nil {
		optsConcurrency = opts.RequestConcurrency
	}

	constrained := cmd.ExecutionPlan.RateConstraint.Constrained()
	concurrency := ratelimit.ResolveRequestConcurrency(
		len(cmd.ExecutionPlan.Calls),
		optsConcurrency,
		cfg.RequestConcurrency,
		constrained,
	)

	if constrained {
		h.gate.Configure(cmd.ExecutionPlan.RateConstraint.RequestsPerMinute)
	} else {
		h.gate.Configure(0)
	}

	h.logger.DebugWithContext(ctx, "resolved request concurrency", map[string]interface{}{
		"concurrency":      concurrency,
		"rate_constrained": constrained,
		"calls":            len(cmd.ExecutionPlan.Calls),
	})

	cmd.ExecutionPlan.ResolvedConcurrency = concurrency
	return cmd, nil
}
