package pipeline

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/seanbrar/pollux-sub002/core"
	"github.com/seanbrar/pollux-sub002/providers"
	"github.com/seanbrar/pollux-sub002/ratelimit"
)

// APIHandler executes the planned calls concurrently through the
// provider adapter, bounded by the resolved concurrency, with retries
// per the fixed retry matrix. It produces the FinalizedCommand
// carrying the raw responses and token-validation telemetry.
type APIHandler struct {
	adapter   providers.Adapter
	gate      *ratelimit.AdmissionGate
	telemetry core.Telemetry
	logger    core.Logger
}

func NewAPIHandler(adapter providers.Adapter, gate *ratelimit.AdmissionGate, telemetry core.Telemetry, logger core.Logger) *APIHandler {
	if telemetry == nil {
		telemetry = &core.NoOpTelemetry{}
	}
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &APIHandler{adapter: adapter, gate: gate, telemetry: telemetry, logger: logger}
}

func (h *APIHandler) Handle(ctx context.Context, cmd core.PlannedCommand) (core.FinalizedCommand, error) {
	cfg := cmd.Resolved.Initial.Config

	var raw map[string]interface{}
	callErrors := map[int]error{}

	if !cfg.UseRealAPI {
		raw = h.mockResponse(cmd)
	} else {
		raw, callErrors = h.executeCalls(ctx, cmd)
	}

	finalized := core.FinalizedCommand{
		Planned:        cmd,
		RawAPIResponse: raw,
		CallErrors:     callErrors,
	}

	if est := cmd.TokenEstimate; est != nil {
		finalized.TelemetryData = map[string]interface{}{
			"token_validation": tokenValidation(est, raw),
		}
	}
	return finalized, nil
}

// mockResponse is the deterministic echo path: one "echo: {prompt}"
// answer per prompt, still shaped like a real batch response so every
// downstream extraction rule is exercised.
func (h *APIHandler) mockResponse(cmd core.PlannedCommand) map[string]interface{} {
	prompts := cmd.Resolved.Initial.Prompts

	var promptTokens, completionTokens int
	batch := make([]interface{}, 0, len(prompts))
	for _, p := range prompts {
		answer := "echo: " + p
		batch = append(batch, map[string]interface{}{"text": answer})
		promptTokens += len(p) / 4
		completionTokens += len(answer) / 4
	}
	// Non-empty prompts never cost zero tokens, mirroring the
	// estimator's floor.
	if promptTokens < len(prompts) {
		promptTokens = len(prompts)
	}
	if completionTokens < len(prompts) {
		completionTokens = len(prompts)
	}

	usage := map[string]interface{}{
		"prompt_tokens":     promptTokens,
		"completion_tokens": completionTokens,
		"total_tokens":      promptTokens + completionTokens,
	}

	if len(prompts) == 1 {
		return map[string]interface{}{
			"text":  "echo: " + prompts[0],
			"usage": usage,
			"mock":  true,
		}
	}
	return map[string]interface{}{
		"batch": batch,
		"usage": usage,
		"mock":  true,
	}
}

// executeCalls fans the calls out with a channel semaphore sized to
// the resolved concurrency. Per-call failures do not abort peers.
func (h *APIHandler) executeCalls(ctx context.Context, cmd core.PlannedCommand) (map[string]interface{}, map[int]error) {
	calls := cmd.ExecutionPlan.Calls
	cfg := cmd.Resolved.Initial.Config

	concurrency := cmd.ExecutionPlan.ResolvedConcurrency
	if concurrency < 1 {
		concurrency = 1
	}

	results := make([]providers.GenerateResult, len(calls))
	errs := make([]error, len(calls))

	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup
	for i, call := range calls {
		if ctx.Err() != nil {
			errs[i] = ctx.Err()
			continue
		}
		wg.Add(1)
		go func(idx int, call core.APICall) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			spanCtx, span := h.telemetry.StartSpan(ctx, "pollux.generate")
			span.SetAttribute("ai.provider", h.adapter.Name())
			span.SetAttribute("ai.call_idx", idx)
			defer span.End()

			result, err := h.executeWithRetry(spanCtx, call, cfg, idx)
			if err != nil {
				span.RecordError(err)
				errs[idx] = err
				return
			}
			results[idx] = result
		}(i, call)
	}
	wg.Wait()

	callErrors := map[int]error{}
	for i, err := range errs {
		if err != nil {
			callErrors[i] = err
		}
	}

	return assembleRaw(results, errs), callErrors
}

// executeWithRetry runs one call under the admission gate with the
// fixed backoff matrix: base 0.5s, factor 2.0, jitter ±20%, bounded
// attempts, honoring an advisory retry_after_s when the error carries
// one.
func (h *APIHandler) executeWithRetry(ctx context.Context, call core.APICall, cfg *core.FrozenConfig, callIdx int) (providers.GenerateResult, error) {
	policy := cfg.RetryPolicy
	if policy.MaxAttempts < 1 {
		policy = core.DefaultRetryPolicy()
	}

	var lastErr error
	for attempt := 0; attempt < policy.MaxAttempts; attempt++ {
		if err := h.gate.Admit(ctx); err != nil {
			return providers.GenerateResult{}, err
		}

		attemptCtx := ctx
		var cancel context.CancelFunc
		if cfg.RequestTimeoutS > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, time.Duration(cfg.RequestTimeoutS*float64(time.Second)))
		}
		result, err := h.adapter.Generate(attemptCtx, call)
		if cancel != nil {
			cancel()
		}
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !core.IsRetryable(err) || attempt == policy.MaxAttempts-1 {
			break
		}

		delay := backoffDelay(policy, attempt, err)
		h.logger.WarnWithContext(ctx, "retrying provider call", map[string]interface{}{
			"call_idx": callIdx,
			"attempt":  attempt + 1,
			"delay_s":  delay.Seconds(),
			"error":    err.Error(),
		})

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return providers.GenerateResult{}, ctx.Err()
		case <-timer.C:
		}
	}
	return providers.GenerateResult{}, decorateCallError(lastErr, callIdx)
}

func backoffDelay(policy core.RetryPolicy, attempt int, err error) time.Duration {
	var pe *core.PolluxError
	if errors.As(err, &pe) && pe.RetryAfterS != nil && *pe.RetryAfterS > 0 {
		return time.Duration(*pe.RetryAfterS * float64(time.Second))
	}

	delayS := policy.BaseDelayS
	for i := 0; i < attempt; i++ {
		delayS *= policy.Factor
	}
	jitter := 1 + policy.JitterFrac*(rand.Float64()*2-1)
	return time.Duration(delayS * jitter * float64(time.Second))
}

func decorateCallError(err error, callIdx int) error {
	if err == nil {
		return nil
	}
	var pe *core.PolluxError
	if errors.As(err, &pe) {
		if pe.CallIdx == nil {
			decorated := *pe
			idx := callIdx
			decorated.CallIdx = &idx
			decorated.Phase = "APIHandler"
			return &decorated
		}
		return err
	}
	return core.NewAPIError(err.Error(), core.WithCallIdx(callIdx), core.WithPhase("APIHandler"), core.WithWrapped(err))
}

// assembleRaw shapes per-call results into the raw response envelope:
// a single call keeps the flat {text, usage} shape; multiple calls
// become a batch with merged usage. Failed slots carry empty text so
// answer positions stay aligned with prompts.
func assembleRaw(results []providers.GenerateResult, errs []error) map[string]interface{} {
	usage := map[string]interface{}{
		"prompt_tokens":     0,
		"completion_tokens": 0,
		"total_tokens":      0,
	}
	addUsage := func(u map[string]interface{}) {
		for _, key := range []string{"prompt_tokens", "completion_tokens", "total_tokens"} {
			usage[key] = toInt(usage[key]) + toInt(u[key])
		}
	}

	if len(results) == 1 {
		if errs[0] != nil {
			return map[string]interface{}{"text": "", "usage": usage}
		}
		addUsage(results[0].Usage)
		out := map[string]interface{}{
			"text":  results[0].Text,
			"usage": usage,
		}
		if results[0].Structured != nil {
			out["structured"] = results[0].Structured
		}
		return out
	}

	batch := make([]interface{}, len(results))
	for i, r := range results {
		if errs[i] != nil {
			batch[i] = map[string]interface{}{"text": ""}
			continue
		}
		addUsage(r.Usage)
		entry := map[string]interface{}{"text": r.Text}
		if r.Structured != nil {
			entry["structured"] = r.Structured
		}
		batch[i] = entry
	}
	return map[string]interface{}{"batch": batch, "usage": usage}
}

// tokenValidation compares the post-hoc usage against the planner's
// estimate. Attached whenever an estimate exists, including on the
// mock path.
func tokenValidation(est *core.TokenEstimate, raw map[string]interface{}) map[string]interface{} {
	actual := 0
	if usage, ok := raw["usage"].(map[string]interface{}); ok {
		actual = toInt(usage["total_tokens"])
	}
	return map[string]interface{}{
		"estimated_expected": est.ExpectedTokens,
		"estimated_min":      est.MinTokens,
		"estimated_max":      est.MaxTokens,
		"actual":             actual,
		"in_range":           actual >= est.MinTokens && actual <= est.MaxTokens,
	}
}

func toInt(v interface{}) int {
	switch n := v.(type) {
	case int:
		return n
	case int32:
		return int(n)
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}
