package pipeline

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/seanbrar/pollux-sub002/core"
	"github.com/seanbrar/pollux-sub002/estimation"
	"github.com/seanbrar/pollux-sub002/providers"
	"github.com/seanbrar/pollux-sub002/ratelimit"
	"github.com/seanbrar/pollux-sub002/registry"
)

// Stage names as they appear in metrics.durations. Stable contract.
const (
	StageSource      = "SourceHandler"
	StagePlanner     = "ExecutionPlanner"
	StageMaterialize = "RemoteMaterializationStage"
	StageRateLimit   = "RateLimitHandler"
	StageCache       = "CacheStage"
	StageAPI         = "APIHandler"
	StageResult      = "ResultBuilder"
)

// rawPreviewLimit bounds the diagnostics.raw_preview attachment.
const rawPreviewLimit = 512

// Executor owns the registries, the admission gate, and the adapter,
// and runs the seven stages in strict order. It is safe for
// concurrent Execute calls.
type Executor struct {
	cfg       *core.FrozenConfig
	adapter   providers.Adapter
	files     registry.FileRegistry
	caches    *registry.CacheRegistry
	gate      *ratelimit.AdmissionGate
	estimator estimation.Estimator
	logger    core.Logger
	telemetry core.Telemetry
	flags     core.DevFlags
}

// ExecutorOption customizes Executor construction.
type ExecutorOption func(*Executor)

// WithLogger injects a logger; the default is a NoOpLogger.
func WithLogger(logger core.Logger) ExecutorOption {
	return func(e *Executor) { e.logger = logger }
}

// WithTelemetry injects a Telemetry implementation; the default is a
// no-op.
func WithTelemetry(t core.Telemetry) ExecutorOption {
	return func(e *Executor) { e.telemetry = t }
}

// WithAdapter overrides the registry-resolved provider adapter.
// Intended for tests that need a scripted adapter.
func WithAdapter(adapter providers.Adapter) ExecutorOption {
	return func(e *Executor) { e.adapter = adapter }
}

// WithFileRegistry overrides the default file registry.
func WithFileRegistry(files registry.FileRegistry) ExecutorOption {
	return func(e *Executor) { e.files = files }
}

// NewExecutor builds an Executor from a resolved configuration. The
// file registry is Redis-backed when cfg.RedisURL is set, in-process
// otherwise.
func NewExecutor(cfg *core.FrozenConfig, opts ...ExecutorOption) (*Executor, error) {
	if cfg == nil {
		resolved, err := core.ResolveConfig()
		if err != nil {
			return nil, err
		}
		cfg = resolved
	}

	e := &Executor{
		cfg:       cfg,
		caches:    registry.NewCacheRegistry(),
		gate:      ratelimit.NewAdmissionGate(),
		logger:    &core.NoOpLogger{},
		telemetry: &core.NoOpTelemetry{},
		flags:     core.LoadDevFlags(),
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.adapter == nil {
		adapter, err := providers.BuildAdapter(cfg)
		if err != nil {
			return nil, err
		}
		e.adapter = adapter
	}

	if e.files == nil {
		if cfg.RedisURL != "" {
			files, err := registry.NewRedisFileRegistry(cfg.RedisURL, "pollux")
			if err != nil {
				return nil, core.NewConfigurationError(
					"failed to connect file registry to Redis: "+err.Error(),
					core.WithWrapped(err),
				)
			}
			e.files = files
		} else {
			e.files = registry.NewMemoryFileRegistry()
		}
	}

	if e.estimator == nil {
		e.estimator = estimation.ForProvider(cfg.Provider)
	}

	return e, nil
}

// Execute runs the full pipeline for one command and always returns
// an envelope: stage failures surface as status "error" with
// diagnostics.error populated, never as a Go error.
func (e *Executor) Execute(ctx context.Context, cmd core.InitialCommand) *core.ResultEnvelope {
	if cmd.Config == nil {
		cmd.Config = e.cfg
	}
	ctx = core.ContextWithCallID(ctx, uuid.NewString())

	durations := map[string]float64{}
	timed := func(stage string, fn func() error) error {
		_, span := e.telemetry.StartSpan(ctx, "pollux."+stage)
		start := time.Now()
		err := fn()
		durations[stage] = time.Since(start).Seconds()
		if err != nil {
			span.RecordError(err)
		}
		span.End()
		return err
	}

	sourceHandler := NewSourceHandler(e.logger)
	planner := NewExecutionPlanner(e.estimator, e.logger)
	materializer := NewRemoteMaterializationStage(e.files, e.adapter, e.logger)
	rateLimiter := NewRateLimitHandler(e.gate, e.logger)
	cacheStage := NewCacheStage(e.caches, e.adapter, e.logger)
	apiHandler := NewAPIHandler(e.adapter, e.gate, e.telemetry, e.logger)
	resultBuilder := NewResultBuilder(e.logger)

	var resolved core.ResolvedCommand
	if err := timed(StageSource, func() error {
		var err error
		resolved, err = sourceHandler.Handle(ctx, cmd)
		return err
	}); err != nil {
		return e.failureEnvelope(err, durations)
	}
	e.validate(StageSource, resolved)

	var planned core.PlannedCommand
	if err := timed(StagePlanner, func() error {
		var err error
		planned, err = planner.Handle(ctx, resolved)
		return err
	}); err != nil {
		return e.failureEnvelope(err, durations)
	}
	e.validate(StagePlanner, planned)

	if envelope := e.cancelledEnvelope(ctx, durations); envelope != nil {
		return envelope
	}

	if err := timed(StageMaterialize, func() error {
		var err error
		planned, err = materializer.Handle(ctx, planned)
		return err
	}); err != nil {
		return e.failureEnvelope(err, durations)
	}
	if e.flags.PipelineValidate {
		if err := planned.ValidateNoPlaceholders(); err != nil {
			panic(core.NewInvariantViolationError(err.Error(), core.WithPhase(StageMaterialize)))
		}
	}

	if err := timed(StageRateLimit, func() error {
		var err error
		planned, err = rateLimiter.Handle(ctx, planned)
		return err
	}); err != nil {
		return e.failureEnvelope(err, durations)
	}

	if err := timed(StageCache, func() error {
		var err error
		planned, err = cacheStage.Handle(ctx, planned)
		return err
	}); err != nil {
		return e.failureEnvelope(err, durations)
	}

	if envelope := e.cancelledEnvelope(ctx, durations); envelope != nil {
		return envelope
	}

	var finalized core.FinalizedCommand
	if err := timed(StageAPI, func() error {
		var err error
		finalized, err = apiHandler.Handle(ctx, planned)
		return err
	}); err != nil {
		return e.failureEnvelope(err, durations)
	}
	e.validate(StageAPI, finalized)

	if e.flags.TelemetryRawPreview {
		if finalized.Planned.Resolved.Diagnostics == nil {
			finalized.Planned.Resolved.Diagnostics = map[string]interface{}{}
		}
		finalized.Planned.Resolved.Diagnostics["raw_preview"] = previewRaw(finalized.RawAPIResponse)
	}

	var envelope *core.ResultEnvelope
	if err := timed(StageResult, func() error {
		var err error
		envelope, err = resultBuilder.Handle(ctx, finalized, durations)
		return err
	}); err != nil {
		return e.failureEnvelope(err, durations)
	}

	if ctx.Err() != nil {
		envelope.Diagnostics["cancelled"] = true
		if envelope.Status == "ok" {
			envelope.Status = "partial"
		}
	}
	return envelope
}

func (e *Executor) validate(stage string, v core.Validatable) {
	if e.flags.PipelineValidate {
		core.MustValidate(stage, v)
	}
}

// failureEnvelope converts a stage failure into the error envelope
// shape; the pipeline never propagates stage errors as Go errors.
func (e *Executor) failureEnvelope(err error, durations map[string]float64) *core.ResultEnvelope {
	e.logger.Error("pipeline stage failed", map[string]interface{}{"error": err.Error()})
	return &core.ResultEnvelope{
		Status:           "error",
		Answers:          []string{},
		ExtractionMethod: "",
		Confidence:       0,
		Usage:            map[string]interface{}{},
		Metrics:          map[string]interface{}{"durations": durations},
		Diagnostics:      map[string]interface{}{"error": err.Error()},
	}
}

func (e *Executor) cancelledEnvelope(ctx context.Context, durations map[string]float64) *core.ResultEnvelope {
	if ctx.Err() == nil {
		return nil
	}
	return &core.ResultEnvelope{
		Status:           "error",
		Answers:          []string{},
		ExtractionMethod: "",
		Confidence:       0,
		Usage:            map[string]interface{}{},
		Metrics:          map[string]interface{}{"durations": durations},
		Diagnostics: map[string]interface{}{
			"cancelled": true,
			"error":     ctx.Err().Error(),
		},
	}
}

func previewRaw(raw map[string]interface{}) string {
	data, err := json.Marshal(raw)
	if err != nil {
		return ""
	}
	if len(data) > rawPreviewLimit {
		data = data[:rawPreviewLimit]
	}
	return string(data)
}

// CacheStats exposes the cache registry's state for diagnostics.
func (e *Executor) CacheStats() (entries int, hottest []string) {
	return e.caches.Stats()
}

// Config returns the executor's frozen configuration.
func (e *Executor) Config() *core.FrozenConfig {
	return e.cfg
}
