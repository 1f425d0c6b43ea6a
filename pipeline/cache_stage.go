package pipeline

import (
	"context"
	"time"

	"github.com/seanbrar/pollux-sub002/core"
	"github.com/seanbrar/pollux-sub002/providers"
	"github.com/seanbrar/pollux-sub002/registry"
)

// CacheStage applies explicit cache overrides or resolves the
// planner's cache suggestion into a concrete provider cache handle via
// the CacheRegistry. Cache failures never fail the pipeline: the call
// proceeds uncached with a diagnostic.
type CacheStage struct {
	caches  *registry.CacheRegistry
	adapter providers.Adapter
	logger  core.Logger
}

func NewCacheStage(caches *registry.CacheRegistry, adapter providers.Adapter, logger core.Logger) *CacheStage {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &CacheStage{caches: caches, adapter: adapter, logger: logger}
}

func (s *CacheStage) Handle(ctx context.Context, cmd core.PlannedCommand) (core.PlannedCommand, error) {
	opts := cmd.Resolved.Initial.Options

	// The override path must succeed regardless of adapter caching
	// support: the caller asserts the cache handle exists.
	if opts != nil && opts.CacheOverrideName != "" {
		for i := range cmd.ExecutionPlan.Calls {
			cmd.ExecutionPlan.Calls[i].CacheNameToUse = opts.CacheOverrideName
		}
		return cmd, nil
	}

	if !cmd.ExecutionPlan.SuggestCache {
		return cmd, nil
	}

	cacher, ok := s.adapter.(providers.CachingCapability)
	if !ok {
		return cmd, nil
	}

	cfg := cmd.Resolved.Initial.Config
	modelName := cfg.DefaultModel

	cacheParts := cmd.ExecutionPlan.SharedParts
	if len(cacheParts) == 0 && len(cmd.ExecutionPlan.Calls) > 0 {
		cacheParts = cmd.ExecutionPlan.Calls[0].APIParts
	}

	fingerprint := registry.CacheFingerprint(modelName, cacheParts, "")
	ttl := time.Duration(cfg.CacheTTLSeconds) * time.Second

	cacheName, err := s.caches.GetOrCreate(ctx, fingerprint, ttl, func(ctx context.Context) (string, error) {
		return cacher.CreateCache(ctx, modelName, cacheParts, cfg.CacheTTLSeconds)
	})
	if err != nil {
		s.logger.WarnWithContext(ctx, "cache creation failed, proceeding uncached", map[string]interface{}{
			"fingerprint": fingerprint,
			"error":       err.Error(),
		})
		if cmd.Resolved.Diagnostics == nil {
			cmd.Resolved.Diagnostics = map[string]interface{}{}
		}
		cmd.Resolved.Diagnostics["cache_degraded"] = map[string]interface{}{
			"fingerprint": fingerprint,
			"error":       err.Error(),
		}
		for i := range cmd.ExecutionPlan.Calls {
			cmd.ExecutionPlan.Calls[i].CacheNameToUse = ""
		}
		return cmd, nil
	}

	for i := range cmd.ExecutionPlan.Calls {
		cmd.ExecutionPlan.Calls[i].CacheNameToUse = cacheName
	}
	return cmd, nil
}
