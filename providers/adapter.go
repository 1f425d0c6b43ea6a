// Package providers adapts Pollux's provider-agnostic APICall/APIPart
// shapes to each backend's native SDK or wire format, and exposes the
// optional capabilities (uploads, caching) a model provider may
// support beyond plain generation.
package providers

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/seanbrar/pollux-sub002/core"
)

// GenerateResult is an adapter's raw response: the extracted answer
// text, usage accounting, and the untouched provider payload for
// diagnostics.
type GenerateResult struct {
	Text         string
	FinishReason string
	Usage        map[string]interface{}
	Raw          map[string]interface{}

	// Structured carries the parsed payload when the call requested a
	// JSON schema and the provider returned structured content.
	Structured interface{}
}

// Adapter is the minimal contract every provider must satisfy:
// turning one APICall into one GenerateResult. Providers that can do
// more implement the capability interfaces below;
// RemoteMaterializationStage and CacheStage probe for them with type assertions rather
// than requiring a monolithic interface.
type Adapter interface {
	Name() string
	Generate(ctx context.Context, call core.APICall) (GenerateResult, error)
}

// UploadsCapability is implemented by adapters that support
// materializing a local Source to a provider-side remote URI
// (RemoteMaterializationStage probes for this).
type UploadsCapability interface {
	UploadFile(ctx context.Context, fingerprint string, data []byte, mime string) (uri string, err error)
}

// CachingCapability is implemented by adapters that support
// server-side context caching (CacheStage probes for this).
type CachingCapability interface {
	CreateCache(ctx context.Context, modelName string, parts []core.APIPart, ttlSeconds int) (cacheName string, err error)
}

// Factory builds an Adapter from a resolved configuration. Provider
// packages register a Factory from an init() function.
type Factory interface {
	Create(cfg *core.FrozenConfig) (Adapter, error)
	Name() string
}

type registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

var globalRegistry = &registry{factories: make(map[string]Factory)}

// Register adds factory to the global provider registry. Call this
// from an init() function; a duplicate name is an error so two
// packages can never silently shadow each other.
func Register(factory Factory) error {
	if factory == nil {
		return fmt.Errorf("providers: factory cannot be nil")
	}
	name := factory.Name()
	if name == "" {
		return fmt.Errorf("providers: factory.Name() cannot be empty")
	}

	globalRegistry.mu.Lock()
	defer globalRegistry.mu.Unlock()

	if _, exists := globalRegistry.factories[name]; exists {
		return fmt.Errorf("providers: provider %q already registered", name)
	}
	globalRegistry.factories[name] = factory
	return nil
}

// MustRegister registers factory and panics on error. Intended for
// init() functions where there is no sane recovery path.
func MustRegister(factory Factory) {
	if err := Register(factory); err != nil {
		panic(err)
	}
}

// GetProvider retrieves a registered Factory by name.
func GetProvider(name string) (Factory, bool) {
	globalRegistry.mu.RLock()
	defer globalRegistry.mu.RUnlock()
	f, ok := globalRegistry.factories[name]
	return f, ok
}

// ListProviders returns every registered provider name, sorted.
func ListProviders() []string {
	globalRegistry.mu.RLock()
	defer globalRegistry.mu.RUnlock()
	names := make([]string, 0, len(globalRegistry.factories))
	for name := range globalRegistry.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ResolveProvider maps a model name to a provider identifier. It
// delegates to core.ResolveProvider so the mapping lives in exactly
// one place (the plain data-model package, not this registry).
func ResolveProvider(modelName string) string {
	return core.ResolveProvider(modelName)
}

// BuildAdapter resolves cfg.Provider (or, if empty, the provider
// implied by cfg.DefaultModel) against the registry and constructs
// the adapter.
func BuildAdapter(cfg *core.FrozenConfig) (Adapter, error) {
	name := cfg.Provider
	if name == "" {
		name = core.ResolveProvider(cfg.DefaultModel)
	}
	factory, ok := GetProvider(name)
	if !ok {
		return nil, core.NewConfigurationError(
			fmt.Sprintf("no provider registered for %q", name),
			core.WithHint("Registered providers: "+fmt.Sprint(ListProviders())),
		)
	}
	return factory.Create(cfg)
}
