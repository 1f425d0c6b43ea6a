package pipeline

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/seanbrar/pollux-sub002/core"
	"github.com/seanbrar/pollux-sub002/providers"
)

func testConfig() *core.FrozenConfig {
	return &core.FrozenConfig{
		Provider:        "google",
		DefaultModel:    "gemini-2.0-flash",
		UseRealAPI:      false,
		RequestTimeoutS: 5,
		RetryPolicy:     core.DefaultRetryPolicy(),
		EnableCaching:   true,
		EnableUploads:   true,
		CacheTTLSeconds: 3600,
	}
}

// scriptedAdapter is a controllable Adapter for stage tests. Optional
// capability support is toggled per test via the embedding wrappers
// below.
type scriptedAdapter struct {
	mu       sync.Mutex
	generate func(ctx context.Context, call core.APICall) (providers.GenerateResult, error)
	calls    []core.APICall
	inFlight int64
	maxSeen  int64
}

func (a *scriptedAdapter) Name() string { return "scripted" }

func (a *scriptedAdapter) Generate(ctx context.Context, call core.APICall) (providers.GenerateResult, error) {
	cur := atomic.AddInt64(&a.inFlight, 1)
	defer atomic.AddInt64(&a.inFlight, -1)
	for {
		seen := atomic.LoadInt64(&a.maxSeen)
		if cur <= seen || atomic.CompareAndSwapInt64(&a.maxSeen, seen, cur) {
			break
		}
	}

	a.mu.Lock()
	a.calls = append(a.calls, call)
	gen := a.generate
	a.mu.Unlock()

	if gen != nil {
		return gen(ctx, call)
	}
	var text string
	for _, p := range call.APIParts {
		if p.Kind == core.APIPartText {
			text += p.Text
		}
	}
	return providers.GenerateResult{
		Text: "answer: " + text,
		Usage: map[string]interface{}{
			"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15,
		},
	}, nil
}

func (a *scriptedAdapter) recordedCalls() []core.APICall {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]core.APICall, len(a.calls))
	copy(out, a.calls)
	return out
}

// uploadingAdapter adds UploadsCapability on top of scriptedAdapter.
type uploadingAdapter struct {
	scriptedAdapter
	uploadCount int64
}

func (a *uploadingAdapter) UploadFile(ctx context.Context, fingerprint string, data []byte, mime string) (string, error) {
	atomic.AddInt64(&a.uploadCount, 1)
	return fmt.Sprintf("files/%s", fingerprint), nil
}

// cachingAdapter adds CachingCapability on top of scriptedAdapter.
type cachingAdapter struct {
	scriptedAdapter
	createCount int64
	createErr   error
}

func (a *cachingAdapter) CreateCache(ctx context.Context, modelName string, parts []core.APIPart, ttlSeconds int) (string, error) {
	atomic.AddInt64(&a.createCount, 1)
	if a.createErr != nil {
		return "", a.createErr
	}
	return "cachedContents/generated", nil
}
