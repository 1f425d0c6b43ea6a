package core

import "strings"

// ModelPolicy carries the per-model constants the estimation and
// planning stages need: the token-count tier a model belongs to, the
// context window it must fit within, and a hard floor below which an
// estimate is considered implausible.
type ModelPolicy struct {
	Name                  string
	Tier                  string // "small" | "medium" | "large"
	ContextWindowTokens   int
	ExplicitMinimumTokens int
	ImageTokenFloor       int   // 0 when the model has no image-specific floor
	InlineThresholdBytes  int64 // file sources above this are uploaded, not embedded
}

// ModelPolicies is the fixed table of recognized models. Lookup is
// case-insensitive via ResolveModelPolicy.
var ModelPolicies = map[string]ModelPolicy{
	"gemini-1.5-flash": {
		Name: "gemini-1.5-flash", Tier: "small",
		ContextWindowTokens: 1_000_000, ExplicitMinimumTokens: 4096,
		ImageTokenFloor: 258, InlineThresholdBytes: 20 << 20,
	},
	"gemini-1.5-pro": {
		Name: "gemini-1.5-pro", Tier: "large",
		ContextWindowTokens: 2_000_000, ExplicitMinimumTokens: 32768,
		ImageTokenFloor: 258, InlineThresholdBytes: 20 << 20,
	},
	"gemini-2.0-flash": {
		Name: "gemini-2.0-flash", Tier: "medium",
		ContextWindowTokens: 1_000_000, ExplicitMinimumTokens: 4096,
		ImageTokenFloor: 258, InlineThresholdBytes: 20 << 20,
	},
	"gpt-4": {
		Name: "gpt-4", Tier: "large",
		ContextWindowTokens: 128_000, ExplicitMinimumTokens: 1024,
		InlineThresholdBytes: 512 << 10,
	},
	"gpt-4o": {
		Name: "gpt-4o", Tier: "medium",
		ContextWindowTokens: 128_000, ExplicitMinimumTokens: 1024,
		InlineThresholdBytes: 512 << 10,
	},
	"gpt-4o-mini": {
		Name: "gpt-4o-mini", Tier: "small",
		ContextWindowTokens: 128_000, ExplicitMinimumTokens: 1024,
		InlineThresholdBytes: 512 << 10,
	},
	"claude-3-sonnet": {
		Name: "claude-3-sonnet", Tier: "medium",
		ContextWindowTokens: 200_000, ExplicitMinimumTokens: 1024,
		InlineThresholdBytes: 1 << 20,
	},
	"claude-3-haiku": {
		Name: "claude-3-haiku", Tier: "small",
		ContextWindowTokens: 200_000, ExplicitMinimumTokens: 1024,
		InlineThresholdBytes: 1 << 20,
	},
}

// ResolveModelPolicy looks up a model by name, case-insensitively.
// The bool return is false when the model is unrecognized; callers
// fall back to a conservative default policy in that case.
func ResolveModelPolicy(name string) (ModelPolicy, bool) {
	p, ok := ModelPolicies[strings.ToLower(strings.TrimSpace(name))]
	return p, ok
}

// DefaultModelPolicy is used for unrecognized model names: a small
// context window and an explicit minimum of 4096 tokens (the value the
// Gemini flash models use), so estimation never silently produces a larger plan than a
// conservative model could actually serve.
func DefaultModelPolicy(name string) ModelPolicy {
	return ModelPolicy{
		Name:                  name,
		Tier:                  "small",
		ContextWindowTokens:   32_000,
		ExplicitMinimumTokens: 4096,
		InlineThresholdBytes:  512 << 10,
	}
}

// TierRateConstraint maps an account tier to the rate constraint the
// planner attaches to the plan. Only the free tier is constrained;
// paid tiers rely on the provider's own enforcement.
func TierRateConstraint(tier string) *RateConstraint {
	switch strings.ToLower(strings.TrimSpace(tier)) {
	case "free":
		return &RateConstraint{RequestsPerMinute: 60}
	default:
		return nil
	}
}

// NormalizeProvider canonicalizes user-facing provider names: the
// configuration surface accepts "gemini" as an alias for "google"
// (the registry key adapters register under).
func NormalizeProvider(provider string) string {
	p := strings.ToLower(strings.TrimSpace(provider))
	if p == "gemini" {
		return "google"
	}
	return p
}

// ResolveProvider maps a model name to a provider identifier via
// case-insensitive prefix matching: "gemini" -> "google",
// "gpt" -> "openai", "claude" -> "anthropic". Unrecognized prefixes
// default to "google".
func ResolveProvider(modelName string) string {
	lower := strings.ToLower(strings.TrimSpace(modelName))
	lower = strings.TrimPrefix(lower, "models/")
	switch {
	case strings.HasPrefix(lower, "gemini"):
		return "google"
	case strings.HasPrefix(lower, "gpt"), strings.HasPrefix(lower, "o1"), strings.HasPrefix(lower, "o3"):
		return "openai"
	case strings.HasPrefix(lower, "claude"):
		return "anthropic"
	default:
		return "google"
	}
}
