// Package estimation provides per-provider token estimation adapters.
// Estimates are deterministic heuristics: the contract guarantees
// bounds and ordering (min <= expected <= max, min >= 10 for any
// non-empty source), not exact tokenizer parity.
package estimation

import (
	"strings"

	"github.com/seanbrar/pollux-sub002/core"
)

// Estimator estimates token cost per source and aggregates across a
// plan. Estimate must be pure: the same Source always yields the same
// TokenEstimate.
type Estimator interface {
	Estimate(source core.Source) core.TokenEstimate
	Aggregate(estimates []core.TokenEstimate) core.TokenEstimate
}

// ForProvider selects the estimation adapter for a provider name.
// Unknown providers get the Gemini heuristics, matching the default
// provider resolution.
func ForProvider(provider string) Estimator {
	switch strings.ToLower(provider) {
	case "openai":
		return &OpenAIEstimator{}
	default:
		return &GeminiEstimator{}
	}
}

// minNonEmptyTokens is the floor for any source with content: even a
// one-byte source costs at least this much once wrapped in a request.
const minNonEmptyTokens = 10

func isImage(mime string) bool {
	return strings.HasPrefix(strings.ToLower(mime), "image/")
}

// textEstimate is the shared character-count heuristic: roughly four
// characters per token expected, with generous bounds on either side.
func textEstimate(identifier string, sizeBytes int64, confidence float64) core.TokenEstimate {
	if sizeBytes <= 0 {
		return core.TokenEstimate{Confidence: confidence}
	}
	expected := int(sizeBytes / 4)
	min := int(sizeBytes / 8)
	max := int(sizeBytes / 2)

	if min < minNonEmptyTokens {
		min = minNonEmptyTokens
	}
	if expected < min {
		expected = min
	}
	if max < expected {
		max = expected
	}

	return core.TokenEstimate{
		MinTokens:      min,
		ExpectedTokens: expected,
		MaxTokens:      max,
		Confidence:     confidence,
		Breakdown: []core.TokenEstimateBreakdown{{
			SourceIdentifier: identifier,
			MinTokens:        min,
			ExpectedTokens:   expected,
			MaxTokens:        max,
		}},
	}
}
