package estimation

import "github.com/seanbrar/pollux-sub002/core"

// geminiImageTokenBase is the fixed per-image floor Gemini charges
// regardless of resolution.
const geminiImageTokenBase = 258

// geminiImageTokensPerMB is the size compensation applied on top of
// the base: larger images tile into more vision patches.
const geminiImageTokensPerMB = 516

// GeminiEstimator approximates Gemini's token accounting: a
// characters/4 heuristic for text, and a fixed floor plus per-megabyte
// compensation for images.
type GeminiEstimator struct{}

func (e *GeminiEstimator) Estimate(source core.Source) core.TokenEstimate {
	if isImage(source.MIME) {
		return e.estimateImage(source)
	}
	return textEstimate(source.Identifier, source.SizeBytes, 0.8)
}

func (e *GeminiEstimator) estimateImage(source core.Source) core.TokenEstimate {
	megabytes := float64(source.SizeBytes) / float64(1<<20)
	expected := geminiImageTokenBase + int(megabytes*geminiImageTokensPerMB)

	min := geminiImageTokenBase
	max := expected * 2

	return core.TokenEstimate{
		MinTokens:      min,
		ExpectedTokens: expected,
		MaxTokens:      max,
		Confidence:     0.7,
		Breakdown: []core.TokenEstimateBreakdown{{
			SourceIdentifier: source.Identifier,
			MinTokens:        min,
			ExpectedTokens:   expected,
			MaxTokens:        max,
		}},
	}
}

func (e *GeminiEstimator) Aggregate(estimates []core.TokenEstimate) core.TokenEstimate {
	return core.AggregateTokenEstimates(estimates)
}
