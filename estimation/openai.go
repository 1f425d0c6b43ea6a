package estimation

import "github.com/seanbrar/pollux-sub002/core"

// OpenAI's published image accounting: a fixed base per image plus a
// per-tile charge. Without decoding dimensions we approximate tiles
// from byte size.
const (
	openaiImageTokenBase = 85
	openaiTokensPerTile  = 170
	openaiBytesPerTile   = 256 << 10
)

// OpenAIEstimator approximates cl100k-family accounting for text and
// the tiling formula for images.
type OpenAIEstimator struct{}

func (e *OpenAIEstimator) Estimate(source core.Source) core.TokenEstimate {
	if isImage(source.MIME) {
		return e.estimateImage(source)
	}
	return textEstimate(source.Identifier, source.SizeBytes, 0.85)
}

func (e *OpenAIEstimator) estimateImage(source core.Source) core.TokenEstimate {
	tiles := int(source.SizeBytes/openaiBytesPerTile) + 1
	expected := openaiImageTokenBase + tiles*openaiTokensPerTile

	min := openaiImageTokenBase
	if min < minNonEmptyTokens {
		min = minNonEmptyTokens
	}
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

func (e *OpenAIEstimator) Aggregate(estimates []core.TokenEstimate) core.TokenEstimate {
	return core.AggregateTokenEstimates(estimates)
}
