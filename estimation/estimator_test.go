package estimation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seanbrar/pollux-sub002/core"
)

func TestForProvider(t *testing.T) {
	assert.IsType(t, &OpenAIEstimator{}, ForProvider("openai"))
	assert.IsType(t, &GeminiEstimator{}, ForProvider("google"))
	assert.IsType(t, &GeminiEstimator{}, ForProvider("anything-else"))
}

func TestEstimateDeterministic(t *testing.T) {
	src := core.SourceFromText(strings.Repeat("lorem ipsum ", 100))
	for _, est := range []Estimator{&GeminiEstimator{}, &OpenAIEstimator{}} {
		a := est.Estimate(src)
		b := est.Estimate(src)
		assert.Equal(t, a, b)
	}
}

func TestEstimateInvariants(t *testing.T) {
	sources := []core.Source{
		core.SourceFromText("x"),
		core.SourceFromText(strings.Repeat("a", 10_000)),
		{Kind: core.SourceFile, Identifier: "/img.png", MIME: "image/png", SizeBytes: 3 << 20},
		{Kind: core.SourceURI, Identifier: "gs://bucket/doc.pdf", MIME: "application/pdf", SizeBytes: 100_000},
	}
	for _, est := range []Estimator{&GeminiEstimator{}, &OpenAIEstimator{}} {
		for _, src := range sources {
			e := est.Estimate(src)
			assert.LessOrEqual(t, e.MinTokens, e.ExpectedTokens, "%s", src.Identifier)
			assert.LessOrEqual(t, e.ExpectedTokens, e.MaxTokens, "%s", src.Identifier)
			assert.GreaterOrEqual(t, e.Confidence, 0.0)
			assert.LessOrEqual(t, e.Confidence, 1.0)
			if src.SizeBytes > 0 {
				assert.GreaterOrEqual(t, e.MinTokens, 10, "non-empty source floor: %s", src.Identifier)
			}
		}
	}
}

func TestGeminiImageFloor(t *testing.T) {
	est := &GeminiEstimator{}

	tiny := est.Estimate(core.Source{Kind: core.SourceFile, Identifier: "/t.png", MIME: "image/png", SizeBytes: 100})
	assert.GreaterOrEqual(t, tiny.ExpectedTokens, 258, "base floor applies to any image")

	big := est.Estimate(core.Source{Kind: core.SourceFile, Identifier: "/b.png", MIME: "image/png", SizeBytes: 5 << 20})
	assert.Greater(t, big.ExpectedTokens, tiny.ExpectedTokens, "expected tokens scale with size")
}

func TestOpenAIImageTiling(t *testing.T) {
	est := &OpenAIEstimator{}
	small := est.Estimate(core.Source{Kind: core.SourceFile, Identifier: "/s.jpg", MIME: "image/jpeg", SizeBytes: 10 << 10})
	large := est.Estimate(core.Source{Kind: core.SourceFile, Identifier: "/l.jpg", MIME: "image/jpeg", SizeBytes: 2 << 20})
	assert.Greater(t, large.ExpectedTokens, small.ExpectedTokens)
}

func TestAggregatePreservesBreakdown(t *testing.T) {
	est := &GeminiEstimator{}
	a := est.Estimate(core.SourceFromText(strings.Repeat("a", 400)))
	b := est.Estimate(core.SourceFromText(strings.Repeat("b", 800)))

	agg := est.Aggregate([]core.TokenEstimate{a, b})
	require.Len(t, agg.Breakdown, 2)
	assert.Equal(t, a.MinTokens+b.MinTokens, agg.MinTokens)
	assert.Equal(t, a.ExpectedTokens+b.ExpectedTokens, agg.ExpectedTokens)
	assert.Equal(t, a.MaxTokens+b.MaxTokens, agg.MaxTokens)
	assert.LessOrEqual(t, agg.Confidence, 0.95)
}

func TestEmptySourceCostsNothing(t *testing.T) {
	est := &GeminiEstimator{}
	e := est.Estimate(core.SourceFromText(""))
	assert.Zero(t, e.MinTokens)
	assert.Zero(t, e.ExpectedTokens)
}
