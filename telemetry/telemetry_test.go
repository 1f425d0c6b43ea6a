package telemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProviderStartSpan(t *testing.T) {
	p := NewProvider()

	ctx, span := p.StartSpan(context.Background(), "pollux.test")
	require.NotNil(t, ctx)
	require.NotNil(t, span)

	// With no global tracer provider configured these are no-ops; they
	// must still be safe to call.
	span.SetAttribute("ai.provider", "google")
	span.SetAttribute("ai.call_idx", 3)
	span.SetAttribute("ai.retryable", true)
	span.SetAttribute("ai.elapsed_s", 0.25)
	span.SetAttribute("ai.custom", struct{ X int }{1})
	span.RecordError(errors.New("boom"))
	span.RecordError(nil)
	span.End()
}

func TestProviderNestedSpans(t *testing.T) {
	p := NewProvider()
	ctx, outer := p.StartSpan(context.Background(), "outer")
	innerCtx, inner := p.StartSpan(ctx, "inner")
	assert.NotNil(t, innerCtx)
	inner.End()
	outer.End()
}
