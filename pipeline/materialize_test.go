package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seanbrar/pollux-sub002/core"
	"github.com/seanbrar/pollux-sub002/registry"
)

func plannedWithUpload(cfg *core.FrozenConfig, identifier string, size int64) core.PlannedCommand {
	fingerprint := core.Fingerprint(identifier, size)
	placeholder := core.FilePlaceholder(fingerprint, "video/mp4")
	src := core.Source{
		Kind: core.SourceFile, Identifier: identifier, MIME: "video/mp4", SizeBytes: size,
		Loader: func(context.Context) ([]byte, error) { return []byte("content"), nil },
	}
	return core.PlannedCommand{
		Resolved: core.ResolvedCommand{
			Initial: core.InitialCommand{Prompts: []string{"p"}, Config: cfg},
		},
		ExecutionPlan: core.ExecutionPlan{
			Calls: []core.APICall{{
				ModelName: cfg.DefaultModel,
				APIParts:  []core.APIPart{placeholder, core.TextPart("p")},
			}},
			UploadTasks: []core.UploadTask{{Fingerprint: fingerprint, Source: src, PlaceholderPart: placeholder}},
		},
	}
}

func TestMaterializeReplacesPlaceholders(t *testing.T) {
	adapter := &uploadingAdapter{}
	stage := NewRemoteMaterializationStage(registry.NewMemoryFileRegistry(), adapter, nil)

	out, err := stage.Handle(context.Background(), plannedWithUpload(testConfig(), "/v/a.mp4", 100))
	require.NoError(t, err)

	require.NoError(t, out.ValidateNoPlaceholders())
	first := out.ExecutionPlan.Calls[0].APIParts[0]
	assert.Equal(t, core.APIPartFileRef, first.Kind)
	assert.Contains(t, first.URI, "files/")
	assert.Empty(t, out.ExecutionPlan.UploadTasks)
	assert.EqualValues(t, 1, adapter.uploadCount)
}

func TestMaterializeSingleFlightAcrossPlans(t *testing.T) {
	adapter := &uploadingAdapter{}
	files := registry.NewMemoryFileRegistry()
	stage := NewRemoteMaterializationStage(files, adapter, nil)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := stage.Handle(context.Background(), plannedWithUpload(testConfig(), "/v/shared.mp4", 4096))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 1, atomic.LoadInt64(&adapter.uploadCount),
		"concurrent plans with the same fingerprint cause exactly one upload")
}

func TestMaterializeInlinesWhenAdapterCannotUpload(t *testing.T) {
	stage := NewRemoteMaterializationStage(registry.NewMemoryFileRegistry(), &scriptedAdapter{}, nil)

	out, err := stage.Handle(context.Background(), plannedWithUpload(testConfig(), "/v/b.mp4", 100))
	require.NoError(t, err)

	require.NoError(t, out.ValidateNoPlaceholders())
	first := out.ExecutionPlan.Calls[0].APIParts[0]
	assert.Equal(t, core.APIPartInline, first.Kind)
	assert.Equal(t, []byte("content"), first.Data)
	assert.Contains(t, out.Resolved.Diagnostics, "uploads_unsupported")
}

func TestMaterializeNoTasksPassthrough(t *testing.T) {
	adapter := &uploadingAdapter{}
	stage := NewRemoteMaterializationStage(registry.NewMemoryFileRegistry(), adapter, nil)

	in := core.PlannedCommand{
		ExecutionPlan: core.ExecutionPlan{
			Calls: []core.APICall{{APIParts: []core.APIPart{core.TextPart("p")}}},
		},
	}
	out, err := stage.Handle(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, in, out)
	assert.EqualValues(t, 0, adapter.uploadCount)
}
