package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/seanbrar/pollux-sub002/core"
	"github.com/seanbrar/pollux-sub002/providers"
	"github.com/seanbrar/pollux-sub002/registry"
)

// uploadTTL bounds how long a provider-side file URI is trusted before
// re-upload. Gemini's Files API expires uploads after 48 hours; the
// registry entry expires earlier to stay on the safe side.
const uploadTTL = 40 * time.Hour

// RemoteMaterializationStage uploads oversized file sources through
// the adapter's UploadsCapability, deduplicating by fingerprint via
// the FileRegistry, then rebinds every placeholder part to its remote
// URI. Adapters without the capability get the content inlined
// instead, with a diagnostic.
type RemoteMaterializationStage struct {
	files   registry.FileRegistry
	adapter providers.Adapter
	logger  core.Logger
}

func NewRemoteMaterializationStage(files registry.FileRegistry, adapter providers.Adapter, logger core.Logger) *RemoteMaterializationStage {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &RemoteMaterializationStage{files: files, adapter: adapter, logger: logger}
}

func (s *RemoteMaterializationStage) Handle(ctx context.Context, cmd core.PlannedCommand) (core.PlannedCommand, error) {
	tasks := cmd.ExecutionPlan.UploadTasks
	if len(tasks) == 0 {
		return cmd, nil
	}

	uploader, hasUploads := s.adapter.(providers.UploadsCapability)

	resolved := make(map[string]core.APIPart, len(tasks))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for _, task := range tasks {
		task := task
		g.Go(func() error {
			part, err := s.materializeOne(gctx, task, uploader, hasUploads)
			if err != nil {
				return err
			}
			mu.Lock()
			resolved[task.Fingerprint] = part
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return core.PlannedCommand{}, err
	}

	if !hasUploads {
		if cmd.Resolved.Diagnostics == nil {
			cmd.Resolved.Diagnostics = map[string]interface{}{}
		}
		cmd.Resolved.Diagnostics["uploads_unsupported"] = map[string]interface{}{
			"provider": s.adapter.Name(),
			"inlined":  len(tasks),
		}
	}

	plan := cmd.ExecutionPlan
	for i := range plan.Calls {
		plan.Calls[i].APIParts = substitutePlaceholders(plan.Calls[i].APIParts, resolved)
	}
	plan.SharedParts = substitutePlaceholders(plan.SharedParts, resolved)
	plan.UploadTasks = nil
	cmd.ExecutionPlan = plan
	return cmd, nil
}

// materializeOne resolves a single upload task to its replacement
// part: a FileRefPart bound to the registry's URI, or an inline part
// when the adapter cannot upload.
func (s *RemoteMaterializationStage) materializeOne(ctx context.Context, task core.UploadTask, uploader providers.UploadsCapability, hasUploads bool) (core.APIPart, error) {
	if !hasUploads {
		data, err := task.Source.Load(ctx)
		if err != nil {
			return core.APIPart{}, core.NewFileError(
				fmt.Sprintf("cannot inline file source %q: %v", task.Source.Identifier, err),
				core.WithPhase("RemoteMaterializationStage"),
				core.WithWrapped(err),
			)
		}
		return core.InlineDataPart(data, task.Source.MIME), nil
	}

	uri, err := s.files.Materialize(ctx, task.Fingerprint, uploadTTL, func(ctx context.Context) (string, error) {
		data, err := task.Source.Load(ctx)
		if err != nil {
			return "", core.NewFileError(
				fmt.Sprintf("failed to load file source %q for upload: %v", task.Source.Identifier, err),
				core.WithPhase("RemoteMaterializationStage"),
				core.WithWrapped(err),
			)
		}
		s.logger.DebugWithContext(ctx, "uploading file source", map[string]interface{}{
			"fingerprint": task.Fingerprint,
			"size_bytes":  len(data),
		})
		return uploader.UploadFile(ctx, task.Fingerprint, data, task.Source.MIME)
	})
	if err != nil {
		return core.APIPart{}, err
	}
	return core.FileRefPart(uri, task.Source.MIME), nil
}

func substitutePlaceholders(parts []core.APIPart, resolved map[string]core.APIPart) []core.APIPart {
	for i, p := range parts {
		if p.Kind != core.APIPartPlaceholder {
			continue
		}
		if replacement, ok := resolved[p.PlaceholderID]; ok {
			parts[i] = replacement
		}
	}
	return parts
}
