// Package pipeline contains the seven execution stages and the
// Executor that composes them. Each stage is a pure transformer from
// one command shape to the next; all shared state (registries, the
// admission gate, the adapter) is injected by the Executor.
package pipeline

import (
	"context"
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/seanbrar/pollux-sub002/core"
)

var recognizedURISchemes = map[string]bool{
	"http":  true,
	"https": true,
	"gs":    true,
}

// SourceHandler classifies and validates every input source, producing
// the ResolvedCommand the planner works from.
type SourceHandler struct {
	logger core.Logger
}

// NewSourceHandler builds a SourceHandler. logger may be nil.
func NewSourceHandler(logger core.Logger) *SourceHandler {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &SourceHandler{logger: logger}
}

func (h *SourceHandler) Handle(ctx context.Context, cmd core.InitialCommand) (core.ResolvedCommand, error) {
	resolved := make([]core.Source, 0, len(cmd.Sources))
	diagnostics := map[string]interface{}{}

	for i, src := range cmd.Sources {
		switch src.Kind {
		case core.SourceText:
			resolved = append(resolved, src)

		case core.SourceFile:
			out, triggered, err := h.resolveFile(ctx, src)
			if err != nil {
				return core.ResolvedCommand{}, err
			}
			if triggered {
				diagnostics["bare_filename_heuristic"] = map[string]interface{}{
					"identifier": src.Identifier,
					"triggered":  true,
				}
				h.logger.WarnWithContext(ctx, "treating non-existent bare filename as text", map[string]interface{}{
					"identifier": src.Identifier,
					"index":      i,
				})
			}
			resolved = append(resolved, out)

		case core.SourceURI:
			if err := validateURIScheme(src.Identifier); err != nil {
				return core.ResolvedCommand{}, err
			}
			resolved = append(resolved, src)

		default:
			return core.ResolvedCommand{}, core.NewSourceError(
				fmt.Sprintf("source %d has unknown kind %q", i, src.Kind),
				core.WithPhase("SourceHandler"),
			)
		}
	}

	return core.ResolvedCommand{
		Initial:         cmd,
		ResolvedSources: resolved,
		Diagnostics:     diagnostics,
	}, nil
}

// resolveFile resolves a file source to an absolute path with MIME and
// size, or reinterprets it as text under the bare-filename heuristic.
func (h *SourceHandler) resolveFile(ctx context.Context, src core.Source) (core.Source, bool, error) {
	info, err := os.Stat(src.Identifier)
	if err != nil {
		if os.IsNotExist(err) && core.LooksLikeBareFilename(src.Identifier) {
			return core.SourceFromText(src.Identifier), true, nil
		}
		return core.Source{}, false, core.NewSourceError(
			fmt.Sprintf("file source %q is not readable: %v", src.Identifier, err),
			core.WithPhase("SourceHandler"),
			core.WithWrapped(err),
		)
	}

	abs, err := filepath.Abs(src.Identifier)
	if err != nil {
		abs = src.Identifier
	}

	out := src
	out.Identifier = abs
	out.SizeBytes = info.Size()
	if out.Loader == nil {
		path := abs
		out.Loader = func(context.Context) ([]byte, error) {
			return os.ReadFile(path)
		}
	}
	if out.MIME == "" {
		out.MIME = detectMIME(ctx, abs, out.Loader)
	}
	return out, false, nil
}

// detectMIME resolves a MIME type from the extension, falling back to
// a content sniff of the first 512 bytes.
func detectMIME(ctx context.Context, path string, loader core.ContentLoader) string {
	if byExt := mime.TypeByExtension(filepath.Ext(path)); byExt != "" {
		// TypeByExtension may carry parameters ("; charset=utf-8").
		if idx := strings.Index(byExt, ";"); idx > 0 {
			return byExt[:idx]
		}
		return byExt
	}
	if loader == nil {
		return ""
	}
	data, err := loader(ctx)
	if err != nil {
		return ""
	}
	if len(data) > 512 {
		data = data[:512]
	}
	sniffed := http.DetectContentType(data)
	if idx := strings.Index(sniffed, ";"); idx > 0 {
		return sniffed[:idx]
	}
	return sniffed
}

func validateURIScheme(uri string) error {
	idx := strings.Index(uri, "://")
	if idx <= 0 {
		// Provider-native references ("files/...", "cachedContents/...")
		// have no scheme and pass through for the adapter to resolve.
		return nil
	}
	scheme := strings.ToLower(uri[:idx])
	if !recognizedURISchemes[scheme] {
		return core.NewSourceError(
			fmt.Sprintf("unrecognized URI scheme %q in %q", scheme, uri),
			core.WithPhase("SourceHandler"),
		)
	}
	return nil
}
