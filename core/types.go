package core

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ContentLoader materializes a Source's bytes on demand. The core only
// requires this blocking form; a streaming loader is left to callers
// that need one.
type ContentLoader func(ctx context.Context) ([]byte, error)

// SourceKind tags the three Source shapes.
type SourceKind string

const (
	SourceText SourceKind = "text"
	SourceFile SourceKind = "file"
	SourceURI  SourceKind = "uri"
)

// Source is a tagged variant over {text, file, uri}. Identifier and
// Kind together uniquely describe the origin; SizeBytes is always
// >= 0.
type Source struct {
	Kind       SourceKind
	Identifier string // text content, absolute file path, or the URI
	MIME       string
	SizeBytes  int64
	Loader     ContentLoader
}

// SourceFromText builds a text Source. Text sources always succeed.
func SourceFromText(text string) Source {
	return Source{
		Kind:       SourceText,
		Identifier: text,
		SizeBytes:  int64(len(text)),
		Loader: func(context.Context) ([]byte, error) {
			return []byte(text), nil
		},
	}
}

// SourceFromFile builds a file Source. Construction is strict: it fails
// immediately if path does not exist.
func SourceFromFile(path string) (Source, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Source{}, fmt.Errorf("source file does not exist: %s: %w", path, err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	return Source{
		Kind:       SourceFile,
		Identifier: abs,
		SizeBytes:  info.Size(),
		Loader: func(context.Context) ([]byte, error) {
			return os.ReadFile(abs)
		},
	}, nil
}

// SourceFromURI builds a remote-reference Source. Recognized schemes are
// validated by SourceHandler, not at construction time, since a URI
// may reference content that isn't reachable until materialization.
func SourceFromURI(uri, mime string, sizeBytes int64) Source {
	return Source{
		Kind:       SourceURI,
		Identifier: uri,
		MIME:       mime,
		SizeBytes:  sizeBytes,
	}
}

// Load invokes the Source's ContentLoader, if any.
func (s Source) Load(ctx context.Context) ([]byte, error) {
	if s.Loader == nil {
		return nil, fmt.Errorf("source %q has no content loader", s.Identifier)
	}
	return s.Loader(ctx)
}

// LooksLikeBareFilename reports whether identifier has no path
// separators, the signal the bare-filename heuristic uses to decide a
// non-existent path is probably prompt text, not a file reference.
func LooksLikeBareFilename(identifier string) bool {
	return !strings.ContainsAny(identifier, `/\`)
}

// APIPartKind tags the four APIPart shapes.
type APIPartKind string

const (
	APIPartText        APIPartKind = "text"
	APIPartInline      APIPartKind = "inline_data"
	APIPartFileRef     APIPartKind = "file_ref"
	APIPartPlaceholder APIPartKind = "placeholder"
)

// APIPart is a tagged variant: TextPart, InlineDataPart, FileRefPart,
// or FilePlaceholder. Placeholders must be resolved to FileRefParts by
// RemoteMaterializationStage before the plan reaches APIHandler.
type APIPart struct {
	Kind APIPartKind

	Text string // APIPartText

	Data []byte // APIPartInline: small file content embedded in the request

	URI  string // APIPartFileRef
	MIME string // APIPartInline, APIPartFileRef, APIPartPlaceholder

	PlaceholderID string // APIPartPlaceholder: fingerprint to resolve against FileRegistry
}

func TextPart(text string) APIPart {
	return APIPart{Kind: APIPartText, Text: text}
}

func FileRefPart(uri, mime string) APIPart {
	return APIPart{Kind: APIPartFileRef, URI: uri, MIME: mime}
}

func InlineDataPart(data []byte, mime string) APIPart {
	return APIPart{Kind: APIPartInline, Data: data, MIME: mime}
}

func FilePlaceholder(identifier, mime string) APIPart {
	return APIPart{Kind: APIPartPlaceholder, PlaceholderID: identifier, MIME: mime}
}

// APICall is the unit of work dispatched to a provider: one per
// prompt, unless the planner vectorizes the batch.
type APICall struct {
	ModelName      string
	APIParts       []APIPart
	APIConfig      map[string]interface{}
	CacheNameToUse string
}

// UploadTask describes a file source that needs materializing to a
// provider-side remote URI before the plan can execute.
type UploadTask struct {
	Fingerprint     string
	Source          Source
	PlaceholderPart APIPart
}

// RateConstraint bounds request/token throughput. Absent (zero) fields
// mean unconstrained on that axis.
type RateConstraint struct {
	RequestsPerMinute int
	TokensPerMinute   int
}

// Constrained reports whether any axis of the constraint is set.
func (r *RateConstraint) Constrained() bool {
	return r != nil && (r.RequestsPerMinute > 0 || r.TokensPerMinute > 0)
}

// ExecutionPlan is the planner's output: one or more calls, optional
// shared context parts (vectorized mode), an optional rate
// constraint, and any upload tasks the materialization stage must run.
type ExecutionPlan struct {
	Calls          []APICall
	SharedParts    []APIPart
	RateConstraint *RateConstraint
	UploadTasks    []UploadTask

	// SuggestCache is the planner's hint that the shared context is
	// large enough to be worth an explicit provider cache; CacheStage
	// turns it into a concrete CacheNameToUse or drops it.
	SuggestCache bool

	// ResolvedConcurrency is filled by RateLimitHandler for APIHandler's
	// fan-out bound. Zero means not yet resolved.
	ResolvedConcurrency int
}

// TokenEstimateBreakdown is one source's contribution to an aggregated
// TokenEstimate.
type TokenEstimateBreakdown struct {
	SourceIdentifier string
	MinTokens        int
	ExpectedTokens   int
	MaxTokens        int
}

// TokenEstimate bounds the token cost of a call or an aggregated plan.
// Invariants: Min <= Expected <= Max; 0 <= Confidence <= 1; Min >= 10
// for any non-empty source.
type TokenEstimate struct {
	MinTokens      int
	ExpectedTokens int
	MaxTokens      int
	Confidence     float64
	Breakdown      []TokenEstimateBreakdown
}

// AggregateTokenEstimates sums bounds component-wise and caps
// confidence at 0.95.
func AggregateTokenEstimates(estimates []TokenEstimate) TokenEstimate {
	out := TokenEstimate{Confidence: 0.95}
	if len(estimates) == 0 {
		return out
	}
	minConfidence := 1.0
	for _, e := range estimates {
		out.MinTokens += e.MinTokens
		out.ExpectedTokens += e.ExpectedTokens
		out.MaxTokens += e.MaxTokens
		out.Breakdown = append(out.Breakdown, e.Breakdown...)
		if e.Confidence < minConfidence {
			minConfidence = e.Confidence
		}
	}
	if minConfidence < out.Confidence {
		out.Confidence = minConfidence
	}
	if out.Confidence > 0.95 {
		out.Confidence = 0.95
	}
	return out
}

// ExecutionOptions carries per-call overrides.
type ExecutionOptions struct {
	Temperature           *float64
	TopP                  *float64
	Tools                 []map[string]interface{}
	ToolChoice            interface{} // "auto" | "required" | "none" | a specific-tool map
	History               []map[string]interface{}
	ResponseSchema        map[string]interface{}
	RequestConcurrency    int
	CacheOverrideName     string
	ResultPreferJSONArray bool
}

// InitialCommand is the user-facing pipeline input.
type InitialCommand struct {
	Sources []Source
	Prompts []string
	Config  *FrozenConfig
	Options *ExecutionOptions
}

// ResolvedCommand is SourceHandler's output.
type ResolvedCommand struct {
	Initial         InitialCommand
	ResolvedSources []Source
	Diagnostics     map[string]interface{}
}

// PlannedCommand is ExecutionPlanner's (and every later planning-stage)
// output.
type PlannedCommand struct {
	Resolved      ResolvedCommand
	ExecutionPlan ExecutionPlan
	TokenEstimate *TokenEstimate
}

// FinalizedCommand is APIHandler's output.
type FinalizedCommand struct {
	Planned        PlannedCommand
	RawAPIResponse map[string]interface{}
	TelemetryData  map[string]interface{}
	CallErrors     map[int]error
}

// ResultEnvelope is the stable, provider-agnostic output returned to
// callers.
type ResultEnvelope struct {
	Status           string                 `json:"status"`
	Answers          []string               `json:"answers"`
	ExtractionMethod string                 `json:"extraction_method"`
	Confidence       float64                `json:"confidence"`
	Usage            map[string]interface{} `json:"usage"`
	Metrics          map[string]interface{} `json:"metrics"`
	Diagnostics      map[string]interface{} `json:"diagnostics,omitempty"`
}
