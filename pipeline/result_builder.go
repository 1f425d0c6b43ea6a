package pipeline

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/seanbrar/pollux-sub002/core"
)

// Extraction method names are part of the stable envelope contract.
const (
	extractionBatch      = "batch_response"
	extractionStructured = "structured_json"
	extractionSingle     = "single_text"
)

// ResultBuilder turns the FinalizedCommand into the caller-facing
// ResultEnvelope: extracts answers, merges metrics and usage, and
// populates diagnostics.
type ResultBuilder struct {
	logger core.Logger
}

func NewResultBuilder(logger core.Logger) *ResultBuilder {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &ResultBuilder{logger: logger}
}

func (b *ResultBuilder) Handle(ctx context.Context, cmd core.FinalizedCommand, durations map[string]float64) (*core.ResultEnvelope, error) {
	raw := cmd.RawAPIResponse
	prompts := cmd.Planned.Resolved.Initial.Prompts
	opts := cmd.Planned.Resolved.Initial.Options

	answers, method, confidence := extractAnswers(raw, opts)

	status := "ok"
	if len(cmd.CallErrors) > 0 {
		if len(cmd.CallErrors) >= len(cmd.Planned.ExecutionPlan.Calls) {
			status = "error"
		} else {
			status = "partial"
		}
	}

	// On success every prompt position must carry an answer; failed
	// positions stay empty strings.
	if status != "error" && len(answers) < len(prompts) {
		padded := make([]string, len(prompts))
		copy(padded, answers)
		answers = padded
	}

	usage := map[string]interface{}{}
	if u, ok := raw["usage"].(map[string]interface{}); ok {
		for k, v := range u {
			usage[k] = v
		}
	}

	metrics := map[string]interface{}{
		"durations": durations,
	}
	for k, v := range cmd.TelemetryData {
		metrics[k] = v
	}

	diagnostics := map[string]interface{}{}
	for k, v := range cmd.Planned.Resolved.Diagnostics {
		diagnostics[k] = v
	}
	modelSelected := map[string]interface{}{
		"selected": cmd.Planned.Resolved.Initial.Config.DefaultModel,
	}
	if len(cmd.Planned.ExecutionPlan.SharedParts) > 0 {
		modelSelected["reason"] = "vectorized batch over shared context"
	}
	diagnostics["model_selected"] = modelSelected

	if len(cmd.CallErrors) > 0 {
		callErrors := map[string]interface{}{}
		for idx, err := range cmd.CallErrors {
			callErrors[strconv.Itoa(idx)] = err.Error()
		}
		diagnostics["call_errors"] = callErrors
	}

	return &core.ResultEnvelope{
		Status:           status,
		Answers:          answers,
		ExtractionMethod: method,
		Confidence:       confidence,
		Usage:            usage,
		Metrics:          metrics,
		Diagnostics:      diagnostics,
	}, nil
}

// extractAnswers applies the first matching extraction rule:
// batch_response, then structured_json, then single_text.
func extractAnswers(raw map[string]interface{}, opts *core.ExecutionOptions) ([]string, string, float64) {
	if batch, ok := raw["batch"].([]interface{}); ok {
		answers := make([]string, 0, len(batch))
		for _, item := range batch {
			entry, _ := item.(map[string]interface{})
			text, _ := entry["text"].(string)
			answers = append(answers, text)
		}
		return answers, extractionBatch, 0.95
	}

	schemaRequested := opts != nil && opts.ResponseSchema != nil
	if schemaRequested {
		if structured, ok := raw["structured"]; ok && structured != nil {
			var answers []string
			if list, ok := structured.([]interface{}); ok && !preferSingleJSON(opts) {
				for _, item := range list {
					answers = append(answers, marshalJSON(item))
				}
			} else {
				answers = []string{marshalJSON(structured)}
			}
			return answers, extractionStructured, 0.9
		}
	}

	text, _ := raw["text"].(string)
	return []string{text}, extractionSingle, 0.85
}

// preferSingleJSON reports whether the caller asked for the structured
// payload as one JSON array string rather than one answer per element.
func preferSingleJSON(opts *core.ExecutionOptions) bool {
	return opts != nil && opts.ResultPreferJSONArray
}

func marshalJSON(v interface{}) string {
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(data)
}
