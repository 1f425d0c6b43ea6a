package core

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// Validatable is implemented by every command shape so stage
// boundaries can be checked when POLLUX_PIPELINE_VALIDATE=1.
type Validatable interface {
	Validate() error
}

// MustValidate panics when v violates its invariants. Only called on
// the dev-flag path; production runs never pay for these checks.
func MustValidate(stage string, v Validatable) {
	if err := v.Validate(); err != nil {
		panic(NewInvariantViolationError(
			fmt.Sprintf("stage %s produced an invalid command: %v", stage, err),
			WithPhase(stage),
			WithWrapped(err),
		))
	}
}

// Fingerprint derives the content-addressed key registries use for a
// file source: a hash over identifier and size rather than the bytes
// themselves, so planning never forces a content load. Modification
// time is not part of the key: a file rewritten in place at the same
// size keeps its fingerprint.
func Fingerprint(identifier string, sizeBytes int64) string {
	h := sha256.Sum256([]byte(fmt.Sprintf("%s\x00%d", identifier, sizeBytes)))
	return hex.EncodeToString(h[:16])
}

// FingerprintBytes derives a fingerprint from loaded content, used
// when the bytes are already resident and identifier stability cannot
// be assumed.
func FingerprintBytes(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:16])
}

// RedactHeaders returns a copy of headers with any value whose key
// case-insensitively contains "key", "token", "secret", or
// "authorization" masked. AuditText does not go through it; it masks
// its own secret fields with redactSecret directly.
func RedactHeaders(headers map[string]string) map[string]string {
	out := make(map[string]string, len(headers))
	for k, v := range headers {
		lower := strings.ToLower(k)
		if strings.Contains(lower, "key") || strings.Contains(lower, "token") ||
			strings.Contains(lower, "secret") || strings.Contains(lower, "authorization") {
			out[k] = redactSecret(v)
			continue
		}
		out[k] = v
	}
	return out
}

func (c InitialCommand) Validate() error {
	if len(c.Prompts) == 0 {
		return fmt.Errorf("command has no prompts")
	}
	if c.Config == nil {
		return fmt.Errorf("command has no resolved config")
	}
	for i, s := range c.Sources {
		if s.SizeBytes < 0 {
			return fmt.Errorf("source %d has negative size_bytes", i)
		}
	}
	return nil
}

func (c ResolvedCommand) Validate() error {
	if err := c.Initial.Validate(); err != nil {
		return err
	}
	for i, s := range c.ResolvedSources {
		switch s.Kind {
		case SourceText, SourceFile, SourceURI:
		default:
			return fmt.Errorf("resolved source %d has unknown kind %q", i, s.Kind)
		}
	}
	return nil
}

func (c PlannedCommand) Validate() error {
	if err := c.Resolved.Validate(); err != nil {
		return err
	}
	if len(c.ExecutionPlan.Calls) == 0 {
		return fmt.Errorf("execution plan has no calls")
	}
	if e := c.TokenEstimate; e != nil {
		if e.MinTokens > e.ExpectedTokens || e.ExpectedTokens > e.MaxTokens {
			return fmt.Errorf("token estimate violates min <= expected <= max: %+v", *e)
		}
		if e.Confidence < 0 || e.Confidence > 1 {
			return fmt.Errorf("token estimate confidence %v outside [0,1]", e.Confidence)
		}
	}
	return nil
}

// ValidateNoPlaceholders enforces the RemoteMaterializationStage
// postcondition: no FilePlaceholder may survive into APIHandler.
func (c PlannedCommand) ValidateNoPlaceholders() error {
	for i, call := range c.ExecutionPlan.Calls {
		for _, p := range call.APIParts {
			if p.Kind == APIPartPlaceholder {
				return fmt.Errorf("call %d still carries placeholder %q", i, p.PlaceholderID)
			}
		}
	}
	for _, p := range c.ExecutionPlan.SharedParts {
		if p.Kind == APIPartPlaceholder {
			return fmt.Errorf("shared parts still carry placeholder %q", p.PlaceholderID)
		}
	}
	return nil
}

func (c FinalizedCommand) Validate() error {
	if err := c.Planned.Validate(); err != nil {
		return err
	}
	if c.RawAPIResponse == nil {
		return fmt.Errorf("finalized command has no raw API response")
	}
	return nil
}
