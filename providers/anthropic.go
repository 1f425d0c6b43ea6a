package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/seanbrar/pollux-sub002/core"
)

const anthropicEndpoint = "https://api.anthropic.com/v1/messages"

func init() {
	MustRegister(&anthropicFactory{})
}

type anthropicFactory struct{}

func (anthropicFactory) Name() string { return "anthropic" }

func (anthropicFactory) Create(cfg *core.FrozenConfig) (Adapter, error) {
	a := &anthropicAdapter{cfg: cfg}
	if cfg.UseRealAPI {
		timeout := time.Duration(cfg.RequestTimeoutS * float64(time.Second))
		a.httpClient = &http.Client{Timeout: timeout}
	}
	return a, nil
}

// anthropicAdapter talks to the Messages API over plain HTTP. There is
// no official Go SDK in our dependency set, so the request/response
// wire structs are declared inline.
type anthropicAdapter struct {
	cfg        *core.FrozenConfig
	httpClient *http.Client
}

func (a *anthropicAdapter) Name() string { return "anthropic" }

type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	Messages  []anthropicMessage `json:"messages"`

	Temperature *float64 `json:"temperature,omitempty"`
	TopP        *float64 `json:"top_p,omitempty"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

type anthropicErrorBody struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func (a *anthropicAdapter) Generate(ctx context.Context, call core.APICall) (GenerateResult, error) {
	if a.httpClient == nil {
		return a.stubGenerate(call), nil
	}

	var prompt string
	for _, p := range call.APIParts {
		switch p.Kind {
		case core.APIPartText:
			prompt += p.Text
		case core.APIPartInline:
			if strings.HasPrefix(p.MIME, "text/") {
				prompt += string(p.Data)
			} else {
				prompt += fmt.Sprintf("\n[inline %s, %d bytes]", p.MIME, len(p.Data))
			}
		case core.APIPartFileRef:
			prompt += fmt.Sprintf("\n[file: %s (%s)]", p.URI, p.MIME)
		case core.APIPartPlaceholder:
			return GenerateResult{}, core.NewInvariantViolationError(
				"unresolved file placeholder reached the Anthropic adapter",
				core.WithPhase("APIHandler"),
			)
		}
	}

	reqBody := anthropicRequest{
		Model:     call.ModelName,
		MaxTokens: 4096,
		Messages:  []anthropicMessage{{Role: "user", Content: prompt}},
	}
	if t, ok := call.APIConfig["temperature"].(float64); ok {
		reqBody.Temperature = &t
	}
	if tp, ok := call.APIConfig["top_p"].(float64); ok {
		reqBody.TopP = &tp
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return GenerateResult{}, core.NewAPIError(
			fmt.Sprintf("failed to encode Anthropic request: %v", err),
			core.WithProvider("anthropic"),
			core.WithWrapped(err),
		)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, anthropicEndpoint, bytes.NewReader(payload))
	if err != nil {
		return GenerateResult{}, core.NewAPIError(err.Error(), core.WithProvider("anthropic"), core.WithWrapped(err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", a.cfg.APIKey)
	req.Header.Set("anthropic-version", "2023-06-01")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return GenerateResult{}, core.NewAPIError(
			fmt.Sprintf("Anthropic request failed: %v", err),
			core.WithProvider("anthropic"),
			core.WithRetryable(true),
			core.WithWrapped(err),
		)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return GenerateResult{}, core.NewAPIError(err.Error(), core.WithProvider("anthropic"), core.WithWrapped(err))
	}

	if resp.StatusCode != http.StatusOK {
		return GenerateResult{}, a.translateHTTPError(resp, body)
	}

	var parsed anthropicResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return GenerateResult{}, core.NewAPIError(
			fmt.Sprintf("failed to decode Anthropic response: %v", err),
			core.WithProvider("anthropic"),
			core.WithWrapped(err),
		)
	}

	var text string
	for _, block := range parsed.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}

	total := parsed.Usage.InputTokens + parsed.Usage.OutputTokens
	return GenerateResult{
		Text:         text,
		FinishReason: parsed.StopReason,
		Usage: map[string]interface{}{
			"prompt_tokens":     parsed.Usage.InputTokens,
			"completion_tokens": parsed.Usage.OutputTokens,
			"total_tokens":      total,
		},
		Raw: map[string]interface{}{"model": call.ModelName},
	}, nil
}

func (a *anthropicAdapter) translateHTTPError(resp *http.Response, body []byte) error {
	msg := fmt.Sprintf("Anthropic API returned %d", resp.StatusCode)
	var parsed anthropicErrorBody
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Error.Message != "" {
		msg = parsed.Error.Message
	}

	opts := []core.ErrorOption{
		core.WithProvider("anthropic"),
		core.WithStatusCode(resp.StatusCode),
		core.WithHint(core.GetHTTPErrorHint(resp.StatusCode)),
		core.WithRetryable(core.RetryableStatusCodes[resp.StatusCode]),
	}
	if ra := resp.Header.Get("Retry-After"); ra != "" {
		if seconds, err := strconv.ParseFloat(ra, 64); err == nil {
			opts = append(opts, core.WithRetryAfterS(seconds))
		}
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return core.NewRateLimitError(msg, opts...)
	}
	return core.NewAPIError(msg, opts...)
}

func (a *anthropicAdapter) stubGenerate(call core.APICall) GenerateResult {
	var prompt string
	for _, p := range call.APIParts {
		if p.Kind == core.APIPartText {
			prompt += p.Text
		}
	}
	return GenerateResult{
		Text:         fmt.Sprintf("[stub:anthropic:%s] %s", call.ModelName, prompt),
		FinishReason: "end_turn",
		Usage: map[string]interface{}{
			"prompt_tokens":     len(prompt) / 4,
			"completion_tokens": 8,
			"total_tokens":      len(prompt)/4 + 8,
		},
		Raw: map[string]interface{}{"stub": true},
	}
}
