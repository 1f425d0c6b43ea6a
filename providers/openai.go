package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/seanbrar/pollux-sub002/core"
)

func init() {
	MustRegister(&openaiFactory{})
}

type openaiFactory struct{}

func (openaiFactory) Name() string { return "openai" }

func (openaiFactory) Create(cfg *core.FrozenConfig) (Adapter, error) {
	a := &openaiAdapter{cfg: cfg}
	if cfg.UseRealAPI {
		a.client = openai.NewClient(cfg.APIKey)
	}
	return a, nil
}

// openaiAdapter speaks the Chat Completions surface. It implements
// neither UploadsCapability nor CachingCapability: the stages that
// probe for those degrade gracefully when the assertions fail.
type openaiAdapter struct {
	cfg    *core.FrozenConfig
	client *openai.Client
}

func (a *openaiAdapter) Name() string { return "openai" }

func (a *openaiAdapter) Generate(ctx context.Context, call core.APICall) (GenerateResult, error) {
	if a.client == nil {
		return a.stubGenerate(call), nil
	}

	req := openai.ChatCompletionRequest{
		Model:    call.ModelName,
		Messages: buildOpenAIMessages(call),
	}
	applyOpenAIConfig(&req, call.APIConfig)

	resp, err := a.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return GenerateResult{}, translateOpenAIError(err)
	}

	text := ""
	finish := ""
	if len(resp.Choices) > 0 {
		text = resp.Choices[0].Message.Content
		finish = string(resp.Choices[0].FinishReason)
	}

	result := GenerateResult{
		Text:         text,
		FinishReason: finish,
		Usage: map[string]interface{}{
			"prompt_tokens":     resp.Usage.PromptTokens,
			"completion_tokens": resp.Usage.CompletionTokens,
			"total_tokens":      resp.Usage.TotalTokens,
		},
		Raw: map[string]interface{}{"id": resp.ID, "model": resp.Model},
	}
	result.Structured = parseStructured(call.APIConfig, text)
	return result, nil
}

func (a *openaiAdapter) stubGenerate(call core.APICall) GenerateResult {
	var prompt string
	for _, p := range call.APIParts {
		if p.Kind == core.APIPartText {
			prompt += p.Text
		}
	}
	return GenerateResult{
		Text:         fmt.Sprintf("[stub:openai:%s] %s", call.ModelName, prompt),
		FinishReason: "stop",
		Usage: map[string]interface{}{
			"prompt_tokens":     len(prompt) / 4,
			"completion_tokens": 8,
			"total_tokens":      len(prompt)/4 + 8,
		},
		Raw: map[string]interface{}{"stub": true},
	}
}

// buildOpenAIMessages flattens history (if any) plus the call's parts
// into chat messages. A history message with null content and
// non-empty tool_calls is valid and passed through unchanged.
func buildOpenAIMessages(call core.APICall) []openai.ChatCompletionMessage {
	var msgs []openai.ChatCompletionMessage

	if history, ok := call.APIConfig["history"].([]map[string]interface{}); ok {
		for _, m := range history {
			msg := openai.ChatCompletionMessage{}
			if role, ok := m["role"].(string); ok {
				msg.Role = role
			}
			if content, ok := m["content"].(string); ok {
				msg.Content = content
			}
			if rawCalls, ok := m["tool_calls"].([]map[string]interface{}); ok {
				for _, tc := range rawCalls {
					id, _ := tc["id"].(string)
					name, _ := tc["name"].(string)
					args, _ := tc["arguments"].(string)
					msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
						ID:   id,
						Type: openai.ToolTypeFunction,
						Function: openai.FunctionCall{
							Name:      name,
							Arguments: args,
						},
					})
				}
			}
			msgs = append(msgs, msg)
		}
	}

	var userText string
	for _, p := range call.APIParts {
		switch p.Kind {
		case core.APIPartText:
			userText += p.Text
		case core.APIPartInline:
			if strings.HasPrefix(p.MIME, "text/") {
				userText += string(p.Data)
			} else {
				userText += fmt.Sprintf("\n[inline %s, %d bytes]", p.MIME, len(p.Data))
			}
		case core.APIPartFileRef:
			userText += fmt.Sprintf("\n[file: %s (%s)]", p.URI, p.MIME)
		}
	}
	msgs = append(msgs, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: userText,
	})
	return msgs
}

func applyOpenAIConfig(req *openai.ChatCompletionRequest, apiConfig map[string]interface{}) {
	if apiConfig == nil {
		return
	}
	if t, ok := apiConfig["temperature"].(float64); ok {
		req.Temperature = float32(t)
	}
	if tp, ok := apiConfig["top_p"].(float64); ok {
		req.TopP = float32(tp)
	}
	if schema, ok := apiConfig["response_schema"].(map[string]interface{}); ok {
		strict := ToStrictSchema(schema)
		data, err := json.Marshal(strict)
		if err == nil {
			req.ResponseFormat = &openai.ChatCompletionResponseFormat{
				Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
				JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
					Name:   "response",
					Schema: json.RawMessage(data),
					Strict: true,
				},
			}
		}
	}
	if tools, ok := apiConfig["tools"].([]map[string]interface{}); ok {
		for _, t := range tools {
			name, _ := t["name"].(string)
			desc, _ := t["description"].(string)
			params, _ := t["parameters"].(map[string]interface{})
			req.Tools = append(req.Tools, openai.Tool{
				Type: openai.ToolTypeFunction,
				Function: &openai.FunctionDefinition{
					Name:        name,
					Description: desc,
					Parameters:  params,
				},
			})
		}
	}
}

// parseStructured decodes the response text as JSON when the call
// requested a schema. A decode failure leaves Structured nil and the
// raw text stands on its own.
func parseStructured(apiConfig map[string]interface{}, text string) interface{} {
	if _, ok := apiConfig["response_schema"]; !ok || text == "" {
		return nil
	}
	var structured interface{}
	if err := json.Unmarshal([]byte(text), &structured); err != nil {
		return nil
	}
	return structured
}

func translateOpenAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return core.NewAPIError(
			apiErr.Message,
			core.WithProvider("openai"),
			core.WithStatusCode(apiErr.HTTPStatusCode),
			core.WithHint(core.GetHTTPErrorHint(apiErr.HTTPStatusCode)),
			core.WithRetryable(core.RetryableStatusCodes[apiErr.HTTPStatusCode]),
			core.WithWrapped(err),
		)
	}
	return core.NewAPIError(err.Error(), core.WithProvider("openai"), core.WithWrapped(err))
}

// ToStrictSchema rewrites a JSON schema for OpenAI strict mode: every
// object node gets additionalProperties:false and a required list
// covering all of its properties, recursively through nested objects
// and array items. The transform is idempotent.
func ToStrictSchema(schema map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(schema))
	for k, v := range schema {
		out[k] = strictValue(v)
	}
	if t, ok := out["type"].(string); ok && t == "object" {
		out["additionalProperties"] = false
		if props, ok := out["properties"].(map[string]interface{}); ok {
			if _, has := out["required"]; !has {
				required := make([]string, 0, len(props))
				for name := range props {
					required = append(required, name)
				}
				sort.Strings(required)
				out["required"] = required
			}
		}
	}
	return out
}

func strictValue(v interface{}) interface{} {
	switch node := v.(type) {
	case map[string]interface{}:
		return ToStrictSchema(node)
	case []interface{}:
		out := make([]interface{}, len(node))
		for i, item := range node {
			out[i] = strictValue(item)
		}
		return out
	default:
		return v
	}
}
