package providers

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"google.golang.org/genai"

	"github.com/seanbrar/pollux-sub002/core"
)

func init() {
	MustRegister(&geminiFactory{})
}

type geminiFactory struct{}

func (geminiFactory) Name() string { return "google" }

func (geminiFactory) Create(cfg *core.FrozenConfig) (Adapter, error) {
	if !cfg.UseRealAPI {
		return &geminiAdapter{cfg: cfg, logger: &core.NoOpLogger{}}, nil
	}
	ctx := context.Background()
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, core.NewConfigurationError(
			fmt.Sprintf("failed to construct Gemini client: %v", err),
			core.WithHint(core.HINTS["missing_api_key"]),
		)
	}
	return &geminiAdapter{cfg: cfg, client: client, logger: &core.NoOpLogger{}}, nil
}

// geminiAdapter wraps the genai SDK client. A nil client means
// use_real_api was false at construction time, in which case Generate
// returns a deterministic stub — this is the seam integration tests
// drive without network access.
type geminiAdapter struct {
	cfg    *core.FrozenConfig
	client *genai.Client
	logger core.Logger
}

func (a *geminiAdapter) Name() string { return "google" }

func (a *geminiAdapter) Generate(ctx context.Context, call core.APICall) (GenerateResult, error) {
	if a.client == nil {
		return a.stubGenerate(call), nil
	}

	contents, err := a.buildContents(call.APIParts)
	if err != nil {
		return GenerateResult{}, err
	}

	genConfig := &genai.GenerateContentConfig{}
	if call.CacheNameToUse != "" {
		genConfig.CachedContent = call.CacheNameToUse
	}
	applyTemperature(genConfig, call.APIConfig)
	applyTools(genConfig, call.APIConfig)
	if schema, ok := call.APIConfig["response_schema"].(map[string]interface{}); ok {
		genConfig.ResponseMIMEType = "application/json"
		genConfig.ResponseSchema = toGenaiSchema(schema)
	}

	resp, err := a.client.Models.GenerateContent(ctx, call.ModelName, contents, genConfig)
	if err != nil {
		return GenerateResult{}, a.translateError(err)
	}

	text := resp.Text()
	usage := map[string]interface{}{}
	if resp.UsageMetadata != nil {
		usage["prompt_tokens"] = resp.UsageMetadata.PromptTokenCount
		usage["completion_tokens"] = resp.UsageMetadata.CandidatesTokenCount
		usage["total_tokens"] = resp.UsageMetadata.TotalTokenCount
	}

	finish := ""
	if len(resp.Candidates) > 0 {
		finish = string(resp.Candidates[0].FinishReason)
	}

	result := GenerateResult{
		Text:         text,
		FinishReason: finish,
		Usage:        usage,
		Raw:          map[string]interface{}{"model": call.ModelName},
	}
	result.Structured = parseStructured(call.APIConfig, text)
	return result, nil
}

func (a *geminiAdapter) stubGenerate(call core.APICall) GenerateResult {
	var prompt string
	for _, p := range call.APIParts {
		if p.Kind == core.APIPartText {
			prompt += p.Text
		}
	}
	return GenerateResult{
		Text:         fmt.Sprintf("[stub:google:%s] %s", call.ModelName, prompt),
		FinishReason: "stop",
		Usage: map[string]interface{}{
			"prompt_tokens":     len(prompt) / 4,
			"completion_tokens": 8,
			"total_tokens":      len(prompt)/4 + 8,
		},
		Raw: map[string]interface{}{"stub": true},
	}
}

func (a *geminiAdapter) buildContents(parts []core.APIPart) ([]*genai.Content, error) {
	var gparts []*genai.Part
	for _, p := range parts {
		switch p.Kind {
		case core.APIPartText:
			gparts = append(gparts, genai.NewPartFromText(p.Text))
		case core.APIPartInline:
			gparts = append(gparts, genai.NewPartFromBytes(p.Data, p.MIME))
		case core.APIPartFileRef:
			gparts = append(gparts, genai.NewPartFromURI(p.URI, p.MIME))
		case core.APIPartPlaceholder:
			return nil, core.NewInvariantViolationError(
				"unresolved file placeholder reached the Gemini adapter",
				core.WithPhase("APIHandler"),
			)
		default:
			return nil, core.NewUnsupportedContentError(
				fmt.Sprintf("unsupported API part kind %q for Gemini", p.Kind),
			)
		}
	}
	return []*genai.Content{genai.NewContentFromParts(gparts, genai.RoleUser)}, nil
}

func applyTemperature(cfg *genai.GenerateContentConfig, apiConfig map[string]interface{}) {
	if apiConfig == nil {
		return
	}
	if t, ok := apiConfig["temperature"].(float64); ok {
		f := float32(t)
		cfg.Temperature = &f
	}
	if tp, ok := apiConfig["top_p"].(float64); ok {
		f := float32(tp)
		cfg.TopP = &f
	}
}

// applyTools converts the provider-agnostic tool declarations into
// Gemini functionDeclarations. Parameter schemas are passed through
// as-is; the SDK validates them server-side.
func applyTools(cfg *genai.GenerateContentConfig, apiConfig map[string]interface{}) {
	tools, ok := apiConfig["tools"].([]map[string]interface{})
	if !ok || len(tools) == 0 {
		return
	}
	var decls []*genai.FunctionDeclaration
	for _, t := range tools {
		name, _ := t["name"].(string)
		if name == "" {
			continue
		}
		decl := &genai.FunctionDeclaration{Name: name}
		if desc, ok := t["description"].(string); ok {
			decl.Description = desc
		}
		if params, ok := t["parameters"].(map[string]interface{}); ok {
			decl.Parameters = toGenaiSchema(params)
		}
		decls = append(decls, decl)
	}
	if len(decls) > 0 {
		cfg.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}
}

// toGenaiSchema converts a plain JSON-schema map into the SDK's typed
// Schema. Only the subset the planner emits (type, description,
// properties, items, required, enum) is mapped.
func toGenaiSchema(node map[string]interface{}) *genai.Schema {
	s := &genai.Schema{}
	if t, ok := node["type"].(string); ok {
		switch t {
		case "object":
			s.Type = genai.TypeObject
		case "array":
			s.Type = genai.TypeArray
		case "string":
			s.Type = genai.TypeString
		case "number":
			s.Type = genai.TypeNumber
		case "integer":
			s.Type = genai.TypeInteger
		case "boolean":
			s.Type = genai.TypeBoolean
		}
	}
	if desc, ok := node["description"].(string); ok {
		s.Description = desc
	}
	if props, ok := node["properties"].(map[string]interface{}); ok {
		s.Properties = make(map[string]*genai.Schema, len(props))
		for name, raw := range props {
			if child, ok := raw.(map[string]interface{}); ok {
				s.Properties[name] = toGenaiSchema(child)
			}
		}
	}
	if items, ok := node["items"].(map[string]interface{}); ok {
		s.Items = toGenaiSchema(items)
	}
	if required, ok := node["required"].([]interface{}); ok {
		for _, r := range required {
			if name, ok := r.(string); ok {
				s.Required = append(s.Required, name)
			}
		}
	}
	if enum, ok := node["enum"].([]interface{}); ok {
		for _, e := range enum {
			if v, ok := e.(string); ok {
				s.Enum = append(s.Enum, v)
			}
		}
	}
	return s
}

func (a *geminiAdapter) translateError(err error) error {
	var apiErr *genai.APIError
	if ok := asGenaiAPIError(err, &apiErr); ok {
		return core.NewAPIError(
			apiErr.Message,
			core.WithProvider("google"),
			core.WithStatusCode(apiErr.Code),
			core.WithHint(core.GetHTTPErrorHint(apiErr.Code)),
			core.WithRetryable(core.RetryableStatusCodes[apiErr.Code]),
			core.WithWrapped(err),
		)
	}
	return core.NewAPIError(err.Error(), core.WithProvider("google"), core.WithWrapped(err))
}

// asGenaiAPIError isolates the errors.As call behind a narrow helper
// so translateError stays readable; genai.APIError is a struct type,
// not always reachable via a simple type switch depending on SDK
// version.
func asGenaiAPIError(err error, target **genai.APIError) bool {
	type apiErrorUnwrapper interface {
		Unwrap() error
	}
	for e := err; e != nil; {
		if ae, ok := e.(*genai.APIError); ok {
			*target = ae
			return true
		}
		if ae, ok := e.(genai.APIError); ok {
			*target = &ae
			return true
		}
		u, ok := e.(apiErrorUnwrapper)
		if !ok {
			return false
		}
		e = u.Unwrap()
	}
	return false
}

// UploadFile implements UploadsCapability using the genai Files API.
// Uploaded files are referenced by URI from subsequent calls via
// APIPartFileRef.
func (a *geminiAdapter) UploadFile(ctx context.Context, fingerprint string, data []byte, mime string) (string, error) {
	if a.client == nil {
		return fmt.Sprintf("stub://files/%s", fingerprint), nil
	}
	file, err := a.client.Files.Upload(ctx, bytes.NewReader(data), &genai.UploadFileConfig{
		MIMEType: mime,
	})
	if err != nil {
		return "", core.NewFileError(
			fmt.Sprintf("gemini upload failed for fingerprint %s: %v", fingerprint, err),
			core.WithWrapped(err),
		)
	}
	return file.URI, nil
}

// CreateCache implements CachingCapability using the genai Caches API.
// TTL arrives in seconds and is translated to the SDK's duration type
// here.
func (a *geminiAdapter) CreateCache(ctx context.Context, modelName string, parts []core.APIPart, ttlSeconds int) (string, error) {
	if a.client == nil {
		return fmt.Sprintf("stub://caches/%s", modelName), nil
	}
	contents, err := a.buildContents(parts)
	if err != nil {
		return "", err
	}
	cache, err := a.client.Caches.Create(ctx, modelName, &genai.CreateCachedContentConfig{
		Contents: contents,
		TTL:      time.Duration(ttlSeconds) * time.Second,
	})
	if err != nil {
		return "", core.NewCacheError(
			fmt.Sprintf("gemini cache creation failed: %v", err),
			core.WithWrapped(err),
		)
	}
	return cache.Name, nil
}
