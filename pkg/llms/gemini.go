package llms

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/genai"

	"github.com/strandlabs/strand/pkg/config"
	"github.com/strandlabs/strand/pkg/observability"
)

// GeminiProvider talks to Google Gemini through the official genai SDK.
type GeminiProvider struct {
	config *config.LLMConfig
	model  string
	client *genai.Client
}

// NewGeminiProvider creates a provider bound to one model. An empty model
// uses the configured default.
func NewGeminiProvider(cfg *config.LLMConfig, model string) (*GeminiProvider, error) {
	if cfg == nil {
		return nil, fmt.Errorf("LLM config cannot be nil")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("Gemini API key is required")
	}
	if model == "" {
		model = cfg.Model
	}

	// Constructors should not require a caller context.
	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey: cfg.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &GeminiProvider{
		config: cfg,
		model:  model,
		client: client,
	}, nil
}

func (p *GeminiProvider) Generate(ctx context.Context, messages []Message, tools []ToolDefinition) (string, []ToolCall, int, error) {
	return p.generate(ctx, messages, tools, nil)
}

func (p *GeminiProvider) GenerateStructured(ctx context.Context, messages []Message, tools []ToolDefinition, structConfig *StructuredOutputConfig) (string, []ToolCall, int, error) {
	return p.generate(ctx, messages, tools, structConfig)
}

func (p *GeminiProvider) generate(ctx context.Context, messages []Message, tools []ToolDefinition, structConfig *StructuredOutputConfig) (string, []ToolCall, int, error) {
	startTime := time.Now()

	tracer := observability.GetTracer("strand.llm")
	ctx, span := tracer.Start(ctx, observability.SpanLLMRequest,
		trace.WithAttributes(
			attribute.String(observability.AttrLLMModel, p.model),
			attribute.String("provider", "gemini"),
			attribute.Bool("streaming", false),
			attribute.Bool("structured", structConfig != nil),
		),
	)
	defer span.End()

	contents, genConfig := p.buildRequest(messages, tools, structConfig)

	resp, err := p.client.Models.GenerateContent(ctx, p.model, contents, genConfig)
	duration := time.Since(startTime)

	if err != nil {
		genErr := fmt.Errorf("Gemini API request failed: %w", err)
		span.RecordError(genErr)
		span.SetStatus(codes.Error, err.Error())
		p.recordCall(ctx, duration, 0, 0, genErr)
		return "", nil, 0, genErr
	}

	text, toolCalls, tokens, err := parseGeminiResponse(resp)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		p.recordCall(ctx, duration, 0, 0, err)
		return "", nil, 0, err
	}

	inputTokens, outputTokens := geminiUsage(resp)
	span.SetAttributes(
		attribute.Int(observability.AttrLLMTokensInput, inputTokens),
		attribute.Int(observability.AttrLLMTokensOutput, outputTokens),
		attribute.Int("llm.tool_calls", len(toolCalls)),
	)
	span.SetStatus(codes.Ok, "success")
	p.recordCall(ctx, duration, inputTokens, outputTokens, nil)

	return text, toolCalls, tokens, nil
}

func (p *GeminiProvider) GenerateStreaming(ctx context.Context, messages []Message, tools []ToolDefinition) (<-chan StreamChunk, error) {
	contents, genConfig := p.buildRequest(messages, tools, nil)

	outputCh := make(chan StreamChunk, 100)

	go func() {
		defer close(outputCh)

		totalTokens := 0
		callIndex := 0

		for resp, err := range p.client.Models.GenerateContentStream(ctx, p.model, contents, genConfig) {
			if err != nil {
				outputCh <- StreamChunk{
					Type:  "error",
					Error: fmt.Errorf("Gemini streaming error: %w", err),
				}
				return
			}

			if resp.UsageMetadata != nil {
				totalTokens = int(resp.UsageMetadata.TotalTokenCount)
			}

			if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
				continue
			}

			for _, part := range resp.Candidates[0].Content.Parts {
				if part.Text != "" && !part.Thought {
					outputCh <- StreamChunk{Type: "text", Text: part.Text}
				}

				if part.FunctionCall != nil {
					tc := geminiToolCall(part.FunctionCall, callIndex)
					callIndex++
					outputCh <- StreamChunk{Type: "tool_call", ToolCall: &tc}
				}
			}
		}

		outputCh <- StreamChunk{Type: "done", Tokens: totalTokens}
	}()

	return outputCh, nil
}

func (p *GeminiProvider) SupportsStructuredOutput() bool {
	return true
}

func (p *GeminiProvider) GetModelName() string {
	return p.model
}

func (p *GeminiProvider) GetMaxTokens() int {
	return p.config.MaxTokens
}

func (p *GeminiProvider) GetTemperature() float64 {
	if p.config.Temperature == nil {
		return 0.7
	}
	return *p.config.Temperature
}

func (p *GeminiProvider) Close() error {
	return nil
}

func (p *GeminiProvider) recordCall(ctx context.Context, duration time.Duration, inputTokens, outputTokens int, err error) {
	metrics := observability.GetGlobalMetrics()
	if metrics != nil {
		metrics.RecordLLMCall(ctx, p.model, duration, inputTokens, outputTokens, err)
	}
}

// buildRequest converts normalized messages into Gemini contents plus a
// generation config. System messages become the system instruction.
func (p *GeminiProvider) buildRequest(messages []Message, tools []ToolDefinition, structConfig *StructuredOutputConfig) ([]*genai.Content, *genai.GenerateContentConfig) {
	var contents []*genai.Content
	var systemParts []string

	for _, msg := range messages {
		switch msg.Role {
		case RoleSystem:
			if msg.Content != "" {
				systemParts = append(systemParts, msg.Content)
			}

		case RoleTool:
			contents = append(contents, &genai.Content{
				Role: "user",
				Parts: []*genai.Part{{
					FunctionResponse: &genai.FunctionResponse{
						ID:       msg.ToolCallID,
						Name:     msg.Name,
						Response: map[string]any{"result": msg.Content},
					},
				}},
			})

		default:
			role := "user"
			if msg.Role == RoleAssistant {
				role = "model"
			}

			var parts []*genai.Part
			if msg.Content != "" {
				parts = append(parts, &genai.Part{Text: msg.Content})
			}
			for _, tc := range msg.ToolCalls {
				parts = append(parts, &genai.Part{
					FunctionCall: &genai.FunctionCall{
						ID:   tc.ID,
						Name: tc.Name,
						Args: tc.Arguments,
					},
				})
			}

			if len(parts) > 0 {
				contents = append(contents, &genai.Content{Role: role, Parts: parts})
			}
		}
	}

	genConfig := &genai.GenerateContentConfig{}

	if len(systemParts) > 0 {
		genConfig.SystemInstruction = &genai.Content{
			Role:  "user",
			Parts: []*genai.Part{{Text: strings.Join(systemParts, "\n\n")}},
		}
	}

	if p.config.Temperature != nil {
		genConfig.Temperature = genai.Ptr(float32(*p.config.Temperature))
	}
	if p.config.MaxTokens > 0 {
		genConfig.MaxOutputTokens = int32(p.config.MaxTokens)
	}

	if structConfig != nil && structConfig.Format == "json" {
		genConfig.ResponseMIMEType = "application/json"
		if schema, ok := structConfig.Schema.(map[string]interface{}); ok {
			genConfig.ResponseSchema = toGenaiSchema(schema)
		}
	}

	if len(tools) > 0 {
		genConfig.Tools = buildGeminiTools(tools)
	}

	return contents, genConfig
}

func buildGeminiTools(tools []ToolDefinition) []*genai.Tool {
	var genaiTools []*genai.Tool

	for _, t := range tools {
		genaiTools = append(genaiTools, &genai.Tool{
			FunctionDeclarations: []*genai.FunctionDeclaration{
				{
					Name:        t.Name,
					Description: t.Description,
					Parameters:  toGenaiSchema(t.Parameters),
				},
			},
		})
	}

	return genaiTools
}

// toGenaiSchema converts a JSON-schema map to the SDK schema type.
func toGenaiSchema(schema map[string]interface{}) *genai.Schema {
	if schema == nil {
		return nil
	}

	s := &genai.Schema{}

	if t, ok := schema["type"].(string); ok {
		s.Type = genai.Type(strings.ToUpper(t))
	}
	if desc, ok := schema["description"].(string); ok {
		s.Description = desc
	}
	if props, ok := schema["properties"].(map[string]interface{}); ok {
		s.Properties = make(map[string]*genai.Schema)
		for name, prop := range props {
			if propMap, ok := prop.(map[string]interface{}); ok {
				s.Properties[name] = toGenaiSchema(propMap)
			}
		}
	}
	if required, ok := schema["required"].([]interface{}); ok {
		for _, r := range required {
			if rs, ok := r.(string); ok {
				s.Required = append(s.Required, rs)
			}
		}
	}
	if items, ok := schema["items"].(map[string]interface{}); ok {
		s.Items = toGenaiSchema(items)
	}
	if enum, ok := schema["enum"].([]interface{}); ok {
		for _, e := range enum {
			if es, ok := e.(string); ok {
				s.Enum = append(s.Enum, es)
			}
		}
	}

	return s
}

func parseGeminiResponse(resp *genai.GenerateContentResponse) (string, []ToolCall, int, error) {
	if len(resp.Candidates) == 0 {
		return "", nil, 0, fmt.Errorf("no candidates in response")
	}

	candidate := resp.Candidates[0]

	var textParts []string
	var toolCalls []ToolCall

	if candidate.Content != nil {
		for _, part := range candidate.Content.Parts {
			if part.Text != "" && !part.Thought {
				textParts = append(textParts, part.Text)
			}
			if part.FunctionCall != nil {
				toolCalls = append(toolCalls, geminiToolCall(part.FunctionCall, len(toolCalls)))
			}
		}
	}

	tokens := 0
	if resp.UsageMetadata != nil {
		tokens = int(resp.UsageMetadata.TotalTokenCount)
	}

	return strings.Join(textParts, ""), toolCalls, tokens, nil
}

func geminiToolCall(fc *genai.FunctionCall, index int) ToolCall {
	id := fc.ID
	if id == "" {
		id = fmt.Sprintf("call_%d", index)
	}
	return ToolCall{
		ID:        id,
		Name:      fc.Name,
		Arguments: fc.Args,
	}
}

func geminiUsage(resp *genai.GenerateContentResponse) (inputTokens, outputTokens int) {
	if resp.UsageMetadata == nil {
		return 0, 0
	}
	return int(resp.UsageMetadata.PromptTokenCount), int(resp.UsageMetadata.CandidatesTokenCount)
}
