package llms

import (
	"strings"
	"testing"

	"google.golang.org/genai"

	"github.com/strandlabs/strand/pkg/config"
)

func testGeminiConfig() *config.LLMConfig {
	temp := 0.4
	return &config.LLMConfig{
		Provider:    config.LLMProviderGemini,
		Model:       "gemini-2.0-flash",
		APIKey:      "test-key",
		Temperature: &temp,
		MaxTokens:   2048,
		Timeout:     config.Seconds(30),
	}
}

func TestNewGeminiProvider_RequiresKey(t *testing.T) {
	cfg := testGeminiConfig()
	cfg.APIKey = ""

	if _, err := NewGeminiProvider(cfg, ""); err == nil {
		t.Error("NewGeminiProvider() expected error for missing API key, got nil")
	}

	if _, err := NewGeminiProvider(nil, ""); err == nil {
		t.Error("NewGeminiProvider(nil) expected error, got nil")
	}
}

func TestGeminiProvider_BuildRequest(t *testing.T) {
	p := &GeminiProvider{config: testGeminiConfig(), model: "gemini-2.0-flash"}

	messages := []Message{
		System("You are helpful."),
		User("What is Go?"),
		Assistant("A programming language."),
		User("Tell me more."),
	}

	contents, genConfig := p.buildRequest(messages, nil, nil)

	if genConfig.SystemInstruction == nil {
		t.Fatal("expected system instruction")
	}
	if got := genConfig.SystemInstruction.Parts[0].Text; got != "You are helpful." {
		t.Errorf("system instruction = %q", got)
	}

	if len(contents) != 3 {
		t.Fatalf("contents length = %d, want 3", len(contents))
	}
	if contents[0].Role != "user" || contents[1].Role != "model" || contents[2].Role != "user" {
		t.Errorf("roles = %s/%s/%s", contents[0].Role, contents[1].Role, contents[2].Role)
	}
	if contents[1].Parts[0].Text != "A programming language." {
		t.Errorf("assistant text = %q", contents[1].Parts[0].Text)
	}

	if genConfig.Temperature == nil || *genConfig.Temperature != float32(0.4) {
		t.Errorf("temperature = %v, want 0.4", genConfig.Temperature)
	}
	if genConfig.MaxOutputTokens != 2048 {
		t.Errorf("max output tokens = %d, want 2048", genConfig.MaxOutputTokens)
	}
}

func TestGeminiProvider_BuildRequest_ToolFlow(t *testing.T) {
	p := &GeminiProvider{config: testGeminiConfig(), model: "gemini-2.0-flash"}

	messages := []Message{
		User("look this up"),
		{
			Role: RoleAssistant,
			ToolCalls: []ToolCall{
				{ID: "call_1", Name: "lookup", Arguments: map[string]interface{}{"key": "x"}},
			},
		},
		ToolResult("call_1", "lookup", "result text"),
	}

	contents, _ := p.buildRequest(messages, nil, nil)

	if len(contents) != 3 {
		t.Fatalf("contents length = %d, want 3", len(contents))
	}

	fc := contents[1].Parts[0].FunctionCall
	if fc == nil || fc.Name != "lookup" {
		t.Fatalf("expected function call part, got %+v", contents[1].Parts[0])
	}

	fr := contents[2].Parts[0].FunctionResponse
	if fr == nil || fr.Name != "lookup" {
		t.Fatalf("expected function response part, got %+v", contents[2].Parts[0])
	}
	if got := fr.Response["result"]; got != "result text" {
		t.Errorf("function response result = %v", got)
	}
	if contents[2].Role != "user" {
		t.Errorf("tool result role = %s, want user", contents[2].Role)
	}
}

func TestGeminiProvider_BuildRequest_Structured(t *testing.T) {
	p := &GeminiProvider{config: testGeminiConfig(), model: "gemini-2.0-flash"}

	structConfig := &StructuredOutputConfig{
		Format: "json",
		Schema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"confidence": map[string]interface{}{"type": "number"},
			},
			"required": []interface{}{"confidence"},
		},
	}

	_, genConfig := p.buildRequest([]Message{User("classify")}, nil, structConfig)

	if genConfig.ResponseMIMEType != "application/json" {
		t.Errorf("response MIME type = %s", genConfig.ResponseMIMEType)
	}
	if genConfig.ResponseSchema == nil {
		t.Fatal("expected response schema")
	}
	if genConfig.ResponseSchema.Type != genai.TypeObject {
		t.Errorf("schema type = %s, want OBJECT", genConfig.ResponseSchema.Type)
	}
	if _, ok := genConfig.ResponseSchema.Properties["confidence"]; !ok {
		t.Error("expected confidence property")
	}
	if len(genConfig.ResponseSchema.Required) != 1 {
		t.Errorf("required = %v", genConfig.ResponseSchema.Required)
	}
}

func TestGeminiProvider_BuildRequest_Tools(t *testing.T) {
	p := &GeminiProvider{config: testGeminiConfig(), model: "gemini-2.0-flash"}

	tools := []ToolDefinition{
		{
			Name:        "search_web",
			Description: "Search the web",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"query": map[string]interface{}{"type": "string"},
				},
			},
		},
	}

	_, genConfig := p.buildRequest([]Message{User("search")}, tools, nil)

	if len(genConfig.Tools) != 1 {
		t.Fatalf("tools length = %d, want 1", len(genConfig.Tools))
	}
	decl := genConfig.Tools[0].FunctionDeclarations[0]
	if decl.Name != "search_web" {
		t.Errorf("tool name = %s", decl.Name)
	}
	if decl.Parameters.Type != genai.TypeObject {
		t.Errorf("tool parameters type = %s", decl.Parameters.Type)
	}
}

func TestParseGeminiResponse(t *testing.T) {
	resp := &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{
			{
				Content: &genai.Content{
					Role: "model",
					Parts: []*genai.Part{
						{Text: "internal reasoning", Thought: true},
						{Text: "Hello "},
						{Text: "world"},
						{FunctionCall: &genai.FunctionCall{Name: "lookup", Args: map[string]any{"key": "x"}}},
					},
				},
				FinishReason: genai.FinishReasonStop,
			},
		},
		UsageMetadata: &genai.GenerateContentResponseUsageMetadata{
			PromptTokenCount:     10,
			CandidatesTokenCount: 5,
			TotalTokenCount:      15,
		},
	}

	text, toolCalls, tokens, err := parseGeminiResponse(resp)
	if err != nil {
		t.Fatalf("parseGeminiResponse() error = %v", err)
	}
	if text != "Hello world" {
		t.Errorf("text = %q, want %q", text, "Hello world")
	}
	if strings.Contains(text, "internal reasoning") {
		t.Error("thought parts must not leak into text")
	}
	if len(toolCalls) != 1 || toolCalls[0].Name != "lookup" {
		t.Errorf("tool calls = %+v", toolCalls)
	}
	if toolCalls[0].ID == "" {
		t.Error("expected generated tool call id")
	}
	if tokens != 15 {
		t.Errorf("tokens = %d, want 15", tokens)
	}
}

func TestParseGeminiResponse_NoCandidates(t *testing.T) {
	_, _, _, err := parseGeminiResponse(&genai.GenerateContentResponse{})
	if err == nil {
		t.Error("expected error for empty response")
	}
}

func TestToGenaiSchema(t *testing.T) {
	schema := map[string]interface{}{
		"type":        "object",
		"description": "a plan",
		"properties": map[string]interface{}{
			"execution_order": map[string]interface{}{
				"type":  "array",
				"items": map[string]interface{}{"type": "string"},
			},
			"strategy": map[string]interface{}{
				"type": "string",
				"enum": []interface{}{"both", "none"},
			},
		},
		"required": []interface{}{"execution_order"},
	}

	s := toGenaiSchema(schema)

	if s.Type != genai.TypeObject {
		t.Errorf("type = %s, want OBJECT", s.Type)
	}
	if s.Description != "a plan" {
		t.Errorf("description = %s", s.Description)
	}
	order := s.Properties["execution_order"]
	if order == nil || order.Type != genai.TypeArray || order.Items.Type != genai.TypeString {
		t.Errorf("execution_order schema = %+v", order)
	}
	strategy := s.Properties["strategy"]
	if strategy == nil || len(strategy.Enum) != 2 {
		t.Errorf("strategy schema = %+v", strategy)
	}
	if len(s.Required) != 1 || s.Required[0] != "execution_order" {
		t.Errorf("required = %v", s.Required)
	}

	if toGenaiSchema(nil) != nil {
		t.Error("nil schema should convert to nil")
	}
}
