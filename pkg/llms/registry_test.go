package llms

import (
	"testing"
)

func TestRegistry_ForModel_CachesProviders(t *testing.T) {
	cfg := testLLMConfig("https://api.openai.com/v1")
	registry := NewRegistry(cfg)

	first, err := registry.ForModel("gpt-4o")
	if err != nil {
		t.Fatalf("ForModel() error = %v", err)
	}
	second, err := registry.ForModel("gpt-4o")
	if err != nil {
		t.Fatalf("ForModel() error = %v", err)
	}
	if first != second {
		t.Error("ForModel() should return the cached provider for the same model")
	}

	other, err := registry.ForModel("gpt-4o-mini")
	if err != nil {
		t.Fatalf("ForModel() error = %v", err)
	}
	if other == first {
		t.Error("ForModel() must not share providers across models")
	}
	if other.GetModelName() != "gpt-4o-mini" {
		t.Errorf("GetModelName() = %s, want gpt-4o-mini", other.GetModelName())
	}
}

func TestRegistry_Default_UsesConfiguredModel(t *testing.T) {
	cfg := testLLMConfig("https://api.openai.com/v1")
	registry := NewRegistry(cfg)

	provider, err := registry.Default()
	if err != nil {
		t.Fatalf("Default() error = %v", err)
	}
	if provider.GetModelName() != "gpt-4o" {
		t.Errorf("GetModelName() = %s, want gpt-4o", provider.GetModelName())
	}

	// Empty model falls back to the default.
	same, err := registry.ForModel("")
	if err != nil {
		t.Fatalf("ForModel() error = %v", err)
	}
	if same != provider {
		t.Error("ForModel(\"\") should return the default provider")
	}
}

func TestRegistry_Planner_PinsPlannerModel(t *testing.T) {
	cfg := testLLMConfig("https://api.openai.com/v1")
	cfg.PlannerModel = "gpt-4o-mini"
	registry := NewRegistry(cfg)

	planner, err := registry.Planner()
	if err != nil {
		t.Fatalf("Planner() error = %v", err)
	}
	if planner.GetModelName() != "gpt-4o-mini" {
		t.Errorf("GetModelName() = %s, want gpt-4o-mini", planner.GetModelName())
	}
}

func TestRegistry_Structured(t *testing.T) {
	cfg := testLLMConfig("https://api.openai.com/v1")
	registry := NewRegistry(cfg)

	structured, err := registry.Structured("gpt-4o")
	if err != nil {
		t.Fatalf("Structured() error = %v", err)
	}
	if !structured.SupportsStructuredOutput() {
		t.Error("openai provider should support structured output")
	}
}

func TestRegistry_UnsupportedProvider(t *testing.T) {
	cfg := testLLMConfig("https://api.openai.com/v1")
	cfg.Provider = "anthropic"
	registry := NewRegistry(cfg)

	if _, err := registry.Default(); err == nil {
		t.Error("Default() expected error for unsupported provider, got nil")
	}
}

func TestRegistry_Close(t *testing.T) {
	cfg := testLLMConfig("https://api.openai.com/v1")
	registry := NewRegistry(cfg)

	if _, err := registry.ForModel("gpt-4o"); err != nil {
		t.Fatalf("ForModel() error = %v", err)
	}
	if err := registry.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}

	registry.mu.RLock()
	remaining := len(registry.providers)
	registry.mu.RUnlock()
	if remaining != 0 {
		t.Errorf("providers remaining after Close = %d, want 0", remaining)
	}
}
