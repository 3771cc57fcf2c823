package engine

import (
	"context"
	"io"
	"strings"
	"testing"
)

type mockEngine struct {
	isRunning bool
	models    map[string]bool
}

func (m *mockEngine) Chat(_ context.Context, _ string, _ []Message, _ *Schema) (string, error) {
	return "", nil
}
func (m *mockEngine) IsRunning(_ context.Context) bool              { return m.isRunning }
func (m *mockEngine) HasModel(_ context.Context, name string) bool { return m.models[name] }

type mockPuller struct {
	mockEngine
	pulled []string
}

func (m *mockPuller) PullModel(_ context.Context, name string, cb func(PullProgress)) error {
	m.pulled = append(m.pulled, name)
	if cb != nil {
		cb(PullProgress{Status: "success"})
	}
	return nil
}

func TestEnsureReady_ModelPresent(t *testing.T) {
	m := &mockPuller{mockEngine: mockEngine{isRunning: true, models: map[string]bool{"mistral-nemo": true}}}
	if err := EnsureReady(context.Background(), m, "mistral-nemo", io.Discard); err != nil {
		t.Fatalf("EnsureReady: %v", err)
	}
	if len(m.pulled) != 0 {
		t.Errorf("expected no pulls, got %v", m.pulled)
	}
}

func TestEnsureReady_PullsMissing(t *testing.T) {
	m := &mockPuller{mockEngine: mockEngine{isRunning: true, models: map[string]bool{}}}
	var out strings.Builder
	if err := EnsureReady(context.Background(), m, "mistral-nemo", &out); err != nil {
		t.Fatalf("EnsureReady: %v", err)
	}
	if len(m.pulled) != 1 || m.pulled[0] != "mistral-nemo" {
		t.Errorf("expected pull of mistral-nemo, got %v", m.pulled)
	}
	if !strings.Contains(out.String(), "pulling") {
		t.Errorf("progress output = %q", out.String())
	}
}

func TestEnsureReady_MissingWithoutPuller(t *testing.T) {
	m := &mockEngine{isRunning: true, models: map[string]bool{}}
	if err := EnsureReady(context.Background(), m, "openai/gpt-4o", io.Discard); err == nil {
		t.Fatal("expected error for a missing model on a backend that cannot pull")
	}
}

func TestEnsureReady_EngineDown(t *testing.T) {
	m := &mockEngine{isRunning: false, models: map[string]bool{}}
	if err := EnsureReady(context.Background(), m, "mistral-nemo", io.Discard); err == nil {
		t.Fatal("expected error when engine is down")
	}
}

func TestDetect(t *testing.T) {
	e, err := Detect(DetectConfig{BaseURL: "http://localhost:11434"})
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if _, ok := e.(*OllamaEngine); !ok {
		t.Errorf("Detect returned %T, want *OllamaEngine", e)
	}

	e, err = Detect(DetectConfig{Backend: "openrouter", APIKey: "k", RatePerMinute: 10})
	if err != nil {
		t.Fatalf("Detect openrouter: %v", err)
	}
	if _, ok := e.(*OpenRouterEngine); !ok {
		t.Errorf("Detect returned %T, want *OpenRouterEngine", e)
	}

	if _, err := Detect(DetectConfig{Backend: "openrouter"}); err == nil {
		t.Error("expected error for openrouter without API key")
	}
	if _, err := Detect(DetectConfig{Backend: "mlx"}); err == nil {
		t.Error("expected error for unknown backend")
	}
}
