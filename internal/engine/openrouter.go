package engine

import (
	"context"

	"github.com/kalambet/missiond/internal/proxy"
)

// OpenRouterEngine adapts the OpenRouter client to the Engine interface.
type OpenRouterEngine struct {
	client *proxy.Client
}

// NewOpenRouterEngine creates an engine that calls OpenRouter with apiKey.
// An empty baseURL selects the public endpoint.
func NewOpenRouterEngine(apiKey, baseURL string, ratePerMinute int) *OpenRouterEngine {
	c := proxy.NewClient(apiKey)
	if baseURL != "" {
		c = proxy.NewClientWithBaseURL(apiKey, baseURL)
	}
	c.SetRateLimit(ratePerMinute)
	return &OpenRouterEngine{client: c}
}

func (e *OpenRouterEngine) Chat(ctx context.Context, model string, messages []Message, jsonSchema *Schema) (string, error) {
	msgs := make([]proxy.Message, len(messages))
	for i, m := range messages {
		msgs[i] = proxy.Message{Role: m.Role, Content: m.Content}
	}
	return e.client.Complete(ctx, model, msgs, jsonSchema != nil)
}

func (e *OpenRouterEngine) IsRunning(ctx context.Context) bool {
	_, err := e.client.ListModels(ctx)
	return err == nil
}

func (e *OpenRouterEngine) HasModel(ctx context.Context, name string) bool {
	models, err := e.client.ListModels(ctx)
	if err != nil {
		return false
	}
	for _, m := range models {
		if m.ID == name {
			return true
		}
	}
	return false
}
