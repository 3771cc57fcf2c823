package engine

import "context"

// Engine abstracts the text-understanding backend (a local Ollama server or
// the OpenRouter API). The intelligence adapter talks to this interface
// instead of a concrete client.
type Engine interface {
	// Chat sends messages to the given model and returns the assistant's response.
	// When jsonSchema is non-nil, structured JSON output is requested.
	Chat(ctx context.Context, model string, messages []Message, jsonSchema *Schema) (string, error)

	// IsRunning reports whether the backend is reachable.
	IsRunning(ctx context.Context) bool

	// HasModel reports whether the given model name is available.
	HasModel(ctx context.Context, name string) bool
}

// Puller is implemented by engines that can download missing models.
type Puller interface {
	PullModel(ctx context.Context, name string, onProgress func(PullProgress)) error
}
