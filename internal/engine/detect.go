package engine

import (
	"fmt"
	"time"
)

// DetectConfig holds parameters for backend selection.
type DetectConfig struct {
	Backend       string // "ollama" or "openrouter"
	BaseURL       string
	APIKey        string
	RatePerMinute int
	Timeout       time.Duration
}

// Detect returns the Engine named by cfg.Backend.
func Detect(cfg DetectConfig) (Engine, error) {
	switch cfg.Backend {
	case "", "ollama":
		return NewOllamaEngine(cfg.BaseURL, cfg.Timeout), nil
	case "openrouter":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("openrouter backend requires an API key")
		}
		return NewOpenRouterEngine(cfg.APIKey, cfg.BaseURL, cfg.RatePerMinute), nil
	default:
		return nil, fmt.Errorf("unknown intelligence backend %q", cfg.Backend)
	}
}
