package intelligence

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kalambet/missiond/internal/engine"
)

// Adapter calls the intelligence backend and normalizes its answers.
type Adapter struct {
	engine engine.Engine
	model  string
	logger *slog.Logger
}

// NewAdapter creates an Adapter that uses model on e.
func NewAdapter(e engine.Engine, model string) *Adapter {
	return &Adapter{engine: e, model: model, logger: slog.Default()}
}

// Analyze returns the intelligence for one inbound message. A backend
// failure is returned as an error. A response that cannot be decoded is
// logged and replaced by Default().
func (a *Adapter) Analyze(ctx context.Context, req AnalysisRequest) (Intelligence, error) {
	if strings.TrimSpace(req.Text) == "" {
		return Default(), nil
	}

	raw, err := a.engine.Chat(ctx, a.model, BuildAnalysisPrompt(req), analysisSchema())
	if err != nil {
		return Intelligence{}, fmt.Errorf("analyzing message: %w", err)
	}

	in, err := Decode(raw)
	if err != nil {
		a.logger.Warn("intelligence response not decodable, using defaults", "error", err, "response", truncate(raw, 200))
		return Default(), nil
	}
	return in, nil
}

// GenerateReply drafts short and detailed reply candidates.
func (a *Adapter) GenerateReply(ctx context.Context, req ReplyRequest) (Reply, error) {
	raw, err := a.engine.Chat(ctx, a.model, BuildReplyPrompt(req), replySchema())
	if err != nil {
		return Reply{}, fmt.Errorf("generating reply: %w", err)
	}
	r, err := DecodeReply(raw)
	if err != nil {
		return Reply{}, err
	}
	return r, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
