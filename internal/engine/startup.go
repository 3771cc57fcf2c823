package engine

import (
	"context"
	"fmt"
	"io"
)

// EnsureReady checks that the Engine is reachable and the model is
// available. A missing model is pulled when the engine supports it, with
// progress written to w.
func EnsureReady(ctx context.Context, e Engine, model string, w io.Writer) error {
	if !e.IsRunning(ctx) {
		return fmt.Errorf("intelligence backend is not reachable; please ensure it is started")
	}
	if model == "" || e.HasModel(ctx, model) {
		fmt.Fprintf(w, "model %s: ready\n", model)
		return nil
	}

	p, ok := e.(Puller)
	if !ok {
		return fmt.Errorf("model %s is not available on this backend", model)
	}

	fmt.Fprintf(w, "model %s: pulling...\n", model)
	err := p.PullModel(ctx, model, func(pp PullProgress) {
		if pp.Total > 0 {
			pct := float64(pp.Completed) / float64(pp.Total) * 100
			fmt.Fprintf(w, "  %s %.0f%%\n", pp.Status, pct)
		} else {
			fmt.Fprintf(w, "  %s\n", pp.Status)
		}
	})
	if err != nil {
		return fmt.Errorf("pulling model %s: %w", model, err)
	}
	fmt.Fprintf(w, "model %s: ready\n", model)
	return nil
}
