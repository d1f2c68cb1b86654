package audit

import (
	"context"
	"log/slog"
)

// Logger records security-relevant actions as structured log lines. Audit
// writes never fail the request they describe.
type Logger interface {
	Log(ctx context.Context, action string, params map[string]any)
}

// SlogAuditor emits one JSON record per action on a dedicated slog logger,
// tagged so log pipelines can route audit records separately.
type SlogAuditor struct {
	logger *slog.Logger
}

func NewSlogAuditor(logger *slog.Logger) *SlogAuditor {
	return &SlogAuditor{logger: logger.With("log_type", "audit")}
}

func (a *SlogAuditor) Log(ctx context.Context, action string, params map[string]any) {
	attrs := make([]any, 0, len(params)*2+2)
	attrs = append(attrs, "action", action)
	for k, v := range params {
		attrs = append(attrs, k, v)
	}
	a.logger.InfoContext(ctx, "audit_event", attrs...)
}

// Nop discards all audit records. Used in tests.
type Nop struct{}

func (Nop) Log(context.Context, string, map[string]any) {}
