package observability

import (
	"context"
	"log/slog"
)

// Audit mirrors a security event to the structured log. It is best-effort by
// construction: slog handlers swallow their own errors, so a logging failure
// can never veto the security decision that produced the event.
func Audit(ctx context.Context, event string, attrs ...any) {
	base := []any{"event", event}
	base = append(base, attrs...)
	slog.InfoContext(ctx, "audit", base...)
}
