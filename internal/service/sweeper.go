package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/gigbridge/trustcore/internal/repository"
)

// Sweeper runs the timer-driven maintenance tasks: the brute-force scan, the
// auto-moderation pass, expired session purge and ephemeral key cleanup.
// It is decoupled from request handling and safe to run alongside it; each
// tick's tasks are independent and a failing task only logs.
type Sweeper struct {
	audit    *AuditService
	abuse    *AbuseService
	messages *MessageService
	sessions repository.SessionRepository
	interval time.Duration
}

func NewSweeper(audit *AuditService, abuse *AbuseService, messages *MessageService, sessions repository.SessionRepository, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	return &Sweeper{
		audit:    audit,
		abuse:    abuse,
		messages: messages,
		sessions: sessions,
		interval: interval,
	}
}

// Run blocks until ctx is cancelled, sweeping once per interval.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep executes one maintenance pass.
func (s *Sweeper) Sweep(ctx context.Context) {
	if hits, err := s.audit.RunBruteForceScan(ctx); err != nil {
		slog.ErrorContext(ctx, "brute force scan failed", "error", err)
	} else if hits > 0 {
		slog.InfoContext(ctx, "brute force scan raised alerts", "source_ips", hits)
	}
	if suspended, err := s.abuse.AutoModerate(ctx); err != nil {
		slog.ErrorContext(ctx, "auto moderation failed", "error", err)
	} else if suspended > 0 {
		slog.InfoContext(ctx, "auto moderation suspended users", "count", suspended)
	}
	if purged, err := s.sessions.PurgeExpired(time.Now()); err != nil {
		slog.ErrorContext(ctx, "session purge failed", "error", err)
	} else if purged > 0 {
		slog.DebugContext(ctx, "purged expired sessions", "count", purged)
	}
	if purged, err := s.messages.CleanupExpiredKeys(ctx); err != nil {
		slog.ErrorContext(ctx, "ephemeral key cleanup failed", "error", err)
	} else if purged > 0 {
		slog.DebugContext(ctx, "purged expired ephemeral keys", "count", purged)
	}
}
