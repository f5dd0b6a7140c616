package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gigbridge/trustcore/internal/config"
	"github.com/gigbridge/trustcore/internal/http/router"
	"github.com/gigbridge/trustcore/internal/observability"
	"github.com/gigbridge/trustcore/internal/repository"
	"github.com/gigbridge/trustcore/internal/security"
	"github.com/gigbridge/trustcore/internal/service"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

type App struct {
	Config        *config.Config
	Logger        *slog.Logger
	Server        *http.Server
	Sweeper       *service.Sweeper
	Observability *observability.Runtime
	Services      router.Services
}

// New wires the full subsystem: GORM repositories over the configured
// database, Redis-backed ephemeral stores when a Redis address is set and
// in-process ones otherwise, services, sweeper and HTTP surface.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	logger := config.NewLogger(cfg)
	slog.SetDefault(logger)

	runtime, err := observability.InitRuntime(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("init observability: %w", err)
	}

	db, err := repository.Open(cfg)
	if err != nil {
		return nil, err
	}
	if err := repository.Migrate(db); err != nil {
		return nil, err
	}

	var windowStore service.WindowStore
	var challengeStore service.ChallengeStore
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		windowStore = service.NewRedisWindowStore(client, "trustcore:ratelimit")
		challengeStore = service.NewRedisChallengeStore(client, "trustcore:challenge")
		logger.Info("ephemeral stores backed by redis", "addr", cfg.RedisAddr)
	} else {
		windowStore = service.NewInMemoryWindowStore()
		challengeStore = service.NewInMemoryChallengeStore()
		logger.Info("ephemeral stores in process")
	}

	sessionRepo := repository.NewSessionRepository(db)
	auditRepo := repository.NewAuditRepository(db)
	alertRepo := repository.NewAlertRepository(db)
	reportRepo := repository.NewAbuseReportRepository(db)
	profileRepo := repository.NewUserProfileRepository(db)
	trustRepo := repository.NewTrustScoreRepository(db)
	keyPairRepo := repository.NewKeyPairRepository(db)
	ephemeralRepo := repository.NewEphemeralKeyRepository(db)
	messageRepo := repository.NewMessageRepository(db)

	tokens := security.NewTokenManager(cfg.TokenIssuer, cfg.TokenSecret, cfg.Pepper)

	auditSvc := service.NewAuditService(auditRepo, alertRepo, service.SlogAlertNotifier{}, cfg.LockoutWindow, cfg.LockoutDuration)
	sessionSvc := service.NewSessionService(sessionRepo, auditSvc, tokens, challengeStore, cfg.SessionTTL, cfg.ChallengeTTL)
	rateLimitSvc := service.NewRateLimitService(windowStore, auditSvc, nil, service.RateLimitRule{
		MaxRequests: cfg.DefaultRateLimit,
		Window:      cfg.DefaultRateWindow,
	})
	fraudSvc := service.NewFraudService(auditRepo, auditSvc, challengeStore, cfg.ThreatIPs, cfg.ChallengeTTL)
	abuseSvc := service.NewAbuseService(reportRepo, profileRepo, trustRepo, auditSvc)
	messageSvc := service.NewMessageService(keyPairRepo, ephemeralRepo, messageRepo, auditSvc, cfg.Pepper, cfg.EphemeralKeyTTL)
	sweeper := service.NewSweeper(auditSvc, abuseSvc, messageSvc, sessionRepo, cfg.SweepInterval)

	svcs := router.Services{
		Sessions:  sessionSvc,
		RateLimit: rateLimitSvc,
		Fraud:     fraudSvc,
		Audit:     auditSvc,
		Abuse:     abuseSvc,
		Messages:  messageSvc,
	}
	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router.New(svcs),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return &App{
		Config:        cfg,
		Logger:        logger,
		Server:        server,
		Sweeper:       sweeper,
		Observability: runtime,
		Services:      svcs,
	}, nil
}

// Run serves HTTP and the sweeper until a termination signal arrives, then
// shuts both down gracefully.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.Logger.Info("http server listening", "addr", a.Server.Addr)
		if err := a.Server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		err := a.Sweeper.Run(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := a.Server.Shutdown(shutdownCtx); err != nil {
			a.Logger.Error("http shutdown failed", "error", err)
		}
		return a.Observability.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
