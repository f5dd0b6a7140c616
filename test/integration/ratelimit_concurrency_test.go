package integration

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gigbridge/trustcore/internal/repository"
	"github.com/gigbridge/trustcore/internal/service"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newAuditService(t *testing.T) *service.AuditService {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := repository.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return service.NewAuditService(
		repository.NewAuditRepository(db),
		repository.NewAlertRepository(db),
		service.SlogAlertNotifier{},
		15*time.Minute,
		15*time.Minute,
	)
}

func TestRedisWindowStoreConcurrentBurstHonorsLimit(t *testing.T) {
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := service.NewRedisWindowStore(client, "itest:ratelimit")
	limiter := service.NewRateLimitService(store, newAuditService(t),
		map[string]service.RateLimitRule{
			"burst:op": {MaxRequests: 20, Window: 10 * time.Minute},
		},
		service.RateLimitRule{},
	)

	const attempts = 100
	var allowed atomic.Int64
	errCh := make(chan error, attempts)
	var wg sync.WaitGroup

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := limiter.CheckRateLimit(context.Background(), "same-actor", "burst:op", "203.0.113.10", "itest")
			if err != nil {
				errCh <- err
				return
			}
			if result.Allowed {
				allowed.Add(1)
			}
		}()
	}

	wg.Wait()
	close(errCh)
	for err := range errCh {
		t.Fatalf("check rate limit: %v", err)
	}

	if got := allowed.Load(); got != 20 {
		t.Fatalf("allowed = %d, want exactly the window limit 20", got)
	}
}

func TestRedisWindowStoreBlockVisibleAcrossClients(t *testing.T) {
	server := miniredis.RunT(t)
	first := redis.NewClient(&redis.Options{Addr: server.Addr()})
	second := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() {
		_ = first.Close()
		_ = second.Close()
	})

	writer := service.NewRedisWindowStore(first, "itest:ratelimit")
	reader := service.NewRedisWindowStore(second, "itest:ratelimit")
	ctx := context.Background()

	until := time.Now().Add(time.Hour)
	if err := writer.Block(ctx, service.IPKey("198.51.100.7"), service.GlobalBlockEndpoint, until); err != nil {
		t.Fatalf("block: %v", err)
	}
	deadline, blocked, err := reader.BlockedUntil(ctx, service.IPKey("198.51.100.7"), service.GlobalBlockEndpoint)
	if err != nil {
		t.Fatalf("blocked until: %v", err)
	}
	if !blocked {
		t.Fatal("block invisible to a second client")
	}
	if deadline.Sub(until).Abs() > time.Second {
		t.Fatalf("deadline drifted: %v vs %v", deadline, until)
	}
}
