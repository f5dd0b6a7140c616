package service

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/gigbridge/trustcore/internal/repository"
	"github.com/gigbridge/trustcore/internal/security"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
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
	return db
}

func newAuditServiceForTest(t *testing.T, db *gorm.DB) *AuditService {
	t.Helper()
	return NewAuditService(
		repository.NewAuditRepository(db),
		repository.NewAlertRepository(db),
		SlogAlertNotifier{},
		15*time.Minute,
		15*time.Minute,
	)
}

func newSessionServiceForTest(t *testing.T, db *gorm.DB) *SessionService {
	t.Helper()
	tokens := security.NewTokenManager("trustcore-test", "test-secret", "test-pepper")
	return NewSessionService(
		repository.NewSessionRepository(db),
		newAuditServiceForTest(t, db),
		tokens,
		NewInMemoryChallengeStore(),
		time.Hour,
		5*time.Minute,
	)
}

func newRedisClientForTest(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
		server.Close()
	})
	return server, client
}
