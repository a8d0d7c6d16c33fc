package services

import (
	"context"
	"fmt"
	"time"

	"fulfillment-api/internal/repository"
	"fulfillment-api/pkg/logging"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// IdempotencyLedger answers "has this purchase already produced an order?".
// The pay_token_log table is the source of truth; redis is a best-effort
// fast path in front of it because stores retry webhooks/consume calls
// aggressively. Cache misses and redis outages just fall through to the DB.
type IdempotencyLedger struct {
	db       *gorm.DB
	redis    *redis.Client
	cacheTTL time.Duration
}

// NewIdempotencyLedger creates a new idempotency ledger
func NewIdempotencyLedger(db *gorm.DB, redisClient *redis.Client) *IdempotencyLedger {
	return &IdempotencyLedger{
		db:       db,
		redis:    redisClient,
		cacheTTL: 24 * time.Hour,
	}
}

func (l *IdempotencyLedger) cacheKey(paymentMethod, transactionID string) string {
	return fmt.Sprintf("iap:txn:%s:%s", paymentMethod, transactionID)
}

// CheckProcessed returns the order no previously produced for this
// transaction, or ("", false) when the transaction is new.
func (l *IdempotencyLedger) CheckProcessed(ctx context.Context, paymentMethod, transactionID string) (string, bool, error) {
	if l.redis != nil {
		orderNo, err := l.redis.Get(ctx, l.cacheKey(paymentMethod, transactionID)).Result()
		if err == nil && orderNo != "" {
			return orderNo, true, nil
		}
		if err != nil && err != redis.Nil {
			logging.Warnf("Idempotency cache read failed, falling back to DB - txn: %s, error: %v", transactionID, err)
		}
	}

	orderNo, found, err := repository.NewTokenLogRepository(l.db).FindOrderNo(paymentMethod, transactionID)
	if err != nil {
		return "", false, err
	}
	if found {
		l.Remember(ctx, paymentMethod, transactionID, orderNo)
	}
	return orderNo, found, nil
}

// Remember caches the transaction -> order mapping. Best effort only.
func (l *IdempotencyLedger) Remember(ctx context.Context, paymentMethod, transactionID, orderNo string) {
	if l.redis == nil {
		return
	}
	if err := l.redis.Set(ctx, l.cacheKey(paymentMethod, transactionID), orderNo, l.cacheTTL).Err(); err != nil {
		logging.Warnf("Idempotency cache write failed - txn: %s, error: %v", transactionID, err)
	}
}
