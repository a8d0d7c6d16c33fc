package repository

import (
	"errors"

	"fulfillment-api/internal/models"

	"gorm.io/gorm"
)

// TokenLogRepository is the durable idempotency ledger.
// FindOrderNo must run before any order/payment write; the lookup hits the
// (payment_method, transaction_id) unique index, never a table scan.
type TokenLogRepository interface {
	FindOrderNo(paymentMethod, transactionID string) (string, bool, error)
	Create(log *models.PayTokenLog) error
}

type tokenLogRepo struct {
	db *gorm.DB
}

func NewTokenLogRepository(db *gorm.DB) TokenLogRepository {
	return &tokenLogRepo{db: db}
}

// FindOrderNo 返回该交易此前产出的 order_no；第二个返回值表示是否命中
func (r *tokenLogRepo) FindOrderNo(paymentMethod, transactionID string) (string, bool, error) {
	var log models.PayTokenLog
	err := r.db.Select("order_no").
		Where("payment_method = ? AND transaction_id = ?", paymentMethod, transactionID).
		First(&log).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", false, nil
		}
		return "", false, err
	}
	return log.OrderNo, true, nil
}

func (r *tokenLogRepo) Create(log *models.PayTokenLog) error {
	return r.db.Create(log).Error
}
