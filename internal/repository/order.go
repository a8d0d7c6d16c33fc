package repository

import (
	"time"

	"fulfillment-api/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// OrderRepository exposes exactly the order/payment operations the pipeline needs.
// Implementations are constructed from a *gorm.DB so callers can hand in a
// transaction handle instead of the root connection.
type OrderRepository interface {
	Create(order *models.Order) error
	FindByOrderNo(orderNo string) (*models.Order, error)
	MarkPaid(orderNo string, paidAt time.Time) error
	UpsertPayment(payment *models.Payment) error
}

type orderRepo struct {
	db *gorm.DB
}

func NewOrderRepository(db *gorm.DB) OrderRepository {
	return &orderRepo{db: db}
}

func (r *orderRepo) Create(order *models.Order) error {
	return r.db.Create(order).Error
}

func (r *orderRepo) FindByOrderNo(orderNo string) (*models.Order, error) {
	var order models.Order
	if err := r.db.Where("order_no = ?", orderNo).First(&order).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *orderRepo) MarkPaid(orderNo string, paidAt time.Time) error {
	result := r.db.Model(&models.Order{}).
		Where("order_no = ? AND status = ?", orderNo, models.OrderStatusCreated).
		Updates(map[string]interface{}{
			"status":  models.OrderStatusPaid,
			"paid_at": paidAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// UpsertPayment 按 (order_no, payment_method, transaction_id) 幂等写入支付流水
func (r *orderRepo) UpsertPayment(payment *models.Payment) error {
	return r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "order_no"},
			{Name: "payment_method"},
			{Name: "transaction_id"},
		},
		DoUpdates: clause.AssignmentColumns([]string{"amount", "currency", "environment", "paid_at", "raw_payload"}),
	}).Create(payment).Error
}
