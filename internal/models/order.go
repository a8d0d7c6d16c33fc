package models

import (
	"time"

	"gorm.io/datatypes"
)

// 订单状态
const (
	OrderStatusCreated = "created" // 已创建待支付
	OrderStatusPaid    = "paid"    // 已支付
)

// 支付方式
const (
	PaymentMethodAppleIAP  = "apple_iap"
	PaymentMethodGoogleIAP = "google_iap"
)

// Order 订单表
// 每笔验证通过的购买恰好创建一条；创建后除 created -> paid 状态迁移外不可变
type Order struct {
	BaseModel
	OrderNo      string            `json:"order_no" gorm:"uniqueIndex;not null;size:30"`
	AppID        string            `json:"appid" gorm:"not null;index;column:appid"`
	UID          string            `json:"uid" gorm:"not null;index;column:uid;size:64"`
	Amount       int64             `json:"amount" gorm:"not null"`
	Currency     string            `json:"currency" gorm:"size:8"`
	Status       string            `json:"status" gorm:"not null;size:16;index"`
	ProductAlias string            `json:"product_alias" gorm:"size:64"`
	Meta         datatypes.JSONMap `json:"meta"` // 透传的 trace/归因上下文
	PaidAt       *time.Time        `json:"paid_at"`
}

// TableName 指定表名
func (Order) TableName() string {
	return "pay_order"
}

// Payment 支付流水表
// 同一笔交易重放时按 (order_no, payment_method, transaction_id) 幂等 upsert，不重复落行
type Payment struct {
	BaseModel
	OrderNo       string            `json:"order_no" gorm:"not null;size:30;uniqueIndex:uk_payment_txn"`
	PaymentMethod string            `json:"payment_method" gorm:"not null;size:20;uniqueIndex:uk_payment_txn"`
	TransactionID string            `json:"transaction_id" gorm:"not null;size:100;uniqueIndex:uk_payment_txn"`
	Amount        int64             `json:"amount"`
	Currency      string            `json:"currency" gorm:"size:8"`
	Environment   string            `json:"environment" gorm:"size:20"` // sandbox / production
	PaidAt        time.Time         `json:"paid_at"`
	RawPayload    datatypes.JSONMap `json:"raw_payload"` // 商店返回的原始凭证要素
}

// TableName 指定表名
func (Payment) TableName() string {
	return "pay_payment"
}
