package models

import (
	"gorm.io/datatypes"
)

// PayTokenLog 幂等凭证流水
// (payment_method, transaction_id) 上的唯一索引是"该交易已处理"的唯一事实来源：
// 行存在即短路整条处理流水线，返回其 order_no
type PayTokenLog struct {
	BaseModel
	PaymentMethod string            `json:"payment_method" gorm:"not null;size:20;uniqueIndex:uk_token_txn"`
	TransactionID string            `json:"transaction_id" gorm:"not null;size:100;uniqueIndex:uk_token_txn"`
	RawToken      string            `json:"raw_token" gorm:"type:text"` // 原始 receipt/purchase token（截断存储）
	OrderNo       string            `json:"order_no" gorm:"not null;size:30;index"`
	TokenData     datatypes.JSONMap `json:"token_data"` // product_id、expires_at、verified_at 等结构化摘要
}

// TableName 指定表名
func (PayTokenLog) TableName() string {
	return "pay_token_log"
}
