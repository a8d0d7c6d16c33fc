package models

import (
	"time"

	"gorm.io/datatypes"
)

// 发货日志状态
const (
	ShippingStatusPending = "pending"
	ShippingStatusSuccess = "success"
	ShippingStatusFailed  = "failed"
)

// ShippingLog 发货审计日志
// 发货引擎运行前先落一条 pending，结束后无论成败都更新状态；
// 订单都查不到时这条日志也必须存在，供人工对账
type ShippingLog struct {
	BaseModel
	LogID        string            `json:"log_id" gorm:"uniqueIndex;not null;size:36"`
	OrderNo      string            `json:"order_no" gorm:"size:30;index"`
	AppID        string            `json:"appid" gorm:"size:64;column:appid;index"`
	UID          string            `json:"uid" gorm:"size:64;column:uid;index"`
	Status       string            `json:"status" gorm:"not null;size:16;index"`
	ShippingType string            `json:"shipping_type" gorm:"size:32"` // iap / notify 等触发来源类型
	Source       string            `json:"source" gorm:"size:64"`
	ShippingData datatypes.JSONMap `json:"shipping_data"`
	ErrorMessage string            `json:"error_message" gorm:"type:text"`
	ShippedAt    time.Time         `json:"shipped_at"`
}

// TableName 指定表名
func (ShippingLog) TableName() string {
	return "shipping_log"
}
