package models

// Product 商品表
// ShippingConfig 为 JSON 字符串，描述付款成功后应发放的权益，
// 在事务边界由 ParseShippingConfig 解析校验一次，不在发货逻辑里做动态判断
type Product struct {
	BaseModel
	AppID string `json:"appid" gorm:"not null;column:appid;uniqueIndex:uk_product_app_alias"`
	Alias string `json:"alias" gorm:"not null;size:64;uniqueIndex:uk_product_app_alias"`
	Title string `json:"title" gorm:"size:128"`

	Amount   int64  `json:"amount" gorm:"not null"`                   // 价格，最小货币单位（分）
	Currency string `json:"currency" gorm:"size:8;default:'CNY'"`

	// 应用商店侧商品 ID，验证结果里的 productExternalId 据此反查商品
	AppleProductID  string `json:"apple_product_id" gorm:"size:100;index"`
	GoogleProductID string `json:"google_product_id" gorm:"size:100;index"`

	ShippingConfig string `json:"shipping_config" gorm:"type:text"`
	IsActive       bool   `json:"is_active" gorm:"default:true"`
}

// TableName 指定表名
func (Product) TableName() string {
	return "product"
}
