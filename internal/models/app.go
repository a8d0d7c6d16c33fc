package models

// App represents an application registered with the fulfillment service
// 每个接入方一行配置；角色、商品、权益均以 appid 为命名空间
type App struct {
	BaseModel
	AppID   string `json:"appid" gorm:"uniqueIndex;not null;column:appid"`
	AppName string `json:"app_name" gorm:"not null"`
	APIKey  string `json:"api_key" gorm:"uniqueIndex;not null"` // 服务端到服务端调用凭证
	IsActive bool  `json:"is_active" gorm:"default:true"`

	// 应用商店识别字段
	BundleID    string `json:"bundle_id" gorm:"uniqueIndex"`    // iOS bundle ID
	PackageName string `json:"package_name" gorm:"uniqueIndex"` // Android package name

	// 订单号前缀（留空使用全局默认）
	OrderPrefix string `json:"order_prefix" gorm:"size:8"`

	// Webhook 配置（发货结果回调 App Backend）
	WebhookCallbackURL string `json:"webhook_callback_url" gorm:"type:varchar(500)"`
	WebhookSecret      string `json:"webhook_secret" gorm:"type:varchar(255)"` // HMAC 签名密钥（可选）
}

// TableName 指定表名
func (App) TableName() string {
	return "app"
}
