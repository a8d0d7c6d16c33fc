package services

import (
	"fmt"
	"time"
)

// 商店环境
const (
	EnvironmentSandbox    = "sandbox"
	EnvironmentProduction = "production"
)

// Verdict is the normalized result of a store-side purchase verification.
// It carries enough of the raw response to reconstruct the entitlement
// decision later without calling the store again.
type Verdict struct {
	Valid                 bool
	Environment           string
	TransactionID         string
	OriginalTransactionID string
	ProductExternalID     string // 商店侧商品 ID
	PurchaseAt            time.Time
	ExpiresAt             *time.Time
	IsTrial               bool
	RawPayload            map[string]interface{}
}

// MissingCredentialError 配置缺失错误：按 bundle id / package name 解析
// 商店凭证失败。属于配置问题而非验证失败，直接向调用方抛出，不重试。
type MissingCredentialError struct {
	Store string // apple / google
	Key   string // bundle id or package name
}

func (e *MissingCredentialError) Error() string {
	return fmt.Sprintf("no %s credential configured for %q", e.Store, e.Key)
}

// AppleVerificationError Apple 返回的非零 status
type AppleVerificationError struct {
	Status int
}

func (e *AppleVerificationError) Error() string {
	return fmt.Sprintf("apple verification failed with status: %d", e.Status)
}

// GoogleVerificationError Google 返回的非"已购买"purchaseState
type GoogleVerificationError struct {
	PurchaseState int64
}

func (e *GoogleVerificationError) Error() string {
	return fmt.Sprintf("google purchase not in purchased state: %d", e.PurchaseState)
}
