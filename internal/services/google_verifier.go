package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	androidpublisher "google.golang.org/api/androidpublisher/v3"
	"google.golang.org/api/option"
)

// GoogleVerifier verifies Android one-time-product purchases through the
// androidpublisher API. Service-account credentials are resolved per package
// name from configuration; the exchanged client is cached per package.
type GoogleVerifier struct {
	serviceAccounts map[string]string // package name -> service account JSON
	// clientOptions builds the androidpublisher client options from a
	// resolved credential; replaced in tests to point at a local endpoint
	clientOptions func(credentialJSON string) []option.ClientOption

	mu       sync.Mutex
	services map[string]*androidpublisher.Service
}

// NewGoogleVerifier creates a new Google Play purchase verifier
func NewGoogleVerifier(serviceAccounts map[string]string) *GoogleVerifier {
	return &GoogleVerifier{
		serviceAccounts: serviceAccounts,
		clientOptions: func(credentialJSON string) []option.ClientOption {
			return []option.ClientOption{
				option.WithCredentialsJSON([]byte(credentialJSON)),
				option.WithScopes(androidpublisher.AndroidpublisherScope),
			}
		},
		services: make(map[string]*androidpublisher.Service),
	}
}

// Verify looks up a one-time-product purchase by (packageName, productID,
// purchaseToken). purchaseState != 0 (not purchased) is terminal; HTTP/auth
// errors are surfaced as-is, not retried. No ledger writes happen here.
func (s *GoogleVerifier) Verify(ctx context.Context, packageName, productID, purchaseToken string) (*Verdict, error) {
	svc, err := s.serviceFor(ctx, packageName)
	if err != nil {
		return nil, err
	}

	resp, err := svc.Purchases.Products.Get(packageName, productID, purchaseToken).
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("google products.get: %w", err)
	}

	if resp.PurchaseState != 0 {
		return nil, &GoogleVerificationError{PurchaseState: resp.PurchaseState}
	}

	var rawPayload map[string]interface{}
	if raw, err := json.Marshal(resp); err == nil {
		_ = json.Unmarshal(raw, &rawPayload)
	}

	// orderId 是商店侧交易标识，作幂等键；license testing 购买可能没有
	// orderId，退回用 purchase token，不能让这类购买都落在空键上互相顶替
	transactionID := resp.OrderId
	if transactionID == "" {
		transactionID = purchaseToken
	}

	return &Verdict{
		Valid:             true,
		Environment:       googleEnvironment(resp),
		TransactionID:     transactionID,
		ProductExternalID: productID,
		PurchaseAt:        time.UnixMilli(resp.PurchaseTimeMillis),
		RawPayload:        rawPayload,
	}, nil
}

// serviceFor 按 package name 解析 service account 并构建（或复用）客户端
func (s *GoogleVerifier) serviceFor(ctx context.Context, packageName string) (*androidpublisher.Service, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if svc, ok := s.services[packageName]; ok {
		return svc, nil
	}

	credentialJSON, ok := s.serviceAccounts[packageName]
	if !ok || credentialJSON == "" {
		return nil, &MissingCredentialError{Store: "google", Key: packageName}
	}

	svc, err := androidpublisher.NewService(ctx, s.clientOptions(credentialJSON)...)
	if err != nil {
		return nil, fmt.Errorf("androidpublisher.NewService: %w", err)
	}

	s.services[packageName] = svc
	return svc, nil
}

func googleEnvironment(resp *androidpublisher.ProductPurchase) string {
	// purchaseType 0 表示测试（license testing）购买
	if resp.PurchaseType != nil && *resp.PurchaseType == 0 {
		return EnvironmentSandbox
	}
	return EnvironmentProduction
}
