package services

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"time"

	"fulfillment-api/pkg/logging"
)

const (
	appleProductionVerifyURL = "https://buy.itunes.apple.com/verifyReceipt"
	appleSandboxVerifyURL    = "https://sandbox.itunes.apple.com/verifyReceipt"

	// Apple status code: sandbox receipt sent to the production endpoint
	appleStatusSandboxReceipt = 21007
)

// ErrNoTransaction 收据里没有任何交易记录
var ErrNoTransaction = errors.New("no transaction found in receipt")

// AppleVerifier verifies iOS receipts against the verifyReceipt endpoint.
// Shared secrets are resolved per bundle id with a "default" fallback,
// injected once at startup.
type AppleVerifier struct {
	httpClient    *http.Client
	productionURL string
	sandboxURL    string
	sharedSecrets map[string]string
}

// NewAppleVerifier creates a new Apple receipt verifier
func NewAppleVerifier(sharedSecrets map[string]string) *AppleVerifier {
	return &AppleVerifier{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		productionURL: appleProductionVerifyURL,
		sandboxURL:    appleSandboxVerifyURL,
		sharedSecrets: sharedSecrets,
	}
}

// appleTransaction is one transaction entry from the receipt
type appleTransaction struct {
	TransactionID         string `json:"transaction_id"`
	OriginalTransactionID string `json:"original_transaction_id"`
	ProductID             string `json:"product_id"`
	PurchaseDateMS        string `json:"purchase_date_ms"`
	ExpiresDateMS         string `json:"expires_date_ms"`
	IsTrialPeriod         string `json:"is_trial_period"`
}

// appleReceiptResponse represents the verifyReceipt response
type appleReceiptResponse struct {
	Status      int    `json:"status"`
	Environment string `json:"environment"`
	Receipt     struct {
		BundleID string             `json:"bundle_id"`
		InApp    []appleTransaction `json:"in_app"`
	} `json:"receipt"`
	LatestReceiptInfo []appleTransaction `json:"latest_receipt_info"`
}

// Verify verifies an iOS receipt.
// Production endpoint first; status 21007 (sandbox receipt) triggers exactly
// one transparent retry against the sandbox endpoint. Any other non-zero
// status is terminal. No ledger writes happen here.
func (s *AppleVerifier) Verify(bundleID, receiptData string) (*Verdict, error) {
	secret, err := s.resolveSharedSecret(bundleID)
	if err != nil {
		return nil, err
	}

	verdict, err := s.verifyWithEndpoint(s.productionURL, EnvironmentProduction, secret, receiptData)
	if err != nil {
		var appleErr *AppleVerificationError
		if errors.As(err, &appleErr) && appleErr.Status == appleStatusSandboxReceipt {
			logging.Infof("Receipt is from sandbox, retrying with sandbox URL - bundle_id: %s", bundleID)
			return s.verifyWithEndpoint(s.sandboxURL, EnvironmentSandbox, secret, receiptData)
		}
		return nil, err
	}
	return verdict, nil
}

// resolveSharedSecret 按 bundle id 查共享密钥，查不到回退 default；
// 仍查不到属于配置错误，不是验证失败
func (s *AppleVerifier) resolveSharedSecret(bundleID string) (string, error) {
	if secret, ok := s.sharedSecrets[bundleID]; ok && secret != "" {
		return secret, nil
	}
	if secret, ok := s.sharedSecrets["default"]; ok && secret != "" {
		return secret, nil
	}
	return "", &MissingCredentialError{Store: "apple", Key: bundleID}
}

func (s *AppleVerifier) verifyWithEndpoint(url, environment, secret, receiptData string) (*Verdict, error) {
	requestBody := map[string]interface{}{
		"receipt-data":             receiptData,
		"password":                 secret,
		"exclude-old-transactions": true,
	}

	jsonData, err := json.Marshal(requestBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	resp, err := s.httpClient.Post(url, "application/json", bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to verify receipt: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var appleResp appleReceiptResponse
	if err := json.Unmarshal(body, &appleResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	if appleResp.Status != 0 {
		return nil, &AppleVerificationError{Status: appleResp.Status}
	}

	txn, err := latestTransaction(&appleResp)
	if err != nil {
		return nil, err
	}

	purchaseAt, err := parseAppleTimestamp(txn.PurchaseDateMS)
	if err != nil {
		return nil, fmt.Errorf("failed to parse purchase date: %w", err)
	}

	var expiresAt *time.Time
	if txn.ExpiresDateMS != "" {
		t, err := parseAppleTimestamp(txn.ExpiresDateMS)
		if err != nil {
			return nil, fmt.Errorf("failed to parse expires date: %w", err)
		}
		expiresAt = &t
	}

	var rawPayload map[string]interface{}
	if err := json.Unmarshal(body, &rawPayload); err != nil {
		rawPayload = map[string]interface{}{}
	}

	env := environment
	if appleResp.Environment != "" {
		// Apple 返回 "Sandbox"/"Production"
		if appleResp.Environment == "Sandbox" {
			env = EnvironmentSandbox
		} else {
			env = EnvironmentProduction
		}
	}

	return &Verdict{
		Valid:                 true,
		Environment:           env,
		TransactionID:         txn.TransactionID,
		OriginalTransactionID: txn.OriginalTransactionID,
		ProductExternalID:     txn.ProductID,
		PurchaseAt:            purchaseAt,
		ExpiresAt:             expiresAt,
		IsTrial:               txn.IsTrialPeriod == "true",
		RawPayload:            rawPayload,
	}, nil
}

// latestTransaction selects the most recent transaction from the receipt:
// latest_receipt_info preferred, receipt.in_app as fallback, sorted by
// purchase timestamp descending.
func latestTransaction(resp *appleReceiptResponse) (*appleTransaction, error) {
	list := resp.LatestReceiptInfo
	if len(list) == 0 {
		list = resp.Receipt.InApp
	}
	if len(list) == 0 {
		return nil, ErrNoTransaction
	}

	sorted := make([]appleTransaction, len(list))
	copy(sorted, list)
	sort.SliceStable(sorted, func(i, j int) bool {
		ti, _ := strconv.ParseInt(sorted[i].PurchaseDateMS, 10, 64)
		tj, _ := strconv.ParseInt(sorted[j].PurchaseDateMS, 10, 64)
		return ti > tj
	})

	return &sorted[0], nil
}

// parseAppleTimestamp parses Apple timestamp (milliseconds since epoch)
func parseAppleTimestamp(timestampStr string) (time.Time, error) {
	if timestampStr == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	timestamp, err := strconv.ParseInt(timestampStr, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(timestamp/1000, (timestamp%1000)*1000000), nil
}
