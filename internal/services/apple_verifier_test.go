package services

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"
)

func appleTestServer(t *testing.T, calls *int32, response map[string]interface{}) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(calls, 1)

		var body map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("bad request body: %v", err)
		}
		if body["receipt-data"] == "" || body["password"] == "" {
			t.Errorf("request missing receipt-data or password: %+v", body)
		}
		if body["exclude-old-transactions"] != true {
			t.Errorf("exclude-old-transactions not set: %+v", body)
		}

		json.NewEncoder(w).Encode(response)
	}))
}

func appleOKResponse(env string, txns ...map[string]interface{}) map[string]interface{} {
	return map[string]interface{}{
		"status":              0,
		"environment":         env,
		"receipt":             map[string]interface{}{"bundle_id": "com.test.app"},
		"latest_receipt_info": txns,
	}
}

func appleTxn(id string, purchaseMS int64) map[string]interface{} {
	return map[string]interface{}{
		"transaction_id":          id,
		"original_transaction_id": id,
		"product_id":              "com.test.vip",
		"purchase_date_ms":        strconv.FormatInt(purchaseMS, 10),
	}
}

func newTestAppleVerifier(productionURL, sandboxURL string) *AppleVerifier {
	v := NewAppleVerifier(map[string]string{"com.test.app": "secret"})
	v.productionURL = productionURL
	v.sandboxURL = sandboxURL
	return v
}

func TestAppleVerifySuccess(t *testing.T) {
	var calls int32
	purchaseAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	srv := appleTestServer(t, &calls, appleOKResponse("Production", appleTxn("1000000123", purchaseAt.UnixMilli())))
	defer srv.Close()

	v := newTestAppleVerifier(srv.URL, "http://invalid.invalid")
	verdict, err := v.Verify("com.test.app", "base64-receipt")
	if err != nil {
		t.Fatalf("verify error: %v", err)
	}
	if !verdict.Valid || verdict.TransactionID != "1000000123" {
		t.Fatalf("unexpected verdict: %+v", verdict)
	}
	if verdict.Environment != EnvironmentProduction {
		t.Fatalf("expected production environment, got %s", verdict.Environment)
	}
	if verdict.ProductExternalID != "com.test.vip" {
		t.Fatalf("unexpected product id: %s", verdict.ProductExternalID)
	}
	if !verdict.PurchaseAt.Equal(purchaseAt) {
		t.Fatalf("purchase time mismatch: %v != %v", verdict.PurchaseAt, purchaseAt)
	}
	if calls != 1 {
		t.Fatalf("expected single production call, got %d", calls)
	}
}

// 21007 表示沙盒收据发到了生产端点，必须透明重试沙盒端点，且只重试一次
func TestAppleVerifySandboxRetry(t *testing.T) {
	var prodCalls, sandboxCalls int32

	prod := appleTestServer(t, &prodCalls, map[string]interface{}{"status": 21007})
	defer prod.Close()
	sandbox := appleTestServer(t, &sandboxCalls, appleOKResponse("Sandbox", appleTxn("2000000456", time.Now().UnixMilli())))
	defer sandbox.Close()

	v := newTestAppleVerifier(prod.URL, sandbox.URL)
	verdict, err := v.Verify("com.test.app", "base64-receipt")
	if err != nil {
		t.Fatalf("verify error: %v", err)
	}
	if verdict.Environment != EnvironmentSandbox {
		t.Fatalf("expected sandbox environment, got %s", verdict.Environment)
	}
	if prodCalls != 1 || sandboxCalls != 1 {
		t.Fatalf("expected exactly one call each, got prod=%d sandbox=%d", prodCalls, sandboxCalls)
	}
}

func TestAppleVerifySandboxRetryFailureIsTerminal(t *testing.T) {
	var prodCalls, sandboxCalls int32

	prod := appleTestServer(t, &prodCalls, map[string]interface{}{"status": 21007})
	defer prod.Close()
	// 沙盒也返回 21007，不允许再继续弹跳
	sandbox := appleTestServer(t, &sandboxCalls, map[string]interface{}{"status": 21007})
	defer sandbox.Close()

	v := newTestAppleVerifier(prod.URL, sandbox.URL)
	_, err := v.Verify("com.test.app", "base64-receipt")

	var appleErr *AppleVerificationError
	if !errors.As(err, &appleErr) || appleErr.Status != 21007 {
		t.Fatalf("expected apple verification error with status 21007, got %v", err)
	}
	if prodCalls != 1 || sandboxCalls != 1 {
		t.Fatalf("retry must not loop: prod=%d sandbox=%d", prodCalls, sandboxCalls)
	}
}

func TestAppleVerifyTerminalStatusSkipsSandbox(t *testing.T) {
	var prodCalls, sandboxCalls int32

	prod := appleTestServer(t, &prodCalls, map[string]interface{}{"status": 21003})
	defer prod.Close()
	sandbox := appleTestServer(t, &sandboxCalls, appleOKResponse("Sandbox", appleTxn("x", 1)))
	defer sandbox.Close()

	v := newTestAppleVerifier(prod.URL, sandbox.URL)
	_, err := v.Verify("com.test.app", "base64-receipt")

	var appleErr *AppleVerificationError
	if !errors.As(err, &appleErr) || appleErr.Status != 21003 {
		t.Fatalf("expected status 21003, got %v", err)
	}
	if sandboxCalls != 0 {
		t.Fatalf("terminal status must not hit sandbox, got %d calls", sandboxCalls)
	}
}

func TestAppleVerifyMissingSecret(t *testing.T) {
	v := NewAppleVerifier(map[string]string{})
	_, err := v.Verify("com.unknown.app", "base64-receipt")

	var missing *MissingCredentialError
	if !errors.As(err, &missing) {
		t.Fatalf("expected MissingCredentialError, got %v", err)
	}
	if missing.Store != "apple" {
		t.Fatalf("unexpected store: %s", missing.Store)
	}
}

func TestAppleVerifyDefaultSecretFallback(t *testing.T) {
	var calls int32
	srv := appleTestServer(t, &calls, appleOKResponse("Production", appleTxn("3000000789", time.Now().UnixMilli())))
	defer srv.Close()

	v := NewAppleVerifier(map[string]string{"default": "fallback-secret"})
	v.productionURL = srv.URL
	v.sandboxURL = srv.URL

	if _, err := v.Verify("com.any.app", "base64-receipt"); err != nil {
		t.Fatalf("default secret fallback failed: %v", err)
	}
}

func TestLatestTransactionPicksNewest(t *testing.T) {
	resp := &appleReceiptResponse{
		LatestReceiptInfo: []appleTransaction{
			{TransactionID: "old", PurchaseDateMS: "1000"},
			{TransactionID: "newest", PurchaseDateMS: "3000"},
			{TransactionID: "mid", PurchaseDateMS: "2000"},
		},
	}
	txn, err := latestTransaction(resp)
	if err != nil {
		t.Fatalf("latestTransaction error: %v", err)
	}
	if txn.TransactionID != "newest" {
		t.Fatalf("expected newest transaction, got %s", txn.TransactionID)
	}
}

func TestLatestTransactionFallsBackToInApp(t *testing.T) {
	resp := &appleReceiptResponse{}
	resp.Receipt.InApp = []appleTransaction{{TransactionID: "inapp-1", PurchaseDateMS: "500"}}

	txn, err := latestTransaction(resp)
	if err != nil {
		t.Fatalf("latestTransaction error: %v", err)
	}
	if txn.TransactionID != "inapp-1" {
		t.Fatalf("expected in_app fallback, got %s", txn.TransactionID)
	}
}

func TestLatestTransactionEmptyReceipt(t *testing.T) {
	if _, err := latestTransaction(&appleReceiptResponse{}); !errors.Is(err, ErrNoTransaction) {
		t.Fatalf("expected ErrNoTransaction, got %v", err)
	}
}
