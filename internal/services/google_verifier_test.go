package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"google.golang.org/api/option"
)

// googleTestVerifier 把 androidpublisher 客户端指向本地 httptest 服务
func googleTestVerifier(srv *httptest.Server) *GoogleVerifier {
	v := NewGoogleVerifier(map[string]string{"com.test.app": `{"type":"service_account"}`})
	v.clientOptions = func(credentialJSON string) []option.ClientOption {
		return []option.ClientOption{
			option.WithoutAuthentication(),
			option.WithHTTPClient(srv.Client()),
			option.WithEndpoint(srv.URL),
		}
	}
	return v
}

func TestGoogleVerifySuccess(t *testing.T) {
	purchaseAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		// int64 字段在 JSON 里是字符串
		fmt.Fprintf(w, `{"purchaseState":0,"purchaseTimeMillis":"%d","orderId":"GPA.3333-4444","purchaseType":null}`,
			purchaseAt.UnixMilli())
	}))
	defer srv.Close()

	v := googleTestVerifier(srv)
	verdict, err := v.Verify(context.Background(), "com.test.app", "gp.vip.month", "purchase-token")
	if err != nil {
		t.Fatalf("verify error: %v", err)
	}
	if !verdict.Valid || verdict.TransactionID != "GPA.3333-4444" {
		t.Fatalf("unexpected verdict: %+v", verdict)
	}
	if verdict.ProductExternalID != "gp.vip.month" {
		t.Fatalf("unexpected product id: %s", verdict.ProductExternalID)
	}
	if !verdict.PurchaseAt.Equal(purchaseAt) {
		t.Fatalf("purchase time mismatch: %v != %v", verdict.PurchaseAt, purchaseAt)
	}
	if verdict.Environment != EnvironmentProduction {
		t.Fatalf("expected production environment, got %s", verdict.Environment)
	}
}

func TestGoogleVerifyTestPurchaseIsSandbox(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"purchaseState":0,"purchaseTimeMillis":"1700000000000","orderId":"GPA.TEST","purchaseType":0}`)
	}))
	defer srv.Close()

	v := googleTestVerifier(srv)
	verdict, err := v.Verify(context.Background(), "com.test.app", "gp.vip.month", "purchase-token")
	if err != nil {
		t.Fatalf("verify error: %v", err)
	}
	if verdict.Environment != EnvironmentSandbox {
		t.Fatalf("license-testing purchase must map to sandbox, got %s", verdict.Environment)
	}
}

func TestGoogleVerifyNonPurchasedStateFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"purchaseState":1,"purchaseTimeMillis":"1700000000000","orderId":"GPA.CANCELLED"}`)
	}))
	defer srv.Close()

	v := googleTestVerifier(srv)
	_, err := v.Verify(context.Background(), "com.test.app", "gp.vip.month", "purchase-token")

	var googleErr *GoogleVerificationError
	if !errors.As(err, &googleErr) || googleErr.PurchaseState != 1 {
		t.Fatalf("expected GoogleVerificationError with state 1, got %v", err)
	}
}

func TestGoogleVerifyMissingCredential(t *testing.T) {
	v := NewGoogleVerifier(map[string]string{})
	_, err := v.Verify(context.Background(), "com.unknown.app", "gp.vip.month", "purchase-token")

	var missing *MissingCredentialError
	if !errors.As(err, &missing) {
		t.Fatalf("expected MissingCredentialError, got %v", err)
	}
	if missing.Store != "google" || missing.Key != "com.unknown.app" {
		t.Fatalf("unexpected credential error: %+v", missing)
	}
}

func TestGoogleVerifierCachesClientPerPackage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"purchaseState":0,"purchaseTimeMillis":"1700000000000","orderId":"GPA.CACHE"}`)
	}))
	defer srv.Close()

	v := googleTestVerifier(srv)
	ctx := context.Background()

	if _, err := v.serviceFor(ctx, "com.test.app"); err != nil {
		t.Fatalf("serviceFor error: %v", err)
	}
	first := v.services["com.test.app"]

	if _, err := v.serviceFor(ctx, "com.test.app"); err != nil {
		t.Fatalf("serviceFor error: %v", err)
	}
	if v.services["com.test.app"] != first {
		t.Fatalf("expected cached client to be reused")
	}
}

func TestGoogleVerifyEmptyOrderIDFallsBackToToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		// license testing 购买可能没有 orderId
		fmt.Fprint(w, `{"purchaseState":0,"purchaseTimeMillis":"1700000000000","purchaseType":0}`)
	}))
	defer srv.Close()

	v := googleTestVerifier(srv)
	verdict, err := v.Verify(context.Background(), "com.test.app", "gp.vip.month", "token-no-order-id")
	if err != nil {
		t.Fatalf("verify error: %v", err)
	}
	if verdict.TransactionID != "token-no-order-id" {
		t.Fatalf("expected purchase token as transaction id, got %q", verdict.TransactionID)
	}
}
