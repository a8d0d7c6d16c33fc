package services

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"fulfillment-api/internal/models"
	"fulfillment-api/pkg/logging"
)

// ShipmentWebhook notifies the app backend of fulfillment results.
type ShipmentWebhook struct {
	httpClient *http.Client
}

// NewShipmentWebhook creates a new shipment webhook notifier
func NewShipmentWebhook() *ShipmentWebhook {
	return &ShipmentWebhook{
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// ShipmentWebhookPayload represents the payload sent to the app backend
type ShipmentWebhookPayload struct {
	Event            string `json:"event"` // "shipment.completed" / "shipment.failed"
	OrderNo          string `json:"order_no"`
	TransactionID    string `json:"transaction_id"`
	Success          bool   `json:"success"`
	RolesShipped     int    `json:"roles_shipped"`
	ResourcesShipped int    `json:"resources_shipped"`
	ErrorMessage     string `json:"error_message,omitempty"`
	Timestamp        string `json:"timestamp"` // ISO 8601 format
}

// NotifyShipmentResult sends the shipment result to the app's callback URL.
// This function is called asynchronously (in goroutine) to avoid blocking.
func (wn *ShipmentWebhook) NotifyShipmentResult(app *models.App, orderNo, transactionID string, result ShipResult) {
	if app == nil || app.WebhookCallbackURL == "" {
		// No webhook configured, skip
		return
	}

	event := "shipment.completed"
	if !result.Success {
		event = "shipment.failed"
	}

	payload := ShipmentWebhookPayload{
		Event:            event,
		OrderNo:          orderNo,
		TransactionID:    transactionID,
		Success:          result.Success,
		RolesShipped:     result.RolesShipped,
		ResourcesShipped: result.ResourcesShipped,
		ErrorMessage:     result.ErrMessage,
		Timestamp:        time.Now().Format(time.RFC3339),
	}

	wn.sendWithRetry(app.WebhookCallbackURL, app.WebhookSecret, payload)
}

// sendWithRetry sends webhook with retry mechanism
// Retry schedule: 1s, 5s, 30s (3 attempts total)
func (wn *ShipmentWebhook) sendWithRetry(callbackURL string, secret string, payload ShipmentWebhookPayload) {
	retryDelays := []time.Duration{1 * time.Second, 5 * time.Second, 30 * time.Second}
	maxRetries := len(retryDelays)

	for attempt := 0; attempt < maxRetries; attempt++ {
		err := wn.sendWebhook(callbackURL, secret, payload)
		if err == nil {
			logging.Infof("Shipment webhook sent successfully - url: %s, order_no: %s, attempt: %d",
				callbackURL, payload.OrderNo, attempt+1)
			return
		}

		logging.Errorf("Shipment webhook failed - url: %s, order_no: %s, attempt: %d, error: %v",
			callbackURL, payload.OrderNo, attempt+1, err)

		// If not the last attempt, wait before retry
		if attempt < maxRetries-1 {
			time.Sleep(retryDelays[attempt])
		}
	}

	logging.Errorf("Shipment webhook failed after %d attempts - url: %s, order_no: %s",
		maxRetries, callbackURL, payload.OrderNo)
}

// sendWebhook sends a single webhook request
func (wn *ShipmentWebhook) sendWebhook(callbackURL string, secret string, payload ShipmentWebhookPayload) error {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequest("POST", callbackURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Fulfillment-Webhook/1.0")

	// Add signature if secret is provided
	if secret != "" {
		signature := wn.generateSignature(jsonData, secret)
		req.Header.Set("X-Fulfillment-Signature", signature)
	}

	resp, err := wn.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	return nil
}

// generateSignature generates HMAC-SHA256 signature for webhook payload
func (wn *ShipmentWebhook) generateSignature(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}
