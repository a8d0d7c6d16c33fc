package services

import (
	"context"
	"fmt"
	"time"

	"fulfillment-api/internal/config"
	"fulfillment-api/pkg/logging"

	brevo "github.com/getbrevo/brevo-go/lib"
)

// OpsNotifier mails the reconciliation inbox when an order is paid but
// fulfillment failed. Those orders need manual follow-up; the shipping log
// row alone is easy to miss.
type OpsNotifier struct {
	client    *brevo.APIClient
	fromEmail string
	fromName  string
	toEmail   string
}

// NewOpsNotifier creates a new ops notifier; returns nil when no alert
// recipient is configured.
func NewOpsNotifier() *OpsNotifier {
	cfg := config.AppConfig
	if cfg.BrevoAPIKey == "" || cfg.OpsAlertEmail == "" {
		return nil
	}

	brevoCfg := brevo.NewConfiguration()
	brevoCfg.AddDefaultHeader("api-key", cfg.BrevoAPIKey)

	return &OpsNotifier{
		client:    brevo.NewAPIClient(brevoCfg),
		fromEmail: cfg.BrevoFromEmail,
		fromName:  cfg.BrevoFromName,
		toEmail:   cfg.OpsAlertEmail,
	}
}

// NotifyFulfillmentFailure sends a "paid but fulfillment failed" alert.
// This function is called asynchronously (in goroutine) to avoid blocking.
func (n *OpsNotifier) NotifyFulfillmentFailure(orderNo, uid, appID, errMessage string) {
	subject := fmt.Sprintf("[对账告警] 订单已支付但发货失败 - %s", orderNo)
	textContent := fmt.Sprintf(
		"订单已支付但权益发放失败，需要人工对账处理。\n\n订单号: %s\n用户: %s\nApp: %s\n失败原因: %s\n时间: %s\n",
		orderNo, uid, appID, errMessage, time.Now().Format(time.RFC3339),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	_, _, err := n.client.TransactionalEmailsApi.SendTransacEmail(ctx, brevo.SendSmtpEmail{
		Sender: &brevo.SendSmtpEmailSender{
			Name:  n.fromName,
			Email: n.fromEmail,
		},
		To: []brevo.SendSmtpEmailTo{
			{Email: n.toEmail},
		},
		Subject:     subject,
		TextContent: textContent,
	})
	if err != nil {
		logging.Errorf("Failed to send ops alert - order_no: %s, error: %v", orderNo, err)
		return
	}
	logging.Infof("Ops alert sent - order_no: %s", orderNo)
}
