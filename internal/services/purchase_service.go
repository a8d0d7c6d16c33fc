package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"fulfillment-api/internal/models"
	"fulfillment-api/internal/repository"
	"fulfillment-api/pkg/logging"
	"fulfillment-api/pkg/orderno"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// errTxnReplayed 事务内发现幂等流水已存在（并发重复通知撞了唯一索引）
var errTxnReplayed = errors.New("transaction already produced an order")

const orderNoMaxRetries = 3

// PurchaseResult is the outcome of one inbound purchase notification.
type PurchaseResult struct {
	OrderNo   string     `json:"order_no"`
	Duplicate bool       `json:"duplicate"`
	Ship      ShipResult `json:"ship"`
}

// PurchaseService drives the whole pipeline for one purchase notification:
// verify receipt -> idempotency check -> order/payment/token-log transaction
// -> fulfillment -> audit log. The store call always happens before (and
// outside of) any database transaction.
type PurchaseService struct {
	db          *gorm.DB
	ledger      *IdempotencyLedger
	apple       *AppleVerifier
	google      *GoogleVerifier
	shipping    *ShippingService
	webhook     *ShipmentWebhook
	opsNotifier *OpsNotifier
	orderPrefix string
}

// NewPurchaseService creates a new purchase service
func NewPurchaseService(db *gorm.DB, ledger *IdempotencyLedger, apple *AppleVerifier, google *GoogleVerifier, shipping *ShippingService, webhook *ShipmentWebhook, opsNotifier *OpsNotifier, orderPrefix string) *PurchaseService {
	return &PurchaseService{
		db:          db,
		ledger:      ledger,
		apple:       apple,
		google:      google,
		shipping:    shipping,
		webhook:     webhook,
		opsNotifier: opsNotifier,
		orderPrefix: orderPrefix,
	}
}

// ProcessApplePurchase verifies an iOS receipt and fulfills the purchase.
func (s *PurchaseService) ProcessApplePurchase(ctx context.Context, uid string, app *models.App, receiptData string, meta map[string]interface{}) (*PurchaseResult, error) {
	verdict, err := s.apple.Verify(app.BundleID, receiptData)
	if err != nil {
		return nil, err
	}
	return s.process(ctx, uid, app, models.PaymentMethodAppleIAP, verdict, receiptData, meta)
}

// ProcessGooglePurchase verifies an Android purchase token and fulfills the purchase.
func (s *PurchaseService) ProcessGooglePurchase(ctx context.Context, uid string, app *models.App, productID, purchaseToken string, meta map[string]interface{}) (*PurchaseResult, error) {
	verdict, err := s.google.Verify(ctx, app.PackageName, productID, purchaseToken)
	if err != nil {
		return nil, err
	}
	return s.process(ctx, uid, app, models.PaymentMethodGoogleIAP, verdict, purchaseToken, meta)
}

func (s *PurchaseService) process(ctx context.Context, uid string, app *models.App, paymentMethod string, verdict *Verdict, rawToken string, meta map[string]interface{}) (*PurchaseResult, error) {
	// 幂等检查必须先于任何订单/支付写入
	if prior, found, err := s.ledger.CheckProcessed(ctx, paymentMethod, verdict.TransactionID); err != nil {
		return nil, err
	} else if found {
		logging.Infof("Duplicate purchase notification short-circuited - method: %s, txn: %s, order_no: %s",
			paymentMethod, verdict.TransactionID, prior)
		return &PurchaseResult{OrderNo: prior, Duplicate: true, Ship: ShipResult{Success: true}}, nil
	}

	product, err := repository.NewProductRepository(s.db).FindByStoreProductID(app.AppID, paymentMethod, verdict.ProductExternalID)
	if err != nil {
		return nil, fmt.Errorf("no product mapped to store product %q for app %s: %w", verdict.ProductExternalID, app.AppID, err)
	}

	cfg, err := models.ParseShippingConfig(product.ShippingConfig)
	if err != nil {
		return nil, err
	}

	order, err := s.writeOrder(uid, app, product, paymentMethod, verdict, rawToken, meta)
	if errors.Is(err, errTxnReplayed) {
		// 并发重复通知：唯一索引赢家已落单，返回它的订单号
		prior, found, lookupErr := s.ledger.CheckProcessed(ctx, paymentMethod, verdict.TransactionID)
		if lookupErr != nil || !found {
			return nil, fmt.Errorf("token log conflict but prior order not found for txn %s", verdict.TransactionID)
		}
		return &PurchaseResult{OrderNo: prior, Duplicate: true, Ship: ShipResult{Success: true}}, nil
	}
	if err != nil {
		return nil, err
	}

	s.ledger.Remember(ctx, paymentMethod, verdict.TransactionID, order.OrderNo)

	// 订单事务已提交；发货失败不回滚订单，只记录并上报对账
	shipResult, logID := s.shipping.RunWithAudit(order.OrderNo, uid, app.AppID, cfg, meta, "iap", paymentMethod, verdict.PurchaseAt)

	if !shipResult.Success {
		logging.Errorf("Order paid but fulfillment failed - order_no: %s, log_id: %s, error: %s",
			order.OrderNo, logID, shipResult.ErrMessage)
		if s.opsNotifier != nil {
			go s.opsNotifier.NotifyFulfillmentFailure(order.OrderNo, uid, app.AppID, shipResult.ErrMessage)
		}
	}
	if s.webhook != nil {
		go s.webhook.NotifyShipmentResult(app, order.OrderNo, verdict.TransactionID, shipResult)
	}

	return &PurchaseResult{OrderNo: order.OrderNo, Ship: shipResult}, nil
}

// writeOrder 在单个事务里写订单 + 支付流水 + 幂等凭证流水，全部成功或全部回滚。
// IAP 渠道钱已在商店侧结清，订单直接以 paid 落库，没有"待支付"阶段。
func (s *PurchaseService) writeOrder(uid string, app *models.App, product *models.Product, paymentMethod string, verdict *Verdict, rawToken string, meta map[string]interface{}) (*models.Order, error) {
	prefix := s.orderPrefix
	if app.OrderPrefix != "" {
		prefix = app.OrderPrefix
	}

	now := time.Now()
	var order *models.Order

	err := s.db.Transaction(func(tx *gorm.DB) error {
		orderRepo := repository.NewOrderRepository(tx)

		candidate := &models.Order{
			AppID:        app.AppID,
			UID:          uid,
			Amount:       product.Amount,
			Currency:     product.Currency,
			Status:       models.OrderStatusPaid,
			ProductAlias: product.Alias,
			Meta:         datatypes.JSONMap(meta),
			PaidAt:       &now,
		}

		// 时间戳+随机的组合基本不会撞号，但唯一约束冲突必须处理而不是假设不可能
		var createErr error
		for attempt := 0; attempt < orderNoMaxRetries; attempt++ {
			candidate.OrderNo = orderno.Generate(prefix)
			createErr = orderRepo.Create(candidate)
			if !errors.Is(createErr, gorm.ErrDuplicatedKey) {
				break
			}
			logging.Warnf("Order no collision, regenerating - attempt: %d, order_no: %s", attempt+1, candidate.OrderNo)
		}
		if createErr != nil {
			return fmt.Errorf("failed to create order: %w", createErr)
		}

		payment := &models.Payment{
			OrderNo:       candidate.OrderNo,
			PaymentMethod: paymentMethod,
			TransactionID: verdict.TransactionID,
			Amount:        product.Amount,
			Currency:      product.Currency,
			Environment:   verdict.Environment,
			PaidAt:        verdict.PurchaseAt,
			RawPayload:    datatypes.JSONMap(verdict.RawPayload),
		}
		if err := orderRepo.UpsertPayment(payment); err != nil {
			return fmt.Errorf("failed to upsert payment: %w", err)
		}

		tokenData := datatypes.JSONMap{
			"product_id":  verdict.ProductExternalID,
			"verified_at": now.Format(time.RFC3339),
		}
		if verdict.ExpiresAt != nil {
			tokenData["expires_at"] = verdict.ExpiresAt.Format(time.RFC3339)
		}
		tokenLog := &models.PayTokenLog{
			PaymentMethod: paymentMethod,
			TransactionID: verdict.TransactionID,
			RawToken:      truncateToken(rawToken),
			OrderNo:       candidate.OrderNo,
			TokenData:     tokenData,
		}
		if err := repository.NewTokenLogRepository(tx).Create(tokenLog); err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return errTxnReplayed
			}
			return fmt.Errorf("failed to create token log: %w", err)
		}

		order = candidate
		return nil
	})

	if err != nil {
		return nil, err
	}
	return order, nil
}

// truncateToken Apple 收据可达几十 KB，流水里只留前缀供排查
func truncateToken(token string) string {
	const max = 2048
	if len(token) > max {
		return token[:max]
	}
	return token
}
