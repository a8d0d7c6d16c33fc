package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"fulfillment-api/internal/models"

	"gorm.io/gorm"
)

func newTestPurchaseService(db *gorm.DB) *PurchaseService {
	shipping := NewShippingService(db, NewFulfillmentService(), 10*time.Millisecond, 100*time.Millisecond)
	ledger := NewIdempotencyLedger(db, nil)
	return NewPurchaseService(db, ledger, nil, nil, shipping, nil, nil, "T")
}

func seedPurchaseFixtures(t *testing.T, db *gorm.DB) (*models.App, *models.Product) {
	t.Helper()

	app := &models.App{AppID: "app1", AppName: "Test App", APIKey: "k1", IsActive: true, PackageName: "com.test.app"}
	if err := db.Create(app).Error; err != nil {
		t.Fatalf("seed app: %v", err)
	}

	product := &models.Product{
		AppID:           "app1",
		Alias:           "vip_month",
		Title:           "VIP Monthly",
		Amount:          600,
		Currency:        "CNY",
		GoogleProductID: "gp.vip.month",
		ShippingConfig:  `{"roles":["vip_month"],"validity":{"type":"months","value":1}}`,
		IsActive:        true,
	}
	if err := db.Create(product).Error; err != nil {
		t.Fatalf("seed product: %v", err)
	}

	seedRole(t, db, "app1", "vip_month")
	return app, product
}

func testVerdict(transactionID string) *Verdict {
	return &Verdict{
		Valid:             true,
		Environment:       EnvironmentProduction,
		TransactionID:     transactionID,
		ProductExternalID: "gp.vip.month",
		PurchaseAt:        time.Now().Truncate(time.Second),
		RawPayload:        map[string]interface{}{"orderId": transactionID},
	}
}

func TestProcessCreatesOrderAndFulfills(t *testing.T) {
	db := newTestDB(t)
	app, _ := seedPurchaseFixtures(t, db)
	svc := newTestPurchaseService(db)

	result, err := svc.process(context.Background(), "u1", app, models.PaymentMethodGoogleIAP,
		testVerdict("GPA.0001"), "tok-1", map[string]interface{}{"channel": "android"})
	if err != nil {
		t.Fatalf("process error: %v", err)
	}
	if result.OrderNo == "" || result.Duplicate {
		t.Fatalf("unexpected result: %+v", result)
	}
	if !result.Ship.Success || result.Ship.RolesShipped != 1 {
		t.Fatalf("unexpected ship result: %+v", result.Ship)
	}

	var order models.Order
	if err := db.Where("order_no = ?", result.OrderNo).First(&order).Error; err != nil {
		t.Fatalf("order not found: %v", err)
	}
	if order.Status != models.OrderStatusPaid || order.PaidAt == nil {
		t.Fatalf("expected paid order, got %+v", order)
	}

	var payment models.Payment
	if err := db.Where("order_no = ? AND transaction_id = ?", result.OrderNo, "GPA.0001").First(&payment).Error; err != nil {
		t.Fatalf("payment not found: %v", err)
	}

	var tokenLog models.PayTokenLog
	if err := db.Where("payment_method = ? AND transaction_id = ?", models.PaymentMethodGoogleIAP, "GPA.0001").First(&tokenLog).Error; err != nil {
		t.Fatalf("token log not found: %v", err)
	}
	if tokenLog.OrderNo != result.OrderNo {
		t.Fatalf("token log order mismatch: %s != %s", tokenLog.OrderNo, result.OrderNo)
	}

	var log models.ShippingLog
	if err := db.Where("order_no = ?", result.OrderNo).First(&log).Error; err != nil {
		t.Fatalf("shipping log not found: %v", err)
	}
	if log.Status != models.ShippingStatusSuccess {
		t.Fatalf("expected success shipping log, got %s", log.Status)
	}
}

func TestDuplicateNotificationShortCircuits(t *testing.T) {
	db := newTestDB(t)
	app, _ := seedPurchaseFixtures(t, db)
	svc := newTestPurchaseService(db)
	ctx := context.Background()
	verdict := testVerdict("GPA.0002")

	first, err := svc.process(ctx, "u1", app, models.PaymentMethodGoogleIAP, verdict, "tok", nil)
	if err != nil {
		t.Fatalf("first process error: %v", err)
	}

	second, err := svc.process(ctx, "u1", app, models.PaymentMethodGoogleIAP, verdict, "tok", nil)
	if err != nil {
		t.Fatalf("second process error: %v", err)
	}
	if !second.Duplicate {
		t.Fatalf("expected duplicate result, got %+v", second)
	}
	if second.OrderNo != first.OrderNo {
		t.Fatalf("duplicate returned different order: %s != %s", second.OrderNo, first.OrderNo)
	}

	var orderCount, paymentCount, grantCount int64
	db.Model(&models.Order{}).Count(&orderCount)
	db.Model(&models.Payment{}).Count(&paymentCount)
	db.Model(&models.UserRole{}).Count(&grantCount)
	if orderCount != 1 || paymentCount != 1 || grantCount != 1 {
		t.Fatalf("duplicate produced new rows: orders=%d payments=%d grants=%d", orderCount, paymentCount, grantCount)
	}
}

func TestWriteOrderDetectsTokenLogConflict(t *testing.T) {
	db := newTestDB(t)
	app, product := seedPurchaseFixtures(t, db)
	svc := newTestPurchaseService(db)

	prior := &models.PayTokenLog{
		PaymentMethod: models.PaymentMethodGoogleIAP,
		TransactionID: "GPA.0003",
		OrderNo:       "T-PRIOR",
	}
	if err := db.Create(prior).Error; err != nil {
		t.Fatalf("seed token log: %v", err)
	}

	_, err := svc.writeOrder("u1", app, product, models.PaymentMethodGoogleIAP, testVerdict("GPA.0003"), "tok", nil)
	if !errors.Is(err, errTxnReplayed) {
		t.Fatalf("expected errTxnReplayed, got %v", err)
	}

	// 冲突事务整体回滚，不能留下半个订单
	var orderCount int64
	db.Model(&models.Order{}).Count(&orderCount)
	if orderCount != 0 {
		t.Fatalf("conflicting transaction leaked %d orders", orderCount)
	}
}

// 同一笔交易两条通知并发到达，只允许产生一个订单和一次权益发放
func TestConcurrentDuplicateNotifications(t *testing.T) {
	db := newTestDB(t)
	app, _ := seedPurchaseFixtures(t, db)
	svc := newTestPurchaseService(db)

	var wg sync.WaitGroup
	results := make([]*PurchaseResult, 2)
	errs := make([]error, 2)

	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = svc.process(context.Background(), "u1", app,
				models.PaymentMethodGoogleIAP, testVerdict("GPA.1111"), "tok", nil)
		}(i)
	}
	wg.Wait()

	for i := 0; i < 2; i++ {
		if errs[i] != nil {
			t.Fatalf("notification %d failed: %v", i, errs[i])
		}
	}
	if results[0].OrderNo != results[1].OrderNo {
		t.Fatalf("notifications produced different orders: %s != %s", results[0].OrderNo, results[1].OrderNo)
	}

	var orderCount, grantCount int64
	db.Model(&models.Order{}).Count(&orderCount)
	db.Model(&models.UserRole{}).Count(&grantCount)
	if orderCount != 1 {
		t.Fatalf("expected exactly one order, got %d", orderCount)
	}
	if grantCount != 1 {
		t.Fatalf("expected exactly one grant, got %d", grantCount)
	}
}

func TestFulfillmentFailureLeavesOrderPaid(t *testing.T) {
	db := newTestDB(t)
	app, _ := seedPurchaseFixtures(t, db)
	svc := newTestPurchaseService(db)

	// 商品配置引用不存在的角色别名，发货必然失败
	broken := &models.Product{
		AppID:           "app1",
		Alias:           "broken",
		Amount:          100,
		Currency:        "CNY",
		GoogleProductID: "gp.broken",
		ShippingConfig:  `{"roles":["nonexistent_role"],"validity":{"type":"days","value":7}}`,
		IsActive:        true,
	}
	if err := db.Create(broken).Error; err != nil {
		t.Fatalf("seed product: %v", err)
	}

	verdict := testVerdict("GPA.0004")
	verdict.ProductExternalID = "gp.broken"

	result, err := svc.process(context.Background(), "u1", app, models.PaymentMethodGoogleIAP, verdict, "tok", nil)
	if err != nil {
		t.Fatalf("process error: %v", err)
	}
	if result.Ship.Success {
		t.Fatalf("expected fulfillment failure, got %+v", result.Ship)
	}
	if result.OrderNo == "" {
		t.Fatalf("expected order no despite fulfillment failure")
	}

	var order models.Order
	if err := db.Where("order_no = ?", result.OrderNo).First(&order).Error; err != nil {
		t.Fatalf("order not found: %v", err)
	}
	if order.Status != models.OrderStatusPaid {
		t.Fatalf("fulfillment failure must not touch order status, got %s", order.Status)
	}

	var log models.ShippingLog
	if err := db.Where("order_no = ?", result.OrderNo).First(&log).Error; err != nil {
		t.Fatalf("shipping log not found: %v", err)
	}
	if log.Status != models.ShippingStatusFailed || log.ErrorMessage == "" {
		t.Fatalf("expected failed shipping log with message, got %+v", log)
	}
}
