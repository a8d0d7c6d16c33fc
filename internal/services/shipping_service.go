package services

import (
	"errors"
	"fmt"
	"time"

	"fulfillment-api/internal/models"
	"fulfillment-api/internal/repository"
	"fulfillment-api/pkg/logging"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ErrOrderNotFound 有界轮询到期后订单仍不可见
var ErrOrderNotFound = errors.New("order not found")

// ShipRequest 外部通知触发的发货请求
type ShipRequest struct {
	UID          string                 `json:"uid"`
	AppID        string                 `json:"appid"`
	ProductAlias string                 `json:"product"`
	OrderNo      string                 `json:"order_no"`
	ShippedAt    time.Time              `json:"shipped_at"`
	ShippingType string                 `json:"shipping_type"`
	Source       string                 `json:"source"`
	ShippingData map[string]interface{} `json:"shipping_data"`
}

// ShippingService runs the fulfillment engine with a shipment audit row
// around every attempt: pending before, success/failed after, regardless of
// outcome.
type ShippingService struct {
	db           *gorm.DB
	fulfillment  *FulfillmentService
	pollInterval time.Duration
	pollTimeout  time.Duration
}

// NewShippingService creates a new shipping service
func NewShippingService(db *gorm.DB, fulfillment *FulfillmentService, pollInterval, pollTimeout time.Duration) *ShippingService {
	return &ShippingService{
		db:           db,
		fulfillment:  fulfillment,
		pollInterval: pollInterval,
		pollTimeout:  pollTimeout,
	}
}

// Ship handles an externally-notified shipment against an already-paid order.
// "支付成功"通知可能先于上游遗留系统的"订单创建"通知到达，
// 所以按固定间隔轮询订单可见性，有硬上限，超时即终止报错。
// pending 审计行在轮询之前写入：订单查不到时这条日志也必须存在。
func (s *ShippingService) Ship(req *ShipRequest) (ShipResult, string, error) {
	logID := s.createPendingLog(req.OrderNo, req.UID, req.AppID, req.ShippingType, req.Source, req.ShippingData, req.ShippedAt)

	order, err := s.waitForOrder(req.OrderNo)
	if err != nil {
		s.finishLog(logID, ShipResult{ErrMessage: err.Error()})
		return ShipResult{ErrMessage: err.Error()}, logID, err
	}

	// 上游遗留下单流程只落 created 状态，支付通知到达即迁移到 paid
	if order.Status == models.OrderStatusCreated {
		if err := repository.NewOrderRepository(s.db).MarkPaid(order.OrderNo, req.ShippedAt); err != nil {
			logging.Warnf("Failed to mark order paid - order_no: %s, error: %v", order.OrderNo, err)
		} else {
			order.Status = models.OrderStatusPaid
		}
	}

	product, err := repository.NewProductRepository(s.db).FindByAlias(req.AppID, req.ProductAlias)
	if err != nil {
		msg := fmt.Sprintf("product %q not found for app %s", req.ProductAlias, req.AppID)
		s.finishLog(logID, ShipResult{ErrMessage: msg})
		return ShipResult{ErrMessage: msg}, logID, fmt.Errorf("%s: %w", msg, err)
	}

	cfg, err := models.ParseShippingConfig(product.ShippingConfig)
	if err != nil {
		s.finishLog(logID, ShipResult{ErrMessage: err.Error()})
		return ShipResult{ErrMessage: err.Error()}, logID, err
	}

	meta := map[string]interface{}(order.Meta)
	if req.ShippingData != nil {
		// 通知里的 shipping_data 可以补充订单 meta（比如作品标识）
		merged := make(map[string]interface{}, len(meta)+len(req.ShippingData))
		for k, v := range meta {
			merged[k] = v
		}
		for k, v := range req.ShippingData {
			merged[k] = v
		}
		meta = merged
	}

	result := s.fulfillment.FulfillInTx(s.db, req.UID, req.AppID, cfg, meta, req.ShippedAt)
	s.finishLog(logID, result)
	return result, logID, nil
}

// RunWithAudit 发货 + 审计日志包装，供购买流水线在订单提交后调用
func (s *ShippingService) RunWithAudit(orderNo, uid, appID string, cfg *models.ShippingConfig, meta map[string]interface{}, shippingType, source string, shippedAt time.Time) (ShipResult, string) {
	shippingData := map[string]interface{}{}
	for k, v := range meta {
		shippingData[k] = v
	}
	logID := s.createPendingLog(orderNo, uid, appID, shippingType, source, shippingData, shippedAt)
	result := s.fulfillment.FulfillInTx(s.db, uid, appID, cfg, meta, shippedAt)
	s.finishLog(logID, result)
	return result, logID
}

// createPendingLog 在发货引擎运行前落 pending 行，中途崩溃也有迹可查。
// 日志写失败只记录，不阻断发货。
func (s *ShippingService) createPendingLog(orderNo, uid, appID, shippingType, source string, shippingData map[string]interface{}, shippedAt time.Time) string {
	logID := uuid.NewString()
	log := &models.ShippingLog{
		LogID:        logID,
		OrderNo:      orderNo,
		UID:          uid,
		AppID:        appID,
		Status:       models.ShippingStatusPending,
		ShippingType: shippingType,
		Source:       source,
		ShippingData: datatypes.JSONMap(shippingData),
		ShippedAt:    shippedAt,
	}
	if err := repository.NewShippingLogRepository(s.db).Create(log); err != nil {
		logging.Errorf("Failed to create shipping log - order_no: %s, error: %v", orderNo, err)
	}
	return logID
}

func (s *ShippingService) finishLog(logID string, result ShipResult) {
	status := models.ShippingStatusSuccess
	if !result.Success {
		status = models.ShippingStatusFailed
	}
	resultData := map[string]interface{}{
		"success":           result.Success,
		"roles_shipped":     result.RolesShipped,
		"resources_shipped": result.ResourcesShipped,
	}
	if err := repository.NewShippingLogRepository(s.db).UpdateResult(logID, status, result.ErrMessage, resultData); err != nil {
		logging.Errorf("Failed to update shipping log - log_id: %s, error: %v", logID, err)
	}
}

// waitForOrder 固定间隔轮询订单可见性，到硬上限为止
func (s *ShippingService) waitForOrder(orderNo string) (*models.Order, error) {
	repo := repository.NewOrderRepository(s.db)
	deadline := time.Now().Add(s.pollTimeout)

	for {
		order, err := repo.FindByOrderNo(orderNo)
		if err == nil {
			return order, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("%w: %s after %s", ErrOrderNotFound, orderNo, s.pollTimeout)
		}
		time.Sleep(s.pollInterval)
	}
}
