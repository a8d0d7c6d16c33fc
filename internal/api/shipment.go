package api

import (
	"errors"
	"net/http"
	"time"

	"fulfillment-api/internal/database"
	"fulfillment-api/internal/repository"
	"fulfillment-api/internal/response"
	"fulfillment-api/internal/services"
	"fulfillment-api/pkg/logging"

	"github.com/gin-gonic/gin"
)

// ShipOrderRequest 外部通知触发的发货请求
type ShipOrderRequest struct {
	UID          string                 `json:"uid" binding:"required"`
	Product      string                 `json:"product" binding:"required"` // 商品别名
	OrderNo      string                 `json:"order_no" binding:"required"`
	ShippedAt    int64                  `json:"shipped_at"` // unix 秒，缺省为当前时间
	ShippingType string                 `json:"shipping_type"`
	Source       string                 `json:"source"`
	ShippingData map[string]interface{} `json:"shipping_data"`
}

// ShipOrderResponse 发货响应
type ShipOrderResponse struct {
	Success          bool   `json:"success"`
	LogID            string `json:"log_id"`
	RolesShipped     int    `json:"roles_shipped"`
	ResourcesShipped int    `json:"resources_shipped"`
	Error            string `json:"error,omitempty"`
}

// ShipOrder 对已支付订单执行发货（外部通知驱动）
func ShipOrder(c *gin.Context) {
	appID := c.GetString("appid")

	var req ShipOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorJSON(c, http.StatusBadRequest, "Invalid request: "+err.Error())
		return
	}

	shippedAt := time.Now()
	if req.ShippedAt > 0 {
		shippedAt = time.Unix(req.ShippedAt, 0)
	}

	logging.Infof("Shipping order - appid: %s, order_no: %s, product: %s, source: %s",
		appID, req.OrderNo, req.Product, req.Source)

	result, logID, err := shippingService.Ship(&services.ShipRequest{
		UID:          req.UID,
		AppID:        appID,
		ProductAlias: req.Product,
		OrderNo:      req.OrderNo,
		ShippedAt:    shippedAt,
		ShippingType: req.ShippingType,
		Source:       req.Source,
		ShippingData: req.ShippingData,
	})

	resp := ShipOrderResponse{
		Success:          result.Success,
		LogID:            logID,
		RolesShipped:     result.RolesShipped,
		ResourcesShipped: result.ResourcesShipped,
		Error:            result.ErrMessage,
	}

	if err != nil {
		if errors.Is(err, services.ErrOrderNotFound) {
			c.JSON(http.StatusNotFound, response.Response{Success: false, Message: err.Error(), Data: resp})
			return
		}
		c.JSON(http.StatusInternalServerError, response.Response{Success: false, Message: err.Error(), Data: resp})
		return
	}

	if !result.Success {
		c.JSON(http.StatusOK, response.Response{Success: false, Message: result.ErrMessage, Data: resp})
		return
	}
	response.SuccessJSON(c, resp)
}

// GetShipmentLog 按 log_id 查询发货日志，供调用方核对异步发货结果
func GetShipmentLog(c *gin.Context) {
	appID := c.GetString("appid")
	logID := c.Param("log_id")

	log, err := repository.NewShippingLogRepository(database.GetDB()).FindByLogID(logID)
	if err != nil || log.AppID != appID {
		// 不跨 app 泄露发货记录
		response.ErrorJSON(c, http.StatusNotFound, "Shipping log not found")
		return
	}
	response.SuccessJSON(c, log)
}
