package api

import (
	"net/http"

	"fulfillment-api/internal/database"
	"fulfillment-api/internal/models"
	"fulfillment-api/internal/repository"
	"fulfillment-api/internal/response"

	"github.com/gin-gonic/gin"
)

// OrderDetail 订单详情（含发货记录）
type OrderDetail struct {
	Order        *models.Order        `json:"order"`
	ShippingLogs []models.ShippingLog `json:"shipping_logs"`
}

// GetOrder 查询订单及其发货记录，供对账使用
func GetOrder(c *gin.Context) {
	appID := c.GetString("appid")
	orderNo := c.Param("order_no")

	order, err := repository.NewOrderRepository(database.GetDB()).FindByOrderNo(orderNo)
	if err != nil {
		response.ErrorJSON(c, http.StatusNotFound, "Order not found")
		return
	}
	if order.AppID != appID {
		// 不跨 app 泄露订单
		response.ErrorJSON(c, http.StatusNotFound, "Order not found")
		return
	}

	var logs []models.ShippingLog
	database.GetDB().Where("order_no = ?", orderNo).Order("created_at DESC").Find(&logs)

	response.SuccessJSON(c, OrderDetail{Order: order, ShippingLogs: logs})
}
