package api

import (
	"errors"
	"net/http"

	"fulfillment-api/internal/response"
	"fulfillment-api/internal/services"
	"fulfillment-api/pkg/logging"

	"github.com/gin-gonic/gin"
)

// ApplePurchaseRequest 验证 Apple 购买请求
type ApplePurchaseRequest struct {
	ReceiptData string                 `json:"receipt_data" binding:"required"` // base64 收据
	Meta        map[string]interface{} `json:"meta"`                            // 透传 trace/归因上下文
}

// GooglePurchaseRequest 验证 Google 购买请求
type GooglePurchaseRequest struct {
	ProductID     string                 `json:"product_id" binding:"required"`
	PurchaseToken string                 `json:"purchase_token" binding:"required"`
	Meta          map[string]interface{} `json:"meta"`
}

// ProcessApplePurchase 验证 Apple 收据并发货
func ProcessApplePurchase(c *gin.Context) {
	uid := c.GetString("uid")
	appID := c.GetString("appid")

	var req ApplePurchaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorJSON(c, http.StatusBadRequest, "Invalid request: "+err.Error())
		return
	}

	app, err := appService.GetAppByID(appID)
	if err != nil {
		response.ErrorJSON(c, http.StatusBadRequest, err.Error())
		return
	}

	logging.Infof("Processing Apple purchase - appid: %s, uid: %s", appID, uid)

	result, err := purchaseService.ProcessApplePurchase(c.Request.Context(), uid, app, req.ReceiptData, req.Meta)
	if err != nil {
		handlePurchaseError(c, err)
		return
	}

	renderPurchaseResult(c, result)
}

// ProcessGooglePurchase 验证 Google 购买并发货
func ProcessGooglePurchase(c *gin.Context) {
	uid := c.GetString("uid")
	appID := c.GetString("appid")

	var req GooglePurchaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorJSON(c, http.StatusBadRequest, "Invalid request: "+err.Error())
		return
	}

	app, err := appService.GetAppByID(appID)
	if err != nil {
		response.ErrorJSON(c, http.StatusBadRequest, err.Error())
		return
	}

	logging.Infof("Processing Google purchase - appid: %s, uid: %s, product: %s", appID, uid, req.ProductID)

	result, err := purchaseService.ProcessGooglePurchase(c.Request.Context(), uid, app, req.ProductID, req.PurchaseToken, req.Meta)
	if err != nil {
		handlePurchaseError(c, err)
		return
	}

	renderPurchaseResult(c, result)
}

// handlePurchaseError 按错误类别映射状态码：
// 配置缺失是服务端问题，商店验证被拒是该请求的终态
func handlePurchaseError(c *gin.Context, err error) {
	var missingCred *services.MissingCredentialError
	var appleErr *services.AppleVerificationError
	var googleErr *services.GoogleVerificationError

	switch {
	case errors.As(err, &missingCred):
		logging.Errorf("Store credential missing: %v", err)
		response.ErrorJSON(c, http.StatusInternalServerError, err.Error())
	case errors.As(err, &appleErr), errors.As(err, &googleErr):
		logging.Warnf("Store verification rejected: %v", err)
		response.ErrorJSON(c, http.StatusBadRequest, err.Error())
	default:
		logging.Errorf("Purchase processing failed: %v", err)
		response.ErrorJSON(c, http.StatusInternalServerError, err.Error())
	}
}

func renderPurchaseResult(c *gin.Context, result *services.PurchaseResult) {
	if !result.Ship.Success {
		// 订单已支付并落库，仅发货失败，等待对账；不能当成整体失败重试支付
		c.JSON(http.StatusOK, response.Response{
			Success: false,
			Message: "payment succeeded, fulfillment failed",
			Data:    result,
		})
		return
	}
	response.SuccessJSON(c, result)
}
