package repository

import (
	"fulfillment-api/internal/models"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ShippingLogRepository persists fulfillment audit rows.
type ShippingLogRepository interface {
	Create(log *models.ShippingLog) error
	FindByLogID(logID string) (*models.ShippingLog, error)
	// UpdateResult merges resultData into the existing shipping_data
	// (existing keys preserved) and sets the final status.
	UpdateResult(logID, status, errorMessage string, resultData map[string]interface{}) error
}

type shippingLogRepo struct {
	db *gorm.DB
}

func NewShippingLogRepository(db *gorm.DB) ShippingLogRepository {
	return &shippingLogRepo{db: db}
}

func (r *shippingLogRepo) Create(log *models.ShippingLog) error {
	return r.db.Create(log).Error
}

func (r *shippingLogRepo) FindByLogID(logID string) (*models.ShippingLog, error) {
	var log models.ShippingLog
	if err := r.db.Where("log_id = ?", logID).First(&log).Error; err != nil {
		return nil, err
	}
	return &log, nil
}

// UpdateResult 非破坏性合并：已有键保留，发货结果追加在 shipment_result 键下
func (r *shippingLogRepo) UpdateResult(logID, status, errorMessage string, resultData map[string]interface{}) error {
	var log models.ShippingLog
	if err := r.db.Where("log_id = ?", logID).First(&log).Error; err != nil {
		return err
	}

	data := log.ShippingData
	if data == nil {
		data = datatypes.JSONMap{}
	}
	if resultData != nil {
		data["shipment_result"] = resultData
	}

	return r.db.Model(&models.ShippingLog{}).Where("log_id = ?", logID).
		Updates(map[string]interface{}{
			"status":        status,
			"error_message": errorMessage,
			"shipping_data": data,
		}).Error
}
