package repository

import (
	"fulfillment-api/internal/models"

	"gorm.io/gorm"
)

// AppRepository resolves registered applications.
// app 一律来自已认证的请求上下文（JWT appid / api key），
// 不提供按商店标识反查，避免把一个 app 的凭证挂到另一个 app 上
type AppRepository interface {
	FindByAppID(appID string) (*models.App, error)
}

type appRepo struct {
	db *gorm.DB
}

func NewAppRepository(db *gorm.DB) AppRepository {
	return &appRepo{db: db}
}

func (r *appRepo) FindByAppID(appID string) (*models.App, error) {
	var app models.App
	if err := r.db.Where("appid = ? AND is_active = ?", appID, true).First(&app).Error; err != nil {
		return nil, err
	}
	return &app, nil
}
