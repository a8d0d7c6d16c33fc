package services

import (
	"fmt"

	"fulfillment-api/internal/database"
	"fulfillment-api/internal/models"
	"fulfillment-api/internal/repository"
)

// AppService provides app lookup operations
type AppService struct {
	repo repository.AppRepository
}

// NewAppService creates a new app service
func NewAppService() *AppService {
	return &AppService{
		repo: repository.NewAppRepository(database.GetDB()),
	}
}

// GetAppByID gets app by appid
func (s *AppService) GetAppByID(appID string) (*models.App, error) {
	app, err := s.repo.FindByAppID(appID)
	if err != nil {
		return nil, fmt.Errorf("app %q not found: %w", appID, err)
	}
	return app, nil
}

// ValidateApp validates appid and API key
func (s *AppService) ValidateApp(appID, apiKey string) bool {
	app, err := s.repo.FindByAppID(appID)
	if err != nil {
		return false
	}
	return app.APIKey == apiKey && app.IsActive
}
