package repository

import (
	"fulfillment-api/internal/models"

	"gorm.io/gorm"
)

// ProductRepository resolves products for purchase processing.
type ProductRepository interface {
	FindByAlias(appID, alias string) (*models.Product, error)
	// FindByStoreProductID maps a store-side product id (verdict's
	// productExternalId) back to the product row for the given app.
	FindByStoreProductID(appID, paymentMethod, storeProductID string) (*models.Product, error)
}

type productRepo struct {
	db *gorm.DB
}

func NewProductRepository(db *gorm.DB) ProductRepository {
	return &productRepo{db: db}
}

func (r *productRepo) FindByAlias(appID, alias string) (*models.Product, error) {
	var product models.Product
	err := r.db.Where("appid = ? AND alias = ? AND is_active = ?", appID, alias, true).
		First(&product).Error
	if err != nil {
		return nil, err
	}
	return &product, nil
}

func (r *productRepo) FindByStoreProductID(appID, paymentMethod, storeProductID string) (*models.Product, error) {
	column := "apple_product_id"
	if paymentMethod == models.PaymentMethodGoogleIAP {
		column = "google_product_id"
	}

	var product models.Product
	err := r.db.Where("appid = ? AND "+column+" = ? AND is_active = ?", appID, storeProductID, true).
		First(&product).Error
	if err != nil {
		return nil, err
	}
	return &product, nil
}
