package services

import (
	"path/filepath"
	"testing"

	"fulfillment-api/internal/models"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
)

// newTestDB opens an isolated sqlite database with the production schema.
// _busy_timeout 让并发写测试不撞 SQLITE_BUSY
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := "file:" + filepath.Join(t.TempDir(), "test.db") + "?_busy_timeout=5000"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
		NamingStrategy: schema.NamingStrategy{
			SingularTable: true,
		},
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	err = db.AutoMigrate(
		&models.App{},
		&models.Product{},
		&models.Order{},
		&models.Payment{},
		&models.PayTokenLog{},
		&models.Role{},
		&models.UserRole{},
		&models.UserResource{},
		&models.ShippingLog{},
	)
	if err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}

	return db
}

// seedRole 预置一个按 appid 隔离的角色
func seedRole(t *testing.T, db *gorm.DB, appID, alias string) models.Role {
	t.Helper()
	role := models.Role{AppID: appID, Alias: alias, Name: alias}
	if err := db.Create(&role).Error; err != nil {
		t.Fatalf("failed to seed role %s/%s: %v", appID, alias, err)
	}
	return role
}
