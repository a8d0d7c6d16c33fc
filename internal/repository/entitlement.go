package repository

import (
	"errors"
	"time"

	"fulfillment-api/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// EntitlementRepository exposes the role/resource grant operations the
// fulfillment engine needs, scoped to one transaction handle.
// Create* 用 ON CONFLICT DO NOTHING 吸收唯一索引冲突：冲突不算错误，
// 也不会把 postgres 的当前事务置为 aborted，返回 false 即由调用方改走更新
type EntitlementRepository interface {
	ResolveRoles(appID string, aliases []string) ([]models.Role, error)
	FindUserRole(uid string, roleID uint) (*models.UserRole, error)
	CreateUserRole(grant *models.UserRole) (bool, error)
	UpdateUserRoleExpiry(id uint, expiresAt *time.Time) error
	FindUserResource(uid, resourceID, resourceType, permissionID, actionURL string) (*models.UserResource, error)
	CreateUserResource(grant *models.UserResource) (bool, error)
	UpdateUserResourceExpiry(id uint, expiresAt *time.Time) error
}

type entitlementRepo struct {
	db *gorm.DB
}

func NewEntitlementRepository(db *gorm.DB) EntitlementRepository {
	return &entitlementRepo{db: db}
}

// ResolveRoles 按 appid 命名空间解析角色别名；不存在的别名直接缺失，不报错，由调用方核对数量
func (r *entitlementRepo) ResolveRoles(appID string, aliases []string) ([]models.Role, error) {
	var roles []models.Role
	err := r.db.Where("appid = ? AND alias IN ?", appID, aliases).Find(&roles).Error
	return roles, err
}

func (r *entitlementRepo) FindUserRole(uid string, roleID uint) (*models.UserRole, error) {
	var grant models.UserRole
	err := r.db.Where("uid = ? AND role_id = ?", uid, roleID).First(&grant).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &grant, nil
}

func (r *entitlementRepo) CreateUserRole(grant *models.UserRole) (bool, error) {
	result := r.db.Clauses(clause.OnConflict{DoNothing: true}).Create(grant)
	return result.RowsAffected > 0, result.Error
}

// UpdateUserRoleExpiry 仅更新过期时间；expiresAt 传 nil 即置为永久
func (r *entitlementRepo) UpdateUserRoleExpiry(id uint, expiresAt *time.Time) error {
	return r.db.Model(&models.UserRole{}).Where("id = ?", id).
		Update("expires_at", expiresAt).Error
}

func (r *entitlementRepo) FindUserResource(uid, resourceID, resourceType, permissionID, actionURL string) (*models.UserResource, error) {
	var grant models.UserResource
	err := r.db.Where(
		"uid = ? AND resource_id = ? AND resource_type = ? AND permission_id = ? AND action_url = ?",
		uid, resourceID, resourceType, permissionID, actionURL,
	).First(&grant).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &grant, nil
}

func (r *entitlementRepo) CreateUserResource(grant *models.UserResource) (bool, error) {
	result := r.db.Clauses(clause.OnConflict{DoNothing: true}).Create(grant)
	return result.RowsAffected > 0, result.Error
}

func (r *entitlementRepo) UpdateUserResourceExpiry(id uint, expiresAt *time.Time) error {
	return r.db.Model(&models.UserResource{}).Where("id = ?", id).
		Update("expires_at", expiresAt).Error
}
