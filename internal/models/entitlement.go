package models

import (
	"time"
)

// Role 角色表，按 appid 命名空间隔离
// 同名 alias 在不同 app 下是不同角色，发货时严禁跨 app 解析
type Role struct {
	BaseModel
	AppID string `json:"appid" gorm:"not null;column:appid;uniqueIndex:uk_role_app_alias"`
	Alias string `json:"alias" gorm:"not null;size:64;uniqueIndex:uk_role_app_alias"`
	Name  string `json:"name" gorm:"size:128"`
}

// TableName 指定表名
func (Role) TableName() string {
	return "role"
}

// UserRole 用户角色权益
// 对给定 (uid, role_id) 至多一条存活记录；ExpiresAt 为 nil 表示永久
type UserRole struct {
	BaseModel
	UID       string     `json:"uid" gorm:"not null;size:64;column:uid;uniqueIndex:uk_user_role"`
	RoleID    uint       `json:"role_id" gorm:"not null;uniqueIndex:uk_user_role"`
	StartAt   time.Time  `json:"start_at"`
	ExpiresAt *time.Time `json:"expires_at" gorm:"index"`
}

// TableName 指定表名
func (UserRole) TableName() string {
	return "user_role"
}

// 资源权益默认动作
const DefaultActionURL = "get"

// UserResource 用户资源权益
// 对给定 (uid, resource_id, resource_type, permission_id, action_url) 至多一条存活记录
type UserResource struct {
	BaseModel
	UID          string     `json:"uid" gorm:"not null;size:64;column:uid;uniqueIndex:uk_user_resource"`
	ResourceID   string     `json:"resource_id" gorm:"not null;size:64;uniqueIndex:uk_user_resource"`
	ResourceType string     `json:"resource_type" gorm:"not null;size:32;uniqueIndex:uk_user_resource"`
	PermissionID string     `json:"permission_id" gorm:"size:64;uniqueIndex:uk_user_resource"`
	ActionURL    string     `json:"action_url" gorm:"size:64;default:'get';uniqueIndex:uk_user_resource"`
	StartAt      time.Time  `json:"start_at"`
	ExpiresAt    *time.Time `json:"expires_at" gorm:"index"`
}

// TableName 指定表名
func (UserResource) TableName() string {
	return "user_resource"
}
