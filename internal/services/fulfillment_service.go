package services

import (
	"errors"
	"fmt"
	"time"

	"fulfillment-api/internal/models"
	"fulfillment-api/internal/repository"
	"fulfillment-api/pkg/logging"

	"gorm.io/gorm"
)

// ShipResult 发货结果：分类计数 + 失败信息
// 调用方据此决定整体业务结果是 success 还是"已支付但发货失败"
type ShipResult struct {
	Success          bool   `json:"success"`
	RolesShipped     int    `json:"roles_shipped"`
	ResourcesShipped int    `json:"resources_shipped"`
	ErrMessage       string `json:"err_message,omitempty"`
}

// FulfillmentService grants or extends time-bounded entitlements for a user
// according to a product's shipping config. Grants never shorten: the merge
// rule below only extends, restarts after a lapse, or upgrades to permanent.
type FulfillmentService struct {
	nowFunc func() time.Time
}

// NewFulfillmentService creates a new fulfillment service
func NewFulfillmentService() *FulfillmentService {
	return &FulfillmentService{
		nowFunc: time.Now,
	}
}

// FulfillInTx runs Fulfill inside its own transaction on db.
// 发货失败只回滚权益写入，永远不影响已提交的订单/支付事务。
func (s *FulfillmentService) FulfillInTx(db *gorm.DB, uid, appID string, cfg *models.ShippingConfig, meta map[string]interface{}, shippedAt time.Time) ShipResult {
	var result ShipResult
	err := db.Transaction(func(tx *gorm.DB) error {
		var txErr error
		result, txErr = s.Fulfill(tx, uid, appID, cfg, meta, shippedAt)
		return txErr
	})
	if err != nil && result.ErrMessage == "" {
		result = ShipResult{ErrMessage: err.Error()}
	}
	return result
}

// Fulfill 在给定事务内执行一次发货。
// 返回 error 非 nil 表示本次发货的事务应整体回滚（计数归零），
// 订单事务的提交与否由调用方独立决定。
func (s *FulfillmentService) Fulfill(tx *gorm.DB, uid, appID string, cfg *models.ShippingConfig, meta map[string]interface{}, shippedAt time.Time) (ShipResult, error) {
	return s.fulfill(repository.NewEntitlementRepository(tx), uid, appID, cfg, meta, shippedAt)
}

func (s *FulfillmentService) fulfill(repo repository.EntitlementRepository, uid, appID string, cfg *models.ShippingConfig, meta map[string]interface{}, shippedAt time.Time) (ShipResult, error) {
	// 无权益商品发货为空操作，不是错误
	if cfg == nil || cfg.IsEmpty() {
		return ShipResult{Success: true}, nil
	}

	// 先解析全部前置条件，再落任何一行：别名解析失败或缺少作品标识时
	// 与"部分已发"区分开，计数如实为零
	var roles []models.Role
	if len(cfg.Roles) > 0 {
		resolved, err := repo.ResolveRoles(appID, cfg.Roles)
		if err != nil {
			return ShipResult{ErrMessage: "failed to resolve roles: " + err.Error()}, err
		}
		if len(resolved) == 0 {
			err := fmt.Errorf("none of the role aliases %v resolved for app %s", cfg.Roles, appID)
			return ShipResult{ErrMessage: err.Error()}, err
		}
		if len(resolved) < len(cfg.Roles) {
			logging.Warnf("Partial role alias resolution - appid: %s, want: %v, resolved: %d", appID, cfg.Roles, len(resolved))
		}
		roles = resolved
	}

	worksID := ""
	if len(cfg.Resources) > 0 {
		worksID = extractWorksID(meta)
		if worksID == "" {
			err := errors.New("resource grants configured but no works id found in trace_metadata")
			return ShipResult{ErrMessage: err.Error()}, err
		}
	}

	result := ShipResult{}

	for _, role := range roles {
		if err := s.grantRole(repo, uid, role.ID, cfg.Validity, shippedAt); err != nil {
			// 事务整体回滚，计数不能声称已发放
			return ShipResult{ErrMessage: fmt.Sprintf("failed to grant role %s: %v", role.Alias, err)}, err
		}
		result.RolesShipped++
	}

	for _, rc := range cfg.Resources {
		if err := s.grantResource(repo, uid, worksID, rc, cfg.Validity, shippedAt); err != nil {
			return ShipResult{ErrMessage: fmt.Sprintf("failed to grant resource %s/%s: %v", rc.ResourceType, worksID, err)}, err
		}
		result.ResourcesShipped++
	}

	result.Success = true
	return result, nil
}

func (s *FulfillmentService) grantRole(repo repository.EntitlementRepository, uid string, roleID uint, validity models.Validity, shippedAt time.Time) error {
	existing, err := repo.FindUserRole(uid, roleID)
	if err != nil {
		return err
	}

	if existing == nil {
		grant := &models.UserRole{
			UID:       uid,
			RoleID:    roleID,
			StartAt:   shippedAt,
			ExpiresAt: computeExpiry(validity, shippedAt),
		}
		inserted, err := repo.CreateUserRole(grant)
		if err != nil {
			return err
		}
		if inserted {
			return nil
		}
		// 并发插入撞了唯一索引，退回按更新处理
		existing, err = repo.FindUserRole(uid, roleID)
		if err != nil {
			return err
		}
		if existing == nil {
			return gorm.ErrRecordNotFound
		}
	}

	expiresAt, changed := s.mergeExpiry(validity, existing.ExpiresAt, shippedAt)
	if !changed {
		return nil
	}
	return repo.UpdateUserRoleExpiry(existing.ID, expiresAt)
}

func (s *FulfillmentService) grantResource(repo repository.EntitlementRepository, uid, worksID string, rc models.ResourceGrantConfig, validity models.Validity, shippedAt time.Time) error {
	existing, err := repo.FindUserResource(uid, worksID, rc.ResourceType, rc.PermissionID, models.DefaultActionURL)
	if err != nil {
		return err
	}

	if existing == nil {
		grant := &models.UserResource{
			UID:          uid,
			ResourceID:   worksID,
			ResourceType: rc.ResourceType,
			PermissionID: rc.PermissionID,
			ActionURL:    models.DefaultActionURL,
			StartAt:      shippedAt,
			ExpiresAt:    computeExpiry(validity, shippedAt),
		}
		inserted, err := repo.CreateUserResource(grant)
		if err != nil {
			return err
		}
		if inserted {
			return nil
		}
		existing, err = repo.FindUserResource(uid, worksID, rc.ResourceType, rc.PermissionID, models.DefaultActionURL)
		if err != nil {
			return err
		}
		if existing == nil {
			return gorm.ErrRecordNotFound
		}
	}

	expiresAt, changed := s.mergeExpiry(validity, existing.ExpiresAt, shippedAt)
	if !changed {
		return nil
	}
	return repo.UpdateUserResourceExpiry(existing.ID, expiresAt)
}

// mergeExpiry 合并规则：
//   - 新授予为永久 -> 一律升为永久（永久压过任何固定期限）
//   - 已有为永久  -> 不动（永不降级）
//   - 已有未过期  -> 从现有过期时间起顺延（连续购买叠加，剩余时长不丢）
//   - 已有已过期  -> max(从发货时间重算的新期限, 原过期时间)
//
// "是否过期"按当前墙钟判断，重算起点用发货时间，webhook 延迟不会吃掉用户时长
func (s *FulfillmentService) mergeExpiry(validity models.Validity, existing *time.Time, shippedAt time.Time) (*time.Time, bool) {
	if validity.IsForever() {
		if existing == nil {
			return nil, false
		}
		return nil, true
	}
	if existing == nil {
		return nil, false
	}

	now := s.nowFunc()
	if existing.After(now) {
		return computeExpiry(validity, *existing), true
	}

	fresh := computeExpiry(validity, shippedAt)
	if fresh != nil && fresh.After(*existing) {
		return fresh, true
	}
	return existing, false
}

// computeExpiry 按有效期配置从基准时间推算过期时间，永久返回 nil
func computeExpiry(validity models.Validity, from time.Time) *time.Time {
	if validity.IsForever() {
		return nil
	}
	var t time.Time
	switch validity.Type {
	case models.ValidityDays:
		t = from.AddDate(0, 0, validity.Value)
	case models.ValidityMonths:
		t = from.AddDate(0, validity.Value, 0)
	case models.ValidityYears:
		t = from.AddDate(validity.Value, 0, 0)
	default:
		// ParseShippingConfig 已挡掉未知类型，这里兜底按永久处理
		return nil
	}
	return &t
}

// extractWorksID 从透传 meta 的 trace_metadata 里取作品标识。
// 历史上两个字段名都在用，都接受。
func extractWorksID(meta map[string]interface{}) string {
	if meta == nil {
		return ""
	}
	trace, ok := meta["trace_metadata"].(map[string]interface{})
	if !ok {
		return ""
	}
	for _, key := range []string{"works_id", "workId"} {
		switch v := trace[key].(type) {
		case string:
			if v != "" {
				return v
			}
		case float64:
			return fmt.Sprintf("%.0f", v)
		}
	}
	return ""
}
