package models

import (
	"encoding/json"
	"fmt"
	"strings"
)

// 权益有效期类型
const (
	ValidityDays    = "days"
	ValidityMonths  = "months"
	ValidityYears   = "years"
	ValidityForever = "forever"
)

// Validity 权益有效期
type Validity struct {
	Type  string `json:"type"`
	Value int    `json:"value,omitempty"`
}

// IsForever reports whether the validity never expires
func (v Validity) IsForever() bool {
	return v.Type == ValidityForever
}

// ResourceGrantConfig 单条资源权益配置
type ResourceGrantConfig struct {
	ResourceType string `json:"resource_type"`
	PermissionID string `json:"permission_id,omitempty"`
}

// ShippingConfig 商品发货配置（解析校验后的形式）
// roles 与 resource 至少为空是合法的：无权益商品发货为空操作
type ShippingConfig struct {
	Roles     []string              `json:"roles,omitempty"`
	Resources []ResourceGrantConfig `json:"resource,omitempty"`
	Validity  Validity              `json:"validity"`
}

// IsEmpty reports whether the config grants nothing
func (c *ShippingConfig) IsEmpty() bool {
	return len(c.Roles) == 0 && len(c.Resources) == 0
}

// ParseShippingConfig parses and validates a product shipping config.
// Malformed configs are rejected here, before any grant logic runs.
func ParseShippingConfig(raw string) (*ShippingConfig, error) {
	if strings.TrimSpace(raw) == "" {
		return &ShippingConfig{Validity: Validity{Type: ValidityForever}}, nil
	}

	var cfg ShippingConfig
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("invalid shipping config: %w", err)
	}

	if cfg.IsEmpty() {
		return &cfg, nil
	}

	switch cfg.Validity.Type {
	case ValidityDays, ValidityMonths, ValidityYears:
		if cfg.Validity.Value <= 0 {
			return nil, fmt.Errorf("invalid shipping config: validity value must be positive for type %q", cfg.Validity.Type)
		}
	case ValidityForever:
		// value ignored
	default:
		return nil, fmt.Errorf("invalid shipping config: unknown validity type %q", cfg.Validity.Type)
	}

	for i, r := range cfg.Resources {
		if strings.TrimSpace(r.ResourceType) == "" {
			return nil, fmt.Errorf("invalid shipping config: resource[%d] missing resource_type", i)
		}
	}

	return &cfg, nil
}
