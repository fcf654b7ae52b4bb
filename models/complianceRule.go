package models

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/fleet_backend/utils"
	"gorm.io/gorm"
)

// AlertWindowList is a JSON-encoded list of day offsets before expiry at
// which an "expiring" alert becomes eligible. Stored as a JSON column so a
// rule can carry any number of windows without a join table.
type AlertWindowList []int

func (a AlertWindowList) Value() (driver.Value, error) {
	if a == nil {
		return "[]", nil
	}
	s, err := utils.MarshalToJSON([]int(a))
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (a *AlertWindowList) Scan(value interface{}) error {
	if value == nil {
		*a = nil
		return nil
	}
	var raw []byte
	switch v := value.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into AlertWindowList", value)
	}
	if len(raw) == 0 {
		*a = nil
		return nil
	}
	return utils.UnmarshalFromJSON(raw, (*[]int)(a))
}

type ComplianceRule struct {
	ID           int             `gorm:"primary_key" json:"id"`
	BusinessId   string          `gorm:"size:64;not null;uniqueIndex:idx_rule_business_role_doc,priority:1" json:"business_id"`
	Role         string          `gorm:"size:50;not null;default:'driver';uniqueIndex:idx_rule_business_role_doc,priority:2" json:"role"`
	DocType      string          `gorm:"size:100;not null;uniqueIndex:idx_rule_business_role_doc,priority:3" json:"doc_type" binding:"required"`
	Required     bool            `gorm:"not null;default:false" json:"required"`
	GraceDays    int             `gorm:"not null;default:0" json:"grace_days" binding:"gte=0"`
	AlertWindows AlertWindowList `gorm:"type:json" json:"alert_windows"`
	CreatedAt    time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// MaxAlertWindow returns the largest configured window, 0 when none.
func (r *ComplianceRule) MaxAlertWindow() int {
	max := 0
	for _, w := range r.AlertWindows {
		if w > max {
			max = w
		}
	}
	return max
}

// ListComplianceRules returns the business's rules for one role, ordered by
// doc type. Doc types are normalized once here, at the data-access boundary,
// so every downstream comparison operates on canonical keys.
// The db handle is explicit so alert runs can read rules inside their own
// transaction; read-only callers pass config.GetDB().
func ListComplianceRules(ctx context.Context, db *gorm.DB, role string) ([]*ComplianceRule, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, utils.ErrorBusinessIdRequired
	}
	if role == "" {
		return nil, errors.New("role is required")
	}

	var rules []*ComplianceRule
	if err := db.WithContext(ctx).
		Where("business_id = ? AND role = ?", businessId, role).
		Order("doc_type").
		Find(&rules).Error; err != nil {
		return nil, err
	}

	for _, r := range rules {
		r.DocType = utils.NormalizeDocType(r.DocType)
	}
	return rules, nil
}
