package models

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/fleet_backend/config"
	"bitbucket.org/mmdatafocus/fleet_backend/utils"
	"github.com/google/uuid"
)

type Business struct {
	ID          uuid.UUID `gorm:"primary_key" json:"id"`
	Name        string    `gorm:"index;size:100;not null" json:"name" binding:"required"`
	ContactName string    `gorm:"size:100" json:"contact_name"`
	Email       string    `gorm:"size:255" json:"email"`
	Phone       string    `gorm:"size:20" json:"phone"`
	Address     string    `gorm:"type:text" json:"address"`
	Country     string    `gorm:"size:100" json:"country"`
	City        string    `gorm:"size:100" json:"city"`
	Timezone    string    `gorm:"size:50" json:"timezone"`
	IsActive    *bool     `gorm:"not null;default:true" json:"is_active"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// ListActiveBusinessIds returns every active tenant. Callers must pass a
// context with tenant scoping disabled; this is the one query that is
// legitimately cross-tenant (the scheduled alert dispatcher).
func ListActiveBusinessIds(ctx context.Context) ([]string, error) {
	db := config.GetDB()

	ctx = utils.SetSkipTenantScopeInContext(ctx, true)

	var ids []string
	if err := db.WithContext(ctx).Model(&Business{}).
		Where("is_active = ?", true).
		Order("created_at").
		Pluck("id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}
