package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/fleet_backend/config"
	"bitbucket.org/mmdatafocus/fleet_backend/utils"
	"gorm.io/gorm"
)

// MaxDriversPerEvaluation bounds tenant-wide evaluation runs so one very
// large fleet cannot hold a request open indefinitely.
const MaxDriversPerEvaluation = 1000

type Driver struct {
	ID         int       `gorm:"primary_key" json:"id"`
	BusinessId string    `gorm:"size:64;not null;index" json:"business_id"`
	Name       string    `gorm:"size:100;not null" json:"name" binding:"required"`
	Role       string    `gorm:"size:50;not null;default:'driver'" json:"role"`
	Email      string    `gorm:"size:255" json:"email"`
	Phone      string    `gorm:"size:20" json:"phone"`
	LicenseNo  string    `gorm:"size:50" json:"license_no"`
	IsDeleted  bool      `gorm:"not null;default:false;index" json:"is_deleted"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func GetDriver(ctx context.Context, id int) (*Driver, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, utils.ErrorBusinessIdRequired
	}

	db := config.GetDB()
	var driver Driver
	if err := db.WithContext(ctx).
		Where("business_id = ? AND id = ? AND is_deleted = ?", businessId, id, false).
		First(&driver).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &driver, nil
}

// ListActiveDriverIds returns the ids of all non-deleted drivers for the
// request's business, bounded by MaxDriversPerEvaluation.
func ListActiveDriverIds(ctx context.Context) ([]int, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, utils.ErrorBusinessIdRequired
	}

	db := config.GetDB()
	var ids []int
	if err := db.WithContext(ctx).Model(&Driver{}).
		Where("business_id = ? AND is_deleted = ?", businessId, false).
		Order("id").
		Limit(MaxDriversPerEvaluation).
		Pluck("id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

// ListDriversByIds fetches the named drivers in one query (non-deleted only).
func ListDriversByIds(ctx context.Context, ids []int) ([]*Driver, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, utils.ErrorBusinessIdRequired
	}
	if len(ids) == 0 {
		return nil, nil
	}

	db := config.GetDB()
	var drivers []*Driver
	if err := db.WithContext(ctx).
		Where("business_id = ? AND id IN ? AND is_deleted = ?", businessId, utils.UniqueSlice(ids), false).
		Order("id").
		Find(&drivers).Error; err != nil {
		return nil, err
	}
	return drivers, nil
}
