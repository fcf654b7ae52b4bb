package models

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/fleet_backend/utils"
	"gorm.io/gorm"
)

// DocumentOverrideStatus is an optional manual status set by back-office
// staff. It only applies when the document is neither expired nor inside an
// alert window; expiry always wins.
type DocumentOverrideStatus string

const (
	DocumentOverrideNone          DocumentOverrideStatus = ""
	DocumentOverridePendingReview DocumentOverrideStatus = "pending_review"
	DocumentOverrideMissing       DocumentOverrideStatus = "missing"
)

type ComplianceDocument struct {
	ID          int                    `gorm:"primary_key" json:"id"`
	BusinessId  string                 `gorm:"size:64;not null;index" json:"business_id"`
	DriverId    int                    `gorm:"not null;index" json:"driver_id"`
	DocType     string                 `gorm:"size:100;not null" json:"doc_type" binding:"required"`
	DocumentUrl string                 `json:"document_url"`
	ExpiresAt   time.Time              `gorm:"not null;index" json:"expires_at"`
	Status      DocumentOverrideStatus `gorm:"type:enum('','pending_review','missing');default:''" json:"status"`
	IsDeleted   bool                   `gorm:"not null;default:false;index" json:"is_deleted"`
	CreatedAt   time.Time              `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time              `gorm:"autoUpdateTime" json:"updated_at"`
}

func normalizeDocuments(docs []*ComplianceDocument) {
	for _, d := range docs {
		d.DocType = utils.NormalizeDocType(d.DocType)
	}
}

// ListDriverDocuments returns one driver's non-deleted documents.
func ListDriverDocuments(ctx context.Context, db *gorm.DB, driverId int) ([]*ComplianceDocument, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, utils.ErrorBusinessIdRequired
	}

	var docs []*ComplianceDocument
	if err := db.WithContext(ctx).
		Where("business_id = ? AND driver_id = ? AND is_deleted = ?", businessId, driverId, false).
		Order("id").
		Find(&docs).Error; err != nil {
		return nil, err
	}
	normalizeDocuments(docs)
	return docs, nil
}

// ListDriversDocuments fetches the documents of many drivers in a single
// query. Batch evaluation depends on this staying one round trip.
func ListDriversDocuments(ctx context.Context, db *gorm.DB, driverIds []int) ([]*ComplianceDocument, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, utils.ErrorBusinessIdRequired
	}
	if len(driverIds) == 0 {
		return nil, nil
	}

	var docs []*ComplianceDocument
	if err := db.WithContext(ctx).
		Where("business_id = ? AND driver_id IN ? AND is_deleted = ?", businessId, utils.UniqueSlice(driverIds), false).
		Order("id").
		Find(&docs).Error; err != nil {
		return nil, err
	}
	normalizeDocuments(docs)
	return docs, nil
}

// ListActiveDocuments returns every non-deleted document in the business.
// The alert generator scans these directly rather than going through driver
// evaluations, so documents of recently deactivated drivers still alert.
func ListActiveDocuments(ctx context.Context, db *gorm.DB) ([]*ComplianceDocument, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, utils.ErrorBusinessIdRequired
	}

	var docs []*ComplianceDocument
	if err := db.WithContext(ctx).
		Where("business_id = ? AND is_deleted = ?", businessId, false).
		Order("id").
		Find(&docs).Error; err != nil {
		return nil, err
	}
	normalizeDocuments(docs)
	return docs, nil
}
