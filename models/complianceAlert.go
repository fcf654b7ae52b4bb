package models

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/fleet_backend/utils"
	gomysql "github.com/go-sql-driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// MySQL ER_DUP_ENTRY
const mysqlErrDuplicateEntry = 1062

type AlertType string

const (
	AlertTypeExpiring AlertType = "expiring"
	AlertTypeExpired  AlertType = "expired"
)

// ComplianceAlert is the persisted record of one emitted alert. The unique
// index on (business_id, dedupe_key) is what makes alert emission at most
// once: concurrent runs race on the insert, not on a read-then-write.
type ComplianceAlert struct {
	ID              int       `gorm:"primary_key" json:"id"`
	BusinessId      string    `gorm:"size:64;not null;uniqueIndex:idx_alert_dedupe,priority:1" json:"business_id"`
	DriverId        int       `gorm:"not null;index" json:"driver_id"`
	DocumentId      int       `gorm:"not null;index" json:"document_id"`
	AlertType       AlertType `gorm:"type:enum('expiring','expired');not null" json:"alert_type"`
	AlertWindowDays int       `gorm:"not null;default:0" json:"alert_window_days"`
	SentAt          time.Time `gorm:"not null" json:"sent_at"`
	Channel         string    `gorm:"size:50;not null" json:"channel"`
	DedupeKey       string    `gorm:"size:191;not null;uniqueIndex:idx_alert_dedupe,priority:2" json:"dedupe_key"`
	CreatedAt       time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// AlertDedupeKey builds the composite key that allows at most one alert per
// (driver, document, alert type, window), ever.
func AlertDedupeKey(driverId, documentId int, alertType AlertType, alertWindowDays int) string {
	return fmt.Sprintf("%d:%d:%s:%d", driverId, documentId, alertType, alertWindowDays)
}

// TryRecordAlert inserts the alert if no alert with the same dedupe key
// exists yet. Returns true when this call claimed the key. Insert-if-absent
// against the unique index, so two overlapping runs cannot both claim it.
func TryRecordAlert(ctx context.Context, tx *gorm.DB, alert *ComplianceAlert) (bool, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return false, utils.ErrorBusinessIdRequired
	}
	alert.BusinessId = businessId

	res := tx.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(alert)
	if res.Error != nil {
		// Losing the race surfaces as a duplicate-key error on some driver
		// versions instead of zero rows affected; both mean "not claimed".
		var mysqlErr *gomysql.MySQLError
		if errors.As(res.Error, &mysqlErr) && mysqlErr.Number == mysqlErrDuplicateEntry {
			return false, nil
		}
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// CountAlerts reports how many alerts the business has recorded, optionally
// since a point in time. Surfaced on the compliance summary.
func CountAlerts(ctx context.Context, tx *gorm.DB, since *time.Time) (int64, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return 0, utils.ErrorBusinessIdRequired
	}

	q := tx.WithContext(ctx).Model(&ComplianceAlert{}).Where("business_id = ?", businessId)
	if since != nil {
		q = q.Where("sent_at >= ?", *since)
	}
	var count int64
	if err := q.Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}
