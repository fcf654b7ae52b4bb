package models

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/fleet_backend/utils"
	"gorm.io/gorm"
)

// AuditLog is append-only. Rows are written inside the same transaction as
// the change they describe and are never updated or deleted by this backend.
type AuditLog struct {
	ID         int       `gorm:"primary_key" json:"id"`
	BusinessId string    `gorm:"size:64;not null;index" json:"business_id"`
	TableName  string    `gorm:"size:100;not null;index" json:"table_name"`
	RecordId   int       `gorm:"not null" json:"record_id"`
	Action     string    `gorm:"size:50;not null" json:"action"`
	UserId     int       `gorm:"not null;default:0" json:"user_id"`
	UserName   string    `gorm:"size:100" json:"user_name"`
	CallerIp   string    `gorm:"size:45" json:"caller_ip"`
	Payload    []byte    `gorm:"type:json" json:"payload"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// RecordAudit appends one audit row. Actor and caller IP come from the
// scoped context; system jobs run with user id 0 / "System".
func RecordAudit(ctx context.Context, tx *gorm.DB, tableName string, action string, recordId int, payload any) error {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return utils.ErrorBusinessIdRequired
	}

	userId, _ := utils.GetUserIdFromContext(ctx)
	userName, _ := utils.GetUserNameFromContext(ctx)
	callerIp, _ := utils.GetCallerIpFromContext(ctx)

	var payloadJSON []byte
	if payload != nil {
		s, err := utils.MarshalToJSON(payload)
		if err != nil {
			return err
		}
		payloadJSON = []byte(s)
	}

	entry := AuditLog{
		BusinessId: businessId,
		TableName:  tableName,
		RecordId:   recordId,
		Action:     action,
		UserId:     userId,
		UserName:   userName,
		CallerIp:   callerIp,
		Payload:    payloadJSON,
	}
	return tx.WithContext(ctx).Create(&entry).Error
}
