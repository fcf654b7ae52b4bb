package compliance

import (
	"context"

	"bitbucket.org/mmdatafocus/fleet_backend/config"
	"bitbucket.org/mmdatafocus/fleet_backend/utils"
	"github.com/sirupsen/logrus"
)

// Notifier hands an alert decision to the delivery pipeline. How the alert
// reaches the driver (email/SMS/push) is the notification service's problem;
// this backend only publishes that and what to send.
type Notifier interface {
	Channel() string
	Notify(ctx context.Context, c AlertCandidate) error
}

// PubSubNotifier publishes alert decisions to the configured Pub/Sub topic.
type PubSubNotifier struct{}

func (PubSubNotifier) Channel() string { return "pubsub" }

func (PubSubNotifier) Notify(ctx context.Context, c AlertCandidate) error {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return utils.ErrorBusinessIdRequired
	}
	correlationId, _ := utils.GetCorrelationIdFromContext(ctx)

	_, err := config.PublishAlertMessage(ctx, config.AlertMessage{
		BusinessId:      businessId,
		DriverId:        c.DriverId,
		DocumentId:      c.DocumentId,
		DocType:         c.DocType,
		AlertType:       string(c.AlertType),
		AlertWindowDays: c.AlertWindowDays,
		ExpiresAt:       c.ExpiresAt,
		CorrelationId:   correlationId,
	})
	return err
}

// LogNotifier is the fallback for deployments without Pub/Sub (local dev,
// CI). Alerts are still recorded and audited; delivery is just a log line.
type LogNotifier struct {
	Logger *logrus.Logger
}

func (LogNotifier) Channel() string { return "log" }

func (n LogNotifier) Notify(ctx context.Context, c AlertCandidate) error {
	businessId, _ := utils.GetBusinessIdFromContext(ctx)
	n.Logger.WithFields(logrus.Fields{
		"module":            "compliance",
		"business_id":       businessId,
		"driver_id":         c.DriverId,
		"document_id":       c.DocumentId,
		"doc_type":          c.DocType,
		"alert_type":        c.AlertType,
		"alert_window_days": c.AlertWindowDays,
		"expires_at":        c.ExpiresAt,
	}).Info("compliance alert")
	return nil
}

// DefaultNotifier picks Pub/Sub when an alert topic is configured, the log
// notifier otherwise.
func DefaultNotifier() Notifier {
	if config.AlertTopicName() != "" {
		return PubSubNotifier{}
	}
	return LogNotifier{Logger: config.GetLogger()}
}
