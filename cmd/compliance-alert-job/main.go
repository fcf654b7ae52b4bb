// compliance-alert-job runs one document-expiry alert pass over every active
// business. Intended to be run on a schedule (Cloud Scheduler / cron):
//
//	DB_USER=... DB_PASSWORD=... DB_HOST=... DB_PORT=... DB_NAME=... go run ./cmd/compliance-alert-job
//
// Exits non-zero only on fatal failure (cannot enumerate businesses);
// per-alert and per-tenant failures are logged and counted instead.
package main

import (
	"context"
	"os"

	"bitbucket.org/mmdatafocus/fleet_backend/compliance"
	"bitbucket.org/mmdatafocus/fleet_backend/config"
	"github.com/sirupsen/logrus"
)

func main() {
	logger := config.GetLogger()
	ctx := context.Background()

	config.ConnectDatabaseWithRetry()
	if config.GetDB() == nil {
		logger.Error("database not initialized (config.GetDB returned nil). Set DB_* env vars.")
		os.Exit(1)
	}
	config.ConnectRedisWithRetry()
	if err := config.EnsureAlertTopic(ctx); err != nil {
		config.LogError(logger, "compliance-alert-job", "main", "ensure alert topic", nil, err)
	}

	totals, err := compliance.RunAlertsForAllBusinesses(ctx)
	if err != nil {
		config.LogError(logger, "compliance-alert-job", "main", "enumerate businesses", nil, err)
		os.Exit(1)
	}

	logger.WithFields(logrus.Fields{
		"module":  "compliance-alert-job",
		"sent":    totals.Sent,
		"skipped": totals.Skipped,
		"errors":  totals.Errors,
	}).Info("alert job finished")
}
