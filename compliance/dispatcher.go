package compliance

import (
	"context"
	"errors"
	"sync"

	"bitbucket.org/mmdatafocus/fleet_backend/config"
	"bitbucket.org/mmdatafocus/fleet_backend/models"
	"bitbucket.org/mmdatafocus/fleet_backend/utils"
	"github.com/sirupsen/logrus"
)

// Tenant runs are independent transactions; this only bounds how many run
// at once. Override via COMPLIANCE_ALERT_CONCURRENCY.
const defaultMaxConcurrentTenantRuns = 4

// RunAlertsForBusiness runs one alert pass for the named business. Used by
// the on-demand endpoint (caller's own business) and per tenant by the
// scheduled dispatcher.
func RunAlertsForBusiness(ctx context.Context, businessId string) (AlertRunStats, error) {
	if businessId == "" {
		return AlertRunStats{}, utils.ErrorBusinessIdRequired
	}
	return RunAlerts(utils.SetBusinessIdInContext(ctx, businessId))
}

// RunAlertsForAllBusinesses is the scheduled job entry point. Each active
// business gets its own scoped context and transaction; tenants run
// concurrently and one tenant's failure is logged and counted without
// stopping the others. Failing to enumerate businesses at all is fatal and
// propagates.
func RunAlertsForAllBusinesses(ctx context.Context) (AlertRunStats, error) {
	businessIds, err := models.ListActiveBusinessIds(ctx)
	if err != nil {
		return AlertRunStats{}, err
	}

	// System actor for audit rows written by the job.
	ctx = utils.SetUserIdInContext(ctx, 0)
	ctx = utils.SetUserNameInContext(ctx, "System")

	return runAlertsForBusinesses(ctx, businessIds, RunAlertsForBusiness), nil
}

func maxConcurrentTenantRuns() int {
	if n := config.IntFromEnv("COMPLIANCE_ALERT_CONCURRENCY", defaultMaxConcurrentTenantRuns); n > 0 {
		return n
	}
	return defaultMaxConcurrentTenantRuns
}

func runAlertsForBusinesses(ctx context.Context, businessIds []string, run func(context.Context, string) (AlertRunStats, error)) AlertRunStats {
	logger := config.GetLogger()

	var (
		mu     sync.Mutex
		totals AlertRunStats
		wg     sync.WaitGroup
	)
	sem := make(chan struct{}, maxConcurrentTenantRuns())

	for _, businessId := range businessIds {
		wg.Add(1)
		sem <- struct{}{}
		go func(businessId string) {
			defer wg.Done()
			defer func() { <-sem }()

			stats, err := run(ctx, businessId)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				// A run that is already in progress elsewhere is not a
				// failure of this tenant's data; it still counts as one
				// error so the aggregate totals stay honest.
				totals.Errors++
				if errors.Is(err, ErrAlertRunInProgress) {
					logger.WithFields(logrus.Fields{
						"module":      "compliance",
						"business_id": businessId,
					}).Warn(err.Error())
				} else {
					config.LogError(logger, "compliance", "runAlertsForBusinesses", "tenant alert run", businessId, err)
				}
				return
			}
			totals.add(stats)
		}(businessId)
	}
	wg.Wait()

	return totals
}
