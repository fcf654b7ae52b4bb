package compliance

import (
	"context"
	"errors"
	"sort"
	"time"

	"bitbucket.org/mmdatafocus/fleet_backend/config"
	"bitbucket.org/mmdatafocus/fleet_backend/models"
	"bitbucket.org/mmdatafocus/fleet_backend/utils"
	"github.com/bsm/redislock"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const (
	AuditTableComplianceAlerts = "compliance_alerts"
	AuditActionAlertGenerated  = "alert_generated"
	AuditActionAlertSent       = "alert_sent"
)

var ErrAlertRunInProgress = errors.New("an alert run for this business is already in progress")

func lastAlertRunKey(businessId string) string {
	return "compliance:last-alert-run:" + businessId
}

// AlertCandidate is one alert the generator decided to emit, before dedupe.
type AlertCandidate struct {
	DocumentId      int              `json:"document_id"`
	DriverId        int              `json:"driver_id"`
	DocType         string           `json:"doc_type"`
	ExpiresAt       time.Time        `json:"expires_at"`
	AlertType       models.AlertType `json:"alert_type"`
	AlertWindowDays int              `json:"alert_window_days"`
}

type AlertRunStats struct {
	Sent    int `json:"sent"`
	Skipped int `json:"skipped"`
	Errors  int `json:"errors"`
}

func (s *AlertRunStats) add(other AlertRunStats) {
	s.Sent += other.Sent
	s.Skipped += other.Skipped
	s.Errors += other.Errors
}

// AlertAuditPayload is the JSON body of the audit rows written per alert.
type AlertAuditPayload struct {
	DriverId        int              `json:"driver_id"`
	DocumentId      int              `json:"document_id"`
	AlertType       models.AlertType `json:"alert_type"`
	AlertWindowDays int              `json:"alert_window_days"`
}

// BuildAlertCandidates scans every active document against the rule set.
// Pure. Documents without a matching rule, or whose rule is not required,
// never alert. An expired document alerts once with window 0; otherwise the
// windows are scanned largest-first and only the first match emits, so a
// document sitting inside several overlapping windows alerts exactly once.
func BuildAlertCandidates(docs []*models.ComplianceDocument, rs *RuleSet, now time.Time) []AlertCandidate {
	var candidates []AlertCandidate
	for _, doc := range docs {
		rule := rs.Match(doc.DocType)
		if rule == nil || !rule.Required {
			continue
		}

		days := DaysUntilExpiry(doc.ExpiresAt, now)

		if days < -rule.GraceDays {
			candidates = append(candidates, AlertCandidate{
				DocumentId:      doc.ID,
				DriverId:        doc.DriverId,
				DocType:         doc.DocType,
				ExpiresAt:       doc.ExpiresAt,
				AlertType:       models.AlertTypeExpired,
				AlertWindowDays: 0,
			})
			continue
		}

		windows := make([]int, len(rule.AlertWindows))
		copy(windows, rule.AlertWindows)
		sort.Sort(sort.Reverse(sort.IntSlice(windows)))
		for _, w := range windows {
			if days >= 0 && days <= w {
				candidates = append(candidates, AlertCandidate{
					DocumentId:      doc.ID,
					DriverId:        doc.DriverId,
					DocType:         doc.DocType,
					ExpiresAt:       doc.ExpiresAt,
					AlertType:       models.AlertTypeExpiring,
					AlertWindowDays: w,
				})
				break
			}
		}
	}
	return candidates
}

// alertRecorder is the persistence seam of the alert run; the gorm-backed
// implementation writes within the run's transaction, tests substitute fakes.
type alertRecorder interface {
	// TryRecord claims the candidate's dedupe key. False means some earlier
	// run (or a concurrent one) already alerted for it.
	TryRecord(ctx context.Context, alert *models.ComplianceAlert) (bool, error)
	Audit(ctx context.Context, action string, recordId int, payload AlertAuditPayload) error
}

type gormAlertRecorder struct {
	tx *gorm.DB
}

func (g gormAlertRecorder) TryRecord(ctx context.Context, alert *models.ComplianceAlert) (bool, error) {
	return models.TryRecordAlert(ctx, g.tx, alert)
}

func (g gormAlertRecorder) Audit(ctx context.Context, action string, recordId int, payload AlertAuditPayload) error {
	return models.RecordAudit(ctx, g.tx, AuditTableComplianceAlerts, action, recordId, payload)
}

// processAlertCandidates runs dedupe + delivery + audit for each candidate,
// sequentially. One candidate failing never aborts the rest; it just counts
// as an error.
func processAlertCandidates(ctx context.Context, candidates []AlertCandidate, recorder alertRecorder, notifier Notifier, now time.Time, logger *logrus.Logger) AlertRunStats {
	var stats AlertRunStats

	for _, c := range candidates {
		payload := AlertAuditPayload{
			DriverId:        c.DriverId,
			DocumentId:      c.DocumentId,
			AlertType:       c.AlertType,
			AlertWindowDays: c.AlertWindowDays,
		}

		alert := &models.ComplianceAlert{
			DriverId:        c.DriverId,
			DocumentId:      c.DocumentId,
			AlertType:       c.AlertType,
			AlertWindowDays: c.AlertWindowDays,
			SentAt:          now,
			Channel:         notifier.Channel(),
			DedupeKey:       models.AlertDedupeKey(c.DriverId, c.DocumentId, c.AlertType, c.AlertWindowDays),
		}

		claimed, err := recorder.TryRecord(ctx, alert)
		if err != nil {
			stats.Errors++
			config.LogError(logger, "compliance", "processAlertCandidates", "claim dedupe key", alert.DedupeKey, err)
			continue
		}
		if !claimed {
			stats.Skipped++
			continue
		}

		if err := recorder.Audit(ctx, AuditActionAlertGenerated, alert.ID, payload); err != nil {
			stats.Errors++
			config.LogError(logger, "compliance", "processAlertCandidates", "audit alert_generated", alert.DedupeKey, err)
			continue
		}

		if err := notifier.Notify(ctx, c); err != nil {
			// Key stays claimed: the audit trail shows alert_generated
			// without alert_sent, which is the signal ops alerts on.
			stats.Errors++
			config.LogError(logger, "compliance", "processAlertCandidates", "deliver alert", alert.DedupeKey, err)
			continue
		}

		if err := recorder.Audit(ctx, AuditActionAlertSent, alert.ID, payload); err != nil {
			stats.Errors++
			config.LogError(logger, "compliance", "processAlertCandidates", "audit alert_sent", alert.DedupeKey, err)
			continue
		}

		stats.Sent++
	}

	return stats
}

// RunAlerts executes one alert pass for the business in the context. All
// reads and writes happen in a single transaction so the dedupe check and
// the insert observe one snapshot, and the tenant guard applies to every
// statement. Candidates are processed sequentially within the run; the
// redis lock keeps two runs for the same business from overlapping in the
// common case, and the unique dedupe index settles the rest.
func RunAlerts(ctx context.Context) (AlertRunStats, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return AlertRunStats{}, utils.ErrorBusinessIdRequired
	}

	// Redis lock is best-effort: when redis is down we still run, relying on
	// the dedupe index for correctness.
	if locker := config.GetRedisLock(); locker != nil {
		lock, err := locker.Obtain(ctx, "compliance:alert-run:"+businessId, 5*time.Minute, nil)
		if err == redislock.ErrNotObtained {
			return AlertRunStats{}, ErrAlertRunInProgress
		}
		if err == nil {
			defer lock.Release(context.WithoutCancel(ctx))
		}
	}

	logger := config.GetLogger()
	defaults := config.GetComplianceDefaults()
	notifier := DefaultNotifier()
	now := time.Now()

	var stats AlertRunStats
	err := config.GetDB().Transaction(func(tx *gorm.DB) error {
		rs := EffectiveRules(ctx, tx, defaults.Role, defaults)

		docs, err := models.ListActiveDocuments(ctx, tx)
		if err != nil {
			return err
		}

		candidates := BuildAlertCandidates(docs, rs, now)
		stats = processAlertCandidates(ctx, candidates, gormAlertRecorder{tx: tx}, notifier, now, logger)
		return nil
	})
	if err != nil {
		return AlertRunStats{}, err
	}

	if err := config.SetRedisValue(lastAlertRunKey(businessId), now.UTC().Format(time.RFC3339), 0); err != nil {
		config.LogError(logger, "compliance", "RunAlerts", "record last run time", businessId, err)
	}

	logger.WithFields(logrus.Fields{
		"module":      "compliance",
		"business_id": businessId,
		"sent":        stats.Sent,
		"skipped":     stats.Skipped,
		"errors":      stats.Errors,
	}).Info("alert run finished")

	return stats, nil
}
