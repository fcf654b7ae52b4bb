package compliance

import (
	"context"
	"sort"
	"time"

	"bitbucket.org/mmdatafocus/fleet_backend/config"
	"bitbucket.org/mmdatafocus/fleet_backend/models"
	"bitbucket.org/mmdatafocus/fleet_backend/utils"
	"github.com/shopspring/decimal"
)

const (
	maxTopIssues         = 10
	alertCountWindowDays = 30
)

type IssueCount struct {
	DocType string `json:"doc_type"`
	Count   int    `json:"count"`
}

// BusinessComplianceSummary is the tenant-wide aggregate the dashboard shows.
type BusinessComplianceSummary struct {
	TotalDrivers         int          `json:"total_drivers"`
	CompliantDrivers     int          `json:"compliant_drivers"`
	CompliancePercentage int          `json:"compliance_percentage"`
	ExpiredCount         int          `json:"expired_count"`
	ExpiringCount        int          `json:"expiring_count"`
	MissingCount         int          `json:"missing_count"`
	TopIssues            []IssueCount `json:"top_issues"`
	AlertsLast30Days     int64        `json:"alerts_last_30_days"`
	LastAlertRunAt       string       `json:"last_alert_run_at,omitempty"`
}

// SummarizeBusinessCompliance batch-evaluates every active driver in the
// business and aggregates the results.
func SummarizeBusinessCompliance(ctx context.Context) (*BusinessComplianceSummary, error) {
	driverIds, err := models.ListActiveDriverIds(ctx)
	if err != nil {
		return nil, err
	}

	evals, err := EvaluateDrivers(ctx, driverIds)
	if err != nil {
		return nil, err
	}
	summary := summarizeEvaluations(evals)

	// Operational extras: recent alert volume and when the last alert run
	// happened. Neither is worth failing the whole summary over.
	since := time.Now().AddDate(0, 0, -alertCountWindowDays)
	if count, err := models.CountAlerts(ctx, config.GetDB(), &since); err == nil {
		summary.AlertsLast30Days = count
	} else {
		config.LogError(config.GetLogger(), "compliance", "SummarizeBusinessCompliance", "count recent alerts", nil, err)
	}
	if businessId, ok := utils.GetBusinessIdFromContext(ctx); ok {
		if v, found, err := config.GetRedisValue(lastAlertRunKey(businessId)); err == nil && found {
			summary.LastAlertRunAt = v
		}
	}

	return summary, nil
}

func summarizeEvaluations(evals []*DriverEvaluation) *BusinessComplianceSummary {
	summary := &BusinessComplianceSummary{
		TotalDrivers: len(evals),
		TopIssues:    []IssueCount{},
	}

	// Issue tally keyed by doc type; issueOrder keeps first-encounter order
	// so equal counts rank deterministically.
	issueCounts := make(map[string]int)
	var issueOrder []string
	tally := func(docType string) {
		if _, seen := issueCounts[docType]; !seen {
			issueOrder = append(issueOrder, docType)
		}
		issueCounts[docType]++
	}

	for _, eval := range evals {
		if eval.Compliant {
			summary.CompliantDrivers++
		}
		summary.ExpiredCount += eval.ExpiredCount
		summary.ExpiringCount += eval.ExpiringCount
		summary.MissingCount += eval.MissingCount

		for _, dt := range eval.MissingRequiredDocs {
			tally(dt)
		}
		for _, docEval := range eval.Documents {
			if docEval.IsRequired && docEval.Status == DocStatusExpired {
				tally(utils.NormalizeDocType(docEval.DocType))
			}
		}
	}

	summary.CompliancePercentage = compliancePercentage(summary.CompliantDrivers, summary.TotalDrivers)

	ranked := make([]IssueCount, 0, len(issueOrder))
	for _, dt := range issueOrder {
		ranked = append(ranked, IssueCount{DocType: dt, Count: issueCounts[dt]})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Count > ranked[j].Count
	})
	if len(ranked) > maxTopIssues {
		ranked = ranked[:maxTopIssues]
	}
	summary.TopIssues = ranked

	return summary
}

// compliancePercentage is round(100 * compliant / total), 100 for an empty
// fleet.
func compliancePercentage(compliant, total int) int {
	if total <= 0 {
		return 100
	}
	pct := decimal.NewFromInt(int64(compliant)).
		Mul(decimal.NewFromInt(100)).
		Div(decimal.NewFromInt(int64(total))).
		Round(0).
		IntPart()
	return int(pct)
}
