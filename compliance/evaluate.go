package compliance

import (
	"math"
	"time"

	"bitbucket.org/mmdatafocus/fleet_backend/models"
)

type DocumentStatus string

const (
	DocStatusValid         DocumentStatus = "valid"
	DocStatusExpiring      DocumentStatus = "expiring"
	DocStatusExpired       DocumentStatus = "expired"
	DocStatusMissing       DocumentStatus = "missing"
	DocStatusPendingReview DocumentStatus = "pending_review"
)

// DocumentEvaluation is derived per request and never persisted.
type DocumentEvaluation struct {
	DocumentId      int            `json:"document_id"`
	DocType         string         `json:"doc_type"`
	Status          DocumentStatus `json:"status"`
	DaysUntilExpiry int            `json:"days_until_expiry"`
	IsRequired      bool           `json:"is_required"`
}

// DaysUntilExpiry returns whole days from now until expiry, floored, so a
// document expiring later today reports 0 and one that lapsed yesterday -1.
func DaysUntilExpiry(expiresAt, now time.Time) int {
	return int(math.Floor(expiresAt.Sub(now).Hours() / 24))
}

// EvaluateDocument classifies one document against the rule set. Pure; it is
// called per document inside batch loops and must stay free of I/O.
//
// Check order matters: expiry always beats a manual override, and the
// expiring window uses the matched rule's largest alert window so this view
// and the alert generator agree on when a document starts "expiring".
func EvaluateDocument(doc *models.ComplianceDocument, rs *RuleSet, now time.Time) DocumentEvaluation {
	rule := rs.Match(doc.DocType)

	isRequired := rule != nil && rule.Required
	graceDays := 0
	if rule != nil {
		graceDays = rule.GraceDays
	}

	days := DaysUntilExpiry(doc.ExpiresAt, now)

	eval := DocumentEvaluation{
		DocumentId:      doc.ID,
		DocType:         doc.DocType,
		DaysUntilExpiry: days,
		IsRequired:      isRequired,
	}

	switch {
	case days < -graceDays:
		eval.Status = DocStatusExpired
	case rule != nil && days >= 0 && days <= rule.MaxAlertWindow():
		eval.Status = DocStatusExpiring
	case doc.Status == models.DocumentOverridePendingReview:
		eval.Status = DocStatusPendingReview
	case doc.Status == models.DocumentOverrideMissing:
		eval.Status = DocStatusMissing
	default:
		eval.Status = DocStatusValid
	}
	return eval
}
