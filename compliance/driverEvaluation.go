package compliance

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/fleet_backend/config"
	"bitbucket.org/mmdatafocus/fleet_backend/models"
	"bitbucket.org/mmdatafocus/fleet_backend/utils"
	"github.com/shopspring/decimal"
)

// DriverEvaluation is the derived compliance picture for one driver.
// Computed fresh on every request, never cached.
type DriverEvaluation struct {
	DriverId            int                  `json:"driver_id"`
	Compliant           bool                 `json:"compliant"`
	ComplianceScore     int                  `json:"compliance_score"`
	ExpiredCount        int                  `json:"expired_count"`
	ExpiringCount       int                  `json:"expiring_count"`
	MissingCount        int                  `json:"missing_count"`
	Documents           []DocumentEvaluation `json:"documents"`
	MissingRequiredDocs []string             `json:"missing_required_docs"`
}

// evaluateDriverDocuments is the pure per-driver algorithm shared by the
// single and batch forms. Only required documents count against compliance:
// a lapsed non-required document never drags the score or the counts down.
func evaluateDriverDocuments(driverId int, docs []*models.ComplianceDocument, rs *RuleSet, now time.Time) *DriverEvaluation {
	eval := &DriverEvaluation{
		DriverId:            driverId,
		Documents:           make([]DocumentEvaluation, 0, len(docs)),
		MissingRequiredDocs: []string{},
	}

	existingDocTypes := make(map[string]bool, len(docs))
	validRequiredTypes := make(map[string]bool)

	for _, doc := range docs {
		docType := utils.NormalizeDocType(doc.DocType)
		existingDocTypes[docType] = true

		docEval := EvaluateDocument(doc, rs, now)
		eval.Documents = append(eval.Documents, docEval)

		if !docEval.IsRequired {
			continue
		}
		switch docEval.Status {
		case DocStatusExpired:
			eval.ExpiredCount++
		case DocStatusExpiring:
			eval.ExpiringCount++
		case DocStatusValid:
			validRequiredTypes[docType] = true
		}
	}

	requiredDocTypes := rs.RequiredDocTypes()
	for _, dt := range requiredDocTypes {
		if !existingDocTypes[dt] {
			eval.MissingRequiredDocs = append(eval.MissingRequiredDocs, dt)
		}
	}
	eval.MissingCount = len(eval.MissingRequiredDocs)

	eval.ComplianceScore = complianceScore(len(validRequiredTypes), len(requiredDocTypes))
	eval.Compliant = eval.MissingCount == 0 && eval.ExpiredCount == 0 && eval.ComplianceScore == 100

	return eval
}

// complianceScore is round(100 * valid / total), clamped to [0,100].
// A role with no required doc types is trivially 100% compliant.
func complianceScore(validRequired, totalRequired int) int {
	if totalRequired <= 0 {
		return 100
	}
	score := decimal.NewFromInt(int64(validRequired)).
		Mul(decimal.NewFromInt(100)).
		Div(decimal.NewFromInt(int64(totalRequired))).
		Round(0).
		IntPart()
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return int(score)
}

// EvaluateDriver computes the compliance picture for one driver using the
// effective rules of the driver's role.
func EvaluateDriver(ctx context.Context, driverId int) (*DriverEvaluation, error) {
	driver, err := models.GetDriver(ctx, driverId)
	if err != nil {
		return nil, err
	}

	db := config.GetDB()
	rs := EffectiveRules(ctx, db, driver.Role, config.GetComplianceDefaults())

	docs, err := models.ListDriverDocuments(ctx, db, driverId)
	if err != nil {
		return nil, err
	}

	return evaluateDriverDocuments(driverId, docs, rs, time.Now()), nil
}

// EvaluateDrivers is the batch form. It produces exactly what calling
// EvaluateDriver per id would, but loads all drivers and all documents in
// one query each and groups in memory; drivers that do not exist (or are
// deleted) are silently absent from the result.
func EvaluateDrivers(ctx context.Context, driverIds []int) ([]*DriverEvaluation, error) {
	if len(driverIds) == 0 {
		return []*DriverEvaluation{}, nil
	}

	drivers, err := models.ListDriversByIds(ctx, driverIds)
	if err != nil {
		return nil, err
	}
	if len(drivers) == 0 {
		return []*DriverEvaluation{}, nil
	}

	db := config.GetDB()
	defaults := config.GetComplianceDefaults()

	// One rule set per distinct role; most fleets only have "driver".
	ruleSetsByRole := make(map[string]*RuleSet)
	for _, d := range drivers {
		if _, ok := ruleSetsByRole[d.Role]; !ok {
			ruleSetsByRole[d.Role] = EffectiveRules(ctx, db, d.Role, defaults)
		}
	}

	ids := make([]int, 0, len(drivers))
	for _, d := range drivers {
		ids = append(ids, d.ID)
	}
	docs, err := models.ListDriversDocuments(ctx, db, ids)
	if err != nil {
		return nil, err
	}

	docsByDriver := make(map[int][]*models.ComplianceDocument, len(drivers))
	for _, doc := range docs {
		docsByDriver[doc.DriverId] = append(docsByDriver[doc.DriverId], doc)
	}

	now := time.Now()
	evals := make([]*DriverEvaluation, 0, len(drivers))
	for _, d := range drivers {
		evals = append(evals, evaluateDriverDocuments(d.ID, docsByDriver[d.ID], ruleSetsByRole[d.Role], now))
	}
	return evals, nil
}
