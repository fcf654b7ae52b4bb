package compliance

import (
	"reflect"
	"testing"

	"bitbucket.org/mmdatafocus/fleet_backend/models"
)

func twoDocRuleSet() *RuleSet {
	return NewRuleSet([]*models.ComplianceRule{
		{DocType: "driving_license", Required: true, AlertWindows: models.AlertWindowList{30, 15, 7}},
		{DocType: "vehicle_insurance", Required: true, AlertWindows: models.AlertWindowList{30, 15, 7}},
	})
}

func TestEvaluateDriverDocuments_OneValidOneMissing(t *testing.T) {
	rs := twoDocRuleSet()
	docs := []*models.ComplianceDocument{
		doc(1, 10, "driving_license", 90),
	}

	eval := evaluateDriverDocuments(10, docs, rs, testNow)

	if eval.ComplianceScore != 50 {
		t.Errorf("score = %d, want 50", eval.ComplianceScore)
	}
	if eval.Compliant {
		t.Errorf("driver with a missing required doc must not be compliant")
	}
	if !reflect.DeepEqual(eval.MissingRequiredDocs, []string{"vehicle_insurance"}) {
		t.Errorf("missingRequiredDocs = %v, want [vehicle_insurance]", eval.MissingRequiredDocs)
	}
	if eval.MissingCount != 1 {
		t.Errorf("missingCount = %d, want 1", eval.MissingCount)
	}
}

func TestEvaluateDriverDocuments_FullyCompliant(t *testing.T) {
	rs := twoDocRuleSet()
	docs := []*models.ComplianceDocument{
		doc(1, 10, "driving_license", 90),
		doc(2, 10, "vehicle_insurance", 120),
	}

	eval := evaluateDriverDocuments(10, docs, rs, testNow)

	if !eval.Compliant {
		t.Fatalf("expected compliant, got %+v", eval)
	}
	if eval.ComplianceScore != 100 {
		t.Errorf("score = %d, want 100", eval.ComplianceScore)
	}
	if eval.ExpiredCount != 0 || eval.ExpiringCount != 0 || eval.MissingCount != 0 {
		t.Errorf("counts = %d/%d/%d, want 0/0/0", eval.ExpiredCount, eval.ExpiringCount, eval.MissingCount)
	}
}

func TestEvaluateDriverDocuments_CompliantInvariant(t *testing.T) {
	rs := twoDocRuleSet()

	// compliant <=> missing==0 && expired==0 && score==100, across a spread
	// of document mixes.
	scenarios := [][]*models.ComplianceDocument{
		nil,
		{doc(1, 10, "driving_license", 90)},
		{doc(1, 10, "driving_license", -10), doc(2, 10, "vehicle_insurance", 90)},
		{doc(1, 10, "driving_license", 10), doc(2, 10, "vehicle_insurance", 90)},
		{doc(1, 10, "driving_license", 90), doc(2, 10, "vehicle_insurance", 120)},
		{doc(1, 10, "driving_license", 90), doc(2, 10, "vehicle_insurance", 120), doc(3, 10, "gym_membership", -400)},
	}
	for i, docs := range scenarios {
		eval := evaluateDriverDocuments(10, docs, rs, testNow)
		want := eval.MissingCount == 0 && eval.ExpiredCount == 0 && eval.ComplianceScore == 100
		if eval.Compliant != want {
			t.Errorf("scenario %d: compliant = %v, counts say %v (%+v)", i, eval.Compliant, want, eval)
		}
	}
}

func TestEvaluateDriverDocuments_NonRequiredNeverCounts(t *testing.T) {
	rs := NewRuleSet([]*models.ComplianceRule{
		{DocType: "driving_license", Required: true, AlertWindows: models.AlertWindowList{30}},
		{DocType: "uniform_receipt", Required: false, AlertWindows: models.AlertWindowList{30}},
	})
	docs := []*models.ComplianceDocument{
		doc(1, 10, "driving_license", 90),
		doc(2, 10, "uniform_receipt", -30), // expired, not required
		doc(3, 10, "parking_pass", 5),      // no rule at all
	}

	eval := evaluateDriverDocuments(10, docs, rs, testNow)

	if eval.ExpiredCount != 0 || eval.ExpiringCount != 0 {
		t.Errorf("non-required documents leaked into counts: %+v", eval)
	}
	if !eval.Compliant || eval.ComplianceScore != 100 {
		t.Errorf("expected fully compliant, got %+v", eval)
	}
}

func TestEvaluateDriverDocuments_NoRequiredDocTypes(t *testing.T) {
	rs := NewRuleSet([]*models.ComplianceRule{
		{DocType: "uniform_receipt", Required: false},
	})

	eval := evaluateDriverDocuments(10, nil, rs, testNow)

	if eval.ComplianceScore != 100 || !eval.Compliant {
		t.Fatalf("a role with no required docs is trivially compliant, got %+v", eval)
	}
}

func TestComplianceScore_Monotonic(t *testing.T) {
	// Holding everything else fixed, more valid required docs never lowers
	// the score.
	prev := -1
	for valid := 0; valid <= 4; valid++ {
		score := complianceScore(valid, 4)
		if score < prev {
			t.Fatalf("score dropped from %d to %d at valid=%d", prev, score, valid)
		}
		prev = score
	}
	if complianceScore(4, 4) != 100 {
		t.Fatalf("full coverage must score 100")
	}
	if got := complianceScore(1, 3); got != 33 {
		t.Fatalf("score = %d, want 33", got)
	}
	if got := complianceScore(2, 3); got != 67 {
		t.Fatalf("score = %d, want 67", got)
	}
}

func TestEvaluateDriverDocuments_DuplicateTypeDoesNotInflateScore(t *testing.T) {
	rs := twoDocRuleSet()
	docs := []*models.ComplianceDocument{
		doc(1, 10, "driving_license", 90),
		doc(2, 10, "driving_license", 120),
	}

	eval := evaluateDriverDocuments(10, docs, rs, testNow)

	if eval.ComplianceScore != 50 {
		t.Fatalf("two valid copies of one type must still score 50, got %d", eval.ComplianceScore)
	}
}

func TestEvaluateDriverDocuments_BatchGroupingMatchesSingle(t *testing.T) {
	rs := twoDocRuleSet()

	// All documents for all drivers, the way the batch loader returns them.
	allDocs := []*models.ComplianceDocument{
		doc(1, 10, "driving_license", 90),
		doc(2, 11, "driving_license", -10),
		doc(3, 10, "vehicle_insurance", 120),
		doc(4, 12, "vehicle_insurance", 10),
	}

	docsByDriver := make(map[int][]*models.ComplianceDocument)
	for _, d := range allDocs {
		docsByDriver[d.DriverId] = append(docsByDriver[d.DriverId], d)
	}

	for _, driverId := range []int{10, 11, 12, 13} {
		batch := evaluateDriverDocuments(driverId, docsByDriver[driverId], rs, testNow)

		var own []*models.ComplianceDocument
		for _, d := range allDocs {
			if d.DriverId == driverId {
				own = append(own, d)
			}
		}
		single := evaluateDriverDocuments(driverId, own, rs, testNow)

		if !reflect.DeepEqual(batch, single) {
			t.Errorf("driver %d: batch grouping diverged from single evaluation:\nbatch:  %+v\nsingle: %+v", driverId, batch, single)
		}
	}
}
