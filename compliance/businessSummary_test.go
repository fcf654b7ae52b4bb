package compliance

import (
	"testing"

	"bitbucket.org/mmdatafocus/fleet_backend/models"
)

func TestSummarizeEvaluations_Aggregates(t *testing.T) {
	rs := twoDocRuleSet()
	evals := []*DriverEvaluation{
		evaluateDriverDocuments(10, docsFor(10, 90, 120), rs, testNow),  // compliant
		evaluateDriverDocuments(11, docsFor(11, -10, 90), rs, testNow),  // expired license
		evaluateDriverDocuments(12, docsFor(12, 10, 90), rs, testNow),   // expiring license
		evaluateDriverDocuments(13, nil, rs, testNow),                   // both missing
	}

	summary := summarizeEvaluations(evals)

	if summary.TotalDrivers != 4 {
		t.Errorf("totalDrivers = %d, want 4", summary.TotalDrivers)
	}
	if summary.CompliantDrivers != 1 {
		t.Errorf("compliantDrivers = %d, want 1", summary.CompliantDrivers)
	}
	if summary.CompliancePercentage != 25 {
		t.Errorf("compliancePercentage = %d, want 25", summary.CompliancePercentage)
	}
	if summary.ExpiredCount != 1 || summary.ExpiringCount != 1 || summary.MissingCount != 2 {
		t.Errorf("counts = %d/%d/%d, want 1/1/2", summary.ExpiredCount, summary.ExpiringCount, summary.MissingCount)
	}

	// driving_license: 1 expired + 1 missing = 2; vehicle_insurance: 1 missing.
	if len(summary.TopIssues) != 2 {
		t.Fatalf("topIssues = %+v, want 2 entries", summary.TopIssues)
	}
	if summary.TopIssues[0].DocType != "driving_license" || summary.TopIssues[0].Count != 2 {
		t.Errorf("topIssues[0] = %+v, want driving_license/2", summary.TopIssues[0])
	}
	if summary.TopIssues[1].DocType != "vehicle_insurance" || summary.TopIssues[1].Count != 1 {
		t.Errorf("topIssues[1] = %+v, want vehicle_insurance/1", summary.TopIssues[1])
	}
}

// docsFor builds one license and one insurance document for a driver with the
// given days-to-expiry each.
func docsFor(driverId int, licenseDays, insuranceDays int) []*models.ComplianceDocument {
	return []*models.ComplianceDocument{
		doc(driverId*10+1, driverId, "driving_license", licenseDays),
		doc(driverId*10+2, driverId, "vehicle_insurance", insuranceDays),
	}
}

func TestSummarizeEvaluations_TopIssuesCapAndStableOrder(t *testing.T) {
	// Twelve distinct missing doc types across the fleet; the ranking keeps
	// the ten biggest and breaks ties by first encounter.
	docTypes := []string{"a", "b", "c", "d", "e", "f", "g", "h", "i", "j", "k", "l"}
	var evals []*DriverEvaluation
	for i, dt := range docTypes {
		// doc type at index i is missing for (12 - i) drivers.
		for n := 0; n < len(docTypes)-i; n++ {
			evals = append(evals, &DriverEvaluation{
				DriverId:            100*i + n,
				MissingCount:        1,
				MissingRequiredDocs: []string{dt},
			})
		}
	}

	summary := summarizeEvaluations(evals)

	if len(summary.TopIssues) != maxTopIssues {
		t.Fatalf("topIssues has %d entries, want %d", len(summary.TopIssues), maxTopIssues)
	}
	for i, issue := range summary.TopIssues {
		if issue.DocType != docTypes[i] {
			t.Errorf("topIssues[%d] = %s, want %s", i, issue.DocType, docTypes[i])
		}
		if issue.Count != len(docTypes)-i {
			t.Errorf("topIssues[%d].count = %d, want %d", i, issue.Count, len(docTypes)-i)
		}
	}

	// Equal counts keep encounter order.
	tied := summarizeEvaluations([]*DriverEvaluation{
		{DriverId: 1, MissingRequiredDocs: []string{"zeta"}},
		{DriverId: 2, MissingRequiredDocs: []string{"alpha"}},
	})
	if tied.TopIssues[0].DocType != "zeta" || tied.TopIssues[1].DocType != "alpha" {
		t.Errorf("tie order = %+v, want zeta before alpha", tied.TopIssues)
	}
}

func TestSummarizeEvaluations_IssueTallyNormalizesDocType(t *testing.T) {
	// An expired document whose type was never canonicalized upstream must
	// land in the same issue bucket as the normalized missing-type entries.
	evals := []*DriverEvaluation{
		{
			DriverId:     1,
			ExpiredCount: 1,
			Documents: []DocumentEvaluation{
				{DocumentId: 1, DocType: " Driving_License ", Status: DocStatusExpired, IsRequired: true},
			},
		},
		{
			DriverId:            2,
			MissingCount:        1,
			MissingRequiredDocs: []string{"driving_license"},
		},
	}

	summary := summarizeEvaluations(evals)

	if len(summary.TopIssues) != 1 {
		t.Fatalf("topIssues = %+v, want one merged entry", summary.TopIssues)
	}
	if summary.TopIssues[0].DocType != "driving_license" || summary.TopIssues[0].Count != 2 {
		t.Fatalf("topIssues[0] = %+v, want driving_license/2", summary.TopIssues[0])
	}
}

func TestSummarizeEvaluations_EmptyFleet(t *testing.T) {
	summary := summarizeEvaluations(nil)

	if summary.TotalDrivers != 0 {
		t.Errorf("totalDrivers = %d, want 0", summary.TotalDrivers)
	}
	if summary.CompliancePercentage != 100 {
		t.Errorf("empty fleet compliancePercentage = %d, want 100", summary.CompliancePercentage)
	}
	if summary.TopIssues == nil || len(summary.TopIssues) != 0 {
		t.Errorf("topIssues = %v, want empty non-nil slice", summary.TopIssues)
	}
}

func TestCompliancePercentage_Rounds(t *testing.T) {
	cases := []struct {
		compliant, total, want int
	}{
		{0, 0, 100},
		{0, 3, 0},
		{1, 3, 33},
		{2, 3, 67},
		{1, 6, 17},
		{7, 7, 100},
	}
	for _, tc := range cases {
		if got := compliancePercentage(tc.compliant, tc.total); got != tc.want {
			t.Errorf("compliancePercentage(%d, %d) = %d, want %d", tc.compliant, tc.total, got, tc.want)
		}
	}
}
