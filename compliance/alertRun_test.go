package compliance

import (
	"context"
	"errors"
	"testing"

	"bitbucket.org/mmdatafocus/fleet_backend/models"
	"github.com/sirupsen/logrus"
)

// fakeAlertRecorder claims dedupe keys in memory, mimicking the unique index.
type fakeAlertRecorder struct {
	claimed     map[string]bool
	recordErr   map[string]error
	auditErr    map[string]error
	auditTrail  []string
	nextAlertId int
}

func newFakeAlertRecorder() *fakeAlertRecorder {
	return &fakeAlertRecorder{claimed: map[string]bool{}}
}

func (f *fakeAlertRecorder) TryRecord(_ context.Context, alert *models.ComplianceAlert) (bool, error) {
	if err := f.recordErr[alert.DedupeKey]; err != nil {
		return false, err
	}
	if f.claimed[alert.DedupeKey] {
		return false, nil
	}
	f.claimed[alert.DedupeKey] = true
	f.nextAlertId++
	alert.ID = f.nextAlertId
	return true, nil
}

func (f *fakeAlertRecorder) Audit(_ context.Context, action string, _ int, payload AlertAuditPayload) error {
	key := models.AlertDedupeKey(payload.DriverId, payload.DocumentId, payload.AlertType, payload.AlertWindowDays)
	if err := f.auditErr[action+":"+key]; err != nil {
		return err
	}
	f.auditTrail = append(f.auditTrail, action)
	return nil
}

type fakeNotifier struct {
	delivered []AlertCandidate
	failFor   map[int]error // keyed by document id
}

func (f *fakeNotifier) Channel() string { return "test" }

func (f *fakeNotifier) Notify(_ context.Context, c AlertCandidate) error {
	if err := f.failFor[c.DocumentId]; err != nil {
		return err
	}
	f.delivered = append(f.delivered, c)
	return nil
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func TestBuildAlertCandidates_PicksLargestMatchingWindowOnce(t *testing.T) {
	rs := NewRuleSet([]*models.ComplianceRule{licenseRule(0, 7, 30, 15)})
	docs := []*models.ComplianceDocument{
		doc(1, 10, "driving_license", 10),
	}

	candidates := BuildAlertCandidates(docs, rs, testNow)

	if len(candidates) != 1 {
		t.Fatalf("expected exactly one candidate, got %d", len(candidates))
	}
	c := candidates[0]
	if c.AlertType != models.AlertTypeExpiring {
		t.Errorf("alertType = %s, want %s", c.AlertType, models.AlertTypeExpiring)
	}
	// 10 days left sits inside both the 30 and 15 day windows; only the
	// largest one emits.
	if c.AlertWindowDays != 30 {
		t.Errorf("alertWindowDays = %d, want 30", c.AlertWindowDays)
	}
}

func TestBuildAlertCandidates_ExpiredUsesWindowZero(t *testing.T) {
	rs := NewRuleSet([]*models.ComplianceRule{licenseRule(0, 30, 15, 7)})
	docs := []*models.ComplianceDocument{
		doc(1, 10, "driving_license", -3),
	}

	candidates := BuildAlertCandidates(docs, rs, testNow)

	if len(candidates) != 1 {
		t.Fatalf("expected one candidate, got %d", len(candidates))
	}
	if candidates[0].AlertType != models.AlertTypeExpired || candidates[0].AlertWindowDays != 0 {
		t.Fatalf("got %s/%d, want %s/0", candidates[0].AlertType, candidates[0].AlertWindowDays, models.AlertTypeExpired)
	}
}

func TestBuildAlertCandidates_SkipsUnruledAndNonRequired(t *testing.T) {
	rs := NewRuleSet([]*models.ComplianceRule{
		licenseRule(0, 30),
		{DocType: "uniform_receipt", Required: false, AlertWindows: models.AlertWindowList{30}},
	})
	docs := []*models.ComplianceDocument{
		doc(1, 10, "uniform_receipt", 5),  // rule exists but not required
		doc(2, 10, "parking_pass", -5),    // no rule
		doc(3, 10, "driving_license", 45), // outside every window
	}

	if candidates := BuildAlertCandidates(docs, rs, testNow); len(candidates) != 0 {
		t.Fatalf("expected no candidates, got %+v", candidates)
	}
}

func TestBuildAlertCandidates_GracePeriodSuppressesExpiredAlert(t *testing.T) {
	rs := NewRuleSet([]*models.ComplianceRule{licenseRule(5, 30)})

	// Lapsed 3 days ago with 5 grace days: not expired yet, and the negative
	// day count keeps it out of the expiring windows too.
	docs := []*models.ComplianceDocument{doc(1, 10, "driving_license", -3)}
	if candidates := BuildAlertCandidates(docs, rs, testNow); len(candidates) != 0 {
		t.Fatalf("expected no candidates inside grace, got %+v", candidates)
	}

	// Past the grace it alerts as expired.
	docs = []*models.ComplianceDocument{doc(1, 10, "driving_license", -6)}
	candidates := BuildAlertCandidates(docs, rs, testNow)
	if len(candidates) != 1 || candidates[0].AlertType != models.AlertTypeExpired {
		t.Fatalf("expected one expired candidate, got %+v", candidates)
	}
}

func TestProcessAlertCandidates_SecondRunSkipsEverything(t *testing.T) {
	rs := NewRuleSet([]*models.ComplianceRule{licenseRule(0, 30, 15, 7)})
	docs := []*models.ComplianceDocument{
		doc(1, 10, "driving_license", 10),
		doc(2, 11, "driving_license", -2),
		doc(3, 12, "driving_license", 29),
	}
	candidates := BuildAlertCandidates(docs, rs, testNow)
	recorder := newFakeAlertRecorder()
	notifier := &fakeNotifier{}

	first := processAlertCandidates(context.Background(), candidates, recorder, notifier, testNow, quietLogger())
	if first.Sent != 3 || first.Skipped != 0 || first.Errors != 0 {
		t.Fatalf("first run stats = %+v, want 3/0/0", first)
	}
	if len(notifier.delivered) != 3 {
		t.Fatalf("delivered %d alerts, want 3", len(notifier.delivered))
	}

	second := processAlertCandidates(context.Background(), candidates, recorder, notifier, testNow, quietLogger())
	if second.Sent != 0 || second.Skipped != 3 || second.Errors != 0 {
		t.Fatalf("second run stats = %+v, want 0/3/0", second)
	}
	if len(notifier.delivered) != 3 {
		t.Fatalf("deduped candidates must not be re-delivered, delivered = %d", len(notifier.delivered))
	}
}

func TestProcessAlertCandidates_AuditOrder(t *testing.T) {
	rs := NewRuleSet([]*models.ComplianceRule{licenseRule(0, 30)})
	candidates := BuildAlertCandidates([]*models.ComplianceDocument{doc(1, 10, "driving_license", 10)}, rs, testNow)
	recorder := newFakeAlertRecorder()

	stats := processAlertCandidates(context.Background(), candidates, recorder, &fakeNotifier{}, testNow, quietLogger())

	if stats.Sent != 1 {
		t.Fatalf("stats = %+v, want 1 sent", stats)
	}
	want := []string{AuditActionAlertGenerated, AuditActionAlertSent}
	if len(recorder.auditTrail) != 2 || recorder.auditTrail[0] != want[0] || recorder.auditTrail[1] != want[1] {
		t.Fatalf("audit trail = %v, want %v", recorder.auditTrail, want)
	}
}

func TestProcessAlertCandidates_DeliveryFailureIsolated(t *testing.T) {
	rs := NewRuleSet([]*models.ComplianceRule{licenseRule(0, 30)})
	docs := []*models.ComplianceDocument{
		doc(1, 10, "driving_license", 5),
		doc(2, 11, "driving_license", 6),
		doc(3, 12, "driving_license", 7),
	}
	candidates := BuildAlertCandidates(docs, rs, testNow)
	recorder := newFakeAlertRecorder()
	notifier := &fakeNotifier{failFor: map[int]error{2: errors.New("topic unavailable")}}

	stats := processAlertCandidates(context.Background(), candidates, recorder, notifier, testNow, quietLogger())

	if stats.Sent != 2 || stats.Errors != 1 || stats.Skipped != 0 {
		t.Fatalf("stats = %+v, want 2 sent / 1 error / 0 skipped", stats)
	}
	// The failed delivery keeps its claim: alert_generated with no alert_sent.
	generated, sent := 0, 0
	for _, a := range recorder.auditTrail {
		switch a {
		case AuditActionAlertGenerated:
			generated++
		case AuditActionAlertSent:
			sent++
		}
	}
	if generated != 3 || sent != 2 {
		t.Fatalf("audit counts generated=%d sent=%d, want 3/2", generated, sent)
	}
}

func TestProcessAlertCandidates_RecordFailureCountsError(t *testing.T) {
	rs := NewRuleSet([]*models.ComplianceRule{licenseRule(0, 30)})
	docs := []*models.ComplianceDocument{
		doc(1, 10, "driving_license", 5),
		doc(2, 11, "driving_license", 6),
	}
	candidates := BuildAlertCandidates(docs, rs, testNow)
	recorder := newFakeAlertRecorder()
	badKey := models.AlertDedupeKey(10, 1, models.AlertTypeExpiring, 30)
	recorder.recordErr = map[string]error{badKey: errors.New("deadlock")}
	notifier := &fakeNotifier{}

	stats := processAlertCandidates(context.Background(), candidates, recorder, notifier, testNow, quietLogger())

	if stats.Sent != 1 || stats.Errors != 1 {
		t.Fatalf("stats = %+v, want 1 sent / 1 error", stats)
	}
	if len(notifier.delivered) != 1 || notifier.delivered[0].DocumentId != 2 {
		t.Fatalf("expected only document 2 delivered, got %+v", notifier.delivered)
	}
}

func TestAlertDedupeKey_Format(t *testing.T) {
	got := models.AlertDedupeKey(7, 42, models.AlertTypeExpiring, 15)
	if got != "7:42:expiring:15" {
		t.Fatalf("dedupeKey = %q, want %q", got, "7:42:expiring:15")
	}
	if models.AlertDedupeKey(7, 42, models.AlertTypeExpired, 0) == got {
		t.Fatalf("expired and expiring alerts for the same document must not collide")
	}
}
