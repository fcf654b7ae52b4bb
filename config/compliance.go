package config

import (
	"os"
	"strconv"
	"strings"
)

// ComplianceDefaults is the fallback rule configuration applied when a
// business has no compliance rules of its own. It is a plain value threaded
// into the rule provider so tests can substitute alternates; nothing here is
// ever persisted.
type ComplianceDefaults struct {
	Role             string
	RequiredDocTypes []string
	AlertWindows     []int
	GraceDays        int
}

// Built-in fallbacks. Overridable per deployment via env:
// - COMPLIANCE_DEFAULT_DOC_TYPES="driving_license,medical_certificate,..."
// - COMPLIANCE_DEFAULT_ALERT_WINDOWS="30,15,7"
var (
	builtinRequiredDocTypes = []string{
		"driving_license",
		"medical_certificate",
		"vehicle_insurance",
		"vehicle_registration",
	}
	builtinAlertWindows = []int{30, 15, 7}
)

func GetComplianceDefaults() ComplianceDefaults {
	d := ComplianceDefaults{
		Role:             "driver",
		RequiredDocTypes: builtinRequiredDocTypes,
		AlertWindows:     builtinAlertWindows,
		GraceDays:        0,
	}

	if raw := strings.TrimSpace(os.Getenv("COMPLIANCE_DEFAULT_DOC_TYPES")); raw != "" {
		var docTypes []string
		for _, part := range strings.Split(raw, ",") {
			if p := strings.ToLower(strings.TrimSpace(part)); p != "" {
				docTypes = append(docTypes, p)
			}
		}
		if len(docTypes) > 0 {
			d.RequiredDocTypes = docTypes
		}
	}

	if raw := strings.TrimSpace(os.Getenv("COMPLIANCE_DEFAULT_ALERT_WINDOWS")); raw != "" {
		var windows []int
		for _, part := range strings.Split(raw, ",") {
			n, err := strconv.Atoi(strings.TrimSpace(part))
			if err != nil || n <= 0 {
				windows = nil
				break
			}
			windows = append(windows, n)
		}
		if len(windows) > 0 {
			d.AlertWindows = windows
		}
	}

	return d
}
