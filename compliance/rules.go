package compliance

import (
	"context"
	"sort"

	"bitbucket.org/mmdatafocus/fleet_backend/config"
	"bitbucket.org/mmdatafocus/fleet_backend/models"
	"bitbucket.org/mmdatafocus/fleet_backend/utils"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// RuleSet is the effective rule configuration for one role, indexed by
// normalized doc type so per-document matching stays O(1) inside batch loops.
type RuleSet struct {
	rules     []*models.ComplianceRule
	byDocType map[string]*models.ComplianceRule
}

func NewRuleSet(rules []*models.ComplianceRule) *RuleSet {
	rs := &RuleSet{
		rules:     rules,
		byDocType: make(map[string]*models.ComplianceRule, len(rules)),
	}
	for _, r := range rules {
		key := utils.NormalizeDocType(r.DocType)
		if _, exists := rs.byDocType[key]; !exists {
			rs.byDocType[key] = r
		}
	}
	return rs
}

// Match returns the rule for a doc type, nil when none is configured.
func (rs *RuleSet) Match(docType string) *models.ComplianceRule {
	return rs.byDocType[utils.NormalizeDocType(docType)]
}

func (rs *RuleSet) Rules() []*models.ComplianceRule {
	return rs.rules
}

// RequiredDocTypes returns the normalized doc types every driver must hold,
// in rule order.
func (rs *RuleSet) RequiredDocTypes() []string {
	var docTypes []string
	for _, r := range rs.rules {
		if r.Required {
			docTypes = append(docTypes, utils.NormalizeDocType(r.DocType))
		}
	}
	return docTypes
}

// EffectiveRules resolves the rule set for a role within the request's
// business. When the business has no rules configured, or the query itself
// fails (e.g. schema not migrated yet), it degrades to the injected defaults
// instead of blocking evaluation. The synthesized rules are in-memory only
// and are never persisted.
func EffectiveRules(ctx context.Context, db *gorm.DB, role string, defaults config.ComplianceDefaults) *RuleSet {
	if role == "" {
		role = defaults.Role
	}

	rules, err := models.ListComplianceRules(ctx, db, role)
	if err != nil {
		config.GetLogger().WithFields(logrus.Fields{
			"module": "compliance",
			"role":   role,
		}).WithError(err).Debug("rule query failed; using default compliance rules")
		return NewRuleSet(synthesizeDefaultRules(role, defaults))
	}
	if len(rules) == 0 {
		return NewRuleSet(synthesizeDefaultRules(role, defaults))
	}
	return NewRuleSet(rules)
}

func synthesizeDefaultRules(role string, defaults config.ComplianceDefaults) []*models.ComplianceRule {
	docTypes := make([]string, 0, len(defaults.RequiredDocTypes))
	for _, dt := range defaults.RequiredDocTypes {
		docTypes = append(docTypes, utils.NormalizeDocType(dt))
	}
	sort.Strings(docTypes)

	rules := make([]*models.ComplianceRule, 0, len(docTypes))
	for _, dt := range docTypes {
		rules = append(rules, &models.ComplianceRule{
			Role:         role,
			DocType:      dt,
			Required:     true,
			GraceDays:    defaults.GraceDays,
			AlertWindows: models.AlertWindowList(defaults.AlertWindows),
		})
	}
	return rules
}
