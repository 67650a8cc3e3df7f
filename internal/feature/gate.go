package feature

import (
	"fmt"
	"sort"
)

// Tier is an ordered subscription level. Higher values unlock more features.
type Tier int

const (
	TierFree Tier = iota
	TierStarter
	TierCreator
	TierProfessional
	TierBusiness
	TierEnterprise
)

var tierNames = map[Tier]string{
	TierFree:         "free",
	TierStarter:      "starter",
	TierCreator:      "creator",
	TierProfessional: "professional",
	TierBusiness:     "business",
	TierEnterprise:   "enterprise",
}

// String returns the lowercase tier name used in API payloads.
func (t Tier) String() string {
	if name, ok := tierNames[t]; ok {
		return name
	}
	return fmt.Sprintf("tier(%d)", int(t))
}

// ParseTier maps an external tier name onto a Tier; unknown names are free.
func ParseTier(name string) Tier {
	for tier, n := range tierNames {
		if n == name {
			return tier
		}
	}
	return TierFree
}

// Subscription status values supplied by the billing collaborator.
const (
	StatusActive   = "ACTIVE"
	StatusTrial    = "TRIAL"
	StatusCanceled = "CANCELED"
	StatusPastDue  = "PAST_DUE"
)

// Rule binds a feature to the minimum tier that may use it.
// Features without a rule are available on every tier.
type Rule struct {
	Feature      string
	RequiredTier Tier
	UsageType    string
}

// rules is the static gate table. A feature appears at most once;
// ValidateRules enforces that at startup.
var rules = []Rule{
	{Feature: "url_deep_scan", RequiredTier: TierStarter, UsageType: "scan"},
	{Feature: "scan_history", RequiredTier: TierStarter},
	{Feature: "custom_share_title", RequiredTier: TierCreator},
	{Feature: "og_image_override", RequiredTier: TierCreator},
	{Feature: "slug_regeneration", RequiredTier: TierCreator},
	{Feature: "advanced_analytics", RequiredTier: TierProfessional},
	{Feature: "conversion_funnel", RequiredTier: TierProfessional},
	{Feature: "api_access", RequiredTier: TierProfessional, UsageType: "request"},
	{Feature: "bulk_scanning", RequiredTier: TierBusiness, UsageType: "scan"},
	{Feature: "team_dashboard", RequiredTier: TierBusiness},
	{Feature: "sso", RequiredTier: TierEnterprise},
	{Feature: "data_export", RequiredTier: TierEnterprise},
}

// flags is the global kill-switch table: a feature listed here with false
// is unavailable on every tier regardless of the gate rules.
var flags = map[string]bool{
	"url_deep_scan":      true,
	"advanced_analytics": true,
	"api_access":         true,
	"data_export":        true,
}

func ruleFor(feature string) (Rule, bool) {
	for _, r := range rules {
		if r.Feature == feature {
			return r, true
		}
	}
	return Rule{}, false
}

func flagEnabled(feature string) bool {
	enabled, ok := flags[feature]
	if !ok {
		return true
	}
	return enabled
}

// effectiveTier applies the status rules: inactive subscriptions evaluate
// as free, trials evaluate as professional.
func effectiveTier(tier Tier, status string) Tier {
	switch status {
	case StatusTrial:
		return TierProfessional
	case StatusActive:
		return tier
	default:
		return TierFree
	}
}

// HasAccess decides whether a caller on the given tier and subscription
// status may use a feature. The kill-switch flag is ANDed in last.
func HasAccess(feature string, tier Tier, status string) bool {
	if !flagEnabled(feature) {
		return false
	}
	return TierHasFeature(feature, effectiveTier(tier, status))
}

// TierHasFeature checks the static rule table only, ignoring subscription
// status and kill switches.
func TierHasFeature(feature string, tier Tier) bool {
	rule, ok := ruleFor(feature)
	if !ok {
		return true
	}
	return tier >= rule.RequiredTier
}

// PlanFeatures lists every gated feature available at the given tier,
// sorted for stable output. Ungated features are omitted because the
// table cannot enumerate them.
func PlanFeatures(tier Tier) []string {
	features := make([]string, 0, len(rules))
	for _, r := range rules {
		if tier >= r.RequiredTier {
			features = append(features, r.Feature)
		}
	}
	sort.Strings(features)
	return features
}

// UpgradeDiff returns the gated features gained by moving between tiers.
func UpgradeDiff(from, to Tier) []string {
	if to <= from {
		return nil
	}

	gained := make([]string, 0)
	for _, r := range rules {
		if from < r.RequiredTier && to >= r.RequiredTier {
			gained = append(gained, r.Feature)
		}
	}
	sort.Strings(gained)
	return gained
}

// IsHigherTier reports whether a is strictly above b in the plan order.
func IsHigherTier(a, b Tier) bool {
	return a > b
}

// AllRules exposes a copy of the gate table for API listings.
func AllRules() []Rule {
	out := make([]Rule, len(rules))
	copy(out, rules)
	return out
}

// ValidateRules checks the static tables at startup: every feature has at
// most one rule, every rule's tier has a display name, and every flag
// refers to a known gated feature.
func ValidateRules() error {
	seen := make(map[string]bool, len(rules))
	for _, r := range rules {
		if r.Feature == "" {
			return fmt.Errorf("gate rule with empty feature name")
		}
		if seen[r.Feature] {
			return fmt.Errorf("duplicate gate rule for feature %q", r.Feature)
		}
		seen[r.Feature] = true

		if _, ok := tierNames[r.RequiredTier]; !ok {
			return fmt.Errorf("gate rule %q references unmapped tier %d", r.Feature, r.RequiredTier)
		}
	}

	for feature := range flags {
		if !seen[feature] {
			return fmt.Errorf("kill switch for unknown feature %q", feature)
		}
	}

	return nil
}
