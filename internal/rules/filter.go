package rules

import (
	"strings"

	"github.com/procintel/sinoscan/internal/match"
	"github.com/procintel/sinoscan/internal/pattern"
	"github.com/procintel/sinoscan/internal/schema"
)

// usStateCodes validates the place_name_homonym class: a city match whose
// record carries one of these in its state field is a US place reference,
// not a PRC one ("Canton, OH" vs Canton/Guangzhou).
var usStateCodes = map[string]bool{
	"AL": true, "AK": true, "AZ": true, "AR": true, "CA": true, "CO": true,
	"CT": true, "DE": true, "FL": true, "GA": true, "HI": true, "ID": true,
	"IL": true, "IN": true, "IA": true, "KS": true, "KY": true, "LA": true,
	"ME": true, "MD": true, "MA": true, "MI": true, "MN": true, "MS": true,
	"MO": true, "MT": true, "NE": true, "NV": true, "NH": true, "NJ": true,
	"NM": true, "NY": true, "NC": true, "ND": true, "OH": true, "OK": true,
	"OR": true, "PA": true, "RI": true, "SC": true, "SD": true, "TN": true,
	"TX": true, "UT": true, "VT": true, "VA": true, "WA": true, "WV": true,
	"WI": true, "WY": true, "DC": true, "PR": true, "VI": true, "GU": true,
	"AS": true, "MP": true,
}

// Filter evaluates the false-positive rules against raw matches and returns
// the survivors plus an audit trail of suppressions.
//
// Evaluation order matters: the name-based classes run first, and the
// jurisdiction class only runs when no TIER_1 exact-word match survived
// them. An
// explicit strategic-entity name on a Taiwan/Hong Kong record legitimately
// classifies TIER_1 (ownership structures span both), while a bare TIER_2
// "china" substring on the same record must not.
func Filter(matches []match.Match, rec *schema.CandidateRecord, rs *RuleSet) ([]match.Match, []Suppression) {
	var survivors []match.Match
	var suppressed []Suppression

	// Phase 1: name-based suppression.
	for _, m := range matches {
		if sup, dropped := rs.nameSuppression(m, rec); dropped {
			suppressed = append(suppressed, sup)
			continue
		}
		survivors = append(survivors, m)
	}

	// Phase 2: jurisdiction suppression, overridden by a surviving TIER_1
	// exact-word match. A substring or regex TIER_1 hit is too weak to
	// carry the override on its own.
	for _, m := range survivors {
		if m.Pattern.Tier == pattern.TierOne && m.ModeUsed == pattern.ModeExactWord {
			return survivors, suppressed
		}
	}

	for _, rule := range rs.jurisdictionRules {
		field, ok := rule.firesOnCountry(rec)
		if !ok {
			continue
		}
		for _, m := range survivors {
			suppressed = append(suppressed, Suppression{
				Match:  m,
				RuleID: rule.ID(),
				Class:  rule.Class,
				Reason: field + " is an excluded jurisdiction",
			})
		}
		return nil, suppressed
	}

	return survivors, suppressed
}

// nameSuppression checks one match against the phase-1 rule classes in rule
// file order. First firing rule wins.
func (rs *RuleSet) nameSuppression(m match.Match, rec *schema.CandidateRecord) (Suppression, bool) {
	fieldText := strings.ToLower(rec.TextField(m.Field))

	for _, rule := range rs.nameRules {
		if !rule.appliesToField(m.Field) {
			continue
		}

		switch rule.Class {
		case ClassSubstringCollision:
			// An explicit organization match is never suppressed by a
			// benign qualifier. In scope are substring hits of the
			// ambiguous token itself and, for suppress_places rules, any
			// place-category match in the same field ("Beijing Branch" in
			// an insurance company name).
			if m.Pattern.Category == pattern.CategoryOrganization {
				continue
			}
			collides := m.ModeUsed == pattern.ModeSubstring && rule.Pattern == m.Pattern.LowerText
			if !collides && !(rule.SuppressPlaces && m.Pattern.Category == pattern.CategoryPlace) {
				continue
			}
			if qualifier, ok := rule.qualifierIn(fieldText); ok {
				return Suppression{
					Match:  m,
					RuleID: rule.ID(),
					Class:  rule.Class,
					Reason: "benign qualifier " + qualifier + " co-occurs in " + m.Field,
				}, true
			}

		case ClassPlaceNameHomonym:
			if m.Pattern.Category != pattern.CategoryPlace || rule.Pattern != m.Pattern.LowerText {
				continue
			}
			if state := strings.ToUpper(strings.TrimSpace(rec.RecipientState)); usStateCodes[state] {
				return Suppression{
					Match:  m,
					RuleID: rule.ID(),
					Class:  rule.Class,
					Reason: "US state " + state + " invalidates place reference",
				}, true
			}

		case ClassExcludedEntity:
			if normalizeEntity(fieldText) == rule.Pattern {
				return Suppression{
					Match:  m,
					RuleID: rule.ID(),
					Class:  rule.Class,
					Reason: m.Field + " is a deny-listed entity",
				}, true
			}
		}
	}

	return Suppression{}, false
}

// qualifierIn reports the first benign qualifier present in the field text.
func (r *FalsePositiveRule) qualifierIn(fieldText string) (string, bool) {
	for _, q := range r.Qualifiers {
		if strings.Contains(fieldText, q) {
			return q, true
		}
	}
	return "", false
}

// firesOnCountry reports which of the rule's country fields names the
// excluded jurisdiction, if any.
func (r *FalsePositiveRule) firesOnCountry(rec *schema.CandidateRecord) (string, bool) {
	for _, field := range r.AppliesTo {
		value := strings.ToLower(strings.TrimSpace(rec.TextField(field)))
		if value != "" && value == r.Pattern {
			return field, true
		}
	}
	return "", false
}

// normalizeEntity folds an already-lowercased entity name for deny-list
// comparison: collapsed whitespace, trailing punctuation stripped. Deny-list
// entries are stored in the same folded form at load.
func normalizeEntity(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	return strings.TrimRight(s, ".,")
}
