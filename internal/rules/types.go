package rules

import (
	"fmt"

	"github.com/procintel/sinoscan/internal/match"
)

// RuleClass identifies the false-positive class a rule belongs to.
type RuleClass string

const (
	// ClassSubstringCollision drops substring matches of polysemous tokens
	// (china, sino) co-occurring with a known benign qualifier (porcelain,
	// casino, hotel) in the same field.
	ClassSubstringCollision RuleClass = "substring_collision"

	// ClassPlaceNameHomonym vets city-name matches (Canton) against the
	// accompanying state field; a US state code invalidates the match.
	ClassPlaceNameHomonym RuleClass = "place_name_homonym"

	// ClassExcludedEntity is an explicit deny-list of full entity names
	// known to be non-Chinese despite pattern overlap.
	ClassExcludedEntity RuleClass = "excluded_entity"

	// ClassExcludedJurisdiction suppresses remaining TIER_2 matches when a
	// country field names an excluded jurisdiction. Evaluated after the
	// name-based classes; an independent TIER_1 match overrides it.
	ClassExcludedJurisdiction RuleClass = "excluded_jurisdiction"
)

// FalsePositiveRule is one entry of the rule files. Immutable after load.
type FalsePositiveRule struct {
	Pattern    string // case-folded token, entity name, or country code
	Class      RuleClass
	AppliesTo  []string // CandidateRecord field names the rule guards
	Qualifiers []string // substring_collision: benign co-occurring terms, folded

	// SuppressPlaces widens a substring_collision rule to also suppress
	// place-category matches of any mode in its fields when a qualifier
	// co-occurs. Sector rules use it: "Beijing Branch" inside an insurance
	// company name is part of the benign name, not a place reference.
	SuppressPlaces bool

	Policy string // optional policy guard resolved at load time
	Note   string
}

// ID returns the stable identifier recorded in rationale output when this
// rule suppresses a match.
func (r *FalsePositiveRule) ID() string {
	return fmt.Sprintf("fp:%s:%s", r.Class, r.Pattern)
}

func (r *FalsePositiveRule) appliesToField(field string) bool {
	for _, f := range r.AppliesTo {
		if f == field {
			return true
		}
	}
	return false
}

// Suppression records one match dropped by one rule, for the rationale
// payload and the shard report.
type Suppression struct {
	Match  match.Match
	RuleID string
	Class  RuleClass
	Reason string
}

// RuleSet holds the loaded false-positive rules, split by evaluation phase.
// Name-based rules run first; jurisdiction rules run second so TIER_1
// survivors can override them.
type RuleSet struct {
	nameRules         []*FalsePositiveRule
	jurisdictionRules []*FalsePositiveRule
}

// Len returns the number of active rules.
func (rs *RuleSet) Len() int {
	return len(rs.nameRules) + len(rs.jurisdictionRules)
}

// RuleLoadError reports a malformed rule entry. Like pattern load errors it
// is fatal at startup.
type RuleLoadError struct {
	File   string
	Index  int
	Reason string
}

func (e *RuleLoadError) Error() string {
	return fmt.Sprintf("rule load error (%s entry %d): %s", e.File, e.Index, e.Reason)
}
