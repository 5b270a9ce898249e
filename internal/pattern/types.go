package pattern

import (
	"fmt"
	"regexp"
	"strings"
)

// Tier is the classification level a pattern contributes when it survives
// false-positive filtering.
type Tier string

const (
	TierOne Tier = "TIER_1" // explicit strategic entity name
	TierTwo Tier = "TIER_2" // general indicator needing corroboration
)

// MatchMode selects how a pattern is applied to field text.
type MatchMode string

const (
	ModeExactWord MatchMode = "exact_word" // word-boundary delimited
	ModeSubstring MatchMode = "substring"  // plain substring scan
	ModeRegex     MatchMode = "regex"      // compiled regular expression
)

// Category separates organization names from country/place names. The
// false-positive rules key off this distinction: a porcelain/hotel qualifier
// may suppress a substring place/indicator match but never an explicit
// organization match.
type Category string

const (
	CategoryOrganization Category = "organization"
	CategoryPlace        Category = "place"
)

// EntityPattern is one entry of the pattern library. Immutable after load.
type EntityPattern struct {
	Text        string
	Tier        Tier
	Mode        MatchMode
	Category    Category
	LanguageTag string
	SourceNote  string

	// LowerText is the case-folded needle used by exact_word and substring
	// scans; Regex is non-nil only for ModeRegex.
	LowerText string
	Regex     *regexp.Regexp
}

// ID returns the stable identifier recorded in detection_types for this
// pattern.
func (p *EntityPattern) ID() string {
	tier := "t2"
	if p.Tier == TierOne {
		tier = "t1"
	}
	return fmt.Sprintf("%s:%s:%s", tier, p.Mode, strings.ReplaceAll(p.LowerText, " ", "_"))
}

// Set is the compiled, deduplicated pattern library shared read-only by all
// shard workers. Slices preserve file registration order so match output is
// deterministic.
type Set struct {
	all    []*EntityPattern
	orgs   []*EntityPattern
	places []*EntityPattern
}

// All returns every pattern in registration order.
func (s *Set) All() []*EntityPattern { return s.all }

// Organizations returns organization-name patterns in registration order.
func (s *Set) Organizations() []*EntityPattern { return s.orgs }

// Places returns country/place-name patterns in registration order.
func (s *Set) Places() []*EntityPattern { return s.places }

// Len returns the number of loaded patterns.
func (s *Set) Len() int { return len(s.all) }

// PatternLoadError reports a malformed or ambiguous pattern entry. Pattern
// load errors are fatal: the engine refuses to run on a partial library.
type PatternLoadError struct {
	File   string
	Index  int
	Reason string
}

func (e *PatternLoadError) Error() string {
	return fmt.Sprintf("pattern load error (%s entry %d): %s", e.File, e.Index, e.Reason)
}
