package classify

import (
	"github.com/procintel/sinoscan/internal/match"
	"github.com/procintel/sinoscan/internal/pattern"
	"github.com/procintel/sinoscan/internal/rules"
	"github.com/procintel/sinoscan/internal/schema"
)

// TierNone marks a record with no surviving matches. Such records are never
// emitted to the sink; the constant exists for reports and tests.
const TierNone = pattern.Tier("NONE")

// Confidence is the classification confidence level.
type Confidence string

const (
	ConfidenceHigh   Confidence = "HIGH"
	ConfidenceMedium Confidence = "MEDIUM"
	ConfidenceLow    Confidence = "LOW"
	ConfidenceNone   Confidence = "NONE"
)

// RecordRef is the provenance key of a detection: it identifies the exact
// source row and doubles as the sink's idempotent upsert key.
type RecordRef struct {
	SourceFormatID string `json:"source_format_id"`
	SourceOffset   int64  `json:"source_offset"`
}

// MatchRationale is the serialized form of one surviving match.
type MatchRationale struct {
	Field   string     `json:"field"`
	Pattern string     `json:"pattern"`
	Tier    string     `json:"tier"`
	Mode    string     `json:"mode"`
	Span    match.Span `json:"span"`
}

// SuppressionRationale records one match dropped by a false-positive rule.
type SuppressionRationale struct {
	Field   string `json:"field"`
	Pattern string `json:"pattern"`
	Rule    string `json:"rule"`
	Reason  string `json:"reason"`
}

// Rationale is the detection_details JSON payload.
type Rationale struct {
	Matches      []MatchRationale       `json:"matches"`
	Suppressions []SuppressionRationale `json:"suppressions,omitempty"`
}

// DetectionResult is the unit of output: created once per positive record,
// written once, never mutated. Corrections are a new run superseding a prior
// one via the upsert key, not in-place edits.
type DetectionResult struct {
	Ref        RecordRef
	Tier       pattern.Tier
	Confidence Confidence

	// DetectionTypes lists pattern identifiers in the order they fired,
	// deduplicated.
	DetectionTypes []string
	Rationale      Rationale

	// Provenance snapshot for the sink row.
	RecipientName      string
	VendorName         string
	RecipientCountry   string
	PerformanceCountry string
}

// Classify reduces the surviving matches of one record to a single
// DetectionResult, or nil when nothing survived (tier NONE, not emitted).
//
// Precedence is deterministic: any surviving TIER_1 match forces
// TIER_1/HIGH no matter how many TIER_2 matches also fired. Otherwise the
// record is TIER_2 and confidence is derived from match strength: a
// word-boundary hit, or corroboration across two or more distinct fields,
// lifts LOW to MEDIUM. TIER_2 never reaches HIGH.
func Classify(rec *schema.CandidateRecord, survivors []match.Match, suppressions []rules.Suppression) *DetectionResult {
	if len(survivors) == 0 {
		return nil
	}

	result := &DetectionResult{
		Ref: RecordRef{
			SourceFormatID: rec.SourceFormatID,
			SourceOffset:   rec.SourceOffset,
		},
		RecipientName:      rec.RecipientName,
		VendorName:         rec.VendorName,
		RecipientCountry:   rec.RecipientCountry,
		PerformanceCountry: rec.PerformanceCountry,
	}

	hasTier1 := false
	hasExactWord := false
	fieldsHit := make(map[string]bool)
	seenTypes := make(map[string]bool)

	for _, m := range survivors {
		if m.Pattern.Tier == pattern.TierOne {
			hasTier1 = true
		}
		if m.ModeUsed == pattern.ModeExactWord {
			hasExactWord = true
		}
		fieldsHit[m.Field] = true

		if id := m.Pattern.ID(); !seenTypes[id] {
			seenTypes[id] = true
			result.DetectionTypes = append(result.DetectionTypes, id)
		}

		result.Rationale.Matches = append(result.Rationale.Matches, MatchRationale{
			Field:   m.Field,
			Pattern: m.Pattern.Text,
			Tier:    string(m.Pattern.Tier),
			Mode:    string(m.ModeUsed),
			Span:    m.Span,
		})
	}

	for _, s := range suppressions {
		result.Rationale.Suppressions = append(result.Rationale.Suppressions, SuppressionRationale{
			Field:   s.Match.Field,
			Pattern: s.Match.Pattern.Text,
			Rule:    s.RuleID,
			Reason:  s.Reason,
		})
	}

	switch {
	case hasTier1:
		result.Tier = pattern.TierOne
		result.Confidence = ConfidenceHigh
	case hasExactWord || len(fieldsHit) >= 2:
		result.Tier = pattern.TierTwo
		result.Confidence = ConfidenceMedium
	default:
		result.Tier = pattern.TierTwo
		result.Confidence = ConfidenceLow
	}

	return result
}
