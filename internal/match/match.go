package match

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/procintel/sinoscan/internal/pattern"
	"github.com/procintel/sinoscan/internal/schema"
)

// Span marks the start/end byte offsets of a match within the case-folded
// field text.
type Span struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Match is one raw pattern hit on one record field. Matches are transient:
// produced and consumed within a single record's processing pass, never
// persisted directly.
type Match struct {
	Field    string
	Pattern  *pattern.EntityPattern
	ModeUsed pattern.MatchMode
	Span     Span
}

// scanFields is the fixed field iteration order. Together with pattern
// registration order it makes FindMatches output deterministic; nothing here
// iterates a map.
var scanFields = []string{
	schema.FieldRecipientName,
	schema.FieldVendorName,
	schema.FieldAwardDescription,
	schema.FieldRecipientCity,
}

// FindMatches applies the pattern set to a record's text fields and returns
// every raw hit. The recipient_city field is only scanned with place
// patterns: an organization name has no business matching a city column,
// while a PRC place name there is exactly what the homonym rules vet.
func FindMatches(rec *schema.CandidateRecord, set *pattern.Set) []Match {
	var matches []Match

	for _, field := range scanFields {
		text := strings.ToLower(rec.TextField(field))
		if text == "" {
			continue
		}

		patterns := set.All()
		if field == schema.FieldRecipientCity {
			patterns = set.Places()
		}

		for _, p := range patterns {
			for _, span := range scan(text, p) {
				matches = append(matches, Match{
					Field:    field,
					Pattern:  p,
					ModeUsed: p.Mode,
					Span:     span,
				})
			}
		}
	}

	return matches
}

// scan finds all occurrences of one pattern in folded text.
func scan(text string, p *pattern.EntityPattern) []Span {
	switch p.Mode {
	case pattern.ModeExactWord:
		return scanWordBoundary(text, p.LowerText)
	case pattern.ModeSubstring:
		return scanSubstring(text, p.LowerText)
	case pattern.ModeRegex:
		var spans []Span
		for _, loc := range p.Regex.FindAllStringIndex(text, -1) {
			spans = append(spans, Span{Start: loc[0], End: loc[1]})
		}
		return spans
	}
	return nil
}

// scanSubstring reports every plain occurrence of needle.
func scanSubstring(text, needle string) []Span {
	var spans []Span
	for from := 0; ; {
		i := strings.Index(text[from:], needle)
		if i < 0 {
			break
		}
		start := from + i
		end := start + len(needle)
		spans = append(spans, Span{Start: start, End: end})
		from = start + 1
	}
	return spans
}

// scanWordBoundary reports occurrences of needle that begin and end at token
// boundaries: the match may not start or end mid-alphanumeric-token. This is
// what keeps "ZTE" from matching inside "ZTERS". A manual boundary check is
// used instead of a \b regex because needles may contain spaces, punctuation
// or non-ASCII letters.
func scanWordBoundary(text, needle string) []Span {
	var spans []Span
	for _, span := range scanSubstring(text, needle) {
		if boundaryBefore(text, span.Start) && boundaryAfter(text, span.End) {
			spans = append(spans, span)
		}
	}
	return spans
}

func boundaryBefore(text string, start int) bool {
	if start == 0 {
		return true
	}
	r, _ := utf8.DecodeLastRuneInString(text[:start])
	return !isWordRune(r)
}

func boundaryAfter(text string, end int) bool {
	if end >= len(text) {
		return true
	}
	r, _ := utf8.DecodeRuneInString(text[end:])
	return !isWordRune(r)
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}
