package match

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"go.uber.org/zap"

	"github.com/procintel/sinoscan/internal/pattern"
	"github.com/procintel/sinoscan/internal/schema"
)

const testLibrary = `
version: "test"
patterns:
  - pattern: "ZTE"
    tier: TIER_1
    match_mode: exact_word
    category: organization
  - pattern: "AVIC"
    tier: TIER_1
    match_mode: exact_word
    category: organization
  - pattern: "Huawei"
    tier: TIER_1
    match_mode: exact_word
    category: organization
  - pattern: "china"
    tier: TIER_2
    match_mode: substring
    category: place
  - pattern: "Beijing"
    tier: TIER_2
    match_mode: exact_word
    category: place
  - pattern: "Canton"
    tier: TIER_2
    match_mode: exact_word
    category: place
  - pattern: "(?:people.?s\\s+republic\\s+of\\s+china)"
    tier: TIER_2
    match_mode: regex
    category: place
`

func loadTestSet(t *testing.T) *pattern.Set {
	t.Helper()
	path := filepath.Join(t.TempDir(), "patterns.yaml")
	if err := os.WriteFile(path, []byte(testLibrary), 0o644); err != nil {
		t.Fatalf("failed to write fixture: %v", err)
	}
	set, err := pattern.Load(zap.NewNop(), path)
	if err != nil {
		t.Fatalf("pattern.Load failed: %v", err)
	}
	return set
}

func matchedIDs(matches []Match) []string {
	ids := make([]string, 0, len(matches))
	for _, m := range matches {
		ids = append(ids, m.Field+"/"+m.Pattern.ID())
	}
	return ids
}

func TestFindMatches(t *testing.T) {
	set := loadTestSet(t)

	t.Run("ShortTokenNeverMatchesInsideWord", func(t *testing.T) {
		rec := &schema.CandidateRecord{RecipientName: "ZTERS CONSULTING LLC"}
		for _, m := range FindMatches(rec, set) {
			if m.Pattern.LowerText == "zte" {
				t.Errorf("ZTE matched inside ZTERS at %+v", m.Span)
			}
		}

		rec = &schema.CandidateRecord{RecipientName: "MAVICH HOLDINGS"}
		for _, m := range FindMatches(rec, set) {
			if m.Pattern.LowerText == "avic" {
				t.Errorf("AVIC matched inside MAVICH at %+v", m.Span)
			}
		}
	})

	t.Run("ExactWordMatchesDelimitedToken", func(t *testing.T) {
		for _, name := range []string{"ZTE CORPORATION", "zte usa, inc.", "SHENZHEN ZTE"} {
			rec := &schema.CandidateRecord{RecipientName: name}
			found := false
			for _, m := range FindMatches(rec, set) {
				if m.Pattern.LowerText == "zte" {
					found = true
				}
			}
			if !found {
				t.Errorf("ZTE not matched in %q", name)
			}
		}
	})

	t.Run("SubstringMatchesEmbedded", func(t *testing.T) {
		rec := &schema.CandidateRecord{AwardDescription: "fine china dinnerware and chinaware sets"}
		count := 0
		for _, m := range FindMatches(rec, set) {
			if m.Pattern.LowerText == "china" && m.ModeUsed == pattern.ModeSubstring {
				count++
			}
		}
		if count != 2 {
			t.Errorf("substring china matched %d times, want 2", count)
		}
	})

	t.Run("RegexMatchesVariants", func(t *testing.T) {
		for _, text := range []string{
			"People's Republic of China",
			"PEOPLES  REPUBLIC OF CHINA",
		} {
			rec := &schema.CandidateRecord{AwardDescription: text}
			found := false
			for _, m := range FindMatches(rec, set) {
				if m.ModeUsed == pattern.ModeRegex {
					found = true
				}
			}
			if !found {
				t.Errorf("regex did not match %q", text)
			}
		}
	})

	t.Run("CityFieldScansPlacesOnly", func(t *testing.T) {
		rec := &schema.CandidateRecord{RecipientCity: "HUAWEI"}
		if got := FindMatches(rec, set); len(got) != 0 {
			t.Errorf("organization pattern matched city field: %v", matchedIDs(got))
		}

		rec = &schema.CandidateRecord{RecipientCity: "CANTON"}
		got := FindMatches(rec, set)
		if len(got) != 1 || got[0].Field != schema.FieldRecipientCity {
			t.Fatalf("city place match = %v", matchedIDs(got))
		}
	})

	t.Run("SpansIndexFoldedText", func(t *testing.T) {
		rec := &schema.CandidateRecord{RecipientName: "HUAWEI TECH"}
		got := FindMatches(rec, set)
		if len(got) != 1 {
			t.Fatalf("matches = %v", matchedIDs(got))
		}
		if got[0].Span != (Span{Start: 0, End: 6}) {
			t.Errorf("Span = %+v", got[0].Span)
		}
	})

	t.Run("Deterministic", func(t *testing.T) {
		rec := &schema.CandidateRecord{
			RecipientName:    "HUAWEI TECHNOLOGIES CHINA CO",
			VendorName:       "DEPT OF DEFENSE",
			AwardDescription: "network gear from Beijing and the People's Republic of China",
			RecipientCity:    "BEIJING",
		}
		first := matchedIDs(FindMatches(rec, set))
		for i := 0; i < 10; i++ {
			if got := matchedIDs(FindMatches(rec, set)); !reflect.DeepEqual(got, first) {
				t.Fatalf("run %d diverged:\n%v\n%v", i, got, first)
			}
		}
	})

	t.Run("EmptyRecordNoMatches", func(t *testing.T) {
		if got := FindMatches(&schema.CandidateRecord{}, set); len(got) != 0 {
			t.Errorf("matches on empty record: %v", matchedIDs(got))
		}
	})
}
