package pattern

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"
)

func writePatternFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "patterns.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write fixture: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	logger := zap.NewNop()

	t.Run("ValidLibrary", func(t *testing.T) {
		path := writePatternFile(t, `
version: "test"
patterns:
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
`)
		set, err := Load(logger, path)
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if set.Len() != 3 {
			t.Errorf("Len() = %d, want 3", set.Len())
		}
		if len(set.Organizations()) != 1 {
			t.Errorf("Organizations() = %d, want 1", len(set.Organizations()))
		}
		if len(set.Places()) != 2 {
			t.Errorf("Places() = %d, want 2", len(set.Places()))
		}
	})

	t.Run("ShortSubstringRejected", func(t *testing.T) {
		path := writePatternFile(t, `
patterns:
  - pattern: "ZTE"
    tier: TIER_1
    match_mode: substring
    category: organization
`)
		_, err := Load(logger, path)
		var loadErr *PatternLoadError
		if !errors.As(err, &loadErr) {
			t.Fatalf("want *PatternLoadError, got %v", err)
		}
	})

	t.Run("ShortExactWordAccepted", func(t *testing.T) {
		path := writePatternFile(t, `
patterns:
  - pattern: "ZTE"
    tier: TIER_1
    match_mode: exact_word
    category: organization
`)
		if _, err := Load(logger, path); err != nil {
			t.Fatalf("Load failed: %v", err)
		}
	})

	t.Run("AmbiguousTierRejected", func(t *testing.T) {
		path := writePatternFile(t, `
patterns:
  - pattern: "Hikvision"
    tier: TIER_1
    match_mode: exact_word
    category: organization
  - pattern: "hikvision"
    tier: TIER_2
    match_mode: exact_word
    category: organization
`)
		_, err := Load(logger, path)
		var loadErr *PatternLoadError
		if !errors.As(err, &loadErr) {
			t.Fatalf("want *PatternLoadError, got %v", err)
		}
	})

	t.Run("DuplicateSameTierCollapses", func(t *testing.T) {
		path := writePatternFile(t, `
patterns:
  - pattern: "Hytera"
    tier: TIER_1
    match_mode: exact_word
    category: organization
  - pattern: "HYTERA"
    tier: TIER_1
    match_mode: exact_word
    category: organization
`)
		set, err := Load(logger, path)
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if set.Len() != 1 {
			t.Errorf("Len() = %d, want 1", set.Len())
		}
	})

	t.Run("BadRegexFailsLoad", func(t *testing.T) {
		path := writePatternFile(t, `
patterns:
  - pattern: "people[s"
    tier: TIER_2
    match_mode: regex
    category: place
`)
		_, err := Load(logger, path)
		var loadErr *PatternLoadError
		if !errors.As(err, &loadErr) {
			t.Fatalf("want *PatternLoadError, got %v", err)
		}
	})

	t.Run("UnsupportedTier", func(t *testing.T) {
		path := writePatternFile(t, `
patterns:
  - pattern: "Huawei"
    tier: TIER_3
    match_mode: exact_word
    category: organization
`)
		if _, err := Load(logger, path); err == nil {
			t.Fatal("want error for unsupported tier")
		}
	})

	t.Run("EmptyLibraryRejected", func(t *testing.T) {
		path := writePatternFile(t, `patterns: []`)
		if _, err := Load(logger, path); err == nil {
			t.Fatal("want error for empty library")
		}
	})

	t.Run("MissingFile", func(t *testing.T) {
		if _, err := Load(logger, filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
			t.Fatal("want error for missing file")
		}
	})
}

func TestPatternID(t *testing.T) {
	p := &EntityPattern{Text: "Huawei", Tier: TierOne, Mode: ModeExactWord, LowerText: "huawei"}
	if got := p.ID(); got != "t1:exact_word:huawei" {
		t.Errorf("ID() = %q", got)
	}
	p2 := &EntityPattern{Text: "china", Tier: TierTwo, Mode: ModeSubstring, LowerText: "china"}
	if got := p2.ID(); got != "t2:substring:china" {
		t.Errorf("ID() = %q", got)
	}
}
