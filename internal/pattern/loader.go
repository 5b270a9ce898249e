package pattern

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// shortPatternRunes is the length below which substring matching is refused
// outright. Short tokens like "ZTE" or "AVIC" as substrings produce the
// "ZTERS"/"MAVICH" class of false positive; they must use exact_word.
const shortPatternRunes = 4

type patternFile struct {
	Version  string         `yaml:"version"`
	Patterns []patternEntry `yaml:"patterns"`
}

type patternEntry struct {
	Pattern     string `yaml:"pattern"`
	Tier        string `yaml:"tier"`
	MatchMode   string `yaml:"match_mode"`
	Category    string `yaml:"category"`
	LanguageTag string `yaml:"language_tag"`
	SourceNote  string `yaml:"source_note"`
}

type dedupeKey struct {
	text string
	mode MatchMode
}

// Load reads, validates, compiles and deduplicates the pattern library from
// one or more YAML files. Any malformed entry fails the whole load.
func Load(logger *zap.Logger, paths ...string) (*Set, error) {
	set := &Set{}
	seen := make(map[dedupeKey]*EntityPattern)

	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read pattern file: %w", err)
		}

		var file patternFile
		if err := yaml.Unmarshal(data, &file); err != nil {
			return nil, &PatternLoadError{File: path, Index: -1, Reason: "malformed YAML: " + err.Error()}
		}

		for i, entry := range file.Patterns {
			compiled, err := compileEntry(path, i, entry)
			if err != nil {
				return nil, err
			}

			key := dedupeKey{text: compiled.LowerText, mode: compiled.Mode}
			if prior, ok := seen[key]; ok {
				if prior.Tier != compiled.Tier {
					return nil, &PatternLoadError{
						File:  path,
						Index: i,
						Reason: fmt.Sprintf("pattern %q already loaded with tier %s, ambiguous tiering with %s",
							entry.Pattern, prior.Tier, compiled.Tier),
					}
				}
				// Same (text, mode, tier): duplicate entries collapse.
				continue
			}
			seen[key] = compiled

			set.all = append(set.all, compiled)
			switch compiled.Category {
			case CategoryOrganization:
				set.orgs = append(set.orgs, compiled)
			case CategoryPlace:
				set.places = append(set.places, compiled)
			}
		}

		logger.Info("Pattern file loaded",
			zap.String("file", path),
			zap.String("version", file.Version),
			zap.Int("entries", len(file.Patterns)))
	}

	if set.Len() == 0 {
		return nil, &PatternLoadError{File: strings.Join(paths, ","), Index: -1, Reason: "no patterns loaded"}
	}

	logger.Info("Pattern library ready",
		zap.Int("patterns", set.Len()),
		zap.Int("organizations", len(set.orgs)),
		zap.Int("places", len(set.places)))

	return set, nil
}

func compileEntry(path string, index int, entry patternEntry) (*EntityPattern, error) {
	text := strings.TrimSpace(entry.Pattern)
	if text == "" {
		return nil, &PatternLoadError{File: path, Index: index, Reason: "empty pattern"}
	}

	tier := Tier(entry.Tier)
	if tier != TierOne && tier != TierTwo {
		return nil, &PatternLoadError{File: path, Index: index, Reason: "missing or unsupported tier: " + entry.Tier}
	}

	mode := MatchMode(entry.MatchMode)
	switch mode {
	case ModeExactWord, ModeSubstring, ModeRegex:
	default:
		return nil, &PatternLoadError{File: path, Index: index, Reason: "unsupported match_mode: " + entry.MatchMode}
	}

	category := Category(entry.Category)
	switch category {
	case CategoryOrganization, CategoryPlace:
	default:
		return nil, &PatternLoadError{File: path, Index: index, Reason: "missing or unsupported category: " + entry.Category}
	}

	if mode == ModeSubstring && utf8.RuneCountInString(text) < shortPatternRunes {
		return nil, &PatternLoadError{
			File:  path,
			Index: index,
			Reason: fmt.Sprintf("pattern %q is too short (< %d runes) for substring matching, use exact_word",
				text, shortPatternRunes),
		}
	}

	compiled := &EntityPattern{
		Text:        text,
		Tier:        tier,
		Mode:        mode,
		Category:    category,
		LanguageTag: entry.LanguageTag,
		SourceNote:  entry.SourceNote,
		LowerText:   strings.ToLower(text),
	}

	if mode == ModeRegex {
		// Case-insensitive by default, matching the lowercased scans of the
		// other modes. A corrupt expression fails the whole load.
		re, err := regexp.Compile("(?i)" + text)
		if err != nil {
			return nil, &PatternLoadError{File: path, Index: index, Reason: "regex compile failed: " + err.Error()}
		}
		compiled.Regex = re
	}

	return compiled, nil
}
