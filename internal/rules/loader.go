package rules

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

type ruleFile struct {
	Version string      `yaml:"version"`
	Rules   []ruleEntry `yaml:"rules"`
}

type ruleEntry struct {
	Pattern        string   `yaml:"pattern"`
	Class          string   `yaml:"class"`
	AppliesTo      []string `yaml:"applies_to_fields"`
	Qualifiers     []string `yaml:"qualifiers"`
	SuppressPlaces bool     `yaml:"suppress_places"`
	Policy         string   `yaml:"policy"`
	Note           string   `yaml:"note"`
}

// Load reads and validates the false-positive rule files. Policies maps
// policy guard names to their configured value; a rule carrying an inactive
// policy guard is skipped, which is how the Hong Kong jurisdiction question
// stays a configuration choice instead of code.
func Load(logger *zap.Logger, policies map[string]bool, paths ...string) (*RuleSet, error) {
	set := &RuleSet{}
	skippedByPolicy := 0

	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read rule file: %w", err)
		}

		var file ruleFile
		if err := yaml.Unmarshal(data, &file); err != nil {
			return nil, &RuleLoadError{File: path, Index: -1, Reason: "malformed YAML: " + err.Error()}
		}

		for i, entry := range file.Rules {
			rule, err := buildRule(path, i, entry)
			if err != nil {
				return nil, err
			}

			if rule.Policy != "" && !policies[rule.Policy] {
				skippedByPolicy++
				continue
			}

			if rule.Class == ClassExcludedJurisdiction {
				set.jurisdictionRules = append(set.jurisdictionRules, rule)
			} else {
				set.nameRules = append(set.nameRules, rule)
			}
		}

		logger.Info("Rule file loaded",
			zap.String("file", path),
			zap.String("version", file.Version),
			zap.Int("entries", len(file.Rules)))
	}

	logger.Info("False-positive rule set ready",
		zap.Int("name_rules", len(set.nameRules)),
		zap.Int("jurisdiction_rules", len(set.jurisdictionRules)),
		zap.Int("skipped_by_policy", skippedByPolicy))

	return set, nil
}

func buildRule(path string, index int, entry ruleEntry) (*FalsePositiveRule, error) {
	text := strings.TrimSpace(entry.Pattern)
	if text == "" {
		return nil, &RuleLoadError{File: path, Index: index, Reason: "empty pattern"}
	}

	class := RuleClass(entry.Class)
	switch class {
	case ClassSubstringCollision, ClassPlaceNameHomonym, ClassExcludedEntity, ClassExcludedJurisdiction:
	default:
		return nil, &RuleLoadError{File: path, Index: index, Reason: "missing or unsupported class: " + entry.Class}
	}

	if len(entry.AppliesTo) == 0 {
		return nil, &RuleLoadError{File: path, Index: index, Reason: "applies_to_fields must not be empty"}
	}

	if class == ClassSubstringCollision && len(entry.Qualifiers) == 0 {
		return nil, &RuleLoadError{File: path, Index: index, Reason: "substring_collision rule needs at least one qualifier"}
	}

	if entry.SuppressPlaces && class != ClassSubstringCollision {
		return nil, &RuleLoadError{File: path, Index: index, Reason: "suppress_places only applies to substring_collision rules"}
	}

	folded := strings.ToLower(text)
	if class == ClassExcludedEntity {
		// Deny-list comparison happens in normalized form on both sides.
		folded = normalizeEntity(folded)
	}

	rule := &FalsePositiveRule{
		Pattern:        folded,
		Class:          class,
		AppliesTo:      entry.AppliesTo,
		SuppressPlaces: entry.SuppressPlaces,
		Policy:         entry.Policy,
		Note:           entry.Note,
	}
	for _, q := range entry.Qualifiers {
		q = strings.ToLower(strings.TrimSpace(q))
		if q != "" {
			rule.Qualifiers = append(rule.Qualifiers, q)
		}
	}

	return rule, nil
}
