package core

// vocabulary.go maps free-text status and category strings to a kind's
// canonical enumeration.
//
// Each kind declares one ordered rule table. Rules are checked in order and
// the first rule with a keyword occurring in the folded input wins, so
// terminal states (won, lost, completed) must precede provisional ones
// (sent, draft).

import "strings"

// VocabularyRule maps any of its keywords to a canonical value.
// Keywords are matched as substrings after folding case and accents.
type VocabularyRule struct {
	Value    string
	Keywords []string
}

// Vocabulary is an ordered rule table for one entity kind.
type Vocabulary struct {
	Kind    Kind
	Default string
	Rules   []VocabularyRule
}

// Values returns the canonical values in rule order, followed by the
// default when no rule produces it.
func (v *Vocabulary) Values() []string {
	out := make([]string, 0, len(v.Rules)+1)
	seen := make(map[string]bool, len(v.Rules)+1)
	for _, r := range v.Rules {
		if !seen[r.Value] {
			seen[r.Value] = true
			out = append(out, r.Value)
		}
	}
	if !seen[v.Default] {
		out = append(out, v.Default)
	}
	return out
}

// Classify returns the canonical value for s, or the default.
func (v *Vocabulary) Classify(s string) string {
	value, _ := v.ClassifyDetailed(s)
	return value
}

// ClassifyDetailed is Classify that also reports whether the default was
// used. An empty input is not reported as a fallback.
func (v *Vocabulary) ClassifyDetailed(s string) (value string, fellBack bool) {
	folded := Fold(CleanCell(s))
	if folded == "" {
		return v.Default, false
	}
	for _, rule := range v.Rules {
		for _, kw := range rule.Keywords {
			if kw == "" {
				continue
			}
			if strings.Contains(folded, Fold(kw)) {
				return rule.Value, false
			}
		}
	}
	return v.Default, true
}

// Canonical returns the enum value equal to s ignoring case and accents.
func (v *Vocabulary) Canonical(s string) (string, bool) {
	folded := Fold(s)
	for _, value := range v.Values() {
		if Fold(value) == folded {
			return value, true
		}
	}
	return "", false
}
