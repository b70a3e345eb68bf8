package policy

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadBlockedTerms reads the blocked-terms list from a YAML file of the form:
//
//	blocked_terms:
//	  - confidential
//	  - internal only
//
// Terms are lowercased and deduplicated. A missing file falls back to the
// extra terms alone; extra terms are appended either way.
func LoadBlockedTerms(path string, extra []string) ([]string, error) {
	var terms []string
	if path != "" {
		raw, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			// fall through to extras
		case err != nil:
			return nil, fmt.Errorf("read blocked terms: %w", err)
		default:
			var doc struct {
				BlockedTerms []string `yaml:"blocked_terms"`
			}
			if err := yaml.Unmarshal(raw, &doc); err != nil {
				return nil, fmt.Errorf("parse blocked terms: %w", err)
			}
			terms = doc.BlockedTerms
		}
	}
	terms = append(terms, extra...)

	seen := map[string]struct{}{}
	out := make([]string, 0, len(terms))
	for _, t := range terms {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out, nil
}
