// ABOUTME: Engine config merging (user over defaults) and did-you-mean ruleset suggestions
// ABOUTME: Suggestions rank known ruleset ids with sahilm/fuzzy

package engine

import (
	"sort"

	"github.com/sahilm/fuzzy"

	"github.com/mauromedda/forseti-go/pkg/protocol"
)

// maxSuggestions caps the did-you-mean list for an unknown ruleset.
const maxSuggestions = 3

// MergeConfig overlays user on defaults. enabled comes from user when set,
// otherwise from defaults. Rulesets merge key by key; a user entry replaces
// the default entry for the same ruleset whole. Neither input is modified.
func MergeConfig(defaults, user protocol.EngineConfig) protocol.EngineConfig {
	var merged protocol.EngineConfig
	if user.Enabled != nil {
		v := *user.Enabled
		merged.Enabled = &v
	} else if defaults.Enabled != nil {
		v := *defaults.Enabled
		merged.Enabled = &v
	}

	if len(defaults.Rulesets) == 0 && len(user.Rulesets) == 0 {
		return merged
	}
	merged.Rulesets = make(map[string]protocol.RulesetConfig, len(defaults.Rulesets)+len(user.Rulesets))
	for id, cfg := range defaults.Rulesets {
		merged.Rulesets[id] = cfg
	}
	for id, cfg := range user.Rulesets {
		merged.Rulesets[id] = cfg
	}
	return merged
}

// Suggest returns up to three known ids that look like id, best first.
func Suggest(id string, known []string) []string {
	if id == "" || len(known) == 0 {
		return nil
	}

	seen := map[string]bool{id: true}
	var out []string
	add := func(s string) {
		if len(out) < maxSuggestions && !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}

	// id typed as an abbreviation of a known id ("txt" for "text").
	for _, m := range fuzzy.Find(id, known) {
		add(m.Str)
	}

	// A known id hidden inside a longer, wrong one ("text-rules" for "text").
	var inside []fuzzy.Match
	for i, k := range known {
		if k == "" {
			continue
		}
		if ms := fuzzy.Find(k, []string{id}); len(ms) > 0 {
			m := ms[0]
			m.Str, m.Index = k, i
			inside = append(inside, m)
		}
	}
	sort.SliceStable(inside, func(i, j int) bool { return inside[i].Score > inside[j].Score })
	for _, m := range inside {
		add(m.Str)
	}

	return out
}
