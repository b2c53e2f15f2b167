// Package nodegroup evaluates node-group filter rules against node facts.
// A group's filters form a disjunction of conjunctions: the group matches a
// node when any rule matches, a rule matches when every part matches, and a
// part matches when the fact at its (possibly nested) path is one of the
// allowed values.
package nodegroup

import "strings"

// FilterPart is one membership test over a dotted fact path.
type FilterPart struct {
	Fact   string   `json:"fact"`
	Values []string `json:"values"`
}

// FilterRule is a conjunction of parts.
type FilterRule struct {
	Part []FilterPart `json:"part"`
}

// Group is a node group with its filter rules.
type Group struct {
	ID      string       `json:"id"`
	Filters []FilterRule `json:"filters"`
}

// Matches reports whether the node facts satisfy any of the rules.
func Matches(rules []FilterRule, facts map[string]any) bool {
	for _, rule := range rules {
		if matchesRule(rule, facts) {
			return true
		}
	}
	return false
}

func matchesRule(rule FilterRule, facts map[string]any) bool {
	if len(rule.Part) == 0 {
		return false
	}
	for _, part := range rule.Part {
		if !matchesPart(part, facts) {
			return false
		}
	}
	return true
}

func matchesPart(part FilterPart, facts map[string]any) bool {
	current := any(facts)
	for _, key := range strings.Split(part.Fact, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return false
		}
		current, ok = m[key]
		if !ok {
			return false
		}
	}
	value, ok := current.(string)
	if !ok {
		return false
	}
	for _, allowed := range part.Values {
		if value == allowed {
			return true
		}
	}
	return false
}

// MatchingGroups returns the ids of the groups whose filters match the node
// facts, in the given group order.
func MatchingGroups(groups []Group, facts map[string]any) []string {
	var ids []string
	for _, g := range groups {
		if len(g.Filters) == 0 {
			continue
		}
		if Matches(g.Filters, facts) {
			ids = append(ids, g.ID)
		}
	}
	return ids
}
