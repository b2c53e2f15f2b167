package nodegroup

import (
	"reflect"
	"testing"
)

func TestMatches(t *testing.T) {
	facts := map[string]any{
		"stage": "production",
		"os": map[string]any{
			"family": "debian",
		},
	}

	tests := []struct {
		name  string
		rules []FilterRule
		want  bool
	}{
		{
			name: "single part match",
			rules: []FilterRule{
				{Part: []FilterPart{{Fact: "stage", Values: []string{"production"}}}},
			},
			want: true,
		},
		{
			name: "value not allowed",
			rules: []FilterRule{
				{Part: []FilterPart{{Fact: "stage", Values: []string{"staging"}}}},
			},
			want: false,
		},
		{
			name: "nested fact path",
			rules: []FilterRule{
				{Part: []FilterPart{{Fact: "os.family", Values: []string{"debian", "redhat"}}}},
			},
			want: true,
		},
		{
			name: "missing fact",
			rules: []FilterRule{
				{Part: []FilterPart{{Fact: "role", Values: []string{"web"}}}},
			},
			want: false,
		},
		{
			name: "conjunction fails on one part",
			rules: []FilterRule{
				{Part: []FilterPart{
					{Fact: "stage", Values: []string{"production"}},
					{Fact: "os.family", Values: []string{"redhat"}},
				}},
			},
			want: false,
		},
		{
			name: "disjunction matches second rule",
			rules: []FilterRule{
				{Part: []FilterPart{{Fact: "stage", Values: []string{"staging"}}}},
				{Part: []FilterPart{{Fact: "os.family", Values: []string{"debian"}}}},
			},
			want: true,
		},
		{
			name: "empty rule never matches",
			rules: []FilterRule{
				{Part: nil},
			},
			want: false,
		},
		{
			name: "path through non-map fails",
			rules: []FilterRule{
				{Part: []FilterPart{{Fact: "stage.deep", Values: []string{"x"}}}},
			},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Matches(tt.rules, facts); got != tt.want {
				t.Errorf("Matches() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMatchingGroups(t *testing.T) {
	groups := []Group{
		{ID: "all-production", Filters: []FilterRule{
			{Part: []FilterPart{{Fact: "stage", Values: []string{"production"}}}},
		}},
		{ID: "debian-hosts", Filters: []FilterRule{
			{Part: []FilterPart{{Fact: "os.family", Values: []string{"debian"}}}},
		}},
		{ID: "manual-group"}, // no filters, never auto-assigned
		{ID: "web-servers", Filters: []FilterRule{
			{Part: []FilterPart{{Fact: "role", Values: []string{"web"}}}},
		}},
	}

	facts := map[string]any{
		"stage": "production",
		"os":    map[string]any{"family": "debian"},
	}

	got := MatchingGroups(groups, facts)
	want := []string{"all-production", "debian-hosts"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("MatchingGroups() = %v, want %v", got, want)
	}

	if got := MatchingGroups(groups, map[string]any{}); got != nil {
		t.Errorf("Expected no groups for empty facts, got %v", got)
	}
}
