package matcher

import (
	"testing"

	"github.com/Veraticus/chatfilter/pkg/rule"
)

func TestMatch(t *testing.T) {
	rules := []rule.FilterRule{
		{Keyword: "disabled", Enabled: false, Mute: true},
		{Keyword: "Gold", Enabled: true, Mute: true},
		{Keyword: "gold farm", Enabled: true, Report: true},
		{Keyword: "scam", Enabled: true, Mute: true, Report: true},
	}

	tests := []struct {
		name      string
		message   string
		wantMatch bool
		want      string
	}{
		{name: "no match", message: "hello there", wantMatch: false},
		{name: "case insensitive", message: "Selling GOLD cheap", wantMatch: true, want: "Gold"},
		{name: "first rule wins over later overlap", message: "gold farm here", wantMatch: true, want: "Gold"},
		{name: "disabled rule skipped", message: "this is disabled", wantMatch: false},
		{name: "substring inside word", message: "scammers", wantMatch: true, want: "scam"},
		{name: "empty message", message: "", wantMatch: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Match(tt.message, rules)
			if ok != tt.wantMatch {
				t.Fatalf("Match(%q) matched = %v, want %v", tt.message, ok, tt.wantMatch)
			}
			if ok && got.Keyword != tt.want {
				t.Errorf("Match(%q) = %q, want %q", tt.message, got.Keyword, tt.want)
			}
		})
	}
}

func TestMatch_EmptyRules(t *testing.T) {
	if _, ok := Match("anything", nil); ok {
		t.Error("expected no match for nil rules")
	}
	if _, ok := Match("anything", []rule.FilterRule{}); ok {
		t.Error("expected no match for empty rules")
	}
}

func TestMatch_EmptyKeywordNeverMatches(t *testing.T) {
	for _, kw := range []string{"", " ", "\t "} {
		rules := []rule.FilterRule{{Keyword: kw, Enabled: true, Mute: true}}
		if _, ok := Match("hello world \t", rules); ok {
			t.Errorf("rule with keyword %q should not match", kw)
		}
	}
}

func TestMatch_KeywordIsTrimmed(t *testing.T) {
	rules := []rule.FilterRule{{Keyword: " gold ", Enabled: true, Mute: true}}

	got, ok := Match("gold!", rules)
	if !ok {
		t.Fatal("expected padded keyword to match")
	}
	if got != rules[0] {
		t.Errorf("Match() = %+v, want %+v", got, rules[0])
	}
}

func TestMatch_ReturnsRuleFields(t *testing.T) {
	rules := []rule.FilterRule{{Keyword: "a", Enabled: true, Mute: false, Report: true}}

	got, ok := Match("abc", rules)
	if !ok {
		t.Fatal("expected match")
	}
	if got != rules[0] {
		t.Errorf("Match() = %+v, want %+v", got, rules[0])
	}
}

func TestMatch_DisablingKeepsOrder(t *testing.T) {
	rules := []rule.FilterRule{
		{Keyword: "foo", Enabled: true, Mute: true},
		{Keyword: "bar", Enabled: true, Report: true},
	}

	if got, _ := Match("foo bar", rules); got.Keyword != "foo" {
		t.Fatalf("Match() = %q, want foo", got.Keyword)
	}

	rules[0].Enabled = false
	if got, _ := Match("foo bar", rules); got.Keyword != "bar" {
		t.Errorf("after disabling foo Match() = %q, want bar", got.Keyword)
	}
	if rules[0].Keyword != "foo" || rules[1].Keyword != "bar" {
		t.Error("disabling changed list order")
	}
}

func TestMatch_Deterministic(t *testing.T) {
	rules := []rule.FilterRule{
		{Keyword: "x", Enabled: true},
		{Keyword: "y", Enabled: true},
	}

	first, _ := Match("y and x", rules)
	for i := 0; i < 10; i++ {
		got, _ := Match("y and x", rules)
		if got != first {
			t.Fatalf("iteration %d: Match() = %+v, want %+v", i, got, first)
		}
	}
	if first.Keyword != "x" {
		t.Errorf("Match() = %q, want x (list order, not message order)", first.Keyword)
	}
}

func TestKeywordMatcher(t *testing.T) {
	src := StaticRules{{Keyword: "hi", Enabled: true, Mute: true}}
	m := NewKeywordMatcher(src)

	if _, ok := m.Match("oh HI there"); !ok {
		t.Error("expected match")
	}
	if _, ok := m.Match("bye"); ok {
		t.Error("expected no match")
	}
}
