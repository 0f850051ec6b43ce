package scope

import (
	"testing"

	"repplus/pkg/domain"
)

func TestInScopeNoRules(t *testing.T) {
	for _, p := range []Policy{
		{},
		{Mode: ModeExclude},
		{Rules: []Rule{{Pattern: "*nothing*", Enabled: false}}},
	} {
		if !p.InScope("https://anything.example/") {
			t.Errorf("policy %+v: expected in scope", p)
		}
	}
}

func TestInScopeModes(t *testing.T) {
	rules := []Rule{
		{Pattern: "*example.com*", Type: TypeWildcard, Enabled: true},
		{Pattern: "*other.org*", Type: TypeWildcard, Enabled: false},
	}
	tests := []struct {
		mode Mode
		url  string
		want bool
	}{
		{ModeInclude, "https://api.example.com/v1", true},
		{ModeInclude, "https://other.org/", false},
		{ModeExclude, "https://api.example.com/v1", false},
		{ModeExclude, "https://other.org/", true},
	}
	for _, tt := range tests {
		e := New(Policy{Mode: tt.mode, Rules: rules})
		if got := e.InScope(tt.url); got != tt.want {
			t.Errorf("%s InScope(%q) = %v, want %v", tt.mode, tt.url, got, tt.want)
		}
	}
}

func TestRuleMatchTypes(t *testing.T) {
	tests := []struct {
		rule Rule
		url  string
		want bool
	}{
		{Rule{Pattern: "api.*/login", Type: TypeWildcard}, "https://api.x.com/login?a=1", true},
		{Rule{Pattern: "https://a.com/*", Type: TypeURL}, "https://a.com/path", true},
		{Rule{Pattern: `^https://a\.com/\d+$`, Type: TypeRegex}, "https://a.com/42", true},
		{Rule{Pattern: `^https://a\.com/\d+$`, Type: TypeRegex}, "https://a.com/x", false},
		{Rule{Pattern: "([", Type: TypeRegex}, "https://a.com/", false},
		{Rule{Pattern: "https://a.com/api", Type: TypePrefix}, "https://a.com/api/v2", true},
		{Rule{Pattern: "https://a.com/api", Type: TypePrefix}, "http://a.com/api", false},
		{Rule{Pattern: "https://a.com/", Type: TypeExact}, "https://a.com/", true},
		{Rule{Pattern: "https://a.com/", Type: TypeExact}, "https://a.com/x", false},
	}
	for _, tt := range tests {
		if got := tt.rule.Match(tt.url); got != tt.want {
			t.Errorf("%+v Match(%q) = %v, want %v", tt.rule, tt.url, got, tt.want)
		}
	}
}

func TestAllows(t *testing.T) {
	e := New(Policy{Rules: []Rule{{Pattern: "*target.com*", Enabled: true}}})
	in, out := "https://target.com/a", "https://cdn.net/b"
	tests := []struct {
		filter domain.ScopeFilter
		url    string
		want   bool
	}{
		{domain.ScopeAll, out, true},
		{domain.ScopeInScope, in, true},
		{domain.ScopeInScope, out, false},
		{domain.ScopeOutScope, in, false},
		{domain.ScopeOutScope, out, true},
	}
	for _, tt := range tests {
		if got := e.Allows(tt.filter, tt.url); got != tt.want {
			t.Errorf("Allows(%s, %q) = %v, want %v", tt.filter, tt.url, got, tt.want)
		}
	}
}

func TestDetectType(t *testing.T) {
	tests := map[string]RuleType{
		"https://*.example.com/*": TypeURL,
		"*example*":               TypeWildcard,
		"login":                   TypePattern,
	}
	for in, want := range tests {
		if got := DetectType(in); got != want {
			t.Errorf("DetectType(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestDomainRule(t *testing.T) {
	r, err := DomainRule("https://shop.example.com:8443/cart")
	if err != nil {
		t.Fatalf("DomainRule: %v", err)
	}
	if r.Pattern != "*shop.example.com*" || r.Type != TypeDomain || !r.Enabled {
		t.Errorf("rule = %+v", r)
	}
	if _, err := DomainRule("/relative"); err == nil {
		t.Error("expected error for url without host")
	}
}

func TestPolicyCopy(t *testing.T) {
	e := New(Policy{Mode: "bogus", Rules: []Rule{NewRule(" *a* ", "")}})
	p := e.Policy()
	if p.Mode != ModeInclude {
		t.Errorf("mode = %s, want include", p.Mode)
	}
	p.Rules[0].Enabled = false
	if !e.Policy().Rules[0].Enabled {
		t.Error("Policy must return a copy")
	}
}
