package token

import (
	"fmt"
	"strings"
	"time"
)

// Rule is the validity window and replay policy for one employment category.
type Rule struct {
	TTL   time.Duration
	Usage Usage
}

// Policy maps employment categories to daily-token rules.
type Policy struct {
	Categories  map[string]Rule
	Default     Rule
	ActivityTTL time.Duration
}

// DefaultPolicy gives honorer staff short single-use codes and everyone else
// longer multi-use ones.
func DefaultPolicy() Policy {
	return Policy{
		Categories: map[string]Rule{
			"honorer": {TTL: 2 * time.Minute, Usage: SingleUse},
		},
		Default:     Rule{TTL: 10 * time.Minute, Usage: MultiUse},
		ActivityTTL: 60 * time.Minute,
	}
}

// RuleFor returns the rule for category, falling back to the default.
func (p Policy) RuleFor(category string) Rule {
	if r, ok := p.Categories[strings.ToLower(strings.TrimSpace(category))]; ok {
		return r
	}
	return p.Default
}

// ParseCategoryRules reads "honorer=2m/single-use,default=10m/multi-use".
// The "default" entry, when present, replaces p.Default.
func (p Policy) ParseCategoryRules(rules string) (Policy, error) {
	out := Policy{
		Categories:  map[string]Rule{},
		Default:     p.Default,
		ActivityTTL: p.ActivityTTL,
	}
	for _, entry := range strings.Split(rules, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		name, rest, ok := strings.Cut(entry, "=")
		if !ok {
			return Policy{}, fmt.Errorf("policy entry %q: missing '='", entry)
		}
		ttlStr, usageStr, ok := strings.Cut(rest, "/")
		if !ok {
			return Policy{}, fmt.Errorf("policy entry %q: want <ttl>/<usage>", entry)
		}
		ttl, err := time.ParseDuration(strings.TrimSpace(ttlStr))
		if err != nil || ttl <= 0 {
			return Policy{}, fmt.Errorf("policy entry %q: bad ttl", entry)
		}
		usage := Usage(strings.TrimSpace(usageStr))
		if !usage.valid() {
			return Policy{}, fmt.Errorf("policy entry %q: bad usage %q", entry, usage)
		}
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "default" {
			out.Default = Rule{TTL: ttl, Usage: usage}
			continue
		}
		out.Categories[name] = Rule{TTL: ttl, Usage: usage}
	}
	return out, nil
}
