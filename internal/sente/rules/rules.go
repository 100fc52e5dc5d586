// Package rules loads the local intent rule table used by the pattern tier.
//
// The table is a YAML document (embedded by default, overridable from disk)
// listing the greeting vocabulary and an ordered set of domain rules, each a
// command key plus one or more regular expressions. Table order is significant:
// the first rule whose pattern set matches wins, so balance-style phrasing is
// listed before the generic financial verbs it would otherwise collide with.
//
// The document is validated against a JSON schema before any pattern is
// compiled, so a malformed table is rejected at startup rather than silently
// skipping rules at classify time.
package rules

import (
	_ "embed"
	"fmt"
	"regexp"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

//go:embed rules.yaml
var defaultRules []byte

//go:embed schema.json
var schemaJSON string

// Rule is one entry in the ordered domain rule table.
type Rule struct {
	// Command is the command key the rule resolves to (e.g. "pay_water").
	Command string
	// Patterns are the compiled expressions; any single match fires the rule.
	Patterns []*regexp.Regexp
}

// Set is a compiled rule table.
type Set struct {
	// Greetings are the literal greeting/menu phrases, lower-cased.
	Greetings map[string]struct{}
	// Rules is the ordered domain rule table.
	Rules []Rule
}

// document mirrors the YAML layout prior to compilation.
type document struct {
	Version   int      `yaml:"version"`
	Greetings []string `yaml:"greetings"`
	Rules     []struct {
		Command  string   `yaml:"command"`
		Patterns []string `yaml:"patterns"`
	} `yaml:"rules"`
}

// Load parses, validates, and compiles a rule table document.
func Load(data []byte) (*Set, error) {
	// First decode into a generic value for schema validation. yaml.v3
	// produces map[string]interface{} for mappings, which is what the
	// jsonschema validator expects.
	var generic interface{}
	if err := yaml.Unmarshal(data, &generic); err != nil {
		return nil, fmt.Errorf("rules: parse yaml: %w", err)
	}

	schema, err := jsonschema.CompileString("rules.schema.json", schemaJSON)
	if err != nil {
		return nil, fmt.Errorf("rules: compile schema: %w", err)
	}
	if err := schema.Validate(generic); err != nil {
		return nil, fmt.Errorf("rules: document invalid: %w", err)
	}

	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("rules: decode: %w", err)
	}

	set := &Set{
		Greetings: make(map[string]struct{}, len(doc.Greetings)),
	}
	for _, g := range doc.Greetings {
		set.Greetings[strings.ToLower(strings.TrimSpace(g))] = struct{}{}
	}

	for i, r := range doc.Rules {
		rule := Rule{Command: r.Command}
		for _, p := range r.Patterns {
			// Patterns are matched case-insensitively against the raw text.
			re, err := regexp.Compile("(?i)" + p)
			if err != nil {
				return nil, fmt.Errorf("rules: rules[%d] (%s): bad pattern %q: %w", i, r.Command, p, err)
			}
			rule.Patterns = append(rule.Patterns, re)
		}
		set.Rules = append(set.Rules, rule)
	}

	return set, nil
}

// Default compiles the embedded rule table. The embedded document is part of
// the build, so a failure here is a programming error.
func Default() (*Set, error) {
	return Load(defaultRules)
}

// IsGreeting reports whether the trimmed, case-folded text is in the greeting
// vocabulary.
func (s *Set) IsGreeting(text string) bool {
	_, ok := s.Greetings[strings.ToLower(strings.TrimSpace(text))]
	return ok
}

// Match returns the command key of the first rule whose pattern set matches
// text, or "" when no rule fires.
func (s *Set) Match(text string) string {
	for _, rule := range s.Rules {
		for _, re := range rule.Patterns {
			if re.MatchString(text) {
				return rule.Command
			}
		}
	}
	return ""
}
