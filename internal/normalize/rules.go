package normalize

import (
	"fmt"
	"os"
	"regexp"
	"sort"

	"github.com/book-expert/audiobook-service/internal/core"
	"github.com/pelletier/go-toml/v2"
)

// Rule scopes. Global rules see the whole text at once; sentence rules are
// applied to each sentence independently.
const (
	ScopeGlobal   = "global"
	ScopeSentence = "sentence"
)

// Rule is one declarative rewrite entry as it appears in the rule file.
// Pattern is a regular expression; Replacement may use $1-style group
// references. Rules run in ascending Order, each observing the output of
// the previous one.
type Rule struct {
	Pattern     string `toml:"pattern"`
	Replacement string `toml:"replacement"`
	Order       int    `toml:"order"`
	Scope       string `toml:"scope"`
}

type ruleFile struct {
	Version string `toml:"version"`
	Rules   []Rule `toml:"rules"`
}

type compiledRule struct {
	pattern     *regexp.Regexp
	replacement string
	order       int
	sentence    bool
}

// RuleSet is an immutable, validated collection of rewrite rules. Build it
// once at process start; a bad rule fails start-up, never per-document
// processing.
type RuleSet struct {
	version string
	rules   []compiledRule
}

// Version returns the declared rule-set version, if any.
func (rs *RuleSet) Version() string { return rs.version }

// Len returns the number of rules in the set.
func (rs *RuleSet) Len() int { return len(rs.rules) }

// CompileRules validates and compiles a rule list into a RuleSet. Every
// failure wraps core.ErrRuleSetInvalid so callers can treat the whole
// class as a start-up fatal.
func CompileRules(version string, rules []Rule) (*RuleSet, error) {
	compiled := make([]compiledRule, 0, len(rules))

	for i, rule := range rules {
		if rule.Pattern == "" {
			return nil, fmt.Errorf("%w: rule %d has an empty pattern", core.ErrRuleSetInvalid, i)
		}

		pattern, err := regexp.Compile(rule.Pattern)
		if err != nil {
			return nil, fmt.Errorf("%w: rule %d pattern %q: %v", core.ErrRuleSetInvalid, i, rule.Pattern, err)
		}

		scope := rule.Scope
		if scope == "" {
			scope = ScopeGlobal
		}

		if scope != ScopeGlobal && scope != ScopeSentence {
			return nil, fmt.Errorf("%w: rule %d has unknown scope %q", core.ErrRuleSetInvalid, i, rule.Scope)
		}

		compiled = append(compiled, compiledRule{
			pattern:     pattern,
			replacement: rule.Replacement,
			order:       rule.Order,
			sentence:    scope == ScopeSentence,
		})
	}

	sort.SliceStable(compiled, func(a, b int) bool {
		return compiled[a].order < compiled[b].order
	})

	return &RuleSet{version: version, rules: compiled}, nil
}

// LoadRules reads and compiles a TOML rule file.
func LoadRules(path string) (*RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", core.ErrRuleSetInvalid, path, err)
	}

	var file ruleFile

	err = toml.Unmarshal(data, &file)
	if err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", core.ErrRuleSetInvalid, path, err)
	}

	return CompileRules(file.Version, file.Rules)
}

// DefaultRules returns the built-in rule list: abbreviation and symbol
// expansions that make English prose TTS-safe. Used when no rule file is
// configured, and as the baseline the file is expected to extend.
func DefaultRules() []Rule {
	return []Rule{
		{Pattern: `\bMr\.`, Replacement: "Mister", Order: 10},
		{Pattern: `\bMrs\.`, Replacement: "Misses", Order: 10},
		{Pattern: `\bMs\.`, Replacement: "Miss", Order: 10},
		{Pattern: `\bDr\.`, Replacement: "Doctor", Order: 10},
		{Pattern: `\bProf\.`, Replacement: "Professor", Order: 10},
		{Pattern: `\bSt\.`, Replacement: "Saint", Order: 10},
		{Pattern: `\bCo\.`, Replacement: "Company", Order: 10},
		{Pattern: `\bLtd\.`, Replacement: "Limited", Order: 10},
		{Pattern: `\bCorp\.`, Replacement: "Corporation", Order: 10},
		{Pattern: `\bInc\.`, Replacement: "Incorporated", Order: 10},
		{Pattern: `\betc\.`, Replacement: "et cetera", Order: 10},
		{Pattern: `\be\.g\.`, Replacement: "for example", Order: 10},
		{Pattern: `\bi\.e\.`, Replacement: "that is", Order: 10},
		{Pattern: `\bvs\.`, Replacement: "versus", Order: 10},

		{Pattern: `&`, Replacement: " and ", Order: 20},
		{Pattern: `%`, Replacement: " percent", Order: 20},
		{Pattern: `@`, Replacement: " at ", Order: 20},
		{Pattern: `\+`, Replacement: " plus ", Order: 20},
		{Pattern: `=`, Replacement: " equals ", Order: 20},

		// Colons truncate some engines mid-sentence; soften to a comma.
		{Pattern: `:`, Replacement: ",", Order: 30, Scope: ScopeSentence},
		{Pattern: `;`, Replacement: ",", Order: 30, Scope: ScopeSentence},
	}
}
