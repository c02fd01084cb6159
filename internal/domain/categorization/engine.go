package categorization

import (
	"strings"

	"github.com/cloudflare/ahocorasick"
)

// Engine evaluates a fixed, ordered rule set against transactions. For the
// common case of rules that are a single description-contains comparison, it
// consults one Aho-Corasick pass over the description instead of running
// strings.Contains per rule, which keeps batch categorization linear in the
// description length rather than in the rule count.
//
// The prefilter never changes outcomes: a simple rule matches exactly when
// its pattern occurs in the lower-cased description, and all other rules are
// evaluated in full. Build a new Engine when the rule set changes.
type Engine struct {
	rules   []Rule
	matcher *ahocorasick.Matcher
	// simplePattern[i] is the pattern index for rules[i], or -1 when the
	// rule needs full evaluation.
	simplePattern []int
}

// NewEngine sorts the rules into evaluation order and indexes the simple
// contains rules.
func NewEngine(rules []Rule) *Engine {
	sorted := make([]Rule, len(rules))
	copy(sorted, rules)
	SortRules(sorted)

	e := &Engine{
		rules:         sorted,
		simplePattern: make([]int, len(sorted)),
	}

	var patterns []string
	for i := range sorted {
		e.simplePattern[i] = -1
		if p, ok := simpleContainsPattern(sorted[i].Root); ok {
			e.simplePattern[i] = len(patterns)
			patterns = append(patterns, p)
		}
	}
	if len(patterns) > 0 {
		e.matcher = ahocorasick.NewStringMatcher(patterns)
	}
	return e
}

// simpleContainsPattern reports whether the tree is exactly one
// description-contains leaf and returns its pattern.
func simpleContainsPattern(n Node) (string, bool) {
	if len(n.AllOf) > 0 || len(n.AnyOf) > 0 || n.Not != nil {
		return "", false
	}
	if n.Field == FieldDescription && n.Operator == OpContains {
		return n.Str, true
	}
	return "", false
}

// Rules returns the engine's rules in evaluation order.
func (e *Engine) Rules() []Rule {
	return e.rules
}

// Match returns the assignment from the first matching active rule, or nil
// when no rule matches. Safe for concurrent use.
func (e *Engine) Match(s Subject) *Assignment {
	var hits map[int]bool
	if e.matcher != nil {
		hits = make(map[int]bool)
		for _, idx := range e.matcher.MatchThreadSafe([]byte(strings.ToLower(s.Description))) {
			hits[idx] = true
		}
	}

	for i := range e.rules {
		rule := &e.rules[i]
		if !rule.Active {
			continue
		}
		if p := e.simplePattern[i]; p >= 0 {
			if hits[p] {
				return assignmentFrom(rule)
			}
			continue
		}
		if rule.Matches(s) {
			return assignmentFrom(rule)
		}
	}
	return nil
}
