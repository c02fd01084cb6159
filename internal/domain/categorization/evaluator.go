package categorization

import (
	"sort"

	"github.com/google/uuid"
)

// SortRules orders rules for evaluation: ascending priority, ties broken by
// creation time. Evaluation order is the whole determinism story, so every
// caller goes through here.
func SortRules(rules []Rule) {
	sort.SliceStable(rules, func(i, j int) bool {
		if rules[i].Priority != rules[j].Priority {
			return rules[i].Priority < rules[j].Priority
		}
		return rules[i].CreatedAt.Before(rules[j].CreatedAt)
	})
}

// FirstMatch returns the first active rule matching the subject, or nil.
// rules must already be in evaluation order.
func FirstMatch(rules []Rule, s Subject) *Rule {
	for i := range rules {
		if !rules[i].Active {
			continue
		}
		if rules[i].Matches(s) {
			return &rules[i]
		}
	}
	return nil
}

// Assignment is the outcome of applying a rule to one transaction.
type Assignment struct {
	RuleID     uuid.UUID
	RuleName   string
	CategoryID uuid.UUID
	Tags       []string
}

func assignmentFrom(r *Rule) *Assignment {
	return &Assignment{
		RuleID:     r.ID,
		RuleName:   r.Name,
		CategoryID: r.CategoryID,
		Tags:       append([]string(nil), r.Tags...),
	}
}
