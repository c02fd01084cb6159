// Package categorization assigns categories and tags to transactions by
// evaluating user-defined rules. A rule is a condition tree over the
// transaction's description, amount and date; the first matching rule by
// priority wins.
package categorization

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Field names an attribute of a transaction a condition can test.
type Field string

const (
	FieldDescription Field = "description"
	FieldAmount      Field = "amount"
	FieldDate        Field = "date"
)

// Operator is a comparison applied to a field.
type Operator string

const (
	OpEquals     Operator = "equals"
	OpContains   Operator = "contains"
	OpStartsWith Operator = "starts_with"
	OpGt         Operator = "gt"
	OpLt         Operator = "lt"
	OpBetween    Operator = "between"
)

// Node is one node of a parsed condition tree. Exactly one branch is set:
// either the leaf comparison fields or one of the combinator slices.
type Node struct {
	// Leaf comparison.
	Field    Field
	Operator Operator
	Str      string          // lower-cased operand for string operators
	Num      decimal.Decimal // operand for amount comparisons
	NumHigh  decimal.Decimal // upper bound for amount between
	Time     time.Time       // operand for date comparisons
	TimeHigh time.Time       // upper bound for date between

	// Combinators.
	AllOf []Node
	AnyOf []Node
	Not   *Node
}

// Rule is a parsed, evaluable categorization rule.
type Rule struct {
	ID         uuid.UUID
	Name       string
	Priority   int
	Root       Node
	CategoryID uuid.UUID
	Tags       []string
	Active     bool
	CreatedAt  time.Time
}

// Subject is the slice of a transaction rules are evaluated against.
type Subject struct {
	Description string
	Amount      decimal.Decimal
	Date        time.Time
}

// Matches evaluates the rule's condition tree against one transaction.
func (r *Rule) Matches(s Subject) bool {
	return evalNode(r.Root, s)
}

func evalNode(n Node, s Subject) bool {
	switch {
	case len(n.AllOf) > 0:
		for _, child := range n.AllOf {
			if !evalNode(child, s) {
				return false
			}
		}
		return true
	case len(n.AnyOf) > 0:
		for _, child := range n.AnyOf {
			if evalNode(child, s) {
				return true
			}
		}
		return false
	case n.Not != nil:
		return !evalNode(*n.Not, s)
	default:
		return evalLeaf(n, s)
	}
}

func evalLeaf(n Node, s Subject) bool {
	switch n.Field {
	case FieldDescription:
		subject := strings.ToLower(s.Description)
		switch n.Operator {
		case OpEquals:
			return subject == n.Str
		case OpContains:
			return strings.Contains(subject, n.Str)
		case OpStartsWith:
			return strings.HasPrefix(subject, n.Str)
		}
	case FieldAmount:
		switch n.Operator {
		case OpEquals:
			return s.Amount.Equal(n.Num)
		case OpGt:
			return s.Amount.GreaterThan(n.Num)
		case OpLt:
			return s.Amount.LessThan(n.Num)
		case OpBetween:
			return s.Amount.GreaterThanOrEqual(n.Num) && s.Amount.LessThanOrEqual(n.NumHigh)
		}
	case FieldDate:
		day := s.Date.Truncate(24 * time.Hour)
		switch n.Operator {
		case OpEquals:
			return day.Equal(n.Time)
		case OpGt:
			return day.After(n.Time)
		case OpLt:
			return day.Before(n.Time)
		case OpBetween:
			return !day.Before(n.Time) && !day.After(n.TimeHigh)
		}
	}
	return false
}
