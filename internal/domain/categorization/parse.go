package categorization

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// RuleParseError is returned when a rule's condition document is invalid.
// Rules are validated when saved, never at evaluation time, so a stored rule
// is always evaluable.
type RuleParseError struct {
	RuleName string
	Reason   string
}

func (e *RuleParseError) Error() string {
	return fmt.Sprintf("rule %q: %s", e.RuleName, e.Reason)
}

// maxDepth bounds condition tree nesting. Deeper trees are almost certainly
// generated by mistake.
const maxDepth = 10

const dateLayout = "2006-01-02"

// conditionDoc is the JSON shape of one condition tree node.
type conditionDoc struct {
	Field    string          `json:"field,omitempty"`
	Operator string          `json:"operator,omitempty"`
	Value    json.RawMessage `json:"value,omitempty"`
	AllOf    []conditionDoc  `json:"all_of,omitempty"`
	AnyOf    []conditionDoc  `json:"any_of,omitempty"`
	Not      *conditionDoc   `json:"not,omitempty"`
}

// ParseConditions parses and validates a rule's condition document. ruleName
// is only used for error reporting.
func ParseConditions(ruleName string, raw []byte) (Node, error) {
	var doc conditionDoc
	dec := json.NewDecoder(strings.NewReader(string(raw)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&doc); err != nil {
		return Node{}, &RuleParseError{RuleName: ruleName, Reason: fmt.Sprintf("invalid JSON: %v", err)}
	}

	node, err := parseNode(doc, 0)
	if err != nil {
		return Node{}, &RuleParseError{RuleName: ruleName, Reason: err.Error()}
	}
	return node, nil
}

func parseNode(doc conditionDoc, depth int) (Node, error) {
	if depth > maxDepth {
		return Node{}, fmt.Errorf("condition tree deeper than %d levels", maxDepth)
	}

	branches := 0
	if doc.Field != "" || doc.Operator != "" || len(doc.Value) > 0 {
		branches++
	}
	if len(doc.AllOf) > 0 {
		branches++
	}
	if len(doc.AnyOf) > 0 {
		branches++
	}
	if doc.Not != nil {
		branches++
	}
	if branches != 1 {
		return Node{}, fmt.Errorf("node must be exactly one of a comparison, all_of, any_of or not")
	}

	switch {
	case len(doc.AllOf) > 0:
		children, err := parseChildren(doc.AllOf, depth)
		if err != nil {
			return Node{}, err
		}
		return Node{AllOf: children}, nil
	case len(doc.AnyOf) > 0:
		children, err := parseChildren(doc.AnyOf, depth)
		if err != nil {
			return Node{}, err
		}
		return Node{AnyOf: children}, nil
	case doc.Not != nil:
		child, err := parseNode(*doc.Not, depth+1)
		if err != nil {
			return Node{}, err
		}
		return Node{Not: &child}, nil
	default:
		return parseLeaf(doc)
	}
}

func parseChildren(docs []conditionDoc, depth int) ([]Node, error) {
	children := make([]Node, 0, len(docs))
	for _, d := range docs {
		child, err := parseNode(d, depth+1)
		if err != nil {
			return nil, err
		}
		children = append(children, child)
	}
	return children, nil
}

// operatorFields restricts which fields each operator may test. Substring
// operators only make sense on text; ordering operators only on amounts and
// dates.
var operatorFields = map[Operator]map[Field]bool{
	OpEquals:     {FieldDescription: true, FieldAmount: true, FieldDate: true},
	OpContains:   {FieldDescription: true},
	OpStartsWith: {FieldDescription: true},
	OpGt:         {FieldAmount: true, FieldDate: true},
	OpLt:         {FieldAmount: true, FieldDate: true},
	OpBetween:    {FieldAmount: true, FieldDate: true},
}

func parseLeaf(doc conditionDoc) (Node, error) {
	field := Field(doc.Field)
	switch field {
	case FieldDescription, FieldAmount, FieldDate:
	default:
		return Node{}, fmt.Errorf("unknown field %q", doc.Field)
	}

	op := Operator(doc.Operator)
	fields, ok := operatorFields[op]
	if !ok {
		return Node{}, fmt.Errorf("unknown operator %q", doc.Operator)
	}
	if !fields[field] {
		return Node{}, fmt.Errorf("operator %q not applicable to field %q", op, field)
	}
	if len(doc.Value) == 0 {
		return Node{}, fmt.Errorf("missing value for %s %s", field, op)
	}

	node := Node{Field: field, Operator: op}

	if op == OpBetween {
		var bounds [2]json.RawMessage
		if err := json.Unmarshal(doc.Value, &bounds); err != nil {
			return Node{}, fmt.Errorf("between value must be a [low, high] pair")
		}
		return parseBetween(node, bounds)
	}

	switch field {
	case FieldDescription:
		var s string
		if err := json.Unmarshal(doc.Value, &s); err != nil {
			return Node{}, fmt.Errorf("description value must be a string")
		}
		if strings.TrimSpace(s) == "" {
			return Node{}, fmt.Errorf("description value must not be empty")
		}
		node.Str = strings.ToLower(s)
	case FieldAmount:
		num, err := parseDecimalValue(doc.Value)
		if err != nil {
			return Node{}, err
		}
		node.Num = num
	case FieldDate:
		t, err := parseDateValue(doc.Value)
		if err != nil {
			return Node{}, err
		}
		node.Time = t
	}
	return node, nil
}

func parseBetween(node Node, bounds [2]json.RawMessage) (Node, error) {
	switch node.Field {
	case FieldAmount:
		low, err := parseDecimalValue(bounds[0])
		if err != nil {
			return Node{}, err
		}
		high, err := parseDecimalValue(bounds[1])
		if err != nil {
			return Node{}, err
		}
		if low.GreaterThan(high) {
			return Node{}, fmt.Errorf("between bounds out of order: %s > %s", low, high)
		}
		node.Num, node.NumHigh = low, high
	case FieldDate:
		low, err := parseDateValue(bounds[0])
		if err != nil {
			return Node{}, err
		}
		high, err := parseDateValue(bounds[1])
		if err != nil {
			return Node{}, err
		}
		if low.After(high) {
			return Node{}, fmt.Errorf("between bounds out of order: %s > %s",
				low.Format(dateLayout), high.Format(dateLayout))
		}
		node.Time, node.TimeHigh = low, high
	}
	return node, nil
}

// parseDecimalValue accepts JSON numbers and numeric strings; banks and
// humans disagree about which one an amount is.
func parseDecimalValue(raw json.RawMessage) (decimal.Decimal, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		s = string(raw)
	}
	num, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("amount value %s is not numeric", raw)
	}
	return num, nil
}

func parseDateValue(raw json.RawMessage) (time.Time, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return time.Time{}, fmt.Errorf("date value must be a %q string", dateLayout)
	}
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("date value %q must use the %s layout", s, dateLayout)
	}
	return t, nil
}
