package categorization

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustRule(t *testing.T, name string, priority int, createdAt time.Time, conditions string) Rule {
	t.Helper()
	root, err := ParseConditions(name, []byte(conditions))
	require.NoError(t, err)
	return Rule{
		ID:         uuid.New(),
		Name:       name,
		Priority:   priority,
		Root:       root,
		CategoryID: uuid.New(),
		Active:     true,
		CreatedAt:  createdAt,
	}
}

func subject(description, amount, date string) Subject {
	d, err := time.Parse("2006-01-02", date)
	if err != nil {
		panic(err)
	}
	return Subject{
		Description: description,
		Amount:      decimal.RequireFromString(amount),
		Date:        d,
	}
}

func TestLeafOperators(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name       string
		conditions string
		subject    Subject
		want       bool
	}{
		{"contains is case-insensitive", `{"field": "description", "operator": "contains", "value": "COFFEE"}`,
			subject("Blue Bottle coffee #42", "-4.50", "2024-03-01"), true},
		{"contains miss", `{"field": "description", "operator": "contains", "value": "grocery"}`,
			subject("Blue Bottle Coffee", "-4.50", "2024-03-01"), false},
		{"starts_with", `{"field": "description", "operator": "starts_with", "value": "blue"}`,
			subject("Blue Bottle Coffee", "-4.50", "2024-03-01"), true},
		{"equals description ignores case", `{"field": "description", "operator": "equals", "value": "netflix"}`,
			subject("NETFLIX", "-9.99", "2024-03-01"), true},
		{"amount gt", `{"field": "amount", "operator": "gt", "value": 100}`,
			subject("Salary", "1250.00", "2024-03-01"), true},
		{"amount lt on negatives", `{"field": "amount", "operator": "lt", "value": -100}`,
			subject("Rent", "-900.00", "2024-03-01"), true},
		{"amount between includes bounds", `{"field": "amount", "operator": "between", "value": [-10, -4.5]}`,
			subject("Coffee", "-4.50", "2024-03-01"), true},
		{"amount between outside", `{"field": "amount", "operator": "between", "value": [-10, -5]}`,
			subject("Coffee", "-4.50", "2024-03-01"), false},
		{"date between includes bounds", `{"field": "date", "operator": "between", "value": ["2024-03-01", "2024-03-31"]}`,
			subject("Coffee", "-4.50", "2024-03-31"), true},
		{"date lt", `{"field": "date", "operator": "lt", "value": "2024-03-01"}`,
			subject("Coffee", "-4.50", "2024-03-01"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rule := mustRule(t, tt.name, 1, now, tt.conditions)
			assert.Equal(t, tt.want, rule.Matches(tt.subject))
		})
	}
}

func TestCombinators(t *testing.T) {
	rule := mustRule(t, "big groceries", 1, time.Now(), `{
		"all_of": [
			{"field": "description", "operator": "contains", "value": "market"},
			{"not": {"field": "amount", "operator": "gt", "value": 0}},
			{"any_of": [
				{"field": "amount", "operator": "lt", "value": -100},
				{"field": "description", "operator": "contains", "value": "wholesale"}
			]}
		]
	}`)

	assert.True(t, rule.Matches(subject("Central Market", "-120.00", "2024-03-01")))
	assert.True(t, rule.Matches(subject("Wholesale Market", "-20.00", "2024-03-01")))
	assert.False(t, rule.Matches(subject("Central Market", "-20.00", "2024-03-01")))
	assert.False(t, rule.Matches(subject("Central Market", "120.00", "2024-03-01")))
}

func TestFirstMatchWinsByPriorityThenCreation(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	broad := mustRule(t, "any expense", 10, base,
		`{"field": "amount", "operator": "lt", "value": 0}`)
	coffee := mustRule(t, "coffee", 1, base.Add(time.Hour),
		`{"field": "description", "operator": "contains", "value": "coffee"}`)
	coffeeLater := mustRule(t, "coffee later", 1, base.Add(2*time.Hour),
		`{"field": "description", "operator": "contains", "value": "coffee"}`)

	// Deliberately out of order; the engine sorts.
	engine := NewEngine([]Rule{broad, coffeeLater, coffee})

	got := engine.Match(subject("Blue Bottle Coffee", "-4.50", "2024-03-01"))
	require.NotNil(t, got)
	assert.Equal(t, coffee.ID, got.RuleID, "lower priority number wins; creation time breaks the tie")

	got = engine.Match(subject("Rent", "-900.00", "2024-03-01"))
	require.NotNil(t, got)
	assert.Equal(t, broad.ID, got.RuleID)

	assert.Nil(t, engine.Match(subject("Salary", "1250.00", "2024-03-01")))
}

func TestInactiveRulesAreSkipped(t *testing.T) {
	rule := mustRule(t, "coffee", 1, time.Now(),
		`{"field": "description", "operator": "contains", "value": "coffee"}`)
	rule.Active = false

	engine := NewEngine([]Rule{rule})

	assert.Nil(t, engine.Match(subject("Coffee", "-4.50", "2024-03-01")))
}

func TestEngineMatchesFullEvaluation(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rules := []Rule{
		mustRule(t, "coffee", 5, base, `{"field": "description", "operator": "contains", "value": "coffee"}`),
		mustRule(t, "streaming", 3, base, `{"field": "description", "operator": "contains", "value": "netflix"}`),
		mustRule(t, "big spend", 1, base, `{"field": "amount", "operator": "lt", "value": -500}`),
		mustRule(t, "march refunds", 4, base, `{
			"all_of": [
				{"field": "amount", "operator": "gt", "value": 0},
				{"field": "date", "operator": "between", "value": ["2024-03-01", "2024-03-31"]}
			]
		}`),
	}
	engine := NewEngine(rules)

	subjects := []Subject{
		subject("Blue Bottle Coffee", "-4.50", "2024-03-01"),
		subject("NETFLIX.COM", "-9.99", "2024-03-02"),
		subject("Netflix coffee mug", "-600.00", "2024-03-02"),
		subject("Refund shoes", "59.90", "2024-03-15"),
		subject("Refund shoes", "59.90", "2024-04-15"),
		subject("Bakery", "-3.20", "2024-03-10"),
	}

	ordered := engine.Rules()
	for _, s := range subjects {
		want := FirstMatch(ordered, s)
		got := engine.Match(s)
		if want == nil {
			assert.Nil(t, got, s.Description)
			continue
		}
		require.NotNil(t, got, s.Description)
		assert.Equal(t, want.ID, got.RuleID, s.Description)
	}
}

func TestSuggestCategories(t *testing.T) {
	groceries := uuid.New()
	coffee := uuid.New()
	categories := map[uuid.UUID]string{
		groceries: "Groceries",
		coffee:    "Coffee",
	}

	got := SuggestCategories("COFEE SHOP DOWNTOWN", categories, 2)

	require.NotEmpty(t, got)
	assert.Equal(t, coffee, got[0].CategoryID)

	assert.Nil(t, SuggestCategories("", categories, 2))
	assert.Nil(t, SuggestCategories("anything", categories, 0))
}
