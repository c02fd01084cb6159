package money

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAmount(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "12.50", "12.5"},
		{"signed negative", "-12.50", "-12.5"},
		{"explicit positive", "+12.50", "12.5"},
		{"parenthesis negative", "(12.50)", "-12.5"},
		{"us thousands", "1,234.56", "1234.56"},
		{"european decimal", "4,50", "4.5"},
		{"european thousands", "1.234,56", "1234.56"},
		{"european thousands no decimals", "5.000", "5000"},
		{"dollar symbol", "$4.50", "4.5"},
		{"euro symbol negative", "-€5.00", "-5"},
		{"currency code", "12.00 EUR", "12"},
		{"quoted", `"1,234.56"`, "1234.56"},
		{"integer", "50", "50"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseAmount(tc.in)
			require.NoError(t, err)
			assert.True(t, got.Equal(decimal.RequireFromString(tc.want)),
				"got %s want %s", got, tc.want)
		})
	}
}

func TestParseAmount_Invalid(t *testing.T) {
	for _, in := range []string{"", "   ", "abc", "-", "()", "1,2,3.4.5"} {
		_, err := ParseAmount(in)
		assert.Error(t, err, "input %q", in)
	}
}

func TestIsNumeric(t *testing.T) {
	assert.True(t, IsNumeric("-1.234,56"))
	assert.False(t, IsNumeric("Coffee Shop"))
	assert.False(t, IsNumeric("2024-01-05"))
}

func TestDisplay(t *testing.T) {
	d := decimal.RequireFromString("1234.56")
	assert.Equal(t, "$1,234.56", Display(d, "USD"))
}
