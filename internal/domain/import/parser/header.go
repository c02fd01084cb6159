package parser

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strings"
	"time"

	"github.com/gocarina/gocsv"

	"github.com/rms81/fintrack-sub001/pkg/money"
)

// statementRow maps the header names banks commonly use onto one struct so
// gocsv can unmarshal a file without a column-index config.
type statementRow struct {
	Date    string `csv:"date"`
	DataMov string `csv:"data mov."`
	Fecha   string `csv:"fecha"`

	Description string `csv:"description"`
	Descricao   string `csv:"descrição"`
	Descripcion string `csv:"descripción"`
	Merchant    string `csv:"merchant"`
	Payee       string `csv:"payee"`
	Memo        string `csv:"memo"`

	Amount  string `csv:"amount"`
	Valor   string `csv:"valor"`
	Importe string `csv:"importe"`

	Debit   string `csv:"debit"`
	Debito  string `csv:"débito"`
	Cargo   string `csv:"cargo"`
	Credit  string `csv:"credit"`
	Credito string `csv:"crédito"`
	Abono   string `csv:"abono"`

	Balance string `csv:"balance"`
	Saldo   string `csv:"saldo"`
}

// headerDateFormats are tried in order when no explicit format is known.
var headerDateFormats = []string{
	"2006-01-02",
	"02/01/2006",
	"01/02/2006",
	"02-01-2006",
	"2006/01/02",
	"02.01.2006",
}

// ParseByHeader unmarshals a statement whose header row uses recognizable
// column names, without requiring a FormatConfig. It is the quick path for
// well-known exports; files with opaque headers go through format detection.
func ParseByHeader(data []byte, delimiter rune, opts Options) (*Result, error) {
	maxFraction := opts.MaxErrorFraction
	if maxFraction == 0 {
		maxFraction = defaultMaxErrorFraction
	}

	r := csv.NewReader(bytes.NewReader(lowercaseHeader(data)))
	if delimiter != 0 {
		r.Comma = delimiter
	}
	r.LazyQuotes = true
	r.TrimLeadingSpace = true

	var rows []statementRow
	if err := gocsv.UnmarshalCSV(r, &rows); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFile, err)
	}

	result := &Result{}
	for i, row := range rows {
		result.TotalRows++
		lineNum := i + 2 // 1-indexed, after the header
		preview, rowErr := row.normalize(lineNum)
		if rowErr != nil {
			result.Errors = append(result.Errors, *rowErr)
			continue
		}
		result.Previews = append(result.Previews, *preview)
		result.ParsedRows++
	}

	if result.TotalRows > 0 {
		fraction := float64(len(result.Errors)) / float64(result.TotalRows)
		if fraction > maxFraction {
			return nil, fmt.Errorf("%w: %d of %d rows failed to parse",
				ErrMalformedFile, len(result.Errors), result.TotalRows)
		}
	}
	return result, nil
}

func (r statementRow) normalize(lineNum int) (*Preview, *RowError) {
	dateStr := coalesce(r.Date, r.DataMov, r.Fecha)
	if dateStr == "" {
		return nil, &RowError{Row: lineNum, Column: "date", Reason: "missing date"}
	}
	date, ok := parseFlexibleDate(dateStr)
	if !ok {
		return nil, &RowError{Row: lineNum, Column: "date", Reason: "invalid date", Raw: dateStr}
	}

	description := collapseWhitespace(coalesce(r.Description, r.Descricao, r.Descripcion, r.Merchant, r.Payee, r.Memo))
	if description == "" {
		return nil, &RowError{Row: lineNum, Column: "description", Reason: "missing description"}
	}

	if amountStr := coalesce(r.Amount, r.Valor, r.Importe); amountStr != "" {
		amount, err := money.ParseAmount(amountStr)
		if err != nil {
			return nil, &RowError{Row: lineNum, Column: "amount", Reason: "invalid amount", Raw: amountStr}
		}
		return &Preview{Date: date, Description: description, Amount: amount}, nil
	}

	debit := coalesce(r.Debit, r.Debito, r.Cargo)
	credit := coalesce(r.Credit, r.Credito, r.Abono)
	switch {
	case debit != "":
		d, err := money.ParseAmount(debit)
		if err != nil {
			return nil, &RowError{Row: lineNum, Column: "debit", Reason: "invalid amount", Raw: debit}
		}
		return &Preview{Date: date, Description: description, Amount: d.Abs().Neg()}, nil
	case credit != "":
		c, err := money.ParseAmount(credit)
		if err != nil {
			return nil, &RowError{Row: lineNum, Column: "credit", Reason: "invalid amount", Raw: credit}
		}
		return &Preview{Date: date, Description: description, Amount: c.Abs()}, nil
	default:
		return nil, &RowError{Row: lineNum, Column: "amount", Reason: "missing debit and credit"}
	}
}

// lowercaseHeader folds the header row so "Date" and "DATE" both hit the
// struct tags. Data rows are left untouched.
func lowercaseHeader(data []byte) []byte {
	text := strings.TrimPrefix(string(data), "\ufeff")
	idx := strings.IndexByte(text, '\n')
	if idx < 0 {
		return []byte(strings.ToLower(text))
	}
	return []byte(strings.ToLower(text[:idx]) + text[idx:])
}

func parseFlexibleDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, format := range headerDateFormats {
		if t, err := time.Parse(format, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func coalesce(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
