// Package parser normalizes raw statement rows into transaction previews
// using a resolved format config. Parsing is pure and restartable: feeding
// the same bytes and config twice yields identical results.
package parser

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rms81/fintrack-sub001/internal/domain/import/sniffer"
	"github.com/rms81/fintrack-sub001/pkg/money"
)

// ErrMalformedFile aborts an import whose failed-row share exceeds the
// configured threshold. A file that is mostly unparseable should fail loudly
// instead of producing a near-empty preview.
var ErrMalformedFile = errors.New("malformed file")

// Preview is a normalized statement row awaiting confirmation. Previews live
// only inside an import session and are never persisted standalone.
type Preview struct {
	Date        time.Time       `json:"date"`
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"` // expenses negative
	Duplicate   bool            `json:"duplicate"`
}

// RowError describes a single row that failed to parse. Row is the 1-indexed
// line number in the original file, header included.
type RowError struct {
	Row    int    `json:"row"`
	Column string `json:"column"`
	Reason string `json:"reason"`
	Raw    string `json:"raw,omitempty"`
}

func (e RowError) Error() string {
	return fmt.Sprintf("row %d, column %s: %s", e.Row, e.Column, e.Reason)
}

// Result carries the previews and the accumulated row errors of one parse.
type Result struct {
	Previews   []Preview
	Errors     []RowError
	TotalRows  int
	ParsedRows int
}

// Options tunes parser behavior. The malformed threshold is a parameter, not
// a contract.
type Options struct {
	// MaxErrorFraction is the failed-row share above which the whole file
	// is rejected. Zero means the default of 0.5.
	MaxErrorFraction float64
}

const defaultMaxErrorFraction = 0.5

// Parse splits raw bytes on the configured delimiter and normalizes every
// data row. Returns ErrMalformedFile when too many rows fail.
func Parse(data []byte, cfg sniffer.FormatConfig, opts Options) (*Result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	lines := splitLines(data)
	rows := make([][]string, 0, len(lines))
	for _, line := range lines {
		rows = append(rows, sniffer.SplitRow(line, cfg.Delimiter))
	}
	return ParseRows(rows, cfg, opts)
}

// ParseRows normalizes already-split rows. The header row, when configured,
// is skipped; line numbers in errors refer to positions in rows (1-indexed).
func ParseRows(rows [][]string, cfg sniffer.FormatConfig, opts Options) (*Result, error) {
	maxFraction := opts.MaxErrorFraction
	if maxFraction == 0 {
		maxFraction = defaultMaxErrorFraction
	}

	start := 0
	if cfg.HasHeader && len(rows) > 0 {
		start = 1
	}

	result := &Result{}
	for i := start; i < len(rows); i++ {
		result.TotalRows++
		preview, rowErr := parseRow(rows[i], cfg, i+1)
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

func parseRow(row []string, cfg sniffer.FormatConfig, lineNum int) (*Preview, *RowError) {
	cell := func(idx int) string {
		if idx < 0 || idx >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[idx])
	}

	dateStr := cell(cfg.DateColumn)
	date, err := time.Parse(cfg.DateFormat, dateStr)
	if err != nil {
		return nil, &RowError{Row: lineNum, Column: "date", Reason: "invalid date", Raw: dateStr}
	}

	description := collapseWhitespace(cell(cfg.DescriptionColumn))
	if description == "" {
		return nil, &RowError{Row: lineNum, Column: "description", Reason: "missing description"}
	}

	var amount decimal.Decimal
	if cfg.AmountType == sniffer.AmountSigned {
		raw := cell(*cfg.AmountColumn)
		amount, err = money.ParseAmount(raw)
		if err != nil {
			return nil, &RowError{Row: lineNum, Column: "amount", Reason: "invalid amount", Raw: raw}
		}
	} else {
		debit := cell(*cfg.DebitColumn)
		credit := cell(*cfg.CreditColumn)
		switch {
		case debit != "":
			d, err := money.ParseAmount(debit)
			if err != nil {
				return nil, &RowError{Row: lineNum, Column: "debit", Reason: "invalid amount", Raw: debit}
			}
			// Debit columns carry magnitudes; money out is negative.
			amount = d.Abs().Neg()
		case credit != "":
			c, err := money.ParseAmount(credit)
			if err != nil {
				return nil, &RowError{Row: lineNum, Column: "credit", Reason: "invalid amount", Raw: credit}
			}
			amount = c.Abs()
		default:
			return nil, &RowError{Row: lineNum, Column: "amount", Reason: "missing debit and credit"}
		}
	}

	return &Preview{Date: date, Description: description, Amount: amount}, nil
}

// collapseWhitespace trims and squeezes runs of whitespace into one space.
func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func splitLines(data []byte) []string {
	text := strings.TrimPrefix(string(data), "\ufeff")
	var lines []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) != "" {
			lines = append(lines, line)
		}
	}
	return lines
}
