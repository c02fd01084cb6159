// Package sniffer detects the format of bank-statement CSV exports: the
// delimiter, header presence, column roles and the date format. Detection is
// a best-effort heuristic with an explicit override escape hatch; it never
// falls back to a silent default.
package sniffer

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rms81/fintrack-sub001/pkg/money"
)

// Detection errors. ErrFormatDetection wraps every condition that requires
// the caller to supply an explicit format override.
var (
	ErrFormatDetection = errors.New("format detection failed")
	ErrEmptyFile       = fmt.Errorf("%w: file is empty", ErrFormatDetection)
)

// AmountType selects how the amount is represented in the file.
type AmountType string

const (
	// AmountSigned means a single column carries signed amounts.
	AmountSigned AmountType = "signed"
	// AmountDebitCredit means separate debit and credit columns.
	AmountDebitCredit AmountType = "debit_credit"
)

// FormatConfig describes how to read one statement file. It is the wire
// format stored with an import session, so field names are stable.
type FormatConfig struct {
	Delimiter         string     `json:"delimiter"`
	HasHeader         bool       `json:"has_header"`
	DateColumn        int        `json:"date_column"`
	DateFormat        string     `json:"date_format"`
	DescriptionColumn int        `json:"description_column"`
	AmountType        AmountType `json:"amount_type"`
	AmountColumn      *int       `json:"amount_column,omitempty"`
	DebitColumn       *int       `json:"debit_column,omitempty"`
	CreditColumn      *int       `json:"credit_column,omitempty"`
	// BalanceColumn is informational only; parsing ignores it.
	BalanceColumn *int `json:"balance_column,omitempty"`
}

// Validate enforces the structural invariants of a config: a usable
// delimiter, a date format, and exactly one amount representation
// (single amount column XOR debit/credit pair).
func (c *FormatConfig) Validate() error {
	if c.Delimiter == "" {
		return fmt.Errorf("%w: missing delimiter", ErrFormatDetection)
	}
	if c.DateFormat == "" {
		return fmt.Errorf("%w: missing date format", ErrFormatDetection)
	}
	if c.DateColumn < 0 || c.DescriptionColumn < 0 {
		return fmt.Errorf("%w: date and description columns are required", ErrFormatDetection)
	}

	single := c.AmountColumn != nil
	double := c.DebitColumn != nil && c.CreditColumn != nil
	switch {
	case single && (c.DebitColumn != nil || c.CreditColumn != nil):
		return fmt.Errorf("%w: amount column and debit/credit columns are mutually exclusive", ErrFormatDetection)
	case !single && !double:
		return fmt.Errorf("%w: either amount column or both debit and credit columns must be set", ErrFormatDetection)
	case single && c.AmountType != AmountSigned:
		return fmt.Errorf("%w: amount column requires amount_type %q", ErrFormatDetection, AmountSigned)
	case double && c.AmountType != AmountDebitCredit:
		return fmt.Errorf("%w: debit/credit columns require amount_type %q", ErrFormatDetection, AmountDebitCredit)
	}
	return nil
}

// Detection is the result of analyzing a file: the inferred config plus a
// small sample of data rows for user confirmation.
type Detection struct {
	Config     FormatConfig
	SampleRows [][]string
	RowCount   int // data rows, header excluded
}

// Candidate delimiters in priority order; ties go to the earlier one.
var delimiters = []string{",", ";", "\t"}

// Date formats tried during detection, most common statement layouts first.
var dateFormats = []string{
	"2006-01-02",
	"02/01/2006",
	"01/02/2006",
	"02-01-2006",
	"2006/01/02",
	"02.01.2006",
	"02/01/06",
	"Jan 2, 2006",
}

const (
	probeLines = 10 // lines examined for delimiter consistency
	sampleSize = 5  // data rows returned for user confirmation
)

// Detect analyzes raw statement bytes and infers a FormatConfig. Detecting
// twice on identical bytes yields an identical result. The returned config
// is guaranteed to parse every sampled row; otherwise ErrFormatDetection is
// returned and the caller must supply an override.
func Detect(data []byte) (*Detection, error) {
	lines := splitLines(data)
	if len(lines) == 0 {
		return nil, ErrEmptyFile
	}

	delimiter, err := detectDelimiter(lines)
	if err != nil {
		return nil, err
	}

	rows := make([][]string, 0, len(lines))
	for _, line := range lines {
		rows = append(rows, SplitRow(line, delimiter))
	}

	hasHeader := isHeaderRow(rows[0])
	dataRows := rows
	var header []string
	if hasHeader {
		header = rows[0]
		dataRows = rows[1:]
	}
	if len(dataRows) == 0 {
		return nil, fmt.Errorf("%w: no data rows", ErrFormatDetection)
	}

	probe := dataRows
	if len(probe) > probeLines {
		probe = probe[:probeLines]
	}

	cfg, err := inferColumns(header, probe)
	if err != nil {
		return nil, err
	}
	cfg.Delimiter = delimiter
	cfg.HasHeader = hasHeader

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	// Detection is only trustworthy when the config round-trips cleanly
	// over the sample.
	if err := Verify(cfg, probe); err != nil {
		return nil, err
	}

	sample := dataRows
	if len(sample) > sampleSize {
		sample = sample[:sampleSize]
	}

	return &Detection{
		Config:     cfg,
		SampleRows: sample,
		RowCount:   len(dataRows),
	}, nil
}

// Verify checks that cfg parses every given data row without error. Used on
// detected configs and on caller-supplied overrides alike.
func Verify(cfg FormatConfig, rows [][]string) error {
	for i, row := range rows {
		if err := checkRow(cfg, row); err != nil {
			return fmt.Errorf("%w: sample row %d: %v", ErrFormatDetection, i, err)
		}
	}
	return nil
}

func checkRow(cfg FormatConfig, row []string) error {
	if cfg.DateColumn >= len(row) {
		return fmt.Errorf("date column %d out of bounds", cfg.DateColumn)
	}
	if _, err := time.Parse(cfg.DateFormat, strings.TrimSpace(row[cfg.DateColumn])); err != nil {
		return fmt.Errorf("date %q does not match format %q", row[cfg.DateColumn], cfg.DateFormat)
	}
	if cfg.DescriptionColumn >= len(row) {
		return fmt.Errorf("description column %d out of bounds", cfg.DescriptionColumn)
	}

	if cfg.AmountType == AmountSigned {
		if *cfg.AmountColumn >= len(row) {
			return fmt.Errorf("amount column %d out of bounds", *cfg.AmountColumn)
		}
		if _, err := money.ParseAmount(row[*cfg.AmountColumn]); err != nil {
			return fmt.Errorf("amount %q is not numeric", row[*cfg.AmountColumn])
		}
		return nil
	}

	if *cfg.DebitColumn >= len(row) || *cfg.CreditColumn >= len(row) {
		return fmt.Errorf("debit/credit column out of bounds")
	}
	debit := strings.TrimSpace(row[*cfg.DebitColumn])
	credit := strings.TrimSpace(row[*cfg.CreditColumn])
	switch {
	case debit != "":
		if _, err := money.ParseAmount(debit); err != nil {
			return fmt.Errorf("debit %q is not numeric", debit)
		}
	case credit != "":
		if _, err := money.ParseAmount(credit); err != nil {
			return fmt.Errorf("credit %q is not numeric", credit)
		}
	default:
		return errors.New("missing debit and credit")
	}
	return nil
}

// detectDelimiter picks the candidate producing the most columns with a
// consistent count across the probed lines.
func detectDelimiter(lines []string) (string, error) {
	probe := lines
	if len(probe) > probeLines {
		probe = probe[:probeLines]
	}

	best := ""
	bestCols := 0
	for _, d := range delimiters {
		cols := len(SplitRow(probe[0], d))
		if cols < 2 {
			continue
		}
		consistent := true
		for _, line := range probe[1:] {
			if len(SplitRow(line, d)) != cols {
				consistent = false
				break
			}
		}
		// Strictly greater keeps the priority order on ties.
		if consistent && cols > bestCols {
			best = d
			bestCols = cols
		}
	}
	if best == "" {
		return "", fmt.Errorf("%w: no delimiter yields a consistent column count", ErrFormatDetection)
	}
	return best, nil
}

// isHeaderRow reports whether no cell of the row parses as a date or number.
func isHeaderRow(row []string) bool {
	for _, cell := range row {
		cell = strings.TrimSpace(cell)
		if cell == "" {
			continue
		}
		if money.IsNumeric(cell) {
			return false
		}
		for _, format := range dateFormats {
			if _, err := time.Parse(format, cell); err == nil {
				return false
			}
		}
	}
	return true
}

// inferColumns assigns roles to columns based on header keywords when a
// header exists, refined by the values observed in the probe rows.
func inferColumns(header []string, probe [][]string) (FormatConfig, error) {
	cols := len(probe[0])
	hints := headerHints(header)

	dateCol, dateFormat := findDateColumn(probe, cols, hints.date)
	if dateCol < 0 {
		return FormatConfig{}, fmt.Errorf("%w: no date column found", ErrFormatDetection)
	}

	var numeric []int
	for c := 0; c < cols; c++ {
		if c == dateCol {
			continue
		}
		if columnIsNumeric(probe, c) {
			numeric = append(numeric, c)
		}
	}

	cfg := FormatConfig{
		DateColumn: dateCol,
		DateFormat: dateFormat,
	}

	// A column the header names "balance"/"saldo" never carries the amount.
	if hints.balance >= 0 {
		numeric = removeColumn(numeric, hints.balance)
		balance := hints.balance
		cfg.BalanceColumn = &balance
	}

	switch {
	case hints.debit >= 0 && hints.credit >= 0:
		debit, credit := hints.debit, hints.credit
		cfg.AmountType = AmountDebitCredit
		cfg.DebitColumn = &debit
		cfg.CreditColumn = &credit
		numeric = removeColumn(removeColumn(numeric, debit), credit)
	case hints.amount >= 0:
		amount := hints.amount
		cfg.AmountType = AmountSigned
		cfg.AmountColumn = &amount
		numeric = removeColumn(numeric, amount)
	case len(numeric) == 1:
		amount := numeric[0]
		cfg.AmountType = AmountSigned
		cfg.AmountColumn = &amount
		numeric = nil
	case len(numeric) == 2:
		debit, credit := numeric[0], numeric[1]
		cfg.AmountType = AmountDebitCredit
		cfg.DebitColumn = &debit
		cfg.CreditColumn = &credit
		numeric = nil
	case len(numeric) == 0:
		return FormatConfig{}, fmt.Errorf("%w: no amount column found", ErrFormatDetection)
	default:
		return FormatConfig{}, fmt.Errorf("%w: ambiguous amount columns", ErrFormatDetection)
	}

	descCol := hints.description
	if descCol < 0 {
		descCol = findDescriptionColumn(probe, cols, cfg)
	}
	if descCol < 0 {
		return FormatConfig{}, fmt.Errorf("%w: no description column found", ErrFormatDetection)
	}
	cfg.DescriptionColumn = descCol

	return cfg, nil
}

// findDateColumn returns the first column (preferring the header hint) whose
// probe values all parse under a single tried format, plus that format.
func findDateColumn(probe [][]string, cols int, hint int) (int, string) {
	order := make([]int, 0, cols)
	if hint >= 0 && hint < cols {
		order = append(order, hint)
	}
	for c := 0; c < cols; c++ {
		if c != hint {
			order = append(order, c)
		}
	}

	for _, c := range order {
		for _, format := range dateFormats {
			ok := true
			for _, row := range probe {
				if c >= len(row) {
					ok = false
					break
				}
				if _, err := time.Parse(format, strings.TrimSpace(row[c])); err != nil {
					ok = false
					break
				}
			}
			if ok {
				return c, format
			}
		}
	}
	return -1, ""
}

// columnIsNumeric reports whether every non-empty probe value in column c is
// an amount, with at least one non-empty value. Debit/credit columns are
// mostly empty, so empties do not disqualify.
func columnIsNumeric(probe [][]string, c int) bool {
	seen := 0
	for _, row := range probe {
		if c >= len(row) {
			return false
		}
		cell := strings.TrimSpace(row[c])
		if cell == "" {
			continue
		}
		if !money.IsNumeric(cell) {
			return false
		}
		seen++
	}
	return seen > 0
}

// findDescriptionColumn picks the textual column with the longest average
// cell length among columns with no assigned role.
func findDescriptionColumn(probe [][]string, cols int, cfg FormatConfig) int {
	taken := map[int]bool{cfg.DateColumn: true}
	for _, p := range []*int{cfg.AmountColumn, cfg.DebitColumn, cfg.CreditColumn, cfg.BalanceColumn} {
		if p != nil {
			taken[*p] = true
		}
	}

	best, bestLen := -1, -1
	for c := 0; c < cols; c++ {
		if taken[c] || columnIsNumeric(probe, c) {
			continue
		}
		total := 0
		for _, row := range probe {
			if c < len(row) {
				total += len(strings.TrimSpace(row[c]))
			}
		}
		if total > bestLen {
			best, bestLen = c, total
		}
	}
	return best
}

type columnHints struct {
	date, description, amount, debit, credit, balance int
}

// headerHints matches header names against the keywords banks commonly use.
func headerHints(header []string) columnHints {
	hints := columnHints{date: -1, description: -1, amount: -1, debit: -1, credit: -1, balance: -1}
	for i, raw := range header {
		h := strings.ToLower(strings.TrimSpace(raw))
		switch {
		case hints.date < 0 && (strings.Contains(h, "date") || strings.Contains(h, "data") || strings.Contains(h, "fecha")):
			hints.date = i
		case hints.debit < 0 && (strings.Contains(h, "debit") || strings.Contains(h, "débito") || strings.Contains(h, "cargo")):
			hints.debit = i
		case hints.credit < 0 && (strings.Contains(h, "credit") || strings.Contains(h, "crédito") || strings.Contains(h, "abono")):
			hints.credit = i
		case hints.balance < 0 && (strings.Contains(h, "balance") || strings.Contains(h, "saldo")):
			hints.balance = i
		case hints.amount < 0 && (h == "amount" || h == "valor" || h == "importe" || h == "value" || h == "montant"):
			hints.amount = i
		case hints.description < 0 && (strings.Contains(h, "desc") || strings.Contains(h, "merchant") || strings.Contains(h, "payee") || strings.Contains(h, "memo")):
			hints.description = i
		}
	}
	return hints
}

func removeColumn(cols []int, col int) []int {
	out := cols[:0]
	for _, c := range cols {
		if c != col {
			out = append(out, c)
		}
	}
	return out
}

// SplitRow splits a raw line on the delimiter with simple double-quote
// stripping. Statement exports do not use quoted embedded delimiters, so a
// plain split keeps behavior predictable.
func SplitRow(line, delimiter string) []string {
	cells := strings.Split(line, delimiter)
	for i, cell := range cells {
		cell = strings.TrimSpace(cell)
		cell = strings.Trim(cell, `"`)
		cells[i] = strings.TrimSpace(cell)
	}
	return cells
}

// splitLines splits raw bytes into trimmed, non-empty lines, dropping a UTF-8
// BOM when present.
func splitLines(data []byte) []string {
	text := string(data)
	text = strings.TrimPrefix(text, "\ufeff")

	var lines []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) != "" {
			lines = append(lines, line)
		}
	}
	return lines
}
