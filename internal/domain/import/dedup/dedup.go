// Package dedup flags statement previews that duplicate already-imported
// transactions or repeat within the same upload.
package dedup

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/rms81/fintrack-sub001/internal/domain/import/parser"
)

// Fingerprint identifies a transaction for duplicate detection. Two rows with
// the same posting date, amount and normalized description are considered the
// same transaction regardless of which file they arrived in.
type Fingerprint string

// Of computes the fingerprint of a date/amount/description triple. The
// description is lower-cased with whitespace runs collapsed, so cosmetic
// differences between exports of the same statement do not defeat matching.
func Of(date string, amount decimal.Decimal, description string) Fingerprint {
	normalized := strings.ToLower(strings.Join(strings.Fields(description), " "))
	return Fingerprint(date + "|" + amount.String() + "|" + normalized)
}

func ofPreview(p parser.Preview) Fingerprint {
	return Of(p.Date.Format("2006-01-02"), p.Amount, p.Description)
}

// Mark sets Duplicate on every preview whose fingerprint matches an existing
// transaction, or an earlier preview in the same batch. Within a batch the
// first occurrence stays clean: legitimate repeated charges (two identical
// coffees in one day) still import once.
//
// Mark mutates previews in place and returns the duplicate count. It never
// drops rows; skipping is a confirm-time decision.
func Mark(previews []parser.Preview, existing []Fingerprint) int {
	seen := make(map[Fingerprint]struct{}, len(existing)+len(previews))
	for _, fp := range existing {
		seen[fp] = struct{}{}
	}

	duplicates := 0
	for i := range previews {
		fp := ofPreview(previews[i])
		if _, ok := seen[fp]; ok {
			previews[i].Duplicate = true
			duplicates++
			continue
		}
		previews[i].Duplicate = false
		seen[fp] = struct{}{}
	}
	return duplicates
}
