package categorization

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/rms81/fintrack-sub001/internal/domain/finance"
	"github.com/rms81/fintrack-sub001/pkg/metrics"
)

// RuleStore is the persistence the service needs for rules.
type RuleStore interface {
	Create(ctx context.Context, name string, priority int, conditions []byte, categoryID uuid.UUID, tags []string) (*Rule, error)
	ListActive(ctx context.Context) ([]Rule, error)
	List(ctx context.Context) ([]Rule, error)
	SetActive(ctx context.Context, id uuid.UUID, active bool) error
	Delete(ctx context.Context, id uuid.UUID) error
}

// TransactionStore is the slice of the finance repository the service needs.
type TransactionStore interface {
	ListByAccount(ctx context.Context, accountID uuid.UUID) ([]finance.Transaction, error)
	ListUncategorized(ctx context.Context, accountID uuid.UUID) ([]finance.Transaction, error)
	UpdateCategorization(ctx context.Context, id uuid.UUID, categoryID *uuid.UUID, tags []string) error
	ListCategories(ctx context.Context) ([]finance.Category, error)
}

// Service owns rule management and rule application.
type Service struct {
	rules   RuleStore
	txs     TransactionStore
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func NewService(rules RuleStore, txs TransactionStore, m *metrics.Metrics, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{rules: rules, txs: txs, metrics: m, logger: logger}
}

// SaveRuleInput is a rule as submitted by the user, conditions still raw.
type SaveRuleInput struct {
	Name       string
	Priority   int
	Conditions []byte
	CategoryID uuid.UUID
	Tags       []string
}

// SaveRule validates and persists a rule. Invalid condition documents are
// rejected here with a *RuleParseError; nothing unparseable ever reaches the
// rules table.
func (s *Service) SaveRule(ctx context.Context, in SaveRuleInput) (*Rule, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, &RuleParseError{RuleName: in.Name, Reason: "rule name must not be empty"}
	}
	if in.Priority < 0 {
		return nil, &RuleParseError{RuleName: name, Reason: "priority must not be negative"}
	}
	if in.CategoryID == uuid.Nil && len(in.Tags) == 0 {
		return nil, &RuleParseError{RuleName: name, Reason: "rule must set a category or add tags"}
	}
	if _, err := ParseConditions(name, in.Conditions); err != nil {
		return nil, err
	}

	rule, err := s.rules.Create(ctx, name, in.Priority, in.Conditions, in.CategoryID, in.Tags)
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "rule saved",
		slog.String("rule_id", rule.ID.String()),
		slog.String("name", rule.Name),
		slog.Int("priority", rule.Priority))
	return rule, nil
}

// ListRules returns every rule in evaluation order.
func (s *Service) ListRules(ctx context.Context) ([]Rule, error) {
	return s.rules.List(ctx)
}

// SetRuleActive pauses or resumes a rule.
func (s *Service) SetRuleActive(ctx context.Context, id uuid.UUID, active bool) error {
	return s.rules.SetActive(ctx, id, active)
}

// DeleteRule removes a rule.
func (s *Service) DeleteRule(ctx context.Context, id uuid.UUID) error {
	return s.rules.Delete(ctx, id)
}

// LoadEngine builds an evaluation engine from the currently active rules.
// The import pipeline calls this once per confirm so every row of a batch
// sees the same rule set.
func (s *Service) LoadEngine(ctx context.Context) (*Engine, error) {
	rules, err := s.rules.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("load active rules: %w", err)
	}
	return NewEngine(rules), nil
}

// ApplyToUncategorized runs the active rules over the account's
// uncategorized transactions and returns how many were assigned a category.
// Already-categorized transactions are never touched.
func (s *Service) ApplyToUncategorized(ctx context.Context, accountID uuid.UUID) (int, error) {
	return s.ApplyRules(ctx, accountID, true)
}

// ApplyRules runs the active rules over the account's transactions and
// returns the number whose categorization changed. With onlyUncategorized
// the existing category assignments are left alone; otherwise transactions
// are re-evaluated against the current rule set and rewritten only when the
// outcome differs, so a repeated run changes nothing.
func (s *Service) ApplyRules(ctx context.Context, accountID uuid.UUID, onlyUncategorized bool) (int, error) {
	engine, err := s.LoadEngine(ctx)
	if err != nil {
		return 0, err
	}

	var txs []finance.Transaction
	if onlyUncategorized {
		txs, err = s.txs.ListUncategorized(ctx, accountID)
	} else {
		txs, err = s.txs.ListByAccount(ctx, accountID)
	}
	if err != nil {
		return 0, err
	}

	applied := 0
	for _, tx := range txs {
		assignment := engine.Match(Subject{
			Description: tx.Description,
			Amount:      tx.Amount,
			Date:        tx.Date,
		})
		if assignment == nil {
			continue
		}
		var categoryID *uuid.UUID
		if assignment.CategoryID != uuid.Nil {
			id := assignment.CategoryID
			categoryID = &id
		}
		tags := mergeTags(tx.Tags, assignment.Tags)
		if !categorizationChanged(tx, categoryID, tags) {
			continue
		}
		if err := s.txs.UpdateCategorization(ctx, tx.ID, categoryID, tags); err != nil {
			return applied, err
		}
		applied++
	}

	s.metrics.AddRulesApplied(applied)
	s.logger.InfoContext(ctx, "rules applied",
		slog.String("account_id", accountID.String()),
		slog.Bool("only_uncategorized", onlyUncategorized),
		slog.Int("candidates", len(txs)),
		slog.Int("applied", applied))
	return applied, nil
}

func categorizationChanged(tx finance.Transaction, categoryID *uuid.UUID, tags []string) bool {
	switch {
	case (tx.CategoryID == nil) != (categoryID == nil):
		return true
	case tx.CategoryID != nil && *tx.CategoryID != *categoryID:
		return true
	case len(tx.Tags) != len(tags):
		return true
	}
	for i := range tags {
		if tx.Tags[i] != tags[i] {
			return true
		}
	}
	return false
}

// Suggest returns advisory category suggestions for a description.
func (s *Service) Suggest(ctx context.Context, description string, limit int) ([]Suggestion, error) {
	categories, err := s.txs.ListCategories(ctx)
	if err != nil {
		return nil, err
	}
	byID := make(map[uuid.UUID]string, len(categories))
	for _, c := range categories {
		byID[c.ID] = c.Name
	}
	return SuggestCategories(description, byID, limit), nil
}

// mergeTags appends the rule's tags to the transaction's, deduplicated,
// preserving order.
func mergeTags(existing, added []string) []string {
	seen := make(map[string]struct{}, len(existing)+len(added))
	merged := make([]string, 0, len(existing)+len(added))
	for _, t := range existing {
		if _, ok := seen[t]; !ok {
			seen[t] = struct{}{}
			merged = append(merged, t)
		}
	}
	for _, t := range added {
		if _, ok := seen[t]; !ok {
			seen[t] = struct{}{}
			merged = append(merged, t)
		}
	}
	return merged
}
