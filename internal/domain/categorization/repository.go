package categorization

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrRuleNotFound is returned when a rule id resolves to nothing.
var ErrRuleNotFound = errors.New("rule not found")

// Querier is the subset of pgxpool.Pool the repository needs.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository persists categorization rules. Condition documents are stored
// as the raw JSON the user submitted and parsed on load; anything in the
// table already passed save-time validation.
type Repository struct {
	db Querier
}

func NewRepository(db Querier) *Repository {
	return &Repository{db: db}
}

const ruleColumns = `id, name, priority, conditions, category_id, tags, is_active, created_at`

func scanRule(row pgx.Row) (Rule, error) {
	var (
		r          Rule
		conditions []byte
		categoryID *uuid.UUID
	)
	err := row.Scan(&r.ID, &r.Name, &r.Priority, &conditions, &categoryID,
		&r.Tags, &r.Active, &r.CreatedAt)
	if err != nil {
		return Rule{}, err
	}
	if categoryID != nil {
		r.CategoryID = *categoryID
	}
	r.Root, err = ParseConditions(r.Name, conditions)
	if err != nil {
		return Rule{}, fmt.Errorf("stored rule %s: %w", r.ID, err)
	}
	return r, nil
}

// Create persists a rule. conditions must already be validated. A nil
// category id is stored as NULL so tag-only rules survive the FK on
// categories.
func (r *Repository) Create(ctx context.Context, name string, priority int, conditions []byte, categoryID uuid.UUID, tags []string) (*Rule, error) {
	if tags == nil {
		tags = []string{}
	}
	var category *uuid.UUID
	if categoryID != uuid.Nil {
		category = &categoryID
	}
	rule, err := scanRule(r.db.QueryRow(ctx, `
		INSERT INTO category_rules (name, priority, conditions, category_id, tags)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+ruleColumns,
		name, priority, conditions, category, tags))
	if err != nil {
		return nil, fmt.Errorf("create rule: %w", err)
	}
	return &rule, nil
}

// ListActive returns the active rules in evaluation order.
func (r *Repository) ListActive(ctx context.Context) ([]Rule, error) {
	return r.list(ctx, `
		SELECT `+ruleColumns+`
		FROM category_rules
		WHERE is_active
		ORDER BY priority, created_at`)
}

// List returns every rule, active or not, in evaluation order.
func (r *Repository) List(ctx context.Context) ([]Rule, error) {
	return r.list(ctx, `
		SELECT `+ruleColumns+`
		FROM category_rules
		ORDER BY priority, created_at`)
}

func (r *Repository) list(ctx context.Context, query string) ([]Rule, error) {
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	defer rows.Close()

	var rules []Rule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

// SetActive toggles a rule without deleting it, so a misbehaving rule can be
// paused and inspected.
func (r *Repository) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE category_rules SET is_active = $2, updated_at = now() WHERE id = $1`,
		id, active)
	if err != nil {
		return fmt.Errorf("set rule active: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRuleNotFound
	}
	return nil
}

// Delete removes a rule permanently.
func (r *Repository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM category_rules WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete rule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRuleNotFound
	}
	return nil
}
