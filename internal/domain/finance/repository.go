package finance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
)

// ErrAccountNotFound is returned when an account id or name resolves to nothing.
var ErrAccountNotFound = errors.New("account not found")

// Querier is the subset of pgxpool.Pool the repository needs. pgxmock
// satisfies it in tests.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository persists accounts, categories and transactions.
type Repository struct {
	db Querier
}

func NewRepository(db Querier) *Repository {
	return &Repository{db: db}
}

const txColumns = `id, account_id, tx_date, amount::text, description, category_id, tags, created_at`

func scanTransaction(row pgx.Row) (Transaction, error) {
	var (
		tx     Transaction
		amount string
	)
	err := row.Scan(&tx.ID, &tx.AccountID, &tx.Date, &amount, &tx.Description,
		&tx.CategoryID, &tx.Tags, &tx.CreatedAt)
	if err != nil {
		return Transaction{}, err
	}
	tx.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return Transaction{}, fmt.Errorf("parse stored amount %q: %w", amount, err)
	}
	return tx, nil
}

func collectTransactions(rows pgx.Rows) ([]Transaction, error) {
	defer rows.Close()
	var txs []Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}
	return txs, rows.Err()
}

// BulkInsert persists a batch of transactions in one statement using
// unnest, so a thousand-row import is still a single round trip. Amounts
// travel as text and are cast server-side to keep NUMERIC exact; tags
// travel as one JSON document per row and are exploded back into TEXT[]
// server-side, since unnest flattens a text[][] argument completely.
func (r *Repository) BulkInsert(ctx context.Context, txs []Transaction) (int, error) {
	if len(txs) == 0 {
		return 0, nil
	}

	accountIDs := make([]uuid.UUID, len(txs))
	dates := make([]time.Time, len(txs))
	amounts := make([]string, len(txs))
	descriptions := make([]string, len(txs))
	categoryIDs := make([]*uuid.UUID, len(txs))
	tagDocs := make([]string, len(txs))
	for i, tx := range txs {
		accountIDs[i] = tx.AccountID
		dates[i] = tx.Date
		amounts[i] = tx.Amount.String()
		descriptions[i] = tx.Description
		categoryIDs[i] = tx.CategoryID
		tags := tx.Tags
		if tags == nil {
			tags = []string{}
		}
		doc, err := json.Marshal(tags)
		if err != nil {
			return 0, fmt.Errorf("encode tags: %w", err)
		}
		tagDocs[i] = string(doc)
	}

	tag, err := r.db.Exec(ctx, `
		INSERT INTO transactions (account_id, tx_date, amount, description, category_id, tags)
		SELECT t.account_id, t.tx_date, t.amount, t.description, t.category_id,
		       ARRAY(SELECT jsonb_array_elements_text(t.tags))
		FROM unnest(
			$1::uuid[], $2::date[], $3::numeric[], $4::text[], $5::uuid[], $6::jsonb[]
		) AS t(account_id, tx_date, amount, description, category_id, tags)`,
		accountIDs, dates, amounts, descriptions, categoryIDs, tagDocs)
	if err != nil {
		return 0, fmt.Errorf("bulk insert transactions: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// ListBetween returns an account's transactions with tx_date in [from, to],
// ordered by date. The duplicate detector feeds its window through here.
func (r *Repository) ListBetween(ctx context.Context, accountID uuid.UUID, from, to time.Time) ([]Transaction, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+txColumns+`
		FROM transactions
		WHERE account_id = $1 AND tx_date BETWEEN $2 AND $3
		ORDER BY tx_date, created_at`,
		accountID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	return collectTransactions(rows)
}

// ListByAccount returns all of an account's transactions, oldest first.
func (r *Repository) ListByAccount(ctx context.Context, accountID uuid.UUID) ([]Transaction, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+txColumns+`
		FROM transactions
		WHERE account_id = $1
		ORDER BY tx_date, created_at`,
		accountID)
	if err != nil {
		return nil, fmt.Errorf("list account transactions: %w", err)
	}
	return collectTransactions(rows)
}

// ListUncategorized returns the account's transactions without a category,
// oldest first.
func (r *Repository) ListUncategorized(ctx context.Context, accountID uuid.UUID) ([]Transaction, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+txColumns+`
		FROM transactions
		WHERE account_id = $1 AND category_id IS NULL
		ORDER BY tx_date, created_at`,
		accountID)
	if err != nil {
		return nil, fmt.Errorf("list uncategorized: %w", err)
	}
	return collectTransactions(rows)
}

// UpdateCategorization sets a transaction's category and tags.
func (r *Repository) UpdateCategorization(ctx context.Context, id uuid.UUID, categoryID *uuid.UUID, tags []string) error {
	if tags == nil {
		tags = []string{}
	}
	tag, err := r.db.Exec(ctx, `
		UPDATE transactions
		SET category_id = $2, tags = $3, updated_at = now()
		WHERE id = $1`,
		id, categoryID, tags)
	if err != nil {
		return fmt.Errorf("update categorization: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("transaction %s not found", id)
	}
	return nil
}

// CreateAccount registers an account and returns it.
func (r *Repository) CreateAccount(ctx context.Context, name, currency string) (*Account, error) {
	var a Account
	err := r.db.QueryRow(ctx, `
		INSERT INTO accounts (name, currency)
		VALUES ($1, $2)
		RETURNING id, name, currency, created_at`,
		name, currency).Scan(&a.ID, &a.Name, &a.Currency, &a.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("create account: %w", err)
	}
	return &a, nil
}

// GetAccount fetches an account by id.
func (r *Repository) GetAccount(ctx context.Context, id uuid.UUID) (*Account, error) {
	var a Account
	err := r.db.QueryRow(ctx, `
		SELECT id, name, currency, created_at FROM accounts WHERE id = $1`,
		id).Scan(&a.ID, &a.Name, &a.Currency, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}
	return &a, nil
}

// CreateCategory registers a category and returns it.
func (r *Repository) CreateCategory(ctx context.Context, name string) (*Category, error) {
	var c Category
	err := r.db.QueryRow(ctx, `
		INSERT INTO categories (name)
		VALUES ($1)
		RETURNING id, name, created_at`,
		name).Scan(&c.ID, &c.Name, &c.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("create category: %w", err)
	}
	return &c, nil
}

// ListCategories returns all categories ordered by name.
func (r *Repository) ListCategories(ctx context.Context) ([]Category, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, name, created_at FROM categories ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	defer rows.Close()

	var categories []Category
	for rows.Next() {
		var c Category
		if err := rows.Scan(&c.ID, &c.Name, &c.CreatedAt); err != nil {
			return nil, err
		}
		categories = append(categories, c)
	}
	return categories, rows.Err()
}
