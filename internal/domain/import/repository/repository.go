// Package repository persists import sessions and serializes confirms per
// account.
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	importsession "github.com/rms81/fintrack-sub001/internal/domain/import/session"
	"github.com/rms81/fintrack-sub001/internal/domain/import/sniffer"
)

// Querier is the subset of pgxpool.Pool the repository needs.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// SessionRepository stores import sessions, including the raw statement
// bytes so preview and confirm can re-parse the exact upload.
type SessionRepository struct {
	db Querier
}

func NewSessionRepository(db Querier) *SessionRepository {
	return &SessionRepository{db: db}
}

// Create persists a fresh session together with its raw file bytes.
func (r *SessionRepository) Create(ctx context.Context, s *importsession.Session, rawData []byte) error {
	cfg, err := marshalConfig(s.FormatConfig)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(ctx, `
		INSERT INTO import_sessions
			(id, account_id, filename, status, error_message, format_config, raw_data, row_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		s.ID, s.AccountID, s.Filename, s.Status, s.ErrorMessage, cfg, rawData, s.RowCount, s.CreatedAt, s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create import session: %w", err)
	}
	return nil
}

// Get fetches a session without its raw bytes.
func (r *SessionRepository) Get(ctx context.Context, id uuid.UUID) (*importsession.Session, error) {
	var (
		s   importsession.Session
		cfg []byte
	)
	err := r.db.QueryRow(ctx, `
		SELECT id, account_id, filename, status, COALESCE(error_message, ''), format_config, row_count, created_at, updated_at
		FROM import_sessions
		WHERE id = $1`,
		id).Scan(&s.ID, &s.AccountID, &s.Filename, &s.Status, &s.ErrorMessage,
		&cfg, &s.RowCount, &s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, importsession.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get import session: %w", err)
	}
	if s.FormatConfig, err = unmarshalConfig(cfg); err != nil {
		return nil, err
	}
	return &s, nil
}

// GetRawData fetches the stored statement bytes for a session.
func (r *SessionRepository) GetRawData(ctx context.Context, id uuid.UUID) ([]byte, error) {
	var raw []byte
	err := r.db.QueryRow(ctx, `
		SELECT raw_data FROM import_sessions WHERE id = $1`, id).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, importsession.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session raw data: %w", err)
	}
	return raw, nil
}

// Update persists the session's mutable fields.
func (r *SessionRepository) Update(ctx context.Context, s *importsession.Session) error {
	cfg, err := marshalConfig(s.FormatConfig)
	if err != nil {
		return err
	}
	tag, err := r.db.Exec(ctx, `
		UPDATE import_sessions
		SET status = $2, error_message = $3, format_config = $4, row_count = $5, updated_at = $6
		WHERE id = $1`,
		s.ID, s.Status, s.ErrorMessage, cfg, s.RowCount, s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update import session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return importsession.ErrNotFound
	}
	return nil
}

// Delete removes a session and its raw bytes.
func (r *SessionRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM import_sessions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete import session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return importsession.ErrNotFound
	}
	return nil
}

// DeleteStale removes non-confirmed sessions untouched since the cutoff.
// Confirmed sessions are part of the import audit trail and stay.
func (r *SessionRepository) DeleteStale(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := r.db.Exec(ctx, `
		DELETE FROM import_sessions
		WHERE status <> 'confirmed' AND updated_at < $1`,
		cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete stale sessions: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func marshalConfig(cfg *sniffer.FormatConfig) ([]byte, error) {
	if cfg == nil {
		return nil, nil
	}
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("marshal format config: %w", err)
	}
	return data, nil
}

func unmarshalConfig(data []byte) (*sniffer.FormatConfig, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var cfg sniffer.FormatConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal format config: %w", err)
	}
	return &cfg, nil
}
