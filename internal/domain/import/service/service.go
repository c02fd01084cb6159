// Package service orchestrates the import pipeline: upload, format
// detection, preview, duplicate marking and the final confirm.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/rms81/fintrack-sub001/internal/domain/categorization"
	"github.com/rms81/fintrack-sub001/internal/domain/finance"
	"github.com/rms81/fintrack-sub001/internal/domain/import/dedup"
	"github.com/rms81/fintrack-sub001/internal/domain/import/parser"
	"github.com/rms81/fintrack-sub001/internal/domain/import/repository"
	importsession "github.com/rms81/fintrack-sub001/internal/domain/import/session"
	"github.com/rms81/fintrack-sub001/internal/domain/import/sniffer"
	"github.com/rms81/fintrack-sub001/pkg/metrics"
)

// SessionStore is the session persistence the service needs.
type SessionStore interface {
	Create(ctx context.Context, s *importsession.Session, rawData []byte) error
	Get(ctx context.Context, id uuid.UUID) (*importsession.Session, error)
	GetRawData(ctx context.Context, id uuid.UUID) ([]byte, error)
	Update(ctx context.Context, s *importsession.Session) error
	Delete(ctx context.Context, id uuid.UUID) error
	DeleteStale(ctx context.Context, cutoff time.Time) (int, error)
}

// TransactionStore is the slice of the finance repository the service needs.
type TransactionStore interface {
	BulkInsert(ctx context.Context, txs []finance.Transaction) (int, error)
	ListBetween(ctx context.Context, accountID uuid.UUID, from, to time.Time) ([]finance.Transaction, error)
}

// EngineLoader builds a rule evaluation engine from the active rules.
type EngineLoader interface {
	LoadEngine(ctx context.Context) (*categorization.Engine, error)
}

// Options tunes the pipeline.
type Options struct {
	// MaxErrorFraction is handed to the parser; zero means its default.
	MaxErrorFraction float64
	// DedupWindowDays widens the date range of existing transactions
	// fetched for duplicate detection. Zero means 3.
	DedupWindowDays int
	// SessionTTL is how long a non-confirmed session survives untouched.
	// Zero means 48 hours.
	SessionTTL time.Duration
}

const (
	defaultDedupWindowDays = 3
	defaultSessionTTL      = 48 * time.Hour
)

// Service runs the import pipeline.
type Service struct {
	sessions SessionStore
	txs      TransactionStore
	rules    EngineLoader
	locker   repository.AccountLocker
	metrics  *metrics.Metrics
	logger   *slog.Logger
	opts     Options
}

func NewService(sessions SessionStore, txs TransactionStore, rules EngineLoader, locker repository.AccountLocker, m *metrics.Metrics, logger *slog.Logger, opts Options) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.DedupWindowDays == 0 {
		opts.DedupWindowDays = defaultDedupWindowDays
	}
	if opts.SessionTTL == 0 {
		opts.SessionTTL = defaultSessionTTL
	}
	return &Service{
		sessions: sessions,
		txs:      txs,
		rules:    rules,
		locker:   locker,
		metrics:  m,
		logger:   logger,
		opts:     opts,
	}
}

// UploadResult reports the outcome of an upload. When format detection
// failed, DetectionError carries the cause and the session stays in the
// uploaded state awaiting a format override at preview time.
type UploadResult struct {
	Session        *importsession.Session
	SampleRows     [][]string
	DetectionError string
}

// Upload stores the statement and attempts format detection. xlsx workbooks
// are converted to delimited text first, so everything downstream sees one
// shape of data. A detection failure is not fatal: the session is kept and
// the caller can preview with an explicit FormatConfig.
func (s *Service) Upload(ctx context.Context, accountID uuid.UUID, filename string, data []byte) (*UploadResult, error) {
	if len(data) == 0 {
		return nil, sniffer.ErrEmptyFile
	}
	if parser.IsExcel(data) {
		converted, err := parser.ExcelToCSV(data)
		if err != nil {
			return nil, fmt.Errorf("convert workbook: %w", err)
		}
		data = converted
	}

	sess := importsession.New(accountID, filename)
	result := &UploadResult{Session: sess}

	detection, err := sniffer.Detect(data)
	switch {
	case err == nil:
		cfg := detection.Config
		sess.FormatConfig = &cfg
		sess.RowCount = detection.RowCount
		result.SampleRows = detection.SampleRows
	case errors.Is(err, sniffer.ErrEmptyFile):
		return nil, err
	default:
		result.DetectionError = err.Error()
	}

	if err := s.sessions.Create(ctx, sess, data); err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "statement uploaded",
		slog.String("session_id", sess.ID.String()),
		slog.String("account_id", accountID.String()),
		slog.String("filename", filename),
		slog.Int("rows", sess.RowCount),
		slog.Bool("detected", result.DetectionError == ""))
	return result, nil
}

// PreviewResult is what the user reviews before confirming.
type PreviewResult struct {
	Session    *importsession.Session
	Previews   []parser.Preview
	RowErrors  []parser.RowError
	Duplicates int
}

// Preview parses the stored statement and marks duplicates. A non-nil
// override replaces the detected format config and is persisted for the
// confirm. A session without a config falls back to header-based parsing;
// when that fails too the session stays as it is, awaiting an override.
// Preview can be repeated; each run re-parses from the stored bytes.
func (s *Service) Preview(ctx context.Context, sessionID uuid.UUID, override *sniffer.FormatConfig) (*PreviewResult, error) {
	sess, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !sess.CanTransition(importsession.StatusPreviewed) {
		return nil, &importsession.TransitionError{From: sess.Status, To: importsession.StatusPreviewed}
	}

	cfg := sess.FormatConfig
	if override != nil {
		if err := override.Validate(); err != nil {
			return nil, err
		}
		cfg = override
	}

	raw, err := s.sessions.GetRawData(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	result, err := s.parseAndMark(ctx, sess.AccountID, raw, cfg)
	if err != nil {
		// Only an unparseable file is terminal. Transient errors, such as
		// a failed duplicate-window query, leave the session retryable.
		if errors.Is(err, parser.ErrMalformedFile) {
			if failErr := sess.Fail(err.Error()); failErr == nil {
				if updateErr := s.sessions.Update(ctx, sess); updateErr != nil {
					s.logger.ErrorContext(ctx, "persist failed session",
						slog.String("session_id", sess.ID.String()),
						slog.Any("error", updateErr))
				}
			}
		}
		return nil, err
	}

	sess.FormatConfig = cfg
	sess.RowCount = result.parsed.TotalRows
	if err := sess.Transition(importsession.StatusPreviewed); err != nil {
		return nil, err
	}
	if err := s.sessions.Update(ctx, sess); err != nil {
		return nil, err
	}

	s.metrics.AddRowsFailed(len(result.parsed.Errors))
	s.logger.InfoContext(ctx, "statement previewed",
		slog.String("session_id", sess.ID.String()),
		slog.Int("rows", result.parsed.TotalRows),
		slog.Int("parsed", result.parsed.ParsedRows),
		slog.Int("row_errors", len(result.parsed.Errors)),
		slog.Int("duplicates", result.duplicates))

	return &PreviewResult{
		Session:    sess,
		Previews:   result.parsed.Previews,
		RowErrors:  result.parsed.Errors,
		Duplicates: result.duplicates,
	}, nil
}

// ConfirmOptions controls the confirm step.
type ConfirmOptions struct {
	// SkipDuplicates leaves rows flagged as duplicates out of the insert.
	SkipDuplicates bool
}

// ConfirmResult summarizes a completed import.
type ConfirmResult struct {
	Session           *importsession.Session
	Imported          int
	DuplicatesSkipped int
	Categorized       int
}

// Confirm persists the previewed rows as transactions, applying the active
// categorization rules to each. Confirms for the same account are
// serialized; a second caller gets ErrAccountLocked instead of a double
// import. The statement is re-parsed and duplicates re-marked under the
// lock, so the decision is made against the ledger as it is now, not as it
// was at preview time.
func (s *Service) Confirm(ctx context.Context, sessionID uuid.UUID, opts ConfirmOptions) (*ConfirmResult, error) {
	sess, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !sess.CanTransition(importsession.StatusConfirmed) {
		return nil, &importsession.TransitionError{From: sess.Status, To: importsession.StatusConfirmed}
	}

	release, err := s.locker.Acquire(ctx, sess.AccountID)
	if err != nil {
		return nil, err
	}
	defer release()

	raw, err := s.sessions.GetRawData(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	result, err := s.parseAndMark(ctx, sess.AccountID, raw, sess.FormatConfig)
	if err != nil {
		return nil, err
	}

	engine, err := s.rules.LoadEngine(ctx)
	if err != nil {
		return nil, err
	}

	var (
		txs         []finance.Transaction
		skipped     int
		categorized int
	)
	for _, p := range result.parsed.Previews {
		if p.Duplicate && opts.SkipDuplicates {
			skipped++
			continue
		}
		tx := finance.Transaction{
			AccountID:   sess.AccountID,
			Date:        p.Date,
			Amount:      p.Amount,
			Description: p.Description,
		}
		if assignment := engine.Match(categorization.Subject{
			Description: p.Description,
			Amount:      p.Amount,
			Date:        p.Date,
		}); assignment != nil {
			if assignment.CategoryID != uuid.Nil {
				id := assignment.CategoryID
				tx.CategoryID = &id
			}
			tx.Tags = assignment.Tags
			categorized++
		}
		txs = append(txs, tx)
	}

	imported, err := s.txs.BulkInsert(ctx, txs)
	if err != nil {
		return nil, err
	}

	if err := sess.Transition(importsession.StatusConfirmed); err != nil {
		return nil, err
	}
	if err := s.sessions.Update(ctx, sess); err != nil {
		return nil, err
	}

	s.metrics.AddRowsImported(imported)
	s.metrics.AddDuplicatesSkipped(skipped)
	s.metrics.AddRulesApplied(categorized)
	s.logger.InfoContext(ctx, "import confirmed",
		slog.String("session_id", sess.ID.String()),
		slog.String("account_id", sess.AccountID.String()),
		slog.Int("imported", imported),
		slog.Int("duplicates_skipped", skipped),
		slog.Int("categorized", categorized))

	return &ConfirmResult{
		Session:           sess,
		Imported:          imported,
		DuplicatesSkipped: skipped,
		Categorized:       categorized,
	}, nil
}

// Discard removes a session that will never be confirmed.
func (s *Service) Discard(ctx context.Context, sessionID uuid.UUID) error {
	sess, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess.Status == importsession.StatusConfirmed {
		return &importsession.TransitionError{From: sess.Status, To: importsession.StatusFailed}
	}
	return s.sessions.Delete(ctx, sessionID)
}

// PruneStale deletes non-confirmed sessions past their TTL. The scheduler
// calls this periodically.
func (s *Service) PruneStale(ctx context.Context) (int, error) {
	cutoff := time.Now().UTC().Add(-s.opts.SessionTTL)
	n, err := s.sessions.DeleteStale(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.metrics.AddSessionsPruned(n)
		s.logger.InfoContext(ctx, "stale sessions pruned", slog.Int("count", n))
	}
	return n, nil
}

type parseOutcome struct {
	parsed     *parser.Result
	duplicates int
}

// headerFallbackDelimiters are tried in order when a session has no format
// config and parsing has to rely on recognizable header names.
var headerFallbackDelimiters = []rune{',', ';', '\t'}

// parseStatement parses with the resolved config, or, when there is none,
// falls back to header-based parsing for exports whose column names are
// well known.
func (s *Service) parseStatement(raw []byte, cfg *sniffer.FormatConfig) (*parser.Result, error) {
	opts := parser.Options{MaxErrorFraction: s.opts.MaxErrorFraction}
	if cfg != nil {
		return parser.Parse(raw, *cfg, opts)
	}
	for _, delimiter := range headerFallbackDelimiters {
		result, err := parser.ParseByHeader(raw, delimiter, opts)
		if err == nil && result.ParsedRows > 0 {
			return result, nil
		}
	}
	return nil, fmt.Errorf("%w: no format config and no recognizable header; supply an override", sniffer.ErrFormatDetection)
}

// parseAndMark parses the stored bytes and marks duplicates against the
// ledger within the dedup window around the statement's date range.
func (s *Service) parseAndMark(ctx context.Context, accountID uuid.UUID, raw []byte, cfg *sniffer.FormatConfig) (*parseOutcome, error) {
	parsed, err := s.parseStatement(raw, cfg)
	if err != nil {
		return nil, err
	}

	duplicates := 0
	if len(parsed.Previews) > 0 {
		from, to := dateRange(parsed.Previews)
		window := time.Duration(s.opts.DedupWindowDays) * 24 * time.Hour
		existing, err := s.txs.ListBetween(ctx, accountID, from.Add(-window), to.Add(window))
		if err != nil {
			return nil, err
		}
		fingerprints := make([]dedup.Fingerprint, 0, len(existing))
		for _, tx := range existing {
			fingerprints = append(fingerprints, dedup.Of(
				tx.Date.Format("2006-01-02"), tx.Amount, tx.Description))
		}
		duplicates = dedup.Mark(parsed.Previews, fingerprints)
	}

	return &parseOutcome{parsed: parsed, duplicates: duplicates}, nil
}

func dateRange(previews []parser.Preview) (time.Time, time.Time) {
	from, to := previews[0].Date, previews[0].Date
	for _, p := range previews[1:] {
		if p.Date.Before(from) {
			from = p.Date
		}
		if p.Date.After(to) {
			to = p.Date
		}
	}
	return from, to
}
