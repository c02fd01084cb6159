package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rms81/fintrack-sub001/internal/domain/categorization"
	"github.com/rms81/fintrack-sub001/internal/domain/finance"
	"github.com/rms81/fintrack-sub001/internal/domain/import/parser"
	"github.com/rms81/fintrack-sub001/internal/domain/import/repository"
	importsession "github.com/rms81/fintrack-sub001/internal/domain/import/session"
	"github.com/rms81/fintrack-sub001/internal/domain/import/sniffer"
)

const statement = `date,description,amount
2024-03-01,Blue Bottle Coffee,-4.50
2024-03-02,Salary March,1250.00
2024-03-03,Grocery Market,-82.10
`

type memSessionStore struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]importsession.Session
	raw      map[uuid.UUID][]byte
}

func newMemSessionStore() *memSessionStore {
	return &memSessionStore{
		sessions: make(map[uuid.UUID]importsession.Session),
		raw:      make(map[uuid.UUID][]byte),
	}
}

func (m *memSessionStore) Create(_ context.Context, s *importsession.Session, rawData []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = *s
	m.raw[s.ID] = rawData
	return nil
}

func (m *memSessionStore) Get(_ context.Context, id uuid.UUID) (*importsession.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, importsession.ErrNotFound
	}
	copied := s
	return &copied, nil
}

func (m *memSessionStore) GetRawData(_ context.Context, id uuid.UUID) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	raw, ok := m.raw[id]
	if !ok {
		return nil, importsession.ErrNotFound
	}
	return raw, nil
}

func (m *memSessionStore) Update(_ context.Context, s *importsession.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[s.ID]; !ok {
		return importsession.ErrNotFound
	}
	m.sessions[s.ID] = *s
	return nil
}

func (m *memSessionStore) Delete(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[id]; !ok {
		return importsession.ErrNotFound
	}
	delete(m.sessions, id)
	delete(m.raw, id)
	return nil
}

func (m *memSessionStore) DeleteStale(_ context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, s := range m.sessions {
		if s.Status != importsession.StatusConfirmed && s.UpdatedAt.Before(cutoff) {
			delete(m.sessions, id)
			delete(m.raw, id)
			n++
		}
	}
	return n, nil
}

type memTxStore struct {
	mu      sync.Mutex
	txs     []finance.Transaction
	listErr error
}

func (m *memTxStore) BulkInsert(_ context.Context, txs []finance.Transaction) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, tx := range txs {
		tx.ID = uuid.New()
		m.txs = append(m.txs, tx)
	}
	return len(txs), nil
}

func (m *memTxStore) ListBetween(_ context.Context, accountID uuid.UUID, from, to time.Time) ([]finance.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []finance.Transaction
	for _, tx := range m.txs {
		if tx.AccountID == accountID && !tx.Date.Before(from) && !tx.Date.After(to) {
			out = append(out, tx)
		}
	}
	return out, nil
}

type staticEngineLoader struct {
	rules []categorization.Rule
}

func (l *staticEngineLoader) LoadEngine(context.Context) (*categorization.Engine, error) {
	return categorization.NewEngine(l.rules), nil
}

func coffeeRule(t *testing.T, categoryID uuid.UUID) categorization.Rule {
	t.Helper()
	root, err := categorization.ParseConditions("coffee",
		[]byte(`{"field": "description", "operator": "contains", "value": "coffee"}`))
	require.NoError(t, err)
	return categorization.Rule{
		ID:         uuid.New(),
		Name:       "coffee",
		Priority:   1,
		Root:       root,
		CategoryID: categoryID,
		Tags:       []string{"treat"},
		Active:     true,
		CreatedAt:  time.Now().UTC(),
	}
}

type fixture struct {
	svc      *Service
	sessions *memSessionStore
	txs      *memTxStore
	locker   *repository.MemoryAccountLocker
	coffee   uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		sessions: newMemSessionStore(),
		txs:      &memTxStore{},
		locker:   repository.NewMemoryAccountLocker(),
		coffee:   uuid.New(),
	}
	f.svc = NewService(f.sessions, f.txs,
		&staticEngineLoader{rules: []categorization.Rule{coffeeRule(t, f.coffee)}},
		f.locker, nil, nil, Options{})
	return f
}

func TestUploadDetectsFormat(t *testing.T) {
	f := newFixture(t)

	got, err := f.svc.Upload(context.Background(), uuid.New(), "statement.csv", []byte(statement))

	require.NoError(t, err)
	assert.Empty(t, got.DetectionError)
	assert.Equal(t, importsession.StatusUploaded, got.Session.Status)
	require.NotNil(t, got.Session.FormatConfig)
	assert.Equal(t, ",", got.Session.FormatConfig.Delimiter)
	assert.Equal(t, 3, got.Session.RowCount)
	assert.Len(t, got.SampleRows, 3)
}

func TestUploadEmptyFile(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Upload(context.Background(), uuid.New(), "empty.csv", nil)

	assert.ErrorIs(t, err, sniffer.ErrEmptyFile)
}

func TestUploadKeepsSessionOnDetectionFailure(t *testing.T) {
	f := newFixture(t)
	ambiguous := []byte("date,description,x,y,z\n" +
		"2024-03-01,Coffee,-4.50,1.00,2.00\n" +
		"2024-03-02,Tea,-3.00,1.50,2.50\n")

	got, err := f.svc.Upload(context.Background(), uuid.New(), "odd.csv", ambiguous)

	require.NoError(t, err)
	assert.NotEmpty(t, got.DetectionError)
	assert.Nil(t, got.Session.FormatConfig)
	assert.Equal(t, importsession.StatusUploaded, got.Session.Status)

	// The stored session accepts an explicit override at preview time.
	amountCol := 2
	override := &sniffer.FormatConfig{
		Delimiter:         ",",
		HasHeader:         true,
		DateColumn:        0,
		DateFormat:        "2006-01-02",
		DescriptionColumn: 1,
		AmountType:        sniffer.AmountSigned,
		AmountColumn:      &amountCol,
	}
	preview, err := f.svc.Preview(context.Background(), got.Session.ID, override)

	require.NoError(t, err)
	assert.Len(t, preview.Previews, 2)
	assert.Equal(t, importsession.StatusPreviewed, preview.Session.Status)
}

func TestPreviewParsesAndPersists(t *testing.T) {
	f := newFixture(t)
	accountID := uuid.New()
	up, err := f.svc.Upload(context.Background(), accountID, "statement.csv", []byte(statement))
	require.NoError(t, err)

	got, err := f.svc.Preview(context.Background(), up.Session.ID, nil)

	require.NoError(t, err)
	require.Len(t, got.Previews, 3)
	assert.Empty(t, got.RowErrors)
	assert.Zero(t, got.Duplicates)
	assert.True(t, got.Previews[0].Amount.Equal(decimal.RequireFromString("-4.5")))

	stored, err := f.sessions.Get(context.Background(), up.Session.ID)
	require.NoError(t, err)
	assert.Equal(t, importsession.StatusPreviewed, stored.Status)
}

func TestPreviewFailsSessionOnMalformedOverride(t *testing.T) {
	f := newFixture(t)
	up, err := f.svc.Upload(context.Background(), uuid.New(), "statement.csv", []byte(statement))
	require.NoError(t, err)

	amountCol := 2
	wrongDates := &sniffer.FormatConfig{
		Delimiter:         ",",
		HasHeader:         true,
		DateColumn:        0,
		DateFormat:        "01/02/2006", // nothing in the file matches
		DescriptionColumn: 1,
		AmountType:        sniffer.AmountSigned,
		AmountColumn:      &amountCol,
	}

	_, err = f.svc.Preview(context.Background(), up.Session.ID, wrongDates)

	require.ErrorIs(t, err, parser.ErrMalformedFile)
	stored, getErr := f.sessions.Get(context.Background(), up.Session.ID)
	require.NoError(t, getErr)
	assert.Equal(t, importsession.StatusFailed, stored.Status)
	assert.NotEmpty(t, stored.ErrorMessage)
}

func TestPreviewSurvivesTransientLookupFailure(t *testing.T) {
	f := newFixture(t)
	up, err := f.svc.Upload(context.Background(), uuid.New(), "statement.csv", []byte(statement))
	require.NoError(t, err)

	f.txs.listErr = errors.New("connection reset")
	_, err = f.svc.Preview(context.Background(), up.Session.ID, nil)
	require.ErrorContains(t, err, "connection reset")

	stored, getErr := f.sessions.Get(context.Background(), up.Session.ID)
	require.NoError(t, getErr)
	assert.Equal(t, importsession.StatusUploaded, stored.Status, "a flaky lookup must not fail the session")

	// The same preview succeeds once the store recovers.
	f.txs.listErr = nil
	got, err := f.svc.Preview(context.Background(), up.Session.ID, nil)
	require.NoError(t, err)
	assert.Len(t, got.Previews, 3)
}

func TestPreviewFallsBackToHeaderParsing(t *testing.T) {
	f := newFixture(t)
	accountID := uuid.New()
	// Three numeric columns defeat column inference, but the named ones are
	// enough for the header path.
	headerOnly := []byte("Date,Description,Amount,x,y\n" +
		"2024-03-01,Blue Bottle Coffee,-4.50,1.00,2.00\n" +
		"2024-03-02,Salary March,1250.00,1.50,2.50\n")

	up, err := f.svc.Upload(context.Background(), accountID, "export.csv", headerOnly)
	require.NoError(t, err)
	require.NotEmpty(t, up.DetectionError)
	require.Nil(t, up.Session.FormatConfig)

	preview, err := f.svc.Preview(context.Background(), up.Session.ID, nil)

	require.NoError(t, err)
	require.Len(t, preview.Previews, 2)
	assert.True(t, preview.Previews[0].Amount.Equal(decimal.RequireFromString("-4.5")))
	assert.Equal(t, importsession.StatusPreviewed, preview.Session.Status)

	got, err := f.svc.Confirm(context.Background(), up.Session.ID, ConfirmOptions{SkipDuplicates: true})
	require.NoError(t, err)
	assert.Equal(t, 2, got.Imported)
}

func TestPreviewWithoutConfigOrKnownHeader(t *testing.T) {
	f := newFixture(t)
	opaque := []byte("a,b,c,d,e\n" +
		"2024-03-01,Coffee,-4.50,1.00,2.00\n" +
		"2024-03-02,Tea,-3.00,1.50,2.50\n")

	up, err := f.svc.Upload(context.Background(), uuid.New(), "opaque.csv", opaque)
	require.NoError(t, err)
	require.NotEmpty(t, up.DetectionError)

	_, err = f.svc.Preview(context.Background(), up.Session.ID, nil)

	require.ErrorIs(t, err, sniffer.ErrFormatDetection)
	stored, getErr := f.sessions.Get(context.Background(), up.Session.ID)
	require.NoError(t, getErr)
	assert.Equal(t, importsession.StatusUploaded, stored.Status, "the session keeps waiting for an override")
}

func TestConfirmImportsAndCategorizes(t *testing.T) {
	f := newFixture(t)
	accountID := uuid.New()
	up, err := f.svc.Upload(context.Background(), accountID, "statement.csv", []byte(statement))
	require.NoError(t, err)
	_, err = f.svc.Preview(context.Background(), up.Session.ID, nil)
	require.NoError(t, err)

	got, err := f.svc.Confirm(context.Background(), up.Session.ID, ConfirmOptions{SkipDuplicates: true})

	require.NoError(t, err)
	assert.Equal(t, 3, got.Imported)
	assert.Zero(t, got.DuplicatesSkipped)
	assert.Equal(t, 1, got.Categorized)
	assert.Equal(t, importsession.StatusConfirmed, got.Session.Status)
	assert.Equal(t, 3, got.Session.RowCount, "the statement's row count survives the confirm")

	require.Len(t, f.txs.txs, 3)
	var categorized int
	for _, tx := range f.txs.txs {
		if tx.CategoryID != nil {
			categorized++
			assert.Equal(t, f.coffee, *tx.CategoryID)
			assert.Equal(t, []string{"treat"}, tx.Tags)
		}
	}
	assert.Equal(t, 1, categorized)
}

func TestConfirmRequiresPreview(t *testing.T) {
	f := newFixture(t)
	up, err := f.svc.Upload(context.Background(), uuid.New(), "statement.csv", []byte(statement))
	require.NoError(t, err)

	_, err = f.svc.Confirm(context.Background(), up.Session.ID, ConfirmOptions{})

	var terr *importsession.TransitionError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, importsession.StatusUploaded, terr.From)
}

func TestConfirmIsNotRepeatable(t *testing.T) {
	f := newFixture(t)
	up, err := f.svc.Upload(context.Background(), uuid.New(), "statement.csv", []byte(statement))
	require.NoError(t, err)
	_, err = f.svc.Preview(context.Background(), up.Session.ID, nil)
	require.NoError(t, err)
	_, err = f.svc.Confirm(context.Background(), up.Session.ID, ConfirmOptions{})
	require.NoError(t, err)

	_, err = f.svc.Confirm(context.Background(), up.Session.ID, ConfirmOptions{})

	var terr *importsession.TransitionError
	assert.ErrorAs(t, err, &terr)
}

func TestReimportSkipsEverythingAsDuplicate(t *testing.T) {
	f := newFixture(t)
	accountID := uuid.New()

	first, err := f.svc.Upload(context.Background(), accountID, "statement.csv", []byte(statement))
	require.NoError(t, err)
	_, err = f.svc.Preview(context.Background(), first.Session.ID, nil)
	require.NoError(t, err)
	_, err = f.svc.Confirm(context.Background(), first.Session.ID, ConfirmOptions{SkipDuplicates: true})
	require.NoError(t, err)

	second, err := f.svc.Upload(context.Background(), accountID, "statement.csv", []byte(statement))
	require.NoError(t, err)
	preview, err := f.svc.Preview(context.Background(), second.Session.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, preview.Duplicates)

	got, err := f.svc.Confirm(context.Background(), second.Session.ID, ConfirmOptions{SkipDuplicates: true})

	require.NoError(t, err)
	assert.Zero(t, got.Imported)
	assert.Equal(t, 3, got.DuplicatesSkipped)
	assert.Len(t, f.txs.txs, 3, "re-importing the same statement adds nothing")

	stored, err := f.sessions.Get(context.Background(), second.Session.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, stored.RowCount, "row count keeps meaning statement rows, not imported rows")
}

func TestConfirmBlockedWhileAccountLocked(t *testing.T) {
	f := newFixture(t)
	accountID := uuid.New()
	up, err := f.svc.Upload(context.Background(), accountID, "statement.csv", []byte(statement))
	require.NoError(t, err)
	_, err = f.svc.Preview(context.Background(), up.Session.ID, nil)
	require.NoError(t, err)

	release, err := f.locker.Acquire(context.Background(), accountID)
	require.NoError(t, err)
	defer release()

	_, err = f.svc.Confirm(context.Background(), up.Session.ID, ConfirmOptions{})

	assert.ErrorIs(t, err, repository.ErrAccountLocked)
}

func TestDiscard(t *testing.T) {
	f := newFixture(t)
	up, err := f.svc.Upload(context.Background(), uuid.New(), "statement.csv", []byte(statement))
	require.NoError(t, err)

	require.NoError(t, f.svc.Discard(context.Background(), up.Session.ID))

	_, err = f.sessions.Get(context.Background(), up.Session.ID)
	assert.ErrorIs(t, err, importsession.ErrNotFound)
}

func TestDiscardConfirmedSessionRefused(t *testing.T) {
	f := newFixture(t)
	up, err := f.svc.Upload(context.Background(), uuid.New(), "statement.csv", []byte(statement))
	require.NoError(t, err)
	_, err = f.svc.Preview(context.Background(), up.Session.ID, nil)
	require.NoError(t, err)
	_, err = f.svc.Confirm(context.Background(), up.Session.ID, ConfirmOptions{})
	require.NoError(t, err)

	err = f.svc.Discard(context.Background(), up.Session.ID)

	var terr *importsession.TransitionError
	assert.ErrorAs(t, err, &terr)
}

func TestPruneStale(t *testing.T) {
	f := newFixture(t)
	up, err := f.svc.Upload(context.Background(), uuid.New(), "statement.csv", []byte(statement))
	require.NoError(t, err)

	// Age the session past the TTL.
	f.sessions.mu.Lock()
	s := f.sessions.sessions[up.Session.ID]
	s.UpdatedAt = time.Now().UTC().Add(-72 * time.Hour)
	f.sessions.sessions[up.Session.ID] = s
	f.sessions.mu.Unlock()

	n, err := f.svc.PruneStale(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
