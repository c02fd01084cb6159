// Package session defines the import session lifecycle. A session tracks one
// uploaded statement from upload through preview to confirmation.
package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/rms81/fintrack-sub001/internal/domain/import/sniffer"
)

// ErrNotFound is returned when a session id resolves to nothing.
var ErrNotFound = errors.New("import session not found")

// Status is the lifecycle state of an import session.
type Status string

const (
	StatusUploaded  Status = "uploaded"
	StatusPreviewed Status = "previewed"
	StatusConfirmed Status = "confirmed"
	StatusFailed    Status = "failed"
)

// transitions lists the legal moves. Confirmed and failed are terminal.
var transitions = map[Status][]Status{
	StatusUploaded:  {StatusPreviewed, StatusFailed},
	StatusPreviewed: {StatusPreviewed, StatusConfirmed, StatusFailed},
}

// TransitionError reports an illegal lifecycle move, typically a confirm on
// an already-confirmed or failed session.
type TransitionError struct {
	From Status
	To   Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("illegal session transition %s -> %s", e.From, e.To)
}

// Session is one uploaded statement working its way to confirmation. The raw
// file bytes live in the repository, not on the struct, so sessions stay
// cheap to list.
type Session struct {
	ID           uuid.UUID             `json:"id"`
	AccountID    uuid.UUID             `json:"account_id"`
	Filename     string                `json:"filename"`
	RowCount     int                   `json:"row_count"`
	Status       Status                `json:"status"`
	ErrorMessage string                `json:"error_message,omitempty"`
	FormatConfig *sniffer.FormatConfig `json:"format_config,omitempty"`
	CreatedAt    time.Time             `json:"created_at"`
	UpdatedAt    time.Time             `json:"updated_at"`
}

// New creates a session in the uploaded state.
func New(accountID uuid.UUID, filename string) *Session {
	now := time.Now().UTC()
	return &Session{
		ID:        uuid.New(),
		AccountID: accountID,
		Filename:  filename,
		Status:    StatusUploaded,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// CanTransition reports whether moving from s.Status to next is legal.
func (s *Session) CanTransition(next Status) bool {
	for _, allowed := range transitions[s.Status] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Transition moves the session to next or returns a *TransitionError. Failed
// transitions record the cause on the session.
func (s *Session) Transition(next Status) error {
	if !s.CanTransition(next) {
		return &TransitionError{From: s.Status, To: next}
	}
	s.Status = next
	s.UpdatedAt = time.Now().UTC()
	return nil
}

// Fail marks the session failed with a human-readable cause.
func (s *Session) Fail(reason string) error {
	if err := s.Transition(StatusFailed); err != nil {
		return err
	}
	s.ErrorMessage = reason
	return nil
}

// Terminal reports whether the session can no longer change state.
func (s *Session) Terminal() bool {
	return s.Status == StatusConfirmed || s.Status == StatusFailed
}
