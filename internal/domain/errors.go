package domain

import (
	"errors"
	"fmt"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrForbidden         = errors.New("forbidden")
	ErrValidation        = errors.New("validation failed")
	ErrInvalidState      = errors.New("invalid state")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrNoChunks          = errors.New("document has no chunks")
	ErrProviderFailure   = errors.New("provider failure")
)

// InsufficientFundsError is returned by the ledger when a reservation cannot
// be covered by the user's balance.
type InsufficientFundsError struct {
	Required  int64
	Available int64
}

// Shortfall is the number of tokens missing to cover the reservation.
func (e *InsufficientFundsError) Shortfall() int64 {
	if e.Required <= e.Available {
		return 0
	}
	return e.Required - e.Available
}

func (e *InsufficientFundsError) Error() string {
	return message.NewPrinter(language.English).Sprintf("insufficient tokens: required %d, available %d, short by %d", e.Required, e.Available, e.Shortfall())
}

func (e *InsufficientFundsError) Unwrap() error { return ErrInsufficientFunds }

// TerminalStateError is returned when an operation targets a job that has
// already reached a terminal status.
type TerminalStateError struct {
	JobID  string
	Status JobStatus
}

func (e *TerminalStateError) Error() string {
	return fmt.Sprintf("job %s is already %s", e.JobID, cases.Title(language.English).String(string(e.Status)))
}

// Unwrap reports both ErrInvalidState and ErrValidation: for callers a
// terminal job is a request they should not have made.
func (e *TerminalStateError) Unwrap() []error { return []error{ErrInvalidState, ErrValidation} }

// TransitionError reports an illegal edge in the status or billing state machine.
type TransitionError struct {
	JobID string
	Field string
	From  string
	To    string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("job %s: illegal %s transition %s -> %s", e.JobID, e.Field, e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidState }
