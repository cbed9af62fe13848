package usecase

import (
	"context"
	"errors"
	"fmt"

	"github.com/Nzyazin/bidfunds/internal/core/repository"
)

var (
	ErrValidation              = errors.New("validation failed")
	ErrInvalidAmount           = fmt.Errorf("%w: amount must be positive", ErrValidation)
	ErrWalletInactive          = fmt.Errorf("%w: wallet is inactive", ErrValidation)
	ErrInsufficientFunds       = errors.New("insufficient funds")
	ErrCurrencyMismatch        = errors.New("currency mismatch")
	ErrNotFound                = errors.New("not found")
	ErrWalletNotFound          = fmt.Errorf("wallet %w", ErrNotFound)
	ErrInvalidStateTransition  = errors.New("invalid state transition")
	ErrReservationMissing      = errors.New("no active reservation")
	ErrReservationInsufficient = errors.New("reservation does not cover amount")
	ErrAlreadySettled          = errors.New("auction already settled")
	ErrForbidden               = errors.New("principal is not allowed to perform this operation")
	ErrConcurrencyConflict     = errors.New("concurrency conflict, retry")
	ErrTimeout                 = errors.New("operation timed out, retry")
)

// IsRetryable reports whether the caller may repeat the operation unchanged.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrencyConflict) || errors.Is(err, ErrTimeout)
}

// storeError folds repository and context failures into the use-case taxonomy.
// Taxonomy errors raised inside a unit pass through untouched.
func storeError(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrTimeout),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return fmt.Errorf("%s: %w: %v", op, ErrTimeout, err)
	case errors.Is(err, repository.ErrConflict),
		errors.Is(err, repository.ErrDuplicate):
		return fmt.Errorf("%s: %w: %v", op, ErrConcurrencyConflict, err)
	case errors.Is(err, repository.ErrNegativeBalance):
		return fmt.Errorf("%s: %w", op, ErrInsufficientFunds)
	case errors.Is(err, repository.ErrNotFound):
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return fmt.Errorf("%s: %w", op, err)
}
