package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Nzyazin/bidfunds/internal/core/logger"
	"github.com/Nzyazin/bidfunds/internal/core/repository"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

const defaultMaxRetries = 5

type Store struct {
	db         *sqlx.DB
	log        logger.Logger
	maxRetries int
}

func NewStore(db *sqlx.DB, log logger.Logger, maxRetries int) *Store {
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	return &Store{db: db, log: log, maxRetries: maxRetries}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// WithTx runs fn in a SERIALIZABLE transaction and retries it when Postgres reports
// a serialization failure, a deadlock or a unique violation raced by a concurrent unit.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) error {
	var lastErr error

	for attempt := 1; attempt <= s.maxRetries; attempt++ {
		err := s.runTx(ctx, fn)
		if err == nil {
			return nil
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("%w: %v", repository.ErrTimeout, err)
		}

		if !isRetryableError(err) {
			return err
		}

		lastErr = err
		s.log.Warn("Retrying transaction",
			logger.IntField("attempt", attempt),
			logger.ErrorField("error", err))

		sleep := time.Duration(attempt*attempt) * 10 * time.Millisecond
		select {
		case <-time.After(sleep):
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", repository.ErrTimeout, ctx.Err())
		}
	}

	return fmt.Errorf("%w: transaction failed after %d attempts: %v", repository.ErrConflict, s.maxRetries, lastErr)
}

func (s *Store) runTx(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) (err error) {
	var isCommitted bool
	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		s.log.Error("Error beginning transaction", logger.ErrorField("error", err))
		return fmt.Errorf("error beginning transaction: %w", err)
	}

	defer func() {
		if !isCommitted {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				s.log.Error("Transaction rollback failed", logger.ErrorField("error", rbErr))
				err = fmt.Errorf("%w (rollback failed: %v)", err, rbErr)
			}
		}
	}()

	if err = fn(ctx, &pgTx{tx: tx}); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		s.log.Error("Error committing transaction", logger.ErrorField("error", err))
		return fmt.Errorf("commit failed: %w", err)
	}

	isCommitted = true
	return nil
}

type pgTx struct {
	tx *sqlx.Tx
}

func (t *pgTx) Wallets() repository.WalletRepository           { return &walletRepo{q: t.tx} }
func (t *pgTx) Ledger() repository.LedgerRepository             { return &ledgerRepo{q: t.tx} }
func (t *pgTx) Reservations() repository.ReservationRepository { return &reservationRepo{q: t.tx} }
func (t *pgTx) Deposits() repository.DepositRepository         { return &depositRepo{q: t.tx} }

func (t *pgTx) Lock(ctx context.Context, key string) error {
	if _, err := t.tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, key); err != nil {
		return fmt.Errorf("advisory lock %q: %w", key, err)
	}
	return nil
}

const (
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeUniqueViolation      = "23505"
	codeCheckViolation       = "23514"
)

// racedConstraints are unique constraints a concurrent unit can win; re-running the
// loser sees the winner's row. A duplicate ledger id is deterministic and never retried.
var racedConstraints = map[string]bool{
	"uq_reservations_active_pair": true,
	"wallets_owner_id_key":        true,
	"deposits_pkey":               true,
	"deposits_reference_key":      true,
}

func isRetryableError(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case codeSerializationFailure, codeDeadlockDetected:
			return true
		case codeUniqueViolation:
			return racedConstraints[pqErr.Constraint]
		}
	}
	return errors.Is(err, repository.ErrConflict)
}

// mapError translates driver errors into repository sentinels, keeping the original text.
func mapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, repository.ErrNotFound)
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case codeUniqueViolation:
			return fmt.Errorf("%s: %w: %w", op, repository.ErrDuplicate, err)
		case codeCheckViolation:
			return fmt.Errorf("%s: %w: %w", op, repository.ErrNegativeBalance, err)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}
