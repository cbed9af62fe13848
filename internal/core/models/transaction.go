package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type TransactionType string

const (
	TransactionDeposit    TransactionType = "DEPOSIT"
	TransactionReserve    TransactionType = "RESERVE"
	TransactionRelease    TransactionType = "RELEASE"
	TransactionSettlement TransactionType = "SETTLEMENT"
	TransactionFee        TransactionType = "FEE"
)

type TransactionStatus string

const (
	TransactionStatusCompleted TransactionStatus = "COMPLETED"
	TransactionStatusFailed    TransactionStatus = "FAILED"
)

// Transaction is an append-only ledger entry. ID is the deterministic idempotency key
// of the business operation that produced it.
type Transaction struct {
	ID         uuid.UUID         `json:"id" db:"id"`
	WalletID   uuid.UUID         `json:"wallet_id" db:"wallet_id"`
	WalletKind SubWalletKind     `json:"wallet_kind" db:"wallet_kind"`
	Type       TransactionType   `json:"type" db:"type"`
	Amount     decimal.Decimal   `json:"amount" db:"amount"`
	Currency   string            `json:"currency" db:"currency"`
	Status     TransactionStatus `json:"status" db:"status"`
	Reference  string            `json:"reference" db:"reference"`
	CreatedAt  time.Time         `json:"created_at" db:"created_at"`
}

// BalanceEffect is the signed change this entry implies for its sub-wallet balance.
// Holds and withheld fees are recorded for audit only.
func (t Transaction) BalanceEffect() decimal.Decimal {
	if t.Status != TransactionStatusCompleted {
		return decimal.Zero
	}
	switch t.Type {
	case TransactionDeposit:
		return t.Amount
	case TransactionSettlement:
		return t.Amount.Neg()
	default:
		return decimal.Zero
	}
}

var idempotencyNamespace = uuid.MustParse("6f1c2b8e-5a7d-4c3e-9b1f-2d8e7a6c5b40")

// IdempotencyKey derives a stable identifier from the parts of a business operation,
// so that a retried operation maps onto the ledger row written by its first attempt.
func IdempotencyKey(parts ...string) uuid.UUID {
	var b []byte
	for i, p := range parts {
		if i > 0 {
			b = append(b, ':')
		}
		b = append(b, p...)
	}
	return uuid.NewSHA1(idempotencyNamespace, b)
}
