package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type DepositStatus string

const (
	DepositPending   DepositStatus = "PENDING"
	DepositCompleted DepositStatus = "COMPLETED"
	DepositCancelled DepositStatus = "CANCELLED"
	DepositFailed    DepositStatus = "FAILED"
)

func (s DepositStatus) Terminal() bool {
	return s != DepositPending
}

// Deposit is an external top-up confirmation waiting for approval.
type Deposit struct {
	ID            uuid.UUID       `json:"id" db:"id"`
	UserID        string          `json:"user_id" db:"user_id"`
	Amount        decimal.Decimal `json:"amount" db:"amount"`
	Fees          decimal.Decimal `json:"fees" db:"fees"`
	NetAmount     decimal.Decimal `json:"net_amount" db:"net_amount"`
	Currency      string          `json:"currency" db:"currency"`
	WalletType    SubWalletKind   `json:"wallet_type" db:"wallet_type"`
	Status        DepositStatus   `json:"status" db:"status"`
	Reference     string          `json:"reference" db:"reference"`
	TransactionID *uuid.UUID      `json:"transaction_id,omitempty" db:"transaction_id"`
	ApprovedBy    *string         `json:"approved_by,omitempty" db:"approved_by"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at" db:"updated_at"`
}

// DepositIDForReference maps an external confirmation reference onto a stable deposit id.
func DepositIDForReference(reference string) uuid.UUID {
	return IdempotencyKey("deposit", reference)
}
