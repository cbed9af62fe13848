package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Wallet groups a user's three sub-wallets. Wallets are never deleted, only deactivated.
type Wallet struct {
	ID        uuid.UUID `json:"id" db:"id"`
	OwnerID   string    `json:"owner_id" db:"owner_id"`
	Local     SubWallet `json:"local" db:"-"`
	Global    SubWallet `json:"global" db:"-"`
	Crypto    SubWallet `json:"crypto" db:"-"`
	IsActive  bool      `json:"is_active" db:"is_active"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type SubWallet struct {
	WalletID  uuid.UUID       `json:"-" db:"wallet_id"`
	Kind      SubWalletKind   `json:"kind" db:"kind"`
	Balance   decimal.Decimal `json:"balance" db:"balance"`
	Currency  string          `json:"currency" db:"currency"`
	Address   string          `json:"address,omitempty" db:"address"`
	Network   string          `json:"network,omitempty" db:"network"`
	Version   int64           `json:"-" db:"version"`
	UpdatedAt time.Time       `json:"updated_at" db:"updated_at"`
}

func (w *Wallet) SubWallet(kind SubWalletKind) (SubWallet, bool) {
	switch kind {
	case SubWalletLocal:
		return w.Local, true
	case SubWalletGlobal:
		return w.Global, true
	case SubWalletCrypto:
		return w.Crypto, true
	}
	return SubWallet{}, false
}

func (w *Wallet) SetSubWallet(sw SubWallet) {
	switch sw.Kind {
	case SubWalletLocal:
		w.Local = sw
	case SubWalletGlobal:
		w.Global = sw
	case SubWalletCrypto:
		w.Crypto = sw
	}
}

// NewSubWallet returns a zero-balance sub-wallet configured from the kind's policy.
func NewSubWallet(walletID uuid.UUID, kind SubWalletKind, now time.Time) SubWallet {
	policy, _ := PolicyFor(kind)
	return SubWallet{
		WalletID:  walletID,
		Kind:      kind,
		Balance:   decimal.Zero,
		Currency:  policy.Currency.Code,
		UpdatedAt: now,
	}
}

type Balance struct {
	OwnerID   string          `json:"owner_id"`
	Kind      SubWalletKind   `json:"kind"`
	Currency  string          `json:"currency"`
	Balance   decimal.Decimal `json:"balance"`
	Reserved  decimal.Decimal `json:"reserved"`
	Available decimal.Decimal `json:"available"`
}

// Reconciliation compares a stored balance with the balance implied by the ledger.
type Reconciliation struct {
	WalletID      uuid.UUID       `json:"wallet_id"`
	Kind          SubWalletKind   `json:"kind"`
	StoredBalance decimal.Decimal `json:"stored_balance"`
	LedgerBalance decimal.Decimal `json:"ledger_balance"`
	Drift         decimal.Decimal `json:"drift"`
	Consistent    bool            `json:"consistent"`
}
