package models

import "github.com/shopspring/decimal"

type Currency struct {
	Code       string `json:"code" db:"code"`               // ISO 4217 or token symbol
	Name       string `json:"name" db:"name"`
	MinorUnits int32  `json:"minor_units" db:"minor_units"` // fractional digits allowed
}

// SubWalletKind names one of a wallet's independent balances.
type SubWalletKind string

const (
	SubWalletLocal  SubWalletKind = "LOCAL"
	SubWalletGlobal SubWalletKind = "GLOBAL"
	SubWalletCrypto SubWalletKind = "CRYPTO"
)

// SubWalletKinds lists kinds in storage order.
var SubWalletKinds = []SubWalletKind{SubWalletLocal, SubWalletGlobal, SubWalletCrypto}

// SubWalletPolicy is the per-kind rule set applied to every amount that touches a sub-wallet.
type SubWalletPolicy struct {
	Kind     SubWalletKind
	Currency Currency
}

var subWalletPolicies = map[SubWalletKind]SubWalletPolicy{
	SubWalletLocal:  {Kind: SubWalletLocal, Currency: Currency{Code: "LYD", Name: "Libyan Dinar", MinorUnits: 3}},
	SubWalletGlobal: {Kind: SubWalletGlobal, Currency: Currency{Code: "USD", Name: "US Dollar", MinorUnits: 2}},
	SubWalletCrypto: {Kind: SubWalletCrypto, Currency: Currency{Code: "USDT", Name: "Tether USD", MinorUnits: 6}},
}

func PolicyFor(kind SubWalletKind) (SubWalletPolicy, bool) {
	p, ok := subWalletPolicies[kind]
	return p, ok
}

func (k SubWalletKind) Valid() bool {
	_, ok := subWalletPolicies[k]
	return ok
}

// FitsScale reports whether amount has no more fractional digits than the currency allows.
func (p SubWalletPolicy) FitsScale(amount decimal.Decimal) bool {
	return amount.Equal(amount.Truncate(p.Currency.MinorUnits))
}
