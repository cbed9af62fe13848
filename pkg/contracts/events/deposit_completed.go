package events

type DepositCompleted struct {
	DepositID     string `json:"deposit_id"`
	UserID        string `json:"user_id"`
	Amount        string `json:"amount"`
	Currency      string `json:"currency"`
	WalletType    string `json:"wallet_type"`
	TransactionID string `json:"transaction_id"`
	TsUnixMs      int64  `json:"ts_unix_ms"`
}
