package events

type AuctionSettled struct {
	AuctionID     string `json:"auction_id"`
	WinnerID      string `json:"winner_id"`
	Amount        string `json:"amount"`
	Currency      string `json:"currency"`
	TransactionID string `json:"transaction_id"`
	// Released counts losing reservations freed after the settlement committed.
	Released int   `json:"released"`
	TsUnixMs int64 `json:"ts_unix_ms"`
}
