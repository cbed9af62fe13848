package events

type ReservationExpiring struct {
	ReservationID  string `json:"reservation_id"`
	AuctionID      string `json:"auction_id"`
	BidderID       string `json:"bidder_id"`
	ReservedAmount string `json:"reserved_amount"`
	Currency       string `json:"currency"`
	ExpiresAtMs    int64  `json:"expires_at_ms"`
	TsUnixMs       int64  `json:"ts_unix_ms"`
}
