package topics

const (
	DepositCompleted    = "deposit_completed"
	ReservationExpiring = "reservation_expiring"
	AuctionSettled      = "auction_settled"
)
