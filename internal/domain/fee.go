package domain

// FeeRecord tracks one platform-fee transfer. Created optimistically at
// submission time; only on-chain confirmation moves it past FeeCollected.
type FeeRecord struct {
	ID          string
	OwnerID     string
	TradeID     string // signature of the trade the fee belongs to
	Amount      float64
	Destination string // platform fee address
	TxSignature string // fee transfer signature, empty until submitted
	Status      FeeStatus
	CreatedAtMs int64
	UpdatedAtMs int64
}
