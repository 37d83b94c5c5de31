package domain

// Fill is an immutable record of one confirmed trade. Fills are append-only
// and form the audit trail every aggregate field is derived from.
type Fill struct {
	Side            string  // SideBuy or SideSell
	TriggerPrice    float64 // price that armed the decision
	ExecutedPrice   float64 // actual execution price
	RequestedSize   float64 // tokens requested (sell) or implied by spend (buy)
	ReceivedSize    float64 // tokens received (buy) or quote units received (sell)
	SpentAmount     float64 // quote units spent (buy side only)
	TxSignature     string  // confirmed transaction signature
	FeePaid         float64 // platform fee charged for this fill, quote units
	SlippageBpsUsed int     // slippage tolerance the fill executed with
	TimestampMs     int64   // confirmation time (ms)
}
