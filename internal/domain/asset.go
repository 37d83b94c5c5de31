package domain

// Asset identifies a tradeable token.
// Decimals are resolved once, at instance creation, from the swap router's
// token metadata; every quantity persisted anywhere in the system is already
// normalized to whole-token units.
type Asset struct {
	Mint     string // base58 mint address
	Symbol   string // display symbol, informational only
	Decimals int    // on-chain decimals, authoritative
}

// Trade side constants.
const (
	SideBuy  = "BUY"
	SideSell = "SELL"
)
