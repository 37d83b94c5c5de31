package domain

import (
	"encoding/json"
	"strings"
)

// PendingTrade marks a submitted trade whose confirmation outlived its
// evaluation. It is stored JSON-encoded in the instance's PendingAction field
// so the next evaluation can resolve the signature and either apply the
// recorded fill or discard it, instead of resubmitting the trade.
type PendingTrade struct {
	Action string `json:"action"`
	Fill   Fill   `json:"fill"`
}

// EncodePendingTrade serializes a reconciliation marker. The fill carries the
// quoted amounts of the submitted transaction; they become the recorded fill
// if the confirmation eventually lands.
func EncodePendingTrade(action string, f Fill) string {
	raw, err := json.Marshal(PendingTrade{Action: action, Fill: f})
	if err != nil {
		return action
	}
	return string(raw)
}

// DecodePendingTrade parses a reconciliation marker. A plain action string
// (written before submission) reports ok=false: no signature exists to
// reconcile and the fill log is the only truth.
func DecodePendingTrade(marker string) (*PendingTrade, bool) {
	if !strings.HasPrefix(marker, "{") {
		return nil, false
	}
	var pt PendingTrade
	if err := json.Unmarshal([]byte(marker), &pt); err != nil || pt.Fill.TxSignature == "" {
		return nil, false
	}
	return &pt, true
}
