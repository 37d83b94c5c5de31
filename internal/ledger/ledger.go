// Package ledger talks to the distributed-ledger RPC endpoints. It owns
// classification of RPC failures into execution-error kinds and endpoint
// failover; retry policy lives with the caller (the execution gateway).
package ledger

import "context"

// Confirmation is the outcome of a confirmation poll for one signature.
type Confirmation struct {
	Confirmed bool   // transaction landed in a confirmed block
	Succeeded bool   // transaction executed without an on-chain error
	ErrText   string // on-chain error description when Succeeded is false
	Slot      int64
}

// Client is the ledger RPC contract the engine consumes.
type Client interface {
	// SubmitTransaction submits a signed transaction and returns its
	// signature. Submission is not success: the caller must confirm.
	SubmitTransaction(ctx context.Context, signedTx []byte) (string, error)

	// GetConfirmation polls the status of a submitted signature.
	// An unconfirmed signature returns Confirmation{} with no error.
	GetConfirmation(ctx context.Context, signature string) (Confirmation, error)

	// GetBalanceDelta returns the confirmed balance change (in whole quote
	// units) that the transaction produced at address.
	GetBalanceDelta(ctx context.Context, signature, address string) (float64, error)
}
