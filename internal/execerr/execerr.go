// Package execerr defines the closed error taxonomy for trade execution.
// Kinds are assigned at the boundary where the failure originates (swap
// router client, ledger RPC client, signer) so nothing downstream ever
// infers failure class from message text.
package execerr

import (
	"errors"
	"fmt"
)

// Kind classifies an execution failure. The set is closed: every error
// crossing the gateway boundary carries exactly one of these.
type Kind string

const (
	// KindNonRetryable aborts the evaluation immediately: insufficient
	// funds, unknown asset, malformed address, missing account.
	KindNonRetryable Kind = "NON_RETRYABLE"

	// KindRateLimited retries after a longer minimum delay, optionally
	// behind an endpoint switch.
	KindRateLimited Kind = "RATE_LIMITED"

	// KindTransport covers timeouts, DNS failures and 5xx responses.
	// Retryable with standard backoff and eligible for endpoint failover.
	KindTransport Kind = "TRANSPORT"

	// KindOnChain is a confirmed transaction that failed on chain.
	// Terminal for the attempt; never resubmitted as the same transaction.
	KindOnChain Kind = "ON_CHAIN"
)

// Error is a classified execution failure.
type Error struct {
	Kind   Kind
	Op     string // operation that failed, e.g. "quote", "submit"
	Reason string // stable owner-facing reason for non-retryable errors
	Err    error  // underlying cause, may be nil
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	if e.Reason != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, e.Reason)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// New creates a classified error.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// NonRetryable creates a terminal application rejection with a stable,
// owner-visible reason code.
func NonRetryable(op, reason string) *Error {
	return &Error{Kind: KindNonRetryable, Op: op, Reason: reason}
}

// KindOf extracts the kind of err. Unclassified errors report KindTransport:
// an unknown failure mode is treated as retryable rather than as a silent
// terminal rejection.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindTransport
}

// Retryable reports whether the gateway may retry after err.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindNonRetryable, KindOnChain:
		return false
	}
	return true
}

// FailoverEligible reports whether err should rotate the endpoint before the
// next attempt. Application-class rejections stay on the current endpoint.
func FailoverEligible(err error) bool {
	switch KindOf(err) {
	case KindTransport, KindRateLimited:
		return true
	}
	return false
}

// Stable owner-facing reason codes for non-retryable failures.
const (
	ReasonInsufficientFunds = "INSUFFICIENT_FUNDS"
	ReasonUnknownAsset      = "UNKNOWN_ASSET"
	ReasonMalformedAddress  = "MALFORMED_ADDRESS"
	ReasonAccountNotFound   = "ACCOUNT_NOT_FOUND"
)
