package domain

// InstanceStatus is the lifecycle status of a strategy or grid instance.
// Once Stopped or Failed no further fills are ever appended.
type InstanceStatus string

const (
	StatusActive  InstanceStatus = "ACTIVE"
	StatusPaused  InstanceStatus = "PAUSED"
	StatusStopped InstanceStatus = "STOPPED"
	StatusFailed  InstanceStatus = "FAILED"
)

// Terminal reports whether no further state transitions are allowed.
func (s InstanceStatus) Terminal() bool {
	return s == StatusStopped || s == StatusFailed
}

// Stop reason codes.
const (
	StopReasonOwner    = "OWNER_STOP"
	StopReasonStopLoss = "STOP_LOSS"
)

// FeeStatus tracks the advisory fee-accounting side path. Fee collection
// never blocks or reverses the primary trade.
type FeeStatus string

const (
	FeePending          FeeStatus = "PENDING"
	FeeCollected        FeeStatus = "COLLECTED"
	FeeVerifiedOk       FeeStatus = "VERIFIED_OK"
	FeeVerifiedMismatch FeeStatus = "VERIFIED_MISMATCH"
	FeeCollectionFailed FeeStatus = "COLLECTION_FAILED"
)
