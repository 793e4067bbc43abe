// Package metrics defines the metrics recorder interface used by the
// facilitator services.
package metrics

import "time"

type Recorder interface {
	IncCounter(name string, labels map[string]string)
	ObserveLatency(name string, duration time.Duration, labels map[string]string)
}

// Event names recorded by the facilitator.
const (
	EventVerify              = "verify"
	EventVerifyInvalid       = "verify_invalid"
	EventSettle              = "settle"
	EventSettleFailed        = "settle_failed"
	EventDistribute          = "distribute"
	EventDistributeFailed    = "distribute_failed"
	EventDistributeTimeout   = "distribute_timeout"
	EventApprovalSubmitted   = "approval_submitted"
	EventReconciledLate      = "distribution_reconciled_late"
)
