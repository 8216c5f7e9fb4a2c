package billing

// IdempotencyKey derives the ledger key for op on jobID. The key depends only
// on its inputs so a retried call always reuses it.
func IdempotencyKey(jobID, op string) string {
	return jobID + ":" + op
}

// Release reasons sent to the ledger.
const (
	ReasonCommitRemainder    = "commit-remainder"
	ReasonCancelledNoWork    = "cancelled-no-work"
	ReasonCancelled          = "cancelled"
	ReasonGenerationFailed   = "generation-failed"
	ReasonPersistFailed      = "job-persist-failed"
	ReasonReservationExpired = "reservation-expired"
	ReasonReconcile          = "reconcile"
)
