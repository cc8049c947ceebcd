package graph

import (
	"context"
	"log/slog"
	"time"
)

// ApplyBatchWithRetry retries a failed batch with bounded exponential
// backoff. Attempts after a partial failure re-submit only the failed
// operations: property merges would tolerate re-application, but increments
// would not (an already applied counter increment runs again and inflates
// the count). On exhaustion the last result and error are returned for the
// caller to surface as an operational alert.
func ApplyBatchWithRetry(ctx context.Context, backend Backend, ownerScope string, batch Batch, retries int, backoff time.Duration) (Result, error) {
	if retries < 1 {
		retries = 1
	}
	if backoff <= 0 {
		backoff = 250 * time.Millisecond
	}

	var (
		pending = batch
		applied int
		result  Result
		lastErr error
	)
	for attempt := 0; attempt < retries; attempt++ {
		if attempt > 0 {
			wait := backoff << (attempt - 1)
			slog.Debug("retrying graph batch", "owner_scope", ownerScope, "attempt", attempt+1, "wait", wait)
			select {
			case <-ctx.Done():
				return result, ctx.Err()
			case <-time.After(wait):
			}
		}

		result, lastErr = backend.ApplyBatch(ctx, ownerScope, pending)
		applied += result.Applied
		if lastErr == nil && len(result.FailedOps) == 0 {
			return Result{Applied: applied}, nil
		}
		// A whole-batch failure reports no per-op failures and applies
		// nothing, so the full pending batch goes around again.
		if next := result.FailedBatch(); !next.Empty() {
			pending = next
		}
	}
	return Result{Applied: applied, FailedOps: result.FailedOps}, lastErr
}
