package fluid

import (
	"go.uber.org/multierr"
)

// StagedOpCallback is invoked for each discarded staged op during
// PopStagedBatches. Empty-batch placeholders are skipped.
type StagedOpCallback func(op *RuntimeOp, localOpMetadata any) error

// PopStagedBatches discards trailing staged batches from the back of the
// pending queue without resubmitting them, invoking the callback per
// constituent op in last-in-first-out order. It stops at the first non-staged
// message from the back; since staged batches form a contiguous suffix, no
// staged message remains queued afterwards.
//
// Callback errors do not stop the pop; they are aggregated and returned once
// the queue holds no staged messages.
func (psm *PendingStateManager) PopStagedBatches(cb StagedOpCallback) error {
	if err := psm.checkDisposed(); err != nil {
		return err
	}

	var finalerr error
	for {
		back := psm.pending.PeekBack()
		if back == nil || !back.BatchInfo.Staged {
			break
		}
		msg := psm.pending.PopBack()
		psm.untrackBatchID(msg.BatchInfo)

		if msg.IsPlaceholder() {
			continue
		}
		if err := cb(msg.RuntimeOp, msg.LocalOpMetadata); err != nil {
			finalerr = multierr.Append(finalerr, err)
		}
	}
	return finalerr
}
