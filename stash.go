package fluid

import (
	"context"

	"github.com/MarcelRaschke/FluidFramework/protocol"
)

// ApplyStashedOps drains the entire stash queue, reapplying each stashed op
// against the live document and enqueuing it as a normal pending message for
// subsequent ack correlation or resubmission.
func (psm *PendingStateManager) ApplyStashedOps(ctx context.Context) error {
	return psm.applyStashedOps(ctx, nil)
}

// ApplyStashedOpsAt drains stashed ops whose reference sequence number equals
// seqNum, stopping once the next entry refers past it. A stashed entry
// referring strictly before seqNum is fatal: it means state was loaded from a
// snapshot newer than the stash and the op can no longer be applied
// correctly.
func (psm *PendingStateManager) ApplyStashedOpsAt(ctx context.Context, seqNum int64) error {
	return psm.applyStashedOps(ctx, &seqNum)
}

func (psm *PendingStateManager) applyStashedOps(ctx context.Context, seqNum *int64) error {
	if err := psm.checkDisposed(); err != nil {
		return err
	}

	for {
		next := psm.initial.PeekFront()
		if next == nil {
			return nil
		}
		if seqNum != nil {
			if next.ReferenceSequenceNumber > *seqNum {
				return nil
			}
			if next.ReferenceSequenceNumber < *seqNum {
				return invariantErrorf("stashed op refers to sequence number %d before target %d; loaded snapshot is newer than the stash",
					next.ReferenceSequenceNumber, *seqNum)
			}
		}

		msg := psm.initial.PopFront()
		if err := psm.rehydrate(ctx, msg); err != nil {
			return err
		}
	}
}

// rehydrate applies one stashed record and enqueues it as a pending message.
func (psm *PendingStateManager) rehydrate(ctx context.Context, msg *PendingMessage) error {
	if msg.Content == "" {
		// empty-batch placeholder: no document mutation required
		msg.LocalOpMetadata = EmptyBatchMetadata{EmptyBatch: true}
		psm.pending.PushBack(msg)
		psm.trackBatchID(msg.BatchInfo)
		return nil
	}

	localOpMetadata, err := psm.applier.ApplyStashedOp(ctx, msg.Content)
	if err != nil {
		return &DataProcessingError{
			Message:       "failed to apply stashed op",
			PendingFields: protocol.ScrubContent(msg.Content),
			MismatchIndex: -1,
			cause:         err,
		}
	}
	if !psm.conn.IsAttached() {
		if localOpMetadata != nil {
			return invariantErrorf("stashed op produced local metadata while not attached")
		}
	} else {
		msg.LocalOpMetadata = localOpMetadata
	}

	// Handle-valued fields come back in encoded form; acceptable lossiness
	// for resubmission purposes.
	op, err := protocol.ParseOp(msg.Content)
	if err != nil {
		return &DataProcessingError{
			Message:       "failed to parse stashed op content",
			PendingFields: protocol.ScrubContent(msg.Content),
			MismatchIndex: -1,
			cause:         err,
		}
	}
	msg.RuntimeOp = op

	psm.pending.PushBack(msg)
	psm.trackBatchID(msg.BatchInfo)
	stashedOpsAppliedTotal.Inc()
	psm.log.WithField("refSeq", msg.ReferenceSequenceNumber).Debug("Rehydrated stashed op")
	return nil
}
