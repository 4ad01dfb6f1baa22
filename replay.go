package fluid

import (
	"github.com/MarcelRaschke/FluidFramework/protocol"
	"github.com/MarcelRaschke/FluidFramework/runtime"
)

// ReplayOptions control one replay pass.
type ReplayOptions struct {
	// CommittingStagedBatches replays only previously staged batches, without
	// requiring an active connection. Non-staged messages are kept pending
	// unchanged; staged batches lose their staged marker on resubmission.
	CommittingStagedBatches bool

	// Squash asks the host to collapse resubmitted batches where possible.
	Squash bool
}

// ReplayPendingStates replays every still-outstanding pending message through
// the resubmission sink, preserving batch grouping and order, exactly once
// per connection identity.
//
// The pass drains exactly the number of messages present when it starts;
// messages appended by re-entrant submission during the pass are not replayed
// until the next reconnection. The sink is invoked submit-and-continue, in
// queue order.
func (psm *PendingStateManager) ReplayPendingStates(opts ReplayOptions) error {
	if err := psm.checkDisposed(); err != nil {
		return err
	}
	if !opts.CommittingStagedBatches && !psm.conn.Connected() {
		return invariantErrorf("replay requires an active connection unless committing staged batches")
	}

	clientID := psm.conn.ClientID()
	psm.mu.Lock()
	if psm.lastReplayClientID != nil && *psm.lastReplayClientID == clientID {
		psm.mu.Unlock()
		return invariantErrorf("replay already ran for client id %q; resubmitting twice would duplicate data", clientID)
	}
	psm.lastReplayClientID = &clientID
	psm.mu.Unlock()

	// Fixed count captured up front: committing resubmission re-enters the
	// submit path, which re-populates the queue behind this pass.
	remaining := psm.pending.Len()
	seenStaged := false
	replayed := 0

	for remaining > 0 {
		msg := psm.pending.PopFront()
		remaining--
		if msg == nil {
			return invariantErrorf("pending queue drained mid-replay")
		}

		if opts.CommittingStagedBatches && !msg.BatchInfo.Staged {
			if seenStaged {
				return invariantErrorf("non-staged message after staged message; staged batches must form a contiguous suffix")
			}
			psm.pending.PushBack(msg)
			continue
		}
		if msg.BatchInfo.Staged {
			seenStaged = true
		}

		psm.untrackBatchID(msg.BatchInfo)

		batchID := ""
		if !msg.BatchInfo.IgnoreBatchID {
			batchID = msg.BatchInfo.BatchID()
		}
		resubmitOpts := runtime.ResubmitOptions{
			BatchID: batchID,
			Staged:  msg.BatchInfo.Staged && !opts.CommittingStagedBatches,
			Squash:  opts.Squash,
		}

		if msg.IsPlaceholder() {
			// an empty batch resubmits as an empty batch under the same id
			psm.resubmitter.ResubmitBatch(nil, resubmitOpts)
			replayed++
			continue
		}

		ops := []runtime.ResubmitOp{resubmitOp(msg)}
		if protocol.IsBatchStart(msg.OpMetadata) {
			closed := false
			for remaining > 0 {
				next := psm.pending.PopFront()
				remaining--
				if next == nil {
					break
				}
				psm.untrackBatchID(next.BatchInfo)
				ops = append(ops, resubmitOp(next))
				if protocol.IsBatchEnd(next.OpMetadata) {
					closed = true
					break
				}
			}
			if !closed {
				return invariantErrorf("batch start without matching batch end in pending queue")
			}
		}

		psm.resubmitter.ResubmitBatch(ops, resubmitOpts)
		replayed += len(ops)
	}

	// Nothing pending can depend on the acked ops accumulated so far.
	psm.clearSavedOps()

	// Read-only connections are rejected by the service and trigger another
	// reconnect cycle; suppress their replay telemetry to avoid double
	// counting.
	if psm.conn.IsActiveConnection() {
		replayedMessagesTotal.Add(float64(replayed))
		psm.log.WithField("count", replayed).Info("Replayed pending messages")
	}
	return nil
}

func resubmitOp(m *PendingMessage) runtime.ResubmitOp {
	return runtime.ResubmitOp{
		RuntimeOp:       m.RuntimeOp,
		LocalOpMetadata: m.LocalOpMetadata,
		OpMetadata:      m.OpMetadata,
	}
}
