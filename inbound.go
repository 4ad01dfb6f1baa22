package fluid

import (
	"github.com/sirupsen/logrus"

	"github.com/MarcelRaschke/FluidFramework/protocol"
)

// InboundResult pairs a sequenced message with the local op metadata of the
// pending message it acknowledged. Message is nil for an empty batch, and
// LocalOpMetadata is nil for messages not originated locally.
type InboundResult struct {
	Message         *protocol.InboundMessage
	LocalOpMetadata any
}

// ProcessInboundMessages correlates a sequenced batch against pending local
// state.
//
// For locally originated batches each message is matched against the oldest
// outstanding pending message, validated for content equality, and its local
// op metadata released to the caller. For remote batches only the fork check
// runs: a remote batch declaring a batch id that is still pending locally is
// a fatal forked-container condition.
func (psm *PendingStateManager) ProcessInboundMessages(batch *protocol.InboundBatch, local bool) ([]InboundResult, error) {
	if err := psm.checkDisposed(); err != nil {
		return nil, err
	}

	if !local {
		// checked against every outstanding batch id, not just the front of
		// the queue: a collision anywhere in pending state is already a fork
		if batch.BatchID != "" && psm.pendingBatchIDs.Contains(batch.BatchID) {
			return nil, &ForkError{
				BatchID:         batch.BatchID,
				InboundClientID: batch.ClientID,
			}
		}
		results := make([]InboundResult, 0, len(batch.Messages))
		for _, m := range batch.Messages {
			results = append(results, InboundResult{Message: m})
		}
		return results, nil
	}

	psm.onLocalBatchBegin(batch)

	if batch.Empty() {
		metadata, err := psm.processEmptyBatch(batch)
		if err != nil {
			return nil, err
		}
		return []InboundResult{{LocalOpMetadata: metadata}}, nil
	}

	results := make([]InboundResult, 0, len(batch.Messages))
	for _, m := range batch.Messages {
		metadata, err := psm.processNextPendingMessage(m)
		if err != nil {
			return nil, err
		}
		results = append(results, InboundResult{Message: m, LocalOpMetadata: metadata})
	}
	return results, nil
}

// onLocalBatchBegin validates the inbound batch metadata against the
// front-of-queue pending message. Mismatches are telemetry only: a definitive
// problem will also manifest in the content comparison, which is the
// authoritative check.
func (psm *PendingStateManager) onLocalBatchBegin(batch *protocol.InboundBatch) {
	front := psm.pending.PeekFront()
	if front == nil {
		// processNextPendingMessage reports the missing message as an error
		return
	}

	info := front.BatchInfo
	mismatched := false
	fields := logrus.Fields{}

	if info.BatchStartCSN != protocol.UnsentBatchStartCSN && info.BatchStartCSN != batch.BatchStartCSN {
		mismatched = true
		fields["pendingBatchStartCsn"] = info.BatchStartCSN
		fields["inboundBatchStartCsn"] = batch.BatchStartCSN
	}
	if !batch.Empty() && info.Length != batch.Length {
		mismatched = true
		fields["pendingLength"] = info.Length
		fields["inboundLength"] = batch.Length
	}
	if !info.IgnoreBatchID && batch.BatchID != "" && info.BatchID() != batch.BatchID {
		mismatched = true
		fields["pendingBatchId"] = info.BatchID()
		fields["inboundBatchId"] = batch.BatchID
	}

	if mismatched {
		batchInfoMismatchTotal.Inc()
		psm.log.WithFields(fields).Warn("Batch info mismatch on local batch begin")
	}
}

// processEmptyBatch acknowledges the placeholder of an intentionally empty
// batch. No content comparison applies.
func (psm *PendingStateManager) processEmptyBatch(batch *protocol.InboundBatch) (any, error) {
	pending := psm.pending.PopFront()
	if pending == nil {
		return nil, invariantErrorf("no pending message for inbound empty batch")
	}
	if !pending.IsPlaceholder() {
		return nil, invariantErrorf("inbound empty batch matched a non-placeholder pending message")
	}

	pending.SequenceNumber = batch.SequenceNumber
	psm.appendSavedOp(pending)
	psm.untrackBatchID(pending.BatchInfo)
	return EmptyBatchMetadata{EmptyBatch: true}, nil
}

// processNextPendingMessage pops the oldest pending message, stamps it with
// the assigned sequence number and verifies the inbound content matches the
// stored content byte for byte.
func (psm *PendingStateManager) processNextPendingMessage(m *protocol.InboundMessage) (any, error) {
	pending := psm.pending.PopFront()
	if pending == nil {
		return nil, invariantErrorf("no pending message for inbound local message at sequence number %d", m.SequenceNumber)
	}

	pending.SequenceNumber = m.SequenceNumber
	psm.appendSavedOp(pending)
	psm.untrackBatchID(pending.BatchInfo)

	inboundContent, err := protocol.SerializeInbound(m)
	if err != nil {
		return nil, &DataProcessingError{
			Message:       "failed to reconstruct inbound content",
			MismatchIndex: -1,
			cause:         err,
		}
	}

	if pending.Content != inboundContent {
		contentMismatchTotal.Inc()
		index, pendingChar, inboundChar := protocol.FirstMismatch(pending.Content, inboundContent)
		return nil, &DataProcessingError{
			Message:       "pending message content does not match inbound message",
			PendingFields: protocol.ScrubContent(pending.Content),
			InboundFields: protocol.ScrubContent(inboundContent),
			MismatchIndex: index,
			PendingChar:   pendingChar,
			InboundChar:   inboundChar,
		}
	}

	return pending.LocalOpMetadata, nil
}
