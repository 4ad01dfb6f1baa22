package fluid

import (
	"sync"

	"github.com/MarcelRaschke/FluidFramework/protocol"
)

// PendingMessage is the record of one submitted-but-not-yet-acknowledged
// operation.
type PendingMessage struct {
	// ReferenceSequenceNumber is the sequence number of the last message the
	// client had observed when this op was generated.
	ReferenceSequenceNumber int64

	// Content is the canonical serialized form of the operation, the ground
	// truth for equality checks against incoming acks. Empty for an
	// empty-batch placeholder.
	Content string

	// RuntimeOp is the structured operation; nil for a placeholder
	// representing an intentionally empty batch.
	RuntimeOp *protocol.RuntimeOp

	// LocalOpMetadata is opaque caller-supplied data needed to process the
	// ack or to resubmit. Never serialized to the wire.
	LocalOpMetadata any

	// OpMetadata is the small side channel visible to the service boundary
	// (batch-boundary flags) but not part of op content.
	OpMetadata map[string]any

	// SequenceNumber is set once the service acknowledges the message.
	SequenceNumber int64

	// BatchInfo identifies the flush-batch this message belongs to. Always
	// set.
	BatchInfo protocol.BatchInfo
}

// IsPlaceholder reports whether the message stands in for an intentionally
// empty batch.
func (m *PendingMessage) IsPlaceholder() bool {
	return m.RuntimeOp == nil
}

// entry converts the message to its persisted form.
func (m *PendingMessage) entry() protocol.PendingStateEntry {
	info := m.BatchInfo
	return protocol.PendingStateEntry{
		Type:                    protocol.EntryTypeMessage,
		ReferenceSequenceNumber: m.ReferenceSequenceNumber,
		Content:                 m.Content,
		OpMetadata:              m.OpMetadata,
		SequenceNumber:          m.SequenceNumber,
		BatchInfo:               &info,
	}
}

// PendingQueue is an ordered, double-ended collection of pending messages,
// ordered strictly by submission order.
type PendingQueue struct {
	mu    sync.Mutex
	items []*PendingMessage
}

// NewPendingQueue creates an empty queue.
func NewPendingQueue() *PendingQueue {
	return &PendingQueue{
		items: make([]*PendingMessage, 0),
	}
}

// PushBack appends a message in submission order.
func (q *PendingQueue) PushBack(m *PendingMessage) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, m)
}

// PopFront removes and returns the oldest message, or nil if empty.
func (q *PendingQueue) PopFront() *PendingMessage {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return nil
	}
	m := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	return m
}

// PopBack removes and returns the newest message, or nil if empty.
func (q *PendingQueue) PopBack() *PendingMessage {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := len(q.items)
	if n == 0 {
		return nil
	}
	m := q.items[n-1]
	q.items[n-1] = nil
	q.items = q.items[:n-1]
	return m
}

// PeekFront returns the oldest message without removing it, or nil if empty.
func (q *PendingQueue) PeekFront() *PendingMessage {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return nil
	}
	return q.items[0]
}

// PeekBack returns the newest message without removing it, or nil if empty.
func (q *PendingQueue) PeekBack() *PendingMessage {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return nil
	}
	return q.items[len(q.items)-1]
}

// Len returns the number of queued messages.
func (q *PendingQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Snapshot returns a copy of the queued messages in order.
func (q *PendingQueue) Snapshot() []*PendingMessage {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]*PendingMessage, len(q.items))
	copy(out, q.items)
	return out
}

// ContainsBatchID reports whether any queued message belongs to the given
// batch id. Messages flagged to ignore batch-id checks are skipped.
func (q *PendingQueue) ContainsBatchID(batchID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, m := range q.items {
		if !m.BatchInfo.IgnoreBatchID && m.BatchInfo.BatchID() == batchID {
			return true
		}
	}
	return false
}

// Clear removes all queued messages.
func (q *PendingQueue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = q.items[:0]
}
