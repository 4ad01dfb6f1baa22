package protocol

import (
	"encoding/json"
	"fmt"
)

// UnsentBatchStartCSN is the sentinel batch-start client sequence number used
// for batches that were flushed while disconnected and therefore never
// assigned a real client sequence number by the service. Combined with a
// randomly generated client id it yields a batch id that never matches any
// batch the service has actually sequenced.
const UnsentBatchStartCSN = -1

// MessageType identifies the kind of a runtime operation envelope.
type MessageType string

// Op metadata keys carried on the service-visible side channel.
const (
	// BatchMetadataKey marks batch boundaries: true on the first message of a
	// multi-message batch, false on the last, absent elsewhere.
	BatchMetadataKey = "batch"
	// BatchIDMetadataKey carries the batch id declared by the submitting
	// client, when one is declared.
	BatchIDMetadataKey = "batchId"
)

// RuntimeOp is the structured form of a single operation.
//
// It is intentionally transport-agnostic: the canonical wire content is the
// JSON serialization of exactly these two fields, in this field order.
type RuntimeOp struct {
	Type     MessageType     `json:"type"`
	Contents json.RawMessage `json:"contents"`
}

// BatchInfo identifies the flush-batch a pending message belongs to.
type BatchInfo struct {
	// ClientID is the connection identity the batch was flushed under, or a
	// randomly generated identity if the batch was never sent.
	ClientID string `json:"clientId"`

	// BatchStartCSN is the client sequence number the service assigned to the
	// first message of the batch, or UnsentBatchStartCSN.
	BatchStartCSN int64 `json:"batchStartCsn"`

	// Length is the number of pending messages sharing this batch info.
	Length int `json:"length"`

	// IgnoreBatchID disables batch-id collision checks for this batch.
	IgnoreBatchID bool `json:"ignoreBatchId,omitempty"`

	// Staged marks a batch withheld from submission until an explicit commit.
	Staged bool `json:"staged,omitempty"`
}

// BatchID derives the batch identity from the client id and batch-start
// client sequence number. Two different client ids deriving the same batch id
// for the same start sequence indicates a forked container.
func (b BatchInfo) BatchID() string {
	return fmt.Sprintf("%s_[%d]", b.ClientID, b.BatchStartCSN)
}

// InboundMessage is one sequenced message delivered by the service.
type InboundMessage struct {
	ClientID                string          `json:"clientId"`
	SequenceNumber          int64           `json:"sequenceNumber"`
	ClientSequenceNumber    int64           `json:"clientSequenceNumber"`
	ReferenceSequenceNumber int64           `json:"referenceSequenceNumber"`
	Type                    MessageType     `json:"type"`
	Contents                json.RawMessage `json:"contents"`

	// Metadata is the op metadata side channel (batch flags, batch id). Not
	// part of the op content compared against pending state.
	Metadata map[string]any `json:"metadata,omitempty"`
}

// InboundBatch is a sequenced batch delivered by the service. An empty batch
// carries no messages and only the sequence number its placeholder was
// acknowledged at.
type InboundBatch struct {
	// ClientID of the client that submitted the batch.
	ClientID string

	// BatchStartCSN is the client sequence number of the first message.
	BatchStartCSN int64

	// BatchID declared by the submitting client, empty if none was declared.
	BatchID string

	// Length is the declared batch length; zero for an empty batch.
	Length int

	// SequenceNumber assigned to the batch start. Used to stamp the pending
	// placeholder when Messages is empty.
	SequenceNumber int64

	Messages []*InboundMessage
}

// Empty reports whether the batch is a zero-operation batch.
func (b *InboundBatch) Empty() bool {
	return len(b.Messages) == 0
}

// IsBatchStart reports whether op metadata marks the first message of a
// multi-message batch.
func IsBatchStart(metadata map[string]any) bool {
	v, ok := metadata[BatchMetadataKey].(bool)
	return ok && v
}

// IsBatchEnd reports whether op metadata marks the last message of a
// multi-message batch.
func IsBatchEnd(metadata map[string]any) bool {
	v, ok := metadata[BatchMetadataKey].(bool)
	return ok && !v
}
