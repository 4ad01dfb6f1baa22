// Package fluid tracks client-submitted operations against a collaborative
// document until the central sequencing service acknowledges them, replays
// them after reconnection, and rehydrates pending state persisted by a prior
// session.
//
// The package is transport-agnostic: the sequencing service, the document
// model and the submission path are consumed only through the narrow
// interfaces in the runtime package, and all wire-level shapes are the
// handwritten structs in the protocol package.
package fluid

import (
	"github.com/MarcelRaschke/FluidFramework/protocol"
	"github.com/MarcelRaschke/FluidFramework/runtime"
)

// --- Protocol types ---

type MessageType = protocol.MessageType
type RuntimeOp = protocol.RuntimeOp
type BatchInfo = protocol.BatchInfo
type InboundMessage = protocol.InboundMessage
type InboundBatch = protocol.InboundBatch

type PendingStateEntry = protocol.PendingStateEntry
type LocalState = protocol.LocalState

const UnsentBatchStartCSN = protocol.UnsentBatchStartCSN

// --- Runtime boundary types ---

type ConnectionState = runtime.ConnectionState
type OpApplier = runtime.OpApplier
type Resubmitter = runtime.Resubmitter
type ResubmitOp = runtime.ResubmitOp
type ResubmitOptions = runtime.ResubmitOptions

// DecodeLocalState re-exports the persisted pending-state decoder, which
// accepts both the current and the legacy record shape.
func DecodeLocalState(data []byte) (*LocalState, error) {
	return protocol.DecodeLocalState(data)
}
