package runtime

import (
	"context"

	"github.com/MarcelRaschke/FluidFramework/protocol"
)

// ConnectionState reports the live connection status of the hosting
// container runtime.
//
// The pending-state layer never owns a connection. Hosts are free to back
// these with a websocket session, a test fake, etc.
type ConnectionState interface {
	// Connected reports whether a connection to the sequencing service is up.
	Connected() bool

	// ClientID returns the identity assigned by the current connection, or
	// empty while disconnected.
	ClientID() string

	// IsActiveConnection reports whether the connection can submit ops.
	// Read-only connections return false.
	IsActiveConnection() bool

	// IsAttached reports whether the document is attached to a collaboration
	// session.
	IsAttached() bool
}

// OpApplier replays previously stashed serialized ops against the live
// document, mutating it exactly as if the op had been generated locally, and
// returns fresh local metadata for the applied op.
type OpApplier interface {
	ApplyStashedOp(ctx context.Context, content string) (localOpMetadata any, err error)
}

// ResubmitOp is one operation of a regrouped batch handed back for
// resubmission.
type ResubmitOp struct {
	RuntimeOp       *protocol.RuntimeOp
	LocalOpMetadata any
	OpMetadata      map[string]any
}

// ResubmitOptions carry per-batch resubmission constraints.
type ResubmitOptions struct {
	// BatchID the resubmitted batch must keep, or empty when no batch id
	// constraint applies.
	BatchID string

	// Staged marks the resubmitted batch as still withheld from submission.
	Staged bool

	// Squash requests that the host collapse the batch's ops where possible.
	Squash bool
}

// Resubmitter receives regrouped batches during a replay pass. The call is
// submit-and-continue: the pending-state layer does not wait for the
// submission to complete before handing over the next batch, and ordering is
// preserved because batches are handed over in queue order.
type Resubmitter interface {
	ResubmitBatch(ops []ResubmitOp, opts ResubmitOptions)
}
