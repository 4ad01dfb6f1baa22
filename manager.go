package fluid

import (
	"sync"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/MarcelRaschke/FluidFramework/protocol"
	"github.com/MarcelRaschke/FluidFramework/runtime"
)

// EmptyBatchMetadata is the local op metadata attached to an empty-batch
// placeholder when its ack is processed or when it is rehydrated from stash.
type EmptyBatchMetadata struct {
	EmptyBatch bool
}

// BatchMessage is one operation of a flushed batch, as handed to the manager
// by the host's flush path.
type BatchMessage struct {
	RuntimeOp               *protocol.RuntimeOp
	ReferenceSequenceNumber int64
	LocalOpMetadata         any
	OpMetadata              map[string]any
}

// PendingStateManager tracks client-submitted operations against a
// collaborative document until they are acknowledged by the sequencing
// service, replays them after reconnection, and rehydrates previously
// persisted pending state.
//
// The pending queue, initial (stash) queue and saved-ops list are exclusively
// owned by one manager instance per document session.
type PendingStateManager struct {
	log         *logrus.Entry
	conn        runtime.ConnectionState
	applier     runtime.OpApplier
	resubmitter runtime.Resubmitter

	pending *PendingQueue
	initial *PendingQueue

	mu       sync.Mutex
	savedOps []protocol.PendingStateEntry

	// batch ids with outstanding local messages; consulted for fork detection
	pendingBatchIDs mapset.Set[string]

	// client identity of the most recent replay pass
	lastReplayClientID *string

	disposed bool
}

// NewPendingStateManager creates a manager for one document session. stashed
// may be nil when no prior session state is being rehydrated.
func NewPendingStateManager(
	conn runtime.ConnectionState,
	applier runtime.OpApplier,
	resubmitter runtime.Resubmitter,
	stashed *protocol.LocalState,
	log *logrus.Entry,
) *PendingStateManager {
	psm := &PendingStateManager{
		log:             log.WithField("component", "pendingstate"),
		conn:            conn,
		applier:         applier,
		resubmitter:     resubmitter,
		pending:         NewPendingQueue(),
		initial:         NewPendingQueue(),
		pendingBatchIDs: mapset.NewSet[string](),
	}
	if stashed != nil {
		for _, entry := range stashed.PendingStates {
			info := entry.BatchInfo
			if info == nil {
				// legacy records carry no batch info; synthesize the same
				// never-matching identity DecodeLocalState back-fills, so
				// state unmarshaled directly into LocalState loads too
				info = &protocol.BatchInfo{
					ClientID:      uuid.NewString(),
					BatchStartCSN: protocol.UnsentBatchStartCSN,
					Length:        -1,
				}
			}
			psm.initial.PushBack(&PendingMessage{
				ReferenceSequenceNumber: entry.ReferenceSequenceNumber,
				Content:                 entry.Content,
				OpMetadata:              entry.OpMetadata,
				SequenceNumber:          entry.SequenceNumber,
				BatchInfo:               *info,
			})
		}
	}
	return psm
}

// OnFlushBatch records a flushed batch of one or more same-batch messages.
//
// submittedCSN is the client sequence number the service assigned to the
// batch start if the batch was actually sent, or nil if it was flushed while
// disconnected; unsent batches get a freshly generated client identity and
// the sentinel start sequence so their batch id never matches a real one.
func (psm *PendingStateManager) OnFlushBatch(messages []BatchMessage, submittedCSN *int64, staged bool, ignoreBatchID bool) error {
	if err := psm.checkDisposed(); err != nil {
		return err
	}
	if len(messages) == 0 {
		return invariantErrorf("flushed batch has no messages; empty batches go through OnFlushEmptyBatch")
	}

	info := psm.newBatchInfo(submittedCSN, len(messages), staged, ignoreBatchID)
	for i := range messages {
		m := &messages[i]
		content, err := protocol.SerializeOp(m.RuntimeOp)
		if err != nil {
			return err
		}
		psm.pending.PushBack(&PendingMessage{
			ReferenceSequenceNumber: m.ReferenceSequenceNumber,
			Content:                 content,
			RuntimeOp:               m.RuntimeOp,
			LocalOpMetadata:         m.LocalOpMetadata,
			OpMetadata:              m.OpMetadata,
			BatchInfo:               info,
		})
	}
	psm.trackBatchID(info)
	return nil
}

// OnFlushEmptyBatch records a placeholder for a batch that resubmission
// reduced to zero operations, so batch ids and ack bookkeeping stay
// consistent.
func (psm *PendingStateManager) OnFlushEmptyBatch(placeholder BatchMessage, submittedCSN *int64, staged bool) error {
	if err := psm.checkDisposed(); err != nil {
		return err
	}
	if placeholder.RuntimeOp != nil {
		return invariantErrorf("empty-batch placeholder must not carry a runtime op")
	}

	info := psm.newBatchInfo(submittedCSN, 1, staged, false)
	psm.pending.PushBack(&PendingMessage{
		ReferenceSequenceNumber: placeholder.ReferenceSequenceNumber,
		LocalOpMetadata:         placeholder.LocalOpMetadata,
		OpMetadata:              placeholder.OpMetadata,
		BatchInfo:               info,
	})
	psm.trackBatchID(info)
	return nil
}

func (psm *PendingStateManager) newBatchInfo(submittedCSN *int64, length int, staged bool, ignoreBatchID bool) protocol.BatchInfo {
	clientID := uuid.NewString()
	csn := int64(protocol.UnsentBatchStartCSN)
	if submittedCSN != nil {
		clientID = psm.conn.ClientID()
		csn = *submittedCSN
	}
	return protocol.BatchInfo{
		ClientID:      clientID,
		BatchStartCSN: csn,
		Length:        length,
		IgnoreBatchID: ignoreBatchID,
		Staged:        staged,
	}
}

func (psm *PendingStateManager) trackBatchID(info protocol.BatchInfo) {
	if !info.IgnoreBatchID {
		psm.pendingBatchIDs.Add(info.BatchID())
	}
}

// untrackBatchID drops a batch id once no queued message references it.
func (psm *PendingStateManager) untrackBatchID(info protocol.BatchInfo) {
	if info.IgnoreBatchID {
		return
	}
	batchID := info.BatchID()
	if !psm.pending.ContainsBatchID(batchID) {
		psm.pendingBatchIDs.Remove(batchID)
	}
}

// The query surface below stays callable after Close and reports the cleared
// state (zero counts, empty snapshots) rather than an error; only mutating
// operations return ErrDisposed.

// PendingMessagesCount returns the number of outstanding messages, local and
// stashed. Zero after Close.
func (psm *PendingStateManager) PendingMessagesCount() int {
	return psm.pending.Len() + psm.initial.Len()
}

// HasPendingMessages reports whether any message is outstanding.
func (psm *PendingStateManager) HasPendingMessages() bool {
	return psm.PendingMessagesCount() > 0
}

// HasPendingUserChanges reports whether any outstanding message represents an
// actual user change. Empty-batch placeholders do not count.
func (psm *PendingStateManager) HasPendingUserChanges() bool {
	for _, m := range psm.pending.Snapshot() {
		if !m.IsPlaceholder() {
			return true
		}
	}
	for _, m := range psm.initial.Snapshot() {
		if m.Content != "" {
			return true
		}
	}
	return false
}

// MinimumPendingMessageSequenceNumber returns the reference sequence number
// of the oldest outstanding message. The snapshot layer uses it to know which
// ops must be retained. ok is false when nothing is outstanding.
func (psm *PendingStateManager) MinimumPendingMessageSequenceNumber() (seq int64, ok bool) {
	if front := psm.pending.PeekFront(); front != nil {
		return front.ReferenceSequenceNumber, true
	}
	if front := psm.initial.PeekFront(); front != nil {
		return front.ReferenceSequenceNumber, true
	}
	return 0, false
}

// SavedOps returns the serialized form of every message acknowledged since
// the last replay cycle completed. Empty after Close.
func (psm *PendingStateManager) SavedOps() []protocol.PendingStateEntry {
	psm.mu.Lock()
	defer psm.mu.Unlock()

	out := make([]protocol.PendingStateEntry, len(psm.savedOps))
	copy(out, psm.savedOps)
	return out
}

func (psm *PendingStateManager) appendSavedOp(m *PendingMessage) {
	psm.mu.Lock()
	defer psm.mu.Unlock()
	psm.savedOps = append(psm.savedOps, m.entry())
}

func (psm *PendingStateManager) clearSavedOps() {
	psm.mu.Lock()
	defer psm.mu.Unlock()
	psm.savedOps = nil
}

// GetLocalState serializes the outstanding pending state, including any
// stash entries not yet consumed by rehydration, in submission order. After
// Close the returned state holds no entries.
func (psm *PendingStateManager) GetLocalState() *protocol.LocalState {
	messages := psm.pending.Snapshot()
	messages = append(messages, psm.initial.Snapshot()...)

	state := &protocol.LocalState{
		PendingStates: make([]protocol.PendingStateEntry, 0, len(messages)),
	}
	for _, m := range messages {
		state.PendingStates = append(state.PendingStates, m.entry())
	}
	return state
}

func (psm *PendingStateManager) checkDisposed() error {
	psm.mu.Lock()
	defer psm.mu.Unlock()
	if psm.disposed {
		return ErrDisposed
	}
	return nil
}

// Close disposes the manager, irreversibly clearing all queued state.
func (psm *PendingStateManager) Close() {
	psm.mu.Lock()
	if psm.disposed {
		psm.mu.Unlock()
		return
	}
	psm.disposed = true
	psm.savedOps = nil
	psm.mu.Unlock()

	psm.pending.Clear()
	psm.initial.Clear()
	psm.pendingBatchIDs.Clear()
	psm.log.Debug("Pending state manager closed")
}
