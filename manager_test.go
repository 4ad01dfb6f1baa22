package fluid

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/MarcelRaschke/FluidFramework/protocol"
	"github.com/MarcelRaschke/FluidFramework/runtime"
)

type fakeConnection struct {
	connected bool
	clientID  string
	active    bool
	attached  bool
}

func (c *fakeConnection) Connected() bool { return c.connected }

func (c *fakeConnection) ClientID() string { return c.clientID }

func (c *fakeConnection) IsActiveConnection() bool { return c.active }

func (c *fakeConnection) IsAttached() bool { return c.attached }

type resubmitCall struct {
	ops  []runtime.ResubmitOp
	opts runtime.ResubmitOptions
}

type fakeResubmitter struct {
	calls []resubmitCall
	// onResubmit optionally simulates the re-entrant submit path
	onResubmit func(ops []runtime.ResubmitOp, opts runtime.ResubmitOptions)
}

func (r *fakeResubmitter) ResubmitBatch(ops []runtime.ResubmitOp, opts runtime.ResubmitOptions) {
	r.calls = append(r.calls, resubmitCall{ops: ops, opts: opts})
	if r.onResubmit != nil {
		r.onResubmit(ops, opts)
	}
}

type fakeApplier struct {
	applied  []string
	metadata any
	err      error
}

func (a *fakeApplier) ApplyStashedOp(_ context.Context, content string) (any, error) {
	if a.err != nil {
		return nil, a.err
	}
	a.applied = append(a.applied, content)
	return a.metadata, nil
}

func testLogger() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return logrus.NewEntry(log)
}

func testOp(x int) *protocol.RuntimeOp {
	return &protocol.RuntimeOp{
		Type:     "op",
		Contents: json.RawMessage(fmt.Sprintf(`{"x":%d}`, x)),
	}
}

func csnPtr(v int64) *int64 { return &v }

func newTestManager(conn *fakeConnection, applier *fakeApplier, resub *fakeResubmitter, stashed *protocol.LocalState) *PendingStateManager {
	return NewPendingStateManager(conn, applier, resub, stashed, testLogger())
}

func connectedManager() (*PendingStateManager, *fakeConnection, *fakeResubmitter) {
	conn := &fakeConnection{connected: true, clientID: "client-1", active: true, attached: true}
	resub := &fakeResubmitter{}
	psm := newTestManager(conn, &fakeApplier{}, resub, nil)
	return psm, conn, resub
}

func TestOnFlushBatchConnected(t *testing.T) {
	psm, _, _ := connectedManager()

	messages := []BatchMessage{
		{RuntimeOp: testOp(1), ReferenceSequenceNumber: 10, LocalOpMetadata: "m1"},
		{RuntimeOp: testOp(2), ReferenceSequenceNumber: 10, LocalOpMetadata: "m2"},
	}
	if err := psm.OnFlushBatch(messages, csnPtr(4), false, false); err != nil {
		t.Fatalf("OnFlushBatch failed: %v", err)
	}

	if psm.PendingMessagesCount() != 2 {
		t.Fatalf("Expected 2 pending messages, got %d", psm.PendingMessagesCount())
	}

	front := psm.pending.PeekFront()
	if front.BatchInfo.ClientID != "client-1" {
		t.Errorf("Expected live clientId, got %q", front.BatchInfo.ClientID)
	}
	if front.BatchInfo.BatchStartCSN != 4 {
		t.Errorf("Expected batchStartCsn 4, got %d", front.BatchInfo.BatchStartCSN)
	}
	if front.BatchInfo.Length != 2 {
		t.Errorf("Expected batch length 2, got %d", front.BatchInfo.Length)
	}
	if front.Content != `{"type":"op","contents":{"x":1}}` {
		t.Errorf("Unexpected canonical content %s", front.Content)
	}
}

func TestOnFlushBatchDisconnected(t *testing.T) {
	conn := &fakeConnection{connected: false, attached: true}
	psm := newTestManager(conn, &fakeApplier{}, &fakeResubmitter{}, nil)

	messages := []BatchMessage{{RuntimeOp: testOp(1), ReferenceSequenceNumber: 3}}
	if err := psm.OnFlushBatch(messages, nil, false, false); err != nil {
		t.Fatalf("OnFlushBatch failed: %v", err)
	}

	front := psm.pending.PeekFront()
	if front.BatchInfo.ClientID == "" {
		t.Error("Expected generated clientId for unsent batch")
	}
	if front.BatchInfo.BatchStartCSN != UnsentBatchStartCSN {
		t.Errorf("Expected sentinel batchStartCsn, got %d", front.BatchInfo.BatchStartCSN)
	}
}

func TestOnFlushBatchRejectsEmpty(t *testing.T) {
	psm, _, _ := connectedManager()
	if err := psm.OnFlushBatch(nil, csnPtr(1), false, false); err == nil {
		t.Error("Expected error for batch without messages")
	}
}

func TestOnFlushEmptyBatch(t *testing.T) {
	psm, _, _ := connectedManager()

	placeholder := BatchMessage{ReferenceSequenceNumber: 8}
	if err := psm.OnFlushEmptyBatch(placeholder, csnPtr(5), true); err != nil {
		t.Fatalf("OnFlushEmptyBatch failed: %v", err)
	}

	front := psm.pending.PeekFront()
	if !front.IsPlaceholder() {
		t.Error("Expected placeholder pending message")
	}
	if !front.BatchInfo.Staged {
		t.Error("Expected staged batch info")
	}

	// placeholders track the batch id but are not user changes
	if psm.HasPendingUserChanges() {
		t.Error("Expected no pending user changes for a placeholder")
	}
	if !psm.HasPendingMessages() {
		t.Error("Expected pending messages")
	}
}

func TestOnFlushEmptyBatchRejectsOp(t *testing.T) {
	psm, _, _ := connectedManager()
	if err := psm.OnFlushEmptyBatch(BatchMessage{RuntimeOp: testOp(1)}, csnPtr(5), false); err == nil {
		t.Error("Expected error for placeholder carrying a runtime op")
	}
}

func TestMinimumPendingMessageSequenceNumber(t *testing.T) {
	psm, _, _ := connectedManager()

	if _, ok := psm.MinimumPendingMessageSequenceNumber(); ok {
		t.Error("Expected no minimum on empty queue")
	}

	messages := []BatchMessage{{RuntimeOp: testOp(1), ReferenceSequenceNumber: 17}}
	if err := psm.OnFlushBatch(messages, csnPtr(1), false, false); err != nil {
		t.Fatalf("OnFlushBatch failed: %v", err)
	}
	messages = []BatchMessage{{RuntimeOp: testOp(2), ReferenceSequenceNumber: 19}}
	if err := psm.OnFlushBatch(messages, csnPtr(2), false, false); err != nil {
		t.Fatalf("OnFlushBatch failed: %v", err)
	}

	seq, ok := psm.MinimumPendingMessageSequenceNumber()
	if !ok || seq != 17 {
		t.Errorf("Expected minimum 17, got %d (ok=%v)", seq, ok)
	}
}

func TestGetLocalStateRoundTrip(t *testing.T) {
	psm, _, _ := connectedManager()

	messages := []BatchMessage{
		{RuntimeOp: testOp(1), ReferenceSequenceNumber: 10, OpMetadata: map[string]any{"batch": true}},
		{RuntimeOp: testOp(2), ReferenceSequenceNumber: 10, OpMetadata: map[string]any{"batch": false}},
	}
	if err := psm.OnFlushBatch(messages, csnPtr(4), false, false); err != nil {
		t.Fatalf("OnFlushBatch failed: %v", err)
	}

	data, err := psm.GetLocalState().Encode()
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	state, err := DecodeLocalState(data)
	if err != nil {
		t.Fatalf("DecodeLocalState failed: %v", err)
	}

	if len(state.PendingStates) != 2 {
		t.Fatalf("Expected 2 entries, got %d", len(state.PendingStates))
	}
	if state.PendingStates[0].Content != `{"type":"op","contents":{"x":1}}` {
		t.Errorf("Unexpected content %s", state.PendingStates[0].Content)
	}
	if state.PendingStates[0].BatchInfo.BatchStartCSN != 4 {
		t.Errorf("Expected batchStartCsn 4, got %d", state.PendingStates[0].BatchInfo.BatchStartCSN)
	}
}

func TestNewPendingStateManagerLegacyRecord(t *testing.T) {
	// hosts may unmarshal persisted state directly instead of going through
	// DecodeLocalState, so a record without batchInfo must still load
	doc := `{
		"pendingStates": [
			{
				"type": "message",
				"referenceSequenceNumber": 5,
				"content": "{\"type\":\"op\",\"contents\":{\"x\":1}}"
			}
		]
	}`
	var stashed protocol.LocalState
	if err := json.Unmarshal([]byte(doc), &stashed); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	conn := &fakeConnection{connected: true, clientID: "client-1", active: true, attached: true}
	psm := newTestManager(conn, &fakeApplier{}, &fakeResubmitter{}, &stashed)

	if psm.PendingMessagesCount() != 1 {
		t.Fatalf("Expected 1 stashed message, got %d", psm.PendingMessagesCount())
	}
	info := psm.initial.PeekFront().BatchInfo
	if info.ClientID == "" {
		t.Error("Expected synthesized client id for legacy record")
	}
	if info.BatchStartCSN != UnsentBatchStartCSN {
		t.Errorf("Expected sentinel batchStartCsn, got %d", info.BatchStartCSN)
	}
	if info.Length != -1 {
		t.Errorf("Expected length -1, got %d", info.Length)
	}
}

func TestPopStagedBatches(t *testing.T) {
	psm, _, _ := connectedManager()

	if err := psm.OnFlushBatch([]BatchMessage{{RuntimeOp: testOp(1), LocalOpMetadata: "m1"}}, csnPtr(1), false, false); err != nil {
		t.Fatalf("OnFlushBatch failed: %v", err)
	}
	if err := psm.OnFlushBatch([]BatchMessage{{RuntimeOp: testOp(2), LocalOpMetadata: "m2"}}, csnPtr(2), true, false); err != nil {
		t.Fatalf("OnFlushBatch failed: %v", err)
	}
	if err := psm.OnFlushBatch([]BatchMessage{{RuntimeOp: testOp(3), LocalOpMetadata: "m3"}}, csnPtr(3), true, false); err != nil {
		t.Fatalf("OnFlushBatch failed: %v", err)
	}

	var order []string
	err := psm.PopStagedBatches(func(op *RuntimeOp, localOpMetadata any) error {
		order = append(order, localOpMetadata.(string))
		return nil
	})
	if err != nil {
		t.Fatalf("PopStagedBatches failed: %v", err)
	}

	if len(order) != 2 || order[0] != "m3" || order[1] != "m2" {
		t.Errorf("Expected LIFO order [m3 m2], got %v", order)
	}
	if psm.pending.Len() != 1 {
		t.Fatalf("Expected 1 remaining message, got %d", psm.pending.Len())
	}
	if psm.pending.PeekFront().BatchInfo.Staged {
		t.Error("Expected no staged message to remain")
	}
}

func TestPopStagedBatchesSkipsPlaceholders(t *testing.T) {
	psm, _, _ := connectedManager()

	if err := psm.OnFlushEmptyBatch(BatchMessage{}, csnPtr(1), true); err != nil {
		t.Fatalf("OnFlushEmptyBatch failed: %v", err)
	}
	if err := psm.OnFlushBatch([]BatchMessage{{RuntimeOp: testOp(1), LocalOpMetadata: "m1"}}, csnPtr(2), true, false); err != nil {
		t.Fatalf("OnFlushBatch failed: %v", err)
	}

	calls := 0
	err := psm.PopStagedBatches(func(op *RuntimeOp, localOpMetadata any) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("PopStagedBatches failed: %v", err)
	}
	if calls != 1 {
		t.Errorf("Expected 1 callback (placeholder skipped), got %d", calls)
	}
	if psm.pending.Len() != 0 {
		t.Errorf("Expected empty queue, got %d", psm.pending.Len())
	}
}

func TestPopStagedBatchesAggregatesCallbackErrors(t *testing.T) {
	psm, _, _ := connectedManager()

	for i := 1; i <= 2; i++ {
		if err := psm.OnFlushBatch([]BatchMessage{{RuntimeOp: testOp(i)}}, csnPtr(int64(i)), true, false); err != nil {
			t.Fatalf("OnFlushBatch failed: %v", err)
		}
	}

	err := psm.PopStagedBatches(func(op *RuntimeOp, localOpMetadata any) error {
		return fmt.Errorf("rollback failed")
	})
	if err == nil {
		t.Fatal("Expected aggregated callback errors")
	}
	if psm.pending.Len() != 0 {
		t.Error("Expected queue fully drained despite callback errors")
	}
}

func TestClose(t *testing.T) {
	psm, _, _ := connectedManager()

	if err := psm.OnFlushBatch([]BatchMessage{{RuntimeOp: testOp(1)}}, csnPtr(1), false, false); err != nil {
		t.Fatalf("OnFlushBatch failed: %v", err)
	}

	psm.Close()

	// queries stay callable and report the cleared state
	if psm.HasPendingMessages() {
		t.Error("Expected no pending messages after Close")
	}
	if psm.HasPendingUserChanges() {
		t.Error("Expected no pending user changes after Close")
	}
	if _, ok := psm.MinimumPendingMessageSequenceNumber(); ok {
		t.Error("Expected no minimum sequence number after Close")
	}
	if len(psm.SavedOps()) != 0 {
		t.Error("Expected no saved ops after Close")
	}
	if len(psm.GetLocalState().PendingStates) != 0 {
		t.Error("Expected empty local state after Close")
	}

	// mutators are rejected
	if err := psm.OnFlushBatch([]BatchMessage{{RuntimeOp: testOp(2)}}, csnPtr(2), false, false); err == nil {
		t.Error("Expected error flushing after Close")
	}
	if err := psm.ReplayPendingStates(ReplayOptions{}); err == nil {
		t.Error("Expected error replaying after Close")
	}

	// idempotent
	psm.Close()
}
