package graph

import (
	"testing"
)

func TestMessage_Immutability(t *testing.T) {
	m1 := NewMessage("id1", "user", "hello", TypeText)
	m2 := m1.WithContent("world")

	if m1.Content() != "hello" {
		t.Errorf("original message mutated: got content %q", m1.Content())
	}
	if m2.Content() != "world" {
		t.Errorf("expected new message content %q, got %q", "world", m2.Content())
	}
}

func TestMessage_WithDataMerged_DoesNotAliasOriginal(t *testing.T) {
	m1 := NewMessage("id1", "user", "hello", TypeText).WithData(ValueMap{"a": StringValue("1")})
	m2 := m1.WithDataMerged(ValueMap{"b": StringValue("2")})

	if _, ok := m1.Data()["b"]; ok {
		t.Error("original message's data was mutated by WithDataMerged")
	}
	if v, ok := m2.Data()["a"].AsString(); !ok || v != "1" {
		t.Errorf("expected merged map to retain original key a=1, got %v", m2.Data())
	}
	if v, ok := m2.Data()["b"].AsString(); !ok || v != "2" {
		t.Errorf("expected merged map to contain new key b=2, got %v", m2.Data())
	}
}

func TestMessage_WithAppendedToolCalls(t *testing.T) {
	m1 := NewMessage("id1", "user", "hi", TypeText)
	call := ToolCall{ID: "tc1", Type: "function", Function: ToolCallFunction{Name: FuncRequestUserInput}}
	m2 := m1.WithAppendedToolCalls(call)

	if len(m1.ToolCalls()) != 0 {
		t.Error("original message's tool calls were mutated")
	}
	if len(m2.ToolCalls()) != 1 || m2.ToolCalls()[0].ID != "tc1" {
		t.Errorf("expected one appended tool call, got %v", m2.ToolCalls())
	}
}

func TestMessage_IsPendingHITL(t *testing.T) {
	base := NewMessage("id1", "user", "hi", TypeText)

	if base.IsPendingHITL() {
		t.Error("a message with no tool calls should not be pending HITL")
	}

	withRequest := base.WithAppendedToolCalls(ToolCall{
		ID: "tc1", Type: "function",
		Function: ToolCallFunction{Name: FuncRequestUserSelection},
	})
	if !withRequest.IsPendingHITL() {
		t.Error("a message with an unanswered request-* call should be pending HITL")
	}

	withResponse := withRequest.WithAppendedToolCalls(ToolCall{
		ID: "tc2", Type: "function",
		Function: ToolCallFunction{Name: FuncUserResponse},
	})
	if withResponse.IsPendingHITL() {
		t.Error("a message with a matching user_response call should no longer be pending HITL")
	}
}

func TestMessage_LastHITLRequest_ReturnsMostRecent(t *testing.T) {
	// Old request followed by a new one; extraction must pick the last,
	// not the first.
	base := NewMessage("id1", "user", "hi", TypeText)
	m := base.WithAppendedToolCalls(
		ToolCall{ID: "old", Type: "function", Function: ToolCallFunction{Name: FuncRequestUserInput}},
		ToolCall{ID: "new", Type: "function", Function: ToolCallFunction{Name: FuncRequestUserSelection}},
	)

	tc, ok := m.LastHITLRequest()
	if !ok {
		t.Fatal("expected a pending HITL request to be found")
	}
	if tc.ID != "new" {
		t.Errorf("expected the most recent request-* call (%q), got %q", "new", tc.ID)
	}
}

func TestMessage_LastHITLRequest_NoneFound(t *testing.T) {
	m := NewMessage("id1", "user", "hi", TypeText)
	if _, ok := m.LastHITLRequest(); ok {
		t.Error("expected no HITL request on a message with no tool calls")
	}
}

func TestMessage_SnapshotRoundTrip(t *testing.T) {
	m, err := TransitionTo(NewMessage("id1", "user", "hi", TypeText), StateRunning, "start", "")
	if err != nil {
		t.Fatalf("unexpected transition error: %v", err)
	}
	m = m.WithData(ValueMap{"k": StringValue("v")}).
		WithMetadata(ValueMap{"tenant": StringValue("acme")}).
		WithAgentContext(ValueMap{"tenant_id": StringValue("acme")}).
		WithGraphContext("g1", "n1", "r1")

	snap := m.Snapshot()
	restored := MessageFromSnapshot(snap)

	if restored.ID() != m.ID() || restored.Content() != m.Content() || restored.State() != m.State() {
		t.Fatalf("snapshot round trip lost core fields: got %+v", restored)
	}
	if restored.GraphID() != "g1" || restored.NodeID() != "n1" || restored.RunID() != "r1" {
		t.Errorf("snapshot round trip lost graph context: %q/%q/%q", restored.GraphID(), restored.NodeID(), restored.RunID())
	}
	if len(restored.StateHistory()) != len(m.StateHistory()) {
		t.Errorf("snapshot round trip lost state history entries")
	}
	if !restored.HasAgentContext() {
		t.Error("snapshot round trip lost agent context")
	}
}

func TestMessage_StateHistoryAccessor_ReturnsCopy(t *testing.T) {
	m, err := TransitionTo(NewMessage("id1", "user", "hi", TypeText), StateRunning, "start", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	hist := m.StateHistory()
	hist[0].Reason = "tampered"

	if m.StateHistory()[0].Reason != "start" {
		t.Error("mutating the slice returned by StateHistory() affected the message's own history")
	}
}
