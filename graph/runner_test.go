package graph

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/flowforge/graphcore/graph/store"
)

func echoNode() Node {
	return NodeFunc(func(ctx NodeContext) (NodeOutput, error) {
		return NodeOutput{Message: ctx.Message, Hint: NoHint()}, nil
	})
}

func TestExecute_EmptyEdges_CompletesMessage(t *testing.T) {
	g := NewGraph("g1", "a")
	g.AddNode("a", echoNode())

	runner, err := NewGraphRunner()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	msg := NewMessage("m1", "user", "hi", TypeText)
	out, err := runner.Execute(context.Background(), g, msg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.State() != StateCompleted {
		t.Errorf("expected state COMPLETED, got %s", out.State())
	}
}

func TestExecute_GuardedEdgesWithNoDecision_ReturnsRoutingError(t *testing.T) {
	g := NewGraph("g1", "a")
	g.AddNode("a", echoNode())
	g.AddGuardedEdge("a", "b", ResultYes)
	g.AddNode("b", echoNode())

	runner, err := NewGraphRunner()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err = runner.Execute(context.Background(), g, NewMessage("m1", "user", "hi", TypeText))
	if err == nil {
		t.Fatal("expected a RoutingError when guarded edges exist with no decision recorded")
	}
	var routingErr *RoutingError
	if !errors.As(err, &routingErr) {
		t.Fatalf("expected *RoutingError, got %T", err)
	}
}

func TestExecute_LinearGraph_CompletesAtEnd(t *testing.T) {
	g := NewGraph("g1", "a")
	g.AddNode("a", echoNode())
	g.AddNode("b", echoNode())
	g.AddEdge("a", "b")

	runner, err := NewGraphRunner()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	out, err := runner.Execute(context.Background(), g, NewMessage("m1", "user", "hi", TypeText))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.State() != StateCompleted {
		t.Errorf("expected COMPLETED, got %s", out.State())
	}
	if len(out.StateHistory()) < 2 {
		t.Errorf("expected at least READY->RUNNING and RUNNING->COMPLETED transitions, got %d", len(out.StateHistory()))
	}
}

func TestExecute_DecisionRouting_YesNoAndFallback(t *testing.T) {
	makeGraph := func(result DecisionResult) *Graph {
		g := NewGraph("g1", "decide")
		g.AddNode("decide", NewDecisionNode("decide", Always("e", result), map[string]string{
			ResultYes: "yesNode",
			ResultNo:  "noNode",
		}).WithFallback("fallbackNode"))
		g.AddNode("yesNode", echoNode())
		g.AddNode("noNode", echoNode())
		g.AddNode("fallbackNode", echoNode())
		return g
	}

	runner, err := NewGraphRunner()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	yesOut, err := runner.Execute(context.Background(), makeGraph(Yes("go")), NewMessage("m1", "user", "hi", TypeText))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v, _ := yesOut.Data().Get("_decisionTarget").AsString(); v != "yesNode" {
		t.Errorf("expected routing to yesNode, got %q", v)
	}

	noOut, err := runner.Execute(context.Background(), makeGraph(No("stop")), NewMessage("m2", "user", "hi", TypeText))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v, _ := noOut.Data().Get("_decisionTarget").AsString(); v != "noNode" {
		t.Errorf("expected routing to noNode, got %q", v)
	}

	fbOut, err := runner.Execute(context.Background(), makeGraph(Uncertain("dunno")), NewMessage("m3", "user", "hi", TypeText))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v, _ := fbOut.Data().Get("_decisionTarget").AsString(); v != "fallbackNode" {
		t.Errorf("expected fallback routing to fallbackNode, got %q", v)
	}
}

func TestExecute_RetriesTransientErrorsThenSucceeds(t *testing.T) {
	attempts := 0
	flaky := NodeFunc(func(ctx NodeContext) (NodeOutput, error) {
		attempts++
		if attempts < 3 {
			return NodeOutput{}, &ExecutionError{Message: "transient", NodeID: "a"}
		}
		return NodeOutput{Message: ctx.Message, Hint: NoHint()}, nil
	})

	g := NewGraph("g1", "a")
	g.AddNode("a", flaky)

	runner, err := NewGraphRunner(WithRetryPolicy(RetryPolicy{
		MaxAttempts:       3,
		InitialDelay:      0,
		MaxDelay:          0,
		BackoffMultiplier: 1,
		JitterFactor:      0,
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	out, err := runner.Execute(context.Background(), g, NewMessage("m1", "user", "hi", TypeText))
	if err != nil {
		t.Fatalf("unexpected error after retries: %v", err)
	}
	if attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts)
	}
	if out.State() != StateCompleted {
		t.Errorf("expected COMPLETED after eventual success, got %s", out.State())
	}
}

func TestExecute_NonRetryableErrorFailsImmediately(t *testing.T) {
	attempts := 0
	alwaysRouting := NodeFunc(func(ctx NodeContext) (NodeOutput, error) {
		attempts++
		return NodeOutput{}, &RoutingError{Message: "bad route", NodeID: "a"}
	})

	g := NewGraph("g1", "a")
	g.AddNode("a", alwaysRouting)

	runner, err := NewGraphRunner()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	out, err := runner.Execute(context.Background(), g, NewMessage("m1", "user", "hi", TypeText))
	if err == nil {
		t.Fatal("expected an error")
	}
	if attempts != 1 {
		t.Errorf("expected RoutingError to never be retried, got %d attempts", attempts)
	}
	if out.State() != StateFailed {
		t.Errorf("expected state FAILED, got %s", out.State())
	}
}

func TestExecuteWithCheckpoint_HITLRoundTrip(t *testing.T) {
	g := NewGraph("g1", "ask")
	g.AddNode("ask", NewHumanNode("ask", "what is your name?"))
	g.AddNode("done", echoNode())
	g.AddEdge("ask", "done")

	runner, err := NewGraphRunner()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	memStore := store.NewMemoryStore()

	paused, err := runner.ExecuteWithCheckpoint(context.Background(), g, NewMessage("m1", "user", "hi", TypeText), memStore, CheckpointConfigDefault)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if paused.State() != StateWaiting {
		t.Fatalf("expected state WAITING, got %s", paused.State())
	}

	list, err := memStore.ListByRun(context.Background(), paused.RunID())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected exactly 1 checkpoint saved on HITL pause, got %d", len(list))
	}
	cpID := list[0].ID

	userResponse := &ToolCall{
		ID:   "resp1",
		Type: "function",
		Function: ToolCallFunction{
			Name:      FuncUserResponse,
			Arguments: ValueMap{"text": StringValue("Ada")},
		},
	}

	final, err := runner.ResumeFromCheckpoint(context.Background(), g, cpID, userResponse, memStore, CheckpointConfigDefault)
	if err != nil {
		t.Fatalf("unexpected error resuming: %v", err)
	}
	if final.State() != StateCompleted {
		t.Errorf("expected COMPLETED after resume, got %s", final.State())
	}

	remaining, err := memStore.ListByRun(context.Background(), paused.RunID())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(remaining) != 0 {
		t.Errorf("expected auto cleanup to remove the checkpoint after completion, got %d remaining", len(remaining))
	}
}

func TestResumeFromCheckpoint_Expired(t *testing.T) {
	g := NewGraph("g1", "ask")
	g.AddNode("ask", NewHumanNode("ask", "name?"))

	runner, err := NewGraphRunner()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	memStore := store.NewMemoryStore()

	epoch := time.Unix(0, 0).UTC()
	restore := fixNow(epoch)
	defer restore()

	paused, err := runner.ExecuteWithCheckpoint(context.Background(), g, NewMessage("m1", "user", "hi", TypeText), memStore, CheckpointConfig{SaveOnHITL: true, TTL: 0, AutoCleanup: false})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	list, _ := memStore.ListByRun(context.Background(), paused.RunID())
	if len(list) != 1 {
		t.Fatalf("expected 1 checkpoint saved, got %d", len(list))
	}
	cp := list[0]
	expiry := epoch
	cp.ExpiresAt = &expiry
	_, _ = memStore.Save(context.Background(), cp)

	_, err = runner.ResumeFromCheckpoint(context.Background(), g, cp.ID, nil, memStore, CheckpointConfigDefault)
	if err == nil {
		t.Fatal("expected an error resuming an expired checkpoint")
	}
	var expiredErr *CheckpointExpiredError
	if !errors.As(err, &expiredErr) {
		t.Fatalf("expected *CheckpointExpiredError, got %T", err)
	}
}

func TestResumeFromCheckpoint_OnCompletedMessage_ReturnsInvalidTransition(t *testing.T) {
	// Resuming a COMPLETED message should yield InvalidTransition, unchanged.
	g := NewGraph("g1", "a")
	g.AddNode("a", echoNode())

	runner, err := NewGraphRunner()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	memStore := store.NewMemoryStore()

	completed := NewMessage("m1", "user", "hi", TypeText)
	completed, _ = TransitionTo(completed, StateRunning, "start", "a")
	completed, _ = TransitionTo(completed, StateCompleted, "done", "a")

	cp, err := FromMessage(completed, "g1", "r1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := memStore.Save(context.Background(), cp); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err = runner.ResumeFromCheckpoint(context.Background(), g, cp.ID, nil, memStore, CheckpointConfigDefault)
	if err == nil {
		t.Fatal("expected an error resuming a COMPLETED message")
	}
	var invalidErr *InvalidTransitionError
	if !errors.As(err, &invalidErr) {
		t.Fatalf("expected *InvalidTransitionError, got %T: %v", err, err)
	}
}

func TestExecuteWithCheckpoint_EquivalentToUninterruptedExecute_NoHITL(t *testing.T) {
	// executeWithCheckpoint + resumeFromCheckpoint should match a plain
	// execute for HITL-free graphs, since no checkpoint should ever be saved.
	build := func() *Graph {
		g := NewGraph("g1", "a")
		g.AddNode("a", echoNode())
		g.AddNode("b", echoNode())
		g.AddEdge("a", "b")
		return g
	}

	runner, err := NewGraphRunner()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	direct, err := runner.Execute(context.Background(), build(), NewMessage("m1", "user", "hi", TypeText))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	memStore := store.NewMemoryStore()
	viaCheckpoint, err := runner.ExecuteWithCheckpoint(context.Background(), build(), NewMessage("m2", "user", "hi", TypeText), memStore, CheckpointConfigDefault)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if direct.State() != viaCheckpoint.State() {
		t.Errorf("expected matching terminal states, got %s vs %s", direct.State(), viaCheckpoint.State())
	}
	if memStore.Size() != 0 {
		t.Errorf("expected no checkpoints saved for a HITL-free run, got %d", memStore.Size())
	}
}
