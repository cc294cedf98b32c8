package graph

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/flowforge/graphcore/graph/emit"
	"github.com/google/uuid"
)

// GraphRunner walks a Graph from its entry point to a terminal or WAITING
// message. A GraphRunner is safe for concurrent use
// across different runs; it never executes two nodes of the same run in
// parallel.
type GraphRunner struct {
	cfg runnerConfig
	rng *rand.Rand
}

// NewGraphRunner constructs a GraphRunner with the given options applied
// over the defaults (no step limit, no-op emitter, DefaultRetryPolicy).
func NewGraphRunner(opts ...RunnerOption) (*GraphRunner, error) {
	cfg := defaultRunnerConfig()
	for _, opt := range opts {
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}
	return &GraphRunner{cfg: cfg}, nil
}

func (r *GraphRunner) emit(event emit.Event) {
	r.cfg.emitter.Emit(event)
}

// Execute runs message through graph starting at its current node (or the
// graph's entry point if unset).
func (r *GraphRunner) Execute(ctx context.Context, g *Graph, message Message) (Message, error) {
	return r.executeLoop(ctx, g, message, nil)
}

// stepHook is invoked after each successful node execution, before routing,
// so ExecuteWithCheckpoint can implement CheckpointConfig.SaveEveryNNodes
// without duplicating the main loop.
type stepHook func(msg Message, nodeID string, stepNum int)

func (r *GraphRunner) executeLoop(ctx context.Context, g *Graph, message Message, onStep stepHook) (Message, error) {
	if message.State() != StateReady && message.State() != StateRunning {
		return message, &ValidationError{Message: fmt.Sprintf("execute requires message state READY or RUNNING, got %s", message.State())}
	}

	msg := message
	if msg.State() == StateReady {
		var err error
		msg, err = TransitionTo(msg, StateRunning, "execution started", msg.NodeID())
		if err != nil {
			return message, err
		}
	}

	runID := msg.RunID()
	if runID == "" {
		runID = uuid.NewString()
	}
	currentNode := msg.NodeID()
	if currentNode == "" {
		currentNode = g.EntryPoint
	}
	msg = msg.WithGraphContext(g.ID, currentNode, runID)

	steps := 0
	for {
		select {
		case <-ctx.Done():
			return msg, ErrCancelled
		default:
		}

		if r.cfg.maxSteps > 0 && steps >= r.cfg.maxSteps {
			return msg, &ExecutionError{Message: "max steps exceeded", NodeID: currentNode}
		}
		steps++

		node, ok := g.Nodes[currentNode]
		if !ok {
			return msg, &NodeNotFoundError{NodeID: currentNode}
		}

		output, err := r.runNodeWithRetry(ctx, node, currentNode, g.ID, msg)
		if err != nil {
			failed, terr := TransitionTo(msg, StateFailed, err.Error(), currentNode)
			if terr != nil {
				return msg, err
			}
			return failed, err
		}
		msg = output.Message

		if onStep != nil {
			onStep(msg, currentNode, steps)
		}

		if msg.State() == StateWaiting {
			return msg, nil
		}

		next, hasNext, err := r.resolveNext(g, currentNode, output.Hint)
		if err != nil {
			failed, terr := TransitionTo(msg, StateFailed, err.Error(), currentNode)
			if terr != nil {
				return msg, err
			}
			return failed, err
		}

		if !hasNext {
			completed, terr := TransitionTo(msg, StateCompleted, "no successor node", currentNode)
			if terr != nil {
				return msg, terr
			}
			return completed, nil
		}

		currentNode = next
		msg = msg.WithNodeID(currentNode)
	}
}

// Resume is an alias for Execute used when the caller already holds a
// reconstructed message. ResumeFromCheckpoint calls Execute directly after
// reconstruction.
func (r *GraphRunner) Resume(ctx context.Context, g *Graph, message Message) (Message, error) {
	return r.Execute(ctx, g, message)
}

func (r *GraphRunner) resolveNext(g *Graph, currentNode string, hint RouteHint) (string, bool, error) {
	if hint.HasTarget {
		return hint.Target, true, nil
	}

	if edge, ok := g.unconditionalEdge(currentNode); ok {
		return edge.To, true, nil
	}

	if g.hasGuardedEdges(currentNode) {
		return "", false, &RoutingError{
			Message: "guarded edges exist but no decision was recorded",
			NodeID:  currentNode,
		}
	}

	return "", false, nil
}

func (r *GraphRunner) runNodeWithRetry(ctx context.Context, node Node, nodeID, graphID string, msg Message) (NodeOutput, error) {
	policy := r.cfg.retryPolicy
	classifier := r.cfg.retryClassifier
	if classifier == nil {
		classifier = DefaultRetryClassifier
	}

	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		start := nowFunc()
		output, err := executeNodeWithTimeout(ctx, node, NodeContext{Context: ctx, Message: msg, GraphID: graphID}, nodeID, r.cfg.defaultNodeTimeout)
		elapsed := nowFunc().Sub(start)

		if r.cfg.metrics != nil {
			status := "success"
			if err != nil {
				status = "error"
			}
			r.cfg.metrics.RecordStepLatency(msg.RunID(), nodeID, elapsed, status)
		}

		if err == nil {
			return output, nil
		}

		lastErr = err
		if attempt == policy.MaxAttempts || !classifier(err) {
			return output, err
		}

		if r.cfg.metrics != nil {
			r.cfg.metrics.IncrementRetries(msg.RunID(), nodeID, "error")
		}

		delay := computeBackoff(attempt, policy, r.rng)
		select {
		case <-ctx.Done():
			return output, ErrCancelled
		case <-time.After(delay):
		}
	}

	return NodeOutput{}, lastErr
}

// ExecuteWithCheckpoint wraps Execute, persisting a Checkpoint per config
// every SaveEveryNNodes steps and after the run pauses or fails. When the run
// completes and AutoCleanup is set, it deletes the run's checkpoints instead.
func (r *GraphRunner) ExecuteWithCheckpoint(ctx context.Context, g *Graph, message Message, store CheckpointStore, config CheckpointConfig) (Message, error) {
	var onStep stepHook
	if config.SaveEveryNNodes > 0 {
		onStep = func(msg Message, nodeID string, stepNum int) {
			if stepNum%config.SaveEveryNNodes != 0 {
				return
			}
			cp, err := FromMessage(msg, g.ID, msg.RunID())
			if err != nil {
				return
			}
			cp = cp.WithExpiry(nowFunc(), config.TTL)
			if _, err := store.Save(ctx, cp); err == nil && r.cfg.metrics != nil {
				r.cfg.metrics.IncrementCheckpointsSaved(g.ID, "periodic")
			}
		}
	}

	result, runErr := r.executeLoop(ctx, g, message, onStep)

	switch {
	case result.State() == StateWaiting && config.SaveOnHITL:
		cp, err := FromMessage(result, g.ID, result.RunID())
		if err != nil {
			return result, runErr
		}
		cp = cp.WithExpiry(nowFunc(), config.TTL)
		if _, err := store.Save(ctx, cp); err != nil {
			return result, runErr
		}
		if r.cfg.metrics != nil {
			r.cfg.metrics.IncrementCheckpointsSaved(g.ID, "hitl")
		}
	case runErr != nil && config.SaveOnError:
		cp, err := FromMessage(result, g.ID, result.RunID())
		if err == nil {
			cp = cp.WithExpiry(nowFunc(), config.TTL)
			cp.ExecutionState = ExecutionFailed
			if _, err := store.Save(ctx, cp); err == nil && r.cfg.metrics != nil {
				r.cfg.metrics.IncrementCheckpointsSaved(g.ID, "error")
			}
		}
	case runErr == nil && result.State() == StateCompleted && config.AutoCleanup:
		_ = store.DeleteByRun(ctx, result.RunID())
	}

	return result, runErr
}

// ResumeFromCheckpoint loads a checkpoint, reconstructs its message (merging
// in an optional user response), transitions it back to RUNNING, and calls
// Execute.
func (r *GraphRunner) ResumeFromCheckpoint(ctx context.Context, g *Graph, checkpointID string, userResponse *ToolCall, store CheckpointStore, config CheckpointConfig) (Message, error) {
	cp, err := store.Load(ctx, checkpointID)
	if err != nil {
		return Message{}, &CheckpointError{Message: "load failed", CheckpointID: checkpointID, Cause: err}
	}
	if cp.IsExpired(nowFunc()) {
		return Message{}, &CheckpointExpiredError{CheckpointID: checkpointID}
	}
	if cp.Message == nil {
		return Message{}, &CheckpointError{Message: "checkpoint has no message", CheckpointID: checkpointID}
	}

	msg := *cp.Message
	reason := "Resuming from checkpoint"

	if userResponse != nil {
		reason = "Resuming after user response"
		args := userResponse.Function.Arguments

		if text, ok := args.Get("text").AsString(); ok {
			msg = msg.WithDataMerged(ValueMap{"response_text": StringValue(text)})
		}
		if structured, ok := args.Get("structured_data").AsMap(); ok {
			if opt, ok := structured["selected_option"].AsString(); ok {
				msg = msg.WithDataMerged(ValueMap{"selected_option": StringValue(opt)})
			}
		}
		msg = msg.WithDataMerged(ValueMap{"user_response_tool_call": toolCallValue(*userResponse)})
		msg = msg.WithAppendedToolCalls(*userResponse)

		alreadyProcessed := false
		if ids, ok := cp.Metadata.Get("processed_response_ids").AsSeq(); ok {
			for _, v := range ids {
				if s, ok := v.AsString(); ok && s == userResponse.ID {
					alreadyProcessed = true
				}
			}
		}

		if !alreadyProcessed {
			updated := cp
			updated.ResponseToolCall = userResponse
			processed := append([]Value{}, mustSeq(cp.Metadata.Get("processed_response_ids"))...)
			processed = append(processed, StringValue(userResponse.ID))
			updated.Metadata = updated.Metadata.With("processed_response_ids", SeqValue(processed))
			_, _ = store.Save(ctx, updated)

			duration := nowFunc().Sub(cp.Timestamp)
			meta := map[string]interface{}{"duration_ms": duration.Milliseconds()}
			if cp.PendingToolCall != nil {
				meta["original_tool_call_id"] = cp.PendingToolCall.ID
			}
			meta["response_tool_call_id"] = userResponse.ID
			r.emit(emit.Event{RunID: cp.RunID, NodeID: cp.CurrentNodeID, Msg: "ToolCallCompleted", Meta: meta})
		}
	}

	resumed, err := TransitionTo(msg, StateRunning, reason, cp.CurrentNodeID)
	if err != nil {
		return msg, err
	}

	result, runErr := r.Execute(ctx, g, resumed)
	if runErr == nil && result.State() == StateCompleted && config.AutoCleanup {
		_ = store.DeleteByRun(ctx, cp.RunID)
	}
	return result, runErr
}

func mustSeq(v Value) []Value {
	if seq, ok := v.AsSeq(); ok {
		return seq
	}
	return nil
}

func toolCallValue(tc ToolCall) Value {
	args := make(map[string]Value, len(tc.Function.Arguments))
	for k, v := range tc.Function.Arguments {
		args[k] = v
	}
	return MapValue(ValueMap{
		"id":   StringValue(tc.ID),
		"type": StringValue(tc.Type),
		"function": MapValue(ValueMap{
			"name":      StringValue(tc.Function.Name),
			"arguments": MapValue(args),
		}),
	})
}
