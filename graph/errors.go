package graph

import (
	"errors"
	"fmt"
)

// ErrCancelled is returned when a run is cancelled by the caller. It carries
// no payload, so it is a sentinel rather than a struct type.
var ErrCancelled = errors.New("run cancelled")

// ValidationError indicates invalid inputs at an API boundary.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return "validation error: " + e.Message }
func (e *ValidationError) Code() string  { return "VALIDATION_ERROR" }

// NodeNotFoundError indicates a graph references a node absent from its
// registry.
type NodeNotFoundError struct {
	NodeID string
}

func (e *NodeNotFoundError) Error() string {
	return fmt.Sprintf("node not found: %s", e.NodeID)
}
func (e *NodeNotFoundError) Code() string { return "NODE_NOT_FOUND" }

// ExecutionError indicates a node handler failed.
type ExecutionError struct {
	Message string
	NodeID  string
	Cause   error
}

func (e *ExecutionError) Error() string {
	if e.NodeID != "" {
		return fmt.Sprintf("node %s: %s", e.NodeID, e.Message)
	}
	return e.Message
}
func (e *ExecutionError) Code() string  { return "EXECUTION_ERROR" }
func (e *ExecutionError) Unwrap() error { return e.Cause }

// RoutingError indicates a decision result had no mapping and no fallback,
// or that guarded edges left the runner with no way to pick a successor.
type RoutingError struct {
	Message          string
	EngineID         string
	ResultID         string
	NodeID           string
	AvailableTargets []string
}

func (e *RoutingError) Error() string {
	return fmt.Sprintf("routing error at node %s: %s (result=%q available=%v)",
		e.NodeID, e.Message, e.ResultID, e.AvailableTargets)
}
func (e *RoutingError) Code() string { return "ROUTING_ERROR" }

// CheckpointError indicates a checkpoint save/load/delete failure.
type CheckpointError struct {
	Message      string
	CheckpointID string
	Cause        error
}

func (e *CheckpointError) Error() string {
	if e.CheckpointID != "" {
		return fmt.Sprintf("checkpoint %s: %s", e.CheckpointID, e.Message)
	}
	return e.Message
}
func (e *CheckpointError) Code() string  { return "CHECKPOINT_ERROR" }
func (e *CheckpointError) Unwrap() error { return e.Cause }

// CheckpointExpiredError indicates a resume attempt occurred past
// Checkpoint.expiresAt.
type CheckpointExpiredError struct {
	CheckpointID string
}

func (e *CheckpointExpiredError) Error() string {
	return fmt.Sprintf("checkpoint %s expired", e.CheckpointID)
}
func (e *CheckpointExpiredError) Code() string { return "CHECKPOINT_EXPIRED" }

// InvalidTransitionError is a state-machine rule violation. By convention
// this is a programmer error: it aborts the run and is returned unwrapped to
// the caller.
type InvalidTransitionError struct {
	From State
	To   State
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition: %s -> %s", e.From, e.To)
}
func (e *InvalidTransitionError) Code() string { return "INVALID_TRANSITION" }

// codeOf extracts the machine-readable error kind from any of this
// package's error types, falling back to "UNKNOWN" for foreign errors.
func codeOf(err error) string {
	type coder interface{ Code() string }
	var c coder
	if errors.As(err, &c) {
		return c.Code()
	}
	if errors.Is(err, ErrCancelled) {
		return "CANCELLED"
	}
	return "UNKNOWN"
}
