package graph

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"
)

// ExecutionState is the graph-level execution state recorded on a
// Checkpoint, distinct from a Message's State.
type ExecutionState string

const (
	ExecutionRunning         ExecutionState = "RUNNING"
	ExecutionWaitingForHuman ExecutionState = "WAITING_FOR_HUMAN"
	ExecutionCompleted       ExecutionState = "COMPLETED"
	ExecutionFailed          ExecutionState = "FAILED"
	ExecutionCancelled       ExecutionState = "CANCELLED"
)

// Checkpoint is a durable snapshot of a paused or terminal run, per
// a graph run.
type Checkpoint struct {
	ID            string
	RunID         string
	GraphID       string
	CurrentNodeID string

	State    ValueMap
	Metadata ValueMap

	// Message is the full message at checkpoint time. Absent only for
	// malformed/partial checkpoints, which fail to reconstruct.
	Message        *Message
	ExecutionState ExecutionState

	// PendingToolCall is the most recent HITL request tool call on Message,
	// or nil if none exists.
	PendingToolCall *ToolCall
	// ResponseToolCall is set only after a resume with a user response.
	ResponseToolCall *ToolCall

	Timestamp time.Time
	ExpiresAt *time.Time
}

// IsExpired reports whether c has an ExpiresAt at or before now.
// A checkpoint with no ExpiresAt never expires.
func (c Checkpoint) IsExpired(now time.Time) bool {
	return c.ExpiresAt != nil && !now.Before(*c.ExpiresAt)
}

// checkpointIDRand is the source for the random suffix of generated
// checkpoint ids. It is seeded with a fixed value, so the sequence of
// suffixes is the same in every process.
var checkpointIDRand = rand.New(rand.NewSource(1))

// newCheckpointID generates an id of the form "cp_<epochMillis>_<rand below
// 1e6>".
func newCheckpointID(now time.Time) string {
	return fmt.Sprintf("cp_%d_%06d", now.UnixMilli(), checkpointIDRand.Intn(1_000_000))
}

// executionStateFor maps a Message's lifecycle State to the graph-level
// ExecutionState recorded on a checkpoint.
func executionStateFor(m Message) ExecutionState {
	switch m.State() {
	case StateWaiting:
		return ExecutionWaitingForHuman
	case StateCompleted:
		return ExecutionCompleted
	case StateFailed:
		return ExecutionFailed
	default:
		return ExecutionRunning
	}
}

// FromMessage builds a Checkpoint from a message at the point a run has
// paused or terminated. Its pendingToolCall is the most recent HITL tool
// call on the message.
//
// It fails if m is WAITING with no nodeId, since such a message violates the
// invariant that a WAITING message must always have a non-null nodeId
// and cannot be resumed without one.
func FromMessage(m Message, graphID, runID string) (Checkpoint, error) {
	if m.State() == StateWaiting && m.NodeID() == "" {
		return Checkpoint{}, &ValidationError{Message: "cannot checkpoint a WAITING message with no nodeId"}
	}

	msg := m
	cp := Checkpoint{
		ID:             newCheckpointID(nowFunc()),
		RunID:          runID,
		GraphID:        graphID,
		CurrentNodeID:  m.NodeID(),
		Message:        &msg,
		ExecutionState: executionStateFor(m),
		Timestamp:      nowFunc(),
	}
	if tc, ok := m.LastHITLRequest(); ok {
		cp.PendingToolCall = &tc
	}
	return cp, nil
}

// WithExpiry returns a copy of c with ExpiresAt set to now + ttl. A
// non-positive ttl leaves c with no expiry.
func (c Checkpoint) WithExpiry(now time.Time, ttl time.Duration) Checkpoint {
	if ttl <= 0 {
		c.ExpiresAt = nil
		return c
	}
	exp := now.Add(ttl)
	c.ExpiresAt = &exp
	return c
}

// CheckpointConfig controls when executeWithCheckpoint persists state and
// how long it retains it.
type CheckpointConfig struct {
	SaveOnHITL      bool
	SaveEveryNNodes int // 0 disables periodic saves
	SaveOnError     bool
	TTL             time.Duration
	AutoCleanup     bool
}

// CheckpointConfigDefault saves on HITL only, with a 24h TTL and auto
// cleanup, matching the DEFAULT preset.
var CheckpointConfigDefault = CheckpointConfig{
	SaveOnHITL:  true,
	TTL:         24 * time.Hour,
	AutoCleanup: true,
}

// CheckpointConfigAggressive saves after every node and on error, with a
// 72h TTL and auto cleanup.
var CheckpointConfigAggressive = CheckpointConfig{
	SaveOnHITL:      true,
	SaveEveryNNodes: 1,
	SaveOnError:     true,
	TTL:             72 * time.Hour,
	AutoCleanup:     true,
}

// CheckpointConfigMinimal saves on HITL only, with a 1h TTL and auto
// cleanup.
var CheckpointConfigMinimal = CheckpointConfig{
	SaveOnHITL:  true,
	TTL:         time.Hour,
	AutoCleanup: true,
}

// CheckpointConfigDisabled never saves and never cleans up.
var CheckpointConfigDisabled = CheckpointConfig{}

// CheckpointStore persists Checkpoints, indexed by runId and graphId, per
// Implementations live in the store subpackage (memory,
// sqlite, mysql); the interface is declared here so the runner can depend
// on it without the store package depending back on graph.
type CheckpointStore interface {
	Save(ctx context.Context, cp Checkpoint) (string, error)
	Load(ctx context.Context, id string) (Checkpoint, error)
	ListByRun(ctx context.Context, runID string) ([]Checkpoint, error)
	ListByGraph(ctx context.Context, graphID string) ([]Checkpoint, error)
	Delete(ctx context.Context, id string) error
	DeleteByRun(ctx context.Context, runID string) error
	// DeleteExpired removes all checkpoints with ExpiresAt <= now, returning
	// the count removed.
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}

// ErrCheckpointNotFound is the sentinel cause wrapped by a CheckpointError
// when Load/Delete finds no checkpoint with the given id.
var ErrCheckpointNotFound = errors.New("checkpoint not found")
