package graph

import "time"

// MessageType identifies the kind of payload a Message carries.
type MessageType string

const (
	TypeText       MessageType = "TEXT"
	TypeToolCall   MessageType = "TOOL_CALL"
	TypeToolResult MessageType = "TOOL_RESULT"
	TypeSystem     MessageType = "SYSTEM"
	TypeError      MessageType = "ERROR"
)

// State is one of the five lifecycle states a Message can occupy.
type State string

const (
	StateReady     State = "READY"
	StateRunning   State = "RUNNING"
	StateWaiting   State = "WAITING"
	StateCompleted State = "COMPLETED"
	StateFailed    State = "FAILED"
)

// canTransitionTo reports whether a legal StateTransition exists from s to
// target:
//
//	READY     -> RUNNING
//	RUNNING   -> WAITING | COMPLETED | FAILED
//	WAITING   -> RUNNING | FAILED
//	COMPLETED, FAILED are terminal.
func (s State) canTransitionTo(target State) bool {
	switch s {
	case StateReady:
		return target == StateRunning
	case StateRunning:
		return target == StateWaiting || target == StateCompleted || target == StateFailed
	case StateWaiting:
		return target == StateRunning || target == StateFailed
	default:
		return false
	}
}

// StateTransition is one append-only entry in a Message's stateHistory.
type StateTransition struct {
	From      State
	To        State
	Timestamp time.Time
	Reason    string
	NodeID    string
}

// ToolCall is a structured record of an attempted or completed external
// operation carried on a Message.
type ToolCall struct {
	ID       string
	Type     string // always "function"
	Function ToolCallFunction
}

// ToolCallFunction is the function-invocation payload of a ToolCall.
type ToolCallFunction struct {
	Name      string
	Arguments ValueMap
}

// Well-known HITL function names.
const (
	FuncRequestUserInput        = "request_user_input"
	FuncRequestUserSelection    = "request_user_selection"
	FuncRequestUserConfirmation = "request_user_confirmation"
	FuncUserResponse            = "user_response"
)

// hitlFuncNames lists the three request-* function names that make a message
// a pending HITL message and that Checkpoint.pendingToolCall extraction scans
// for.
var hitlFuncNames = map[string]bool{
	FuncRequestUserInput:        true,
	FuncRequestUserSelection:    true,
	FuncRequestUserConfirmation: true,
}

// Message is the immutable unit of work that flows through a Graph.
//
// Every mutation produces a new Message; stateHistory is append-only and is
// the sole record of truth for prior transitions.
// Message has no exported mutable fields — callers read it via the exported
// accessor methods and build new values via the With* methods below.
type Message struct {
	id       string
	from     string
	content  string
	typ      MessageType
	data     ValueMap
	metadata ValueMap
	toolCalls []ToolCall
	state    State
	history  []StateTransition

	graphID string
	nodeID  string
	runID   string

	agentContext ValueMap
}

// NewMessage constructs a Message in the READY state with no history.
func NewMessage(id, from, content string, typ MessageType) Message {
	return Message{
		id:      id,
		from:    from,
		content: content,
		typ:     typ,
		state:   StateReady,
	}
}

func (m Message) ID() string             { return m.id }
func (m Message) From() string           { return m.from }
func (m Message) Content() string        { return m.content }
func (m Message) Type() MessageType      { return m.typ }
func (m Message) Data() ValueMap         { return m.data }
func (m Message) Metadata() ValueMap     { return m.metadata }
func (m Message) ToolCalls() []ToolCall  { return m.toolCalls }
func (m Message) State() State           { return m.state }
func (m Message) StateHistory() []StateTransition {
	out := make([]StateTransition, len(m.history))
	copy(out, m.history)
	return out
}
func (m Message) GraphID() string { return m.graphID }
func (m Message) NodeID() string  { return m.nodeID }
func (m Message) RunID() string   { return m.runID }

// AgentContext returns the optional immutable key/value mapping carrying
// tenant/user/session/correlation identifiers, or nil if none was attached.
func (m Message) AgentContext() ValueMap { return m.agentContext }

// HasAgentContext reports whether an AgentContext is attached.
func (m Message) HasAgentContext() bool { return m.agentContext != nil }

// WithContent returns a copy of m with content replaced.
func (m Message) WithContent(content string) Message {
	m.content = content
	return m
}

// WithData returns a copy of m with data replaced wholesale.
func (m Message) WithData(data ValueMap) Message {
	m.data = data
	return m
}

// WithDataMerged returns a copy of m with delta merged into data.
func (m Message) WithDataMerged(delta ValueMap) Message {
	m.data = m.data.Merge(delta)
	return m
}

// WithMetadata returns a copy of m with metadata replaced wholesale.
func (m Message) WithMetadata(metadata ValueMap) Message {
	m.metadata = metadata
	return m
}

// WithMetadataMerged returns a copy of m with delta merged into metadata.
func (m Message) WithMetadataMerged(delta ValueMap) Message {
	m.metadata = m.metadata.Merge(delta)
	return m
}

// WithToolCalls returns a copy of m with toolCalls replaced wholesale.
func (m Message) WithToolCalls(calls []ToolCall) Message {
	m.toolCalls = calls
	return m
}

// WithAppendedToolCalls returns a copy of m with calls appended to the
// existing tool call sequence.
func (m Message) WithAppendedToolCalls(calls ...ToolCall) Message {
	next := make([]ToolCall, len(m.toolCalls)+len(calls))
	copy(next, m.toolCalls)
	copy(next[len(m.toolCalls):], calls)
	m.toolCalls = next
	return m
}

// WithGraphContext returns a copy of m with graphID/nodeID/runID set.
func (m Message) WithGraphContext(graphID, nodeID, runID string) Message {
	m.graphID = graphID
	m.nodeID = nodeID
	m.runID = runID
	return m
}

// WithNodeID returns a copy of m pointed at a different current node.
func (m Message) WithNodeID(nodeID string) Message {
	m.nodeID = nodeID
	return m
}

// WithAgentContext returns a copy of m carrying the given AgentContext.
func (m Message) WithAgentContext(ctx ValueMap) Message {
	m.agentContext = ctx
	return m
}

// IsPendingHITL reports whether m has a ToolCall whose function name is one
// of the three request-* names with no matching user_response call — i.e. a
// pending human-in-the-loop message.
func (m Message) IsPendingHITL() bool {
	hasRequest := false
	hasResponse := false
	for _, tc := range m.toolCalls {
		if hitlFuncNames[tc.Function.Name] {
			hasRequest = true
		}
		if tc.Function.Name == FuncUserResponse {
			hasResponse = true
		}
	}
	return hasRequest && !hasResponse
}

// LastHITLRequest returns the last (most recent) ToolCall on m whose
// function name is one of the three request-* names, following the
// extraction rule ("last" handles retry/loop situations where multiple
// pending tool calls accumulate).
func (m Message) LastHITLRequest() (ToolCall, bool) {
	for i := len(m.toolCalls) - 1; i >= 0; i-- {
		if hitlFuncNames[m.toolCalls[i].Function.Name] {
			return m.toolCalls[i], true
		}
	}
	return ToolCall{}, false
}

// MessageSnapshot is the flat, exported mirror of Message's private fields,
// used by graph/serialize to round-trip a Message through a Checkpoint
// without exposing mutable setters on Message itself.
type MessageSnapshot struct {
	ID           string
	From         string
	Content      string
	Type         MessageType
	Data         ValueMap
	Metadata     ValueMap
	ToolCalls    []ToolCall
	State        State
	History      []StateTransition
	GraphID      string
	NodeID       string
	RunID        string
	AgentContext ValueMap
}

// Snapshot captures m's full internal state for serialization.
func (m Message) Snapshot() MessageSnapshot {
	return MessageSnapshot{
		ID:           m.id,
		From:         m.from,
		Content:      m.content,
		Type:         m.typ,
		Data:         m.data,
		Metadata:     m.metadata,
		ToolCalls:    m.toolCalls,
		State:        m.state,
		History:      m.history,
		GraphID:      m.graphID,
		NodeID:       m.nodeID,
		RunID:        m.runID,
		AgentContext: m.agentContext,
	}
}

// MessageFromSnapshot reconstructs a Message from a MessageSnapshot,
// bypassing the state machine's transition validation since the snapshot
// represents an already-valid history read back from storage.
func MessageFromSnapshot(s MessageSnapshot) Message {
	return Message{
		id:           s.ID,
		from:         s.From,
		content:      s.Content,
		typ:          s.Type,
		data:         s.Data,
		metadata:     s.Metadata,
		toolCalls:    s.ToolCalls,
		state:        s.State,
		history:      s.History,
		graphID:      s.GraphID,
		nodeID:       s.NodeID,
		runID:        s.RunID,
		agentContext: s.AgentContext,
	}
}
