// Package serialize encodes and decodes Checkpoints to and from their wire
// JSON form, using sjson/gjson so that URIs and SPARQL-like
// payloads carried in message content or tool arguments are never
// HTML-escaped.
package serialize

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/flowforge/graphcore/graph"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

const timeLayout = time.RFC3339Nano

// Encode serializes cp to its JSON wire form. pretty selects human-readable
// indentation; compact is used otherwise.
func Encode(cp graph.Checkpoint, pretty bool) ([]byte, error) {
	buf := []byte("{}")
	var err error

	set := func(path string, value interface{}) {
		if err != nil {
			return
		}
		buf, err = sjson.SetBytes(buf, path, value)
	}
	setRaw := func(path string, raw []byte) {
		if err != nil {
			return
		}
		buf, err = sjson.SetRawBytes(buf, path, raw)
	}

	set("id", cp.ID)
	set("runId", cp.RunID)
	set("graphId", cp.GraphID)
	set("currentNodeId", cp.CurrentNodeID)
	set("executionState", string(cp.ExecutionState))
	set("timestamp", cp.Timestamp.UTC().Format(timeLayout))

	if cp.ExpiresAt != nil {
		set("expiresAt", cp.ExpiresAt.UTC().Format(timeLayout))
	} else {
		setRaw("expiresAt", []byte("null"))
	}

	stateRaw, e := marshalNoEscape(valueMapOrEmpty(cp.State))
	if e != nil && err == nil {
		err = e
	}
	setRaw("state", stateRaw)

	metadataRaw, e := marshalNoEscape(valueMapOrEmpty(cp.Metadata))
	if e != nil && err == nil {
		err = e
	}
	setRaw("metadata", metadataRaw)

	if cp.Message != nil {
		msgRaw, e := marshalNoEscape(messageDTOFrom(*cp.Message))
		if e != nil && err == nil {
			err = e
		}
		setRaw("message", msgRaw)
	} else {
		setRaw("message", []byte("null"))
	}

	if cp.PendingToolCall != nil {
		tcRaw, e := marshalNoEscape(toolCallDTOFrom(*cp.PendingToolCall))
		if e != nil && err == nil {
			err = e
		}
		setRaw("pendingToolCall", tcRaw)
	} else {
		setRaw("pendingToolCall", []byte("null"))
	}

	if cp.ResponseToolCall != nil {
		tcRaw, e := marshalNoEscape(toolCallDTOFrom(*cp.ResponseToolCall))
		if e != nil && err == nil {
			err = e
		}
		setRaw("responseToolCall", tcRaw)
	} else {
		setRaw("responseToolCall", []byte("null"))
	}

	if err != nil {
		return nil, err
	}

	if !pretty {
		return buf, nil
	}

	var indented bytes.Buffer
	if err := json.Indent(&indented, buf, "", "  "); err != nil {
		return buf, nil
	}
	return indented.Bytes(), nil
}

// Decode parses data (compact or pretty, per Encode's wire form) back into a
// Checkpoint. Unknown fields are ignored; integers that fit in int64 decode
// back as int64 Values (graph.Value's UnmarshalJSON), all other numbers as
// float64.
func Decode(data []byte) (graph.Checkpoint, error) {
	root := gjson.ParseBytes(data)

	cp := graph.Checkpoint{
		ID:            root.Get("id").String(),
		RunID:         root.Get("runId").String(),
		GraphID:       root.Get("graphId").String(),
		CurrentNodeID: root.Get("currentNodeId").String(),
		ExecutionState: graph.ExecutionState(root.Get("executionState").String()),
	}

	if ts := root.Get("timestamp"); ts.Exists() && ts.Type == gjson.String {
		if t, err := time.Parse(timeLayout, ts.String()); err == nil {
			cp.Timestamp = t
		}
	}

	if exp := root.Get("expiresAt"); exp.Exists() && exp.Type == gjson.String {
		if t, err := time.Parse(timeLayout, exp.String()); err == nil {
			cp.ExpiresAt = &t
		}
	}

	if state := root.Get("state"); state.Exists() && state.Type != gjson.Null {
		var m graph.ValueMap
		if err := json.Unmarshal([]byte(state.Raw), &m); err == nil {
			cp.State = m
		}
	}

	if meta := root.Get("metadata"); meta.Exists() && meta.Type != gjson.Null {
		var m graph.ValueMap
		if err := json.Unmarshal([]byte(meta.Raw), &m); err == nil {
			cp.Metadata = m
		}
	}

	if msg := root.Get("message"); msg.Exists() && msg.Type != gjson.Null {
		var dto messageDTO
		if err := json.Unmarshal([]byte(msg.Raw), &dto); err == nil {
			m := dto.toMessage()
			cp.Message = &m
		}
	}

	if tc := root.Get("pendingToolCall"); tc.Exists() && tc.Type != gjson.Null {
		var dto toolCallDTO
		if err := json.Unmarshal([]byte(tc.Raw), &dto); err == nil {
			call := dto.toToolCall()
			cp.PendingToolCall = &call
		}
	}

	if tc := root.Get("responseToolCall"); tc.Exists() && tc.Type != gjson.Null {
		var dto toolCallDTO
		if err := json.Unmarshal([]byte(tc.Raw), &dto); err == nil {
			call := dto.toToolCall()
			cp.ResponseToolCall = &call
		}
	}

	return cp, nil
}

func valueMapOrEmpty(m graph.ValueMap) graph.ValueMap {
	if m == nil {
		return graph.ValueMap{}
	}
	return m
}

// marshalNoEscape marshals v the same way encoding/json does, but with HTML
// escaping disabled, so URIs and SPARQL-like payloads (which use "<", ">",
// "&") survive intact.
func marshalNoEscape(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

type toolCallDTO struct {
	ID       string          `json:"id"`
	Type     string          `json:"type"`
	Function toolCallFuncDTO `json:"function"`
}

type toolCallFuncDTO struct {
	Name      string          `json:"name"`
	Arguments graph.ValueMap  `json:"arguments"`
}

func toolCallDTOFrom(tc graph.ToolCall) toolCallDTO {
	return toolCallDTO{
		ID:   tc.ID,
		Type: tc.Type,
		Function: toolCallFuncDTO{
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		},
	}
}

func (d toolCallDTO) toToolCall() graph.ToolCall {
	return graph.ToolCall{
		ID:   d.ID,
		Type: d.Type,
		Function: graph.ToolCallFunction{
			Name:      d.Function.Name,
			Arguments: d.Function.Arguments,
		},
	}
}

type stateTransitionDTO struct {
	From      graph.State `json:"from"`
	To        graph.State `json:"to"`
	Timestamp time.Time   `json:"timestamp"`
	Reason    string      `json:"reason,omitempty"`
	NodeID    string      `json:"nodeId,omitempty"`
}

type messageDTO struct {
	ID           string               `json:"id"`
	From         string               `json:"from"`
	Content      string               `json:"content"`
	Type         graph.MessageType    `json:"type"`
	Data         graph.ValueMap       `json:"data"`
	Metadata     graph.ValueMap       `json:"metadata"`
	ToolCalls    []toolCallDTO        `json:"toolCalls"`
	State        graph.State          `json:"state"`
	History      []stateTransitionDTO `json:"stateHistory"`
	GraphID      string               `json:"graphId"`
	NodeID       string               `json:"nodeId"`
	RunID        string               `json:"runId"`
	AgentContext graph.ValueMap       `json:"agentContext,omitempty"`
}

func messageDTOFrom(m graph.Message) messageDTO {
	s := m.Snapshot()
	calls := make([]toolCallDTO, len(s.ToolCalls))
	for i, tc := range s.ToolCalls {
		calls[i] = toolCallDTOFrom(tc)
	}
	history := make([]stateTransitionDTO, len(s.History))
	for i, t := range s.History {
		history[i] = stateTransitionDTO{From: t.From, To: t.To, Timestamp: t.Timestamp, Reason: t.Reason, NodeID: t.NodeID}
	}
	return messageDTO{
		ID:           s.ID,
		From:         s.From,
		Content:      s.Content,
		Type:         s.Type,
		Data:         s.Data,
		Metadata:     s.Metadata,
		ToolCalls:    calls,
		State:        s.State,
		History:      history,
		GraphID:      s.GraphID,
		NodeID:       s.NodeID,
		RunID:        s.RunID,
		AgentContext: s.AgentContext,
	}
}

func (d messageDTO) toMessage() graph.Message {
	calls := make([]graph.ToolCall, len(d.ToolCalls))
	for i, tc := range d.ToolCalls {
		calls[i] = tc.toToolCall()
	}
	history := make([]graph.StateTransition, len(d.History))
	for i, t := range d.History {
		history[i] = graph.StateTransition{From: t.From, To: t.To, Timestamp: t.Timestamp, Reason: t.Reason, NodeID: t.NodeID}
	}
	return graph.MessageFromSnapshot(graph.MessageSnapshot{
		ID:           d.ID,
		From:         d.From,
		Content:      d.Content,
		Type:         d.Type,
		Data:         d.Data,
		Metadata:     d.Metadata,
		ToolCalls:    calls,
		State:        d.State,
		History:      history,
		GraphID:      d.GraphID,
		NodeID:       d.NodeID,
		RunID:        d.RunID,
		AgentContext: d.AgentContext,
	})
}
