package graph

import (
	"context"
	"fmt"
	"time"

	"github.com/flowforge/graphcore/graph/tool"
)

// NodeContext carries everything a Node needs to run: the current message,
// the owning graph's id, and (via ctx.Message.AgentContext()) any tenant/
// user/session/correlation identifiers to propagate.
type NodeContext struct {
	Context context.Context
	Message Message
	GraphID string
}

// RouteHint is a node's opinion about where execution should go next. An
// empty RouteHint (HasTarget == false) tells the runner to consult the
// graph's edge map instead.
type RouteHint struct {
	Target    string
	HasTarget bool
}

// Goto returns a RouteHint pointing at the given node id.
func Goto(nodeID string) RouteHint { return RouteHint{Target: nodeID, HasTarget: true} }

// NoHint returns a RouteHint that defers routing to the graph's edge map.
func NoHint() RouteHint { return RouteHint{} }

// NodeOutput is the result of a Node's Run: the transformed message plus a
// routing hint.
type NodeOutput struct {
	Message Message
	Hint    RouteHint
}

// Node is the uniform contract every graph node satisfies: agent, tool,
// decision, or human. The four built-in constructors below (NewAgentNode,
// NewToolNode, NewDecisionNode, NewHumanNode) cover these variants; callers
// may also implement Node directly for custom node kinds.
type Node interface {
	Run(ctx NodeContext) (NodeOutput, error)
}

// NodeFunc adapts a plain function to the Node interface.
type NodeFunc func(ctx NodeContext) (NodeOutput, error)

func (f NodeFunc) Run(ctx NodeContext) (NodeOutput, error) { return f(ctx) }

// AgentHandler is the opaque interface an AgentNode dispatches to. Its
// internals (prompt construction, LLM calls, persona transforms) are out of
// scope here; graph/model.ChatAgent is one concrete implementation
// backed by a ChatModel.
type AgentHandler interface {
	Run(ctx context.Context, msg Message) (Message, error)
}

// AgentHandlerFunc adapts a plain function to AgentHandler.
type AgentHandlerFunc func(ctx context.Context, msg Message) (Message, error)

func (f AgentHandlerFunc) Run(ctx context.Context, msg Message) (Message, error) { return f(ctx, msg) }

// AgentNode wraps an AgentHandler, projecting the message into it unchanged
// and returning whatever message it replies with. The
// agent may itself append tool calls to the returned message.
type AgentNode struct {
	ID      string
	Handler AgentHandler
}

// NewAgentNode constructs an AgentNode.
func NewAgentNode(id string, handler AgentHandler) *AgentNode {
	return &AgentNode{ID: id, Handler: handler}
}

func (n *AgentNode) Run(ctx NodeContext) (NodeOutput, error) {
	replied, err := n.Handler.Run(ctx.Context, ctx.Message)
	if err != nil {
		return NodeOutput{}, &ExecutionError{Message: err.Error(), NodeID: n.ID, Cause: err}
	}
	return NodeOutput{Message: replied, Hint: NoHint()}, nil
}

// ToolParamProjection is a pure function message -> tool parameters. The
// zero value (nil) defaults to message.Data().
type ToolParamProjection func(msg Message) map[string]interface{}

// Conventional AgentContext keys propagated into tool calls alongside
// projected parameters ("tenant/user/correlation
// identifiers are also passed").
const (
	AgentContextTenantID      = "tenant_id"
	AgentContextUserID        = "user_id"
	AgentContextSessionID     = "session_id"
	AgentContextCorrelationID = "correlation_id"
)

var propagatedAgentContextKeys = []string{
	AgentContextTenantID, AgentContextUserID, AgentContextSessionID, AgentContextCorrelationID,
}

// ToolNode wraps a tool.Tool plus a parameter projection from the message's
// data and agentContext.
type ToolNode struct {
	ID         string
	Tool       tool.Tool
	Projection ToolParamProjection
}

// NewToolNode constructs a ToolNode. A nil projection defaults to
// message.Data().
func NewToolNode(id string, t tool.Tool, projection ToolParamProjection) *ToolNode {
	return &ToolNode{ID: id, Tool: t, Projection: projection}
}

func (n *ToolNode) Run(ctx NodeContext) (NodeOutput, error) {
	var params map[string]interface{}
	if n.Projection != nil {
		params = n.Projection(ctx.Message)
	} else if data := ctx.Message.Data(); data != nil {
		params = MapValue(data.Clone()).Interface().(map[string]interface{})
	}
	if params == nil {
		params = map[string]interface{}{}
	}

	if ac := ctx.Message.AgentContext(); ac != nil {
		for _, key := range propagatedAgentContextKeys {
			if v, ok := ac[key]; ok {
				params[key] = v.Interface()
			}
		}
	}

	result, err := n.Tool.Call(ctx.Context, params)
	success := err == nil

	toolResult := ValueMap{
		"toolName": StringValue(n.Tool.Name()),
		"success":  BoolValue(success),
	}
	if success {
		toolResult["result"] = ValueOf(result)
	} else {
		toolResult["error"] = StringValue(err.Error())
	}

	next := ctx.Message.WithDataMerged(ValueMap{"toolResult": MapValue(toolResult)})

	if err != nil {
		return NodeOutput{Message: next}, &ExecutionError{Message: err.Error(), NodeID: n.ID, Cause: err}
	}
	return NodeOutput{Message: next, Hint: NoHint()}, nil
}

// HumanNode declares a human-in-the-loop pause point: a prompt, optional
// selection options, optional validation rules, and an optional timeout.
type HumanNode struct {
	ID             string
	Prompt         string
	Kind           string // FuncRequestUserInput | FuncRequestUserSelection | FuncRequestUserConfirmation
	SelectionItems []SelectionItem
	SelectionType  string // "single" | "multiple"
	AllowFreeText  bool
	Timeout        time.Duration
}

// SelectionItem is one option offered by a request_user_selection ToolCall.
type SelectionItem struct {
	ID          string
	Label       string
	Description string
}

// NewHumanNode constructs a HumanNode that emits a request_user_input call.
func NewHumanNode(id, prompt string) *HumanNode {
	return &HumanNode{ID: id, Prompt: prompt, Kind: FuncRequestUserInput, AllowFreeText: true}
}

// NewHumanSelectionNode constructs a HumanNode that emits a
// request_user_selection call.
func NewHumanSelectionNode(id, prompt string, items []SelectionItem, selectionType string) *HumanNode {
	return &HumanNode{
		ID:             id,
		Prompt:         prompt,
		Kind:           FuncRequestUserSelection,
		SelectionItems: items,
		SelectionType:  selectionType,
	}
}

// NewHumanConfirmationNode constructs a HumanNode that emits a
// request_user_confirmation call.
func NewHumanConfirmationNode(id, prompt string) *HumanNode {
	return &HumanNode{ID: id, Prompt: prompt, Kind: FuncRequestUserConfirmation}
}

func (n *HumanNode) Run(ctx NodeContext) (NodeOutput, error) {
	// A resume appends the user's response as the message's most recent tool
	// call before re-entering this node; in that case the pause has already
	// been satisfied and execution should proceed to the next node instead
	// of asking again.
	if calls := ctx.Message.ToolCalls(); len(calls) > 0 && calls[len(calls)-1].Function.Name == FuncUserResponse {
		return NodeOutput{Message: ctx.Message, Hint: NoHint()}, nil
	}

	args := ValueMap{}
	switch n.Kind {
	case FuncRequestUserSelection:
		items := make([]Value, len(n.SelectionItems))
		for i, it := range n.SelectionItems {
			m := ValueMap{"id": StringValue(it.ID), "label": StringValue(it.Label)}
			if it.Description != "" {
				m["description"] = StringValue(it.Description)
			}
			items[i] = MapValue(m)
		}
		args["items"] = SeqValue(items)
		args["prompt_message"] = StringValue(n.Prompt)
		if n.SelectionType != "" {
			args["selection_type"] = StringValue(n.SelectionType)
		}
	case FuncRequestUserConfirmation:
		args["message"] = StringValue(n.Prompt)
	default:
		args["prompt_message"] = StringValue(n.Prompt)
	}

	call := ToolCall{
		ID:   fmt.Sprintf("hitl_%s_%d", n.ID, nowFunc().UnixNano()),
		Type: "function",
		Function: ToolCallFunction{
			Name:      n.Kind,
			Arguments: args,
		},
	}

	withCall := ctx.Message.WithAppendedToolCalls(call)
	waiting, err := TransitionTo(withCall, StateWaiting, "HITL required", n.ID)
	if err != nil {
		return NodeOutput{}, err
	}

	return NodeOutput{Message: waiting, Hint: NoHint()}, nil
}
