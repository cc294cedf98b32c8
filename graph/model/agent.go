package model

import (
	"context"
	"fmt"

	"github.com/flowforge/graphcore/graph"
)

// ChatAgent adapts a ChatModel into the graph.AgentHandler interface
// graph.AgentNode dispatches to. It builds one LLM turn from the message's
// content plus any prior turns recorded under Message.Data()["conversation"],
// and appends whatever tool calls the model requests back onto the returned
// message — the model's internals (prompting, provider selection) stay a
// black box and out of scope here.
type ChatAgent struct {
	Model        ChatModel
	SystemPrompt string
	Tools        []ToolSpec

	// ModelName identifies the model for cost attribution (e.g.
	// "claude-3-5-sonnet-20241022"). Left empty, RecordLLMCall still
	// records the call at zero cost under an empty model key.
	ModelName string
	// NodeID tags recorded calls with the AgentNode this agent runs under.
	NodeID string
	// Cost, if set, receives a RecordLLMCall for every successful Chat call.
	Cost *graph.CostTracker
}

// NewChatAgent constructs a ChatAgent backed by model.
func NewChatAgent(model ChatModel, systemPrompt string, tools []ToolSpec) *ChatAgent {
	return &ChatAgent{Model: model, SystemPrompt: systemPrompt, Tools: tools}
}

// WithCostTracking attaches a cost tracker and the model/node identifiers
// RecordLLMCall needs to attribute usage from this agent's Chat calls.
func (a *ChatAgent) WithCostTracking(tracker *graph.CostTracker, modelName, nodeID string) *ChatAgent {
	a.Cost = tracker
	a.ModelName = modelName
	a.NodeID = nodeID
	return a
}

const conversationKey = "conversation"

// Run implements graph.AgentHandler.
func (a *ChatAgent) Run(ctx context.Context, msg graph.Message) (graph.Message, error) {
	history := a.loadConversation(msg)

	turn := append([]Message{}, history...)
	if a.SystemPrompt != "" && len(history) == 0 {
		turn = append(turn, Message{Role: RoleSystem, Content: a.SystemPrompt})
	}
	turn = append(turn, Message{Role: RoleUser, Content: msg.Content()})

	out, err := a.Model.Chat(ctx, turn, a.Tools)
	if err != nil {
		return msg, fmt.Errorf("chat agent: %w", err)
	}

	if a.Cost != nil {
		if err := a.Cost.RecordLLMCall(a.ModelName, out.Usage.InputTokens, out.Usage.OutputTokens, a.NodeID); err != nil {
			return msg, fmt.Errorf("chat agent: record cost: %w", err)
		}
	}

	turn = append(turn, Message{Role: RoleAssistant, Content: out.Text})
	next := msg.WithContent(out.Text).WithDataMerged(graph.ValueMap{
		conversationKey: SeqFromMessages(turn),
	})

	if len(out.ToolCalls) > 0 {
		calls := make([]graph.ToolCall, len(out.ToolCalls))
		for i, tc := range out.ToolCalls {
			calls[i] = graph.ToolCall{
				ID:   fmt.Sprintf("%s_tc_%d", msg.ID(), i),
				Type: "function",
				Function: graph.ToolCallFunction{
					Name:      tc.Name,
					Arguments: extractArgs(tc.Input),
				},
			}
		}
		next = next.WithAppendedToolCalls(calls...)
	}

	return next, nil
}

func extractArgs(input map[string]interface{}) graph.ValueMap {
	out := make(graph.ValueMap, len(input))
	for k, v := range input {
		out[k] = graph.ValueOf(v)
	}
	return out
}

// SeqFromMessages converts a conversation history into a graph.Value sequence
// suitable for storage under Message.Data()["conversation"].
func SeqFromMessages(msgs []Message) graph.Value {
	items := make([]graph.Value, len(msgs))
	for i, m := range msgs {
		items[i] = graph.MapValue(graph.ValueMap{
			"role":    graph.StringValue(m.Role),
			"content": graph.StringValue(m.Content),
		})
	}
	return graph.SeqValue(items)
}

// loadConversation reconstructs prior turns from Message.Data()["conversation"].
func (a *ChatAgent) loadConversation(msg graph.Message) []Message {
	seq, ok := msg.Data().Get(conversationKey).AsSeq()
	if !ok {
		return nil
	}
	out := make([]Message, 0, len(seq))
	for _, v := range seq {
		m, ok := v.AsMap()
		if !ok {
			continue
		}
		role, _ := m["role"].AsString()
		content, _ := m["content"].AsString()
		out = append(out, Message{Role: role, Content: content})
	}
	return out
}
