package graph

import (
	"context"
	"time"
)

// Well-known resultId values for the standard and delegation DecisionResult
// variants.
const (
	ResultYes              = "YES"
	ResultNo               = "NO"
	ResultSkip             = "SKIP"
	ResultRetry            = "RETRY"
	ResultError            = "ERROR"
	ResultDefault          = "DEFAULT"
	ResultUncertain        = "UNCERTAIN"
	ResultDelegateToLLM    = "DELEGATE_TO_LLM"
	ResultDelegateToAgent  = "DELEGATE_TO_AGENT"
	ResultReorchestrate    = "REORCHESTRATE"
	ResultEscalate         = "ESCALATE"
	ResultOptionSelected   = "OPTION_SELECTED"
	decisionMetadataPrefix = "_decision."
)

// DecisionResult is the sealed set of routing decisions a DecisionEngine can
// produce. Its resultId is the string edges match against; description and
// metadata are carried through to the message's data under "_decision*" keys.
// The zero value is not meaningful; construct one with the
// package-level factories (Yes, No, ..., Selection.Option, Custom).
type DecisionResult struct {
	resultID    string
	description string
	metadata    ValueMap
}

func (r DecisionResult) ResultID() string      { return r.resultID }
func (r DecisionResult) Description() string   { return r.description }
func (r DecisionResult) Metadata() ValueMap    { return r.metadata }

func variant(resultID, description string, metadata ValueMap) DecisionResult {
	return DecisionResult{resultID: resultID, description: description, metadata: metadata}
}

// Yes, No, Skip, Retry, ErrorResult, DefaultResult, and Uncertain construct
// the seven standard variants.
func Yes(description string) DecisionResult         { return variant(ResultYes, description, nil) }
func No(description string) DecisionResult          { return variant(ResultNo, description, nil) }
func Skip(description string) DecisionResult        { return variant(ResultSkip, description, nil) }
func Retry(description string) DecisionResult       { return variant(ResultRetry, description, nil) }
func ErrorResult(description string) DecisionResult { return variant(ResultError, description, nil) }
func DefaultResult(description string) DecisionResult {
	return variant(ResultDefault, description, nil)
}
func Uncertain(description string) DecisionResult { return variant(ResultUncertain, description, nil) }

// DelegateToLLM constructs the DELEGATE_TO_LLM variant.
func DelegateToLLM(description string) DecisionResult {
	return variant(ResultDelegateToLLM, description, nil)
}

// DelegateToAgent constructs the DELEGATE_TO_AGENT(agentId) variant.
func DelegateToAgent(agentID, description string) DecisionResult {
	return variant(ResultDelegateToAgent, description, ValueMap{"agentId": StringValue(agentID)})
}

// Reorchestrate constructs the REORCHESTRATE(targetWorkflow) variant.
func Reorchestrate(targetWorkflow, description string) DecisionResult {
	return variant(ResultReorchestrate, description, ValueMap{"targetWorkflow": StringValue(targetWorkflow)})
}

// Escalate constructs the ESCALATE(reason) variant.
func Escalate(reason string) DecisionResult {
	return variant(ResultEscalate, reason, ValueMap{"reason": StringValue(reason)})
}

// Custom constructs a user-defined variant with an arbitrary resultId.
func Custom(resultID, description string, metadata ValueMap) DecisionResult {
	return variant(resultID, description, metadata)
}

// selectionFactory namespaces the two SelectionResult constructors so call
// sites read as Selection.Option(id) / Selection.Selected(id), matching
// SelectionResult(optionId, perOptionRouting) semantics:
// per-option routing produces resultId "OPTION:{optionId}"; otherwise the
// fixed string "OPTION_SELECTED".
type selectionFactory struct{}

// Selection is the package-level SelectionResult factory.
var Selection selectionFactory

// Option constructs a per-option-routed selection result: resultId is
// "OPTION:{optionID}".
func (selectionFactory) Option(optionID string) DecisionResult {
	return variant("OPTION:"+optionID, "option "+optionID+" selected", ValueMap{"optionId": StringValue(optionID)})
}

// Selected constructs a fixed-routing selection result: resultId is the
// constant "OPTION_SELECTED".
func (selectionFactory) Selected(optionID string) DecisionResult {
	return variant(ResultOptionSelected, "option "+optionID+" selected", ValueMap{"optionId": StringValue(optionID)})
}

// DecisionEngine evaluates a message and produces a DecisionResult. Engines
// are typically shared across runs and must either be safe for concurrent
// evaluation or provide their own synchronisation.
type DecisionEngine interface {
	ID() string
	Evaluate(ctx context.Context, msg Message) (DecisionResult, error)
	// Validate returns human-readable configuration problems, if any. A
	// correctly configured engine returns an empty slice.
	Validate() []string
}

// engineFunc adapts a plain evaluator function plus id into a DecisionEngine,
// the "create" factory.
type engineFunc struct {
	id string
	fn func(ctx context.Context, msg Message) (DecisionResult, error)
}

func (e *engineFunc) ID() string { return e.id }
func (e *engineFunc) Evaluate(ctx context.Context, msg Message) (DecisionResult, error) {
	return e.fn(ctx, msg)
}
func (e *engineFunc) Validate() []string { return nil }

// NewDecisionEngine is the "create(id, fn)" factory: wraps an arbitrary
// evaluation function as a DecisionEngine.
func NewDecisionEngine(id string, fn func(ctx context.Context, msg Message) (DecisionResult, error)) DecisionEngine {
	return &engineFunc{id: id, fn: fn}
}

// keyedEngine backs both FromData and FromMetadata: it reads a string value
// out of either message.Data() or message.Metadata() under key, maps it
// through mapping, and falls back to def when the key is absent or
// unmapped.
type keyedEngine struct {
	id      string
	key     string
	mapping map[string]DecisionResult
	def     DecisionResult
	fromData bool
}

func (e *keyedEngine) ID() string { return e.id }

func (e *keyedEngine) Evaluate(ctx context.Context, msg Message) (DecisionResult, error) {
	var source ValueMap
	if e.fromData {
		source = msg.Data()
	} else {
		source = msg.Metadata()
	}
	v, ok := source.Get(e.key).AsString()
	if !ok {
		return e.def, nil
	}
	if result, ok := e.mapping[v]; ok {
		return result, nil
	}
	return e.def, nil
}

func (e *keyedEngine) Validate() []string {
	if e.key == "" {
		return []string{"keyed engine " + e.id + " has an empty lookup key"}
	}
	return nil
}

// FromData is the "fromData(key, mapping, default)" factory: routes on a
// string value read from message.Data()[key].
func FromData(id, key string, mapping map[string]DecisionResult, def DecisionResult) DecisionEngine {
	return &keyedEngine{id: id, key: key, mapping: mapping, def: def, fromData: true}
}

// FromMetadata is the "fromMetadata(key, mapping, default)" factory: routes
// on a string value read from message.Metadata()[key].
func FromMetadata(id, key string, mapping map[string]DecisionResult, def DecisionResult) DecisionEngine {
	return &keyedEngine{id: id, key: key, mapping: mapping, def: def, fromData: false}
}

// fallbackEngine evaluates a sequence of engines in order, returning the
// first non-DEFAULT result.
type fallbackEngine struct {
	id      string
	engines []DecisionEngine
}

func (e *fallbackEngine) ID() string { return e.id }

func (e *fallbackEngine) Evaluate(ctx context.Context, msg Message) (DecisionResult, error) {
	var last DecisionResult
	for i, eng := range e.engines {
		result, err := eng.Evaluate(ctx, msg)
		if err != nil {
			return DecisionResult{}, err
		}
		if result.resultID != ResultDefault {
			return result, nil
		}
		if i == 0 {
			last = result
		}
	}
	return last, nil
}

func (e *fallbackEngine) Validate() []string {
	var issues []string
	for _, eng := range e.engines {
		issues = append(issues, eng.Validate()...)
	}
	return issues
}

// Fallback is the "fallback(engines...)" factory: evaluates engines in
// order and returns the first non-DEFAULT result, aggregating Validate()
// output from every wrapped engine.
func Fallback(id string, engines ...DecisionEngine) DecisionEngine {
	return &fallbackEngine{id: id, engines: engines}
}

// conditionalEngine routes between two fixed results based on a predicate
// over the message.
type conditionalEngine struct {
	id        string
	predicate func(Message) bool
	ifTrue    DecisionResult
	ifFalse   DecisionResult
}

func (e *conditionalEngine) ID() string { return e.id }

func (e *conditionalEngine) Evaluate(ctx context.Context, msg Message) (DecisionResult, error) {
	if e.predicate(msg) {
		return e.ifTrue, nil
	}
	return e.ifFalse, nil
}

func (e *conditionalEngine) Validate() []string { return nil }

// Conditional is the "conditional(predicate, ifTrue, ifFalse)" factory.
func Conditional(id string, predicate func(Message) bool, ifTrue, ifFalse DecisionResult) DecisionEngine {
	return &conditionalEngine{id: id, predicate: predicate, ifTrue: ifTrue, ifFalse: ifFalse}
}

// constantEngine always evaluates to the same DecisionResult.
type constantEngine struct {
	id     string
	result DecisionResult
}

func (e *constantEngine) ID() string { return e.id }
func (e *constantEngine) Evaluate(ctx context.Context, msg Message) (DecisionResult, error) {
	return e.result, nil
}
func (e *constantEngine) Validate() []string { return nil }

// Always is the "always(result)" factory.
func Always(id string, result DecisionResult) DecisionEngine {
	return &constantEngine{id: id, result: result}
}

// Noop is the "noop" factory: always evaluates to DEFAULT.
func Noop(id string) DecisionEngine {
	return &constantEngine{id: id, result: DefaultResult("no-op engine")}
}

// DecisionListener observes a DecisionNode's lifecycle. All methods are
// optional and must not panic; NoopDecisionListener satisfies the interface
// with empty bodies and is the default when a DecisionNode is constructed
// without one.
type DecisionListener interface {
	OnDecisionStart(nodeID, engineID string, msg Message)
	OnDecisionComplete(nodeID, engineID string, result DecisionResult, elapsed time.Duration)
	OnDecisionError(nodeID, engineID string, err error, elapsed time.Duration)
	OnDecisionFallback(nodeID, engineID string, result DecisionResult, elapsed time.Duration)
}

// NoopDecisionListener implements DecisionListener with no-op methods.
type NoopDecisionListener struct{}

func (NoopDecisionListener) OnDecisionStart(nodeID, engineID string, msg Message)      {}
func (NoopDecisionListener) OnDecisionComplete(nodeID, engineID string, result DecisionResult, elapsed time.Duration) {
}
func (NoopDecisionListener) OnDecisionError(nodeID, engineID string, err error, elapsed time.Duration) {
}
func (NoopDecisionListener) OnDecisionFallback(nodeID, engineID string, result DecisionResult, elapsed time.Duration) {
}

// DecisionNode wraps a DecisionEngine plus a resultId -> targetNodeId
// mapping and an optional fallback target.
type DecisionNode struct {
	ID            string
	Engine        DecisionEngine
	ResultMap     map[string]string
	FallbackTo    string
	HasFallback   bool
	Listener      DecisionListener
}

// NewDecisionNode constructs a DecisionNode with a no-op listener.
func NewDecisionNode(id string, engine DecisionEngine, resultMap map[string]string) *DecisionNode {
	return &DecisionNode{ID: id, Engine: engine, ResultMap: resultMap, Listener: NoopDecisionListener{}}
}

// WithFallback sets the node's fallback target, used when the engine's
// resultId has no entry in ResultMap.
func (n *DecisionNode) WithFallback(target string) *DecisionNode {
	n.FallbackTo = target
	n.HasFallback = true
	return n
}

// WithListener overrides the node's lifecycle listener.
func (n *DecisionNode) WithListener(l DecisionListener) *DecisionNode {
	n.Listener = l
	return n
}

func (n *DecisionNode) listener() DecisionListener {
	if n.Listener == nil {
		return NoopDecisionListener{}
	}
	return n.Listener
}

func (n *DecisionNode) Run(ctx NodeContext) (NodeOutput, error) {
	listener := n.listener()
	listener.OnDecisionStart(n.ID, n.Engine.ID(), ctx.Message)

	start := nowFunc()
	result, err := n.Engine.Evaluate(ctx.Context, ctx.Message)
	elapsed := nowFunc().Sub(start)
	if err != nil {
		listener.OnDecisionError(n.ID, n.Engine.ID(), err, elapsed)
		return NodeOutput{}, err
	}

	target, ok := n.ResultMap[result.resultID]
	usedFallback := false
	if !ok {
		if !n.HasFallback {
			targets := make([]string, 0, len(n.ResultMap))
			for resultID := range n.ResultMap {
				targets = append(targets, resultID)
			}
			err := &RoutingError{
				Message:          "no target mapped for decision result",
				EngineID:         n.Engine.ID(),
				ResultID:         result.resultID,
				NodeID:           n.ID,
				AvailableTargets: targets,
			}
			listener.OnDecisionError(n.ID, n.Engine.ID(), err, elapsed)
			return NodeOutput{}, err
		}
		target = n.FallbackTo
		usedFallback = true
		listener.OnDecisionFallback(n.ID, n.Engine.ID(), result, elapsed)
	}

	meta := ValueMap{
		"_decisionResult":      StringValue(result.resultID),
		"_decisionTarget":      StringValue(target),
		"_decisionEngine":      StringValue(n.Engine.ID()),
		"_decisionNodeId":      StringValue(n.ID),
		"_decisionDescription": StringValue(result.description),
		"_decisionUsedFallback": BoolValue(usedFallback),
	}
	for k, v := range result.metadata {
		meta[decisionMetadataPrefix+k] = v
	}

	next := ctx.Message.WithDataMerged(meta)
	listener.OnDecisionComplete(n.ID, n.Engine.ID(), result, elapsed)

	return NodeOutput{Message: next, Hint: Goto(target)}, nil
}
