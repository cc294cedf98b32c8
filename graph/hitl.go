package graph

// ResponseKind classifies a parsed user_response payload, following a
// priority-ordered parsing rule.
type ResponseKind string

const (
	ResponseSingle   ResponseKind = "SINGLE"
	ResponseMulti    ResponseKind = "MULTI"
	ResponseQuantity ResponseKind = "QUANTITY"
	ResponseText     ResponseKind = "TEXT"
)

// ParsedResponse is the normalized form of a user_response ToolCall's
// arguments.
type ParsedResponse struct {
	Kind ResponseKind

	// SelectedID is set for ResponseSingle.
	SelectedID string
	// SelectedIDs is set for ResponseMulti.
	SelectedIDs []string
	// Quantities is set for ResponseQuantity; non-positive entries are
	// dropped.
	Quantities map[string]int64
	// Text is set for ResponseText.
	Text string
}

var textFieldNames = []string{"text", "rawText", "response_text", "responseText", "input", "value"}
var selectedListFieldNames = []string{"selected_ids", "selectedIds", "selected", "selectedOptions"}

// ParseUserResponse extracts a ParsedResponse from a user_response ToolCall's
// arguments, following a priority order: an already-normalized
// result record; a selected-id list; a single selected_option string;
// positive-valued quantities; then free text.
//
// allowFreeText and selectionType implement the rejection rule: when the
// template disallowed free text and declared a selection type, a text-only
// response yields ok=false so the runner can fall back to a routed edge.
func ParseUserResponse(args ValueMap, allowFreeText bool, selectionType string) (ParsedResponse, bool) {
	if result, ok := args.Get("result").AsMap(); ok {
		if kind, ok := result["kind"].AsString(); ok {
			return parseNormalizedResult(ResponseKind(kind), result)
		}
	}

	structured, hasStructured := args.Get("structured_data").AsMap()

	if hasStructured {
		for _, name := range selectedListFieldNames {
			if seq, ok := structured[name].AsSeq(); ok && len(seq) > 0 {
				ids := make([]string, 0, len(seq))
				for _, v := range seq {
					if s, ok := v.AsString(); ok {
						ids = append(ids, s)
					}
				}
				if len(ids) == 1 {
					return ParsedResponse{Kind: ResponseSingle, SelectedID: ids[0]}, true
				}
				return ParsedResponse{Kind: ResponseMulti, SelectedIDs: ids}, true
			}
		}

		for _, name := range []string{"selected_option", "selectedOption"} {
			if s, ok := structured[name].AsString(); ok && s != "" {
				return ParsedResponse{Kind: ResponseSingle, SelectedID: s}, true
			}
		}

		if quantities, ok := structured["quantities"].AsMap(); ok {
			out := make(map[string]int64, len(quantities))
			for id, v := range quantities {
				if n, ok := v.AsInt64(); ok && n > 0 {
					out[id] = n
				}
			}
			if len(out) > 0 {
				return ParsedResponse{Kind: ResponseQuantity, Quantities: out}, true
			}
		}
	}

	for _, name := range textFieldNames {
		if s, ok := args.Get(name).AsString(); ok && s != "" {
			if !allowFreeText && (selectionType == "single" || selectionType == "multiple") {
				return ParsedResponse{}, false
			}
			return ParsedResponse{Kind: ResponseText, Text: s}, true
		}
	}

	return ParsedResponse{}, false
}

func parseNormalizedResult(kind ResponseKind, result map[string]Value) (ParsedResponse, bool) {
	switch kind {
	case ResponseSingle:
		id, _ := result["selectedId"].AsString()
		return ParsedResponse{Kind: ResponseSingle, SelectedID: id}, true
	case ResponseMulti:
		seq, _ := result["selectedIds"].AsSeq()
		ids := make([]string, 0, len(seq))
		for _, v := range seq {
			if s, ok := v.AsString(); ok {
				ids = append(ids, s)
			}
		}
		return ParsedResponse{Kind: ResponseMulti, SelectedIDs: ids}, true
	case ResponseQuantity:
		raw, _ := result["quantities"].AsMap()
		out := make(map[string]int64, len(raw))
		for id, v := range raw {
			if n, ok := v.AsInt64(); ok && n > 0 {
				out[id] = n
			}
		}
		return ParsedResponse{Kind: ResponseQuantity, Quantities: out}, true
	case ResponseText:
		text, _ := result["text"].AsString()
		return ParsedResponse{Kind: ResponseText, Text: text}, true
	default:
		return ParsedResponse{}, false
	}
}
