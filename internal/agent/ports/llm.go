package ports

import "context"

// ResponseKind tags the variant of a model response.
type ResponseKind string

const (
	ResponsePlan      ResponseKind = "plan"
	ResponseFinish    ResponseKind = "finish"
	ResponseMalformed ResponseKind = "malformed"
)

// ProposedStep is a tool call suggested by the model.
type ProposedStep struct {
	Tool      string
	Arguments map[string]any
}

// ModelResponse is the closed set of things a model can answer with.
// Steps is set for plans, Summary for finish signals and Reason for malformed output.
type ModelResponse struct {
	Kind       ResponseKind
	Steps      []ProposedStep
	Summary    string
	Confidence float64
	Reason     string
	Raw        string
	Usage      TokenUsage
}

// TokenUsage tracks token consumption reported by a backend.
type TokenUsage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// ModelGateway turns a conversation into a model response. Implementations
// must be safe for concurrent use by several tasks.
type ModelGateway interface {
	Generate(ctx context.Context, state ConversationState, tools []ToolSpec) (ModelResponse, error)
}

// PlanResponse builds a plan variant.
func PlanResponse(confidence float64, steps ...ProposedStep) ModelResponse {
	return ModelResponse{Kind: ResponsePlan, Steps: steps, Confidence: confidence}
}

// FinishResponse builds a finish variant.
func FinishResponse(summary string) ModelResponse {
	return ModelResponse{Kind: ResponseFinish, Summary: summary}
}

// MalformedResponse builds a malformed variant.
func MalformedResponse(raw, reason string) ModelResponse {
	return ModelResponse{Kind: ResponseMalformed, Raw: raw, Reason: reason}
}
