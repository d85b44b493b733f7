package model

import "time"

// ActionType is a state-mutating operation the agent may propose. Proposals
// never execute without an approved ApprovalRequest for the same decision.
type ActionType string

const (
	ActionNone        ActionType = "NONE"
	ActionCancelOrder ActionType = "CANCEL_ORDER"
	ActionRefundOrder ActionType = "REFUND_ORDER"
)

// KnownAction reports whether v is one of the supported action values.
func KnownAction(v ActionType) bool {
	switch v {
	case ActionNone, ActionCancelOrder, ActionRefundOrder:
		return true
	}
	return false
}

// NextStep is the control-flow signal a node emits to request more data
// before the reasoning step can settle on an answer.
type NextStep string

const (
	StepNone        NextStep = "NONE"
	StepFetchOrder  NextStep = "FETCH_ORDER"
	StepFetchPolicy NextStep = "FETCH_POLICY"
	StepDone        NextStep = "DONE"
)

// Node names a step in the agent graph.
type Node string

const (
	NodeClassifyIntent Node = "CLASSIFY_INTENT"
	NodeFetchOrder     Node = "FETCH_ORDER"
	NodeFetchPolicy    Node = "FETCH_POLICY"
	NodeReason         Node = "REASON"
	NodeValidateOutput Node = "VALIDATE_OUTPUT"
	NodeAwaitApproval  Node = "AWAIT_APPROVAL"
	NodeExecuteAction  Node = "EXECUTE_ACTION"
	NodeFormatResponse Node = "FORMAT_RESPONSE"
	// NodeEnd marks the end of a turn; it is never dispatched.
	NodeEnd Node = "END"
)

// ConversationState is the durable record the engine resumes a conversation
// from. One record exists per conversation id; it is rewritten at every
// pause or terminal node and never deleted mid-conversation.
//
// Staleness rule: OrderData and PolicyContext are only trusted within the
// turn that fetched them. A new user message clears them unless it
// references the order already loaded.
type ConversationState struct {
	ConversationID string `json:"conversation_id"`

	// Latest inbound text, replaced each turn.
	UserMessage string `json:"user_message"`

	// Normalized order identifier extracted from UserMessage, if any.
	OrderID string `json:"order_id,omitempty"`

	// Data fetched during the current turn.
	OrderData     *Order `json:"order_data,omitempty"`
	PolicyContext string `json:"policy_context,omitempty"`

	// Last validated decision from the reasoning capability.
	AgentDecision   *AgentDecision `json:"agent_decision,omitempty"`
	RequestedAction ActionType     `json:"requested_action"`
	NextStep        NextStep       `json:"next_step"`

	// Reasoning-loop bookkeeping for the current turn.
	IterationCount int  `json:"iteration_count"`
	Degraded       bool `json:"degraded,omitempty"`

	// Set while paused in AWAIT_APPROVAL; cleared on resolution.
	PendingApprovalID string `json:"pending_approval_id,omitempty"`

	FinalResponse   string           `json:"final_response,omitempty"`
	ExecutionResult *ExecutionResult `json:"execution_result,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

// NewConversationState returns a fresh state record for a conversation.
func NewConversationState(conversationID string) *ConversationState {
	return &ConversationState{
		ConversationID:  conversationID,
		RequestedAction: ActionNone,
		NextStep:        StepNone,
	}
}

// AwaitingApproval reports whether the conversation is paused on a pending
// approval request.
func (s *ConversationState) AwaitingApproval() bool {
	return s.PendingApprovalID != ""
}

// TurnResult is what a completed (or paused) turn returns to the caller.
type TurnResult struct {
	ConversationID   string `json:"conversation_id"`
	Response         string `json:"response"`
	RequiresApproval bool   `json:"requires_approval"`
	ApprovalID       string `json:"approval_id,omitempty"`
	Degraded         bool   `json:"degraded,omitempty"`
}
