package model

// AgentDecision is the structured document the reasoning capability returns.
// It arrives untrusted: the validator coerces enum fields and guarantees a
// non-empty FinalAnswer before anything downstream reads it.
type AgentDecision struct {
	Analysis              string     `json:"analysis,omitempty"`
	FinalAnswer           string     `json:"final_answer"`
	Action                ActionType `json:"action"`
	OrderID               string     `json:"order_id,omitempty"`
	Confidence            float64    `json:"confidence"`
	RequiresHumanApproval bool       `json:"requires_human_approval"`
	NextStep              NextStep   `json:"next_step,omitempty"`
}

// DecisionInput is the context handed to the reasoning capability.
type DecisionInput struct {
	ConversationID string
	UserMessage    string
	Order          *Order
	PolicyContext  string
}
