package model

import (
	"context"

	"github.com/cloudwego/eino/schema"
)

// StateStore persists ConversationState records keyed by conversation id.
// Load returns an error matching errx.ErrNotFound when the id is unknown.
type StateStore interface {
	Load(ctx context.Context, conversationID string) (*ConversationState, error)
	Save(ctx context.Context, state *ConversationState) error
	Delete(ctx context.Context, conversationID string) error
}

// ConversationRepository stores the message history of a conversation.
type ConversationRepository interface {
	// AddMessage appends a message to the conversation history.
	AddMessage(ctx context.Context, conversationID string, message *schema.Message) error

	// LoadHistory retrieves the conversation history for a conversation.
	LoadHistory(ctx context.Context, conversationID string) (*ConversationHistory, error)

	// ClearHistory removes all conversation history for a conversation.
	ClearHistory(ctx context.Context, conversationID string) error
}

// ConversationHistory represents loaded conversation data with metadata.
type ConversationHistory struct {
	ConversationID string
	Messages       []*schema.Message
}

// OrderRepository is the order lookup and mutation boundary. GetOrder
// returns an error matching errx.ErrNotFound for unknown ids.
type OrderRepository interface {
	GetOrder(ctx context.Context, orderID string) (*Order, error)
	UpdateOrderStatus(ctx context.Context, orderID string, status OrderStatus) (*Order, error)
	ProcessRefund(ctx context.Context, orderID string, amount float64) (*Refund, error)
}

// PolicySnippet is one ranked policy passage.
type PolicySnippet struct {
	Text  string  `json:"text"`
	Score float64 `json:"score"`
}

// PolicyRetriever returns policy passages ranked by relevance to the query.
// An empty result is valid and not an error.
type PolicyRetriever interface {
	Retrieve(ctx context.Context, query string, topK int) ([]PolicySnippet, error)
}

// Reasoner is the LLM-backed decision capability.
type Reasoner interface {
	Decide(ctx context.Context, in DecisionInput, history []*schema.Message) (*AgentDecision, error)
}

// ApprovalStore persists approval requests. ResolvePending must be
// exactly-once: for concurrent resolutions of the same id exactly one call
// wins; the others get an error matching errx.ErrAlreadyResolved.
type ApprovalStore interface {
	Create(ctx context.Context, approval *Approval) error
	Get(ctx context.Context, approvalID string) (*Approval, error)
	ResolvePending(ctx context.Context, approvalID string, status ApprovalStatus) (*Approval, error)
}

// ExecutionStore records execution outcomes keyed by approval id. Record
// returns the already-stored result when one exists, making executions
// idempotent per approval.
type ExecutionStore interface {
	GetExecution(ctx context.Context, approvalID string) (*ExecutionResult, error)
	Record(ctx context.Context, result *ExecutionResult) (*ExecutionResult, error)
}
