package model

import "time"

// ApprovalStatus is the lifecycle state of an approval request. The
// lifecycle ends as soon as status leaves PENDING; a resolved approval is
// immutable.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "PENDING"
	ApprovalApproved ApprovalStatus = "APPROVED"
	ApprovalRejected ApprovalStatus = "REJECTED"
)

// Approval is a human-authorization record for one proposed write action.
type Approval struct {
	ApprovalID      string         `json:"approval_id"`
	ConversationID  string         `json:"conversation_id"`
	Action          ActionType     `json:"action"`
	OrderID         string         `json:"order_id"`
	ProposedMessage string         `json:"proposed_message,omitempty"`
	Status          ApprovalStatus `json:"status"`
	CreatedAt       time.Time      `json:"created_at"`
	ResolvedAt      *time.Time     `json:"resolved_at,omitempty"`
}

// ExecutionResult is the recorded outcome of executing one approved action.
// It is keyed by approval id so retries return the original outcome.
type ExecutionResult struct {
	ApprovalID string     `json:"approval_id"`
	Action     ActionType `json:"action"`
	OrderID    string     `json:"order_id"`
	Success    bool       `json:"success"`
	Message    string     `json:"message,omitempty"`
	Error      string     `json:"error,omitempty"`
	RefundID   string     `json:"refund_id,omitempty"`
	ExecutedAt time.Time  `json:"executed_at"`
}
