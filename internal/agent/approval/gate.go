// Package approval implements the human-approval gate. Every proposed write
// action pauses the conversation on a PENDING approval; resolution is
// exactly-once and resumes the owning conversation.
package approval

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/caredesk-core-poc/server/internal/agent/model"
	errx "github.com/caredesk-core-poc/server/internal/core/error"
	logx "github.com/caredesk-core-poc/server/pkg/logger"
)

// Resumer continues a conversation paused on the given resolved approval.
type Resumer interface {
	ResumeApproval(ctx context.Context, approval *model.Approval) (*model.TurnResult, error)
}

type Gate struct {
	store   model.ApprovalStore
	resumer Resumer
}

func NewGate(store model.ApprovalStore) *Gate {
	return &Gate{store: store}
}

// SetResumer wires the engine in after construction; the gate and the
// engine reference each other, so one side is attached late.
func (g *Gate) SetResumer(r Resumer) {
	g.resumer = r
}

// Create registers a PENDING approval for a proposed action.
func (g *Gate) Create(ctx context.Context, conversationID string, action model.ActionType, orderID, proposedMessage string) (*model.Approval, error) {
	ap := &model.Approval{
		ApprovalID:      newApprovalID(),
		ConversationID:  conversationID,
		Action:          action,
		OrderID:         orderID,
		ProposedMessage: proposedMessage,
		Status:          model.ApprovalPending,
		CreatedAt:       time.Now().UTC(),
	}
	if err := g.store.Create(ctx, ap); err != nil {
		return nil, err
	}

	logx.Info().
		Str("approval_id", ap.ApprovalID).
		Str("conversation_id", conversationID).
		Str("action", string(action)).
		Str("order_id", orderID).
		Msg("approval request created")
	return ap, nil
}

// Get returns the approval record or an ErrNotFound-wrapping error.
func (g *Gate) Get(ctx context.Context, approvalID string) (*model.Approval, error) {
	return g.store.Get(ctx, approvalID)
}

// Resolve transitions a PENDING approval to APPROVED or REJECTED and resumes
// the paused conversation. Exactly one caller wins a concurrent resolution;
// losers observe ErrAlreadyResolved. The resolution is durable even when the
// resume afterwards fails; the returned TurnResult is nil in that case.
func (g *Gate) Resolve(ctx context.Context, approvalID string, decision model.ApprovalStatus) (*model.Approval, *model.TurnResult, error) {
	switch decision {
	case model.ApprovalApproved, model.ApprovalRejected:
	default:
		return nil, nil, errx.InvalidApproval("decision must be APPROVED or REJECTED")
	}

	ap, err := g.store.ResolvePending(ctx, approvalID, decision)
	if err != nil {
		return nil, nil, err
	}

	logx.Info().
		Str("approval_id", ap.ApprovalID).
		Str("conversation_id", ap.ConversationID).
		Str("status", string(ap.Status)).
		Msg("approval resolved")

	if g.resumer == nil {
		return ap, nil, nil
	}

	result, err := g.resumer.ResumeApproval(ctx, ap)
	if err != nil {
		logx.Error().Err(err).
			Str("approval_id", ap.ApprovalID).
			Str("conversation_id", ap.ConversationID).
			Msg("failed to resume conversation after approval resolution")
		return ap, nil, nil
	}
	return ap, result, nil
}

func newApprovalID() string {
	return "APR-" + strings.ToUpper(uuid.NewString()[:8])
}
