package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/caredesk-core-poc/server/internal/agent/model"
	"github.com/caredesk-core-poc/server/internal/agent/validate"
	errx "github.com/caredesk-core-poc/server/internal/core/error"
	logx "github.com/caredesk-core-poc/server/pkg/logger"
)

var validator = validate.New()

// policyWords marks a message as implying a policy question independent of
// the order lookup outcome.
var policyWords = []string{
	"refund", "return", "policy", "policies", "cancel", "cancellation",
	"warranty", "exchange", "late", "delay", "delayed",
}

func impliesPolicyQuestion(message string) bool {
	m := strings.ToLower(message)
	for _, w := range policyWords {
		if strings.Contains(m, w) {
			return true
		}
	}
	return false
}

// classifyIntent opens the reasoning loop for the turn and decides whether
// order data must be fetched before the first reasoning pass.
func (e *Engine) classifyIntent(ctx context.Context, t *turn) (model.Node, error) {
	st := t.st
	st.IterationCount++

	if st.OrderID != "" && st.OrderData == nil {
		st.NextStep = model.StepFetchOrder
		return model.NodeFetchOrder, nil
	}
	st.NextStep = model.StepNone
	return model.NodeReason, nil
}

// fetchOrder normalizes the order reference and looks the order up. Lookup
// failure is information for the reasoning step, not a fatal condition.
func (e *Engine) fetchOrder(ctx context.Context, t *turn) (model.Node, error) {
	st := t.st

	if st.OrderID == "" {
		if id, ok := e.deps.Norm.Extract(st.UserMessage); ok {
			st.OrderID = id
		}
	}

	if st.OrderID != "" && st.OrderData == nil {
		capCtx, cancel := e.capCtx(ctx)
		order, err := e.deps.Orders.GetOrder(capCtx, st.OrderID)
		cancel()
		switch {
		case err == nil:
			st.OrderData = order
			st.NextStep = model.StepNone
		case errors.Is(err, errx.ErrNotFound):
			logx.Info().
				Str("conversation_id", st.ConversationID).
				Str("order_id", st.OrderID).
				Msg("order not found")
		default:
			logx.Warn().Err(err).
				Str("conversation_id", st.ConversationID).
				Str("order_id", st.OrderID).
				Msg("order lookup unavailable")
		}
	}

	if impliesPolicyQuestion(st.UserMessage) && st.PolicyContext == "" {
		return model.NodeFetchPolicy, nil
	}
	return model.NodeReason, nil
}

// fetchPolicy retrieves ranked policy text for the message. It always
// proceeds to reasoning, however thin the result.
func (e *Engine) fetchPolicy(ctx context.Context, t *turn) (model.Node, error) {
	st := t.st

	query := st.UserMessage
	if st.OrderData != nil {
		query += " order status: " + string(st.OrderData.Status)
	}

	capCtx, cancel := e.capCtx(ctx)
	snippets, err := e.deps.Policies.Retrieve(capCtx, query, e.cfg.PolicyTopK)
	cancel()
	if err != nil {
		logx.Warn().Err(err).
			Str("conversation_id", st.ConversationID).
			Msg("policy retrieval unavailable")
		snippets = nil
	}

	if len(snippets) > 0 {
		parts := make([]string, len(snippets))
		for i, s := range snippets {
			parts[i] = fmt.Sprintf("Policy %d (score: %.2f):\n%s", i+1, s.Score, s.Text)
		}
		st.PolicyContext = strings.Join(parts, "\n\n")
	}
	st.NextStep = model.StepNone
	return model.NodeReason, nil
}

// reason invokes the reasoning capability and applies the loop-back rule:
// another fetch pass is allowed only while the requested data is genuinely
// absent and the iteration bound has room.
func (e *Engine) reason(ctx context.Context, t *turn) (model.Node, error) {
	st := t.st

	history, err := e.deps.Messages.HistoryTail(ctx, st.ConversationID)
	if err != nil {
		logx.Warn().Err(err).
			Str("conversation_id", st.ConversationID).
			Msg("history unavailable, reasoning without it")
		history = nil
	}

	capCtx, cancel := e.capCtx(ctx)
	dec, err := e.deps.Reasoner.Decide(capCtx, model.DecisionInput{
		ConversationID: st.ConversationID,
		UserMessage:    st.UserMessage,
		Order:          st.OrderData,
		PolicyContext:  st.PolicyContext,
	}, history)
	cancel()
	if err != nil {
		logx.Warn().Err(err).
			Str("conversation_id", st.ConversationID).
			Msg("reasoning capability failed, falling back")
		st.AgentDecision = nil
		st.NextStep = model.StepNone
		return model.NodeValidateOutput, nil
	}

	st.AgentDecision = dec
	st.NextStep = dec.NextStep

	switch st.NextStep {
	case model.StepFetchOrder:
		if st.OrderData == nil {
			if st.IterationCount < e.cfg.MaxIterations {
				st.IterationCount++
				return model.NodeFetchOrder, nil
			}
			st.Degraded = true
		}
	case model.StepFetchPolicy:
		if st.PolicyContext == "" {
			if st.IterationCount < e.cfg.MaxIterations {
				st.IterationCount++
				return model.NodeFetchPolicy, nil
			}
			st.Degraded = true
		}
	}

	st.NextStep = model.StepNone
	return model.NodeValidateOutput, nil
}

// validateOutput repairs the decision and, for write actions, opens an
// approval request and pauses the turn.
func (e *Engine) validateOutput(ctx context.Context, t *turn) (model.Node, error) {
	st := t.st

	res := validator.Validate(st.AgentDecision, st)
	st.AgentDecision = &res.Decision
	st.RequestedAction = res.Decision.Action

	if st.RequestedAction == model.ActionNone {
		return model.NodeFormatResponse, nil
	}

	ap, err := e.deps.Gate.Create(ctx, st.ConversationID, st.RequestedAction, res.Decision.OrderID, res.Decision.FinalAnswer)
	if err != nil {
		// Without a registered approval the action must not survive the
		// turn; answer read-only and invite a retry.
		logx.Error().Err(err).
			Str("conversation_id", st.ConversationID).
			Str("action", string(st.RequestedAction)).
			Msg("failed to create approval request")
		st.RequestedAction = model.ActionNone
		st.AgentDecision.Action = model.ActionNone
		st.AgentDecision.FinalAnswer += "\n\nNote: I couldn't register the requested action for review just now. Please ask again in a moment."
		return model.NodeFormatResponse, nil
	}

	st.PendingApprovalID = ap.ApprovalID
	return model.NodeAwaitApproval, nil
}

// executeAction performs the approved action exactly once for this approval.
func (e *Engine) executeAction(ctx context.Context, t *turn) (model.Node, error) {
	ap := t.approval
	if ap == nil {
		return "", fmt.Errorf("execute action without approval context")
	}

	st := t.st
	st.ExecutionResult = e.deps.Executor.Execute(ctx, ap.ApprovalID, ap.Action, ap.OrderID)
	st.RequestedAction = model.ActionNone
	st.PendingApprovalID = ""
	return model.NodeFormatResponse, nil
}

// formatResponse composes the user-facing text for the turn. The result is
// always non-empty.
func (e *Engine) formatResponse(ctx context.Context, t *turn) (model.Node, error) {
	st := t.st

	var b strings.Builder
	switch {
	case t.notice != "":
		b.WriteString(t.notice)
	case st.AgentDecision != nil && strings.TrimSpace(st.AgentDecision.FinalAnswer) != "":
		b.WriteString(st.AgentDecision.FinalAnswer)
	}

	if res := st.ExecutionResult; res != nil {
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		if res.Success {
			b.WriteString(res.Message)
		} else {
			b.WriteString("Note: the approved action could not be completed")
			if res.Error != "" {
				b.WriteString(": ")
				b.WriteString(res.Error)
			}
			b.WriteString(". You can start a new request if you'd like to try again.")
		}
	}

	if st.Degraded {
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString("I wasn't able to gather all the information I needed, so this answer may be incomplete.")
	}

	response := strings.TrimSpace(b.String())
	if response == "" {
		response = validate.FallbackAnswer(st)
	}

	st.FinalResponse = response
	st.NextStep = model.StepDone

	if err := e.deps.Messages.RecordResponse(ctx, st.ConversationID, response); err != nil {
		logx.Warn().Err(err).
			Str("conversation_id", st.ConversationID).
			Msg("failed to record assistant response")
	}

	return model.NodeEnd, nil
}
