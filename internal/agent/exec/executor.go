// Package exec performs approved write actions exactly once per approval.
package exec

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/caredesk-core-poc/server/internal/agent/model"
	errx "github.com/caredesk-core-poc/server/internal/core/error"
	logx "github.com/caredesk-core-poc/server/pkg/logger"
)

type Executor struct {
	executions model.ExecutionStore
	orders     model.OrderRepository
}

func NewExecutor(executions model.ExecutionStore, orders model.OrderRepository) *Executor {
	return &Executor{executions: executions, orders: orders}
}

// Execute performs the approved action. Idempotency is keyed by approval id:
// a retry for an already-completed approval returns the recorded result
// without touching the order again. A failing mutation is reported as an
// unsuccessful result, never retried here.
func (e *Executor) Execute(ctx context.Context, approvalID string, action model.ActionType, orderID string) *model.ExecutionResult {
	if prior, err := e.executions.GetExecution(ctx, approvalID); err == nil {
		logx.Debug().
			Str("approval_id", approvalID).
			Msg("execution already recorded, returning prior result")
		return prior
	} else if !errors.Is(err, errx.ErrNotFound) {
		return e.failed(approvalID, action, orderID, fmt.Sprintf("execution store unavailable: %v", err))
	}

	res := e.perform(ctx, approvalID, action, orderID)

	recorded, err := e.executions.Record(ctx, res)
	if err != nil {
		logx.Error().Err(err).
			Str("approval_id", approvalID).
			Msg("failed to record execution result")
		return res
	}
	return recorded
}

func (e *Executor) perform(ctx context.Context, approvalID string, action model.ActionType, orderID string) *model.ExecutionResult {
	res := &model.ExecutionResult{
		ApprovalID: approvalID,
		Action:     action,
		OrderID:    orderID,
		ExecutedAt: time.Now().UTC(),
	}

	switch action {
	case model.ActionCancelOrder:
		e.cancelOrder(ctx, res)
	case model.ActionRefundOrder:
		e.refundOrder(ctx, res)
	default:
		res.Error = fmt.Sprintf("unsupported action %s", action)
	}

	logx.Info().
		Str("approval_id", approvalID).
		Str("action", string(action)).
		Str("order_id", orderID).
		Bool("success", res.Success).
		Msg("action executed")
	return res
}

func (e *Executor) cancelOrder(ctx context.Context, res *model.ExecutionResult) {
	order, err := e.orders.GetOrder(ctx, res.OrderID)
	if err != nil {
		res.Error = fmt.Sprintf("order %s not found", res.OrderID)
		return
	}

	switch order.Status {
	case model.OrderCancelled:
		// Cancelling a cancelled order is a no-op success.
		res.Success = true
		res.Message = fmt.Sprintf("Order %s is already cancelled.", res.OrderID)
		return
	case model.OrderDelivered:
		res.Error = fmt.Sprintf("cannot cancel delivered order %s", res.OrderID)
		return
	}

	if _, err := e.orders.UpdateOrderStatus(ctx, res.OrderID, model.OrderCancelled); err != nil {
		res.Error = fmt.Sprintf("failed to cancel order %s: %v", res.OrderID, err)
		return
	}
	res.Success = true
	res.Message = fmt.Sprintf("Order %s has been cancelled.", res.OrderID)
}

func (e *Executor) refundOrder(ctx context.Context, res *model.ExecutionResult) {
	order, err := e.orders.GetOrder(ctx, res.OrderID)
	if err != nil {
		res.Error = fmt.Sprintf("order %s not found", res.OrderID)
		return
	}

	if !order.Refundable {
		res.Error = fmt.Sprintf("order %s is not refundable", res.OrderID)
		return
	}
	if order.Status == model.OrderRefunded {
		res.Success = true
		res.Message = fmt.Sprintf("Order %s has already been refunded.", res.OrderID)
		return
	}

	refund, err := e.orders.ProcessRefund(ctx, res.OrderID, order.Amount)
	if err != nil {
		res.Error = fmt.Sprintf("failed to refund order %s: %v", res.OrderID, err)
		return
	}
	if _, err := e.orders.UpdateOrderStatus(ctx, res.OrderID, model.OrderRefunded); err != nil {
		logx.Warn().Err(err).
			Str("order_id", res.OrderID).
			Msg("refund processed but status update failed")
	}

	res.Success = true
	res.RefundID = refund.RefundID
	res.Message = fmt.Sprintf("A refund of $%.2f has been processed for order %s (reference %s).", order.Amount, res.OrderID, refund.RefundID)
}

func (e *Executor) failed(approvalID string, action model.ActionType, orderID, msg string) *model.ExecutionResult {
	return &model.ExecutionResult{
		ApprovalID: approvalID,
		Action:     action,
		OrderID:    orderID,
		Error:      msg,
		ExecutedAt: time.Now().UTC(),
	}
}
