package repo

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/caredesk-core-poc/server/internal/agent/model"
	errx "github.com/caredesk-core-poc/server/internal/core/error"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore returned error: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func pendingApproval(id, convID string) *model.Approval {
	return &model.Approval{
		ApprovalID:      id,
		ConversationID:  convID,
		Action:          model.ActionCancelOrder,
		OrderID:         "ORD-001",
		ProposedMessage: "I'll cancel ORD-001.",
		Status:          model.ApprovalPending,
		CreatedAt:       time.Now().UTC().Truncate(time.Second),
	}
}

func TestSQLiteStore_ApprovalRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	ap := pendingApproval("APR-AAAA0001", "conv-1")
	if err := store.Create(ctx, ap); err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	got, err := store.Get(ctx, ap.ApprovalID)
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if got.ConversationID != "conv-1" || got.Action != model.ActionCancelOrder || got.Status != model.ApprovalPending {
		t.Errorf("Get = %+v, want stored approval", got)
	}
	if got.ResolvedAt != nil {
		t.Errorf("ResolvedAt = %v, want nil while pending", got.ResolvedAt)
	}
}

func TestSQLiteStore_GetUnknownApproval(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Get(context.Background(), "APR-MISSING1")
	if !errors.Is(err, errx.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestSQLiteStore_ResolvePending(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	ap := pendingApproval("APR-AAAA0002", "conv-1")
	if err := store.Create(ctx, ap); err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	resolved, err := store.ResolvePending(ctx, ap.ApprovalID, model.ApprovalApproved)
	if err != nil {
		t.Fatalf("ResolvePending returned error: %v", err)
	}
	if resolved.Status != model.ApprovalApproved {
		t.Errorf("Status = %s, want APPROVED", resolved.Status)
	}
	if resolved.ResolvedAt == nil {
		t.Error("ResolvedAt not set on resolution")
	}

	// Second resolution loses.
	if _, err := store.ResolvePending(ctx, ap.ApprovalID, model.ApprovalRejected); !errors.Is(err, errx.ErrAlreadyResolved) {
		t.Fatalf("second resolve err = %v, want ErrAlreadyResolved", err)
	}

	// Unknown id is not found, not already-resolved.
	if _, err := store.ResolvePending(ctx, "APR-MISSING1", model.ApprovalApproved); !errors.Is(err, errx.ErrNotFound) {
		t.Fatalf("unknown id err = %v, want ErrNotFound", err)
	}
}

func TestSQLiteStore_ConcurrentResolution(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	ap := pendingApproval("APR-AAAA0003", "conv-1")
	if err := store.Create(ctx, ap); err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	const workers = 8
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = store.ResolvePending(ctx, ap.ApprovalID, model.ApprovalApproved)
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range errs {
		switch {
		case err == nil:
			winners++
		case errors.Is(err, errx.ErrAlreadyResolved):
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if winners != 1 {
		t.Fatalf("winners = %d, want exactly 1", winners)
	}
}

func TestSQLiteStore_ExecutionRecordIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first := &model.ExecutionResult{
		ApprovalID: "APR-AAAA0004",
		Action:     model.ActionCancelOrder,
		OrderID:    "ORD-001",
		Success:    true,
		Message:    "Order ORD-001 has been cancelled.",
		ExecutedAt: time.Now().UTC().Truncate(time.Second),
	}
	recorded, err := store.Record(ctx, first)
	if err != nil {
		t.Fatalf("Record returned error: %v", err)
	}
	if !recorded.Success || recorded.Message != first.Message {
		t.Errorf("recorded = %+v, want original result", recorded)
	}

	// A conflicting insert keeps the first row.
	conflicting := *first
	conflicting.Success = false
	conflicting.Message = "should not overwrite"
	again, err := store.Record(ctx, &conflicting)
	if err != nil {
		t.Fatalf("Record retry returned error: %v", err)
	}
	if !again.Success || again.Message != first.Message {
		t.Errorf("retry returned %+v, want first recorded result", again)
	}
}

func TestSQLiteStore_GetExecutionUnknown(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetExecution(context.Background(), "APR-MISSING1")
	if !errors.Is(err, errx.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestSQLiteStore_SeedAndOrders(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.SeedOrders(ctx); err != nil {
		t.Fatalf("SeedOrders returned error: %v", err)
	}
	// Seeding twice does not duplicate.
	if err := store.SeedOrders(ctx); err != nil {
		t.Fatalf("second SeedOrders returned error: %v", err)
	}

	o, err := store.GetOrder(ctx, "ORD-001")
	if err != nil {
		t.Fatalf("GetOrder returned error: %v", err)
	}
	if o.Status != model.OrderPlaced || !o.Refundable {
		t.Errorf("ORD-001 = %+v, want PLACED refundable", o)
	}

	if _, err := store.GetOrder(ctx, "ORD-999"); !errors.Is(err, errx.ErrNotFound) {
		t.Fatalf("unknown order err = %v, want ErrNotFound", err)
	}

	updated, err := store.UpdateOrderStatus(ctx, "ORD-001", model.OrderCancelled)
	if err != nil {
		t.Fatalf("UpdateOrderStatus returned error: %v", err)
	}
	if updated.Status != model.OrderCancelled {
		t.Errorf("Status = %s, want CANCELLED", updated.Status)
	}

	if _, err := store.UpdateOrderStatus(ctx, "ORD-999", model.OrderCancelled); !errors.Is(err, errx.ErrNotFound) {
		t.Fatalf("unknown order update err = %v, want ErrNotFound", err)
	}
}

func TestSQLiteStore_ProcessRefund(t *testing.T) {
	store := newTestStore(t)

	refund, err := store.ProcessRefund(context.Background(), "ORD-002", 149.50)
	if err != nil {
		t.Fatalf("ProcessRefund returned error: %v", err)
	}
	if refund.RefundID != "REF-ORD-002" || refund.Amount != 149.50 {
		t.Errorf("refund = %+v, want deterministic reference", refund)
	}
}
