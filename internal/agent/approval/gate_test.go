package approval

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/caredesk-core-poc/server/internal/agent/model"
	errx "github.com/caredesk-core-poc/server/internal/core/error"
)

// memApprovalStore is an in-memory ApprovalStore with the same exactly-once
// resolution semantics as the SQLite store.
type memApprovalStore struct {
	mu        sync.Mutex
	approvals map[string]*model.Approval
}

func newMemApprovalStore() *memApprovalStore {
	return &memApprovalStore{approvals: make(map[string]*model.Approval)}
}

func (s *memApprovalStore) Create(ctx context.Context, ap *model.Approval) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *ap
	s.approvals[ap.ApprovalID] = &cp
	return nil
}

func (s *memApprovalStore) Get(ctx context.Context, approvalID string) (*model.Approval, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ap, ok := s.approvals[approvalID]
	if !ok {
		return nil, errx.NotFound("approval not found")
	}
	cp := *ap
	return &cp, nil
}

func (s *memApprovalStore) ResolvePending(ctx context.Context, approvalID string, status model.ApprovalStatus) (*model.Approval, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ap, ok := s.approvals[approvalID]
	if !ok {
		return nil, errx.NotFound("approval not found")
	}
	if ap.Status != model.ApprovalPending {
		return nil, errx.AlreadyResolved(approvalID)
	}
	ap.Status = status
	cp := *ap
	return &cp, nil
}

type recordingResumer struct {
	mu     sync.Mutex
	calls  []*model.Approval
	result *model.TurnResult
	err    error
}

func (r *recordingResumer) ResumeApproval(ctx context.Context, ap *model.Approval) (*model.TurnResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, ap)
	return r.result, r.err
}

func TestGate_Create(t *testing.T) {
	store := newMemApprovalStore()
	g := NewGate(store)

	ap, err := g.Create(context.Background(), "conv-1", model.ActionCancelOrder, "ORD-001", "I will cancel ORD-001.")
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if !strings.HasPrefix(ap.ApprovalID, "APR-") || len(ap.ApprovalID) != len("APR-")+8 {
		t.Errorf("ApprovalID = %q, want APR- plus 8 chars", ap.ApprovalID)
	}
	if ap.ApprovalID != strings.ToUpper(ap.ApprovalID) {
		t.Errorf("ApprovalID = %q, want uppercase", ap.ApprovalID)
	}
	if ap.Status != model.ApprovalPending {
		t.Errorf("Status = %s, want PENDING", ap.Status)
	}

	stored, err := g.Get(context.Background(), ap.ApprovalID)
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if stored.ConversationID != "conv-1" || stored.Action != model.ActionCancelOrder || stored.OrderID != "ORD-001" {
		t.Errorf("stored approval mismatch: %+v", stored)
	}
}

func TestGate_ResolveInvalidDecision(t *testing.T) {
	g := NewGate(newMemApprovalStore())

	_, _, err := g.Resolve(context.Background(), "APR-DEADBEEF", model.ApprovalStatus("MAYBE"))
	if !errors.Is(err, errx.ErrInvalidApproval) {
		t.Fatalf("err = %v, want ErrInvalidApproval", err)
	}

	_, _, err = g.Resolve(context.Background(), "APR-DEADBEEF", model.ApprovalPending)
	if !errors.Is(err, errx.ErrInvalidApproval) {
		t.Fatalf("resolving to PENDING: err = %v, want ErrInvalidApproval", err)
	}
}

func TestGate_ResolveUnknownApproval(t *testing.T) {
	g := NewGate(newMemApprovalStore())

	_, _, err := g.Resolve(context.Background(), "APR-MISSING1", model.ApprovalApproved)
	if !errors.Is(err, errx.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestGate_ResolveInvokesResumer(t *testing.T) {
	store := newMemApprovalStore()
	resumer := &recordingResumer{result: &model.TurnResult{ConversationID: "conv-1", Response: "done"}}
	g := NewGate(store)
	g.SetResumer(resumer)

	ap, err := g.Create(context.Background(), "conv-1", model.ActionRefundOrder, "ORD-002", "refund proposal")
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	resolved, result, err := g.Resolve(context.Background(), ap.ApprovalID, model.ApprovalApproved)
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if resolved.Status != model.ApprovalApproved {
		t.Errorf("Status = %s, want APPROVED", resolved.Status)
	}
	if result == nil || result.Response != "done" {
		t.Errorf("result = %+v, want resumed turn result", result)
	}
	if len(resumer.calls) != 1 || resumer.calls[0].ApprovalID != ap.ApprovalID {
		t.Errorf("resumer calls = %+v, want one call for %s", resumer.calls, ap.ApprovalID)
	}
}

func TestGate_ResolutionSurvivesResumeFailure(t *testing.T) {
	store := newMemApprovalStore()
	resumer := &recordingResumer{err: fmt.Errorf("state store down")}
	g := NewGate(store)
	g.SetResumer(resumer)

	ap, _ := g.Create(context.Background(), "conv-1", model.ActionCancelOrder, "ORD-001", "p")

	resolved, result, err := g.Resolve(context.Background(), ap.ApprovalID, model.ApprovalRejected)
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if result != nil {
		t.Errorf("result = %+v, want nil when resume fails", result)
	}
	if resolved.Status != model.ApprovalRejected {
		t.Errorf("Status = %s, want REJECTED", resolved.Status)
	}

	// The store keeps the resolution even though the resume failed.
	stored, _ := g.Get(context.Background(), ap.ApprovalID)
	if stored.Status != model.ApprovalRejected {
		t.Errorf("stored Status = %s, want REJECTED", stored.Status)
	}
}

func TestGate_ConcurrentResolutionExactlyOnce(t *testing.T) {
	store := newMemApprovalStore()
	resumer := &recordingResumer{result: &model.TurnResult{Response: "ok"}}
	g := NewGate(store)
	g.SetResumer(resumer)

	ap, _ := g.Create(context.Background(), "conv-1", model.ActionCancelOrder, "ORD-001", "p")

	const workers = 16
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			decision := model.ApprovalApproved
			if i%2 == 1 {
				decision = model.ApprovalRejected
			}
			_, _, errs[i] = g.Resolve(context.Background(), ap.ApprovalID, decision)
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
	if len(resumer.calls) != 1 {
		t.Fatalf("resumer calls = %d, want exactly 1", len(resumer.calls))
	}
}
